package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/services"
	"therapy-scheduling-server/internal/utils"
)

// AdminPaymentHandler exposes the admin review queue.
type AdminPaymentHandler struct {
	payments *services.PaymentService
	logger   zerolog.Logger
}

// NewAdminPaymentHandler creates a new AdminPaymentHandler.
func NewAdminPaymentHandler(payments *services.PaymentService, logger zerolog.Logger) *AdminPaymentHandler {
	return &AdminPaymentHandler{payments: payments, logger: logger}
}

// PaymentStatusRequest represents the admin decision on a receipt.
type PaymentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdatePaymentStatus approves or declines a pending receipt.
func (h *AdminPaymentHandler) UpdatePaymentStatus(c *gin.Context) {
	var req PaymentStatusRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	payment, err := h.payments.SetStatus(c.Request.Context(), c.Param("id"), models.PaymentStatus(req.Status))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Payment status updated", payment)
}

// MarkRefunded records that a declined or refund-pending payment was paid back.
func (h *AdminPaymentHandler) MarkRefunded(c *gin.Context) {
	payment, err := h.payments.MarkRefunded(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Payment marked as refunded", payment)
}

func (h *AdminPaymentHandler) GetPendingPayments(c *gin.Context) {
	h.list(c, "Pending payments fetched successfully", models.PaymentPending)
}

func (h *AdminPaymentHandler) GetPaymentHistory(c *gin.Context) {
	h.list(c, "Payment history fetched successfully")
}

func (h *AdminPaymentHandler) GetRefundRequests(c *gin.Context) {
	h.list(c, "Refund requests fetched successfully", models.PaymentRefundPending)
}

func (h *AdminPaymentHandler) GetRefundRequestCount(c *gin.Context) {
	count, err := h.payments.RefundRequestCount(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Refund request count fetched successfully", gin.H{"count": count})
}

func (h *AdminPaymentHandler) GetPaymentStats(c *gin.Context) {
	stats, err := h.payments.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Payment stats fetched successfully", stats)
}

func (h *AdminPaymentHandler) list(c *gin.Context, message string, statuses ...models.PaymentStatus) {
	views, err := h.payments.List(c.Request.Context(), statuses...)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, message, views)
}
