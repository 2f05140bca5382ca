package handlers

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/services"
	"therapy-scheduling-server/internal/utils"
)

// receiptField is the multipart field holding the payment slip image.
const receiptField = "slip"

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PaymentHandler handles receipt submission by patients.
type PaymentHandler struct {
	payments  *services.PaymentService
	uploadDir string
	logger    zerolog.Logger
}

// NewPaymentHandler creates a new PaymentHandler storing receipts under uploadDir.
func NewPaymentHandler(payments *services.PaymentService, uploadDir string, logger zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, uploadDir: uploadDir, logger: logger}
}

// SubmitPayment accepts a multipart receipt upload with the booking details
// and an optional base64 voice clip.
func (h *PaymentHandler) SubmitPayment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	patient := strings.TrimSpace(c.PostForm("patientUsername"))
	if patient == "" {
		patient = actor.Username
	}
	if actor.Role != models.RoleAdmin && patient != actor.Username {
		utils.Forbidden(c, "You can only submit payments for yourself.")
		return
	}

	receiptURL, stored, err := h.saveReceipt(c)
	if err != nil {
		if errors.Is(err, errNotImage) {
			utils.BadRequest(c, "Only image files are allowed for payment receipts.")
			return
		}
		h.logger.Error().Err(err).Msg("failed to store receipt")
		utils.InternalServerError(c, "Internal server error")
		return
	}

	in := services.SubmitReceiptInput{
		PatientUsername:   patient,
		Method:            c.PostForm("method"),
		ReferenceNo:       c.PostForm("referenceNo"),
		Date:              c.PostForm("date"),
		Time:              c.PostForm("time"),
		TherapistUsername: c.PostForm("therapistUsername"),
		SessionType:       c.PostForm("sessionType"),
		ReceiptURL:        receiptURL,
	}
	if audio := c.PostForm("voiceRecordingData"); audio != "" {
		in.Voice = &services.VoiceRecordingInput{
			AudioData: audio,
			FileName:  c.PostForm("voiceFileName"),
		}
	}

	payment, err := h.payments.SubmitReceipt(c.Request.Context(), in)
	if err != nil {
		if stored != "" {
			_ = os.Remove(stored)
		}
		respondError(c, h.logger, err)
		return
	}
	utils.Created(c, "Payment submitted successfully", payment)
}

var errNotImage = errors.New("receipt is not an image")

// saveReceipt writes the uploaded slip to the upload directory and returns its
// path, slash-separated, as the receipt URL. A missing file is not an error
// here; the workflow reports it.
func (h *PaymentHandler) saveReceipt(c *gin.Context) (url, path string, err error) {
	header, ferr := c.FormFile(receiptField)
	if ferr != nil {
		return "", "", nil
	}
	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		return "", "", errNotImage
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", "", err
	}
	name := uuid.NewString() + "-" + sanitizeFileName(header.Filename)
	path = filepath.Join(h.uploadDir, name)
	if err := c.SaveUploadedFile(header, path); err != nil {
		return "", "", err
	}
	return filepath.ToSlash(path), path, nil
}

func sanitizeFileName(name string) string {
	name = unsafeFileChars.ReplaceAllString(filepath.Base(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "receipt"
	}
	return name
}
