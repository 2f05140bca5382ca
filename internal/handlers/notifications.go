package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/services"
	"therapy-scheduling-server/internal/utils"
)

// NotificationHandler serves a user's notification inbox.
type NotificationHandler struct {
	notifications *services.NotificationService
	logger        zerolog.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(notifications *services.NotificationService, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, logger: logger}
}

func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	username, ok := h.inboxOwner(c)
	if !ok {
		return
	}
	list, err := h.notifications.ListForUser(c.Request.Context(), username)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Notifications fetched successfully", list)
}

func (h *NotificationHandler) GetUnreadCount(c *gin.Context) {
	username, ok := h.inboxOwner(c)
	if !ok {
		return
	}
	count, err := h.notifications.UnreadCount(c.Request.Context(), username)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Unread count fetched successfully", gin.H{"count": count})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	username, ok := h.inboxOwner(c)
	if !ok {
		return
	}
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), username)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Notifications marked as read", gin.H{"updated": updated})
}

// inboxOwner resolves :username and checks the caller may read it.
func (h *NotificationHandler) inboxOwner(c *gin.Context) (string, bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return "", false
	}
	username := c.Param("username")
	if actor.Role != models.RoleAdmin && actor.Username != username {
		utils.Forbidden(c, "You can only access your own notifications.")
		return "", false
	}
	return username, true
}
