package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ephemeral-chat/internal/services"
)

// NotificationHandler serves the caller's in-app inbox.
type NotificationHandler struct {
	inbox  *services.NotificationService
	logger *zap.Logger
}

func NewNotificationHandler(inbox *services.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{inbox: inbox, logger: logger}
}

func (h *NotificationHandler) List(c *gin.Context) {
	page, limit := pageParams(c)
	list, err := h.inbox.List(c.Request.Context(), userIDFromContext(c), page, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	notificationID, ok := parseID(c, "notification_id")
	if !ok {
		return
	}
	if err := h.inbox.Delete(c.Request.Context(), notificationID, userIDFromContext(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
