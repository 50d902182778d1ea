package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/services"
)

// Deliverer pushes a stored message to the chat's live room and to offline members.
type Deliverer interface {
	Deliver(ctx context.Context, chat models.Chat, msg models.PopulatedMessage)
}

// MessageHandler covers per-message actions. Single-chat sends happen over the websocket.
type MessageHandler struct {
	chats     *services.ChatService
	deliverer Deliverer
	logger    *zap.Logger
}

func NewMessageHandler(chats *services.ChatService, deliverer Deliverer, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{chats: chats, deliverer: deliverer, logger: logger}
}

// SendMany stores one copy of a message in each listed chat and delivers every copy.
func (h *MessageHandler) SendMany(c *gin.Context) {
	var req struct {
		ChatIDs     []int64            `json:"chat_ids" binding:"required"`
		Message     *string            `json:"message"`
		Media       *models.MediaRef   `json:"media"`
		ContentType models.ContentType `json:"content_type" binding:"required"`
		Reaction    bool               `json:"reaction"`
	}
	if !bindJSON(c, &req) {
		return
	}

	template := models.NewMessage{Body: req.Message, Media: req.Media, ContentType: req.ContentType, Reaction: req.Reaction}
	deliveries, err := h.chats.PostToChats(c.Request.Context(), userIDFromContext(c), req.ChatIDs, template)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	out := make([]models.PopulatedMessage, 0, len(deliveries))
	for _, d := range deliveries {
		if h.deliverer != nil {
			h.deliverer.Deliver(c.Request.Context(), d.Chat, d.Message)
		}
		out = append(out, d.Message)
	}
	c.JSON(http.StatusCreated, gin.H{"messages": out})
}

// MarkViewed flags a media message as opened by the caller.
func (h *MessageHandler) MarkViewed(c *gin.Context) {
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}
	if err := h.chats.MarkViewed(c.Request.Context(), messageID, userIDFromContext(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}
	if err := h.chats.DeleteOwnMessage(c.Request.Context(), messageID, userIDFromContext(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
