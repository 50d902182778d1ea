package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ephemeral-chat/internal/services"
)

// ChatHandler manages private chat and history endpoints.
type ChatHandler struct {
	chats  *services.ChatService
	logger *zap.Logger
}

func NewChatHandler(chats *services.ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chats: chats, logger: logger}
}

// StartPrivate returns the private chat with another user, creating it on first contact.
func (h *ChatHandler) StartPrivate(c *gin.Context) {
	var req struct {
		ParticipantID int64 `json:"participant_id" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	chat, created, err := h.chats.FindOrCreatePrivate(c.Request.Context(), userIDFromContext(c), req.ParticipantID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"chat": chat, "created": created})
}

// ListChats returns the caller's chats, most recently active first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	page, limit := pageParams(c)
	list, err := h.chats.ListChats(c.Request.Context(), userIDFromContext(c), page, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}
	chat, err := h.chats.GetChat(c.Request.Context(), chatID, userIDFromContext(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// History returns one page of messages and marks the fetched ones from others as read.
func (h *ChatHandler) History(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}
	page, limit := pageParams(c)
	history, err := h.chats.History(c.Request.Context(), chatID, userIDFromContext(c), page, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, history)
}
