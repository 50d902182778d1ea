package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/services"
	"ephemeral-chat/internal/telemetry"
)

// GroupHandler manages group administration. Every change is audited.
type GroupHandler struct {
	chats  *services.ChatService
	audit  *telemetry.AuditEmitter
	logger *zap.Logger
}

func NewGroupHandler(chats *services.ChatService, audit *telemetry.AuditEmitter, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{chats: chats, audit: audit, logger: logger}
}

func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name    string  `json:"name" binding:"required"`
		Image   string  `json:"image"`
		Members []int64 `json:"members" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	chat, err := h.chats.CreateGroup(c.Request.Context(), userIDFromContext(c), req.Name, req.Image, req.Members)
	if err != nil {
		h.fail(c, "group.create", 0, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "group.create", chat.ID, "Group created")
	c.JSON(http.StatusCreated, gin.H{"chat": chat})
}

func (h *GroupHandler) UpdateGroup(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}
	var req struct {
		Name  *string `json:"name"`
		Image *string `json:"image"`
	}
	if !bindJSON(c, &req) {
		return
	}

	chat, err := h.chats.UpdateGroup(c.Request.Context(), chatID, userIDFromContext(c), services.GroupUpdate{Name: req.Name, Image: req.Image})
	if err != nil {
		h.fail(c, "group.update", chatID, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "group.update", chatID, "Group updated")
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (h *GroupHandler) AddMembers(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}
	var req struct {
		UserIDs []int64 `json:"user_ids" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	chat, err := h.chats.AddMembers(c.Request.Context(), chatID, userIDFromContext(c), req.UserIDs)
	if err != nil {
		h.fail(c, "group.add_members", chatID, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "group.add_members", chatID, "Members added")
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (h *GroupHandler) RemoveMember(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}
	memberID, ok := parseID(c, "user_id")
	if !ok {
		return
	}

	if err := h.chats.RemoveMember(c.Request.Context(), chatID, userIDFromContext(c), memberID); err != nil {
		h.fail(c, "group.remove_member", chatID, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "group.remove_member", chatID, "Member removed")
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) Leave(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}
	if err := h.chats.Leave(c.Request.Context(), chatID, userIDFromContext(c)); err != nil {
		h.fail(c, "group.leave", chatID, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "group.leave", chatID, "Member left")
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}
	if err := h.chats.DeleteGroup(c.Request.Context(), chatID, userIDFromContext(c)); err != nil {
		h.fail(c, "group.delete", chatID, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "group.delete", chatID, "Group deleted")
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) fail(c *gin.Context, action string, chatID int64, err error) {
	emitAudit(c, h.audit, "ERROR", action, chatID, apperr.PublicMessage(err))
	writeError(c, h.logger, err)
}
