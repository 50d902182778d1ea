package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ephemeral-chat/internal/services"
)

// UserHandler manages the caller's profile and push registrations.
type UserHandler struct {
	users  *services.UserService
	logger *zap.Logger
}

func NewUserHandler(users *services.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

func (h *UserHandler) UpsertProfile(c *gin.Context) {
	var req struct {
		Name  string `json:"name" binding:"required"`
		Image string `json:"image"`
		Phone string `json:"phone"`
	}
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.UpsertProfile(c.Request.Context(), userIDFromContext(c), req.Name, req.Image, req.Phone)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *UserHandler) AddPushToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.users.AddPushToken(c.Request.Context(), userIDFromContext(c), req.Token); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *UserHandler) RemovePushToken(c *gin.Context) {
	if err := h.users.RemovePushToken(c.Request.Context(), userIDFromContext(c), c.Param("token")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
