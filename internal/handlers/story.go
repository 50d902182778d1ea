package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/services"
)

type StoryHandler struct {
	stories *services.StoryService
	logger  *zap.Logger
}

func NewStoryHandler(stories *services.StoryService, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{stories: stories, logger: logger}
}

func (h *StoryHandler) Create(c *gin.Context) {
	var req struct {
		ContentType models.ContentType `json:"content_type" binding:"required"`
		Caption     string             `json:"caption"`
		Media       models.MediaRef    `json:"media"`
	}
	if !bindJSON(c, &req) {
		return
	}

	story, err := h.stories.CreateStory(c.Request.Context(), userIDFromContext(c), req.ContentType, req.Caption, req.Media)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"story": story})
}

// ListActive returns every story still inside the retention window.
func (h *StoryHandler) ListActive(c *gin.Context) {
	page, limit := pageParams(c)
	list, err := h.stories.ListActive(c.Request.Context(), page, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *StoryHandler) ListMine(c *gin.Context) {
	stories, err := h.stories.ListMine(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stories": stories})
}
