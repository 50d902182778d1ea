package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/media"
)

// MediaHandler accepts multipart uploads and returns the stored asset.
type MediaHandler struct {
	uploader media.Uploader
	maxBytes int64
	logger   *zap.Logger
}

func NewMediaHandler(uploader media.Uploader, maxBytes int64, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{uploader: uploader, maxBytes: maxBytes, logger: logger}
}

func (h *MediaHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		writeError(c, h.logger, apperr.Validation("file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		writeError(c, h.logger, apperr.Validation("unreadable file"))
		return
	}
	defer file.Close()

	reader := io.Reader(file)
	if h.maxBytes > 0 {
		// one extra byte lets the uploader see the file is too large
		reader = io.LimitReader(file, h.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		writeError(c, h.logger, apperr.Validation("unreadable file"))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	result, err := h.uploader.Upload(c.Request.Context(), data, mimeType)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"media":        result.MediaRef(),
		"content_type": result.ContentType(),
		"upload":       result,
	})
}
