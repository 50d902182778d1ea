package services

import (
	"context"
	"time"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/repositories"
)

// StoryList is one page of active stories.
type StoryList struct {
	Stories []models.Story `json:"stories"`
	Meta    models.Page    `json:"meta"`
}

// StoryService publishes stories and lists those still inside the retention window.
type StoryService struct {
	stories repositories.StoryRepository
	maxAge  time.Duration
	timeout time.Duration
	now     func() time.Time
}

func NewStoryService(stories repositories.StoryRepository, maxAge, storeTimeout time.Duration) *StoryService {
	return &StoryService{stories: stories, maxAge: maxAge, timeout: storeTimeout, now: time.Now}
}

func (s *StoryService) CreateStory(ctx context.Context, authorID int64, contentType models.ContentType, caption string, media models.MediaRef) (models.Story, error) {
	if !contentType.IsMedia() {
		return models.Story{}, apperr.Validation("content_type must be image or video")
	}
	if media.URL == "" {
		return models.Story{}, apperr.Validation("media is required")
	}

	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	story, err := s.stories.Create(sctx, models.Story{
		AuthorID:    authorID,
		ContentType: contentType,
		Caption:     caption,
		Media:       media,
	})
	return story, storeError(sctx, "create story", err)
}

// ListActive returns stories that have not expired yet, newest first.
func (s *StoryService) ListActive(ctx context.Context, page, limit int) (StoryList, error) {
	page, limit = normalizePage(page, limit)
	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	since := s.now().Add(-s.maxAge)
	total, err := s.stories.CountSince(sctx, since)
	if err != nil {
		return StoryList{}, storeError(sctx, "list stories", err)
	}
	stories, err := s.stories.ListSince(sctx, since, limit, (page-1)*limit)
	if err != nil {
		return StoryList{}, storeError(sctx, "list stories", err)
	}
	return StoryList{Stories: stories, Meta: models.NewPage(page, limit, total)}, nil
}

func (s *StoryService) ListMine(ctx context.Context, authorID int64) ([]models.Story, error) {
	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	stories, err := s.stories.ListByAuthor(sctx, authorID, s.now().Add(-s.maxAge))
	return stories, storeError(sctx, "list stories", err)
}
