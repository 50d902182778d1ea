package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"ephemeral-chat/internal/models"
)

// StoryRepository defines interactions for stories.
type StoryRepository interface {
	Create(ctx context.Context, story models.Story) (models.Story, error)
	ListSince(ctx context.Context, since time.Time, limit, offset int) ([]models.Story, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	ListByAuthor(ctx context.Context, authorID int64, since time.Time) ([]models.Story, error)
	ClaimExpiring(ctx context.Context, cutoff, notifiedAt time.Time, limit int) ([]models.ExpiringItem, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// StoryRepo is a sqlx-backed repository.
type StoryRepo struct {
	db *sqlx.DB
}

// NewStoryRepo constructs StoryRepo.
func NewStoryRepo(db *sqlx.DB) *StoryRepo {
	return &StoryRepo{db: db}
}

const storyColumns = `id, author_id, content_type, caption, media, expiry_notification_sent, expiry_notified_at, created_at`

func (r *StoryRepo) Create(ctx context.Context, story models.Story) (models.Story, error) {
	var out models.Story
	err := r.db.GetContext(ctx, &out, `INSERT INTO stories (author_id, content_type, caption, media) VALUES ($1, $2, $3, $4) RETURNING `+storyColumns,
		story.AuthorID, story.ContentType, story.Caption, story.Media)
	return out, errors.Wrap(err, "storyRepo.Create")
}

// ListSince returns stories newer than since, newest first.
func (r *StoryRepo) ListSince(ctx context.Context, since time.Time, limit, offset int) ([]models.Story, error) {
	stories := []models.Story{}
	err := r.db.SelectContext(ctx, &stories, `SELECT `+storyColumns+` FROM stories WHERE created_at >= $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, since, limit, offset)
	return stories, errors.Wrap(err, "storyRepo.ListSince")
}

func (r *StoryRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM stories WHERE created_at >= $1`, since)
	return total, errors.Wrap(err, "storyRepo.CountSince")
}

func (r *StoryRepo) ListByAuthor(ctx context.Context, authorID int64, since time.Time) ([]models.Story, error) {
	stories := []models.Story{}
	err := r.db.SelectContext(ctx, &stories, `SELECT `+storyColumns+` FROM stories WHERE author_id=$1 AND created_at >= $2 ORDER BY created_at DESC, id DESC`, authorID, since)
	return stories, errors.Wrap(err, "storyRepo.ListByAuthor")
}

// ClaimExpiring mirrors MessageRepo.ClaimExpiring for stories; the owner is the author.
func (r *StoryRepo) ClaimExpiring(ctx context.Context, cutoff, notifiedAt time.Time, limit int) ([]models.ExpiringItem, error) {
	var items []models.ExpiringItem
	err := r.db.SelectContext(ctx, &items, `UPDATE stories SET expiry_notification_sent = TRUE, expiry_notified_at = $2
        WHERE id IN (
            SELECT id FROM stories
            WHERE created_at <= $1 AND expiry_notification_sent = FALSE
            ORDER BY id
            LIMIT $3
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, author_id AS owner_id`, cutoff, notifiedAt, limit)
	return items, errors.Wrap(err, "storyRepo.ClaimExpiring")
}

func (r *StoryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM stories WHERE id IN (
            SELECT id FROM stories WHERE created_at < $1 ORDER BY id LIMIT $2
        )`, cutoff, limit)
	if err != nil {
		return 0, errors.Wrap(err, "storyRepo.DeleteOlderThan")
	}
	count, err := res.RowsAffected()
	return count, errors.Wrap(err, "storyRepo.DeleteOlderThan.RowsAffected")
}
