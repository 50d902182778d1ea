package services

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/models"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)

// Notifier queues push notifications without blocking the caller. Announce also records an
// inbox entry for each recipient.
type Notifier interface {
	NotifyOthers(chat models.Chat, senderID int64, text string) bool
	Announce(senderID int64, recipients []int64, text string) bool
}

// RoomEvictor drops a user's live connections out of a chat's room.
type RoomEvictor interface {
	Evict(ctx context.Context, chatID, userID int64) error
}

// bounded derives the per-call store deadline.
func bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// storeError classifies a repository error. Coded errors pass through; an expired call
// deadline or a cancelled statement is retryable.
func storeError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return err
	}
	var pqErr *pq.Error
	if ctx.Err() != nil || (errors.As(err, &pqErr) && pqErr.Code == "57014") {
		return apperr.TransientStore(op+" timed out, please retry", err)
	}
	return apperr.FromStore(op, err)
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}
