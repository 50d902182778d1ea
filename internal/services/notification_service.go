package services

import (
	"context"
	"time"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/repositories"
)

// NotificationList is one page of a user's inbox, newest first.
type NotificationList struct {
	Notifications []models.Notification `json:"notifications"`
	Meta          models.Page           `json:"meta"`
}

// NotificationService reads and clears the in-app inbox. Entries are written by the
// notification dispatcher.
type NotificationService struct {
	inbox   repositories.NotificationRepository
	timeout time.Duration
}

func NewNotificationService(inbox repositories.NotificationRepository, storeTimeout time.Duration) *NotificationService {
	return &NotificationService{inbox: inbox, timeout: storeTimeout}
}

func (s *NotificationService) List(ctx context.Context, userID int64, page, limit int) (NotificationList, error) {
	page, limit = normalizePage(page, limit)
	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	items, total, err := s.inbox.ListForReceiver(sctx, userID, limit, (page-1)*limit)
	if err != nil {
		return NotificationList{}, storeError(sctx, "list notifications", err)
	}
	if items == nil {
		items = []models.Notification{}
	}
	return NotificationList{Notifications: items, Meta: models.NewPage(page, limit, total)}, nil
}

// Delete removes one of the caller's own inbox entries.
func (s *NotificationService) Delete(ctx context.Context, notificationID, userID int64) error {
	if notificationID <= 0 {
		return apperr.Validation("notification id must be positive")
	}
	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return storeError(sctx, "delete notification", s.inbox.DeleteForReceiver(sctx, notificationID, userID))
}
