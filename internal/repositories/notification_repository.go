package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/models"
)

var ErrNotificationNotFound = apperr.NotFound("notification not found")

// NotificationRepository stores the in-app inbox.
type NotificationRepository interface {
	CreateMany(ctx context.Context, senderID int64, receiverIDs []int64, content string) (int64, error)
	ListForReceiver(ctx context.Context, receiverID int64, limit, offset int) ([]models.Notification, int, error)
	DeleteForReceiver(ctx context.Context, notificationID, receiverID int64) error
}

type NotificationRepo struct {
	db *sqlx.DB
}

func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// CreateMany writes one inbox row per receiver. A senderID of 0 stores a system notice.
func (r *NotificationRepo) CreateMany(ctx context.Context, senderID int64, receiverIDs []int64, content string) (int64, error) {
	if len(receiverIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO notifications (receiver_id, sender_id, content)
        SELECT unnest($1::bigint[]), NULLIF($2::bigint, 0), $3`, pq.Array(receiverIDs), senderID, content)
	if err != nil {
		return 0, errors.Wrap(err, "notificationRepo.CreateMany")
	}
	count, err := res.RowsAffected()
	return count, errors.Wrap(err, "notificationRepo.CreateMany.RowsAffected")
}

// ListForReceiver returns one page of the inbox, newest first, and the inbox size.
func (r *NotificationRepo) ListForReceiver(ctx context.Context, receiverID int64, limit, offset int) ([]models.Notification, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications WHERE receiver_id=$1`, receiverID); err != nil {
		return nil, 0, errors.Wrap(err, "notificationRepo.ListForReceiver.Count")
	}
	items := []models.Notification{}
	err := r.db.SelectContext(ctx, &items, `SELECT n.id, n.receiver_id, n.sender_id, n.content, n.created_at,
            COALESCE(u.name, '') AS sender_name, COALESCE(u.image, '') AS sender_image
        FROM notifications n LEFT JOIN users u ON u.id = n.sender_id
        WHERE n.receiver_id=$1
        ORDER BY n.id DESC
        LIMIT $2 OFFSET $3`, receiverID, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "notificationRepo.ListForReceiver")
	}
	return items, total, nil
}

func (r *NotificationRepo) DeleteForReceiver(ctx context.Context, notificationID, receiverID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id=$1 AND receiver_id=$2`, notificationID, receiverID)
	if err != nil {
		return errors.Wrap(err, "notificationRepo.DeleteForReceiver")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "notificationRepo.DeleteForReceiver.RowsAffected")
	}
	if count == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
