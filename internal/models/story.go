package models

import (
	"database/sql"
	"time"
)

// Story is a short-lived post; it expires on the same schedule as messages.
type Story struct {
	ID                     int64        `db:"id" json:"id"`
	AuthorID               int64        `db:"author_id" json:"author_id"`
	ContentType            ContentType  `db:"content_type" json:"content_type"`
	Caption                string       `db:"caption" json:"caption"`
	Media                  MediaRef     `db:"media" json:"media"`
	ExpiryNotificationSent bool         `db:"expiry_notification_sent" json:"-"`
	ExpiryNotifiedAt       sql.NullTime `db:"expiry_notified_at" json:"-"`
	CreatedAt              time.Time    `db:"created_at" json:"created_at"`
}
