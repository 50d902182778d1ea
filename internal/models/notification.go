package models

import "time"

// Notification is one entry of a user's in-app inbox. SenderID is nil for system notices.
type Notification struct {
	ID          int64     `db:"id" json:"id"`
	ReceiverID  int64     `db:"receiver_id" json:"receiver_id"`
	SenderID    *int64    `db:"sender_id" json:"sender_id,omitempty"`
	SenderName  string    `db:"sender_name" json:"sender_name,omitempty"`
	SenderImage string    `db:"sender_image" json:"sender_image,omitempty"`
	Content     string    `db:"content" json:"content"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
