package models

import "time"

// User is the local projection of a user: profile, phone and push tokens.
type User struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Image      string    `db:"image" json:"image"`
	Phone      string    `db:"phone" json:"phone"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	PushTokens []string  `db:"-" json:"push_tokens,omitempty"`
}
