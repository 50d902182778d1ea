package models

import (
	"database/sql"
	"strings"
	"time"

	"ephemeral-chat/internal/apperr"
)

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
)

func (c ContentType) Valid() bool {
	return c == ContentText || c == ContentImage || c == ContentVideo
}

// IsMedia reports whether the type is carried by a MediaRef.
func (c ContentType) IsMedia() bool {
	return c == ContentImage || c == ContentVideo
}

// Message is one entry of a chat's log. Exactly one of Body and Media is set.
type Message struct {
	ID                     int64          `db:"id" json:"id"`
	ChatID                 int64          `db:"chat_id" json:"chat_id"`
	SenderID               int64          `db:"sender_id" json:"sender_id"`
	Body                   sql.NullString `db:"body" json:"-"`
	Media                  NullMediaRef   `db:"media" json:"media"`
	ContentType            ContentType    `db:"content_type" json:"content_type"`
	Viewed                 bool           `db:"viewed" json:"viewed"`
	Read                   bool           `db:"read" json:"read"`
	Reaction               bool           `db:"reaction" json:"reaction"`
	ExpiryNotificationSent bool           `db:"expiry_notification_sent" json:"-"`
	ExpiryNotifiedAt       sql.NullTime   `db:"expiry_notified_at" json:"-"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
}

// Text returns the text body, or "" for media messages.
func (m Message) Text() string {
	return m.Body.String
}

// UserRef is the populated identity of a user embedded in API payloads.
type UserRef struct {
	ID    int64  `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Image string `db:"image" json:"image"`
}

// ChatRef is the populated chat summary embedded in message payloads.
type ChatRef struct {
	ID   int64    `db:"id" json:"id"`
	Type ChatType `db:"type" json:"type"`
	Name string   `db:"name" json:"name"`
}

// PopulatedMessage is a message with sender and chat resolved, as broadcast to clients.
type PopulatedMessage struct {
	ID          int64        `json:"id"`
	Chat        ChatRef      `json:"chat"`
	Sender      UserRef      `json:"sender"`
	Message     *string      `json:"message,omitempty"`
	Media       NullMediaRef `json:"media"`
	ContentType ContentType  `json:"content_type"`
	Viewed      bool         `json:"viewed"`
	Read        bool         `json:"read"`
	Reaction    bool         `json:"reaction"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewMessage is the input for persisting a message.
type NewMessage struct {
	ChatID      int64
	SenderID    int64
	Body        *string
	Media       *MediaRef
	ContentType ContentType
	Reaction    bool
}

// Validate checks the shape of an outgoing message: exactly one of body and media, with a
// content type that agrees with it.
func (n NewMessage) Validate() error {
	if n.ChatID <= 0 {
		return apperr.Validation("chat_id is required")
	}
	if n.SenderID <= 0 {
		return apperr.Validation("sender_id is required")
	}
	if n.Body != nil && n.Media != nil {
		return apperr.Validation("exactly one of message and media is required")
	}
	hasBody := n.Body != nil && strings.TrimSpace(*n.Body) != ""
	hasMedia := n.Media != nil && n.Media.URL != ""
	if hasBody == hasMedia {
		return apperr.Validation("exactly one of message and media is required")
	}
	if !n.ContentType.Valid() {
		return apperr.Validation("content_type must be text, image or video")
	}
	if hasBody != (n.ContentType == ContentText) {
		return apperr.Validation("content_type does not match the message payload")
	}
	return nil
}

// ExpiringItem is a claimed message or story awaiting its expiry warning.
type ExpiringItem struct {
	ID      int64 `db:"id"`
	OwnerID int64 `db:"owner_id"`
}

// Page is the pagination metadata returned by list endpoints.
type Page struct {
	Page      int `json:"page"`
	Limit     int `json:"limit"`
	TotalPage int `json:"totalPage"`
	Total     int `json:"total"`
}

// NewPage computes the page metadata for total items.
func NewPage(page, limit, total int) Page {
	totalPage := 0
	if limit > 0 {
		totalPage = (total + limit - 1) / limit
	}
	return Page{Page: page, Limit: limit, TotalPage: totalPage, Total: total}
}
