package models

import (
	"database/sql"
	"sort"
	"time"
)

type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

// Chat is a private conversation between two users or a group. A private chat keeps its
// members in canonical ascending order in MemberA/MemberB.
type Chat struct {
	ID        int64         `db:"id" json:"id"`
	Type      ChatType      `db:"type" json:"type"`
	Name      string        `db:"name" json:"name"`
	Image     string        `db:"image" json:"image"`
	MemberA   sql.NullInt64 `db:"member_a" json:"-"`
	MemberB   sql.NullInt64 `db:"member_b" json:"-"`
	CreatedBy int64         `db:"created_by" json:"created_by"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
	Members   []int64       `db:"-" json:"members"`
}

func (c Chat) IsGroup() bool {
	return c.Type == ChatGroup
}

func (c Chat) HasMember(userID int64) bool {
	for _, id := range c.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// Others returns the members other than userID.
func (c Chat) Others(userID int64) []int64 {
	out := make([]int64, 0, len(c.Members))
	for _, id := range c.Members {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

// CanonicalPair orders two user ids so a private chat has a single lookup key.
func CanonicalPair(a, b int64) (int64, int64) {
	pair := []int64{a, b}
	sort.Slice(pair, func(i, j int) bool { return pair[i] < pair[j] })
	return pair[0], pair[1]
}

// ChatSummary is a chat list row with the latest message, if any.
type ChatSummary struct {
	Chat
	LastMessage *PopulatedMessage `json:"last_message,omitempty"`
}

// ChatEvent is a websocket frame.
type ChatEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

const (
	EventJoin           = "join"
	EventLeave          = "leave"
	EventSendMessage    = "send-message"
	EventPing           = "ping"
	EventPong           = "pong"
	EventReceiveMessage = "receive-message"
	EventError          = "error"
	EventChatStarted    = "chat-started"
)

// ErrorPayload is the data of an "error" frame.
type ErrorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// ChatStartedPayload is the data of a "chat-started" frame.
type ChatStartedPayload struct {
	ChatRoom int64 `json:"chat_room"`
}
