package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"ephemeral-chat/internal/models"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) SendPush(ctx context.Context, tokens []string, fallback, text string) error {
	args := m.Called(ctx, tokens, fallback, text)
	return args.Error(0)
}

type CacheMock struct {
	mock.Mock
}

func (m *CacheMock) Get(ctx context.Context, key string, dst any) (bool, error) {
	args := m.Called(ctx, key, dst)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *CacheMock) Invalidate(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func (m *CacheMock) DeleteByPrefix(ctx context.Context, prefix string) error {
	args := m.Called(ctx, prefix)
	return args.Error(0)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) NotifyOthers(chat models.Chat, senderID int64, text string) bool {
	args := m.Called(chat, senderID, text)
	return args.Bool(0)
}

func (m *NotifierMock) Announce(senderID int64, recipients []int64, text string) bool {
	args := m.Called(senderID, recipients, text)
	return args.Bool(0)
}

func (m *NotifierMock) NotifyUsers(ctx context.Context, userIDs []int64, text string) int {
	args := m.Called(ctx, userIDs, text)
	return args.Int(0)
}

// ChatServiceMock covers the chat operations used by the realtime protocol.
type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) JoinableChat(ctx context.Context, chatID, userID int64) (models.Chat, error) {
	args := m.Called(ctx, chatID, userID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatServiceMock) PostMessage(ctx context.Context, in models.NewMessage) (models.Chat, models.PopulatedMessage, error) {
	args := m.Called(ctx, in)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	var msg models.PopulatedMessage
	if val := args.Get(1); val != nil {
		msg = val.(models.PopulatedMessage)
	}
	return chat, msg, args.Error(2)
}

// RoomEvictorMock records realtime room evictions.
type RoomEvictorMock struct {
	mock.Mock
}

func (m *RoomEvictorMock) Evict(ctx context.Context, chatID, userID int64) error {
	args := m.Called(ctx, chatID, userID)
	return args.Error(0)
}
