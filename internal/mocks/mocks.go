package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/repositories"
)

var (
	_ repositories.ChatRepository    = (*ChatRepositoryMock)(nil)
	_ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
	_ repositories.StoryRepository   = (*StoryRepositoryMock)(nil)
	_ repositories.UserRepository    = (*UserRepositoryMock)(nil)

	_ repositories.NotificationRepository = (*NotificationRepositoryMock)(nil)
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) FindOrCreatePrivate(ctx context.Context, creatorID, participantID int64) (models.Chat, bool, error) {
	args := m.Called(ctx, creatorID, participantID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Bool(1), args.Error(2)
}

func (m *ChatRepositoryMock) CreateGroup(ctx context.Context, creatorID int64, name, image string, memberIDs []int64) (models.Chat, error) {
	args := m.Called(ctx, creatorID, name, image, memberIDs)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID int64) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatRepositoryMock) AddMembers(ctx context.Context, chatID int64, userIDs []int64) error {
	args := m.Called(ctx, chatID, userIDs)
	return args.Error(0)
}

func (m *ChatRepositoryMock) RemoveMember(ctx context.Context, chatID, userID int64) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatRepositoryMock) UpdateGroup(ctx context.Context, chatID int64, name, image string) error {
	args := m.Called(ctx, chatID, name, image)
	return args.Error(0)
}

func (m *ChatRepositoryMock) DeleteChat(ctx context.Context, chatID int64) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]models.Chat, int, error) {
	args := m.Called(ctx, userID, limit, offset)
	var list []models.Chat
	if val := args.Get(0); val != nil {
		list = val.([]models.Chat)
	}
	return list, args.Int(1), args.Error(2)
}

func (m *ChatRepositoryMock) Touch(ctx context.Context, chatID int64) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) CreateMany(ctx context.Context, msgs []models.NewMessage) ([]models.Message, error) {
	args := m.Called(ctx, msgs)
	var out []models.Message
	if val := args.Get(0); val != nil {
		out = val.([]models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetPopulated(ctx context.Context, messageID int64) (models.PopulatedMessage, error) {
	args := m.Called(ctx, messageID)
	var out models.PopulatedMessage
	if val := args.Get(0); val != nil {
		out = val.(models.PopulatedMessage)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListPopulated(ctx context.Context, chatID int64, limit, offset int) ([]models.PopulatedMessage, error) {
	args := m.Called(ctx, chatID, limit, offset)
	var out []models.PopulatedMessage
	if val := args.Get(0); val != nil {
		out = val.([]models.PopulatedMessage)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) LatestForChats(ctx context.Context, chatIDs []int64) (map[int64]models.PopulatedMessage, error) {
	args := m.Called(ctx, chatIDs)
	var out map[int64]models.PopulatedMessage
	if val := args.Get(0); val != nil {
		out = val.(map[int64]models.PopulatedMessage)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) Count(ctx context.Context, chatID int64) (int, error) {
	args := m.Called(ctx, chatID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, messageIDs []int64, readerID int64) (int64, error) {
	args := m.Called(ctx, messageIDs, readerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) MarkViewed(ctx context.Context, messageID int64) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) DeleteBySender(ctx context.Context, messageID, senderID int64) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ClaimExpiring(ctx context.Context, cutoff, notifiedAt time.Time, limit int) ([]models.ExpiringItem, error) {
	args := m.Called(ctx, cutoff, notifiedAt, limit)
	var out []models.ExpiringItem
	if val := args.Get(0); val != nil {
		out = val.([]models.ExpiringItem)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	args := m.Called(ctx, cutoff, limit)
	return args.Get(0).(int64), args.Error(1)
}

type StoryRepositoryMock struct {
	mock.Mock
}

func (m *StoryRepositoryMock) Create(ctx context.Context, story models.Story) (models.Story, error) {
	args := m.Called(ctx, story)
	var out models.Story
	if val := args.Get(0); val != nil {
		out = val.(models.Story)
	}
	return out, args.Error(1)
}

func (m *StoryRepositoryMock) ListSince(ctx context.Context, since time.Time, limit, offset int) ([]models.Story, error) {
	args := m.Called(ctx, since, limit, offset)
	var out []models.Story
	if val := args.Get(0); val != nil {
		out = val.([]models.Story)
	}
	return out, args.Error(1)
}

func (m *StoryRepositoryMock) CountSince(ctx context.Context, since time.Time) (int, error) {
	args := m.Called(ctx, since)
	return args.Int(0), args.Error(1)
}

func (m *StoryRepositoryMock) ListByAuthor(ctx context.Context, authorID int64, since time.Time) ([]models.Story, error) {
	args := m.Called(ctx, authorID, since)
	var out []models.Story
	if val := args.Get(0); val != nil {
		out = val.([]models.Story)
	}
	return out, args.Error(1)
}

func (m *StoryRepositoryMock) ClaimExpiring(ctx context.Context, cutoff, notifiedAt time.Time, limit int) ([]models.ExpiringItem, error) {
	args := m.Called(ctx, cutoff, notifiedAt, limit)
	var out []models.ExpiringItem
	if val := args.Get(0); val != nil {
		out = val.([]models.ExpiringItem)
	}
	return out, args.Error(1)
}

func (m *StoryRepositoryMock) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	args := m.Called(ctx, cutoff, limit)
	return args.Get(0).(int64), args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) Upsert(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	var out models.User
	if val := args.Get(0); val != nil {
		out = val.(models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) Get(ctx context.Context, userID int64) (models.User, error) {
	args := m.Called(ctx, userID)
	var out models.User
	if val := args.Get(0); val != nil {
		out = val.(models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) GetMany(ctx context.Context, userIDs []int64) ([]models.User, error) {
	args := m.Called(ctx, userIDs)
	var out []models.User
	if val := args.Get(0); val != nil {
		out = val.([]models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) AddPushToken(ctx context.Context, userID int64, token string) error {
	args := m.Called(ctx, userID, token)
	return args.Error(0)
}

func (m *UserRepositoryMock) RemovePushToken(ctx context.Context, userID int64, token string) error {
	args := m.Called(ctx, userID, token)
	return args.Error(0)
}

type NotificationRepositoryMock struct {
	mock.Mock
}

func (m *NotificationRepositoryMock) CreateMany(ctx context.Context, senderID int64, receiverIDs []int64, content string) (int64, error) {
	args := m.Called(ctx, senderID, receiverIDs, content)
	return int64(args.Int(0)), args.Error(1)
}

func (m *NotificationRepositoryMock) ListForReceiver(ctx context.Context, receiverID int64, limit, offset int) ([]models.Notification, int, error) {
	args := m.Called(ctx, receiverID, limit, offset)
	var out []models.Notification
	if val := args.Get(0); val != nil {
		out = val.([]models.Notification)
	}
	return out, args.Int(1), args.Error(2)
}

func (m *NotificationRepositoryMock) DeleteForReceiver(ctx context.Context, notificationID, receiverID int64) error {
	args := m.Called(ctx, notificationID, receiverID)
	return args.Error(0)
}
