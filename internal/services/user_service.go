package services

import (
	"context"
	"strings"
	"time"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/repositories"
)

// UserService manages profiles and push tokens.
type UserService struct {
	users   repositories.UserRepository
	timeout time.Duration
}

func NewUserService(users repositories.UserRepository, storeTimeout time.Duration) *UserService {
	return &UserService{users: users, timeout: storeTimeout}
}

func (s *UserService) UpsertProfile(ctx context.Context, userID int64, name, image, phone string) (models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.User{}, apperr.Validation("name is required")
	}
	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	user, err := s.users.Upsert(sctx, models.User{ID: userID, Name: name, Image: image, Phone: strings.TrimSpace(phone)})
	return user, storeError(sctx, "save profile", err)
}

func (s *UserService) AddPushToken(ctx context.Context, userID int64, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.Validation("token is required")
	}
	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return storeError(sctx, "add push token", s.users.AddPushToken(sctx, userID, token))
}

func (s *UserService) RemovePushToken(ctx context.Context, userID int64, token string) error {
	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return storeError(sctx, "remove push token", s.users.RemovePushToken(sctx, userID, token))
}
