package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/models"
)

var ErrUserNotFound = apperr.NotFound("user not found")

// UserRepository stores user profiles and their push tokens.
type UserRepository interface {
	Upsert(ctx context.Context, user models.User) (models.User, error)
	Get(ctx context.Context, userID int64) (models.User, error)
	GetMany(ctx context.Context, userIDs []int64) ([]models.User, error)
	AddPushToken(ctx context.Context, userID int64, token string) error
	RemovePushToken(ctx context.Context, userID int64, token string) error
}

// UserRepo is a sqlx-backed repository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Upsert creates or updates the profile of the user identified by user.ID.
func (r *UserRepo) Upsert(ctx context.Context, user models.User) (models.User, error) {
	var out models.User
	err := r.db.GetContext(ctx, &out, `INSERT INTO users (id, name, image, phone) VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, image = EXCLUDED.image, phone = EXCLUDED.phone
        RETURNING id, name, image, phone, created_at`, user.ID, user.Name, user.Image, user.Phone)
	return out, errors.Wrap(err, "userRepo.Upsert")
}

func (r *UserRepo) Get(ctx context.Context, userID int64) (models.User, error) {
	users, err := r.GetMany(ctx, []int64{userID})
	if err != nil {
		return models.User{}, err
	}
	if len(users) == 0 {
		return models.User{}, ErrUserNotFound
	}
	return users[0], nil
}

// GetMany loads users with their push tokens. Unknown ids are skipped.
func (r *UserRepo) GetMany(ctx context.Context, userIDs []int64) ([]models.User, error) {
	users := []models.User{}
	if len(userIDs) == 0 {
		return users, nil
	}
	if err := r.db.SelectContext(ctx, &users, `SELECT id, name, image, phone, created_at FROM users WHERE id = ANY($1) ORDER BY id`, pq.Array(userIDs)); err != nil {
		return nil, errors.Wrap(err, "userRepo.GetMany")
	}

	var rows []struct {
		UserID int64  `db:"user_id"`
		Token  string `db:"token"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT user_id, token FROM user_push_tokens WHERE user_id = ANY($1) ORDER BY created_at`, pq.Array(userIDs)); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "userRepo.GetMany.Tokens")
	}
	tokens := map[int64][]string{}
	for _, row := range rows {
		tokens[row.UserID] = append(tokens[row.UserID], row.Token)
	}
	for i := range users {
		users[i].PushTokens = tokens[users[i].ID]
	}
	return users, nil
}

func (r *UserRepo) AddPushToken(ctx context.Context, userID int64, token string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_push_tokens (user_id, token) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, token)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrUserNotFound
	}
	return errors.Wrap(err, "userRepo.AddPushToken")
}

func (r *UserRepo) RemovePushToken(ctx context.Context, userID int64, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_push_tokens WHERE user_id=$1 AND token=$2`, userID, token)
	return errors.Wrap(err, "userRepo.RemovePushToken")
}
