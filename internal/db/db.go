package db

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"

	"ephemeral-chat/internal/config"
)

// Connect opens a traced Postgres pool and runs migrations.
func Connect(ctx context.Context, cfg config.DB, logger *zap.Logger) (*sqlx.DB, error) {
	sqlDB, err := otelsql.Open("postgres", cfg.DSN, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db := sqlx.NewDb(sqlDB, "postgres")
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            image TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS user_push_tokens (
            user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            token TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(user_id, token)
        );`,
	`CREATE TABLE IF NOT EXISTS chats (
            id BIGSERIAL PRIMARY KEY,
            type TEXT NOT NULL CHECK (type IN ('private', 'group')),
            name TEXT NOT NULL DEFAULT '',
            image TEXT NOT NULL DEFAULT '',
            member_a BIGINT,
            member_b BIGINT,
            created_by BIGINT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (type <> 'private' OR (member_a IS NOT NULL AND member_b IS NOT NULL AND member_a < member_b))
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS chats_private_pair_idx ON chats (member_a, member_b) WHERE type = 'private';`,
	`CREATE TABLE IF NOT EXISTS chat_members (
            chat_id BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(chat_id, user_id)
        );`,
	`CREATE INDEX IF NOT EXISTS chat_members_user_idx ON chat_members (user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            chat_id BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            sender_id BIGINT NOT NULL,
            body TEXT,
            media JSONB,
            content_type TEXT NOT NULL CHECK (content_type IN ('text', 'image', 'video')),
            viewed BOOLEAN NOT NULL DEFAULT FALSE,
            read BOOLEAN NOT NULL DEFAULT FALSE,
            reaction BOOLEAN NOT NULL DEFAULT FALSE,
            expiry_notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
            expiry_notified_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK ((body IS NULL) <> (media IS NULL))
        );`,
	`CREATE INDEX IF NOT EXISTS messages_chat_idx ON messages (chat_id, id DESC);`,
	`CREATE INDEX IF NOT EXISTS messages_created_idx ON messages (created_at);`,
	`CREATE INDEX IF NOT EXISTS messages_pending_warn_idx ON messages (created_at) WHERE expiry_notification_sent = FALSE;`,
	`CREATE TABLE IF NOT EXISTS stories (
            id BIGSERIAL PRIMARY KEY,
            author_id BIGINT NOT NULL,
            content_type TEXT NOT NULL CHECK (content_type IN ('image', 'video')),
            caption TEXT NOT NULL DEFAULT '',
            media JSONB NOT NULL,
            expiry_notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
            expiry_notified_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS stories_author_idx ON stories (author_id, created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS stories_created_idx ON stories (created_at);`,
	`CREATE INDEX IF NOT EXISTS stories_pending_warn_idx ON stories (created_at) WHERE expiry_notification_sent = FALSE;`,
	`CREATE TABLE IF NOT EXISTS notifications (
            id BIGSERIAL PRIMARY KEY,
            receiver_id BIGINT NOT NULL,
            sender_id BIGINT,
            content TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS notifications_receiver_idx ON notifications (receiver_id, id DESC);`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
