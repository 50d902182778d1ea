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

var (
	ErrChatNotFound  = apperr.NotFound("chat does not exist")
	ErrAlreadyMember = apperr.AlreadyExists("already a member")
	ErrSelfChat      = apperr.Validation("cannot create a chat with yourself")
)

// ChatRepository abstracts chat and membership persistence.
type ChatRepository interface {
	FindOrCreatePrivate(ctx context.Context, creatorID, participantID int64) (models.Chat, bool, error)
	CreateGroup(ctx context.Context, creatorID int64, name, image string, memberIDs []int64) (models.Chat, error)
	GetChat(ctx context.Context, chatID int64) (models.Chat, error)
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
	AddMembers(ctx context.Context, chatID int64, userIDs []int64) error
	RemoveMember(ctx context.Context, chatID, userID int64) (bool, error)
	UpdateGroup(ctx context.Context, chatID int64, name, image string) error
	DeleteChat(ctx context.Context, chatID int64) error
	ListForUser(ctx context.Context, userID int64, limit, offset int) ([]models.Chat, int, error)
	Touch(ctx context.Context, chatID int64) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

const chatColumns = `id, type, name, image, member_a, member_b, created_by, created_at, updated_at`

// FindOrCreatePrivate returns the private chat of the pair, creating it on first request.
// The bool result is true when this call created the chat.
func (r *ChatRepo) FindOrCreatePrivate(ctx context.Context, creatorID, participantID int64) (models.Chat, bool, error) {
	if creatorID == participantID {
		return models.Chat{}, false, ErrSelfChat
	}
	a, b := models.CanonicalPair(creatorID, participantID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, false, errors.Wrap(err, "chatRepo.FindOrCreatePrivate.Begin")
	}
	defer tx.Rollback()

	var chat models.Chat
	created := true
	err = tx.GetContext(ctx, &chat, `INSERT INTO chats (type, member_a, member_b, created_by) VALUES ('private', $1, $2, $3)
        ON CONFLICT (member_a, member_b) WHERE type = 'private' DO NOTHING
        RETURNING `+chatColumns, a, b, creatorID)
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = tx.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE type = 'private' AND member_a=$1 AND member_b=$2`, a, b)
	}
	if err != nil {
		return models.Chat{}, false, errors.Wrap(err, "chatRepo.FindOrCreatePrivate.Upsert")
	}

	if created {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2), ($1, $3)`, chat.ID, a, b); err != nil {
			return models.Chat{}, false, errors.Wrap(err, "chatRepo.FindOrCreatePrivate.Members")
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Chat{}, false, errors.Wrap(err, "chatRepo.FindOrCreatePrivate.Commit")
	}
	chat.Members = []int64{a, b}
	return chat, created, nil
}

// CreateGroup creates a group and its members atomically. The creator is always a member.
func (r *ChatRepo) CreateGroup(ctx context.Context, creatorID int64, name, image string, memberIDs []int64) (models.Chat, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, errors.Wrap(err, "chatRepo.CreateGroup.Begin")
	}
	defer tx.Rollback()

	var chat models.Chat
	if err := tx.GetContext(ctx, &chat, `INSERT INTO chats (type, name, image, created_by) VALUES ('group', $1, $2, $3) RETURNING `+chatColumns, name, image, creatorID); err != nil {
		return models.Chat{}, errors.Wrap(err, "chatRepo.CreateGroup.Insert")
	}

	ids := dedupe(append([]int64{creatorID}, memberIDs...))
	if _, err := tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, user_id) SELECT $1, unnest($2::bigint[])`, chat.ID, pq.Array(ids)); err != nil {
		return models.Chat{}, errors.Wrap(err, "chatRepo.CreateGroup.Members")
	}

	if err := tx.Commit(); err != nil {
		return models.Chat{}, errors.Wrap(err, "chatRepo.CreateGroup.Commit")
	}
	chat.Members = ids
	return chat, nil
}

// GetChat fetches a chat with its members.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int64) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, errors.Wrap(err, "chatRepo.GetChat")
	}
	if err := r.db.SelectContext(ctx, &chat.Members, `SELECT user_id FROM chat_members WHERE chat_id=$1 ORDER BY user_id`, chatID); err != nil {
		return models.Chat{}, errors.Wrap(err, "chatRepo.GetChat.Members")
	}
	return chat, nil
}

// IsMember checks membership.
func (r *ChatRepo) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, errors.Wrap(err, "chatRepo.IsMember")
}

// AddMembers inserts new members; an existing member fails the whole batch.
func (r *ChatRepo) AddMembers(ctx context.Context, chatID int64, userIDs []int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "chatRepo.AddMembers.Begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, user_id) SELECT $1, unnest($2::bigint[])`, chatID, pq.Array(dedupe(userIDs))); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyMember
		}
		return errors.Wrap(err, "chatRepo.AddMembers.Insert")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = NOW() WHERE id=$1`, chatID); err != nil {
		return errors.Wrap(err, "chatRepo.AddMembers.Touch")
	}
	return errors.Wrap(tx.Commit(), "chatRepo.AddMembers.Commit")
}

// RemoveMember deletes one membership and reports whether it existed.
func (r *ChatRepo) RemoveMember(ctx context.Context, chatID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_members WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	if err != nil {
		return false, errors.Wrap(err, "chatRepo.RemoveMember")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "chatRepo.RemoveMember.RowsAffected")
	}
	return count > 0, nil
}

// UpdateGroup renames a group or changes its image.
func (r *ChatRepo) UpdateGroup(ctx context.Context, chatID int64, name, image string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET name = $2, image = $3, updated_at = NOW() WHERE id=$1 AND type = 'group'`, chatID, name, image)
	if err != nil {
		return errors.Wrap(err, "chatRepo.UpdateGroup")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "chatRepo.UpdateGroup.RowsAffected")
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteChat removes a chat; members and messages cascade.
func (r *ChatRepo) DeleteChat(ctx context.Context, chatID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id=$1`, chatID)
	if err != nil {
		return errors.Wrap(err, "chatRepo.DeleteChat")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "chatRepo.DeleteChat.RowsAffected")
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}

// ListForUser returns the user's chats, most recently active first, and the total count.
func (r *ChatRepo) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]models.Chat, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM chat_members WHERE user_id=$1`, userID); err != nil {
		return nil, 0, errors.Wrap(err, "chatRepo.ListForUser.Count")
	}

	chats := []models.Chat{}
	err := r.db.SelectContext(ctx, &chats, `SELECT c.id, c.type, c.name, c.image, c.member_a, c.member_b, c.created_by, c.created_at, c.updated_at
        FROM chats c INNER JOIN chat_members cm ON cm.chat_id = c.id
        WHERE cm.user_id=$1
        ORDER BY c.updated_at DESC, c.id DESC
        LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "chatRepo.ListForUser")
	}
	if len(chats) == 0 {
		return chats, total, nil
	}

	ids := make([]int64, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ID)
	}
	var rows []struct {
		ChatID int64 `db:"chat_id"`
		UserID int64 `db:"user_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT chat_id, user_id FROM chat_members WHERE chat_id = ANY($1) ORDER BY user_id`, pq.Array(ids)); err != nil {
		return nil, 0, errors.Wrap(err, "chatRepo.ListForUser.Members")
	}
	members := map[int64][]int64{}
	for _, row := range rows {
		members[row.ChatID] = append(members[row.ChatID], row.UserID)
	}
	for i := range chats {
		chats[i].Members = members[chats[i].ID]
	}
	return chats, total, nil
}

// Touch bumps updated_at so the chat sorts first in chat lists.
func (r *ChatRepo) Touch(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET updated_at = NOW() WHERE id=$1`, chatID)
	return errors.Wrap(err, "chatRepo.Touch")
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
