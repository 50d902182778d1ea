package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/models"
)

var ErrMessageNotFound = apperr.NotFound("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	Create(ctx context.Context, msg models.NewMessage) (models.Message, error)
	CreateMany(ctx context.Context, msgs []models.NewMessage) ([]models.Message, error)
	Get(ctx context.Context, messageID int64) (models.Message, error)
	GetPopulated(ctx context.Context, messageID int64) (models.PopulatedMessage, error)
	ListPopulated(ctx context.Context, chatID int64, limit, offset int) ([]models.PopulatedMessage, error)
	LatestForChats(ctx context.Context, chatIDs []int64) (map[int64]models.PopulatedMessage, error)
	Count(ctx context.Context, chatID int64) (int, error)
	MarkRead(ctx context.Context, messageIDs []int64, readerID int64) (int64, error)
	MarkViewed(ctx context.Context, messageID int64) error
	DeleteBySender(ctx context.Context, messageID, senderID int64) error
	ClaimExpiring(ctx context.Context, cutoff, notifiedAt time.Time, limit int) ([]models.ExpiringItem, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_id, sender_id, body, media, content_type, viewed, "read", reaction, expiry_notification_sent, expiry_notified_at, created_at`

const populatedFields = `m.id, m.chat_id, m.sender_id, m.body, m.media, m.content_type, m.viewed, m."read", m.reaction, m.created_at,
        COALESCE(u.name, '') AS sender_name, COALESCE(u.image, '') AS sender_image,
        c.type AS chat_type, c.name AS chat_name`

const populatedFrom = ` FROM messages m
        INNER JOIN chats c ON c.id = m.chat_id
        LEFT JOIN users u ON u.id = m.sender_id`

const populatedSelect = `SELECT ` + populatedFields + populatedFrom

type populatedRow struct {
	ID          int64               `db:"id"`
	ChatID      int64               `db:"chat_id"`
	SenderID    int64               `db:"sender_id"`
	Body        sql.NullString      `db:"body"`
	Media       models.NullMediaRef `db:"media"`
	ContentType models.ContentType  `db:"content_type"`
	Viewed      bool                `db:"viewed"`
	Read        bool                `db:"read"`
	Reaction    bool                `db:"reaction"`
	CreatedAt   time.Time           `db:"created_at"`
	SenderName  string              `db:"sender_name"`
	SenderImage string              `db:"sender_image"`
	ChatType    models.ChatType     `db:"chat_type"`
	ChatName    string              `db:"chat_name"`
}

func (p populatedRow) toModel() models.PopulatedMessage {
	out := models.PopulatedMessage{
		ID:          p.ID,
		Chat:        models.ChatRef{ID: p.ChatID, Type: p.ChatType, Name: p.ChatName},
		Sender:      models.UserRef{ID: p.SenderID, Name: p.SenderName, Image: p.SenderImage},
		Media:       p.Media,
		ContentType: p.ContentType,
		Viewed:      p.Viewed,
		Read:        p.Read,
		Reaction:    p.Reaction,
		CreatedAt:   p.CreatedAt,
	}
	if p.Body.Valid {
		body := p.Body.String
		out.Message = &body
	}
	return out
}

const insertMessage = `INSERT INTO messages (chat_id, sender_id, body, media, content_type, reaction)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING ` + messageColumns

func insertArgs(in models.NewMessage) []any {
	var body sql.NullString
	if in.Body != nil {
		body = sql.NullString{String: *in.Body, Valid: true}
	}
	return []any{in.ChatID, in.SenderID, body, models.NullMediaRef{MediaRef: in.Media}, in.ContentType, in.Reaction}
}

// Create stores a message. The id sequence is the ordering authority within a chat.
func (r *MessageRepo) Create(ctx context.Context, in models.NewMessage) (models.Message, error) {
	var msg models.Message
	if err := r.db.GetContext(ctx, &msg, insertMessage, insertArgs(in)...); err != nil {
		return models.Message{}, errors.Wrap(err, "messageRepo.Create")
	}
	return msg, nil
}

// CreateMany stores several messages atomically, in input order.
func (r *MessageRepo) CreateMany(ctx context.Context, msgs []models.NewMessage) ([]models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.CreateMany.Begin")
	}
	defer tx.Rollback()

	out := make([]models.Message, 0, len(msgs))
	for _, in := range msgs {
		var msg models.Message
		if err := tx.GetContext(ctx, &msg, insertMessage, insertArgs(in)...); err != nil {
			return nil, errors.Wrap(err, "messageRepo.CreateMany.Insert")
		}
		out = append(out, msg)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "messageRepo.CreateMany.Commit")
	}
	return out, nil
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, errors.Wrap(err, "messageRepo.Get")
}

// GetPopulated re-reads a message with sender identity and chat type/name resolved.
func (r *MessageRepo) GetPopulated(ctx context.Context, messageID int64) (models.PopulatedMessage, error) {
	var row populatedRow
	err := r.db.GetContext(ctx, &row, populatedSelect+` WHERE m.id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PopulatedMessage{}, ErrMessageNotFound
	}
	if err != nil {
		return models.PopulatedMessage{}, errors.Wrap(err, "messageRepo.GetPopulated")
	}
	return row.toModel(), nil
}

// ListPopulated returns one page of a chat's history, newest first.
func (r *MessageRepo) ListPopulated(ctx context.Context, chatID int64, limit, offset int) ([]models.PopulatedMessage, error) {
	var rows []populatedRow
	err := r.db.SelectContext(ctx, &rows, populatedSelect+` WHERE m.chat_id=$1 ORDER BY m.id DESC LIMIT $2 OFFSET $3`, chatID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.ListPopulated")
	}
	out := make([]models.PopulatedMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// LatestForChats returns the newest message of every listed chat that has one.
func (r *MessageRepo) LatestForChats(ctx context.Context, chatIDs []int64) (map[int64]models.PopulatedMessage, error) {
	out := make(map[int64]models.PopulatedMessage, len(chatIDs))
	if len(chatIDs) == 0 {
		return out, nil
	}
	var rows []populatedRow
	query := `SELECT DISTINCT ON (m.chat_id) ` + populatedFields + populatedFrom + ` WHERE m.chat_id = ANY($1) ORDER BY m.chat_id, m.id DESC`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(chatIDs)); err != nil {
		return nil, errors.Wrap(err, "messageRepo.LatestForChats")
	}
	for _, row := range rows {
		out[row.ChatID] = row.toModel()
	}
	return out, nil
}

// Count returns the number of messages in a chat.
func (r *MessageRepo) Count(ctx context.Context, chatID int64) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE chat_id=$1`, chatID)
	return total, errors.Wrap(err, "messageRepo.Count")
}

// MarkRead flags the given messages as read, skipping the reader's own messages.
func (r *MessageRepo) MarkRead(ctx context.Context, messageIDs []int64, readerID int64) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET "read" = TRUE WHERE id = ANY($1) AND sender_id <> $2 AND "read" = FALSE`, pq.Array(messageIDs), readerID)
	if err != nil {
		return 0, errors.Wrap(err, "messageRepo.MarkRead")
	}
	count, err := res.RowsAffected()
	return count, errors.Wrap(err, "messageRepo.MarkRead.RowsAffected")
}

// MarkViewed flags a media message as viewed.
func (r *MessageRepo) MarkViewed(ctx context.Context, messageID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET viewed = TRUE WHERE id=$1`, messageID)
	if err != nil {
		return errors.Wrap(err, "messageRepo.MarkViewed")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "messageRepo.MarkViewed.RowsAffected")
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DeleteBySender hard-deletes a message owned by senderID.
func (r *MessageRepo) DeleteBySender(ctx context.Context, messageID, senderID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1 AND sender_id=$2`, messageID, senderID)
	if err != nil {
		return errors.Wrap(err, "messageRepo.DeleteBySender")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "messageRepo.DeleteBySender.RowsAffected")
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ClaimExpiring atomically flags up to limit messages created at or before cutoff that have
// not been warned yet, and returns them with their senders. Rows locked by a concurrent
// sweep are skipped, so an item is claimed by exactly one sweep.
func (r *MessageRepo) ClaimExpiring(ctx context.Context, cutoff, notifiedAt time.Time, limit int) ([]models.ExpiringItem, error) {
	var items []models.ExpiringItem
	err := r.db.SelectContext(ctx, &items, `UPDATE messages SET expiry_notification_sent = TRUE, expiry_notified_at = $2
        WHERE id IN (
            SELECT id FROM messages
            WHERE created_at <= $1 AND expiry_notification_sent = FALSE
            ORDER BY id
            LIMIT $3
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, sender_id AS owner_id`, cutoff, notifiedAt, limit)
	return items, errors.Wrap(err, "messageRepo.ClaimExpiring")
}

// DeleteOlderThan hard-deletes up to limit messages created before cutoff.
func (r *MessageRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id IN (
            SELECT id FROM messages WHERE created_at < $1 ORDER BY id LIMIT $2
        )`, cutoff, limit)
	if err != nil {
		return 0, errors.Wrap(err, "messageRepo.DeleteOlderThan")
	}
	count, err := res.RowsAffected()
	return count, errors.Wrap(err, "messageRepo.DeleteOlderThan.RowsAffected")
}
