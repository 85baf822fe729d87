package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"realtime-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the conversation store adapter for messages, both
// direct (sender+receiver pair) and group (chat id) variants.
type MessageRepository interface {
	CreateDirectMessage(ctx context.Context, senderID string, receiverID string, text, image *string) (models.Message, error)
	CreateGroupMessage(ctx context.Context, groupID string, senderID string, text, image *string) (models.Message, error)
	ListDirectMessages(ctx context.Context, userID string, peerID string) ([]models.Message, error)
	ListGroupMessages(ctx context.Context, groupID string) ([]models.Message, error)
	ListDirectPeers(ctx context.Context, userID string) ([]string, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	DeleteDirectHistory(ctx context.Context, userID string, peerID string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, sender_id, receiver_id, chat_id, text, image, created_at`

// CreateDirectMessage stores a one-to-one message.
func (r *MessageRepo) CreateDirectMessage(ctx context.Context, senderID string, receiverID string, text, image *string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, text, image) VALUES ($1, $2, $3, $4, $5)
         RETURNING `+messageColumns,
		uuid.NewString(), senderID, receiverID, text, image).StructScan(&msg)
	return msg, err
}

// CreateGroupMessage stores a group message.
func (r *MessageRepo) CreateGroupMessage(ctx context.Context, groupID string, senderID string, text, image *string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (id, sender_id, chat_id, text, image) VALUES ($1, $2, $3, $4, $5)
         RETURNING `+messageColumns,
		uuid.NewString(), senderID, groupID, text, image).StructScan(&msg)
	return msg, err
}

// ListDirectMessages returns the history between two users in either
// direction, oldest first.
func (r *MessageRepo) ListDirectMessages(ctx context.Context, userID string, peerID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages
         WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
         ORDER BY created_at ASC`, userID, peerID)
	return msgs, err
}

// ListGroupMessages returns group messages ordered by creation.
func (r *MessageRepo) ListGroupMessages(ctx context.Context, groupID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id=$1 ORDER BY created_at ASC`, groupID)
	return msgs, err
}

// ListDirectPeers returns the distinct user ids the user has direct history
// with, in either direction.
func (r *MessageRepo) ListDirectPeers(ctx context.Context, userID string) ([]string, error) {
	var peers []string
	err := r.db.SelectContext(ctx, &peers,
		`SELECT DISTINCT peer FROM (
            SELECT receiver_id AS peer FROM messages WHERE sender_id=$1 AND receiver_id IS NOT NULL
            UNION
            SELECT sender_id AS peer FROM messages WHERE receiver_id=$1
         ) p ORDER BY peer`, userID)
	return peers, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// DeleteMessage hard-deletes a message.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DeleteDirectHistory removes all messages between two users, both
// directions.
func (r *MessageRepo) DeleteDirectHistory(ctx context.Context, userID string, peerID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)`,
		userID, peerID)
	return err
}
