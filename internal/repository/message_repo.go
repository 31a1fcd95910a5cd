package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"chat-backend/internal/models"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

// ListByChat returns a conversation's messages oldest first.
func (r *MessageRepo) ListByChat(ctx context.Context, chatID string) ([]*models.StoredMessage, error) {
	query := `SELECT id, chat_id, message_role, message_type, content, COALESCE(model, ''), created_at
		FROM messages WHERE chat_id = $1 ORDER BY created_at ASC, seq ASC`

	rows, err := r.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	var messages []*models.StoredMessage
	for rows.Next() {
		m := &models.StoredMessage{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.MessageRole, &m.MessageType, &m.Content, &m.Model, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		messages = append(messages, m)
	}
	return messages, errors.Wrap(rows.Err(), "iterate messages")
}

// CreateMany inserts all rows in one transaction; either every row is
// written or none is. IDs and creation times are filled in on success.
func (r *MessageRepo) CreateMany(ctx context.Context, messages []*models.StoredMessage) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO messages (id, chat_id, message_role, message_type, content, model)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')) RETURNING created_at`

	for _, m := range messages {
		m.ID = uuid.New()
		if err := tx.QueryRow(ctx, query,
			m.ID, m.ChatID, m.MessageRole, m.MessageType, m.Content, m.Model,
		).Scan(&m.CreatedAt); err != nil {
			return errors.Wrapf(err, "insert %s message", m.MessageRole)
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit messages")
}
