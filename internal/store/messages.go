package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/haasonsaas/recall/pkg/models"
)

// CreateMessage inserts a message and refreshes the parent conversation's
// updated_at in the same transaction. Non-system content is sealed.
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	if err := m.Validate(); err != nil {
		return Constraint("message: %v", err)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}

	content := m.Content
	if m.Role != models.RoleSystem {
		sealed, err := s.seal(m.Content)
		if err != nil {
			return err
		}
		content = sealed
	}
	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, content, meta, m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err := s.touchConversation(ctx, tx, m.ConversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetMessage returns a message by id, content unsealed.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at
		 FROM messages WHERE id = ?`, id)
	m, err := s.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("message", id)
	}
	return m, err
}

// ListMessages returns a conversation's messages ascending by created_at.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessages returns the number of messages in a conversation. An empty
// conversationID counts all messages.
func (s *Store) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	var err error
	if conversationID == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&n)
	}
	return n, err
}

func (s *Store) scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var content, meta string
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &content, &meta, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if m.Content, err = s.unseal(content); err != nil {
		return nil, err
	}
	if m.Metadata, err = unmarshalMeta(meta); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}
