package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/haasonsaas/recall/pkg/models"
)

// CreateConversation inserts a conversation, assigning an id and timestamps
// when absent.
func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	ts := now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = ts
	}
	c.UpdatedAt = c.CreatedAt

	meta, err := marshalMeta(c.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, summary, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Summary, meta, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, summary, metadata, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// UpdateConversation updates title, summary, and metadata, refreshing
// updated_at.
func (s *Store) UpdateConversation(ctx context.Context, c *models.Conversation) error {
	meta, err := marshalMeta(c.Metadata)
	if err != nil {
		return err
	}
	c.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, summary = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		c.Title, c.Summary, meta, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return requireRow(res, "conversation", c.ID)
}

// DeleteConversation removes a conversation and, via cascade, its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return requireRow(res, "conversation", id)
}

// ListConversations returns conversations newest-activity first.
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, summary, metadata, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountConversations returns the number of conversations.
func (s *Store) CountConversations(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&n)
	return n, err
}

// TouchConversation refreshes updated_at, used on message insert.
func (s *Store) touchConversation(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", now(), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return requireRow(res, "conversation", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var c models.Conversation
	var meta string
	err := row.Scan(&c.ID, &c.Title, &c.Summary, &meta, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("conversation", "")
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if c.Metadata, err = unmarshalMeta(meta); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return NotFound(kind, id)
	}
	return nil
}
