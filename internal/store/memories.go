package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/recall/pkg/models"
)

// MemoryFilter narrows memory item listings. Zero values are ignored.
type MemoryFilter struct {
	Categories    []models.Category
	SourceType    models.SourceType
	SourceID      string
	MinImportance int
	CreatedAfter  time.Time
	IDs           []string
}

// CreateMemoryItem inserts a memory item, sealing its content. Invariants
// are validated before any write.
func (s *Store) CreateMemoryItem(ctx context.Context, m *models.MemoryItem) error {
	if m.Importance == 0 {
		m.Importance = models.MinImportance
	}
	if err := m.Validate(); err != nil {
		return Constraint("memory item: %v", err)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}

	content, err := s.seal(m.Content)
	if err != nil {
		return err
	}
	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_items (id, content, category, source_type, source_id, importance, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, content, m.Category, nullable(string(m.SourceType)), nullable(m.SourceID),
		m.Importance, meta, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory item: %w", err)
	}
	return nil
}

// GetMemoryItem returns a memory item by id, content unsealed.
func (s *Store) GetMemoryItem(ctx context.Context, id string) (*models.MemoryItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, category, source_type, source_id, importance, metadata, created_at
		 FROM memory_items WHERE id = ?`, id)
	m, err := s.scanMemoryItem(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("memory item", id)
	}
	return m, err
}

// UpdateMemoryItem rewrites content, category, importance, and metadata.
func (s *Store) UpdateMemoryItem(ctx context.Context, m *models.MemoryItem) error {
	if err := m.Validate(); err != nil {
		return Constraint("memory item: %v", err)
	}
	content, err := s.seal(m.Content)
	if err != nil {
		return err
	}
	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_items SET content = ?, category = ?, importance = ?, metadata = ? WHERE id = ?`,
		content, m.Category, m.Importance, meta, m.ID)
	if err != nil {
		return fmt.Errorf("update memory item: %w", err)
	}
	return requireRow(res, "memory item", m.ID)
}

// SetMemoryImportance updates importance only. Level must already be
// validated by the caller against [MinImportance, MaxImportance].
func (s *Store) SetMemoryImportance(ctx context.Context, id string, level int) error {
	if level < models.MinImportance || level > models.MaxImportance {
		return Constraint("importance %d out of range", level)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE memory_items SET importance = ? WHERE id = ?", level, id)
	if err != nil {
		return fmt.Errorf("set importance: %w", err)
	}
	return requireRow(res, "memory item", id)
}

// DeleteMemoryItemTx removes the metadata row and its embedding record in
// one transaction. The returned commit function finalizes; calling rollback
// leaves both rows intact. The memory service coordinates this with the
// vector-store delete so all three succeed or none do.
func (s *Store) DeleteMemoryItemTx(ctx context.Context, id string) (commit func() error, rollback func() error, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM memory_items WHERE id = ?", id)
	if err != nil {
		tx.Rollback()
		return nil, nil, fmt.Errorf("delete memory item: %w", err)
	}
	if err := requireRow(res, "memory item", id); err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM embedding_records WHERE source_type = ? AND source_id = ?",
		models.SourceMemoryItem, id); err != nil {
		tx.Rollback()
		return nil, nil, fmt.Errorf("delete embedding record: %w", err)
	}
	return tx.Commit, tx.Rollback, nil
}

// ListMemoryItems returns items newest first after applying the filter.
func (s *Store) ListMemoryItems(ctx context.Context, f MemoryFilter, limit, offset int) ([]*models.MemoryItem, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := memoryWhere(f)
	query := `SELECT id, content, category, source_type, source_id, importance, metadata, created_at
		 FROM memory_items` + where + ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memory items: %w", err)
	}
	defer rows.Close()

	var out []*models.MemoryItem
	for rows.Next() {
		m, err := s.scanMemoryItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMemoryItems returns the number of items matching the filter.
func (s *Store) CountMemoryItems(ctx context.Context, f MemoryFilter) (int64, error) {
	where, args := memoryWhere(f)
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_items"+where, args...).Scan(&n)
	return n, err
}

// CountMemoryByCategory returns per-category item counts.
func (s *Store) CountMemoryByCategory(ctx context.Context) (map[models.Category]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT category, COUNT(*) FROM memory_items GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Category]int64)
	for rows.Next() {
		var cat models.Category
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		out[cat] = n
	}
	return out, rows.Err()
}

func memoryWhere(f MemoryFilter) (string, []any) {
	var conds []string
	var args []any

	if len(f.Categories) > 0 {
		ph := make([]string, len(f.Categories))
		for i, c := range f.Categories {
			ph[i] = "?"
			args = append(args, c)
		}
		conds = append(conds, "category IN ("+strings.Join(ph, ", ")+")")
	}
	if f.SourceType != "" {
		conds = append(conds, "source_type = ?")
		args = append(args, f.SourceType)
	}
	if f.SourceID != "" {
		conds = append(conds, "source_id = ?")
		args = append(args, f.SourceID)
	}
	if f.MinImportance > 0 {
		conds = append(conds, "importance >= ?")
		args = append(args, f.MinImportance)
	}
	if !f.CreatedAfter.IsZero() {
		conds = append(conds, "created_at > ?")
		args = append(args, f.CreatedAfter)
	}
	if len(f.IDs) > 0 {
		ph := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			ph[i] = "?"
			args = append(args, id)
		}
		conds = append(conds, "id IN ("+strings.Join(ph, ", ")+")")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) scanMemoryItem(row rowScanner) (*models.MemoryItem, error) {
	var m models.MemoryItem
	var content, meta string
	var sourceType, sourceID sql.NullString
	err := row.Scan(&m.ID, &content, &m.Category, &sourceType, &sourceID, &m.Importance, &meta, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan memory item: %w", err)
	}
	if m.Content, err = s.unseal(content); err != nil {
		return nil, err
	}
	if m.Metadata, err = unmarshalMeta(meta); err != nil {
		return nil, err
	}
	m.SourceType = models.SourceType(sourceType.String)
	m.SourceID = sourceID.String
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
