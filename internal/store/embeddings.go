package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/haasonsaas/recall/pkg/models"
)

// UpsertEmbeddingRecord inserts or replaces the record for (source_type,
// source_id).
func (s *Store) UpsertEmbeddingRecord(ctx context.Context, r *models.EmbeddingRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embedding_records (id, source_type, source_id, embedding_model, indexed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_type, source_id) DO UPDATE SET
		   embedding_model = excluded.embedding_model,
		   indexed = excluded.indexed`,
		r.ID, r.SourceType, r.SourceID, r.Model, boolToInt(r.Indexed), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert embedding record: %w", err)
	}
	return nil
}

// GetEmbeddingRecord returns the record for a source.
func (s *Store) GetEmbeddingRecord(ctx context.Context, sourceType models.SourceType, sourceID string) (*models.EmbeddingRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_type, source_id, embedding_model, indexed, created_at
		 FROM embedding_records WHERE source_type = ? AND source_id = ?`,
		sourceType, sourceID)
	return scanEmbeddingRecord(row, sourceID)
}

// MarkIndexed flips the indexed flag for a source.
func (s *Store) MarkIndexed(ctx context.Context, sourceType models.SourceType, sourceID string, indexed bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE embedding_records SET indexed = ? WHERE source_type = ? AND source_id = ?",
		boolToInt(indexed), sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("mark indexed: %w", err)
	}
	return requireRow(res, "embedding record", sourceID)
}

// ListUnindexed returns up to limit records whose vectors are missing from
// the vector store, oldest first. Self-healing works through this list.
func (s *Store) ListUnindexed(ctx context.Context, limit int) ([]*models.EmbeddingRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_type, source_id, embedding_model, indexed, created_at
		 FROM embedding_records WHERE indexed = 0 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unindexed: %w", err)
	}
	defer rows.Close()

	var out []*models.EmbeddingRecord
	for rows.Next() {
		r, err := scanEmbeddingRecord(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountEmbeddingRecords returns the number of crosswalk rows.
func (s *Store) CountEmbeddingRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_records").Scan(&n)
	return n, err
}

func scanEmbeddingRecord(row rowScanner, id string) (*models.EmbeddingRecord, error) {
	var r models.EmbeddingRecord
	var indexed int
	err := row.Scan(&r.ID, &r.SourceType, &r.SourceID, &r.Model, &indexed, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("embedding record", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan embedding record: %w", err)
	}
	r.Indexed = indexed != 0
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
