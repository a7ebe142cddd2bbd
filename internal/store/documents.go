package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/haasonsaas/recall/pkg/models"
)

// CreateDocument registers an ingested file.
func (s *Store) CreateDocument(ctx context.Context, d *models.Document) error {
	if d.Filename == "" {
		return Constraint("document: filename required")
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now()
	}
	meta, err := marshalMeta(d.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, file_type, storage_path, processed, summary, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Filename, d.FileType, d.StoragePath, boolToInt(d.Processed), d.Summary, meta, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, file_type, storage_path, processed, summary, metadata, created_at
		 FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("document", id)
	}
	return d, err
}

// UpdateDocument rewrites mutable document fields.
func (s *Store) UpdateDocument(ctx context.Context, d *models.Document) error {
	meta, err := marshalMeta(d.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET filename = ?, file_type = ?, storage_path = ?, processed = ?, summary = ?, metadata = ? WHERE id = ?`,
		d.Filename, d.FileType, d.StoragePath, boolToInt(d.Processed), d.Summary, meta, d.ID)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireRow(res, "document", d.ID)
}

// DeleteDocument removes a document and, via cascade, its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireRow(res, "document", id)
}

// ListDocuments returns documents newest first.
func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, file_type, storage_path, processed, summary, metadata, created_at
		 FROM documents ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDocuments returns the number of documents.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	return n, err
}

// CreateDocumentChunks inserts a document's chunks in one transaction.
// ChunkIndex must be unique within the parent.
func (s *Store) CreateDocumentChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if c.DocumentID == "" {
			return Constraint("document chunk: document_id required")
		}
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now()
		}
		content, err := s.seal(c.Content)
		if err != nil {
			return err
		}
		meta, err := marshalMeta(c.Metadata)
		if err != nil {
			return err
		}
		var page sql.NullInt64
		if c.PageNumber > 0 {
			page = sql.NullInt64{Int64: int64(c.PageNumber), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_chunks (id, document_id, chunk_index, content, page_number, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.ChunkIndex, content, page, meta, c.CreatedAt); err != nil {
			return fmt.Errorf("insert document chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

// GetDocumentChunk returns a chunk by id, content unsealed.
func (s *Store) GetDocumentChunk(ctx context.Context, id string) (*models.DocumentChunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, chunk_index, content, page_number, metadata, created_at
		 FROM document_chunks WHERE id = ?`, id)
	c, err := s.scanDocumentChunk(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("document chunk", id)
	}
	return c, err
}

// ListDocumentChunks returns a document's chunks in chunk order.
func (s *Store) ListDocumentChunks(ctx context.Context, documentID string) ([]*models.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, content, page_number, metadata, created_at
		 FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document chunks: %w", err)
	}
	defer rows.Close()

	var out []*models.DocumentChunk
	for rows.Next() {
		c, err := s.scanDocumentChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	var processed int
	var meta string
	err := row.Scan(&d.ID, &d.Filename, &d.FileType, &d.StoragePath, &processed, &d.Summary, &meta, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	if d.Metadata, err = unmarshalMeta(meta); err != nil {
		return nil, err
	}
	d.Processed = processed != 0
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func (s *Store) scanDocumentChunk(row rowScanner) (*models.DocumentChunk, error) {
	var c models.DocumentChunk
	var content, meta string
	var page sql.NullInt64
	err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &content, &page, &meta, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan document chunk: %w", err)
	}
	if c.Content, err = s.unseal(content); err != nil {
		return nil, err
	}
	if c.Metadata, err = unmarshalMeta(meta); err != nil {
		return nil, err
	}
	c.PageNumber = int(page.Int64)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}
