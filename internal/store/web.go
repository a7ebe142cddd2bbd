package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/haasonsaas/recall/pkg/models"
)

// CreateWebPage registers an ingested web page.
func (s *Store) CreateWebPage(ctx context.Context, p *models.WebPage) error {
	if p.URL == "" {
		return Constraint("web page: url required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	if p.LastAccessed.IsZero() {
		p.LastAccessed = p.CreatedAt
	}
	meta, err := marshalMeta(p.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO web_pages (id, url, title, last_accessed, processed, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.URL, p.Title, p.LastAccessed, boolToInt(p.Processed), meta, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert web page: %w", err)
	}
	return nil
}

// GetWebPage returns a web page by id.
func (s *Store) GetWebPage(ctx context.Context, id string) (*models.WebPage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, title, last_accessed, processed, metadata, created_at
		 FROM web_pages WHERE id = ?`, id)
	p, err := scanWebPage(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("web page", id)
	}
	return p, err
}

// UpdateWebPage rewrites mutable web page fields, refreshing last_accessed.
func (s *Store) UpdateWebPage(ctx context.Context, p *models.WebPage) error {
	meta, err := marshalMeta(p.Metadata)
	if err != nil {
		return err
	}
	p.LastAccessed = now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE web_pages SET url = ?, title = ?, last_accessed = ?, processed = ?, metadata = ? WHERE id = ?`,
		p.URL, p.Title, p.LastAccessed, boolToInt(p.Processed), meta, p.ID)
	if err != nil {
		return fmt.Errorf("update web page: %w", err)
	}
	return requireRow(res, "web page", p.ID)
}

// DeleteWebPage removes a web page and, via cascade, its chunks.
func (s *Store) DeleteWebPage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM web_pages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete web page: %w", err)
	}
	return requireRow(res, "web page", id)
}

// ListWebPages returns web pages newest first.
func (s *Store) ListWebPages(ctx context.Context, limit, offset int) ([]*models.WebPage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, title, last_accessed, processed, metadata, created_at
		 FROM web_pages ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list web pages: %w", err)
	}
	defer rows.Close()

	var out []*models.WebPage
	for rows.Next() {
		p, err := scanWebPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountWebPages returns the number of web pages.
func (s *Store) CountWebPages(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM web_pages").Scan(&n)
	return n, err
}

// CreateWebContentChunks inserts a page's chunks in one transaction.
func (s *Store) CreateWebContentChunks(ctx context.Context, chunks []*models.WebContentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if c.WebPageID == "" {
			return Constraint("web content chunk: web_page_id required")
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
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO web_content_chunks (id, web_page_id, chunk_index, content, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.WebPageID, c.ChunkIndex, content, meta, c.CreatedAt); err != nil {
			return fmt.Errorf("insert web content chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

// GetWebContentChunk returns a chunk by id, content unsealed.
func (s *Store) GetWebContentChunk(ctx context.Context, id string) (*models.WebContentChunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, web_page_id, chunk_index, content, metadata, created_at
		 FROM web_content_chunks WHERE id = ?`, id)
	c, err := s.scanWebContentChunk(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("web content chunk", id)
	}
	return c, err
}

// ListWebContentChunks returns a page's chunks in chunk order.
func (s *Store) ListWebContentChunks(ctx context.Context, webPageID string) ([]*models.WebContentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, web_page_id, chunk_index, content, metadata, created_at
		 FROM web_content_chunks WHERE web_page_id = ? ORDER BY chunk_index ASC`, webPageID)
	if err != nil {
		return nil, fmt.Errorf("list web content chunks: %w", err)
	}
	defer rows.Close()

	var out []*models.WebContentChunk
	for rows.Next() {
		c, err := s.scanWebContentChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanWebPage(row rowScanner) (*models.WebPage, error) {
	var p models.WebPage
	var processed int
	var meta string
	err := row.Scan(&p.ID, &p.URL, &p.Title, &p.LastAccessed, &processed, &meta, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan web page: %w", err)
	}
	if p.Metadata, err = unmarshalMeta(meta); err != nil {
		return nil, err
	}
	p.Processed = processed != 0
	p.LastAccessed = p.LastAccessed.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) scanWebContentChunk(row rowScanner) (*models.WebContentChunk, error) {
	var c models.WebContentChunk
	var content, meta string
	err := row.Scan(&c.ID, &c.WebPageID, &c.ChunkIndex, &content, &meta, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan web content chunk: %w", err)
	}
	if c.Content, err = s.unseal(content); err != nil {
		return nil, err
	}
	if c.Metadata, err = unmarshalMeta(meta); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}
