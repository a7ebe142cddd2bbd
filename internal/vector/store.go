package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/haasonsaas/recall/internal/observability"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store persists records in a SQLite file separate from the metadata
// database. Similarity is computed in process over candidate rows.
type Store struct {
	db       *sql.DB
	path     string
	embedder Embedder
	logger   *observability.Logger
}

// Options configures Open.
type Options struct {
	// Path to the vector database file. Empty means in-memory (tests).
	Path string

	// Embedder backs SearchByText. Optional; SearchByText fails without it.
	Embedder Embedder

	Logger *observability.Logger
}

// Open opens (creating if needed) the vector store.
func Open(opts Options) (*Store, error) {
	path := opts.Path
	if path == "" {
		path = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create vector dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open vector database: %w", err)
	}
	db.SetMaxOpenConns(1)

	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Store{db: db, path: path, embedder: opts.Embedder, logger: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("set pragma: %w", err)
	}
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding BLOB,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at)"); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Add stores one record, replacing any existing row with the same id.
func (s *Store) Add(ctx context.Context, r *Record) error {
	return s.AddBatch(ctx, []*Record{r})
}

// AddBatch stores records in one transaction. Re-adding an id replaces the
// previous row, so retries are safe.
func (s *Store) AddBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO records (id, content, embedding, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record without id")
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		meta, err := marshalMeta(r.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Content, encodeEmbedding(r.Embedding), meta, r.CreatedAt, r.UpdatedAt); err != nil {
			return fmt.Errorf("insert record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Update rewrites the given fields of an existing record. Empty content
// and nil embedding/metadata leave the stored values untouched.
func (s *Store) Update(ctx context.Context, id string, content string, embedding []float32, metadata map[string]any) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if content != "" {
		cur.Content = content
	}
	if embedding != nil {
		cur.Embedding = embedding
	}
	if metadata != nil {
		cur.Metadata = metadata
	}
	meta, err := marshalMeta(cur.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE records SET content = ?, embedding = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		cur.Content, encodeEmbedding(cur.Embedding), meta, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, embedding, metadata, created_at, updated_at FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Delete removes records by id. Missing ids are logged and skipped so a
// metadata-side delete never fails on an already-absent vector.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete record %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			s.logger.Debug(ctx, "vector delete skipped missing record", "id", id)
		}
	}
	return tx.Commit()
}

// SearchOptions filters candidate records before ranking.
type SearchOptions struct {
	Limit int

	// Threshold drops results whose similarity falls below it. Zero keeps
	// everything.
	Threshold float32

	// Filters are equality checks against top-level metadata keys.
	Filters map[string]any
}

// SearchByVector returns the records most similar to the query embedding,
// ranked by cosine similarity descending, ties broken by id ascending.
func (s *Store) SearchByVector(ctx context.Context, query []float32, opts SearchOptions) ([]*SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, embedding, metadata, created_at, updated_at FROM records`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if !matchesFilters(r.Metadata, opts.Filters) {
			continue
		}
		sim := CosineSimilarity(query, r.Embedding)
		if opts.Threshold > 0 && sim < opts.Threshold {
			continue
		}
		results = append(results, &SearchResult{Record: r, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Record.ID < results[j].Record.ID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// SearchByText embeds the query text and delegates to SearchByVector.
func (s *Store) SearchByText(ctx context.Context, text string, opts SearchOptions) ([]*SearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("vector: no embedder configured")
	}
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.SearchByVector(ctx, embedding, opts)
}

// Count returns the number of records matching the metadata filters.
func (s *Store) Count(ctx context.Context, filters map[string]any) (int64, error) {
	if len(filters) == 0 {
		var n int64
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n)
		return n, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT metadata FROM records")
	if err != nil {
		return 0, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, err
		}
		meta, err := unmarshalMeta(raw)
		if err != nil {
			return 0, err
		}
		if matchesFilters(meta, filters) {
			n++
		}
	}
	return n, rows.Err()
}

// IDs returns every record id, for cross-checks against the metadata store.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM records ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Optimize reclaims space.
func (s *Store) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// Backup writes an atomic snapshot of the store to path.
func (s *Store) Backup(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("snapshot vector database: %w", err)
	}
	return nil
}

// Restore replaces the live file with the snapshot at path and reopens.
func (s *Store) Restore(path string) error {
	if s.path == ":memory:" {
		return fmt.Errorf("cannot restore into an in-memory store")
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close for restore: %w", err)
	}
	os.Remove(s.path + "-wal")
	os.Remove(s.path + "-shm")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("swap vector file: %w", err)
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("reopen vector database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db
	return s.init()
}

// Path returns the database file path ("" for in-memory stores).
func (s *Store) Path() string {
	if s.path == ":memory:" {
		return ""
	}
	return s.path
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func matchesFilters(meta, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var blob []byte
	var meta string
	err := row.Scan(&r.ID, &r.Content, &blob, &meta, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	if r.Embedding, err = decodeEmbedding(blob); err != nil {
		return nil, err
	}
	if r.Metadata, err = unmarshalMeta(meta); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func marshalMeta(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMeta(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}
