// Package store provides the relational metadata store over SQLite.
// Content fields of messages, memory items, and chunks are sealed at rest;
// metadata maps stay plaintext so they remain queryable.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/recall/internal/crypto"
	"github.com/haasonsaas/recall/internal/observability"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store is the durable relational store over all core entities.
type Store struct {
	db     *sql.DB
	path   string
	cipher *crypto.Cipher
	logger *observability.Logger
}

// Options configures Open.
type Options struct {
	// Path to the database file. Empty means in-memory (tests).
	Path string

	// Cipher seals content columns. Nil stores plaintext; production always
	// passes a cipher.
	Cipher *crypto.Cipher

	Logger *observability.Logger
}

// Open opens (creating if needed) the metadata store and runs the schema.
func Open(opts Options) (*Store, error) {
	path := opts.Path
	if path == "" {
		path = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The modernc driver serializes access per connection; a single
	// connection avoids table-lock races between pooled writers.
	db.SetMaxOpenConns(1)

	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Store{db: db, path: path, cipher: opts.Cipher, logger: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("set pragma: %w", err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_items (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			source_type TEXT,
			source_id TEXT,
			importance INTEGER NOT NULL DEFAULT 1,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			file_type TEXT NOT NULL DEFAULT '',
			storage_path TEXT NOT NULL DEFAULT '',
			processed INTEGER NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			page_number INTEGER,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			UNIQUE(document_id, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS web_pages (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			last_accessed TIMESTAMP,
			processed INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS web_content_chunks (
			id TEXT PRIMARY KEY,
			web_page_id TEXT NOT NULL REFERENCES web_pages(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			UNIQUE(web_page_id, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			id TEXT PRIMARY KEY,
			voice TEXT NOT NULL DEFAULT '{}',
			personality TEXT NOT NULL DEFAULT '{}',
			privacy TEXT NOT NULL DEFAULT '{}',
			storage TEXT NOT NULL DEFAULT '{}',
			llm TEXT NOT NULL DEFAULT '{}',
			search TEXT NOT NULL DEFAULT '{}',
			memory TEXT NOT NULL DEFAULT '{}',
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS embedding_records (
			id TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			embedding_model TEXT NOT NULL DEFAULT '',
			indexed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(source_type, source_id)
		)`,
		`CREATE TABLE IF NOT EXISTS crypto_meta (
			name TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_memory_category ON memory_items(category)",
		"CREATE INDEX IF NOT EXISTS idx_memory_source ON memory_items(source_type, source_id)",
		"CREATE INDEX IF NOT EXISTS idx_memory_importance ON memory_items(importance)",
		"CREATE INDEX IF NOT EXISTS idx_memory_created ON memory_items(created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
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

// Optimize reclaims space and rebuilds statistics.
func (s *Store) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return nil
}

// Backup writes an atomic snapshot of the store to path.
func (s *Store) Backup(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	// VACUUM INTO produces a consistent single-file snapshot without
	// quiescing readers.
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}
	return nil
}

// Restore replaces the live database file with the snapshot at path. The
// store must be the only handle; it is closed, swapped, and reopened by the
// caller (see storage.Manager).
func (s *Store) Restore(path string) error {
	if s.path == ":memory:" {
		return fmt.Errorf("cannot restore into an in-memory store")
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close for restore: %w", err)
	}
	// WAL sidecars of the old database must not survive the swap.
	os.Remove(s.path + "-wal")
	os.Remove(s.path + "-shm")
	if err := copyFile(path, s.path); err != nil {
		return fmt.Errorf("swap database file: %w", err)
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("reopen database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db
	return s.init()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// Salt returns the persisted PBKDF2 salt, creating one on first call. The
// salt lives beside the data so passphrase-derived keys are stable.
func (s *Store) Salt(ctx context.Context, generate func() ([]byte, error)) ([]byte, error) {
	var salt []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM crypto_meta WHERE name = 'pbkdf2_salt'").Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	salt, err = generate()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO crypto_meta (name, value) VALUES ('pbkdf2_salt', ?)", salt); err != nil {
		return nil, fmt.Errorf("persist salt: %w", err)
	}
	return salt, nil
}

// now returns the canonical UTC microsecond timestamp.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// seal encrypts a content field when a cipher is configured.
func (s *Store) seal(content string) (string, error) {
	if s.cipher == nil {
		return content, nil
	}
	return s.cipher.SealString(content)
}

// unseal transparently decrypts a content field. Values without the sealed
// prefix pass through, so plaintext written before encryption was enabled
// stays readable.
func (s *Store) unseal(content string) (string, error) {
	if s.cipher == nil || !crypto.IsSealed(content) {
		return content, nil
	}
	return s.cipher.UnsealString(content)
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
