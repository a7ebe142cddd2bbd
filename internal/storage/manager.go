// Package storage manages the data directory as a whole: backup and
// restore of both stores, portable export and import, retention, and
// maintenance.
package storage

import (
	"context"
	"os"

	"github.com/haasonsaas/recall/internal/crypto"
	"github.com/haasonsaas/recall/internal/events"
	"github.com/haasonsaas/recall/internal/observability"
	"github.com/haasonsaas/recall/internal/store"
	"github.com/haasonsaas/recall/internal/vector"
)

// Manager coordinates whole-dataset operations across the metadata store,
// the vector store, and the user files directory.
type Manager struct {
	meta    *store.Store
	vectors *vector.Store

	backupDir string
	filesDir  string
	exclude   []string

	cipher *crypto.Cipher
	model  string

	logger  *observability.Logger
	metrics *observability.Metrics
	bus     *events.Bus
}

// Options configures NewManager. Meta, Vectors, and BackupDir are required.
// FilesDir is the user documents directory, included in backups on request.
// Cipher enables encrypted backup artifacts. EmbeddingModel names the model
// recorded for imported items awaiting reindexing.
type Options struct {
	Meta      *store.Store
	Vectors   *vector.Store
	BackupDir string
	FilesDir  string

	// ExcludePatterns are glob patterns for user files left out of
	// backups, matched against base names and relative paths.
	ExcludePatterns []string

	Cipher         *crypto.Cipher
	EmbeddingModel string

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Bus     *events.Bus
}

// NewManager wires a storage manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Manager{
		meta:      opts.Meta,
		vectors:   opts.Vectors,
		backupDir: opts.BackupDir,
		filesDir:  opts.FilesDir,
		exclude:   opts.ExcludePatterns,
		cipher:    opts.Cipher,
		model:     opts.EmbeddingModel,
		logger:    logger,
		metrics:   opts.Metrics,
		bus:       opts.Bus,
	}
}

// Stats summarizes what the stores hold and how much disk they use.
type Stats struct {
	Conversations    int64 `json:"conversations"`
	Messages         int64 `json:"messages"`
	MemoryItems      int64 `json:"memory_items"`
	Documents        int64 `json:"documents"`
	WebPages         int64 `json:"web_pages"`
	EmbeddingRecords int64 `json:"embedding_records"`
	Vectors          int64 `json:"vectors"`

	MetadataBytes int64 `json:"metadata_bytes"`
	VectorBytes   int64 `json:"vector_bytes"`
}

// Stats counts rows per entity and measures the store files on disk.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	var err error
	if st.Conversations, err = m.meta.CountConversations(ctx); err != nil {
		return nil, err
	}
	if st.Messages, err = m.meta.CountMessages(ctx, ""); err != nil {
		return nil, err
	}
	if st.MemoryItems, err = m.meta.CountMemoryItems(ctx, store.MemoryFilter{}); err != nil {
		return nil, err
	}
	if st.Documents, err = m.meta.CountDocuments(ctx); err != nil {
		return nil, err
	}
	if st.WebPages, err = m.meta.CountWebPages(ctx); err != nil {
		return nil, err
	}
	if st.EmbeddingRecords, err = m.meta.CountEmbeddingRecords(ctx); err != nil {
		return nil, err
	}
	if st.Vectors, err = m.vectors.Count(ctx, nil); err != nil {
		return nil, err
	}
	st.MetadataBytes = fileSize(m.meta.Path())
	st.VectorBytes = fileSize(m.vectors.Path())
	return st, nil
}

// Optimize compacts both stores.
func (m *Manager) Optimize(ctx context.Context) error {
	if err := m.meta.Optimize(ctx); err != nil {
		return err
	}
	return m.vectors.Optimize(ctx)
}

func fileSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
