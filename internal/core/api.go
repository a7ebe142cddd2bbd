package core

import (
	"context"
	"io"

	"github.com/haasonsaas/recall/internal/agent"
	"github.com/haasonsaas/recall/internal/memory"
	"github.com/haasonsaas/recall/internal/storage"
	"github.com/haasonsaas/recall/internal/store"
	"github.com/haasonsaas/recall/pkg/models"
)

// Chat runs one user turn through the orchestrator.
func (c *Core) Chat(ctx context.Context, message, conversationID string) (*agent.Reply, error) {
	ctx, cancel := c.llmCtx(ctx)
	defer cancel()
	return c.orchestrator.ProcessMessage(ctx, message, conversationID)
}

// SummarizeConversation generates and persists a conversation summary.
func (c *Core) SummarizeConversation(ctx context.Context, conversationID string) (string, error) {
	ctx, cancel := c.llmCtx(ctx)
	defer cancel()
	return c.orchestrator.Summarize(ctx, conversationID)
}

// CreateConversation persists a new conversation.
func (c *Core) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.meta.CreateConversation(ctx, conv)
}

// UpdateConversation rewrites a conversation's title, summary, and metadata.
func (c *Core) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.meta.UpdateConversation(ctx, conv)
}

// Conversations lists conversations, most recently active first.
func (c *Core) Conversations(ctx context.Context, limit, offset int) ([]*models.Conversation, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.meta.ListConversations(ctx, limit, offset)
}

// Conversation returns one conversation by id.
func (c *Core) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.meta.GetConversation(ctx, id)
}

// DeleteConversation removes a conversation and its messages.
func (c *Core) DeleteConversation(ctx context.Context, id string) error {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.meta.DeleteConversation(ctx, id)
}

// Messages lists a conversation's messages in order.
func (c *Core) Messages(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.meta.ListMessages(ctx, conversationID, limit, offset)
}

// StoreMemory persists one memory and indexes it.
func (c *Core) StoreMemory(ctx context.Context, in memory.StoreInput) (*models.MemoryItem, error) {
	ctx, cancel := c.llmCtx(ctx)
	defer cancel()
	return c.memories.Store(ctx, in)
}

// StoreMemories persists a batch in input order.
func (c *Core) StoreMemories(ctx context.Context, inputs []memory.StoreInput) ([]*models.MemoryItem, error) {
	ctx, cancel := c.llmCtx(ctx)
	defer cancel()
	return c.memories.StoreBatch(ctx, inputs)
}

// RetrieveContext runs ranked retrieval for a query.
func (c *Core) RetrieveContext(ctx context.Context, query string, opts memory.RetrieveOptions) (*memory.RetrievedContext, error) {
	ctx, cancel := c.llmCtx(ctx)
	defer cancel()
	return c.memories.RetrieveContext(ctx, query, opts)
}

// SearchMemories runs similarity-only search.
func (c *Core) SearchMemories(ctx context.Context, query string, limit int, filters map[string]any) ([]*models.ScoredMemory, error) {
	ctx, cancel := c.llmCtx(ctx)
	defer cancel()
	return c.memories.Search(ctx, query, limit, filters)
}

// Memory returns one memory item by id.
func (c *Core) Memory(ctx context.Context, id string) (*models.MemoryItem, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.memories.Get(ctx, id)
}

// UpdateMemory rewrites fields of a memory, re-embedding on content change.
func (c *Core) UpdateMemory(ctx context.Context, id string, in memory.UpdateInput) (*models.MemoryItem, error) {
	ctx, cancel := c.llmCtx(ctx)
	defer cancel()
	return c.memories.Update(ctx, id, in)
}

// DeleteMemory removes a memory from both stores.
func (c *Core) DeleteMemory(ctx context.Context, id string) error {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.memories.Delete(ctx, id)
}

// MarkImportant raises a memory's importance. It never lowers it.
func (c *Core) MarkImportant(ctx context.Context, id string, level int) error {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.memories.MarkImportant(ctx, id, level)
}

// MemoriesByCategory lists memories in a category, newest first.
func (c *Core) MemoriesByCategory(ctx context.Context, category models.Category, limit int) ([]*models.MemoryItem, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.memories.GetByCategory(ctx, category, limit)
}

// MemoriesBySource lists memories linked to a source entity.
func (c *Core) MemoriesBySource(ctx context.Context, sourceType models.SourceType, sourceID string) ([]*models.MemoryItem, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.memories.GetBySource(ctx, sourceType, sourceID)
}

// MemoriesByImportance lists memories at or above an importance level.
func (c *Core) MemoriesByImportance(ctx context.Context, min, limit int) ([]*models.MemoryItem, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.memories.GetByImportance(ctx, min, limit)
}

// RecentMemories lists the newest memories.
func (c *Core) RecentMemories(ctx context.Context, limit int) ([]*models.MemoryItem, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.memories.Recent(ctx, limit)
}

// CountMemories counts memories matching a filter.
func (c *Core) CountMemories(ctx context.Context, f store.MemoryFilter) (int64, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.memories.Count(ctx, f)
}

// CountMemoriesByCategory returns per-category totals.
func (c *Core) CountMemoriesByCategory(ctx context.Context) (map[models.Category]int64, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.memories.CountByCategory(ctx)
}

// Settings returns the user settings singleton.
func (c *Core) Settings(ctx context.Context) (*models.UserSettings, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.meta.GetSettings(ctx)
}

// UpdateSettings merges non-nil setting groups into the singleton.
func (c *Core) UpdateSettings(ctx context.Context, patch *models.UserSettings) (*models.UserSettings, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.meta.UpdateSettings(ctx, patch)
}

// Backup and maintenance operations run without a deadline; snapshots of
// large stores take as long as they take.

// CreateBackup snapshots the stores into a new artifact.
func (c *Core) CreateBackup(ctx context.Context, opts storage.BackupOptions) (*storage.BackupInfo, error) {
	return c.storage.CreateBackup(ctx, opts)
}

// RestoreBackup swaps the live stores for a backup's contents.
func (c *Core) RestoreBackup(ctx context.Context, name string) error {
	return c.storage.RestoreBackup(ctx, name)
}

// ListBackups lists artifacts, newest first.
func (c *Core) ListBackups(ctx context.Context) ([]*storage.BackupInfo, error) {
	return c.storage.ListBackups(ctx)
}

// DeleteBackup removes one artifact.
func (c *Core) DeleteBackup(ctx context.Context, name string) error {
	return c.storage.DeleteBackup(ctx, name)
}

// CleanupBackups applies the configured retention policy.
func (c *Core) CleanupBackups(ctx context.Context) (int, error) {
	return c.storage.CleanupOldBackups(ctx, c.cfg.Storage.MaxBackups, c.cfg.Storage.MaxBackupAge)
}

// Export writes the portable JSON bundle.
func (c *Core) Export(ctx context.Context, w io.Writer) error {
	return c.storage.ExportTo(ctx, w)
}

// Import reads a bundle. Replace mode drops existing rows first.
func (c *Core) Import(ctx context.Context, r io.Reader, replace bool) (*storage.ImportStats, error) {
	return c.storage.ImportFrom(ctx, r, replace)
}

// Stats reports row counts and on-disk sizes.
func (c *Core) Stats(ctx context.Context) (*storage.Stats, error) {
	return c.storage.Stats(ctx)
}

// Optimize compacts both stores.
func (c *Core) Optimize(ctx context.Context) error {
	return c.storage.Optimize(ctx)
}
