package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/haasonsaas/recall/internal/store"
	"github.com/haasonsaas/recall/pkg/models"
)

const exportVersion = "1"

// exportPage is the batch size for paging through store listings.
const exportPage = 200

// Bundle is the portable export form: JSON per entity, grouped by type,
// ids preserved. Vectors are not exported; they are regenerated lazily
// after import.
type Bundle struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`

	Conversations    []*models.Conversation    `json:"conversations,omitempty"`
	Messages         []*models.Message         `json:"messages,omitempty"`
	MemoryItems      []*models.MemoryItem      `json:"memory_items,omitempty"`
	Documents        []*models.Document        `json:"documents,omitempty"`
	DocumentChunks   []*models.DocumentChunk   `json:"document_chunks,omitempty"`
	WebPages         []*models.WebPage         `json:"web_pages,omitempty"`
	WebContentChunks []*models.WebContentChunk `json:"web_content_chunks,omitempty"`
	Settings         *models.UserSettings      `json:"settings,omitempty"`
}

// ImportStats reports what an import inserted and skipped.
type ImportStats struct {
	Conversations    int `json:"conversations"`
	Messages         int `json:"messages"`
	MemoryItems      int `json:"memory_items"`
	Documents        int `json:"documents"`
	DocumentChunks   int `json:"document_chunks"`
	WebPages         int `json:"web_pages"`
	WebContentChunks int `json:"web_content_chunks"`
	Skipped          int `json:"skipped"`
}

// Export collects every entity into a bundle.
func (m *Manager) Export(ctx context.Context) (*Bundle, error) {
	b := &Bundle{Version: exportVersion, ExportedAt: time.Now().UTC()}

	for offset := 0; ; offset += exportPage {
		convs, err := m.meta.ListConversations(ctx, exportPage, offset)
		if err != nil {
			return nil, err
		}
		b.Conversations = append(b.Conversations, convs...)
		for _, conv := range convs {
			for msgOffset := 0; ; msgOffset += exportPage {
				msgs, err := m.meta.ListMessages(ctx, conv.ID, exportPage, msgOffset)
				if err != nil {
					return nil, err
				}
				b.Messages = append(b.Messages, msgs...)
				if len(msgs) < exportPage {
					break
				}
			}
		}
		if len(convs) < exportPage {
			break
		}
	}

	for offset := 0; ; offset += exportPage {
		items, err := m.meta.ListMemoryItems(ctx, store.MemoryFilter{}, exportPage, offset)
		if err != nil {
			return nil, err
		}
		b.MemoryItems = append(b.MemoryItems, items...)
		if len(items) < exportPage {
			break
		}
	}

	for offset := 0; ; offset += exportPage {
		docs, err := m.meta.ListDocuments(ctx, exportPage, offset)
		if err != nil {
			return nil, err
		}
		b.Documents = append(b.Documents, docs...)
		for _, doc := range docs {
			chunks, err := m.meta.ListDocumentChunks(ctx, doc.ID)
			if err != nil {
				return nil, err
			}
			b.DocumentChunks = append(b.DocumentChunks, chunks...)
		}
		if len(docs) < exportPage {
			break
		}
	}

	for offset := 0; ; offset += exportPage {
		pages, err := m.meta.ListWebPages(ctx, exportPage, offset)
		if err != nil {
			return nil, err
		}
		b.WebPages = append(b.WebPages, pages...)
		for _, page := range pages {
			chunks, err := m.meta.ListWebContentChunks(ctx, page.ID)
			if err != nil {
				return nil, err
			}
			b.WebContentChunks = append(b.WebContentChunks, chunks...)
		}
		if len(pages) < exportPage {
			break
		}
	}

	settings, err := m.meta.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	b.Settings = settings
	return b, nil
}

// ExportTo writes the bundle as indented JSON.
func (m *Manager) ExportTo(ctx context.Context, w io.Writer) error {
	b, err := m.Export(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// Import inserts a bundle's entities. In merge mode (replace=false) only
// ids not already present are inserted. In replace mode all existing rows
// are dropped first. Vectors are never imported: every imported memory
// item gets an unindexed embedding record and is re-embedded lazily by
// retrieval-time self-healing.
func (m *Manager) Import(ctx context.Context, b *Bundle, replace bool) (*ImportStats, error) {
	if b.Version != exportVersion {
		return nil, fmt.Errorf("unsupported export version %q", b.Version)
	}
	if replace {
		if err := m.wipe(ctx); err != nil {
			return nil, err
		}
	}

	stats := &ImportStats{}

	for _, conv := range b.Conversations {
		if !replace {
			if _, err := m.meta.GetConversation(ctx, conv.ID); err == nil {
				stats.Skipped++
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return stats, err
			}
		}
		if err := m.meta.CreateConversation(ctx, conv); err != nil {
			return stats, fmt.Errorf("import conversation %s: %w", conv.ID, err)
		}
		stats.Conversations++
	}
	for _, msg := range b.Messages {
		if !replace {
			if _, err := m.meta.GetMessage(ctx, msg.ID); err == nil {
				stats.Skipped++
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return stats, err
			}
		}
		if err := m.meta.CreateMessage(ctx, msg); err != nil {
			return stats, fmt.Errorf("import message %s: %w", msg.ID, err)
		}
		stats.Messages++
	}

	for _, item := range b.MemoryItems {
		if !replace {
			if _, err := m.meta.GetMemoryItem(ctx, item.ID); err == nil {
				stats.Skipped++
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return stats, err
			}
		}
		if err := m.meta.CreateMemoryItem(ctx, item); err != nil {
			return stats, fmt.Errorf("import memory item %s: %w", item.ID, err)
		}
		rec := &models.EmbeddingRecord{
			SourceType: models.SourceMemoryItem,
			SourceID:   item.ID,
			Model:      m.model,
			Indexed:    false,
		}
		if err := m.meta.UpsertEmbeddingRecord(ctx, rec); err != nil {
			return stats, err
		}
		stats.MemoryItems++
	}

	for _, doc := range b.Documents {
		if !replace {
			if _, err := m.meta.GetDocument(ctx, doc.ID); err == nil {
				stats.Skipped++
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return stats, err
			}
		}
		if err := m.meta.CreateDocument(ctx, doc); err != nil {
			return stats, fmt.Errorf("import document %s: %w", doc.ID, err)
		}
		stats.Documents++
	}
	var docChunks []*models.DocumentChunk
	for _, chunk := range b.DocumentChunks {
		if !replace {
			if _, err := m.meta.GetDocumentChunk(ctx, chunk.ID); err == nil {
				stats.Skipped++
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return stats, err
			}
		}
		docChunks = append(docChunks, chunk)
	}
	if err := m.meta.CreateDocumentChunks(ctx, docChunks); err != nil {
		return stats, fmt.Errorf("import document chunks: %w", err)
	}
	stats.DocumentChunks = len(docChunks)

	for _, page := range b.WebPages {
		if !replace {
			if _, err := m.meta.GetWebPage(ctx, page.ID); err == nil {
				stats.Skipped++
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return stats, err
			}
		}
		if err := m.meta.CreateWebPage(ctx, page); err != nil {
			return stats, fmt.Errorf("import web page %s: %w", page.ID, err)
		}
		stats.WebPages++
	}
	var webChunks []*models.WebContentChunk
	for _, chunk := range b.WebContentChunks {
		if !replace {
			if _, err := m.meta.GetWebContentChunk(ctx, chunk.ID); err == nil {
				stats.Skipped++
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return stats, err
			}
		}
		webChunks = append(webChunks, chunk)
	}
	if err := m.meta.CreateWebContentChunks(ctx, webChunks); err != nil {
		return stats, fmt.Errorf("import web content chunks: %w", err)
	}
	stats.WebContentChunks = len(webChunks)

	if b.Settings != nil {
		if _, err := m.meta.UpdateSettings(ctx, b.Settings); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// ImportFrom decodes a JSON bundle and imports it.
func (m *Manager) ImportFrom(ctx context.Context, r io.Reader, replace bool) (*ImportStats, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return m.Import(ctx, &b, replace)
}

// wipe drops every entity ahead of a replace-mode import. Memory item
// deletion removes the vector and embedding record too, so replace mode
// leaves no stale vectors behind.
func (m *Manager) wipe(ctx context.Context) error {
	for {
		convs, err := m.meta.ListConversations(ctx, exportPage, 0)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			break
		}
		for _, conv := range convs {
			if err := m.meta.DeleteConversation(ctx, conv.ID); err != nil {
				return err
			}
		}
	}
	for {
		items, err := m.meta.ListMemoryItems(ctx, store.MemoryFilter{}, exportPage, 0)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			commit, rollback, err := m.meta.DeleteMemoryItemTx(ctx, item.ID)
			if err != nil {
				return err
			}
			if err := m.vectors.Delete(ctx, item.ID); err != nil {
				rollback()
				return err
			}
			if err := commit(); err != nil {
				return err
			}
		}
	}
	for {
		docs, err := m.meta.ListDocuments(ctx, exportPage, 0)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			break
		}
		for _, doc := range docs {
			if err := m.meta.DeleteDocument(ctx, doc.ID); err != nil {
				return err
			}
		}
	}
	for {
		pages, err := m.meta.ListWebPages(ctx, exportPage, 0)
		if err != nil {
			return err
		}
		if len(pages) == 0 {
			break
		}
		for _, page := range pages {
			if err := m.meta.DeleteWebPage(ctx, page.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
