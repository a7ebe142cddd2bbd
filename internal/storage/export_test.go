package storage

import (
	"bytes"
	"context"
	"testing"

	"github.com/haasonsaas/recall/internal/store"
	"github.com/haasonsaas/recall/internal/vector"
	"github.com/haasonsaas/recall/pkg/models"
)

func seedEntities(t *testing.T, meta *store.Store) (convID, itemID, docID string) {
	t.Helper()
	ctx := context.Background()

	conv := &models.Conversation{Title: "travel plans"}
	if err := meta.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("conversation: %v", err)
	}
	for _, content := range []string{"where should I go", "somewhere warm"} {
		msg := &models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: content}
		if err := meta.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("message: %v", err)
		}
	}

	item := &models.MemoryItem{Content: "prefers warm climates", Category: models.CategoryUserDefined}
	if err := meta.CreateMemoryItem(ctx, item); err != nil {
		t.Fatalf("memory: %v", err)
	}

	doc := &models.Document{Filename: "itinerary.pdf", FileType: "pdf"}
	if err := meta.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("document: %v", err)
	}
	chunks := []*models.DocumentChunk{
		{DocumentID: doc.ID, ChunkIndex: 0, Content: "day one"},
		{DocumentID: doc.ID, ChunkIndex: 1, Content: "day two"},
	}
	if err := meta.CreateDocumentChunks(ctx, chunks); err != nil {
		t.Fatalf("chunks: %v", err)
	}

	page := &models.WebPage{URL: "https://example.com/guide", Title: "guide"}
	if err := meta.CreateWebPage(ctx, page); err != nil {
		t.Fatalf("web page: %v", err)
	}
	webChunks := []*models.WebContentChunk{{WebPageID: page.ID, ChunkIndex: 0, Content: "pack light"}}
	if err := meta.CreateWebContentChunks(ctx, webChunks); err != nil {
		t.Fatalf("web chunks: %v", err)
	}

	return conv.ID, item.ID, doc.ID
}

func TestExportImportReproducesEntities(t *testing.T) {
	src, srcMeta, _ := newTestManager(t, nil)
	convID, itemID, docID := seedEntities(t, srcMeta)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := src.ExportTo(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, dstMeta, _ := newTestManager(t, nil)
	stats, err := dst.ImportFrom(ctx, &buf, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Conversations != 1 || stats.Messages != 2 || stats.MemoryItems != 1 ||
		stats.Documents != 1 || stats.DocumentChunks != 2 ||
		stats.WebPages != 1 || stats.WebContentChunks != 1 {
		t.Errorf("stats = %+v", stats)
	}

	conv, err := dstMeta.GetConversation(ctx, convID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if conv.Title != "travel plans" {
		t.Errorf("title = %q", conv.Title)
	}
	msgs, err := dstMeta.ListMessages(ctx, convID, 0, 0)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("messages = %d (%v)", len(msgs), err)
	}
	item, err := dstMeta.GetMemoryItem(ctx, itemID)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if item.Content != "prefers warm climates" {
		t.Errorf("content = %q", item.Content)
	}
	chunks, err := dstMeta.ListDocumentChunks(ctx, docID)
	if err != nil || len(chunks) != 2 {
		t.Fatalf("chunks = %d (%v)", len(chunks), err)
	}
}

func TestImportedMemoriesAwaitReindexing(t *testing.T) {
	src, srcMeta, _ := newTestManager(t, nil)
	_, itemID, _ := seedEntities(t, srcMeta)
	ctx := context.Background()

	bundle, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, dstMeta, _ := newTestManager(t, func(o *Options) { o.EmbeddingModel = "test-embed" })
	if _, err := dst.Import(ctx, bundle, false); err != nil {
		t.Fatalf("import: %v", err)
	}

	rec, err := dstMeta.GetEmbeddingRecord(ctx, models.SourceMemoryItem, itemID)
	if err != nil {
		t.Fatalf("embedding record: %v", err)
	}
	if rec.Indexed {
		t.Error("imported item must start unindexed")
	}
	if rec.Model != "test-embed" {
		t.Errorf("model = %q", rec.Model)
	}
}

func TestImportMergeSkipsExisting(t *testing.T) {
	src, srcMeta, _ := newTestManager(t, nil)
	seedEntities(t, srcMeta)
	ctx := context.Background()

	bundle, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// Importing into the source itself should insert nothing.
	stats, err := src.Import(ctx, bundle, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Conversations != 0 || stats.Messages != 0 || stats.MemoryItems != 0 ||
		stats.Documents != 0 || stats.DocumentChunks != 0 ||
		stats.WebPages != 0 || stats.WebContentChunks != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Skipped == 0 {
		t.Error("expected skips")
	}

	n, err := srcMeta.CountMemoryItems(ctx, store.MemoryFilter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("memory items = %d, want 1", n)
	}
}

func TestImportReplaceDropsExisting(t *testing.T) {
	src, srcMeta, _ := newTestManager(t, nil)
	seedEntities(t, srcMeta)
	ctx := context.Background()

	bundle, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, dstMeta, dstVectors := newTestManager(t, nil)
	// Pre-existing data that replace mode must remove.
	stale := &models.MemoryItem{Content: "stale fact", Category: models.CategoryUserDefined}
	if err := dstMeta.CreateMemoryItem(ctx, stale); err != nil {
		t.Fatalf("stale item: %v", err)
	}
	if err := dstVectors.Add(ctx, &vector.Record{ID: stale.ID, Content: stale.Content, Embedding: []float32{0, 1}}); err != nil {
		t.Fatalf("stale vector: %v", err)
	}

	if _, err := dst.Import(ctx, bundle, true); err != nil {
		t.Fatalf("import: %v", err)
	}

	if _, err := dstMeta.GetMemoryItem(ctx, stale.ID); err == nil {
		t.Error("stale item survived replace import")
	}
	if _, err := dstVectors.Get(ctx, stale.ID); err == nil {
		t.Error("stale vector survived replace import")
	}
	n, err := dstMeta.CountMemoryItems(ctx, store.MemoryFilter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("memory items = %d, want 1", n)
	}
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	dst, _, _ := newTestManager(t, nil)
	if _, err := dst.Import(context.Background(), &Bundle{Version: "99"}, false); err == nil {
		t.Fatal("expected version error")
	}
}
