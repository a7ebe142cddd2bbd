package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/recall/internal/crypto"
	"github.com/haasonsaas/recall/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := &models.Conversation{Title: "first"}
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.ID == "" {
		t.Fatal("expected assigned id")
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "first" {
		t.Errorf("title = %q, want %q", got.Title, "first")
	}

	got.Title = "renamed"
	got.Summary = "a summary"
	if err := s.UpdateConversation(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if again.Title != "renamed" || again.Summary != "a summary" {
		t.Errorf("update not persisted: %+v", again)
	}
	if !again.UpdatedAt.After(again.CreatedAt) && !again.UpdatedAt.Equal(again.CreatedAt) {
		t.Errorf("updated_at %v before created_at %v", again.UpdatedAt, again.CreatedAt)
	}

	if err := s.DeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetConversation(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get deleted = %v, want ErrNotFound", err)
	}
}

func TestDeleteConversationCascadesMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := &models.Conversation{Title: "doomed"}
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	for i := 0; i < 3; i++ {
		m := &models.Message{ConversationID: c.ID, Role: models.RoleUser, Content: "hello"}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	if err := s.DeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, err := s.CountMessages(ctx, c.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("messages after cascade = %d, want 0", n)
	}
}

func TestMessageOrderingAndTouch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := &models.Conversation{Title: "chat"}
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	before, _ := s.GetConversation(ctx, c.ID)

	base := time.Now().UTC().Truncate(time.Microsecond)
	contents := []string{"one", "two", "three"}
	for i, text := range contents {
		m := &models.Message{
			ConversationID: c.ID,
			Role:           models.RoleUser,
			Content:        text,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
	}

	msgs, err := s.ListMessages(ctx, c.ID, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	for i, want := range contents {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}

	after, _ := s.GetConversation(ctx, c.ID)
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("message insert did not touch conversation: %v <= %v", after.UpdatedAt, before.UpdatedAt)
	}
}

func TestMessageRejectsInvalidRole(t *testing.T) {
	s := openTestStore(t)
	c := &models.Conversation{}
	if err := s.CreateConversation(context.Background(), c); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	m := &models.Message{ConversationID: c.ID, Role: "robot", Content: "hi"}
	if err := s.CreateMessage(context.Background(), m); !errors.Is(err, ErrConstraint) {
		t.Errorf("err = %v, want ErrConstraint", err)
	}
}

func TestSealedContentRoundTrip(t *testing.T) {
	key, err := crypto.NewKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	path := filepath.Join(t.TempDir(), "sealed.db")
	s, err := Open(Options{Path: path, Cipher: cipher})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	item := &models.MemoryItem{Content: "secret fact", Category: models.CategoryImportant, Importance: 5}
	if err := s.CreateMemoryItem(ctx, item); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetMemoryItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "secret fact" {
		t.Errorf("content = %q, want plaintext round trip", got.Content)
	}

	// The column itself must hold ciphertext, not plaintext.
	var raw string
	if err := s.db.QueryRow("SELECT content FROM memory_items WHERE id = ?", item.ID).Scan(&raw); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if !crypto.IsSealed(raw) {
		t.Errorf("stored content is not sealed: %q", raw)
	}
}

func TestMemoryItemFiltersAndCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	seed := []struct {
		category   models.Category
		importance int
	}{
		{models.CategoryConversation, 1},
		{models.CategoryConversation, 3},
		{models.CategoryImportant, 5},
		{models.CategoryDocument, 2},
	}
	for i, sd := range seed {
		item := &models.MemoryItem{
			Content:    "memory",
			Category:   sd.category,
			Importance: sd.importance,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateMemoryItem(ctx, item); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	byCat, err := s.ListMemoryItems(ctx, MemoryFilter{Categories: []models.Category{models.CategoryConversation}}, 0, 0)
	if err != nil {
		t.Fatalf("list by category: %v", err)
	}
	if len(byCat) != 2 {
		t.Errorf("conversation items = %d, want 2", len(byCat))
	}

	important, err := s.ListMemoryItems(ctx, MemoryFilter{MinImportance: 3}, 0, 0)
	if err != nil {
		t.Fatalf("list by importance: %v", err)
	}
	if len(important) != 2 {
		t.Errorf("importance>=3 items = %d, want 2", len(important))
	}

	all, err := s.ListMemoryItems(ctx, MemoryFilter{}, 0, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Errorf("items not newest first at %d", i)
		}
	}

	counts, err := s.CountMemoryByCategory(ctx)
	if err != nil {
		t.Fatalf("count by category: %v", err)
	}
	if counts[models.CategoryConversation] != 2 || counts[models.CategoryImportant] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestSetMemoryImportanceBounds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := &models.MemoryItem{Content: "x", Category: models.CategoryConversation}
	if err := s.CreateMemoryItem(ctx, item); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetMemoryImportance(ctx, item.ID, 6); !errors.Is(err, ErrConstraint) {
		t.Errorf("out of range err = %v, want ErrConstraint", err)
	}
	if err := s.SetMemoryImportance(ctx, item.ID, 4); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, _ := s.GetMemoryItem(ctx, item.ID)
	if got.Importance != 4 {
		t.Errorf("importance = %d, want 4", got.Importance)
	}
}

func TestDeleteMemoryItemTxRemovesEmbeddingRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item := &models.MemoryItem{Content: "x", Category: models.CategoryConversation}
	if err := s.CreateMemoryItem(ctx, item); err != nil {
		t.Fatalf("create item: %v", err)
	}
	rec := &models.EmbeddingRecord{SourceType: models.SourceMemoryItem, SourceID: item.ID, Model: "test", Indexed: true}
	if err := s.UpsertEmbeddingRecord(ctx, rec); err != nil {
		t.Fatalf("upsert record: %v", err)
	}

	commit, _, err := s.DeleteMemoryItemTx(ctx, item.ID)
	if err != nil {
		t.Fatalf("delete tx: %v", err)
	}
	if err := commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := s.GetMemoryItem(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("item err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetEmbeddingRecord(ctx, models.SourceMemoryItem, item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("record err = %v, want ErrNotFound", err)
	}
}

func TestDeleteMemoryItemTxRollback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item := &models.MemoryItem{Content: "x", Category: models.CategoryConversation}
	if err := s.CreateMemoryItem(ctx, item); err != nil {
		t.Fatalf("create item: %v", err)
	}
	_, rollback, err := s.DeleteMemoryItemTx(ctx, item.ID)
	if err != nil {
		t.Fatalf("delete tx: %v", err)
	}
	if err := rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err := s.GetMemoryItem(ctx, item.ID); err != nil {
		t.Errorf("item gone after rollback: %v", err)
	}
}

func TestEmbeddingRecordUpsertAndUnindexed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &models.EmbeddingRecord{SourceType: models.SourceMemoryItem, SourceID: "m1", Model: "small"}
	if err := s.UpsertEmbeddingRecord(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Second upsert for the same source must replace, not duplicate.
	rec2 := &models.EmbeddingRecord{SourceType: models.SourceMemoryItem, SourceID: "m1", Model: "large", Indexed: true}
	if err := s.UpsertEmbeddingRecord(ctx, rec2); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	n, err := s.CountEmbeddingRecords(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("records = %d, want 1", n)
	}
	got, err := s.GetEmbeddingRecord(ctx, models.SourceMemoryItem, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Model != "large" || !got.Indexed {
		t.Errorf("record = %+v, want model large indexed", got)
	}

	if err := s.MarkIndexed(ctx, models.SourceMemoryItem, "m1", false); err != nil {
		t.Fatalf("mark: %v", err)
	}
	pending, err := s.ListUnindexed(ctx, 10)
	if err != nil {
		t.Fatalf("list unindexed: %v", err)
	}
	if len(pending) != 1 || pending[0].SourceID != "m1" {
		t.Errorf("unindexed = %+v, want m1", pending)
	}
}

func TestDocumentChunksUniqueIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := &models.Document{Filename: "notes.pdf", FileType: "pdf"}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create doc: %v", err)
	}
	chunks := []*models.DocumentChunk{
		{DocumentID: doc.ID, ChunkIndex: 0, Content: "alpha", PageNumber: 1},
		{DocumentID: doc.ID, ChunkIndex: 1, Content: "beta", PageNumber: 2},
	}
	if err := s.CreateDocumentChunks(ctx, chunks); err != nil {
		t.Fatalf("create chunks: %v", err)
	}
	dup := []*models.DocumentChunk{{DocumentID: doc.ID, ChunkIndex: 1, Content: "again"}}
	if err := s.CreateDocumentChunks(ctx, dup); err == nil {
		t.Error("expected duplicate chunk_index to fail")
	}

	listed, err := s.ListDocumentChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].Content != "alpha" || listed[1].Content != "beta" {
		t.Errorf("chunks = %+v", listed)
	}

	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete doc: %v", err)
	}
	listed, err = s.ListDocumentChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("chunks after cascade = %d, want 0", len(listed))
	}
}

func TestWebPageChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	page := &models.WebPage{URL: "https://example.com/post", Title: "Post"}
	if err := s.CreateWebPage(ctx, page); err != nil {
		t.Fatalf("create page: %v", err)
	}
	chunks := []*models.WebContentChunk{
		{WebPageID: page.ID, ChunkIndex: 0, Content: "intro"},
		{WebPageID: page.ID, ChunkIndex: 1, Content: "body"},
	}
	if err := s.CreateWebContentChunks(ctx, chunks); err != nil {
		t.Fatalf("create chunks: %v", err)
	}
	listed, err := s.ListWebContentChunks(ctx, page.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].Content != "intro" {
		t.Errorf("chunks = %+v", listed)
	}
}

func TestSettingsSingletonMerge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.ID != "default" {
		t.Errorf("id = %q, want default", first.ID)
	}

	_, err = s.UpdateSettings(ctx, &models.UserSettings{Personality: map[string]any{"style": "casual"}})
	if err != nil {
		t.Fatalf("update personality: %v", err)
	}
	updated, err := s.UpdateSettings(ctx, &models.UserSettings{LLM: map[string]any{"primary": "gpt"}})
	if err != nil {
		t.Fatalf("update llm: %v", err)
	}
	if updated.Personality["style"] != "casual" {
		t.Errorf("personality lost on merge: %v", updated.Personality)
	}
	if updated.LLM["primary"] != "gpt" {
		t.Errorf("llm not stored: %v", updated.LLM)
	}
}

func TestSaltPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "salt.db")
	s, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	first, err := s.Salt(ctx, crypto.NewSalt)
	if err != nil {
		t.Fatalf("first salt: %v", err)
	}
	s.Close()

	s2, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	second, err := s2.Salt(ctx, crypto.NewSalt)
	if err != nil {
		t.Fatalf("second salt: %v", err)
	}
	if string(first) != string(second) {
		t.Error("salt changed across reopen")
	}
}

func TestBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Path: filepath.Join(dir, "live.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	item := &models.MemoryItem{Content: "keep me", Category: models.CategoryImportant, Importance: 5}
	if err := s.CreateMemoryItem(ctx, item); err != nil {
		t.Fatalf("create: %v", err)
	}

	snap := filepath.Join(dir, "snap.db")
	if err := s.Backup(ctx, snap); err != nil {
		t.Fatalf("backup: %v", err)
	}

	// Mutate after the snapshot, then restore and expect the mutation gone.
	extra := &models.MemoryItem{Content: "lose me", Category: models.CategoryConversation}
	if err := s.CreateMemoryItem(ctx, extra); err != nil {
		t.Fatalf("create extra: %v", err)
	}
	if err := s.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	n, err := s.CountMemoryItems(ctx, MemoryFilter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("items after restore = %d, want 1", n)
	}
	got, err := s.GetMemoryItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if got.Content != "keep me" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestUnsealedLegacyRowsStayReadable(t *testing.T) {
	key, _ := crypto.NewKey()
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "mixed.db"), Cipher: cipher})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	// Simulate a row written before encryption was enabled.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_items (id, content, category, importance, metadata, created_at)
		 VALUES ('legacy', 'plain fact', 'conversation', 1, '{}', ?)`, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert legacy: %v", err)
	}
	got, err := s.GetMemoryItem(ctx, "legacy")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "plain fact" {
		t.Errorf("content = %q, want plain passthrough", got.Content)
	}
}
