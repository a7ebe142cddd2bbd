package agent

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/recall/internal/events"
	"github.com/haasonsaas/recall/internal/llm"
	"github.com/haasonsaas/recall/internal/memory"
	"github.com/haasonsaas/recall/internal/observability"
	"github.com/haasonsaas/recall/internal/prompt"
	"github.com/haasonsaas/recall/internal/store"
	"github.com/haasonsaas/recall/internal/vector"
	"github.com/haasonsaas/recall/pkg/models"
)

type fakeGenerator struct {
	reply    string
	requests []*llm.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req *llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.reply, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	// Crude but deterministic: vector from the first bytes of the text.
	vec := make([]float32, 4)
	for i := 0; i < len(text) && i < 4; i++ {
		vec[i] = float32(text[i])
	}
	return vec, nil
}

func newTestOrchestrator(t *testing.T, gen Generator) (*Orchestrator, *store.Store, *memory.Service) {
	t.Helper()
	dir := t.TempDir()
	meta, err := store.Open(store.Options{Path: filepath.Join(dir, "meta.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	vectors, err := vector.Open(vector.Options{Path: filepath.Join(dir, "vectors.db")})
	if err != nil {
		t.Fatalf("open vectors: %v", err)
	}
	t.Cleanup(func() { vectors.Close() })

	memories := memory.NewService(meta, vectors, fakeEmbedder{}, memory.Options{
		Logger: observability.NopLogger(),
	})
	o := NewOrchestrator(Options{
		Store:     meta,
		Memories:  memories,
		Router:    gen,
		Assembler: prompt.New(prompt.Config{}, 8192, nil),
		Logger:    observability.NopLogger(),
		Bus:       events.NewBus(0, observability.NopLogger()),
	})
	return o, meta, memories
}

func TestProcessMessageAllocatesConversation(t *testing.T) {
	gen := &fakeGenerator{reply: "hello there"}
	o, meta, _ := newTestOrchestrator(t, gen)
	ctx := context.Background()

	reply, err := o.ProcessMessage(ctx, "hi, I am new here", "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply.Response != "hello there" {
		t.Errorf("response = %q", reply.Response)
	}
	if reply.ConversationID == "" {
		t.Fatal("no conversation id")
	}

	conv, err := meta.GetConversation(ctx, reply.ConversationID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if conv.Title == "" {
		t.Error("expected auto title")
	}
}

func TestProcessMessagePersistsBothTurns(t *testing.T) {
	gen := &fakeGenerator{reply: "the answer"}
	o, meta, _ := newTestOrchestrator(t, gen)
	ctx := context.Background()

	reply, err := o.ProcessMessage(ctx, "a question", "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	msgs, err := meta.ListMessages(ctx, reply.ConversationID, 0, 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "a question" {
		t.Errorf("first = %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "the answer" {
		t.Errorf("second = %+v", msgs[1])
	}

	// Each message carries a conversation-category memory item linked to it.
	for _, msg := range msgs {
		items, err := meta.ListMemoryItems(ctx, store.MemoryFilter{
			SourceType: models.SourceMessage,
			SourceID:   msg.ID,
		}, 0, 0)
		if err != nil {
			t.Fatalf("memory items: %v", err)
		}
		if len(items) != 1 {
			t.Fatalf("items for %s = %d, want 1", msg.ID, len(items))
		}
		item := items[0]
		if item.Category != models.CategoryConversation {
			t.Errorf("category = %s", item.Category)
		}
		if item.Metadata["conversation_id"] != reply.ConversationID {
			t.Errorf("metadata = %v", item.Metadata)
		}
		if item.Metadata["role"] != string(msg.Role) {
			t.Errorf("role metadata = %v", item.Metadata["role"])
		}
	}
}

func TestProcessMessageContinuesConversation(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	o, meta, _ := newTestOrchestrator(t, gen)
	ctx := context.Background()

	first, err := o.ProcessMessage(ctx, "turn one", "")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := o.ProcessMessage(ctx, "turn two", first.ConversationID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Error("conversation id changed")
	}

	n, err := meta.CountMessages(ctx, first.ConversationID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 4 {
		t.Errorf("messages = %d, want 4", n)
	}

	// The second request must carry the first exchange as history.
	last := gen.requests[len(gen.requests)-1]
	foundHistory := false
	for _, m := range last.Messages {
		if m.Content == "turn one" {
			foundHistory = true
		}
	}
	if !foundHistory {
		t.Error("history not included in second request")
	}
}

func TestProcessMessageUnknownConversation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakeGenerator{reply: "x"})
	if _, err := o.ProcessMessage(context.Background(), "hi", "no-such-id"); err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}

func TestProcessMessageRejectsEmpty(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakeGenerator{})
	if _, err := o.ProcessMessage(context.Background(), "   ", ""); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestSummarize(t *testing.T) {
	gen := &fakeGenerator{reply: "They talked about dogs."}
	o, meta, _ := newTestOrchestrator(t, gen)
	ctx := context.Background()

	reply, err := o.ProcessMessage(ctx, "tell me about dogs", "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	summary, err := o.Summarize(ctx, reply.ConversationID)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary != "They talked about dogs." {
		t.Errorf("summary = %q", summary)
	}
	conv, _ := meta.GetConversation(ctx, reply.ConversationID)
	if conv.Summary != summary {
		t.Error("summary not persisted")
	}
}

func TestAutoTitle(t *testing.T) {
	if got := autoTitle("short question"); got != "short question" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("word ", 30)
	got := autoTitle(long)
	if len(got) > 70 {
		t.Errorf("title too long: %d", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("long title must be elided")
	}
	if got := autoTitle("line one\nline two"); got != "line one" {
		t.Errorf("got %q", got)
	}
}
