package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/recall/internal/events"
	"github.com/haasonsaas/recall/internal/observability"
)

type fakeModel struct {
	name       string
	embeddings bool

	reply    string
	genErr   error
	genCalls int

	vec       []float32
	embedErr  error
	embedRuns int

	// failUntil makes the first N calls fail, then succeed.
	failUntil int
}

func (f *fakeModel) Generate(ctx context.Context, req *Request) (string, error) {
	f.genCalls++
	if f.failUntil > 0 && f.genCalls <= f.failUntil {
		return "", f.genErr
	}
	if f.failUntil == 0 && f.genErr != nil {
		return "", f.genErr
	}
	return f.reply, nil
}

func (f *fakeModel) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embedRuns++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.vec, nil
}

func (f *fakeModel) CountTokens(text string) int { return len(text) / 4 }
func (f *fakeModel) MaxTokens() int              { return 8192 }
func (f *fakeModel) Available(ctx context.Context) bool {
	return true
}
func (f *fakeModel) Info() Info {
	return Info{Provider: "fake", Model: f.name, SupportsEmbeddings: f.embeddings}
}

func newTestRouter(t *testing.T, primary, fallback Model) *Router {
	t.Helper()
	r, err := NewRouter(RouterOptions{
		Primary:    primary,
		Fallback:   fallback,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		Logger:     observability.NopLogger(),
		Metrics:    observability.NewMetrics(nil),
		Bus:        events.NewBus(0, observability.NopLogger()),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return r
}

func TestGeneratePrimarySucceeds(t *testing.T) {
	primary := &fakeModel{name: "p", reply: "hello"}
	r := newTestRouter(t, primary, nil)

	out, err := r.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "hello" {
		t.Errorf("out = %q, want hello", out)
	}
	if primary.genCalls != 1 {
		t.Errorf("calls = %d, want 1", primary.genCalls)
	}
}

func TestGenerateRetriesTransientError(t *testing.T) {
	primary := &fakeModel{
		name:      "p",
		reply:     "eventually",
		failUntil: 2,
		genErr:    &Error{Reason: FailServerError, Provider: "fake", Model: "p"},
	}
	r := newTestRouter(t, primary, nil)

	out, err := r.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "eventually" {
		t.Errorf("out = %q", out)
	}
	if primary.genCalls != 3 {
		t.Errorf("calls = %d, want 3", primary.genCalls)
	}
}

func TestGenerateFailsOverToFallback(t *testing.T) {
	primary := &fakeModel{
		name:   "p",
		genErr: &Error{Reason: FailAuth, Provider: "fake", Model: "p"},
	}
	fallback := &fakeModel{name: "f", reply: "from fallback"}
	r := newTestRouter(t, primary, fallback)

	out, err := r.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "from fallback" {
		t.Errorf("out = %q, want fallback reply", out)
	}
	// Auth errors are not retryable, so the primary is tried once.
	if primary.genCalls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.genCalls)
	}
}

func TestGenerateInvalidRequestDoesNotFailOver(t *testing.T) {
	primary := &fakeModel{
		name:   "p",
		genErr: &Error{Reason: FailInvalidRequest, Provider: "fake", Model: "p"},
	}
	fallback := &fakeModel{name: "f", reply: "should not run"}
	r := newTestRouter(t, primary, fallback)

	out, err := r.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != Apology {
		t.Errorf("out = %q, want apology", out)
	}
	if fallback.genCalls != 0 {
		t.Errorf("fallback calls = %d, want 0", fallback.genCalls)
	}
}

func TestGenerateTotalFailureReturnsApology(t *testing.T) {
	primary := &fakeModel{name: "p", genErr: &Error{Reason: FailUnavailable}}
	fallback := &fakeModel{name: "f", genErr: &Error{Reason: FailUnavailable}}
	bus := events.NewBus(0, observability.NopLogger())

	var published []events.Event
	bus.Subscribe(events.TopicLLMError, func(ctx context.Context, ev events.Event) {
		published = append(published, ev)
	})

	r, err := NewRouter(RouterOptions{
		Primary: primary, Fallback: fallback,
		MaxRetries: 1, Backoff: time.Millisecond,
		Logger: observability.NopLogger(), Bus: bus,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	out, err := r.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != Apology {
		t.Errorf("out = %q, want apology", out)
	}
	// One event per exhausted model.
	if len(published) != 2 {
		t.Errorf("llm error events = %d, want 2", len(published))
	}
}

func TestGenerateFailoverStillReportsPrimaryError(t *testing.T) {
	primary := &fakeModel{
		name:   "p",
		genErr: &Error{Reason: FailRateLimit, Provider: "fake", Model: "p"},
	}
	fallback := &fakeModel{name: "f", reply: "OK"}
	bus := events.NewBus(0, observability.NopLogger())

	var published []events.Event
	bus.Subscribe(events.TopicLLMError, func(ctx context.Context, ev events.Event) {
		published = append(published, ev)
	})

	r, err := NewRouter(RouterOptions{
		Primary: primary, Fallback: fallback,
		MaxRetries: 1, Backoff: time.Millisecond,
		Logger: observability.NopLogger(), Bus: bus,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	out, err := r.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "OK" {
		t.Errorf("out = %q, want fallback reply", out)
	}
	if len(published) != 1 {
		t.Fatalf("llm error events = %d, want 1", len(published))
	}
	if got := published[0].Payload["reason"]; got != string(FailRateLimit) {
		t.Errorf("reason = %v, want %s", got, FailRateLimit)
	}
}

func TestEmbedSkipsNonEmbeddingModels(t *testing.T) {
	primary := &fakeModel{name: "p", embeddings: false}
	fallback := &fakeModel{name: "f", embeddings: true, vec: []float32{1, 2}}
	r := newTestRouter(t, primary, fallback)

	vec, err := r.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("vec = %v", vec)
	}
	if primary.embedRuns != 0 {
		t.Errorf("primary embed runs = %d, want 0", primary.embedRuns)
	}
}

func TestEmbedSurfacesTotalFailure(t *testing.T) {
	primary := &fakeModel{
		name: "p", embeddings: true,
		embedErr: &Error{Reason: FailUnavailable, Provider: "fake", Model: "p"},
	}
	r, err := NewRouter(RouterOptions{
		Primary: primary, MaxRetries: 1, Backoff: time.Millisecond,
		Logger: observability.NopLogger(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	if _, err := r.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbedWithoutCapableModel(t *testing.T) {
	primary := &fakeModel{name: "p", embeddings: false}
	r := newTestRouter(t, primary, nil)

	_, err := r.Embed(context.Background(), "text")
	var me *Error
	if !errors.As(err, &me) || me.Reason != FailUnsupported {
		t.Errorf("err = %v, want FailUnsupported", err)
	}
}

func TestUsageAccumulates(t *testing.T) {
	primary := &fakeModel{name: "p", reply: "four char reply here"}
	r := newTestRouter(t, primary, nil)

	if _, err := r.Generate(context.Background(), &Request{System: "be brief"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	stats := r.Usage()
	if stats["p"].Calls != 1 {
		t.Errorf("calls = %d, want 1", stats["p"].Calls)
	}
}
