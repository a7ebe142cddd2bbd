package llm

import (
	"sync"
	"time"
)

// ModelUsage aggregates counters for one model.
type ModelUsage struct {
	Calls            int64     `json:"calls"`
	Errors           int64     `json:"errors"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	LastUsed         time.Time `json:"last_used"`
}

// UsageTracker accumulates per-model call and token counters. Safe for
// concurrent use.
type UsageTracker struct {
	mu    sync.Mutex
	usage map[string]*ModelUsage
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{usage: make(map[string]*ModelUsage)}
}

// RecordCall notes a successful call with its token counts.
func (t *UsageTracker) RecordCall(model string, promptTokens, completionTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.get(model)
	u.Calls++
	u.PromptTokens += int64(promptTokens)
	u.CompletionTokens += int64(completionTokens)
	u.LastUsed = time.Now().UTC()
}

// RecordError notes a failed call.
func (t *UsageTracker) RecordError(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.get(model)
	u.Errors++
	u.LastUsed = time.Now().UTC()
}

// Stats returns a copy of all per-model counters.
func (t *UsageTracker) Stats() map[string]ModelUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]ModelUsage, len(t.usage))
	for k, v := range t.usage {
		out[k] = *v
	}
	return out
}

func (t *UsageTracker) get(model string) *ModelUsage {
	u, ok := t.usage[model]
	if !ok {
		u = &ModelUsage{}
		t.usage[model] = u
	}
	return u
}
