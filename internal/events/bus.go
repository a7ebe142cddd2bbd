// Package events provides the in-process publish/subscribe bus used for
// cross-component notifications.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/recall/internal/observability"
)

// Topics emitted by the core. Payload keys are stable.
const (
	TopicMemoryStored       = "memory:stored"
	TopicMemoryRetrieved    = "memory:retrieved"
	TopicMemoryDeleted      = "memory:deleted"
	TopicMessageProcessed   = "message:processed"
	TopicContextBuilt       = "context:built"
	TopicLLMResponse        = "llm:response_generated"
	TopicLLMEmbedding       = "llm:embedding_generated"
	TopicLLMError           = "llm:error"
	TopicBackupCreated      = "storage:backup_created"
	TopicBackupRestored     = "storage:backup_restored"
	TopicAppShutdown        = "app:shutdown"
	TopicVectorReadDegraded = "memory:vector_read_degraded"
)

// DefaultHistorySize is the number of events retained for diagnostics.
const DefaultHistorySize = 100

// Event is one published notification.
type Event struct {
	Topic     string         `json:"topic"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives published events. Handlers must not retain the payload
// map beyond the call.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus is the process-wide fan-out point. Synchronous delivery is ordered by
// subscription order; a failing handler is logged and skipped.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]subscription
	nextID  int
	history []Event // ring, oldest first
	histMax int
	logger  *observability.Logger
}

// NewBus creates a bus retaining the last historySize events (0 means
// DefaultHistorySize).
func NewBus(historySize int, logger *observability.Logger) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Bus{
		subs:    make(map[string][]subscription),
		histMax: historySize,
		logger:  logger,
	}
}

// Subscribe registers a handler for a topic and returns a subscription id
// for Unsubscribe.
func (b *Bus) Subscribe(topic string, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[topic] = append(b.subs[topic], subscription{id: b.nextID, handler: h})
	return b.nextID
}

// Unsubscribe removes a handler by subscription id. Unknown ids are ignored.
func (b *Bus) Unsubscribe(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event synchronously to all subscribers in
// subscription order. Handler panics are recovered, logged, and skipped.
func (b *Bus) Publish(ctx context.Context, topic string, payload map[string]any) {
	ev := Event{Topic: topic, Payload: payload, Timestamp: time.Now().UTC()}
	b.record(ev)

	for _, s := range b.snapshot(topic) {
		b.invoke(ctx, s, ev)
	}
}

// PublishAsync delivers the event to all subscribers concurrently and waits
// for completion. Delivery order across handlers is unspecified.
func (b *Bus) PublishAsync(ctx context.Context, topic string, payload map[string]any) {
	ev := Event{Topic: topic, Payload: payload, Timestamp: time.Now().UTC()}
	b.record(ev)

	subs := b.snapshot(topic)
	var wg sync.WaitGroup
	wg.Add(len(subs))
	for _, s := range subs {
		go func(s subscription) {
			defer wg.Done()
			b.invoke(ctx, s, ev)
		}(s)
	}
	wg.Wait()
}

func (b *Bus) snapshot(topic string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := make([]subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	return subs
}

func (b *Bus) invoke(ctx context.Context, s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "event handler panicked",
				"topic", ev.Topic, "subscription", s.id, "panic", fmt.Sprint(r))
		}
	}()
	s.handler(ctx, ev)
}

func (b *Bus) record(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, ev)
	if len(b.history) > b.histMax {
		b.history = b.history[len(b.history)-b.histMax:]
	}
}

// History returns retained events, oldest first. An empty topic returns all.
func (b *Bus) History(topic string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, 0, len(b.history))
	for _, ev := range b.history {
		if topic == "" || ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

// ClearHistory drops all retained events.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}
