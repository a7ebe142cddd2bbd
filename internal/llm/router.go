package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/recall/internal/events"
	"github.com/haasonsaas/recall/internal/observability"
)

// Apology is the stable reply returned when every model fails. Keeping it
// constant lets callers and tests detect total degradation.
const Apology = "I'm sorry, I'm having trouble generating a response right now. Please try again in a moment."

// Router routes requests to a primary model with retry, failing over to a
// fallback when the primary's error is not a programming error. Embeddings
// prefer the first embedding-capable model in primary, fallback order.
type Router struct {
	primary  Model
	fallback Model

	maxRetries int
	backoff    time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics
	bus     *events.Bus
	usage   *UsageTracker
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Primary  Model
	Fallback Model

	MaxRetries int           // attempts per model, default 3
	Backoff    time.Duration // base delay, doubled per retry, default 500ms

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Bus     *events.Bus
}

// NewRouter creates a router. Primary is required.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Primary == nil {
		return nil, fmt.Errorf("llm: primary model is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Router{
		primary:    opts.Primary,
		fallback:   opts.Fallback,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		logger:     logger,
		metrics:    opts.Metrics,
		bus:        opts.Bus,
		usage:      NewUsageTracker(),
	}, nil
}

// Generate produces a completion, retrying and failing over as needed. When
// every model fails it returns the Apology string with a nil error so the
// conversation stays alive; the failure is logged, counted, and published
// on the event bus.
func (r *Router) Generate(ctx context.Context, req *Request) (string, error) {
	var lastErr error
	for _, m := range r.chain() {
		out, err := r.generateWithRetry(ctx, m, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		// Published per model so a failover that ultimately succeeds still
		// reports the primary's failure.
		r.publishError("generate", err)
		if !ReasonOf(err).ShouldFailover() {
			break
		}
		r.logger.Warn(ctx, "model failed, trying fallback",
			"model", m.Info().Model, "reason", string(ReasonOf(err)), "error", err)
	}

	r.logger.Error(ctx, "all models failed", "error", lastErr)
	return Apology, nil
}

// Embed produces an embedding from the first capable, working model. Unlike
// Generate it surfaces the error; callers record the item as unindexed and
// self-healing embeds it later.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, m := range r.chain() {
		if !m.Info().SupportsEmbeddings {
			continue
		}
		vec, err := r.embedWithRetry(ctx, m, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		r.publishError("embed", err)
		if !ReasonOf(err).ShouldFailover() {
			break
		}
	}
	if lastErr == nil {
		lastErr = &Error{Reason: FailUnsupported, Provider: "router",
			Cause: fmt.Errorf("no embedding-capable model configured")}
		r.publishError("embed", lastErr)
	}
	return nil, lastErr
}

// CountTokens delegates to the primary model's tokenizer.
func (r *Router) CountTokens(text string) int { return r.primary.CountTokens(text) }

// MaxTokens returns the primary model's context window.
func (r *Router) MaxTokens() int { return r.primary.MaxTokens() }

// Primary returns the primary model's identity.
func (r *Router) Primary() Info { return r.primary.Info() }

// Usage returns accumulated per-model counters.
func (r *Router) Usage() map[string]ModelUsage { return r.usage.Stats() }

func (r *Router) chain() []Model {
	if r.fallback == nil {
		return []Model{r.primary}
	}
	return []Model{r.primary, r.fallback}
}

func (r *Router) generateWithRetry(ctx context.Context, m Model, req *Request) (string, error) {
	name := m.Info().Model
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, r.backoff*(1<<(attempt-1))); err != nil {
				return "", err
			}
		}
		out, err := m.Generate(ctx, req)
		if err == nil {
			r.recordSuccess(name, "generate", requestTokens(m, req), m.CountTokens(out))
			if r.bus != nil {
				r.bus.Publish(ctx, events.TopicLLMResponse, map[string]any{"model": name})
			}
			return out, nil
		}
		lastErr = err
		r.usage.RecordError(name)
		if r.metrics != nil {
			r.metrics.LLMErrors.WithLabelValues(name, string(ReasonOf(err))).Inc()
		}
		if !ReasonOf(err).IsRetryable() {
			break
		}
		r.logger.Debug(ctx, "retrying model call",
			"model", name, "attempt", attempt+1, "error", err)
	}
	return "", lastErr
}

func (r *Router) embedWithRetry(ctx context.Context, m Model, text string) ([]float32, error) {
	name := m.Info().Model
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, r.backoff*(1<<(attempt-1))); err != nil {
				return nil, err
			}
		}
		vec, err := m.Embed(ctx, text)
		if err == nil {
			r.recordSuccess(name, "embed", m.CountTokens(text), 0)
			if r.bus != nil {
				r.bus.Publish(ctx, events.TopicLLMEmbedding, map[string]any{"model": name})
			}
			return vec, nil
		}
		lastErr = err
		r.usage.RecordError(name)
		if r.metrics != nil {
			r.metrics.LLMErrors.WithLabelValues(name, string(ReasonOf(err))).Inc()
		}
		if !ReasonOf(err).IsRetryable() {
			break
		}
	}
	return nil, lastErr
}

func (r *Router) recordSuccess(model, kind string, inputTokens, outputTokens int) {
	r.usage.RecordCall(model, inputTokens, outputTokens)
	if r.metrics == nil {
		return
	}
	r.metrics.LLMCalls.WithLabelValues(model, kind).Inc()
	if inputTokens > 0 {
		r.metrics.TokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.metrics.TokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

func (r *Router) publishError(kind string, err error) {
	if r.bus == nil || err == nil {
		return
	}
	r.bus.Publish(context.Background(), events.TopicLLMError, map[string]any{
		"kind":   kind,
		"reason": string(ReasonOf(err)),
		"error":  err.Error(),
	})
}

func requestTokens(m Model, req *Request) int {
	n := m.CountTokens(req.System)
	for _, msg := range req.Messages {
		n += m.CountTokens(msg.Content)
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
