// Package core assembles the whole system behind a single handle: stores,
// crypto, LLM routing, retrieval, the conversation loop, and storage
// management, wired from one configuration snapshot.
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/recall/internal/agent"
	"github.com/haasonsaas/recall/internal/config"
	"github.com/haasonsaas/recall/internal/crypto"
	"github.com/haasonsaas/recall/internal/events"
	"github.com/haasonsaas/recall/internal/llm"
	"github.com/haasonsaas/recall/internal/memory"
	"github.com/haasonsaas/recall/internal/observability"
	"github.com/haasonsaas/recall/internal/prompt"
	"github.com/haasonsaas/recall/internal/storage"
	"github.com/haasonsaas/recall/internal/store"
	"github.com/haasonsaas/recall/internal/vector"
)

// Per-call deadlines. Remote and local LLM deadlines come from config;
// these cover store-only operations.
const storeTimeout = 5 * time.Second

// Core is the assembled system. All public methods are safe for use from a
// single caller at a time; the orchestrator is the only writer per request.
type Core struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	bus     *events.Bus
	cipher  *crypto.Cipher

	meta    *store.Store
	vectors *vector.Store

	router       *llm.Router
	assembler    *prompt.Assembler
	memories     *memory.Service
	orchestrator *agent.Orchestrator
	storage      *storage.Manager

	llmTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Open wires the system from a configuration snapshot. The master key is
// loaded from the OS credential store, or derived from the configured
// passphrase on first run.
func Open(cfg *config.Config) (*Core, error) {
	if cfg == nil {
		cfg = config.Default("")
	}
	for _, dir := range []string{cfg.DataDir, cfg.VectorDir(), cfg.DocumentsDir(), cfg.Storage.BackupDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	bus := events.NewBus(cfg.Events.HistorySize, logger)
	ctx := context.Background()

	cipher, err := openCipher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	meta, err := store.Open(store.Options{
		Path:   cfg.DatabasePath(),
		Cipher: cipher,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	vectors, err := vector.Open(vector.Options{
		Path:   filepath.Join(cfg.VectorDir(), "vectors.db"),
		Logger: logger,
	})
	if err != nil {
		meta.Close()
		return nil, err
	}

	router, embedder, err := buildRouter(cfg, logger, metrics, bus)
	if err != nil {
		vectors.Close()
		meta.Close()
		return nil, err
	}

	assembler := prompt.New(prompt.Config{
		ReservedSystemTokens:   cfg.Context.ReservedSystemTokens,
		ReservedUserTokens:     cfg.Context.ReservedUserTokens,
		ReservedResponseTokens: cfg.Context.ReservedResponseTokens,
		ContextRatio:           cfg.Context.ContextRatio,
		MemoryRatio:            cfg.Context.MemoryRatio,
		DocumentRatio:          cfg.Context.DocumentRatio,
		WebRatio:               cfg.Context.WebRatio,
		HistoryRatio:           cfg.Context.HistoryRatio,
		BasePrompt:             cfg.Context.BaseSystemPrompt,
	}, router.MaxTokens(), llm.CountTokens)

	memories := memory.NewService(meta, vectors, embedder, memory.Options{
		Weights: memory.Weights{
			Similarity: cfg.Memory.SimilarityWeight,
			Recency:    cfg.Memory.RecencyWeight,
			Importance: cfg.Memory.ImportanceWeight,
			HalfLife:   cfg.Memory.RecencyHalfLife,
		},
		DefaultLimit:   cfg.Memory.DefaultLimit,
		MaxSearch:      cfg.Memory.MaxSearch,
		CacheSize:      cfg.Memory.EmbeddingLRU,
		SelfHealBatch:  cfg.Memory.SelfHealBatch,
		EmbeddingModel: cfg.LLM.Embeddings.Model,
		Logger:         logger,
		Metrics:        metrics,
		Bus:            bus,
	})

	orchestrator := agent.NewOrchestrator(agent.Options{
		Store:     meta,
		Memories:  memories,
		Router:    router,
		Assembler: assembler,
		Logger:    logger,
		Bus:       bus,
	})

	manager := storage.NewManager(storage.Options{
		Meta:            meta,
		Vectors:         vectors,
		BackupDir:       cfg.Storage.BackupDir,
		FilesDir:        cfg.DocumentsDir(),
		ExcludePatterns: cfg.Storage.ExcludePatterns,
		Cipher:          cipher,
		EmbeddingModel:  cfg.LLM.Embeddings.Model,
		Logger:          logger,
		Metrics:         metrics,
		Bus:             bus,
	})

	logger.Info(ctx, "core ready",
		"data_dir", cfg.DataDir,
		"primary", router.Primary().Model)

	return &Core{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		bus:          bus,
		cipher:       cipher,
		meta:         meta,
		vectors:      vectors,
		router:       router,
		assembler:    assembler,
		memories:     memories,
		orchestrator: orchestrator,
		storage:      manager,
		llmTimeout:   cfg.LLM.Primary.Timeout,
	}, nil
}

// openCipher reads the persisted salt, acquires the master key, and builds
// the cipher. The salt lives in the metadata store, which is opened
// briefly without a cipher; no sealed columns are touched.
func openCipher(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*crypto.Cipher, error) {
	boot, err := store.Open(store.Options{Path: cfg.DatabasePath(), Logger: logger})
	if err != nil {
		return nil, err
	}
	salt, err := boot.Salt(ctx, crypto.NewSalt)
	boot.Close()
	if err != nil {
		return nil, err
	}

	key, source, err := crypto.LoadOrCreateKey(cfg.Crypto.Passphrase, salt)
	if err != nil {
		return nil, err
	}
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "master key ready", "source", string(source))
	return cipher, nil
}

// buildRouter constructs the model chain and the embedder the memory
// service uses. The router is the embedder unless a dedicated embeddings
// backend is configured on a provider outside the chain.
func buildRouter(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, bus *events.Bus) (*llm.Router, memory.Embedder, error) {
	primary, err := buildModel(cfg.LLM.Primary, cfg.LLM.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("primary model: %w", err)
	}
	var fallback llm.Model
	if cfg.LLM.Fallback.Provider != "" {
		fallback, err = buildModel(cfg.LLM.Fallback, cfg.LLM.Embeddings)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback model: %w", err)
		}
	}

	router, err := llm.NewRouter(llm.RouterOptions{
		Primary:    primary,
		Fallback:   fallback,
		MaxRetries: cfg.LLM.MaxRetries,
		Backoff:    cfg.LLM.RetryBackoff,
		Logger:     logger,
		Metrics:    metrics,
		Bus:        bus,
	})
	if err != nil {
		return nil, nil, err
	}

	ep := cfg.LLM.Embeddings.Provider
	if ep != "" && ep != cfg.LLM.Primary.Provider && ep != cfg.LLM.Fallback.Provider {
		model, err := buildModel(config.ModelConfig{
			Provider: ep,
			APIKey:   cfg.LLM.Embeddings.APIKey,
			BaseURL:  cfg.LLM.Embeddings.BaseURL,
		}, cfg.LLM.Embeddings)
		if err != nil {
			return nil, nil, fmt.Errorf("embeddings model: %w", err)
		}
		return router, modelEmbedder{model}, nil
	}
	return router, router, nil
}

// buildModel maps one provider config to a model implementation.
func buildModel(mc config.ModelConfig, ec config.EmbeddingsConfig) (llm.Model, error) {
	embeddingModel := ""
	if ec.Provider == mc.Provider {
		embeddingModel = ec.Model
	}
	switch mc.Provider {
	case "openai":
		return llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:         mc.APIKey,
			BaseURL:        mc.BaseURL,
			Model:          mc.Model,
			EmbeddingModel: embeddingModel,
			MaxTokens:      mc.MaxTokens,
		})
	case "anthropic":
		return llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:    mc.APIKey,
			BaseURL:   mc.BaseURL,
			Model:     mc.Model,
			MaxTokens: mc.MaxTokens,
		})
	case "local":
		return llm.NewLocal(llm.LocalConfig{
			BaseURL:        mc.BaseURL,
			Model:          mc.Model,
			EmbeddingModel: embeddingModel,
			MaxTokens:      mc.MaxTokens,
			Timeout:        mc.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", mc.Provider)
	}
}

// modelEmbedder routes embeddings to a single dedicated model.
type modelEmbedder struct {
	model llm.Model
}

func (e modelEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.model.Embed(ctx, text)
}

// Close shuts the system down: announce, then close the vector store and
// the metadata store in that order. Safe to call more than once.
func (c *Core) Close() error {
	c.closeOnce.Do(func() {
		ctx := context.Background()
		c.bus.Publish(ctx, events.TopicAppShutdown, nil)
		if err := c.vectors.Close(); err != nil {
			c.closeErr = err
		}
		if err := c.meta.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
		c.logger.Info(ctx, "core closed")
	})
	return c.closeErr
}

// Bus exposes the event bus for subscriptions.
func (c *Core) Bus() *events.Bus { return c.bus }

// Config returns the active configuration snapshot.
func (c *Core) Config() *config.Config { return c.cfg }

// Usage returns per-model LLM usage counters.
func (c *Core) Usage() map[string]llm.ModelUsage { return c.router.Usage() }

func (c *Core) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storeTimeout)
}

func (c *Core) llmCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.llmTimeout)
}
