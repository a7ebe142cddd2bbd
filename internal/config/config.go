// Package config loads and validates the Recall configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration snapshot. It is loaded once and
// passed through constructors; components never read ambient state.
type Config struct {
	// DataDir is the root of all persisted state.
	DataDir string `yaml:"data_dir"`

	Logging LoggingConfig `yaml:"logging"`
	Crypto  CryptoConfig  `yaml:"crypto"`
	LLM     LLMConfig     `yaml:"llm"`
	Memory  MemoryConfig  `yaml:"memory"`
	Context ContextConfig `yaml:"context"`
	Storage StorageConfig `yaml:"storage"`
	Events  EventsConfig  `yaml:"events"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// CryptoConfig configures master key acquisition.
type CryptoConfig struct {
	// Passphrase, when set, derives the master key via PBKDF2 on first run.
	// Usually injected via RECALL_PASSPHRASE rather than written to disk.
	Passphrase string `yaml:"passphrase"`
}

// ModelConfig configures a single LLM backend.
type ModelConfig struct {
	Provider  string        `yaml:"provider"` // openai, anthropic, local
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LLMConfig configures the router.
type LLMConfig struct {
	Primary  ModelConfig `yaml:"primary"`
	Fallback ModelConfig `yaml:"fallback"`

	// Embeddings selects the embedding backend. Defaults to the primary
	// provider with its default embedding model.
	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// EmbeddingsConfig configures embedding generation.
type EmbeddingsConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
}

// MemoryConfig configures the retrieval engine.
type MemoryConfig struct {
	// Retrieval score weights. Must sum to 1.0 within ±0.01.
	SimilarityWeight float64 `yaml:"similarity_weight"`
	RecencyWeight    float64 `yaml:"recency_weight"`
	ImportanceWeight float64 `yaml:"importance_weight"`

	// RecencyHalfLife is the decay timescale τ in exp(−Δt/τ).
	RecencyHalfLife time.Duration `yaml:"recency_half_life"`

	DefaultLimit  int `yaml:"default_limit"`
	MaxSearch     int `yaml:"max_search"`
	EmbeddingLRU  int `yaml:"embedding_cache_size"`
	SelfHealBatch int `yaml:"self_heal_batch"`
}

// ContextConfig configures prompt assembly budgets.
type ContextConfig struct {
	ReservedSystemTokens   int     `yaml:"reserved_system_tokens"`
	ReservedUserTokens     int     `yaml:"reserved_user_tokens"`
	ReservedResponseTokens int     `yaml:"reserved_response_tokens"`
	ContextRatio           float64 `yaml:"context_ratio"`

	MemoryRatio   float64 `yaml:"memory_ratio"`
	DocumentRatio float64 `yaml:"document_ratio"`
	WebRatio      float64 `yaml:"web_ratio"`
	HistoryRatio  float64 `yaml:"history_ratio"`

	BaseSystemPrompt string `yaml:"base_system_prompt"`
}

// StorageConfig configures backups and retention.
type StorageConfig struct {
	BackupDir       string   `yaml:"backup_dir"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	MaxBackups      int      `yaml:"max_backups"`
	MaxBackupAge    int      `yaml:"max_backup_age_days"`
}

// EventsConfig configures the bus.
type EventsConfig struct {
	HistorySize int `yaml:"history_size"`
}

// Default returns the configuration defaults, rooted at dataDir.
func Default(dataDir string) *Config {
	cfg := &Config{DataDir: dataDir}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file, expands ${ENV} references, and applies
// defaults. A missing file yields defaults rooted at ~/.recall.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DataDir = filepath.Join(home, ".recall")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Crypto.Passphrase == "" {
		c.Crypto.Passphrase = os.Getenv("RECALL_PASSPHRASE")
	}

	if c.LLM.Primary.Provider == "" {
		c.LLM.Primary.Provider = "openai"
	}
	if c.LLM.Primary.Timeout == 0 {
		c.LLM.Primary.Timeout = 60 * time.Second
	}
	if c.LLM.Fallback.Provider != "" && c.LLM.Fallback.Timeout == 0 {
		if c.LLM.Fallback.Provider == "local" {
			c.LLM.Fallback.Timeout = 300 * time.Second
		} else {
			c.LLM.Fallback.Timeout = 60 * time.Second
		}
	}
	if c.LLM.Primary.Provider == "local" && c.LLM.Primary.Timeout == 60*time.Second {
		c.LLM.Primary.Timeout = 300 * time.Second
	}
	if c.LLM.Embeddings.Provider == "" {
		c.LLM.Embeddings.Provider = c.LLM.Primary.Provider
	}
	if c.LLM.Embeddings.APIKey == "" {
		c.LLM.Embeddings.APIKey = c.LLM.Primary.APIKey
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.RetryBackoff == 0 {
		c.LLM.RetryBackoff = 500 * time.Millisecond
	}

	if c.Memory.SimilarityWeight == 0 && c.Memory.RecencyWeight == 0 && c.Memory.ImportanceWeight == 0 {
		c.Memory.SimilarityWeight = 0.65
		c.Memory.RecencyWeight = 0.25
		c.Memory.ImportanceWeight = 0.10
	}
	if c.Memory.RecencyHalfLife == 0 {
		c.Memory.RecencyHalfLife = 14 * 24 * time.Hour
	}
	if c.Memory.DefaultLimit == 0 {
		c.Memory.DefaultLimit = 10
	}
	if c.Memory.MaxSearch == 0 {
		c.Memory.MaxSearch = 50
	}
	if c.Memory.EmbeddingLRU == 0 {
		c.Memory.EmbeddingLRU = 1000
	}
	if c.Memory.SelfHealBatch == 0 {
		c.Memory.SelfHealBatch = 20
	}

	if c.Context.ReservedSystemTokens == 0 {
		c.Context.ReservedSystemTokens = 200
	}
	if c.Context.ReservedUserTokens == 0 {
		c.Context.ReservedUserTokens = 200
	}
	if c.Context.ReservedResponseTokens == 0 {
		c.Context.ReservedResponseTokens = 500
	}
	if c.Context.ContextRatio == 0 {
		c.Context.ContextRatio = 0.75
	}
	if c.Context.MemoryRatio == 0 && c.Context.DocumentRatio == 0 &&
		c.Context.WebRatio == 0 && c.Context.HistoryRatio == 0 {
		c.Context.MemoryRatio = 0.3
		c.Context.DocumentRatio = 0.3
		c.Context.WebRatio = 0.2
		c.Context.HistoryRatio = 0.2
	}
	if c.Context.BaseSystemPrompt == "" {
		c.Context.BaseSystemPrompt = "You are a helpful personal assistant with access to the user's memories."
	}

	if c.Storage.BackupDir == "" {
		c.Storage.BackupDir = filepath.Join(c.DataDir, "backups")
	}
	if c.Storage.MaxBackups == 0 {
		c.Storage.MaxBackups = 10
	}
	if c.Storage.MaxBackupAge == 0 {
		c.Storage.MaxBackupAge = 90
	}
	if c.Events.HistorySize == 0 {
		c.Events.HistorySize = 100
	}
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	sum := c.Memory.SimilarityWeight + c.Memory.RecencyWeight + c.Memory.ImportanceWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("memory weights sum to %.3f, want 1.0 (±0.01)", sum)
	}
	if c.Context.ContextRatio <= 0 || c.Context.ContextRatio > 1 {
		return fmt.Errorf("context_ratio %.2f out of (0,1]", c.Context.ContextRatio)
	}
	switch c.LLM.Primary.Provider {
	case "openai", "anthropic", "local":
	default:
		return fmt.Errorf("unknown primary provider: %q", c.LLM.Primary.Provider)
	}
	if p := c.LLM.Fallback.Provider; p != "" && p != "openai" && p != "anthropic" && p != "local" {
		return fmt.Errorf("unknown fallback provider: %q", p)
	}
	return nil
}

// Paths derived from the data directory.

// DatabasePath is the metadata store file.
func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "personal_ai.db") }

// VectorDir is the vector store directory.
func (c *Config) VectorDir() string { return filepath.Join(c.DataDir, "vectors") }

// DocumentsDir holds original document files, opaque to the core.
func (c *Config) DocumentsDir() string { return filepath.Join(c.DataDir, "documents") }
