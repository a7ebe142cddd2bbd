package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// LocalModel serves requests from an Ollama-compatible server on localhost.
// The server loads model weights lazily on first use, so the first request
// after startup can take much longer than the rest; callers pass generous
// timeouts for local calls.
type LocalModel struct {
	baseURL        string
	model          string
	embeddingModel string
	maxTokens      int
	client         *http.Client

	// Local inference is CPU and memory bound; one request at a time keeps
	// the machine responsive.
	mu sync.Mutex
}

// LocalConfig configures NewLocal.
type LocalConfig struct {
	BaseURL        string // default http://localhost:11434
	Model          string // default llama3.2
	EmbeddingModel string // default nomic-embed-text
	MaxTokens      int    // context window, default 8192
	Timeout        time.Duration
}

// NewLocal creates a local model client.
func NewLocal(cfg LocalConfig) *LocalModel {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &LocalModel{
		baseURL:        cfg.BaseURL,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		maxTokens:      cfg.MaxTokens,
		client:         &http.Client{Timeout: cfg.Timeout},
	}
}

type localChatRequest struct {
	Model    string             `json:"model"`
	Messages []localChatMessage `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  map[string]any     `json:"options,omitempty"`
}

type localChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatResponse struct {
	Message localChatMessage `json:"message"`
}

func (m *LocalModel) Generate(ctx context.Context, req *Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]localChatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, localChatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		msgs = append(msgs, localChatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body := localChatRequest{Model: m.model, Messages: msgs, Stream: false}
	if req.Temperature > 0 {
		body.Options = map[string]any{"temperature": req.Temperature}
	}
	if req.MaxTokens > 0 {
		if body.Options == nil {
			body.Options = map[string]any{}
		}
		body.Options["num_predict"] = req.MaxTokens
	}

	var resp localChatResponse
	if err := m.post(ctx, "/api/chat", body, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

type localEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (m *LocalModel) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp localEmbedResponse
	req := localEmbedRequest{Model: m.embeddingModel, Prompt: text}
	if err := m.post(ctx, "/api/embeddings", req, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

func (m *LocalModel) CountTokens(text string) int { return CountTokens(text) }

func (m *LocalModel) MaxTokens() int { return m.maxTokens }

// Available pings the server's tag list with a short deadline.
func (m *LocalModel) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (m *LocalModel) Info() Info {
	return Info{Provider: "local", Model: m.model, SupportsEmbeddings: true}
}

// Unload asks the server to evict the model weights, freeing memory during
// shutdown or long idle periods.
func (m *LocalModel) Unload(ctx context.Context) error {
	body := map[string]any{"model": m.model, "keep_alive": 0}
	return m.post(ctx, "/api/generate", body, &struct{}{})
}

func (m *LocalModel) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return wrapError("local", m.model, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return wrapError("local", m.model, resp.StatusCode,
			fmt.Errorf("server returned %d: %s", resp.StatusCode, raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return wrapError("local", m.model, 0, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

var _ Model = (*LocalModel)(nil)
var _ Model = (*OpenAIModel)(nil)
var _ Model = (*AnthropicModel)(nil)
