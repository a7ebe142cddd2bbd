package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/recall/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIModel serves generation and embeddings through the OpenAI API, or
// any OpenAI-compatible endpoint via BaseURL.
type OpenAIModel struct {
	client         *openai.Client
	model          string
	embeddingModel string
	maxTokens      int
	apiKey         string
}

// OpenAIConfig configures NewOpenAI.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string // default gpt-4o-mini
	EmbeddingModel string // default text-embedding-3-small
	MaxTokens      int    // context window, default 128000
}

// NewOpenAI creates an OpenAI-backed model.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 128000
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIModel{
		client:         openai.NewClientWithConfig(config),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		maxTokens:      cfg.MaxTokens,
		apiKey:         cfg.APIKey,
	}, nil
}

func (m *OpenAIModel) Generate(ctx context.Context, req *Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openAIRole(msg.Role),
			Content: msg.Content,
		})
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", m.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Reason: FailUnknown, Provider: "openai", Model: m.model,
			Cause: fmt.Errorf("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (m *OpenAIModel) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(m.embeddingModel),
	})
	if err != nil {
		return nil, m.wrapError(err)
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Reason: FailUnknown, Provider: "openai", Model: m.embeddingModel,
			Cause: fmt.Errorf("no embedding returned")}
	}
	return resp.Data[0].Embedding, nil
}

func (m *OpenAIModel) CountTokens(text string) int { return CountTokens(text) }

func (m *OpenAIModel) MaxTokens() int { return m.maxTokens }

func (m *OpenAIModel) Available(ctx context.Context) bool { return m.apiKey != "" }

func (m *OpenAIModel) Info() Info {
	return Info{Provider: "openai", Model: m.model, SupportsEmbeddings: true}
}

func (m *OpenAIModel) wrapError(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return wrapError("openai", m.model, apiErr.HTTPStatusCode, err)
	}
	return wrapError("openai", m.model, 0, err)
}

func openAIRole(role models.Role) string {
	switch role {
	case models.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case models.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
