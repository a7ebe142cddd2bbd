package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/haasonsaas/recall/pkg/models"
)

// AnthropicModel serves generation through the Anthropic API. Anthropic has
// no embeddings endpoint, so Embed always fails with FailUnsupported and
// the router leans on another model for vectors.
type AnthropicModel struct {
	client    anthropic.Client
	model     string
	maxTokens int
	apiKey    string
}

// AnthropicConfig configures NewAnthropic.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string // default claude-sonnet-4-20250514
	MaxTokens int    // context window, default 200000
}

// NewAnthropic creates an Anthropic-backed model.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 200000
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicModel{
		client:    anthropic.NewClient(options...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		apiKey:    cfg.APIKey,
	}, nil
}

func (m *AnthropicModel) Generate(ctx context.Context, req *Request) (string, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case models.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		Messages:  msgs,
		MaxTokens: int64(maxOutputTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", m.wrapError(err)
	}

	var out string
	for _, block := range resp.Content {
		if text := block.AsText(); text.Text != "" {
			out += text.Text
		}
	}
	if out == "" {
		return "", &Error{Reason: FailUnknown, Provider: "anthropic", Model: m.model,
			Cause: fmt.Errorf("empty response")}
	}
	return out, nil
}

func (m *AnthropicModel) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, &Error{Reason: FailUnsupported, Provider: "anthropic", Model: m.model,
		Cause: fmt.Errorf("embeddings not supported")}
}

func (m *AnthropicModel) CountTokens(text string) int { return CountTokens(text) }

func (m *AnthropicModel) MaxTokens() int { return m.maxTokens }

func (m *AnthropicModel) Available(ctx context.Context) bool { return m.apiKey != "" }

func (m *AnthropicModel) Info() Info {
	return Info{Provider: "anthropic", Model: m.model, SupportsEmbeddings: false}
}

func (m *AnthropicModel) wrapError(err error) *Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return wrapError("anthropic", m.model, apiErr.StatusCode, err)
	}
	return wrapError("anthropic", m.model, 0, err)
}

func maxOutputTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return 4096
}
