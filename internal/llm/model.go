// Package llm routes generation and embedding requests across a primary
// model, a fallback model, and a local model, with retry and failover.
package llm

import (
	"context"

	"github.com/haasonsaas/recall/pkg/models"
)

// Request is a single generation request. Messages run oldest first; the
// system prompt travels separately because some providers keep it out of
// the message list.
type Request struct {
	System      string
	Messages    []models.Message
	MaxTokens   int
	Temperature float32
}

// Info describes a model for logging and status output.
type Info struct {
	Provider string
	Model    string

	// SupportsEmbeddings reports whether Embed works on this model.
	SupportsEmbeddings bool
}

// Model is one LLM endpoint. Implementations must be safe for concurrent
// use.
type Model interface {
	// Generate produces a completion for the request.
	Generate(ctx context.Context, req *Request) (string, error)

	// Embed produces an embedding vector for the text. Models without
	// embedding support return an Error with FailUnsupported.
	Embed(ctx context.Context, text string) ([]float32, error)

	// CountTokens estimates the token count of text for budget math.
	CountTokens(text string) int

	// MaxTokens returns the model's context window size in tokens.
	MaxTokens() int

	// Available reports whether the model can serve requests right now.
	Available(ctx context.Context) bool

	// Info returns static model identity.
	Info() Info
}
