// Package agent orchestrates the per-request conversation flow: retrieve
// context, assemble a prompt, generate, and persist the exchange.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/recall/internal/events"
	"github.com/haasonsaas/recall/internal/llm"
	"github.com/haasonsaas/recall/internal/memory"
	"github.com/haasonsaas/recall/internal/observability"
	"github.com/haasonsaas/recall/internal/prompt"
	"github.com/haasonsaas/recall/internal/store"
	"github.com/haasonsaas/recall/pkg/models"
)

// historyWindow caps how many prior messages feed the assembler. The
// assembler trims further to the token budget.
const historyWindow = 50

// Generator is the slice of the router the orchestrator needs.
type Generator interface {
	Generate(ctx context.Context, req *llm.Request) (string, error)
}

// Orchestrator runs the retrieve, assemble, generate, persist loop.
type Orchestrator struct {
	meta      *store.Store
	memories  *memory.Service
	router    Generator
	assembler *prompt.Assembler

	logger *observability.Logger
	bus    *events.Bus
}

// Options configures NewOrchestrator.
type Options struct {
	Store     *store.Store
	Memories  *memory.Service
	Router    Generator
	Assembler *prompt.Assembler
	Logger    *observability.Logger
	Bus       *events.Bus
}

// NewOrchestrator wires the conversation loop.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Orchestrator{
		meta:      opts.Store,
		memories:  opts.Memories,
		router:    opts.Router,
		assembler: opts.Assembler,
		logger:    logger,
		bus:       opts.Bus,
	}
}

// Reply is the result of ProcessMessage.
type Reply struct {
	Response       string
	ConversationID string
}

// ProcessMessage handles one user turn. A missing conversation id
// allocates a new conversation. Empty retrieval never aborts the request:
// the model just answers without memories.
func (o *Orchestrator) ProcessMessage(ctx context.Context, userMessage, conversationID string) (*Reply, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, store.Constraint("message: content required")
	}

	conv, err := o.ensureConversation(ctx, conversationID, userMessage)
	if err != nil {
		return nil, err
	}

	retrieved, err := o.memories.RetrieveContext(ctx, userMessage, memory.RetrieveOptions{
		ConversationID: conv.ID,
	})
	if err != nil {
		// Retrieval failure degrades to an uninformed answer.
		o.logger.Warn(ctx, "context retrieval failed", "conversation_id", conv.ID, "error", err)
		retrieved = &memory.RetrievedContext{}
	}

	rows, err := o.meta.ListMessages(ctx, conv.ID, historyWindow, 0)
	if err != nil {
		return nil, err
	}
	history := make([]models.Message, len(rows))
	for i, msg := range rows {
		history[i] = *msg
	}

	settings, err := o.meta.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	p := o.assembler.Assemble(prompt.ModeCombined, prompt.Input{
		UserMessage:   userMessage,
		MemoryContext: retrieved.FormattedContext,
		History:       history,
		Personality:   settings.Personality,
	})
	if o.bus != nil {
		o.bus.Publish(ctx, events.TopicContextBuilt, map[string]any{
			"conversation_id": conv.ID,
			"memories":        len(retrieved.Items),
			"history":         len(p.Messages) - 1,
		})
	}

	response, err := o.router.Generate(ctx, &llm.Request{System: p.System, Messages: p.Messages})
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}

	if err := o.persistTurn(ctx, conv.ID, models.RoleUser, userMessage); err != nil {
		return nil, err
	}
	if err := o.persistTurn(ctx, conv.ID, models.RoleAssistant, response); err != nil {
		return nil, err
	}

	if o.bus != nil {
		o.bus.Publish(ctx, events.TopicMessageProcessed, map[string]any{
			"conversation_id": conv.ID,
		})
	}
	return &Reply{Response: response, ConversationID: conv.ID}, nil
}

// ensureConversation loads the conversation or allocates a new one titled
// from the first message.
func (o *Orchestrator) ensureConversation(ctx context.Context, id, firstMessage string) (*models.Conversation, error) {
	if id != "" {
		return o.meta.GetConversation(ctx, id)
	}
	conv := &models.Conversation{Title: autoTitle(firstMessage)}
	if err := o.meta.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// persistTurn stores one message plus its conversation-category memory
// item linked back to the message.
func (o *Orchestrator) persistTurn(ctx context.Context, conversationID string, role models.Role, content string) error {
	msg := &models.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	if err := o.meta.CreateMessage(ctx, msg); err != nil {
		return err
	}

	_, err := o.memories.Store(ctx, memory.StoreInput{
		Content:    content,
		Category:   models.CategoryConversation,
		SourceType: models.SourceMessage,
		SourceID:   msg.ID,
		Metadata: map[string]any{
			"conversation_id": conversationID,
			"role":            string(role),
		},
	})
	return err
}

// Summarize asks the router for a short summary of the conversation and
// writes it into the conversation record.
func (o *Orchestrator) Summarize(ctx context.Context, conversationID string) (string, error) {
	conv, err := o.meta.GetConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	history, err := o.meta.ListMessages(ctx, conversationID, 0, 0)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", store.Constraint("conversation %s has no messages", conversationID)
	}

	var b strings.Builder
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}

	summary, err := o.router.Generate(ctx, &llm.Request{
		System: "Summarize the following conversation in two or three sentences. Reply with the summary only.",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}

	conv.Summary = strings.TrimSpace(summary)
	if err := o.meta.UpdateConversation(ctx, conv); err != nil {
		return "", err
	}
	return conv.Summary, nil
}

// autoTitle derives a conversation title from the first message.
func autoTitle(message string) string {
	const maxTitle = 60
	title := strings.TrimSpace(message)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) > maxTitle {
		cut := title[:maxTitle]
		if i := strings.LastIndexByte(cut, ' '); i > maxTitle/2 {
			cut = cut[:i]
		}
		title = cut + "…"
	}
	return title
}
