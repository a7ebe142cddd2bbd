// Package prompt assembles token-budgeted prompts from personality
// settings, retrieved memory, document and web snippets, and conversation
// history. Assembly is pure CPU and never blocks.
package prompt

import (
	"strings"

	"github.com/haasonsaas/recall/pkg/models"
)

// Mode selects which sources fill the context budget.
type Mode string

const (
	ModeMemory   Mode = "memory"
	ModeDocument Mode = "document"
	ModeWeb      Mode = "web"
	ModeHistory  Mode = "history"
	ModeCombined Mode = "combined"
)

// Config holds budgeting parameters. Zero values take the defaults.
type Config struct {
	ReservedSystemTokens   int     // default 200
	ReservedUserTokens     int     // default 200
	ReservedResponseTokens int     // default 500
	ContextRatio           float64 // default 0.75

	// Combined-mode partition, renormalized over the sources present.
	MemoryRatio   float64 // default 0.3
	DocumentRatio float64 // default 0.3
	WebRatio      float64 // default 0.2
	HistoryRatio  float64 // default 0.2

	BasePrompt string
}

func (c Config) withDefaults() Config {
	if c.ReservedSystemTokens == 0 {
		c.ReservedSystemTokens = 200
	}
	if c.ReservedUserTokens == 0 {
		c.ReservedUserTokens = 200
	}
	if c.ReservedResponseTokens == 0 {
		c.ReservedResponseTokens = 500
	}
	if c.ContextRatio == 0 {
		c.ContextRatio = 0.75
	}
	if c.MemoryRatio == 0 {
		c.MemoryRatio = 0.3
	}
	if c.DocumentRatio == 0 {
		c.DocumentRatio = 0.3
	}
	if c.WebRatio == 0 {
		c.WebRatio = 0.2
	}
	if c.HistoryRatio == 0 {
		c.HistoryRatio = 0.2
	}
	if c.BasePrompt == "" {
		c.BasePrompt = "You are a personal assistant with access to the user's memories, documents, and conversation history. Use the provided context when it is relevant."
	}
	return c
}

// Input carries the material available for one assembly.
type Input struct {
	UserMessage string

	// MemoryContext is the pre-formatted memory block (one bullet per item).
	MemoryContext string

	Document string
	Web      string
	History  []models.Message

	// Personality holds the personality settings group of UserSettings.
	Personality map[string]any
}

// Prompt is the assembled result, ready for the router.
type Prompt struct {
	System string

	// Messages is [ ...history..., user ], oldest first. The system prompt
	// travels separately.
	Messages []models.Message
}

// Assembler builds prompts under a token budget derived from the model's
// context window.
type Assembler struct {
	cfg       Config
	count     func(string) int
	maxTokens int
}

// New creates an assembler for a model with the given context window and
// tokenizer.
func New(cfg Config, maxTokens int, count func(string) int) *Assembler {
	if count == nil {
		count = func(s string) int { return (len(s) + 3) / 4 }
	}
	return &Assembler{cfg: cfg.withDefaults(), count: count, maxTokens: maxTokens}
}

// Budget returns the context token budget after reserves and ratio.
func (a *Assembler) Budget() int {
	b := a.maxTokens - a.cfg.ReservedSystemTokens - a.cfg.ReservedUserTokens - a.cfg.ReservedResponseTokens
	if b < 0 {
		b = 0
	}
	return int(float64(b) * a.cfg.ContextRatio)
}

// Assemble builds a prompt for the mode from the input.
func (a *Assembler) Assemble(mode Mode, in Input) *Prompt {
	budget := a.Budget()

	var contextBlock string
	var history []models.Message

	switch mode {
	case ModeMemory:
		contextBlock = a.memoryBlock(in.MemoryContext, budget)
	case ModeDocument:
		contextBlock = a.documentBlock(in.Document, budget)
	case ModeWeb:
		contextBlock = a.webBlock(in.Web, budget)
	case ModeHistory:
		history = a.fitHistory(in.History, budget)
	case ModeCombined:
		contextBlock, history = a.combined(in, budget)
	}

	system := a.systemPrompt(in.Personality, contextBlock)

	messages := make([]models.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: in.UserMessage})

	return &Prompt{System: system, Messages: messages}
}

func (a *Assembler) combined(in Input, budget int) (string, []models.Message) {
	type source struct {
		ratio   float64
		present bool
	}
	sources := []source{
		{a.cfg.MemoryRatio, in.MemoryContext != ""},
		{a.cfg.DocumentRatio, in.Document != ""},
		{a.cfg.WebRatio, in.Web != ""},
		{a.cfg.HistoryRatio, len(in.History) > 0},
	}
	var total float64
	for _, s := range sources {
		if s.present {
			total += s.ratio
		}
	}
	if total == 0 {
		return "", nil
	}
	sub := func(i int) int {
		if !sources[i].present {
			return 0
		}
		return int(float64(budget) * sources[i].ratio / total)
	}

	var blocks []string
	if b := a.memoryBlock(in.MemoryContext, sub(0)); b != "" {
		blocks = append(blocks, b)
	}
	if b := a.documentBlock(in.Document, sub(1)); b != "" {
		blocks = append(blocks, b)
	}
	if b := a.webBlock(in.Web, sub(2)); b != "" {
		blocks = append(blocks, b)
	}
	history := a.fitHistory(in.History, sub(3))

	return strings.Join(blocks, "\n\n"), history
}

func (a *Assembler) memoryBlock(memory string, budget int) string {
	if memory == "" || budget <= 0 {
		return ""
	}
	body := truncateLines(memory, budget, a.count)
	if body == "" {
		return ""
	}
	return "Relevant memories:\n" + body
}

func (a *Assembler) documentBlock(doc string, budget int) string {
	if doc == "" || budget <= 0 {
		return ""
	}
	body := truncateParagraphs(doc, budget, a.count)
	if body == "" {
		return ""
	}
	return "Here is a document the user is working with:\n" + body
}

func (a *Assembler) webBlock(web string, budget int) string {
	if web == "" || budget <= 0 {
		return ""
	}
	body := truncateParagraphs(web, budget, a.count)
	if body == "" {
		return ""
	}
	return "Here is web content the user referenced:\n" + body
}

// fitHistory selects the most recent messages that fit the budget and
// returns them oldest first.
func (a *Assembler) fitHistory(history []models.Message, budget int) []models.Message {
	if len(history) == 0 || budget <= 0 {
		return nil
	}
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := a.count(history[i].Content)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	if start == len(history) {
		return nil
	}
	out := make([]models.Message, len(history)-start)
	copy(out, history[start:])
	return out
}

// systemPrompt concatenates the base prompt, personality clauses in fixed
// order, and the context block.
func (a *Assembler) systemPrompt(personality map[string]any, contextBlock string) string {
	parts := []string{a.cfg.BasePrompt}
	parts = append(parts, personalityClauses(personality)...)
	if contextBlock != "" {
		parts = append(parts, contextBlock)
	}
	return strings.Join(parts, "\n\n")
}
