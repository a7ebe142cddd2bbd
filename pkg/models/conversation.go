// Package models defines the core data types for Recall.
package models

import (
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the fixed set.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Conversation is a container for an ordered sequence of messages.
// Deleting a conversation deletes all of its messages.
type Conversation struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Summary   string         `json:"summary,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Message is a single conversation turn. Content of non-system messages is
// sealed at rest by the metadata store.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Validate checks message invariants.
func (m *Message) Validate() error {
	if m.ConversationID == "" {
		return fmt.Errorf("message requires a conversation id")
	}
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role: %q", m.Role)
	}
	return nil
}
