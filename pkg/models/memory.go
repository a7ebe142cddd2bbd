package models

import (
	"fmt"
	"time"
)

// Category classifies a memory item for filtering and retrieval policy.
type Category string

const (
	CategoryConversation Category = "conversation"
	CategoryDocument     Category = "document"
	CategoryWeb          Category = "web"
	CategoryImportant    Category = "important"
	CategoryUserDefined  Category = "user_defined"
)

// Categories lists the fixed category set.
func Categories() []Category {
	return []Category{
		CategoryConversation,
		CategoryDocument,
		CategoryWeb,
		CategoryImportant,
		CategoryUserDefined,
	}
}

// Valid reports whether the category is one of the fixed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryConversation, CategoryDocument, CategoryWeb,
		CategoryImportant, CategoryUserDefined:
		return true
	}
	return false
}

// Importance bounds for memory items.
const (
	MinImportance = 1
	MaxImportance = 5
)

// SourceType identifies the entity a memory item or vector originates from.
type SourceType string

const (
	SourceMessage         SourceType = "message"
	SourceMemoryItem      SourceType = "memory_item"
	SourceDocumentChunk   SourceType = "document_chunk"
	SourceWebContentChunk SourceType = "web_content_chunk"
)

// MemoryItem is the unit of retrievable knowledge. Content is sealed at rest.
type MemoryItem struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Category   Category       `json:"category"`
	SourceType SourceType     `json:"source_type,omitempty"`
	SourceID   string         `json:"source_id,omitempty"`
	Importance int            `json:"importance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate checks memory item invariants.
func (m *MemoryItem) Validate() error {
	if !m.Category.Valid() {
		return fmt.Errorf("invalid category: %q", m.Category)
	}
	if m.Importance < MinImportance || m.Importance > MaxImportance {
		return fmt.Errorf("importance %d out of range [%d,%d]", m.Importance, MinImportance, MaxImportance)
	}
	return nil
}

// EmbeddingRecord is the crosswalk between source items and vector store
// entries. (SourceType, SourceID) is unique; Indexed marks whether the
// vector was successfully written to the vector store.
type EmbeddingRecord struct {
	ID         string     `json:"id"`
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	Model      string     `json:"embedding_model"`
	Indexed    bool       `json:"indexed"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ScoredMemory pairs a memory item with its composite retrieval score.
type ScoredMemory struct {
	Item       *MemoryItem `json:"item"`
	Score      float64     `json:"score"`
	Similarity float64     `json:"similarity"`
}
