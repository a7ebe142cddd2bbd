package models

import "time"

// Document tracks an ingested file. The file itself is parsed by an external
// collaborator; the core only stores the extracted chunks.
type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	FileType    string         `json:"file_type"`
	StoragePath string         `json:"storage_path,omitempty"`
	Processed   bool           `json:"processed"`
	Summary     string         `json:"summary,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// DocumentChunk is one extracted segment of a document. ChunkIndex is unique
// within the parent. Content is sealed at rest.
type DocumentChunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	ChunkIndex int            `json:"chunk_index"`
	Content    string         `json:"content"`
	PageNumber int            `json:"page_number,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// WebPage tracks an ingested web page, fetched by an external collaborator.
type WebPage struct {
	ID           string         `json:"id"`
	URL          string         `json:"url"`
	Title        string         `json:"title,omitempty"`
	LastAccessed time.Time      `json:"last_accessed"`
	Processed    bool           `json:"processed"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// WebContentChunk is one extracted segment of a web page. Content is sealed
// at rest.
type WebContentChunk struct {
	ID         string         `json:"id"`
	WebPageID  string         `json:"web_page_id"`
	ChunkIndex int            `json:"chunk_index"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
