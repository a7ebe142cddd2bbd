package models

import "time"

// UserSettings is the singleton record of user preferences, grouped by area.
// Each group is a free-form map so collaborators can extend without schema
// migrations.
type UserSettings struct {
	ID          string         `json:"id"`
	Voice       map[string]any `json:"voice_settings,omitempty"`
	Personality map[string]any `json:"personality_settings,omitempty"`
	Privacy     map[string]any `json:"privacy_settings,omitempty"`
	Storage     map[string]any `json:"storage_settings,omitempty"`
	LLM         map[string]any `json:"llm_settings,omitempty"`
	Search      map[string]any `json:"search_settings,omitempty"`
	Memory      map[string]any `json:"memory_settings,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
