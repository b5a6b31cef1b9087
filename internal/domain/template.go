package domain

import "time"

// TemplateVariable describes one declared placeholder in a template's schema.
// The schema is owned by the external template store; the queue carries it as
// read-only metadata.
type TemplateVariable struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Template is the read-only input to message rendering.
type Template struct {
	ID        string             `json:"id"`
	Subject   string             `json:"subject"`
	Content   string             `json:"content"`
	Variables []TemplateVariable `json:"variables,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}
