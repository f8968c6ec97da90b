// internal/types/models.go
package types

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	ID               MessageID `json:"id"`
	Role             Role      `json:"role"`
	Content          string    `json:"content"`
	Streaming        bool      `json:"streaming"`
	DisplayedContent string    `json:"displayed_content,omitempty"`
	RunID            RunID     `json:"run_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Display returns the text the transcript should show for the message.
func (m Message) Display() string {
	if m.DisplayedContent != "" {
		return m.DisplayedContent
	}
	return m.Content
}

type ProviderUsage struct {
	Requests     int `json:"requests"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type ModelUsage struct {
	Provider     string `json:"provider"`
	Requests     int    `json:"requests"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

type CanvasType string

const (
	CanvasHTML CanvasType = "html"
	CanvasCode CanvasType = "code"
)

type CanvasOptions struct {
	Type     CanvasType `json:"type"`
	Language string     `json:"language,omitempty"`
	RunID    RunID      `json:"run_id,omitempty"`
}
