// internal/state/session.go
package state

import (
	"maps"
	"slices"
	"time"

	"github.com/user/dram/internal/types"
)

// Indicator is the typing/progress line shown under a session's transcript.
type Indicator struct {
	Active bool   `json:"active"`
	Text   string `json:"text,omitempty"`
}

// Session is one chat tab. Every field here is session-local.
type Session struct {
	ID                    types.SessionID                `json:"id"`
	Name                  string                         `json:"name"`
	Messages              []types.Message                `json:"messages"`
	SessionCost           float64                        `json:"session_cost"`
	SessionInputTokens    int                            `json:"session_input_tokens"`
	SessionOutputTokens   int                            `json:"session_output_tokens"`
	LocalRequestCount     int                            `json:"local_request_count"`
	LocalProviderRequests map[string]types.ProviderUsage `json:"local_provider_requests"`
	LocalModelUsage       map[string]types.ModelUsage    `json:"local_model_usage"`
	SessionStartedAt      time.Time                      `json:"session_started_at"`
	Indicator             Indicator                      `json:"indicator"`
}

func newSession(id types.SessionID, name string) *Session {
	return &Session{
		ID:                    id,
		Name:                  name,
		Messages:              []types.Message{},
		LocalProviderRequests: make(map[string]types.ProviderUsage),
		LocalModelUsage:       make(map[string]types.ModelUsage),
		SessionStartedAt:      time.Now(),
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() Session {
	c := *s
	c.Messages = slices.Clone(s.Messages)
	c.LocalProviderRequests = maps.Clone(s.LocalProviderRequests)
	c.LocalModelUsage = maps.Clone(s.LocalModelUsage)
	if c.LocalProviderRequests == nil {
		c.LocalProviderRequests = make(map[string]types.ProviderUsage)
	}
	if c.LocalModelUsage == nil {
		c.LocalModelUsage = make(map[string]types.ModelUsage)
	}
	return c
}

// LastMessage returns a pointer to the trailing message, or nil for an empty transcript.
func (s *Session) LastMessage() *types.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// AppendMessage adds msg to the transcript, filling in its id and timestamp if unset.
func (s *Session) AppendMessage(msg types.Message) *types.Message {
	if msg.ID == "" {
		msg.ID = types.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	return &s.Messages[len(s.Messages)-1]
}

// RecordUsage adds one completed request to the session's counters.
func (s *Session) RecordUsage(provider, model string, inputTokens, outputTokens int, cost float64) {
	s.SessionCost += cost
	s.SessionInputTokens += inputTokens
	s.SessionOutputTokens += outputTokens
	s.LocalRequestCount++

	if s.LocalProviderRequests == nil {
		s.LocalProviderRequests = make(map[string]types.ProviderUsage)
	}
	p := s.LocalProviderRequests[provider]
	p.Requests++
	p.InputTokens += inputTokens
	p.OutputTokens += outputTokens
	s.LocalProviderRequests[provider] = p

	if model == "" {
		return
	}
	if s.LocalModelUsage == nil {
		s.LocalModelUsage = make(map[string]types.ModelUsage)
	}
	m := s.LocalModelUsage[model]
	m.Provider = provider
	m.Requests++
	m.InputTokens += inputTokens
	m.OutputTokens += outputTokens
	s.LocalModelUsage[model] = m
}
