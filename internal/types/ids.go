// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type RunID string
type MessageID string
type RequestID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

// NewIdempotencyKey returns a fresh key the backend uses to drop resent chat.send requests.
func NewIdempotencyKey() string {
	return uuid.New().String()
}
