package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/user/dram/internal/types"
)

// Request methods sent to the backend.
const (
	MethodConnect      = "connect"
	MethodChatSend     = "chat.send"
	MethodVoiceStream  = "voice.stream"
	MethodModelsStatus = "models.status"
)

// Frame types and the event names the router understands.
const (
	FrameRequest  = "req"
	FrameResponse = "res"
	FrameEvent    = "event"

	EventChat         = "chat"
	EventAgent        = "agent"
	EventModels       = "models"
	EventModelsStatus = "models.status"
	EventUsage        = "usage"
)

// Request is an outbound frame.
type Request struct {
	Type   string          `json:"type"`
	ID     types.RequestID `json:"id"`
	Method string          `json:"method"`
	Params map[string]any  `json:"params,omitempty"`
}

func newRequest(method string, params map[string]any) Request {
	return Request{Type: FrameRequest, ID: types.NewRequestID(), Method: method, Params: params}
}

// NewConnect opens the bridge. An empty token is omitted for backends that run without auth.
func NewConnect(token string) Request {
	params := map[string]any{"client": map[string]any{"id": "dram", "mode": "cli"}}
	if token != "" {
		params["auth"] = map[string]any{"token": token}
	}
	return newRequest(MethodConnect, params)
}

// NewChatSend builds a chat.send request. Each request carries a fresh idempotency key
// so a retried send is not processed twice.
func NewChatSend(sessionKey types.SessionID, message string) Request {
	return newRequest(MethodChatSend, map[string]any{
		"sessionKey":     string(sessionKey),
		"message":        message,
		"idempotencyKey": types.NewIdempotencyKey(),
	})
}

// NewVoiceStream asks the backend to speak text for a session.
func NewVoiceStream(sessionKey types.SessionID, text string) Request {
	return newRequest(MethodVoiceStream, map[string]any{
		"sessionKey": string(sessionKey),
		"text":       text,
	})
}

// NewModelsStatus asks for a fresh routing metadata snapshot.
func NewModelsStatus() Request {
	return newRequest(MethodModelsStatus, nil)
}

// Frame is an inbound envelope. Raw keeps the undecoded line for recording.
type Frame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	ID      string          `json:"id,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseFrame decodes one inbound line.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	f.Raw = append(json.RawMessage(nil), data...)
	return f, nil
}

// Failed reports whether a response frame carries an error.
func (f Frame) Failed() bool {
	return (f.OK != nil && !*f.OK) || (len(f.Error) > 0 && string(f.Error) != "null")
}
