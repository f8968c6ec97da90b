// internal/chat/event.go
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/dram/internal/types"
)

// Stream names the channel an event arrived on.
const (
	StreamAssistant = "assistant"
	StreamTool      = "tool"
	StreamTools     = "tools"
	StreamLifecycle = "lifecycle"
	StreamThinking  = "thinking"
	StreamReasoning = "reasoning"
)

// State values of chat content events.
const (
	StateDelta   = "delta"
	StateFinal   = "final"
	StateError   = "error"
	StateAborted = "aborted"
)

// Event is one decoded backend event. Every field is optional.
type Event struct {
	Stream     string
	RunID      types.RunID
	SessionKey string
	State      string
	Done       bool
	Data       map[string]any
	// Content is the raw content value: a string, a list of blocks or a nested object.
	Content      any
	Usage        map[string]any
	Meta         map[string]any
	ErrorMessage string
	Err          any
}

// Phase returns the lifecycle or worklog phase named by the event.
func (e Event) Phase() string {
	if p := stringField(e.Data, "phase", "type", "kind"); p != "" {
		return strings.ToLower(p)
	}
	if isPhase(e.Stream) {
		return e.Stream
	}
	return ""
}

// Failed reports whether the event carries a backend error.
func (e Event) Failed() bool {
	return e.State == StateError || e.ErrorMessage != "" || e.Err != nil
}

// ParseEvent decodes a backend event. Fields of the wrong type are dropped; only a
// payload that is not a JSON object is an error.
func ParseEvent(data []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return Event{}, fmt.Errorf("decode chat event: %w", err)
	}
	if m == nil {
		return Event{}, fmt.Errorf("decode chat event: not an object")
	}
	return EventFromMap(m), nil
}

// EventFromMap builds an Event from an already decoded object.
func EventFromMap(m map[string]any) Event {
	data, _ := m["data"].(map[string]any)
	message, _ := m["message"].(map[string]any)

	ev := Event{
		Stream:     strings.ToLower(stringField(m, "stream")),
		RunID:      types.RunID(firstString(stringField(m, "runId", "run_id"), stringField(data, "runId", "run_id"))),
		SessionKey: firstString(stringField(m, "sessionKey", "session_key"), stringField(data, "sessionKey", "session_key")),
		State:      strings.ToLower(firstString(stringField(m, "state"), stringField(data, "state"))),
		Data:       data,
		Meta:       objectField(m, "meta"),
		ErrorMessage: firstString(
			stringField(m, "errorMessage", "error_message"),
			stringField(data, "errorMessage", "error_message"),
		),
	}

	if done, ok := m["done"].(bool); ok {
		ev.Done = done
	}

	for _, key := range []string{"content", "message", "delta", "text"} {
		if v, ok := m[key]; ok && v != nil {
			ev.Content = v
			break
		}
	}

	ev.Usage = objectField(m, "usage")
	if ev.Usage == nil {
		ev.Usage = objectField(message, "usage")
	}
	if ev.Usage == nil {
		ev.Usage = objectField(data, "usage")
	}
	if ev.Usage == nil {
		ev.Usage = objectField(ev.Meta, "usage")
	}

	if v, ok := m["error"]; ok && v != nil && v != false {
		ev.Err = v
	} else if ev.Stream != StreamLifecycle && ev.Stream != StreamTool && ev.Stream != StreamTools {
		if v, ok := data["error"]; ok && v != nil && v != false {
			ev.Err = v
		}
	}
	return ev
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func objectField(m map[string]any, key string) map[string]any {
	obj, _ := m[key].(map[string]any)
	return obj
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
