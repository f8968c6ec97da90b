package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/user/dram/internal/chat"
	"github.com/user/dram/internal/errtext"
	"github.com/user/dram/internal/routing"
	"github.com/user/dram/internal/state"
)

// Router sends each inbound frame to the component that owns it: chat and agent events
// to the reducer, metadata to the reconciler.
type Router struct {
	reducer    *chat.Reducer
	reconciler *routing.Reconciler
	recorder   *state.EventLog
	logger     *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRecorder appends every inbound frame to an event log before routing it.
func WithRecorder(log *state.EventLog) RouterOption {
	return func(r *Router) { r.recorder = log }
}

func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

func NewRouter(reducer *chat.Reducer, reconciler *routing.Reconciler, opts ...RouterOption) *Router {
	r := &Router{reducer: reducer, reconciler: reconciler, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle routes one frame. Malformed payloads are logged and skipped; only a recorder
// failure is returned.
func (r *Router) Handle(ctx context.Context, f Frame) error {
	if r.recorder != nil && len(f.Raw) > 0 {
		if _, err := r.recorder.Append(ctx, f.Raw); err != nil {
			return fmt.Errorf("record frame: %w", err)
		}
	}

	switch f.Type {
	case FrameEvent:
		r.event(f)
	case FrameResponse:
		r.response(f)
	default:
		r.logger.Debug("ignoring frame", "type", f.Type)
	}
	return nil
}

func (r *Router) event(f Frame) {
	switch f.Event {
	case EventChat, EventAgent:
		ev, err := chat.ParseEvent(f.Payload)
		if err != nil {
			r.logger.Warn("bad chat event", "event", f.Event, "error", err)
			return
		}
		r.reducer.Handle(ev)
		if snap := routing.SnapshotFromMap(ev.Meta); snap.Model != "" || len(snap.ModelOrder) > 0 {
			r.reconciler.Apply(snap)
		}
	case EventModels, EventModelsStatus:
		r.snapshot(f.Payload)
	case EventUsage:
		r.usage(f.Payload)
	default:
		r.logger.Debug("ignoring event", "event", f.Event)
	}
}

func (r *Router) response(f Frame) {
	if f.Failed() {
		var payload any = string(f.Error)
		var obj map[string]any
		if json.Unmarshal(f.Error, &obj) == nil {
			payload = obj
		}
		r.logger.Warn("request failed", "id", f.ID, "error", errtext.Message(payload), "kind", errtext.Classify(errtext.Message(payload)))
		return
	}
	if bytes.Contains(f.Payload, []byte(`"models"`)) || bytes.Contains(f.Payload, []byte(`"model"`)) {
		r.snapshot(f.Payload)
	}
}

func (r *Router) snapshot(payload json.RawMessage) {
	snap, err := routing.ParseSnapshot(payload)
	if err != nil {
		r.logger.Warn("bad metadata snapshot", "error", err)
		return
	}
	if snap.Empty() {
		return
	}
	r.reconciler.Apply(snap)
}

// usage accepts either {"usage": {...}} or a bare usage object.
func (r *Router) usage(payload json.RawMessage) {
	snap, err := routing.ParseSnapshot(payload)
	if err != nil {
		r.logger.Warn("bad usage event", "error", err)
		return
	}
	if snap.Usage == nil {
		var obj map[string]any
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if dec.Decode(&obj) != nil || obj == nil {
			return
		}
		snap.Usage = obj
	}
	r.reconciler.Apply(snap)
}
