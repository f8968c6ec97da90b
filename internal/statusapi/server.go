// Package statusapi exposes a read-mostly HTTP view of the client state.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/dram/internal/canvas"
	"github.com/user/dram/internal/ratelimit"
	"github.com/user/dram/internal/state"
	"github.com/user/dram/internal/types"
)

// MessageSender submits a user message on behalf of an HTTP caller.
type MessageSender interface {
	SendMessage(ctx context.Context, text string) (types.RequestID, error)
}

// Server is a lightweight HTTP handler over the store.
type Server struct {
	store  *state.Store
	events *state.EventLog
	canvas *canvas.FileSink
	sender MessageSender
	logger *slog.Logger
	now    func() time.Time
	mux    *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

func WithEventLog(log *state.EventLog) Option { return func(s *Server) { s.events = log } }
func WithCanvas(c *canvas.FileSink) Option    { return func(s *Server) { s.canvas = c } }
func WithSender(m MessageSender) Option       { return func(s *Server) { s.sender = m } }
func WithLogger(l *slog.Logger) Option        { return func(s *Server) { s.logger = l } }

// NewServer creates a Server over store. Endpoints whose backing component is not
// configured answer 503.
func NewServer(store *state.Store, opts ...Option) *Server {
	s := &Server{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleMessages)
	s.mux.HandleFunc("POST /api/messages", s.handleSend)
	s.mux.HandleFunc("GET /api/models", s.handleModels)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/canvas", s.handleCanvasList)
	s.mux.HandleFunc("GET /api/canvas/{id}", s.handleCanvas)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	writeStatus(w, http.StatusOK, v)
}

func writeStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeStatus(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "connected": s.store.Connected()})
}

type sessionSummary struct {
	ID           types.SessionID `json:"id"`
	Name         string          `json:"name"`
	Current      bool            `json:"current"`
	MessageCount int             `json:"message_count"`
	Cost         float64         `json:"cost"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Requests     int             `json:"requests"`
	StartedAt    string          `json:"started_at"`
	Indicator    state.Indicator `json:"indicator"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	view := s.store.Snapshot()
	result := make([]sessionSummary, 0, len(view.Sessions))
	for _, sess := range view.Sessions {
		result = append(result, sessionSummary{
			ID:           sess.ID,
			Name:         sess.Name,
			Current:      sess.ID == view.CurrentSessionID,
			MessageCount: len(sess.Messages),
			Cost:         sess.SessionCost,
			InputTokens:  sess.SessionInputTokens,
			OutputTokens: sess.SessionOutputTokens,
			Requests:     sess.LocalRequestCount,
			StartedAt:    sess.SessionStartedAt.Format(time.RFC3339),
			Indicator:    sess.Indicator,
		})
	}
	writeJSON(w, result)
}

type messageView struct {
	ID        types.MessageID `json:"id"`
	Role      types.Role      `json:"role"`
	Content   string          `json:"content"`
	Display   string          `json:"display"`
	Streaming bool            `json:"streaming"`
	RunID     types.RunID     `json:"run_id,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Session(types.SessionID(r.PathValue("id")))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	result := make([]messageView, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		result = append(result, messageView{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Display:   m.Display(),
			Streaming: m.Streaming,
			RunID:     m.RunID,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, result)
}

// sendRequest is the JSON body for POST /api/messages.
type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "sending not configured")
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	id, err := s.sender.SendMessage(r.Context(), req.Text)
	if err != nil {
		s.logger.Error("send message failed", "error", err)
		writeError(w, http.StatusBadGateway, "send failed")
		return
	}
	writeStatus(w, http.StatusAccepted, map[string]string{"request_id": string(id)})
}

type modelView struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Limit    int                     `json:"limit"`
	Cooldown int                     `json:"cooldown"`
	Active   bool                    `json:"active"`
	Primary  bool                    `json:"primary"`
	Reset    *ratelimit.ResetSummary `json:"reset,omitempty"`
}

type routingView struct {
	Active        string      `json:"active"`
	UsingFallback bool        `json:"using_fallback"`
	Mode          string      `json:"mode"`
	ManualTarget  string      `json:"manual_target,omitempty"`
	Limit         int         `json:"limit"`
	FallbackChain []string    `json:"fallback_chain"`
	Models        []modelView `json:"models"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	rs := s.store.Routing()
	now := s.now()

	view := routingView{
		Active:        rs.CurrentActiveModelID,
		UsingFallback: rs.UsingFallback(),
		Mode:          string(rs.Mode),
		ManualTarget:  rs.ManualTarget,
		Limit:         rs.CurrentLimit,
		FallbackChain: append([]string{}, rs.FallbackChain...),
	}
	entry := func(e state.ModelEntry, primary bool) modelView {
		return modelView{
			ID:       e.ID,
			Name:     e.Name,
			Limit:    e.Limit,
			Cooldown: e.Cooldown,
			Active:   e.Active,
			Primary:  primary,
			Reset:    ratelimit.FormatResetSummary(e.ResetAt, now),
		}
	}
	if rs.Primary.ID != "" {
		view.Models = append(view.Models, entry(rs.Primary, true))
	}
	for _, id := range rs.EntryIDs() {
		view.Models = append(view.Models, entry(rs.Entries[id], false))
	}
	if view.Models == nil {
		view.Models = []modelView{}
	}
	writeJSON(w, view)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event recording not configured")
		return
	}
	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.events.Tail(r.Context(), limit)
	if err != nil {
		s.logger.Error("tail events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []state.Record{}
	}
	writeJSON(w, records)
}

func (s *Server) handleCanvasList(w http.ResponseWriter, r *http.Request) {
	if s.canvas == nil {
		writeError(w, http.StatusServiceUnavailable, "canvas not configured")
		return
	}
	metas, err := s.canvas.List()
	if err != nil {
		s.logger.Error("list canvas failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, metas)
}

func (s *Server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	if s.canvas == nil {
		writeError(w, http.StatusServiceUnavailable, "canvas not configured")
		return
	}
	id := r.PathValue("id")
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	data, meta, err := s.canvas.Get(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "canvas payload not found")
			return
		}
		s.logger.Error("read canvas failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if meta != nil && meta.Type == types.CanvasHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.Write([]byte(data))
}
