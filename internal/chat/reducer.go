// Package chat reduces the backend's streamed events into transcript mutations. Each
// run is bound to the session its first event names and keeps its own thinking buffer,
// worklog and speech buffer until a terminal event.
package chat

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/dram/internal/canvas"
	"github.com/user/dram/internal/errtext"
	"github.com/user/dram/internal/pricing"
	"github.com/user/dram/internal/state"
	"github.com/user/dram/internal/types"
)

// Reducer applies events to a state.Store. Collaborators are optional; a nil sink simply
// disables that output.
type Reducer struct {
	mu     sync.Mutex
	store  *state.Store
	logger *slog.Logger

	canvas     types.CanvasSink
	voice      types.VoiceSink
	translator types.ErrorTranslator
	counter    types.TokenCounter
	prices     *pricing.Table

	maxRuns        int
	maxCanvasRuns  int
	worklogLimit   int
	minCanvasBytes int

	runs      *runTable
	rendered  *boundedSet
	accounted *boundedSet
	failed    *boundedSet
}

// Option configures a Reducer.
type Option func(*Reducer)

func WithLogger(l *slog.Logger) Option             { return func(r *Reducer) { r.logger = l } }
func WithCanvasSink(s types.CanvasSink) Option     { return func(r *Reducer) { r.canvas = s } }
func WithVoiceSink(s types.VoiceSink) Option       { return func(r *Reducer) { r.voice = s } }
func WithTokenCounter(c types.TokenCounter) Option { return func(r *Reducer) { r.counter = c } }
func WithPricing(t *pricing.Table) Option          { return func(r *Reducer) { r.prices = t } }

func WithErrorTranslator(t types.ErrorTranslator) Option {
	return func(r *Reducer) { r.translator = t }
}

// WithLimits overrides the run table size, the canvas registry size and the worklog
// character cap. Non-positive values keep the defaults.
func WithLimits(maxRuns, maxCanvasRuns, worklogLimit int) Option {
	return func(r *Reducer) {
		if maxRuns > 0 {
			r.maxRuns = maxRuns
		}
		if maxCanvasRuns > 0 {
			r.maxCanvasRuns = maxCanvasRuns
		}
		if worklogLimit > 0 {
			r.worklogLimit = worklogLimit
		}
	}
}

// WithMinCanvasBytes skips canvas extraction for blocks shorter than n bytes.
func WithMinCanvasBytes(n int) Option {
	return func(r *Reducer) { r.minCanvasBytes = n }
}

// New creates a reducer over store.
func New(store *state.Store, opts ...Option) *Reducer {
	r := &Reducer{
		store:         store,
		logger:        slog.Default(),
		translator:    errtext.Translator{},
		prices:        pricing.Default(),
		maxRuns:       DefaultMaxRuns,
		maxCanvasRuns: DefaultMaxCanvasRuns,
		worklogLimit:  DefaultWorklogLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.reset()
	return r
}

// Reset drops all per-run bookkeeping.
func (r *Reducer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

func (r *Reducer) reset() {
	r.runs = newRunTable(r.maxRuns)
	r.rendered = newBoundedSet(r.maxCanvasRuns)
	r.accounted = newBoundedSet(r.maxCanvasRuns)
	r.failed = newBoundedSet(r.maxCanvasRuns)
}

// ActiveRuns returns the number of runs with live bookkeeping.
func (r *Reducer) ActiveRuns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs.len()
}

// Thinking returns the run's accumulated thinking text.
func (r *Reducer) Thinking(id types.RunID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rn, ok := r.runs.get(id); ok {
		return rn.thinking
	}
	return ""
}

// Worklog returns the run's narrative log.
func (r *Reducer) Worklog(id types.RunID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rn, ok := r.runs.get(id); ok {
		return rn.worklog
	}
	return ""
}

// RunSession returns the session a live run is bound to.
func (r *Reducer) RunSession(id types.RunID) (types.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rn, ok := r.runs.get(id); ok {
		return rn.session, true
	}
	return "", false
}

// HandleRaw decodes and applies one event.
func (r *Reducer) HandleRaw(data []byte) error {
	ev, err := ParseEvent(data)
	if err != nil {
		return err
	}
	r.Handle(ev)
	return nil
}

// Handle applies one event. Events of the same run must arrive in order.
func (r *Reducer) Handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn := r.track(ev)

	if ev.Failed() {
		r.fail(rn, ev)
		return
	}

	switch {
	case ev.Stream == StreamLifecycle:
		r.lifecycle(rn, ev)
	case ev.Stream == StreamTool || ev.Stream == StreamTools:
		r.narrate(rn, toolLine(ev.Data))
	case ev.Stream == StreamThinking || ev.Stream == StreamReasoning:
		text := FlattenContent(ev.Content)
		if text == "" {
			text = FlattenContent(ev.Data)
		}
		r.think(rn, text)
	case isPhase(ev.Stream):
		r.narrate(rn, phaseLine(ev.Stream, ev.Data))
	default:
		r.content(rn, ev)
	}
}

// track returns the run for ev, creating and binding it on first sight. The binding
// never changes afterwards. Events without a run id get a throwaway run.
func (r *Reducer) track(ev Event) *run {
	if ev.RunID != "" {
		if rn, ok := r.runs.get(ev.RunID); ok {
			return rn
		}
	}

	session := types.SessionID(ev.SessionKey)
	if session != "" && !r.store.HasSession(session) {
		// Replayed or foreign session keys land in the session on screen.
		r.logger.Info("unknown session, using current", "run_id", ev.RunID, "session_key", ev.SessionKey)
		session = ""
	}
	if session == "" {
		session = r.store.CurrentSessionID()
	}
	rn := &run{id: ev.RunID, session: session, startedAt: time.Now()}
	if ev.RunID == "" {
		return rn
	}

	if evicted := r.runs.add(rn); evicted != nil {
		r.logger.Debug("run evicted", "run_id", evicted.id, "session_id", evicted.session)
	}
	r.logger.Debug("run started", "run_id", rn.id, "session_id", rn.session)
	return rn
}

func (r *Reducer) lifecycle(rn *run, ev Event) {
	phase := ev.Phase()
	switch phase {
	case "":
		return
	case "fallback":
		r.narrate(rn, phaseLine(phase, ev.Data))
		r.fallbackNotice(rn, fallbackModel(ev.Data), stringField(ev.Data, "reason"))
	case "end":
		r.narrate(rn, phaseLine(phase, ev.Data))
		r.finish(rn, ev)
	case "error":
		if ev.ErrorMessage == "" && ev.Err == nil {
			ev.ErrorMessage = stringField(ev.Data, "error", "errorMessage", "message")
		}
		if ev.ErrorMessage == "" && ev.Err == nil {
			ev.ErrorMessage = "run failed"
		}
		r.fail(rn, ev)
	default:
		r.narrate(rn, phaseLine(phase, ev.Data))
	}
}

func (r *Reducer) content(rn *run, ev Event) {
	if thinking := ThinkingContent(ev.Content); thinking != "" {
		r.think(rn, thinking)
	}

	text := FlattenContent(ev.Content)
	if text == "" && ev.Stream == StreamAssistant {
		if thinking, ok := ev.Data["thinking"].(string); ok {
			r.think(rn, thinking)
		}
		text = FlattenContent(ev.Data)
	}

	terminal := ev.State == StateFinal || ev.State == StateAborted || ev.Done
	if text != "" {
		if added := r.appendContent(rn, text, terminal); added != "" {
			r.speak(rn, added)
		}
		if !terminal {
			r.setIndicator(rn, "Responding")
		}
	}
	if terminal {
		r.finish(rn, ev)
	}
}

// appendContent merges text into the run's open assistant message, or starts one. It
// returns the text actually added.
func (r *Reducer) appendContent(rn *run, text string, terminal bool) string {
	var added string
	r.store.MutateSession(rn.session, func(s *state.Session) {
		last := s.LastMessage()
		if openFor(last, rn.id) {
			if !last.Streaming && !strings.HasPrefix(text, last.Content) {
				return
			}
			last.Content, added = mergeChunk(last.Content, text)
			return
		}
		if terminal && last != nil && last.Role == types.RoleAssistant && last.Content == text {
			return
		}
		s.AppendMessage(types.Message{
			Role:      types.RoleAssistant,
			Content:   text,
			Streaming: true,
			RunID:     rn.id,
		})
		added = text
	})
	return added
}

// openFor reports whether m is the assistant message a run's content belongs to.
func openFor(m *types.Message, id types.RunID) bool {
	if m == nil || m.Role != types.RoleAssistant {
		return false
	}
	if id != "" && m.RunID == id {
		return true
	}
	return m.Streaming && (m.RunID == "" || id == "")
}

// runMessage finds the run's assistant message in the current turn.
func runMessage(s *state.Session, id types.RunID) *types.Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := &s.Messages[i]
		if m.Role == types.RoleUser {
			return nil
		}
		if m.Role != types.RoleAssistant {
			continue
		}
		if id != "" {
			if m.RunID == id {
				return m
			}
			continue
		}
		if m.Streaming {
			return m
		}
	}
	return nil
}

func (r *Reducer) think(rn *run, text string) {
	if text == "" {
		return
	}
	rn.thinking += text
	r.setIndicator(rn, "Thinking")
}

func (r *Reducer) narrate(rn *run, line string) {
	if !appendWorklog(rn, line, r.worklogLimit) {
		return
	}
	status, _, _ := strings.Cut(rn.lastEntry, "\n")
	r.setIndicator(rn, status)
}

func (r *Reducer) setIndicator(rn *run, text string) {
	r.store.MutateSession(rn.session, func(s *state.Session) {
		s.Indicator = state.Indicator{Active: true, Text: text}
	})
}

// fallbackNotice adds a system line naming the model the backend switched to. It goes
// before the run's open message so streaming can continue into that message.
func (r *Reducer) fallbackNotice(rn *run, model, reason string) {
	notice := "Switched to a fallback model"
	if model != "" {
		notice = "Switched to " + model
	}
	if reason != "" {
		notice += " (" + reason + ")"
	}
	r.setIndicator(rn, notice)

	r.store.MutateSession(rn.session, func(s *state.Session) {
		last := s.LastMessage()
		if last != nil && last.Streaming && openFor(last, rn.id) {
			open := *last
			s.Messages = s.Messages[:len(s.Messages)-1]
			s.AppendMessage(types.Message{Role: types.RoleSystem, Content: notice, RunID: rn.id})
			s.Messages = append(s.Messages, open)
			return
		}
		s.AppendMessage(types.Message{Role: types.RoleSystem, Content: notice, RunID: rn.id})
	})
	r.logger.Info("backend fell back", "run_id", rn.id, "model", model, "reason", reason)
}

// speak queues every complete sentence of the buffered text when voice mode is on.
func (r *Reducer) speak(rn *run, text string) {
	if !r.voiced(rn) {
		return
	}
	rn.speech += text
	sentences, rest := splitSentences(rn.speech)
	rn.speech = rest
	for _, s := range sentences {
		r.queueVoice(rn, s)
	}
}

func (r *Reducer) flushSpeech(rn *run) {
	rest := strings.TrimSpace(rn.speech)
	rn.speech = ""
	if rest == "" || !r.voiced(rn) {
		return
	}
	r.queueVoice(rn, rest)
}

// voiced reports whether rn's text should be spoken. Only the session on
// screen is spoken; background runs stay silent.
func (r *Reducer) voiced(rn *run) bool {
	return r.voice != nil && r.store.VoiceMode() && rn.session == r.store.CurrentSessionID()
}

func (r *Reducer) queueVoice(rn *run, text string) {
	if err := r.voice.QueueVoiceResponse(text); err != nil {
		r.logger.Warn("voice queue failed", "run_id", rn.id, "error", err)
	}
}

// finish runs terminal cleanup: freeze the message, flush speech, extract the canvas
// payload, account usage and drop the run.
func (r *Reducer) finish(rn *run, ev Event) {
	var (
		final string
		msgID types.MessageID
	)
	r.store.MutateSession(rn.session, func(s *state.Session) {
		s.Indicator = state.Indicator{}
		if m := runMessage(s, rn.id); m != nil {
			m.Streaming = false
			final = m.Content
			msgID = m.ID
		}
	})

	r.flushSpeech(rn)
	if final != "" {
		r.extractCanvas(rn, msgID, final)
	}
	if ev.Usage != nil {
		r.account(rn, ev, final)
	}

	r.runs.remove(rn.id)
	r.logger.Debug("run finished", "run_id", rn.id, "session_id", rn.session, "duration", time.Since(rn.startedAt))
}

// extractCanvas moves a large payload out of the transcript, at most once per run.
func (r *Reducer) extractCanvas(rn *run, msgID types.MessageID, text string) {
	key := string(rn.id)
	if key == "" {
		key = string(msgID)
	}
	if r.rendered.has(key) {
		return
	}
	b, ok := canvas.Extract(text)
	if !ok || len(b.Content) < r.minCanvasBytes {
		return
	}
	r.rendered.add(key)
	if r.canvas == nil {
		return
	}

	opts := types.CanvasOptions{Type: b.Type, Language: b.Language, RunID: rn.id}
	if err := r.canvas.PushToCanvas(b.Content, opts); err != nil {
		r.logger.Warn("canvas push failed", "run_id", rn.id, "error", err)
		return
	}

	stub := canvas.Replace(text, b)
	r.store.MutateSession(rn.session, func(s *state.Session) {
		for i := len(s.Messages) - 1; i >= 0; i-- {
			if s.Messages[i].ID == msgID {
				s.Messages[i].DisplayedContent = stub
				return
			}
		}
	})
}

// account adds the run's usage to its bound session, once per run.
func (r *Reducer) account(rn *run, ev Event, final string) {
	rep := parseUsage(ev.Usage)
	if rep.empty() {
		return
	}
	if rn.id != "" && !r.accounted.add(string(rn.id)) {
		return
	}

	model := firstString(rep.model, stringField(ev.Meta, "model"), stringField(ev.Data, "model"))
	if model == "" {
		model = r.store.Routing().CurrentActiveModelID
	}
	provider := rep.provider
	if provider == "" {
		provider = providerOf(model)
	}
	if !rep.hasOutput && r.counter != nil {
		rep.output = r.counter.Count(final)
	}
	cost := rep.cost
	if !rep.hasCost && r.prices != nil {
		cost = r.prices.Cost(model, rep.input, rep.output)
	}

	r.store.MutateSession(rn.session, func(s *state.Session) {
		s.RecordUsage(provider, model, rep.input, rep.output, cost)
	})
	r.logger.Debug("usage recorded", "run_id", rn.id, "model", model, "input", rep.input, "output", rep.output, "cost", cost)
}

// fail handles a backend-reported error: cleanup as terminal plus exactly one
// translated assistant message per run.
func (r *Reducer) fail(rn *run, ev Event) {
	var payload any = ev.Err
	if ev.ErrorMessage != "" {
		payload = ev.ErrorMessage
	}

	r.flushSpeech(rn)
	r.runs.remove(rn.id)

	first := rn.id == "" || r.failed.add(string(rn.id))
	msg := ""
	if first {
		msg = r.translator.Humanize(payload)
	}

	r.store.MutateSession(rn.session, func(s *state.Session) {
		s.Indicator = state.Indicator{}
		if m := runMessage(s, rn.id); m != nil {
			m.Streaming = false
		}
		if msg != "" {
			s.AppendMessage(types.Message{Role: types.RoleAssistant, Content: msg})
		}
	})
	r.logger.Warn("run failed", "run_id", rn.id, "session_id", rn.session, "error", errtext.Message(payload))
}
