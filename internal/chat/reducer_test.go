// internal/chat/reducer_test.go
package chat

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/user/dram/internal/pricing"
	"github.com/user/dram/internal/state"
	"github.com/user/dram/internal/types"
)

type canvasPush struct {
	content string
	opts    types.CanvasOptions
}

type mockCanvas struct {
	pushes []canvasPush
}

func (m *mockCanvas) PushToCanvas(content string, opts types.CanvasOptions) error {
	m.pushes = append(m.pushes, canvasPush{content: content, opts: opts})
	return nil
}

type mockVoice struct {
	queued []string
}

func (m *mockVoice) QueueVoiceResponse(text string) error {
	m.queued = append(m.queued, text)
	return nil
}

type mockTranslator struct {
	calls int
}

func (m *mockTranslator) Humanize(err any) string {
	m.calls++
	return fmt.Sprintf("translated: %v", err)
}

type fixedCounter int

func (c fixedCounter) Count(string) int { return int(c) }

func newTestReducer(t *testing.T, opts ...Option) (*Reducer, *state.Store) {
	t.Helper()
	store := state.New()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(store, opts...), store
}

func delta(run, text string) Event {
	return Event{RunID: types.RunID(run), State: StateDelta, Content: text}
}

func final(run, text string) Event {
	return Event{RunID: types.RunID(run), State: StateFinal, Content: text}
}

func messages(store *state.Store) []types.Message {
	return store.Current().Messages
}

func TestContentAppendIdempotence(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(delta("r1", "Hello"))
	r.Handle(delta("r1", "Hello world"))

	msgs := messages(store)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Content != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", msgs[0].Content)
	}
	if !msgs[0].Streaming {
		t.Error("message should still be streaming")
	}
}

func TestContentDeltasAppend(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(delta("r1", "Hel"))
	r.Handle(delta("r1", "lo"))
	r.Handle(Event{RunID: "r1", State: StateDelta, Content: []any{map[string]any{"type": "text", "text": "!"}}})

	if got := messages(store)[0].Content; got != "Hello!" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestMalformedContentNoMutation(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(Event{RunID: "r1", State: StateDelta, Content: 42})
	r.Handle(Event{RunID: "r1", State: StateDelta, Content: map[string]any{"unknown": true}})
	if n := len(messages(store)); n != 0 {
		t.Errorf("expected no messages, got %d", n)
	}
}

func TestRunBindingIsImmutable(t *testing.T) {
	r, store := newTestReducer(t)
	a := store.CurrentSessionID()
	b := store.CreateSession("", "B").ID
	store.SwitchSession(a)

	r.Handle(Event{RunID: "r1", SessionKey: string(b), State: StateDelta, Content: "Hi"})
	r.Handle(Event{RunID: "r1", SessionKey: string(a), State: StateDelta, Content: " there"})
	r.Handle(Event{RunID: "r1", State: StateDelta, Content: "!"})

	if n := len(messages(store)); n != 0 {
		t.Errorf("session A should be untouched, has %d messages", n)
	}
	sb, _ := store.Session(b)
	if len(sb.Messages) != 1 || sb.Messages[0].Content != "Hi there!" {
		t.Errorf("unexpected session B messages %+v", sb.Messages)
	}
	if got, _ := r.RunSession("r1"); got != b {
		t.Errorf("expected binding to B, got %s", got)
	}
}

func TestRunBindingDefaultsToCurrent(t *testing.T) {
	r, store := newTestReducer(t)
	a := store.CurrentSessionID()
	r.Handle(delta("r1", "x"))
	store.CreateSession("", "")
	r.Handle(delta("r1", "y"))

	sa, _ := store.Session(a)
	if len(sa.Messages) != 1 || sa.Messages[0].Content != "xy" {
		t.Errorf("run should stay on its first session: %+v", sa.Messages)
	}
}

func TestWorklogDedup(t *testing.T) {
	r, _ := newTestReducer(t)
	tool := Event{Stream: StreamTool, RunID: "r1", Data: map[string]any{"name": "bash", "status": "start", "command": "ls -la"}}
	r.Handle(tool)
	r.Handle(tool)

	if got := r.Worklog("r1"); got != "[tool:bash] start\nls -la" {
		t.Errorf("unexpected worklog %q", got)
	}

	r.Handle(Event{Stream: StreamTool, RunID: "r1", Data: map[string]any{"name": "bash", "status": "done"}})
	r.Handle(tool)
	if n := strings.Count(r.Worklog("r1"), "[tool:bash] start"); n != 2 {
		t.Errorf("only consecutive duplicates are suppressed, got %d occurrences", n)
	}
}

func TestWorklogKeepsMostRecent(t *testing.T) {
	r, _ := newTestReducer(t, WithLimits(0, 0, 50))
	for i := 0; i <= 20; i++ {
		r.Handle(Event{Stream: "search", RunID: "r1", Data: map[string]any{"query": fmt.Sprintf("q%d", i)}})
	}
	got := r.Worklog("r1")
	if len(got) > 50 {
		t.Errorf("worklog exceeds cap: %d", len(got))
	}
	if !strings.HasSuffix(got, "Searching: q20") {
		t.Errorf("expected most recent entry at the end, got %q", got)
	}
}

func TestWorklogTrimIsRuneSafe(t *testing.T) {
	rn := &run{}
	appendWorklog(rn, strings.Repeat("é", 9), 10)
	if !utf8.ValidString(rn.worklog) || len(rn.worklog) > 10 {
		t.Errorf("bad trim %q", rn.worklog)
	}
}

func TestToolCommandPreview(t *testing.T) {
	r, _ := newTestReducer(t)
	long := strings.Repeat("a", 200)
	r.Handle(Event{Stream: StreamTools, RunID: "r1", Data: map[string]any{"name": "bash", "phase": "start", "args": map[string]any{"command": long}}})

	want := "[tool:bash] start\n" + strings.Repeat("a", 140) + "…"
	if got := r.Worklog("r1"); got != want {
		t.Errorf("unexpected worklog %q", got)
	}
}

func TestLifecyclePhases(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(Event{Stream: StreamLifecycle, RunID: "r1", Data: map[string]any{"phase": "start"}})
	r.Handle(Event{Stream: StreamLifecycle, RunID: "r1", Data: map[string]any{"phase": "plan", "text": "outline"}})
	r.Handle(Event{Stream: StreamLifecycle, RunID: "r1", Data: map[string]any{"phase": "retrieve", "url": "https://example.com"}})

	want := "Run started\nPlanning: outline\nReading: https://example.com"
	if got := r.Worklog("r1"); got != want {
		t.Errorf("unexpected worklog %q", got)
	}
	if ind := store.Current().Indicator; !ind.Active || ind.Text != "Reading: https://example.com" {
		t.Errorf("unexpected indicator %+v", ind)
	}
}

func TestFallbackNarration(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(delta("r1", "Part one"))
	r.Handle(Event{Stream: StreamLifecycle, RunID: "r1", Data: map[string]any{"phase": "fallback", "model": "openai/gpt-4o", "reason": "rate limited"}})

	cur := store.Current()
	if cur.Indicator.Text != "Switched to openai/gpt-4o (rate limited)" {
		t.Errorf("unexpected indicator %+v", cur.Indicator)
	}
	if len(cur.Messages) != 2 || cur.Messages[0].Role != types.RoleSystem {
		t.Fatalf("expected system notice before the open message, got %+v", cur.Messages)
	}
	if !strings.Contains(cur.Messages[0].Content, "openai/gpt-4o") {
		t.Errorf("notice should name the model: %q", cur.Messages[0].Content)
	}
	if !strings.Contains(r.Worklog("r1"), "Falling back to openai/gpt-4o") {
		t.Errorf("unexpected worklog %q", r.Worklog("r1"))
	}

	r.Handle(delta("r1", " and two"))
	msgs := messages(store)
	if len(msgs) != 2 || msgs[1].Content != "Part one and two" {
		t.Errorf("streaming should continue into the same message: %+v", msgs)
	}
}

func TestCanvasSingleExtraction(t *testing.T) {
	sink := &mockCanvas{}
	r, store := newTestReducer(t, WithCanvasSink(sink))
	text := "Here you go:\n```html\n<h1>Hi</h1>\n```"

	r.Handle(final("r1", text))
	r.Handle(final("r1", text))

	if len(sink.pushes) != 1 {
		t.Fatalf("expected exactly one canvas push, got %d", len(sink.pushes))
	}
	push := sink.pushes[0]
	if push.content != "<h1>Hi</h1>" || push.opts.Type != types.CanvasHTML || push.opts.RunID != "r1" {
		t.Errorf("unexpected push %+v", push)
	}

	msgs := messages(store)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Content != text {
		t.Error("full content must be kept")
	}
	if !strings.Contains(msgs[0].DisplayedContent, "opened in canvas") || strings.Contains(msgs[0].DisplayedContent, "<h1>") {
		t.Errorf("unexpected displayed content %q", msgs[0].DisplayedContent)
	}
	if msgs[0].Streaming {
		t.Error("message should be frozen")
	}
}

func TestCanvasRegistryBounded(t *testing.T) {
	sink := &mockCanvas{}
	r, _ := newTestReducer(t, WithCanvasSink(sink), WithLimits(0, 2, 0))
	for i := range 3 {
		r.Handle(final(fmt.Sprintf("r%d", i), fmt.Sprintf("```go\nx%d\n```", i)))
	}
	if r.rendered.len() != 2 {
		t.Errorf("expected registry of 2, got %d", r.rendered.len())
	}
	if r.rendered.has("r0") {
		t.Error("oldest entry should be evicted")
	}
}

func TestSpeechSegmentation(t *testing.T) {
	voice := &mockVoice{}
	r, store := newTestReducer(t, WithVoiceSink(voice))
	store.SetVoiceMode(true)

	r.Handle(delta("r1", "Hello there. How"))
	r.Handle(delta("r1", " are you? Fine"))
	if !reflect.DeepEqual(voice.queued, []string{"Hello there.", "How are you?"}) {
		t.Errorf("unexpected queue before final %v", voice.queued)
	}

	r.Handle(Event{RunID: "r1", State: StateFinal})
	if !reflect.DeepEqual(voice.queued, []string{"Hello there.", "How are you?", "Fine"}) {
		t.Errorf("remainder should flush on final, got %v", voice.queued)
	}
}

func TestSpeechOnlyInVoiceMode(t *testing.T) {
	voice := &mockVoice{}
	r, _ := newTestReducer(t, WithVoiceSink(voice))
	r.Handle(delta("r1", "Hello there. Bye."))
	r.Handle(Event{RunID: "r1", State: StateFinal})
	if len(voice.queued) != 0 {
		t.Errorf("expected nothing spoken, got %v", voice.queued)
	}
}

func TestSpeechOnlyForCurrentSession(t *testing.T) {
	voice := &mockVoice{}
	r, store := newTestReducer(t, WithVoiceSink(voice))
	store.SetVoiceMode(true)
	a := store.CurrentSessionID()
	b := store.CreateSession("", "B").ID
	store.SwitchSession(a)

	r.Handle(Event{RunID: "bg", SessionKey: string(b), State: StateDelta, Content: "Background. Still"})
	r.Handle(Event{RunID: "bg", State: StateFinal})
	r.Handle(delta("fg", "Foreground."))
	r.Handle(Event{RunID: "fg", State: StateFinal})

	if !reflect.DeepEqual(voice.queued, []string{"Foreground."}) {
		t.Errorf("only the current session should be spoken, got %v", voice.queued)
	}
	sb, _ := store.Session(b)
	if len(sb.Messages) != 1 || sb.Messages[0].Content != "Background. Still" {
		t.Errorf("background transcript should still update, got %+v", sb.Messages)
	}
}

func TestUnknownSessionKeyUsesCurrent(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(Event{RunID: "r1", SessionKey: "recorded-session-from-earlier-process", State: StateFinal, Content: "Hello there"})

	if n := len(store.Sessions()); n != 1 {
		t.Errorf("no session should be created, got %d", n)
	}
	msgs := messages(store)
	if len(msgs) != 1 || msgs[0].Content != "Hello there" {
		t.Fatalf("expected message in current session, got %+v", msgs)
	}
	if got, ok := r.RunSession("r1"); ok {
		t.Errorf("final run should be gone, still bound to %s", got)
	}

	r.Handle(Event{RunID: "r2", SessionKey: "other-unknown", State: StateDelta, Content: "Hi"})
	if got, _ := r.RunSession("r2"); got != store.CurrentSessionID() {
		t.Errorf("run should bind to current session, got %s", got)
	}
}

func TestUsageTargetsBoundSession(t *testing.T) {
	r, store := newTestReducer(t)
	a := store.CurrentSessionID()
	b := store.CreateSession("", "B").ID
	store.SwitchSession(a)

	r.Handle(Event{RunID: "r1", SessionKey: string(b), State: StateDelta, Content: "Answer"})
	r.Handle(Event{RunID: "r1", State: StateFinal, Usage: map[string]any{
		"input_tokens": 1000, "output_tokens": 500, "cost": 0.5, "model": "anthropic/claude-3",
	}})

	sb, _ := store.Session(b)
	if sb.SessionCost != 0.5 || sb.SessionInputTokens != 1000 || sb.SessionOutputTokens != 500 || sb.LocalRequestCount != 1 {
		t.Errorf("unexpected B counters %+v", sb)
	}
	if p := sb.LocalProviderRequests["anthropic"]; p.Requests != 1 {
		t.Errorf("unexpected provider usage %+v", sb.LocalProviderRequests)
	}
	if m := sb.LocalModelUsage["anthropic/claude-3"]; m.OutputTokens != 500 {
		t.Errorf("unexpected model usage %+v", sb.LocalModelUsage)
	}

	sa := store.Current()
	if sa.SessionCost != 0 || sa.LocalRequestCount != 0 {
		t.Errorf("session A should be untouched: %+v", sa)
	}
}

func TestUsageCostFromPricing(t *testing.T) {
	table := pricing.New(map[string]pricing.Rate{"claude-3": {InputPerMTok: 1, OutputPerMTok: 2}}, pricing.Rate{})
	r, store := newTestReducer(t, WithPricing(table), WithTokenCounter(fixedCounter(7)))

	r.Handle(delta("r1", "some reply"))
	r.Handle(Event{RunID: "r1", State: StateFinal, Usage: map[string]any{"input": 1_000_000, "model": "anthropic/claude-3", "cost": "n/a"}})

	cur := store.Current()
	if cur.SessionOutputTokens != 7 {
		t.Errorf("expected estimated output tokens, got %d", cur.SessionOutputTokens)
	}
	if math.Abs(cur.SessionCost-1.000014) > 1e-9 {
		t.Errorf("unexpected cost %v", cur.SessionCost)
	}
}

func TestUsageWithoutFiguresIgnored(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(Event{RunID: "r1", State: StateFinal, Content: "x", Usage: map[string]any{"rateLimitRemainingPercent": 40}})
	if store.Current().LocalRequestCount != 0 {
		t.Error("a usage block without token or cost figures should not count")
	}
}

func TestUsageCountedOncePerRun(t *testing.T) {
	r, store := newTestReducer(t)
	usage := map[string]any{"input": 10, "output": 5, "cost": 0.01}
	r.Handle(Event{RunID: "r1", State: StateFinal, Content: "x", Usage: usage})
	r.Handle(Event{RunID: "r1", Stream: StreamLifecycle, Data: map[string]any{"phase": "end"}, Usage: usage})
	if n := store.Current().LocalRequestCount; n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestErrorShortCircuit(t *testing.T) {
	tr := &mockTranslator{}
	r, store := newTestReducer(t, WithErrorTranslator(tr))

	r.Handle(Event{Stream: StreamThinking, RunID: "r1", Content: "hmm"})
	r.Handle(delta("r1", "Partial"))
	r.Handle(Event{RunID: "r1", State: StateError, ErrorMessage: "429 Too Many Requests"})

	msgs := messages(store)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %+v", msgs)
	}
	if msgs[0].Streaming {
		t.Error("partial message should be frozen")
	}
	if msgs[1].Role != types.RoleAssistant || msgs[1].Content != "translated: 429 Too Many Requests" {
		t.Errorf("unexpected error message %+v", msgs[1])
	}
	if store.Current().Indicator.Active {
		t.Error("indicator should be cleared")
	}
	if r.ActiveRuns() != 0 || r.Thinking("r1") != "" {
		t.Error("run bookkeeping should be dropped")
	}

	r.Handle(Event{RunID: "r1", State: StateError, ErrorMessage: "429 Too Many Requests"})
	if n := len(messages(store)); n != 2 || tr.calls != 1 {
		t.Errorf("a repeated error must not add another message: %d messages, %d calls", n, tr.calls)
	}
}

func TestDefaultTranslatorIsHumanReadable(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(Event{RunID: "r1", Err: map[string]any{"type": "overloaded_error", "message": "Overloaded"}})
	msgs := messages(store)
	if len(msgs) != 1 || strings.Contains(msgs[0].Content, "overloaded_error") {
		t.Errorf("unexpected error message %+v", msgs)
	}
}

func TestRunEvictionTreatsRunAsFresh(t *testing.T) {
	r, store := newTestReducer(t, WithLimits(2, 0, 0))
	a := store.CurrentSessionID()
	b := store.CreateSession("", "B").ID
	store.SwitchSession(a)

	r.Handle(delta("r1", "one"))
	r.Handle(delta("r2", "two"))
	r.Handle(delta("r3", "three"))

	if r.ActiveRuns() != 2 {
		t.Errorf("expected 2 active runs, got %d", r.ActiveRuns())
	}
	if _, ok := r.RunSession("r1"); ok {
		t.Fatal("r1 should have been evicted")
	}

	r.Handle(Event{RunID: "r1", SessionKey: string(b), State: StateDelta, Content: "again"})
	if got, _ := r.RunSession("r1"); got != b {
		t.Errorf("evicted run should rebind as fresh, got %s", got)
	}
	sb, _ := store.Session(b)
	if len(sb.Messages) != 1 {
		t.Errorf("expected message in B, got %+v", sb.Messages)
	}
}

func TestTerminalCleanup(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(Event{Stream: StreamThinking, RunID: "r1", Data: map[string]any{"text": "pondering"}})
	r.Handle(Event{Stream: StreamTool, RunID: "r1", Data: map[string]any{"name": "search"}})

	if r.Thinking("r1") != "pondering" {
		t.Errorf("unexpected thinking %q", r.Thinking("r1"))
	}
	if r.Worklog("r1") != "[tool:search] call" {
		t.Errorf("unexpected worklog %q", r.Worklog("r1"))
	}

	r.Handle(final("r1", "answer"))
	if r.ActiveRuns() != 0 || r.Thinking("r1") != "" || r.Worklog("r1") != "" {
		t.Error("terminal event should drop run buffers")
	}
	if store.Current().Indicator.Active {
		t.Error("indicator should be cleared")
	}
}

func TestLifecycleEndThenFinal(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(delta("r1", "Done."))
	r.Handle(Event{Stream: StreamLifecycle, RunID: "r1", Data: map[string]any{"phase": "end"}})
	r.Handle(final("r1", "Done."))

	msgs := messages(store)
	if len(msgs) != 1 || msgs[0].Streaming || msgs[0].Content != "Done." {
		t.Errorf("unexpected messages %+v", msgs)
	}
}

func TestLifecycleErrorIsTerminal(t *testing.T) {
	tr := &mockTranslator{}
	r, store := newTestReducer(t, WithErrorTranslator(tr))
	r.Handle(delta("r1", "Partial"))
	r.Handle(Event{Stream: StreamLifecycle, RunID: "r1", Data: map[string]any{"phase": "error", "error": "upstream died"}})

	if r.ActiveRuns() != 0 {
		t.Errorf("expected no active runs, got %d", r.ActiveRuns())
	}
	cur := store.Current()
	if cur.Indicator.Active {
		t.Errorf("indicator should be cleared, got %+v", cur.Indicator)
	}
	if len(cur.Messages) != 2 {
		t.Fatalf("expected partial and error messages, got %+v", cur.Messages)
	}
	if cur.Messages[0].Streaming {
		t.Error("partial message should be frozen")
	}
	if cur.Messages[1].Content != "translated: upstream died" {
		t.Errorf("unexpected error message %q", cur.Messages[1].Content)
	}

	r.Handle(Event{RunID: "r1", State: StateError, ErrorMessage: "upstream died"})
	if n := len(messages(store)); n != 2 || tr.calls != 1 {
		t.Errorf("a later error for the run must not add a message: %d messages, %d calls", n, tr.calls)
	}
}

func TestThinkingBlocksInContent(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(Event{RunID: "r1", State: StateDelta, Content: []any{
		map[string]any{"type": "thinking", "thinking": "step 1"},
		map[string]any{"type": "text", "text": "Answer"},
	}})
	if r.Thinking("r1") != "step 1" {
		t.Errorf("unexpected thinking %q", r.Thinking("r1"))
	}
	if got := messages(store)[0].Content; got != "Answer" {
		t.Errorf("thinking must not leak into content, got %q", got)
	}
}

func TestAssistantStream(t *testing.T) {
	r, store := newTestReducer(t)
	r.Handle(Event{Stream: StreamAssistant, RunID: "r1", Data: map[string]any{"text": "Hi", "delta": "Hi"}})
	r.Handle(Event{Stream: StreamAssistant, RunID: "r1", Data: map[string]any{"text": "Hi you", "delta": " you"}})
	if got := messages(store)[0].Content; got != "Hi you" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestReset(t *testing.T) {
	r, _ := newTestReducer(t)
	r.Handle(delta("r1", "x"))
	r.Reset()
	if r.ActiveRuns() != 0 {
		t.Error("reset should clear runs")
	}
}
