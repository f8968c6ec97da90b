package chat

import (
	"reflect"
	"testing"
)

func TestParseEventChatShape(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"runId":"r1","sessionKey":"s1","state":"delta","message":{"role":"assistant","content":[{"type":"text","text":"Hi"}],"usage":{"input":3}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.RunID != "r1" || ev.SessionKey != "s1" || ev.State != StateDelta {
		t.Errorf("unexpected event %+v", ev)
	}
	if got := FlattenContent(ev.Content); got != "Hi" {
		t.Errorf("unexpected content %q", got)
	}
	if ev.Usage == nil {
		t.Error("expected usage from the message")
	}
}

func TestParseEventAgentShape(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"stream":"Tool","data":{"runId":"r2","sessionKey":"s2","name":"bash","phase":"start"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Stream != StreamTool || ev.RunID != "r2" || ev.SessionKey != "s2" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Phase() != "start" {
		t.Errorf("unexpected phase %q", ev.Phase())
	}
}

func TestParseEventWrongTypes(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"runId":5,"state":["x"],"data":"nope","done":"yes"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.RunID != "" || ev.State != "" || ev.Data != nil || ev.Done {
		t.Errorf("wrong types should be dropped: %+v", ev)
	}

	for _, bad := range []string{`"str"`, `null`, `{`} {
		if _, err := ParseEvent([]byte(bad)); err == nil {
			t.Errorf("expected error for %s", bad)
		}
	}
}

func TestParseEventErrors(t *testing.T) {
	ev, _ := ParseEvent([]byte(`{"runId":"r","state":"error","errorMessage":"boom"}`))
	if !ev.Failed() || ev.ErrorMessage != "boom" {
		t.Errorf("unexpected event %+v", ev)
	}
	ev, _ = ParseEvent([]byte(`{"runId":"r","error":false,"state":"final"}`))
	if ev.Failed() {
		t.Error("error:false is not a failure")
	}
	ev, _ = ParseEvent([]byte(`{"stream":"lifecycle","data":{"phase":"error","error":"x"}}`))
	if ev.Failed() {
		t.Error("lifecycle error phase narrates, it does not fail the run")
	}
}

func TestFlattenContent(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "abc", "abc"},
		{"blocks", []any{
			map[string]any{"type": "text", "text": "a"},
			map[string]any{"content": "b"},
			"c",
			map[string]any{"type": "thinking", "thinking": "t"},
		}, "abc"},
		{"delta object", map[string]any{"delta": map[string]any{"text": "d"}}, "d"},
		{"message object", map[string]any{"message": map[string]any{"content": []any{map[string]any{"text": "m"}}}}, "m"},
		{"empty delta falls through", map[string]any{"delta": "", "text": "t"}, "t"},
		{"number", 42, ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FlattenContent(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMergeChunk(t *testing.T) {
	tests := []struct {
		existing, chunk, merged, added string
	}{
		{"", "Hello", "Hello", "Hello"},
		{"Hello", "Hello world", "Hello world", " world"},
		{"Hello", " world", "Hello world", " world"},
		{"Hello", "Hello", "Hello", ""},
	}
	for _, tt := range tests {
		merged, added := mergeChunk(tt.existing, tt.chunk)
		if merged != tt.merged || added != tt.added {
			t.Errorf("mergeChunk(%q, %q) = %q, %q", tt.existing, tt.chunk, merged, added)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in        string
		sentences []string
		rest      string
	}{
		{"Hello. World", []string{"Hello."}, "World"},
		{"Wait... what?", []string{"Wait...", "what?"}, ""},
		{"3.14 is pi", nil, "3.14 is pi"},
		{"", nil, ""},
	}
	for _, tt := range tests {
		sentences, rest := splitSentences(tt.in)
		if !reflect.DeepEqual(sentences, tt.sentences) || rest != tt.rest {
			t.Errorf("splitSentences(%q) = %v, %q", tt.in, sentences, rest)
		}
	}
}

func TestThinkingContent(t *testing.T) {
	got := ThinkingContent([]any{
		map[string]any{"type": "thinking", "thinking": "t1"},
		map[string]any{"type": "text", "text": "x"},
		map[string]any{"type": "reasoning", "text": "t2"},
	})
	if got != "t1t2" {
		t.Errorf("unexpected thinking %q", got)
	}
}
