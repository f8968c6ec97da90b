// internal/canvas/sink_test.go
package canvas

import (
	"os"
	"testing"

	"github.com/user/dram/internal/types"
)

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir, nil)

	opts := types.CanvasOptions{Type: types.CanvasHTML, Language: "html", RunID: "run-1"}
	id, err := sink.Put("<html><head><title>T</title></head></html>", opts)
	if err != nil {
		t.Fatal(err)
	}

	content, meta, err := sink.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if content != "<html><head><title>T</title></head></html>" {
		t.Errorf("unexpected content %q", content)
	}
	if meta.RunID != "run-1" || meta.Title != "T" {
		t.Errorf("unexpected meta %+v", meta)
	}

	raw, err := os.ReadFile(sink.RawPath(id, opts))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != content {
		t.Error("raw copy mismatch")
	}
}

func TestFileSinkList(t *testing.T) {
	sink := NewFileSink(t.TempDir(), nil)
	if err := sink.PushToCanvas("{}", types.CanvasOptions{Type: types.CanvasCode, Language: "json"}); err != nil {
		t.Fatal(err)
	}
	if err := sink.PushToCanvas("print(1)", types.CanvasOptions{Type: types.CanvasCode, Language: "python"}); err != nil {
		t.Fatal(err)
	}

	metas, err := sink.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(metas))
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{"": ".txt", "golang": ".go", "C++": ".c", "rust": ".rust"}
	for lang, want := range tests {
		if got := extension(types.CanvasOptions{Type: types.CanvasCode, Language: lang}); got != want {
			t.Errorf("extension(%q) = %q, want %q", lang, got, want)
		}
	}
}
