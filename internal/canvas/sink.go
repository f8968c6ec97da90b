// internal/canvas/sink.go
package canvas

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/dram/internal/types"
)

var _ types.CanvasSink = (*FileSink)(nil)

// Meta describes one stored canvas payload.
type Meta struct {
	ID        string           `json:"id"`
	RunID     types.RunID      `json:"run_id,omitempty"`
	Type      types.CanvasType `json:"type"`
	Language  string           `json:"language,omitempty"`
	Title     string           `json:"title,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// payloadWrapper is the on-disk format: {"meta": ..., "data": "..."}.
type payloadWrapper struct {
	Meta *Meta  `json:"meta"`
	Data string `json:"data"`
}

// FileSink stores canvas payloads as <id>.meta.json files under <root>/canvas/, plus a raw copy
// with a language extension so the payload can be opened directly.
type FileSink struct {
	root   string
	logger *slog.Logger
}

// NewFileSink creates a sink rooted at root.
func NewFileSink(root string, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{root: root, logger: logger}
}

func (s *FileSink) dir() string {
	return filepath.Join(s.root, "canvas")
}

func (s *FileSink) metaPath(id string) string {
	return filepath.Join(s.dir(), id+".meta.json")
}

// RawPath returns where the raw payload for id is written.
func (s *FileSink) RawPath(id string, opts types.CanvasOptions) string {
	return filepath.Join(s.dir(), id+extension(opts))
}

// PushToCanvas implements types.CanvasSink.
func (s *FileSink) PushToCanvas(content string, opts types.CanvasOptions) error {
	_, err := s.Put(content, opts)
	return err
}

// Put stores a payload and returns its id.
func (s *FileSink) Put(content string, opts types.CanvasOptions) (string, error) {
	id := uuid.New().String()
	meta := &Meta{
		ID:        id,
		RunID:     opts.RunID,
		Type:      opts.Type,
		Language:  opts.Language,
		CreatedAt: time.Now(),
	}
	if opts.Type == types.CanvasHTML {
		meta.Title = Title(content)
	}

	data, err := json.MarshalIndent(&payloadWrapper{Meta: meta, Data: content}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal canvas payload: %w", err)
	}

	if err := os.MkdirAll(s.dir(), 0o755); err != nil {
		return "", fmt.Errorf("create canvas dir: %w", err)
	}
	if err := writeAtomic(s.metaPath(id), data); err != nil {
		return "", err
	}
	if err := writeAtomic(s.RawPath(id, opts), []byte(content)); err != nil {
		return "", err
	}

	s.logger.Info("canvas payload stored", "id", id, "type", opts.Type, "language", opts.Language, "run_id", opts.RunID)
	return id, nil
}

// Get returns the payload and metadata for id.
func (s *FileSink) Get(id string) (string, *Meta, error) {
	raw, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return "", nil, fmt.Errorf("read canvas payload: %w", err)
	}
	var wrapper payloadWrapper
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", nil, fmt.Errorf("unmarshal canvas payload: %w", err)
	}
	return wrapper.Data, wrapper.Meta, nil
}

// List returns the metadata of every stored payload, newest first.
func (s *FileSink) List() ([]*Meta, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir(), "*.meta.json"))
	if err != nil {
		return nil, fmt.Errorf("glob canvas payloads: %w", err)
	}
	metas := make([]*Meta, 0, len(matches))
	for _, path := range matches {
		id := strings.TrimSuffix(filepath.Base(path), ".meta.json")
		_, meta, err := s.Get(id)
		if err != nil {
			s.logger.Warn("skipping unreadable canvas payload", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}
	slices.SortFunc(metas, func(a, b *Meta) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return metas, nil
}

func extension(opts types.CanvasOptions) string {
	if opts.Type == types.CanvasHTML {
		return ".html"
	}
	switch opts.Language {
	case "":
		return ".txt"
	case "go", "golang":
		return ".go"
	case "python", "py":
		return ".py"
	case "javascript", "js":
		return ".js"
	case "typescript", "ts":
		return ".ts"
	case "bash", "sh", "shell":
		return ".sh"
	}
	clean := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, strings.ToLower(opts.Language))
	if clean == "" {
		return ".txt"
	}
	return "." + clean
}

// writeAtomic writes via a temp file and rename.
func writeAtomic(target string, data []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
