package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// maxFrameSize bounds a single inbound line.
const maxFrameSize = 4 * 1024 * 1024

// StdioSender writes requests as JSON lines.
type StdioSender struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStdioSender(w io.Writer) *StdioSender {
	return &StdioSender{w: w}
}

func (s *StdioSender) Send(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// ReadFrames decodes JSON lines from r and passes each frame to fn until EOF, a read
// error, ctx cancellation or an error from fn. Malformed lines are logged and skipped.
func ReadFrames(ctx context.Context, r io.Reader, logger *slog.Logger, fn func(Frame) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		f, err := ParseFrame(data)
		if err != nil {
			logger.Warn("skipping malformed frame", "line", line, "error", err)
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read frames: %w", err)
	}
	return nil
}
