// internal/state/eventlog.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxRecordSize bounds a single JSONL line; canvas payloads can be large.
const maxRecordSize = 4 << 20

// Record is one raw bridge frame as received.
type Record struct {
	Seq     int64           `json:"seq"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// EventLog is a JSONL-backed append-only log of bridge frames. It is what `dram replay`
// reads back.
type EventLog struct {
	path string
	mu   sync.Mutex
	seq  int64
	// loaded is set once seq has been initialised from the file.
	loaded bool
}

// NewEventLog creates a log writing to path. The file is created on first append.
func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// Path returns the file backing the log.
func (e *EventLog) Path() string {
	return e.path
}

// count reads the log and counts lines. Caller must hold the lock.
func (e *EventLog) count() (int64, error) {
	f, err := os.Open(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := newScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan event log: %w", err)
	}
	return count, nil
}

// Append writes payload as the next record and returns its sequence number.
func (e *EventLog) Append(_ context.Context, payload json.RawMessage) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		existing, err := e.count()
		if err != nil {
			return 0, err
		}
		e.seq = existing
		e.loaded = true
	}

	if !json.Valid(payload) {
		return 0, fmt.Errorf("append event: payload is not valid JSON")
	}

	rec := Record{Seq: e.seq + 1, At: time.Now(), Payload: payload}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return 0, fmt.Errorf("create event log dir: %w", err)
	}
	f, err := os.OpenFile(e.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return 0, fmt.Errorf("write record: %w", err)
	}
	e.seq = rec.Seq
	return rec.Seq, nil
}

// Each calls fn for every record in order, stopping at the first error.
func (e *EventLog) Each(ctx context.Context, fn func(Record) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	scanner := newScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan event log: %w", err)
	}
	return nil
}

// Tail returns the last limit records.
func (e *EventLog) Tail(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	err := e.Each(ctx, func(rec Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Count returns the number of records in the log.
func (e *EventLog) Count(_ context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count()
}

func newScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)
	return scanner
}
