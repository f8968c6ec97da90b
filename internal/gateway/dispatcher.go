package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultLaneSize bounds the number of frames waiting to be handled.
const DefaultLaneSize = 1024

// Dispatcher feeds inbound frames to a handler on a single goroutine so state mutations
// happen in arrival order. Other mutators serialize with it through Do.
type Dispatcher struct {
	lane    chan Frame
	turn    *semaphore.Weighted
	handler func(context.Context, Frame) error
	logger  *slog.Logger
	pending atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher with a lane of the given size.
func NewDispatcher(laneSize int, handler func(context.Context, Frame) error, logger *slog.Logger) *Dispatcher {
	if laneSize <= 0 {
		laneSize = DefaultLaneSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		lane:    make(chan Frame, laneSize),
		turn:    semaphore.NewWeighted(1),
		handler: handler,
		logger:  logger,
	}
}

// Start launches the lane goroutine. Must be called before Enqueue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.run()
}

// Stop closes the lane, lets queued frames drain and waits for the goroutine.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.lane)
	}
	d.mu.Unlock()
	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

// Enqueue adds a frame to the lane. Returns an error if the lane is full or stopped.
func (d *Dispatcher) Enqueue(f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("dispatcher stopped")
	}
	d.pending.Add(1)
	select {
	case d.lane <- f:
		return nil
	default:
		d.pending.Add(-1)
		return fmt.Errorf("dispatch lane full (%d frames)", cap(d.lane))
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for f := range d.lane {
		if err := d.Do(d.ctx, func(ctx context.Context) error {
			if d.handler == nil {
				return nil
			}
			return d.handler(ctx, f)
		}); err != nil {
			d.logger.Error("frame handling failed", "type", f.Type, "event", f.Event, "error", err)
		}
		d.pending.Add(-1)
	}
}

// Do runs fn while no frame is being handled.
func (d *Dispatcher) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := d.turn.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.turn.Release(1)
	return fn(ctx)
}

// WaitIdle blocks until every enqueued frame has been handled, or the timeout
// expires. Returns true if idle, false if timed out.
func (d *Dispatcher) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if d.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
