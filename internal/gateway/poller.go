package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like "@every 30s".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Poller periodically requests a routing metadata snapshot.
type Poller struct {
	schedule string
	request  func(context.Context) error
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewPoller validates schedule and returns a poller that calls request on it.
func NewPoller(schedule string, request func(context.Context) error, logger *slog.Logger) (*Poller, error) {
	if _, err := cronParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{schedule: schedule, request: request, logger: logger}, nil
}

// Start registers the schedule and starts the cron ticker. Requests stop when ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.cron = cron.New(cron.WithParser(cronParser))
	_, err := p.cron.AddFunc(p.schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if err := p.request(ctx); err != nil {
			p.logger.Warn("models status poll failed", "error", err)
			return
		}
		p.logger.Debug("models status requested")
	})
	if err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	p.cron.Start()
	p.logger.Info("polling models status", "schedule", p.schedule)
	return nil
}

// Stop stops the cron ticker and waits for a running poll to finish.
func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}
