package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/user/dram/internal/canvas"
	"github.com/user/dram/internal/chat"
	"github.com/user/dram/internal/config"
	"github.com/user/dram/internal/pricing"
	"github.com/user/dram/internal/routing"
	"github.com/user/dram/internal/settings"
	"github.com/user/dram/internal/state"
	"github.com/user/dram/internal/tokens"
)

// core is the in-process half of the client: the store plus everything that mutates it.
type core struct {
	store      *state.Store
	reconciler *routing.Reconciler
	reducer    *chat.Reducer
	canvas     *canvas.FileSink
	prices     *pricing.Table
}

// newCore wires the reconciler and reducer over store. Extra reducer options are
// applied last so callers can attach a voice sink.
func newCore(cfg *config.Config, store *state.Store, logger *slog.Logger, extra ...chat.Option) (*core, error) {
	prices, err := pricing.Load(cfg.PricingPath())
	if err != nil {
		return nil, fmt.Errorf("load pricing: %w", err)
	}

	counter, err := tokens.New(cfg.Routing.PrimaryModel)
	if err != nil {
		// The reducer falls back to a character heuristic on a nil estimator.
		logger.Warn("token estimator unavailable", "error", err)
		counter = nil
	}

	sink := canvas.NewFileSink(cfg.DataDir, logger)
	rec := routing.New(store,
		routing.WithLogger(logger),
		routing.WithManualRouting(cfg.Routing.ManualRouting),
	)

	opts := []chat.Option{
		chat.WithLogger(logger),
		chat.WithCanvasSink(sink),
		chat.WithTokenCounter(counter),
		chat.WithPricing(prices),
		chat.WithLimits(cfg.Chat.MaxRuns, cfg.Chat.MaxCanvasRuns, cfg.Chat.WorklogLimit),
		chat.WithMinCanvasBytes(cfg.Chat.MinCanvasBytes),
	}
	opts = append(opts, extra...)

	return &core{
		store:      store,
		reconciler: rec,
		reducer:    chat.New(store, opts...),
		canvas:     sink,
		prices:     prices,
	}, nil
}

// openSettings opens the configured settings backend. The returned close func is never nil.
func openSettings(ctx context.Context, cfg *config.Config) (settings.KV, func() error, error) {
	switch cfg.Settings.Backend {
	case "memory":
		return settings.NewMemoryKV(), func() error { return nil }, nil
	case "", "sqlite":
		kv, err := settings.OpenSQLite(ctx, cfg.SettingsPath())
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown settings backend %q", cfg.Settings.Backend)
	}
}

// restoreRouting applies persisted routing settings, then the config file on top. Manual
// routing is enabled if either source enables it.
func (c *core) restoreRouting(ctx context.Context, cfg *config.Config, kv settings.KV) error {
	saved, err := settings.LoadRouting(ctx, kv)
	if err != nil {
		return fmt.Errorf("load routing settings: %w", err)
	}
	saved.ManualRouting = saved.ManualRouting || cfg.Routing.ManualRouting
	if cfg.Routing.PrimaryModel != "" {
		saved.PrimaryModel = cfg.Routing.PrimaryModel
	}
	settings.Apply(saved, c.reconciler)
	return nil
}

// saveRouting persists the current routing preferences.
func (c *core) saveRouting(ctx context.Context, kv settings.KV) error {
	r := settings.Capture(c.store.Routing(), c.reconciler.ManualRoutingEnabled)
	if err := settings.SaveRouting(ctx, kv, r); err != nil {
		return fmt.Errorf("save routing settings: %w", err)
	}
	return nil
}
