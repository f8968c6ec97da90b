package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/dram/internal/chat"
	"github.com/user/dram/internal/gateway"
	"github.com/user/dram/internal/state"
	"github.com/user/dram/internal/statusapi"
)

// errBridgeClosed ends serve cleanly when the backend closes stdin.
var errBridgeClosed = errors.New("bridge closed")

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bridge the gateway over stdin/stdout",
	Long: "Reads gateway frames as JSON lines on stdin and writes requests to stdout.\n" +
		"Logs go to stderr. The status API starts when http.addr is set.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func eventLogPath(dataDir string) string {
	return filepath.Join(dataDir, "events.jsonl")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := openSettings(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer closeKV()

	store := state.New()

	retry := gateway.DefaultRetryPolicy()
	if cfg.Gateway.MaxRetries > 0 {
		retry.MaxAttempts = cfg.Gateway.MaxRetries
	}

	// The router needs the reducer, whose voice sink is the client, which in turn
	// serializes through the dispatcher. The handler closure breaks the cycle.
	var router *gateway.Router
	dispatcher := gateway.NewDispatcher(gateway.DefaultLaneSize, func(ctx context.Context, f gateway.Frame) error {
		return router.Handle(ctx, f)
	}, logger)
	client := gateway.NewClient(store, gateway.NewStdioSender(os.Stdout),
		gateway.WithRetryPolicy(retry),
		gateway.WithDispatcher(dispatcher),
		gateway.WithClientLogger(logger),
	)

	c, err := newCore(cfg, store, logger, chat.WithVoiceSink(client))
	if err != nil {
		return err
	}
	if err := c.restoreRouting(ctx, cfg, kv); err != nil {
		return err
	}

	var events *state.EventLog
	routerOpts := []gateway.RouterOption{gateway.WithRouterLogger(logger)}
	if cfg.Gateway.RecordEvents {
		events = state.NewEventLog(eventLogPath(cfg.DataDir))
		routerOpts = append(routerOpts, gateway.WithRecorder(events))
	}
	router = gateway.NewRouter(c.reducer, c.reconciler, routerOpts...)

	dispatcher.Start(ctx)

	if err := client.Connect(ctx, cfg.Gateway.Token); err != nil {
		dispatcher.Stop()
		return err
	}
	if err := client.RequestModels(ctx); err != nil {
		logger.Warn("initial models status request failed", "error", err)
	}

	poller, err := gateway.NewPoller(cfg.Gateway.PollSchedule, client.RequestModels, logger)
	if err != nil {
		dispatcher.Stop()
		return err
	}
	if err := poller.Start(ctx); err != nil {
		dispatcher.Stop()
		return err
	}

	logger.Info("dram started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"primary_model", store.Routing().Primary.ID,
		"manual_routing", c.reconciler.ManualRoutingEnabled,
		"settings", cfg.Settings.Backend,
		"record_events", cfg.Gateway.RecordEvents,
	)

	g, gctx := errgroup.WithContext(ctx)

	// ReadFrames blocks on stdin, so it is not owned by the group. The group only waits
	// for its result or for shutdown.
	readDone := make(chan error, 1)
	go func() {
		readDone <- gateway.ReadFrames(gctx, os.Stdin, logger, func(f gateway.Frame) error {
			if err := dispatcher.Enqueue(f); err != nil {
				logger.Warn("dropping frame", "type", f.Type, "event", f.Event, "error", err)
			}
			return nil
		})
	}()
	g.Go(func() error {
		select {
		case err := <-readDone:
			if err != nil {
				return err
			}
			return errBridgeClosed
		case <-gctx.Done():
			return nil
		}
	})

	if cfg.HTTP.Addr != "" {
		api := statusapi.NewServer(store,
			statusapi.WithEventLog(events),
			statusapi.WithCanvas(c.canvas),
			statusapi.WithSender(client),
			statusapi.WithLogger(logger),
		)
		srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			logger.Info("status API started", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, errBridgeClosed) {
		logger.Info("gateway closed the bridge")
		err = nil
	} else {
		logger.Info("shutting down")
	}

	poller.Stop()
	dispatcher.Stop()
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if saveErr := c.saveRouting(saveCtx, kv); saveErr != nil {
		logger.Error("failed to persist routing", "error", saveErr)
	}
	return err
}
