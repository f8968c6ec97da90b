package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/dram/internal/chat"
	"github.com/user/dram/internal/gateway"
	"github.com/user/dram/internal/settings"
	"github.com/user/dram/internal/state"
)

var (
	replayJSON       bool
	replayCanvas     bool
	replayTranscript bool
	replayVoice      bool
	replayRaw        bool
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print the final store snapshot as JSON")
	replayCmd.Flags().BoolVar(&replayCanvas, "canvas", false, "write extracted canvas payloads to the data dir")
	replayCmd.Flags().BoolVar(&replayTranscript, "transcript", false, "print the current session transcript")
	replayCmd.Flags().BoolVar(&replayRaw, "raw", false, "the file holds bare frames rather than an event log")
	replayCmd.Flags().BoolVar(&replayVoice, "voice", false, "replay with voice mode on and print spoken sentences")
}

var replayCmd = &cobra.Command{
	Use:   "replay <events.jsonl>",
	Short: "Feed recorded gateway frames through a fresh store",
	Long: "Reads an event log written with gateway.record_events (or bare frames with --raw)\n" +
		"and prints the resulting sessions and routing state. Routing settings are read\n" +
		"but never saved.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger := setupLogging(cfg)
		ctx := context.Background()

		out := cmd.OutOrStdout()
		store := state.New()
		store.SetVoiceMode(replayVoice)

		var extra []chat.Option
		if !replayCanvas {
			extra = append(extra, chat.WithCanvasSink(nil))
		}
		if replayVoice {
			extra = append(extra, chat.WithVoiceSink(printVoice{out: out}))
		}
		c, err := newCore(cfg, store, logger, extra...)
		if err != nil {
			return err
		}

		kv, closeKV, err := openSettings(ctx, cfg)
		if err != nil {
			logger.Warn("settings unavailable, replaying with config defaults", "error", err)
			kv, closeKV = settings.NewMemoryKV(), func() error { return nil }
		}
		defer closeKV()
		if err := c.restoreRouting(ctx, cfg, kv); err != nil {
			return err
		}

		router := gateway.NewRouter(c.reducer, c.reconciler, gateway.WithRouterLogger(logger))
		frames := 0
		handle := func(fr gateway.Frame) error {
			frames++
			return router.Handle(ctx, fr)
		}
		if err := replayFrames(ctx, args[0], logger, handle); err != nil {
			return err
		}

		view := store.Snapshot()
		if replayJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}

		fmt.Fprintln(out, renderTitle(fmt.Sprintf("REPLAY  %s frames", formatTokens(frames))))
		fmt.Fprint(out, renderSessions(view))
		fmt.Fprintln(out)
		fmt.Fprint(out, renderRouting(view.Routing, time.Now()))
		if replayTranscript {
			fmt.Fprintln(out)
			fmt.Fprint(out, renderTranscript(store.Current()))
		}
		return nil
	},
}

// replayFrames reads path as an event log, or as bare frames with --raw.
func replayFrames(ctx context.Context, path string, logger *slog.Logger, fn func(gateway.Frame) error) error {
	if replayRaw {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open frames: %w", err)
		}
		defer f.Close()
		return gateway.ReadFrames(ctx, f, logger, fn)
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	return state.NewEventLog(path).Each(ctx, func(rec state.Record) error {
		fr, err := gateway.ParseFrame(rec.Payload)
		if err != nil {
			logger.Warn("skipping malformed record", "seq", rec.Seq, "error", err)
			return nil
		}
		return fn(fr)
	})
}

// printVoice writes each spoken sentence instead of streaming it to the backend.
type printVoice struct {
	out io.Writer
}

func (p printVoice) QueueVoiceResponse(text string) error {
	_, err := fmt.Fprintf(p.out, "%s %s\n", dimStyle.Render("speak:"), text)
	return err
}
