package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/dram/internal/routing"
	"github.com/user/dram/internal/state"
)

var (
	routePrimary   string
	routeFallbacks []string
	routeManual    string
)

func init() {
	rootCmd.AddCommand(routeCmd)
	routeCmd.Flags().StringVar(&routePrimary, "primary", "", "primary model (defaults to routing.primary_model)")
	routeCmd.Flags().StringSliceVar(&routeFallbacks, "fallbacks", nil, "ordered fallback chain")
	routeCmd.Flags().StringVar(&routeManual, "pin", "", "pin a model with manual routing enabled")
}

var routeCmd = &cobra.Command{
	Use:   "route <snapshots.jsonl>",
	Short: "Replay routing snapshots and print each decision",
	Long:  "Each line of the file is one models/usage snapshot as the gateway would send it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger := setupLogging(cfg)

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open snapshots: %w", err)
		}
		defer f.Close()

		store := state.New()
		rec := routing.New(store,
			routing.WithLogger(logger),
			routing.WithManualRouting(cfg.Routing.ManualRouting || routeManual != ""),
		)
		primary := routePrimary
		if primary == "" {
			primary = cfg.Routing.PrimaryModel
		}
		if primary != "" {
			rec.SetPrimaryModel(primary)
		}
		if len(routeFallbacks) > 0 {
			rec.SetFallbackChain(routeFallbacks)
		}
		if routeManual != "" && !rec.SetManualModelSelection(routeManual) {
			return fmt.Errorf("cannot pin %q: not the primary or a fallback", routeManual)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderTitle("ROUTING REPLAY"))

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			snap, err := routing.ParseSnapshot([]byte(text))
			if err != nil {
				fmt.Fprintf(out, "%4d  %s\n", line, errStyle.Render(err.Error()))
				continue
			}
			fmt.Fprintln(out, decisionLine(line, rec.Apply(snap)))
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read snapshots: %w", err)
		}

		fmt.Fprintln(out)
		fmt.Fprint(out, renderRouting(store.Routing(), time.Now()))
		return nil
	},
}

func decisionLine(line int, d routing.Decision) string {
	active := d.ActiveID
	if active == "" {
		active = "(none)"
	}
	if d.Switched() {
		active = warnStyle.Render(d.PreviousID+" → ") + activeStyle.Render(active)
	}
	tag := string(d.Reason)
	if d.UsingFallback {
		tag += ", fallback"
	}
	return fmt.Sprintf("%4d  %s  %s  %s", line, active, dimStyle.Render(tag), dimStyle.Render(fmt.Sprintf("limit %d%%", d.Limit)))
}
