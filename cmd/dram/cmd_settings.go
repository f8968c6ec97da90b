package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/dram/internal/config"
	"github.com/user/dram/internal/modelid"
	"github.com/user/dram/internal/settings"
)

var settingsRaw bool

func init() {
	settingsShowCmd.Flags().BoolVar(&settingsRaw, "raw", false, "dump every stored key and value")
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsPrimaryCmd, settingsFallbacksCmd, settingsManualCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persisted routing settings",
}

// editRouting loads the stored routing settings, applies fn and saves the result.
func editRouting(fn func(*settings.Routing) error) (settings.Routing, error) {
	cfg := loadConfig()
	ctx := context.Background()

	kv, closeKV, err := openSettings(ctx, cfg)
	if err != nil {
		return settings.Routing{}, fmt.Errorf("open settings: %w", err)
	}
	defer closeKV()

	r, err := settings.LoadRouting(ctx, kv)
	if err != nil {
		return r, err
	}
	if fn == nil {
		return r, nil
	}
	if err := fn(&r); err != nil {
		return r, err
	}
	if err := settings.SaveRouting(ctx, kv, r); err != nil {
		return r, err
	}
	return r, nil
}

func printRouting(r settings.Routing, cfg *config.Config) {
	primary := r.PrimaryModel
	if cfg.Routing.PrimaryModel != "" {
		primary = cfg.Routing.PrimaryModel + dimStyle.Render(" (from config, stored "+orNone(r.PrimaryModel)+")")
	}
	fmt.Fprintf(os.Stdout, "%s  %s\n", headerStyle.Render("primary  "), orNone(primary))
	fmt.Fprintf(os.Stdout, "%s  %s\n", headerStyle.Render("fallbacks"), orNone(strings.Join(r.FallbackChain, ", ")))
	fmt.Fprintf(os.Stdout, "%s  %s\n", headerStyle.Render("legacy   "), orNone(r.LegacyFallback))
	manual := "off"
	if r.ManualRouting || cfg.Routing.ManualRouting {
		manual = "on"
		if r.ManualTarget != "" {
			manual += ", pinned to " + r.ManualTarget
		}
	}
	fmt.Fprintf(os.Stdout, "%s  %s\n", headerStyle.Render("manual   "), manual)
}

func dumpSettings() error {
	cfg := loadConfig()
	ctx := context.Background()
	kv, closeKV, err := openSettings(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer closeKV()

	keys, err := kv.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		v, err := kv.Get(ctx, k)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s = %s\n", k, v)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return dimStyle.Render("(none)")
	}
	return s
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored routing settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if settingsRaw {
			return dumpSettings()
		}
		r, err := editRouting(nil)
		if err != nil {
			return err
		}
		printRouting(r, loadConfig())
		return nil
	},
}

var settingsPrimaryCmd = &cobra.Command{
	Use:   "set-primary <model>",
	Short: "Set the primary model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := editRouting(func(r *settings.Routing) error {
			r.PrimaryModel = args[0]
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Primary model set to %s\n", modelid.Normalize(r.PrimaryModel))
		return nil
	},
}

var settingsFallbacksCmd = &cobra.Command{
	Use:   "set-fallbacks [model...]",
	Short: "Set the ordered fallback chain; no arguments clears it",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := editRouting(func(r *settings.Routing) error {
			r.FallbackChain = modelid.Dedupe(args)
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Fallback chain set to [%s]\n", strings.Join(r.FallbackChain, ", "))
		return nil
	},
}

var settingsManualCmd = &cobra.Command{
	Use:   "manual <on|off|model>",
	Short: "Enable or disable manual routing, or pin a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := editRouting(func(r *settings.Routing) error {
			switch args[0] {
			case "on":
				r.ManualRouting = true
			case "off":
				r.ManualRouting = false
				r.ManualTarget = ""
			default:
				target := args[0]
				known := append([]string{r.PrimaryModel, r.LegacyFallback}, r.FallbackChain...)
				if modelid.FindMatch(known, target) == "" {
					return fmt.Errorf("cannot pin %q: not the primary or a fallback", target)
				}
				r.ManualRouting = true
				r.ManualTarget = target
			}
			return nil
		})
		if err != nil {
			return err
		}
		printRouting(r, loadConfig())
		return nil
	},
}
