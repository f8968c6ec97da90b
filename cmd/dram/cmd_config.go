package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/dram/internal/config"
)

var configReveal bool

func init() {
	configListCmd.Flags().BoolVar(&configReveal, "reveal", false, "print secrets in full")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit the config file by dot key",
	Long: "Config keys are dot paths into the JSON file, for example\n" +
		"routing.primary_model or gateway.poll_schedule.",
}

// printEntries writes one "key = value" line per entry, dimming secrets.
func printEntries(w io.Writer, list []config.Entry) {
	for _, e := range list {
		value := fmt.Sprint(e.Value)
		if e.Secret {
			value = dimStyle.Render(value)
		}
		fmt.Fprintf(w, "%s = %s\n", e.Key, value)
	}
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every config key with its effective value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := config.ListValues(loadConfig(), !configReveal)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		printEntries(os.Stdout, list)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one config value; true, false and numbers keep their type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, raw := args[0], args[1]
		// loadConfig writes the defaults when no file exists yet.
		loadConfig()
		if err := config.SetValue(cfgPath, key, raw); err != nil {
			return err
		}
		var shown any = raw
		if config.IsSecret(key) {
			shown = config.Redact(raw)
		}
		fmt.Fprintf(os.Stdout, "%s %s = %v\n", headerStyle.Render("saved"), key, shown)
		return nil
	},
}
