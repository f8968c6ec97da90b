package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/dram/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println(renderTitle("DRAM SETUP"))
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Gateway.Token = prompt(scanner, "Gateway token (optional)", cfg.Gateway.Token)
		cfg.Routing.PrimaryModel = prompt(scanner, "Primary model (blank uses stored settings)", cfg.Routing.PrimaryModel)
		cfg.Routing.ManualRouting = promptBool(scanner, "Allow manual model pinning", cfg.Routing.ManualRouting)
		cfg.Gateway.PollSchedule = prompt(scanner, "Models status poll schedule", cfg.Gateway.PollSchedule)
		cfg.Gateway.RecordEvents = promptBool(scanner, "Record gateway frames for replay", cfg.Gateway.RecordEvents)
		cfg.Settings.Backend = prompt(scanner, "Settings backend (sqlite or memory)", cfg.Settings.Backend)
		cfg.HTTP.Addr = prompt(scanner, "Status API address (blank disables)", cfg.HTTP.Addr)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

// promptBool is prompt for yes/no answers. Unparseable input keeps the default.
func promptBool(scanner *bufio.Scanner, label string, defaultVal bool) bool {
	answer := prompt(scanner, label+" (y/n)", yesNo(defaultVal))
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	if v, err := strconv.ParseBool(answer); err == nil {
		return v
	}
	return defaultVal
}

func yesNo(v bool) string {
	if v {
		return "y"
	}
	return "n"
}
