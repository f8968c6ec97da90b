// Package config loads the client's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Gateway  struct {
		Token        string `json:"token"`
		PollSchedule string `json:"poll_schedule"`
		MaxRetries   int    `json:"max_retries"`
		RecordEvents bool   `json:"record_events"`
	} `json:"gateway"`
	Routing struct {
		PrimaryModel  string `json:"primary_model"`
		ManualRouting bool   `json:"manual_routing"`
	} `json:"routing"`
	Chat struct {
		MaxRuns        int `json:"max_runs"`
		MaxCanvasRuns  int `json:"max_canvas_runs"`
		WorklogLimit   int `json:"worklog_limit"`
		MinCanvasBytes int `json:"min_canvas_bytes"`
	} `json:"chat"`
	Pricing struct {
		OverridesPath string `json:"overrides_path"`
	} `json:"pricing"`
	Settings struct {
		Backend string `json:"backend"`
	} `json:"settings"`
	HTTP struct {
		Addr string `json:"addr"`
	} `json:"http"`
}

// DefaultDataDir is where config, settings and canvas payloads live unless overridden.
func DefaultDataDir() string {
	return filepath.Join(os.Getenv("HOME"), ".dram")
}

// DefaultPath returns the config file path inside the default data dir.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:  DefaultDataDir(),
		LogLevel: "info",
	}
	cfg.Gateway.PollSchedule = "@every 30s"
	cfg.Gateway.MaxRetries = 3
	cfg.Chat.MaxRuns = 100
	cfg.Chat.MaxCanvasRuns = 200
	cfg.Chat.WorklogLimit = 1200
	cfg.Settings.Backend = "sqlite"
	return cfg
}

// Load reads path over the defaults, writing the defaults first if the file is missing.
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("DRAM_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DRAM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DRAM_PRIMARY_MODEL"); v != "" {
		cfg.Routing.PrimaryModel = v
	}
	if v := os.Getenv("DRAM_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}

	return cfg, nil
}

// PricingPath resolves the pricing overrides file, defaulting to pricing.toml in the
// data dir.
func (c *Config) PricingPath() string {
	if c.Pricing.OverridesPath != "" {
		return c.Pricing.OverridesPath
	}
	return filepath.Join(c.DataDir, "pricing.toml")
}

// SettingsPath is the sqlite database holding persisted routing settings.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.db")
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap round-trips cfg through JSON into a generic nested map.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every leaf of cfg in key order. With redact set, secret
// values keep only their last four characters.
func ListValues(cfg *Config, redact bool) ([]Entry, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	list := entries("", m, nil)
	if redact {
		for i := range list {
			if list[i].Secret {
				list[i].Value = Redact(list[i].Value)
			}
		}
	}
	return list, nil
}

// GetValue loads the config at path and returns the value under a dot key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	v, ok := lookup(m, key)
	if !ok {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	return v, nil
}

// SetValue edits one dot key in the file at path, which must already exist. The raw
// value is stored as a bool or number when it parses as one. Keys the client does
// not know are kept so hand edits survive.
func SetValue(path, key, raw string) error {
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid config key %q", key)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	assign(m, key, parseValue(raw))

	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(out, '\n'))
}

func parseValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return strings.TrimSpace(raw)
}
