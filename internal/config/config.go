// Package config loads the gateway's JSON configuration, applies env var
// overlays for local development, and hot-reloads mutable fields on file
// change without taking the request path down.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config is the on-disk configuration document (§6).
type Config struct {
	Port               int      `json:"port"`
	APIKeys            []string `json:"api_keys"`
	AuthDir            string   `json:"auth_dir"`
	RequestLog         bool     `json:"request_log"`
	RequestLogPath     string   `json:"request_log_path"`
	PassthroughHeaders bool     `json:"passthrough_headers"`

	UpstreamTimeoutSeconds int    `json:"upstream_timeout_seconds"`
	UpstreamProxyURL       string `json:"upstream_proxy_url"`

	ThinkingBudgetMode string `json:"thinking_budget_mode"`
	ThinkingBudget     int    `json:"thinking_budget"`
	ThinkingEffort     string `json:"thinking_effort"`

	RoutingMapPath string `json:"routing_map_path"`

	Security     SecurityConfig     `json:"security"`
	Experimental ExperimentalConfig `json:"experimental"`
	Logging      LoggingConfig      `json:"logging"`

	Database DatabaseConfig `json:"database"`
}

// SecurityConfig groups the auth-adjacent toggles (§4.13 names "security" as
// one of the hot-reloadable field groups).
type SecurityConfig struct {
	RequireAPIKey bool `json:"require_api_key"`
}

// ExperimentalConfig gates features not yet promoted to stable defaults.
type ExperimentalConfig struct {
	AdaptiveThinkingBudget bool `json:"adaptive_thinking_budget"`
}

type LoggingConfig struct {
	ToFile     bool   `json:"to_file"`
	Dir        string `json:"dir"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxAgeDays int    `json:"max_age_days"`
	MaxBackups int    `json:"max_backups"`
	Compress   bool   `json:"compress"`
}

type DatabaseConfig struct {
	// DSN, when set, switches the account/event repository to the pgx-backed
	// store; empty uses the on-disk JSON file store.
	DSN string `json:"dsn"`
}

// Load reads the JSON config file at path, then overlays any matching
// environment variables, after loading a .env file from the current working
// directory into the environment (local dev convenience; a missing .env file
// is ignored).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.Port == 0 {
		cfg.Port = 8317
	}
	if cfg.UpstreamTimeoutSeconds < 5 {
		cfg.UpstreamTimeoutSeconds = 5
	}
	if cfg.RequestLog && cfg.RequestLogPath == "" {
		cfg.RequestLogPath = "./requests.db"
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAYGATE_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("RELAYGATE_UPSTREAM_PROXY_URL"); v != "" {
		cfg.UpstreamProxyURL = v
	}
	if v := os.Getenv("RELAYGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
}
