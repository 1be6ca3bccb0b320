// Package config loads process-wide configuration for centrix-ci from
// environment variables. Configuration is read once at startup; the
// resulting Config is immutable for the lifetime of the process.
package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config holds all centrix-ci configuration.
type Config struct {
	// WebhookSecret verifies inbound forge webhook HMAC signatures.
	// Empty disables verification (degraded mode — every request is
	// accepted; a warning is logged once at startup).
	WebhookSecret string

	// GitHubToken authenticates outbound forge API calls (status
	// callbacks, PR comments). Empty makes the forge client a no-op.
	GitHubToken string

	// ThrottleWindow bounds how close together duplicate builds for the
	// same fingerprint may be reported as distinct.
	ThrottleWindow time.Duration

	// MaxConcurrent caps the number of builds the scheduler admits to
	// running state at once.
	MaxConcurrent int

	// DashboardURL is linked from outbound commit-status callbacks.
	DashboardURL string

	// MaxRunningEnvs, MaxEnvsPerPR, MaxEnvsGlobal bound the ephemeral
	// review-environment subsystem.
	MaxRunningEnvs int
	MaxEnvsPerPR   int
	MaxEnvsGlobal  int

	// DormantTTL is how long a dormant environment survives before the
	// reaper destroys it.
	DormantTTL time.Duration
	// IdleTimeout is how long a running environment may sit idle before
	// the reaper marks it dormant.
	IdleTimeout time.Duration

	// DatabaseURL is a postgres:// connection string.
	DatabaseURL string

	// Port is the HTTP listen port.
	Port string

	// LogFormat selects "json" (production) or "text" (development)
	// logging output.
	LogFormat string
}

// Default returns configuration with sensible defaults applied before
// any environment overrides.
func Default() Config {
	return Config{
		ThrottleWindow: 60 * time.Second,
		MaxConcurrent:  1,
		DashboardURL:   "http://localhost:9090/ci",
		MaxRunningEnvs: 3,
		MaxEnvsPerPR:   5,
		MaxEnvsGlobal:  20,
		DormantTTL:     7 * 24 * time.Hour,
		IdleTimeout:    60 * time.Minute,
		Port:           "9090",
		LogFormat:      "text",
	}
}

// Load reads configuration from environment variables, overlaying
// Default(). It never returns an error for missing variables — only a
// malformed value for a variable that was set produces an error, so a
// misconfigured deployment fails fast at startup.
func Load(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = noopGetenv
	}
	cfg := Default()

	if v := getenv("CI_WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := getenv("CI_GITHUB_TOKEN"); v != "" {
		cfg.GitHubToken = v
	}
	if v := getenv("CI_THROTTLE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("CI_THROTTLE_WINDOW: %w", err)
		}
		cfg.ThrottleWindow = d
	}
	if v := getenv("CI_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("CI_MAX_CONCURRENT: %w", err)
		}
		cfg.MaxConcurrent = n
	}
	if v := getenv("CI_DASHBOARD_URL"); v != "" {
		cfg.DashboardURL = v
	}
	if v := getenv("CI_MAX_RUNNING_ENVS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("CI_MAX_RUNNING_ENVS: %w", err)
		}
		cfg.MaxRunningEnvs = n
	}
	if v := getenv("CI_MAX_ENVS_PER_PR"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("CI_MAX_ENVS_PER_PR: %w", err)
		}
		cfg.MaxEnvsPerPR = n
	}
	if v := getenv("CI_MAX_ENVS_GLOBAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("CI_MAX_ENVS_GLOBAL: %w", err)
		}
		cfg.MaxEnvsGlobal = n
	}
	if v := getenv("CI_DORMANT_TTL_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("CI_DORMANT_TTL_DAYS: %w", err)
		}
		cfg.DormantTTL = time.Duration(n) * 24 * time.Hour
	}
	if v := getenv("CI_IDLE_TIMEOUT_MIN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("CI_IDLE_TIMEOUT_MIN: %w", err)
		}
		cfg.IdleTimeout = time.Duration(n) * time.Minute
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := getenv("CI_PORT"); v != "" {
		cfg.Port = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg, nil
}

func noopGetenv(string) string { return "" }

// HasWebhookSecret reports whether signature verification is enabled.
func (c Config) HasWebhookSecret() bool {
	return c.WebhookSecret != ""
}

// HasGitHubToken reports whether outbound forge calls are enabled.
func (c Config) HasGitHubToken() bool {
	return c.GitHubToken != ""
}
