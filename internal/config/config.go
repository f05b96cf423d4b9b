// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// PollingConfig holds the polling cadences and bounds of the job service.
type PollingConfig struct {
	ListInterval    time.Duration // job list cadence (default 5s)
	DetailInterval  time.Duration // job detail cadence (default 3s)
	ConfirmInterval time.Duration // cancel confirmation cadence (default 500ms)
	ConfirmAttempts int           // cancel confirmation bound (default 20)
	PendingTimeout  time.Duration // how long a pending action may stay unconfirmed (default 30s)
}

// Validate checks that the polling configuration is usable.
func (p *PollingConfig) Validate() error {
	if p.ListInterval <= 0 || p.DetailInterval <= 0 || p.ConfirmInterval <= 0 {
		return fmt.Errorf("polling intervals must be positive")
	}
	if p.ConfirmAttempts <= 0 {
		return fmt.Errorf("SYNCLOOP_CONFIRM_ATTEMPTS must be positive")
	}
	if p.PendingTimeout < p.ConfirmInterval {
		return fmt.Errorf("SYNCLOOP_PENDING_TIMEOUT must not be shorter than SYNCLOOP_CONFIRM_INTERVAL")
	}
	return nil
}

// Config holds the configuration of the syncloop client.
type Config struct {
	Host     string // workflow engine base URL (optional, CLI flag/profile may supply it)
	Token    string // session token (optional)
	LogLevel string // log level: debug, info, warn, error (default "warn")

	// HTTP client
	HTTPTimeout    time.Duration // per-request timeout (default 30s)
	RateLimitRPS   float64       // outgoing requests per second (default 20)
	RateLimitBurst int           // burst capacity (default RateLimitRPS)

	Polling PollingConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// LoadFromEnv loads configuration from environment variables.
// Unparseable values fall back to their default with a warning.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:     strings.TrimSpace(os.Getenv("SYNCLOOP_HOST")),
		Token:    strings.TrimSpace(os.Getenv("SYNCLOOP_TOKEN")),
		LogLevel: os.Getenv("LOG_LEVEL"),
	}

	cfg.HTTPTimeout = cfg.durationEnv("SYNCLOOP_HTTP_TIMEOUT", 30*time.Second)
	if v := os.Getenv("SYNCLOOP_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitRPS = f
		} else {
			cfg.warnf("SYNCLOOP_RATE_LIMIT_RPS=%q is not a positive number; using default", v)
		}
	}
	if v := os.Getenv("SYNCLOOP_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		} else {
			cfg.warnf("SYNCLOOP_RATE_LIMIT_BURST=%q is not a positive integer; using default", v)
		}
	}

	cfg.Polling = PollingConfig{
		ListInterval:    cfg.durationEnv("SYNCLOOP_LIST_INTERVAL", 5*time.Second),
		DetailInterval:  cfg.durationEnv("SYNCLOOP_DETAIL_INTERVAL", 3*time.Second),
		ConfirmInterval: cfg.durationEnv("SYNCLOOP_CONFIRM_INTERVAL", 500*time.Millisecond),
		ConfirmAttempts: 20,
		PendingTimeout:  cfg.durationEnv("SYNCLOOP_PENDING_TIMEOUT", 30*time.Second),
	}
	if v := os.Getenv("SYNCLOOP_CONFIRM_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Polling.ConfirmAttempts = n
		} else {
			cfg.warnf("SYNCLOOP_CONFIRM_ATTEMPTS=%q is not an integer; using default", v)
		}
	}

	// Defaults
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warn"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = max(int(cfg.RateLimitRPS), 1)
	}
	if cfg.Host != "" && !strings.HasPrefix(cfg.Host, "https://") {
		cfg.Warnings = append(cfg.Warnings, "SYNCLOOP_HOST does not use https; the session token is sent in clear text")
	}

	if err := cfg.Polling.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) durationEnv(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		c.warnf("%s=%q is not a positive duration; using %s", key, v, defaultVal)
		return defaultVal
	}
	return d
}

func (c *Config) warnf(format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
