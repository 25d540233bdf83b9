package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"modelconsole/internal/common/fsutil"
)

// EnvPrefix prefixes every environment override, e.g. MODELCONSOLE_DAEMON_URL.
const EnvPrefix = "MODELCONSOLE"

// DefaultDaemonURL is used when neither configuration nor OLLAMA_HOST name a daemon.
const DefaultDaemonURL = "http://localhost:11434"

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:                  ":8080",
		LedgerPath:            "~/.modelconsole/usage.db",
		LogLevel:              "info",
		LogFormat:             "console",
		AccessLog:             "off",
		RequestTimeoutSeconds: 30,
		HealthIntervalSeconds: 5,
		RetryAttempts:         3,
		MaxBodyBytes:          1 << 20,
		RateLimitBurst:        20,
	}
}

// Keys lists every configuration key known to the overlay.
func Keys() []string {
	return []string{
		"addr", "daemon_url", "api_key", "ledger_path",
		"log_level", "log_format", "log_file", "access_log", "trace_file",
		"request_timeout_seconds", "health_interval_seconds", "pull_timeout_seconds", "retry_attempts",
		"max_body_bytes", "cors_enabled", "cors_origins", "rate_limit_rps", "rate_limit_burst",
	}
}

// NewViper returns a viper instance carrying the defaults and the
// MODELCONSOLE_* environment binding. Callers bind their flags to it and then
// call Resolve.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("addr", d.Addr)
	v.SetDefault("daemon_url", "")
	v.SetDefault("api_key", "")
	v.SetDefault("ledger_path", d.LedgerPath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", "")
	v.SetDefault("access_log", d.AccessLog)
	v.SetDefault("trace_file", "")
	v.SetDefault("request_timeout_seconds", d.RequestTimeoutSeconds)
	v.SetDefault("health_interval_seconds", d.HealthIntervalSeconds)
	v.SetDefault("pull_timeout_seconds", 0)
	v.SetDefault("retry_attempts", d.RetryAttempts)
	v.SetDefault("max_body_bytes", d.MaxBodyBytes)
	v.SetDefault("cors_enabled", false)
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("rate_limit_rps", 0.0)
	v.SetDefault("rate_limit_burst", d.RateLimitBurst)
	return v
}

// Resolve merges, in increasing precedence: defaults, the config file at path
// (optional), MODELCONSOLE_* environment variables, and flags bound to v.
// The daemon URL falls back to OLLAMA_HOST and then DefaultDaemonURL.
func Resolve(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		doc, err := readDocument(path)
		if err != nil {
			return Config{}, err
		}
		if err := v.MergeConfigMap(doc); err != nil {
			return Config{}, fmt.Errorf("merge config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg = cfg.WithDefaults()
	if cfg.DaemonURL == "" {
		cfg.DaemonURL = DaemonURLFromEnv()
	}
	lp, err := fsutil.ExpandHome(cfg.LedgerPath)
	if err != nil {
		return Config{}, err
	}
	cfg.LedgerPath = lp
	return cfg, cfg.Validate()
}

// DaemonURLFromEnv returns OLLAMA_HOST when set, else DefaultDaemonURL.
func DaemonURLFromEnv() string {
	if h := strings.TrimSpace(os.Getenv("OLLAMA_HOST")); h != "" {
		return h
	}
	return DefaultDaemonURL
}

// WithDefaults fills unspecified fields from Defaults.
func (c Config) WithDefaults() Config {
	d := Defaults()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.LedgerPath == "" {
		c.LedgerPath = d.LedgerPath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.AccessLog == "" {
		c.AccessLog = d.AccessLog
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = d.RequestTimeoutSeconds
	}
	if c.HealthIntervalSeconds <= 0 {
		c.HealthIntervalSeconds = d.HealthIntervalSeconds
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = d.RateLimitBurst
	}
	return c
}

// Validate checks values the schema cannot see, such as those set through
// flags or the environment.
func (c Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (want debug|info|warn|error)", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format %q (want console|json)", c.LogFormat)
	}
	if c.PullTimeoutSeconds < 0 {
		return fmt.Errorf("pull_timeout_seconds must be >= 0")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate_limit_rps must be >= 0")
	}
	return nil
}

// RequestTimeout returns the per-call daemon timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// HealthInterval returns how long a health probe result is reused.
func (c Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

// PullTimeout bounds blocking pulls over HTTP; zero disables the bound.
func (c Config) PullTimeout() time.Duration {
	return time.Duration(c.PullTimeoutSeconds) * time.Second
}
