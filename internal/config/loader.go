package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the console.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr" mapstructure:"addr"`
	DaemonURL string `json:"daemon_url" yaml:"daemon_url" toml:"daemon_url" mapstructure:"daemon_url"`
	APIKey    string `json:"api_key" yaml:"api_key" toml:"api_key" mapstructure:"api_key"`
	// LedgerPath is the SQLite usage database; "~" is expanded.
	LedgerPath string `json:"ledger_path" yaml:"ledger_path" toml:"ledger_path" mapstructure:"ledger_path"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level" mapstructure:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format" mapstructure:"log_format"`
	LogFile   string `json:"log_file" yaml:"log_file" toml:"log_file" mapstructure:"log_file"`
	AccessLog string `json:"access_log" yaml:"access_log" toml:"access_log" mapstructure:"access_log"`
	TraceFile string `json:"trace_file" yaml:"trace_file" toml:"trace_file" mapstructure:"trace_file"`

	RequestTimeoutSeconds int `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
	HealthIntervalSeconds int `json:"health_interval_seconds" yaml:"health_interval_seconds" toml:"health_interval_seconds" mapstructure:"health_interval_seconds"`
	PullTimeoutSeconds    int `json:"pull_timeout_seconds" yaml:"pull_timeout_seconds" toml:"pull_timeout_seconds" mapstructure:"pull_timeout_seconds"`
	RetryAttempts         int `json:"retry_attempts" yaml:"retry_attempts" toml:"retry_attempts" mapstructure:"retry_attempts"`

	MaxBodyBytes   int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" mapstructure:"max_body_bytes"`
	CORSEnabled    bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" mapstructure:"cors_enabled"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitRPS   float64  `json:"rate_limit_rps" yaml:"rate_limit_rps" toml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `json:"rate_limit_burst" yaml:"rate_limit_burst" toml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	doc, err := readDocument(path)
	if err != nil {
		return cfg, err
	}
	// Re-encode the validated document so every format decodes through one set of tags.
	b, err := json.Marshal(doc)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// readDocument decodes a config file into a generic map and validates it
// against the config schema.
func readDocument(path string) (map[string]any, error) {
	if path == "" {
		return nil, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
	case ".json":
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := validateDocument(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
