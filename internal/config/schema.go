package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// documentSchema rejects unknown keys and wrongly typed values in config files.
const documentSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "addr":                    {"type": "string"},
    "daemon_url":              {"type": "string"},
    "api_key":                 {"type": "string"},
    "ledger_path":             {"type": "string"},
    "log_level":               {"type": "string", "enum": ["", "debug", "info", "warn", "error"]},
    "log_format":              {"type": "string", "enum": ["", "console", "json"]},
    "log_file":                {"type": "string"},
    "access_log":              {"type": "string", "enum": ["", "off", "error", "info", "debug"]},
    "trace_file":              {"type": "string"},
    "request_timeout_seconds": {"type": "integer", "minimum": 0},
    "health_interval_seconds": {"type": "integer", "minimum": 0},
    "pull_timeout_seconds":    {"type": "integer", "minimum": 0},
    "retry_attempts":          {"type": "integer", "minimum": 0},
    "max_body_bytes":          {"type": "integer", "minimum": 0},
    "cors_enabled":            {"type": "boolean"},
    "cors_origins":            {"type": "array", "items": {"type": "string"}},
    "rate_limit_rps":          {"type": "number", "minimum": 0},
    "rate_limit_burst":        {"type": "integer", "minimum": 0}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

func validateDocument(doc map[string]any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config for validation: %w", err)
	}
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(b))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var details []string
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(details, "; "))
}
