package types

import "time"

// ModelDescriptor is a model as reported by the daemon's inventory or running listings.
// It is a read-only snapshot; nothing in this module mutates it.
type ModelDescriptor struct {
	// Model name including the optional tag suffix.
	// example: llama3.2:latest
	Name string `json:"name" example:"llama3.2:latest"`
	// Model reference as reported by the daemon (usually equal to Name).
	// example: llama3.2:latest
	Model string `json:"model,omitempty" example:"llama3.2:latest"`
	// Size on disk in bytes.
	// example: 2019393189
	Size int64 `json:"size" example:"2019393189"`
	// Content digest of the model manifest.
	// example: a80c4f17acd55265feec403c7aef86be0c25983ab279d83f3bcd3abbcb5b8b72
	Digest string `json:"digest,omitempty" example:"a80c4f17acd55265feec403c7aef86be0c25983ab279d83f3bcd3abbcb5b8b72"`
	// Last modification time of the model in the daemon's store.
	ModifiedAt time.Time `json:"modified_at,omitempty"`
	// For running models: when the daemon will unload the model.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// For running models: bytes resident in VRAM.
	// example: 2019393189
	SizeVRAM int64 `json:"size_vram,omitempty" example:"2019393189"`
	// Opaque metadata reported by the daemon.
	Details ModelDetails `json:"details"`
}

// ModelDetails holds the nested details object of a model listing entry.
type ModelDetails struct {
	// example: gguf
	Format string `json:"format,omitempty" example:"gguf"`
	// example: llama
	Family   string   `json:"family,omitempty" example:"llama"`
	Families []string `json:"families,omitempty"`
	// example: 3.2B
	ParameterSize string `json:"parameter_size,omitempty" example:"3.2B"`
	// example: Q4_K_M
	QuantizationLevel string `json:"quantization_level,omitempty" example:"Q4_K_M"`
}

// ModelConfig is the structured view of a model's modelfile.
type ModelConfig struct {
	// Base model named by the FROM directive. Informational only.
	// example: llama3.2:latest
	From string `json:"from,omitempty" example:"llama3.2:latest"`
	// System prompt.
	// example: You are a helpful assistant.
	System string `json:"system"`
	// Prompt template.
	Template string `json:"template"`
	// PARAMETER directives keyed by parameter name.
	Parameters map[string]string `json:"parameters"`
}

// UsageRecord is one row of the usage ledger.
type UsageRecord struct {
	ID               int64         `json:"id"`
	ModelName        string        `json:"model_name"`
	Operation        OperationKind `json:"operation"`
	PromptTokens     int64         `json:"prompt_tokens"`
	CompletionTokens int64         `json:"completion_tokens"`
	DurationSeconds  float64       `json:"duration_seconds"`
	Timestamp        time.Time     `json:"timestamp"`
}

// UsageStats aggregates usage records.
type UsageStats struct {
	// example: 3
	TotalOperations int64 `json:"total_operations" example:"3"`
	// example: 120
	TotalPromptTokens int64 `json:"total_prompt_tokens" example:"120"`
	// example: 480
	TotalCompletionTokens int64 `json:"total_completion_tokens" example:"480"`
	// Sum of durations in seconds.
	// example: 12.5
	TotalDuration float64 `json:"total_duration" example:"12.5"`
	// Operation count keyed by operation kind.
	OperationsByType map[string]int64 `json:"operations_by_type"`
}

// PullEvent is one progress event produced while a model download streams.
type PullEvent struct {
	// downloading, success or error.
	// example: downloading
	Phase PullPhase `json:"phase" example:"downloading"`
	// Raw status line reported by the daemon.
	// example: pulling manifest
	Status string `json:"status,omitempty" example:"pulling manifest"`
	// Layer digest currently being downloaded, if any.
	Digest string `json:"digest,omitempty"`
	// example: 52428800
	Completed int64 `json:"completed" example:"52428800"`
	// example: 104857600
	Total int64 `json:"total" example:"104857600"`
	// example: 50
	Percent float64 `json:"percent" example:"50"`
	// Error text for error events.
	Error string `json:"error,omitempty"`
}

// Terminal reports whether the event ends a pull stream.
func (e PullEvent) Terminal() bool {
	return e.Phase == PullSuccess || e.Phase == PullError
}
