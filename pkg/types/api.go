package types

// ModelNameRequest is the body of POST /api/models/pull, /delete and /stop.
type ModelNameRequest struct {
	// Model name, optionally with a tag.
	// example: llama3.2:latest
	Name string `json:"name" example:"llama3.2:latest"`
}

// BatchNamesRequest is the body of POST /api/models/batch/delete.
type BatchNamesRequest struct {
	// example: ["llama3.2:latest","phi3:mini"]
	Names []string `json:"names"`
}

// BatchConfigRequest is the body of POST /api/models/batch/config.
type BatchConfigRequest struct {
	Models []string    `json:"models"`
	Config ModelConfig `json:"config"`
}

// CompareRequest is the body of POST /api/models/compare.
type CompareRequest struct {
	Models []string `json:"models"`
}

// ModelsResponse wraps a model listing.
type ModelsResponse struct {
	// List of models.
	Models []ModelDescriptor `json:"models"`
}

// ServerStatusResponse is returned by GET /api/server/status.
type ServerStatusResponse struct {
	// running or stopped.
	// example: running
	Status string `json:"status" example:"running"`
	// Daemon base URL this status refers to.
	// example: http://localhost:11434
	BaseURL string `json:"base_url" example:"http://localhost:11434"`
}

// OperationResult is the outcome of a lifecycle operation.
type OperationResult struct {
	// example: true
	Success bool `json:"success" example:"true"`
	// example: Successfully pulled model llama3.2:latest
	Message string `json:"message" example:"Successfully pulled model llama3.2:latest"`
}

// BatchResult is one per-model entry of a batch operation.
type BatchResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BatchResponse wraps batch results.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// ModelComparison is one column of a model comparison.
type ModelComparison struct {
	Name    string       `json:"name"`
	Config  ModelConfig  `json:"config"`
	Stats   UsageStats   `json:"stats"`
	Details ModelDetails `json:"details"`
	Size    int64        `json:"size"`
}

// CompareResponse wraps a model comparison.
type CompareResponse struct {
	Comparison []ModelComparison `json:"comparison"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model name is required
	Error string `json:"error" example:"model name is required"`
	// Machine-checkable error category.
	// example: validation
	Category string `json:"category" example:"validation"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
