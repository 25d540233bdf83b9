package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"modelconsole/internal/modelfile"
	"modelconsole/pkg/types"
)

type listResponse struct {
	Models []types.ModelDescriptor `json:"models"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type generateRequest struct {
	Model     string `json:"model"`
	KeepAlive int    `json:"keep_alive"`
	Stream    bool   `json:"stream"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	TotalDuration   int64  `json:"total_duration"` // nanoseconds
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

type showResponse struct {
	Modelfile  string `json:"modelfile"`
	Parameters string `json:"parameters"`
	Template   string `json:"template"`
	System     string `json:"system"`
}

type createRequest struct {
	Name      string `json:"name"`
	Modelfile string `json:"modelfile"`
	Stream    bool   `json:"stream"`
}

// ListModels returns the installed models. The result is never nil: on failure
// it is empty and accompanied by the error. A 404 from the daemon means an empty
// inventory and is not an error.
func (c *Client) ListModels(ctx context.Context) ([]types.ModelDescriptor, error) {
	return c.listModels(ctx, "list_models", "/api/tags")
}

// ListRunning returns the models currently loaded in memory, with the same contract as ListModels.
func (c *Client) ListRunning(ctx context.Context) ([]types.ModelDescriptor, error) {
	return c.listModels(ctx, "list_running", "/api/ps")
}

func (c *Client) listModels(ctx context.Context, op, path string) ([]types.ModelDescriptor, error) {
	var resp listResponse
	if err := c.call(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		if IsNotFound(err) {
			return []types.ModelDescriptor{}, nil
		}
		c.log.Warn().Err(err).Str("op", op).Msg("model listing failed")
		return []types.ModelDescriptor{}, err
	}
	if resp.Models == nil {
		return []types.ModelDescriptor{}, nil
	}
	return resp.Models, nil
}

// DeleteModel removes a model from the daemon's store. A model the daemon does
// not know is already gone: the 404 is not retried and the call succeeds with an
// informational message.
func (c *Client) DeleteModel(ctx context.Context, name string) (types.OperationResult, error) {
	name, err := requireName("delete_model", name)
	if err != nil {
		return failed(err), err
	}
	if err := c.call(ctx, "delete_model", http.MethodDelete, "/api/delete", nameRequest{Name: name}, nil); err != nil {
		if IsNotFound(err) {
			c.log.Info().Str("model", name).Msg("delete skipped, model not installed")
			return types.OperationResult{Success: true, Message: fmt.Sprintf("Model %s is not installed", name)}, nil
		}
		return failed(err), err
	}
	c.log.Info().Str("model", name).Msg("model deleted")
	return types.OperationResult{Success: true, Message: "Successfully deleted model " + name}, nil
}

// StopModel unloads a running model. Stopping a model that is not running
// succeeds without contacting the daemon beyond the running listing. After the
// unload request the running listing is checked again once the confirmation delay passed.
func (c *Client) StopModel(ctx context.Context, name string) (types.OperationResult, error) {
	const op = "stop_model"
	name, err := requireName(op, name)
	if err != nil {
		return failed(err), err
	}
	running, err := c.ListRunning(ctx)
	if err != nil {
		return failed(err), err
	}
	if !containsModel(running, name) {
		return types.OperationResult{Success: true, Message: fmt.Sprintf("Model %s is not running", name)}, nil
	}

	start := time.Now()
	var gen generateResponse
	if err := c.call(ctx, op, http.MethodPost, "/api/generate", generateRequest{Model: name, KeepAlive: 0}, &gen); err != nil {
		return failed(err), err
	}
	c.record(ctx, types.UsageRecord{
		ModelName:        name,
		Operation:        types.OpStop,
		PromptTokens:     gen.PromptEvalCount,
		CompletionTokens: gen.EvalCount,
		DurationSeconds:  durationSeconds(gen.TotalDuration, time.Since(start)),
	})

	if err := sleepCtx(ctx, c.cfg.StopConfirmDelay); err != nil {
		e := &Error{Category: CategoryUnknown, Op: op, Message: "canceled while confirming stop", Err: err}
		return failed(e), e
	}
	running, err = c.ListRunning(ctx)
	if err != nil {
		return failed(err), err
	}
	if containsModel(running, name) {
		e := &Error{Category: CategoryUnknown, Op: op, Message: fmt.Sprintf("model %s is still running after unload request", name)}
		return failed(e), e
	}
	c.log.Info().Str("model", name).Msg("model stopped")
	return types.OperationResult{Success: true, Message: "Successfully stopped model " + name}, nil
}

// GetModelConfig fetches and parses the modelfile of name.
func (c *Client) GetModelConfig(ctx context.Context, name string) (types.ModelConfig, error) {
	const op = "get_model_config"
	name, err := requireName(op, name)
	if err != nil {
		return types.ModelConfig{Parameters: map[string]string{}}, err
	}
	var resp showResponse
	if err := c.call(ctx, op, http.MethodPost, "/api/show", nameRequest{Name: name}, &resp); err != nil {
		return types.ModelConfig{Parameters: map[string]string{}}, err
	}

	doc := modelfile.Decode(resp.Modelfile)
	for _, w := range doc.Warnings {
		c.log.Debug().Str("model", name).Int("line", w.Line).Str("reason", w.Reason).Msg("modelfile line skipped")
	}
	cfg := doc.ModelConfig
	// Older daemons return an abbreviated modelfile; fill gaps from the dedicated fields.
	if cfg.Template == "" {
		cfg.Template = resp.Template
	}
	if cfg.System == "" {
		cfg.System = resp.System
	}
	if len(cfg.Parameters) == 0 && strings.TrimSpace(resp.Parameters) != "" {
		cfg.Parameters = parameterBlock(resp.Parameters)
	}
	return cfg, nil
}

// parameterBlock parses the "key value" lines of the show response's parameters field.
func parameterBlock(text string) map[string]string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString("PARAMETER ")
		b.WriteString(strings.TrimSpace(line))
		b.WriteByte('\n')
	}
	return modelfile.Parse(b.String()).Parameters
}

// SaveModelConfig rewrites name's modelfile from cfg, based on the model itself.
// Empty System and Template keep the inherited values.
func (c *Client) SaveModelConfig(ctx context.Context, name string, cfg types.ModelConfig) (types.OperationResult, error) {
	const op = "save_model_config"
	name, err := requireName(op, name)
	if err != nil {
		return failed(err), err
	}
	req := createRequest{Name: name, Modelfile: modelfile.Generate(name, cfg), Stream: false}
	if err := c.call(ctx, op, http.MethodPost, "/api/create", req, nil); err != nil {
		return failed(err), err
	}
	c.log.Info().Str("model", name).Int("parameters", len(cfg.Parameters)).Msg("model configuration saved")
	return types.OperationResult{Success: true, Message: "Configuration saved for model " + name}, nil
}

// DeleteModels deletes each named model and reports per-model outcomes.
// The error is non-nil only when the request itself is invalid.
func (c *Client) DeleteModels(ctx context.Context, names []string) ([]types.BatchResult, error) {
	return c.batch(ctx, "delete_models", names, func(name string) (types.OperationResult, error) {
		return c.DeleteModel(ctx, name)
	})
}

// SaveModelConfigs applies cfg to every named model.
func (c *Client) SaveModelConfigs(ctx context.Context, names []string, cfg types.ModelConfig) ([]types.BatchResult, error) {
	return c.batch(ctx, "save_model_configs", names, func(name string) (types.OperationResult, error) {
		return c.SaveModelConfig(ctx, name, cfg)
	})
}

func (c *Client) batch(ctx context.Context, op string, names []string, fn func(string) (types.OperationResult, error)) ([]types.BatchResult, error) {
	if len(names) == 0 {
		return nil, validationError(op, "at least one model name is required")
	}
	out := make([]types.BatchResult, 0, len(names))
	for _, n := range names {
		if ctx.Err() != nil {
			out = append(out, types.BatchResult{Name: n, Success: false, Message: "canceled"})
			continue
		}
		res, _ := fn(n)
		out = append(out, types.BatchResult{Name: n, Success: res.Success, Message: res.Message})
	}
	return out, nil
}

// CompareModels collects configuration, usage and inventory details for two or more models.
func (c *Client) CompareModels(ctx context.Context, names []string) ([]types.ModelComparison, error) {
	const op = "compare_models"
	uniq := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, n)
	}
	if len(uniq) < 2 {
		return nil, validationError(op, "at least two distinct model names are required")
	}

	inventory, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.ModelComparison, 0, len(uniq))
	for _, n := range uniq {
		cfg, err := c.GetModelConfig(ctx, n)
		if err != nil {
			return nil, err
		}
		stats, err := c.Stats(ctx, n)
		if err != nil {
			return nil, err
		}
		cmp := types.ModelComparison{Name: n, Config: cfg, Stats: stats}
		if d, ok := findModel(inventory, n); ok {
			cmp.Details = d.Details
			cmp.Size = d.Size
		}
		out = append(out, cmp)
	}
	return out, nil
}

// Stats returns aggregated usage for name, or for all models when name is empty.
// Without a usage recorder the statistics are all zero.
func (c *Client) Stats(ctx context.Context, name string) (types.UsageStats, error) {
	if c.recorder == nil {
		return types.UsageStats{OperationsByType: map[string]int64{}}, nil
	}
	st, err := c.recorder.Stats(ctx, strings.TrimSpace(name))
	if err != nil {
		return types.UsageStats{OperationsByType: map[string]int64{}}, &Error{Category: CategoryUnknown, Op: "stats", Message: "usage ledger query failed", Err: err}
	}
	return st, nil
}

func failed(err error) types.OperationResult {
	return types.OperationResult{Success: false, Message: err.Error()}
}

// canonicalName appends the implicit ":latest" tag.
func canonicalName(n string) string {
	n = strings.TrimSpace(n)
	if n != "" && !strings.Contains(n, ":") {
		return n + ":latest"
	}
	return n
}

func findModel(models []types.ModelDescriptor, name string) (types.ModelDescriptor, bool) {
	want := canonicalName(name)
	for _, m := range models {
		if canonicalName(m.Name) == want || (m.Model != "" && canonicalName(m.Model) == want) {
			return m, true
		}
	}
	return types.ModelDescriptor{}, false
}

func containsModel(models []types.ModelDescriptor, name string) bool {
	_, ok := findModel(models, name)
	return ok
}

// durationSeconds prefers the daemon-reported duration in nanoseconds and
// falls back to the locally measured wall time.
func durationSeconds(reportedNanos int64, measured time.Duration) float64 {
	if reportedNanos > 0 {
		return time.Duration(reportedNanos).Seconds()
	}
	return measured.Seconds()
}
