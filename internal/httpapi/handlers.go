package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"modelconsole/internal/daemon"
	"modelconsole/pkg/types"
)

// decodeJSON enforces the JSON content type and body size limit and decodes into v.
// It writes the error response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusBadRequest, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// MaxBytesReader errors also land here; report 400 without size details.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// requireDaemon answers 503 when the daemon is not reachable.
func requireDaemon(w http.ResponseWriter, r *http.Request, svc Service) bool {
	if svc.CheckServer(r.Context()) {
		return true
	}
	writeJSONErrorCategory(w, http.StatusServiceUnavailable, string(daemon.CategoryServerUnavailable),
		"model daemon at "+svc.BaseURL()+" is not running; start it and try again")
	return false
}

func modelName(w http.ResponseWriter, raw string) (string, bool) {
	name, err := url.PathUnescape(raw)
	if err != nil {
		name = raw
	}
	name = strings.TrimSpace(name)
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "model name is required")
		return "", false
	}
	return name, true
}

// handleServerStatus godoc
// @Summary      Daemon reachability
// @Tags         server
// @Produce      json
// @Param        X-Ollama-URL  header  string  false  "Daemon base URL override"
// @Success      200  {object}  types.ServerStatusResponse
// @Router       /api/server/status [get]
func handleServerStatus(w http.ResponseWriter, r *http.Request) {
	svc := serviceFrom(r)
	status := "stopped"
	if svc.CheckServer(r.Context()) {
		status = "running"
	}
	writeJSON(w, http.StatusOK, types.ServerStatusResponse{Status: status, BaseURL: svc.BaseURL()})
}

// handleListModels godoc
// @Summary      Installed models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Failure      503  {object}  types.ErrorResponse
// @Router       /api/models [get]
func handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := serviceFrom(r).ListModels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
}

// handleListRunning godoc
// @Summary      Models loaded in memory
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Failure      503  {object}  types.ErrorResponse
// @Router       /api/models/running [get]
func handleListRunning(w http.ResponseWriter, r *http.Request) {
	models, err := serviceFrom(r).ListRunning(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
}

// handlePull godoc
// @Summary      Download a model
// @Description  Blocks until the download finishes. With Accept: text/event-stream or ?stream=true
// @Description  the progress is streamed as server-sent events instead.
// @Tags         models
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Param        body  body  types.ModelNameRequest  true  "Model"
// @Success      200  {object}  types.OperationResult
// @Failure      400  {object}  types.ErrorResponse
// @Failure      503  {object}  types.ErrorResponse
// @Router       /api/models/pull [post]
func handlePull(w http.ResponseWriter, r *http.Request) {
	var req types.ModelNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name, ok := modelName(w, req.Name)
	if !ok {
		return
	}
	svc := serviceFrom(r)
	if !requireDaemon(w, r, svc) {
		return
	}

	// Join server base context with request context so shutdown cancels the download too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	if wantsEventStream(r) {
		streamPull(ctx, w, r, svc, name)
		return
	}
	if pullTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, pullTimeout)
		defer tcancel()
	}
	res, err := svc.PullModel(ctx, name)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeError(w, err)
		return
	}
	if ev := logEvent(r); ev != nil {
		ev.Str("model", name).Msg("model pulled")
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDelete godoc
// @Summary      Delete a model
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        body  body  types.ModelNameRequest  true  "Model"
// @Success      200  {object}  types.OperationResult
// @Failure      404  {object}  types.ErrorResponse
// @Router       /api/models/delete [post]
func handleDelete(w http.ResponseWriter, r *http.Request) {
	lifecycle(w, r, Service.DeleteModel)
}

// handleStop godoc
// @Summary      Unload a running model
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        body  body  types.ModelNameRequest  true  "Model"
// @Success      200  {object}  types.OperationResult
// @Router       /api/models/stop [post]
func handleStop(w http.ResponseWriter, r *http.Request) {
	lifecycle(w, r, Service.StopModel)
}

func lifecycle(w http.ResponseWriter, r *http.Request, op func(Service, context.Context, string) (types.OperationResult, error)) {
	var req types.ModelNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name, ok := modelName(w, req.Name)
	if !ok {
		return
	}
	svc := serviceFrom(r)
	if !requireDaemon(w, r, svc) {
		return
	}
	res, err := op(svc, r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetConfig godoc
// @Summary      Model configuration
// @Tags         config
// @Produce      json
// @Param        name  path  string  true  "Model name"
// @Success      200  {object}  types.ModelConfig
// @Failure      404  {object}  types.ErrorResponse
// @Router       /api/models/{name}/config [get]
func handleGetConfig(w http.ResponseWriter, r *http.Request) {
	name, ok := modelName(w, chi.URLParam(r, "name"))
	if !ok {
		return
	}
	svc := serviceFrom(r)
	if !requireDaemon(w, r, svc) {
		return
	}
	cfg, err := svc.GetModelConfig(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleSaveConfig godoc
// @Summary      Replace model configuration
// @Tags         config
// @Accept       json
// @Produce      json
// @Param        name  path  string             true  "Model name"
// @Param        body  body  types.ModelConfig  true  "Configuration; empty system/template keep the inherited value"
// @Success      200  {object}  types.OperationResult
// @Router       /api/models/{name}/config [post]
func handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	name, ok := modelName(w, chi.URLParam(r, "name"))
	if !ok {
		return
	}
	var cfg types.ModelConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	svc := serviceFrom(r)
	if !requireDaemon(w, r, svc) {
		return
	}
	res, err := svc.SaveModelConfig(r.Context(), name, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStats godoc
// @Summary      Usage statistics for all models
// @Tags         stats
// @Produce      json
// @Success      200  {object}  types.UsageStats
// @Router       /api/models/stats [get]
func handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := serviceFrom(r).Stats(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleModelStats godoc
// @Summary      Usage statistics for one model
// @Tags         stats
// @Produce      json
// @Param        name  path  string  true  "Model name"
// @Success      200  {object}  types.UsageStats
// @Router       /api/models/{name}/stats [get]
func handleModelStats(w http.ResponseWriter, r *http.Request) {
	name, ok := modelName(w, chi.URLParam(r, "name"))
	if !ok {
		return
	}
	st, err := serviceFrom(r).Stats(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleBatchDelete godoc
// @Summary      Delete several models
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        body  body  types.BatchNamesRequest  true  "Models"
// @Success      200  {object}  types.BatchResponse
// @Router       /api/models/batch/delete [post]
func handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req types.BatchNamesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Names) == 0 {
		writeJSONError(w, http.StatusBadRequest, "at least one model name is required")
		return
	}
	svc := serviceFrom(r)
	if !requireDaemon(w, r, svc) {
		return
	}
	results, err := svc.DeleteModels(r.Context(), req.Names)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.BatchResponse{Results: results})
}

// handleBatchConfig godoc
// @Summary      Apply one configuration to several models
// @Tags         config
// @Accept       json
// @Produce      json
// @Param        body  body  types.BatchConfigRequest  true  "Models and configuration"
// @Success      200  {object}  types.BatchResponse
// @Router       /api/models/batch/config [post]
func handleBatchConfig(w http.ResponseWriter, r *http.Request) {
	var req types.BatchConfigRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Models) == 0 {
		writeJSONError(w, http.StatusBadRequest, "at least one model name is required")
		return
	}
	svc := serviceFrom(r)
	if !requireDaemon(w, r, svc) {
		return
	}
	results, err := svc.SaveModelConfigs(r.Context(), req.Models, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.BatchResponse{Results: results})
}

// handleCompare godoc
// @Summary      Compare models side by side
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        body  body  types.CompareRequest  true  "At least two models"
// @Success      200  {object}  types.CompareResponse
// @Failure      400  {object}  types.ErrorResponse
// @Router       /api/models/compare [post]
func handleCompare(w http.ResponseWriter, r *http.Request) {
	var req types.CompareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Models) < 2 {
		writeJSONError(w, http.StatusBadRequest, "at least two models are required for comparison")
		return
	}
	svc := serviceFrom(r)
	if !requireDaemon(w, r, svc) {
		return
	}
	cmp, err := svc.CompareModels(r.Context(), req.Models)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CompareResponse{Comparison: cmp})
}
