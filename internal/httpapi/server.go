// Package httpapi exposes the daemon client over a small JSON/SSE API.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelconsole/internal/daemon"
	"modelconsole/pkg/types"
)

// EventStream is a pull progress iterator (see daemon.PullStream).
type EventStream interface {
	Next() bool
	Event() types.PullEvent
	Err() error
	Close() error
}

// Service defines the daemon operations required by the HTTP API layer.
type Service interface {
	BaseURL() string
	CheckServer(ctx context.Context) bool
	ListModels(ctx context.Context) ([]types.ModelDescriptor, error)
	ListRunning(ctx context.Context) ([]types.ModelDescriptor, error)
	PullModel(ctx context.Context, name string) (types.OperationResult, error)
	PullModelStream(ctx context.Context, name string) (EventStream, error)
	DeleteModel(ctx context.Context, name string) (types.OperationResult, error)
	StopModel(ctx context.Context, name string) (types.OperationResult, error)
	GetModelConfig(ctx context.Context, name string) (types.ModelConfig, error)
	SaveModelConfig(ctx context.Context, name string, cfg types.ModelConfig) (types.OperationResult, error)
	DeleteModels(ctx context.Context, names []string) ([]types.BatchResult, error)
	SaveModelConfigs(ctx context.Context, names []string, cfg types.ModelConfig) ([]types.BatchResult, error)
	CompareModels(ctx context.Context, names []string) ([]types.ModelComparison, error)
	Stats(ctx context.Context, name string) (types.UsageStats, error)
}

// Resolver returns the Service for a request. override is the raw value of
// the X-Ollama-URL header and is empty when absent.
type Resolver interface {
	Resolve(override string) (Service, error)
}

// PoolResolver resolves overrides through a daemon.Pool.
func PoolResolver(p *daemon.Pool) Resolver { return poolResolver{pool: p} }

type poolResolver struct{ pool *daemon.Pool }

func (pr poolResolver) Resolve(override string) (Service, error) {
	c, err := pr.pool.Get(override)
	if err != nil {
		return nil, err
	}
	return clientService{c}, nil
}

// clientService adapts *daemon.Client to Service.
type clientService struct{ *daemon.Client }

func (s clientService) PullModelStream(ctx context.Context, name string) (EventStream, error) {
	st, err := s.Client.PullModelStream(ctx, name)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// NewMux builds the HTTP handler.
func NewMux(res Resolver) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	if rateLimitRPS > 0 {
		r.Use(rateLimit(rateLimitRPS, rateLimitBurst))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		svc, err := res.Resolve("")
		if err == nil && svc.CheckServer(r.Context()) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("daemon unreachable"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(daemonContext(res))

		r.Get("/server/status", handleServerStatus)
		r.Get("/models", handleListModels)
		r.Get("/models/running", handleListRunning)
		r.Get("/models/stats", handleStats)
		r.Post("/models/pull", handlePull)
		r.Post("/models/delete", handleDelete)
		r.Post("/models/stop", handleStop)
		r.Post("/models/batch/delete", handleBatchDelete)
		r.Post("/models/batch/config", handleBatchConfig)
		r.Post("/models/compare", handleCompare)
		r.Get("/models/{name}/config", handleGetConfig)
		r.Post("/models/{name}/config", handleSaveConfig)
		r.Get("/models/{name}/stats", handleModelStats)
	})

	MountSwagger(r)
	return r
}
