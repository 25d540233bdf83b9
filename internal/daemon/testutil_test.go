package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modelconsole/pkg/types"
)

// fakeDaemon is a scriptable stand-in for the daemon's REST API.
type fakeDaemon struct {
	*httptest.Server

	mu      sync.Mutex
	hits    map[string]int
	bodies  map[string][]map[string]any
	running []types.ModelDescriptor
	// stopUnloads controls whether /api/generate with keep_alive 0 removes the model.
	stopUnloads bool
}

func newFakeDaemon(t *testing.T, routes map[string]http.HandlerFunc) *fakeDaemon {
	t.Helper()
	fd := &fakeDaemon{hits: map[string]int{}, bodies: map[string][]map[string]any{}, stopUnloads: true}
	mux := http.NewServeMux()
	defaults := map[string]http.HandlerFunc{
		"GET /api/version": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]string{"version": "0.5.7"})
		},
		"GET /api/ps": func(w http.ResponseWriter, r *http.Request) {
			fd.mu.Lock()
			defer fd.mu.Unlock()
			writeJSON(w, map[string]any{"models": fd.running})
		},
		"POST /api/generate": func(w http.ResponseWriter, r *http.Request) {
			fd.mu.Lock()
			defer fd.mu.Unlock()
			body := fd.bodies["POST /api/generate"]
			last := body[len(body)-1]
			model, _ := last["model"].(string)
			if fd.stopUnloads {
				kept := fd.running[:0]
				for _, m := range fd.running {
					if canonicalName(m.Name) != canonicalName(model) {
						kept = append(kept, m)
					}
				}
				fd.running = kept
			}
			writeJSON(w, map[string]any{"model": model, "done": true, "done_reason": "unload",
				"total_duration": int64(2 * time.Second), "prompt_eval_count": 7, "eval_count": 11})
		},
	}
	for pattern, h := range routes {
		defaults[pattern] = h
	}
	for pattern, h := range defaults {
		pattern, h := pattern, h
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			if r.Body != nil {
				_ = json.NewDecoder(r.Body).Decode(&body)
			}
			fd.mu.Lock()
			fd.hits[pattern]++
			fd.bodies[pattern] = append(fd.bodies[pattern], body)
			fd.mu.Unlock()
			h(w, r)
		})
	}
	fd.Server = httptest.NewServer(mux)
	t.Cleanup(fd.Close)
	return fd
}

func (fd *fakeDaemon) count(pattern string) int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.hits[pattern]
}

func (fd *fakeDaemon) lastBody(pattern string) map[string]any {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	b := fd.bodies[pattern]
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1]
}

func (fd *fakeDaemon) setRunning(names ...string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.running = nil
	for _, n := range names {
		fd.running = append(fd.running, types.ModelDescriptor{Name: n, Model: n})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// testConfig returns a config with instant retries and no stop confirmation wait.
func testConfig(baseURL string, delays *[]time.Duration) Config {
	var mu sync.Mutex
	return Config{
		BaseURL:          baseURL,
		StopConfirmDelay: -1,
		Retry: RetryPolicy{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			Multiplier:   2,
			Sleep: func(ctx context.Context, d time.Duration) error {
				if delays != nil {
					mu.Lock()
					*delays = append(*delays, d)
					mu.Unlock()
				}
				return ctx.Err()
			},
		},
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	records  []types.UsageRecord
	logErr   error
	stats    types.UsageStats
	statsErr error
	calls    atomic.Int32
}

func (f *fakeRecorder) Log(_ context.Context, rec types.UsageRecord) (types.UsageRecord, error) {
	f.calls.Add(1)
	if f.logErr != nil {
		return rec, f.logErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = int64(len(f.records) + 1)
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeRecorder) Stats(_ context.Context, model string) (types.UsageStats, error) {
	if f.statsErr != nil {
		return types.UsageStats{}, f.statsErr
	}
	return f.stats, nil
}

func (f *fakeRecorder) snapshot() []types.UsageRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.UsageRecord(nil), f.records...)
}

var errLedgerDown = errors.New("ledger down")
