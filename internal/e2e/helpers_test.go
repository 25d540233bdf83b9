package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"modelconsole/internal/daemon"
	"modelconsole/internal/httpapi"
	"modelconsole/internal/usage"
)

// fakeOllama is a stateful stand-in for the model daemon.
type fakeOllama struct {
	*httptest.Server
	mu        sync.Mutex
	installed []string
	running   []string
	modelfile string
	created   []string
}

func newFakeOllama(t *testing.T, installed ...string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{installed: installed}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"version":"0.5.7"}`)
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeModels(w, f.installed)
	})
	mux.HandleFunc("GET /api/ps", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeModels(w, f.running)
	})
	mux.HandleFunc("POST /api/pull", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Name string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		fl, _ := w.(http.Flusher)
		for _, line := range []string{
			`{"status":"pulling manifest"}`,
			`{"status":"pulling a80c","total":200,"completed":100}`,
			`{"status":"pulling a80c","total":200,"completed":200}`,
			`{"status":"success"}`,
		} {
			_, _ = io.WriteString(w, line+"\n")
			if fl != nil {
				fl.Flush()
			}
		}
		f.mu.Lock()
		f.installed = append(f.installed, req.Name+":latest")
		f.mu.Unlock()
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Model string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		kept := f.running[:0]
		for _, m := range f.running {
			if m != req.Model && m != req.Model+":latest" {
				kept = append(kept, m)
			}
		}
		f.running = kept
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"model":"`+req.Model+`","done":true,"done_reason":"unload","prompt_eval_count":4,"eval_count":0,"total_duration":1500000000}`)
	})
	mux.HandleFunc("POST /api/show", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"modelfile": f.modelfile})
	})
	mux.HandleFunc("POST /api/create", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Name, Modelfile string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.created = append(f.created, req.Modelfile)
		f.modelfile = req.Modelfile
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"status":"success"}`)
	})
	mux.HandleFunc("DELETE /api/delete", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Name string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, m := range f.installed {
			if m == req.Name || m == req.Name+":latest" {
				f.installed = append(f.installed[:i], f.installed[i+1:]...)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model '`+req.Name+`' not found"}`)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func writeModels(w http.ResponseWriter, names []string) {
	type model struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}
	out := struct {
		Models []model `json:"models"`
	}{Models: []model{}}
	for _, n := range names {
		out.Models = append(out.Models, model{Name: n, Size: 1 << 30})
	}
	_ = json.NewEncoder(w).Encode(out)
}

// newConsole serves the console API against daemonURL with a fresh ledger.
func newConsole(t *testing.T, daemonURL string) (*httptest.Server, *usage.Ledger) {
	t.Helper()
	ledger, err := usage.Open(context.Background(), filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })
	cfg := daemon.Config{
		BaseURL:          daemonURL,
		RequestTimeout:   5 * time.Second,
		StopConfirmDelay: -1,
		Retry:            daemon.RetryPolicy{MaxAttempts: 1},
	}
	pool := daemon.NewPool(cfg, 4, daemon.WithUsageRecorder(ledger))
	srv := httptest.NewServer(httpapi.NewMux(httpapi.PoolResolver(pool)))
	t.Cleanup(srv.Close)
	return srv, ledger
}

func httpGet(t *testing.T, url string, headers ...string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return do(t, req)
}

func httpPostJSON(t *testing.T, url string, payload string, headers ...string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader([]byte(payload)))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func sseEvents(body []byte) []string {
	var names []string
	for _, line := range strings.Split(string(body), "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
	}
	return names
}
