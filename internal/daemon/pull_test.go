package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelconsole/pkg/types"
)

// scriptedBody hands out one line per Read and records how far it was consumed.
type scriptedBody struct {
	mu     sync.Mutex
	lines  []string
	reads  int
	closed bool
}

func (b *scriptedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.New("read after close")
	}
	if b.reads >= len(b.lines) {
		return 0, io.EOF
	}
	n := copy(p, b.lines[b.reads]+"\n")
	b.reads++
	return n, nil
}

func (b *scriptedBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func scriptedClient(t *testing.T, body *scriptedBody, opts ...Option) *Client {
	t.Helper()
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/api/pull" {
			return &http.Response{StatusCode: http.StatusNotFound, Body: http.NoBody, Request: r}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: body, Header: http.Header{}, Request: r}, nil
	})}
	return New(testConfig("http://daemon.test", nil), append([]Option{WithHTTPClient(hc)}, opts...)...)
}

func collect(s *PullStream) []types.PullEvent {
	var out []types.PullEvent
	for s.Next() {
		out = append(out, s.Event())
	}
	return out
}

func TestPullStreamEventSequence(t *testing.T) {
	body := &scriptedBody{lines: []string{
		`{"status":"pulling manifest"}`,
		`this is not json`,
		`{"status":"pulling a80c","digest":"sha256:a80c","total":200,"completed":50}`,
		``,
		`{"status":"pulling a80c","digest":"sha256:a80c","total":200,"completed":200}`,
		`{"status":"verifying sha256 digest"}`,
		`{"status":"success"}`,
		`{"status":"pulling extra","total":10,"completed":1}`,
	}}
	rec := &fakeRecorder{}
	c := scriptedClient(t, body, WithUsageRecorder(rec))

	s, err := c.PullModelStream(context.Background(), "llama3.2")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	events := collect(s)

	require.Len(t, events, 3)
	assert.Equal(t, types.PullEvent{Phase: types.PullDownloading, Status: "pulling a80c", Digest: "sha256:a80c", Completed: 50, Total: 200, Percent: 25}, events[0])
	assert.Equal(t, types.PullDownloading, events[1].Phase)
	assert.Equal(t, 100.0, events[1].Percent)
	assert.Equal(t, types.PullSuccess, events[2].Phase)
	require.NoError(t, s.Err())

	body.mu.Lock()
	assert.Equal(t, 7, body.reads, "no read past the terminal line")
	assert.True(t, body.closed)
	body.mu.Unlock()

	assert.False(t, s.Next())
	require.NoError(t, s.Close())

	recs := rec.snapshot()
	require.Len(t, recs, 1)
	assert.Equal(t, types.OpPull, recs[0].Operation)
	assert.Equal(t, "llama3.2", recs[0].ModelName)
}

func TestPullStreamErrorEvent(t *testing.T) {
	body := &scriptedBody{lines: []string{
		`{"status":"pulling manifest"}`,
		`{"error":"pull model manifest: file does not exist"}`,
		`{"status":"success"}`,
	}}
	rec := &fakeRecorder{}
	c := scriptedClient(t, body, WithUsageRecorder(rec))

	res, err := c.PullModel(context.Background(), "ghost")
	assert.True(t, IsNotFound(err), "got %v", err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "file does not exist")
	assert.Equal(t, 2, body.reads)
	assert.Empty(t, rec.snapshot())
}

func TestPullStreamZeroTotal(t *testing.T) {
	body := &scriptedBody{lines: []string{
		`{"status":"pulling x","total":0,"completed":10}`,
		`{"status":"success"}`,
	}}
	s, err := scriptedClient(t, body).PullModelStream(context.Background(), "m")
	require.NoError(t, err)
	events := collect(s)
	require.Len(t, events, 2)
	assert.Zero(t, events[0].Percent)
}

func TestPullStreamTruncated(t *testing.T) {
	body := &scriptedBody{lines: []string{
		`{"status":"pulling x","total":100,"completed":10}`,
	}}
	c := scriptedClient(t, body)
	s, err := c.PullModelStream(context.Background(), "m")
	require.NoError(t, err)
	events := collect(s)
	assert.Len(t, events, 1)
	assert.True(t, IsConnection(s.Err()))
	assert.True(t, body.closed)

	body2 := &scriptedBody{lines: []string{`{"status":"pulling x","total":100,"completed":10}`}}
	res, err := scriptedClient(t, body2).PullModel(context.Background(), "m")
	assert.Error(t, err)
	assert.False(t, res.Success)
}

func TestPullStreamCloseEarly(t *testing.T) {
	body := &scriptedBody{lines: []string{
		`{"status":"pulling x","total":100,"completed":10}`,
		`{"status":"pulling x","total":100,"completed":20}`,
		`{"status":"success"}`,
	}}
	rec := &fakeRecorder{}
	s, err := scriptedClient(t, body, WithUsageRecorder(rec)).PullModelStream(context.Background(), "m")
	require.NoError(t, err)
	require.True(t, s.Next())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
	assert.Equal(t, 1, body.reads)
	assert.True(t, body.closed)
	assert.Empty(t, rec.snapshot())
}

func TestPullStreamCloseUnblocksStalledNext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	fd := newFakeDaemon(t, map[string]http.HandlerFunc{
		"POST /api/pull": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"pulling x","total":100,"completed":1}` + "\n"))
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
		},
	})
	rec := &fakeRecorder{}
	s, err := New(testConfig(fd.URL, nil), WithUsageRecorder(rec)).PullModelStream(context.Background(), "m")
	require.NoError(t, err)
	require.True(t, s.Next())

	nextDone := make(chan bool, 1)
	go func() { nextDone <- s.Next() }()
	time.Sleep(50 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a stalled Next")
	}
	select {
	case more := <-nextDone:
		assert.False(t, more)
	case <-time.After(2 * time.Second):
		t.Fatal("Next still blocked after Close")
	}
	assert.NoError(t, s.Err())
	assert.Empty(t, rec.snapshot())
}

func TestPullModelBlocking(t *testing.T) {
	fd := newFakeDaemon(t, map[string]http.HandlerFunc{
		"POST /api/pull": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/x-ndjson")
			fl := w.(http.Flusher)
			for _, l := range []string{
				`{"status":"pulling manifest"}`,
				`{"status":"pulling abc","digest":"sha256:abc","total":10,"completed":5}`,
				`{"status":"success"}`,
			} {
				_, _ = w.Write([]byte(l + "\n"))
				fl.Flush()
			}
		},
	})
	rec := &fakeRecorder{}
	c := New(testConfig(fd.URL, nil), WithUsageRecorder(rec))
	res, err := c.PullModel(context.Background(), "llama3.2")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Successfully pulled model llama3.2", res.Message)
	body := fd.lastBody("POST /api/pull")
	assert.Equal(t, "llama3.2", body["name"])
	assert.Equal(t, true, body["stream"])
	assert.Len(t, rec.snapshot(), 1)
}

func TestPullEstablishmentIsRetried(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	fd := newFakeDaemon(t, map[string]http.HandlerFunc{
		"POST /api/pull": func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"status":"success"}` + "\n"))
		},
	})
	var delays []time.Duration
	c := New(testConfig(fd.URL, &delays))
	res, err := c.PullModel(context.Background(), "m")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, fd.count("POST /api/pull"))
	assert.Equal(t, []time.Duration{time.Second}, delays)
}

func TestPullStreamContextCancel(t *testing.T) {
	release := make(chan struct{})
	fd := newFakeDaemon(t, map[string]http.HandlerFunc{
		"POST /api/pull": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"pulling x","total":100,"completed":1}` + "\n"))
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
		},
	})
	defer close(release)
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New(testConfig(fd.URL, nil)).PullModelStream(ctx, "m")
	require.NoError(t, err)
	require.True(t, s.Next())
	cancel()
	assert.False(t, s.Next())
	assert.Error(t, s.Err())
}
