package daemon

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingPolicy(delays *[]time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		Sleep: func(ctx context.Context, d time.Duration) error {
			*delays = append(*delays, d)
			return nil
		},
	}
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := recordingPolicy(&delays).Do(context.Background(), func(context.Context) error {
		calls++
		return &Error{Category: CategoryConnection, Op: "x"}
	})
	require.Error(t, err)
	assert.True(t, IsConnection(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestRetryDelaysAreMonotonic(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(&delays)
	p.MaxAttempts = 8
	p.Multiplier = 0.5 // clamped to 1
	p.MaxDelay = 3 * time.Second
	_ = p.Do(context.Background(), func(context.Context) error {
		return &Error{Category: CategoryServerUnavailable}
	})
	require.Len(t, delays, 7)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}

	delays = nil
	p.Multiplier = 3
	_ = p.Do(context.Background(), func(context.Context) error {
		return &Error{Category: CategoryTimeout}
	})
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second}, delays)
}

func TestRetrySkipsTerminalErrors(t *testing.T) {
	var delays []time.Duration
	for _, cat := range []Category{CategoryValidation, CategoryNotFound, CategoryCodecMalformed, CategoryUnknown} {
		calls := 0
		err := recordingPolicy(&delays).Do(context.Background(), func(context.Context) error {
			calls++
			return &Error{Category: cat}
		})
		assert.Equal(t, cat, CategoryOf(err))
		assert.Equal(t, 1, calls, "category %s", cat)
	}
	calls := 0
	_ = recordingPolicy(&delays).Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("plain")
	})
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestRetryRecovers(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := recordingPolicy(&delays).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return &Error{Category: CategoryTimeout}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, delays, 1)
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2}
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error {
			calls++
			return &Error{Category: CategoryConnection}
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.True(t, IsConnection(err))
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	fd := newFakeDaemon(t, map[string]http.HandlerFunc{
		"GET /api/tags": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
		},
	})
	var delays []time.Duration
	c := New(testConfig(fd.URL, &delays))
	models, err := c.ListModels(context.Background())
	require.Error(t, err)
	assert.NotNil(t, models)
	assert.Empty(t, models)
	assert.True(t, IsServerUnavailable(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 3, fd.count("GET /api/tags"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}
