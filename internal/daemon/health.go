package daemon

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// healthState is the cached reachability of the daemon. mu covers both fields
// and is held across a probe so concurrent callers share one probe.
type healthState struct {
	mu        sync.Mutex
	reachable bool
	checkedAt time.Time
}

// CheckServer reports whether the daemon is reachable. A result younger than
// the health interval is returned without contacting the daemon. It never errors.
func (c *Client) CheckServer(ctx context.Context) bool {
	c.health.mu.Lock()
	defer c.health.mu.Unlock()

	if !c.health.checkedAt.IsZero() && c.now().Sub(c.health.checkedAt) < c.cfg.HealthInterval {
		return c.health.reachable
	}
	ok := c.probe(ctx)
	if !ok && ctx.Err() != nil {
		// the caller gave up; that says nothing about the daemon
		return false
	}
	c.health.reachable = ok
	c.health.checkedAt = c.now()
	return ok
}

// InvalidateHealth drops the cached result so the next CheckServer probes.
func (c *Client) InvalidateHealth() {
	c.health.mu.Lock()
	c.health.checkedAt = time.Time{}
	c.health.mu.Unlock()
}

func (c *Client) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	ctx, span := c.startSpan(ctx, "health", http.MethodGet, "/api/version")
	start := time.Now()

	resp, err := c.open(ctx, "health", http.MethodGet, "/api/version", nil)
	if err == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	observeRequest("health", start, err)
	endSpan(span, err)

	if err != nil {
		daemonHealthProbes.WithLabelValues("unreachable").Inc()
		c.log.Debug().Err(err).Msg("daemon health probe failed")
		return false
	}
	daemonHealthProbes.WithLabelValues("reachable").Inc()
	return true
}
