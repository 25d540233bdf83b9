// Package daemon is a resilient client for the model daemon's REST API.
//
// Every operation returns a categorized *Error on failure. Requests that fail
// with connection, timeout or 5xx errors are retried with exponential backoff.
// The daemon's reachability is cached so that status polling does not hammer it.
package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"modelconsole/pkg/types"
)

// DefaultBaseURL is the daemon's standard local address.
const DefaultBaseURL = "http://localhost:11434"

const (
	defaultRequestTimeout   = 30 * time.Second
	defaultHealthInterval   = 5 * time.Second
	defaultProbeTimeout     = 2 * time.Second
	defaultStopConfirmDelay = 500 * time.Millisecond

	maxErrorBody = 64 << 10
)

// UsageRecorder receives usage records for completed operations and serves
// aggregate statistics. *usage.Ledger implements it.
type UsageRecorder interface {
	Log(ctx context.Context, rec types.UsageRecord) (types.UsageRecord, error)
	Stats(ctx context.Context, model string) (types.UsageStats, error)
}

// Config holds the per-client settings. Zero values select the defaults.
type Config struct {
	BaseURL          string
	APIKey           string // sent as a bearer token when set
	RequestTimeout   time.Duration
	HealthInterval   time.Duration
	ProbeTimeout     time.Duration
	StopConfirmDelay time.Duration
	Retry            RetryPolicy
}

func (c Config) withDefaults() Config {
	c.BaseURL = NormalizeBaseURL(c.BaseURL)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.StopConfirmDelay < 0 {
		c.StopConfirmDelay = 0
	} else if c.StopConfirmDelay == 0 {
		c.StopConfirmDelay = defaultStopConfirmDelay
	}
	def := DefaultRetryPolicy()
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = def.InitialDelay
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = def.Multiplier
	}
	return c
}

// Client talks to one daemon base URL. It is safe for concurrent use.
type Client struct {
	cfg      Config
	http     *http.Client
	log      zerolog.Logger
	tracer   trace.Tracer
	recorder UsageRecorder
	now      func() time.Time
	health   healthState
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client. Its Timeout should be zero;
// the client applies per-request deadlines itself and pull streams are unbounded.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithUsageRecorder enables usage recording for pull and stop.
func WithUsageRecorder(r UsageRecorder) Option { return func(c *Client) { c.recorder = r } }

// WithTracer sets the tracer used for request spans. The global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithClock overrides the time source used by the health cache.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a Client.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg.withDefaults(),
		http:   &http.Client{},
		log:    zerolog.Nop(),
		tracer: otel.Tracer("modelconsole/internal/daemon"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With().Str("daemon", c.cfg.BaseURL).Logger()
	return c
}

// BaseURL returns the normalized daemon address.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// NormalizeBaseURL trims whitespace and trailing slashes and adds http:// when
// no scheme is present. An empty input yields DefaultBaseURL.
func NormalizeBaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultBaseURL
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	return strings.TrimRight(s, "/")
}

// ValidateBaseURL normalizes raw and checks that it is an absolute http(s) URL.
func ValidateBaseURL(raw string) (string, error) {
	s := NormalizeBaseURL(raw)
	u, err := url.Parse(s)
	if err != nil {
		return "", &Error{Category: CategoryValidation, Op: "base_url", Message: "invalid daemon URL", Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", validationError("base_url", fmt.Sprintf("daemon URL must be http(s)://host[:port], got %q", raw))
	}
	return s, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return req, nil
}

// open performs a single request and returns the response when the status is 2xx.
// On any other outcome the body is closed and a categorized error returned.
func (c *Client) open(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, &Error{Category: CategoryUnknown, Op: op, Message: "build request", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, statusError(op, resp.StatusCode, b)
	}
	return resp, nil
}

// retryPolicy returns the client's policy with logging and metrics attached for op.
func (c *Client) retryPolicy(op string) RetryPolicy {
	p := c.cfg.Retry
	user := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		daemonRetriesTotal.WithLabelValues(op).Inc()
		c.log.Warn().Str("op", op).Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("daemon request failed, retrying")
		if user != nil {
			user(attempt, delay, err)
		}
	}
	return p
}

// call sends a JSON request under the retry policy and decodes the response into out (if non-nil).
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	return c.retryPolicy(op).Do(ctx, func(ctx context.Context) error {
		return c.attempt(ctx, op, method, path, body, out)
	})
}

func (c *Client) attempt(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	ctx, span := c.startSpan(ctx, op, method, path)
	start := time.Now()
	defer func() {
		observeRequest(op, start, err)
		endSpan(span, err)
	}()

	resp, err := c.open(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if derr := json.NewDecoder(resp.Body).Decode(out); derr != nil && !errors.Is(derr, io.EOF) {
		return &Error{Category: CategoryCodecMalformed, Op: op, Message: "malformed daemon response", StatusCode: resp.StatusCode, Err: derr}
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, op, method, path string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "daemon."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
			attribute.String("daemon.base_url", c.cfg.BaseURL),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CategoryOf(err)))
	}
	span.End()
}

// record hands rec to the usage recorder. Failures are logged and dropped.
func (c *Client) record(ctx context.Context, rec types.UsageRecord) {
	if c.recorder == nil {
		return
	}
	if _, err := c.recorder.Log(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Warn().Err(err).Str("model", rec.ModelName).Str("operation", string(rec.Operation)).Msg("usage record dropped")
	}
}

func requireName(op, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError(op, "model name is required")
	}
	return name, nil
}
