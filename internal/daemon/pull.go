package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"modelconsole/pkg/types"
)

const maxPullLine = 1 << 20

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// pullLine is one NDJSON progress line of /api/pull.
type pullLine struct {
	Status    string `json:"status"`
	Digest    string `json:"digest"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Error     string `json:"error"`
}

// PullStream iterates over the progress events of one model download.
//
//	s, err := c.PullModelStream(ctx, "llama3.2")
//	if err != nil { ... }
//	defer s.Close()
//	for s.Next() {
//		ev := s.Event()
//	}
//	if err := s.Err(); err != nil { ... }
//
// A stream is finite and cannot be restarted. It ends after the first success
// or error event; the connection is released at that point without reading further.
type PullStream struct {
	// ID identifies this download in logs.
	ID    string
	Model string

	c       *Client
	ctx     context.Context
	body    io.ReadCloser
	cancel  context.CancelFunc
	scanner *bufio.Scanner
	span    trace.Span
	start   time.Time

	closeOnce sync.Once
	closed    atomic.Bool

	mu    sync.Mutex
	event types.PullEvent
	err   error
	done  bool
}

// PullModelStream starts downloading name and returns its progress stream.
// Establishing the stream is retried like any request; the stream body is not.
func (c *Client) PullModelStream(ctx context.Context, name string) (*PullStream, error) {
	const op = "pull_model"
	name, err := requireName(op, name)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ctx, span := c.startSpan(ctx, op, http.MethodPost, "/api/pull")
	span.SetAttributes(attribute.String("model", name), attribute.String("pull.id", id))

	reqCtx, cancel := context.WithCancel(ctx)
	var resp *http.Response
	err = c.retryPolicy(op).Do(reqCtx, func(ctx context.Context) error {
		start := time.Now()
		r, err := c.open(ctx, op, http.MethodPost, "/api/pull", pullRequest{Name: name, Stream: true})
		observeRequest(op, start, err)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		cancel()
		endSpan(span, err)
		return nil, err
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxPullLine)
	c.log.Info().Str("model", name).Str("pull_id", id).Msg("pull started")
	return &PullStream{
		ID:      id,
		Model:   name,
		c:       c,
		ctx:     ctx,
		body:    resp.Body,
		cancel:  cancel,
		scanner: sc,
		span:    span,
		start:   time.Now(),
	}, nil
}

// Next advances to the next event. It returns false once the stream ended,
// failed, or was closed.
func (s *PullStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	for !s.closed.Load() && s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var pl pullLine
		if err := json.Unmarshal(line, &pl); err != nil {
			s.c.log.Debug().Str("pull_id", s.ID).Err(err).Msg("skipping malformed pull line")
			continue
		}
		ev, ok := pullEvent(pl)
		if !ok {
			continue
		}
		s.event = ev
		pullEventsTotal.WithLabelValues(string(ev.Phase)).Inc()
		if ev.Terminal() {
			s.finish(nil)
		}
		return true
	}

	if s.closed.Load() {
		s.finish(nil)
		return false
	}
	err := s.scanner.Err()
	if err == nil {
		err = &Error{Category: CategoryConnection, Op: "pull_model", Message: "pull stream ended before completion"}
	} else {
		err = transportError("pull_model", err)
	}
	s.finish(err)
	return false
}

// Event returns the event produced by the last successful Next.
func (s *PullStream) Event() types.PullEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event
}

// Err returns the error that ended the stream early, if any. A stream ended
// by an error event reports the failure through the event, not here.
func (s *PullStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the connection. It is safe to call more than once and from
// another goroutine, where it unblocks a Next waiting on a stalled download.
func (s *PullStream) Close() error {
	s.closed.Store(true)
	s.closeBody()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.finish(nil)
	}
	return nil
}

func (s *PullStream) closeBody() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.body.Close()
	})
}

// finish must be called with mu held.
func (s *PullStream) finish(err error) {
	s.done = true
	s.err = err
	s.closeBody()

	elapsed := time.Since(s.start)
	log := s.c.log.With().Str("model", s.Model).Str("pull_id", s.ID).Dur("elapsed", elapsed).Logger()
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("pull stream failed")
	case s.event.Phase == types.PullSuccess:
		log.Info().Msg("pull completed")
		s.c.record(s.ctx, types.UsageRecord{ModelName: s.Model, Operation: types.OpPull, DurationSeconds: elapsed.Seconds()})
	case s.event.Phase == types.PullError:
		log.Warn().Str("error", s.event.Error).Msg("pull reported an error")
		err = pullFailure(s.Model, s.event.Error)
	default:
		log.Info().Msg("pull stream closed by consumer")
	}
	s.span.SetAttributes(attribute.String("pull.phase", string(s.event.Phase)))
	endSpan(s.span, err)
}

// pullEvent converts a progress line. Lines without progress counters or a
// terminal status carry nothing to report and are dropped.
func pullEvent(pl pullLine) (types.PullEvent, bool) {
	switch {
	case pl.Error != "":
		return types.PullEvent{Phase: types.PullError, Status: pl.Status, Error: pl.Error}, true
	case pl.Status == "success":
		return types.PullEvent{Phase: types.PullSuccess, Status: pl.Status, Percent: 100}, true
	case pl.Total > 0 || pl.Completed > 0:
		ev := types.PullEvent{
			Phase:     types.PullDownloading,
			Status:    pl.Status,
			Digest:    pl.Digest,
			Completed: pl.Completed,
			Total:     pl.Total,
		}
		if pl.Total > 0 {
			ev.Percent = float64(pl.Completed) / float64(pl.Total) * 100
			if ev.Percent > 100 {
				ev.Percent = 100
			}
		}
		return ev, true
	}
	return types.PullEvent{}, false
}

func pullFailure(model, msg string) *Error {
	cat := CategoryUnknown
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist") {
		cat = CategoryNotFound
	}
	return &Error{Category: cat, Op: "pull_model", Message: "pull " + model + ": " + msg}
}

// PullModel downloads name and blocks until the daemon reports completion.
func (c *Client) PullModel(ctx context.Context, name string) (types.OperationResult, error) {
	s, err := c.PullModelStream(ctx, name)
	if err != nil {
		return failed(err), err
	}
	defer s.Close()
	for s.Next() {
		ev := s.Event()
		switch ev.Phase {
		case types.PullSuccess:
			return types.OperationResult{Success: true, Message: "Successfully pulled model " + s.Model}, nil
		case types.PullError:
			e := pullFailure(s.Model, ev.Error)
			return failed(e), e
		}
	}
	err = s.Err()
	return failed(err), err
}
