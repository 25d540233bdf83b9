package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Category classifies a failure so callers can decide between retrying,
// reporting "daemon unavailable", or surfacing a user mistake.
type Category string

const (
	CategoryConnection        Category = "connection"
	CategoryTimeout           Category = "timeout"
	CategoryServerUnavailable Category = "server_unavailable"
	CategoryValidation        Category = "validation"
	CategoryNotFound          Category = "not_found"
	CategoryCodecMalformed    Category = "codec_malformed"
	CategoryUnknown           Category = "unknown"
)

// Error is the error type returned by every Client operation.
type Error struct {
	Category   Category
	Op         string // client operation, e.g. "list_models"
	Message    string
	StatusCode int // upstream HTTP status, 0 when no response was received
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Category))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Category {
	case CategoryConnection, CategoryTimeout, CategoryServerUnavailable:
		return true
	}
	return false
}

func validationError(op, msg string) *Error {
	return &Error{Category: CategoryValidation, Op: op, Message: msg}
}

// CategoryOf returns the category of err. Errors not produced by this package
// are classified as unknown, except context deadlines which count as timeouts.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	return CategoryUnknown
}

// IsConnection reports whether the daemon could not be reached.
func IsConnection(err error) bool { return CategoryOf(err) == CategoryConnection }

// IsTimeout reports whether the daemon did not answer in time.
func IsTimeout(err error) bool { return CategoryOf(err) == CategoryTimeout }

// IsServerUnavailable reports whether the daemon answered with a 5xx status.
func IsServerUnavailable(err error) bool { return CategoryOf(err) == CategoryServerUnavailable }

// IsNotFound reports whether the model or endpoint does not exist.
func IsNotFound(err error) bool { return CategoryOf(err) == CategoryNotFound }

// IsValidation reports whether the request was rejected before or by the daemon as invalid.
func IsValidation(err error) bool { return CategoryOf(err) == CategoryValidation }

// IsRetryable reports whether err is a transient failure.
func IsRetryable(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Retryable()
}

// IsUnavailable is true for the categories that mean "the daemon is not usable right now".
func IsUnavailable(err error) bool {
	switch CategoryOf(err) {
	case CategoryConnection, CategoryTimeout, CategoryServerUnavailable:
		return true
	}
	return false
}

// transportError classifies a failure that happened before a response arrived.
func transportError(op string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return &Error{Category: CategoryUnknown, Op: op, Message: "request canceled", Err: err}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Category: CategoryTimeout, Op: op, Message: "daemon did not respond in time", Err: err}
	}
	return &Error{Category: CategoryConnection, Op: op, Message: "cannot connect to daemon", Err: err}
}

// statusError classifies a non-2xx response. body is the (possibly truncated) response body.
func statusError(op string, code int, body []byte) *Error {
	msg := upstreamMessage(body)
	if msg == "" {
		msg = http.StatusText(code)
	}
	e := &Error{Op: op, Message: msg, StatusCode: code}
	switch {
	case code == http.StatusNotFound:
		e.Category = CategoryNotFound
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		e.Category = CategoryValidation
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		e.Category = CategoryTimeout
	case code >= 500:
		e.Category = CategoryServerUnavailable
	default:
		e.Category = CategoryUnknown
	}
	return e
}

// upstreamMessage extracts {"error": "..."} from a daemon response, falling back to the raw text.
func upstreamMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}
