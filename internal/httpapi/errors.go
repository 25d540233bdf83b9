package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"modelconsole/internal/daemon"
	"modelconsole/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps an error onto the HTTP status and category reported to clients.
func statusFor(err error) (int, string) {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), categoryForStatus(he.StatusCode())
	}
	cat := daemon.CategoryOf(err)
	switch cat {
	case daemon.CategoryConnection, daemon.CategoryTimeout, daemon.CategoryServerUnavailable:
		return http.StatusServiceUnavailable, string(cat)
	case daemon.CategoryValidation:
		return http.StatusBadRequest, string(cat)
	case daemon.CategoryNotFound:
		return http.StatusNotFound, string(cat)
	}
	return http.StatusInternalServerError, string(cat)
}

func categoryForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return string(daemon.CategoryValidation)
	case http.StatusNotFound:
		return string(daemon.CategoryNotFound)
	case http.StatusServiceUnavailable:
		return string(daemon.CategoryServerUnavailable)
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	return string(daemon.CategoryUnknown)
}

// writeError writes err as a JSON error payload with the mapped status.
func writeError(w http.ResponseWriter, err error) {
	status, cat := statusFor(err)
	writeJSONErrorCategory(w, status, cat, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSONErrorCategory(w, status, categoryForStatus(status), msg)
}

func writeJSONErrorCategory(w http.ResponseWriter, status int, category, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Category: category, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
