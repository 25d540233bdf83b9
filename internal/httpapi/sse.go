package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"modelconsole/pkg/types"
)

// wantsEventStream reports whether the client asked for server-sent events.
func wantsEventStream(r *http.Request) bool {
	if v := r.URL.Query().Get("stream"); v == "true" || v == "1" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// streamPull relays pull progress as server-sent events, one event per
// progress update named after its phase. A stream that breaks before a
// terminal event ends with an "error" event carrying an ErrorResponse.
func streamPull(ctx context.Context, w http.ResponseWriter, r *http.Request, svc Service, name string) {
	stream, err := svc.PullModelStream(ctx, name)
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Close()
	pullStreamsActive.Inc()
	defer pullStreamsActive.Dec()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	out := io.Writer(w)
	if requestLogLevel(r) >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{prefix: "pull"})
	}
	flush()

	for stream.Next() {
		ev := stream.Event()
		if err := writeSSE(out, string(ev.Phase), ev); err != nil {
			return
		}
		flush()
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		status, cat := statusFor(err)
		_ = writeSSE(out, string(types.PullError), types.ErrorResponse{Error: err.Error(), Category: cat, Code: status})
		flush()
	}
}

func writeSSE(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "event: "+event+"\ndata: "+string(data)+"\n\n")
	return err
}
