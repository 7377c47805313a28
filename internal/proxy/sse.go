package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter writes server-sent events and flushes after every write so
// chunks reach the client immediately.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares w for event streaming. Fails if the underlying
// writer cannot flush, since buffered SSE defeats its purpose.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent writes an "event:" line naming the type of the next data frame.
func (s *SSEWriter) WriteEvent(event string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("writing event type: %w", err)
	}
	return nil
}

// WriteData marshals data and writes it as one "data:" frame.
func (s *SSEWriter) WriteData(data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event data: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("writing event data: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// WriteRaw writes a literal "data:" frame without JSON encoding, used for
// the [DONE] stream terminator.
func (s *SSEWriter) WriteRaw(data string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing raw event data: %w", err)
	}
	s.flusher.Flush()
	return nil
}
