package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
)

// eventWriter frames StreamEvents as text/event-stream and flushes after each one.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	buf     bytes.Buffer
}

func newEventWriter(w http.ResponseWriter) (*eventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("relay: response writer does not support flushing")
	}
	return &eventWriter{w: w, flusher: flusher}, nil
}

// Start commits the event-stream headers.
func (e *eventWriter) Start() {
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)
	e.flusher.Flush()
}

// Send writes `data: {"content":"..."}` followed by a blank line.
func (e *eventWriter) Send(ev StreamEvent) error {
	e.buf.Reset()
	e.buf.WriteString("data: ")
	enc := json.NewEncoder(&e.buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return err
	}
	// Encode already wrote one newline.
	e.buf.WriteByte('\n')
	if _, err := e.w.Write(e.buf.Bytes()); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
