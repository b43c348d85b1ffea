// Package sse provides Server-Sent Events (SSE) response writing utilities.
package sse

import (
	"encoding/json"
	"errors"
	"net/http"

	ginsse "github.com/gin-contrib/sse"
)

// Writer wraps an http.ResponseWriter for SSE streaming, framing each
// event with gin's own SSE encoder rather than hand-rolled formatting.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter creates a new SSE writer
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	return &Writer{
		w:       w,
		flusher: flusher,
	}, nil
}

// SetHeaders sets the SSE response headers
func (sw *Writer) SetHeaders() {
	sw.w.Header().Set("Content-Type", "text/event-stream")
	sw.w.Header().Set("Cache-Control", "no-cache")
	sw.w.Header().Set("Connection", "keep-alive")
	sw.w.Header().Set("X-Accel-Buffering", "no")
}

// WriteEvent writes an SSE event with the given type and data, encoded by
// gin-contrib/sse's wire format rather than a hand-built "event:\ndata:\n\n"
// string.
func (sw *Writer) WriteEvent(eventType string, data interface{}) error {
	if err := ginsse.Encode(sw.w, ginsse.Event{Event: eventType, Data: data}); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// WriteRaw writes pre-marshaled JSON as the data field of an SSE event.
// json.RawMessage's MarshalJSON returns its bytes unchanged, so gin's
// encoder re-emits jsonData verbatim instead of re-marshaling it.
func (sw *Writer) WriteRaw(eventType string, jsonData []byte) error {
	if err := ginsse.Encode(sw.w, ginsse.Event{Event: eventType, Data: json.RawMessage(jsonData)}); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// WriteError writes an error event
func (sw *Writer) WriteError(errorType, message string) error {
	errorData := map[string]interface{}{
		"type": "error",
		"error": map[string]string{
			"type":    errorType,
			"message": message,
		},
	}
	return sw.WriteEvent("error", errorData)
}

// Flush flushes any buffered data
func (sw *Writer) Flush() {
	sw.flusher.Flush()
}
