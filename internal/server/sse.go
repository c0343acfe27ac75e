package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/modalmux/modalmux/internal/domain"
)

// sseWriter serializes stream events onto an SSE response. The event type
// doubles as the SSE event name.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

type errorPayload struct {
	Type      string `json:"type"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

type imagePayload struct {
	domain.StreamEvent
	ImageURL string `json:"image_url"`
}

// WriteEvent writes one event and flushes it to the client.
func (s *sseWriter) WriteEvent(ev domain.StreamEvent) error {
	var payload any = ev
	switch ev.Type {
	case domain.EventError:
		payload = errorEventPayload(ev.Err)
	case domain.EventImageGenerated:
		// Clients fetch the finished image over the outputs route.
		payload = imagePayload{StreamEvent: ev, ImageURL: "/outputs/" + ev.Filename}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func errorEventPayload(err error) errorPayload {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return errorPayload{Type: "error", ErrorType: string(apiErr.Type), Message: apiErr.Message}
	}
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return errorPayload{Type: "error", ErrorType: string(domain.ErrorTypeServer), Message: msg}
}
