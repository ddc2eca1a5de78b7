package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"billbatch/pkg/batch"
)

// SSEReporter streams batch events to an HTTP response as Server-Sent
// Events. Each event is one `event: <name>` / `data: <json>` frame,
// flushed immediately so the browser sees updates as they happen.
type SSEReporter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	logger  zerolog.Logger
}

// NewSSEReporter prepares the response for event streaming and emits the
// initial connected event. Returns an error when the writer cannot flush.
func NewSSEReporter(w http.ResponseWriter) (*SSEReporter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	r := &SSEReporter{
		w:       w,
		flusher: flusher,
		logger:  log.With().Str("component", "sse-reporter").Logger(),
	}
	r.send("connected", map[string]string{"message": "Connected"})
	return r, nil
}

func (r *SSEReporter) send(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("Event marshal failed")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A write error means the client went away; the orchestrator keeps
	// running and later events are dropped the same way.
	if _, err := fmt.Fprintf(r.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		r.logger.Debug().Err(err).Msg("Client disconnected")
		return
	}
	r.flusher.Flush()
}

// Progress implements batch.Reporter.
func (r *SSEReporter) Progress(p batch.Progress) {
	r.send("progress", p)
}

// BillUpdate implements batch.Reporter.
func (r *SSEReporter) BillUpdate(u batch.Update) {
	r.send("billUpdate", u)
}

// Complete implements batch.Reporter.
func (r *SSEReporter) Complete(s *batch.Summary) {
	r.send("complete", completePayload{
		Success: true,
		Message: fmt.Sprintf("Done in %.1fs - %d success, %d zero, %d failed",
			s.ElapsedSeconds, s.SuccessCount, s.ZeroCount, s.FailedCount),
		Summary: s,
	})
}

// Error implements batch.Reporter.
func (r *SSEReporter) Error(err error) {
	r.send("error", map[string]string{"error": err.Error()})
}

type completePayload struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Summary *batch.Summary `json:"summary"`
}
