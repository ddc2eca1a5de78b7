// Package httpapi exposes the batch fetcher over HTTP: an SSE streaming
// endpoint for interactive uploads and a synchronous JSON endpoint for
// scripted use.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"billbatch/pkg/batch"
	"billbatch/pkg/billref"
)

// maxUploadBytes bounds the multipart upload size (10 MiB).
const maxUploadBytes = 10 << 20

var (
	errNoFile       = errors.New("no file provided")
	errNoReferences = errors.New("no reference numbers found")
)

// Runner executes one batch run. Satisfied by *batch.Orchestrator.
type Runner interface {
	Run(ctx context.Context, runID string, refs []billref.Reference, reporter batch.Reporter) (*batch.Summary, error)
}

// Server routes bill batch requests to the orchestrator.
type Server struct {
	runner Runner
	router *mux.Router
	logger zerolog.Logger
}

// NewServer creates the HTTP API server.
func NewServer(runner Runner) *Server {
	s := &Server{
		runner: runner,
		router: mux.NewRouter(),
		logger: log.With().Str("component", "http-api").Logger(),
	}

	s.router.HandleFunc("/api/bills/stream", s.handleStream).Methods(http.MethodPost)
	s.router.HandleFunc("/api/bills", s.handleSync).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStream processes an upload and streams progress as SSE events.
// The response is always 200; failures surface as error events so the
// browser's EventSource handling stays uniform.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	reporter, err := NewSSEReporter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	refs, err := s.parseUpload(r)
	if err != nil {
		reporter.Error(err)
		return
	}

	runID := uuid.NewString()
	s.logger.Info().Str("run_id", runID).Int("references", len(refs)).Msg("Streaming run started")

	// Run reports everything through the SSE channel; the returned
	// summary and error are already delivered as events.
	_, _ = s.runner.Run(r.Context(), runID, refs, reporter)
}

// handleSync processes an upload and answers with the final summary only.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	refs, err := s.parseUpload(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	runID := uuid.NewString()
	s.logger.Info().Str("run_id", runID).Int("references", len(refs)).Msg("Synchronous run started")

	summary, err := s.runner.Run(r.Context(), runID, refs, batch.NopReporter{})
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// parseUpload extracts and classifies reference numbers from the uploaded
// file. An optional type form field (electric or gas) narrows the run to
// one utility.
func (s *Server) parseUpload(r *http.Request) ([]billref.Reference, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, errNoFile
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errNoFile
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, err
	}

	refs, err := billref.ParseUpload(header.Filename, data)
	if err != nil {
		return nil, err
	}

	if kind := r.FormValue("type"); kind != "" {
		refs = filterKind(refs, billref.Kind(kind))
	}

	if len(refs) == 0 {
		return nil, errNoReferences
	}
	return refs, nil
}

func filterKind(refs []billref.Reference, kind billref.Kind) []billref.Reference {
	filtered := refs[:0]
	for _, ref := range refs {
		if ref.Kind == kind {
			filtered = append(filtered, ref)
		}
	}
	return filtered
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
