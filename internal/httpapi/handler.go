package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/radutopala/simsearch/internal/lifecycle"
	"github.com/radutopala/simsearch/internal/search"
)

const maxRequestBytes = 1 << 20

// Backend is the search service as seen by the HTTP API
type Backend interface {
	Search(ctx context.Context, query string, limit int, subset []string) ([]string, error)
	Health() lifecycle.Health
	TriggerRebuild() bool
}

// SearchRequest is the body of POST /search
type SearchRequest struct {
	QueryText        string   `json:"query_text"`
	Limit            int      `json:"limit,omitempty"`
	ProjectIDsSubset []string `json:"project_ids_subset,omitempty"`
}

// SearchResponse is the body returned by POST /search
type SearchResponse struct {
	SimilarProjectIDs []string `json:"similar_project_ids"`
}

// RebuildResponse is the body returned by POST /rebuild-index
type RebuildResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}

type api struct {
	backend Backend
	logger  *slog.Logger
}

// NewHandler returns the HTTP routes. mcpHandler, when non-nil, is mounted at /mcp.
func NewHandler(backend Backend, mcpHandler http.Handler, logger *slog.Logger) http.Handler {
	a := &api{backend: backend, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", a.handleSearch)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /rebuild-index", a.handleRebuildIndex)
	if mcpHandler != nil {
		mux.Handle("/mcp", mcpHandler)
	}

	return a.logRequests(mux)
}

func (a *api) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "malformed request body: " + err.Error()})
		return
	}

	ids, err := a.backend.Search(r.Context(), req.QueryText, req.Limit, req.ProjectIDsSubset)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			a.logger.Warn("Search failed", "status", status, "error", err)
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{SimilarProjectIDs: ids})
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := a.backend.Health()

	status := http.StatusOK
	if !h.IndexReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (a *api) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	resp := RebuildResponse{Status: "accepted"}
	if !a.backend.TriggerRebuild() {
		resp.Status = "already_running"
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// statusFor maps search errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, search.ErrQueryEncode):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrIndexNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer (MCP streaming needs Flush)
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
