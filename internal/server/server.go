// Package server exposes the history service over HTTP. Every request
// resolves its owner identity through the identity provider; requests with
// no credential run in anonymous, local-cache-only mode where the contract
// allows it.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/thinkbrief/thinkbrief/internal/cache"
	"github.com/thinkbrief/thinkbrief/internal/history"
	"github.com/thinkbrief/thinkbrief/internal/identity"
	"github.com/thinkbrief/thinkbrief/internal/inference"
)

// Server wires the HTTP API to the history service and its collaborators.
type Server struct {
	svc       *history.Service
	mirror    *cache.Mirror // nil when the cache is disabled
	identity  *identity.Client
	inference *inference.Client

	maxUploadBytes int64
	mux            *http.ServeMux
}

// Options configures a Server.
type Options struct {
	Service        *history.Service
	Mirror         *cache.Mirror
	Identity       *identity.Client
	Inference      *inference.Client
	MaxUploadBytes int64
}

// New builds the server and registers all routes.
func New(opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}

	s := &Server{
		svc:            opts.Service,
		mirror:         opts.Mirror,
		identity:       opts.Identity,
		inference:      opts.Inference,
		maxUploadBytes: opts.MaxUploadBytes,
		mux:            http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/summary", s.handleGenerateSummary)
	s.mux.HandleFunc("POST /api/summarize_text", s.handleSummarizeText)
	s.mux.HandleFunc("POST /api/ask", s.handleAsk)
	s.mux.HandleFunc("GET /api/document/{docID}", s.handleGetDocument)
	s.mux.HandleFunc("DELETE /api/document/{docID}", s.handleDeleteDocument)

	s.mux.HandleFunc("GET /api/history", s.handleListHistory)
	s.mux.HandleFunc("POST /api/history", s.handleCreateHistory)
	s.mux.HandleFunc("GET /api/history/{id}", s.handleGetHistory)
	s.mux.HandleFunc("POST /api/history/{id}/queries", s.handleAppendQuery)
	s.mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistory)
	s.mux.HandleFunc("DELETE /api/history-all", s.handleDeleteAllHistory)

	s.mux.HandleFunc("GET /api/archive", s.handleListArchive)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// resolveOwner turns the request's bearer credential into a verified owner
// identity. No credential means an anonymous session (empty owner, no
// error); an invalid credential or provider failure is an error.
func (s *Server) resolveOwner(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", nil
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer"))
	user, err := s.identity.Verify(r.Context(), token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			return "", err
		}
		ue := &history.UpstreamError{Service: "identity", Err: err}
		var se *identity.StatusError
		if errors.As(err, &se) {
			// The provider answered with a failure status; surface it
			// unchanged rather than a generic 502.
			ue.Status = se.Status
		}
		return "", ue
	}

	return user.OwnerID, nil
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

// errorBody is the uniform error payload.
type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the service error taxonomy onto HTTP statuses. Upstream
// failures keep the upstream status so callers see it uninterpreted.
func writeError(w http.ResponseWriter, err error) {
	var status int
	var se *inference.StatusError
	var ue *history.UpstreamError

	switch {
	case history.IsValidation(err):
		status = http.StatusBadRequest
	case history.IsNotFound(err):
		status = http.StatusNotFound
	case history.IsForbidden(err):
		status = http.StatusForbidden
	case errors.Is(err, identity.ErrInvalidCredential):
		status = http.StatusUnauthorized
	case errors.As(err, &se):
		status = se.Status
	case errors.As(err, &ue):
		if ue.Status != 0 {
			status = ue.Status
		} else {
			status = http.StatusBadGateway
		}
	default:
		status = http.StatusInternalServerError
		slog.Error("request failed", "error", err)
	}

	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
