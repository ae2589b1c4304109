// Package server exposes the experiment API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/splitpost/internal/experiment"
	"github.com/haasonsaas/splitpost/internal/observability"
)

// Server serves the experiment HTTP API.
type Server struct {
	registry *experiment.Registry
	logger   *observability.Logger
	http     *http.Server
}

// CreateRequest is the POST /v1/experiments payload.
type CreateRequest struct {
	CampaignID string               `json:"campaign_id"`
	Variants   []experiment.Variant `json:"variants"`
	Config     *experiment.Config   `json:"config,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a server listening on addr. logger may be nil.
func New(addr string, registry *experiment.Registry, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	s := &Server{
		registry: registry,
		logger:   logger.WithFields("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/experiments", s.handleCreate)
	mux.HandleFunc("GET /v1/experiments", s.handleList)
	mux.HandleFunc("GET /v1/experiments/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/experiments/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	exp, err := s.registry.Create(r.Context(), req.Variants, req.CampaignID, req.Config)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	exp, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("campaign")
	if campaignID == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("campaign query parameter is required"))
		return
	}
	list, err := s.registry.List(r.Context(), campaignID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []*experiment.Experiment{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	exp, err := s.registry.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse is the GET /v1/status payload.
type StatusResponse struct {
	Status      string         `json:"status"`
	Experiments map[string]int `json:"experiments"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.registry.Counts(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	byState := make(map[string]int, len(counts))
	for state, n := range counts {
		byState[string(state)] = n
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", Experiments: byState})
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case experiment.IsValidation(err):
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
	case errors.Is(err, experiment.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, err)
	default:
		s.writeError(w, r, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(context.Background(), "encode response", "error", err)
	}
}
