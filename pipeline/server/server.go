// Package server exposes the pipeline over HTTP: request endpoints for
// generation, review, iteration, audits, and pre-audits, read endpoints for
// records, and the Prometheus metrics endpoint.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apexmarketing/contentpipeline/pipeline/audit"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
	"github.com/apexmarketing/contentpipeline/pipeline/logging"
	"github.com/apexmarketing/contentpipeline/pipeline/service"
)

// Server is the HTTP surface over the pipeline service.
type Server struct {
	pipeline *service.Pipeline
	logger   logging.Logger
}

// New constructs the server.
func New(pipeline *service.Pipeline, logger logging.Logger) *Server {
	return &Server{pipeline: pipeline, logger: logger.Bind("component", "server")}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deliverables", s.handleRequestGeneration)
		r.Get("/deliverables/{id}", s.handleGetDeliverable)
		r.Post("/deliverables/{id}/review", s.handleRequestReview)
		r.Post("/deliverables/{id}/iterate", s.handleRequestIteration)
		r.Post("/deliverables/{id}/resolve", s.handleResolve)

		r.Post("/audits", s.handleStartAudit)
		r.Get("/audits/{id}", s.handleGetAudit)
		r.Post("/audits/{id}/resume", s.handleResumeAudit)
		r.Post("/pre-audits", s.handlePreAudit)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRequestGeneration(w http.ResponseWriter, r *http.Request) {
	var req service.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.pipeline.RequestGeneration(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

func (s *Server) handleGetDeliverable(w http.ResponseWriter, r *http.Request) {
	d, err := s.pipeline.GetDeliverable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRequestReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BrandVoice string `json:"brand_voice,omitempty"`
	}
	decodeOptional(r, &req)
	if err := s.pipeline.RequestReview(r.Context(), chi.URLParam(r, "id"), req.BrandVoice); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleRequestIteration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feedback   string `json:"feedback,omitempty"`
		BrandVoice string `json:"brand_voice,omitempty"`
	}
	decodeOptional(r, &req)
	if err := s.pipeline.RequestIteration(r.Context(), chi.URLParam(r, "id"), req.Feedback, req.BrandVoice); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approve bool   `json:"approve"`
		Notes   string `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.pipeline.Resolve(r.Context(), chi.URLParam(r, "id"), req.Approve, req.Notes)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleStartAudit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID      string `json:"client_id"`
		ClientProfile string `json:"client_profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	run, err := s.pipeline.StartAuditRun(r.Context(), req.ClientID, req.ClientProfile)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	run, err := s.pipeline.GetAuditRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleResumeAudit(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.ResumeAuditRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handlePreAudit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID      string `json:"client_id"`
		ClientProfile string `json:"client_profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.pipeline.RequestPreAudit(r.Context(), req.ClientID, req.ClientProfile)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, deliverable.ErrNotFound), errors.Is(err, audit.ErrRunNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Warn("request failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeOptional ignores empty bodies; the endpoints it serves accept both
// bare POSTs and JSON options.
func decodeOptional(r *http.Request, target any) {
	_ = json.NewDecoder(r.Body).Decode(target)
}
