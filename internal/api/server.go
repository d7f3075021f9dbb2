// Package api exposes the HTTP interface for the lead engine: job
// submission, job status, and credit balance lookups.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/lead"
	"github.com/swarmleads/leadengine/internal/metrics"
	"github.com/swarmleads/leadengine/internal/store"
)

// Server wires HTTP handlers to the stores.
type Server struct {
	router  chi.Router
	jobs    store.JobStore
	credits store.CreditLedger
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs store.JobStore, credits store.CreditLedger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{jobs: jobs, credits: credits, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/{job_id}", s.getJob)
		})
		r.Route("/accounts/{owner_id}", func(r chi.Router) {
			r.Get("/credits", s.getCredits)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// A cheap store round trip proves the database is reachable.
	if _, err := s.jobs.NextPending(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	OwnerID    string `json:"owner_id"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job, err := lead.NewScrapeJob(req.OwnerID, req.Query, req.MaxResults)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Fail fast on an unfunded account; the poller re-checks at claim time.
	acct, err := s.credits.Account(r.Context(), job.OwnerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, "credit lookup failed")
		return
	}
	if err == nil && acct.Metered && acct.Credits <= 0 {
		s.writeError(w, http.StatusPaymentRequired, "insufficient credits")
		return
	}

	if err := s.jobs.Create(r.Context(), job); err != nil {
		s.logger.Error("job create failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID.String(),
		"status": string(job.Status),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":            job.ID.String(),
		"owner_id":      job.OwnerID,
		"query":         job.Query,
		"max_results":   job.MaxResults,
		"status":        job.Status,
		"results_found": job.ResultsFound,
		"created_at":    job.CreatedAt,
		"completed_at":  job.CompletedAt,
	})
}

func (s *Server) getCredits(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "owner_id")
	acct, err := s.credits.Account(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "credit lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"owner_id": acct.OwnerID,
		"credits":  acct.Credits,
		"metered":  acct.Metered,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
