// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/crawl"
)

// JobSubmitter accepts new crawl jobs for scheduling.
type JobSubmitter interface {
	Submit(ctx context.Context, rawURL string, rules []crawl.ExtractionRule) (string, error)
}

const listLimit = 50

// Server wires HTTP handlers to the scheduler and job store.
type Server struct {
	router    chi.Router
	jobs      crawl.JobStore
	submitter JobSubmitter
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs crawl.JobStore, submitter JobSubmitter, registry *prometheus.Registry, logger *zap.Logger) *Server {
	s := &Server{
		jobs:      jobs,
		submitter: submitter,
		logger:    logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", s.submitJob)
		r.Get("/", s.listJobs)
		r.Delete("/", s.deleteJobs)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Delete("/", s.deleteJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitJobRequest struct {
	URL          string                 `json:"url"`
	ExtractRules []crawl.ExtractionRule `json:"extractRules"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	jobID, err := s.submitter.Submit(r.Context(), req.URL, req.ExtractRules)
	if err != nil {
		var verr *crawl.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		// The record was created synchronously; a read failure here is a
		// store hiccup, not a lost job.
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     jobID,
			"status": string(crawl.JobStatusPending),
		})
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context(), listLimit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []crawl.CrawlJob{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawl.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, crawl.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID, "deleted": "true"})
}

type deleteJobsRequest struct {
	JobIDs []string `json:"jobIds"`
}

func (s *Server) deleteJobs(w http.ResponseWriter, r *http.Request) {
	var req deleteJobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.JobIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "jobIds required")
		return
	}
	deleted, err := s.jobs.DeleteJobs(r.Context(), req.JobIDs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to delete jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
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
