// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agoralabs/agora-crawler/internal/clock"
	"github.com/agoralabs/agora-crawler/internal/config"
	"github.com/agoralabs/agora-crawler/internal/engine"
	"github.com/agoralabs/agora-crawler/internal/urlutil"
)

// Server wires HTTP handlers to the crawl engine and the job store.
type Server struct {
	router chi.Router
	store  *Store
	engine *engine.Engine
	clock  clock.Clock
	cfg    config.Config
	logger *zap.Logger

	// base context for job runs, detached from request lifetimes.
	jobCtx context.Context
}

// NewServer constructs a Server with middleware and routes.
func NewServer(eng *engine.Engine, store *Store, clk clock.Clock, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		store:  store,
		engine: eng,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
		jobCtx: context.Background(),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Post("/cancel", s.cancelJob)
			})
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
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type jobRequest struct {
	URL               string   `json:"url"`
	MaxDepth          *int     `json:"max_depth"`
	MaxPages          *int     `json:"max_pages"`
	IncludeSubdomains bool     `json:"include_subdomains"`
	IncludePatterns   []string `json:"path_include_patterns"`
	ExcludePatterns   []string `json:"path_exclude_patterns"`
	CrawlDelayMs      int      `json:"crawl_delay_ms"`
	RetainHTML        bool     `json:"retain_html"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	job, err := s.toJob(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	jobID := uuid.NewString()
	runCtx, cancel := context.WithCancel(s.jobCtx)
	rec := JobRecord{
		ID:        jobID,
		Job:       job,
		Submitted: s.clock.Now(),
	}
	if err := s.store.Create(rec, cancel); err != nil {
		cancel()
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}

	go s.runJob(runCtx, jobID, job)

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID}, s.logger)
}

func (s *Server) runJob(ctx context.Context, jobID string, job engine.Job) {
	if err := s.store.MarkRunning(jobID, s.clock.Now()); err != nil {
		s.logger.Error("mark job running", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	report, err := s.engine.Run(ctx, job)
	finished := s.clock.Now()
	if err != nil {
		if ferr := s.store.Finish(jobID, StateFailed, nil, err.Error(), finished); ferr != nil {
			s.logger.Error("finish job", zap.String("job_id", jobID), zap.Error(ferr))
		}
		return
	}
	state := StateCompleted
	switch report.Status {
	case engine.StatusPartiallyFailed:
		state = StatePartiallyFailed
	case engine.StatusCancelled:
		state = StateCancelled
	}
	if ferr := s.store.Finish(jobID, state, report, "", finished); ferr != nil {
		s.logger.Error("finish job", zap.String("job_id", jobID), zap.Error(ferr))
	}
}

func (s *Server) toJob(req jobRequest) (engine.Job, error) {
	if req.URL == "" {
		return engine.Job{}, errors.New("url required")
	}
	if _, err := urlutil.Normalize(req.URL, nil); err != nil {
		return engine.Job{}, errors.New("url is not a valid absolute http(s) URL")
	}
	if req.CrawlDelayMs < 0 {
		return engine.Job{}, errors.New("crawl_delay_ms must be >= 0")
	}
	job := engine.Job{
		SeedURL:           req.URL,
		MaxDepth:          valueOrDefault(req.MaxDepth, s.cfg.Crawler.MaxDepthDefault),
		MaxPages:          valueOrDefault(req.MaxPages, s.cfg.Crawler.MaxPagesDefault),
		IncludeSubdomains: req.IncludeSubdomains,
		IncludePatterns:   req.IncludePatterns,
		ExcludePatterns:   req.ExcludePatterns,
		CrawlDelay:        time.Duration(req.CrawlDelayMs) * time.Millisecond,
		RetainHTML:        req.RetainHTML,
	}
	if job.MaxDepth < 0 {
		return engine.Job{}, errors.New("max_depth must be >= 0")
	}
	return job, nil
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	rec, err := s.store.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, rec, s.logger)
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	rec, err := s.store.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	if !rec.State.Terminal() {
		writeError(w, http.StatusConflict, "job still in progress", s.logger)
		return
	}
	if rec.Report == nil {
		writeError(w, http.StatusUnprocessableEntity, rec.ErrorText, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, rec.Report, s.logger)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	rec, err := s.store.Cancel(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	if rec.State.Terminal() {
		writeError(w, http.StatusConflict, "job already finished", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "state": string(StateCancelled)}, s.logger)
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
