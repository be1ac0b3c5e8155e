// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-harvester/internal/config"
	"github.com/JakeFAU/registry-harvester/internal/dispatcher"
	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/metrics"
)

const enqueueTimeout = 5 * time.Second

// StateReader exposes the stored phase state of an entity.
type StateReader interface {
	State(ctx context.Context, entityName string) (map[harvest.Phase]harvest.CrawlState, error)
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	jobStore   harvest.JobStore
	dispatcher *dispatcher.Dispatcher
	states     StateReader
	idGen      harvest.IDGenerator
	clock      harvest.Clock
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore harvest.JobStore,
	dispatcher *dispatcher.Dispatcher,
	states StateReader,
	idGen harvest.IDGenerator,
	clock harvest.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatcher,
		states:     states,
		idGen:      idGen,
		clock:      clock,
		logger:     logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/harvests", s.submitHarvest)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/entities/{entity_name}/state", s.getEntityState)
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.jobStore == nil || s.dispatcher == nil {
		s.writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type harvestRequest struct {
	EntityName string `json:"entity_name"`
}

func (s *Server) submitHarvest(w http.ResponseWriter, r *http.Request) {
	var req harvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.EntityName = strings.TrimSpace(req.EntityName)
	if req.EntityName == "" {
		s.writeError(w, http.StatusBadRequest, "entity_name required")
		return
	}
	jobID, err := s.enqueueJob(r.Context(), req.EntityName)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, harvest.ErrQueueClosed) ||
			errors.Is(err, harvest.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, harvest.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getEntityState(w http.ResponseWriter, r *http.Request) {
	if s.states == nil {
		s.writeError(w, http.StatusServiceUnavailable, "state store unavailable")
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "entity_name"))
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "entity_name required")
		return
	}
	states, err := s.states.State(r.Context(), name)
	if err != nil {
		s.logger.Error("load entity state failed", zap.String("entity_name", name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load state")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entity_name": name,
		"entity_key":  harvest.NormalizeEntityName(name),
		"phases":      states,
	})
}

func (s *Server) enqueueJob(ctx context.Context, entityName string) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := harvest.Job{
		ID:         jobID,
		EntityName: entityName,
		EntityKey:  harvest.NormalizeEntityName(entityName),
		Status:     harvest.JobStatusQueued,
		Submitted:  now,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := harvest.QueueItem{
		JobID:      jobID,
		EntityName: entityName,
		Submitted:  now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		outcome := harvest.JobOutcome{ErrorText: err.Error()}
		if uErr := s.jobStore.UpdateJobStatus(context.WithoutCancel(ctx), jobID, harvest.JobStatusFailed, outcome); uErr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(uErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("harvest queued", zap.String("job_id", jobID), zap.String("entity_name", entityName))
	return jobID, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}` + "\n"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
