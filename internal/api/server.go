// Package api exposes the HTTP interface for the orchestrator service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-orchestrator/internal/config"
	"github.com/JakeFAU/policy-orchestrator/internal/metrics"
	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
	"github.com/JakeFAU/policy-orchestrator/internal/queue"
)

// PressureSource reports the monitor state composed into status responses.
type PressureSource interface {
	ThrottleLevel() float64
	BreakerOpen() bool
}

// SlotSource reports pool occupancy for health responses.
type SlotSource interface {
	ActiveSlots() int
}

// Server wires HTTP handlers to the queue and stores.
type Server struct {
	router   chi.Router
	queue    *queue.TaskQueue
	tasks    pipeline.TaskStore
	pressure PressureSource
	slots    SlotSource
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	q *queue.TaskQueue,
	tasks pipeline.TaskStore,
	pressure PressureSource,
	slots SlotSource,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:    q,
		tasks:    tasks,
		pressure: pressure,
		slots:    slots,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.submitJob)
		r.Route("/{task_id}", func(r chi.Router) {
			r.Get("/", s.getJobStatus)
			r.Post("/pause", s.controlJob(pipeline.ControlPause))
			r.Post("/resume", s.controlJob(pipeline.ControlResume))
			r.Post("/abort", s.controlJob(pipeline.ControlAbort))
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	breaker := "closed"
	if s.pressure != nil && s.pressure.BreakerOpen() {
		status = "degraded"
		breaker = "open"
	}
	active := 0
	if s.slots != nil {
		active = s.slots.ActiveSlots()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"breaker":      breaker,
		"active_slots": active,
	})
}

type selectionEntry struct {
	URL      string `json:"url"`
	Label    string `json:"label"`
	Priority string `json:"priority"`
}

type submitJobRequest struct {
	Selection []selectionEntry `json:"selection"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	specs := make([]pipeline.UnitSpec, 0, len(req.Selection))
	for _, entry := range req.Selection {
		specs = append(specs, pipeline.UnitSpec{
			URL:      entry.URL,
			Label:    entry.Label,
			Priority: pipeline.ParsePriority(entry.Priority),
		})
	}
	taskID, err := s.queue.Submit(r.Context(), specs)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidSelection) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

type jobStatusResponse struct {
	TaskID              string  `json:"task_id"`
	Status              string  `json:"status"`
	Completed           int     `json:"completed"`
	Total               int     `json:"total"`
	Errors              int     `json:"errors"`
	CurrentLabel        string  `json:"current_label"`
	Throttled           bool    `json:"throttled"`
	Reason              string  `json:"reason"`
	EstimatedCompletion *string `json:"estimated_completion"`
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	snap, err := s.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	throttled := false
	if s.pressure != nil {
		throttled = s.pressure.BreakerOpen() || s.pressure.ThrottleLevel() > 0
	}
	resp := jobStatusResponse{
		TaskID:       snap.TaskID,
		Status:       string(snap.Status),
		Completed:    snap.Completed,
		Total:        snap.Total,
		Errors:       snap.Errors,
		CurrentLabel: snap.CurrentLabel,
		Throttled:    throttled,
		Reason:       snap.Reason,
	}
	if snap.EstimatedCompletion != nil {
		est := snap.EstimatedCompletion.Format(time.RFC3339)
		resp.EstimatedCompletion = &est
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) controlJob(action pipeline.ControlAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "task_id")
		var (
			status pipeline.TaskStatus
			err    error
		)
		switch action {
		case pipeline.ControlPause:
			status, err = s.queue.Pause(r.Context(), taskID)
		case pipeline.ControlResume:
			status, err = s.queue.Resume(r.Context(), taskID)
		case pipeline.ControlAbort:
			status, err = s.queue.Abort(r.Context(), taskID)
		}
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{
				"task_id": taskID,
				"status":  string(status),
			})
		case errors.Is(err, pipeline.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, pipeline.ErrInvalidTransition):
			writeError(w, http.StatusConflict, fmt.Sprintf(
				"cannot %s task in state %s", action, status,
			))
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
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
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
