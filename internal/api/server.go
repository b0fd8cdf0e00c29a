// Package api exposes the operator HTTP interface: health probes, Prometheus
// metrics and read-only stage status backed by the checkpoint manager.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/checkpoint"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// Server wires HTTP handlers to the checkpoint manager.
type Server struct {
	router      chi.Router
	checkpoints *checkpoint.Manager
	idGen       crawl.IDGenerator
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(checkpoints *checkpoint.Manager, idGen crawl.IDGenerator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		checkpoints: checkpoints,
		idGen:       idGen,
		logger:      logger,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/stages", func(r chi.Router) {
			r.Get("/", s.listStages)
			r.Route("/{stage}", func(r chi.Router) {
				r.Get("/status", s.stageStatus)
				r.Post("/reset", s.resetStage)
			})
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.checkpoints == nil {
		s.writeError(w, http.StatusServiceUnavailable, "checkpoint manager unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listStages(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stages":   s.checkpoints.States(),
		"combined": s.checkpoints.Combined(),
	})
}

func (s *Server) stageStatus(w http.ResponseWriter, r *http.Request) {
	stage, ok := parseStage(chi.URLParam(r, "stage"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown stage")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"stage": s.checkpoints.Stage(stage).State()})
}

func (s *Server) resetStage(w http.ResponseWriter, r *http.Request) {
	stage, ok := parseStage(chi.URLParam(r, "stage"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown stage")
		return
	}
	if err := s.checkpoints.Reset(stage); err != nil {
		s.logger.Error("stage reset failed", zap.String("stage", string(stage)), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to reset stage")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"stage": string(stage), "status": "reset"})
}

func parseStage(raw string) (crawl.StageName, bool) {
	switch crawl.StageName(raw) {
	case crawl.StageDiscovery, crawl.StageValidation, crawl.StageEnrichment:
		return crawl.StageName(raw), true
	default:
		return "", false
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := "unknown"
		if s.idGen != nil {
			if id, err := s.idGen.NewID(); err == nil {
				reqID = id
			}
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
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

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

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
