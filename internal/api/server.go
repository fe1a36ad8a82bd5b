// Package api exposes the scan orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanwarden/scanwarden/internal/app/orchestration"
	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
	"github.com/scanwarden/scanwarden/pkg/common/otel"
	"github.com/scanwarden/scanwarden/pkg/common/uuid"
)

// AppDefaults fills in trigger request fields an application's operators
// chose to configure centrally rather than pass on every request.
type AppDefaults struct {
	Target     string
	ScanType   scanning.ScanType
	Thresholds scanning.Thresholds
}

// Server routes scan lifecycle requests to the orchestrator.
type Server struct {
	logger       *logger.Logger
	router       *chi.Mux
	orchestrator *orchestration.ScanOrchestrator
	defaults     map[string]AppDefaults
	tracer       trace.Tracer
}

// NewServer builds the HTTP server with the standard middleware stack.
// defaults may be nil when no per-application configuration exists.
func NewServer(log *logger.Logger, tracer trace.Tracer, orch *orchestration.ScanOrchestrator, defaults map[string]AppDefaults) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otel.Middleware(tracer))
	r.Use(loggerMiddleware(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		logger:       log,
		router:       r,
		orchestrator: orch,
		defaults:     defaults,
		tracer:       tracer,
	}

	s.routes()
	return s
}

// Handler returns the route tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func loggerMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Post("/scans", s.handleTriggerScan)
		r.Get("/scans/{id}", s.handleGetScan)
		r.Delete("/scans/{id}", s.handleCancelScan)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type triggerScanRequest struct {
	Application string              `json:"application"`
	Target      string              `json:"target"`
	ScanType    string              `json:"scan_type"`
	Thresholds  scanning.Thresholds `json:"thresholds"`
}

type triggerScanResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	var req triggerScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.applyDefaults(&req)

	jobID, err := s.orchestrator.Trigger(r.Context(), orchestration.TriggerRequest{
		Application: req.Application,
		Target:      req.Target,
		ScanType:    scanning.ScanType(req.ScanType),
		Thresholds:  req.Thresholds,
	})
	if err != nil {
		if errors.Is(err, scanning.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error(r.Context(), "failed to trigger scan", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, triggerScanResponse{
		JobID:  jobID.String(),
		Status: string(scanning.JobStatusPending),
	})
}

// applyDefaults fills unset trigger fields from the application's configured
// defaults. Thresholds left unset everywhere fall back to the conservative
// built-in limits so a bare request still gets a meaningful outcome.
func (s *Server) applyDefaults(req *triggerScanRequest) {
	if d, ok := s.defaults[req.Application]; ok {
		if req.Target == "" {
			req.Target = d.Target
		}
		if req.ScanType == "" {
			req.ScanType = string(d.ScanType)
		}
		if req.Thresholds == (scanning.Thresholds{}) {
			req.Thresholds = d.Thresholds
		}
	}
	if req.Thresholds == (scanning.Thresholds{}) {
		req.Thresholds = scanning.DefaultThresholds()
	}
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobIDParam(w, r)
	if !ok {
		return
	}

	snapshot, err := s.orchestrator.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scanning.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "scan job not found")
			return
		}
		s.logger.Error(r.Context(), "failed to load scan", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobIDParam(w, r)
	if !ok {
		return
	}

	if err := s.orchestrator.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, scanning.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "scan job not found")
			return
		}
		s.logger.Error(r.Context(), "failed to cancel scan", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "scan job not found")
		return uuid.Nil, false
	}
	return jobID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Start serves requests until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "API server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}
