// Package server exposes the monitor over HTTP: health, prometheus metrics,
// the live report and a websocket stream of violations.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/invmon/internal/core/domain"
	"github.com/vietddude/invmon/internal/health"
)

// ReportSource provides the current report snapshot.
type ReportSource interface {
	GetReport() domain.VerificationReport
}

// HealthChecker provides the current health status.
type HealthChecker interface {
	CheckHealth(ctx context.Context) health.ChainHealth
}

// Server is the HTTP server.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	hub     *Hub
	reports ReportSource
	health  HealthChecker
	log     *slog.Logger
}

// New creates the server. hub may be nil to disable /ws/violations.
func New(port int, reports ReportSource, checker HealthChecker, hub *Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		router:  chi.NewRouter(),
		hub:     hub,
		reports: reports,
		health:  checker,
		log:     log,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger(log))
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/report", s.handleReport)
	s.router.Handle("/metrics", promhttp.Handler())
	if hub != nil {
		s.router.Get("/ws/violations", hub.ServeHTTP)
	}
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
		return
	}

	report := s.health.CheckHealth(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report := s.reports.GetReport()
	if r.URL.Query().Get("tx_data") != "true" {
		report.TransactionData = nil
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request with slog.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Debug("request",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start).String(),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
