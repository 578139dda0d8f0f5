// Package server provides the HTTP server and API handlers for the sensor.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/hostauth-sensor/internal/config"
	"github.com/invisible-tech/hostauth-sensor/internal/controller"
	"github.com/invisible-tech/hostauth-sensor/internal/version"
)

const apiName = "Host Auth Sensor API"

// Server is the HTTP server for the sensor API.
type Server struct {
	cfg        config.SensorConfig
	controller *controller.Controller
	log        *logrus.Logger
	httpServer *http.Server
	started    time.Time
}

// New creates a new HTTP server that serves reports from the given controller.
func New(cfg config.SensorConfig, ctrl *controller.Controller, log *logrus.Logger) *Server {
	s := &Server{cfg: cfg, controller: ctrl, log: log, started: time.Now()}

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleIndex)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimit())
		r.Get("/health", s.handleHealth)
		r.Get("/system/security", s.handleSecurity)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})
	return r
}

// rateLimit bounds requests per client IP. Every uncached report runs the
// session and history commands.
func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.cfg.RateLimitRequests <= 0 || s.cfg.RateLimitWindow <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return httprate.Limit(
		s.cfg.RateLimitRequests,
		s.cfg.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
		}),
	)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server. It blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.cfg.HTTPAddr).Info("Sensor API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    apiName,
		"version": version.Version,
		"endpoints": map[string]string{
			"health":   "/api/v1/health",
			"security": "/api/v1/system/security",
			"metrics":  "/metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(s.started).Seconds())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"version":          version.Version,
		"uptime":           uptime,
		"uptime_formatted": formatUptime(uptime),
	})
}

// handleSecurity always answers 200 with a report; degraded sources are
// listed in its errors field.
func (s *Server) handleSecurity(w http.ResponseWriter, r *http.Request) {
	report, err := s.controller.Report(r.Context())
	if err != nil {
		// The client went away before the collection finished.
		s.log.WithError(err).Debug("Security report request abandoned")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

// writeJSON encodes data as JSON and writes it with status.
// Encoding errors are dropped since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// formatUptime renders seconds as "1d 2h 3m 4s". Zero units are left out
// except seconds.
func formatUptime(seconds int64) string {
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", secs))
	return strings.Join(parts, " ")
}
