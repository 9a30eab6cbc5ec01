// Package api provides the HTTP REST API for recondor. It exposes scan
// submission and control, module and schedule management, health and
// metrics endpoints, and a WebSocket feed of live scan updates.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/recondor/internal/api/middleware"
	"github.com/anstrom/recondor/internal/auth"
	"github.com/anstrom/recondor/internal/config"
	"github.com/anstrom/recondor/internal/db"
	"github.com/anstrom/recondor/internal/engine"
	"github.com/anstrom/recondor/internal/logging"
	"github.com/anstrom/recondor/internal/metrics"
	"github.com/anstrom/recondor/internal/osint"
	"github.com/anstrom/recondor/internal/scheduler"
)

const (
	serverShutdownTimeout = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
	rateLimitWindow       = time.Minute
)

// Version is the reported service version, overridable at build time.
var Version = "0.1.0"

// Server is the API server. The database and scheduler are optional; the
// corresponding endpoints degrade when they are absent.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	engine     *engine.Engine
	registry   *osint.Registry
	scheduler  *scheduler.Scheduler
	store      *db.Store
	database   *db.DB
	prom       *metrics.PrometheusMetrics
	feed       *ScanFeed
	logger     *slog.Logger
	startTime  time.Time
}

// Options carries the server's collaborators.
type Options struct {
	Engine    *engine.Engine
	Registry  *osint.Registry
	Scheduler *scheduler.Scheduler
	Database  *db.DB
	Store     *db.Store
}

// New creates an API server wired to the given engine.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("api server requires an engine")
	}

	server := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		engine:    opts.Engine,
		registry:  opts.Registry,
		scheduler: opts.Scheduler,
		store:     opts.Store,
		database:  opts.Database,
		prom:      metrics.NewPrometheusMetrics(),
		feed:      NewScanFeed(logging.Default().With("component", "scan_feed")),
		logger:    logging.Default().With("component", "api"),
		startTime: time.Now(),
	}

	server.setupRoutes()
	if err := server.setupMiddleware(); err != nil {
		return nil, err
	}

	server.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.API.ListenAddr, strconv.Itoa(cfg.API.Port)),
		Handler:      server.router,
		ReadTimeout:  cfg.API.RequestTimeout,
		WriteTimeout: cfg.API.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// Start runs the server until the context is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully shuts down the server and the scan feed.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	s.feed.Shutdown()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router returns the configured router, mainly for tests.
func (s *Server) Router() *mux.Router { return s.router }

// Address returns the listen address.
func (s *Server) Address() string { return s.httpServer.Addr }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// System endpoints.
	api.HandleFunc("/liveness", s.livenessHandler).Methods("GET")
	api.HandleFunc("/health", s.healthHandler).Methods("GET")
	api.HandleFunc("/version", s.versionHandler).Methods("GET")
	api.HandleFunc("/status", s.statusHandler).Methods("GET")
	api.Handle("/metrics", s.prom.Handler()).Methods("GET")

	// Scans.
	api.HandleFunc("/scans", s.createScanHandler).Methods("POST")
	api.HandleFunc("/scans", s.listScansHandler).Methods("GET")
	api.HandleFunc("/scans/{id}", s.getScanHandler).Methods("GET")
	api.HandleFunc("/scans/{id}", s.stopScanHandler).Methods("DELETE")
	api.HandleFunc("/scans/{id}/stop", s.stopScanHandler).Methods("POST")
	api.HandleFunc("/scans/{id}/pause", s.pauseScanHandler).Methods("POST")
	api.HandleFunc("/scans/{id}/resume", s.resumeScanHandler).Methods("POST")
	api.HandleFunc("/scans/{id}/events", s.scanEventsHandler).Methods("GET")
	api.HandleFunc("/scans/{id}/history", s.scanHistoryHandler).Methods("GET")

	// Modules.
	api.HandleFunc("/modules", s.listModulesHandler).Methods("GET")

	// Schedules.
	api.HandleFunc("/schedules", s.createScheduleHandler).Methods("POST")
	api.HandleFunc("/schedules", s.listSchedulesHandler).Methods("GET")
	api.HandleFunc("/schedules/{id}", s.getScheduleHandler).Methods("GET")
	api.HandleFunc("/schedules/{id}", s.deleteScheduleHandler).Methods("DELETE")
	api.HandleFunc("/schedules/{id}/enable", s.enableScheduleHandler).Methods("POST")
	api.HandleFunc("/schedules/{id}/disable", s.disableScheduleHandler).Methods("POST")
	api.HandleFunc("/schedules/{id}/run", s.runScheduleHandler).Methods("POST")

	// Live updates.
	api.HandleFunc("/ws", s.feed.Serve).Methods("GET")

	s.router.HandleFunc("/", s.indexHandler).Methods("GET")
}

func (s *Server) setupMiddleware() error {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.Metrics(s.prom))

	if s.config.API.APIKey != "" {
		hash, err := auth.HashAPIKey(s.config.API.APIKey)
		if err != nil {
			return fmt.Errorf("invalid API key configuration: %w", err)
		}
		s.router.Use(middleware.APIKeyAuth(hash, s.logger))
	}

	if s.config.Scanning.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(
			s.config.Scanning.RateLimit.RequestsPerSecond*int(rateLimitWindow.Seconds()),
			rateLimitWindow)
		s.router.Use(middleware.RateLimit(limiter))
	}

	cors := s.config.API.CORS
	if cors.Enabled {
		s.router.Use(handlers.CORS(
			handlers.AllowedOrigins(cors.AllowedOrigins),
			handlers.AllowedMethods(cors.AllowedMethods),
			handlers.AllowedHeaders(cors.AllowedHeaders),
		))
	}
	return nil
}

// indexHandler describes the API surface for root requests.
func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"service": "recondor-api",
		"version": "v1",
		"endpoints": map[string]string{
			"health":    "/api/v1/health",
			"scans":     "/api/v1/scans",
			"modules":   "/api/v1/modules",
			"schedules": "/api/v1/schedules",
			"metrics":   "/api/v1/metrics",
			"ws":        "/api/v1/ws",
		},
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string)

	if s.database != nil {
		if err := s.database.PingContext(ctx); err != nil {
			status = "unhealthy"
			checks["database"] = "failed: " + err.Error()
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}
	checks["engine"] = fmt.Sprintf("%d active scans", s.engine.ActiveCount())

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, statusCode, map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"service":   "recondor",
		"version":   Version,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service":      "recondor-api",
		"version":      Version,
		"uptime":       time.Since(s.startTime).String(),
		"active_scans": s.engine.ActiveCount(),
		"ws_clients":   s.feed.ClientCount(),
		"timestamp":    time.Now().UTC(),
	}
	if s.registry != nil {
		response["modules"] = s.registry.Names()
	}
	if s.scheduler != nil {
		response["schedules"] = len(s.scheduler.List())
	}
	s.writeJSON(w, r, http.StatusOK, response)
}

// errorResponse is the standard error body.
type errorResponse struct {
	Error     string    `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Error("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err)

	s.writeJSON(w, r, statusCode, errorResponse{
		Error:     err.Error(),
		RequestID: middleware.GetRequestID(r),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err, "path", r.URL.Path)
	}
}

func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
