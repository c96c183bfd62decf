// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/FairForge/regioncoord/internal/config"
	"github.com/FairForge/regioncoord/internal/metrics"
	"github.com/FairForge/regioncoord/internal/orchestrator"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Version is stamped at build time.
var Version = "dev"

// Server exposes the orchestrator over HTTP.
type Server struct {
	config     config.ServerConfig
	orch       *orchestrator.Orchestrator
	metrics    *metrics.Metrics
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	limiter    *RateLimiter
	startTime  time.Time
}

// NewServer builds the router. m may be nil, in which case /metrics is not
// served.
func NewServer(cfg config.ServerConfig, orch *orchestrator.Orchestrator, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:    cfg,
		orch:      orch,
		metrics:   m,
		logger:    logger,
		router:    mux.NewRouter(),
		limiter:   NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	api := chi.NewRouter()
	api.Use(RateLimitMiddleware(s.limiter, s.metrics))
	s.registerRoutes(api)
	s.router.PathPrefix("/api/v1").Handler(api)

	s.router.Use(mux.MiddlewareFunc(LoggingMiddleware(s.logger, s.metrics)))
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"uptime":  time.Since(s.startTime).Seconds(),
	})
}

// handleReady reports ready once at least one region has a sample.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	regions := s.orch.Regions()
	sampled := 0
	for _, rg := range regions {
		if rg.Sample != nil {
			sampled++
		}
	}
	status := http.StatusOK
	if sampled == 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":           sampled > 0,
		"regions":         len(regions),
		"regions_sampled": sampled,
		"memory_mb":       getMemoryUsageMB(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"go":      runtime.Version(),
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func getMemoryUsageMB() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc / 1024 / 1024
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("API error", zap.Error(err), zap.Int("status", status))
	} else {
		s.logger.Debug("request rejected", zap.Error(err), zap.Int("status", status))
	}
	s.respondJSON(w, status, errorBody{Error: err.Error()})
}
