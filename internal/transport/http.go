// Package transport provides HTTP API handlers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/stakefarm/internal/config"
	"github.com/gateway-fm/stakefarm/internal/engine"
	"github.com/gateway-fm/stakefarm/internal/scheduler"
	"github.com/gateway-fm/stakefarm/internal/storage"
	"github.com/gateway-fm/stakefarm/pkg/types"
)

// Pagination bounds for the history endpoint
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// validateOneOffRequest checks the parts of a wrap/unwrap request the
// transport can reject without consulting the scheduler.
func validateOneOffRequest(req *types.OneOffRequest) error {
	if req.WalletIndex < 0 {
		return fmt.Errorf("walletIndex cannot be negative, got %d", req.WalletIndex)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("amount must be positive, got %f", req.Amount)
	}
	return nil
}

// FarmAPI defines the interface for the farm session that handlers need.
type FarmAPI interface {
	Start() error
	Stop()
	Status() types.FarmStatus
	RunConfig() types.RunConfig
	SetConfig(cfg types.RunConfig) error
	Wrap(walletIndex int, amount float64) error
	Unwrap(walletIndex int, amount float64) error
	Balances(ctx context.Context) ([]types.BalanceReading, error)
	History(ctx context.Context, limit, offset int) (*storage.PaginatedCycles, error)
	Subscribe() (<-chan types.Event, func())
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	CheckRPC() error
}

// Server handles HTTP requests for the farm.
type Server struct {
	api       FarmAPI
	health    HealthChecker
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	// CORS configuration
	corsAllowedOrigins []string // Parsed list of allowed origins
	corsAllowAll       bool     // True if "*" or empty (allow all origins)
}

// NewServer creates a new HTTP server.
func NewServer(api FarmAPI, health HealthChecker, logger *slog.Logger, corsAllowedOrigins string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		api:       api,
		health:    health,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  NewWebSocketServer(api, logger),
	}

	// Parse CORS allowed origins
	origins := strings.TrimSpace(corsAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Close shuts the WebSocket server down and disconnects its clients.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Versioned API endpoints (v1)
	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/start", s.corsMiddleware(s.handleStart))
	mux.HandleFunc("/v1/stop", s.corsMiddleware(s.handleStop))
	mux.HandleFunc("/v1/config", s.corsMiddleware(s.handleConfig))
	mux.HandleFunc("/v1/wrap", s.corsMiddleware(s.handleWrap))
	mux.HandleFunc("/v1/unwrap", s.corsMiddleware(s.handleUnwrap))
	mux.HandleFunc("/v1/balances", s.corsMiddleware(s.handleBalances))
	mux.HandleFunc("/v1/history", s.corsMiddleware(s.handleHistory))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	// Health endpoints (unversioned - standard Kubernetes probes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Prometheus metrics (unversioned - standard path)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			// Check if the origin is in the allowed list
			allowed := false
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// handleStatus returns the current farm status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.api.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleStart starts the cycle loop.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.api.Start(); err != nil {
		s.logger.Error("Failed to start cycle", slog.String("error", err.Error()))
		s.writeJSONError(w, "Failed to start cycle: "+err.Error(), errorStatusCode(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// errorStatusCode maps session errors to HTTP status codes.
func errorStatusCode(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrWalletIndex), errors.Is(err, engine.ErrAmountInvalid):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrAlreadyRunning), errors.Is(err, scheduler.ErrStopInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleStop requests a stop of the current cycle. The response returns
// immediately; in-flight operations drain in the background.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.api.Stop()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stopping"})
}

// handleConfig reads or replaces the run configuration. A replacement is
// validated and persisted before it is applied; the running cycle keeps the
// configuration it started with.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.api.RunConfig())

	case http.MethodPut:
		var cfg types.RunConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		if err := config.ValidateRunConfig(cfg); err != nil {
			s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
			return
		}

		if err := s.api.SetConfig(cfg); err != nil {
			s.logger.Error("Failed to apply config", slog.String("error", err.Error()))
			s.writeJSONError(w, "Failed to apply config: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.api.RunConfig())

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWrap converts native ETH into WETH for one wallet.
func (s *Server) handleWrap(w http.ResponseWriter, r *http.Request) {
	s.handleOneOff(w, r, "wrap", s.api.Wrap)
}

// handleUnwrap converts WETH back into native ETH for one wallet.
func (s *Server) handleUnwrap(w http.ResponseWriter, r *http.Request) {
	s.handleOneOff(w, r, "unwrap", s.api.Unwrap)
}

// handleOneOff runs the shared request path for wrap and unwrap. The
// operation itself completes in the background; progress is reported on the
// event stream.
func (s *Server) handleOneOff(w http.ResponseWriter, r *http.Request, kind string, run func(int, float64) error) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.OneOffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := validateOneOffRequest(&req); err != nil {
		s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := run(req.WalletIndex, req.Amount); err != nil {
		s.logger.Error("Failed to submit "+kind, slog.String("error", err.Error()))
		s.writeJSONError(w, "Failed to submit "+kind+": "+err.Error(), errorStatusCode(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "accepted",
		"kind":        kind,
		"walletIndex": req.WalletIndex,
	})
}

// handleBalances returns the latest balance reading per wallet.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	readings, err := s.api.Balances(r.Context())
	if err != nil {
		s.writeJSONError(w, "Failed to read balances: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(readings)
}

// handleHistory returns persisted cycle summaries with optional pagination.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultHistoryLimit
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxHistoryLimit {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	result, err := s.api.History(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to get history: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		start := time.Now()
		err := s.health.CheckRPC()
		latency := time.Since(start).Milliseconds()

		check := ReadinessCheck{
			Name:      "rpc",
			LatencyMs: latency,
		}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		} else {
			check.Status = "ok"
		}
		checks = append(checks, check)
	}

	response := map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	}

	w.Header().Set("Content-Type", "application/json")
	if allHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}
