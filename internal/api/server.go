// Package api provides the read-only HTTP API for the go-egauge collector.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/greenstem/go-egauge/internal/config"
	"github.com/greenstem/go-egauge/internal/domain"
	"github.com/greenstem/go-egauge/internal/egauge"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server exposes meter readings over a local HTTP API.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	meter     domain.MeterReader
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(cfg *config.Config, meter domain.MeterReader) *Server {
	router := mux.NewRouter()

	// Create logger with API component context
	logger := log.With().Str("component", "api").Logger()

	apiServer := &Server{
		config:    cfg,
		router:    router,
		meter:     meter,
		logger:    logger,
		startTime: time.Now(),
	}

	apiServer.setupRoutes()

	return apiServer
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	// API versioning
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Server status endpoint
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Reading endpoints
	api.HandleFunc("/readings/current", s.handleCurrentReadings).Methods("GET")
	api.HandleFunc("/readings/range", s.handleRangeReadings).Methods("GET")

	// Device endpoints
	api.HandleFunc("/device/epoch", s.handleEpoch).Methods("GET")
	api.HandleFunc("/device/time", s.handleTime).Methods("GET")
	api.HandleFunc("/device/uptime", s.handleUptime).Methods("GET")
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	// Create HTTP server
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	// Create a timeout context for shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

// Handler returns the underlying router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleStatus returns server status information.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": "dev",
		"uptime":  time.Since(s.startTime).String(),
		"device":  s.config.Device.ID,
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleCurrentReadings returns the instantaneous rate per register.
func (s *Server) handleCurrentReadings(w http.ResponseWriter, r *http.Request) {
	reading, err := s.meter.CurrentRates(r.Context())
	if err != nil {
		s.writeMeterError(w, err)
		return
	}

	s.writeJSON(w, reading, http.StatusOK)
}

// handleRangeReadings returns one reading per interval across a time range.
// Query parameters: start, end (unix seconds) and interval (seconds,
// defaults to the collector interval).
func (s *Server) handleRangeReadings(w http.ResponseWriter, r *http.Request) {
	start, err := queryInt(r, "start")
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := queryInt(r, "end")
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	interval := int64(s.config.Collector.IntervalSeconds)
	if raw := r.URL.Query().Get("interval"); raw != "" {
		interval, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || interval <= 0 {
			s.writeError(w, "interval must be a positive integer", http.StatusBadRequest)
			return
		}
	}

	series, err := s.meter.Range(r.Context(), start, end, interval)
	if err != nil {
		s.writeMeterError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"readings": series,
		"count":    len(series),
	}, http.StatusOK)
}

// handleEpoch returns the device recording epoch.
func (s *Server) handleEpoch(w http.ResponseWriter, r *http.Request) {
	s.handleResult(w, r, s.meter.Epoch)
}

// handleTime returns the device clock.
func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	s.handleResult(w, r, s.meter.Time)
}

// handleUptime returns the device uptime in seconds.
func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	s.handleResult(w, r, s.meter.Uptime)
}

// handleResult serves a single-value device read.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request, read func(context.Context) (int64, error)) {
	value, err := read(r.Context())
	if err != nil {
		s.writeMeterError(w, err)
		return
	}

	s.writeJSON(w, map[string]int64{"result": value}, http.StatusOK)
}

// writeMeterError maps device errors onto HTTP status codes. Device-side
// rejections and malformed responses surface as bad gateway.
func (s *Server) writeMeterError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("Meter request failed")

	var apiErr *egauge.APIError
	var parseErr *egauge.ParseError
	if errors.As(err, &apiErr) || errors.As(err, &parseErr) {
		s.writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	s.writeError(w, "meter unavailable", http.StatusBadGateway)
}

// queryInt parses a required integer query parameter.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s parameter is required", name)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return value, nil
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}
