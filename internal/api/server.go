// Package api exposes the diagnostics and runtime-settings HTTP surface:
// per-device runtime state for inspection and a settings endpoint for
// changing the cast cadence and global gate without a restart.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"castkeeper/internal/engine"
)

// Engine is the scheduler surface the server reads and mutates.
type Engine interface {
	Snapshot() []engine.DeviceStatus
	Settings() engine.Settings
	UpdateSettings(engine.Settings) error
}

// Server provides the HTTP API.
type Server struct {
	engine Engine
	logger *zap.Logger
	server *http.Server
}

// NewServer creates an API server on the given port.
func NewServer(eng Engine, logger *zap.Logger, port int) *Server {
	s := &Server{
		engine: eng,
		logger: logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/settings", s.handleSettings)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SettingsPayload is the JSON shape of the settings endpoint.
type SettingsPayload struct {
	CastIntervalSeconds int    `json:"cast_interval_seconds"`
	GlobalStart         string `json:"global_start,omitempty"`
	GlobalEnd           string `json:"global_end,omitempty"`
	GateEntity          string `json:"gate_entity,omitempty"`
	GateRequiredState   string `json:"gate_required_state,omitempty"`
}

// handleDevices returns the per-device runtime snapshot as JSON.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.engine.Snapshot()); err != nil {
		s.logger.Error("Failed to encode devices response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("Devices request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// handleSettings reads (GET) or replaces (POST) the runtime settings.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeSettings(w)

	case http.MethodPost:
		var payload SettingsPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
			return
		}

		ns := engine.Settings{
			CastInterval:      time.Duration(payload.CastIntervalSeconds) * time.Second,
			GlobalStart:       payload.GlobalStart,
			GlobalEnd:         payload.GlobalEnd,
			GateEntity:        payload.GateEntity,
			GateRequiredState: payload.GateRequiredState,
		}
		if err := s.engine.UpdateSettings(ns); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.logger.Info("Settings updated via API",
			zap.String("remote_addr", r.RemoteAddr))
		s.writeSettings(w)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeSettings(w http.ResponseWriter) {
	current := s.engine.Settings()
	payload := SettingsPayload{
		CastIntervalSeconds: int(current.CastInterval.Seconds()),
		GlobalStart:         current.GlobalStart,
		GlobalEnd:           current.GlobalEnd,
		GateEntity:          current.GateEntity,
		GateRequiredState:   current.GateRequiredState,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode settings response", zap.Error(err))
	}
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// Endpoint documents one API route for the sitemap.
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// handleSitemap lists the available endpoints. Unknown paths land here and
// get a 404 with a helpful body.
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	endpoints := []Endpoint{
		{
			Path:        "/",
			Method:      "GET",
			Description: "This sitemap - lists all available API endpoints",
		},
		{
			Path:        "/api/devices",
			Method:      "GET",
			Description: "Per-device runtime state (classification, last cast, failures, override)",
		},
		{
			Path:        "/api/settings",
			Method:      "GET",
			Description: "Current runtime settings (cast interval, global window, gate entity)",
		},
		{
			Path:        "/api/settings",
			Method:      "POST",
			Description: "Update runtime settings without restart",
		},
		{
			Path:        "/health",
			Method:      "GET",
			Description: "Health check endpoint - returns {\"status\": \"ok\"}",
		},
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, "Dashboard Keeper API\n")
	fmt.Fprintf(w, "====================\n\n")
	fmt.Fprintf(w, "Available endpoints:\n\n")
	for _, ep := range endpoints {
		fmt.Fprintf(w, "  %-6s %-16s %s\n", ep.Method, ep.Path, ep.Description)
	}
	fmt.Fprintf(w, "\nExamples:\n\n")
	fmt.Fprintf(w, "  curl http://localhost:8081/api/devices | jq\n")
	fmt.Fprintf(w, "  curl http://localhost:8081/api/settings | jq\n")
	fmt.Fprintf(w, "  curl -X POST -d '{\"cast_interval_seconds\": 45}' http://localhost:8081/api/settings\n\n")

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
