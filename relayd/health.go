package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	port   int
	server *http.Server
	status *HealthStatus
	mu     sync.RWMutex
}

// HealthStatus represents the current health status
type HealthStatus struct {
	Healthy        bool      `json:"healthy"`
	NATSConnected  bool      `json:"nats_connected"`
	EngineAttached bool      `json:"engine_attached"`
	LastCheck      time.Time `json:"last_check"`
	Uptime         string    `json:"uptime"`
	Version        string    `json:"version"`
}

var startTime = time.Now()

// NewHealthServer creates a new health server
func NewHealthServer(port int) *HealthServer {
	return &HealthServer{
		port: port,
		status: &HealthStatus{
			Healthy: true,
			Version: Version,
		},
	}
}

// Start starts the health server
func (h *HealthServer) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)

	h.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", h.port),
		Handler: mux,
	}

	log.Info().Int("port", h.port).Msg("Starting health server")

	if err := h.server.ListenAndServe(); err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health server error")
	}
}

// Stop stops the health server
func (h *HealthServer) Stop() {
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.server.Shutdown(ctx)
	}
}

// UpdateStatus updates the health status
func (h *HealthServer) UpdateStatus(natsConnected, engineAttached bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.status.NATSConnected = natsConnected
	h.status.EngineAttached = engineAttached
	h.status.Healthy = natsConnected && engineAttached
	h.status.LastCheck = time.Now()
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	status := *h.status
	h.mu.RUnlock()

	status.Uptime = time.Since(startTime).Round(time.Second).String()

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	healthy := h.status.Healthy
	h.mu.RUnlock()

	if healthy {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ready")
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprint(w, "not ready")
}
