package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthHandler handles the liveness and readiness probes.
type HealthHandler struct {
	db    *pgxpool.Pool
	queue interface{ IsConnected() bool }
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db *pgxpool.Pool, queue interface{ IsConnected() bool }) *HealthHandler {
	return &HealthHandler{db: db, queue: queue}
}

// Health is a simple liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready is a readiness probe that checks dependencies.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status":   "ready",
		"queue":    "connected",
		"database": "connected",
	}
	status := http.StatusOK

	if h.queue != nil && !h.queue.IsConnected() {
		response["status"] = "not_ready"
		response["queue"] = "disconnected"
		status = http.StatusServiceUnavailable
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			response["status"] = "not_ready"
			response["database"] = "disconnected"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, response)
}
