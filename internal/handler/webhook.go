package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/contestkit/eventcore/internal/store"
	"github.com/contestkit/eventcore/internal/webhook"
	"github.com/go-chi/chi/v5"
)

// deliveryEngine is the slice of the webhook engine the ops API uses.
type deliveryEngine interface {
	History(ctx context.Context, webhookID string, limit int) ([]store.WebhookDelivery, error)
	WebhookStats(ctx context.Context, webhookID string, days int) (*webhook.Stats, error)
	RetryDelivery(ctx context.Context, deliveryID string) (*webhook.DeliveryResult, error)
}

// WebhookHandler exposes delivery history, stats, and manual retry.
type WebhookHandler struct {
	engine deliveryEngine
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(engine deliveryEngine) *WebhookHandler {
	return &WebhookHandler{engine: engine}
}

// Deliveries returns a webhook's delivery records, most recent first.
func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookID")
	limit := queryInt(r, "limit", 50)

	deliveries, err := h.engine.History(r.Context(), webhookID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list deliveries"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"webhook_id": webhookID,
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}

// Stats returns aggregate delivery outcomes over a trailing window of days.
func (h *WebhookHandler) Stats(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookID")
	days := queryInt(r, "days", 7)

	stats, err := h.engine.WebhookStats(r.Context(), webhookID, days)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to compute stats"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"webhook_id": webhookID,
		"days":       days,
		"stats":      stats,
	})
}

// Retry re-runs a past failed delivery.
func (h *WebhookHandler) Retry(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryID")

	result, err := h.engine.RetryDelivery(r.Context(), deliveryID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "delivery not found"})
		case errors.Is(err, webhook.ErrAlreadyDelivered):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "delivery already succeeded"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "retry failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
