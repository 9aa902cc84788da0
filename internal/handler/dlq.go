package handler

import (
	"context"
	"net/http"

	"github.com/contestkit/eventcore/internal/queue"
)

type dlqLister interface {
	List(ctx context.Context, jobType string, limit int) ([]queue.DLQEntry, error)
}

// DLQHandler exposes the dead letter queue for inspection.
type DLQHandler struct {
	reader dlqLister
}

// NewDLQHandler creates a new DLQHandler.
func NewDLQHandler(reader dlqLister) *DLQHandler {
	return &DLQHandler{reader: reader}
}

// List returns dead jobs, optionally filtered by ?type=<event-type>.
func (h *DLQHandler) List(w http.ResponseWriter, r *http.Request) {
	jobType := r.URL.Query().Get("type")
	limit := queryInt(r, "limit", 100)

	entries, err := h.reader.List(r.Context(), jobType, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read DLQ"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
