package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/contestkit/eventcore/internal/event"
	"github.com/contestkit/eventcore/internal/store"
)

// StatisticsHandler performs lightweight activity tracking. Only login
// tracking writes anything today; the other branches are extension points
// that just log.
type StatisticsHandler struct {
	users store.UserStore
}

// NewStatisticsHandler creates a StatisticsHandler.
func NewStatisticsHandler(users store.UserStore) *StatisticsHandler {
	return &StatisticsHandler{users: users}
}

// Types returns the event types this handler subscribes to.
func (h *StatisticsHandler) Types() []string {
	return []string{
		event.TypeUserLogin,
		event.TypeScoreSubmitted,
		event.TypeContestCertified,
	}
}

// Handle updates tracking state for the event.
func (h *StatisticsHandler) Handle(ctx context.Context, e *event.AppEvent) error {
	switch e.Type {
	case event.TypeUserLogin:
		userID := e.PayloadString("userId")
		if userID == "" {
			userID = e.Metadata.UserID
		}
		if userID == "" {
			return nil
		}
		if err := h.users.TouchLastLogin(ctx, userID, e.Metadata.Timestamp); err != nil {
			return fmt.Errorf("track login for %s: %w", userID, err)
		}

	case event.TypeScoreSubmitted:
		// TODO(stats): per-judge scoring throughput, pending a decision on
		// where aggregates live.
		slog.Debug("score submitted", "correlation_id", e.Metadata.CorrelationID)

	case event.TypeContestCertified:
		slog.Debug("contest certified", "correlation_id", e.Metadata.CorrelationID)
	}
	return nil
}
