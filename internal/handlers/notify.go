package handlers

import (
	"context"
	"fmt"

	"github.com/contestkit/eventcore/internal/event"
	"github.com/contestkit/eventcore/internal/store"
)

// certifiedAudience are the roles notified when a whole contest is certified.
var certifiedAudience = []string{"admin", "organizer", "board"}

// NotificationHandler creates user-facing notification records for the
// events people care about: assignments, score milestones, and
// certification decisions.
type NotificationHandler struct {
	notifications store.NotificationStore
	users         store.UserStore
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(notifications store.NotificationStore, users store.UserStore) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, users: users}
}

// Types returns the event types this handler subscribes to.
func (h *NotificationHandler) Types() []string {
	return []string{
		event.TypeAssignmentCreated,
		event.TypeScoreSubmitted,
		event.TypeScoresFinalized,
		event.TypeCertificationApproved,
		event.TypeCertificationRejected,
		event.TypeContestCertified,
	}
}

// Handle creates zero or more notifications depending on the event type.
func (h *NotificationHandler) Handle(ctx context.Context, e *event.AppEvent) error {
	tenantID := e.TenantID()
	if tenantID == "" {
		return nil
	}

	switch e.Type {
	case event.TypeAssignmentCreated:
		return h.notifyUser(ctx, e, e.PayloadString("judgeId"),
			"assignment", "New judging assignment",
			"You have been assigned to a new category.")

	case event.TypeScoreSubmitted:
		return h.notifyUser(ctx, e, e.PayloadString("organizerId"),
			"score", "Score submitted",
			fmt.Sprintf("A score was submitted for contestant %s.", e.PayloadString("contestantId")))

	case event.TypeScoresFinalized:
		return h.notifyRoles(ctx, e, []string{"admin", "organizer"},
			"scores", "Scores finalized",
			fmt.Sprintf("Scoring for category %s has been finalized.", e.PayloadString("categoryId")))

	case event.TypeCertificationApproved:
		return h.notifyUser(ctx, e, e.PayloadString("judgeId"),
			"certification", "Certification approved",
			"Your certification request was approved.")

	case event.TypeCertificationRejected:
		return h.notifyUser(ctx, e, e.PayloadString("judgeId"),
			"certification", "Certification rejected",
			"Your certification request was rejected.")

	case event.TypeContestCertified:
		return h.notifyRoles(ctx, e, certifiedAudience,
			"contest", "Contest certified",
			"A contest has been fully certified.")
	}
	return nil
}

// notifyUser creates one notification for a single payload-resolved user.
// A missing target is a no-op: the producer did not include one.
func (h *NotificationHandler) notifyUser(ctx context.Context, e *event.AppEvent, userID, kind, title, message string) error {
	if userID == "" {
		return nil
	}
	return h.insert(ctx, e, userID, kind, title, message)
}

// notifyRoles fans one notification out to every tenant user holding one of
// the given roles.
func (h *NotificationHandler) notifyRoles(ctx context.Context, e *event.AppEvent, roles []string, kind, title, message string) error {
	userIDs, err := h.users.ListUserIDsByRoles(ctx, e.TenantID(), roles)
	if err != nil {
		return fmt.Errorf("resolve notification audience for %s: %w", e.Type, err)
	}
	for _, id := range userIDs {
		if err := h.insert(ctx, e, id, kind, title, message); err != nil {
			return err
		}
	}
	return nil
}

func (h *NotificationHandler) insert(ctx context.Context, e *event.AppEvent, userID, kind, title, message string) error {
	n := &store.Notification{
		TenantID: e.TenantID(),
		UserID:   userID,
		Type:     kind,
		Title:    title,
		Message:  message,
		Data: map[string]any{
			"event_type":     e.Type,
			"correlation_id": e.Metadata.CorrelationID,
			"entity_id":      e.EntityID(),
		},
	}
	if err := h.notifications.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("notify %s for %s: %w", userID, e.Type, err)
	}
	return nil
}
