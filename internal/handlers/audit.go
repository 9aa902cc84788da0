// Package handlers contains the event bus subscribers: audit log,
// notifications, cache invalidation, statistics, and the bridge that fans
// events out to the webhook delivery engine.
package handlers

import (
	"context"
	"fmt"

	"github.com/contestkit/eventcore/internal/event"
	"github.com/contestkit/eventcore/internal/store"
)

// AuditHandler persists an append-only record for every auditable event.
// It performs no deduplication: at-least-once redelivery produces duplicate
// records, and consumers of the audit log are expected to tolerate that.
type AuditHandler struct {
	eventLog store.EventLogStore
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(eventLog store.EventLogStore) *AuditHandler {
	return &AuditHandler{eventLog: eventLog}
}

// Handle writes one event-log record when the event type is on the
// auditable allow-list.
func (h *AuditHandler) Handle(ctx context.Context, e *event.AppEvent) error {
	if !event.Auditable(e.Type) {
		return nil
	}

	rec := &store.EventLogRecord{
		TenantID:      e.TenantID(),
		EventType:     e.Type,
		EntityType:    e.EntityType(),
		EntityID:      e.EntityID(),
		Payload:       e.Payload,
		UserID:        e.Metadata.UserID,
		Source:        e.Metadata.Source,
		CorrelationID: e.Metadata.CorrelationID,
		Timestamp:     e.Metadata.Timestamp,
		Processed:     true,
	}
	if err := h.eventLog.InsertEventLog(ctx, rec); err != nil {
		return fmt.Errorf("audit %s: %w", e.Type, err)
	}
	return nil
}
