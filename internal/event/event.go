// Package event defines the application event model and the closed
// event-type catalog shared by the bus, the handlers, and the webhook
// delivery engine.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metadata carries the cross-cutting context of an event: who produced it,
// for which tenant, and the correlation id threading one logical occurrence
// through publish, dispatch, audit, and webhook delivery.
type Metadata struct {
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	UserID        string    `json:"user_id,omitempty"`
	TenantID      string    `json:"tenant_id,omitempty"`
	CorrelationID string    `json:"correlation_id"`
}

// AppEvent is the unit of propagation. It is constructed at publish time and
// immutable afterwards; it exists only transiently (queue entry plus in-memory
// dispatch) except where the audit handler persists a derived record.
type AppEvent struct {
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
	Metadata Metadata       `json:"metadata"`
}

// New builds an AppEvent, filling metadata defaults: timestamp now (UTC),
// source "unknown" if empty, and a generated correlation id if absent.
func New(eventType string, payload map[string]any, meta Metadata) *AppEvent {
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	if meta.Source == "" {
		meta.Source = "unknown"
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = NewCorrelationID()
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return &AppEvent{
		Type:     eventType,
		Payload:  payload,
		Metadata: meta,
	}
}

// NewCorrelationID generates an opaque correlation token.
func NewCorrelationID() string {
	return "cor_" + uuid.NewString()
}

// TenantID resolves the tenant scope of an event: the payload's tenantId
// wins over the metadata one. Empty means the event cannot be scoped.
func (e *AppEvent) TenantID() string {
	if v, ok := e.Payload["tenantId"].(string); ok && v != "" {
		return v
	}
	return e.Metadata.TenantID
}

// EntityType returns the first dot-segment of the event type
// ("score.submitted" -> "score").
func (e *AppEvent) EntityType() string {
	if i := strings.IndexByte(e.Type, '.'); i != -1 {
		return e.Type[:i]
	}
	return e.Type
}

// EntityID resolves the identifier of the affected entity from the payload:
// "id" wins over "entityId"; empty when neither is present.
func (e *AppEvent) EntityID() string {
	if v, ok := e.Payload["id"].(string); ok && v != "" {
		return v
	}
	if v, ok := e.Payload["entityId"].(string); ok && v != "" {
		return v
	}
	return ""
}

// PayloadString returns the named payload field as a string, or "" when the
// field is absent or not a string.
func (e *AppEvent) PayloadString(field string) string {
	v, _ := e.Payload[field].(string)
	return v
}
