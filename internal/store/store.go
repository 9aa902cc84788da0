// Package store holds the persistence contracts the event core depends on
// and their Postgres implementations. Webhook configs are read-only here;
// their CRUD lives with the surrounding application.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed read matches nothing.
var ErrNotFound = errors.New("not found")

// DeliveryStatus is the lifecycle state of a webhook delivery record.
// It transitions pending -> success|failed exactly once.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// WebhookConfig is a tenant-owned subscription to one or more event types.
type WebhookConfig struct {
	ID             string
	TenantID       string
	Name           string
	URL            string
	Events         []string
	Enabled        bool
	Secret         string
	Headers        map[string]string
	RetryAttempts  int
	TimeoutSeconds int
	RatePerMinute  int
}

// Subscribed reports whether the config listens for the given event type.
func (w *WebhookConfig) Subscribed(eventType string) bool {
	for _, t := range w.Events {
		if t == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery is one delivery attempt-set record.
type WebhookDelivery struct {
	ID             string
	TenantID       string
	WebhookID      string
	EventID        string // correlation id of the triggering event
	Status         DeliveryStatus
	AttemptCount   int
	LastAttemptAt  *time.Time
	ResponseStatus *int
	ResponseBody   string
	ErrorMessage   string
	CreatedAt      time.Time
}

// DeliveryCounts aggregates delivery outcomes over a trailing window.
type DeliveryCounts struct {
	Total                int
	Successful           int
	Failed               int
	Pending              int
	SuccessfulAttemptSum int // sum of attempt counts over successful deliveries
}

// EventLogRecord is the append-only audit record derived from an event.
type EventLogRecord struct {
	ID            string
	TenantID      string
	EventType     string
	EntityType    string
	EntityID      string
	Payload       map[string]any
	UserID        string
	Source        string
	CorrelationID string
	Timestamp     time.Time
	Processed     bool
}

// Notification is a user-facing notification record.
type Notification struct {
	ID        string
	TenantID  string
	UserID    string
	Type      string
	Title     string
	Message   string
	Data      map[string]any
	CreatedAt time.Time
}

// WebhookStore reads tenant webhook configuration.
type WebhookStore interface {
	ListEnabledWebhooks(ctx context.Context, tenantID string) ([]WebhookConfig, error)
	GetWebhook(ctx context.Context, id string) (*WebhookConfig, error)
}

// DeliveryStore records webhook delivery outcomes.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, d *WebhookDelivery) error
	// FinishDelivery applies the terminal update of the retry loop. It
	// is called exactly once per delivery record.
	FinishDelivery(ctx context.Context, d *WebhookDelivery) error
	GetDelivery(ctx context.Context, id string) (*WebhookDelivery, error)
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]WebhookDelivery, error)
	CountDeliveries(ctx context.Context, webhookID string, since time.Time) (DeliveryCounts, error)
}

// EventLogStore appends and reads audit records.
type EventLogStore interface {
	InsertEventLog(ctx context.Context, rec *EventLogRecord) error
	GetEventLogByCorrelation(ctx context.Context, correlationID string) (*EventLogRecord, error)
}

// NotificationStore appends user-facing notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *Notification) error
}

// UserStore is the slice of user data the handlers need: broad role lookups
// for fan-out notifications and last-login tracking.
type UserStore interface {
	ListUserIDsByRoles(ctx context.Context, tenantID string, roles []string) ([]string, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}
