package handlers

import (
	"fmt"

	"github.com/contestkit/eventcore/internal/bus"
	"github.com/contestkit/eventcore/internal/cache"
	"github.com/contestkit/eventcore/internal/event"
	"github.com/contestkit/eventcore/internal/store"
)

// Deps are the collaborators the default handler set needs.
type Deps struct {
	EventLog      store.EventLogStore
	Notifications store.NotificationStore
	Users         store.UserStore
	Webhooks      store.WebhookStore
	Cache         cache.Deleter
	Engine        Deliverer
}

// RegisterDefaultHandlers wires the audit, notification, cache-invalidation,
// statistics, and webhook-bridge handlers onto the bus. It is the single
// explicit registration step, called once at process init. The returned
// bridge must be closed on shutdown to drain in-flight deliveries.
func RegisterDefaultHandlers(b *bus.Bus, deps Deps) (*WebhookBridge, error) {
	audit := NewAuditHandler(deps.EventLog)
	notify := NewNotificationHandler(deps.Notifications, deps.Users)
	stats := NewStatisticsHandler(deps.Users)
	bridge := NewWebhookBridge(deps.Webhooks, deps.Engine)

	invalidation, err := NewCacheInvalidationHandler(deps.Cache)
	if err != nil {
		return nil, fmt.Errorf("cache invalidation handler: %w", err)
	}

	// Audit and webhook fan-out apply to the whole catalog; the others
	// subscribe only to the types they act on.
	for _, t := range event.Types() {
		b.Subscribe(t, "audit", audit.Handle)
		b.Subscribe(t, "webhook", bridge.Handle)
	}
	for _, t := range notify.Types() {
		b.Subscribe(t, "notification", notify.Handle)
	}
	for _, t := range invalidation.Types() {
		b.Subscribe(t, "cache-invalidation", invalidation.Handle)
	}
	for _, t := range stats.Types() {
		b.Subscribe(t, "statistics", stats.Handle)
	}

	return bridge, nil
}
