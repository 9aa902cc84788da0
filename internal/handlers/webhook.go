package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/contestkit/eventcore/internal/event"
	"github.com/contestkit/eventcore/internal/store"
	"github.com/contestkit/eventcore/internal/webhook"
)

// Deliverer is the slice of the webhook engine this bridge needs.
type Deliverer interface {
	Deliver(ctx context.Context, wh *store.WebhookConfig, e *event.AppEvent) (*webhook.DeliveryResult, error)
}

// WebhookBridge translates a dispatched event into outbound webhook
// deliveries. Deliveries are fire-and-forget relative to event dispatch: a
// slow or down endpoint must not hold up the audit/notification/cache
// handlers or the job's completion, so each delivery runs in its own
// goroutine and only logs its outcome.
type WebhookBridge struct {
	webhooks store.WebhookStore
	engine   Deliverer

	// lifetime bounds the spawned deliveries; Close cancels and waits.
	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWebhookBridge creates a WebhookBridge.
func NewWebhookBridge(webhooks store.WebhookStore, engine Deliverer) *WebhookBridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebhookBridge{
		webhooks: webhooks,
		engine:   engine,
		lifetime: ctx,
		cancel:   cancel,
	}
}

// Handle fans the event out to every enabled webhook of the event's tenant
// that subscribes to its type. It returns once the deliveries are spawned.
func (b *WebhookBridge) Handle(ctx context.Context, e *event.AppEvent) error {
	tenantID := e.TenantID()
	if tenantID == "" {
		// Cannot scope to a tenant; nothing to deliver.
		return nil
	}

	configs, err := b.webhooks.ListEnabledWebhooks(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list webhooks for tenant %s: %w", tenantID, err)
	}

	for i := range configs {
		wh := configs[i]
		if !wh.Subscribed(e.Type) {
			continue
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.deliver(&wh, e)
		}()
	}
	return nil
}

// deliver runs one delivery under the bridge's lifetime and logs the result.
// Failures stay here; they are never surfaced to the dispatch path.
func (b *WebhookBridge) deliver(wh *store.WebhookConfig, e *event.AppEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("webhook delivery panicked",
				"webhook_id", wh.ID,
				"event_type", e.Type,
				"panic", r,
			)
		}
	}()

	result, err := b.engine.Deliver(b.lifetime, wh, e)
	if err != nil {
		slog.Warn("webhook delivery could not run",
			"webhook_id", wh.ID,
			"event_type", e.Type,
			"correlation_id", e.Metadata.CorrelationID,
			"error", err,
		)
		return
	}

	if result.Success {
		slog.Debug("webhook delivered",
			"webhook_id", wh.ID,
			"event_type", e.Type,
			"correlation_id", e.Metadata.CorrelationID,
			"attempts", result.AttemptCount,
		)
	} else {
		slog.Warn("webhook delivery failed",
			"webhook_id", wh.ID,
			"event_type", e.Type,
			"correlation_id", e.Metadata.CorrelationID,
			"attempts", result.AttemptCount,
			"error", result.Error,
		)
	}
}

// Close cancels in-flight deliveries and waits for their goroutines.
func (b *WebhookBridge) Close() {
	b.cancel()
	b.wg.Wait()
}

// Wait blocks until all spawned deliveries have settled, without
// cancelling them. Used by tests and graceful drain.
func (b *WebhookBridge) Wait() {
	b.wg.Wait()
}
