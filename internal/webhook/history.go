package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/contestkit/eventcore/internal/event"
	"github.com/contestkit/eventcore/internal/store"
)

// Stats aggregates delivery outcomes for one webhook over a trailing window.
type Stats struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"` // successful/total*100
	AvgAttempts float64 `json:"avg_attempts"` // over successful deliveries only
}

// History returns a webhook's delivery records, most recent first.
func (eng *Engine) History(ctx context.Context, webhookID string, limit int) ([]store.WebhookDelivery, error) {
	return eng.deliveries.ListDeliveries(ctx, webhookID, limit)
}

// WebhookStats aggregates outcomes over the trailing number of days.
func (eng *Engine) WebhookStats(ctx context.Context, webhookID string, days int) (*Stats, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	counts, err := eng.deliveries.CountDeliveries(ctx, webhookID, since)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:      counts.Total,
		Successful: counts.Successful,
		Failed:     counts.Failed,
		Pending:    counts.Pending,
	}
	if counts.Total > 0 {
		stats.SuccessRate = float64(counts.Successful) / float64(counts.Total) * 100
	}
	if counts.Successful > 0 {
		stats.AvgAttempts = float64(counts.SuccessfulAttemptSum) / float64(counts.Successful)
	}
	return stats, nil
}

// RetryDelivery re-runs a past delivery: the original event is reconstructed
// from its audit record and delivered to the same webhook again. It refuses
// when the original delivery already succeeded, or when the webhook or the
// audit record is gone.
func (eng *Engine) RetryDelivery(ctx context.Context, deliveryID string) (*DeliveryResult, error) {
	d, err := eng.deliveries.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("load delivery %s: %w", deliveryID, err)
	}
	if d.Status == store.DeliverySuccess {
		return nil, ErrAlreadyDelivered
	}

	wh, err := eng.webhooks.GetWebhook(ctx, d.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("load webhook %s: %w", d.WebhookID, err)
	}

	rec, err := eng.eventLog.GetEventLogByCorrelation(ctx, d.EventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", d.EventID, err)
	}

	e := &event.AppEvent{
		Type:    rec.EventType,
		Payload: rec.Payload,
		Metadata: event.Metadata{
			Timestamp:     rec.Timestamp,
			Source:        rec.Source,
			UserID:        rec.UserID,
			TenantID:      rec.TenantID,
			CorrelationID: rec.CorrelationID,
		},
	}

	return eng.Deliver(ctx, wh, e)
}
