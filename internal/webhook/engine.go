// Package webhook delivers application events to tenant-configured HTTP
// endpoints: signed POSTs with bounded sequential retry, exponential backoff,
// and a durable record of every delivery outcome.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/contestkit/eventcore/internal/event"
	"github.com/contestkit/eventcore/internal/store"
	"golang.org/x/time/rate"
)

const (
	// UserAgent identifies the engine at the tenant's endpoint.
	UserAgent = "EventManager-Webhook/1.0"

	defaultRetryAttempts = 3
	defaultTimeout       = 30 * time.Second

	// maxResponseBody bounds what is persisted of an endpoint's response.
	maxResponseBody = 1000
)

// ErrAlreadyDelivered is returned when a manual re-delivery targets a
// delivery that already succeeded.
var ErrAlreadyDelivered = errors.New("delivery already succeeded")

// DeliveryResult is the outcome of one full retry loop.
type DeliveryResult struct {
	DeliveryID   string
	Success      bool
	AttemptCount int
	StatusCode   int    // last HTTP status, 0 if no response was received
	Error        string // last attempt's error, empty on success
}

// Payload is the JSON body POSTed to the tenant's endpoint.
type Payload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Metadata  event.Metadata `json:"metadata"`
}

// Engine performs webhook deliveries and owns their bookkeeping.
type Engine struct {
	deliveries store.DeliveryStore
	webhooks   store.WebhookStore
	eventLog   store.EventLogStore
	client     *http.Client

	// sleep is the backoff wait; tests replace it to observe delays.
	sleep func(ctx context.Context, d time.Duration) error

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewEngine creates an Engine using the SSRF-safe HTTP client.
func NewEngine(deliveries store.DeliveryStore, webhooks store.WebhookStore, eventLog store.EventLogStore) *Engine {
	return &Engine{
		deliveries: deliveries,
		webhooks:   webhooks,
		eventLog:   eventLog,
		client:     newSafeHTTPClient(),
		sleep:      sleepContext,
		limiters:   make(map[string]*rate.Limiter),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver runs one full delivery of an event to a webhook: it creates the
// pending delivery record, runs the sequential retry loop, and applies the
// terminal update exactly once. Attempts never run concurrently for the same
// delivery; backoff blocks only this delivery's goroutine.
//
// A failure to persist the outcome is logged and does not overwrite the
// already-computed result.
func (eng *Engine) Deliver(ctx context.Context, wh *store.WebhookConfig, e *event.AppEvent) (*DeliveryResult, error) {
	if err := eng.waitForRateLimit(ctx, wh); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	d := &store.WebhookDelivery{
		TenantID:  wh.TenantID,
		WebhookID: wh.ID,
		EventID:   e.Metadata.CorrelationID,
		Status:    store.DeliveryPending,
	}
	if err := eng.deliveries.CreateDelivery(ctx, d); err != nil {
		return nil, fmt.Errorf("create delivery record: %w", err)
	}

	result, lastAttempt := eng.deliverWithRetry(ctx, wh, e)
	result.DeliveryID = d.ID

	now := time.Now().UTC()
	d.AttemptCount = result.AttemptCount
	d.LastAttemptAt = &now
	d.ResponseBody = truncate(lastAttempt.body, maxResponseBody)
	d.ErrorMessage = result.Error
	if lastAttempt.status != nil {
		status := *lastAttempt.status
		d.ResponseStatus = &status
	}
	if result.Success {
		d.Status = store.DeliverySuccess
	} else {
		d.Status = store.DeliveryFailed
	}

	if err := eng.deliveries.FinishDelivery(ctx, d); err != nil {
		slog.Error("failed to persist delivery outcome",
			"delivery_id", d.ID,
			"webhook_id", wh.ID,
			"correlation_id", e.Metadata.CorrelationID,
			"error", err,
		)
	}

	return result, nil
}

// attemptOutcome is the result of a single HTTP attempt.
type attemptOutcome struct {
	status *int   // HTTP status when a response was received
	body   string // response body, already length-bounded
	errMsg string // empty on success
}

func (a attemptOutcome) ok() bool {
	return a.errMsg == ""
}

// deliverWithRetry runs the bounded sequential retry loop: up to the
// webhook's configured attempts, sleeping 2^attempt seconds between failures.
func (eng *Engine) deliverWithRetry(ctx context.Context, wh *store.WebhookConfig, e *event.AppEvent) (*DeliveryResult, attemptOutcome) {
	maxAttempts := wh.RetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryAttempts
	}

	var last attemptOutcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = eng.send(ctx, wh, e)
		if last.ok() {
			result := &DeliveryResult{Success: true, AttemptCount: attempt}
			if last.status != nil {
				result.StatusCode = *last.status
			}
			return result, last
		}

		slog.Warn("webhook attempt failed",
			"webhook_id", wh.ID,
			"correlation_id", e.Metadata.CorrelationID,
			"attempt", attempt,
			"error", last.errMsg,
		)

		if attempt < maxAttempts {
			backoff := time.Duration(1<<uint(attempt)) * time.Second // 2s, 4s, 8s, ...
			if err := eng.sleep(ctx, backoff); err != nil {
				last.errMsg = fmt.Sprintf("backoff interrupted: %v", err)
				result := &DeliveryResult{AttemptCount: attempt, Error: last.errMsg}
				if last.status != nil {
					result.StatusCode = *last.status
				}
				return result, last
			}
		}
	}

	result := &DeliveryResult{AttemptCount: maxAttempts, Error: last.errMsg}
	if last.status != nil {
		result.StatusCode = *last.status
	}
	return result, last
}

// send performs one signed HTTP POST.
func (eng *Engine) send(ctx context.Context, wh *store.WebhookConfig, e *event.AppEvent) attemptOutcome {
	payload := Payload{
		Event:     e.Type,
		Timestamp: time.Now().UTC(),
		Data:      e.Payload,
		Metadata:  e.Metadata,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return attemptOutcome{errMsg: fmt.Sprintf("marshal payload: %v", err)}
	}

	if wh.Secret == "" {
		// Signing with an empty key is almost certainly a configuration
		// mistake; the header is still sent so receivers see a stable shape.
		slog.Warn("webhook has no secret, signing with empty key", "webhook_id", wh.ID)
	}
	signature := Sign(body, wh.Secret)

	timeout := defaultTimeout
	if wh.TimeoutSeconds > 0 {
		timeout = time.Duration(wh.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return attemptOutcome{errMsg: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Timestamp", payload.Timestamp.Format(time.RFC3339))
	req.Header.Set("X-Webhook-Event", e.Type)
	req.Header.Set("User-Agent", UserAgent)
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}

	resp, err := eng.client.Do(req)
	if err != nil {
		return attemptOutcome{errMsg: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	status := resp.StatusCode
	out := attemptOutcome{status: &status, body: string(respBody)}

	if status < 200 || status >= 300 {
		out.errMsg = fmt.Sprintf("HTTP %d: %s", status, truncate(string(respBody), 200))
	}
	return out
}

// waitForRateLimit blocks until the webhook's delivery budget allows another
// delivery. RatePerMinute 0 means unlimited.
func (eng *Engine) waitForRateLimit(ctx context.Context, wh *store.WebhookConfig) error {
	if wh.RatePerMinute <= 0 {
		return nil
	}

	eng.limiterMu.Lock()
	lim, ok := eng.limiters[wh.ID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(wh.RatePerMinute)), 1)
		eng.limiters[wh.ID] = lim
	}
	eng.limiterMu.Unlock()

	return lim.Wait(ctx)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
