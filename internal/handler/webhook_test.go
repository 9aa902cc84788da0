package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/contestkit/eventcore/internal/store"
	"github.com/contestkit/eventcore/internal/webhook"
	"github.com/go-chi/chi/v5"
)

type fakeEngine struct {
	deliveries []store.WebhookDelivery
	stats      *webhook.Stats
	result     *webhook.DeliveryResult
	retryErr   error

	gotWebhookID  string
	gotLimit      int
	gotDays       int
	gotDeliveryID string
}

func (f *fakeEngine) History(_ context.Context, webhookID string, limit int) ([]store.WebhookDelivery, error) {
	f.gotWebhookID = webhookID
	f.gotLimit = limit
	return f.deliveries, nil
}

func (f *fakeEngine) WebhookStats(_ context.Context, webhookID string, days int) (*webhook.Stats, error) {
	f.gotWebhookID = webhookID
	f.gotDays = days
	return f.stats, nil
}

func (f *fakeEngine) RetryDelivery(_ context.Context, deliveryID string) (*webhook.DeliveryResult, error) {
	f.gotDeliveryID = deliveryID
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	return f.result, nil
}

func newTestRouter(eng *fakeEngine) http.Handler {
	h := NewWebhookHandler(eng)
	r := chi.NewRouter()
	r.Get("/webhooks/{webhookID}/deliveries", h.Deliveries)
	r.Get("/webhooks/{webhookID}/stats", h.Stats)
	r.Post("/deliveries/{deliveryID}/retry", h.Retry)
	return r
}

func TestDeliveriesDefaultsLimit(t *testing.T) {
	eng := &fakeEngine{deliveries: []store.WebhookDelivery{{ID: "d1"}, {ID: "d2"}}}
	rec := httptest.NewRecorder()
	newTestRouter(eng).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/wh1/deliveries", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if eng.gotWebhookID != "wh1" || eng.gotLimit != 50 {
		t.Fatalf("expected wh1/50, got %s/%d", eng.gotWebhookID, eng.gotLimit)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("expected count 2, got %d", body.Count)
	}
}

func TestDeliveriesParsesLimit(t *testing.T) {
	eng := &fakeEngine{}
	rec := httptest.NewRecorder()
	newTestRouter(eng).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/wh1/deliveries?limit=5", nil))

	if eng.gotLimit != 5 {
		t.Fatalf("expected limit 5, got %d", eng.gotLimit)
	}
}

func TestDeliveriesRejectsBadLimit(t *testing.T) {
	eng := &fakeEngine{}
	rec := httptest.NewRecorder()
	newTestRouter(eng).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/wh1/deliveries?limit=bogus", nil))

	if eng.gotLimit != 50 {
		t.Fatalf("bad limit must fall back to default, got %d", eng.gotLimit)
	}
}

func TestStatsWindow(t *testing.T) {
	eng := &fakeEngine{stats: &webhook.Stats{Total: 10, Successful: 8, SuccessRate: 80}}
	rec := httptest.NewRecorder()
	newTestRouter(eng).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/wh1/stats?days=30", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if eng.gotDays != 30 {
		t.Fatalf("expected 30 day window, got %d", eng.gotDays)
	}

	var body struct {
		Stats webhook.Stats `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stats.SuccessRate != 80 {
		t.Fatalf("expected success rate 80, got %v", body.Stats.SuccessRate)
	}
}

func TestRetrySuccess(t *testing.T) {
	eng := &fakeEngine{result: &webhook.DeliveryResult{DeliveryID: "d-new", Success: true, AttemptCount: 1}}
	rec := httptest.NewRecorder()
	newTestRouter(eng).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deliveries/d1/retry", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if eng.gotDeliveryID != "d1" {
		t.Fatalf("expected delivery d1, got %s", eng.gotDeliveryID)
	}
}

func TestRetryErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"already delivered", webhook.ErrAlreadyDelivered, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{retryErr: tt.err}
			rec := httptest.NewRecorder()
			newTestRouter(eng).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deliveries/d1/retry", nil))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
}

type stubConn struct{ connected bool }

func (s stubConn) IsConnected() bool { return s.connected }

func TestReadyReportsQueueDown(t *testing.T) {
	h := NewHealthHandler(nil, stubConn{connected: false})
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestReadyOK(t *testing.T) {
	h := NewHealthHandler(nil, stubConn{connected: true})
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
