package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/contestkit/eventcore/internal/bus"
	"github.com/contestkit/eventcore/internal/event"
	"github.com/contestkit/eventcore/internal/queue"
	"github.com/contestkit/eventcore/internal/store"
	"github.com/contestkit/eventcore/internal/webhook"
)

type fakeEventLog struct {
	mu      sync.Mutex
	records []*store.EventLogRecord
}

func (f *fakeEventLog) InsertEventLog(_ context.Context, rec *store.EventLogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records = append(f.records, &cp)
	return nil
}

func (f *fakeEventLog) GetEventLogByCorrelation(context.Context, string) (*store.EventLogRecord, error) {
	return nil, store.ErrNotFound
}

type fakeNotifications struct {
	mu      sync.Mutex
	created []*store.Notification
}

func (f *fakeNotifications) InsertNotification(_ context.Context, n *store.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *n
	f.created = append(f.created, &cp)
	return nil
}

type fakeUsers struct {
	mu         sync.Mutex
	roleUsers  map[string][]string // role -> user ids
	lastLogins map[string]time.Time
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{roleUsers: map[string][]string{}, lastLogins: map[string]time.Time{}}
}

func (f *fakeUsers) ListUserIDsByRoles(_ context.Context, _ string, roles []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range roles {
		out = append(out, f.roleUsers[r]...)
	}
	return out, nil
}

func (f *fakeUsers) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLogins[userID] = at
	return nil
}

type fakeWebhooks struct {
	configs []store.WebhookConfig
	err     error
}

func (f *fakeWebhooks) ListEnabledWebhooks(context.Context, string) ([]store.WebhookConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.configs, nil
}

func (f *fakeWebhooks) GetWebhook(_ context.Context, id string) (*store.WebhookConfig, error) {
	for i := range f.configs {
		if f.configs[i].ID == id {
			return &f.configs[i], nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeDeleter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeDeleter) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, keys...)
	return nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []string // webhook ids
	err       error
	fail      bool
}

func (f *fakeDeliverer) Deliver(_ context.Context, wh *store.WebhookConfig, _ *event.AppEvent) (*webhook.DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.delivered = append(f.delivered, wh.ID)
	if f.fail {
		return &webhook.DeliveryResult{Success: false, AttemptCount: 3, Error: "HTTP 500"}, nil
	}
	return &webhook.DeliveryResult{Success: true, AttemptCount: 1}, nil
}

func scoreEvent() *event.AppEvent {
	return event.New(event.TypeScoreSubmitted,
		map[string]any{"contestantId": "c1", "categoryId": "k1", "score": 95, "tenantId": "t1"},
		event.Metadata{Source: "scoring"})
}

func TestAuditHandlerFiltersAllowList(t *testing.T) {
	log := &fakeEventLog{}
	h := NewAuditHandler(log)

	login := event.New(event.TypeUserLogin, map[string]any{"userId": "u1", "tenantId": "t1"}, event.Metadata{})
	if err := h.Handle(context.Background(), login); err != nil {
		t.Fatalf("handle login: %v", err)
	}
	if len(log.records) != 0 {
		t.Fatal("user.login must not be audited")
	}

	if err := h.Handle(context.Background(), scoreEvent()); err != nil {
		t.Fatalf("handle score: %v", err)
	}
	if len(log.records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(log.records))
	}

	rec := log.records[0]
	if rec.EntityType != "score" {
		t.Fatalf("expected entity type score, got %q", rec.EntityType)
	}
	if rec.TenantID != "t1" {
		t.Fatalf("expected tenant t1, got %q", rec.TenantID)
	}
	if rec.CorrelationID == "" {
		t.Fatal("expected correlation id on audit record")
	}
}

func TestAuditHandlerEntityID(t *testing.T) {
	log := &fakeEventLog{}
	h := NewAuditHandler(log)

	e := event.New(event.TypeContestCreated, map[string]any{"entityId": "c7", "tenantId": "t1"}, event.Metadata{})
	if err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if log.records[0].EntityID != "c7" {
		t.Fatalf("expected entity id c7, got %q", log.records[0].EntityID)
	}
}

func TestAuditHandlerNoDedup(t *testing.T) {
	// At-least-once redelivery produces duplicate audit records; dedup, if
	// wanted, is a downstream concern.
	log := &fakeEventLog{}
	h := NewAuditHandler(log)

	e := scoreEvent()
	for i := 0; i < 2; i++ {
		if err := h.Handle(context.Background(), e); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	if len(log.records) != 2 {
		t.Fatalf("expected 2 records for duplicate dispatch, got %d", len(log.records))
	}
	if log.records[0].CorrelationID != log.records[1].CorrelationID {
		t.Fatal("duplicate records must share the correlation id")
	}
}

func TestNotificationAssignmentCreated(t *testing.T) {
	notifications := &fakeNotifications{}
	h := NewNotificationHandler(notifications, newFakeUsers())

	e := event.New(event.TypeAssignmentCreated,
		map[string]any{"judgeId": "u9", "tenantId": "t1"}, event.Metadata{})
	if err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(notifications.created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifications.created))
	}
	n := notifications.created[0]
	if n.UserID != "u9" || n.TenantID != "t1" {
		t.Fatalf("unexpected target: %+v", n)
	}
}

func TestNotificationContestCertifiedFansOutToRoles(t *testing.T) {
	notifications := &fakeNotifications{}
	users := newFakeUsers()
	users.roleUsers["admin"] = []string{"u1"}
	users.roleUsers["organizer"] = []string{"u2", "u3"}
	users.roleUsers["board"] = []string{"u4"}
	users.roleUsers["judge"] = []string{"u5"} // not an audience role

	h := NewNotificationHandler(notifications, users)

	e := event.New(event.TypeContestCertified,
		map[string]any{"id": "c1", "tenantId": "t1"}, event.Metadata{})
	if err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var got []string
	for _, n := range notifications.created {
		got = append(got, n.UserID)
	}
	sort.Strings(got)
	want := []string{"u1", "u2", "u3", "u4"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestNotificationNoTenantIsNoop(t *testing.T) {
	notifications := &fakeNotifications{}
	h := NewNotificationHandler(notifications, newFakeUsers())

	e := event.New(event.TypeAssignmentCreated, map[string]any{"judgeId": "u9"}, event.Metadata{})
	if err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(notifications.created) != 0 {
		t.Fatal("event without tenant must not notify")
	}
}

func TestCacheInvalidationScenario(t *testing.T) {
	deleter := &fakeDeleter{}
	h, err := NewCacheInvalidationHandler(deleter)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	if err := h.Handle(context.Background(), scoreEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}

	want := []string{
		"category:k1:scores",
		"category:k1:results",
		"contestant:c1:scores",
		"results:latest",
		"leaderboard",
	}
	if len(deleter.keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, deleter.keys)
	}
	for i := range want {
		if deleter.keys[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, deleter.keys)
		}
	}
}

func TestCacheInvalidationSkipsIncompleteTemplates(t *testing.T) {
	deleter := &fakeDeleter{}
	h, err := NewCacheInvalidationHandler(deleter)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	// No contestantId: the contestant key template is dropped, the rest stay.
	e := event.New(event.TypeScoreSubmitted,
		map[string]any{"categoryId": "k1", "score": 80, "contestantId": "", "tenantId": "t1"},
		event.Metadata{})
	if err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}

	for _, k := range deleter.keys {
		if k == "contestant::scores" {
			t.Fatalf("incomplete template must be skipped, got %v", deleter.keys)
		}
	}
	if len(deleter.keys) != 4 {
		t.Fatalf("expected 4 keys, got %v", deleter.keys)
	}
}

func TestCacheInvalidationUnknownTypeIsNoop(t *testing.T) {
	deleter := &fakeDeleter{}
	h, err := NewCacheInvalidationHandler(deleter)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	e := event.New(event.TypeUserLogin, map[string]any{"tenantId": "t1"}, event.Metadata{})
	if err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(deleter.keys) != 0 {
		t.Fatalf("expected no deletions, got %v", deleter.keys)
	}
}

func TestStatisticsTracksLastLogin(t *testing.T) {
	users := newFakeUsers()
	h := NewStatisticsHandler(users)

	e := event.New(event.TypeUserLogin, map[string]any{"userId": "u1"}, event.Metadata{})
	if err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}

	at, ok := users.lastLogins["u1"]
	if !ok {
		t.Fatal("expected last login recorded")
	}
	if !at.Equal(e.Metadata.Timestamp) {
		t.Fatalf("expected event timestamp, got %v", at)
	}
}

func TestStatisticsLoginFallsBackToMetadataUser(t *testing.T) {
	users := newFakeUsers()
	h := NewStatisticsHandler(users)

	e := event.New(event.TypeUserLogin, nil, event.Metadata{UserID: "u2"})
	if err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := users.lastLogins["u2"]; !ok {
		t.Fatal("expected metadata user tracked")
	}
}

func TestWebhookBridgeFiltersByEventType(t *testing.T) {
	deliverer := &fakeDeliverer{}
	webhooks := &fakeWebhooks{configs: []store.WebhookConfig{
		{ID: "wh1", TenantID: "t1", Enabled: true, Events: []string{event.TypeScoreSubmitted}},
		{ID: "wh2", TenantID: "t1", Enabled: true, Events: []string{event.TypeScoreUpdated}},
	}}
	b := NewWebhookBridge(webhooks, deliverer)
	defer b.Close()

	if err := b.Handle(context.Background(), scoreEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	b.Wait()

	if len(deliverer.delivered) != 1 || deliverer.delivered[0] != "wh1" {
		t.Fatalf("expected delivery only to wh1, got %v", deliverer.delivered)
	}
}

func TestWebhookBridgeNoTenantIsNoop(t *testing.T) {
	deliverer := &fakeDeliverer{}
	webhooks := &fakeWebhooks{configs: []store.WebhookConfig{
		{ID: "wh1", TenantID: "t1", Enabled: true, Events: []string{event.TypeScoreSubmitted}},
	}}
	b := NewWebhookBridge(webhooks, deliverer)
	defer b.Close()

	e := event.New(event.TypeScoreSubmitted, map[string]any{"contestantId": "c1"}, event.Metadata{})
	if err := b.Handle(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}
	b.Wait()

	if len(deliverer.delivered) != 0 {
		t.Fatalf("expected no deliveries, got %v", deliverer.delivered)
	}
}

func TestWebhookBridgeSwallowsDeliveryFailure(t *testing.T) {
	deliverer := &fakeDeliverer{err: errors.New("engine down")}
	webhooks := &fakeWebhooks{configs: []store.WebhookConfig{
		{ID: "wh1", TenantID: "t1", Enabled: true, Events: []string{event.TypeScoreSubmitted}},
	}}
	b := NewWebhookBridge(webhooks, deliverer)
	defer b.Close()

	if err := b.Handle(context.Background(), scoreEvent()); err != nil {
		t.Fatalf("delivery failure must not propagate: %v", err)
	}
	b.Wait()
}

func TestRegisterDefaultHandlersScenario(t *testing.T) {
	// Publish-and-dispatch of score.submitted must reach all four handlers
	// and the webhook bridge.
	log := &fakeEventLog{}
	notifications := &fakeNotifications{}
	users := newFakeUsers()
	deleter := &fakeDeleter{}
	deliverer := &fakeDeliverer{}
	webhooks := &fakeWebhooks{configs: []store.WebhookConfig{
		{ID: "wh1", TenantID: "t1", Enabled: true, Events: []string{event.TypeScoreSubmitted}},
	}}

	b := bus.New(nopQueue{})
	bridge, err := RegisterDefaultHandlers(b, Deps{
		EventLog:      log,
		Notifications: notifications,
		Users:         users,
		Webhooks:      webhooks,
		Cache:         deleter,
		Engine:        deliverer,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer bridge.Close()

	if err := b.Dispatch(context.Background(), scoreEvent()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	bridge.Wait()

	if len(log.records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(log.records))
	}
	if len(deleter.keys) != 5 {
		t.Fatalf("expected 5 cache keys deleted, got %v", deleter.keys)
	}
	if len(deliverer.delivered) != 1 {
		t.Fatalf("expected 1 webhook delivery, got %v", deliverer.delivered)
	}
}

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, string, []byte, queue.EnqueueOptions) error { return nil }
