// Package bus decouples producers of domain events from their consumers.
// Publishing is durable (the event is enqueued on the job queue before
// Publish returns); dispatch fans out to every subscribed handler once a
// worker dequeues the event.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/contestkit/eventcore/internal/event"
	"github.com/contestkit/eventcore/internal/queue"
)

// Handler consumes one dispatched event. Handlers run concurrently with each
// other and must be idempotent or tolerate at-least-once redelivery.
type Handler func(ctx context.Context, e *event.AppEvent) error

type subscription struct {
	id   uint64
	name string
	fn   Handler
}

// Bus is the process-wide event bus. Construct one per process and pass it
// explicitly; tests may hold isolated instances.
type Bus struct {
	enqueuer queue.Enqueuer

	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
}

// New creates a Bus publishing onto the given queue.
func New(enqueuer queue.Enqueuer) *Bus {
	return &Bus{
		enqueuer: enqueuer,
		subs:     make(map[string][]subscription),
	}
}

// Publish builds an AppEvent and durably enqueues it. It returns once the
// queue has acknowledged the write; dispatch happens asynchronously. An
// enqueue failure propagates to the caller.
//
// Unknown event types are accepted but will not route to any handler. Types
// with a registered payload schema are validated synchronously.
func (b *Bus) Publish(ctx context.Context, eventType string, payload map[string]any, meta event.Metadata) (*event.AppEvent, error) {
	if err := event.ValidatePayload(eventType, payload); err != nil {
		return nil, err
	}

	e := event.New(eventType, payload, meta)

	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", eventType, err)
	}

	err = b.enqueuer.Enqueue(ctx, eventType, data, queue.EnqueueOptions{
		Priority: event.Priority(eventType),
		MsgID:    e.Metadata.CorrelationID,
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("event published",
		"event_type", eventType,
		"priority", event.Priority(eventType),
		"correlation_id", e.Metadata.CorrelationID,
	)
	return e, nil
}

// Subscribe registers a named handler for an event type. The returned
// function removes exactly this registration.
func (b *Bus) Subscribe(eventType, name string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, name: name, fn: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[eventType]
		for i, s := range list {
			if s.id == id {
				b.subs[eventType] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// HandleJob is the queue worker callback: it decodes the job back into an
// AppEvent and dispatches it.
func (b *Bus) HandleJob(ctx context.Context, jobType string, payload []byte) error {
	var e event.AppEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return fmt.Errorf("%w: decode event %s: %v", queue.ErrMalformedJob, jobType, err)
	}
	return b.Dispatch(ctx, &e)
}

// Dispatch invokes every handler subscribed to the event's type concurrently
// and waits for all of them to settle.
//
// Policy: a handler failure is logged and isolated; it neither prevents
// sibling handlers from running nor fails the underlying job. Queue-level
// redelivery covers process death, not handler errors.
func (b *Bus) Dispatch(ctx context.Context, e *event.AppEvent) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[e.Type]))
	copy(subs, b.subs[e.Type])
	b.mu.RUnlock()

	if len(subs) == 0 {
		slog.Debug("no handlers for event", "event_type", e.Type, "correlation_id", e.Metadata.CorrelationID)
		return nil
	}

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			b.invoke(ctx, s, e)
		}(s)
	}
	wg.Wait()
	return nil
}

func (b *Bus) invoke(ctx context.Context, s subscription, e *event.AppEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panicked",
				"handler", s.name,
				"event_type", e.Type,
				"correlation_id", e.Metadata.CorrelationID,
				"panic", r,
			)
		}
	}()

	if err := s.fn(ctx, e); err != nil {
		slog.Error("handler failed",
			"handler", s.name,
			"event_type", e.Type,
			"correlation_id", e.Metadata.CorrelationID,
			"error", err,
		)
	}
}
