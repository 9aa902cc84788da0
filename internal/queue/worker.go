package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// WorkerConfig tunes a queue worker.
type WorkerConfig struct {
	// Concurrency bounds how many jobs are processed in parallel.
	Concurrency int
	// Attempts is the queue-level delivery budget per job (MaxDeliver).
	Attempts int
	// PollInterval is how long the worker idles when no job is ready.
	PollInterval time.Duration
	// RedeliveryDelay backs off a job whose handler returned an error.
	RedeliveryDelay time.Duration
}

// DefaultWorkerConfig returns the defaults used by the daemon.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:     8,
		Attempts:        3,
		PollInterval:    250 * time.Millisecond,
		RedeliveryDelay: 30 * time.Second,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	d := DefaultWorkerConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RedeliveryDelay <= 0 {
		c.RedeliveryDelay = d.RedeliveryDelay
	}
	return c
}

// Worker consumes the job stream and dispatches jobs to a handler.
//
// One durable pull consumer exists per priority band; the fetch loop drains
// higher bands first, so under contention high-priority jobs dequeue before
// lower ones. Acks are explicit: a handled job is acked, a failed one is
// nak'd with a delay until its delivery budget runs out, then routed to the
// DLQ and acked.
type Worker struct {
	stream  jetstream.Stream
	dlq     *DLQPublisher
	cfg     WorkerConfig
	handler Handler

	consumers []jetstream.Consumer // ordered high priority first
	wg        sync.WaitGroup
}

// NewWorker creates a Worker. The handler runs for every dequeued job.
func NewWorker(stream jetstream.Stream, dlq *DLQPublisher, cfg WorkerConfig, handler Handler) *Worker {
	return &Worker{
		stream:  stream,
		dlq:     dlq,
		cfg:     cfg.withDefaults(),
		handler: handler,
	}
}

// Start provisions the consumers and runs the fetch loop until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	for _, p := range priorities {
		cons, err := w.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:       "jobs-p" + strconv.Itoa(p),
			FilterSubject: "jobs." + strconv.Itoa(p) + ".>",
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       time.Minute,
			MaxDeliver:    w.cfg.Attempts,
		})
		if err != nil {
			return fmt.Errorf("create consumer for priority %d: %w", p, err)
		}
		w.consumers = append(w.consumers, cons)
	}

	slog.Info("queue worker started",
		"concurrency", w.cfg.Concurrency,
		"attempts", w.cfg.Attempts,
	)

	sem := make(chan struct{}, w.cfg.Concurrency)
	for {
		if err := ctx.Err(); err != nil {
			break
		}

		msg, ok := w.fetchNext()
		if !ok {
			select {
			case <-time.After(w.cfg.PollInterval):
			case <-ctx.Done():
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			msg.Nak()
			continue
		}

		w.wg.Add(1)
		go func(m jetstream.Msg) {
			defer w.wg.Done()
			defer func() { <-sem }()
			w.process(ctx, m)
		}(msg)
	}

	w.wg.Wait()
	slog.Info("queue worker stopped")
	return nil
}

// fetchNext returns the next ready job, preferring higher priorities.
func (w *Worker) fetchNext() (jetstream.Msg, bool) {
	for _, cons := range w.consumers {
		batch, err := cons.FetchNoWait(1)
		if err != nil {
			slog.Warn("queue fetch failed", "error", err)
			continue
		}
		for msg := range batch.Messages() {
			return msg, true
		}
	}
	return nil, false
}

func (w *Worker) process(ctx context.Context, msg jetstream.Msg) {
	jobType := jobTypeFromSubject(msg.Subject())

	err := w.handler(ctx, jobType, msg.Data())
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Warn("job ack failed", "job_type", jobType, "error", ackErr)
		}
		return
	}

	delivered := 1
	if meta, metaErr := msg.Metadata(); metaErr == nil {
		delivered = int(meta.NumDelivered)
	}

	if errors.Is(err, ErrMalformedJob) || delivered >= w.cfg.Attempts {
		w.routeToDLQ(ctx, msg, jobType, delivered, err)
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Warn("job ack failed after DLQ", "job_type", jobType, "error", ackErr)
		}
		return
	}

	slog.Warn("job failed, scheduling redelivery",
		"job_type", jobType,
		"attempt", delivered,
		"error", err,
	)
	if nakErr := msg.NakWithDelay(w.cfg.RedeliveryDelay); nakErr != nil {
		slog.Warn("job nak failed", "job_type", jobType, "error", nakErr)
	}
}

func (w *Worker) routeToDLQ(ctx context.Context, msg jetstream.Msg, jobType string, attempts int, cause error) {
	if w.dlq == nil {
		slog.Error("job exhausted delivery budget, no DLQ configured", "job_type", jobType, "error", cause)
		return
	}

	dlqErr := w.dlq.Publish(ctx, &DLQMessage{
		JobType:   jobType,
		Subject:   msg.Subject(),
		Data:      msg.Data(),
		FailedAt:  time.Now().UTC(),
		Attempts:  attempts,
		LastError: cause.Error(),
	})
	if dlqErr != nil {
		slog.Error("DLQ publish failed", "job_type", jobType, "error", dlqErr)
		return
	}
	slog.Warn("job moved to DLQ", "job_type", jobType, "attempts", attempts, "error", cause)
}

// ErrMalformedJob signals a job that can never be processed; the worker routes
// it straight to the DLQ instead of burning redeliveries.
var ErrMalformedJob = errors.New("malformed job")
