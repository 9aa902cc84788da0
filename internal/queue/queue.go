package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Priorities recognized by the queue. Enqueue clamps anything else to the
// nearest known value so consumer subject filters stay closed.
var priorities = []int{10, 5, 1}

// EnqueueOptions control how a job is placed on the queue.
type EnqueueOptions struct {
	// Priority influences dequeue order under contention: higher priority
	// dequeues first when multiple jobs are ready. One of 10, 5, 1.
	Priority int
	// MsgID enables broker-side deduplication of producer retries.
	MsgID string
}

// Handler processes one dequeued job. A non-nil error triggers queue-level
// redelivery until the worker's attempt budget is exhausted.
type Handler func(ctx context.Context, jobType string, payload []byte) error

// Enqueuer is the producer half of the queue contract.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload []byte, opts EnqueueOptions) error
}

// Queue publishes jobs onto the durable job stream.
type Queue struct {
	js jetstream.JetStream
}

// New creates a Queue on an existing JetStream context.
func New(js jetstream.JetStream) *Queue {
	return &Queue{js: js}
}

// Enqueue durably stores a job. It returns once the broker has acknowledged
// the write; a failure here is the caller's to handle.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload []byte, opts EnqueueOptions) error {
	subject := Subject(jobType, opts.Priority)

	var pubOpts []jetstream.PublishOpt
	if opts.MsgID != "" {
		pubOpts = append(pubOpts, jetstream.WithMsgID(opts.MsgID))
	}

	ack, err := q.js.Publish(ctx, subject, payload, pubOpts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}

	slog.Debug("job enqueued",
		"job_type", jobType,
		"subject", subject,
		"stream", ack.Stream,
		"seq", ack.Sequence,
	)
	return nil
}

// Subject maps a job type and priority to its stream subject,
// e.g. ("score.submitted", 10) -> "jobs.10.score.submitted".
func Subject(jobType string, priority int) string {
	return "jobs." + strconv.Itoa(clampPriority(priority)) + "." + jobType
}

func clampPriority(p int) int {
	for _, known := range priorities {
		if p >= known {
			return known
		}
	}
	return priorities[len(priorities)-1]
}

// jobTypeFromSubject strips the "jobs.<priority>." prefix from a subject.
func jobTypeFromSubject(subject string) string {
	parts := strings.SplitN(subject, ".", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return subject
}
