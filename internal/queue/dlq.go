package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// DLQMessage records a job that exhausted its delivery budget or could never
// be decoded.
type DLQMessage struct {
	JobType   string          `json:"job_type"`
	Subject   string          `json:"subject"`
	Data      json.RawMessage `json:"data"`
	FailedAt  time.Time       `json:"failed_at"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// DLQPublisher publishes dead jobs to the DLQ stream.
type DLQPublisher struct {
	js jetstream.JetStream
}

// NewDLQPublisher creates a new DLQPublisher.
func NewDLQPublisher(js jetstream.JetStream) *DLQPublisher {
	return &DLQPublisher{js: js}
}

// Publish sends a dead job to the DLQ.
func (p *DLQPublisher) Publish(ctx context.Context, msg *DLQMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal DLQ message: %w", err)
	}

	subject := "dlq." + msg.JobType
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to DLQ: %w", err)
	}
	return nil
}

// DLQEntry is one dead job with its stream position.
type DLQEntry struct {
	Seq     uint64      `json:"seq"`
	Message *DLQMessage `json:"message"`
}

// DLQReader reads dead jobs back out of the DLQ stream, newest last.
type DLQReader struct {
	stream jetstream.Stream
}

// NewDLQReader creates a DLQReader.
func NewDLQReader(ctx context.Context, js jetstream.JetStream) (*DLQReader, error) {
	stream, err := js.Stream(ctx, DLQStreamName)
	if err != nil {
		return nil, fmt.Errorf("get DLQ stream: %w", err)
	}
	return &DLQReader{stream: stream}, nil
}

// List returns up to limit dead jobs, optionally filtered by job type.
func (r *DLQReader) List(ctx context.Context, jobType string, limit int) ([]DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	filter := "dlq.>"
	if jobType != "" {
		filter = "dlq." + jobType
	}

	cons, err := r.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: filter,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create DLQ consumer: %w", err)
	}

	entries := make([]DLQEntry, 0, limit)
	batch, err := cons.FetchNoWait(limit)
	if err != nil {
		return nil, fmt.Errorf("fetch DLQ messages: %w", err)
	}
	for msg := range batch.Messages() {
		var m DLQMessage
		if err := json.Unmarshal(msg.Data(), &m); err != nil {
			continue
		}
		entry := DLQEntry{Message: &m}
		if meta, err := msg.Metadata(); err == nil {
			entry.Seq = meta.Sequence.Stream
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
