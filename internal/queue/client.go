// Package queue provides the durable job queue backing the event bus:
// at-least-once delivery, static priorities, bounded redelivery, and a dead
// letter stream, implemented on NATS JetStream.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	JobStreamName = "EVENTCORE_JOBS"
	DLQStreamName = "EVENTCORE_DLQ"
)

// Client wraps the NATS connection and JetStream handles.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// Connect establishes a connection to NATS and initializes JetStream.
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Client{conn: nc, js: js}, nil
}

// EnsureStreams creates or updates the job and DLQ streams.
func (c *Client) EnsureStreams(ctx context.Context) error {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        JobStreamName,
		Description: "eventcore durable job queue",
		Subjects:    []string{"jobs.>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		MaxBytes:    1 << 30, // 1GB
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("create job stream: %w", err)
	}
	c.stream = stream
	slog.Info("JetStream stream ready", "name", JobStreamName)

	_, err = c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        DLQStreamName,
		Description: "eventcore dead letter queue",
		Subjects:    []string{"dlq.>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("create DLQ stream: %w", err)
	}
	slog.Info("JetStream stream ready", "name", DLQStreamName)

	return nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Stream returns the job stream.
func (c *Client) Stream() jetstream.Stream {
	return c.stream
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Close drains the NATS connection.
func (c *Client) Close() {
	c.conn.Drain()
}
