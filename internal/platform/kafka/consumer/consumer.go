// Package consumer runs a long-lived group subscription and dispatches each
// record to a handler. Offsets commit only after the handler returns nil, so
// delivery is at-least-once: a crash mid-handle redelivers the record.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is the unit handed to handlers.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Handler processes one message. Returning nil commits the offset; returning
// an error leaves it uncommitted for redelivery. Handlers that cannot ever
// succeed on a message (malformed payload) should log and return nil so the
// stream does not wedge.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

const retryBackoff = time.Second

// Consumer owns one group subscription over a fixed topic set.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
}

// New builds a group consumer. Group semantics pick the delivery mode: a
// stable shared group processes each message once across replicas (the audit
// consumer); a per-instance group broadcasts to every replica (the
// correlation registry).
func New(brokerURL, group string, topics []string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokerURL, ",")...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.DisableAutoCommit(),
		kgo.RetryBackoffFn(func(int) time.Duration { return retryBackoff }),
	)
	if err != nil {
		return nil, fmt.Errorf("connect consumer group %s: %w", group, err)
	}
	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run polls until ctx is cancelled or the client is closed. It must be
// running before any producer publishes messages this consumer is expected
// to answer.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var handled []*kgo.Record
		stop := false
		fetches.EachRecord(func(rec *kgo.Record) {
			if stop {
				return
			}
			msg := &Message{Topic: rec.Topic, Key: rec.Key, Value: rec.Value}
			if err := c.handler.Handle(ctx, msg); err != nil {
				c.logger.ErrorContext(ctx, "handler failed, message will be redelivered",
					"topic", rec.Topic,
					"error", err,
				)
				stop = true
				return
			}
			handled = append(handled, rec)
		})

		if len(handled) > 0 {
			if err := c.client.CommitRecords(ctx, handled...); err != nil {
				c.logger.ErrorContext(ctx, "commit offsets failed", "error", err)
			}
		}
		if stop {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
	}
}

// Close tears down the group membership. Run returns once closed.
func (c *Consumer) Close() {
	c.client.Close()
}
