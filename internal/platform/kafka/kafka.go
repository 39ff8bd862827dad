// Package kafka wraps the franz-go client behind the small broker surface
// the services need: publish, group consume, stream provisioning. One client
// per process; publishes from concurrent sagas are multiplexed over it.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher is the write half of the broker. The saga coordinator and the
// audit consumer both depend on this, never on the concrete client, so tests
// can substitute a capture or a mock.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// reconnectBackoff bounds the broker client's retry backoff; the client
// reconnects indefinitely.
const reconnectBackoff = time.Second

// Client is the process-wide broker connection.
type Client struct {
	kcl    *kgo.Client
	logger *slog.Logger
}

// NewClient connects to the broker. brokerURL is a comma list of seed
// addresses.
func NewClient(brokerURL string, logger *slog.Logger) (*Client, error) {
	kcl, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokerURL, ",")...),
		kgo.RetryBackoffFn(func(int) time.Duration { return reconnectBackoff }),
		kgo.ProduceRequestTimeout(5*time.Second),
		kgo.RecordDeliveryTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	return &Client{kcl: kcl, logger: logger}, nil
}

// Publish writes one record and waits for broker acknowledgement. A failure
// here is an operation failure for the caller; the saga treats it as abort.
func (c *Client) Publish(ctx context.Context, topic string, key, value []byte) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := c.kcl.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Ping verifies broker connectivity for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.kcl.Ping(ctx)
}

// Close flushes buffered records and tears down the connection. Called during
// shutdown after intake has stopped so in-flight acks can still deliver.
func (c *Client) Close() {
	c.kcl.Close()
}

// EnsureStream provisions the given subjects as durable topics with the
// requested retention. Safe to call from every service at startup; an
// already-existing topic is not an error.
func (c *Client) EnsureStream(ctx context.Context, subjects []string, retention time.Duration) error {
	adm := kadm.NewClient(c.kcl)
	retentionMs := strconv.FormatInt(retention.Milliseconds(), 10)
	configs := map[string]*string{"retention.ms": &retentionMs}

	resps, err := adm.CreateTopics(ctx, 1, 1, configs, subjects...)
	if err != nil {
		return fmt.Errorf("create stream topics: %w", err)
	}
	for _, resp := range resps.Sorted() {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}
