package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/transitpay/transitpay/internal/resilience"
)

const pubsubBreakerName = "pubsub"

// PubSubConfig holds configuration for the Pub/Sub notifier.
type PubSubConfig struct {
	ProjectID string
	TopicName string

	// Registry, if set, receives the notifier's breaker health.
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// PubSubNotifier publishes receipts to a Pub/Sub topic for the receipt
// worker to deliver. Publishes are retried with backoff behind a circuit
// breaker.
type PubSubNotifier struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	breaker   *gobreaker.CircuitBreaker[string]
	retry     resilience.RetryConfig
	registry  *resilience.Registry
	logger    zerolog.Logger
}

var _ Notifier = (*PubSubNotifier)(nil)

// NewPubSubNotifier creates a notifier publishing to cfg.TopicName.
func NewPubSubNotifier(ctx context.Context, cfg PubSubConfig) (*PubSubNotifier, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	cb := resilience.NewBreaker[string](resilience.DefaultBreakerConfig(pubsubBreakerName))
	if cfg.Registry != nil {
		cfg.Registry.Register(pubsubBreakerName, cb)
	}

	return &PubSubNotifier{
		client:    client,
		publisher: client.Publisher(cfg.TopicName),
		breaker:   cb,
		retry:     resilience.DefaultRetryConfig(),
		registry:  cfg.Registry,
		logger:    cfg.Logger.With().Str("component", "pubsub_notifier").Logger(),
	}, nil
}

// SendReceipt implements Notifier.
func (n *PubSubNotifier) SendReceipt(ctx context.Context, r Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}

	id, err := resilience.Do(ctx, n.breaker, n.retry, func() (string, error) {
		result := n.publisher.Publish(ctx, &pubsub.Message{Data: data})
		return result.Get(ctx)
	})

	if n.registry != nil {
		if err != nil {
			n.registry.RecordFailure(pubsubBreakerName, err)
		} else {
			n.registry.RecordSuccess(pubsubBreakerName)
		}
	}
	if err != nil {
		return fmt.Errorf("publishing receipt: %w", err)
	}

	n.logger.Debug().
		Str("message_id", id).
		Str("transaction_id", r.TransactionID).
		Msg("receipt queued")
	return nil
}

// Close stops the publisher and closes the client.
func (n *PubSubNotifier) Close() error {
	n.publisher.Stop()
	return n.client.Close()
}
