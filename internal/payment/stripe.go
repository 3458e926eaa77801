package payment

import (
	"context"
	"math"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"

	"github.com/transitpay/transitpay/internal/resilience"
)

// breakerName identifies the gateway in the resilience registry.
const breakerName = "stripe"

// StripeConfig holds configuration for the Stripe provider.
type StripeConfig struct {
	// APIKey is the Stripe secret key.
	APIKey string

	// Registry, if set, receives the provider's breaker health.
	Registry *resilience.Registry

	// Retry overrides the default retry policy for gateway calls.
	Retry *resilience.RetryConfig

	Logger zerolog.Logger
}

// StripeProvider implements Provider on top of Stripe PaymentIntents.
// All gateway calls go through a shared circuit breaker with retries on
// transient failures.
type StripeProvider struct {
	breaker  *gobreaker.CircuitBreaker[*stripe.PaymentIntent]
	retry    resilience.RetryConfig
	registry *resilience.Registry
	logger   zerolog.Logger
}

// NewStripeProvider creates a Stripe-backed payment provider.
func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	stripe.Key = cfg.APIKey

	retry := resilience.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	cb := resilience.NewBreaker[*stripe.PaymentIntent](resilience.DefaultBreakerConfig(breakerName))
	if cfg.Registry != nil {
		cfg.Registry.Register(breakerName, cb)
	}

	return &StripeProvider{
		breaker:  cb,
		retry:    retry,
		registry: cfg.Registry,
		logger:   cfg.Logger.With().Str("component", "stripe").Logger(),
	}
}

var _ Provider = (*StripeProvider)(nil)

// CreateIntent implements Provider.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinorUnits(req.Amount)),
		Currency: stripe.String(req.Currency),
	}
	params.Context = ctx
	params.AddMetadata("wallet_id", req.WalletID)
	params.AddMetadata("transaction_id", req.TransactionID)

	pi, err := p.call(ctx, func() (*stripe.PaymentIntent, error) {
		return paymentintent.New(params)
	})
	if err != nil {
		p.logger.Error().Err(err).Str("wallet_id", req.WalletID).Msg("failed to create payment intent")
		return nil, err
	}
	return fromStripeIntent(pi), nil
}

// GetIntent implements Provider.
func (p *StripeProvider) GetIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.call(ctx, func() (*stripe.PaymentIntent, error) {
		return paymentintent.Get(id, params)
	})
	if err != nil {
		return nil, err
	}
	return fromStripeIntent(pi), nil
}

// CancelIntent implements Provider.
func (p *StripeProvider) CancelIntent(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	_, err := p.call(ctx, func() (*stripe.PaymentIntent, error) {
		return paymentintent.Cancel(id, params)
	})
	return err
}

// call routes a gateway operation through the breaker and retry policy,
// recording the outcome for readiness reporting. Client errors (4xx) are
// not retried.
func (p *StripeProvider) call(ctx context.Context, op func() (*stripe.PaymentIntent, error)) (*stripe.PaymentIntent, error) {
	pi, err := resilience.Do(ctx, p.breaker, p.retry, func() (*stripe.PaymentIntent, error) {
		pi, err := op()
		if err != nil && !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return pi, err
	})

	if p.registry != nil {
		if err != nil {
			p.registry.RecordFailure(breakerName, err)
		} else {
			p.registry.RecordSuccess(breakerName)
		}
	}
	return pi, err
}

func isRetryable(err error) bool {
	if stripeErr, ok := err.(*stripe.Error); ok {
		return stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429
	}
	// Network-level failures are retryable.
	return true
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func fromMinorUnits(amount int64) float64 {
	return float64(amount) / 100
}

func fromStripeIntent(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       fromMinorUnits(pi.Amount),
		Currency:     string(pi.Currency),
		Status:       fromStripeStatus(pi.Status),
	}
}

func fromStripeStatus(s stripe.PaymentIntentStatus) IntentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentStatusCanceled
	default:
		return IntentStatusPending
	}
}
