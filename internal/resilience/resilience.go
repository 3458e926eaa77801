// Package resilience provides circuit breaker and retry wrappers for calls
// to external systems such as the payment gateway and the message broker.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

const meterName = "github.com/transitpay/transitpay/internal/resilience"

var (
	instrumentsOnce sync.Once
	callDuration    metric.Float64Histogram
	callTotal       metric.Int64Counter
)

// callInstruments lazily creates the shared instruments. The otel global
// meter provider delegates, so instruments created before telemetry init
// are wired up once the real provider is installed.
func callInstruments() (metric.Float64Histogram, metric.Int64Counter) {
	instrumentsOnce.Do(func() {
		meter := otel.Meter(meterName)
		callDuration, _ = meter.Float64Histogram(
			"dependency.call.duration",
			metric.WithDescription("Duration of calls to external dependencies in seconds"),
			metric.WithUnit("s"),
		)
		callTotal, _ = meter.Int64Counter(
			"dependency.call.total",
			metric.WithDescription("Total number of calls to external dependencies"),
			metric.WithUnit("{call}"),
		)
	})
	return callDuration, callTotal
}

func recordCall(ctx context.Context, name string, start time.Time, err error) {
	duration, total := callInstruments()
	attrs := []attribute.KeyValue{attribute.String("dependency.name", name)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}
	duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
	total.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	// Name identifies the circuit breaker for logging/metrics.
	Name string

	// MaxRequests is the maximum number of requests allowed in half-open state.
	// Default: 1
	MaxRequests uint32

	// Interval is the cyclic period for clearing internal counts when closed.
	// Default: 0 (disabled)
	Interval time.Duration

	// Timeout is the period of open state before switching to half-open.
	// Default: 60 seconds
	Timeout time.Duration

	// ReadyToTrip determines when to trip the circuit breaker.
	// If nil, uses DefaultReadyToTrip (50% failure rate with 5+ requests).
	ReadyToTrip func(counts gobreaker.Counts) bool

	// OnStateChange is called when the circuit breaker state changes.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultBreakerConfig returns a sensible default configuration.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     60 * time.Second,
		ReadyToTrip: DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip trips the circuit breaker when at least 5 requests have
// been made and the failure rate is 50% or higher.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return counts.Requests >= 5 && failureRatio >= 0.5
}

// NewBreaker creates a new circuit breaker with the given configuration.
func NewBreaker[T any](cfg BreakerConfig) *gobreaker.CircuitBreaker[T] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: cfg.ReadyToTrip,
	}

	if cfg.OnStateChange != nil {
		settings.OnStateChange = cfg.OnStateChange
	}

	return gobreaker.NewCircuitBreaker[T](settings)
}

// RetryConfig holds configuration for retrying transient failures.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 5 seconds
	MaxInterval time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Do executes op through the circuit breaker with exponential-backoff retries.
// Returns immediately with ErrCircuitOpen once the breaker rejects the call.
// Wrap an error in backoff.Permanent inside op to stop retrying early.
func Do[T any](ctx context.Context, cb *gobreaker.CircuitBreaker[T], cfg RetryConfig, op func() (T, error)) (T, error) {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = 0 // Unlimited, we control retries via WithMaxRetries

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, cfg.MaxRetries), ctx)

	var result T
	operation := func() error {
		v, err := cb.Execute(op)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			return err
		}
		result = v
		return nil
	}

	start := time.Now()
	err := backoff.Retry(operation, policy)
	recordCall(ctx, cb.Name(), start, err)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
