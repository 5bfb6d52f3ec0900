package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryDelay      = 100 * time.Millisecond
	defaultRetryMaxDelay   = 30 * time.Second
	defaultRetryMultiplier = 2.0
	jitterFraction         = 0.1
)

// RetryConfig controls how a failed outbound call is repeated
type RetryConfig struct {
	// MaxAttempts counts the first call; 1 disables retries
	MaxAttempts int
	// InitialDelay is the wait before the second attempt
	InitialDelay time.Duration
	// MaxDelay caps the wait before jitter is added
	MaxDelay time.Duration
	// BackoffMultiplier grows the wait after every attempt
	BackoffMultiplier float64
	// Jitter adds up to 10% of the wait
	Jitter bool
	// RetryableErrors decides whether an error is worth another attempt
	RetryableErrors func(error) bool
	// OnRetry is called before every wait
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       defaultRetryAttempts,
		InitialDelay:      defaultRetryDelay,
		MaxDelay:          defaultRetryMaxDelay,
		BackoffMultiplier: defaultRetryMultiplier,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors retries everything except circuit rejections and
// errors whose type says the same call cannot succeed
func DefaultRetryableErrors(err error) bool {
	if err == nil || IsCircuitOpenError(err) {
		return false
	}
	if appErr, ok := errors.As(err); ok {
		return appErr.Retryable()
	}
	return true
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaultRetryDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultRetryMaxDelay
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = defaultRetryMultiplier
	}
	if c.RetryableErrors == nil {
		c.RetryableErrors = DefaultRetryableErrors
	}
	return c
}

// Retrier repeats an operation with exponential backoff
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	return &Retrier{
		config: config.withDefaults(),
		logger: logging.GetLogger(),
	}
}

// Execute runs operation until it succeeds, returns a non-retryable error or
// runs out of attempts. Context cancellation ends the loop with ctx.Err().
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation(ctx)
		switch {
		case lastErr == nil:
			if attempt > 1 {
				r.logger.Debug("Call succeeded after retry", "attempt", attempt)
			}
			return nil
		case !r.config.RetryableErrors(lastErr):
			return lastErr
		case attempt >= r.config.MaxAttempts:
			r.logger.Warn("Call failed after all attempts",
				"attempts", attempt,
				"error", lastErr.Error(),
			)
			return fmt.Errorf("operation failed after %d attempts: %w", attempt, lastErr)
		}

		delay := r.backoff(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff is the wait after the given failed attempt
func (r *Retrier) backoff(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	delay = math.Min(delay, float64(r.config.MaxDelay))
	if r.config.Jitter {
		delay += rand.Float64() * jitterFraction * delay
	}
	return time.Duration(delay)
}

// GuardedCall runs operation through the named registry breaker, retrying
// failed attempts with retryConfig. Circuit-open rejections end the loop.
func GuardedCall(ctx context.Context, registry *CircuitBreakerRegistry, name string, retryConfig RetryConfig, operation func(context.Context) error) error {
	breaker := registry.Get(name)

	return NewRetrier(retryConfig).Execute(ctx, func(ctx context.Context) error {
		_, err := breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return nil, operation(ctx)
		})
		return err
	})
}
