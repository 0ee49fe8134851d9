// Package retry implements the backoff policy for provider calls.
// Delay computation is separated from waiting so the policy is testable
// without sleeping.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/projectlink/backend/internal/domain/integration"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts is the total number of tries, first call included
	MaxAttempts int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay caps the computed delay
	MaxDelay time.Duration
	// JitterFraction spreads the delay by ±fraction to avoid retry herds
	JitterFraction float64
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxAttempts:    5,
	BaseDelay:      1 * time.Second,
	MaxDelay:       60 * time.Second,
	JitterFraction: 0.2,
}

// Validate normalizes out-of-range values to their defaults
func (c *Config) Validate() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultConfig.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = DefaultConfig.MaxDelay
	}
	if c.JitterFraction < 0 || c.JitterFraction >= 1 {
		c.JitterFraction = DefaultConfig.JitterFraction
	}
}

// ComputeDelay returns the wait before the retry following the given
// zero-based attempt. The delay grows as base × 2^attempt with jitter,
// capped at MaxDelay. A rate-limited failure carrying a provider
// retry-after hint overrides the computed delay entirely.
func ComputeDelay(cfg Config, attempt int, class integration.ErrorClass, retryAfter time.Duration) time.Duration {
	if class == integration.ErrorClassRateLimited && retryAfter > 0 {
		if retryAfter > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return retryAfter
	}

	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if cfg.JitterFraction > 0 {
		spread := delay * cfg.JitterFraction
		delay = delay - spread + rand.Float64()*2*spread
	}
	// Cap after jitter so MaxDelay is a hard ceiling
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// Do executes op with the configured retry policy. Permanent failures are
// returned immediately and never retried. Transient and rate-limited
// failures are absorbed until the attempt budget is spent, then an
// ExhaustedRetryError wrapping the last failure is returned. Waits respect
// ctx cancellation.
func Do(ctx context.Context, log *zap.Logger, cfg Config, op func(ctx context.Context) error) error {
	cfg.Validate()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		class := integration.Classify(err)
		if class == integration.ErrorClassPermanent {
			return err
		}

		lastErr = err
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := ComputeDelay(cfg, attempt, class, integration.RetryAfterHint(err))
		if log != nil {
			log.Warn("retrying after failure",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", cfg.MaxAttempts),
				zap.String("error_class", class.String()),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &integration.ExhaustedRetryError{Attempts: cfg.MaxAttempts, Last: lastErr}
}
