package integration

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_Retryable(t *testing.T) {
	assert.True(t, ErrorClassTransient.Retryable())
	assert.True(t, ErrorClassRateLimited.Retryable())
	assert.False(t, ErrorClassPermanent.Retryable())
}

func TestProviderError_Classify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"transient", NewTransientError(ProviderCodeJira, 503, "service unavailable", nil), ErrorClassTransient},
		{"rate limited", NewRateLimitedError(ProviderCodeJira, 30*time.Second, "too many requests"), ErrorClassRateLimited},
		{"permanent", NewPermanentError(ProviderCodeEntra, 401, "unauthorized", nil), ErrorClassPermanent},
		{"wrapped provider error", fmt.Errorf("fetch page: %w", NewPermanentError(ProviderCodeJira, 404, "not found", nil)), ErrorClassPermanent},
		{"plain error defaults to transient", errors.New("connection reset"), ErrorClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestProviderError_Predicates(t *testing.T) {
	transient := NewTransientError(ProviderCodeJira, 500, "boom", nil)
	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))
	assert.False(t, IsRateLimited(transient))

	limited := NewRateLimitedError(ProviderCodeJira, 10*time.Second, "slow down")
	assert.True(t, IsRateLimited(limited))
	assert.Equal(t, 429, limited.StatusCode)
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewTransientError(ProviderCodeEntra, 0, "request failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "entra")
	assert.Contains(t, err.Error(), "transient")
}

func TestRetryAfterHint(t *testing.T) {
	t.Run("returns the provider hint", func(t *testing.T) {
		err := fmt.Errorf("fetch: %w", NewRateLimitedError(ProviderCodeJira, 42*time.Second, "throttled"))
		assert.Equal(t, 42*time.Second, RetryAfterHint(err))
	})

	t.Run("zero without a hint", func(t *testing.T) {
		assert.Zero(t, RetryAfterHint(errors.New("boom")))
		assert.Zero(t, RetryAfterHint(NewTransientError(ProviderCodeJira, 500, "boom", nil)))
	})
}

func TestExhaustedRetryError(t *testing.T) {
	last := NewTransientError(ProviderCodeJira, 503, "still down", nil)
	err := &ExhaustedRetryError{Attempts: 5, Last: last}

	assert.True(t, IsExhausted(err))
	assert.True(t, IsExhausted(fmt.Errorf("run failed: %w", err)))
	assert.False(t, IsExhausted(last))

	// The last provider error stays reachable through the chain
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 503, pe.StatusCode)
	assert.Contains(t, err.Error(), "5 attempts")
}
