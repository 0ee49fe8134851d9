package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers which event ids a consumer has already
// handled. It is what turns the bus's at-least-once delivery into
// effectively-once processing.
type IdempotencyStore interface {
	// MarkProcessed records an event id with a TTL. The boolean is true
	// when the id was newly recorded, false when it was a duplicate.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether an event id has been seen.
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	Close() error
}

// IdempotencyConfig controls duplicate detection for wrapped handlers.
type IdempotencyConfig struct {
	// TTL bounds how long an event id is remembered. A redelivery after
	// the TTL is processed again, which handlers must tolerate anyway.
	TTL time.Duration

	// Enabled turns duplicate detection off entirely when false.
	Enabled bool
}

// DefaultIdempotencyConfig remembers event ids for a day.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
