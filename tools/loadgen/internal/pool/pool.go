package pool

import (
	"context"
	"time"
)

// EvictionPolicy selects which stored value gets dropped when a semantic
// type reaches its capacity.
type EvictionPolicy int

const (
	// EvictionFIFO drops the oldest value first.
	EvictionFIFO EvictionPolicy = iota

	// EvictionLRU drops the value that was retrieved longest ago.
	EvictionLRU

	// EvictionRandom drops an arbitrary value.
	EvictionRandom
)

func (e EvictionPolicy) String() string {
	switch e {
	case EvictionFIFO:
		return "FIFO"
	case EvictionLRU:
		return "LRU"
	case EvictionRandom:
		return "Random"
	default:
		return "Unknown"
	}
}

// ParseEvictionPolicy maps a config string to an EvictionPolicy.
// Unrecognized input falls back to FIFO.
func ParseEvictionPolicy(s string) EvictionPolicy {
	switch s {
	case "LRU", "lru":
		return EvictionLRU
	case "Random", "random", "RANDOM":
		return EvictionRandom
	default:
		return EvictionFIFO
	}
}

// Stats is a snapshot of pool activity counters.
type Stats struct {
	// TotalValues is the number of values currently held
	TotalValues int64

	// ValuesByType breaks TotalValues down per semantic type
	ValuesByType map[SemanticType]int64

	// HitCount counts Get calls that returned a value
	HitCount int64

	// MissCount counts Get calls that found nothing
	MissCount int64

	// EvictionCount counts values dropped to make room
	EvictionCount int64

	// ExpiredCount counts values removed because their TTL lapsed
	ExpiredCount int64

	// AddCount counts every value ever added
	AddCount int64

	// Uptime is the time since the pool was created
	Uptime time.Duration
}

// HitRate returns the percentage of Get calls that found a value.
func (s Stats) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total) * 100
}

// ParameterPool stores values harvested from sync API responses so later
// requests in a scenario can reuse them, keyed by semantic type.
type ParameterPool interface {
	// Add stores a value under its semantic type and reports how many
	// values were evicted to make room.
	Add(ctx context.Context, value *ParameterValue) (evicted int, err error)

	// Get returns a value for the semantic type, or nil when none is held.
	Get(ctx context.Context, semanticType SemanticType) (*ParameterValue, error)

	// GetRandom returns a uniformly chosen value for the semantic type,
	// or nil when none is held.
	GetRandom(ctx context.Context, semanticType SemanticType) (*ParameterValue, error)

	// GetAll returns every value held for the semantic type.
	GetAll(ctx context.Context, semanticType SemanticType) ([]*ParameterValue, error)

	// Count reports how many values are held for the semantic type.
	Count(ctx context.Context, semanticType SemanticType) (int, error)

	// Remove drops a specific value, reporting whether it was present.
	Remove(ctx context.Context, value *ParameterValue) (bool, error)

	// Clear drops all values for one semantic type and returns how many
	// were removed.
	Clear(ctx context.Context, semanticType SemanticType) (int, error)

	// ClearAll empties the pool.
	ClearAll(ctx context.Context) error

	// Cleanup drops expired values and returns how many were removed.
	Cleanup(ctx context.Context) (int, error)

	// Stats returns a snapshot of the pool's counters.
	Stats(ctx context.Context) (Stats, error)

	// Types lists the semantic types that currently hold values.
	Types(ctx context.Context) ([]SemanticType, error)

	// Close stops background work and releases resources.
	Close() error
}

// PoolConfig tunes capacity, expiration and eviction behavior.
type PoolConfig struct {
	// DefaultTTL is applied to values added without an explicit TTL
	// (0 disables expiration)
	DefaultTTL time.Duration

	// MaxValuesPerType caps the values held per semantic type
	// (0 means unlimited)
	MaxValuesPerType int

	// EvictionPolicy selects the victim when a type is at capacity
	EvictionPolicy EvictionPolicy

	// CleanupInterval is the period of the background expiry sweep
	// (0 disables the sweep)
	CleanupInterval time.Duration

	// ShardCount is the shard count for ShardedParameterPool; it must be
	// a power of two
	ShardCount int
}

// DefaultPoolConfig returns the configuration the load generator runs
// with unless overridden by flags.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		DefaultTTL:       5 * time.Minute,
		MaxValuesPerType: 1000,
		EvictionPolicy:   EvictionFIFO,
		CleanupInterval:  1 * time.Minute,
		ShardCount:       16,
	}
}
