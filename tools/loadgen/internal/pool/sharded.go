package pool

import (
	"context"
	"hash/fnv"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"
)

// shard owns the ring buffers for the semantic types that hash to it,
// plus its slice of the activity counters.
type shard struct {
	mu      sync.RWMutex
	buffers map[SemanticType]*RingBuffer

	hitCount    atomic.Int64
	missCount   atomic.Int64
	addCount    atomic.Int64
	expireCount atomic.Int64
}

// ShardedParameterPool spreads semantic types over independently locked
// shards so concurrent scenario workers rarely contend. Values within a
// type live in a fixed-capacity RingBuffer.
type ShardedParameterPool struct {
	shards    []*shard
	shardMask uint64 // len(shards)-1; valid because the count is a power of two

	config  PoolConfig
	startAt time.Time

	evictionCount atomic.Int64

	sweepTicker *time.Ticker
	sweepDone   chan struct{}
	closed      atomic.Bool
}

// NewShardedParameterPool builds the pool, rounding ShardCount up to the
// next power of two, and starts the expiry sweep when configured.
func NewShardedParameterPool(config PoolConfig) *ShardedParameterPool {
	count := config.ShardCount
	if count <= 0 {
		count = 16
	}
	count = nextPowerOfTwo(count)

	shards := make([]*shard, count)
	for i := range shards {
		shards[i] = &shard{buffers: make(map[SemanticType]*RingBuffer)}
	}

	p := &ShardedParameterPool{
		shards:    shards,
		shardMask: uint64(count - 1),
		config:    config,
		startAt:   time.Now(),
		sweepDone: make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		p.sweepTicker = time.NewTicker(config.CleanupInterval)
		go p.sweepLoop()
	}

	return p
}

// nextPowerOfTwo returns the smallest power of two >= n.
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func (p *ShardedParameterPool) shardFor(semanticType SemanticType) *shard {
	h := fnv.New64a()
	h.Write([]byte(semanticType))
	return p.shards[h.Sum64()&p.shardMask]
}

// lookupBuffer fetches the ring buffer for a type under the shard's read
// lock. The buffer itself is internally synchronized, so callers may use
// it after the lock is released.
func (p *ShardedParameterPool) lookupBuffer(semanticType SemanticType) (*shard, *RingBuffer) {
	s := p.shardFor(semanticType)
	s.mu.RLock()
	rb := s.buffers[semanticType]
	s.mu.RUnlock()
	return s, rb
}

// ensureBuffer returns the type's ring buffer, creating it on first use.
// Caller holds the shard write lock.
func (s *shard) ensureBuffer(semanticType SemanticType, capacity int, policy EvictionPolicy) *RingBuffer {
	rb, ok := s.buffers[semanticType]
	if !ok {
		if capacity <= 0 {
			capacity = 1000
		}
		rb = NewRingBuffer(capacity, policy)
		s.buffers[semanticType] = rb
	}
	return rb
}

// Add stores a value, reporting how many entries its ring buffer evicted.
func (p *ShardedParameterPool) Add(ctx context.Context, value *ParameterValue) (int, error) {
	if p.closed.Load() {
		return 0, ErrPoolClosed
	}

	s := p.shardFor(value.SemanticType)

	s.mu.Lock()
	rb := s.ensureBuffer(value.SemanticType, p.config.MaxValuesPerType, p.config.EvictionPolicy)
	evicted := rb.Add(value)
	s.addCount.Add(1)
	s.mu.Unlock()

	if evicted > 0 {
		p.evictionCount.Add(int64(evicted))
	}

	return evicted, nil
}

// Get returns a live value for the semantic type, nil when none.
func (p *ShardedParameterPool) Get(ctx context.Context, semanticType SemanticType) (*ParameterValue, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	s, rb := p.lookupBuffer(semanticType)
	if rb == nil {
		s.missCount.Add(1)
		return nil, nil
	}

	value := rb.Get()
	if value == nil || value.IsExpired() {
		s.missCount.Add(1)
		return nil, nil
	}

	s.hitCount.Add(1)
	return value, nil
}

// GetRandom returns a uniformly chosen live value, nil when none.
func (p *ShardedParameterPool) GetRandom(ctx context.Context, semanticType SemanticType) (*ParameterValue, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	s, rb := p.lookupBuffer(semanticType)
	if rb == nil {
		s.missCount.Add(1)
		return nil, nil
	}

	value := rb.GetRandom()
	if value == nil || value.IsExpired() {
		s.missCount.Add(1)
		return nil, nil
	}

	s.hitCount.Add(1)
	return value, nil
}

// GetAll returns every live value held for the semantic type.
func (p *ShardedParameterPool) GetAll(ctx context.Context, semanticType SemanticType) ([]*ParameterValue, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	_, rb := p.lookupBuffer(semanticType)
	if rb == nil {
		return nil, nil
	}

	held := rb.GetAll()
	result := make([]*ParameterValue, 0, len(held))
	for _, v := range held {
		if !v.IsExpired() {
			result = append(result, v)
		}
	}

	return result, nil
}

// Count reports how many values the type's buffer holds.
func (p *ShardedParameterPool) Count(ctx context.Context, semanticType SemanticType) (int, error) {
	if p.closed.Load() {
		return 0, ErrPoolClosed
	}

	_, rb := p.lookupBuffer(semanticType)
	if rb == nil {
		return 0, nil
	}

	return rb.Count(), nil
}

// Remove drops a specific value, reporting whether it was present.
func (p *ShardedParameterPool) Remove(ctx context.Context, value *ParameterValue) (bool, error) {
	if p.closed.Load() {
		return false, ErrPoolClosed
	}

	s := p.shardFor(value.SemanticType)

	s.mu.Lock()
	defer s.mu.Unlock()

	rb, ok := s.buffers[value.SemanticType]
	if !ok {
		return false, nil
	}
	return rb.Remove(value), nil
}

// Clear drops the type's buffer entirely and returns how many values it
// held.
func (p *ShardedParameterPool) Clear(ctx context.Context, semanticType SemanticType) (int, error) {
	if p.closed.Load() {
		return 0, ErrPoolClosed
	}

	s := p.shardFor(semanticType)

	s.mu.Lock()
	defer s.mu.Unlock()

	rb, ok := s.buffers[semanticType]
	if !ok {
		return 0, nil
	}
	cleared := rb.Clear()
	delete(s.buffers, semanticType)
	return cleared, nil
}

// ClearAll empties every shard.
func (p *ShardedParameterPool) ClearAll(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	for _, s := range p.shards {
		s.mu.Lock()
		for st, rb := range s.buffers {
			rb.Clear()
			delete(s.buffers, st)
		}
		s.mu.Unlock()
	}

	return nil
}

// Cleanup drops expired values across all shards.
func (p *ShardedParameterPool) Cleanup(ctx context.Context) (int, error) {
	if p.closed.Load() {
		return 0, ErrPoolClosed
	}

	total := 0
	for _, s := range p.shards {
		s.mu.Lock()
		for _, rb := range s.buffers {
			removed := rb.RemoveExpired()
			total += removed
			s.expireCount.Add(int64(removed))
		}
		s.mu.Unlock()
	}

	return total, nil
}

func (p *ShardedParameterPool) sweepLoop() {
	for {
		select {
		case <-p.sweepTicker.C:
			_, _ = p.Cleanup(context.Background())
		case <-p.sweepDone:
			return
		}
	}
}

// Stats aggregates counters across all shards.
func (p *ShardedParameterPool) Stats(ctx context.Context) (Stats, error) {
	if p.closed.Load() {
		return Stats{}, ErrPoolClosed
	}

	stats := Stats{
		ValuesByType:  make(map[SemanticType]int64),
		EvictionCount: p.evictionCount.Load(),
		Uptime:        time.Since(p.startAt),
	}

	for _, s := range p.shards {
		s.mu.RLock()
		stats.HitCount += s.hitCount.Load()
		stats.MissCount += s.missCount.Load()
		stats.AddCount += s.addCount.Load()
		stats.ExpiredCount += s.expireCount.Load()

		for st, rb := range s.buffers {
			n := int64(rb.Count())
			stats.TotalValues += n
			stats.ValuesByType[st] += n
		}
		s.mu.RUnlock()
	}

	return stats, nil
}

// Types lists semantic types with at least one value, deduplicated
// across shards.
func (p *ShardedParameterPool) Types(ctx context.Context) ([]SemanticType, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	types := make([]SemanticType, 0)
	seen := make(map[SemanticType]bool)

	for _, s := range p.shards {
		s.mu.RLock()
		for st, rb := range s.buffers {
			if rb.Count() > 0 && !seen[st] {
				types = append(types, st)
				seen[st] = true
			}
		}
		s.mu.RUnlock()
	}

	return types, nil
}

// Close stops the sweep goroutine. Later calls return ErrPoolClosed.
func (p *ShardedParameterPool) Close() error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}

	if p.sweepTicker != nil {
		p.sweepTicker.Stop()
		close(p.sweepDone)
	}

	return nil
}

// ShardCount reports the effective shard count after rounding.
func (p *ShardedParameterPool) ShardCount() int {
	return len(p.shards)
}

// EvictionCount reports how many values have been evicted pool-wide.
func (p *ShardedParameterPool) EvictionCount() int64 {
	return p.evictionCount.Load()
}
