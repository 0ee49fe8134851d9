package pool

import (
	"context"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// SimpleParameterPool guards a single map with one RWMutex. It is the
// baseline implementation; scenarios that hammer the pool from many
// workers should prefer ShardedParameterPool.
type SimpleParameterPool struct {
	mu      sync.RWMutex
	byType  map[SemanticType][]*ParameterValue
	config  PoolConfig
	startAt time.Time

	hitCount      atomic.Int64
	missCount     atomic.Int64
	addCount      atomic.Int64
	evictionCount atomic.Int64
	expireCount   atomic.Int64

	sweepTicker *time.Ticker
	sweepDone   chan struct{}
	closed      atomic.Bool

	rnd *rand.Rand
}

// NewSimpleParameterPool builds a pool and, when CleanupInterval is set,
// starts its background expiry sweep.
func NewSimpleParameterPool(config PoolConfig) *SimpleParameterPool {
	p := &SimpleParameterPool{
		byType:    make(map[SemanticType][]*ParameterValue),
		config:    config,
		startAt:   time.Now(),
		sweepDone: make(chan struct{}),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if config.CleanupInterval > 0 {
		p.sweepTicker = time.NewTicker(config.CleanupInterval)
		go p.sweepLoop()
	}

	return p
}

// Add stores a value, evicting one entry first when the semantic type is
// at capacity.
func (p *SimpleParameterPool) Add(ctx context.Context, value *ParameterValue) (int, error) {
	if p.closed.Load() {
		return 0, ErrPoolClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.addCount.Add(1)

	evicted := 0
	held := p.byType[value.SemanticType]
	if p.config.MaxValuesPerType > 0 && len(held) >= p.config.MaxValuesPerType {
		evicted = p.evictOne(value.SemanticType)
	}

	p.byType[value.SemanticType] = append(p.byType[value.SemanticType], value)

	return evicted, nil
}

// evictOne drops one value per the configured policy. Caller holds the lock.
func (p *SimpleParameterPool) evictOne(semanticType SemanticType) int {
	held := p.byType[semanticType]
	if len(held) == 0 {
		return 0
	}

	victim := p.victimIndex(held)
	p.byType[semanticType] = slices.Delete(held, victim, victim+1)
	p.evictionCount.Add(1)

	return 1
}

// victimIndex picks which slot to evict. FIFO relies on append order:
// index 0 is always the oldest entry.
func (p *SimpleParameterPool) victimIndex(held []*ParameterValue) int {
	switch p.config.EvictionPolicy {
	case EvictionLRU:
		victim := 0
		coldest := held[0].LastAccessedAt()
		for i, v := range held {
			if at := v.LastAccessedAt(); at.Before(coldest) {
				coldest = at
				victim = i
			}
		}
		return victim
	case EvictionRandom:
		return p.rnd.Intn(len(held))
	default:
		return 0
	}
}

// Get returns the first live value for the semantic type, nil when none.
func (p *SimpleParameterPool) Get(ctx context.Context, semanticType SemanticType) (*ParameterValue, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, v := range p.byType[semanticType] {
		if !v.IsExpired() {
			v.Touch()
			p.hitCount.Add(1)
			return v, nil
		}
	}

	p.missCount.Add(1)
	return nil, nil
}

// GetRandom returns a uniformly chosen live value, nil when none.
func (p *SimpleParameterPool) GetRandom(ctx context.Context, semanticType SemanticType) (*ParameterValue, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.byType[semanticType]
	live := make([]*ParameterValue, 0, len(held))
	for _, v := range held {
		if !v.IsExpired() {
			live = append(live, v)
		}
	}

	if len(live) == 0 {
		p.missCount.Add(1)
		return nil, nil
	}

	v := live[p.rnd.Intn(len(live))]
	v.Touch()
	p.hitCount.Add(1)
	return v, nil
}

// GetAll returns every live value for the semantic type.
func (p *SimpleParameterPool) GetAll(ctx context.Context, semanticType SemanticType) ([]*ParameterValue, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	held := p.byType[semanticType]
	result := make([]*ParameterValue, 0, len(held))
	for _, v := range held {
		if !v.IsExpired() {
			result = append(result, v)
		}
	}

	return result, nil
}

// Count reports how many values (live or expired) the type holds.
func (p *SimpleParameterPool) Count(ctx context.Context, semanticType SemanticType) (int, error) {
	if p.closed.Load() {
		return 0, ErrPoolClosed
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.byType[semanticType]), nil
}

// Remove drops the exact value (pointer identity), reporting whether it
// was present.
func (p *SimpleParameterPool) Remove(ctx context.Context, value *ParameterValue) (bool, error) {
	if p.closed.Load() {
		return false, ErrPoolClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.byType[value.SemanticType]
	for i, v := range held {
		if v == value {
			p.byType[value.SemanticType] = slices.Delete(held, i, i+1)
			return true, nil
		}
	}

	return false, nil
}

// Clear drops every value for one semantic type.
func (p *SimpleParameterPool) Clear(ctx context.Context, semanticType SemanticType) (int, error) {
	if p.closed.Load() {
		return 0, ErrPoolClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	count := len(p.byType[semanticType])
	delete(p.byType, semanticType)
	return count, nil
}

// ClearAll empties the pool.
func (p *SimpleParameterPool) ClearAll(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.byType = make(map[SemanticType][]*ParameterValue)
	return nil
}

// Cleanup drops expired values across all types.
func (p *SimpleParameterPool) Cleanup(ctx context.Context) (int, error) {
	if p.closed.Load() {
		return 0, ErrPoolClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for st, held := range p.byType {
		kept := make([]*ParameterValue, 0, len(held))
		for _, v := range held {
			if v.IsExpired() {
				removed++
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) != len(held) {
			p.byType[st] = kept
		}
	}

	p.expireCount.Add(int64(removed))
	return removed, nil
}

func (p *SimpleParameterPool) sweepLoop() {
	for {
		select {
		case <-p.sweepTicker.C:
			_, _ = p.Cleanup(context.Background())
		case <-p.sweepDone:
			return
		}
	}
}

// Stats returns a snapshot of the pool's counters.
func (p *SimpleParameterPool) Stats(ctx context.Context) (Stats, error) {
	if p.closed.Load() {
		return Stats{}, ErrPoolClosed
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{
		ValuesByType:  make(map[SemanticType]int64),
		HitCount:      p.hitCount.Load(),
		MissCount:     p.missCount.Load(),
		EvictionCount: p.evictionCount.Load(),
		ExpiredCount:  p.expireCount.Load(),
		AddCount:      p.addCount.Load(),
		Uptime:        time.Since(p.startAt),
	}

	for st, held := range p.byType {
		n := int64(len(held))
		stats.TotalValues += n
		stats.ValuesByType[st] = n
	}

	return stats, nil
}

// Types lists semantic types that currently hold values.
func (p *SimpleParameterPool) Types(ctx context.Context) ([]SemanticType, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	types := make([]SemanticType, 0, len(p.byType))
	for st, held := range p.byType {
		if len(held) > 0 {
			types = append(types, st)
		}
	}

	return types, nil
}

// Close stops the sweep goroutine. Safe to call once; later calls return
// ErrPoolClosed.
func (p *SimpleParameterPool) Close() error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}

	if p.sweepTicker != nil {
		p.sweepTicker.Stop()
		close(p.sweepDone)
	}

	return nil
}

// EvictionCount reports how many values the pool has evicted so far.
func (p *SimpleParameterPool) EvictionCount() int64 {
	return p.evictionCount.Load()
}
