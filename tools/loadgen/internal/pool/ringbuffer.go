package pool

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// RingBuffer is a synchronized circular buffer of ParameterValues with a
// fixed capacity. When full it evicts per the configured policy; FIFO is
// the natural ring behavior, LRU and Random need extra bookkeeping.
type RingBuffer struct {
	mu       sync.RWMutex
	slots    []*ParameterValue
	head     int // next write slot
	tail     int // oldest entry, where FIFO reads and evicts
	count    int
	capacity int

	evictionPolicy EvictionPolicy
	evictionCount  atomic.Int64

	// lruOrder holds slot indices ordered from coldest to hottest;
	// maintained only under the LRU policy
	lruOrder []int

	rnd *rand.Rand
}

// NewRingBuffer builds a buffer with the given capacity; non-positive
// capacities fall back to 1000.
func NewRingBuffer(capacity int, policy EvictionPolicy) *RingBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingBuffer{
		slots:          make([]*ParameterValue, capacity),
		capacity:       capacity,
		evictionPolicy: policy,
		lruOrder:       make([]int, 0, capacity),
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Add stores a value, evicting one entry first when full. Returns the
// number of evictions performed.
func (rb *RingBuffer) Add(value *ParameterValue) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	evicted := 0
	if rb.count >= rb.capacity {
		evicted = rb.evictOne()
	}

	rb.slots[rb.head] = value
	if rb.evictionPolicy == EvictionLRU {
		rb.lruOrder = append(rb.lruOrder, rb.head)
	}
	rb.head = (rb.head + 1) % rb.capacity
	rb.count++

	return evicted
}

// evictOne frees one slot per the policy. Caller holds the write lock.
func (rb *RingBuffer) evictOne() int {
	if rb.count == 0 {
		return 0
	}

	var victim int

	switch rb.evictionPolicy {
	case EvictionLRU:
		if len(rb.lruOrder) > 0 {
			victim = rb.lruOrder[0]
			rb.lruOrder = rb.lruOrder[1:]
			if victim == rb.tail {
				rb.tail = (rb.tail + 1) % rb.capacity
			}
		} else {
			victim = rb.tail
			rb.tail = (rb.tail + 1) % rb.capacity
		}

	case EvictionRandom:
		victim = rb.randomOccupiedSlot()
		if victim == rb.tail {
			rb.tail = (rb.tail + 1) % rb.capacity
		}

	default: // FIFO: the tail is the oldest entry
		victim = rb.tail
		rb.tail = (rb.tail + 1) % rb.capacity
	}

	rb.slots[victim] = nil
	rb.count--
	rb.evictionCount.Add(1)

	return 1
}

// randomOccupiedSlot picks a random offset from the tail and walks
// forward to the first occupied slot. Caller holds the lock; count > 0.
func (rb *RingBuffer) randomOccupiedSlot() int {
	start := (rb.tail + rb.rnd.Intn(rb.count)) % rb.capacity
	for i := 0; i < rb.capacity; i++ {
		idx := (start + i) % rb.capacity
		if rb.slots[idx] != nil {
			return idx
		}
	}
	return rb.tail
}

// Get returns the oldest value without removing it, nil when empty.
func (rb *RingBuffer) Get() *ParameterValue {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.firstOccupiedFrom(rb.tail)
}

// GetRandom returns a value near a random position without removing it,
// nil when empty.
func (rb *RingBuffer) GetRandom() *ParameterValue {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return nil
	}
	return rb.firstOccupiedFrom(rb.rnd.Intn(rb.capacity))
}

// firstOccupiedFrom walks the ring from start, touches and returns the
// first occupied slot. Caller holds the write lock.
func (rb *RingBuffer) firstOccupiedFrom(start int) *ParameterValue {
	if rb.count == 0 {
		return nil
	}

	for i := 0; i < rb.capacity; i++ {
		idx := (start + i) % rb.capacity
		if v := rb.slots[idx]; v != nil {
			v.Touch()
			rb.markAccessed(idx)
			return v
		}
	}
	return nil
}

// markAccessed moves a slot to the hot end of the LRU order. Caller
// holds the write lock.
func (rb *RingBuffer) markAccessed(idx int) {
	if rb.evictionPolicy != EvictionLRU {
		return
	}
	rb.dropLRUIndex(idx)
	rb.lruOrder = append(rb.lruOrder, idx)
}

// dropLRUIndex removes one slot index from the LRU order if present.
func (rb *RingBuffer) dropLRUIndex(idx int) {
	for i, at := range rb.lruOrder {
		if at == idx {
			rb.lruOrder = append(rb.lruOrder[:i], rb.lruOrder[i+1:]...)
			return
		}
	}
}

// GetAll returns every value currently held, in slot order.
func (rb *RingBuffer) GetAll() []*ParameterValue {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]*ParameterValue, 0, rb.count)
	for _, v := range rb.slots {
		if v != nil {
			result = append(result, v)
		}
	}
	return result
}

// Count returns how many values the buffer holds.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Capacity returns the fixed capacity.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

// EvictionCount reports how many values have been evicted so far.
func (rb *RingBuffer) EvictionCount() int64 {
	return rb.evictionCount.Load()
}

// Remove drops the exact value (pointer identity), reporting whether it
// was present.
func (rb *RingBuffer) Remove(value *ParameterValue) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i, v := range rb.slots {
		if v == value {
			rb.slots[i] = nil
			rb.count--
			if rb.evictionPolicy == EvictionLRU {
				rb.dropLRUIndex(i)
			}
			return true
		}
	}
	return false
}

// Clear empties the buffer and returns how many values it held.
func (rb *RingBuffer) Clear() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	removed := rb.count
	for i := range rb.slots {
		rb.slots[i] = nil
	}
	rb.head = 0
	rb.tail = 0
	rb.count = 0
	rb.lruOrder = rb.lruOrder[:0]

	return removed
}

// RemoveExpired drops every expired value and returns how many were
// removed.
func (rb *RingBuffer) RemoveExpired() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	removed := 0
	for i, v := range rb.slots {
		if v == nil || !v.IsExpired() {
			continue
		}
		rb.slots[i] = nil
		rb.count--
		removed++
		if rb.evictionPolicy == EvictionLRU {
			rb.dropLRUIndex(i)
		}
	}
	return removed
}

// IsFull reports whether the buffer is at capacity.
func (rb *RingBuffer) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count >= rb.capacity
}

// IsEmpty reports whether the buffer holds no values.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count == 0
}
