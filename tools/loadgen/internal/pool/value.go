// Package pool stores harvested API identifiers by semantic type so the
// load generator can feed realistic parameters back into later requests.
// Values expire on a TTL and are evicted under configurable policies.
package pool

import (
	"sync/atomic"
	"time"
)

// SemanticType classifies what a pooled value means to the API,
// e.g. sync.run.id or record.natural_key.
type SemanticType string

// Semantic types produced and consumed by the sync API.
const (
	SemanticTypeRunID    SemanticType = "sync.run.id"
	SemanticTypeTaskID   SemanticType = "sync.task.id"
	SemanticTypeOutboxID SemanticType = "sync.outbox.id"

	SemanticTypeRecordID   SemanticType = "record.internal.id"
	SemanticTypeNaturalKey SemanticType = "record.natural_key"
	SemanticTypeExternalID SemanticType = "record.external.id"

	SemanticTypeProvider   SemanticType = "stream.provider"
	SemanticTypeEntityType SemanticType = "stream.entity_type"
	SemanticTypeScopeKey   SemanticType = "stream.scope_key"

	SemanticTypeOrgID     SemanticType = "common.org.id"
	SemanticTypeEmail     SemanticType = "common.email"
	SemanticTypeCursor    SemanticType = "common.cursor"
	SemanticTypeTimestamp SemanticType = "common.timestamp"
	SemanticTypeUUID      SemanticType = "common.uuid"
)

// ParameterValue is one pooled value plus its provenance and expiry.
// Value is treated as immutable once stored; access stats are atomic so
// Touch can run under shard locks without extra synchronization.
type ParameterValue struct {
	Value        any
	SemanticType SemanticType

	// Where the value was harvested from, e.g. "GET /sync/runs" and
	// the JSONPath within the response.
	SourceEndpoint string
	ResponsePath   string

	CreatedAt time.Time
	ExpiresAt time.Time // zero means no expiration

	accessCount    atomic.Int64
	lastAccessedAt atomic.Int64 // unix nanoseconds
}

// NewParameterValue wraps a harvested value. A ttl of 0 never expires.
func NewParameterValue(value any, semanticType SemanticType, ttl time.Duration) *ParameterValue {
	now := time.Now()
	pv := &ParameterValue{
		Value:        value,
		SemanticType: semanticType,
		CreatedAt:    now,
	}
	pv.lastAccessedAt.Store(now.UnixNano())
	if ttl > 0 {
		pv.ExpiresAt = now.Add(ttl)
	}
	return pv
}

// WithSource records which endpoint and response path produced the value.
func (pv *ParameterValue) WithSource(endpoint, path string) *ParameterValue {
	pv.SourceEndpoint = endpoint
	pv.ResponsePath = path
	return pv
}

// IsExpired reports whether the value's TTL has elapsed.
func (pv *ParameterValue) IsExpired() bool {
	return !pv.ExpiresAt.IsZero() && time.Now().After(pv.ExpiresAt)
}

// Touch bumps the access stats. Safe from concurrent readers.
func (pv *ParameterValue) Touch() {
	pv.accessCount.Add(1)
	pv.lastAccessedAt.Store(time.Now().UnixNano())
}

// AccessCount returns how many times the value has been handed out.
func (pv *ParameterValue) AccessCount() int64 {
	return pv.accessCount.Load()
}

// LastAccessedAt returns the time of the most recent retrieval.
func (pv *ParameterValue) LastAccessedAt() time.Time {
	return time.Unix(0, pv.lastAccessedAt.Load())
}

// Clone copies the value and its stats. The wrapped Value is shared, not
// deep-copied.
func (pv *ParameterValue) Clone() *ParameterValue {
	clone := &ParameterValue{
		Value:          pv.Value,
		SemanticType:   pv.SemanticType,
		SourceEndpoint: pv.SourceEndpoint,
		ResponsePath:   pv.ResponsePath,
		CreatedAt:      pv.CreatedAt,
		ExpiresAt:      pv.ExpiresAt,
	}
	clone.accessCount.Store(pv.accessCount.Load())
	clone.lastAccessedAt.Store(pv.lastAccessedAt.Load())
	return clone
}
