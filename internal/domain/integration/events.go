package integration

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/projectlink/backend/internal/domain/shared"
)

// Aggregate type constants
const (
	AggregateTypeInternalRecord = "InternalRecord"
	AggregateTypeSyncRun        = "SyncRun"
)

// Event type constants. The dotted names double as routing subjects for
// downstream consumers.
const (
	EventTypeRecordLinked   = "sync.record.linked"
	EventTypeRecordUnlinked = "sync.record.unlinked"
	EventTypeRecordMerged   = "sync.record.merged"
	EventTypeRunCompleted   = "sync.run.completed"
	EventTypeRunFailed      = "sync.run.failed"
)

// RecordLinkedEvent is raised when a record gets linked to a provider
// entity. Consumers de-duplicate on event id and record version.
type RecordLinkedEvent struct {
	shared.BaseDomainEvent
	RecordID   uuid.UUID    `json:"record_id"`
	Provider   ProviderCode `json:"provider"`
	EntityType EntityType   `json:"entity_type"`
	ExternalID string       `json:"external_id"`
	NaturalKey string       `json:"natural_key"`
	Version    int          `json:"version"`
}

// NewRecordLinkedEvent creates a new RecordLinkedEvent. Version is the
// record version the enclosing commit writes.
func NewRecordLinkedEvent(record *InternalRecord) *RecordLinkedEvent {
	externalID := ""
	if record.ExternalID != nil {
		externalID = *record.ExternalID
	}
	return &RecordLinkedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRecordLinked, AggregateTypeInternalRecord, record.ID, record.OrgID),
		RecordID:        record.ID,
		Provider:        record.Provider,
		EntityType:      record.Type,
		ExternalID:      externalID,
		NaturalKey:      record.NaturalKey,
		Version:         record.Version + 1,
	}
}

// EventType returns the event type name
func (e *RecordLinkedEvent) EventType() string {
	return EventTypeRecordLinked
}

// RecordUnlinkedEvent is raised when a record is detached from its
// provider entity
type RecordUnlinkedEvent struct {
	shared.BaseDomainEvent
	RecordID           uuid.UUID    `json:"record_id"`
	Provider           ProviderCode `json:"provider"`
	EntityType         EntityType   `json:"entity_type"`
	PreviousExternalID string       `json:"previous_external_id"`
	Version            int          `json:"version"`
}

// NewRecordUnlinkedEvent creates a new RecordUnlinkedEvent
func NewRecordUnlinkedEvent(record *InternalRecord, previousExternalID string) *RecordUnlinkedEvent {
	return &RecordUnlinkedEvent{
		BaseDomainEvent:    shared.NewBaseDomainEvent(EventTypeRecordUnlinked, AggregateTypeInternalRecord, record.ID, record.OrgID),
		RecordID:           record.ID,
		Provider:           record.Provider,
		EntityType:         record.Type,
		PreviousExternalID: previousExternalID,
		Version:            record.Version + 1,
	}
}

// EventType returns the event type name
func (e *RecordUnlinkedEvent) EventType() string {
	return EventTypeRecordUnlinked
}

// RecordMergedEvent is raised when a merge changes a linked record's
// attributes
type RecordMergedEvent struct {
	shared.BaseDomainEvent
	RecordID      uuid.UUID    `json:"record_id"`
	Provider      ProviderCode `json:"provider"`
	EntityType    EntityType   `json:"entity_type"`
	ExternalID    string       `json:"external_id"`
	ChangedFields []string     `json:"changed_fields"`
	Version       int          `json:"version"`
}

// NewRecordMergedEvent creates a new RecordMergedEvent from the applied
// merge delta
func NewRecordMergedEvent(record *InternalRecord, applied AttributeMap) *RecordMergedEvent {
	fields := make([]string, 0, len(applied))
	for k := range applied {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	externalID := ""
	if record.ExternalID != nil {
		externalID = *record.ExternalID
	}

	return &RecordMergedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRecordMerged, AggregateTypeInternalRecord, record.ID, record.OrgID),
		RecordID:        record.ID,
		Provider:        record.Provider,
		EntityType:      record.Type,
		ExternalID:      externalID,
		ChangedFields:   fields,
		Version:         record.Version + 1,
	}
}

// EventType returns the event type name
func (e *RecordMergedEvent) EventType() string {
	return EventTypeRecordMerged
}

// RunCompletedEvent is raised when a sync run finishes successfully
type RunCompletedEvent struct {
	shared.BaseDomainEvent
	RunID       uuid.UUID    `json:"run_id"`
	Provider    ProviderCode `json:"provider"`
	EntityType  EntityType   `json:"entity_type"`
	Scope       Scope        `json:"scope"`
	Stats       RunStats     `json:"stats"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// NewRunCompletedEvent creates a new RunCompletedEvent
func NewRunCompletedEvent(run *SyncRun) *RunCompletedEvent {
	return &RunCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRunCompleted, AggregateTypeSyncRun, run.ID, run.OrgID),
		RunID:           run.ID,
		Provider:        run.Provider,
		EntityType:      run.EntityType,
		Scope:           run.Scope,
		Stats:           run.Stats,
		CompletedAt:     run.CompletedAt,
	}
}

// EventType returns the event type name
func (e *RunCompletedEvent) EventType() string {
	return EventTypeRunCompleted
}

// RunFailedEvent is raised when a sync run fails
type RunFailedEvent struct {
	shared.BaseDomainEvent
	RunID       uuid.UUID    `json:"run_id"`
	Provider    ProviderCode `json:"provider"`
	EntityType  EntityType   `json:"entity_type"`
	Scope       Scope        `json:"scope"`
	ErrorCode   RunErrorCode `json:"error_code"`
	ErrorDetail string       `json:"error_detail"`
	Stats       RunStats     `json:"stats"`
}

// NewRunFailedEvent creates a new RunFailedEvent
func NewRunFailedEvent(run *SyncRun) *RunFailedEvent {
	return &RunFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRunFailed, AggregateTypeSyncRun, run.ID, run.OrgID),
		RunID:           run.ID,
		Provider:        run.Provider,
		EntityType:      run.EntityType,
		Scope:           run.Scope,
		ErrorCode:       run.ErrorCode,
		ErrorDetail:     run.ErrorDetail,
		Stats:           run.Stats,
	}
}

// EventType returns the event type name
func (e *RunFailedEvent) EventType() string {
	return EventTypeRunFailed
}
