package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/projectlink/backend/internal/domain/integration"
)

// InternalRecordModel is the persistence model for the InternalRecord aggregate.
// The unique index over (org_id, provider, type, external_id) enforces the
// one-record-per-provider-entity rule at the database level; NULL external ids
// of unlinked records do not collide because Postgres treats NULLs as distinct.
type InternalRecordModel struct {
	ID             uuid.UUID                `gorm:"type:uuid;primary_key"`
	OrgID          uuid.UUID                `gorm:"type:uuid;not null;index:idx_sync_records_org_status,priority:1;uniqueIndex:idx_sync_records_external_id,priority:1;uniqueIndex:idx_sync_records_natural_key,priority:1"`
	Provider       integration.ProviderCode `gorm:"type:varchar(20);not null;uniqueIndex:idx_sync_records_external_id,priority:2;uniqueIndex:idx_sync_records_natural_key,priority:2"`
	Type           integration.EntityType   `gorm:"type:varchar(20);not null;uniqueIndex:idx_sync_records_external_id,priority:3;uniqueIndex:idx_sync_records_natural_key,priority:3"`
	NaturalKey     string                   `gorm:"type:varchar(255);not null;uniqueIndex:idx_sync_records_natural_key,priority:4"`
	ExternalID     *string                  `gorm:"type:varchar(255);uniqueIndex:idx_sync_records_external_id,priority:4"`
	Attributes     []byte                   `gorm:"type:jsonb"`
	Status         integration.RecordStatus `gorm:"type:varchar(20);not null;default:'unlinked';index:idx_sync_records_org_status,priority:2"`
	LastAppliedAt  *time.Time
	LinkFailReason string    `gorm:"type:text"`
	Version        int       `gorm:"not null;default:1"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InternalRecordModel) TableName() string {
	return "sync_records"
}

// ToDomain converts the persistence model to a domain InternalRecord
func (m *InternalRecordModel) ToDomain() *integration.InternalRecord {
	record := &integration.InternalRecord{
		Type:           m.Type,
		Provider:       m.Provider,
		NaturalKey:     m.NaturalKey,
		ExternalID:     m.ExternalID,
		Attributes:     make(integration.AttributeMap),
		Status:         m.Status,
		LinkFailReason: m.LinkFailReason,
	}
	record.ID = m.ID
	record.OrgID = m.OrgID
	record.Version = m.Version
	record.CreatedAt = m.CreatedAt
	record.UpdatedAt = m.UpdatedAt

	if m.LastAppliedAt != nil {
		record.LastAppliedAt = *m.LastAppliedAt
	}
	if len(m.Attributes) > 0 {
		var attrs integration.AttributeMap
		if err := json.Unmarshal(m.Attributes, &attrs); err == nil {
			record.Attributes = attrs
		}
	}

	return record
}

// FromDomain populates the persistence model from a domain InternalRecord
func (m *InternalRecordModel) FromDomain(r *integration.InternalRecord) {
	m.ID = r.ID
	m.OrgID = r.OrgID
	m.Provider = r.Provider
	m.Type = r.Type
	m.NaturalKey = r.NaturalKey
	m.ExternalID = r.ExternalID
	m.Status = r.Status
	m.LinkFailReason = r.LinkFailReason
	m.Version = r.Version
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt

	m.LastAppliedAt = nil
	if !r.LastAppliedAt.IsZero() {
		applied := r.LastAppliedAt
		m.LastAppliedAt = &applied
	}

	m.Attributes = []byte("{}")
	if len(r.Attributes) > 0 {
		if jsonBytes, err := json.Marshal(r.Attributes); err == nil {
			m.Attributes = jsonBytes
		}
	}
}

// InternalRecordModelFromDomain creates a new persistence model from a domain InternalRecord
func InternalRecordModelFromDomain(r *integration.InternalRecord) *InternalRecordModel {
	m := &InternalRecordModel{}
	m.FromDomain(r)
	return m
}

// SyncRunModel is the persistence model for the SyncRun aggregate. Finished
// runs are never deleted; they are the audit trail of every sync pass.
type SyncRunModel struct {
	ID          uuid.UUID                `gorm:"type:uuid;primary_key"`
	OrgID       uuid.UUID                `gorm:"type:uuid;not null;index:idx_sync_runs_stream,priority:1;index:idx_sync_runs_org_created,priority:1"`
	Provider    integration.ProviderCode `gorm:"type:varchar(20);not null;index:idx_sync_runs_stream,priority:2"`
	EntityType  integration.EntityType   `gorm:"type:varchar(20);not null;index:idx_sync_runs_stream,priority:3"`
	ScopeKind   integration.ScopeKind    `gorm:"type:varchar(20);not null;index:idx_sync_runs_stream,priority:4"`
	ScopeKey    string                   `gorm:"type:varchar(255);not null;index:idx_sync_runs_stream,priority:5"`
	State       integration.RunState     `gorm:"type:varchar(20);not null;default:'pending';index:idx_sync_runs_stream,priority:6"`
	Cursor      string                   `gorm:"type:text"`
	Stats       []byte                   `gorm:"type:jsonb"`
	ErrorCode   integration.RunErrorCode `gorm:"type:varchar(40)"`
	ErrorDetail string                   `gorm:"type:text"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	ArchiveKey  string    `gorm:"type:varchar(512)"`
	Version     int       `gorm:"not null;default:1"`
	CreatedAt   time.Time `gorm:"not null;index:idx_sync_runs_org_created,priority:2"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToDomain converts the persistence model to a domain SyncRun
func (m *SyncRunModel) ToDomain() *integration.SyncRun {
	run := &integration.SyncRun{
		Provider:    m.Provider,
		EntityType:  m.EntityType,
		Scope:       integration.Scope{Kind: m.ScopeKind, Key: m.ScopeKey},
		State:       m.State,
		Cursor:      m.Cursor,
		ErrorCode:   m.ErrorCode,
		ErrorDetail: m.ErrorDetail,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		ArchiveKey:  m.ArchiveKey,
	}
	run.ID = m.ID
	run.OrgID = m.OrgID
	run.Version = m.Version
	run.CreatedAt = m.CreatedAt
	run.UpdatedAt = m.UpdatedAt

	if len(m.Stats) > 0 {
		var stats integration.RunStats
		if err := json.Unmarshal(m.Stats, &stats); err == nil {
			run.Stats = stats
		}
	}

	return run
}

// FromDomain populates the persistence model from a domain SyncRun
func (m *SyncRunModel) FromDomain(r *integration.SyncRun) {
	m.ID = r.ID
	m.OrgID = r.OrgID
	m.Provider = r.Provider
	m.EntityType = r.EntityType
	m.ScopeKind = r.Scope.Kind
	m.ScopeKey = r.Scope.Key
	m.State = r.State
	m.Cursor = r.Cursor
	m.ErrorCode = r.ErrorCode
	m.ErrorDetail = r.ErrorDetail
	m.StartedAt = r.StartedAt
	m.CompletedAt = r.CompletedAt
	m.ArchiveKey = r.ArchiveKey
	m.Version = r.Version
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt

	m.Stats = []byte("{}")
	if jsonBytes, err := json.Marshal(r.Stats); err == nil {
		m.Stats = jsonBytes
	}
}

// SyncRunModelFromDomain creates a new persistence model from a domain SyncRun
func SyncRunModelFromDomain(r *integration.SyncRun) *SyncRunModel {
	m := &SyncRunModel{}
	m.FromDomain(r)
	return m
}

// SyncTaskModel is the persistence model for queued sync tasks. Tasks have no
// version column; claims are serialized by row locks in the queue instead.
type SyncTaskModel struct {
	ID             uuid.UUID                `gorm:"type:uuid;primary_key"`
	OrgID          uuid.UUID                `gorm:"type:uuid;not null;index:idx_sync_tasks_stream,priority:1"`
	Provider       integration.ProviderCode `gorm:"type:varchar(20);not null;index:idx_sync_tasks_stream,priority:2"`
	EntityType     integration.EntityType   `gorm:"type:varchar(20);not null;index:idx_sync_tasks_stream,priority:3"`
	ScopeKind      integration.ScopeKind    `gorm:"type:varchar(20);not null;index:idx_sync_tasks_stream,priority:4"`
	ScopeKey       string                   `gorm:"type:varchar(255);not null;index:idx_sync_tasks_stream,priority:5"`
	RunID          *uuid.UUID               `gorm:"type:uuid;index"`
	Status         integration.TaskStatus   `gorm:"type:varchar(20);not null;default:'queued';index:idx_sync_tasks_claim,priority:1;index:idx_sync_tasks_stream,priority:6"`
	Attempts       int                      `gorm:"not null"`
	MaxAttempts    int                      `gorm:"not null;default:5"`
	NotBefore      time.Time                `gorm:"not null;index:idx_sync_tasks_claim,priority:2"`
	LeaseExpiresAt *time.Time               `gorm:"index:idx_sync_tasks_lease"`
	LastError      string                   `gorm:"type:text"`
	CreatedAt      time.Time                `gorm:"not null"`
	UpdatedAt      time.Time                `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncTaskModel) TableName() string {
	return "sync_tasks"
}

// ToDomain converts the persistence model to a domain SyncTask
func (m *SyncTaskModel) ToDomain() *integration.SyncTask {
	return &integration.SyncTask{
		ID:             m.ID,
		OrgID:          m.OrgID,
		Provider:       m.Provider,
		EntityType:     m.EntityType,
		Scope:          integration.Scope{Kind: m.ScopeKind, Key: m.ScopeKey},
		RunID:          m.RunID,
		Status:         m.Status,
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		NotBefore:      m.NotBefore,
		LeaseExpiresAt: m.LeaseExpiresAt,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain SyncTask
func (m *SyncTaskModel) FromDomain(t *integration.SyncTask) {
	m.ID = t.ID
	m.OrgID = t.OrgID
	m.Provider = t.Provider
	m.EntityType = t.EntityType
	m.ScopeKind = t.Scope.Kind
	m.ScopeKey = t.Scope.Key
	m.RunID = t.RunID
	m.Status = t.Status
	m.Attempts = t.Attempts
	m.MaxAttempts = t.MaxAttempts
	m.NotBefore = t.NotBefore
	m.LeaseExpiresAt = t.LeaseExpiresAt
	m.LastError = t.LastError
	m.CreatedAt = t.CreatedAt
	m.UpdatedAt = t.UpdatedAt
}

// SyncTaskModelFromDomain creates a new persistence model from a domain SyncTask
func SyncTaskModelFromDomain(t *integration.SyncTask) *SyncTaskModel {
	m := &SyncTaskModel{}
	m.FromDomain(t)
	return m
}

// SyncModels lists every sync persistence model, in dependency order.
// Used by tests that migrate a scratch database.
func SyncModels() []interface{} {
	return []interface{}{
		&InternalRecordModel{},
		&SyncRunModel{},
		&SyncTaskModel{},
		&OutboxEntryModel{},
	}
}
