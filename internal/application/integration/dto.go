package integration

import (
	"time"

	"github.com/google/uuid"

	"github.com/projectlink/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// SyncTaskResponse represents a queued sync task in API responses
type SyncTaskResponse struct {
	ID          uuid.UUID                `json:"id"`
	OrgID       uuid.UUID                `json:"org_id"`
	Provider    integration.ProviderCode `json:"provider"`
	EntityType  integration.EntityType   `json:"entity_type"`
	Scope       integration.Scope        `json:"scope"`
	RunID       *uuid.UUID               `json:"run_id,omitempty"`
	Status      integration.TaskStatus   `json:"status"`
	Attempts    int                      `json:"attempts"`
	MaxAttempts int                      `json:"max_attempts"`
	NotBefore   time.Time                `json:"not_before"`
	LastError   string                   `json:"last_error,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// SyncRunResponse represents a sync run in API responses
type SyncRunResponse struct {
	ID          uuid.UUID                `json:"id"`
	OrgID       uuid.UUID                `json:"org_id"`
	Provider    integration.ProviderCode `json:"provider"`
	EntityType  integration.EntityType   `json:"entity_type"`
	Scope       integration.Scope        `json:"scope"`
	State       integration.RunState     `json:"state"`
	Cursor      string                   `json:"cursor,omitempty"`
	Stats       integration.RunStats     `json:"stats"`
	ErrorCode   integration.RunErrorCode `json:"error_code,omitempty"`
	ErrorDetail string                   `json:"error_detail,omitempty"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	HasArchive  bool                     `json:"has_archive"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// SyncRunListResponse represents a sync run in list responses (lighter)
type SyncRunListResponse struct {
	ID          uuid.UUID                `json:"id"`
	Provider    integration.ProviderCode `json:"provider"`
	EntityType  integration.EntityType   `json:"entity_type"`
	State       integration.RunState     `json:"state"`
	Stats       integration.RunStats     `json:"stats"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
}

// InternalRecordResponse represents an internal record in API responses
type InternalRecordResponse struct {
	ID             uuid.UUID                `json:"id"`
	OrgID          uuid.UUID                `json:"org_id"`
	Type           integration.EntityType   `json:"type"`
	Provider       integration.ProviderCode `json:"provider"`
	NaturalKey     string                   `json:"natural_key"`
	ExternalID     *string                  `json:"external_id,omitempty"`
	Attributes     integration.AttributeMap `json:"attributes"`
	Status         integration.RecordStatus `json:"status"`
	LastAppliedAt  *time.Time               `json:"last_applied_at,omitempty"`
	LinkFailReason string                   `json:"link_fail_reason,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
	Version        int                      `json:"version"`
}

// InternalRecordListResponse represents an internal record in list responses (lighter)
type InternalRecordListResponse struct {
	ID            uuid.UUID                `json:"id"`
	Type          integration.EntityType   `json:"type"`
	Provider      integration.ProviderCode `json:"provider"`
	NaturalKey    string                   `json:"natural_key"`
	ExternalID    *string                  `json:"external_id,omitempty"`
	Status        integration.RecordStatus `json:"status"`
	LastAppliedAt *time.Time               `json:"last_applied_at,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
}

// RecordStatusSummaryResponse represents record counts by link status
type RecordStatusSummaryResponse struct {
	Unlinked   int64 `json:"unlinked"`
	Linking    int64 `json:"linking"`
	Linked     int64 `json:"linked"`
	LinkFailed int64 `json:"link_failed"`
	Total      int64 `json:"total"`
}

// ArchiveURLResponse represents a presigned archive download
type ArchiveURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExternalEntityResponse represents a provider entity snapshot in API responses
type ExternalEntityResponse struct {
	Provider   integration.ProviderCode `json:"provider"`
	Type       integration.EntityType   `json:"type"`
	ExternalID string                   `json:"external_id"`
	NaturalKey string                   `json:"natural_key"`
	Attributes integration.AttributeMap `json:"attributes"`
	FetchedAt  time.Time                `json:"fetched_at"`
}

// ---------------------------------------------------------------------------
// Conversion functions
// ---------------------------------------------------------------------------

// ToSyncTaskResponse converts a domain SyncTask to a response DTO
func ToSyncTaskResponse(t *integration.SyncTask) SyncTaskResponse {
	return SyncTaskResponse{
		ID:          t.ID,
		OrgID:       t.OrgID,
		Provider:    t.Provider,
		EntityType:  t.EntityType,
		Scope:       t.Scope,
		RunID:       t.RunID,
		Status:      t.Status,
		Attempts:    t.Attempts,
		MaxAttempts: t.MaxAttempts,
		NotBefore:   t.NotBefore,
		LastError:   t.LastError,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// ToSyncRunResponse converts a domain SyncRun to a response DTO
func ToSyncRunResponse(r *integration.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:          r.ID,
		OrgID:       r.OrgID,
		Provider:    r.Provider,
		EntityType:  r.EntityType,
		Scope:       r.Scope,
		State:       r.State,
		Cursor:      r.Cursor,
		Stats:       r.Stats,
		ErrorCode:   r.ErrorCode,
		ErrorDetail: r.ErrorDetail,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		HasArchive:  r.ArchiveKey != "",
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// ToSyncRunListResponse converts a domain SyncRun to a list response DTO
func ToSyncRunListResponse(r *integration.SyncRun) SyncRunListResponse {
	return SyncRunListResponse{
		ID:          r.ID,
		Provider:    r.Provider,
		EntityType:  r.EntityType,
		State:       r.State,
		Stats:       r.Stats,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
	}
}

// ToSyncRunListResponses converts a slice of domain SyncRuns to list response DTOs
func ToSyncRunListResponses(runs []integration.SyncRun) []SyncRunListResponse {
	responses := make([]SyncRunListResponse, len(runs))
	for i := range runs {
		responses[i] = ToSyncRunListResponse(&runs[i])
	}
	return responses
}

// ToInternalRecordResponse converts a domain InternalRecord to a response DTO
func ToInternalRecordResponse(r *integration.InternalRecord) InternalRecordResponse {
	return InternalRecordResponse{
		ID:             r.ID,
		OrgID:          r.OrgID,
		Type:           r.Type,
		Provider:       r.Provider,
		NaturalKey:     r.NaturalKey,
		ExternalID:     r.ExternalID,
		Attributes:     r.Attributes,
		Status:         r.Status,
		LastAppliedAt:  appliedAt(r),
		LinkFailReason: r.LinkFailReason,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		Version:        r.Version,
	}
}

// ToInternalRecordListResponse converts a domain InternalRecord to a list response DTO
func ToInternalRecordListResponse(r *integration.InternalRecord) InternalRecordListResponse {
	return InternalRecordListResponse{
		ID:            r.ID,
		Type:          r.Type,
		Provider:      r.Provider,
		NaturalKey:    r.NaturalKey,
		ExternalID:    r.ExternalID,
		Status:        r.Status,
		LastAppliedAt: appliedAt(r),
		CreatedAt:     r.CreatedAt,
	}
}

// ToInternalRecordListResponses converts a slice of domain InternalRecords to list response DTOs
func ToInternalRecordListResponses(records []integration.InternalRecord) []InternalRecordListResponse {
	responses := make([]InternalRecordListResponse, len(records))
	for i := range records {
		responses[i] = ToInternalRecordListResponse(&records[i])
	}
	return responses
}

// ToExternalEntityResponse converts a provider snapshot to a response DTO
func ToExternalEntityResponse(e *integration.ExternalEntity) ExternalEntityResponse {
	return ExternalEntityResponse{
		Provider:   e.Provider,
		Type:       e.Type,
		ExternalID: e.ExternalID,
		NaturalKey: e.NaturalKey,
		Attributes: e.Attributes,
		FetchedAt:  e.FetchedAt,
	}
}

// ToRecordStatusSummaryResponse converts per-status counts to a response DTO
func ToRecordStatusSummaryResponse(counts map[integration.RecordStatus]int64) RecordStatusSummaryResponse {
	resp := RecordStatusSummaryResponse{
		Unlinked:   counts[integration.RecordStatusUnlinked],
		Linking:    counts[integration.RecordStatusLinking],
		Linked:     counts[integration.RecordStatusLinked],
		LinkFailed: counts[integration.RecordStatusLinkFailed],
	}
	resp.Total = resp.Unlinked + resp.Linking + resp.Linked + resp.LinkFailed
	return resp
}

// appliedAt hides the zero time of records that never had a snapshot applied
func appliedAt(r *integration.InternalRecord) *time.Time {
	if r.LastAppliedAt.IsZero() {
		return nil
	}
	t := r.LastAppliedAt
	return &t
}
