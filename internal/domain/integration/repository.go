package integration

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/projectlink/backend/internal/domain/shared"
)

// InternalRecordRepository defines the interface for internal record
// persistence. Writes are guarded by the record's version; a lost race
// surfaces as shared.ErrConcurrencyConflict and is retried by the merge
// engine against a refreshed record.
type InternalRecordRepository interface {
	// FindByID finds a record by ID within an organization
	FindByID(ctx context.Context, orgID, id uuid.UUID) (*InternalRecord, error)

	// FindByExternalID finds the record linked to a provider entity
	FindByExternalID(ctx context.Context, orgID uuid.UUID, provider ProviderCode, entityType EntityType, externalID string) (*InternalRecord, error)

	// FindByNaturalKey finds a record by its normalized natural key
	FindByNaturalKey(ctx context.Context, orgID uuid.UUID, provider ProviderCode, entityType EntityType, naturalKey string) (*InternalRecord, error)

	// Create inserts a new record
	Create(ctx context.Context, record *InternalRecord) error

	// Update saves a record with an optimistic version check and appends
	// its pending domain events to the outbox in the same transaction
	Update(ctx context.Context, record *InternalRecord) error

	// CommitLink atomically persists a link: the record's attributes,
	// external id, status and version land in one transactional write
	// together with the outbox events. An external id already linked to
	// another record is rejected with ErrExternalIDTaken.
	CommitLink(ctx context.Context, record *InternalRecord, intent LinkIntent) error

	// List lists records for an organization with filtering
	List(ctx context.Context, orgID uuid.UUID, entityType EntityType, filter shared.Filter) ([]InternalRecord, error)

	// CountByStatus counts records per status for an organization
	CountByStatus(ctx context.Context, orgID uuid.UUID, status RecordStatus) (int64, error)
}

// SyncRunRepository defines the interface for sync run persistence. Runs
// are kept after they finish; they are the audit trail of every pass.
type SyncRunRepository interface {
	// Save creates or updates a run and appends its pending domain
	// events to the outbox in the same transaction
	Save(ctx context.Context, run *SyncRun) error

	// FindByID finds a run by ID within an organization
	FindByID(ctx context.Context, orgID, id uuid.UUID) (*SyncRun, error)

	// FindActiveByStream finds the non-terminal run for a stream, if any
	FindActiveByStream(ctx context.Context, stream Stream) (*SyncRun, error)

	// List lists runs for an organization, newest first
	List(ctx context.Context, orgID uuid.UUID, filter shared.Filter) ([]SyncRun, error)
}

// TaskQueue defines the interface for the durable sync task queue.
// Delivery is at-least-once: a leased task that is neither completed nor
// released becomes visible again when its lease expires.
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(ctx context.Context, task *SyncTask) error

	// Lease atomically claims up to n eligible tasks for leaseFor,
	// including tasks whose previous lease expired
	Lease(ctx context.Context, n int, leaseFor time.Duration) ([]*SyncTask, error)

	// BindRun durably records which run a leased task is executing, so a
	// redelivered task resumes that run instead of starting another
	BindRun(ctx context.Context, task *SyncTask) error

	// Complete marks a leased task as done
	Complete(ctx context.Context, task *SyncTask) error

	// Release returns a failed task to the queue with a backoff, or
	// marks it dead once its attempts are spent
	Release(ctx context.Context, task *SyncTask, backoff time.Duration, cause error) error

	// FindByID finds a task by ID within an organization
	FindByID(ctx context.Context, orgID, id uuid.UUID) (*SyncTask, error)

	// HasPending reports whether a queued or leased task exists for the
	// stream, used to avoid piling up duplicate work
	HasPending(ctx context.Context, stream Stream) (bool, error)

	// PendingCount counts queued tasks that are currently deliverable
	PendingCount(ctx context.Context) (int64, error)
}

// EntityCache is a process-local staleness cache for single entity
// lookups. It only ever serves auxiliary reads; merge commits always use
// the snapshot fetched by the run itself.
type EntityCache interface {
	// GetOrFetch returns the cached snapshot for ref or loads it via
	// loader, collapsing concurrent loads of the same ref into one call
	GetOrFetch(ctx context.Context, ref EntityRef, loader func(ctx context.Context) (*ExternalEntity, error)) (*ExternalEntity, error)

	// Invalidate drops one cached entry
	Invalidate(ref EntityRef)

	// Purge drops all cached entries
	Purge()
}

// ArchiveStore stores finished run summaries in object storage
type ArchiveStore interface {
	// Put uploads an object under key
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// PresignGet returns a time-limited download URL for key
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}
