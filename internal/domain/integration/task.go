package integration

import (
	"time"

	"github.com/google/uuid"

	"github.com/projectlink/backend/internal/domain/shared"
)

// Stream identifies one sync stream: the entities of one type, from one
// provider, within one scope, for one organization
type Stream struct {
	OrgID      uuid.UUID    `json:"org_id"`
	Provider   ProviderCode `json:"provider"`
	EntityType EntityType   `json:"entity_type"`
	Scope      Scope        `json:"scope"`
}

// Validate checks the stream for consistency
func (s Stream) Validate() error {
	if s.OrgID == uuid.Nil {
		return shared.NewDomainError("INVALID_ORG", "Organization ID cannot be empty")
	}
	if !s.Provider.IsValid() {
		return shared.NewDomainError("INVALID_PROVIDER", "Unknown provider code")
	}
	if !s.EntityType.IsValid() {
		return shared.NewDomainError("INVALID_ENTITY_TYPE", "Unknown entity type")
	}
	return s.Scope.Validate()
}

// Key returns a stable textual identity for the stream, used for
// de-duplicating queued work and in logs
func (s Stream) Key() string {
	return s.OrgID.String() + "/" + s.Provider.String() + "/" + s.EntityType.String() + "/" + s.Scope.String()
}

// TaskStatus represents the status of a queued sync task
type TaskStatus string

const (
	// TaskStatusQueued indicates the task waits for a worker
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusLeased indicates a worker holds the task under a lease
	TaskStatusLeased TaskStatus = "leased"
	// TaskStatusCompleted indicates the task finished successfully
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusDead indicates the task exceeded its attempt budget
	TaskStatusDead TaskStatus = "dead"
)

// IsValid checks if the status is a valid TaskStatus
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusLeased, TaskStatusCompleted, TaskStatusDead:
		return true
	}
	return false
}

// String returns the string representation of TaskStatus
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if no further transitions are possible
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusDead
}

const (
	// DefaultTaskMaxAttempts is the delivery budget before a task goes dead
	DefaultTaskMaxAttempts = 5
	// DefaultTaskLease is how long a worker may hold a task before it
	// becomes visible to other workers again
	DefaultTaskLease = 10 * time.Minute
)

// SyncTask is one unit of durable queued work: run a sync pass over a
// stream. Delivery is at-least-once; a lease makes the task invisible to
// other workers until it expires or is released.
type SyncTask struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	Provider   ProviderCode
	EntityType EntityType
	Scope      Scope
	// RunID is set once a run exists for this task, so a redelivered task
	// resumes the same run instead of starting a new one
	RunID       *uuid.UUID
	Status      TaskStatus
	Attempts    int
	MaxAttempts int
	// NotBefore gates delivery, used for scheduling and release backoff
	NotBefore      time.Time
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewSyncTask creates a queued task for a stream, deliverable immediately
func NewSyncTask(stream Stream) (*SyncTask, error) {
	if err := stream.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	return &SyncTask{
		ID:          uuid.New(),
		OrgID:       stream.OrgID,
		Provider:    stream.Provider,
		EntityType:  stream.EntityType,
		Scope:       stream.Scope,
		Status:      TaskStatusQueued,
		Attempts:    0,
		MaxAttempts: DefaultTaskMaxAttempts,
		NotBefore:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Stream returns the stream this task targets
func (t *SyncTask) Stream() Stream {
	return Stream{OrgID: t.OrgID, Provider: t.Provider, EntityType: t.EntityType, Scope: t.Scope}
}

// Eligible returns true if the task can be leased at the given time
func (t *SyncTask) Eligible(now time.Time) bool {
	if t.Status == TaskStatusQueued {
		return !now.Before(t.NotBefore)
	}
	return t.LeaseExpired(now)
}

// LeaseExpired returns true if the task is leased but the lease has lapsed,
// making it reclaimable by another worker
func (t *SyncTask) LeaseExpired(now time.Time) bool {
	return t.Status == TaskStatusLeased && t.LeaseExpiresAt != nil && now.After(*t.LeaseExpiresAt)
}

// Lease grants the task to a worker for the given duration. Each grant
// consumes one attempt, including grants of a task whose previous lease
// lapsed after a crash.
func (t *SyncTask) Lease(d time.Duration) error {
	now := time.Now()
	if !t.Eligible(now) {
		if t.Status.IsTerminal() {
			return ErrInvalidTransition
		}
		return ErrTaskNotLeased
	}
	if d <= 0 {
		d = DefaultTaskLease
	}

	expires := now.Add(d)
	t.Status = TaskStatusLeased
	t.Attempts++
	t.LeaseExpiresAt = &expires
	t.UpdatedAt = now

	return nil
}

// BindRun attaches the run this task is executing. Binding the same run
// again is a no-op.
func (t *SyncTask) BindRun(runID uuid.UUID) error {
	if t.RunID != nil {
		if *t.RunID == runID {
			return nil
		}
		return shared.NewDomainError("RUN_ALREADY_BOUND", "Task is already bound to a different run")
	}

	t.RunID = &runID
	t.UpdatedAt = time.Now()

	return nil
}

// Complete marks a leased task as done
func (t *SyncTask) Complete() error {
	if t.Status != TaskStatusLeased {
		return ErrTaskNotLeased
	}

	t.Status = TaskStatusCompleted
	t.LeaseExpiresAt = nil
	t.UpdatedAt = time.Now()

	return nil
}

// Release returns a failed task to the queue after a backoff, or marks it
// dead once the attempt budget is spent
func (t *SyncTask) Release(backoff time.Duration, cause error) error {
	if t.Status != TaskStatusLeased {
		return ErrTaskNotLeased
	}

	now := time.Now()
	if cause != nil {
		t.LastError = cause.Error()
	}
	t.LeaseExpiresAt = nil
	t.UpdatedAt = now

	if t.Attempts >= t.MaxAttempts {
		t.Status = TaskStatusDead
		return nil
	}

	t.Status = TaskStatusQueued
	t.NotBefore = now.Add(backoff)

	return nil
}
