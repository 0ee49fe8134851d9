package integration

import (
	"time"

	"github.com/google/uuid"

	"github.com/projectlink/backend/internal/domain/shared"
)

// RunState represents the state of a sync run
type RunState string

const (
	RunStatePending    RunState = "pending"
	RunStateFetching   RunState = "fetching"
	RunStateMerging    RunState = "merging"
	RunStateCommitting RunState = "committing"
	RunStateCompleted  RunState = "completed"
	RunStateFailed     RunState = "failed"
)

// IsValid checks if the state is a valid RunState
func (s RunState) IsValid() bool {
	switch s {
	case RunStatePending, RunStateFetching, RunStateMerging, RunStateCommitting, RunStateCompleted, RunStateFailed:
		return true
	}
	return false
}

// String returns the string representation of RunState
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if no further transitions are possible
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// CanTransitionTo checks if the state can transition to the target state
func (s RunState) CanTransitionTo(target RunState) bool {
	switch s {
	case RunStatePending:
		return target == RunStateFetching || target == RunStateFailed
	case RunStateFetching:
		return target == RunStateMerging || target == RunStateFailed
	case RunStateMerging:
		return target == RunStateCommitting || target == RunStateFailed
	case RunStateCommitting:
		return target == RunStateFetching || target == RunStateCompleted || target == RunStateFailed
	case RunStateCompleted, RunStateFailed:
		return false // Terminal states
	}
	return false
}

// RunErrorCode is a stable machine-readable failure code for a sync run
type RunErrorCode string

const (
	// RunErrorProviderPermanent indicates the provider rejected the run outright
	RunErrorProviderPermanent RunErrorCode = "PROVIDER_PERMANENT"
	// RunErrorRetryExhausted indicates the retry budget was spent
	RunErrorRetryExhausted RunErrorCode = "RETRY_EXHAUSTED"
	// RunErrorCancelled indicates the run was cancelled before finishing
	RunErrorCancelled RunErrorCode = "CANCELLED"
	// RunErrorInternal indicates an unexpected internal failure
	RunErrorInternal RunErrorCode = "INTERNAL"
)

// String returns the string representation of RunErrorCode
func (c RunErrorCode) String() string {
	return string(c)
}

// RunStats accumulates per-entity merge outcomes across a run
type RunStats struct {
	Total     int `json:"total"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Observe counts one merge outcome. Stale snapshots count as unchanged
// since they leave the record untouched.
func (s *RunStats) Observe(outcome MergeOutcome) {
	s.Total++
	switch outcome {
	case MergeOutcomeCreated:
		s.Created++
	case MergeOutcomeUpdated:
		s.Updated++
	case MergeOutcomeUnchanged, MergeOutcomeStale:
		s.Unchanged++
	case MergeOutcomeFailed:
		s.Failed++
	}
}

// Add merges another stats block into this one
func (s *RunStats) Add(other RunStats) {
	s.Total += other.Total
	s.Created += other.Created
	s.Updated += other.Updated
	s.Unchanged += other.Unchanged
	s.Failed += other.Failed
}

// SyncRun represents one synchronization pass over a provider stream.
// Runs are retained after completion as the audit trail of what was
// synchronized and why it stopped.
type SyncRun struct {
	shared.OrgAggregateRoot
	Provider   ProviderCode
	EntityType EntityType
	Scope      Scope
	State      RunState
	// Cursor is the last committed page cursor. Empty means start from
	// the beginning. A resumed run continues from here.
	Cursor      string
	Stats       RunStats
	ErrorCode   RunErrorCode
	ErrorDetail string
	StartedAt   *time.Time
	CompletedAt *time.Time
	// ArchiveKey is the object storage key of the uploaded run summary,
	// empty until the upload succeeds
	ArchiveKey string
}

// NewSyncRun creates a pending sync run for a stream
func NewSyncRun(orgID uuid.UUID, provider ProviderCode, entityType EntityType, scope Scope) (*SyncRun, error) {
	if orgID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ORG", "Organization ID cannot be empty")
	}
	if !provider.IsValid() {
		return nil, shared.NewDomainError("INVALID_PROVIDER", "Unknown provider code")
	}
	if !entityType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTITY_TYPE", "Unknown entity type")
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	return &SyncRun{
		OrgAggregateRoot: shared.NewOrgAggregateRoot(orgID),
		Provider:         provider,
		EntityType:       entityType,
		Scope:            scope,
		State:            RunStatePending,
	}, nil
}

// Stream returns the stream this run belongs to
func (r *SyncRun) Stream() Stream {
	return Stream{OrgID: r.OrgID, Provider: r.Provider, EntityType: r.EntityType, Scope: r.Scope}
}

// IsActive returns true if the run has not reached a terminal state
func (r *SyncRun) IsActive() bool {
	return !r.State.IsTerminal()
}

// Start moves a pending run into fetching
func (r *SyncRun) Start() error {
	if r.State != RunStatePending {
		return ErrInvalidTransition
	}

	now := time.Now()
	r.State = RunStateFetching
	r.StartedAt = &now
	r.UpdatedAt = now

	return nil
}

// Resume re-enters fetching from whatever non-terminal state a previous
// attempt left behind. The committed cursor and stats carry over, so the
// next page picks up where the last committed one stopped.
func (r *SyncRun) Resume() error {
	if r.State.IsTerminal() {
		return ErrInvalidTransition
	}

	now := time.Now()
	r.State = RunStateFetching
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	r.UpdatedAt = now

	return nil
}

// BeginMerging moves the run from fetching to merging
func (r *SyncRun) BeginMerging() error {
	if !r.State.CanTransitionTo(RunStateMerging) {
		return ErrInvalidTransition
	}

	r.State = RunStateMerging
	r.UpdatedAt = time.Now()

	return nil
}

// BeginCommitting moves the run from merging to committing
func (r *SyncRun) BeginCommitting() error {
	if !r.State.CanTransitionTo(RunStateCommitting) {
		return ErrInvalidTransition
	}

	r.State = RunStateCommitting
	r.UpdatedAt = time.Now()

	return nil
}

// CommitPage records the outcome of one fully merged page: stats are
// accumulated and the cursor advances to the page's next cursor. The run
// stays in committing until NextPage or Complete is called.
func (r *SyncRun) CommitPage(cursor string, page RunStats) error {
	if r.State != RunStateCommitting {
		return ErrInvalidTransition
	}

	r.Cursor = cursor
	r.Stats.Add(page)
	r.UpdatedAt = time.Now()

	return nil
}

// NextPage loops the run back to fetching for the next page
func (r *SyncRun) NextPage() error {
	if !r.State.CanTransitionTo(RunStateFetching) {
		return ErrInvalidTransition
	}

	r.State = RunStateFetching
	r.UpdatedAt = time.Now()

	return nil
}

// Complete marks the run as successfully finished
func (r *SyncRun) Complete() error {
	if !r.State.CanTransitionTo(RunStateCompleted) {
		return ErrInvalidTransition
	}

	now := time.Now()
	r.State = RunStateCompleted
	r.CompletedAt = &now
	r.UpdatedAt = now

	r.AddDomainEvent(NewRunCompletedEvent(r))

	return nil
}

// Fail marks the run as failed with a stable error code. Allowed from any
// non-terminal state.
func (r *SyncRun) Fail(code RunErrorCode, cause error) error {
	if r.State.IsTerminal() {
		return ErrInvalidTransition
	}

	now := time.Now()
	r.State = RunStateFailed
	r.ErrorCode = code
	if cause != nil {
		r.ErrorDetail = cause.Error()
	}
	r.CompletedAt = &now
	r.UpdatedAt = now

	r.AddDomainEvent(NewRunFailedEvent(r))

	return nil
}

// SetArchiveKey records where the run summary was archived
func (r *SyncRun) SetArchiveKey(key string) {
	r.ArchiveKey = key
	r.UpdatedAt = time.Now()
}
