package integration

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/projectlink/backend/internal/domain/shared"
)

// RecordStatus represents the link status of an internal record
type RecordStatus string

const (
	// RecordStatusUnlinked indicates no provider entity is attached
	RecordStatusUnlinked RecordStatus = "unlinked"
	// RecordStatusLinking indicates a link commit is in flight
	RecordStatusLinking RecordStatus = "linking"
	// RecordStatusLinked indicates the record mirrors a provider entity
	RecordStatusLinked RecordStatus = "linked"
	// RecordStatusLinkFailed indicates the last link attempt was rejected
	RecordStatusLinkFailed RecordStatus = "link_failed"
)

// IsValid checks if the status is a valid RecordStatus
func (s RecordStatus) IsValid() bool {
	switch s {
	case RecordStatusUnlinked, RecordStatusLinking, RecordStatusLinked, RecordStatusLinkFailed:
		return true
	}
	return false
}

// String returns the string representation of RecordStatus
func (s RecordStatus) String() string {
	return string(s)
}

// CanTransitionTo checks if the status can transition to the target status.
// Linking may re-enter itself so an interrupted link attempt can be retaken.
func (s RecordStatus) CanTransitionTo(target RecordStatus) bool {
	switch s {
	case RecordStatusUnlinked:
		return target == RecordStatusLinking
	case RecordStatusLinking:
		return target == RecordStatusLinked || target == RecordStatusLinkFailed || target == RecordStatusLinking
	case RecordStatusLinked:
		return target == RecordStatusUnlinked
	case RecordStatusLinkFailed:
		return target == RecordStatusLinking
	}
	return false
}

// LinkIntent captures everything a link commit will write, built before any
// write happens. Consuming it in a single transactional write keeps the
// external id and the merged attributes from ever landing separately.
type LinkIntent struct {
	RecordID          uuid.UUID
	OrgID             uuid.UUID
	Provider          ProviderCode
	ExternalID        string
	Attributes        AttributeMap
	SnapshotFetchedAt time.Time
	CreatedAt         time.Time
}

// Validate checks the intent for consistency
func (li LinkIntent) Validate() error {
	if li.RecordID == uuid.Nil {
		return shared.NewDomainError("INVALID_RECORD", "Link intent requires a record ID")
	}
	if li.OrgID == uuid.Nil {
		return shared.NewDomainError("INVALID_ORG", "Link intent requires an organization ID")
	}
	if !li.Provider.IsValid() {
		return shared.NewDomainError("INVALID_PROVIDER", "Link intent requires a valid provider")
	}
	if strings.TrimSpace(li.ExternalID) == "" {
		return shared.NewDomainError("INVALID_EXTERNAL_ID", "Link intent requires an external ID")
	}
	if li.SnapshotFetchedAt.IsZero() {
		return shared.NewDomainError("INVALID_SNAPSHOT_TIME", "Link intent requires the snapshot fetch time")
	}
	return nil
}

// InternalRecord represents one internally owned entity kept consistent
// with a provider entity. It is mutated exclusively by the merge engine.
//
// Invariant: Status is linked if and only if ExternalID is non-nil.
type InternalRecord struct {
	shared.OrgAggregateRoot
	Type       EntityType
	Provider   ProviderCode
	NaturalKey string
	// ExternalID is nil until a link commit succeeds and nil again after
	// an unlink. It never holds an empty string.
	ExternalID *string
	Attributes AttributeMap
	Status     RecordStatus
	// LastAppliedAt is the fetch timestamp of the last applied snapshot.
	// Snapshots older than this are discarded as stale.
	LastAppliedAt  time.Time
	LinkFailReason string
}

// NewInternalRecord creates a new unlinked record for a natural key
func NewInternalRecord(orgID uuid.UUID, entityType EntityType, provider ProviderCode, naturalKey string) (*InternalRecord, error) {
	if orgID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ORG", "Organization ID cannot be empty")
	}
	if !entityType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTITY_TYPE", "Unknown entity type")
	}
	if !provider.IsValid() {
		return nil, shared.NewDomainError("INVALID_PROVIDER", "Unknown provider code")
	}
	if strings.TrimSpace(naturalKey) == "" {
		return nil, shared.NewDomainError("INVALID_NATURAL_KEY", "Natural key cannot be empty")
	}

	return &InternalRecord{
		OrgAggregateRoot: shared.NewOrgAggregateRoot(orgID),
		Type:             entityType,
		Provider:         provider,
		NaturalKey:       naturalKey,
		Attributes:       make(AttributeMap),
		Status:           RecordStatusUnlinked,
	}, nil
}

// IsLinked returns true if the record is linked to a provider entity
func (r *InternalRecord) IsLinked() bool {
	return r.Status == RecordStatusLinked
}

// CheckInvariant verifies the link invariant on the in-memory state
func (r *InternalRecord) CheckInvariant() error {
	linked := r.Status == RecordStatusLinked
	hasID := r.ExternalID != nil && *r.ExternalID != ""
	if linked != hasID {
		return shared.NewDomainError("INVARIANT_VIOLATION", "A record is linked exactly when it carries an external ID")
	}
	return nil
}

// BeginLinking moves the record into the linking state. Calling it on a
// record already in linking is a no-op so an interrupted attempt can be
// retaken after a crash.
func (r *InternalRecord) BeginLinking() error {
	if r.Status == RecordStatusLinking {
		return nil
	}
	if !r.Status.CanTransitionTo(RecordStatusLinking) {
		return shared.NewDomainError("INVALID_STATE", "Cannot begin linking a record in "+r.Status.String()+" status")
	}

	r.Status = RecordStatusLinking
	r.LinkFailReason = ""
	r.UpdatedAt = time.Now()

	return nil
}

// BuildLinkIntent assembles the link intent for a snapshot. applied holds
// the merge delta; the intent carries the full post-merge attribute set so
// the commit is a single self-contained write.
func (r *InternalRecord) BuildLinkIntent(entity ExternalEntity, applied AttributeMap) (LinkIntent, error) {
	if r.Status != RecordStatusLinking {
		return LinkIntent{}, shared.NewDomainError("INVALID_STATE", "Link intents can only be built in linking status")
	}
	if entity.Provider != r.Provider {
		return LinkIntent{}, shared.NewDomainError("PROVIDER_MISMATCH", "Snapshot provider does not match the record")
	}
	if entity.Type != r.Type {
		return LinkIntent{}, shared.NewDomainError("ENTITY_TYPE_MISMATCH", "Snapshot entity type does not match the record")
	}
	if err := entity.Validate(); err != nil {
		return LinkIntent{}, err
	}

	full := r.Attributes.Clone()
	if full == nil {
		full = make(AttributeMap)
	}
	for k, v := range applied {
		if v == nil {
			delete(full, k)
			continue
		}
		full[k] = v
	}

	return LinkIntent{
		RecordID:          r.ID,
		OrgID:             r.OrgID,
		Provider:          r.Provider,
		ExternalID:        entity.ExternalID,
		Attributes:        full,
		SnapshotFetchedAt: entity.FetchedAt,
		CreatedAt:         time.Now(),
	}, nil
}

// CompleteLink applies a link intent to the in-memory state. The repository
// persists the same intent atomically so attributes and external id always
// land in one write.
func (r *InternalRecord) CompleteLink(intent LinkIntent) error {
	if !r.Status.CanTransitionTo(RecordStatusLinked) {
		return shared.NewDomainError("INVALID_STATE", "Cannot complete linking a record in "+r.Status.String()+" status")
	}
	if err := intent.Validate(); err != nil {
		return err
	}
	if intent.RecordID != r.ID {
		return shared.NewDomainError("INTENT_MISMATCH", "Link intent belongs to a different record")
	}

	externalID := intent.ExternalID
	r.ExternalID = &externalID
	r.Attributes = intent.Attributes.Clone()
	r.Status = RecordStatusLinked
	r.LastAppliedAt = intent.SnapshotFetchedAt
	r.LinkFailReason = ""
	r.UpdatedAt = time.Now()

	r.AddDomainEvent(NewRecordLinkedEvent(r))

	return nil
}

// FailLink marks the current link attempt as rejected
func (r *InternalRecord) FailLink(reason string) error {
	if !r.Status.CanTransitionTo(RecordStatusLinkFailed) {
		return shared.NewDomainError("INVALID_STATE", "Cannot fail linking a record in "+r.Status.String()+" status")
	}
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Link failure reason is required")
	}

	r.Status = RecordStatusLinkFailed
	r.LinkFailReason = reason
	r.UpdatedAt = time.Now()

	return nil
}

// Unlink detaches the record from its provider entity. The record and its
// attributes survive; only the link is severed.
func (r *InternalRecord) Unlink() error {
	if !r.Status.CanTransitionTo(RecordStatusUnlinked) {
		return shared.NewDomainError("INVALID_STATE", "Cannot unlink a record in "+r.Status.String()+" status")
	}

	previousID := ""
	if r.ExternalID != nil {
		previousID = *r.ExternalID
	}

	r.ExternalID = nil
	r.Status = RecordStatusUnlinked
	r.UpdatedAt = time.Now()

	r.AddDomainEvent(NewRecordUnlinkedEvent(r, previousID))

	return nil
}

// ApplyAttributes applies a merge delta to a linked record. A key with a
// nil value clears the field. fetchedAt must come from the snapshot that
// produced the delta.
func (r *InternalRecord) ApplyAttributes(applied AttributeMap, fetchedAt time.Time) error {
	if r.Status != RecordStatusLinked {
		return shared.NewDomainError("INVALID_STATE", "Attributes can only be applied to a linked record")
	}
	if fetchedAt.Before(r.LastAppliedAt) {
		return ErrStaleSnapshot
	}
	if len(applied) == 0 {
		return nil
	}

	if r.Attributes == nil {
		r.Attributes = make(AttributeMap)
	}
	for k, v := range applied {
		if v == nil {
			delete(r.Attributes, k)
			continue
		}
		r.Attributes[k] = v
	}
	r.LastAppliedAt = fetchedAt
	r.UpdatedAt = time.Now()

	r.AddDomainEvent(NewRecordMergedEvent(r, applied))

	return nil
}
