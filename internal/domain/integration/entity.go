package integration

import (
	"fmt"
	"strings"
	"time"

	"github.com/projectlink/backend/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// ProviderCode represents an external provider
// ---------------------------------------------------------------------------

// ProviderCode identifies an external provider
type ProviderCode string

const (
	// ProviderCodeJira represents Atlassian Jira Cloud
	ProviderCodeJira ProviderCode = "jira"
	// ProviderCodeEntra represents Microsoft Entra ID
	ProviderCodeEntra ProviderCode = "entra"
)

// IsValid returns true if the provider code is valid
func (c ProviderCode) IsValid() bool {
	switch c {
	case ProviderCodeJira, ProviderCodeEntra:
		return true
	}
	return false
}

// String returns the string representation of ProviderCode
func (c ProviderCode) String() string {
	return string(c)
}

// DisplayName returns a human-readable name for the provider
func (c ProviderCode) DisplayName() string {
	switch c {
	case ProviderCodeJira:
		return "Jira Cloud"
	case ProviderCodeEntra:
		return "Microsoft Entra ID"
	default:
		return string(c)
	}
}

// ---------------------------------------------------------------------------
// EntityType represents the kind of synchronized entity
// ---------------------------------------------------------------------------

// EntityType identifies the kind of entity a provider exposes
type EntityType string

const (
	EntityTypeUser    EntityType = "user"
	EntityTypeGroup   EntityType = "group"
	EntityTypeProject EntityType = "project"
)

// IsValid returns true if the entity type is valid
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeUser, EntityTypeGroup, EntityTypeProject:
		return true
	}
	return false
}

// String returns the string representation of EntityType
func (t EntityType) String() string {
	return string(t)
}

// ---------------------------------------------------------------------------
// Scope narrows a sync stream to a provider-side subset
// ---------------------------------------------------------------------------

// ScopeKind identifies how a sync stream is scoped
type ScopeKind string

const (
	// ScopeKindOrganization covers every entity the provider exposes to the org
	ScopeKindOrganization ScopeKind = "organization"
	// ScopeKindProject covers entities belonging to one provider project
	ScopeKindProject ScopeKind = "project"
)

// IsValid returns true if the scope kind is valid
func (k ScopeKind) IsValid() bool {
	switch k {
	case ScopeKindOrganization, ScopeKindProject:
		return true
	}
	return false
}

// String returns the string representation of ScopeKind
func (k ScopeKind) String() string {
	return string(k)
}

// Scope narrows a sync stream to a subset of the provider's entities.
// Key is the provider-side project key and must be set for project scope.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	Key  string    `json:"key,omitempty"`
}

// OrgScope returns a scope covering the whole organization
func OrgScope() Scope {
	return Scope{Kind: ScopeKindOrganization}
}

// ProjectScope returns a scope covering a single provider project
func ProjectScope(key string) Scope {
	return Scope{Kind: ScopeKindProject, Key: key}
}

// Validate checks the scope for consistency
func (s Scope) Validate() error {
	if !s.Kind.IsValid() {
		return shared.NewDomainError("INVALID_SCOPE", "Unknown scope kind")
	}
	if s.Kind == ScopeKindProject && strings.TrimSpace(s.Key) == "" {
		return shared.NewDomainError("INVALID_SCOPE", "Project scope requires a key")
	}
	if s.Kind == ScopeKindOrganization && s.Key != "" {
		return shared.NewDomainError("INVALID_SCOPE", "Organization scope must not carry a key")
	}
	return nil
}

// String returns a stable textual form used in logs and stream keys
func (s Scope) String() string {
	if s.Key == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.Key
}

// ---------------------------------------------------------------------------
// AttributeMap
// ---------------------------------------------------------------------------

// AttributeMap holds normalized entity attributes keyed by internal field
// name. A key that is absent leaves the field untouched during merge; a key
// present with a nil value clears the field; any other value sets it.
type AttributeMap map[string]any

// Clone returns a shallow copy of the map
func (m AttributeMap) Clone() AttributeMap {
	if m == nil {
		return nil
	}
	out := make(AttributeMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal compares two attribute maps key by key using normalized scalar
// comparison, so an int 3 and an int64 3 coming from different JSON
// decoders compare equal.
func (m AttributeMap) Equal(other AttributeMap) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || !scalarEqual(v, ov) {
			return false
		}
	}
	return true
}

// scalarEqual compares two attribute values after normalizing numeric types
func scalarEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// ExternalEntity
// ---------------------------------------------------------------------------

// ExternalEntity is an immutable snapshot of one provider entity as of
// FetchedAt. Snapshots are replaced on re-fetch, never mutated in place.
type ExternalEntity struct {
	// Provider is the provider the snapshot came from
	Provider ProviderCode
	// Type is the kind of entity captured
	Type EntityType
	// ExternalID is the provider-assigned identifier
	ExternalID string
	// NaturalKey is the provider-independent identity used for resolution
	// when no external id link exists yet (email for users, project key
	// for projects)
	NaturalKey string
	// Attributes holds the mapped field values
	Attributes AttributeMap
	// FetchedAt is when the snapshot was taken from the provider
	FetchedAt time.Time
}

// Validate checks the snapshot for consistency
func (e ExternalEntity) Validate() error {
	if !e.Provider.IsValid() {
		return fmt.Errorf("integration: invalid provider code %q", e.Provider)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("integration: invalid entity type %q", e.Type)
	}
	if strings.TrimSpace(e.ExternalID) == "" {
		return fmt.Errorf("integration: external id cannot be empty")
	}
	if e.FetchedAt.IsZero() {
		return fmt.Errorf("integration: fetched-at timestamp cannot be zero")
	}
	return nil
}

// Ref returns the entity's provider-side reference
func (e ExternalEntity) Ref() EntityRef {
	return EntityRef{Provider: e.Provider, Type: e.Type, ExternalID: e.ExternalID}
}

// ---------------------------------------------------------------------------
// EntityRef
// ---------------------------------------------------------------------------

// EntityRef identifies one entity on one provider
type EntityRef struct {
	Provider   ProviderCode
	Type       EntityType
	ExternalID string
}

// Validate checks the reference for consistency
func (r EntityRef) Validate() error {
	if !r.Provider.IsValid() {
		return fmt.Errorf("integration: invalid provider code %q", r.Provider)
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("integration: invalid entity type %q", r.Type)
	}
	if strings.TrimSpace(r.ExternalID) == "" {
		return fmt.Errorf("integration: external id cannot be empty")
	}
	return nil
}

// String returns a stable cache key for the reference
func (r EntityRef) String() string {
	return string(r.Provider) + "/" + string(r.Type) + "/" + r.ExternalID
}
