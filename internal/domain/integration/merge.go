package integration

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ---------------------------------------------------------------------------
// Field mapping
// ---------------------------------------------------------------------------

// Transform names a value transformation applied while mapping a provider
// field to an internal attribute. Transforms are looked up by name from a
// fixed table, never via reflection.
type Transform string

const (
	// TransformIdentity passes the value through unchanged
	TransformIdentity Transform = "identity"
	// TransformEmail trims and case-folds an email address
	TransformEmail Transform = "email"
	// TransformAvatar selects a single avatar URL from a provider's
	// size-keyed avatar map
	TransformAvatar Transform = "avatar"
)

// FieldMapping declares how one provider field maps to one internal
// attribute
type FieldMapping struct {
	// External is the provider payload key
	External string
	// Internal is the attribute name on the internal record
	Internal string
	// Transform is applied to the value, identity when empty
	Transform Transform
}

// Jira payload mappings
var jiraProjectMappings = []FieldMapping{
	{External: "key", Internal: "key"},
	{External: "name", Internal: "name"},
	{External: "description", Internal: "description"},
	{External: "projectTypeKey", Internal: "project_type"},
	{External: "avatarUrls", Internal: "avatar_url", Transform: TransformAvatar},
	{External: "archived", Internal: "archived"},
}

var jiraUserMappings = []FieldMapping{
	{External: "emailAddress", Internal: "email", Transform: TransformEmail},
	{External: "displayName", Internal: "display_name"},
	{External: "active", Internal: "active"},
	{External: "timeZone", Internal: "time_zone"},
	{External: "accountType", Internal: "account_type"},
	{External: "avatarUrls", Internal: "avatar_url", Transform: TransformAvatar},
}

// Entra payload mappings
var entraUserMappings = []FieldMapping{
	{External: "mail", Internal: "email", Transform: TransformEmail},
	{External: "userPrincipalName", Internal: "principal_name", Transform: TransformEmail},
	{External: "displayName", Internal: "display_name"},
	{External: "givenName", Internal: "given_name"},
	{External: "surname", Internal: "surname"},
	{External: "jobTitle", Internal: "job_title"},
	{External: "department", Internal: "department"},
	{External: "accountEnabled", Internal: "active"},
}

var entraGroupMappings = []FieldMapping{
	{External: "displayName", Internal: "name"},
	{External: "description", Internal: "description"},
	{External: "mail", Internal: "email", Transform: TransformEmail},
	{External: "securityEnabled", Internal: "security_enabled"},
}

// MappingsFor returns the field mapping table for a provider and entity
// type. The second return is false when the combination is not synced.
func MappingsFor(provider ProviderCode, entityType EntityType) ([]FieldMapping, bool) {
	switch provider {
	case ProviderCodeJira:
		switch entityType {
		case EntityTypeProject:
			return jiraProjectMappings, true
		case EntityTypeUser:
			return jiraUserMappings, true
		}
	case ProviderCodeEntra:
		switch entityType {
		case EntityTypeUser:
			return entraUserMappings, true
		case EntityTypeGroup:
			return entraGroupMappings, true
		}
	}
	return nil, false
}

// MapAttributes converts a raw provider payload into internal attributes
// using a mapping table. A payload key that is missing stays absent from
// the result; a key present with a nil value maps to nil, which the merge
// treats as an explicit clear.
func MapAttributes(mappings []FieldMapping, raw map[string]any) AttributeMap {
	out := make(AttributeMap, len(mappings))
	for _, m := range mappings {
		v, ok := raw[m.External]
		if !ok {
			continue
		}
		out[m.Internal] = applyTransform(m.Transform, v)
	}
	return out
}

func applyTransform(t Transform, v any) any {
	if v == nil {
		return nil
	}
	switch t {
	case TransformEmail:
		if s, ok := v.(string); ok {
			return foldKey(s)
		}
		return v
	case TransformAvatar:
		return selectAvatar(v)
	default:
		return v
	}
}

// selectAvatar picks one URL from a size-keyed avatar map, preferring the
// 48x48 rendition Jira serves as the default
func selectAvatar(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if u, ok := m["48x48"].(string); ok && u != "" {
		return u
	}
	best := ""
	for _, raw := range m {
		if u, ok := raw.(string); ok && u > best {
			best = u
		}
	}
	if best == "" {
		return nil
	}
	return best
}

// ---------------------------------------------------------------------------
// Natural keys
// ---------------------------------------------------------------------------

var keyFolder = cases.Fold()

// foldKey normalizes a string to NFKC form and case-folds it, so the same
// address written with different Unicode spellings compares equal
func foldKey(s string) string {
	return keyFolder.String(norm.NFKC.String(strings.TrimSpace(s)))
}

// NormalizeNaturalKey normalizes a natural key for resolution lookups.
// User keys are email addresses and get Unicode case folding; other keys
// are compared verbatim after trimming.
func NormalizeNaturalKey(entityType EntityType, key string) string {
	if entityType == EntityTypeUser {
		return foldKey(key)
	}
	return strings.TrimSpace(key)
}

// ---------------------------------------------------------------------------
// Diff
// ---------------------------------------------------------------------------

// MergeOutcome classifies what a merge did to a record
type MergeOutcome string

const (
	MergeOutcomeCreated   MergeOutcome = "created"
	MergeOutcomeUpdated   MergeOutcome = "updated"
	MergeOutcomeUnchanged MergeOutcome = "unchanged"
	MergeOutcomeStale     MergeOutcome = "stale"
	MergeOutcomeFailed    MergeOutcome = "failed"
)

// IsValid checks if the outcome is a valid MergeOutcome
func (o MergeOutcome) IsValid() bool {
	switch o {
	case MergeOutcomeCreated, MergeOutcomeUpdated, MergeOutcomeUnchanged, MergeOutcomeStale, MergeOutcomeFailed:
		return true
	}
	return false
}

// String returns the string representation of MergeOutcome
func (o MergeOutcome) String() string {
	return string(o)
}

// MergeResult is the outcome of diffing one snapshot against one record
type MergeResult struct {
	// Changed is true when at least one attribute differs
	Changed bool
	// NextStatus is the status the record reaches once the merge commits
	NextStatus RecordStatus
	// Applied holds the delta to write: values to set, nil to clear.
	// Keys absent from the snapshot never appear here.
	Applied AttributeMap
	// Outcome classifies the merge for run stats. Callers that created
	// the record in this pass report created instead of updated.
	Outcome MergeOutcome
}

// Diff computes the attribute delta between a record and a snapshot,
// field by field. A field absent from the snapshot is left untouched, a
// field present with nil clears the record's value, and equal values
// produce no delta, so applying the same snapshot twice yields an empty
// delta the second time. A snapshot older than the record's last applied
// one is reported stale and produces no delta at all.
func Diff(record *InternalRecord, entity ExternalEntity) MergeResult {
	if !record.LastAppliedAt.IsZero() && entity.FetchedAt.Before(record.LastAppliedAt) {
		return MergeResult{
			Changed:    false,
			NextStatus: record.Status,
			Applied:    nil,
			Outcome:    MergeOutcomeStale,
		}
	}

	applied := make(AttributeMap)
	for k, v := range entity.Attributes {
		current, exists := record.Attributes[k]
		if v == nil {
			if exists {
				applied[k] = nil
			}
			continue
		}
		if !exists || !scalarEqual(current, v) {
			applied[k] = v
		}
	}

	nextStatus := record.Status
	if record.Status != RecordStatusLinked {
		nextStatus = RecordStatusLinked
	}

	outcome := MergeOutcomeUnchanged
	if len(applied) > 0 {
		outcome = MergeOutcomeUpdated
	}

	return MergeResult{
		Changed:    len(applied) > 0,
		NextStatus: nextStatus,
		Applied:    applied,
		Outcome:    outcome,
	}
}
