package persistence

import (
	"strings"
)

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns "DESC" as the default if the input is invalid or empty.
func ValidateSortOrder(orderDir string) string {
	normalized := strings.ToUpper(strings.TrimSpace(orderDir))
	if normalized == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// Common allowed sort fields for entities with base fields
// These are the common fields present in most entities

// CommonSortFields contains fields common to most entities
var CommonSortFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

// RecordSortFields contains allowed sort fields for internal records
var RecordSortFields = map[string]bool{
	"id":              true,
	"created_at":      true,
	"updated_at":      true,
	"natural_key":     true,
	"external_id":     true,
	"provider":        true,
	"type":            true,
	"status":          true,
	"last_applied_at": true,
}

// RunSortFields contains allowed sort fields for sync runs
var RunSortFields = map[string]bool{
	"id":           true,
	"created_at":   true,
	"updated_at":   true,
	"provider":     true,
	"entity_type":  true,
	"scope_kind":   true,
	"state":        true,
	"started_at":   true,
	"completed_at": true,
}
