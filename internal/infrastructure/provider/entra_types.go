package provider

import (
	"fmt"
	"net/url"
)

// Graph $select projections keep responses to the fields the mapping
// tables consume. A selected field the directory has no value for comes
// back as null, which the merge treats as an explicit clear.
const (
	entraUserSelect  = "id,mail,userPrincipalName,displayName,givenName,surname,jobTitle,department,accountEnabled"
	entraGroupSelect = "id,displayName,description,mail,securityEnabled"
)

// GraphListResponse is the envelope of a Graph collection request.
// Entities stay raw maps so that absent and null fields remain
// distinguishable.
type GraphListResponse struct {
	NextLink string           `json:"@odata.nextLink"`
	Value    []map[string]any `json:"value"`
}

// NextSkipToken extracts the $skiptoken from the follow-up link Graph
// returns. Empty when the collection is exhausted.
func (r *GraphListResponse) NextSkipToken() (string, error) {
	if r.NextLink == "" {
		return "", nil
	}
	parsed, err := url.Parse(r.NextLink)
	if err != nil {
		return "", fmt.Errorf("entra: malformed nextLink: %w", err)
	}
	query := parsed.Query()
	if token := query.Get("$skiptoken"); token != "" {
		return token, nil
	}
	if token := query.Get("$skipToken"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("entra: nextLink carries no skip token")
}

// GraphErrorResponse is the error body Graph returns alongside non-2xx
// statuses
type GraphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Message flattens the error body into a single line for logs
func (r *GraphErrorResponse) Message() string {
	if r.Error.Code == "" {
		return r.Error.Message
	}
	if r.Error.Message == "" {
		return r.Error.Code
	}
	return r.Error.Code + ": " + r.Error.Message
}

// entraString reads a string field from a raw payload, empty when absent
// or not a string
func entraString(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

// entraDisabled reports whether a user payload marks the account as
// disabled. A missing or malformed flag counts as enabled so an
// unexpected payload shape never silently drops people.
func entraDisabled(raw map[string]any) bool {
	enabled, ok := raw["accountEnabled"].(bool)
	return ok && !enabled
}
