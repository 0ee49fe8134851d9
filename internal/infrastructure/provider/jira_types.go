package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Jira account types returned by the user APIs
const (
	// JiraAccountTypeAtlassian is a regular human account
	JiraAccountTypeAtlassian = "atlassian"
	// JiraAccountTypeApp is a bot account belonging to an installed app
	JiraAccountTypeApp = "app"
	// JiraAccountTypeCustomer is a service-desk portal-only account
	JiraAccountTypeCustomer = "customer"
)

// jiraCursor is the decoded form of the opaque page token. Jira pages by
// offset; the token carries the next startAt so a run can resume from the
// exact page it last committed.
type jiraCursor struct {
	StartAt int `json:"startAt"`
}

// encodeJiraCursor encodes a cursor into its opaque wire form
func encodeJiraCursor(c jiraCursor) string {
	raw, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(raw)
}

// decodeJiraCursor decodes an opaque token. An empty token means the
// first page.
func decodeJiraCursor(token string) (jiraCursor, error) {
	if token == "" {
		return jiraCursor{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return jiraCursor{}, fmt.Errorf("jira: malformed cursor: %w", err)
	}
	var c jiraCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return jiraCursor{}, fmt.Errorf("jira: malformed cursor: %w", err)
	}
	if c.StartAt < 0 {
		return jiraCursor{}, fmt.Errorf("jira: malformed cursor: negative offset")
	}
	return c, nil
}

// JiraProjectSearchResponse is the envelope of /rest/api/3/project/search.
// Entities stay raw maps so that a field the provider omitted is
// distinguishable from a field it set to null.
type JiraProjectSearchResponse struct {
	StartAt    int              `json:"startAt"`
	MaxResults int              `json:"maxResults"`
	Total      int              `json:"total"`
	IsLast     bool             `json:"isLast"`
	Values     []map[string]any `json:"values"`
}

// JiraErrorResponse is the error body Jira returns alongside non-2xx
// statuses
type JiraErrorResponse struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}

// Message flattens the error body into a single line for logs
func (r *JiraErrorResponse) Message() string {
	parts := make([]string, 0, len(r.ErrorMessages)+len(r.Errors))
	parts = append(parts, r.ErrorMessages...)
	for field, msg := range r.Errors {
		parts = append(parts, field+": "+msg)
	}
	return strings.Join(parts, "; ")
}

// jiraString reads a string field from a raw payload, empty when absent
// or not a string
func jiraString(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}
