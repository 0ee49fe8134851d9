package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/infrastructure/telemetry"
)

// JiraAdapter implements ProviderClient for Jira Cloud. It speaks the v3
// REST API with basic auth and pages by offset, wrapped into the opaque
// cursor the sync engine passes back verbatim.
type JiraAdapter struct {
	config     *JiraConfig
	httpClient *http.Client
}

// NewJiraAdapter creates a new Jira adapter with the given configuration
func NewJiraAdapter(config *JiraConfig) (*JiraAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &JiraAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
	}, nil
}

// Code returns the provider code this adapter handles
func (a *JiraAdapter) Code() integration.ProviderCode {
	return integration.ProviderCodeJira
}

// FetchPage fetches one page of projects or users. The cursor wraps the
// provider's startAt offset and must be passed back verbatim to continue.
func (a *JiraAdapter) FetchPage(ctx context.Context, req *integration.PageRequest) (*integration.Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "jira.fetch_page",
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, req.EntityType.String()),
	)
	defer span.End()

	page, err := a.fetchPage(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return page, err
}

func (a *JiraAdapter) fetchPage(ctx context.Context, req *integration.PageRequest) (*integration.Page, error) {

	cursor, err := decodeJiraCursor(req.Cursor)
	if err != nil {
		return nil, integration.NewPermanentError(integration.ProviderCodeJira, 0, err.Error(), err)
	}

	switch req.EntityType {
	case integration.EntityTypeProject:
		if req.Scope.Kind != integration.ScopeKindOrganization {
			return nil, integration.NewPermanentError(integration.ProviderCodeJira, 0,
				fmt.Sprintf("scope %s is not supported for projects", req.Scope), nil)
		}
		return a.fetchProjects(ctx, cursor, req.PageSize)
	case integration.EntityTypeUser:
		return a.fetchUsers(ctx, req.Scope, cursor, req.PageSize)
	default:
		return nil, integration.NewPermanentError(integration.ProviderCodeJira, 0,
			fmt.Sprintf("entity type %s is not synced from Jira", req.EntityType), nil)
	}
}

// fetchProjects fetches one page of projects via project search
func (a *JiraAdapter) fetchProjects(ctx context.Context, cursor jiraCursor, pageSize int) (*integration.Page, error) {
	query := url.Values{}
	query.Set("startAt", strconv.Itoa(cursor.StartAt))
	query.Set("maxResults", strconv.Itoa(pageSize))

	body, err := a.doGet(ctx, "/rest/api/3/project/search", query)
	if err != nil {
		return nil, err
	}

	var resp JiraProjectSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, integration.NewTransientError(integration.ProviderCodeJira, 0, "failed to parse project search response", err)
	}

	fetchedAt := time.Now()
	page := &integration.Page{
		Entities: make([]integration.ExternalEntity, 0, len(resp.Values)),
		HasMore:  !resp.IsLast,
	}

	for _, raw := range resp.Values {
		entity, ok := a.mapProject(raw, fetchedAt)
		if !ok {
			continue
		}
		page.Entities = append(page.Entities, entity)
	}

	if page.HasMore {
		page.NextCursor = encodeJiraCursor(jiraCursor{StartAt: cursor.StartAt + len(resp.Values)})
	}

	return page, nil
}

// fetchUsers fetches one page of users. Organization scope walks the full
// user directory; project scope uses the assignable-user search for the
// scoped project key.
func (a *JiraAdapter) fetchUsers(ctx context.Context, scope integration.Scope, cursor jiraCursor, pageSize int) (*integration.Page, error) {
	path := "/rest/api/3/users/search"
	query := url.Values{}
	query.Set("startAt", strconv.Itoa(cursor.StartAt))
	query.Set("maxResults", strconv.Itoa(pageSize))

	if scope.Kind == integration.ScopeKindProject {
		path = "/rest/api/3/user/assignable/search"
		query.Set("project", scope.Key)
	}

	body, err := a.doGet(ctx, path, query)
	if err != nil {
		return nil, err
	}

	// The user endpoints return a bare array without an envelope
	var users []map[string]any
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, integration.NewTransientError(integration.ProviderCodeJira, 0, "failed to parse user search response", err)
	}

	fetchedAt := time.Now()
	page := &integration.Page{
		Entities: make([]integration.ExternalEntity, 0, len(users)),
		// Without an isLast marker a full page means there may be more
		HasMore: len(users) == pageSize,
	}

	for _, raw := range users {
		// App accounts are bot identities of installed apps, not people
		if jiraString(raw, "accountType") == JiraAccountTypeApp {
			continue
		}
		entity, ok := a.mapUser(raw, fetchedAt)
		if !ok {
			continue
		}
		page.Entities = append(page.Entities, entity)
	}

	if page.HasMore {
		// The offset advances by the unfiltered count the provider returned
		page.NextCursor = encodeJiraCursor(jiraCursor{StartAt: cursor.StartAt + len(users)})
	}

	return page, nil
}

// FetchEntity fetches a single entity snapshot by reference
func (a *JiraAdapter) FetchEntity(ctx context.Context, ref integration.EntityRef) (*integration.ExternalEntity, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var (
		body []byte
		err  error
	)

	switch ref.Type {
	case integration.EntityTypeProject:
		body, err = a.doGet(ctx, "/rest/api/3/project/"+url.PathEscape(ref.ExternalID), nil)
	case integration.EntityTypeUser:
		query := url.Values{}
		query.Set("accountId", ref.ExternalID)
		body, err = a.doGet(ctx, "/rest/api/3/user", query)
	default:
		return nil, integration.NewPermanentError(integration.ProviderCodeJira, 0,
			fmt.Sprintf("entity type %s is not synced from Jira", ref.Type), nil)
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, integration.NewTransientError(integration.ProviderCodeJira, 0, "failed to parse entity response", err)
	}

	var (
		entity integration.ExternalEntity
		ok     bool
	)
	if ref.Type == integration.EntityTypeProject {
		entity, ok = a.mapProject(raw, time.Now())
	} else {
		entity, ok = a.mapUser(raw, time.Now())
	}
	if !ok {
		return nil, integration.NewPermanentError(integration.ProviderCodeJira, 0, "entity payload carries no identifier", nil)
	}

	return &entity, nil
}

// mapProject converts a raw project payload into a snapshot. Projects are
// identified by the numeric id; the key is the natural identity humans
// reference.
func (a *JiraAdapter) mapProject(raw map[string]any, fetchedAt time.Time) (integration.ExternalEntity, bool) {
	externalID := jiraString(raw, "id")
	if externalID == "" {
		return integration.ExternalEntity{}, false
	}

	mappings, _ := integration.MappingsFor(integration.ProviderCodeJira, integration.EntityTypeProject)

	return integration.ExternalEntity{
		Provider:   integration.ProviderCodeJira,
		Type:       integration.EntityTypeProject,
		ExternalID: externalID,
		NaturalKey: integration.NormalizeNaturalKey(integration.EntityTypeProject, jiraString(raw, "key")),
		Attributes: integration.MapAttributes(mappings, raw),
		FetchedAt:  fetchedAt,
	}, true
}

// mapUser converts a raw user payload into a snapshot. Accounts hide
// their email under privacy settings; such users fall back to the account
// id as their natural key.
func (a *JiraAdapter) mapUser(raw map[string]any, fetchedAt time.Time) (integration.ExternalEntity, bool) {
	externalID := jiraString(raw, "accountId")
	if externalID == "" {
		return integration.ExternalEntity{}, false
	}

	naturalKey := jiraString(raw, "emailAddress")
	if naturalKey == "" {
		naturalKey = externalID
	}

	mappings, _ := integration.MappingsFor(integration.ProviderCodeJira, integration.EntityTypeUser)

	return integration.ExternalEntity{
		Provider:   integration.ProviderCodeJira,
		Type:       integration.EntityTypeUser,
		ExternalID: externalID,
		NaturalKey: integration.NormalizeNaturalKey(integration.EntityTypeUser, naturalKey),
		Attributes: integration.MapAttributes(mappings, raw),
		FetchedAt:  fetchedAt,
	}, true
}

// doGet performs a GET request against the Jira API
func (a *JiraAdapter) doGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	reqURL := a.config.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("jira: failed to create request: %w", err)
	}

	req.Header.Set("Authorization", a.config.BasicAuth())
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, integration.NewTransientError(integration.ProviderCodeJira, 0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, integration.NewTransientError(integration.ProviderCodeJira, resp.StatusCode, "failed to read response", err)
	}

	if resp.StatusCode >= 400 {
		message := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var errResp JiraErrorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil {
			if detail := errResp.Message(); detail != "" {
				message = detail
			}
		}
		return nil, translateStatus(integration.ProviderCodeJira, resp, message)
	}

	return body, nil
}

// Ensure JiraAdapter implements ProviderClient
var _ integration.ProviderClient = (*JiraAdapter)(nil)
