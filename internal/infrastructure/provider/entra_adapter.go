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

// EntraAdapter implements ProviderClient for Microsoft Entra ID via the
// Graph API. Paging uses the server-issued $skiptoken, carried verbatim
// as the opaque cursor, and auth comes from a TokenSource so tokens are
// cached and refreshed outside the request path.
type EntraAdapter struct {
	config     *EntraConfig
	tokens     TokenSource
	httpClient *http.Client
}

// NewEntraAdapter creates a new Entra adapter with the given configuration
// and token source
func NewEntraAdapter(config *EntraConfig, tokens TokenSource) (*EntraAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, fmt.Errorf("entra: token source is required")
	}

	return &EntraAdapter{
		config: config,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
	}, nil
}

// Code returns the provider code this adapter handles
func (a *EntraAdapter) Code() integration.ProviderCode {
	return integration.ProviderCodeEntra
}

// FetchPage fetches one page of users or groups. The cursor is the Graph
// $skiptoken and must be passed back verbatim to continue.
func (a *EntraAdapter) FetchPage(ctx context.Context, req *integration.PageRequest) (*integration.Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "entra.fetch_page",
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

func (a *EntraAdapter) fetchPage(ctx context.Context, req *integration.PageRequest) (*integration.Page, error) {
	if req.Scope.Kind != integration.ScopeKindOrganization {
		return nil, integration.NewPermanentError(integration.ProviderCodeEntra, 0,
			fmt.Sprintf("scope %s is not supported, the directory has no projects", req.Scope), nil)
	}

	var (
		path     string
		selected string
	)
	switch req.EntityType {
	case integration.EntityTypeUser:
		path = "/v1.0/users"
		selected = entraUserSelect
	case integration.EntityTypeGroup:
		path = "/v1.0/groups"
		selected = entraGroupSelect
	default:
		return nil, integration.NewPermanentError(integration.ProviderCodeEntra, 0,
			fmt.Sprintf("entity type %s is not synced from Entra", req.EntityType), nil)
	}

	query := url.Values{}
	query.Set("$top", strconv.Itoa(req.PageSize))
	query.Set("$select", selected)
	if req.Cursor != "" {
		query.Set("$skiptoken", req.Cursor)
	}

	body, err := a.doGet(ctx, path, query)
	if err != nil {
		return nil, err
	}

	var resp GraphListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, integration.NewTransientError(integration.ProviderCodeEntra, 0, "failed to parse list response", err)
	}

	nextToken, err := resp.NextSkipToken()
	if err != nil {
		return nil, integration.NewTransientError(integration.ProviderCodeEntra, 0, err.Error(), err)
	}

	fetchedAt := time.Now()
	page := &integration.Page{
		Entities:   make([]integration.ExternalEntity, 0, len(resp.Value)),
		NextCursor: nextToken,
		HasMore:    nextToken != "",
	}

	for _, raw := range resp.Value {
		if req.EntityType == integration.EntityTypeUser && entraDisabled(raw) {
			continue
		}
		entity, ok := a.mapEntity(req.EntityType, raw, fetchedAt)
		if !ok {
			continue
		}
		page.Entities = append(page.Entities, entity)
	}

	return page, nil
}

// FetchEntity fetches a single entity snapshot by reference
func (a *EntraAdapter) FetchEntity(ctx context.Context, ref integration.EntityRef) (*integration.ExternalEntity, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var (
		path     string
		selected string
	)
	switch ref.Type {
	case integration.EntityTypeUser:
		path = "/v1.0/users/" + url.PathEscape(ref.ExternalID)
		selected = entraUserSelect
	case integration.EntityTypeGroup:
		path = "/v1.0/groups/" + url.PathEscape(ref.ExternalID)
		selected = entraGroupSelect
	default:
		return nil, integration.NewPermanentError(integration.ProviderCodeEntra, 0,
			fmt.Sprintf("entity type %s is not synced from Entra", ref.Type), nil)
	}

	query := url.Values{}
	query.Set("$select", selected)

	body, err := a.doGet(ctx, path, query)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, integration.NewTransientError(integration.ProviderCodeEntra, 0, "failed to parse entity response", err)
	}

	entity, ok := a.mapEntity(ref.Type, raw, time.Now())
	if !ok {
		return nil, integration.NewPermanentError(integration.ProviderCodeEntra, 0, "entity payload carries no identifier", nil)
	}

	return &entity, nil
}

// mapEntity converts a raw Graph payload into a snapshot. Users resolve
// by mail, falling back to the principal name which the directory always
// sets; groups resolve by display name.
func (a *EntraAdapter) mapEntity(entityType integration.EntityType, raw map[string]any, fetchedAt time.Time) (integration.ExternalEntity, bool) {
	externalID := entraString(raw, "id")
	if externalID == "" {
		return integration.ExternalEntity{}, false
	}

	var naturalKey string
	if entityType == integration.EntityTypeUser {
		naturalKey = entraString(raw, "mail")
		if naturalKey == "" {
			naturalKey = entraString(raw, "userPrincipalName")
		}
		if naturalKey == "" {
			naturalKey = externalID
		}
	} else {
		naturalKey = entraString(raw, "displayName")
		if naturalKey == "" {
			naturalKey = externalID
		}
	}

	mappings, _ := integration.MappingsFor(integration.ProviderCodeEntra, entityType)

	return integration.ExternalEntity{
		Provider:   integration.ProviderCodeEntra,
		Type:       entityType,
		ExternalID: externalID,
		NaturalKey: integration.NormalizeNaturalKey(entityType, naturalKey),
		Attributes: integration.MapAttributes(mappings, raw),
		FetchedAt:  fetchedAt,
	}, true
}

// doGet performs a GET request against the Graph API
func (a *EntraAdapter) doGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := a.config.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("entra: failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, integration.NewTransientError(integration.ProviderCodeEntra, 0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, integration.NewTransientError(integration.ProviderCodeEntra, resp.StatusCode, "failed to read response", err)
	}

	if resp.StatusCode >= 400 {
		message := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var errResp GraphErrorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil {
			if detail := errResp.Message(); detail != "" {
				message = detail
			}
		}
		return nil, translateStatus(integration.ProviderCodeEntra, resp, message)
	}

	return body, nil
}

// Ensure EntraAdapter implements ProviderClient
var _ integration.ProviderClient = (*EntraAdapter)(nil)
