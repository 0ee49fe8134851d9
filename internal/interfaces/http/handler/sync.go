package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	appintegration "github.com/projectlink/backend/internal/application/integration"
	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/domain/shared"
	"github.com/projectlink/backend/internal/interfaces/http/dto"
	"github.com/projectlink/backend/internal/interfaces/http/middleware"
)

// SyncHandler handles sync run, task, and record HTTP requests
type SyncHandler struct {
	BaseHandler
	service *appintegration.SyncService
	lookup  *appintegration.EntityLookupService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(service *appintegration.SyncService) *SyncHandler {
	return &SyncHandler{service: service}
}

// SetLookupService wires cached single-entity lookups against providers
func (h *SyncHandler) SetLookupService(lookup *appintegration.EntityLookupService) {
	h.lookup = lookup
}

// ============================================================================
// Request DTOs for HTTP layer
// ============================================================================

// TriggerSyncHTTPRequest represents the HTTP request body for triggering a sync pass
type TriggerSyncHTTPRequest struct {
	Provider   string        `json:"provider" binding:"required,providercode"`
	EntityType string        `json:"entity_type" binding:"required,entitytype"`
	Scope      ScopeHTTPBody `json:"scope"`
}

// ScopeHTTPBody represents the scope portion of a trigger request
type ScopeHTTPBody struct {
	Kind string `json:"kind" binding:"required,scopekind"`
	Key  string `json:"key,omitempty" binding:"omitempty,max=255"`
}

// RunListHTTPRequest represents query parameters for listing sync runs
type RunListHTTPRequest struct {
	dto.ListRequest
	State      string `form:"state" binding:"omitempty,oneof=pending fetching merging committing completed failed"`
	Provider   string `form:"provider" binding:"omitempty,providercode"`
	EntityType string `form:"entity_type" binding:"omitempty,entitytype"`
}

// RecordListHTTPRequest represents query parameters for listing internal records
type RecordListHTTPRequest struct {
	dto.ListRequest
	Type     string `form:"type" binding:"required,entitytype"`
	Status   string `form:"status" binding:"omitempty,oneof=unlinked linking linked link_failed"`
	Provider string `form:"provider" binding:"omitempty,providercode"`
	Linked   *bool  `form:"linked"`
}

// toSharedFilter maps list query parameters onto the repository filter.
// Sort columns are whitelisted by the repositories, not here.
func toSharedFilter(req dto.ListRequest) shared.Filter {
	return shared.Filter{
		Page:     req.Page,
		PageSize: req.PageSize,
		OrderBy:  req.OrderBy,
		OrderDir: req.OrderDir,
		Search:   req.Search,
	}
}

// ============================================================================
// Sync run handlers
// ============================================================================

// TriggerRun queues a background sync pass for a provider stream
func (h *SyncHandler) TriggerRun(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.BadRequest(c, "A valid X-Org-ID header is required")
		return
	}

	var req TriggerSyncHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	stream := integration.Stream{
		OrgID:      orgID,
		Provider:   integration.ProviderCode(req.Provider),
		EntityType: integration.EntityType(req.EntityType),
		Scope: integration.Scope{
			Kind: integration.ScopeKind(req.Scope.Kind),
			Key:  req.Scope.Key,
		},
	}

	task, err := h.service.TriggerSync(c.Request.Context(), stream)
	if err != nil {
		h.respondSyncError(c, err)
		return
	}

	h.Accepted(c, appintegration.ToSyncTaskResponse(task))
}

// ListRuns lists sync runs for the organization, newest first
func (h *SyncHandler) ListRuns(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.BadRequest(c, "A valid X-Org-ID header is required")
		return
	}

	req := RunListHTTPRequest{ListRequest: dto.DefaultListRequest()}
	if err := c.ShouldBindQuery(&req); err != nil {
		h.bindError(c, err)
		return
	}

	filter := toSharedFilter(req.ListRequest)
	filters := make(map[string]interface{})
	if req.State != "" {
		filters["state"] = req.State
	}
	if req.Provider != "" {
		filters["provider"] = req.Provider
	}
	if req.EntityType != "" {
		filters["entity_type"] = req.EntityType
	}
	if len(filters) > 0 {
		filter.Filters = filters
	}

	runs, err := h.service.ListRuns(c.Request.Context(), orgID, filter)
	if err != nil {
		h.respondSyncError(c, err)
		return
	}

	h.Success(c, appintegration.ToSyncRunListResponses(runs))
}

// GetRun returns one sync run with its page cursor and counters
func (h *SyncHandler) GetRun(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.BadRequest(c, "A valid X-Org-ID header is required")
		return
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid run ID")
		return
	}

	run, err := h.service.GetRun(c.Request.Context(), orgID, runID)
	if err != nil {
		h.respondSyncError(c, err)
		return
	}

	h.Success(c, appintegration.ToSyncRunResponse(run))
}

// GetRunArchive returns a time-limited download URL for a run's archived summary
func (h *SyncHandler) GetRunArchive(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.BadRequest(c, "A valid X-Org-ID header is required")
		return
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid run ID")
		return
	}

	url, expiresAt, err := h.service.ArchiveURL(c.Request.Context(), orgID, runID, 0)
	if err != nil {
		h.respondSyncError(c, err)
		return
	}

	h.Success(c, appintegration.ArchiveURLResponse{URL: url, ExpiresAt: expiresAt})
}

// GetTask returns a queued or finished task for trigger polling
func (h *SyncHandler) GetTask(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.BadRequest(c, "A valid X-Org-ID header is required")
		return
	}

	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid task ID")
		return
	}

	task, err := h.service.GetTask(c.Request.Context(), orgID, taskID)
	if err != nil {
		h.respondSyncError(c, err)
		return
	}

	h.Success(c, appintegration.ToSyncTaskResponse(task))
}

// ============================================================================
// Record handlers
// ============================================================================

// ListRecords lists internal records of one entity type
func (h *SyncHandler) ListRecords(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.BadRequest(c, "A valid X-Org-ID header is required")
		return
	}

	req := RecordListHTTPRequest{ListRequest: dto.DefaultListRequest()}
	if err := c.ShouldBindQuery(&req); err != nil {
		h.bindError(c, err)
		return
	}

	filter := toSharedFilter(req.ListRequest)
	filters := make(map[string]interface{})
	if req.Status != "" {
		filters["status"] = req.Status
	}
	if req.Provider != "" {
		filters["provider"] = req.Provider
	}
	if req.Linked != nil {
		filters["linked"] = *req.Linked
	}
	if len(filters) > 0 {
		filter.Filters = filters
	}

	records, err := h.service.ListRecords(c.Request.Context(), orgID, integration.EntityType(req.Type), filter)
	if err != nil {
		h.respondSyncError(c, err)
		return
	}

	h.Success(c, appintegration.ToInternalRecordListResponses(records))
}

// GetRecordSummary returns record counts per link status
func (h *SyncHandler) GetRecordSummary(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.BadRequest(c, "A valid X-Org-ID header is required")
		return
	}

	summary, err := h.service.RecordStatusSummary(c.Request.Context(), orgID)
	if err != nil {
		h.respondSyncError(c, err)
		return
	}

	h.Success(c, appintegration.ToRecordStatusSummaryResponse(summary))
}

// GetRecord returns one internal record with its attributes
func (h *SyncHandler) GetRecord(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.BadRequest(c, "A valid X-Org-ID header is required")
		return
	}

	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid record ID")
		return
	}

	record, err := h.service.GetRecord(c.Request.Context(), orgID, recordID)
	if err != nil {
		h.respondSyncError(c, err)
		return
	}

	h.Success(c, appintegration.ToInternalRecordResponse(record))
}

// UnlinkRecord severs the link between a record and its provider entity
func (h *SyncHandler) UnlinkRecord(c *gin.Context) {
	orgID, err := getOrgID(c)
	if err != nil {
		h.BadRequest(c, "A valid X-Org-ID header is required")
		return
	}

	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid record ID")
		return
	}

	record, err := h.service.UnlinkRecord(c.Request.Context(), orgID, recordID)
	if err != nil {
		h.respondSyncError(c, err)
		return
	}

	h.Success(c, appintegration.ToInternalRecordResponse(record))
}

// ============================================================================
// Entity lookup handlers
// ============================================================================

// LookupEntity returns a provider's snapshot of one entity, served from the
// staleness cache when fresh. Passing refresh=true drops the cached entry
// first so the provider is asked again.
func (h *SyncHandler) LookupEntity(c *gin.Context) {
	if h.lookup == nil {
		h.NotFound(c, "Entity lookup is not configured")
		return
	}

	if _, err := getOrgID(c); err != nil {
		h.BadRequest(c, "A valid X-Org-ID header is required")
		return
	}

	ref := integration.EntityRef{
		Provider:   integration.ProviderCode(c.Param("provider")),
		Type:       integration.EntityType(c.Param("type")),
		ExternalID: c.Param("external_id"),
	}
	if err := ref.Validate(); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	if c.Query("refresh") == "true" {
		h.lookup.Refresh(ref)
	}

	entity, err := h.lookup.Lookup(c.Request.Context(), ref)
	if err != nil {
		h.respondLookupError(c, err)
		return
	}

	h.Success(c, appintegration.ToExternalEntityResponse(entity))
}

// respondLookupError maps provider failures onto HTTP statuses: a permanent
// 404 from the provider means the entity does not exist, anything else the
// provider reported becomes a gateway error
func (h *SyncHandler) respondLookupError(c *gin.Context, err error) {
	var provErr *integration.ProviderError
	switch {
	case errors.Is(err, integration.ErrProviderNotRegistered):
		h.UnprocessableEntity(c, dto.ErrCodeInvalidState, "Provider is not configured")
	case errors.As(err, &provErr) && provErr.StatusCode == http.StatusNotFound:
		h.NotFound(c, "Provider has no entity with this ID")
	case errors.As(err, &provErr) && provErr.Class == integration.ErrorClassRateLimited:
		h.TooManyRequests(c, "Provider is throttling requests, try again later")
	case errors.As(err, &provErr):
		h.Error(c, http.StatusBadGateway, dto.ErrCodeProviderUnavailable, "Provider request failed")
	default:
		h.HandleError(c, err)
	}
}

// ============================================================================
// Error mapping
// ============================================================================

// bindError renders binding failures, with field details when the validator
// produced them
func (h *SyncHandler) bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		middleware.HandleValidationError(c, verrs)
		return
	}
	h.BadRequest(c, err.Error())
}

// respondSyncError maps sync sentinel errors onto HTTP statuses and falls
// back to generic domain error handling
func (h *SyncHandler) respondSyncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, integration.ErrSyncAlreadyQueued):
		h.Conflict(c, "A sync pass for this stream is already queued or running")
	case errors.Is(err, integration.ErrTaskNotFound):
		h.NotFound(c, "Task not found")
	case errors.Is(err, integration.ErrRunNotFound):
		h.NotFound(c, "Run not found")
	case errors.Is(err, integration.ErrRecordNotFound):
		h.NotFound(c, "Record not found")
	case errors.Is(err, integration.ErrArchiveNotAvailable):
		h.NotFound(c, "No archive is available for this run")
	case errors.Is(err, integration.ErrRecordNotLinked):
		h.UnprocessableEntity(c, dto.ErrCodeInvalidState, "Record is not linked to a provider entity")
	case errors.Is(err, shared.ErrNotFound):
		h.NotFound(c, "Resource not found")
	default:
		h.HandleError(c, err)
	}
}
