package integration

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Request/Response DTOs
// ---------------------------------------------------------------------------

// PageRequest represents a request for one page of provider entities
type PageRequest struct {
	// OrgID is the organization the request runs for
	OrgID uuid.UUID
	// EntityType is the kind of entity to fetch
	EntityType EntityType
	// Scope narrows the fetch to a provider-side subset
	Scope Scope
	// Cursor is the opaque position token from the previous page.
	// Empty starts at the beginning. Its format is owned by the
	// provider adapter and carries no meaning here.
	Cursor string
	// PageSize is the requested number of entities per page
	PageSize int
}

// Validate validates the page request
func (r *PageRequest) Validate() error {
	if r.OrgID == uuid.Nil {
		return errors.New("integration: organization ID is required")
	}
	if !r.EntityType.IsValid() {
		return errors.New("integration: invalid entity type")
	}
	if err := r.Scope.Validate(); err != nil {
		return err
	}
	if r.PageSize < 1 || r.PageSize > 100 {
		r.PageSize = 50
	}
	return nil
}

// Page represents one page of provider entities
type Page struct {
	// Entities contains the fetched snapshots
	Entities []ExternalEntity
	// NextCursor is the position token for the following page. Only
	// meaningful when HasMore is true.
	NextCursor string
	// HasMore indicates if there are more pages
	HasMore bool
}

// ---------------------------------------------------------------------------
// ProviderClient Port Interface
// ---------------------------------------------------------------------------

// ProviderClient defines the port interface for external providers. It is
// defined in the domain layer; concrete adapters (Jira, Entra) live in the
// infrastructure layer. Fetching is read-only and side-effect free: a
// failed fetch leaves nothing to undo.
type ProviderClient interface {
	// Code returns the provider code this adapter handles
	Code() ProviderCode

	// FetchPage fetches one page of entities. The returned cursor is
	// opaque to callers and must be passed back verbatim to continue.
	FetchPage(ctx context.Context, req *PageRequest) (*Page, error)

	// FetchEntity fetches a single entity snapshot by reference
	FetchEntity(ctx context.Context, ref EntityRef) (*ExternalEntity, error)
}

// ProviderRegistry provides access to configured provider adapters
type ProviderRegistry interface {
	// Get returns the adapter for the specified code
	Get(code ProviderCode) (ProviderClient, error)

	// List returns all registered adapters
	List() []ProviderClient
}
