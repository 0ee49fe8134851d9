package integration

import (
	"context"

	"go.uber.org/zap"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/domain/shared"
	"github.com/projectlink/backend/internal/infrastructure/retry"
)

// EntityLookupService answers single-entity questions against a provider
// through the staleness cache: repeated lookups for the same reference
// within the TTL cost one upstream call, and concurrent misses collapse
// into one. Lookups never feed merge commits; the orchestrator always
// works from the page snapshots it fetched itself.
type EntityLookupService struct {
	providers integration.ProviderRegistry
	cache     integration.EntityCache
	retryCfg  retry.Config
	logger    *zap.Logger
}

// NewEntityLookupService creates a new entity lookup service
func NewEntityLookupService(
	providers integration.ProviderRegistry,
	cache integration.EntityCache,
	retryCfg retry.Config,
	logger *zap.Logger,
) *EntityLookupService {
	return &EntityLookupService{
		providers: providers,
		cache:     cache,
		retryCfg:  retryCfg,
		logger:    logger,
	}
}

// Lookup returns the provider's snapshot for ref, served from cache when
// fresh. A miss fetches from the provider under the retry policy; failed
// fetches are never cached.
func (s *EntityLookupService) Lookup(ctx context.Context, ref integration.EntityRef) (*integration.ExternalEntity, error) {
	if err := ref.Validate(); err != nil {
		return nil, shared.NewDomainError("INVALID_ENTITY_REF", err.Error())
	}

	client, err := s.providers.Get(ref.Provider)
	if err != nil {
		return nil, err
	}

	entity, err := s.cache.GetOrFetch(ctx, ref, func(ctx context.Context) (*integration.ExternalEntity, error) {
		var fetched *integration.ExternalEntity
		fetchErr := retry.Do(ctx, s.logger, s.retryCfg, func(ctx context.Context) error {
			var innerErr error
			fetched, innerErr = client.FetchEntity(ctx, ref)
			return innerErr
		})
		if fetchErr != nil {
			return nil, fetchErr
		}
		return fetched, nil
	})
	if err != nil {
		s.logger.Warn("entity lookup failed",
			zap.String("provider", ref.Provider.String()),
			zap.String("entity_type", ref.Type.String()),
			zap.String("external_id", ref.ExternalID),
			zap.Error(err),
		)
		return nil, err
	}
	return entity, nil
}

// Refresh drops the cached snapshot for ref so the next lookup re-fetches
func (s *EntityLookupService) Refresh(ref integration.EntityRef) {
	s.cache.Invalidate(ref)
}
