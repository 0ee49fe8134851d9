package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/domain/shared"
	"github.com/projectlink/backend/internal/infrastructure/telemetry"
)

// MergeEngine applies provider snapshots to internal records. Merging is
// idempotent: applying the same snapshot twice leaves the second
// application a no-op, and a crash between any two writes leaves a state
// the next merge retakes cleanly.
type MergeEngine struct {
	records     integration.InternalRecordRepository
	logger      *zap.Logger
	syncMetrics *telemetry.SyncMetrics
}

// NewMergeEngine creates a new merge engine
func NewMergeEngine(records integration.InternalRecordRepository, logger *zap.Logger) *MergeEngine {
	return &MergeEngine{
		records: records,
		logger:  logger,
	}
}

// SetSyncMetrics sets the sync metrics collector
func (e *MergeEngine) SetSyncMetrics(sm *telemetry.SyncMetrics) {
	e.syncMetrics = sm
}

// Merge applies one snapshot to the record it resolves to. Resolution
// goes by external id first, then by normalized natural key, and falls
// back to creating a new unlinked record. A write that loses a version
// race is retried exactly once against a refreshed record.
func (e *MergeEngine) Merge(ctx context.Context, orgID uuid.UUID, entity integration.ExternalEntity) (*integration.MergeResult, error) {
	if err := entity.Validate(); err != nil {
		return nil, err
	}

	result, err := e.mergeOnce(ctx, orgID, entity)
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		e.logger.Debug("merge lost a version race, retrying once",
			zap.String("org_id", orgID.String()),
			zap.String("provider", entity.Provider.String()),
			zap.String("external_id", entity.ExternalID),
		)
		result, err = e.mergeOnce(ctx, orgID, entity)
	}
	if err != nil {
		return nil, err
	}

	if e.syncMetrics != nil {
		e.syncMetrics.RecordMerge(ctx, orgID, entity.Provider, entity.Type, result.Outcome)
	}

	return result, nil
}

// Unlink detaches a record from its provider entity. The record and its
// attributes survive; only the link is severed. Emits
// sync.record.unlinked through the record's transaction outbox.
func (e *MergeEngine) Unlink(ctx context.Context, orgID, recordID uuid.UUID) (*integration.InternalRecord, error) {
	record, err := e.records.FindByID(ctx, orgID, recordID)
	if err != nil {
		return nil, err
	}
	if !record.IsLinked() {
		return nil, integration.ErrRecordNotLinked
	}

	telemetry.SetAttributes(telemetry.SpanFromContext(ctx),
		telemetry.SpanAttrRecordID, record.ID.String(),
		telemetry.SpanAttrNaturalKey, record.NaturalKey,
		telemetry.SpanAttrExternalID, *record.ExternalID,
	)

	if err := record.Unlink(); err != nil {
		return nil, err
	}
	if err := e.records.Update(ctx, record); err != nil {
		return nil, err
	}

	e.logger.Info("record unlinked",
		zap.String("org_id", orgID.String()),
		zap.String("record_id", recordID.String()),
		zap.String("provider", record.Provider.String()),
		zap.String("natural_key", record.NaturalKey),
	)

	return record, nil
}

// mergeOnce runs a single merge attempt
func (e *MergeEngine) mergeOnce(ctx context.Context, orgID uuid.UUID, entity integration.ExternalEntity) (*integration.MergeResult, error) {
	record, created, err := e.resolve(ctx, orgID, entity)
	if err != nil {
		return nil, err
	}

	result := integration.Diff(record, entity)
	if result.Outcome == integration.MergeOutcomeStale {
		return &result, nil
	}

	if record.IsLinked() {
		if record.ExternalID != nil && *record.ExternalID != entity.ExternalID {
			// A natural-key hit carrying a different external id means the
			// provider deleted and recreated the entity behind the same key.
			// Sever the old link first; the snapshot then relinks through
			// the same atomic commit as a first-time link.
			e.logger.Warn("provider entity recreated, relinking record",
				zap.String("org_id", orgID.String()),
				zap.String("record_id", record.ID.String()),
				zap.String("natural_key", record.NaturalKey),
				zap.String("old_external_id", *record.ExternalID),
				zap.String("new_external_id", entity.ExternalID),
			)
			if err := record.Unlink(); err != nil {
				return nil, err
			}
			if err := e.records.Update(ctx, record); err != nil {
				return nil, err
			}
			return e.link(ctx, record, entity, result, created)
		}
		if !result.Changed {
			// Replaying an already-applied snapshot changes nothing
			return &result, nil
		}
		if err := record.ApplyAttributes(result.Applied, entity.FetchedAt); err != nil {
			if errors.Is(err, integration.ErrStaleSnapshot) {
				result.Changed = false
				result.Applied = nil
				result.Outcome = integration.MergeOutcomeStale
				return &result, nil
			}
			return nil, err
		}
		if err := e.records.Update(ctx, record); err != nil {
			return nil, err
		}
		return &result, nil
	}

	return e.link(ctx, record, entity, result, created)
}

// resolve finds the record a snapshot belongs to, creating a new
// unlinked one when neither the external id nor the natural key matches
func (e *MergeEngine) resolve(ctx context.Context, orgID uuid.UUID, entity integration.ExternalEntity) (*integration.InternalRecord, bool, error) {
	record, err := e.records.FindByExternalID(ctx, orgID, entity.Provider, entity.Type, entity.ExternalID)
	if err == nil {
		return record, false, nil
	}
	if !errors.Is(err, integration.ErrRecordNotFound) {
		return nil, false, err
	}

	record, err = e.records.FindByNaturalKey(ctx, orgID, entity.Provider, entity.Type, entity.NaturalKey)
	if err == nil {
		return record, false, nil
	}
	if !errors.Is(err, integration.ErrRecordNotFound) {
		return nil, false, err
	}

	record, err = integration.NewInternalRecord(orgID, entity.Type, entity.Provider, entity.NaturalKey)
	if err != nil {
		return nil, false, err
	}
	if err := e.records.Create(ctx, record); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			// Another worker created the record between the lookup and
			// the insert
			record, err = e.records.FindByNaturalKey(ctx, orgID, entity.Provider, entity.Type, entity.NaturalKey)
			if err != nil {
				return nil, false, err
			}
			return record, false, nil
		}
		return nil, false, err
	}

	return record, true, nil
}

// link drives an unlinked record through linking into linked. The linking
// marker is persisted before the commit so a crash in between leaves a
// retakeable state, never a half-applied link.
func (e *MergeEngine) link(ctx context.Context, record *integration.InternalRecord, entity integration.ExternalEntity, result integration.MergeResult, created bool) (*integration.MergeResult, error) {
	wasLinking := record.Status == integration.RecordStatusLinking
	if err := record.BeginLinking(); err != nil {
		return nil, err
	}
	if !wasLinking {
		if err := e.records.Update(ctx, record); err != nil {
			return nil, err
		}
	}

	intent, err := record.BuildLinkIntent(entity, result.Applied)
	if err != nil {
		return nil, err
	}
	if err := record.CompleteLink(intent); err != nil {
		return nil, err
	}

	if err := e.records.CommitLink(ctx, record, intent); err != nil {
		if errors.Is(err, integration.ErrExternalIDTaken) {
			return e.failLink(ctx, record.OrgID, record.ID, entity)
		}
		return nil, err
	}

	if created {
		result.Outcome = integration.MergeOutcomeCreated
	} else {
		// Gaining the external id counts as an update even when no
		// attribute differed
		result.Outcome = integration.MergeOutcomeUpdated
	}

	return &result, nil
}

// failLink marks a rejected link attempt. The in-memory record has moved
// past linking, so the authoritative state is refetched before the
// transition.
func (e *MergeEngine) failLink(ctx context.Context, orgID, recordID uuid.UUID, entity integration.ExternalEntity) (*integration.MergeResult, error) {
	reason := fmt.Sprintf("external id %s is already linked to another record", entity.ExternalID)

	record, err := e.records.FindByID(ctx, orgID, recordID)
	if err != nil {
		return nil, err
	}
	if err := record.FailLink(reason); err != nil {
		return nil, err
	}
	if err := e.records.Update(ctx, record); err != nil {
		return nil, err
	}

	e.logger.Warn("link rejected, external id already taken",
		zap.String("org_id", orgID.String()),
		zap.String("record_id", recordID.String()),
		zap.String("provider", entity.Provider.String()),
		zap.String("external_id", entity.ExternalID),
	)

	return &integration.MergeResult{
		Changed:    false,
		NextStatus: integration.RecordStatusLinkFailed,
		Outcome:    integration.MergeOutcomeFailed,
	}, nil
}
