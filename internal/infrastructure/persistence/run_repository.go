package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/domain/shared"
	"github.com/projectlink/backend/internal/infrastructure/persistence/models"
)

// GormSyncRunRepository implements SyncRunRepository using GORM. Runs are
// never deleted; completed and failed runs stay as the audit trail.
type GormSyncRunRepository struct {
	db          *gorm.DB
	outboxSaver shared.OutboxEventSaver // optional, for transactional outbox pattern
}

// NewGormSyncRunRepository creates a new GormSyncRunRepository
func NewGormSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// SetOutboxEventSaver sets the outbox event saver for transactional event publishing
func (r *GormSyncRunRepository) SetOutboxEventSaver(saver shared.OutboxEventSaver) {
	r.outboxSaver = saver
}

// Save creates or updates a run and persists its pending domain events to
// the outbox in the same transaction. Updates are version-guarded; the
// orchestrator holds the only live handle to an active run, so a conflict
// means a second worker resumed the same run and this one must stop.
func (r *GormSyncRunRepository) Save(ctx context.Context, run *integration.SyncRun) error {
	events := run.GetDomainEvents()
	model := models.SyncRunModelFromDomain(run)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.SyncRunModel
		err := tx.Select("version").First(&current, "id = ?", run.ID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(model).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if current.Version != run.Version {
				return shared.ErrConcurrencyConflict
			}

			run.Version++

			result := tx.Model(&models.SyncRunModel{}).
				Where("id = ? AND version = ?", run.ID, current.Version).
				Updates(map[string]interface{}{
					"state":        model.State,
					"cursor":       model.Cursor,
					"stats":        model.Stats,
					"error_code":   model.ErrorCode,
					"error_detail": model.ErrorDetail,
					"started_at":   model.StartedAt,
					"completed_at": model.CompletedAt,
					"archive_key":  model.ArchiveKey,
					"version":      run.Version,
					"updated_at":   model.UpdatedAt,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return shared.ErrConcurrencyConflict
			}
		}

		if r.outboxSaver != nil && len(events) > 0 {
			if err := r.outboxSaver.SaveEvents(ctx, tx, events...); err != nil {
				return fmt.Errorf("failed to save events to outbox: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	run.ClearDomainEvents()
	return nil
}

// FindByID finds a run by ID within an organization
func (r *GormSyncRunRepository) FindByID(ctx context.Context, orgID, id uuid.UUID) (*integration.SyncRun, error) {
	var model models.SyncRunModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActiveByStream finds the non-terminal run for a stream, if any
func (r *GormSyncRunRepository) FindActiveByStream(ctx context.Context, stream integration.Stream) (*integration.SyncRun, error) {
	var model models.SyncRunModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND provider = ? AND entity_type = ? AND scope_kind = ? AND scope_key = ? AND state NOT IN ?",
			stream.OrgID, stream.Provider, stream.EntityType, stream.Scope.Kind, stream.Scope.Key,
			[]integration.RunState{integration.RunStateCompleted, integration.RunStateFailed}).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List lists runs for an organization, newest first
func (r *GormSyncRunRepository) List(ctx context.Context, orgID uuid.UUID, filter shared.Filter) ([]integration.SyncRun, error) {
	var runModels []models.SyncRunModel

	query := r.db.WithContext(ctx).Model(&models.SyncRunModel{}).Where("org_id = ?", orgID)
	query = r.applyFilter(query, filter)

	if err := query.Find(&runModels).Error; err != nil {
		return nil, err
	}

	runs := make([]integration.SyncRun, len(runModels))
	for i, model := range runModels {
		runs[i] = *model.ToDomain()
	}
	return runs, nil
}

// applyFilter applies filter options to the query
func (r *GormSyncRunRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	for key, value := range filter.Filters {
		switch key {
		case "state":
			query = query.Where("state = ?", value)
		case "provider":
			query = query.Where("provider = ?", value)
		case "entity_type":
			query = query.Where("entity_type = ?", value)
		}
	}

	if filter.Page > 0 && filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	sortField := ValidateSortField(filter.OrderBy, RunSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(sortField + " " + sortOrder)

	return query
}

// Ensure GormSyncRunRepository implements SyncRunRepository
var _ integration.SyncRunRepository = (*GormSyncRunRepository)(nil)
