package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/domain/shared"
	"github.com/projectlink/backend/internal/infrastructure/persistence/models"
)

// GormInternalRecordRepository implements InternalRecordRepository using GORM.
// All writes are version-guarded; a lost race surfaces as
// shared.ErrConcurrencyConflict and the caller retries against a refreshed
// record.
type GormInternalRecordRepository struct {
	db          *gorm.DB
	outboxSaver shared.OutboxEventSaver // optional, for transactional outbox pattern
}

// NewGormInternalRecordRepository creates a new GormInternalRecordRepository
func NewGormInternalRecordRepository(db *gorm.DB) *GormInternalRecordRepository {
	return &GormInternalRecordRepository{db: db}
}

// SetOutboxEventSaver sets the outbox event saver for transactional event publishing
func (r *GormInternalRecordRepository) SetOutboxEventSaver(saver shared.OutboxEventSaver) {
	r.outboxSaver = saver
}

// FindByID finds a record by ID within an organization
func (r *GormInternalRecordRepository) FindByID(ctx context.Context, orgID, id uuid.UUID) (*integration.InternalRecord, error) {
	var model models.InternalRecordModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByExternalID finds the record linked to a provider entity
func (r *GormInternalRecordRepository) FindByExternalID(ctx context.Context, orgID uuid.UUID, provider integration.ProviderCode, entityType integration.EntityType, externalID string) (*integration.InternalRecord, error) {
	if externalID == "" {
		return nil, shared.NewDomainError("INVALID_EXTERNAL_ID", "External ID cannot be empty")
	}
	var model models.InternalRecordModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND provider = ? AND type = ? AND external_id = ?", orgID, provider, entityType, externalID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByNaturalKey finds a record by its normalized natural key
func (r *GormInternalRecordRepository) FindByNaturalKey(ctx context.Context, orgID uuid.UUID, provider integration.ProviderCode, entityType integration.EntityType, naturalKey string) (*integration.InternalRecord, error) {
	if naturalKey == "" {
		return nil, shared.NewDomainError("INVALID_NATURAL_KEY", "Natural key cannot be empty")
	}
	var model models.InternalRecordModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND provider = ? AND type = ? AND natural_key = ?", orgID, provider, entityType, naturalKey).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a new record
func (r *GormInternalRecordRepository) Create(ctx context.Context, record *integration.InternalRecord) error {
	model := models.InternalRecordModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Update saves a record with an optimistic version check and persists its
// pending domain events to the outbox in the same transaction
func (r *GormInternalRecordRepository) Update(ctx context.Context, record *integration.InternalRecord) error {
	events := record.GetDomainEvents()
	model := models.InternalRecordModelFromDomain(record)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		currentVersion, err := currentRecordVersion(tx, record.ID)
		if err != nil {
			return err
		}
		if currentVersion != record.Version {
			return shared.ErrConcurrencyConflict
		}

		record.Version++
		record.UpdatedAt = time.Now()

		result := tx.Model(&models.InternalRecordModel{}).
			Where("id = ? AND version = ?", record.ID, currentVersion).
			Updates(map[string]interface{}{
				"natural_key":      model.NaturalKey,
				"external_id":      model.ExternalID,
				"attributes":       model.Attributes,
				"status":           model.Status,
				"last_applied_at":  model.LastAppliedAt,
				"link_fail_reason": model.LinkFailReason,
				"version":          record.Version,
				"updated_at":       record.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict
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

	record.ClearDomainEvents()
	return nil
}

// CommitLink atomically persists a link: external id, merged attributes,
// status and version land in one transactional write together with the
// outbox events. The unique index on the external id backs up the in-tx
// duplicate check, so a race between two records linking the same provider
// entity still resolves to exactly one winner.
func (r *GormInternalRecordRepository) CommitLink(ctx context.Context, record *integration.InternalRecord, intent integration.LinkIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}
	if intent.RecordID != record.ID {
		return shared.NewDomainError("INTENT_MISMATCH", "Link intent belongs to a different record")
	}

	attributes := []byte("{}")
	if len(intent.Attributes) > 0 {
		jsonBytes, err := json.Marshal(intent.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal link attributes: %w", err)
		}
		attributes = jsonBytes
	}

	events := record.GetDomainEvents()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&models.InternalRecordModel{}).
			Where("org_id = ? AND provider = ? AND type = ? AND external_id = ? AND id <> ?",
				intent.OrgID, intent.Provider, record.Type, intent.ExternalID, record.ID).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return integration.ErrExternalIDTaken
		}

		currentVersion, err := currentRecordVersion(tx, record.ID)
		if err != nil {
			return err
		}
		if currentVersion != record.Version {
			return shared.ErrConcurrencyConflict
		}

		record.Version++
		record.UpdatedAt = time.Now()

		result := tx.Model(&models.InternalRecordModel{}).
			Where("id = ? AND version = ?", record.ID, currentVersion).
			Updates(map[string]interface{}{
				"external_id":      intent.ExternalID,
				"attributes":       attributes,
				"status":           integration.RecordStatusLinked,
				"last_applied_at":  intent.SnapshotFetchedAt,
				"link_fail_reason": "",
				"version":          record.Version,
				"updated_at":       record.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict
		}

		if r.outboxSaver != nil && len(events) > 0 {
			if err := r.outboxSaver.SaveEvents(ctx, tx, events...); err != nil {
				return fmt.Errorf("failed to save events to outbox: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return integration.ErrExternalIDTaken
		}
		return err
	}

	record.ClearDomainEvents()
	return nil
}

// List lists records for an organization with filtering
func (r *GormInternalRecordRepository) List(ctx context.Context, orgID uuid.UUID, entityType integration.EntityType, filter shared.Filter) ([]integration.InternalRecord, error) {
	var recordModels []models.InternalRecordModel

	query := r.db.WithContext(ctx).Model(&models.InternalRecordModel{}).Where("org_id = ?", orgID)
	if entityType != "" {
		query = query.Where("type = ?", entityType)
	}
	query = r.applyFilter(query, filter)

	if err := query.Find(&recordModels).Error; err != nil {
		return nil, err
	}

	records := make([]integration.InternalRecord, len(recordModels))
	for i, model := range recordModels {
		records[i] = *model.ToDomain()
	}
	return records, nil
}

// CountByStatus counts records per status for an organization
func (r *GormInternalRecordRepository) CountByStatus(ctx context.Context, orgID uuid.UUID, status integration.RecordStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.InternalRecordModel{}).
		Where("org_id = ? AND status = ?", orgID, status).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// currentRecordVersion reads the persisted version of a record inside tx
func currentRecordVersion(tx *gorm.DB, id uuid.UUID) (int, error) {
	var current models.InternalRecordModel
	if err := tx.Select("version").First(&current, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, integration.ErrRecordNotFound
		}
		return 0, err
	}
	return current.Version, nil
}

// applyFilter applies filter options to the query
func (r *GormInternalRecordRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if filter.Search != "" {
		searchPattern := "%" + filter.Search + "%"
		query = query.Where("natural_key ILIKE ? OR external_id ILIKE ?", searchPattern, searchPattern)
	}

	for key, value := range filter.Filters {
		switch key {
		case "status":
			query = query.Where("status = ?", value)
		case "provider":
			query = query.Where("provider = ?", value)
		case "linked":
			if value == true {
				query = query.Where("external_id IS NOT NULL")
			} else {
				query = query.Where("external_id IS NULL")
			}
		}
	}

	if filter.Page > 0 && filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	sortField := ValidateSortField(filter.OrderBy, RecordSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(sortField + " " + sortOrder)

	return query
}

// Ensure GormInternalRecordRepository implements InternalRecordRepository
var _ integration.InternalRecordRepository = (*GormInternalRecordRepository)(nil)
