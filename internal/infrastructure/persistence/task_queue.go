package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/domain/shared"
	"github.com/projectlink/backend/internal/infrastructure/persistence/models"
)

// GormTaskQueue implements TaskQueue on a database table. Claims run inside
// a transaction with FOR UPDATE SKIP LOCKED, so concurrent workers never
// lease the same task and never block each other. Delivery is at-least-once:
// a task whose lease lapses without Complete or Release becomes claimable
// again, which is how work held by a crashed worker gets back into rotation.
type GormTaskQueue struct {
	db *gorm.DB
}

// NewGormTaskQueue creates a new GormTaskQueue
func NewGormTaskQueue(db *gorm.DB) *GormTaskQueue {
	return &GormTaskQueue{db: db}
}

// Enqueue adds a task to the queue
func (q *GormTaskQueue) Enqueue(ctx context.Context, task *integration.SyncTask) error {
	model := models.SyncTaskModelFromDomain(task)
	if err := q.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Lease atomically claims up to n eligible tasks for leaseFor. Eligible
// means queued and due, or leased with an expired lease. Every grant
// consumes one attempt; a reclaimed task whose budget is already spent is
// moved to dead instead of being delivered again.
func (q *GormTaskQueue) Lease(ctx context.Context, n int, leaseFor time.Duration) ([]*integration.SyncTask, error) {
	if n <= 0 {
		return nil, nil
	}

	var leased []*integration.SyncTask
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		var candidates []models.SyncTaskModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? AND not_before <= ?) OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)",
				integration.TaskStatusQueued, now, integration.TaskStatusLeased, now).
			Order("not_before ASC").
			Limit(n).
			Find(&candidates).Error; err != nil {
			return err
		}

		for i := range candidates {
			task := candidates[i].ToDomain()

			if task.Attempts >= task.MaxAttempts {
				// The previous holder spent the budget and never released.
				if err := tx.Model(&models.SyncTaskModel{}).
					Where("id = ?", task.ID).
					Updates(map[string]interface{}{
						"status":           integration.TaskStatusDead,
						"lease_expires_at": nil,
						"updated_at":       now,
					}).Error; err != nil {
					return err
				}
				continue
			}

			if err := task.Lease(leaseFor); err != nil {
				continue
			}

			if err := tx.Model(&models.SyncTaskModel{}).
				Where("id = ?", task.ID).
				Updates(map[string]interface{}{
					"status":           task.Status,
					"attempts":         task.Attempts,
					"lease_expires_at": task.LeaseExpiresAt,
					"updated_at":       task.UpdatedAt,
				}).Error; err != nil {
				return err
			}

			leased = append(leased, task)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// BindRun durably records which run a leased task is executing. Zero rows
// affected means the lease lapsed and another worker holds the task now.
func (q *GormTaskQueue) BindRun(ctx context.Context, task *integration.SyncTask) error {
	result := q.db.WithContext(ctx).Model(&models.SyncTaskModel{}).
		Where("id = ? AND status = ?", task.ID, integration.TaskStatusLeased).
		Updates(map[string]interface{}{
			"run_id":     task.RunID,
			"updated_at": task.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Complete marks a leased task as done. Zero rows affected means another
// worker reclaimed the task after this worker's lease lapsed.
func (q *GormTaskQueue) Complete(ctx context.Context, task *integration.SyncTask) error {
	if err := task.Complete(); err != nil {
		return err
	}

	result := q.db.WithContext(ctx).Model(&models.SyncTaskModel{}).
		Where("id = ? AND status = ?", task.ID, integration.TaskStatusLeased).
		Updates(map[string]interface{}{
			"status":           task.Status,
			"run_id":           task.RunID,
			"lease_expires_at": nil,
			"updated_at":       task.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Release returns a failed task to the queue after a backoff, or marks it
// dead once the attempt budget is spent
func (q *GormTaskQueue) Release(ctx context.Context, task *integration.SyncTask, backoff time.Duration, cause error) error {
	if err := task.Release(backoff, cause); err != nil {
		return err
	}

	result := q.db.WithContext(ctx).Model(&models.SyncTaskModel{}).
		Where("id = ? AND status = ?", task.ID, integration.TaskStatusLeased).
		Updates(map[string]interface{}{
			"status":           task.Status,
			"run_id":           task.RunID,
			"not_before":       task.NotBefore,
			"lease_expires_at": nil,
			"last_error":       task.LastError,
			"updated_at":       task.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// FindByID finds a task by ID within an organization
func (q *GormTaskQueue) FindByID(ctx context.Context, orgID, id uuid.UUID) (*integration.SyncTask, error) {
	var model models.SyncTaskModel
	if err := q.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// HasPending reports whether a queued or leased task exists for the stream
func (q *GormTaskQueue) HasPending(ctx context.Context, stream integration.Stream) (bool, error) {
	var count int64
	if err := q.db.WithContext(ctx).
		Model(&models.SyncTaskModel{}).
		Where("org_id = ? AND provider = ? AND entity_type = ? AND scope_kind = ? AND scope_key = ? AND status IN ?",
			stream.OrgID, stream.Provider, stream.EntityType, stream.Scope.Kind, stream.Scope.Key,
			[]integration.TaskStatus{integration.TaskStatusQueued, integration.TaskStatusLeased}).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// PendingCount counts queued tasks that are currently deliverable
func (q *GormTaskQueue) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	if err := q.db.WithContext(ctx).
		Model(&models.SyncTaskModel{}).
		Where("status = ? AND not_before <= ?", integration.TaskStatusQueued, time.Now()).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Ensure GormTaskQueue implements TaskQueue
var _ integration.TaskQueue = (*GormTaskQueue)(nil)
