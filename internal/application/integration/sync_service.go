package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/domain/shared"
)

// DefaultArchiveURLTTL is how long a presigned archive download stays valid
const DefaultArchiveURLTTL = 15 * time.Minute

// SyncService is the application facade over sync state: it queues
// passes, exposes runs and records for inspection, and severs links on
// request. The actual syncing happens in the background through the
// task queue; this service never talks to a provider.
type SyncService struct {
	runs    integration.SyncRunRepository
	records integration.InternalRecordRepository
	queue   integration.TaskQueue
	engine  *MergeEngine
	archive integration.ArchiveStore
	logger  *zap.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(
	runs integration.SyncRunRepository,
	records integration.InternalRecordRepository,
	queue integration.TaskQueue,
	engine *MergeEngine,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		runs:    runs,
		records: records,
		queue:   queue,
		engine:  engine,
		logger:  logger,
	}
}

// SetArchiveStore wires object storage for archive downloads
func (s *SyncService) SetArchiveStore(store integration.ArchiveStore) {
	s.archive = store
}

// TriggerSync queues a sync pass for a stream. At most one task per
// stream is in flight at a time; triggering a stream that already has
// queued or running work returns ErrSyncAlreadyQueued.
func (s *SyncService) TriggerSync(ctx context.Context, stream integration.Stream) (*integration.SyncTask, error) {
	if err := stream.Validate(); err != nil {
		return nil, err
	}

	pending, err := s.queue.HasPending(ctx, stream)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, integration.ErrSyncAlreadyQueued
	}

	task, err := integration.NewSyncTask(stream)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return nil, integration.ErrSyncAlreadyQueued
		}
		return nil, err
	}

	s.logger.Info("sync pass queued",
		zap.String("org_id", stream.OrgID.String()),
		zap.String("stream", stream.Key()),
		zap.String("task_id", task.ID.String()),
	)

	return task, nil
}

// GetTask returns a queued or finished task for polling
func (s *SyncService) GetTask(ctx context.Context, orgID, taskID uuid.UUID) (*integration.SyncTask, error) {
	task, err := s.queue.FindByID(ctx, orgID, taskID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, integration.ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// GetRun returns one sync run
func (s *SyncService) GetRun(ctx context.Context, orgID, runID uuid.UUID) (*integration.SyncRun, error) {
	run, err := s.runs.FindByID(ctx, orgID, runID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, integration.ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns lists runs for an organization, newest first
func (s *SyncService) ListRuns(ctx context.Context, orgID uuid.UUID, filter shared.Filter) ([]integration.SyncRun, error) {
	return s.runs.List(ctx, orgID, filter)
}

// ListRecords lists internal records of one entity type
func (s *SyncService) ListRecords(ctx context.Context, orgID uuid.UUID, entityType integration.EntityType, filter shared.Filter) ([]integration.InternalRecord, error) {
	if !entityType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTITY_TYPE", "Unknown entity type")
	}
	return s.records.List(ctx, orgID, entityType, filter)
}

// GetRecord returns one internal record
func (s *SyncService) GetRecord(ctx context.Context, orgID, recordID uuid.UUID) (*integration.InternalRecord, error) {
	return s.records.FindByID(ctx, orgID, recordID)
}

// RecordStatusSummary counts records per link status
func (s *SyncService) RecordStatusSummary(ctx context.Context, orgID uuid.UUID) (map[integration.RecordStatus]int64, error) {
	statuses := []integration.RecordStatus{
		integration.RecordStatusUnlinked,
		integration.RecordStatusLinking,
		integration.RecordStatusLinked,
		integration.RecordStatusLinkFailed,
	}

	summary := make(map[integration.RecordStatus]int64, len(statuses))
	for _, status := range statuses {
		count, err := s.records.CountByStatus(ctx, orgID, status)
		if err != nil {
			return nil, err
		}
		summary[status] = count
	}
	return summary, nil
}

// UnlinkRecord severs the link between a record and its provider entity.
// The record and its attributes survive; the next sync pass may relink it
// through its natural key.
func (s *SyncService) UnlinkRecord(ctx context.Context, orgID, recordID uuid.UUID) (*integration.InternalRecord, error) {
	return s.engine.Unlink(ctx, orgID, recordID)
}

// ArchiveURL returns a presigned, time-limited download URL for a run's
// archived summary
func (s *SyncService) ArchiveURL(ctx context.Context, orgID, runID uuid.UUID, ttl time.Duration) (string, time.Time, error) {
	run, err := s.GetRun(ctx, orgID, runID)
	if err != nil {
		return "", time.Time{}, err
	}
	if s.archive == nil || run.ArchiveKey == "" {
		return "", time.Time{}, integration.ErrArchiveNotAvailable
	}
	if ttl <= 0 {
		ttl = DefaultArchiveURLTTL
	}
	return s.archive.PresignGet(ctx, run.ArchiveKey, ttl)
}
