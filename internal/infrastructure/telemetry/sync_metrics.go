// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/projectlink/backend/internal/domain/integration"
)

// SyncMetrics provides synchronization metrics for the backend. It tracks
// merge outcomes, run completions, provider page fetches and the durable
// queue depth.
type SyncMetrics struct {
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	mergeTotal *Counter
	runTotal   *Counter
	taskTotal  *Counter

	// Histogram metrics
	runDuration  *Histogram
	pageDuration *Histogram

	// Gauge metrics (point-in-time values)
	queueDepth *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	queueProvider QueueDepthProvider
}

// QueueDepthProvider reports how many tasks are currently deliverable.
// The interface keeps the telemetry layer from depending on the queue
// implementation directly.
type QueueDepthProvider interface {
	PendingCount(ctx context.Context) (int64, error)
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter         metric.Meter
	Logger        *zap.Logger
	QueueProvider QueueDepthProvider
}

// NewSyncMetrics creates a new SyncMetrics instance.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{
		logger:        logger,
		stopChan:      make(chan struct{}),
		queueProvider: cfg.QueueProvider,
	}

	var err error

	sm.mergeTotal, err = NewCounter(
		cfg.Meter,
		"plink_sync_merge_total",
		"Total number of entity merges by outcome",
		"{merges}",
	)
	if err != nil {
		return nil, err
	}

	sm.runTotal, err = NewCounter(
		cfg.Meter,
		"plink_sync_run_total",
		"Total number of finished sync runs by terminal state",
		"{runs}",
	)
	if err != nil {
		return nil, err
	}

	sm.taskTotal, err = NewCounter(
		cfg.Meter,
		"plink_sync_task_total",
		"Total number of dispatched sync tasks by outcome",
		"{tasks}",
	)
	if err != nil {
		return nil, err
	}

	sm.runDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "plink_sync_run_duration_seconds",
		Description: "Wall time of finished sync runs",
		Unit:        "s",
	})
	if err != nil {
		return nil, err
	}

	sm.pageDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "plink_sync_page_fetch_duration_seconds",
		Description: "Latency of provider page fetches, retries included",
		Unit:        "s",
	})
	if err != nil {
		return nil, err
	}

	sm.queueDepth, err = NewGauge(
		cfg.Meter,
		"plink_sync_queue_depth",
		"Number of queued tasks currently deliverable",
		"{tasks}",
	)
	if err != nil {
		return nil, err
	}

	return sm, nil
}

// =============================================================================
// Merge Metrics
// =============================================================================

// RecordMerge records the outcome of one entity merge.
func (sm *SyncMetrics) RecordMerge(ctx context.Context, orgID uuid.UUID, provider integration.ProviderCode, entityType integration.EntityType, outcome integration.MergeOutcome) {
	sm.mergeTotal.Inc(ctx,
		AttrOrgID.String(orgID.String()),
		AttrProvider.String(provider.String()),
		AttrEntityType.String(entityType.String()),
		AttrMergeOutcome.String(outcome.String()),
	)
}

// =============================================================================
// Run Metrics
// =============================================================================

// RecordRunFinished records a run reaching a terminal state.
func (sm *SyncMetrics) RecordRunFinished(ctx context.Context, run *integration.SyncRun) {
	attrs := []attribute.KeyValue{
		AttrOrgID.String(run.OrgID.String()),
		AttrProvider.String(run.Provider.String()),
		AttrEntityType.String(run.EntityType.String()),
		AttrRunState.String(run.State.String()),
	}

	sm.runTotal.Inc(ctx, attrs...)

	if run.StartedAt != nil && run.CompletedAt != nil {
		sm.runDuration.RecordDuration(ctx, run.CompletedAt.Sub(*run.StartedAt), attrs...)
	}
}

// RecordPageFetch records the latency of one provider page fetch,
// retries included.
func (sm *SyncMetrics) RecordPageFetch(ctx context.Context, provider integration.ProviderCode, entityType integration.EntityType, d time.Duration) {
	sm.pageDuration.RecordDuration(ctx, d,
		AttrProvider.String(provider.String()),
		AttrEntityType.String(entityType.String()),
	)
}

// =============================================================================
// Task Metrics
// =============================================================================

// TaskOutcome classifies how a dispatched task ended for metrics labeling.
type TaskOutcome string

const (
	TaskOutcomeCompleted TaskOutcome = "completed"
	TaskOutcomeReleased  TaskOutcome = "released"
)

// RecordTask records the outcome of one dispatched task.
func (sm *SyncMetrics) RecordTask(ctx context.Context, provider integration.ProviderCode, outcome TaskOutcome) {
	sm.taskTotal.Inc(ctx,
		AttrProvider.String(provider.String()),
		AttrTaskOutcome.String(string(outcome)),
	)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartQueueDepthCollection starts periodic collection of the queue depth
// gauge. This is non-blocking - use Stop() to stop collection.
func (sm *SyncMetrics) StartQueueDepthCollection(ctx context.Context, interval time.Duration) {
	if sm.queueProvider == nil {
		sm.logger.Debug("No queue provider configured, skipping queue depth collection")
		return
	}

	sm.collectOnce.Do(func() {
		go sm.runQueueDepthCollection(ctx, interval)
	})
}

func (sm *SyncMetrics) runQueueDepthCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sm.collectQueueDepth(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case <-ticker.C:
			sm.collectQueueDepth(ctx)
		}
	}
}

func (sm *SyncMetrics) collectQueueDepth(ctx context.Context) {
	count, err := sm.queueProvider.PendingCount(ctx)
	if err != nil {
		sm.logger.Warn("Failed to collect queue depth", zap.Error(err))
		return
	}
	sm.queueDepth.Record(ctx, count)
}

// Stop stops the periodic collection.
func (sm *SyncMetrics) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// =============================================================================
// Attribute Key Constants
// =============================================================================

// Sync metrics attribute keys not already defined in metrics.go
var (
	AttrOrgID        = attribute.Key("org_id")
	AttrProvider     = attribute.Key("provider")
	AttrEntityType   = attribute.Key("entity_type")
	AttrMergeOutcome = attribute.Key("merge_outcome")
	AttrRunState     = attribute.Key("run_state")
	AttrTaskOutcome  = attribute.Key("task_outcome")
)
