package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/domain/shared"
	"github.com/projectlink/backend/internal/infrastructure/logger"
	"github.com/projectlink/backend/internal/infrastructure/retry"
	"github.com/projectlink/backend/internal/infrastructure/telemetry"
)

const (
	// DefaultPageSize is the number of entities requested per provider page
	DefaultPageSize = 50
	// DefaultMergeConcurrency bounds how many entities of one page merge at once
	DefaultMergeConcurrency = 4
)

// OrchestratorConfig tunes one sync pass
type OrchestratorConfig struct {
	PageSize         int
	MergeConcurrency int
	Retry            retry.Config
}

func (c *OrchestratorConfig) normalize() {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MergeConcurrency <= 0 {
		c.MergeConcurrency = DefaultMergeConcurrency
	}
}

// Orchestrator drives a sync run through its lifecycle: fetch a page from
// the provider, merge its entities, commit the cursor, repeat until the
// provider reports no more pages. Progress is durable at page granularity,
// so a pass resumed after a crash or cancellation continues from the last
// committed cursor and converges on the same final state.
type Orchestrator struct {
	providers   integration.ProviderRegistry
	runs        integration.SyncRunRepository
	queue       integration.TaskQueue
	engine      *MergeEngine
	archive     integration.ArchiveStore
	cfg         OrchestratorConfig
	logger      *zap.Logger
	syncMetrics *telemetry.SyncMetrics
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	providers integration.ProviderRegistry,
	runs integration.SyncRunRepository,
	queue integration.TaskQueue,
	engine *MergeEngine,
	cfg OrchestratorConfig,
	log *zap.Logger,
) *Orchestrator {
	cfg.normalize()
	return &Orchestrator{
		providers: providers,
		runs:      runs,
		queue:     queue,
		engine:    engine,
		cfg:       cfg,
		logger:    log,
	}
}

// SetArchiveStore wires object storage for finished run summaries
func (o *Orchestrator) SetArchiveStore(store integration.ArchiveStore) {
	o.archive = store
}

// SetSyncMetrics sets the sync metrics for instrumentation
func (o *Orchestrator) SetSyncMetrics(sm *telemetry.SyncMetrics) {
	o.syncMetrics = sm
}

// ArchiveKey returns the object storage key of a run summary
func ArchiveKey(orgID, runID uuid.UUID) string {
	return fmt.Sprintf("sync-runs/%s/%s.json", orgID, runID)
}

// Execute runs one sync pass for the stream a task targets. Calling it
// again with the same task after a crash or lease expiry is safe: the
// pass resumes the bound run from its last committed cursor, merging an
// already-applied page is a no-op, and a task whose run already finished
// returns immediately.
//
// A non-nil error means the pass did not reach a verdict and the task
// should be redelivered. A run that fails on its own terms, permanent
// provider rejection or a spent retry budget, returns nil: the failure
// is recorded on the run and redelivering the task could not change it.
func (o *Orchestrator) Execute(ctx context.Context, task *integration.SyncTask) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync_run", "execute",
		telemetry.WithAttribute(telemetry.SpanAttrTaskID, task.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrProvider, task.Provider.String()),
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, task.EntityType.String()),
	)
	defer span.End()

	run, err := o.resolveRun(ctx, task)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if run == nil {
		// The bound run already finished; the redelivery has nothing
		// left to do.
		return nil
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrRunID, run.ID.String(),
		telemetry.SpanAttrScopeKind, run.Scope.Kind.String(),
		telemetry.SpanAttrScopeKey, run.Scope.Key,
	)

	// Tag the context so SQL logs and anything else below the pass can
	// be correlated with the run.
	ctx, log := logger.WithOrgID(ctx, o.logger, run.OrgID.String())
	ctx, log = logger.WithRunID(ctx, log, run.ID.String())
	log = log.With(
		zap.String("provider", run.Provider.String()),
		zap.String("entity_type", run.EntityType.String()),
		zap.String("scope", run.Scope.String()),
	)

	if run.State == integration.RunStatePending {
		if err := run.Start(); err != nil {
			return err
		}
		log.Info("Sync run started")
	} else {
		if err := run.Resume(); err != nil {
			return err
		}
		log.Info("Sync run resumed", zap.String("cursor", run.Cursor))
	}
	if err := o.runs.Save(ctx, run); err != nil {
		return err
	}

	// Bind before fetching anything. Once the run is bound, a redelivered
	// task finds it by id even after the run reached a terminal state.
	if err := task.BindRun(run.ID); err != nil {
		return err
	}
	if err := o.queue.BindRun(ctx, task); err != nil {
		return err
	}

	if err := o.drive(ctx, log, run); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrRunState, run.State.String())
	telemetry.SetOK(span)
	return nil
}

// resolveRun maps a task to the run it should execute. A run bound to the
// task wins; otherwise an active run for the stream is picked up, and only
// when neither exists is a new run created. Returns nil without error when
// the bound run is already terminal.
func (o *Orchestrator) resolveRun(ctx context.Context, task *integration.SyncTask) (*integration.SyncRun, error) {
	if task.RunID != nil {
		run, err := o.runs.FindByID(ctx, task.OrgID, *task.RunID)
		if err != nil {
			return nil, err
		}
		if !run.IsActive() {
			return nil, nil
		}
		return run, nil
	}

	run, err := o.runs.FindActiveByStream(ctx, task.Stream())
	switch {
	case err == nil:
		return run, nil
	case errors.Is(err, shared.ErrNotFound):
		return integration.NewSyncRun(task.OrgID, task.Provider, task.EntityType, task.Scope)
	default:
		return nil, err
	}
}

func (o *Orchestrator) drive(ctx context.Context, log *zap.Logger, run *integration.SyncRun) error {
	client, err := o.providers.Get(run.Provider)
	if err != nil {
		return o.fail(ctx, log, run, integration.RunErrorInternal, err)
	}

	if err := o.pump(ctx, log, client, run); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// A cancelled pass is not a failed run. The cursor keeps the
			// committed progress and a later delivery resumes from it.
			log.Info("Sync run interrupted", zap.String("cursor", run.Cursor), zap.Error(err))
			return err
		}
		switch {
		case integration.IsExhausted(err):
			return o.fail(ctx, log, run, integration.RunErrorRetryExhausted, err)
		case integration.IsPermanent(err):
			return o.fail(ctx, log, run, integration.RunErrorProviderPermanent, err)
		case errors.Is(err, shared.ErrConcurrencyConflict):
			// Another worker took the run over; let it finish.
			log.Warn("Sync run taken over by another worker")
			return err
		default:
			return o.fail(ctx, log, run, integration.RunErrorInternal, err)
		}
	}

	if err := run.Complete(); err != nil {
		return o.fail(ctx, log, run, integration.RunErrorInternal, err)
	}
	if err := o.runs.Save(ctx, run); err != nil {
		return err
	}

	log.Info("Sync run completed",
		zap.Int("total", run.Stats.Total),
		zap.Int("created", run.Stats.Created),
		zap.Int("updated", run.Stats.Updated),
		zap.Int("unchanged", run.Stats.Unchanged),
		zap.Int("failed", run.Stats.Failed),
	)

	o.finishRun(ctx, run)
	return nil
}

// pump loops fetch, merge, commit until the provider reports the end of
// the stream. Cancellation is honored between pages only: a page that has
// begun merging either commits or leaves no cursor behind.
func (o *Orchestrator) pump(ctx context.Context, log *zap.Logger, client integration.ProviderClient, run *integration.SyncRun) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := o.fetchPage(ctx, log, client, run)
		if err != nil {
			return err
		}

		if err := run.BeginMerging(); err != nil {
			return err
		}
		stats, err := o.mergePage(ctx, log, run, page.Entities)
		if err != nil {
			return err
		}

		if err := run.BeginCommitting(); err != nil {
			return err
		}
		if err := run.CommitPage(page.NextCursor, stats); err != nil {
			return err
		}
		if err := o.runs.Save(ctx, run); err != nil {
			return err
		}

		log.Debug("Page committed",
			zap.Int("entities", len(page.Entities)),
			zap.Int("failed", stats.Failed),
			zap.String("cursor", run.Cursor))
		telemetry.AddEvent(telemetry.SpanFromContext(ctx), "page_committed",
			telemetry.SpanAttrPageSize, len(page.Entities),
			"failed", stats.Failed,
		)

		if !page.HasMore {
			return nil
		}
		if err := run.NextPage(); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) fetchPage(ctx context.Context, log *zap.Logger, client integration.ProviderClient, run *integration.SyncRun) (*integration.Page, error) {
	req := &integration.PageRequest{
		OrgID:      run.OrgID,
		EntityType: run.EntityType,
		Scope:      run.Scope,
		Cursor:     run.Cursor,
		PageSize:   o.cfg.PageSize,
	}

	start := time.Now()
	var page *integration.Page
	err := retry.Do(ctx, log, o.cfg.Retry, func(ctx context.Context) error {
		var fetchErr error
		page, fetchErr = client.FetchPage(ctx, req)
		return fetchErr
	})
	if o.syncMetrics != nil {
		o.syncMetrics.RecordPageFetch(ctx, run.Provider, run.EntityType, time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

// mergePage merges the entities of one page with bounded concurrency. A
// single entity that fails to merge is counted and logged, not fatal; the
// rest of the page still commits.
func (o *Orchestrator) mergePage(ctx context.Context, log *zap.Logger, run *integration.SyncRun, entities []integration.ExternalEntity) (integration.RunStats, error) {
	var (
		mu    sync.Mutex
		stats integration.RunStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MergeConcurrency)

	for i := range entities {
		entity := entities[i]
		g.Go(func() error {
			result, err := o.engine.Merge(gctx, run.OrgID, entity)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("Entity merge failed",
					zap.String("external_id", entity.ExternalID),
					zap.String("natural_key", entity.NaturalKey),
					zap.Error(err))
				mu.Lock()
				stats.Observe(integration.MergeOutcomeFailed)
				mu.Unlock()
				return nil
			}

			mu.Lock()
			stats.Observe(result.Outcome)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// fail moves the run to its terminal failed state. It returns nil when the
// failure is recorded: the verdict lives on the run, and redelivering the
// task would only repeat it.
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, run *integration.SyncRun, code integration.RunErrorCode, cause error) error {
	if err := run.Fail(code, cause); err != nil {
		log.Error("Sync run could not be failed", zap.Error(err), zap.NamedError("cause", cause))
		return cause
	}
	if err := o.runs.Save(ctx, run); err != nil {
		log.Error("Failed sync run could not be saved", zap.Error(err), zap.NamedError("cause", cause))
		return err
	}

	log.Warn("Sync run failed",
		zap.String("error_code", code.String()),
		zap.NamedError("cause", cause),
	)

	o.finishRun(ctx, run)
	return nil
}

func (o *Orchestrator) finishRun(ctx context.Context, run *integration.SyncRun) {
	if o.syncMetrics != nil {
		o.syncMetrics.RecordRunFinished(ctx, run)
	}
	o.archiveRun(ctx, run)
}

// runArchive is the JSON shape of an uploaded run summary
type runArchive struct {
	RunID       uuid.UUID                `json:"run_id"`
	OrgID       uuid.UUID                `json:"org_id"`
	Provider    integration.ProviderCode `json:"provider"`
	EntityType  integration.EntityType   `json:"entity_type"`
	Scope       string                   `json:"scope"`
	State       integration.RunState     `json:"state"`
	Cursor      string                   `json:"cursor,omitempty"`
	Stats       integration.RunStats     `json:"stats"`
	ErrorCode   integration.RunErrorCode `json:"error_code,omitempty"`
	ErrorDetail string                   `json:"error_detail,omitempty"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

// archiveRun uploads a summary of a finished run to object storage. The
// upload is best effort: the run outcome is already committed, a missing
// archive only thins the audit trail.
func (o *Orchestrator) archiveRun(ctx context.Context, run *integration.SyncRun) {
	if o.archive == nil {
		return
	}

	data, err := json.Marshal(runArchive{
		RunID:       run.ID,
		OrgID:       run.OrgID,
		Provider:    run.Provider,
		EntityType:  run.EntityType,
		Scope:       run.Scope.String(),
		State:       run.State,
		Cursor:      run.Cursor,
		Stats:       run.Stats,
		ErrorCode:   run.ErrorCode,
		ErrorDetail: run.ErrorDetail,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	})
	if err != nil {
		o.logger.Warn("Run archive could not be encoded",
			zap.String("run_id", run.ID.String()), zap.Error(err))
		return
	}

	key := ArchiveKey(run.OrgID, run.ID)
	if err := o.archive.Put(ctx, key, data, "application/json"); err != nil {
		o.logger.Warn("Run archive upload failed",
			zap.String("run_id", run.ID.String()),
			zap.String("key", key),
			zap.Error(err))
		return
	}

	run.SetArchiveKey(key)
	if err := o.runs.Save(ctx, run); err != nil {
		o.logger.Warn("Run archive key could not be saved",
			zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}
