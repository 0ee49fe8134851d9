package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/infrastructure/retry"
	"github.com/projectlink/backend/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// TaskExecutor Interface
// ---------------------------------------------------------------------------

// TaskExecutor runs one leased sync task. A nil return means the task is
// done, whether its run succeeded or failed on its own terms; an error means
// the pass was interrupted and the task should be delivered again.
type TaskExecutor interface {
	Execute(ctx context.Context, task *integration.SyncTask) error
}

// ---------------------------------------------------------------------------
// DispatcherConfig
// ---------------------------------------------------------------------------

// DispatcherConfig holds configuration for the task dispatcher
type DispatcherConfig struct {
	// Enabled indicates if the dispatcher is enabled
	Enabled bool
	// Workers is the number of concurrent dispatch workers
	Workers int
	// PollInterval is how long an idle worker waits before checking the
	// queue again
	PollInterval time.Duration
	// LeaseDuration is the task visibility timeout. Work that outlives it
	// becomes claimable by other workers.
	LeaseDuration time.Duration
	// TaskTimeout is the maximum time one task execution may run. It must
	// stay below LeaseDuration so a slow pass is cancelled before its task
	// becomes visible to another worker.
	TaskTimeout time.Duration
	// Backoff shapes the release delay of failed tasks
	Backoff retry.Config
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Enabled:       true,
		Workers:       5,
		PollInterval:  3 * time.Second,
		LeaseDuration: integration.DefaultTaskLease,
		TaskTimeout:   8 * time.Minute,
		Backoff: retry.Config{
			MaxAttempts:    integration.DefaultTaskMaxAttempts,
			BaseDelay:      30 * time.Second,
			MaxDelay:       10 * time.Minute,
			JitterFraction: 0.2,
		},
	}
}

// Validate validates the configuration
func (c *DispatcherConfig) Validate() error {
	if c.Workers <= 0 {
		return ErrInvalidConfig
	}
	if c.PollInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.LeaseDuration <= 0 {
		return ErrInvalidConfig
	}
	if c.TaskTimeout <= 0 || c.TaskTimeout >= c.LeaseDuration {
		return ErrInvalidConfig
	}
	return nil
}

// statusWriteTimeout bounds the queue write that records a task's verdict.
// The write runs on a context detached from the worker, so a task that
// finishes during shutdown is completed or released instead of waiting out
// its lease.
const statusWriteTimeout = 5 * time.Second

// ---------------------------------------------------------------------------
// TaskDispatcher
// ---------------------------------------------------------------------------

// TaskDispatcher pulls sync tasks from the durable queue and executes them
// on a bounded worker pool. Tasks are leased for the configured visibility
// timeout; a worker that crashes mid-task simply lets the lease lapse and
// the task is delivered to another worker, where the orchestrator resumes
// the same run.
type TaskDispatcher struct {
	config   DispatcherConfig
	queue    integration.TaskQueue
	executor TaskExecutor
	logger   *zap.Logger

	syncMetrics *telemetry.SyncMetrics

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewTaskDispatcher creates a new task dispatcher
func NewTaskDispatcher(
	config DispatcherConfig,
	queue integration.TaskQueue,
	executor TaskExecutor,
	logger *zap.Logger,
) (*TaskDispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &TaskDispatcher{
		config:   config,
		queue:    queue,
		executor: executor,
		logger:   logger,
	}, nil
}

// SetSyncMetrics sets the sync metrics for instrumentation
func (d *TaskDispatcher) SetSyncMetrics(sm *telemetry.SyncMetrics) {
	d.syncMetrics = sm
}

// Start starts the dispatch workers
func (d *TaskDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return nil
	}
	if !d.config.Enabled {
		d.mu.Unlock()
		d.logger.Info("Task dispatcher is disabled")
		return nil
	}
	d.isRunning = true
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	// Start worker pool
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.logger.Info("Task dispatcher started",
		zap.Int("workers", d.config.Workers),
		zap.Duration("lease", d.config.LeaseDuration),
		zap.Duration("task_timeout", d.config.TaskTimeout),
	)

	return nil
}

// Stop gracefully stops the dispatcher, waiting for in-flight tasks
func (d *TaskDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.isRunning = false
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Task dispatcher stopped gracefully")
		return nil
	case <-ctx.Done():
		d.logger.Warn("Task dispatcher stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the dispatcher is running
func (d *TaskDispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isRunning
}

// worker polls the queue for eligible tasks until the context is cancelled
func (d *TaskDispatcher) worker(ctx context.Context, workerID int) {
	defer d.wg.Done()

	labels := telemetry.OperationLabels("sync_dispatch", map[string]string{
		"worker": strconv.Itoa(workerID),
	})
	telemetry.WithPprofLabels(ctx, labels, func(ctx context.Context) {
		d.poll(ctx, workerID)
	})
}

func (d *TaskDispatcher) poll(ctx context.Context, workerID int) {
	d.logger.Debug("Dispatch worker started", zap.Int("worker_id", workerID))

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		// Drain eligible tasks before sleeping again
		for d.dispatchOne(ctx, workerID) {
			if ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			d.logger.Debug("Dispatch worker stopping", zap.Int("worker_id", workerID))
			return
		case <-ticker.C:
		}
	}
}

// dispatchOne leases and executes a single task, reporting whether the
// queue had one
func (d *TaskDispatcher) dispatchOne(ctx context.Context, workerID int) bool {
	tasks, err := d.queue.Lease(ctx, 1, d.config.LeaseDuration)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("Failed to lease sync task", zap.Error(err))
		}
		return false
	}
	if len(tasks) == 0 {
		return false
	}

	d.processTask(ctx, tasks[0], workerID)
	return true
}

// processTask executes a single leased task
func (d *TaskDispatcher) processTask(ctx context.Context, task *integration.SyncTask, workerID int) {
	log := d.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("task_id", task.ID.String()),
		zap.String("stream", task.Stream().Key()),
		zap.Int("attempt", task.Attempts),
		zap.Int("max_attempts", task.MaxAttempts),
	)
	log.Info("Processing sync task")

	// Create context with timeout
	taskCtx, cancel := context.WithTimeout(ctx, d.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	err := d.executor.Execute(taskCtx, task)

	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancelWrite()

	if err != nil {
		d.releaseTask(writeCtx, log, task, err)
		return
	}

	if err := d.queue.Complete(writeCtx, task); err != nil {
		log.Error("Failed to complete sync task, lease will lapse", zap.Error(err))
		return
	}

	d.recordTask(writeCtx, task, telemetry.TaskOutcomeCompleted)
	log.Info("Sync task completed", zap.Duration("duration", time.Since(start)))
}

// releaseTask returns a failed task to the queue with a class-aware backoff.
// A rate-limited failure carrying a provider retry-after hint overrides the
// exponential delay.
func (d *TaskDispatcher) releaseTask(ctx context.Context, log *zap.Logger, task *integration.SyncTask, cause error) {
	class := integration.Classify(cause)
	backoff := retry.ComputeDelay(d.config.Backoff, task.Attempts-1, class, integration.RetryAfterHint(cause))

	log.Warn("Sync task failed",
		zap.String("error_class", class.String()),
		zap.Duration("backoff", backoff),
		zap.Error(cause),
	)

	if err := d.queue.Release(ctx, task, backoff, cause); err != nil {
		log.Error("Failed to release sync task, lease will lapse", zap.Error(err))
		return
	}

	d.recordTask(ctx, task, telemetry.TaskOutcomeReleased)

	if task.Status == integration.TaskStatusDead {
		log.Error("Sync task dead, attempt budget spent", zap.Int("attempts", task.Attempts))
	}
}

func (d *TaskDispatcher) recordTask(ctx context.Context, task *integration.SyncTask, outcome telemetry.TaskOutcome) {
	if d.syncMetrics == nil {
		return
	}
	d.syncMetrics.RecordTask(ctx, task.Provider, outcome)
}
