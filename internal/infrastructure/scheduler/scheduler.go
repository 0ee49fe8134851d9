package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// StreamSchedulerConfig
// ---------------------------------------------------------------------------

// StreamSchedulerConfig holds configuration for the stream scheduler
type StreamSchedulerConfig struct {
	// Enabled indicates if periodic scheduling is enabled
	Enabled bool
	// CheckInterval is how often the scheduler looks for due streams
	CheckInterval time.Duration
	// SyncInterval is how often each configured stream gets a sync pass
	SyncInterval time.Duration
}

// DefaultStreamSchedulerConfig returns default configuration
func DefaultStreamSchedulerConfig() StreamSchedulerConfig {
	return StreamSchedulerConfig{
		Enabled:       true,
		CheckInterval: time.Minute,
		SyncInterval:  15 * time.Minute,
	}
}

// Validate validates the configuration
func (c *StreamSchedulerConfig) Validate() error {
	if c.CheckInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.SyncInterval <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// StreamScheduler
// ---------------------------------------------------------------------------

// StreamScheduler periodically enqueues sync tasks for the configured
// streams. A stream that already has a queued task or an active run is
// skipped, so a slow pass never piles up work behind itself.
type StreamScheduler struct {
	config  StreamSchedulerConfig
	streams []integration.Stream
	queue   integration.TaskQueue
	runs    integration.SyncRunRepository
	logger  *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// Last enqueue per stream, to space passes SyncInterval apart
	lastScheduledMu sync.RWMutex
	lastScheduled   map[string]time.Time
}

// NewStreamScheduler creates a new stream scheduler
func NewStreamScheduler(
	config StreamSchedulerConfig,
	streams []integration.Stream,
	queue integration.TaskQueue,
	runs integration.SyncRunRepository,
	logger *zap.Logger,
) (*StreamScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, ErrNoStreams
	}
	for _, stream := range streams {
		if err := stream.Validate(); err != nil {
			return nil, err
		}
	}

	return &StreamScheduler{
		config:        config,
		streams:       streams,
		queue:         queue,
		runs:          runs,
		logger:        logger,
		lastScheduled: make(map[string]time.Time),
	}, nil
}

// Start starts the scheduler
func (s *StreamScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Stream scheduler is disabled")
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Stream scheduler started",
		zap.Int("streams", len(s.streams)),
		zap.Duration("check_interval", s.config.CheckInterval),
		zap.Duration("sync_interval", s.config.SyncInterval),
	)

	return nil
}

// Stop gracefully stops the scheduler
func (s *StreamScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Stream scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Stream scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is running
func (s *StreamScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// runLoop periodically checks for streams due a sync pass
func (s *StreamScheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.checkAndEnqueue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAndEnqueue(ctx)
		}
	}
}

// checkAndEnqueue enqueues a task for every due stream
func (s *StreamScheduler) checkAndEnqueue(ctx context.Context) {
	now := time.Now()

	for _, stream := range s.streams {
		if !s.due(stream, now) {
			continue
		}

		if err := s.enqueueStream(ctx, stream); err != nil {
			s.logger.Error("Failed to enqueue sync task for stream",
				zap.String("stream", stream.Key()),
				zap.Error(err),
			)
			continue
		}

		s.markScheduled(stream, now)
	}
}

// enqueueStream enqueues one sync task unless the stream is already covered
// by a queued task or an active run
func (s *StreamScheduler) enqueueStream(ctx context.Context, stream integration.Stream) error {
	pending, err := s.queue.HasPending(ctx, stream)
	if err != nil {
		return err
	}
	if pending {
		s.logger.Debug("Stream already has a pending task", zap.String("stream", stream.Key()))
		return nil
	}

	if _, err := s.runs.FindActiveByStream(ctx, stream); err == nil {
		s.logger.Debug("Stream has an active run", zap.String("stream", stream.Key()))
		return nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return err
	}

	task, err := integration.NewSyncTask(stream)
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return nil
		}
		return err
	}

	s.logger.Info("Sync task enqueued",
		zap.String("task_id", task.ID.String()),
		zap.String("stream", stream.Key()),
	)

	return nil
}

func (s *StreamScheduler) due(stream integration.Stream, now time.Time) bool {
	s.lastScheduledMu.RLock()
	defer s.lastScheduledMu.RUnlock()

	last, ok := s.lastScheduled[stream.Key()]
	return !ok || now.Sub(last) >= s.config.SyncInterval
}

func (s *StreamScheduler) markScheduled(stream integration.Stream, now time.Time) {
	s.lastScheduledMu.Lock()
	s.lastScheduled[stream.Key()] = now
	s.lastScheduledMu.Unlock()
}

// TriggerPass runs one scheduling pass immediately without waiting for the
// ticker. Streams still inside their SyncInterval spacing stay skipped.
func (s *StreamScheduler) TriggerPass(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Triggering immediate scheduling pass")

	go func() {
		defer s.wg.Done()
		s.checkAndEnqueue(ctx)
	}()

	return nil
}

// Stats returns a snapshot of the scheduler state for monitoring
func (s *StreamScheduler) Stats() map[string]interface{} {
	s.lastScheduledMu.RLock()
	defer s.lastScheduledMu.RUnlock()

	lastScheduled := make(map[string]string, len(s.lastScheduled))
	for key, t := range s.lastScheduled {
		lastScheduled[key] = t.Format(time.RFC3339)
	}

	return map[string]interface{}{
		"is_running":     s.IsRunning(),
		"streams":        len(s.streams),
		"check_interval": s.config.CheckInterval.String(),
		"sync_interval":  s.config.SyncInterval.String(),
		"last_scheduled": lastScheduled,
	}
}
