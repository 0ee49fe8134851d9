package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/domain/shared"
	"github.com/projectlink/backend/internal/infrastructure/event"
	"github.com/projectlink/backend/internal/infrastructure/persistence"
)

// TestSyncRunRepository_Integration tests run persistence against a real
// PostgreSQL database: cursor checkpointing, active-run lookup and the
// version guard that stops two workers from driving the same run.
func TestSyncRunRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	repo := persistence.NewGormSyncRunRepository(testDB.DB)
	outboxRepo := event.NewGormOutboxRepository(testDB.DB)

	serializer := event.NewEventSerializer()
	event.RegisterSyncEvents(serializer)
	repo.SetOutboxEventSaver(event.NewOutboxPublisher(serializer))

	ctx := context.Background()
	orgID := uuid.New()

	t.Run("Save creates and reloads a pending run", func(t *testing.T) {
		run, err := integration.NewSyncRun(orgID, integration.ProviderCodeJira, integration.EntityTypeProject, integration.OrgScope())
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, run))

		found, err := repo.FindByID(ctx, orgID, run.ID)
		require.NoError(t, err)
		assert.Equal(t, integration.RunStatePending, found.State)
		assert.Equal(t, integration.ProviderCodeJira, found.Provider)
		assert.Equal(t, integration.EntityTypeProject, found.EntityType)
		assert.Empty(t, found.Cursor)
		assert.Nil(t, found.StartedAt)
	})

	t.Run("Cursor and stats survive page checkpoints", func(t *testing.T) {
		run, err := integration.NewSyncRun(orgID, integration.ProviderCodeJira, integration.EntityTypeUser, integration.OrgScope())
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, run))

		require.NoError(t, run.Start())
		require.NoError(t, run.BeginMerging())
		require.NoError(t, run.BeginCommitting())
		require.NoError(t, run.CommitPage("cursor-page-1", integration.RunStats{Total: 50, Created: 20, Updated: 25, Unchanged: 5}))
		require.NoError(t, repo.Save(ctx, run))

		checkpoint, err := repo.FindByID(ctx, orgID, run.ID)
		require.NoError(t, err)
		assert.Equal(t, integration.RunStateCommitting, checkpoint.State)
		assert.Equal(t, "cursor-page-1", checkpoint.Cursor)
		assert.Equal(t, 50, checkpoint.Stats.Total)
		assert.Equal(t, 20, checkpoint.Stats.Created)
		require.NotNil(t, checkpoint.StartedAt)

		require.NoError(t, run.NextPage())
		require.NoError(t, run.BeginMerging())
		require.NoError(t, run.BeginCommitting())
		require.NoError(t, run.CommitPage("", integration.RunStats{Total: 10, Created: 10}))
		require.NoError(t, run.Complete())
		require.NoError(t, repo.Save(ctx, run))

		final, err := repo.FindByID(ctx, orgID, run.ID)
		require.NoError(t, err)
		assert.Equal(t, integration.RunStateCompleted, final.State)
		assert.Equal(t, 60, final.Stats.Total)
		assert.Equal(t, 30, final.Stats.Created)
		require.NotNil(t, final.CompletedAt)
	})

	t.Run("Completed run writes the completion event to the outbox", func(t *testing.T) {
		run, err := integration.NewSyncRun(orgID, integration.ProviderCodeEntra, integration.EntityTypeUser, integration.OrgScope())
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, run))

		require.NoError(t, run.Start())
		require.NoError(t, run.BeginMerging())
		require.NoError(t, run.BeginCommitting())
		require.NoError(t, run.CommitPage("", integration.RunStats{Total: 1, Created: 1}))
		require.NoError(t, run.Complete())
		require.NoError(t, repo.Save(ctx, run))

		entries, err := outboxRepo.FindPending(ctx, 100)
		require.NoError(t, err)

		var completed *shared.OutboxEntry
		for _, entry := range entries {
			if entry.AggregateID == run.ID && entry.EventType == integration.EventTypeRunCompleted {
				completed = entry
			}
		}
		require.NotNil(t, completed, "expected a pending sync.run.completed outbox entry")
		assert.Equal(t, orgID, completed.OrgID)
	})

	t.Run("FindActiveByStream sees only non-terminal runs", func(t *testing.T) {
		run, err := integration.NewSyncRun(orgID, integration.ProviderCodeJira, integration.EntityTypeGroup, integration.OrgScope())
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, run))

		active, err := repo.FindActiveByStream(ctx, run.Stream())
		require.NoError(t, err)
		assert.Equal(t, run.ID, active.ID)

		require.NoError(t, run.Fail(integration.RunErrorProviderPermanent, errors.New("provider rejected the credentials")))
		require.NoError(t, repo.Save(ctx, run))

		_, err = repo.FindActiveByStream(ctx, run.Stream())
		assert.ErrorIs(t, err, shared.ErrNotFound)

		failed, err := repo.FindByID(ctx, orgID, run.ID)
		require.NoError(t, err)
		assert.Equal(t, integration.RunStateFailed, failed.State)
		assert.Equal(t, integration.RunErrorProviderPermanent, failed.ErrorCode)
		assert.Contains(t, failed.ErrorDetail, "rejected")
	})

	t.Run("Save detects a second worker driving the same run", func(t *testing.T) {
		run, err := integration.NewSyncRun(orgID, integration.ProviderCodeEntra, integration.EntityTypeGroup, integration.OrgScope())
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, run))

		first, err := repo.FindByID(ctx, orgID, run.ID)
		require.NoError(t, err)
		second, err := repo.FindByID(ctx, orgID, run.ID)
		require.NoError(t, err)

		require.NoError(t, first.Start())
		require.NoError(t, repo.Save(ctx, first))

		require.NoError(t, second.Start())
		err = repo.Save(ctx, second)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	})

	t.Run("List returns runs for the organization newest first", func(t *testing.T) {
		otherOrg := uuid.New()
		foreign, err := integration.NewSyncRun(otherOrg, integration.ProviderCodeJira, integration.EntityTypeUser, integration.OrgScope())
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, foreign))

		runs, err := repo.List(ctx, orgID, shared.DefaultFilter())
		require.NoError(t, err)
		require.NotEmpty(t, runs)
		for i, run := range runs {
			assert.Equal(t, orgID, run.OrgID)
			if i > 0 {
				assert.False(t, runs[i-1].CreatedAt.Before(run.CreatedAt), "runs must be ordered newest first")
			}
		}

		filtered, err := repo.List(ctx, orgID, shared.Filter{
			Page:     1,
			PageSize: 10,
			Filters:  map[string]interface{}{"state": integration.RunStateCompleted.String()},
		})
		require.NoError(t, err)
		for _, run := range filtered {
			assert.Equal(t, integration.RunStateCompleted, run.State)
		}
	})
}
