package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/projectlink/backend/internal/domain/integration"
	"github.com/projectlink/backend/internal/domain/shared"
)

// newMockRunRepository creates a GormSyncRunRepository with a mocked SQL connection
func newMockRunRepository(t *testing.T) (*GormSyncRunRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormSyncRunRepository(gormDB), mock, mockDB
}

func pendingTestRun(t *testing.T) *integration.SyncRun {
	t.Helper()

	run, err := integration.NewSyncRun(uuid.New(), integration.ProviderCodeJira, integration.EntityTypeUser, integration.OrgScope())
	require.NoError(t, err)
	return run
}

func TestGormSyncRunRepository_Save(t *testing.T) {
	t.Run("creates a run that does not exist yet", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		run := pendingTestRun(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT "version" FROM "sync_runs" WHERE id = \$1`).
			WithArgs(run.ID, 1).
			WillReturnError(gorm.ErrRecordNotFound)
		mock.ExpectExec(`INSERT INTO "sync_runs"`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Save(context.Background(), run)

		assert.NoError(t, err)
		assert.Equal(t, 1, run.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("updates an existing run with a version check", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		run := pendingTestRun(t)
		require.NoError(t, run.Start())

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT "version" FROM "sync_runs" WHERE id = \$1`).
			WithArgs(run.ID, 1).
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
		mock.ExpectExec(`UPDATE "sync_runs" SET .* WHERE id = \$\d+ AND version = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Save(context.Background(), run)

		assert.NoError(t, err)
		assert.Equal(t, 2, run.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns conflict when another worker advanced the run", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		run := pendingTestRun(t)
		require.NoError(t, run.Start())

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT "version" FROM "sync_runs" WHERE id = \$1`).
			WithArgs(run.ID, 1).
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(4))
		mock.ExpectRollback()

		err := repo.Save(context.Background(), run)

		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	})

	t.Run("saves completion events through the outbox saver", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		saver := &capturingEventSaver{}
		repo.SetOutboxEventSaver(saver)

		run := pendingTestRun(t)
		require.NoError(t, run.Start())
		require.NoError(t, run.BeginMerging())
		require.NoError(t, run.BeginCommitting())
		require.NoError(t, run.CommitPage("", integration.RunStats{Total: 5, Updated: 5}))
		require.NoError(t, run.Complete())

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT "version" FROM "sync_runs" WHERE id = \$1`).
			WithArgs(run.ID, 1).
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
		mock.ExpectExec(`UPDATE "sync_runs" SET .*`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Save(context.Background(), run)

		assert.NoError(t, err)
		require.Len(t, saver.events, 1)
		assert.Equal(t, integration.EventTypeRunCompleted, saver.events[0].EventType())
		assert.Empty(t, run.GetDomainEvents())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormSyncRunRepository_FindByID(t *testing.T) {
	t.Run("finds run and maps stats", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		runID := uuid.New()
		orgID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "org_id", "provider", "entity_type", "scope_kind", "scope_key", "state", "cursor", "stats", "version"}).
			AddRow(runID, orgID, "jira", "user", "organization", "", "completed", "", []byte(`{"total":10,"created":2,"updated":3,"unchanged":5,"failed":0}`), 6)

		mock.ExpectQuery(`SELECT \* FROM "sync_runs" WHERE org_id = \$1 AND id = \$2`).
			WithArgs(orgID, runID, 1).
			WillReturnRows(rows)

		run, err := repo.FindByID(context.Background(), orgID, runID)

		assert.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, integration.RunStateCompleted, run.State)
		assert.Equal(t, 10, run.Stats.Total)
		assert.Equal(t, 2, run.Stats.Created)
		assert.Equal(t, 5, run.Stats.Unchanged)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound for a missing run", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "sync_runs"`).
			WillReturnError(gorm.ErrRecordNotFound)

		run, err := repo.FindByID(context.Background(), uuid.New(), uuid.New())

		assert.Nil(t, run)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormSyncRunRepository_FindActiveByStream(t *testing.T) {
	stream := integration.Stream{
		OrgID:      uuid.New(),
		Provider:   integration.ProviderCodeJira,
		EntityType: integration.EntityTypeProject,
		Scope:      integration.ProjectScope("PLAT"),
	}

	t.Run("finds the non-terminal run", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		runID := uuid.New()
		rows := sqlmock.NewRows([]string{"id", "org_id", "provider", "entity_type", "scope_kind", "scope_key", "state", "cursor", "version"}).
			AddRow(runID, stream.OrgID, "jira", "project", "project", "PLAT", "fetching", "cursor-3", 4)

		mock.ExpectQuery(`SELECT \* FROM "sync_runs" WHERE org_id = \$1 AND provider = \$2 AND entity_type = \$3 AND scope_kind = \$4 AND scope_key = \$5 AND state NOT IN \(\$6,\$7\) ORDER BY created_at DESC`).
			WithArgs(stream.OrgID, "jira", "project", "project", "PLAT", "completed", "failed", 1).
			WillReturnRows(rows)

		run, err := repo.FindActiveByStream(context.Background(), stream)

		assert.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, runID, run.ID)
		assert.Equal(t, "cursor-3", run.Cursor)
		assert.True(t, run.IsActive())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound when every run is terminal", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "sync_runs"`).
			WillReturnError(gorm.ErrRecordNotFound)

		run, err := repo.FindActiveByStream(context.Background(), stream)

		assert.Nil(t, run)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormSyncRunRepository_List(t *testing.T) {
	t.Run("lists runs newest first with a state filter", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		orgID := uuid.New()
		rows := sqlmock.NewRows([]string{"id", "org_id", "provider", "entity_type", "scope_kind", "scope_key", "state", "version"}).
			AddRow(uuid.New(), orgID, "entra", "user", "organization", "", "failed", 2).
			AddRow(uuid.New(), orgID, "entra", "group", "organization", "", "failed", 2)

		mock.ExpectQuery(`SELECT \* FROM "sync_runs" WHERE org_id = \$1 AND state = \$2 ORDER BY created_at DESC`).
			WithArgs(orgID, "failed").
			WillReturnRows(rows)

		filter := shared.Filter{Filters: map[string]interface{}{"state": "failed"}}
		runs, err := repo.List(context.Background(), orgID, filter)

		assert.NoError(t, err)
		assert.Len(t, runs, 2)
		assert.Equal(t, integration.RunStateFailed, runs[0].State)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
