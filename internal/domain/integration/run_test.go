package integration

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helpers
func createTestRun(t *testing.T) *SyncRun {
	run, err := NewSyncRun(uuid.New(), ProviderCodeJira, EntityTypeProject, OrgScope())
	require.NoError(t, err)
	return run
}

func advanceToCommitting(t *testing.T, run *SyncRun) {
	require.NoError(t, run.Start())
	require.NoError(t, run.BeginMerging())
	require.NoError(t, run.BeginCommitting())
}

// ============================================
// RunState Tests
// ============================================

func TestRunState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from     RunState
		to       RunState
		canTrans bool
	}{
		// From pending
		{RunStatePending, RunStateFetching, true},
		{RunStatePending, RunStateFailed, true},
		{RunStatePending, RunStateMerging, false},
		{RunStatePending, RunStateCompleted, false},
		// From fetching
		{RunStateFetching, RunStateMerging, true},
		{RunStateFetching, RunStateFailed, true},
		{RunStateFetching, RunStateCompleted, false},
		{RunStateFetching, RunStateCommitting, false},
		// From merging
		{RunStateMerging, RunStateCommitting, true},
		{RunStateMerging, RunStateFailed, true},
		{RunStateMerging, RunStateFetching, false},
		// From committing
		{RunStateCommitting, RunStateFetching, true},
		{RunStateCommitting, RunStateCompleted, true},
		{RunStateCommitting, RunStateFailed, true},
		{RunStateCommitting, RunStateMerging, false},
		// Terminal states
		{RunStateCompleted, RunStateFetching, false},
		{RunStateCompleted, RunStateFailed, false},
		{RunStateFailed, RunStateFetching, false},
		{RunStateFailed, RunStateCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.canTrans, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRunState_IsTerminal(t *testing.T) {
	assert.True(t, RunStateCompleted.IsTerminal())
	assert.True(t, RunStateFailed.IsTerminal())
	assert.False(t, RunStatePending.IsTerminal())
	assert.False(t, RunStateFetching.IsTerminal())
	assert.False(t, RunStateMerging.IsTerminal())
	assert.False(t, RunStateCommitting.IsTerminal())
}

// ============================================
// RunStats Tests
// ============================================

func TestRunStats_Observe(t *testing.T) {
	var stats RunStats
	stats.Observe(MergeOutcomeCreated)
	stats.Observe(MergeOutcomeUpdated)
	stats.Observe(MergeOutcomeUpdated)
	stats.Observe(MergeOutcomeUnchanged)
	stats.Observe(MergeOutcomeStale)
	stats.Observe(MergeOutcomeFailed)

	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 2, stats.Updated)
	// Stale counts as unchanged: nothing was written
	assert.Equal(t, 2, stats.Unchanged)
	assert.Equal(t, 1, stats.Failed)
}

func TestRunStats_Add(t *testing.T) {
	a := RunStats{Total: 3, Created: 1, Updated: 1, Unchanged: 1}
	b := RunStats{Total: 2, Created: 0, Updated: 1, Failed: 1}
	a.Add(b)

	assert.Equal(t, RunStats{Total: 5, Created: 1, Updated: 2, Unchanged: 1, Failed: 1}, a)
}

// ============================================
// SyncRun Lifecycle Tests
// ============================================

func TestNewSyncRun(t *testing.T) {
	orgID := uuid.New()

	t.Run("creates pending run", func(t *testing.T) {
		run, err := NewSyncRun(orgID, ProviderCodeEntra, EntityTypeUser, OrgScope())
		require.NoError(t, err)

		assert.Equal(t, RunStatePending, run.State)
		assert.Empty(t, run.Cursor)
		assert.Nil(t, run.StartedAt)
		assert.True(t, run.IsActive())
	})

	t.Run("rejects project scope without key", func(t *testing.T) {
		_, err := NewSyncRun(orgID, ProviderCodeJira, EntityTypeUser, Scope{Kind: ScopeKindProject})
		assert.Error(t, err)
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		_, err := NewSyncRun(orgID, ProviderCode("github"), EntityTypeUser, OrgScope())
		assert.Error(t, err)
	})
}

func TestSyncRun_PageLoop(t *testing.T) {
	run := createTestRun(t)

	require.NoError(t, run.Start())
	assert.Equal(t, RunStateFetching, run.State)
	require.NotNil(t, run.StartedAt)

	// First page
	require.NoError(t, run.BeginMerging())
	require.NoError(t, run.BeginCommitting())
	require.NoError(t, run.CommitPage("cursor-1", RunStats{Total: 50, Created: 50}))
	assert.Equal(t, "cursor-1", run.Cursor)
	require.NoError(t, run.NextPage())
	assert.Equal(t, RunStateFetching, run.State)

	// Second and final page
	require.NoError(t, run.BeginMerging())
	require.NoError(t, run.BeginCommitting())
	require.NoError(t, run.CommitPage("cursor-2", RunStats{Total: 30, Created: 28, Unchanged: 2}))
	require.NoError(t, run.Complete())

	assert.Equal(t, RunStateCompleted, run.State)
	assert.Equal(t, "cursor-2", run.Cursor)
	assert.Equal(t, 80, run.Stats.Total)
	assert.Equal(t, 78, run.Stats.Created)
	require.NotNil(t, run.CompletedAt)
	assert.False(t, run.IsActive())

	events := run.GetDomainEvents()
	require.Len(t, events, 1)
	completed, ok := events[0].(*RunCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, run.ID, completed.RunID)
	assert.Equal(t, 80, completed.Stats.Total)
}

func TestSyncRun_CommitPage_RequiresCommitting(t *testing.T) {
	run := createTestRun(t)
	require.NoError(t, run.Start())
	assert.ErrorIs(t, run.CommitPage("cursor-1", RunStats{}), ErrInvalidTransition)
}

func TestSyncRun_Fail(t *testing.T) {
	t.Run("fails from any non-terminal state", func(t *testing.T) {
		for _, prep := range []func(r *SyncRun){
			func(r *SyncRun) {},
			func(r *SyncRun) { _ = r.Start() },
			func(r *SyncRun) { _ = r.Start(); _ = r.BeginMerging() },
			func(r *SyncRun) { _ = r.Start(); _ = r.BeginMerging(); _ = r.BeginCommitting() },
		} {
			run := createTestRun(t)
			prep(run)
			require.NoError(t, run.Fail(RunErrorRetryExhausted, errors.New("boom")))
			assert.Equal(t, RunStateFailed, run.State)
			assert.Equal(t, RunErrorRetryExhausted, run.ErrorCode)
			assert.Equal(t, "boom", run.ErrorDetail)
			require.NotNil(t, run.CompletedAt)
		}
	})

	t.Run("raises a failed event", func(t *testing.T) {
		run := createTestRun(t)
		require.NoError(t, run.Start())
		require.NoError(t, run.Fail(RunErrorProviderPermanent, errors.New("401 unauthorized")))

		events := run.GetDomainEvents()
		require.Len(t, events, 1)
		failed, ok := events[0].(*RunFailedEvent)
		require.True(t, ok)
		assert.Equal(t, RunErrorProviderPermanent, failed.ErrorCode)
	})

	t.Run("rejects failing a terminal run", func(t *testing.T) {
		run := createTestRun(t)
		advanceToCommitting(t, run)
		require.NoError(t, run.Complete())
		assert.ErrorIs(t, run.Fail(RunErrorInternal, nil), ErrInvalidTransition)
	})
}

func TestSyncRun_Resume(t *testing.T) {
	t.Run("re-enters fetching with cursor and stats intact", func(t *testing.T) {
		run := createTestRun(t)
		advanceToCommitting(t, run)
		require.NoError(t, run.CommitPage("cursor-3", RunStats{Total: 50, Created: 50}))

		// A crash leaves the run mid-flight; a later attempt resumes it
		require.NoError(t, run.Resume())

		assert.Equal(t, RunStateFetching, run.State)
		assert.Equal(t, "cursor-3", run.Cursor)
		assert.Equal(t, 50, run.Stats.Total)
	})

	t.Run("rejects terminal runs", func(t *testing.T) {
		run := createTestRun(t)
		advanceToCommitting(t, run)
		require.NoError(t, run.Complete())
		assert.ErrorIs(t, run.Resume(), ErrInvalidTransition)
	})
}

func TestSyncRun_Stream(t *testing.T) {
	orgID := uuid.New()
	run, err := NewSyncRun(orgID, ProviderCodeJira, EntityTypeUser, ProjectScope("P100"))
	require.NoError(t, err)

	stream := run.Stream()
	assert.Equal(t, orgID, stream.OrgID)
	assert.Equal(t, ProviderCodeJira, stream.Provider)
	assert.Equal(t, EntityTypeUser, stream.EntityType)
	assert.Equal(t, ProjectScope("P100"), stream.Scope)
	assert.Equal(t, orgID.String()+"/jira/user/project:P100", stream.Key())
}
