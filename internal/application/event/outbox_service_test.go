package event

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/projectlink/backend/internal/domain/shared"
)

// fakeOutboxRepo backs OutboxService tests with a map keyed by entry ID.
type fakeOutboxRepo struct {
	entries map[uuid.UUID]*shared.OutboxEntry
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{entries: make(map[uuid.UUID]*shared.OutboxEntry)}
}

func (r *fakeOutboxRepo) add(entries ...*shared.OutboxEntry) {
	for _, e := range entries {
		r.entries[e.ID] = e
	}
}

func (r *fakeOutboxRepo) Save(ctx context.Context, entries ...*shared.OutboxEntry) error {
	r.add(entries...)
	return nil
}

func (r *fakeOutboxRepo) FindPending(ctx context.Context, limit int) ([]*shared.OutboxEntry, error) {
	var result []*shared.OutboxEntry
	for _, e := range r.entries {
		if e.Status == shared.OutboxStatusPending {
			result = append(result, e)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (r *fakeOutboxRepo) FindRetryable(ctx context.Context, before time.Time, limit int) ([]*shared.OutboxEntry, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) FindDead(ctx context.Context, page, pageSize int) ([]*shared.OutboxEntry, int64, error) {
	var dead []*shared.OutboxEntry
	for _, e := range r.entries {
		if e.Status == shared.OutboxStatusDead {
			dead = append(dead, e)
		}
	}
	sort.Slice(dead, func(i, j int) bool {
		return dead[i].CreatedAt.Before(dead[j].CreatedAt)
	})
	total := int64(len(dead))

	start := (page - 1) * pageSize
	if start >= len(dead) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(dead) {
		end = len(dead)
	}
	return dead[start:end], total, nil
}

func (r *fakeOutboxRepo) FindByID(ctx context.Context, id uuid.UUID) (*shared.OutboxEntry, error) {
	return r.entries[id], nil
}

func (r *fakeOutboxRepo) MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*shared.OutboxEntry, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) Update(ctx context.Context, entry *shared.OutboxEntry) error {
	r.entries[entry.ID] = entry
	return nil
}

func (r *fakeOutboxRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeOutboxRepo) CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error) {
	counts := make(map[shared.OutboxStatus]int64)
	for _, e := range r.entries {
		counts[e.Status]++
	}
	return counts, nil
}

func newOutboxServiceFixture() (*OutboxService, *fakeOutboxRepo) {
	repo := newFakeOutboxRepo()
	return NewOutboxService(repo, zap.NewNop()), repo
}

func deadLetterEntry(createdAt time.Time) *shared.OutboxEntry {
	return &shared.OutboxEntry{
		ID:            uuid.New(),
		OrgID:         uuid.New(),
		EventID:       uuid.New(),
		EventType:     "sync.record.linked",
		AggregateID:   uuid.New(),
		AggregateType: "InternalRecord",
		Status:        shared.OutboxStatusDead,
		RetryCount:    5,
		MaxRetries:    5,
		LastError:     "relay failed",
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func TestOutboxServiceGetDeadLetterEntries(t *testing.T) {
	service, repo := newOutboxServiceFixture()

	base := time.Now()
	for i := 0; i < 5; i++ {
		repo.add(deadLetterEntry(base.Add(time.Duration(i) * time.Minute)))
	}
	repo.add(&shared.OutboxEntry{ID: uuid.New(), Status: shared.OutboxStatusPending})

	result, err := service.GetDeadLetterEntries(context.Background(), OutboxFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)

	assert.Equal(t, int64(5), result.Total)
	assert.Len(t, result.Entries, 5)
	assert.Equal(t, 1, result.TotalPages)
	for _, entry := range result.Entries {
		assert.Equal(t, "DEAD", entry.Status)
	}
}

func TestOutboxServiceGetDeadLetterEntriesPagination(t *testing.T) {
	service, repo := newOutboxServiceFixture()

	base := time.Now()
	for i := 0; i < 5; i++ {
		repo.add(deadLetterEntry(base.Add(time.Duration(i) * time.Minute)))
	}

	t.Run("second page holds the remainder", func(t *testing.T) {
		result, err := service.GetDeadLetterEntries(context.Background(), OutboxFilter{Page: 2, PageSize: 3})
		require.NoError(t, err)
		assert.Equal(t, int64(5), result.Total)
		assert.Len(t, result.Entries, 2)
		assert.Equal(t, 2, result.TotalPages)
	})

	t.Run("zero values fall back to defaults", func(t *testing.T) {
		result, err := service.GetDeadLetterEntries(context.Background(), OutboxFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Page)
		assert.Equal(t, 20, result.PageSize)
	})

	t.Run("oversized page size is clamped", func(t *testing.T) {
		result, err := service.GetDeadLetterEntries(context.Background(), OutboxFilter{Page: 1, PageSize: 500})
		require.NoError(t, err)
		assert.Equal(t, 100, result.PageSize)
	})
}

func TestOutboxServiceGetEntry(t *testing.T) {
	service, repo := newOutboxServiceFixture()

	entry := deadLetterEntry(time.Now())
	repo.add(entry)

	t.Run("found", func(t *testing.T) {
		dto, err := service.GetEntry(context.Background(), entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entry.ID, dto.ID)
		assert.Equal(t, "sync.record.linked", dto.EventType)
		assert.Equal(t, "relay failed", dto.LastError)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := service.GetEntry(context.Background(), uuid.New())
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "ENTRY_NOT_FOUND", domainErr.Code)
	})
}

func TestOutboxServiceRetryDeadEntry(t *testing.T) {
	t.Run("resets the entry to pending", func(t *testing.T) {
		service, repo := newOutboxServiceFixture()
		entry := deadLetterEntry(time.Now())
		repo.add(entry)

		result, err := service.RetryDeadEntry(context.Background(), entry.ID)
		require.NoError(t, err)
		assert.Equal(t, "PENDING", result.Status)
		assert.Equal(t, 0, result.RetryCount)
		assert.Empty(t, result.LastError)
	})

	t.Run("unknown id", func(t *testing.T) {
		service, _ := newOutboxServiceFixture()
		_, err := service.RetryDeadEntry(context.Background(), uuid.New())
		assert.Error(t, err)
	})

	t.Run("entry that is not dead", func(t *testing.T) {
		service, repo := newOutboxServiceFixture()
		entry := &shared.OutboxEntry{ID: uuid.New(), Status: shared.OutboxStatusPending}
		repo.add(entry)

		_, err := service.RetryDeadEntry(context.Background(), entry.ID)
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_STATUS", domainErr.Code)
	})
}

func TestOutboxServiceRetryAllDeadEntries(t *testing.T) {
	service, repo := newOutboxServiceFixture()

	base := time.Now()
	for i := 0; i < 3; i++ {
		repo.add(deadLetterEntry(base.Add(time.Duration(i) * time.Second)))
	}
	pending := &shared.OutboxEntry{ID: uuid.New(), Status: shared.OutboxStatusPending}
	repo.add(pending)

	count, err := service.RetryAllDeadEntries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	for _, entry := range repo.entries {
		assert.Equal(t, shared.OutboxStatusPending, entry.Status)
		assert.Equal(t, 0, entry.RetryCount)
	}
}

func TestOutboxServiceGetStats(t *testing.T) {
	service, repo := newOutboxServiceFixture()

	statuses := []shared.OutboxStatus{
		shared.OutboxStatusPending,
		shared.OutboxStatusPending,
		shared.OutboxStatusProcessing,
		shared.OutboxStatusSent,
		shared.OutboxStatusSent,
		shared.OutboxStatusSent,
		shared.OutboxStatusFailed,
		shared.OutboxStatusDead,
	}
	for _, status := range statuses {
		repo.add(&shared.OutboxEntry{ID: uuid.New(), Status: status})
	}

	stats, err := service.GetStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(3), stats.Sent)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Dead)
	assert.Equal(t, int64(8), stats.Total)
}
