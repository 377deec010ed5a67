package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
)

func newTestJob(id string) *domain.Job {
	now := time.Now()
	return &domain.Job{
		ID:         id,
		OwnerID:    "owner-1",
		Kind:       "dub",
		InputRef:   "https://cdn.example.com/video.mp4",
		Status:     domain.JobStatusPending,
		Progress:   -1,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	job := newTestJob("11111111-1111-1111-1111-111111111111")
	require.NoError(t, store.Create(ctx, job))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, domain.JobStatusPending, got.Status)

	// Duplicate create is rejected.
	err = store.Create(ctx, job)
	require.Error(t, err)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemoryStore_Transition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	job := newTestJob("11111111-1111-1111-1111-111111111111")
	require.NoError(t, store.Create(ctx, job))

	updated, err := store.Transition(ctx, job.ID, domain.JobStatusPending, Patch{
		Status:       domain.JobStatusProcessing,
		RemoteHandle: String("remote-42"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, updated.Status)
	assert.Equal(t, "remote-42", updated.RemoteHandle)
	assert.Nil(t, updated.CompletedAt)

	// Stale fromStatus loses the race.
	_, err = store.Transition(ctx, job.ID, domain.JobStatusPending, Patch{
		Status: domain.JobStatusProcessing,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Disallowed edges are rejected before touching the record.
	_, err = store.Transition(ctx, job.ID, domain.JobStatusProcessing, Patch{
		Status: domain.JobStatusPending,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	updated, err = store.Transition(ctx, job.ID, domain.JobStatusProcessing, Patch{
		Status:        domain.JobStatusCompleted,
		ResultRef:     String("https://cdn.example.com/result.mp4"),
		Progress:      Int(100),
		MarkCompleted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, updated.Status)
	assert.Equal(t, 100, updated.Progress)
	require.NotNil(t, updated.CompletedAt)

	// Terminal states admit nothing.
	_, err = store.Transition(ctx, job.ID, domain.JobStatusCompleted, Patch{
		Status: domain.JobStatusProcessing,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestMemoryStore_TransitionExpectedRetryCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	job := newTestJob("11111111-1111-1111-1111-111111111111")
	job.Status = domain.JobStatusQueuedRetry
	require.NoError(t, store.Create(ctx, job))

	// First claim succeeds and bumps retry_count.
	claimed, err := store.Transition(ctx, job.ID, domain.JobStatusQueuedRetry, Patch{
		Status:             domain.JobStatusQueuedRetry,
		RetryCount:         Int(1),
		ExpectedRetryCount: Int(0),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.RetryCount)

	// A second claim with the stale expected count loses.
	_, err = store.Transition(ctx, job.ID, domain.JobStatusQueuedRetry, Patch{
		Status:             domain.JobStatusQueuedRetry,
		RetryCount:         Int(1),
		ExpectedRetryCount: Int(0),
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestMemoryStore_ListByStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 3; i++ {
		job := newTestJob(fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i))
		job.Status = domain.JobStatusQueuedRetry
		job.UpdatedAt = time.Now().Add(time.Duration(-i) * time.Minute)
		require.NoError(t, store.Create(ctx, job))
	}
	other := newTestJob("99999999-9999-9999-9999-999999999999")
	other.OwnerID = "owner-2"
	other.Status = domain.JobStatusQueuedRetry
	require.NoError(t, store.Create(ctx, other))

	jobs, err := store.ListByStatus(ctx, domain.JobStatusQueuedRetry, "", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 4)

	// Oldest update first.
	assert.True(t, !jobs[0].UpdatedAt.After(jobs[1].UpdatedAt))

	jobs, err = store.ListByStatus(ctx, domain.JobStatusQueuedRetry, "owner-2", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	jobs, err = store.ListByStatus(ctx, domain.JobStatusQueuedRetry, "", 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = store.ListByStatus(ctx, domain.JobStatusProcessing, "", 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestMemoryStore_ListPagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Now()
	for i := 0; i < 5; i++ {
		job := newTestJob(fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i))
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Create(ctx, job))
	}

	// First page: newest first, one extra row signals more.
	page, err := store.List(ctx, Filter{OwnerID: "owner-1", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "00000000-0000-0000-0000-000000000004", page[0].ID)
	assert.Equal(t, "00000000-0000-0000-0000-000000000003", page[1].ID)

	// Second page resumes after the last returned row.
	page2, err := store.List(ctx, Filter{
		OwnerID:  "owner-1",
		PageSize: 2,
		Cursor:   &Cursor{CreatedAt: page[1].CreatedAt, JobID: page[1].ID},
	})
	require.NoError(t, err)
	require.Len(t, page2, 3)
	assert.Equal(t, "00000000-0000-0000-0000-000000000002", page2[0].ID)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", page2[1].ID)
}
