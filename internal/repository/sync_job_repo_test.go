package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/leadsync/internal/domain"
)

func TestSyncJobRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSyncJobRepository(db).WithClock(fixedClock(testNow))

	job, err := repo.Create(ctx, 7, "user-1")
	require.NoError(t, err)
	assert.NotZero(t, job.ID)
	assert.Equal(t, domain.JobStatusRunning, job.JobStatus)

	repo.WithClock(fixedClock(testNow.Add(time.Minute)))
	require.NoError(t, repo.Complete(ctx, job.ID, domain.JobStatusFailed, 0, "token expired"))

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.JobStatus)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "token expired", *stored.ErrorMessage)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.CompletedAt.Equal(testNow.Add(time.Minute)))

	tests := []struct {
		name    string
		jobID   uint
		status  domain.JobStatus
		wantErr error
	}{
		{name: "already terminal", jobID: job.ID, status: domain.JobStatusCompleted, wantErr: domain.ErrConflict},
		{name: "missing job", jobID: 999, status: domain.JobStatusCompleted, wantErr: domain.ErrNotFound},
		{name: "non-terminal target", jobID: job.ID, status: domain.JobStatusRunning, wantErr: domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, repo.Complete(ctx, tt.jobID, tt.status, 1, ""), tt.wantErr)
		})
	}
}

func TestSyncJobRepository_ListRecent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	configs := NewPageConfigRepository(db)
	jobs := NewSyncJobRepository(db)

	cfg := seedConfig(t, configs, "user-1", "page-1", true, 30)
	for i := 0; i < 3; i++ {
		jobs.WithClock(fixedClock(testNow.Add(time.Duration(i) * time.Minute)))
		job, err := jobs.Create(ctx, cfg.ID, "user-1")
		require.NoError(t, err)
		require.NoError(t, jobs.Complete(ctx, job.ID, domain.JobStatusCompleted, i, ""))
	}
	_, err := jobs.Create(ctx, cfg.ID, "user-2")
	require.NoError(t, err)

	views, err := jobs.ListRecent(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, 2, views[0].LeadsFetched)
	assert.Equal(t, 1, views[1].LeadsFetched)
	assert.Equal(t, "page-1", views[0].PageID)
	require.NotNil(t, views[0].PageName)
	assert.Equal(t, "Page page-1", *views[0].PageName)

	all, err := jobs.ListRecent(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byConfig, err := jobs.ListByConfig(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Len(t, byConfig, 4)
}
