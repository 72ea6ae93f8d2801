package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/repository"
	"github.com/timmy/leadsync/internal/source"
	"github.com/timmy/leadsync/internal/storage"
)

func TestAutoSyncService_RunBatchIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first := env.seedConfig(t, "user-1", "page-1", true)
	second := env.seedConfig(t, "user-2", "page-2", true)
	third := env.seedConfig(t, "user-3", "page-3", true)

	env.source.forms["page-1"] = []source.FormRef{{ID: "form-1", Name: "Spring"}}
	env.source.forms["page-3"] = []source.FormRef{{ID: "form-3", Name: "Autumn"}}
	env.source.formErrs["page-2"] = errors.New("connection reset by peer")
	env.source.leads["form-1"] = []source.RawLead{rawLead("l1", "a@example.com"), rawLead("l2", "b@example.com")}
	env.source.leads["form-3"] = []source.RawLead{rawLead("l3", "c@example.com")}

	result, err := env.svc.RunBatch(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SyncedConfigs)
	assert.Equal(t, 1, result.FailedConfigs)
	assert.Equal(t, 0, result.SkippedConfigs)
	assert.Equal(t, 3, result.TotalLeadsFetched)
	assert.Len(t, result.Results, 3)

	for _, tt := range []struct {
		cfg        *domain.PageSyncConfig
		wantStatus domain.SyncStatus
		wantJob    domain.JobStatus
		wantLeads  int
	}{
		{cfg: first, wantStatus: domain.SyncStatusSuccess, wantJob: domain.JobStatusCompleted, wantLeads: 2},
		{cfg: second, wantStatus: domain.SyncStatusError, wantJob: domain.JobStatusFailed, wantLeads: 0},
		{cfg: third, wantStatus: domain.SyncStatusSuccess, wantJob: domain.JobStatusCompleted, wantLeads: 1},
	} {
		t.Run(tt.cfg.PageID, func(t *testing.T) {
			stored := env.config(t, tt.cfg.ID)
			assert.Equal(t, tt.wantStatus, stored.SyncStatus)

			jobs := env.jobsFor(t, tt.cfg.ID)
			require.Len(t, jobs, 1, "exactly one job per attempt")
			assert.Equal(t, tt.wantJob, jobs[0].JobStatus)
			assert.Equal(t, tt.wantLeads, jobs[0].LeadsFetched)
			assert.NotNil(t, jobs[0].CompletedAt)
		})
	}

	failed := env.config(t, second.ID)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "connection reset by peer")
	jobs := env.jobsFor(t, second.ID)
	require.NotNil(t, jobs[0].ErrorMessage)
	assert.Equal(t, *failed.LastError, *jobs[0].ErrorMessage)
}

func TestAutoSyncService_SuccessSchedulesNextRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cfg := env.seedConfig(t, "user-1", "page-1", true)
	env.source.forms["page-1"] = []source.FormRef{{ID: "form-1"}}

	env.clock.Set(testNow.Add(7 * time.Second))
	_, err := env.svc.RunBatch(ctx, testNow)
	require.NoError(t, err)

	stored := env.config(t, cfg.ID)
	require.NotNil(t, stored.LastSyncAt)
	require.NotNil(t, stored.NextSyncAt)
	assert.True(t, stored.NextSyncAt.Equal(stored.LastSyncAt.Add(30*time.Minute)))
	assert.Equal(t, int64(1), stored.SyncAttempts)
	assert.Nil(t, stored.LastError)

	// Not due again until the interval elapses.
	result, err := env.svc.RunBatch(ctx, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, result.Results)
}

func TestAutoSyncService_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cfg := env.seedConfig(t, "user-1", "page-1", true)
	env.source.forms["page-1"] = []source.FormRef{{ID: "form-1"}}
	env.source.leads["form-1"] = []source.RawLead{rawLead("l1", "a@example.com"), rawLead("l2", "b@example.com")}

	_, err := env.svc.RunBatch(ctx, testNow)
	require.NoError(t, err)

	env.source.leads["form-1"] = []source.RawLead{rawLead("l1", "changed@example.com"), rawLead("l2", "b@example.com")}
	env.clock.Set(testNow.Add(time.Hour))
	result, err := env.svc.RunBatch(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.SyncedConfigs)
	assert.Equal(t, 2, result.TotalLeadsFetched)

	assert.Equal(t, int64(2), env.leadCount(t, "user-1"))
	assert.Len(t, env.jobsFor(t, cfg.ID), 2)

	leads, err := env.leads.ListForUser(ctx, "user-1", repository.LeadFilter{})
	require.NoError(t, err)
	emails := map[string]string{}
	for _, l := range leads {
		emails[l.ExternalLeadID] = *l.Email
		assert.Equal(t, domain.LeadSourceFacebook, l.LeadSource)
		assert.NotNil(t, l.SubmittedAt)
	}
	assert.Equal(t, "changed@example.com", emails["l1"])
}

func TestAutoSyncService_FormLevelSourceErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cfg := env.seedConfig(t, "user-1", "page-1", true)

	env.source.forms["page-1"] = []source.FormRef{{ID: "good"}, {ID: "refused"}}
	env.source.leads["good"] = []source.RawLead{rawLead("l1", "a@example.com")}
	env.source.leadErrs["refused"] = domain.ErrSourceUnavailable

	result, err := env.svc.RunBatch(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SyncedConfigs)
	assert.Equal(t, 1, result.TotalLeadsFetched)
	assert.Equal(t, domain.SyncStatusSuccess, env.config(t, cfg.ID).SyncStatus)

	forms, err := env.forms.ListActiveByConfig(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Len(t, forms, 2, "refused forms stay registered")
}

func TestAutoSyncService_FormTransportErrorAbortsConfig(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cfg := env.seedConfig(t, "user-1", "page-1", true)

	env.source.forms["page-1"] = []source.FormRef{{ID: "good"}, {ID: "broken"}}
	env.source.leads["good"] = []source.RawLead{rawLead("l1", "a@example.com")}
	env.source.leadErrs["broken"] = context.DeadlineExceeded

	result, err := env.svc.RunBatch(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedConfigs)
	assert.Equal(t, 0, result.TotalLeadsFetched)

	jobs := env.jobsFor(t, cfg.ID)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobStatusFailed, jobs[0].JobStatus)
	assert.Equal(t, 0, jobs[0].LeadsFetched)
}

func TestAutoSyncService_DiscoveryFallback(t *testing.T) {
	tests := []struct {
		name       string
		registered bool
		wantLeads  int
	}{
		{name: "registered forms used", registered: true, wantLeads: 1},
		{name: "no registered forms", registered: false, wantLeads: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t)
			cfg := env.seedConfig(t, "user-1", "page-1", true)

			if tt.registered {
				require.NoError(t, env.forms.Upsert(ctx, &domain.LeadForm{
					UserID: "user-1", PageConfigID: cfg.ID, FormID: "known", FormName: "Known", IsActive: true,
				}))
			}
			env.source.formErrs["page-1"] = domain.ErrSourceUnavailable
			env.source.leads["known"] = []source.RawLead{rawLead("l1", "a@example.com")}

			result, err := env.svc.RunBatch(ctx, testNow)
			require.NoError(t, err)
			require.Len(t, result.Results, 1)
			assert.Equal(t, OutcomeSynced, result.Results[0].Outcome)
			assert.Equal(t, tt.wantLeads, result.TotalLeadsFetched)

			stored := env.config(t, cfg.ID)
			assert.Equal(t, domain.SyncStatusSuccess, stored.SyncStatus)
			assert.Nil(t, stored.LastError)
			require.NotNil(t, stored.NextSyncAt)
			assert.True(t, stored.NextSyncAt.After(testNow), "refused page is not retried on every trigger")

			jobs := env.jobsFor(t, cfg.ID)
			require.Len(t, jobs, 1)
			assert.Equal(t, domain.JobStatusCompleted, jobs[0].JobStatus)
			assert.Equal(t, tt.wantLeads, jobs[0].LeadsFetched)
		})
	}
}

func TestAutoSyncService_PanicIsRecovered(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	broken := env.seedConfig(t, "user-1", "page-1", true)
	healthy := env.seedConfig(t, "user-2", "page-2", true)
	env.source.panicOn["page-1"] = true
	env.source.forms["page-2"] = []source.FormRef{{ID: "form-2"}}

	result, err := env.svc.RunBatch(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedConfigs)
	assert.Equal(t, 1, result.SyncedConfigs)

	jobs := env.jobsFor(t, broken.ID)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobStatusFailed, jobs[0].JobStatus)
	assert.Equal(t, domain.SyncStatusError, env.config(t, broken.ID).SyncStatus)
	assert.Equal(t, domain.SyncStatusSuccess, env.config(t, healthy.ID).SyncStatus)
}

func TestAutoSyncService_CancellationStopsBetweenConfigs(t *testing.T) {
	env := newTestEnv(t)
	first := env.seedConfig(t, "user-1", "page-1", true)
	second := env.seedConfig(t, "user-2", "page-2", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.source.onForms = func(string) { cancel() }

	result, err := env.svc.RunBatch(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, result.Results, 1, "batch stops after the interrupted config")

	ran, idle := first, second
	if result.Results[0].ConfigID == second.ID {
		ran, idle = second, first
	}

	jobs := env.jobsFor(t, ran.ID)
	require.Len(t, jobs, 1)
	assert.NotEqual(t, domain.JobStatusRunning, jobs[0].JobStatus, "job is closed despite cancellation")
	assert.NotNil(t, jobs[0].CompletedAt)
	assert.NotEqual(t, domain.SyncStatusSyncing, env.config(t, ran.ID).SyncStatus)

	assert.Empty(t, env.jobsFor(t, idle.ID))
	assert.Equal(t, domain.SyncStatusPending, env.config(t, idle.ID).SyncStatus)
}

func TestAutoSyncService_SyncConfigReclaimsStaleManualClaim(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cfg := env.seedConfig(t, "user-1", "page-1", false)
	env.source.forms["page-1"] = []source.FormRef{{ID: "form-1"}}
	env.source.leads["form-1"] = []source.RawLead{rawLead("l1", "a@example.com")}

	// A manual run that claimed the config and never finished.
	won, err := env.configs.ClaimForManualSync(ctx, cfg)
	require.NoError(t, err)
	require.True(t, won)

	_, err = env.svc.SyncConfig(ctx, cfg.ID, "user-1")
	assert.True(t, errors.Is(err, domain.ErrConflict), "fresh claim is still in progress")

	due, err := env.configs.GetDueForSync(ctx, testNow.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due, "disabled configs are never due")

	env.clock.Set(testNow.Add(2 * time.Hour))
	result, err := env.svc.SyncConfig(ctx, cfg.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, result.Outcome)
	assert.Equal(t, 1, result.LeadsFetched)
	assert.Equal(t, domain.SyncStatusSuccess, env.config(t, cfg.ID).SyncStatus)
}

// failingClaims wraps a store whose claim query errors.
type failingClaims struct {
	PageConfigStore
}

func (failingClaims) ClaimForSync(context.Context, *domain.PageSyncConfig) (bool, error) {
	return false, errors.New("database is locked")
}

func TestAutoSyncService_ClaimErrorLeavesConfigAlone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cfg := env.seedConfig(t, "user-1", "page-1", true)

	svc := NewAutoSyncService(failingClaims{env.configs}, env.jobs, env.leads, env.forms, env.source, nil, nil, nil)
	result, err := svc.RunBatch(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedConfigs)
	require.Len(t, result.Results, 1)
	assert.Contains(t, result.Results[0].Error, "database is locked")

	stored := env.config(t, cfg.ID)
	assert.Equal(t, domain.SyncStatusPending, stored.SyncStatus)
	assert.Nil(t, stored.LastError)
	assert.Empty(t, env.jobsFor(t, cfg.ID))
}

// losingClaims wraps a store so every batch claim is lost to another runner.
type losingClaims struct {
	PageConfigStore
}

func (losingClaims) ClaimForSync(context.Context, *domain.PageSyncConfig) (bool, error) {
	return false, nil
}

func TestAutoSyncService_LostClaimIsSkipped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cfg := env.seedConfig(t, "user-1", "page-1", true)

	svc := NewAutoSyncService(losingClaims{env.configs}, env.jobs, env.leads, env.forms, env.source, nil, nil, nil)
	result, err := svc.RunBatch(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedConfigs)
	assert.Empty(t, env.jobsFor(t, cfg.ID), "no job without a claim")
	assert.Empty(t, env.source.calls)
}

func TestAutoSyncService_RejectsOverlappingBatch(t *testing.T) {
	env := newTestEnv(t)
	env.svc.running.Store(true)

	_, err := env.svc.RunBatch(context.Background(), testNow)
	assert.ErrorIs(t, err, ErrBatchInProgress)
}

func TestAutoSyncService_ArchivesRawLeads(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedConfig(t, "user-1", "page-1", true)
	env.source.forms["page-1"] = []source.FormRef{{ID: "form-1"}}
	env.source.leads["form-1"] = []source.RawLead{rawLead("l1", "a@example.com")}

	result, err := env.svc.RunBatch(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)

	archive := storage.NewObjectArchive(env.store, "graph")
	payload, err := archive.Get(ctx, storage.ArchiveKey(result.Results[0].JobID, "form-1"))
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"l1"`)
}

func TestAutoSyncService_SyncConfig(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	disabled := env.seedConfig(t, "owner", "page-1", false)
	env.source.forms["page-1"] = []source.FormRef{{ID: "form-1"}}
	env.source.leads["form-1"] = []source.RawLead{rawLead("l1", "a@example.com")}

	result, err := env.svc.SyncConfig(ctx, disabled.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, result.Outcome)
	assert.Equal(t, 1, result.LeadsFetched)

	stored := env.config(t, disabled.ID)
	assert.Equal(t, domain.SyncStatusSuccess, stored.SyncStatus)
	assert.Nil(t, stored.NextSyncAt, "manual sync keeps a disabled config unscheduled")

	_, err = env.svc.SyncConfig(ctx, disabled.ID, "intruder")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, env.db.Model(&domain.PageSyncConfig{}).Where("id = ?", disabled.ID).
		Update("sync_status", domain.SyncStatusSyncing).Error)
	_, err = env.svc.SyncConfig(ctx, disabled.ID, "owner")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestAutoSyncService_FetchForm(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cfg := env.seedConfig(t, "owner", "page-1", true)
	env.source.leads["form-9"] = []source.RawLead{rawLead("l1", "a@example.com"), rawLead("l2", "b@example.com")}
	env.source.leadErrs["form-bad"] = domain.ErrSourceUnavailable

	stored, err := env.svc.FetchForm(ctx, cfg.ID, "owner", "form-9")
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	assert.Equal(t, domain.SyncStatusPending, env.config(t, cfg.ID).SyncStatus)

	_, err = env.svc.FetchForm(ctx, cfg.ID, "owner", "form-bad")
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)

	jobs := env.jobsFor(t, cfg.ID)
	require.Len(t, jobs, 2)
	assert.Equal(t, domain.JobStatusCompleted, jobs[0].JobStatus)
	assert.Equal(t, domain.JobStatusFailed, jobs[1].JobStatus)

	_, err = env.svc.FetchForm(ctx, cfg.ID, "owner", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
