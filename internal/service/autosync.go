package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/logger"
	"github.com/timmy/leadsync/internal/source"
	"github.com/timmy/leadsync/internal/storage"
	"gorm.io/datatypes"
)

// ErrBatchInProgress is returned when RunBatch is called while a batch is running.
var ErrBatchInProgress = errors.New("auto-sync batch already running")

// bookkeepingTimeout bounds status and job writes made after the batch context ended.
const bookkeepingTimeout = 10 * time.Second

// PageConfigStore is the subset of the page configuration repository the orchestrator needs.
type PageConfigStore interface {
	GetDueForSync(ctx context.Context, now time.Time) ([]domain.PageSyncConfig, error)
	GetForUser(ctx context.Context, id uint, userID string) (*domain.PageSyncConfig, error)
	ClaimForSync(ctx context.Context, cfg *domain.PageSyncConfig) (bool, error)
	ClaimForManualSync(ctx context.Context, cfg *domain.PageSyncConfig) (bool, error)
	IsStale(cfg *domain.PageSyncConfig) bool
	SetSyncStatus(ctx context.Context, id uint, status domain.SyncStatus, errMsg string) error
}

// SyncJobLedger records sync attempts.
type SyncJobLedger interface {
	Create(ctx context.Context, configID uint, userID string) (*domain.SyncJob, error)
	Complete(ctx context.Context, jobID uint, status domain.JobStatus, leadsFetched int, errMsg string) error
}

// LeadStore persists leads.
type LeadStore interface {
	Upsert(ctx context.Context, lead *domain.Lead) error
}

// LeadFormStore persists discovered lead forms.
type LeadFormStore interface {
	Upsert(ctx context.Context, form *domain.LeadForm) error
	ListActiveByConfig(ctx context.Context, configID uint) ([]domain.LeadForm, error)
}

// ConfigOutcome classifies how one configuration fared in a batch.
type ConfigOutcome string

const (
	OutcomeSynced  ConfigOutcome = "synced"
	OutcomeFailed  ConfigOutcome = "failed"
	OutcomeSkipped ConfigOutcome = "skipped"
)

// ConfigResult describes the sync attempt of one configuration.
type ConfigResult struct {
	ConfigID     uint          `json:"config_id"`
	PageID       string        `json:"page_id"`
	JobID        uint          `json:"job_id,omitempty"`
	Outcome      ConfigOutcome `json:"outcome"`
	LeadsFetched int           `json:"leads_fetched"`
	Error        string        `json:"error,omitempty"`
}

// BatchResult holds statistics for one auto-sync batch.
type BatchResult struct {
	SyncedConfigs     int            `json:"synced_configs"`
	FailedConfigs     int            `json:"failed_configs"`
	SkippedConfigs    int            `json:"skipped_configs"`
	TotalLeadsFetched int            `json:"total_leads_fetched"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	Results           []ConfigResult `json:"results"`
}

func (b *BatchResult) add(r ConfigResult) {
	b.Results = append(b.Results, r)
	switch r.Outcome {
	case OutcomeSynced:
		b.SyncedConfigs++
		b.TotalLeadsFetched += r.LeadsFetched
	case OutcomeFailed:
		b.FailedConfigs++
	case OutcomeSkipped:
		b.SkippedConfigs++
	}
}

// AutoSyncConfig holds configuration for the auto-sync service.
type AutoSyncConfig struct {
	// BatchTimeout bounds one RunBatch call; zero means no bound.
	BatchTimeout time.Duration
}

// AutoSyncService pulls leads for every due page configuration.
type AutoSyncService struct {
	configs PageConfigStore
	jobs    SyncJobLedger
	leads   LeadStore
	forms   LeadFormStore
	source  source.LeadSource
	archive storage.Archive
	logger  *logger.Logger

	batchTimeout time.Duration
	running      atomic.Bool
}

// NewAutoSyncService creates a new auto-sync service.
// Parameters:
//   - configs: page configuration store.
//   - jobs: sync job ledger.
//   - leads: lead store.
//   - forms: lead form store.
//   - src: lead source client.
//   - archive: raw payload archive; nil disables archiving.
//   - log: fallback logger when the context carries none.
//   - cfg: batch settings.
//
// Returns:
//   - *AutoSyncService: service ready to run batches.
func NewAutoSyncService(
	configs PageConfigStore,
	jobs SyncJobLedger,
	leads LeadStore,
	forms LeadFormStore,
	src source.LeadSource,
	archive storage.Archive,
	log *logger.Logger,
	cfg *AutoSyncConfig,
) *AutoSyncService {
	if archive == nil {
		archive = storage.NoopArchive{}
	}
	if log == nil {
		log = logger.GetDefault()
	}
	s := &AutoSyncService{
		configs: configs,
		jobs:    jobs,
		leads:   leads,
		forms:   forms,
		source:  src,
		archive: archive,
		logger:  log,
	}
	if cfg != nil {
		s.batchTimeout = cfg.BatchTimeout
	}
	return s
}

// log returns a logger from context if available, otherwise returns the service logger
func (s *AutoSyncService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != logger.GetDefault() {
		return l
	}
	return s.logger
}

// RunBatch syncs every configuration due at now, one after another.
// A failing configuration is recorded on its status and job row and never
// stops the batch. Only a failing due query is returned as an error.
// Parameters:
//   - ctx: context for cancellation; cancellation stops the batch between configurations.
//   - now: reference time for the due query.
//
// Returns:
//   - *BatchResult: per-outcome counts and per-configuration results.
//   - error: ErrBatchInProgress, or a due-query failure.
func (s *AutoSyncService) RunBatch(ctx context.Context, now time.Time) (*BatchResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBatchInProgress
	}
	defer s.running.Store(false)

	if s.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.batchTimeout)
		defer cancel()
	}
	ctx = logger.SetComponent(ctx, "autosync")

	result := &BatchResult{StartTime: time.Now(), Results: []ConfigResult{}}

	due, err := s.configs.GetDueForSync(ctx, now)
	if err != nil {
		s.log(ctx).WithError(err).Error("Failed to load due page configs")
		return nil, fmt.Errorf("failed to load due configs: %w", err)
	}

	s.log(ctx).WithField(logger.FieldCount, len(due)).Info("Starting auto-sync batch")

	for i := range due {
		if ctx.Err() != nil {
			s.log(ctx).WithError(ctx.Err()).Warn("Auto-sync batch interrupted")
			break
		}
		result.add(s.runConfig(ctx, &due[i], s.configs.ClaimForSync))
	}

	result.EndTime = time.Now()
	logger.With(logger.Fields{
		"synced":  result.SyncedConfigs,
		"failed":  result.FailedConfigs,
		"skipped": result.SkippedConfigs,
	}).WithCount(result.TotalLeadsFetched).
		WithDuration(result.EndTime.Sub(result.StartTime).Milliseconds()).
		Info(ctx, "Auto-sync batch completed")

	return result, nil
}

// SyncConfig runs one configuration owned by userID immediately, regardless of
// its schedule or auto-sync flag. A configuration stuck in "syncing" past the
// stale threshold is reclaimed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - configID: configuration to sync.
//   - userID: user that must own the configuration.
//
// Returns:
//   - *ConfigResult: outcome of the attempt; a failed attempt is not an error.
//   - error: ErrNotFound for a foreign config, ErrConflict if a sync is already running.
func (s *AutoSyncService) SyncConfig(ctx context.Context, configID uint, userID string) (*ConfigResult, error) {
	cfg, err := s.configs.GetForUser(ctx, configID, userID)
	if err != nil {
		return nil, err
	}
	if cfg.SyncStatus == domain.SyncStatusSyncing && !s.configs.IsStale(cfg) {
		return nil, fmt.Errorf("page config %d is syncing: %w", cfg.ID, domain.ErrConflict)
	}

	result := s.runConfig(logger.SetComponent(ctx, "manual-sync"), cfg, s.configs.ClaimForManualSync)
	if result.Outcome == OutcomeSkipped {
		return nil, fmt.Errorf("page config %d is syncing: %w", cfg.ID, domain.ErrConflict)
	}
	return &result, nil
}

// FetchForm pulls the leads of a single form of a configuration owned by userID.
// The pull is recorded as a job but leaves the configuration's sync status alone.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - configID: configuration holding the page token.
//   - userID: user that must own the configuration.
//   - formID: form to pull.
//
// Returns:
//   - int: number of leads stored.
//   - error: ErrNotFound for a foreign config, or the fetch failure.
func (s *AutoSyncService) FetchForm(ctx context.Context, configID uint, userID, formID string) (int, error) {
	if formID == "" {
		return 0, fmt.Errorf("%w: form id is required", domain.ErrValidation)
	}
	cfg, err := s.configs.GetForUser(ctx, configID, userID)
	if err != nil {
		return 0, err
	}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldConfigID: cfg.ID,
		logger.FieldPageID:   cfg.PageID,
		logger.FieldUserID:   cfg.UserID,
	})

	job, err := s.jobs.Create(ctx, cfg.ID, cfg.UserID)
	if err != nil {
		return 0, err
	}

	stored, err := s.syncForm(ctx, cfg, job, source.FormRef{ID: formID})
	bctx, cancel := bookkeepingContext(ctx)
	defer cancel()
	if err != nil {
		if cerr := s.jobs.Complete(bctx, job.ID, domain.JobStatusFailed, 0, err.Error()); cerr != nil {
			s.log(ctx).WithError(cerr).Error("Failed to complete sync job")
		}
		return 0, err
	}
	if err := s.jobs.Complete(bctx, job.ID, domain.JobStatusCompleted, stored, ""); err != nil {
		return stored, err
	}
	return stored, nil
}

type claimFunc func(ctx context.Context, cfg *domain.PageSyncConfig) (bool, error)

// runConfig performs one claimed sync attempt and never panics.
func (s *AutoSyncService) runConfig(ctx context.Context, cfg *domain.PageSyncConfig, claim claimFunc) (result ConfigResult) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldConfigID: cfg.ID,
		logger.FieldPageID:   cfg.PageID,
		logger.FieldUserID:   cfg.UserID,
	})
	result = ConfigResult{ConfigID: cfg.ID, PageID: cfg.PageID}

	var job *domain.SyncJob
	defer func() {
		if r := recover(); r != nil {
			s.log(ctx).WithField("stack", string(debug.Stack())).Errorf("Panic while syncing page config: %v", r)
			result = s.fail(ctx, cfg, job, result, fmt.Errorf("panic: %v", r))
		}
	}()

	won, err := claim(ctx, cfg)
	if err != nil {
		// The row is not ours; leave its status alone.
		s.log(ctx).WithError(err).Error("Failed to claim page config")
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result
	}
	if !won {
		s.log(ctx).Info("Page config claimed by another run, skipping")
		result.Outcome = OutcomeSkipped
		return result
	}

	job, err = s.jobs.Create(ctx, cfg.ID, cfg.UserID)
	if err != nil {
		return s.fail(ctx, cfg, nil, result, err)
	}
	result.JobID = job.ID
	ctx = logger.WithField(ctx, logger.FieldJobID, job.ID)

	start := time.Now()
	stored, err := s.syncForms(ctx, cfg, job)
	if err != nil {
		return s.fail(ctx, cfg, job, result, err)
	}

	bctx, cancel := bookkeepingContext(ctx)
	defer cancel()
	if err := s.jobs.Complete(bctx, job.ID, domain.JobStatusCompleted, stored, ""); err != nil {
		return s.fail(ctx, cfg, job, result, fmt.Errorf("complete job: %w", err))
	}
	if err := s.configs.SetSyncStatus(bctx, cfg.ID, domain.SyncStatusSuccess, ""); err != nil {
		s.log(ctx).WithError(err).Error("Failed to record sync success")
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result
	}

	logger.With(logger.Fields{}).
		WithCount(stored).
		WithDuration(time.Since(start).Milliseconds()).
		Info(ctx, "Page config synced")

	result.Outcome = OutcomeSynced
	result.LeadsFetched = stored
	return result
}

// fail records a failed attempt on the configuration and on the attempt's own job.
func (s *AutoSyncService) fail(ctx context.Context, cfg *domain.PageSyncConfig, job *domain.SyncJob, result ConfigResult, cause error) ConfigResult {
	msg := cause.Error()
	s.log(ctx).WithError(cause).Error("Page config sync failed")

	bctx, cancel := bookkeepingContext(ctx)
	defer cancel()

	if err := s.configs.SetSyncStatus(bctx, cfg.ID, domain.SyncStatusError, msg); err != nil {
		s.log(ctx).WithError(err).Error("Failed to record sync error")
	}
	if job != nil {
		if err := s.jobs.Complete(bctx, job.ID, domain.JobStatusFailed, 0, msg); err != nil {
			s.log(ctx).WithError(err).Error("Failed to complete sync job")
		}
	}

	result.Outcome = OutcomeFailed
	result.LeadsFetched = 0
	result.Error = msg
	return result
}

// syncForms pulls every form of the configuration and returns the number of leads stored.
// A form the source refuses contributes zero leads; any other error aborts.
func (s *AutoSyncService) syncForms(ctx context.Context, cfg *domain.PageSyncConfig, job *domain.SyncJob) (int, error) {
	forms, err := s.discoverForms(ctx, cfg)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, form := range forms {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		stored, err := s.syncForm(ctx, cfg, job, form)
		if err != nil {
			if errors.Is(err, domain.ErrSourceUnavailable) {
				s.log(ctx).WithField(logger.FieldFormID, form.ID).WithError(err).Warn("Skipping form the source refused")
				continue
			}
			return 0, fmt.Errorf("form %s: %w", form.ID, err)
		}
		total += stored
	}
	return total, nil
}

// discoverForms lists the page's forms and adds registered active forms the listing missed.
// If the source refuses the listing, registered forms alone are used, which may be none.
func (s *AutoSyncService) discoverForms(ctx context.Context, cfg *domain.PageSyncConfig) ([]source.FormRef, error) {
	discovered, listErr := s.source.ListForms(ctx, cfg.PageID, cfg.AccessToken)
	if listErr != nil && !errors.Is(listErr, domain.ErrSourceUnavailable) {
		return nil, fmt.Errorf("discover forms: %w", listErr)
	}

	registered, err := s.forms.ListActiveByConfig(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}

	if listErr != nil {
		s.log(ctx).WithError(listErr).WithField(logger.FieldCount, len(registered)).
			Warn("Form discovery refused, using registered forms")
	}

	forms := make([]source.FormRef, 0, len(discovered)+len(registered))
	seen := make(map[string]bool, cap(forms))
	for _, form := range discovered {
		if !seen[form.ID] {
			seen[form.ID] = true
			forms = append(forms, form)
		}
	}
	for _, form := range registered {
		if !seen[form.FormID] {
			seen[form.FormID] = true
			forms = append(forms, source.FormRef{ID: form.FormID, Name: form.FormName})
		}
	}
	return forms, nil
}

// syncForm registers the form, pulls its leads, archives the raw payload and upserts every lead.
// Leads that fail to persist are logged and not counted.
func (s *AutoSyncService) syncForm(ctx context.Context, cfg *domain.PageSyncConfig, job *domain.SyncJob, form source.FormRef) (int, error) {
	ctx = logger.WithField(ctx, logger.FieldFormID, form.ID)

	if err := s.forms.Upsert(ctx, &domain.LeadForm{
		UserID:       cfg.UserID,
		PageConfigID: cfg.ID,
		FormID:       form.ID,
		FormName:     form.Name,
		IsActive:     form.Active(),
	}); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to register lead form")
	}

	rawLeads, err := s.source.ListLeads(ctx, form.ID, cfg.AccessToken)
	if err != nil {
		return 0, err
	}

	s.archiveLeads(ctx, job, form.ID, rawLeads)

	stored := 0
	for _, raw := range rawLeads {
		if raw.ID == "" {
			s.log(ctx).Warn("Skipping lead without id")
			continue
		}
		if err := s.leads.Upsert(ctx, toLead(cfg, form.ID, raw)); err != nil {
			s.log(ctx).WithField("lead_id", raw.ID).WithError(err).Warn("Failed to store lead")
			continue
		}
		stored++
	}
	return stored, nil
}

// archiveLeads stores the raw submissions of one form; failures are only logged.
func (s *AutoSyncService) archiveLeads(ctx context.Context, job *domain.SyncJob, formID string, leads []source.RawLead) {
	if len(leads) == 0 {
		return
	}

	records := make([]json.RawMessage, 0, len(leads))
	for _, lead := range leads {
		records = append(records, rawPayload(lead))
	}
	payload, err := json.Marshal(records)
	if err != nil {
		s.log(ctx).WithError(err).Warn("Failed to encode raw leads")
		return
	}

	key := storage.ArchiveKey(job.ID, formID)
	if err := s.archive.Put(ctx, key, payload); err != nil {
		s.log(ctx).WithField("key", key).WithError(err).Warn("Failed to archive raw leads")
	}
}

func toLead(cfg *domain.PageSyncConfig, formID string, raw source.RawLead) *domain.Lead {
	normalized := Normalize(raw)
	return &domain.Lead{
		UserID:         cfg.UserID,
		ExternalLeadID: raw.ID,
		PageID:         cfg.PageID,
		FormID:         formID,
		FullName:       normalized.FullName,
		Email:          normalized.Email,
		Phone:          normalized.Phone,
		Company:        normalized.Company,
		LeadSource:     domain.LeadSourceFacebook,
		LeadStatus:     domain.LeadStatusNew,
		SubmittedAt:    raw.SubmittedAt(),
		RawData:        datatypes.JSON(rawPayload(raw)),
	}
}

func rawPayload(raw source.RawLead) json.RawMessage {
	if len(raw.Raw) > 0 {
		return raw.Raw
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return json.RawMessage("{}")
	}
	return encoded
}

// bookkeepingContext outlives a cancelled batch so outcomes still get recorded.
func bookkeepingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}
