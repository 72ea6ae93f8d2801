package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/leadsync/internal/domain"
	"gorm.io/gorm"
)

// DefaultJobListLimit is the number of jobs ListRecent returns when no limit is given.
const DefaultJobListLimit = 20

// SyncJobRepository records one audit row per sync attempt.
type SyncJobRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSyncJobRepository creates a new SyncJobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *SyncJobRepository: repository instance bound to db.
func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db, now: time.Now}
}

// WithClock replaces the time source for started_at and completed_at.
func (r *SyncJobRepository) WithClock(now func() time.Time) *SyncJobRepository {
	r.now = now
	return r
}

// Create starts a running job for a configuration.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - configID: configuration being synced.
//   - userID: owner of the configuration.
//
// Returns:
//   - *domain.SyncJob: the persisted job, including its ID.
//   - error: non-nil if the insert fails.
func (r *SyncJobRepository) Create(ctx context.Context, configID uint, userID string) (*domain.SyncJob, error) {
	job := &domain.SyncJob{
		UserID:       userID,
		PageConfigID: configID,
		JobStatus:    domain.JobStatusRunning,
		StartedAt:    normalizeTime(r.now()),
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}
	return job, nil
}

// Complete moves a running job to a terminal status. A job is completed once;
// completing it again returns ErrConflict.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to complete.
//   - status: JobStatusCompleted or JobStatusFailed.
//   - leadsFetched: number of leads stored by the attempt.
//   - errMsg: failure description; empty means none.
//
// Returns:
//   - error: ErrValidation, ErrNotFound, ErrConflict, or a persistence error.
func (r *SyncJobRepository) Complete(ctx context.Context, jobID uint, status domain.JobStatus, leadsFetched int, errMsg string) error {
	if status != domain.JobStatusCompleted && status != domain.JobStatusFailed {
		return fmt.Errorf("%w: %q is not a terminal job status", domain.ErrValidation, status)
	}

	res := r.db.WithContext(ctx).
		Model(&domain.SyncJob{}).
		Where("id = ? AND job_status = ?", jobID, domain.JobStatusRunning).
		Updates(map[string]interface{}{
			"job_status":    status,
			"leads_fetched": leadsFetched,
			"error_message": nullableString(errMsg),
			"completed_at":  normalizeTime(r.now()),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete sync job %d: %w", jobID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var existing domain.SyncJob
	if err := r.db.WithContext(ctx).Select("id").First(&existing, "id = ?", jobID).Error; err != nil {
		return notFound(err, "sync job")
	}
	return fmt.Errorf("sync job %d is not running: %w", jobID, domain.ErrConflict)
}

// GetByID retrieves a job by its ID.
func (r *SyncJobRepository) GetByID(ctx context.Context, jobID uint) (*domain.SyncJob, error) {
	var job domain.SyncJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, notFound(err, "sync job")
	}
	return &job, nil
}

// ListByConfig returns all jobs of a configuration, oldest first.
func (r *SyncJobRepository) ListByConfig(ctx context.Context, configID uint) ([]domain.SyncJob, error) {
	var jobs []domain.SyncJob
	if err := r.db.WithContext(ctx).
		Where("page_config_id = ?", configID).
		Order("started_at ASC").
		Order("id ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	return jobs, nil
}

// ListRecent returns a user's newest jobs with the page name and ID of each job's configuration.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user.
//   - limit: maximum rows; values <= 0 use DefaultJobListLimit.
//
// Returns:
//   - []domain.SyncJobView: jobs newest first.
//   - error: non-nil if the query fails.
func (r *SyncJobRepository) ListRecent(ctx context.Context, userID string, limit int) ([]domain.SyncJobView, error) {
	if limit <= 0 {
		limit = DefaultJobListLimit
	}

	var views []domain.SyncJobView
	if err := r.db.WithContext(ctx).
		Table("sync_jobs").
		Select("sync_jobs.*, page_sync_configs.page_name AS page_name, page_sync_configs.page_id AS page_id").
		Joins("LEFT JOIN page_sync_configs ON page_sync_configs.id = sync_jobs.page_config_id").
		Where("sync_jobs.user_id = ?", userID).
		Order("sync_jobs.started_at DESC").
		Order("sync_jobs.id DESC").
		Limit(limit).
		Scan(&views).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent sync jobs: %w", err)
	}
	return views, nil
}
