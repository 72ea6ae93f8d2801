package domain

import "time"

// JobStatus represents the status of a sync job.
// Values include JobStatusRunning, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// SyncJob is the audit record of one sync attempt against one page configuration.
// It is created as running and moved to a terminal status exactly once.
type SyncJob struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       string     `gorm:"type:text;not null;index:idx_sync_jobs_user_started,priority:1" json:"user_id"`
	PageConfigID uint       `gorm:"not null;index" json:"page_config_id"`
	JobStatus    JobStatus  `gorm:"type:text;not null;default:running" json:"job_status"`
	LeadsFetched int        `gorm:"not null;default:0" json:"leads_fetched"`
	ErrorMessage *string    `gorm:"type:text" json:"error_message"`
	StartedAt    time.Time  `gorm:"not null;index:idx_sync_jobs_user_started,priority:2" json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// TableName returns the database table name for SyncJob.
func (SyncJob) TableName() string {
	return "sync_jobs"
}

// SyncJobView is a sync job joined with display fields of its page configuration.
type SyncJobView struct {
	SyncJob
	PageName *string `json:"page_name"`
	PageID   string  `json:"page_id"`
}
