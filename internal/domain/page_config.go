package domain

import "time"

// SyncStatus represents the auto-sync state of a page configuration.
// Values include SyncStatusPending, SyncStatusSyncing, SyncStatusSuccess, and SyncStatusError.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// Sync interval bounds in minutes.
const (
	MinSyncIntervalMinutes     = 15
	MaxSyncIntervalMinutes     = 1440
	DefaultSyncIntervalMinutes = 30
)

// PageSyncConfig describes one Facebook page a user polls for leads and its sync policy.
// NextSyncAt is nil exactly when AutoSyncEnabled is false.
type PageSyncConfig struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	UserID              string     `gorm:"type:text;not null;uniqueIndex:idx_page_configs_user_page" json:"user_id"`
	PageID              string     `gorm:"type:text;not null;uniqueIndex:idx_page_configs_user_page" json:"page_id"`
	PageName            *string    `gorm:"type:text" json:"page_name"`
	AccessToken         string     `gorm:"type:text;not null" json:"-"`
	AutoSyncEnabled     bool       `gorm:"not null;index:idx_page_configs_due,priority:1" json:"auto_sync_enabled"`
	SyncIntervalMinutes int        `gorm:"not null;default:30" json:"sync_interval_minutes"`
	LastSyncAt          *time.Time `json:"last_sync_at"`
	NextSyncAt          *time.Time `gorm:"index:idx_page_configs_due,priority:2" json:"next_sync_at"`
	SyncStatus          SyncStatus `gorm:"type:text;not null;default:pending" json:"sync_status"`
	LastError           *string    `gorm:"type:text" json:"last_error"`
	SyncAttempts        int64      `gorm:"not null;default:0" json:"sync_attempts"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName returns the database table name for PageSyncConfig.
func (PageSyncConfig) TableName() string {
	return "page_sync_configs"
}

// Interval returns the configured sync interval as a duration.
func (c *PageSyncConfig) Interval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// DisplayName returns the page name, falling back to the page ID.
func (c *PageSyncConfig) DisplayName() string {
	if c.PageName != nil && *c.PageName != "" {
		return *c.PageName
	}
	return c.PageID
}

// ValidSyncInterval reports whether minutes lies within the allowed interval bounds.
func ValidSyncInterval(minutes int) bool {
	return minutes >= MinSyncIntervalMinutes && minutes <= MaxSyncIntervalMinutes
}

// LeadForm records a lead form discovered under a page configuration.
type LeadForm struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"type:text;not null;uniqueIndex:idx_lead_forms_user_form" json:"user_id"`
	PageConfigID uint      `gorm:"not null;index" json:"page_config_id"`
	FormID       string    `gorm:"type:text;not null;uniqueIndex:idx_lead_forms_user_form" json:"form_id"`
	FormName     string    `gorm:"type:text;not null;default:'Unnamed Form'" json:"form_name"`
	IsActive     bool      `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for LeadForm.
func (LeadForm) TableName() string {
	return "lead_forms"
}
