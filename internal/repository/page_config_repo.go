package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/leadsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultStaleFactor is how many sync intervals a configuration may stay in
// "syncing" before the due query reclaims it.
const DefaultStaleFactor = 3

// PageConfigRepository handles page sync configuration persistence.
type PageConfigRepository struct {
	db          *gorm.DB
	now         func() time.Time
	staleFactor int
}

// NewPageConfigRepository creates a new PageConfigRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *PageConfigRepository: repository instance bound to db.
func NewPageConfigRepository(db *gorm.DB) *PageConfigRepository {
	return &PageConfigRepository{db: db, now: time.Now, staleFactor: DefaultStaleFactor}
}

// WithClock replaces the time source used for every timestamp this repository writes.
func (r *PageConfigRepository) WithClock(now func() time.Time) *PageConfigRepository {
	r.now = now
	return r
}

// WithStaleFactor sets how many intervals a "syncing" row may age before it is reclaimed.
func (r *PageConfigRepository) WithStaleFactor(n int) *PageConfigRepository {
	if n > 0 {
		r.staleFactor = n
	}
	return r
}

func (r *PageConfigRepository) timestamp() time.Time {
	return normalizeTime(r.now())
}

// UpsertConfigInput holds the fields the setup flow writes for a page.
type UpsertConfigInput struct {
	UserID          string
	PageID          string
	AccessToken     string
	PageName        *string
	AutoSyncEnabled bool
	IntervalMinutes int
}

// Upsert inserts or updates the configuration keyed by (user, page).
// Every call resets the status to pending and reschedules the next run.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - in: configuration fields to write.
//
// Returns:
//   - *domain.PageSyncConfig: the stored configuration.
//   - error: ErrValidation for an out-of-range interval, or a persistence error.
func (r *PageConfigRepository) Upsert(ctx context.Context, in UpsertConfigInput) (*domain.PageSyncConfig, error) {
	if in.UserID == "" || in.PageID == "" || in.AccessToken == "" {
		return nil, fmt.Errorf("%w: user, page id and access token are required", domain.ErrValidation)
	}
	if !domain.ValidSyncInterval(in.IntervalMinutes) {
		return nil, fmt.Errorf("%w: sync interval must be between %d and %d minutes",
			domain.ErrValidation, domain.MinSyncIntervalMinutes, domain.MaxSyncIntervalMinutes)
	}

	now := r.timestamp()
	cfg := &domain.PageSyncConfig{
		UserID:              in.UserID,
		PageID:              in.PageID,
		PageName:            in.PageName,
		AccessToken:         in.AccessToken,
		AutoSyncEnabled:     in.AutoSyncEnabled,
		SyncIntervalMinutes: in.IntervalMinutes,
		NextSyncAt:          nextRun(in.AutoSyncEnabled, now, in.IntervalMinutes),
		SyncStatus:          domain.SyncStatusPending,
	}

	updateColumns := []string{
		"access_token", "auto_sync_enabled", "sync_interval_minutes",
		"next_sync_at", "sync_status", "updated_at",
	}
	if in.PageName != nil {
		updateColumns = append(updateColumns, "page_name")
	}

	var stored domain.PageSyncConfig
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "page_id"}},
			DoUpdates: clause.AssignmentColumns(updateColumns),
		}).Create(cfg).Error; err != nil {
			return err
		}
		return tx.First(&stored, "user_id = ? AND page_id = ?", in.UserID, in.PageID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save page config: %w", err)
	}
	return &stored, nil
}

// ListForUser returns a user's configurations, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user.
//
// Returns:
//   - []domain.PageSyncConfig: configurations owned by userID.
//   - error: non-nil if the query fails.
func (r *PageConfigRepository) ListForUser(ctx context.Context, userID string) ([]domain.PageSyncConfig, error) {
	var configs []domain.PageSyncConfig
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to list page configs: %w", err)
	}
	return configs, nil
}

// GetByID retrieves a configuration regardless of owner.
func (r *PageConfigRepository) GetByID(ctx context.Context, id uint) (*domain.PageSyncConfig, error) {
	var cfg domain.PageSyncConfig
	if err := r.db.WithContext(ctx).First(&cfg, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "page config")
	}
	return &cfg, nil
}

// GetForUser retrieves a configuration only if userID owns it.
func (r *PageConfigRepository) GetForUser(ctx context.Context, id uint, userID string) (*domain.PageSyncConfig, error) {
	var cfg domain.PageSyncConfig
	if err := r.db.WithContext(ctx).First(&cfg, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, notFound(err, "page config")
	}
	return &cfg, nil
}

// GetDueForSync returns enabled configurations whose next run is at or before now
// and that are not currently syncing. A configuration stuck in "syncing" for
// longer than staleFactor intervals is returned as well so it can be reclaimed.
// The result is not a lock; callers must still win ClaimForSync.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - now: reference time for the due comparison.
//
// Returns:
//   - []domain.PageSyncConfig: due configurations ordered by next run time.
//   - error: non-nil if the query fails.
func (r *PageConfigRepository) GetDueForSync(ctx context.Context, now time.Time) ([]domain.PageSyncConfig, error) {
	now = normalizeTime(now)
	// Coarse bound for stale rows; the exact per-row interval check happens below.
	staleCutoff := now.Add(-time.Duration(r.staleFactor*domain.MinSyncIntervalMinutes) * time.Minute)

	var candidates []domain.PageSyncConfig
	if err := r.db.WithContext(ctx).
		Where("auto_sync_enabled = ?", true).
		Where("next_sync_at IS NOT NULL AND next_sync_at <= ?", now).
		Where("sync_status <> ? OR (sync_status = ? AND last_sync_at IS NOT NULL AND last_sync_at <= ?)",
			domain.SyncStatusSyncing, domain.SyncStatusSyncing, staleCutoff).
		Order("next_sync_at ASC").
		Order("id ASC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to query due page configs: %w", err)
	}

	due := candidates[:0]
	for _, cfg := range candidates {
		if cfg.SyncStatus == domain.SyncStatusSyncing && !r.isStale(&cfg, now) {
			continue
		}
		due = append(due, cfg)
	}
	return due, nil
}

// IsStale reports whether a "syncing" claim on cfg is old enough to be reclaimed.
func (r *PageConfigRepository) IsStale(cfg *domain.PageSyncConfig) bool {
	return r.isStale(cfg, r.timestamp())
}

func (r *PageConfigRepository) isStale(cfg *domain.PageSyncConfig, now time.Time) bool {
	if cfg.LastSyncAt == nil {
		return false
	}
	deadline := cfg.LastSyncAt.Add(time.Duration(r.staleFactor) * cfg.Interval())
	return !deadline.After(now)
}

// ClaimForSync atomically moves the configuration to "syncing".
// The update only applies if sync_attempts still equals the value observed in cfg,
// so of several overlapping callers exactly one wins. On success cfg is updated
// in place with the claimed state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - cfg: configuration as returned by GetDueForSync.
//
// Returns:
//   - bool: true if this caller now owns the sync attempt.
//   - error: non-nil if the update fails.
func (r *PageConfigRepository) ClaimForSync(ctx context.Context, cfg *domain.PageSyncConfig) (bool, error) {
	return r.claim(ctx, cfg, true)
}

// ClaimForManualSync is ClaimForSync for user-triggered runs; it also claims
// configurations whose auto-sync is disabled.
func (r *PageConfigRepository) ClaimForManualSync(ctx context.Context, cfg *domain.PageSyncConfig) (bool, error) {
	return r.claim(ctx, cfg, false)
}

func (r *PageConfigRepository) claim(ctx context.Context, cfg *domain.PageSyncConfig, requireEnabled bool) (bool, error) {
	now := r.timestamp()
	query := r.db.WithContext(ctx).
		Model(&domain.PageSyncConfig{}).
		Where("id = ? AND sync_attempts = ?", cfg.ID, cfg.SyncAttempts)
	if requireEnabled {
		query = query.Where("auto_sync_enabled = ?", true)
	}

	res := query.Updates(map[string]interface{}{
		"sync_status":   domain.SyncStatusSyncing,
		"last_sync_at":  now,
		"sync_attempts": gorm.Expr("sync_attempts + 1"),
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim page config %d: %w", cfg.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return false, nil
	}

	cfg.SyncStatus = domain.SyncStatusSyncing
	cfg.LastSyncAt = &now
	cfg.SyncAttempts++
	return true, nil
}

// SetSyncStatus records the outcome of a sync attempt.
// It always writes last_sync_at; an empty errMsg clears last_error. On success
// the next run is scheduled one interval after the same timestamp.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: configuration ID.
//   - status: new sync status.
//   - errMsg: error description; empty means none.
//
// Returns:
//   - error: ErrNotFound if the configuration does not exist, or a persistence error.
func (r *PageConfigRepository) SetSyncStatus(ctx context.Context, id uint, status domain.SyncStatus, errMsg string) error {
	now := r.timestamp()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg domain.PageSyncConfig
		if err := tx.Select("id", "auto_sync_enabled", "sync_interval_minutes").
			First(&cfg, "id = ?", id).Error; err != nil {
			return notFound(err, "page config")
		}

		updates := map[string]interface{}{
			"sync_status":  status,
			"last_sync_at": now,
			"last_error":   nullableString(errMsg),
		}
		if status == domain.SyncStatusSuccess && cfg.AutoSyncEnabled {
			updates["next_sync_at"] = now.Add(cfg.Interval())
		}

		if err := tx.Model(&domain.PageSyncConfig{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update sync status for config %d: %w", id, err)
		}
		return nil
	})
}

// SetAutoSync enables or disables auto-sync for a configuration owned by userID.
// Enabling schedules the next run one interval from now; disabling clears it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: configuration ID.
//   - userID: user that must own the configuration.
//   - enabled: desired auto-sync flag.
//
// Returns:
//   - error: ErrNotFound if no configuration with id belongs to userID.
func (r *PageConfigRepository) SetAutoSync(ctx context.Context, id uint, userID string, enabled bool) error {
	now := r.timestamp()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg domain.PageSyncConfig
		if err := tx.First(&cfg, "id = ? AND user_id = ?", id, userID).Error; err != nil {
			return notFound(err, "page config")
		}

		return tx.Model(&domain.PageSyncConfig{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(map[string]interface{}{
				"auto_sync_enabled": enabled,
				"next_sync_at":      nextRun(enabled, now, cfg.SyncIntervalMinutes),
			}).Error
	})
}

// SetSyncInterval changes the interval of a configuration owned by userID and
// reschedules its next run. A disabled configuration keeps a nil next run.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: configuration ID.
//   - userID: user that must own the configuration.
//   - minutes: new interval in minutes.
//
// Returns:
//   - error: ErrValidation for an out-of-range interval, ErrNotFound for a foreign or missing config.
func (r *PageConfigRepository) SetSyncInterval(ctx context.Context, id uint, userID string, minutes int) error {
	if !domain.ValidSyncInterval(minutes) {
		return fmt.Errorf("%w: sync interval must be between %d and %d minutes",
			domain.ErrValidation, domain.MinSyncIntervalMinutes, domain.MaxSyncIntervalMinutes)
	}

	now := r.timestamp()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg domain.PageSyncConfig
		if err := tx.First(&cfg, "id = ? AND user_id = ?", id, userID).Error; err != nil {
			return notFound(err, "page config")
		}

		return tx.Model(&domain.PageSyncConfig{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(map[string]interface{}{
				"sync_interval_minutes": minutes,
				"next_sync_at":          nextRun(cfg.AutoSyncEnabled, now, minutes),
			}).Error
	})
}

func nextRun(enabled bool, now time.Time, minutes int) *time.Time {
	if !enabled {
		return nil
	}
	next := now.Add(time.Duration(minutes) * time.Minute)
	return &next
}

// normalizeTime stores instants in UTC at microsecond precision so values
// round-trip identically through both SQLite and PostgreSQL.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
