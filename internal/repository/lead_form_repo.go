package repository

import (
	"context"
	"fmt"

	"github.com/timmy/leadsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LeadFormRepository handles lead form persistence.
type LeadFormRepository struct {
	db *gorm.DB
}

// NewLeadFormRepository creates a new LeadFormRepository.
func NewLeadFormRepository(db *gorm.DB) *LeadFormRepository {
	return &LeadFormRepository{db: db}
}

// Upsert records a discovered form keyed by (user, form).
// A rediscovered form is re-attached to the given configuration and marked active.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - form: form to create or update.
//
// Returns:
//   - error: non-nil if the upsert fails.
func (r *LeadFormRepository) Upsert(ctx context.Context, form *domain.LeadForm) error {
	if form.FormName == "" {
		form.FormName = "Unnamed Form"
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "form_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"page_config_id", "form_name", "is_active", "updated_at"}),
	}).Create(form).Error
	if err != nil {
		return fmt.Errorf("failed to upsert lead form %s: %w", form.FormID, err)
	}
	return nil
}

// ListActiveByConfig returns the active forms registered under a configuration.
func (r *LeadFormRepository) ListActiveByConfig(ctx context.Context, configID uint) ([]domain.LeadForm, error) {
	var forms []domain.LeadForm
	if err := r.db.WithContext(ctx).
		Where("page_config_id = ? AND is_active = ?", configID, true).
		Order("id ASC").
		Find(&forms).Error; err != nil {
		return nil, fmt.Errorf("failed to list lead forms: %w", err)
	}
	return forms, nil
}
