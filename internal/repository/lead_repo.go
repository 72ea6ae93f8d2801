package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/leadsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// leadContentColumns are refreshed when an already-stored external lead is fetched again.
// Status and source belong to the user once the row exists.
var leadContentColumns = []string{
	"full_name", "email", "phone_number", "company", "submitted_at", "raw_data", "updated_at",
}

// LeadFilter narrows ListForUser results. Zero values mean no filter.
type LeadFilter struct {
	Status domain.LeadStatus
	Source domain.LeadSource
	Limit  int
	Offset int
}

// LeadRepository handles lead persistence.
type LeadRepository struct {
	db *gorm.DB
}

// NewLeadRepository creates a new LeadRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *LeadRepository: repository instance bound to db.
func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Upsert inserts the lead or, when its dedup key already exists, overwrites the
// contact fields, submission time and raw payload of the stored row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - lead: lead to create or update.
//
// Returns:
//   - error: non-nil if the upsert fails.
func (r *LeadRepository) Upsert(ctx context.Context, lead *domain.Lead) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"}, {Name: "external_lead_id"}, {Name: "page_id"}, {Name: "form_id"},
		},
		DoUpdates: clause.AssignmentColumns(leadContentColumns),
	}).Create(lead).Error
	if err != nil {
		return fmt.Errorf("failed to upsert lead %s: %w", lead.ExternalLeadID, err)
	}
	return nil
}

// Create inserts a new lead and fails with ErrConflict if its dedup key exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - lead: lead to insert.
//
// Returns:
//   - error: ErrConflict on a duplicate, or another persistence error.
func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	if err := r.db.WithContext(ctx).Create(lead).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("lead %s: %w", lead.ExternalLeadID, domain.ErrConflict)
		}
		return fmt.Errorf("failed to create lead: %w", err)
	}
	return nil
}

// ListForUser returns a user's leads, most recently submitted first.
// Leads without a submission time are ordered by creation time.
func (r *LeadRepository) ListForUser(ctx context.Context, userID string, filter LeadFilter) ([]domain.Lead, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Status != "" {
		query = query.Where("lead_status = ?", filter.Status)
	}
	if filter.Source != "" {
		query = query.Where("lead_source = ?", filter.Source)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var leads []domain.Lead
	if err := query.
		Order("COALESCE(submitted_at, created_at) DESC").
		Order("id DESC").
		Find(&leads).Error; err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	return leads, nil
}

// CountForUser returns how many leads a user owns.
func (r *LeadRepository) CountForUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Lead{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count leads: %w", err)
	}
	return count, nil
}

// GetForUser retrieves a lead only if userID owns it.
func (r *LeadRepository) GetForUser(ctx context.Context, id uint, userID string) (*domain.Lead, error) {
	var lead domain.Lead
	if err := r.db.WithContext(ctx).First(&lead, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, notFound(err, "lead")
	}
	return &lead, nil
}

// UpdateStatus moves a lead owned by userID to a new funnel status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: lead ID.
//   - userID: user that must own the lead.
//   - status: target status.
//
// Returns:
//   - error: ErrValidation for an unknown status, ErrNotFound for a foreign or missing lead.
func (r *LeadRepository) UpdateStatus(ctx context.Context, id uint, userID string, status domain.LeadStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown lead status %q", domain.ErrValidation, status)
	}

	res := r.db.WithContext(ctx).
		Model(&domain.Lead{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("lead_status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update lead status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("lead %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
