package domain

import (
	"time"

	"gorm.io/datatypes"
)

// LeadSource tags where a lead came from.
// Values include LeadSourceFacebook, LeadSourceManual, and LeadSourceImport.
type LeadSource string

const (
	LeadSourceFacebook LeadSource = "facebook"
	LeadSourceManual   LeadSource = "manual"
	LeadSourceImport   LeadSource = "import"
)

// Valid reports whether s is a known lead source.
func (s LeadSource) Valid() bool {
	switch s {
	case LeadSourceFacebook, LeadSourceManual, LeadSourceImport:
		return true
	}
	return false
}

// LeadStatus tracks a lead through the sales funnel.
// Values include LeadStatusNew, LeadStatusContacted, LeadStatusQualified,
// LeadStatusConverted, and LeadStatusLost.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusConverted LeadStatus = "converted"
	LeadStatusLost      LeadStatus = "lost"
)

// Valid reports whether s is a known lead status.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusConverted, LeadStatusLost:
		return true
	}
	return false
}

// Lead is the canonical lead record.
// (UserID, ExternalLeadID, PageID, FormID) is the dedup key: re-fetching the same
// external lead updates the existing row instead of inserting a new one.
type Lead struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UserID         string         `gorm:"type:text;not null;uniqueIndex:idx_leads_dedup,priority:1;index:idx_leads_user_submitted,priority:1" json:"user_id"`
	ExternalLeadID string         `gorm:"column:external_lead_id;type:text;not null;uniqueIndex:idx_leads_dedup,priority:2" json:"lead_id"`
	PageID         string         `gorm:"type:text;not null;uniqueIndex:idx_leads_dedup,priority:3" json:"page_id"`
	FormID         string         `gorm:"type:text;not null;uniqueIndex:idx_leads_dedup,priority:4" json:"form_id"`
	FullName       *string        `gorm:"type:text" json:"full_name"`
	Email          *string        `gorm:"type:text" json:"email"`
	Phone          *string        `gorm:"column:phone_number;type:text" json:"phone_number"`
	Company        *string        `gorm:"type:text" json:"company"`
	LeadSource     LeadSource     `gorm:"type:text;not null;default:facebook" json:"lead_source"`
	LeadStatus     LeadStatus     `gorm:"type:text;not null;default:new" json:"lead_status"`
	SubmittedAt    *time.Time     `gorm:"index:idx_leads_user_submitted,priority:2" json:"submitted_at"`
	RawData        datatypes.JSON `json:"raw_data"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Lead.
func (Lead) TableName() string {
	return "leads"
}
