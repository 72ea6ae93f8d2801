package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/logger"
	"gorm.io/datatypes"
)

// Defaults applied to imported rows that carry no page or form.
const (
	DefaultImportPageID = "default_page"
	DefaultImportFormID = "excel_import"
)

// Import methods recorded in raw_data.
const (
	ImportMethodAPI  = "api"
	ImportMethodBulk = "bulk"
)

// LeadCreator inserts new leads.
type LeadCreator interface {
	Create(ctx context.Context, lead *domain.Lead) error
}

// ManualLeadInput is a lead typed in by a user.
type ManualLeadInput struct {
	FullName    string            `json:"fullName" form:"fullName" validate:"required,max=200"`
	Email       string            `json:"email" form:"email" validate:"required,email"`
	PhoneNumber string            `json:"phoneNumber" form:"phoneNumber" validate:"omitempty,max=50"`
	Company     string            `json:"company" form:"company" validate:"omitempty,max=200"`
	PageID      string            `json:"pageId" form:"pageId" validate:"required"`
	FormID      string            `json:"formId" form:"formId" validate:"required"`
	Notes       string            `json:"notes" form:"notes"`
	LeadStatus  domain.LeadStatus `json:"leadStatus" form:"leadStatus" validate:"omitempty,oneof=new contacted qualified converted lost"`
	LeadSource  domain.LeadSource `json:"leadSource" form:"leadSource" validate:"omitempty,oneof=facebook manual import"`
}

func (in *ManualLeadInput) trim() {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(in.Email)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.Company = strings.TrimSpace(in.Company)
	in.PageID = strings.TrimSpace(in.PageID)
	in.FormID = strings.TrimSpace(in.FormID)
	in.Notes = strings.TrimSpace(in.Notes)
}

// ImportRow is one already-parsed spreadsheet row.
type ImportRow struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Company     string `json:"company"`
	Notes       string `json:"notes"`
	PageID      string `json:"pageId"`
	FormID      string `json:"formId"`
}

// ImportResult summarizes a bulk import. Rows are numbered from 1.
type ImportResult struct {
	Success      int           `json:"success"`
	Errors       int           `json:"errors"`
	Total        int           `json:"total"`
	ErrorDetails []string      `json:"errorDetails"`
	Leads        []domain.Lead `json:"leads"`
}

// LeadIntakeService creates leads that did not come from the lead source.
type LeadIntakeService struct {
	leads    LeadCreator
	validate *validator.Validate
	now      func() time.Time
}

// NewLeadIntakeService creates a new LeadIntakeService.
func NewLeadIntakeService(leads LeadCreator) *LeadIntakeService {
	return &LeadIntakeService{leads: leads, validate: newValidator(), now: time.Now}
}

// WithClock replaces the time source used for submitted_at and synthesized IDs.
func (s *LeadIntakeService) WithClock(now func() time.Time) *LeadIntakeService {
	s.now = now
	return s
}

// AddManualLead validates and stores a lead entered by userID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owner of the new lead.
//   - in: lead fields.
//   - importMethod: recorded in raw_data when non-empty, e.g. ImportMethodAPI.
//
// Returns:
//   - *domain.Lead: the stored lead.
//   - error: ErrValidation describing the first invalid field, or a persistence error.
func (s *LeadIntakeService) AddManualLead(ctx context.Context, userID string, in ManualLeadInput, importMethod string) (*domain.Lead, error) {
	in.trim()
	if err := s.validateStruct(&in); err != nil {
		return nil, err
	}

	source := in.LeadSource
	if source == "" {
		source = domain.LeadSourceManual
	}
	status := in.LeadStatus
	if status == "" {
		status = domain.LeadStatusNew
	}

	lead, err := s.newLead(userID, "manual", in.PageID, in.FormID, source, status, manualRaw{
		ManualEntry:  true,
		Notes:        in.Notes,
		CreatedBy:    userID,
		ImportMethod: importMethod,
	})
	if err != nil {
		return nil, err
	}
	lead.FullName = optional(in.FullName)
	lead.Email = optional(in.Email)
	lead.Phone = optional(in.PhoneNumber)
	lead.Company = optional(in.Company)

	if err := s.leads.Create(ctx, lead); err != nil {
		return nil, err
	}

	logger.CtxInfo(ctx, "Manual lead %s added", lead.ExternalLeadID)
	return lead, nil
}

// ImportLeads stores already-parsed rows one by one. A row without a name or
// a valid email is rejected on its own; other rows are still imported.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owner of the imported leads.
//   - rows: rows to import.
//
// Returns:
//   - *ImportResult: per-row outcome counts and messages.
func (s *LeadIntakeService) ImportLeads(ctx context.Context, userID string, rows []ImportRow) *ImportResult {
	result := &ImportResult{Total: len(rows), ErrorDetails: []string{}, Leads: []domain.Lead{}}

	for i, row := range rows {
		lead, err := s.importRow(ctx, userID, row)
		if err != nil {
			result.Errors++
			result.ErrorDetails = append(result.ErrorDetails, fmt.Sprintf("Row %d: %s", i+1, userMessage(err)))
			continue
		}
		result.Success++
		result.Leads = append(result.Leads, *lead)
	}

	logger.With(logger.Fields{"errors": result.Errors}).
		WithCount(result.Success).
		Info(ctx, "Imported %d of %d rows", result.Success, result.Total)
	return result
}

func (s *LeadIntakeService) importRow(ctx context.Context, userID string, row ImportRow) (*domain.Lead, error) {
	in := ManualLeadInput{
		FullName:    row.FullName,
		Email:       row.Email,
		PhoneNumber: row.PhoneNumber,
		Company:     row.Company,
		PageID:      row.PageID,
		FormID:      row.FormID,
		Notes:       row.Notes,
	}
	in.trim()
	if in.PageID == "" {
		in.PageID = DefaultImportPageID
	}
	if in.FormID == "" {
		in.FormID = DefaultImportFormID
	}
	if err := s.validateStruct(&in); err != nil {
		return nil, err
	}

	lead, err := s.newLead(userID, "import", in.PageID, in.FormID, domain.LeadSourceImport, domain.LeadStatusNew, manualRaw{
		ManualEntry:  true,
		Notes:        in.Notes,
		CreatedBy:    userID,
		ImportMethod: ImportMethodBulk,
	})
	if err != nil {
		return nil, err
	}
	lead.FullName = optional(in.FullName)
	lead.Email = optional(in.Email)
	lead.Phone = optional(in.PhoneNumber)
	lead.Company = optional(in.Company)

	if err := s.leads.Create(ctx, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

type manualRaw struct {
	ManualEntry  bool   `json:"manual_entry"`
	Notes        string `json:"notes,omitempty"`
	CreatedBy    string `json:"created_by"`
	ImportMethod string `json:"import_method,omitempty"`
}

func (s *LeadIntakeService) newLead(userID, prefix, pageID, formID string, src domain.LeadSource, status domain.LeadStatus, raw manualRaw) (*domain.Lead, error) {
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode raw data: %w", err)
	}
	now := s.now().UTC()
	return &domain.Lead{
		UserID:         userID,
		ExternalLeadID: SynthesizeLeadID(prefix, now),
		PageID:         pageID,
		FormID:         formID,
		LeadSource:     src,
		LeadStatus:     status,
		SubmittedAt:    &now,
		RawData:        datatypes.JSON(payload),
	}, nil
}

// SynthesizeLeadID builds an external ID for a lead that has none, e.g.
// "manual_1767225600000_6f1c...". The UUID suffix keeps IDs minted in the
// same millisecond distinct.
func SynthesizeLeadID(prefix string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), uuid.NewString())
}

func (s *LeadIntakeService) validateStruct(in *ManualLeadInput) error {
	return validationError(s.validate.Struct(in))
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validationError turns the first validator failure into an ErrValidation message.
func validationError(err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", domain.ErrValidation, fe.Field())
	case "email":
		return fmt.Errorf("%w: valid email is required", domain.ErrValidation)
	case "oneof":
		return fmt.Errorf("%w: %s must be one of: %s", domain.ErrValidation, fe.Field(), fe.Param())
	case "max":
		return fmt.Errorf("%w: %s must be at most %s", domain.ErrValidation, fe.Field(), fe.Param())
	case "min":
		return fmt.Errorf("%w: %s must be at least %s", domain.ErrValidation, fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", domain.ErrValidation, fe.Field())
	}
}

// userMessage strips the sentinel prefix from validation errors.
func userMessage(err error) string {
	msg := err.Error()
	return strings.TrimPrefix(msg, domain.ErrValidation.Error()+": ")
}

// MapImportRow maps a spreadsheet record keyed by its header cells onto an ImportRow.
// Headers are matched loosely: any header containing "email" fills Email,
// "phone" or "mobile" fills PhoneNumber, and so on.
func MapImportRow(record map[string]string) ImportRow {
	var row ImportRow
	for header, value := range record {
		h := strings.ToLower(strings.TrimSpace(header))
		v := strings.TrimSpace(value)
		switch {
		case strings.Contains(h, "page") && strings.Contains(h, "id"):
			row.PageID = v
		case strings.Contains(h, "form") && strings.Contains(h, "id"):
			row.FormID = v
		case strings.Contains(h, "email"):
			row.Email = v
		case strings.Contains(h, "phone") || strings.Contains(h, "mobile"):
			row.PhoneNumber = v
		case strings.Contains(h, "company") || strings.Contains(h, "business"):
			row.Company = v
		case strings.Contains(h, "note") || strings.Contains(h, "comment"):
			row.Notes = v
		case strings.Contains(h, "name") || strings.Contains(h, "full"):
			row.FullName = v
		}
	}
	return row
}
