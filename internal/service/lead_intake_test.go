package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/repository"
)

func newIntake(t *testing.T) (*LeadIntakeService, *repository.LeadRepository) {
	t.Helper()
	leads := repository.NewLeadRepository(newTestDB(t))
	return NewLeadIntakeService(leads).WithClock(func() time.Time { return testNow }), leads
}

func TestLeadIntakeService_AddManualLead(t *testing.T) {
	ctx := context.Background()
	svc, leads := newIntake(t)

	in := ManualLeadInput{
		FullName:    " Jane Doe ",
		Email:       "jane@example.com",
		PhoneNumber: "",
		PageID:      "page-1",
		FormID:      "form-1",
		Notes:       "met at expo",
	}

	first, err := svc.AddManualLead(ctx, "user-1", in, ImportMethodAPI)
	require.NoError(t, err)
	second, err := svc.AddManualLead(ctx, "user-1", in, ImportMethodAPI)
	require.NoError(t, err)

	assert.NotEqual(t, first.ExternalLeadID, second.ExternalLeadID, "same-millisecond ids stay distinct")
	assert.True(t, strings.HasPrefix(first.ExternalLeadID, "manual_"))

	stored, err := leads.ListForUser(ctx, "user-1", repository.LeadFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 2)

	lead := stored[0]
	assert.Equal(t, "Jane Doe", *lead.FullName)
	assert.Nil(t, lead.Phone)
	assert.Equal(t, domain.LeadSourceManual, lead.LeadSource)
	assert.Equal(t, domain.LeadStatusNew, lead.LeadStatus)
	require.NotNil(t, lead.SubmittedAt)
	assert.True(t, lead.SubmittedAt.Equal(testNow))

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(lead.RawData, &raw))
	assert.Equal(t, true, raw["manual_entry"])
	assert.Equal(t, "met at expo", raw["notes"])
	assert.Equal(t, "user-1", raw["created_by"])
	assert.Equal(t, "api", raw["import_method"])
}

func TestLeadIntakeService_AddManualLeadValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newIntake(t)

	valid := ManualLeadInput{FullName: "Jane", Email: "jane@example.com", PageID: "p", FormID: "f"}

	tests := []struct {
		name    string
		mutate  func(in *ManualLeadInput)
		wantMsg string
	}{
		{name: "missing name", mutate: func(in *ManualLeadInput) { in.FullName = "  " }, wantMsg: "fullName is required"},
		{name: "bad email", mutate: func(in *ManualLeadInput) { in.Email = "not-an-email" }, wantMsg: "valid email is required"},
		{name: "missing page", mutate: func(in *ManualLeadInput) { in.PageID = "" }, wantMsg: "pageId is required"},
		{name: "missing form", mutate: func(in *ManualLeadInput) { in.FormID = "" }, wantMsg: "formId is required"},
		{name: "unknown status", mutate: func(in *ManualLeadInput) { in.LeadStatus = "archived" }, wantMsg: "leadStatus must be one of"},
		{name: "unknown source", mutate: func(in *ManualLeadInput) { in.LeadSource = "fax" }, wantMsg: "leadSource must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := svc.AddManualLead(ctx, "user-1", in, "")
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLeadIntakeService_AddManualLeadOverrides(t *testing.T) {
	ctx := context.Background()
	svc, _ := newIntake(t)

	lead, err := svc.AddManualLead(ctx, "user-1", ManualLeadInput{
		FullName:   "Jane",
		Email:      "jane@example.com",
		PageID:     "p",
		FormID:     "f",
		LeadStatus: domain.LeadStatusQualified,
		LeadSource: domain.LeadSourceFacebook,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusQualified, lead.LeadStatus)
	assert.Equal(t, domain.LeadSourceFacebook, lead.LeadSource)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(lead.RawData, &raw))
	_, hasMethod := raw["import_method"]
	assert.False(t, hasMethod)
}

func TestLeadIntakeService_ImportLeads(t *testing.T) {
	ctx := context.Background()
	svc, leads := newIntake(t)

	result := svc.ImportLeads(ctx, "user-1", []ImportRow{
		{FullName: "Jane", Email: "jane@example.com"},
		{FullName: "", Email: "nameless@example.com"},
		{FullName: "John", Email: "john@example.com", PageID: "123", FormID: "form_123"},
		{FullName: "Bad", Email: "nope"},
	})

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 2, result.Errors)
	assert.Equal(t, []string{"Row 2: fullName is required", "Row 4: valid email is required"}, result.ErrorDetails)
	require.Len(t, result.Leads, 2)
	assert.Equal(t, DefaultImportPageID, result.Leads[0].PageID)
	assert.Equal(t, DefaultImportFormID, result.Leads[0].FormID)
	assert.Equal(t, "123", result.Leads[1].PageID)
	assert.True(t, strings.HasPrefix(result.Leads[0].ExternalLeadID, "import_"))

	stored, err := leads.ListForUser(ctx, "user-1", repository.LeadFilter{Source: domain.LeadSourceImport})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestMapImportRow(t *testing.T) {
	row := MapImportRow(map[string]string{
		"Full Name":    " John Doe ",
		"Email":        "john@example.com",
		"Phone Number": "+1234567890",
		"Company Name": "Acme Corp",
		"Notes":        "Interested",
		"Page ID":      "123456789",
		"Form ID":      "form_123",
		"Unrelated":    "ignored",
	})

	assert.Equal(t, ImportRow{
		FullName:    "John Doe",
		Email:       "john@example.com",
		PhoneNumber: "+1234567890",
		Company:     "Acme Corp",
		Notes:       "Interested",
		PageID:      "123456789",
		FormID:      "form_123",
	}, row)

	assert.Equal(t, "+15550100", MapImportRow(map[string]string{"Mobile": "+15550100"}).PhoneNumber)
}
