package source

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// FormRef identifies a lead form published under a page.
type FormRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Active reports whether the source lists the form as accepting submissions.
// Forms without a status are treated as active.
func (f FormRef) Active() bool {
	return f.Status == "" || strings.EqualFold(f.Status, "ACTIVE")
}

// FieldDatum is one answered question of a lead submission.
type FieldDatum struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// RawLead is a lead submission as delivered by the source.
type RawLead struct {
	ID          string       `json:"id"`
	CreatedTime string       `json:"created_time"`
	FieldData   []FieldDatum `json:"field_data"`

	// Raw holds the undecoded record for archiving.
	Raw json.RawMessage `json:"-"`
}

var createdTimeLayouts = []string{
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
}

// SubmittedAt parses CreatedTime. It returns nil when the value is missing or malformed.
func (l RawLead) SubmittedAt() *time.Time {
	if l.CreatedTime == "" {
		return nil
	}
	for _, layout := range createdTimeLayouts {
		if t, err := time.Parse(layout, l.CreatedTime); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

// PageInfo describes a page as reported by the source.
type PageInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LeadSource defines the interface for paginated lead providers.
// Implementations wrap non-2xx or undecodable responses in domain.ErrSourceUnavailable
// and return transport failures unwrapped.
type LeadSource interface {
	// GetSourceID returns the unique identifier for this source.
	GetSourceID() string

	// GetPage validates token access to a page and returns its identity.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - pageID: page to look up.
	//   - token: page access token.
	// Returns:
	//   - *PageInfo: page ID and name.
	//   - error: non-nil if the page cannot be read with token.
	GetPage(ctx context.Context, pageID, token string) (*PageInfo, error)

	// ListForms returns every lead form of a page, following pagination.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - pageID: page whose forms are listed.
	//   - token: page access token.
	// Returns:
	//   - []FormRef: discovered forms.
	//   - error: non-nil if listing fails.
	ListForms(ctx context.Context, pageID, token string) ([]FormRef, error)

	// ListLeads returns every submission of a form, following pagination.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - formID: form whose leads are listed.
	//   - token: page access token.
	// Returns:
	//   - []RawLead: submissions in source order.
	//   - error: non-nil if listing fails.
	ListLeads(ctx context.Context, formID, token string) ([]RawLead, error)
}
