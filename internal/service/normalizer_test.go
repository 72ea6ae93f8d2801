package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/timmy/leadsync/internal/source"
)

func field(name string, values ...string) source.FieldDatum {
	return source.FieldDatum{Name: name, Values: values}
}

func deref(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		fields      []source.FieldDatum
		wantName    interface{}
		wantEmail   interface{}
		wantPhone   interface{}
		wantCompany interface{}
	}{
		{
			name:      "full name wins",
			fields:    []source.FieldDatum{field("full_name", "Jane Doe"), field("first_name", "Ignored")},
			wantName:  "Jane Doe",
			wantEmail: nil,
		},
		{
			name:     "first and last composed",
			fields:   []source.FieldDatum{field("first_name", "Jane"), field("last_name", "Doe")},
			wantName: "Jane Doe",
		},
		{
			name:     "first name only",
			fields:   []source.FieldDatum{field("first_name", "  Jane ")},
			wantName: "Jane",
		},
		{
			name:     "last name only",
			fields:   []source.FieldDatum{field("last_name", "Doe")},
			wantName: "Doe",
		},
		{
			name:      "no name",
			fields:    []source.FieldDatum{field("email", "jane@example.com")},
			wantName:  nil,
			wantEmail: "jane@example.com",
		},
		{
			name:     "blank full name falls back",
			fields:   []source.FieldDatum{field("full_name", "   "), field("first_name", "Jane")},
			wantName: "Jane",
		},
		{
			name: "contact fields use first value",
			fields: []source.FieldDatum{
				field("email", " a@example.com ", "b@example.com"),
				field("phone_number", "+15550100"),
				field("company_name", "Acme"),
			},
			wantEmail:   "a@example.com",
			wantPhone:   "+15550100",
			wantCompany: "Acme",
		},
		{
			name:   "empty values list",
			fields: []source.FieldDatum{field("email")},
		},
		{
			name:   "names match exactly",
			fields: []source.FieldDatum{field("Email", "a@example.com"), field("FULL_NAME", "Jane")},
		},
		{
			name: "nothing at all",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(source.RawLead{ID: "l1", FieldData: tt.fields})
			assert.Equal(t, tt.wantName, deref(got.FullName))
			assert.Equal(t, tt.wantEmail, deref(got.Email))
			assert.Equal(t, tt.wantPhone, deref(got.Phone))
			assert.Equal(t, tt.wantCompany, deref(got.Company))
		})
	}
}
