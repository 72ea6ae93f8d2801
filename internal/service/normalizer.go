package service

import (
	"strings"

	"github.com/timmy/leadsync/internal/source"
)

// Lead-ads question names mapped onto lead columns.
const (
	fieldFullName    = "full_name"
	fieldFirstName   = "first_name"
	fieldLastName    = "last_name"
	fieldEmail       = "email"
	fieldPhoneNumber = "phone_number"
	fieldCompanyName = "company_name"
)

// NormalizedLead holds the contact fields extracted from a raw submission.
// A nil field means the submission did not answer it.
type NormalizedLead struct {
	FullName *string
	Email    *string
	Phone    *string
	Company  *string
}

// Normalize extracts contact fields from a raw lead. Field names match exactly;
// the first value is used and trimmed, and blank values count as missing.
// The full name falls back to first and last name joined by a space.
func Normalize(raw source.RawLead) NormalizedLead {
	values := make(map[string]string, len(raw.FieldData))
	for _, field := range raw.FieldData {
		if _, seen := values[field.Name]; seen || len(field.Values) == 0 {
			continue
		}
		values[field.Name] = strings.TrimSpace(field.Values[0])
	}

	fullName := values[fieldFullName]
	if fullName == "" {
		parts := make([]string, 0, 2)
		for _, part := range []string{values[fieldFirstName], values[fieldLastName]} {
			if part != "" {
				parts = append(parts, part)
			}
		}
		fullName = strings.Join(parts, " ")
	}

	return NormalizedLead{
		FullName: optional(fullName),
		Email:    optional(values[fieldEmail]),
		Phone:    optional(values[fieldPhoneNumber]),
		Company:  optional(values[fieldCompanyName]),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
