package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateFields(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	negative := -100.0

	tests := []struct {
		name     string
		fields   NormalizedFields
		wantOK   bool
		wantErrs int
	}{
		{
			name:   "valid minimal",
			fields: NormalizedFields{TenderID: "T1", Title: "Supply of chairs"},
			wantOK: true,
		},
		{
			name:     "missing tender_id",
			fields:   NormalizedFields{Title: "Supply of chairs"},
			wantErrs: 1,
		},
		{
			name:     "missing title",
			fields:   NormalizedFields{TenderID: "T1"},
			wantErrs: 1,
		},
		{
			name:     "start after end",
			fields:   NormalizedFields{TenderID: "T1", Title: "x", StartDate: &start, EndDate: &end},
			wantErrs: 1,
		},
		{
			name:     "negative budget",
			fields:   NormalizedFields{TenderID: "T1", Title: "x", BudgetAmount: &negative},
			wantErrs: 1,
		},
		{
			name:     "all errors collected",
			fields:   NormalizedFields{StartDate: &start, EndDate: &end, BudgetAmount: &negative},
			wantErrs: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, errs := ValidateFields(&tt.fields)
			assert.Equal(t, tt.wantOK, ok)
			assert.Len(t, errs, tt.wantErrs)
		})
	}
}

func TestQualityScore(t *testing.T) {
	deadline := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	budget := 1000.0

	assert.Equal(t, 0.0, QualityScore(&NormalizedFields{}))
	assert.Equal(t, 20.0, QualityScore(&NormalizedFields{Title: "Supply of chairs"}))

	full := &NormalizedFields{
		Title:        "Supply of chairs",
		BudgetAmount: &budget,
		DeadlineDate: &deadline,
		CustomerName: "City of Springfield",
		Description:  "200 office chairs",
		Category:     "furniture",
		Requirements: []any{"ISO 9001"},
		Attachments:  []any{"spec.pdf"},
	}
	assert.Equal(t, 100.0, QualityScore(full))

	// leere Listen zählen nicht
	partial := &NormalizedFields{
		Title:        "Supply of chairs",
		Requirements: []any{},
		Attachments:  []string{},
	}
	assert.Equal(t, 20.0, QualityScore(partial))
}
