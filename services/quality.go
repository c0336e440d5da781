package services

import "fmt"

// Gewichtungstabelle der Qualitätsbewertung; Summe 100. Ein Feld zählt voll
// oder gar nicht, Teilpunkte gibt es nicht.
const (
	weightTitle        = 20
	weightBudget       = 15
	weightDeadline     = 15
	weightCustomerName = 15
	weightDescription  = 15
	weightCategory     = 10
	weightRequirements = 5
	weightAttachments  = 5
)

// ValidateFields prüft Pflichtfelder und logische Invarianten. Alle Fehler
// werden gesammelt; eine nicht-leere Liste bedeutet Ablehnung, es gibt keine
// Teilakzeptanz.
func ValidateFields(f *NormalizedFields) (bool, []string) {
	var errs []string

	if f.TenderID == "" {
		errs = append(errs, "missing required field: tender_id")
	}
	if f.Title == "" {
		errs = append(errs, "missing required field: title")
	}

	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		errs = append(errs, "start_date is after end_date")
	}

	if f.BudgetAmount != nil && *f.BudgetAmount < 0 {
		errs = append(errs, fmt.Sprintf("budget_amount is negative: %v", *f.BudgetAmount))
	}

	return len(errs) == 0, errs
}

// QualityScore berechnet die gewichtete Vollständigkeits-Heuristik (0-100).
// Sie misst Vollständigkeit, nicht Korrektheit.
func QualityScore(f *NormalizedFields) float64 {
	score := 0.0

	if f.Title != "" {
		score += weightTitle
	}
	if f.BudgetAmount != nil {
		score += weightBudget
	}
	if f.DeadlineDate != nil {
		score += weightDeadline
	}
	if f.CustomerName != "" {
		score += weightCustomerName
	}
	if f.Description != "" {
		score += weightDescription
	}
	if f.Category != "" {
		score += weightCategory
	}
	if hasItems(f.Requirements) {
		score += weightRequirements
	}
	if hasItems(f.Attachments) {
		score += weightAttachments
	}

	if score > 100 {
		score = 100
	}
	return score
}

// hasItems meldet, ob ein durchgereichter Listen-/Strukturwert Inhalt trägt.
func hasItems(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case string:
		return t != ""
	default:
		return true
	}
}
