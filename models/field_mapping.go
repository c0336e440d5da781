package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// FieldMapping übersetzt das Feld-Layout einer Plattform in das kanonische Schema.
// Pro Plattform existiert genau eine Konfiguration; Updates ersetzen sie vollständig.
type FieldMapping struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PlatformID string `json:"platform_id" gorm:"size:100;uniqueIndex;not null"`

	// {"title": "data.name", "budget_amount": "span.price", ...}
	FieldMappings datatypes.JSON `json:"field_mappings" gorm:"type:jsonb;not null"`

	IsActive bool `json:"is_active" gorm:"index;default:true"`
}

// TableName gibt explizit den Tabellennamen an.
func (FieldMapping) TableName() string {
	return "field_mappings"
}

// Rules dekodiert die Mapping-Konfiguration in eine Feld→Quellpfad-Tabelle.
func (m *FieldMapping) Rules() (map[string]string, error) {
	rules := map[string]string{}
	if len(m.FieldMappings) == 0 {
		return rules, nil
	}
	if err := json.Unmarshal(m.FieldMappings, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}
