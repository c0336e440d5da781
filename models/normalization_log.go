package models

import (
	"time"

	"gorm.io/datatypes"
)

// Status-Werte eines Normalisierungsversuchs.
const (
	LogStarted   = "started"
	LogSuccess   = "success"
	LogDuplicate = "duplicate"
	LogFailed    = "failed"
)

// NormalizationLog protokolliert genau einen Normalisierungsversuch.
// Nach Abschluss wird der Eintrag nicht mehr verändert.
type NormalizationLog struct {
	ID uint `json:"id" gorm:"primaryKey"`

	TenderID   string `json:"tender_id" gorm:"size:255;index;not null"`
	PlatformID string `json:"platform_id" gorm:"size:100;index"`
	RawDataID  string `json:"raw_data_id,omitempty" gorm:"size:255"`

	Status  string `json:"status" gorm:"size:50;index;not null"`
	Message string `json:"message,omitempty" gorm:"type:text"`

	StartedAt   time.Time  `json:"started_at" gorm:"not null"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int        `json:"duration_ms,omitempty"`

	Errors   datatypes.JSON `json:"errors,omitempty" gorm:"type:jsonb"`
	Warnings datatypes.JSON `json:"warnings,omitempty" gorm:"type:jsonb"`

	// RawData wird nur bei fehlgeschlagenen Versuchen aufbewahrt, damit der
	// Reprocessing-Job das Dokument erneut einspielen kann.
	RawData     datatypes.JSON `json:"raw_data,omitempty" gorm:"type:jsonb"`
	Reprocessed bool           `json:"reprocessed" gorm:"default:false;index"`
}

// TableName gibt explizit den Tabellennamen an.
func (NormalizationLog) TableName() string {
	return "normalization_logs"
}
