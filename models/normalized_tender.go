package models

import (
	"time"

	"gorm.io/datatypes"
)

// Mögliche Status-Werte einer normalisierten Ausschreibung.
const (
	StatusNew       = "new"
	StatusActive    = "active"
	StatusClosed    = "closed"
	StatusCancelled = "cancelled"
)

// NormalizedTender repräsentiert eine kanonisch normalisierte Ausschreibung.
type NormalizedTender struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Identifikatoren; (platform_id, external_id) ist eindeutig, damit ein
	// verlorenes Rennen zweier paralleler Normalisierungen als Konflikt sichtbar wird.
	TenderID   string `json:"tender_id" gorm:"size:255;uniqueIndex;not null"`
	PlatformID string `json:"platform_id" gorm:"size:100;not null;uniqueIndex:idx_platform_external,priority:1;index:idx_platform_fingerprint,priority:1"`
	ExternalID string `json:"external_id" gorm:"size:500;not null;uniqueIndex:idx_platform_external,priority:2"`

	// Basisdaten
	Title       string `json:"title" gorm:"size:500;not null"`
	Description string `json:"description,omitempty" gorm:"type:text"`
	Summary     string `json:"summary,omitempty" gorm:"type:text"`
	Category    string `json:"category,omitempty" gorm:"size:100;index"`

	// Auftraggeber
	CustomerName    string `json:"customer_name,omitempty" gorm:"size:255;index:idx_customer_date,priority:1"`
	CustomerContact string `json:"customer_contact,omitempty" gorm:"size:500"`
	CustomerID      string `json:"customer_id,omitempty" gorm:"size:100"`

	// Zeitplan
	PublishedDate *time.Time `json:"published_date,omitempty" gorm:"index:idx_customer_date,priority:2"`
	DeadlineDate  *time.Time `json:"deadline_date,omitempty" gorm:"index:idx_status_date,priority:2"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`

	// Finanzen
	BudgetAmount   *float64 `json:"budget_amount,omitempty" gorm:"index"`
	BudgetCurrency string   `json:"budget_currency" gorm:"size:3;not null;default:'RUB'"`
	BudgetMin      *float64 `json:"budget_min,omitempty"`
	BudgetMax      *float64 `json:"budget_max,omitempty"`

	// Status & Herkunft
	Status    string `json:"status" gorm:"size:50;not null;default:'new';index:idx_status_date,priority:1"`
	SourceURL string `json:"source_url,omitempty" gorm:"size:500"`

	// Strukturierte Listen (JSON)
	Requirements datatypes.JSON `json:"requirements,omitempty" gorm:"type:jsonb"`
	Criteria     datatypes.JSON `json:"criteria,omitempty" gorm:"type:jsonb"`
	Restrictions datatypes.JSON `json:"restrictions,omitempty" gorm:"type:jsonb"`
	Attachments  datatypes.JSON `json:"attachments,omitempty" gorm:"type:jsonb"`

	// Optionale KI-Anreicherung; wird nie vorausgesetzt.
	AiExtracted datatypes.JSON `json:"ai_extracted,omitempty" gorm:"type:jsonb"`
	AiSummary   string         `json:"ai_summary,omitempty" gorm:"type:text"`
	AiKeywords  datatypes.JSON `json:"ai_keywords,omitempty" gorm:"type:jsonb"`

	// Rohdaten-Nachverfolgung
	RawData       datatypes.JSON `json:"raw_data,omitempty" gorm:"type:jsonb"`
	ExtractedText string         `json:"extracted_text,omitempty" gorm:"type:text"`
	RawDataID     string         `json:"raw_data_id,omitempty" gorm:"size:255"`

	// Qualität & Duplikate
	DataQualityScore float64 `json:"data_quality_score" gorm:"index;default:0"`
	IsDuplicate      bool    `json:"is_duplicate" gorm:"index;default:false"`
	DuplicateOf      string  `json:"duplicate_of,omitempty" gorm:"size:255"`
	TitleFingerprint string  `json:"-" gorm:"size:32;index:idx_platform_fingerprint,priority:2"`

	// Verarbeitungs-Metadaten
	ScrapedAt        *time.Time `json:"scraped_at,omitempty"`
	NormalizedAt     time.Time  `json:"normalized_at" gorm:"not null"`
	ProcessingTimeMs int        `json:"processing_time_ms,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (NormalizedTender) TableName() string {
	return "normalized_tenders"
}
