package services

import (
	"context"

	"tender-factory/models"
)

// TenderStore ist die von der Pipeline benötigte Persistenz-Schnittstelle;
// die gorm-Implementierung liegt in repository.
type TenderStore interface {
	Create(ctx context.Context, t *models.NormalizedTender) error
	GetByTenderID(ctx context.Context, tenderID string) (*models.NormalizedTender, error)
	FindByExternalID(ctx context.Context, platformID, externalID string) (*models.NormalizedTender, error)
	FindByFingerprint(ctx context.Context, platformID, fingerprint string) (*models.NormalizedTender, error)
	MarkDuplicate(ctx context.Context, tenderID, duplicateOfID string) error
	DuplicatesOf(ctx context.Context, tenderID string) ([]models.NormalizedTender, error)
	UpdateExtractedText(ctx context.Context, tenderID, text string) error
}

// MappingStore liefert die aktive Feld-Mapping-Konfiguration einer Plattform.
type MappingStore interface {
	GetActive(ctx context.Context, platformID string) (map[string]string, error)
}

// LogStore persistiert die Protokolle der Normalisierungsversuche.
type LogStore interface {
	Create(ctx context.Context, log *models.NormalizationLog) error
	Finalize(ctx context.Context, log *models.NormalizationLog) error
}

// Indexer überführt einen persistierten Datensatz in den Suchindex.
// Ein Fehler hier ist für die Pipeline nie fatal.
type Indexer interface {
	IndexTender(ctx context.Context, t *models.NormalizedTender) error
}
