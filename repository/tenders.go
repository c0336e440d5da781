package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tender-factory/models"
)

// Sentinel-Fehler der Persistenzschicht.
var (
	// ErrNotFound wird geliefert, wenn kein passender Datensatz existiert.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateTender signalisiert eine Verletzung des eindeutigen
	// (platform_id, external_id)-Index, z.B. bei einem verlorenen Rennen
	// zweier paralleler Normalisierungsversuche.
	ErrDuplicateTender = errors.New("tender already exists for platform/external id")
)

// TenderQuery bündelt die Filterkriterien der Leseschnittstelle.
type TenderQuery struct {
	PlatformID        string  `json:"platform_id"`
	Customer          string  `json:"customer"`
	Status            string  `json:"status"`
	Category          string  `json:"category"`
	MinQualityScore   float64 `json:"min_quality_score"`
	IncludeDuplicates bool    `json:"include_duplicates"`
	Limit             int     `json:"limit"`
}

// TenderRepository kapselt alle Datenbankzugriffe auf normalisierte Ausschreibungen.
type TenderRepository struct {
	db *gorm.DB
}

// NewTenderRepository erstellt ein neues TenderRepository.
func NewTenderRepository(db *gorm.DB) *TenderRepository {
	return &TenderRepository{db: db}
}

// Create legt eine neue normalisierte Ausschreibung an.
// Erfordert gorm.Config{TranslateError: true}, damit Unique-Konflikte
// als ErrDuplicateTender erkennbar sind.
func (r *TenderRepository) Create(ctx context.Context, t *models.NormalizedTender) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateTender
	}
	return err
}

// GetByTenderID lädt eine Ausschreibung über ihre Tender-ID.
func (r *TenderRepository) GetByTenderID(ctx context.Context, tenderID string) (*models.NormalizedTender, error) {
	var t models.NormalizedTender
	err := r.db.WithContext(ctx).Where("tender_id = ?", tenderID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByExternalID sucht den Datensatz zu (platform_id, external_id).
func (r *TenderRepository) FindByExternalID(ctx context.Context, platformID, externalID string) (*models.NormalizedTender, error) {
	var t models.NormalizedTender
	err := r.db.WithContext(ctx).
		Where("platform_id = ? AND external_id = ?", platformID, externalID).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByFingerprint sucht auf einer Plattform nach einem Nicht-Duplikat
// mit identischem Titel-Fingerprint.
func (r *TenderRepository) FindByFingerprint(ctx context.Context, platformID, fingerprint string) (*models.NormalizedTender, error) {
	var t models.NormalizedTender
	err := r.db.WithContext(ctx).
		Where("platform_id = ? AND title_fingerprint = ? AND is_duplicate = ?", platformID, fingerprint, false).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkDuplicate setzt Duplikat-Flag und Referenz transaktional. Das Ziel muss
// existieren und darf selbst kein Duplikat sein, damit keine Ketten entstehen.
func (r *TenderRepository) MarkDuplicate(ctx context.Context, tenderID, duplicateOfID string) error {
	if tenderID == duplicateOfID {
		return fmt.Errorf("tender %s cannot duplicate itself", tenderID)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var canonical models.NormalizedTender
		if err := tx.Where("tender_id = ?", duplicateOfID).First(&canonical).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("canonical tender %s: %w", duplicateOfID, ErrNotFound)
			}
			return err
		}
		if canonical.IsDuplicate {
			return fmt.Errorf("tender %s is itself a duplicate and cannot be canonical", duplicateOfID)
		}
		res := tx.Model(&models.NormalizedTender{}).
			Where("tender_id = ?", tenderID).
			Updates(map[string]interface{}{
				"is_duplicate": true,
				"duplicate_of": duplicateOfID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("tender %s: %w", tenderID, ErrNotFound)
		}
		return nil
	})
}

// DuplicatesOf liefert alle Datensätze, die gegen die gegebene Ausschreibung
// als Duplikat markiert sind.
func (r *TenderRepository) DuplicatesOf(ctx context.Context, tenderID string) ([]models.NormalizedTender, error) {
	var out []models.NormalizedTender
	err := r.db.WithContext(ctx).
		Where("duplicate_of = ? AND is_duplicate = ?", tenderID, true).
		Find(&out).Error
	return out, err
}

// UpdateExtractedText hinterlegt den kombinierten Anhangstext an einer
// bestehenden Ausschreibung.
func (r *TenderRepository) UpdateExtractedText(ctx context.Context, tenderID, text string) error {
	res := r.db.WithContext(ctx).Model(&models.NormalizedTender{}).
		Where("tender_id = ?", tenderID).
		Updates(map[string]interface{}{
			"extracted_text": text,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("tender %s: %w", tenderID, ErrNotFound)
	}
	return nil
}

// Query sucht Ausschreibungen nach den gegebenen Kriterien. Duplikate sind
// standardmäßig ausgeblendet.
func (r *TenderRepository) Query(ctx context.Context, q TenderQuery) ([]models.NormalizedTender, error) {
	query := r.db.WithContext(ctx).Model(&models.NormalizedTender{})

	if !q.IncludeDuplicates {
		query = query.Where("is_duplicate = ?", false)
	}
	if q.PlatformID != "" {
		query = query.Where("platform_id = ?", q.PlatformID)
	}
	if q.Customer != "" {
		query = query.Where("customer_name ILIKE ?", "%"+q.Customer+"%")
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.Category != "" {
		query = query.Where("category = ?", q.Category)
	}
	if q.MinQualityScore > 0 {
		query = query.Where("data_quality_score >= ?", q.MinQualityScore)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var out []models.NormalizedTender
	err := query.Order("created_at desc").Find(&out).Error
	return out, err
}

// Batch liefert einen Ausschnitt aller Ausschreibungen für den Reindex.
func (r *TenderRepository) Batch(ctx context.Context, offset, limit int) ([]models.NormalizedTender, error) {
	var out []models.NormalizedTender
	err := r.db.WithContext(ctx).
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Count zählt alle normalisierten Ausschreibungen.
func (r *TenderRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.NormalizedTender{}).Count(&n).Error
	return n, err
}
