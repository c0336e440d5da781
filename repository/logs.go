package repository

import (
	"context"

	"gorm.io/gorm"

	"tender-factory/models"
)

// LogRepository verwaltet die Protokolle der Normalisierungsversuche.
type LogRepository struct {
	db *gorm.DB
}

// NewLogRepository erstellt ein neues LogRepository.
func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Create legt den Protokolleintrag zu Beginn eines Versuchs an.
func (r *LogRepository) Create(ctx context.Context, log *models.NormalizationLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// Finalize schreibt den Endzustand eines Versuchs. Danach wird der Eintrag
// nicht mehr angefasst.
func (r *LogRepository) Finalize(ctx context.Context, log *models.NormalizationLog) error {
	return r.db.WithContext(ctx).Save(log).Error
}

// Failed liefert die ältesten noch nicht wieder aufgenommenen Fehlversuche
// für die zyklische Wiederaufnahme.
func (r *LogRepository) Failed(ctx context.Context, limit int) ([]models.NormalizationLog, error) {
	var out []models.NormalizationLog
	q := r.db.WithContext(ctx).
		Where("status = ? AND reprocessed = ?", models.LogFailed, false).
		Order("started_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// MarkReprocessed nimmt einen Fehlversuch aus der Wiederaufnahme-Warteschlange.
func (r *LogRepository) MarkReprocessed(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.NormalizationLog{}).
		Where("id = ?", id).
		Update("reprocessed", true).Error
}

// ByTender liefert alle Versuche zu einer Tender-ID, neueste zuerst.
func (r *LogRepository) ByTender(ctx context.Context, tenderID string) ([]models.NormalizationLog, error) {
	var out []models.NormalizationLog
	err := r.db.WithContext(ctx).
		Where("tender_id = ?", tenderID).
		Order("started_at desc").
		Find(&out).Error
	return out, err
}
