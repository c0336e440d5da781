package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tender-factory/models"
)

// MappingRepository verwaltet die Feld-Mapping-Konfigurationen der Plattformen.
type MappingRepository struct {
	db *gorm.DB
}

// NewMappingRepository erstellt ein neues MappingRepository.
func NewMappingRepository(db *gorm.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// GetActive liefert die aktive Mapping-Tabelle einer Plattform.
func (r *MappingRepository) GetActive(ctx context.Context, platformID string) (map[string]string, error) {
	var m models.FieldMapping
	err := r.db.WithContext(ctx).
		Where("platform_id = ? AND is_active = ?", platformID, true).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.Rules()
}

// Upsert legt die Mapping-Konfiguration einer Plattform an oder ersetzt sie
// vollständig. Es wird nie gemerged.
func (r *MappingRepository) Upsert(ctx context.Context, platformID string, rules map[string]string, active bool) (*models.FieldMapping, error) {
	raw, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	m := models.FieldMapping{
		PlatformID:    platformID,
		FieldMappings: raw,
		IsActive:      active,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "platform_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"field_mappings": raw,
			"is_active":      active,
			"updated_at":     time.Now().UTC(),
		}),
	}).Create(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List liefert alle Mapping-Konfigurationen.
func (r *MappingRepository) List(ctx context.Context) ([]models.FieldMapping, error) {
	var out []models.FieldMapping
	err := r.db.WithContext(ctx).Order("platform_id").Find(&out).Error
	return out, err
}
