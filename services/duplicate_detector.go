package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"

	"go.uber.org/zap"

	"tender-factory/models"
	"tender-factory/repository"
)

// DuplicateDetector erkennt Duplikate über zwei Strategien: exakte
// (platform_id, external_id)-Übereinstimmung und Titel-Fingerprint innerhalb
// derselben Plattform. Er liest und markiert nur, gelöscht wird nie.
type DuplicateDetector struct {
	store  TenderStore
	logger *zap.Logger
}

// NewDuplicateDetector erstellt einen DuplicateDetector.
func NewDuplicateDetector(store TenderStore, logger *zap.Logger) *DuplicateDetector {
	return &DuplicateDetector{store: store, logger: logger}
}

// Check prüft, ob die Eingabe ein Duplikat eines bestehenden Datensatzes ist.
// Die erste zutreffende Strategie gewinnt.
func (d *DuplicateDetector) Check(ctx context.Context, externalID, platformID, title string) (bool, string, error) {
	// Strategie 1: exakte external_id auf derselben Plattform
	if externalID != "" {
		existing, err := d.store.FindByExternalID(ctx, platformID, externalID)
		if err == nil {
			d.logger.Debug("Duplikat erkannt (exakte ID)",
				zap.String("platform_id", platformID), zap.String("external_id", externalID))
			return true, existing.TenderID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return false, "", err
		}
	}

	// Strategie 2: Titel-Fingerprint gegen Nicht-Duplikate derselben Plattform.
	// Nur unempfindlich gegenüber Groß-/Kleinschreibung und Whitespace;
	// Umstellungen oder Satzzeichen-Rauschen werden bewusst nicht erkannt.
	if strings.TrimSpace(title) != "" {
		existing, err := d.store.FindByFingerprint(ctx, platformID, TitleFingerprint(title))
		if err == nil {
			d.logger.Debug("Duplikat erkannt (Titel-Fingerprint)",
				zap.String("platform_id", platformID), zap.String("title", title))
			return true, existing.TenderID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return false, "", err
		}
	}

	return false, "", nil
}

// MarkAsDuplicate markiert einen bestehenden Datensatz als Duplikat des
// kanonischen Datensatzes.
func (d *DuplicateDetector) MarkAsDuplicate(ctx context.Context, tenderID, duplicateOfID string) error {
	if err := d.store.MarkDuplicate(ctx, tenderID, duplicateOfID); err != nil {
		return err
	}
	d.logger.Info("Ausschreibung als Duplikat markiert",
		zap.String("tender_id", tenderID), zap.String("duplicate_of", duplicateOfID))
	return nil
}

// DuplicatesOf liefert alle gegen den Datensatz markierten Duplikate.
func (d *DuplicateDetector) DuplicatesOf(ctx context.Context, tenderID string) ([]models.NormalizedTender, error) {
	return d.store.DuplicatesOf(ctx, tenderID)
}

// TitleFingerprint bildet den normalisierten Titel-Hash für den
// Fuzzy-Vergleich: Kleinschreibung, Whitespace kollabiert, md5.
func TitleFingerprint(title string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
