package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"tender-factory/repository"
)

// ErrNoMapping signalisiert, dass für eine Plattform keine aktive
// Mapping-Konfiguration existiert. Der Orchestrator fällt dann auf die
// Rohdaten zurück.
var ErrNoMapping = errors.New("no active field mapping for platform")

// FieldMapper projiziert Roh-Dokumente über die konfigurierte
// Feld-Mapping-Tabelle einer Plattform auf das kanonische Feldschema.
// Die Mapping-Tabellen werden pro Plattform gecacht; ein Update ersetzt den
// Eintrag vollständig, damit Leser nie einen halb aktualisierten Stand sehen.
type FieldMapper struct {
	store  MappingStore
	cache  *expirable.LRU[string, map[string]string]
	logger *zap.Logger
}

// NewFieldMapper erstellt einen FieldMapper mit LRU-Cache. Die TTL dient nur
// als Auffangnetz; nach bekannten Schreibzugriffen wird explizit invalidiert.
func NewFieldMapper(store MappingStore, logger *zap.Logger, cacheSize int, cacheTTL time.Duration) *FieldMapper {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	return &FieldMapper{
		store:  store,
		cache:  expirable.NewLRU[string, map[string]string](cacheSize, nil, cacheTTL),
		logger: logger,
	}
}

// Resolve liefert die aktive Mapping-Tabelle einer Plattform, aus dem Cache
// oder der Datenbank. Ohne aktive Konfiguration wird ErrNoMapping geliefert.
func (fm *FieldMapper) Resolve(ctx context.Context, platformID string) (map[string]string, error) {
	if rules, ok := fm.cache.Get(platformID); ok {
		return rules, nil
	}

	rules, err := fm.store.GetActive(ctx, platformID)
	if errors.Is(err, repository.ErrNotFound) {
		fm.logger.Warn("Keine aktive Mapping-Konfiguration für Plattform", zap.String("platform_id", platformID))
		return nil, ErrNoMapping
	}
	if err != nil {
		return nil, err
	}

	fm.cache.Add(platformID, rules)
	return rules, nil
}

// Invalidate entfernt den Cache-Eintrag einer Plattform, z.B. nach einem
// administrativen Update der Konfiguration.
func (fm *FieldMapper) Invalidate(platformID string) {
	fm.cache.Remove(platformID)
}

// Apply wendet eine Mapping-Tabelle auf ein Roh-Dokument an. Felder, deren
// Quellpfad ins Leere läuft, werden ausgelassen; das ist an dieser Stelle
// kein Fehler.
func (fm *FieldMapper) Apply(raw map[string]any, mapping map[string]string) map[string]any {
	mapped := make(map[string]any, len(mapping))

	for field, sourcePath := range mapping {
		var value any
		var ok bool
		if strings.Contains(sourcePath, ".") {
			value, ok = lookupNested(raw, sourcePath)
		} else {
			value, ok = raw[sourcePath]
		}
		if ok && value != nil {
			mapped[field] = value
		}
	}

	return mapped
}

// lookupNested läuft einen Punktpfad komponentenweise durch verschachtelte
// Container. Fehlt ein Zwischenschritt oder ist er kein Container, ist das
// Ergebnis schlicht abwesend.
func lookupNested(raw map[string]any, path string) (any, bool) {
	var current any = raw
	for _, key := range strings.Split(path, ".") {
		container, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = container[key]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}
