package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tender-factory/config"
	"tender-factory/metrics"
	"tender-factory/models"
	"tender-factory/repository"
)

// ErrValidation kennzeichnet eine abgelehnte Eingabe. Solche Versuche werden
// nicht automatisch wiederholt; identische ungültige Eingaben erneut zu
// verarbeiten ist sinnlos.
var ErrValidation = errors.New("tender validation failed")

// Result beschreibt den Ausgang eines Normalisierungsversuchs.
type Result struct {
	Status       string   `json:"status"` // success, duplicate, failed
	TenderID     string   `json:"tender_id,omitempty"`
	DuplicateOf  string   `json:"duplicate_of,omitempty"`
	QualityScore float64  `json:"quality_score,omitempty"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// BatchResult fasst die Verarbeitung mehrerer Dokumente zusammen.
type BatchResult struct {
	Total      int `json:"total"`
	Success    int `json:"success"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Pipeline orchestriert eine Normalisierung: Mapping → Feld-Normalisierung →
// Validierung → Duplikatsprüfung → Persistenz → Indexierung, mit genau einem
// Protokolleintrag pro Versuch.
type Pipeline struct {
	cfg        *config.Config
	mapper     *FieldMapper
	normalizer *FieldNormalizer
	detector   *DuplicateDetector
	tenders    TenderStore
	logs       LogStore
	indexer    Indexer
	sink       metrics.Sink
	logger     *zap.Logger
}

// NewPipeline erstellt die Normalisierungs-Pipeline.
func NewPipeline(
	cfg *config.Config,
	mapper *FieldMapper,
	normalizer *FieldNormalizer,
	detector *DuplicateDetector,
	tenders TenderStore,
	logs LogStore,
	indexer Indexer,
	sink metrics.Sink,
	logger *zap.Logger,
) *Pipeline {
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Pipeline{
		cfg:        cfg,
		mapper:     mapper,
		normalizer: normalizer,
		detector:   detector,
		tenders:    tenders,
		logs:       logs,
		indexer:    indexer,
		sink:       sink,
		logger:     logger,
	}
}

// Normalize verarbeitet genau ein Roh-Dokument einer Plattform. Innerhalb
// des Versuchs sind die Schritte strikt sequentiell.
func (p *Pipeline) Normalize(ctx context.Context, raw map[string]any, platformID string) (res *Result, err error) {
	started := time.Now().UTC()
	p.sink.IncCounter(metrics.EventAttempt)

	logEntry := &models.NormalizationLog{
		TenderID:   firstNonEmpty(strings.TrimSpace(toString(raw["tender_id"])), "unknown"),
		PlatformID: platformID,
		RawDataID:  strings.TrimSpace(toString(raw["id"])),
		Status:     models.LogStarted,
		StartedAt:  started,
		RawData:    marshalJSON(raw),
	}
	if lerr := p.logs.Create(ctx, logEntry); lerr != nil {
		return nil, fmt.Errorf("create normalization log: %w", lerr)
	}

	// Unerwartete Fehler an der Orchestrator-Grenze abfangen und als
	// fehlgeschlagenen Versuch protokollieren.
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic während der Normalisierung",
				zap.Any("panic", r), zap.String("platform_id", platformID))
			p.finalizeLog(ctx, logEntry, models.LogFailed, fmt.Sprintf("panic: %v", r), nil, nil)
			p.sink.IncCounter(metrics.EventFailed)
			res = &Result{Status: models.LogFailed, Errors: []string{fmt.Sprintf("panic: %v", r)}}
			err = fmt.Errorf("normalization panic: %v", r)
		}
	}()

	var warnings []string

	// Schritt 1: Feld-Mapping anwenden, ohne aktive Konfiguration laufen die
	// Rohdaten unverändert durch.
	mapped := raw
	mapping, err := p.mapper.Resolve(ctx, platformID)
	switch {
	case errors.Is(err, ErrNoMapping):
		warnings = append(warnings, fmt.Sprintf("no active field mapping for platform %s, using raw document", platformID))
	case err != nil:
		p.finalizeLog(ctx, logEntry, models.LogFailed, err.Error(), nil, warnings)
		p.sink.IncCounter(metrics.EventFailed)
		return &Result{Status: models.LogFailed, Warnings: warnings}, err
	default:
		mapped = p.mapper.Apply(raw, mapping)
	}

	// Schritt 2: Einzelfelder normalisieren
	fields, fieldWarnings := p.normalizer.NormalizeFields(mapped)
	warnings = append(warnings, fieldWarnings...)

	// Schritt 3: Validieren; bei Ablehnung entsteht kein Datensatz.
	ok, validationErrors := ValidateFields(fields)
	if !ok {
		msg := "validation failed: " + strings.Join(validationErrors, "; ")
		p.finalizeLog(ctx, logEntry, models.LogFailed, msg, validationErrors, warnings)
		p.sink.IncCounter(metrics.EventFailed)
		p.logger.Error("Validierung der Ausschreibung fehlgeschlagen",
			zap.Strings("errors", validationErrors), zap.String("platform_id", platformID))
		return &Result{Status: models.LogFailed, Errors: validationErrors, Warnings: warnings},
			fmt.Errorf("%w: %s", ErrValidation, strings.Join(validationErrors, "; "))
	}

	// Schritt 4: Duplikatsprüfung
	isDup, dupOf, err := p.detector.Check(ctx, fields.ExternalID, platformID, fields.Title)
	if err != nil {
		p.finalizeLog(ctx, logEntry, models.LogFailed, err.Error(), nil, warnings)
		p.sink.IncCounter(metrics.EventFailed)
		return &Result{Status: models.LogFailed, Warnings: warnings}, err
	}
	if isDup {
		p.finalizeLog(ctx, logEntry, models.LogDuplicate, "duplicate of tender "+dupOf, nil, warnings)
		p.sink.IncCounter(metrics.EventDuplicate)
		p.logger.Info("Ausschreibung als Duplikat aufgelöst",
			zap.String("tender_id", fields.TenderID), zap.String("duplicate_of", dupOf))
		return &Result{Status: models.LogDuplicate, TenderID: fields.TenderID, DuplicateOf: dupOf, Warnings: warnings}, nil
	}

	// Schritt 5: Datensatz aufbauen und persistieren
	score := QualityScore(fields)
	tender := p.buildTender(fields, platformID, raw, score, started)

	if err := p.tenders.Create(ctx, tender); err != nil {
		if errors.Is(err, repository.ErrDuplicateTender) {
			// Verlorenes Rennen zweier paralleler Versuche: der Unique-Index
			// hat den zweiten Insert abgewiesen, also als Duplikat auflösen.
			existing, lookupErr := p.tenders.FindByExternalID(ctx, platformID, fields.ExternalID)
			if lookupErr == nil {
				p.finalizeLog(ctx, logEntry, models.LogDuplicate, "duplicate of tender "+existing.TenderID+" (concurrent insert)", nil, warnings)
				p.sink.IncCounter(metrics.EventDuplicate)
				return &Result{Status: models.LogDuplicate, TenderID: fields.TenderID, DuplicateOf: existing.TenderID, Warnings: warnings}, nil
			}
		}
		p.finalizeLog(ctx, logEntry, models.LogFailed, err.Error(), nil, warnings)
		p.sink.IncCounter(metrics.EventFailed)
		return &Result{Status: models.LogFailed, Warnings: warnings}, fmt.Errorf("persist tender: %w", err)
	}

	// Schritt 6: Suchindex; Fehler sind nicht fatal, der relationale Commit
	// zählt. Der Index wird später per Bulk-Reindex nachgezogen.
	if ierr := p.indexer.IndexTender(ctx, tender); ierr != nil {
		warnings = append(warnings, "search indexing failed: "+ierr.Error())
		p.sink.IncCounter(metrics.EventIndexFailed)
		p.logger.Warn("Indexierung fehlgeschlagen, wird beim Reindex nachgeholt",
			zap.String("tender_id", tender.TenderID), zap.Error(ierr))
	}

	p.finalizeLog(ctx, logEntry, models.LogSuccess, "", nil, warnings)
	p.sink.IncCounter(metrics.EventSuccess)
	p.sink.ObserveDuration("normalize", time.Since(started).Seconds())
	p.logger.Info("Ausschreibung erfolgreich normalisiert",
		zap.String("tender_id", tender.TenderID),
		zap.Float64("quality_score", score),
		zap.Int("processing_time_ms", tender.ProcessingTimeMs))

	return &Result{
		Status:       models.LogSuccess,
		TenderID:     tender.TenderID,
		QualityScore: score,
		Warnings:     warnings,
	}, nil
}

// NormalizeWithRetry wiederholt fehlgeschlagene Versuche mit begrenztem
// exponentiellen Backoff. Jeder Versuch läuft unter einem eigenen Timeout.
// Validierungsfehler werden nicht wiederholt.
func (p *Pipeline) NormalizeWithRetry(ctx context.Context, raw map[string]any, platformID string) (*Result, error) {
	attempts := p.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := p.cfg.RetryBaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	timeout := p.cfg.NormalizeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var lastRes *Result
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		res, err := p.Normalize(attemptCtx, raw, platformID)
		cancel()

		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrValidation) {
			return res, err
		}

		lastRes, lastErr = res, err
		if attempt < attempts {
			p.logger.Warn("Normalisierungsversuch fehlgeschlagen, nächster Versuch folgt",
				zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lastRes, ctx.Err()
			}
			delay *= 2
		}
	}

	return lastRes, lastErr
}

// NormalizeBatch verarbeitet mehrere Dokumente einer Plattform parallel,
// begrenzt auf fünf gleichzeitige Versuche.
func (p *Pipeline) NormalizeBatch(ctx context.Context, docs []map[string]any, platformID string) BatchResult {
	result := BatchResult{Total: len(docs)}

	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5)

	for _, doc := range docs {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(doc map[string]any) {
			defer wg.Done()
			defer func() { <-semaphore }()

			res, err := p.NormalizeWithRetry(ctx, doc, platformID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
			case res.Status == models.LogDuplicate:
				result.Duplicates++
			default:
				result.Success++
			}
		}(doc)
	}

	wg.Wait()
	return result
}

// buildTender überführt den normalisierten Feldsatz in den Datensatz,
// inklusive der unverändert aufbewahrten Rohdaten.
func (p *Pipeline) buildTender(fields *NormalizedFields, platformID string, raw map[string]any, score float64, started time.Time) *models.NormalizedTender {
	now := time.Now().UTC()
	return &models.NormalizedTender{
		TenderID:   fields.TenderID,
		PlatformID: platformID,
		ExternalID: fields.ExternalID,

		Title:       fields.Title,
		Description: fields.Description,
		Summary:     fields.Summary,
		Category:    fields.Category,

		CustomerName:    fields.CustomerName,
		CustomerContact: fields.CustomerContact,

		PublishedDate: fields.PublishedDate,
		DeadlineDate:  fields.DeadlineDate,
		StartDate:     fields.StartDate,
		EndDate:       fields.EndDate,

		BudgetAmount:   fields.BudgetAmount,
		BudgetCurrency: fields.BudgetCurrency,
		BudgetMin:      fields.BudgetMin,
		BudgetMax:      fields.BudgetMax,

		Status:    fields.Status,
		SourceURL: fields.SourceURL,

		Requirements: marshalJSON(fields.Requirements),
		Criteria:     marshalJSON(fields.Criteria),
		Restrictions: marshalJSON(fields.Restrictions),
		Attachments:  marshalJSON(fields.Attachments),

		AiExtracted: marshalJSON(fields.AiExtracted),
		AiSummary:   fields.AiSummary,
		AiKeywords:  marshalJSON(fields.AiKeywords),

		RawData:       marshalJSON(raw),
		ExtractedText: fields.ExtractedText,
		RawDataID:     strings.TrimSpace(toString(raw["id"])),

		DataQualityScore: score,
		IsDuplicate:      false,
		TitleFingerprint: TitleFingerprint(fields.Title),

		NormalizedAt:     now,
		ProcessingTimeMs: int(now.Sub(started).Milliseconds()),
	}
}

// finalizeLog schreibt den Endzustand des Protokolleintrags. Die Finalisierung
// läuft bewusst ohne die Cancellation des Versuchs-Contexts, damit auch ein
// Timeout noch protokolliert wird.
func (p *Pipeline) finalizeLog(ctx context.Context, logEntry *models.NormalizationLog, status, message string, errs, warns []string) {
	now := time.Now().UTC()
	logEntry.Status = status
	logEntry.Message = message
	logEntry.CompletedAt = &now
	logEntry.DurationMs = int(now.Sub(logEntry.StartedAt).Milliseconds())
	logEntry.Errors = marshalJSON(errs)
	logEntry.Warnings = marshalJSON(warns)

	// Rohdaten nur für die Wiederaufnahme von Fehlversuchen aufbewahren.
	if status != models.LogFailed {
		logEntry.RawData = nil
	}

	if err := p.logs.Finalize(context.WithoutCancel(ctx), logEntry); err != nil {
		p.logger.Error("Protokolleintrag konnte nicht finalisiert werden",
			zap.Uint("log_id", logEntry.ID), zap.Error(err))
	}
}

// marshalJSON serialisiert beliebige Strukturwerte für JSON-Spalten;
// nil bleibt nil.
func marshalJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return nil
		}
	case []any:
		if len(t) == 0 {
			return nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// firstNonEmpty gibt den ersten nicht-leeren String zurück.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
