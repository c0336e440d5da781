package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tender-factory/config"
	"tender-factory/metrics"
	"tender-factory/models"
	"tender-factory/repository"
)

// fakeTenderStore hält Datensätze im Speicher und kann gezielt Fehler
// injizieren, um Wiederholungs- und Race-Pfade zu prüfen.
type fakeTenderStore struct {
	mu         sync.Mutex
	byTenderID map[string]*models.NormalizedTender

	createErrs []error // wird pro Create-Aufruf von vorne konsumiert
	raceWith   *models.NormalizedTender
}

func newFakeTenderStore() *fakeTenderStore {
	return &fakeTenderStore{byTenderID: map[string]*models.NormalizedTender{}}
}

func (f *fakeTenderStore) Create(_ context.Context, t *models.NormalizedTender) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateTender) && f.raceWith != nil {
				f.byTenderID[f.raceWith.TenderID] = f.raceWith
			}
			return err
		}
	}
	for _, existing := range f.byTenderID {
		if existing.PlatformID == t.PlatformID && existing.ExternalID == t.ExternalID && t.ExternalID != "" {
			return repository.ErrDuplicateTender
		}
	}
	f.byTenderID[t.TenderID] = t
	return nil
}

func (f *fakeTenderStore) GetByTenderID(_ context.Context, tenderID string) (*models.NormalizedTender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byTenderID[tenderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeTenderStore) FindByExternalID(_ context.Context, platformID, externalID string) (*models.NormalizedTender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byTenderID {
		if t.PlatformID == platformID && t.ExternalID == externalID {
			return t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTenderStore) FindByFingerprint(_ context.Context, platformID, fingerprint string) (*models.NormalizedTender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byTenderID {
		if t.PlatformID == platformID && t.TitleFingerprint == fingerprint && !t.IsDuplicate {
			return t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTenderStore) MarkDuplicate(_ context.Context, tenderID, duplicateOfID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byTenderID[tenderID]
	if !ok {
		return repository.ErrNotFound
	}
	t.IsDuplicate = true
	t.DuplicateOf = duplicateOfID
	return nil
}

func (f *fakeTenderStore) DuplicatesOf(_ context.Context, tenderID string) ([]models.NormalizedTender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NormalizedTender
	for _, t := range f.byTenderID {
		if t.IsDuplicate && t.DuplicateOf == tenderID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTenderStore) UpdateExtractedText(_ context.Context, tenderID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byTenderID[tenderID]
	if !ok {
		return repository.ErrNotFound
	}
	t.ExtractedText = text
	return nil
}

func (f *fakeTenderStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byTenderID)
}

// fakeLogStore sammelt Protokolleinträge im Speicher.
type fakeLogStore struct {
	mu      sync.Mutex
	entries []*models.NormalizationLog
	nextID  uint
}

func (f *fakeLogStore) Create(_ context.Context, log *models.NormalizationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	log.ID = f.nextID
	f.entries = append(f.entries, log)
	return nil
}

func (f *fakeLogStore) Finalize(_ context.Context, _ *models.NormalizationLog) error {
	return nil
}

func (f *fakeLogStore) Failed(_ context.Context, limit int) ([]models.NormalizationLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NormalizationLog
	for _, e := range f.entries {
		if e.Status == models.LogFailed && !e.Reprocessed {
			out = append(out, *e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeLogStore) MarkReprocessed(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			e.Reprocessed = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeLogStore) byStatus(status string) []*models.NormalizationLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.NormalizationLog
	for _, e := range f.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// fakeIndexer zeichnet Indexierungen auf und kann Fehler injizieren.
type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	err     error
}

func (f *fakeIndexer) IndexTender(_ context.Context, t *models.NormalizedTender) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.indexed = append(f.indexed, t.TenderID)
	return nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *fakeTenderStore
	mappings *fakeMappingStore
	logs     *fakeLogStore
	indexer  *fakeIndexer
	sink     *metrics.Recording
}

func newPipelineFixture() *pipelineFixture {
	cfg := &config.Config{
		DefaultCurrency:  "RUB",
		RetryAttempts:    3,
		RetryBaseDelay:   time.Millisecond,
		NormalizeTimeout: time.Second,
	}
	logger := zap.NewNop()
	store := newFakeTenderStore()
	mappings := &fakeMappingStore{rules: map[string]map[string]string{}}
	logs := &fakeLogStore{}
	indexer := &fakeIndexer{}
	sink := metrics.NewRecording()

	mapper := NewFieldMapper(mappings, logger, 16, time.Minute)
	normalizer := NewFieldNormalizer(cfg.DefaultCurrency, logger)
	detector := NewDuplicateDetector(store, logger)
	pipeline := NewPipeline(cfg, mapper, normalizer, detector, store, logs, indexer, sink, logger)

	return &pipelineFixture{pipeline: pipeline, store: store, mappings: mappings, logs: logs, indexer: indexer, sink: sink}
}

func chairsDocument() map[string]any {
	return map[string]any{
		"id":       "raw-1",
		"number":   "T1",
		"ext":      "EXT-1",
		"name":     "  Supply   of chairs ",
		"price":    "1 000,00",
		"currency": "руб.",
		"due":      "2024-07-01",
	}
}

func chairsMapping() map[string]string {
	return map[string]string{
		"tender_id":       "number",
		"external_id":     "ext",
		"title":           "name",
		"budget_amount":   "price",
		"budget_currency": "currency",
		"deadline_date":   "due",
	}
}

func TestPipelineNormalizeSuccess(t *testing.T) {
	fx := newPipelineFixture()
	fx.mappings.rules["platform-a"] = chairsMapping()

	res, err := fx.pipeline.Normalize(context.Background(), chairsDocument(), "platform-a")
	require.NoError(t, err)
	assert.Equal(t, models.LogSuccess, res.Status)
	assert.Equal(t, "T1", res.TenderID)
	assert.Empty(t, res.Warnings)

	tender, err := fx.store.GetByTenderID(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "Supply of chairs", tender.Title)
	require.NotNil(t, tender.BudgetAmount)
	assert.InDelta(t, 1000.0, *tender.BudgetAmount, 1e-9)
	assert.Equal(t, "RUB", tender.BudgetCurrency)
	assert.Equal(t, models.StatusNew, tender.Status)
	assert.NotEmpty(t, tender.TitleFingerprint)
	assert.NotEmpty(t, tender.RawData, "raw document must be preserved verbatim")

	require.Len(t, fx.logs.byStatus(models.LogSuccess), 1)
	assert.Equal(t, []string{"T1"}, fx.indexer.indexed)
	assert.Equal(t, 1, fx.sink.Count(metrics.EventAttempt))
	assert.Equal(t, 1, fx.sink.Count(metrics.EventSuccess))
}

func TestPipelineNormalizeWithoutMappingFallsThrough(t *testing.T) {
	fx := newPipelineFixture()

	res, err := fx.pipeline.Normalize(context.Background(), map[string]any{
		"tender_id": "T2",
		"title":     "Road maintenance",
	}, "platform-unconfigured")
	require.NoError(t, err)
	assert.Equal(t, models.LogSuccess, res.Status)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "no active field mapping")
}

func TestPipelineNormalizeValidationFailure(t *testing.T) {
	fx := newPipelineFixture()

	res, err := fx.pipeline.Normalize(context.Background(), map[string]any{
		"tender_id": "T3",
		// kein Titel
	}, "platform-a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, models.LogFailed, res.Status)
	assert.Contains(t, res.Errors, "missing required field: title")

	assert.Equal(t, 0, fx.store.count(), "rejected input must not create a record")
	require.Len(t, fx.logs.byStatus(models.LogFailed), 1)
	assert.Equal(t, 1, fx.sink.Count(metrics.EventFailed))
}

func TestPipelineNormalizeDetectsDuplicate(t *testing.T) {
	fx := newPipelineFixture()
	doc := map[string]any{
		"tender_id":   "T4",
		"external_id": "EXT-4",
		"title":       "Snow removal services",
	}

	first, err := fx.pipeline.Normalize(context.Background(), doc, "platform-a")
	require.NoError(t, err)
	require.Equal(t, models.LogSuccess, first.Status)

	second, err := fx.pipeline.Normalize(context.Background(), map[string]any{
		"tender_id":   "T5",
		"external_id": "EXT-4",
		"title":       "Snow removal services",
	}, "platform-a")
	require.NoError(t, err)
	assert.Equal(t, models.LogDuplicate, second.Status)
	assert.Equal(t, "T4", second.DuplicateOf)

	assert.Equal(t, 1, fx.store.count(), "duplicates never create a second record")
	assert.Equal(t, 1, fx.sink.Count(metrics.EventDuplicate))
}

func TestPipelineNormalizeFingerprintDuplicate(t *testing.T) {
	fx := newPipelineFixture()

	_, err := fx.pipeline.Normalize(context.Background(), map[string]any{
		"tender_id": "T6",
		"title":     "Supply of CHAIRS",
	}, "platform-a")
	require.NoError(t, err)

	// andere external_id, gleicher Titel bis auf Schreibung und Whitespace
	res, err := fx.pipeline.Normalize(context.Background(), map[string]any{
		"tender_id":   "T7",
		"external_id": "EXT-other",
		"title":       "  supply   of chairs ",
	}, "platform-a")
	require.NoError(t, err)
	assert.Equal(t, models.LogDuplicate, res.Status)
	assert.Equal(t, "T6", res.DuplicateOf)
}

func TestPipelineIndexFailureIsNotFatal(t *testing.T) {
	fx := newPipelineFixture()
	fx.indexer.err = errors.New("search cluster unavailable")

	res, err := fx.pipeline.Normalize(context.Background(), map[string]any{
		"tender_id": "T8",
		"title":     "Bridge inspection",
	}, "platform-a")
	require.NoError(t, err)
	assert.Equal(t, models.LogSuccess, res.Status)
	require.Len(t, res.Warnings, 2) // kein Mapping + Index-Fehler
	assert.Contains(t, res.Warnings[1], "search indexing failed")

	assert.Equal(t, 1, fx.store.count(), "relational commit wins over index failure")
	assert.Equal(t, 1, fx.sink.Count(metrics.EventIndexFailed))
	assert.Equal(t, 1, fx.sink.Count(metrics.EventSuccess))
}

func TestPipelineLostRaceResolvesToDuplicate(t *testing.T) {
	fx := newPipelineFixture()
	fx.store.createErrs = []error{repository.ErrDuplicateTender}
	fx.store.raceWith = &models.NormalizedTender{
		TenderID:   "T-winner",
		PlatformID: "platform-a",
		ExternalID: "EXT-9",
	}

	res, err := fx.pipeline.Normalize(context.Background(), map[string]any{
		"tender_id":   "T9",
		"external_id": "EXT-9",
		"title":       "Street lighting upgrade",
	}, "platform-a")
	require.NoError(t, err)
	assert.Equal(t, models.LogDuplicate, res.Status)
	assert.Equal(t, "T-winner", res.DuplicateOf)
	assert.Equal(t, 1, fx.sink.Count(metrics.EventDuplicate))
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	fx := newPipelineFixture()
	fx.store.createErrs = []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
	}

	res, err := fx.pipeline.NormalizeWithRetry(context.Background(), map[string]any{
		"tender_id": "T10",
		"title":     "Playground construction",
	}, "platform-a")
	require.NoError(t, err)
	assert.Equal(t, models.LogSuccess, res.Status)

	assert.Len(t, fx.logs.byStatus(models.LogFailed), 2)
	assert.Len(t, fx.logs.byStatus(models.LogSuccess), 1)
	assert.Equal(t, 3, fx.sink.Count(metrics.EventAttempt))
}

func TestPipelineDoesNotRetryValidationFailures(t *testing.T) {
	fx := newPipelineFixture()

	_, err := fx.pipeline.NormalizeWithRetry(context.Background(), map[string]any{
		"tender_id": "T11",
	}, "platform-a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 1, fx.sink.Count(metrics.EventAttempt), "invalid input must not be retried")
}

func TestPipelineNormalizeBatch(t *testing.T) {
	fx := newPipelineFixture()

	docs := []map[string]any{
		{"tender_id": "B1", "external_id": "E1", "title": "First tender"},
		{"tender_id": "B2", "external_id": "E1", "title": "Second tender"}, // Duplikat von B1
		{"tender_id": "B3"}, // ungültig
		{"tender_id": "B4", "external_id": "E4", "title": "Fourth tender"},
	}

	result := fx.pipeline.NormalizeBatch(context.Background(), docs, "platform-a")

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.Failed)
}

func TestPipelineKeepsRawDataOnFailedLogs(t *testing.T) {
	fx := newPipelineFixture()
	fx.store.createErrs = []error{errors.New("disk full"), errors.New("disk full"), errors.New("disk full")}

	_, err := fx.pipeline.NormalizeWithRetry(context.Background(), map[string]any{
		"tender_id": "T12",
		"title":     "Sewer renovation",
	}, "platform-a")
	require.Error(t, err)

	failed := fx.logs.byStatus(models.LogFailed)
	require.NotEmpty(t, failed)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(failed[0].RawData, &raw))
	assert.Equal(t, "T12", raw["tender_id"])
}
