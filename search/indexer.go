package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"go.uber.org/zap"

	"tender-factory/models"
)

// indexMapping definiert das Schema des Suchindex.
const indexMapping = `{
  "mappings": {
    "properties": {
      "tender_id":          {"type": "keyword"},
      "platform_id":        {"type": "keyword"},
      "external_id":        {"type": "keyword"},
      "title":              {"type": "text"},
      "description":        {"type": "text"},
      "summary":            {"type": "text"},
      "category":           {"type": "keyword"},
      "customer_name":      {"type": "text"},
      "budget_amount":      {"type": "double"},
      "budget_currency":    {"type": "keyword"},
      "status":             {"type": "keyword"},
      "published_date":     {"type": "date"},
      "deadline_date":      {"type": "date"},
      "start_date":         {"type": "date"},
      "end_date":           {"type": "date"},
      "requirements":       {"type": "text"},
      "criteria":           {"type": "text"},
      "ai_keywords":        {"type": "keyword"},
      "data_quality_score": {"type": "double"},
      "is_duplicate":       {"type": "boolean"},
      "normalized_at":      {"type": "date"}
    }
  }
}`

// Document ist die indexierte Teilmenge einer normalisierten Ausschreibung.
type Document struct {
	TenderID         string   `json:"tender_id"`
	PlatformID       string   `json:"platform_id"`
	ExternalID       string   `json:"external_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Summary          string   `json:"summary"`
	Category         string   `json:"category"`
	CustomerName     string   `json:"customer_name"`
	BudgetAmount     *float64 `json:"budget_amount,omitempty"`
	BudgetCurrency   string   `json:"budget_currency"`
	Status           string   `json:"status"`
	PublishedDate    string   `json:"published_date,omitempty"`
	DeadlineDate     string   `json:"deadline_date,omitempty"`
	StartDate        string   `json:"start_date,omitempty"`
	EndDate          string   `json:"end_date,omitempty"`
	Requirements     []any    `json:"requirements"`
	Criteria         []any    `json:"criteria"`
	AiKeywords       []any    `json:"ai_keywords"`
	DataQualityScore float64  `json:"data_quality_score"`
	IsDuplicate      bool     `json:"is_duplicate"`
	NormalizedAt     string   `json:"normalized_at"`
}

// TenderSource liefert die zu indexierenden Datensätze ausschnittweise,
// z.B. für den vollständigen Reindex aus der relationalen Datenbank.
type TenderSource interface {
	Batch(ctx context.Context, offset, limit int) ([]models.NormalizedTender, error)
}

// Indexer überführt persistierte Ausschreibungen in den Suchindex. Upserts
// sind über die Tender-ID idempotent und damit gefahrlos wiederholbar.
type Indexer struct {
	es        *elasticsearch.Client
	index     string
	source    TenderSource
	batchSize int
	logger    *zap.Logger
}

// NewIndexer erstellt einen Indexer.
func NewIndexer(es *elasticsearch.Client, index string, source TenderSource, batchSize int, logger *zap.Logger) *Indexer {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Indexer{es: es, index: index, source: source, batchSize: batchSize, logger: logger}
}

// IndexTender upsertet einen einzelnen Datensatz.
func (i *Indexer) IndexTender(ctx context.Context, t *models.NormalizedTender) error {
	body, err := json.Marshal(toDocument(t))
	if err != nil {
		return err
	}

	res, err := i.es.Index(
		i.index,
		bytes.NewReader(body),
		i.es.Index.WithDocumentID(t.TenderID),
		i.es.Index.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index tender %s: %s", t.TenderID, res.String())
	}

	i.logger.Debug("Ausschreibung indexiert", zap.String("tender_id", t.TenderID))
	return nil
}

// BulkIndex indexiert mehrere Datensätze und meldet, wie viele durchkamen.
// Teilerfolge sind erlaubt; Fehlschläge werden gezählt, nicht eskaliert.
func (i *Indexer) BulkIndex(ctx context.Context, tenders []models.NormalizedTender) (int, error) {
	if len(tenders) == 0 {
		return 0, nil
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client: i.es,
		Index:  i.index,
	})
	if err != nil {
		return 0, err
	}

	for idx := range tenders {
		t := &tenders[idx]
		body, merr := json.Marshal(toDocument(t))
		if merr != nil {
			i.logger.Warn("Dokument nicht serialisierbar", zap.String("tender_id", t.TenderID), zap.Error(merr))
			continue
		}
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: t.TenderID,
			Body:       bytes.NewReader(body),
			OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				i.logger.Warn("Bulk-Indexierung eines Dokuments fehlgeschlagen",
					zap.String("tender_id", item.DocumentID),
					zap.String("reason", res.Error.Reason),
					zap.Error(err))
			},
		})
		if err != nil {
			return 0, err
		}
	}

	if err := bi.Close(ctx); err != nil {
		return 0, err
	}

	stats := bi.Stats()
	indexed := int(stats.NumAdded - stats.NumFailed)
	i.logger.Info("Bulk-Indexierung abgeschlossen",
		zap.Int("indexed", indexed), zap.Int64("failed", int64(stats.NumFailed)))
	return indexed, nil
}

// DeleteTender entfernt ein Dokument aus dem Index.
func (i *Indexer) DeleteTender(ctx context.Context, tenderID string) error {
	res, err := i.es.Delete(i.index, tenderID, i.es.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete tender %s from index: %s", tenderID, res.String())
	}
	return nil
}

// EnsureIndex legt den Index samt Mapping an, falls er fehlt.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := i.es.Indices.Exists([]string{i.index}, i.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return err
	}
	defer exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}

	res, err := i.es.Indices.Create(
		i.index,
		i.es.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
		i.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", i.index, res.String())
	}

	i.logger.Info("Suchindex angelegt", zap.String("index", i.index))
	return nil
}

// ReindexAll leert den Index und baut ihn vollständig aus der relationalen
// Datenbank neu auf. Teuer und selten; normale Indexierung sollte währenddessen
// nicht laufen.
func (i *Indexer) ReindexAll(ctx context.Context) (int, error) {
	i.logger.Info("Starte vollständigen Reindex", zap.String("index", i.index))

	del, err := i.es.Indices.Delete(
		[]string{i.index},
		i.es.Indices.Delete.WithIgnoreUnavailable(true),
		i.es.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return 0, err
	}
	del.Body.Close()

	if err := i.EnsureIndex(ctx); err != nil {
		return 0, err
	}

	total := 0
	for offset := 0; ; offset += i.batchSize {
		batch, err := i.source.Batch(ctx, offset, i.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}
		n, err := i.BulkIndex(ctx, batch)
		total += n
		if err != nil {
			return total, err
		}
	}

	i.logger.Info("Reindex abgeschlossen", zap.Int("documents", total))
	return total, nil
}

// Ping prüft die Erreichbarkeit des Suchclusters.
func (i *Indexer) Ping(ctx context.Context) error {
	res, err := i.es.Ping(i.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: %s", res.String())
	}
	return nil
}

// toDocument wählt die indexierte Teilmenge aus; fehlende Summaries fallen
// auf die KI-Zusammenfassung zurück, Listen werden nie null.
func toDocument(t *models.NormalizedTender) Document {
	summary := t.Summary
	if summary == "" {
		summary = t.AiSummary
	}
	return Document{
		TenderID:         t.TenderID,
		PlatformID:       t.PlatformID,
		ExternalID:       t.ExternalID,
		Title:            t.Title,
		Description:      t.Description,
		Summary:          summary,
		Category:         t.Category,
		CustomerName:     t.CustomerName,
		BudgetAmount:     t.BudgetAmount,
		BudgetCurrency:   t.BudgetCurrency,
		Status:           t.Status,
		PublishedDate:    isoDate(t.PublishedDate),
		DeadlineDate:     isoDate(t.DeadlineDate),
		StartDate:        isoDate(t.StartDate),
		EndDate:          isoDate(t.EndDate),
		Requirements:     jsonList(t.Requirements),
		Criteria:         jsonList(t.Criteria),
		AiKeywords:       jsonList(t.AiKeywords),
		DataQualityScore: t.DataQualityScore,
		IsDuplicate:      t.IsDuplicate,
		NormalizedAt:     t.NormalizedAt.UTC().Format(time.RFC3339),
	}
}

// isoDate formatiert optionale Zeitstempel; nil wird leer und damit im
// Dokument ausgelassen.
func isoDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// jsonList dekodiert eine JSON-Spalte in eine Liste; leere Werte werden zu
// einer leeren Liste statt null.
func jsonList(raw []byte) []any {
	if len(raw) == 0 {
		return []any{}
	}
	var out []any
	if err := json.Unmarshal(raw, &out); err != nil {
		return []any{}
	}
	return out
}
