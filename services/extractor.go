package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Archiver bewahrt die heruntergeladenen Roh-Anhänge auf; die
// S3-Implementierung liegt in storage.
type Archiver interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// CustomTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type CustomTransport struct {
	Transport http.RoundTripper
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	return t.Transport.RoundTrip(req)
}

// httpClient wird für alle Anhang-Downloads in diesem Service verwendet.
var httpClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &CustomTransport{
		Transport: http.DefaultTransport,
	},
}

// ExtractionResult fasst die Anhang-Verarbeitung einer Ausschreibung zusammen.
type ExtractionResult struct {
	TenderID  string   `json:"tender_id"`
	Extracted int      `json:"extracted"`
	Skipped   int      `json:"skipped"`
	Archived  []string `json:"archived,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// TextExtractor lädt Anhänge herunter, archiviert die Roh-Blobs und führt den
// textuellen Anteil am bestehenden Datensatz zusammen. Office-Formate werden
// von einem externen Kollaborateur extrahiert; hier werden sie nur archiviert.
type TextExtractor struct {
	store   TenderStore
	archive Archiver
	logger  *zap.Logger
}

// NewTextExtractor erstellt einen TextExtractor.
func NewTextExtractor(store TenderStore, archive Archiver, logger *zap.Logger) *TextExtractor {
	return &TextExtractor{store: store, archive: archive, logger: logger}
}

// ExtractFromURLs verarbeitet die Anhang-URLs einer bestehenden Ausschreibung.
// Einzelne Fehlschläge sind nicht fatal, sie werden gezählt und gemeldet.
func (e *TextExtractor) ExtractFromURLs(ctx context.Context, tenderID string, urls []string) (*ExtractionResult, error) {
	if _, err := e.store.GetByTenderID(ctx, tenderID); err != nil {
		return nil, err
	}

	log := e.logger.With(zap.String("tender_id", tenderID))
	result := &ExtractionResult{TenderID: tenderID}

	var texts []string
	for _, attachmentURL := range urls {
		data, contentType, err := e.download(ctx, attachmentURL)
		if err != nil {
			log.Warn("Anhang konnte nicht geladen werden", zap.String("url", attachmentURL), zap.Error(err))
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", attachmentURL, err))
			continue
		}

		if e.archive != nil {
			key := tenderID + "/" + uuid.New().String() + extensionFor(attachmentURL, contentType)
			link, aerr := e.archive.Upload(ctx, key, data, contentType)
			if aerr != nil {
				log.Warn("Archivierung des Anhangs fehlgeschlagen", zap.String("url", attachmentURL), zap.Error(aerr))
			} else {
				result.Archived = append(result.Archived, link)
			}
		}

		if isTextual(contentType, attachmentURL) {
			if text := strings.TrimSpace(string(data)); text != "" {
				texts = append(texts, text)
				result.Extracted++
				continue
			}
		}
		log.Debug("Anhang archiviert, Text-Extraktion erfolgt extern",
			zap.String("url", attachmentURL), zap.String("content_type", contentType))
		result.Skipped++
	}

	if len(texts) > 0 {
		combined := strings.Join(texts, "\n\n---\n\n")
		if err := e.store.UpdateExtractedText(ctx, tenderID, combined); err != nil {
			return result, err
		}
		log.Info("Anhangstext zusammengeführt",
			zap.Int("documents", result.Extracted), zap.Int("chars", len(combined)))
	}

	return result, nil
}

// MergeText hinterlegt einen extern extrahierten Textblob an einer
// bestehenden Ausschreibung.
func (e *TextExtractor) MergeText(ctx context.Context, tenderID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty extracted text for tender %s", tenderID)
	}
	return e.store.UpdateExtractedText(ctx, tenderID, text)
}

// download lädt eine Ressource herunter.
func (e *TextExtractor) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("bad status: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// isTextual entscheidet, ob der Anhang direkt als Text übernommen werden kann.
func isTextual(contentType, rawURL string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/") || strings.Contains(ct, "json") || strings.Contains(ct, "xml") {
		return true
	}
	lower := strings.ToLower(rawURL)
	return strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, ".json")
}

// extensionFor bestimmt die Dateiendung für den Archiv-Schlüssel.
func extensionFor(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	switch {
	case strings.Contains(contentType, "pdf"):
		return ".pdf"
	case strings.Contains(contentType, "text/"):
		return ".txt"
	case strings.Contains(contentType, "json"):
		return ".json"
	default:
		return ".bin"
	}
}
