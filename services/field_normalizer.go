package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"tender-factory/models"
)

// NormalizedFields bündelt das Ergebnis der Feld-Normalisierung eines
// Roh-Dokuments, bevor daraus ein NormalizedTender gebaut wird.
type NormalizedFields struct {
	TenderID   string
	ExternalID string

	Title           string
	Description     string
	Summary         string
	Category        string
	CustomerName    string
	CustomerContact string

	PublishedDate *time.Time
	DeadlineDate  *time.Time
	StartDate     *time.Time
	EndDate       *time.Time

	BudgetAmount   *float64
	BudgetMin      *float64
	BudgetMax      *float64
	BudgetCurrency string

	Status    string
	SourceURL string

	Requirements any
	Criteria     any
	Restrictions any
	Attachments  any

	AiExtracted   any
	AiSummary     string
	AiKeywords    any
	ExtractedText string
}

// Akzeptierte Datumsformate, in fester Reihenfolge; das erste passende gewinnt.
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
	"02/01/2006",
	"2 Jan 2006",
	"2 January 2006",
}

// moneyRE extrahiert die numerische Teilzeichenkette eines bereinigten Betrags.
var moneyRE = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// whitespaceRE kollabiert beliebige Folgen von Whitespace.
var whitespaceRE = regexp.MustCompile(`\s+`)

// currencyAliases bildet quellsprachliche Währungsangaben auf ISO-Codes ab.
var currencyAliases = map[string]string{
	"РУБ": "RUB", "РУБ.": "RUB", "РУБЛЬ": "RUB", "РУБЛЕЙ": "RUB",
	"KZT": "KZT", "ТЕНГЕ": "KZT",
	"USD": "USD", "DOLLAR": "USD", "ДОЛЛАР": "USD",
	"EUR": "EUR", "EURO": "EUR", "ЕВРО": "EUR",
}

// toString macht aus beliebigen Quellwerten eine Zeichenkette; nil wird leer.
func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// NormalizeText kollabiert Whitespace, trimmt und NFC-normalisiert einen
// Textwert. Ein leeres Ergebnis gilt als abwesend, nicht als leerer String.
func NormalizeText(v any) (string, bool) {
	s := toString(v)
	s = whitespaceRE.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	normalized, _, err := transform.String(norm.NFC, s)
	if err != nil {
		return s, true
	}
	return normalized, true
}

// NormalizeDate akzeptiert bereits typisierte Zeitwerte unverändert und
// probiert sonst die bekannten Textformate der Reihe nach durch.
func NormalizeDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	}

	s := strings.TrimSpace(toString(v))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// NormalizeMoney wandelt numerische Werte direkt um und bereinigt textuelle
// Beträge: Whitespace und Tausendertrennzeichen entfernen, Dezimalkomma zu
// Dezimalpunkt, dann numerische Teilzeichenkette extrahieren.
func NormalizeMoney(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f, true
		}
	}

	s := toString(v)
	s = strings.Map(func(r rune) rune {
		// Whitespace inkl. NBSP sowie Apostroph-Tausendertrenner entfernen
		if unicode.IsSpace(r) || r == '\'' {
			return -1
		}
		return r
	}, s)

	switch {
	case strings.Contains(s, "."):
		// Punkt ist Dezimaltrenner, Kommas sind Tausendertrennzeichen
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	numeric := moneyRE.FindString(s)
	if numeric == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// NormalizeCurrency bildet bekannte Aliasse auf ISO-Codes ab. Unbekannte
// Angaben werden auf die ersten drei Runen gekürzt; leere Eingaben fallen auf
// die konfigurierte Standardwährung zurück.
func NormalizeCurrency(v any, defaultCurrency string) string {
	s := strings.ToUpper(strings.TrimSpace(toString(v)))
	if s == "" {
		return defaultCurrency
	}
	if code, ok := currencyAliases[s]; ok {
		return code
	}
	runes := []rune(s)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return string(runes)
}

// FieldNormalizer komponiert die Einzelfeld-Normalisierungen zu einem
// vollständigen Feldsatz. Zustandslos bis auf Konfiguration und Logger.
type FieldNormalizer struct {
	defaultCurrency string
	logger          *zap.Logger
}

// NewFieldNormalizer erstellt einen FieldNormalizer.
func NewFieldNormalizer(defaultCurrency string, logger *zap.Logger) *FieldNormalizer {
	if defaultCurrency == "" {
		defaultCurrency = "RUB"
	}
	return &FieldNormalizer{defaultCurrency: defaultCurrency, logger: logger}
}

// NormalizeFields normalisiert die gemappten Felder eines Dokuments.
// Parse-Fehler einzelner Felder sind nie fatal: das Feld wird abwesend und
// eine Warnung gesammelt.
func (fn *FieldNormalizer) NormalizeFields(mapped map[string]any) (*NormalizedFields, []string) {
	var warnings []string

	text := func(key string) string {
		v, ok := mapped[key]
		if !ok {
			return ""
		}
		s, _ := NormalizeText(v)
		return s
	}

	plain := func(key string) string {
		return strings.TrimSpace(toString(mapped[key]))
	}

	date := func(key string) *time.Time {
		v, ok := mapped[key]
		if !ok || v == nil {
			return nil
		}
		t, parsed := NormalizeDate(v)
		if !parsed {
			if s := strings.TrimSpace(toString(v)); s != "" {
				warnings = append(warnings, fmt.Sprintf("could not parse date %q for field %s", s, key))
				fn.logger.Warn("Datum nicht parsebar", zap.String("field", key), zap.String("value", s))
			}
			return nil
		}
		return &t
	}

	money := func(key string) *float64 {
		v, ok := mapped[key]
		if !ok || v == nil {
			return nil
		}
		f, parsed := NormalizeMoney(v)
		if !parsed {
			if s := strings.TrimSpace(toString(v)); s != "" {
				warnings = append(warnings, fmt.Sprintf("could not parse amount %q for field %s", s, key))
				fn.logger.Warn("Betrag nicht parsebar", zap.String("field", key), zap.String("value", s))
			}
			return nil
		}
		return &f
	}

	status := plain("status")
	if status == "" {
		status = models.StatusNew
	}

	fields := &NormalizedFields{
		TenderID:   plain("tender_id"),
		ExternalID: plain("external_id"),

		Title:           text("title"),
		Description:     text("description"),
		Summary:         plain("summary"),
		Category:        text("category"),
		CustomerName:    text("customer_name"),
		CustomerContact: plain("customer_contact"),

		PublishedDate: date("published_date"),
		DeadlineDate:  date("deadline_date"),
		StartDate:     date("start_date"),
		EndDate:       date("end_date"),

		BudgetAmount:   money("budget_amount"),
		BudgetMin:      money("budget_min"),
		BudgetMax:      money("budget_max"),
		BudgetCurrency: NormalizeCurrency(mapped["budget_currency"], fn.defaultCurrency),

		Status:    status,
		SourceURL: plain("source_url"),

		// Strukturierte Listen und KI-Felder laufen unverändert durch.
		Requirements: mapped["requirements"],
		Criteria:     mapped["criteria"],
		Restrictions: mapped["restrictions"],
		Attachments:  mapped["attachments"],

		AiExtracted:   mapped["ai_extracted"],
		AiSummary:     plain("ai_summary"),
		AiKeywords:    mapped["ai_keywords"],
		ExtractedText: plain("extracted_text"),
	}

	return fields, warnings
}
