package services

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"tender-factory/models"
)

// FailedLogSource liefert die wieder aufzunehmenden Fehlversuche.
type FailedLogSource interface {
	Failed(ctx context.Context, limit int) ([]models.NormalizationLog, error)
	MarkReprocessed(ctx context.Context, id uint) error
}

// Reprocessor spielt fehlgeschlagene Normalisierungsversuche erneut in die
// Pipeline ein. Jeder Fehlversuch wird genau einmal wieder aufgenommen;
// scheitert auch der neue Versuch, entsteht ein frischer Log-Eintrag, der beim
// nächsten Lauf an der Reihe ist.
type Reprocessor struct {
	logs     FailedLogSource
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewReprocessor erstellt einen Reprocessor.
func NewReprocessor(logs FailedLogSource, pipeline *Pipeline, logger *zap.Logger) *Reprocessor {
	return &Reprocessor{logs: logs, pipeline: pipeline, logger: logger}
}

// Run nimmt bis zu limit Fehlversuche wieder auf. Validierungsfehler werden
// übersprungen, dieselbe ungültige Eingabe scheitert auch beim zweiten Mal.
func (r *Reprocessor) Run(ctx context.Context, limit int) (BatchResult, error) {
	failed, err := r.logs.Failed(ctx, limit)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{}
	for _, entry := range failed {
		if merr := r.logs.MarkReprocessed(ctx, entry.ID); merr != nil {
			r.logger.Error("Fehlversuch konnte nicht markiert werden",
				zap.Uint("log_id", entry.ID), zap.Error(merr))
			continue
		}

		if strings.HasPrefix(entry.Message, "validation failed") || len(entry.RawData) == 0 {
			continue
		}

		var raw map[string]any
		if uerr := json.Unmarshal(entry.RawData, &raw); uerr != nil {
			r.logger.Warn("Rohdaten des Fehlversuchs nicht lesbar",
				zap.Uint("log_id", entry.ID), zap.Error(uerr))
			continue
		}

		result.Total++
		res, perr := r.pipeline.Normalize(ctx, raw, entry.PlatformID)
		switch {
		case perr != nil:
			result.Failed++
		case res.Status == models.LogDuplicate:
			result.Duplicates++
		default:
			result.Success++
		}
	}

	if result.Total > 0 {
		r.logger.Info("Wiederaufnahme fehlgeschlagener Versuche abgeschlossen",
			zap.Int("total", result.Total), zap.Int("success", result.Success),
			zap.Int("duplicates", result.Duplicates), zap.Int("failed", result.Failed))
	}
	return result, nil
}
