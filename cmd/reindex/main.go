package main

import (
	"context"
	"log"
	"time"

	"tender-factory/config"
	"tender-factory/repository"
	"tender-factory/search"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Standalone-Werkzeug für den vollständigen Reindex, z.B. nach einem
// Mapping-Wechsel im Suchcluster oder einer Wiederherstellung der Datenbank.
func main() {
	log.Println("Starte Reindex-Prozess...")

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Fehler beim Initialisieren des Loggers: %v", err)
	}
	defer zlog.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("Fehler beim Verbinden mit der Datenbank: %v", err)
	}

	esClient, err := search.NewClient(cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des Elasticsearch-Clients: %v", err)
	}

	tenderRepo := repository.NewTenderRepository(db)
	indexer := search.NewIndexer(esClient, cfg.ElasticIndex, tenderRepo, cfg.ReindexBatchSize, zlog)

	started := time.Now()
	count, err := indexer.ReindexAll(context.Background())
	if err != nil {
		log.Fatalf("Reindex fehlgeschlagen nach %d Dokumenten: %v", count, err)
	}

	log.Printf("Reindex erfolgreich abgeschlossen: %d Dokumente in %s", count, time.Since(started).Round(time.Second))
}
