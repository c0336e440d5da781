package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"tender-factory/config"
	"tender-factory/metrics"
	"tender-factory/models"
	"tender-factory/repository"
	"tender-factory/search"
	"tender-factory/services"
	"tender-factory/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to tender database.")

	// Auto-Migration
	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.NormalizedTender{}, &models.NormalizationLog{}, &models.FieldMapping{})

	// Setup Repositories
	tenderRepo := repository.NewTenderRepository(db)
	mappingRepo := repository.NewMappingRepository(db)
	logRepo := repository.NewLogRepository(db)

	// Setup Search
	esClient, err := search.NewClient(cfg)
	if err != nil {
		logging.Fatal("Elasticsearch client creation failed", zap.Error(err))
	}
	indexer := search.NewIndexer(esClient, cfg.ElasticIndex, tenderRepo, cfg.ReindexBatchSize, logging)
	if err := indexer.EnsureIndex(context.Background()); err != nil {
		logging.Warn("Search index could not be ensured at startup", zap.Error(err))
	}

	// Setup S3 Archive
	archive, err := storage.NewArchive(cfg)
	if err != nil {
		logging.Fatal("S3 archive client creation failed", zap.Error(err))
	}

	// Setup Services
	sink := metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
	mapper := services.NewFieldMapper(mappingRepo, logging, cfg.MappingCacheSize, cfg.MappingCacheTTL)
	normalizer := services.NewFieldNormalizer(cfg.DefaultCurrency, logging)
	detector := services.NewDuplicateDetector(tenderRepo, logging)
	pipeline := services.NewPipeline(cfg, mapper, normalizer, detector, tenderRepo, logRepo, indexer, sink, logging)
	extractor := services.NewTextExtractor(tenderRepo, archive, logging)
	reprocessor := services.NewReprocessor(logRepo, pipeline, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupNormalizeRoutes(router, pipeline, logging)
	setupMappingRoutes(router, mappingRepo, mapper, logging)
	setupTenderRoutes(router, tenderRepo, extractor, logging)
	setupLogRoutes(router, logRepo, logging)
	setupIndexRoutes(router, indexer, tenderRepo, logging)
	setupHealthRoutes(router, db, indexer)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.ReindexCronSchedule, func() {
		logging.Info("Running scheduled reindex job...")
		count, err := indexer.ReindexAll(context.Background())
		if err != nil {
			logging.Error("Reindex cron job failed", zap.Error(err))
		} else {
			logging.Info("Reindex cron job completed", zap.Int("documents", count))
		}
	})
	cronScheduler.AddFunc(cfg.ReprocessCronSchedule, func() {
		result, err := reprocessor.Run(context.Background(), cfg.ReprocessLimit)
		if err != nil {
			logging.Error("Reprocess cron job failed", zap.Error(err))
		} else if result.Total > 0 {
			logging.Info("Reprocess cron job completed",
				zap.Int("total", result.Total), zap.Int("success", result.Success))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// setupNormalizeRoutes konfiguriert die Einspiel-Endpunkte der Pipeline.
func setupNormalizeRoutes(router *gin.Engine, pipeline *services.Pipeline, log *zap.Logger) {
	rg := router.Group("/normalize")

	// POST - Ein einzelnes Roh-Dokument normalisieren
	rg.POST("/", func(c *gin.Context) {
		var req struct {
			PlatformID string         `json:"platform_id" binding:"required"`
			Document   map[string]any `json:"document" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'platform_id' and 'document' are required."})
			return
		}

		result, err := pipeline.NormalizeWithRetry(c.Request.Context(), req.Document, req.PlatformID)
		if err != nil {
			if errors.Is(err, services.ErrValidation) {
				c.JSON(http.StatusUnprocessableEntity, result)
				return
			}
			log.Error("Normalization failed", zap.String("platform_id", req.PlatformID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, result)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	// POST - Mehrere Dokumente einer Plattform als Batch
	rg.POST("/batch", func(c *gin.Context) {
		var req struct {
			PlatformID string           `json:"platform_id" binding:"required"`
			Documents  []map[string]any `json:"documents" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'platform_id' and 'documents' are required."})
			return
		}
		if len(req.Documents) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Documents cannot be empty"})
			return
		}

		result := pipeline.NormalizeBatch(c.Request.Context(), req.Documents, req.PlatformID)
		c.JSON(http.StatusOK, result)
	})
}

// setupMappingRoutes konfiguriert die Verwaltung der Feld-Mappings.
func setupMappingRoutes(router *gin.Engine, repo *repository.MappingRepository, mapper *services.FieldMapper, log *zap.Logger) {
	rg := router.Group("/mappings")

	rg.GET("/", func(c *gin.Context) {
		mappings, err := repo.List(c.Request.Context())
		if err != nil {
			log.Error("Failed to list field mappings", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, mappings)
	})

	rg.GET("/:platform_id", func(c *gin.Context) {
		platformID := c.Param("platform_id")
		rules, err := repo.GetActive(c.Request.Context(), platformID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no active mapping for platform"})
				return
			}
			log.Error("Failed to load field mapping", zap.String("platform_id", platformID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"platform_id": platformID, "field_mappings": rules})
	})

	// PUT - Mapping einer Plattform vollständig ersetzen. Der Cache wird
	// explizit invalidiert, damit der nächste Versuch den neuen Stand sieht.
	rg.PUT("/:platform_id", func(c *gin.Context) {
		platformID := c.Param("platform_id")
		var req struct {
			FieldMappings map[string]string `json:"field_mappings" binding:"required"`
			IsActive      *bool             `json:"is_active"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'field_mappings' is required."})
			return
		}
		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}

		m, err := repo.Upsert(c.Request.Context(), platformID, req.FieldMappings, active)
		if err != nil {
			log.Error("Failed to upsert field mapping", zap.String("platform_id", platformID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save mapping"})
			return
		}
		mapper.Invalidate(platformID)

		log.Info("Field mapping updated", zap.String("platform_id", platformID), zap.Bool("is_active", active))
		c.JSON(http.StatusOK, m)
	})
}

// setupTenderRoutes konfiguriert die Leseschnittstelle und die Anhang-Verarbeitung.
func setupTenderRoutes(router *gin.Engine, repo *repository.TenderRepository, extractor *services.TextExtractor, log *zap.Logger) {
	rg := router.Group("/tenders")

	// Einfacher GET-Endpunkt ohne Filter; Duplikate sind ausgeblendet.
	rg.GET("/", func(c *gin.Context) {
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		tenders, err := repo.Query(c.Request.Context(), repository.TenderQuery{Limit: limit})
		if err != nil {
			log.Error("Database query for all tenders failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, tenders)
	})

	rg.GET("/:id", func(c *gin.Context) {
		tender, err := repo.GetByTenderID(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "tender not found"})
				return
			}
			log.Error("Failed to load tender", zap.String("tender_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, tender)
	})

	// Body-gesteuerter Endpunkt für komplexe Abfragen
	rg.POST("/query", func(c *gin.Context) {
		var req repository.TenderQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		tenders, err := repo.Query(c.Request.Context(), req)
		if err != nil {
			log.Error("Database query for tenders failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, tenders)
	})

	rg.GET("/:id/duplicates", func(c *gin.Context) {
		duplicates, err := repo.DuplicatesOf(c.Request.Context(), c.Param("id"))
		if err != nil {
			log.Error("Failed to load duplicates", zap.String("tender_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, duplicates)
	})

	// POST - Nachträgliche manuelle Duplikat-Markierung
	rg.POST("/:id/mark-duplicate", func(c *gin.Context) {
		var req struct {
			DuplicateOf string `json:"duplicate_of" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'duplicate_of' is required."})
			return
		}

		if err := repo.MarkDuplicate(c.Request.Context(), c.Param("id"), req.DuplicateOf); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			log.Error("Failed to mark tender as duplicate",
				zap.String("tender_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "marked as duplicate", "duplicate_of": req.DuplicateOf})
	})

	// POST - Anhänge herunterladen, archivieren und Text zusammenführen
	rg.POST("/:id/extract", func(c *gin.Context) {
		var req struct {
			URLs []string `json:"urls" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || len(req.URLs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'urls' is required."})
			return
		}

		result, err := extractor.ExtractFromURLs(c.Request.Context(), c.Param("id"), req.URLs)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "tender not found"})
				return
			}
			log.Error("Attachment extraction failed", zap.String("tender_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "extraction failed"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	// PATCH - Extern extrahierten Text hinterlegen
	rg.PATCH("/:id/extracted-text", func(c *gin.Context) {
		var req struct {
			Text string `json:"text" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'text' is required."})
			return
		}

		if err := extractor.MergeText(c.Request.Context(), c.Param("id"), req.Text); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "tender not found"})
				return
			}
			log.Error("Failed to merge extracted text", zap.String("tender_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "extracted text updated"})
	})
}

// setupLogRoutes konfiguriert den Lesezugriff auf die Normalisierungsprotokolle.
func setupLogRoutes(router *gin.Engine, repo *repository.LogRepository, log *zap.Logger) {
	rg := router.Group("/logs")

	rg.GET("/tender/:id", func(c *gin.Context) {
		logs, err := repo.ByTender(c.Request.Context(), c.Param("id"))
		if err != nil {
			log.Error("Failed to load normalization logs", zap.String("tender_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, logs)
	})

	rg.GET("/failed", func(c *gin.Context) {
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		logs, err := repo.Failed(c.Request.Context(), limit)
		if err != nil {
			log.Error("Failed to load failed normalization logs", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, logs)
	})
}

// setupIndexRoutes konfiguriert die Verwaltung des Suchindex.
func setupIndexRoutes(router *gin.Engine, indexer *search.Indexer, repo *repository.TenderRepository, log *zap.Logger) {
	rg := router.Group("/index")

	// POST - Vollständigen Reindex asynchron anstoßen
	rg.POST("/reindex", func(c *gin.Context) {
		go func() {
			count, err := indexer.ReindexAll(context.Background())
			if err != nil {
				log.Error("Async reindex failed", zap.Error(err))
			} else {
				log.Info("Async reindex completed", zap.Int("documents", count))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Reindex triggered."})
	})

	// POST - Einzelnen Datensatz nachindexieren
	rg.POST("/tenders/:id", func(c *gin.Context) {
		tender, err := repo.GetByTenderID(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "tender not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if err := indexer.IndexTender(c.Request.Context(), tender); err != nil {
			log.Error("Failed to index tender", zap.String("tender_id", tender.TenderID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "indexing failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "indexed", "tender_id": tender.TenderID})
	})

	rg.DELETE("/tenders/:id", func(c *gin.Context) {
		if err := indexer.DeleteTender(c.Request.Context(), c.Param("id")); err != nil {
			log.Error("Failed to delete tender from index", zap.String("tender_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "deleted from index"})
	})
}

// setupHealthRoutes konfiguriert den Health-Check über Datenbank und Suchindex.
func setupHealthRoutes(router *gin.Engine, db *gorm.DB, indexer *search.Indexer) {
	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "healthy"
		esStatus := "healthy"

		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			dbStatus = "unreachable"
			status = http.StatusServiceUnavailable
		}
		if err := indexer.Ping(c.Request.Context()); err != nil {
			esStatus = "unreachable"
			status = http.StatusServiceUnavailable
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{
			"status":        overall,
			"database":      dbStatus,
			"elasticsearch": esStatus,
		})
	})
}
