package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4280"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	ElasticURL      string `envconfig:"ELASTIC_URL" default:"http://localhost:9200"`
	ElasticUser     string `envconfig:"ELASTIC_USER"`
	ElasticPassword string `envconfig:"ELASTIC_PASSWORD"`
	ElasticIndex    string `envconfig:"ELASTIC_INDEX" default:"tenders_normalized"`

	// Normalisierungs-Pipeline
	DefaultCurrency  string        `envconfig:"DEFAULT_CURRENCY" default:"RUB"`
	MappingCacheSize int           `envconfig:"MAPPING_CACHE_SIZE" default:"256"`
	MappingCacheTTL  time.Duration `envconfig:"MAPPING_CACHE_TTL" default:"5m"`
	NormalizeTimeout time.Duration `envconfig:"NORMALIZE_TIMEOUT" default:"30s"`
	RetryAttempts    int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`

	// Cron-Jobs
	ReindexCronSchedule   string `envconfig:"REINDEX_CRON_SCHEDULE" default:"0 3 * * *"`
	ReprocessCronSchedule string `envconfig:"REPROCESS_CRON_SCHEDULE" default:"*/15 * * * *"`
	ReprocessLimit        int    `envconfig:"REPROCESS_LIMIT" default:"100"`
	ReindexBatchSize      int    `envconfig:"REINDEX_BATCH_SIZE" default:"500"`

	// S3-Archiv für Tender-Anhänge
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY" required:"true"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET" required:"true"`
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL" required:"true"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION" required:"true"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET" required:"true"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
