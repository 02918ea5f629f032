package config

import (
	"fmt"

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

	// Nightly maintenance: full projection refresh + slot cache rebuild.
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`

	// Evaluation window: records outside these years never enter slot accounting.
	EvaluationYearFrom int `envconfig:"EVALUATION_YEAR_FROM" default:"2017"`
	EvaluationYearTo   int `envconfig:"EVALUATION_YEAR_TO" default:"2030"`

	// Yearly evaluation quota of one researcher, in slots.
	SlotCapacity float64 `envconfig:"SLOT_CAPACITY" default:"4"`

	// Bounded concurrency for the bulk slot rebuild.
	RebuildWorkers int `envconfig:"REBUILD_WORKERS" default:"4"`

	// Denormalization engine. Disabling leaves caches stale until the next
	// full refresh; used for bulk loads driven from outside the API.
	CacheEnabled bool `envconfig:"CACHE_ENABLED" default:"true"`

	StratoS3Key    string `envconfig:"STRATO_S3_KEY"`
	StratoS3Secret string `envconfig:"STRATO_S3_SECRET"`
	StratoS3URL    string `envconfig:"STRATO_S3_URL"`
	StratoS3Region string `envconfig:"STRATO_S3_REGION"`
	StratoS3Bucket string `envconfig:"STRATO_S3_BUCKET"`
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
