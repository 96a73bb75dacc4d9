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

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4243"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Cron-Zeitpläne für die drei Hintergrund-Jobs
	StrengthCronSchedule string `envconfig:"STRENGTH_CRON_SCHEDULE" default:"*/15 * * * *"`
	SnapshotCronSchedule string `envconfig:"SNAPSHOT_CRON_SCHEDULE" default:"5 * * * *"`
	ScanCronSchedule     string `envconfig:"SCAN_CRON_SCHEDULE" default:"*/30 * * * *"`

	// Schwellwerte für die Anomalie-Erkennung (siehe services.DetectorConfig)
	SpikeThreshold          float64 `envconfig:"SPIKE_THRESHOLD" default:"3.0"`
	SentimentShiftThreshold float64 `envconfig:"SENTIMENT_SHIFT_THRESHOLD" default:"0.4"`
	MinMentionsForAnalysis  int     `envconfig:"MIN_MENTIONS_FOR_ANALYSIS" default:"3"`
	BaselinePeriodHours     int     `envconfig:"BASELINE_PERIOD_HOURS" default:"168"`
	ComparisonPeriodHours   int     `envconfig:"COMPARISON_PERIOD_HOURS" default:"1"`
	NewEntityHoursBack      int     `envconfig:"NEW_ENTITY_HOURS_BACK" default:"24"`

	// Begrenzung der Adjazenzliste pro Pfad-Query (Worst-Case-Schutz)
	MaxTraversalEdges int `envconfig:"MAX_TRAVERSAL_EDGES" default:"50000"`

	// Webhook für Alert-Events (leer = keine Benachrichtigung)
	AlertWebhookURL     string `envconfig:"ALERT_WEBHOOK_URL"`
	AlertWebhookSecret  string `envconfig:"ALERT_WEBHOOK_SECRET"`
	AlertWebhookTimeout int    `envconfig:"ALERT_WEBHOOK_TIMEOUT_SECONDS" default:"10"`

	// Optionaler S3-Export für Scan-Reports und Graph-Snapshots
	ExportS3Key    string `envconfig:"EXPORT_S3_KEY"`
	ExportS3Secret string `envconfig:"EXPORT_S3_SECRET"`
	ExportS3URL    string `envconfig:"EXPORT_S3_URL"`
	ExportS3Region string `envconfig:"EXPORT_S3_REGION"`
	ExportS3Bucket string `envconfig:"EXPORT_S3_BUCKET"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// ExportEnabled meldet, ob der S3-Export vollständig konfiguriert ist.
func (c *Config) ExportEnabled() bool {
	return c.ExportS3Bucket != "" && c.ExportS3Key != "" && c.ExportS3Secret != "" && c.ExportS3URL != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
