package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultUserAgent ist ein realistischer Desktop-Browser, Google Scholar lehnt einfache Clients ab.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Leerer Wert deaktiviert den internen Cron-Job (z.B. wenn cmd/refresh extern geplant wird).
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`

	// Google Scholar; ohne SCHOLAR_USER_AGENT gilt DefaultUserAgent.
	ScholarBaseURL          string        `envconfig:"SCHOLAR_BASE_URL" default:"https://scholar.google.com"`
	ScholarUserAgent        string        `envconfig:"SCHOLAR_USER_AGENT"`
	ScholarTimeout          time.Duration `envconfig:"SCHOLAR_TIMEOUT" default:"20s"`
	ScholarCloudflareBypass bool          `envconfig:"SCHOLAR_CLOUDFLARE_BYPASS" default:"true"`
	RefreshWorkers          int           `envconfig:"REFRESH_WORKERS" default:"1"`

	// Optionales Archiv der rohen Listenseiten
	SnapshotS3URL    string `envconfig:"SNAPSHOT_S3_URL"`
	SnapshotS3Region string `envconfig:"SNAPSHOT_S3_REGION" default:"us-east-1"`
	SnapshotS3Key    string `envconfig:"SNAPSHOT_S3_KEY"`
	SnapshotS3Secret string `envconfig:"SNAPSHOT_S3_SECRET"`
	SnapshotS3Bucket string `envconfig:"SNAPSHOT_S3_BUCKET"`
	SnapshotKeep     int    `envconfig:"SNAPSHOT_KEEP" default:"10"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// SnapshotsEnabled meldet, ob ein Bucket für das Seitenarchiv konfiguriert ist.
func (c *Config) SnapshotsEnabled() bool {
	return c.SnapshotS3Bucket != "" && c.SnapshotS3URL != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
