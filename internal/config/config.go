// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aristath/quicksilver/internal/utils"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for the store and raw logs (always absolute)
	DatabasePath string // SQLite store path, derived from DataDir
	LogLevel     string
	Port         int
	DevMode      bool

	// News source
	Tickers           []string
	FinnhubAPIKey     string
	FinnhubBaseURL    string
	FetchLookbackDays int

	// Scoring sidecar
	ScoringServiceURL string
	ModelVersion      string
	ScoreBatchSize    int
	PendingLimit      int

	// Feature engine
	WindowMinutes   int
	LookbackWindows int
	MinObservations int

	// Alert thresholds (absolute z-score)
	SentimentZThreshold float64
	VolumeZThreshold    float64

	// Job schedules (robfig/cron specs)
	FetchSchedule    string
	IngestSchedule   string
	ScoreSchedule    string
	FeaturesSchedule string
	AlertsSchedule   string
	BackupSchedule   string

	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup configuration.
// Backups are disabled when the bucket or credentials are not set.
type BackupConfig struct {
	Enabled         bool
	Endpoint        string // custom endpoint for R2/minio, empty for AWS
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	RetainCount     int // backups kept in the bucket
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("QUICKSILVER_DATA_DIR", ".data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	tickers := utils.ParseCSV(getEnv("TICKERS", "AAPL,TSLA"))
	if len(tickers) == 0 {
		return nil, fmt.Errorf("TICKERS must name at least one ticker symbol")
	}

	cfg := &Config{
		DataDir:      absDataDir,
		DatabasePath: filepath.Join(absDataDir, "quicksilver.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Port:         getEnvAsInt("GO_PORT", 8090),
		DevMode:      getEnvAsBool("DEV_MODE", false),

		Tickers:           tickers,
		FinnhubAPIKey:     getEnv("FINNHUB_API_KEY", ""),
		FinnhubBaseURL:    getEnv("FINNHUB_BASE_URL", "https://finnhub.io/api/v1"),
		FetchLookbackDays: getEnvAsInt("FETCH_LOOKBACK_DAYS", 7),

		ScoringServiceURL: getEnv("SCORING_SERVICE_URL", "http://localhost:9100"),
		ModelVersion:      getEnv("MODEL_VERSION", "ProsusAI/finbert"),
		ScoreBatchSize:    getEnvAsInt("SCORE_BATCH_SIZE", 8),
		PendingLimit:      getEnvAsInt("SCORE_PENDING_LIMIT", 200),

		WindowMinutes:   getEnvAsInt("FEATURE_WINDOW_MINUTES", 60),
		LookbackWindows: getEnvAsInt("FEATURE_LOOKBACK_WINDOWS", 24),
		MinObservations: getEnvAsInt("FEATURE_MIN_OBSERVATIONS", 5),

		SentimentZThreshold: getEnvAsFloat("ALERT_SENT_Z_THRESHOLD", 2.5),
		VolumeZThreshold:    getEnvAsFloat("ALERT_VOL_Z_THRESHOLD", 3.0),

		FetchSchedule:    getEnv("FETCH_SCHEDULE", "@every 15m"),
		IngestSchedule:   getEnv("INGEST_SCHEDULE", "@every 5m"),
		ScoreSchedule:    getEnv("SCORE_SCHEDULE", "@every 5m"),
		FeaturesSchedule: getEnv("FEATURES_SCHEDULE", "@every 10m"),
		AlertsSchedule:   getEnv("ALERTS_SCHEDULE", "@every 10m"),
		BackupSchedule:   getEnv("BACKUP_SCHEDULE", "@daily"),

		Backup: loadBackupConfig(),
	}

	return cfg, nil
}

// loadBackupConfig reads backup settings. Enabled only when a bucket and
// credentials are present.
func loadBackupConfig() *BackupConfig {
	cfg := &BackupConfig{
		Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:          getEnv("BACKUP_S3_REGION", "auto"),
		Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		Prefix:          getEnv("BACKUP_S3_PREFIX", "quicksilver"),
		RetainCount:     getEnvAsInt("BACKUP_RETAIN_COUNT", 14),
	}
	cfg.Enabled = cfg.Bucket != "" && cfg.AccessKeyID != "" && cfg.SecretAccessKey != ""
	return cfg
}

// getEnv retrieves an environment variable or returns the fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as int or returns the fallback
func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvAsFloat retrieves an environment variable as float64 or returns the fallback
func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvAsBool retrieves an environment variable as bool or returns the fallback
func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
