// Package main is the entry point for the quicksilver news sentiment
// pipeline. It ingests financial news headlines per ticker, classifies each
// headline's sentiment via the FinBERT sidecar, computes rolling per-ticker
// z-score features, and fires anomaly alerts. Every stage runs as an
// independently restartable scheduled job over a single SQLite store.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/quicksilver/internal/clients/finbert"
	"github.com/aristath/quicksilver/internal/clients/finnhub"
	"github.com/aristath/quicksilver/internal/config"
	"github.com/aristath/quicksilver/internal/database"
	"github.com/aristath/quicksilver/internal/jobs"
	"github.com/aristath/quicksilver/internal/modules/alerts"
	"github.com/aristath/quicksilver/internal/modules/features"
	"github.com/aristath/quicksilver/internal/modules/ingest"
	"github.com/aristath/quicksilver/internal/modules/sentiment"
	"github.com/aristath/quicksilver/internal/rawstore"
	"github.com/aristath/quicksilver/internal/reliability"
	"github.com/aristath/quicksilver/internal/scheduler"
	"github.com/aristath/quicksilver/internal/server"
	"github.com/aristath/quicksilver/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})
	logger.SetGlobalLogger(log)

	log.Info().Strs("tickers", cfg.Tickers).Msg("Starting quicksilver")

	// Single store; every stage communicates only through it, which is
	// what makes each stage independently retriable.
	db, err := database.New(database.Config{
		Path: cfg.DatabasePath,
		Name: "quicksilver",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	raw, err := rawstore.New(filepath.Join(cfg.DataDir, "raw"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open raw store")
	}

	// Clients
	newsClient := finnhub.NewClient(cfg.FinnhubBaseURL, cfg.FinnhubAPIKey, log)
	scoringClient := finbert.NewClient(cfg.ScoringServiceURL, log)

	// Repositories and stage services
	headlineRepo := ingest.NewHeadlineRepository(db.Conn(), log)
	ingestService := ingest.NewService(raw, headlineRepo, log)

	sentimentRepo := sentiment.NewRepository(db.Conn(), log)
	sentimentService := sentiment.NewService(
		db.Conn(), sentimentRepo, scoringClient,
		cfg.ModelVersion, cfg.ScoreBatchSize, log,
	)

	featureRepo := features.NewRepository(db.Conn(), log)
	featureEngine := features.NewEngine(featureRepo, features.Config{
		WindowMinutes:   cfg.WindowMinutes,
		LookbackWindows: cfg.LookbackWindows,
		MinObservations: cfg.MinObservations,
	}, log)

	alertRepo := alerts.NewRepository(db.Conn(), log)
	alertEngine := alerts.NewEngine(featureRepo, alertRepo, alerts.Config{
		SentimentZThreshold: cfg.SentimentZThreshold,
		VolumeZThreshold:    cfg.VolumeZThreshold,
		HorizonWindows:      cfg.LookbackWindows,
		WindowMinutes:       cfg.WindowMinutes,
	}, log)

	backupService, err := reliability.NewBackupService(db, cfg.Backup, cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize backup service")
	}

	// Schedule the pipeline stages
	sched := scheduler.New(log)
	stageJobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.FetchSchedule, jobs.NewFetchNewsJob(newsClient, raw, cfg.Tickers, cfg.FetchLookbackDays, log)},
		{cfg.IngestSchedule, jobs.NewIngestRawJob(ingestService, log)},
		{cfg.ScoreSchedule, jobs.NewAttachSentimentJob(sentimentService, cfg.PendingLimit, log)},
		{cfg.FeaturesSchedule, jobs.NewRefreshFeaturesJob(featureEngine, log)},
		{cfg.AlertsSchedule, jobs.NewEvaluateAlertsJob(alertEngine, log)},
	}
	for _, sj := range stageJobs {
		if err := sched.AddJob(sj.schedule, sj.job); err != nil {
			log.Fatal().Err(err).Str("job", sj.job.Name()).Msg("Failed to register job")
		}
	}

	if backupService.Enabled() {
		if err := sched.AddJob(cfg.BackupSchedule, reliability.NewBackupJob(backupService)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	} else {
		log.Info().Msg("Backups disabled (no S3 credentials configured)")
	}

	sched.Start()
	defer sched.Stop()

	// Read-only API for dashboards
	srv := server.New(server.Config{
		Log:           log,
		DB:            db,
		DataDir:       cfg.DataDir,
		Port:          cfg.Port,
		DevMode:       cfg.DevMode,
		HeadlineRepo:  headlineRepo,
		SentimentRepo: sentimentRepo,
		FeatureRepo:   featureRepo,
		AlertRepo:     alertRepo,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop HTTP server cleanly")
	}

	log.Info().Msg("Quicksilver stopped")
}
