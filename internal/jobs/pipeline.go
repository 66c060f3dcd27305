// Package jobs wires the pipeline stages into scheduler jobs. Each job is
// one independently retriable stage invocation; all hand-off between stages
// goes through the store (or the raw log), never through memory.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aristath/quicksilver/internal/clients/finnhub"
	"github.com/aristath/quicksilver/internal/modules/alerts"
	"github.com/aristath/quicksilver/internal/modules/features"
	"github.com/aristath/quicksilver/internal/modules/ingest"
	"github.com/aristath/quicksilver/internal/modules/sentiment"
	"github.com/aristath/quicksilver/internal/rawstore"
	"github.com/rs/zerolog"
)

// FetchNewsJob pulls company news for every configured ticker and appends
// the raw records to the write-ahead log. Fetch failures for one ticker do
// not stop the remaining tickers; the last error is surfaced.
type FetchNewsJob struct {
	client       *finnhub.Client
	raw          *rawstore.Store
	tickers      []string
	lookbackDays int
	log          zerolog.Logger
}

// NewFetchNewsJob creates a new fetch job
func NewFetchNewsJob(client *finnhub.Client, raw *rawstore.Store, tickers []string, lookbackDays int, log zerolog.Logger) *FetchNewsJob {
	return &FetchNewsJob{
		client:       client,
		raw:          raw,
		tickers:      tickers,
		lookbackDays: lookbackDays,
		log:          log.With().Str("job", "fetch_news").Logger(),
	}
}

// Name returns the job name
func (j *FetchNewsJob) Name() string { return "fetch_news" }

// Run fetches and durably stores raw news for all configured tickers
func (j *FetchNewsJob) Run() error {
	ctx := context.Background()
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -j.lookbackDays)

	var lastErr error
	for _, ticker := range j.tickers {
		articles, err := j.client.FetchCompanyNews(ctx, ticker, from, now)
		if err != nil {
			j.log.Error().Err(err).Str("ticker", ticker).Msg("Fetch failed")
			lastErr = err
			continue
		}

		raws := make([]json.RawMessage, 0, len(articles))
		for i := range articles {
			if raw := articles[i].Raw(); raw != nil {
				raws = append(raws, raw)
			}
		}

		if err := j.raw.Append(ticker, raws); err != nil {
			j.log.Error().Err(err).Str("ticker", ticker).Msg("Raw append failed")
			lastErr = err
		}
	}

	return lastErr
}

// IngestRawJob normalizes and dedups the raw log into the headlines table.
type IngestRawJob struct {
	service *ingest.Service
	log     zerolog.Logger
}

// NewIngestRawJob creates a new ingest job
func NewIngestRawJob(service *ingest.Service, log zerolog.Logger) *IngestRawJob {
	return &IngestRawJob{
		service: service,
		log:     log.With().Str("job", "ingest_raw").Logger(),
	}
}

// Name returns the job name
func (j *IngestRawJob) Name() string { return "ingest_raw" }

// Run processes every raw log file
func (j *IngestRawJob) Run() error {
	_, err := j.service.ProcessRawFiles()
	return err
}

// AttachSentimentJob scores headlines that have no sentiment row yet.
type AttachSentimentJob struct {
	service      *sentiment.Service
	pendingLimit int
	log          zerolog.Logger
}

// NewAttachSentimentJob creates a new sentiment attach job
func NewAttachSentimentJob(service *sentiment.Service, pendingLimit int, log zerolog.Logger) *AttachSentimentJob {
	return &AttachSentimentJob{
		service:      service,
		pendingLimit: pendingLimit,
		log:          log.With().Str("job", "attach_sentiment").Logger(),
	}
}

// Name returns the job name
func (j *AttachSentimentJob) Name() string { return "attach_sentiment" }

// Run scores one bounded batch of pending headlines
func (j *AttachSentimentJob) Run() error {
	_, err := j.service.AttachPending(context.Background(), j.pendingLimit)
	return err
}

// RefreshFeaturesJob recomputes rolling features over the lookback horizon.
type RefreshFeaturesJob struct {
	engine *features.Engine
	log    zerolog.Logger
}

// NewRefreshFeaturesJob creates a new feature refresh job
func NewRefreshFeaturesJob(engine *features.Engine, log zerolog.Logger) *RefreshFeaturesJob {
	return &RefreshFeaturesJob{
		engine: engine,
		log:    log.With().Str("job", "refresh_features").Logger(),
	}
}

// Name returns the job name
func (j *RefreshFeaturesJob) Name() string { return "refresh_features" }

// Run refreshes feature rows as of now
func (j *RefreshFeaturesJob) Run() error {
	_, err := j.engine.Refresh(time.Now())
	return err
}

// EvaluateAlertsJob fires alerts for features breaching the thresholds.
type EvaluateAlertsJob struct {
	engine *alerts.Engine
	log    zerolog.Logger
}

// NewEvaluateAlertsJob creates a new alert evaluation job
func NewEvaluateAlertsJob(engine *alerts.Engine, log zerolog.Logger) *EvaluateAlertsJob {
	return &EvaluateAlertsJob{
		engine: engine,
		log:    log.With().Str("job", "evaluate_alerts").Logger(),
	}
}

// Name returns the job name
func (j *EvaluateAlertsJob) Name() string { return "evaluate_alerts" }

// Run evaluates recent features and fires alerts
func (j *EvaluateAlertsJob) Run() error {
	_, err := j.engine.EvaluateAndFire(time.Now())
	return err
}
