package alerts

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/aristath/quicksilver/internal/domain"
	"github.com/aristath/quicksilver/internal/modules/features"
	"github.com/rs/zerolog"
)

// Config holds alert thresholds. A feature breaches when the absolute value
// of its z-score reaches the threshold.
type Config struct {
	SentimentZThreshold float64
	VolumeZThreshold    float64
	// HorizonWindows bounds how far back evaluation looks, in multiples
	// of the feature window. Already-alerted features inside the horizon
	// are skipped by the unique constraint.
	HorizonWindows int
	WindowMinutes  int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		SentimentZThreshold: 2.5,
		VolumeZThreshold:    3.0,
		HorizonWindows:      24,
		WindowMinutes:       60,
	}
}

// featureSnapshot is the alert payload: the triggering feature row.
type featureSnapshot struct {
	Ticker     string  `json:"ticker"`
	Window     string  `json:"window"`
	TsUTC      string  `json:"ts_utc"`
	SentMean   float64 `json:"sent_mean"`
	SentZ      float64 `json:"sent_z"`
	VolZ       float64 `json:"vol_z"`
	HeadlinesN int64   `json:"headlines_n"`
}

// Engine evaluates recent feature rows and fires threshold alerts.
type Engine struct {
	featureRepo *features.Repository
	alertRepo   *Repository
	cfg         Config
	log         zerolog.Logger
}

// NewEngine creates a new alert engine. Only a fully zero Config falls back
// to the defaults; an explicit zero threshold is honored and fires on every
// evaluated feature.
func NewEngine(featureRepo *features.Repository, alertRepo *Repository, cfg Config, log zerolog.Logger) *Engine {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Engine{
		featureRepo: featureRepo,
		alertRepo:   alertRepo,
		cfg:         cfg,
		log:         log.With().Str("service", "alerts").Logger(),
	}
}

// EvaluateAndFire checks every feature row inside the evaluation horizon
// against the thresholds and fires one alert per breached series. Returns
// the number of alerts actually inserted; re-runs over the same features
// insert nothing.
func (e *Engine) EvaluateAndFire(now time.Time) (int, error) {
	window := time.Duration(e.cfg.WindowMinutes) * time.Minute
	cutoff := now.Add(-window * time.Duration(e.cfg.HorizonWindows))

	rows, err := e.featureRepo.GetSince(cutoff)
	if err != nil {
		return 0, err
	}

	fired := 0
	for i := range rows {
		f := &rows[i]

		if math.Abs(f.SentZ) >= e.cfg.SentimentZThreshold {
			n, err := e.fire(f, domain.AlertKindSentimentSpike, e.cfg.SentimentZThreshold)
			if err != nil {
				return fired, err
			}
			fired += n
		}

		if math.Abs(f.VolZ) >= e.cfg.VolumeZThreshold {
			n, err := e.fire(f, domain.AlertKindVolumeSpike, e.cfg.VolumeZThreshold)
			if err != nil {
				return fired, err
			}
			fired += n
		}
	}

	e.log.Info().
		Int("evaluated", len(rows)).
		Int("fired", fired).
		Msg("Alert evaluation complete")

	return fired, nil
}

// fire builds and inserts one alert for a breached feature. The fired-at
// instant is the feature's bucket timestamp, which is what makes re-firing
// on re-evaluation impossible.
func (e *Engine) fire(f *domain.Feature, kind string, threshold float64) (int, error) {
	payload, err := json.Marshal(featureSnapshot{
		Ticker:     f.Ticker,
		Window:     f.Window,
		TsUTC:      f.TsUTC.UTC().Format(time.RFC3339),
		SentMean:   f.SentMean,
		SentZ:      f.SentZ,
		VolZ:       f.VolZ,
		HeadlinesN: f.HeadlinesN,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	alert := &domain.Alert{
		Ticker:      f.Ticker,
		Kind:        kind,
		Window:      f.Window,
		Threshold:   fmt.Sprintf("%g", threshold),
		PayloadJSON: string(payload),
		FiredAt:     f.TsUTC,
	}

	inserted, err := e.alertRepo.InsertIfAbsent(alert)
	if err != nil {
		return 0, err
	}
	if !inserted {
		return 0, nil
	}

	e.log.Warn().
		Str("ticker", f.Ticker).
		Str("kind", kind).
		Float64("sent_z", f.SentZ).
		Float64("vol_z", f.VolZ).
		Time("bucket", f.TsUTC).
		Msg("Alert fired")

	return 1, nil
}
