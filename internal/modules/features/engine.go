package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/quicksilver/internal/domain"
	"github.com/aristath/quicksilver/internal/modules/sentiment"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Config holds feature engine parameters.
type Config struct {
	WindowMinutes   int // bucket size, wall-clock aligned
	LookbackWindows int // trailing buckets in the rolling baseline
	MinObservations int // buckets required before a z-score is meaningful
}

// DefaultConfig returns the production defaults: hourly buckets, a one-day
// rolling baseline, and at least five observed buckets before z-scores fire.
func DefaultConfig() Config {
	return Config{
		WindowMinutes:   60,
		LookbackWindows: 24,
		MinObservations: 5,
	}
}

// Engine computes rolling per-ticker features from scored headlines.
// Baselines are per ticker: pooling tickers would dilute the anomaly signal
// for the issue being monitored.
type Engine struct {
	repo *Repository
	cfg  Config
	log  zerolog.Logger
}

// NewEngine creates a new feature engine
func NewEngine(repo *Repository, cfg Config, log zerolog.Logger) *Engine {
	if cfg.WindowMinutes <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		repo: repo,
		cfg:  cfg,
		log:  log.With().Str("service", "features").Logger(),
	}
}

// bucket is one non-empty aggregation window for a ticker.
type bucket struct {
	ts       time.Time
	sentMean float64
	count    int64
}

// Refresh recomputes features over the trailing lookback horizon and
// persists any buckets not already stored. Safe to re-run: existing
// (ticker, window, ts) rows are skipped, never duplicated or changed.
func (e *Engine) Refresh(now time.Time) (int, error) {
	window := time.Duration(e.cfg.WindowMinutes) * time.Minute
	// Two windows of margin so the oldest lookback bucket still has a
	// complete baseline behind it.
	cutoff := now.Add(-window * time.Duration(e.cfg.LookbackWindows+2))

	scored, err := e.repo.loadScoredSince(cutoff)
	if err != nil {
		return 0, err
	}
	if len(scored) == 0 {
		e.log.Info().Msg("No sentiment data found")
		return 0, nil
	}

	buckets := e.bucketize(scored, window)

	windowLabel := fmt.Sprintf("%d", e.cfg.WindowMinutes)
	createdAt := now.UTC()
	upserted := 0

	for ticker, series := range buckets {
		sentZ, volZ := e.rollingZScores(series)

		for i, b := range series {
			feature := &domain.Feature{
				Ticker:     ticker,
				Window:     windowLabel,
				TsUTC:      b.ts,
				SentMean:   b.sentMean,
				SentZ:      sentZ[i],
				VolZ:       volZ[i],
				HeadlinesN: b.count,
				CreatedAt:  createdAt,
			}

			inserted, err := e.repo.InsertIfAbsent(feature)
			if err != nil {
				return upserted, err
			}
			if inserted {
				upserted++
			}
		}
	}

	e.log.Info().
		Int("upserted", upserted).
		Int("tickers", len(buckets)).
		Msg("Feature refresh complete")

	return upserted, nil
}

// bucketize groups scored headlines per ticker into non-overlapping,
// boundary-aligned buckets and aggregates each non-empty bucket.
func (e *Engine) bucketize(scored []scoredHeadline, window time.Duration) map[string][]bucket {
	type key struct {
		ticker string
		ts     time.Time
	}

	sums := make(map[key]*bucket)
	for _, sh := range scored {
		k := key{
			ticker: sh.Ticker,
			ts:     sh.PublishedAt.UTC().Truncate(window),
		}
		b, ok := sums[k]
		if !ok {
			b = &bucket{ts: k.ts}
			sums[k] = b
		}
		b.sentMean += sentiment.ScalarScore(sh.ScorePos, sh.ScoreNeg)
		b.count++
	}

	series := make(map[string][]bucket)
	for k, b := range sums {
		b.sentMean /= float64(b.count)
		series[k.ticker] = append(series[k.ticker], *b)
	}
	for ticker := range series {
		s := series[ticker]
		sort.Slice(s, func(i, j int) bool { return s[i].ts.Before(s[j].ts) })
	}

	return series
}

// rollingZScores computes trailing z-scores for the sentiment and volume
// series of one ticker. The window for bucket i is the trailing
// LookbackWindows buckets ending at and including i. Windows with fewer
// than MinObservations buckets, and zero-variance windows, yield exactly 0.
func (e *Engine) rollingZScores(series []bucket) (sentZ, volZ []float64) {
	n := len(series)
	sentVals := make([]float64, n)
	volVals := make([]float64, n)
	for i, b := range series {
		sentVals[i] = b.sentMean
		volVals[i] = float64(b.count)
	}

	sentZ = make([]float64, n)
	volZ = make([]float64, n)
	for i := 0; i < n; i++ {
		start := i - e.cfg.LookbackWindows + 1
		if start < 0 {
			start = 0
		}
		sentZ[i] = zScore(sentVals[start:i+1], sentVals[i], e.cfg.MinObservations)
		volZ[i] = zScore(volVals[start:i+1], volVals[i], e.cfg.MinObservations)
	}

	return sentZ, volZ
}

// zScore computes (x − mean) / stddev over the trailing window using the
// population standard deviation. Undefined results are clamped: too few
// observations, zero variance, NaN and ±Inf all report 0 so a flat series
// can never fire a division-by-zero alert.
func zScore(window []float64, x float64, minObservations int) float64 {
	if len(window) < minObservations {
		return 0
	}

	mean := stat.Mean(window, nil)
	std := stat.PopStdDev(window, nil)

	if std == 0 {
		return 0
	}

	z := (x - mean) / std
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0
	}
	return z
}
