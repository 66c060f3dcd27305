// Package domain contains the core entities of the news sentiment pipeline.
// The domain layer is pure: no database, HTTP, or logging dependencies.
package domain

import "time"

// Headline is one normalized external news item. Headlines are append-only:
// created once by the ingest stage, never updated or deleted.
type Headline struct {
	ID             int64
	Ticker         string
	Source         string
	Title          string
	URL            string
	PublishedAtUTC time.Time
	RawJSON        string // original record, verbatim
	Hash           string // sha256 over (url, published_at_utc), unique
	CreatedAt      time.Time
}

// Sentiment is the classification result for exactly one headline.
// At most one row exists per headline; the pipeline never deletes rows,
// so a headline is scored exactly once.
type Sentiment struct {
	ID           int64
	HeadlineID   int64
	Label        string // "negative", "neutral" or "positive"
	ScorePos     float64
	ScoreNeu     float64
	ScoreNeg     float64
	ModelVersion string
	InferenceMS  int64
	CreatedAt    time.Time
}

// Feature is one rolling statistics snapshot for (ticker, window, bucket).
// The triple (Ticker, Window, TsUTC) is unique; recomputing an existing
// bucket is a no-op.
type Feature struct {
	ID         int64
	Ticker     string
	Window     string // window size label in minutes, e.g. "60"
	TsUTC      time.Time
	SentMean   float64
	SentZ      float64
	VolZ       float64
	HeadlinesN int64
	CreatedAt  time.Time
}

// Alert kinds identify which feature series breached its threshold.
const (
	AlertKindSentimentSpike = "sentiment_spike"
	AlertKindVolumeSpike    = "volume_spike"
)

// Alert is one fired anomaly notification. (Ticker, Kind, Window, FiredAt)
// is unique so the same anomaly instant never alerts twice.
type Alert struct {
	ID          int64
	Ticker      string
	Kind        string
	Window      string
	Threshold   string // serialized threshold value that was breached
	PayloadJSON string // snapshot of the triggering feature
	FiredAt     time.Time
}
