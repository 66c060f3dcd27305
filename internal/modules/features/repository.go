// Package features computes rolling per-ticker sentiment and volume
// statistics over fixed time buckets and persists them idempotently.
package features

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/quicksilver/internal/domain"
	"github.com/rs/zerolog"
)

// featureColumns is the list of columns for the features table.
// Column order must match scanFeature().
const featureColumns = `id, ticker, window, ts_utc, sent_mean, sent_z, vol_z, headlines_n, created_at`

// Repository handles feature database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new feature repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "feature").Logger(),
	}
}

// InsertIfAbsent inserts the feature row unless one already exists for
// (ticker, window, ts_utc). Returns true when inserted. Existing rows are
// never overwritten: historical feature values are the rolling baseline and
// must stay stable across recomputation.
func (r *Repository) InsertIfAbsent(f *domain.Feature) (bool, error) {
	query := `
		INSERT OR IGNORE INTO features
		(ticker, window, ts_utc, sent_mean, sent_z, vol_z, headlines_n, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		f.Ticker,
		f.Window,
		f.TsUTC.UTC().Format(time.RFC3339),
		f.SentMean,
		f.SentZ,
		f.VolZ,
		f.HeadlinesN,
		f.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert feature: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get insert ID: %w", err)
	}
	f.ID = id

	return true, nil
}

// GetSince returns feature rows with ts_utc at or after cutoff, ordered by
// ticker then bucket time. Used by the alert engine's evaluation pass.
func (r *Repository) GetSince(cutoff time.Time) ([]domain.Feature, error) {
	query := "SELECT " + featureColumns + ` FROM features
		WHERE ts_utc >= ?
		ORDER BY ticker, ts_utc`

	return r.queryFeatures(query, cutoff.UTC().Format(time.RFC3339))
}

// GetByTicker returns the most recent feature rows for a ticker, newest first.
func (r *Repository) GetByTicker(ticker string, limit int) ([]domain.Feature, error) {
	query := "SELECT " + featureColumns + ` FROM features
		WHERE ticker = ?
		ORDER BY ts_utc DESC LIMIT ?`

	return r.queryFeatures(query, ticker, limit)
}

// Get returns the feature row for an exact (ticker, window, ts) key, or nil.
func (r *Repository) Get(ticker, window string, ts time.Time) (*domain.Feature, error) {
	query := "SELECT " + featureColumns + ` FROM features
		WHERE ticker = ? AND window = ? AND ts_utc = ?`

	features, err := r.queryFeatures(query, ticker, window, ts.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, nil
	}
	return &features[0], nil
}

// Count returns the total number of feature rows.
func (r *Repository) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM features").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count features: %w", err)
	}
	return n, nil
}

func (r *Repository) queryFeatures(query string, args ...interface{}) ([]domain.Feature, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	var features []domain.Feature
	for rows.Next() {
		var f domain.Feature
		var tsUTC, createdAt string
		var sentMean, sentZ, volZ sql.NullFloat64
		var headlinesN sql.NullInt64

		err := rows.Scan(&f.ID, &f.Ticker, &f.Window, &tsUTC, &sentMean, &sentZ, &volZ, &headlinesN, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}

		f.SentMean = sentMean.Float64
		f.SentZ = sentZ.Float64
		f.VolZ = volZ.Float64
		f.HeadlinesN = headlinesN.Int64

		if f.TsUTC, err = time.Parse(time.RFC3339, tsUTC); err != nil {
			return nil, fmt.Errorf("failed to parse ts_utc: %w", err)
		}
		if f.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		features = append(features, f)
	}
	return features, rows.Err()
}

// scoredHeadline is one joined headline+sentiment row the engine aggregates.
type scoredHeadline struct {
	Ticker      string
	PublishedAt time.Time
	ScorePos    float64
	ScoreNeg    float64
}

// loadScoredSince returns joined headline+sentiment rows published at or
// after cutoff, ordered by ticker then published time. Bounding by cutoff
// keeps the working set proportional to the lookback, not the full history.
func (r *Repository) loadScoredSince(cutoff time.Time) ([]scoredHeadline, error) {
	query := `
		SELECT h.ticker, h.published_at_utc, s.score_pos, s.score_neg
		FROM headlines h
		JOIN sentiment s ON s.headline_id = h.id
		WHERE h.published_at_utc >= ?
		ORDER BY h.ticker, h.published_at_utc
	`

	rows, err := r.db.Query(query, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query scored headlines: %w", err)
	}
	defer rows.Close()

	var scored []scoredHeadline
	for rows.Next() {
		var sh scoredHeadline
		var publishedAt string
		if err := rows.Scan(&sh.Ticker, &publishedAt, &sh.ScorePos, &sh.ScoreNeg); err != nil {
			return nil, fmt.Errorf("failed to scan scored headline: %w", err)
		}
		if sh.PublishedAt, err = time.Parse(time.RFC3339, publishedAt); err != nil {
			return nil, fmt.Errorf("failed to parse published_at_utc: %w", err)
		}
		scored = append(scored, sh)
	}
	return scored, rows.Err()
}
