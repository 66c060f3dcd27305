package ingest

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/quicksilver/internal/domain"
	"github.com/rs/zerolog"
)

// headlineColumns is the list of columns for the headlines table.
// Column order must match scanHeadline().
const headlineColumns = `id, ticker, source, title, url, published_at_utc, raw_json, hash, created_at`

// HeadlineRepository handles headline database operations. Headlines are an
// append-only log of news seen; rows are never updated or deleted.
type HeadlineRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHeadlineRepository creates a new headline repository
func NewHeadlineRepository(db *sql.DB, log zerolog.Logger) *HeadlineRepository {
	return &HeadlineRepository{
		db:  db,
		log: log.With().Str("repo", "headline").Logger(),
	}
}

// InsertIfAbsent inserts the headline unless one with the same content hash
// already exists. Returns true when a row was inserted, false when the
// headline was already present. The check and insert are a single atomic
// statement, so concurrent ingest runs cannot race.
func (r *HeadlineRepository) InsertIfAbsent(h *domain.Headline) (bool, error) {
	query := `
		INSERT OR IGNORE INTO headlines
		(ticker, source, title, url, published_at_utc, raw_json, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		h.Ticker,
		h.Source,
		h.Title,
		h.URL,
		h.PublishedAtUTC.UTC().Format(time.RFC3339),
		h.RawJSON,
		h.Hash,
		h.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert headline: %w", err)
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
	h.ID = id

	return true, nil
}

// GetByHash retrieves a headline by its content hash, or nil when absent.
func (r *HeadlineRepository) GetByHash(hash string) (*domain.Headline, error) {
	query := "SELECT " + headlineColumns + " FROM headlines WHERE hash = ?"

	h, err := scanHeadline(r.db.QueryRow(query, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get headline by hash: %w", err)
	}
	return h, nil
}

// Count returns the total number of stored headlines.
func (r *HeadlineRepository) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM headlines").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count headlines: %w", err)
	}
	return n, nil
}

// GetRecent returns the most recently published headlines, newest first.
func (r *HeadlineRepository) GetRecent(limit int) ([]domain.Headline, error) {
	query := "SELECT " + headlineColumns + ` FROM headlines
		ORDER BY published_at_utc DESC LIMIT ?`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent headlines: %w", err)
	}
	defer rows.Close()

	var headlines []domain.Headline
	for rows.Next() {
		h, err := scanHeadlineFromRows(rows)
		if err != nil {
			return nil, err
		}
		headlines = append(headlines, *h)
	}
	return headlines, rows.Err()
}

func scanHeadline(row *sql.Row) (*domain.Headline, error) {
	var h domain.Headline
	var source, rawJSON sql.NullString
	var publishedAt, createdAt string

	err := row.Scan(&h.ID, &h.Ticker, &source, &h.Title, &h.URL, &publishedAt, &rawJSON, &h.Hash, &createdAt)
	if err != nil {
		return nil, err
	}

	return fillHeadline(&h, source, rawJSON, publishedAt, createdAt)
}

func scanHeadlineFromRows(rows *sql.Rows) (*domain.Headline, error) {
	var h domain.Headline
	var source, rawJSON sql.NullString
	var publishedAt, createdAt string

	err := rows.Scan(&h.ID, &h.Ticker, &source, &h.Title, &h.URL, &publishedAt, &rawJSON, &h.Hash, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan headline: %w", err)
	}

	return fillHeadline(&h, source, rawJSON, publishedAt, createdAt)
}

func fillHeadline(h *domain.Headline, source, rawJSON sql.NullString, publishedAt, createdAt string) (*domain.Headline, error) {
	h.Source = source.String
	h.RawJSON = rawJSON.String

	var err error
	if h.PublishedAtUTC, err = time.Parse(time.RFC3339, publishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse published_at_utc: %w", err)
	}
	if h.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return h, nil
}
