package sentiment

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/quicksilver/internal/domain"
	"github.com/rs/zerolog"
)

// PendingHeadline is a headline that has no sentiment row yet.
type PendingHeadline struct {
	ID    int64
	Title string
}

// Repository handles sentiment database operations. One row per headline,
// enforced by the unique constraint on headline_id; rows are never updated.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new sentiment repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "sentiment").Logger(),
	}
}

// GetPending returns headlines without a sentiment row, oldest insertion
// first, bounded by limit. Stable order keeps repeated runs working through
// the backlog deterministically.
func (r *Repository) GetPending(limit int) ([]PendingHeadline, error) {
	query := `
		SELECT h.id, h.title
		FROM headlines h
		LEFT JOIN sentiment s ON s.headline_id = h.id
		WHERE s.headline_id IS NULL
		ORDER BY h.id
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending headlines: %w", err)
	}
	defer rows.Close()

	var pending []PendingHeadline
	for rows.Next() {
		var p PendingHeadline
		if err := rows.Scan(&p.ID, &p.Title); err != nil {
			return nil, fmt.Errorf("failed to scan pending headline: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// InsertIfAbsentTx inserts a sentiment row inside an existing transaction
// unless the headline already has one. Returns true when inserted.
func (r *Repository) InsertIfAbsentTx(tx *sql.Tx, s *domain.Sentiment) (bool, error) {
	query := `
		INSERT OR IGNORE INTO sentiment
		(headline_id, label, score_pos, score_neu, score_neg, model_version, inference_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := tx.Exec(query,
		s.HeadlineID,
		s.Label,
		s.ScorePos,
		s.ScoreNeu,
		s.ScoreNeg,
		s.ModelVersion,
		s.InferenceMS,
		s.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert sentiment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetByHeadlineID retrieves the sentiment for a headline, or nil when the
// headline has not been scored yet.
func (r *Repository) GetByHeadlineID(headlineID int64) (*domain.Sentiment, error) {
	query := `
		SELECT id, headline_id, label, score_pos, score_neu, score_neg,
		       model_version, inference_ms, created_at
		FROM sentiment WHERE headline_id = ?
	`

	var s domain.Sentiment
	var inferenceMS sql.NullInt64
	var createdAt string

	err := r.db.QueryRow(query, headlineID).Scan(
		&s.ID, &s.HeadlineID, &s.Label, &s.ScorePos, &s.ScoreNeu, &s.ScoreNeg,
		&s.ModelVersion, &inferenceMS, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sentiment by headline ID: %w", err)
	}

	s.InferenceMS = inferenceMS.Int64
	if s.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &s, nil
}

// Count returns the total number of sentiment rows.
func (r *Repository) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM sentiment").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sentiment rows: %w", err)
	}
	return n, nil
}
