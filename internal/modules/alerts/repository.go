// Package alerts evaluates feature rows against configured thresholds and
// fires deduplicated anomaly alerts.
package alerts

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/quicksilver/internal/domain"
	"github.com/rs/zerolog"
)

// alertColumns is the list of columns for the alerts table.
// Column order must match the scan in queryAlerts().
const alertColumns = `id, ticker, kind, window, threshold, payload_json, fired_at`

// Repository handles alert database operations. Alerts are append-only;
// retention and expiry are external concerns.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new alert repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "alert").Logger(),
	}
}

// InsertIfAbsent fires the alert unless one already exists for
// (ticker, kind, window, fired_at). Returns true when inserted, so
// re-evaluating already-alerted features never double-fires.
func (r *Repository) InsertIfAbsent(a *domain.Alert) (bool, error) {
	query := `
		INSERT OR IGNORE INTO alerts
		(ticker, kind, window, threshold, payload_json, fired_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		a.Ticker,
		a.Kind,
		a.Window,
		a.Threshold,
		a.PayloadJSON,
		a.FiredAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert alert: %w", err)
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
	a.ID = id

	return true, nil
}

// GetRecent returns the most recently fired alerts, newest first, optionally
// filtered by ticker (empty string matches all).
func (r *Repository) GetRecent(ticker string, limit int) ([]domain.Alert, error) {
	if ticker != "" {
		query := "SELECT " + alertColumns + ` FROM alerts
			WHERE ticker = ? ORDER BY fired_at DESC LIMIT ?`
		return r.queryAlerts(query, ticker, limit)
	}

	query := "SELECT " + alertColumns + ` FROM alerts
		ORDER BY fired_at DESC LIMIT ?`
	return r.queryAlerts(query, limit)
}

// Count returns the total number of fired alerts.
func (r *Repository) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM alerts").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

func (r *Repository) queryAlerts(query string, args ...interface{}) ([]domain.Alert, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var firedAt string
		if err := rows.Scan(&a.ID, &a.Ticker, &a.Kind, &a.Window, &a.Threshold, &a.PayloadJSON, &firedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if a.FiredAt, err = time.Parse(time.RFC3339, firedAt); err != nil {
			return nil, fmt.Errorf("failed to parse fired_at: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
