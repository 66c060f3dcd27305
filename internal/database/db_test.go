package database

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())

	// All four pipeline tables exist
	for _, table := range []string{"headlines", "sentiment", "features", "alerts"} {
		var name string
		err := db.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s must exist", table)
	}
}

func TestSchema_UniqueConstraints(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())

	_, err := db.Conn().Exec(`
		INSERT INTO headlines (ticker, source, title, url, published_at_utc, hash, created_at)
		VALUES ('AAPL', 'Reuters', 'one', 'https://example.com/a', '2026-09-01T10:00:00Z', 'h1', '2026-09-01T10:05:00Z')
	`)
	require.NoError(t, err)

	// Second insert with the same hash is rejected
	_, err = db.Conn().Exec(`
		INSERT INTO headlines (ticker, source, title, url, published_at_utc, hash, created_at)
		VALUES ('AAPL', 'Reuters', 'two', 'https://example.com/b', '2026-09-01T11:00:00Z', 'h1', '2026-09-01T11:05:00Z')
	`)
	require.Error(t, err)

	// INSERT OR IGNORE turns the conflict into zero rows affected
	res, err := db.Conn().Exec(`
		INSERT OR IGNORE INTO headlines (ticker, source, title, url, published_at_utc, hash, created_at)
		VALUES ('AAPL', 'Reuters', 'three', 'https://example.com/c', '2026-09-01T12:00:00Z', 'h1', '2026-09-01T12:05:00Z')
	`)
	require.NoError(t, err)
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestWithTransaction_CommitAndRollback(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())

	insert := func(tx *sql.Tx, hash string) error {
		_, err := tx.Exec(`
			INSERT INTO headlines (ticker, source, title, url, published_at_utc, hash, created_at)
			VALUES ('AAPL', 'Reuters', 't', 'u', '2026-09-01T10:00:00Z', ?, '2026-09-01T10:05:00Z')
		`, hash)
		return err
	}

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return insert(tx, "committed")
	})
	require.NoError(t, err)

	failure := errors.New("abort")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if err := insert(tx, "rolled-back"); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(t, err, failure)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM headlines").Scan(&count))
	assert.Equal(t, 1, count, "only the committed transaction persists")
}

func TestNew_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dirs", "store.db")

	db, err := New(Config{Path: path, Name: "nested"})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	assert.Equal(t, "nested", db.Name())
}
