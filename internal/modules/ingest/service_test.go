package ingest

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quicksilver/internal/database"
	"github.com/aristath/quicksilver/internal/rawstore"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func setupService(t *testing.T) (*Service, *HeadlineRepository, *rawstore.Store) {
	t.Helper()

	db := setupTestDB(t)
	log := zerolog.Nop()

	raw, err := rawstore.New(filepath.Join(t.TempDir(), "raw"), log)
	require.NoError(t, err)

	repo := NewHeadlineRepository(db.Conn(), log)
	return NewService(raw, repo, log), repo, raw
}

func rawRecordJSON(t *testing.T, headline, url string, datetime int64) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"headline": headline,
		"related":  "AAPL",
		"source":   "Reuters",
		"url":      url,
		"datetime": datetime,
	})
	require.NoError(t, err)
	return raw
}

func TestProcessRawFiles_DedupIdempotence(t *testing.T) {
	svc, repo, raw := setupService(t)

	rec := rawRecordJSON(t, "Apple up", "https://example.com/a", 1700000000)

	// Same record delivered five times
	require.NoError(t, raw.Append("AAPL", []json.RawMessage{rec, rec, rec, rec, rec}))

	res, err := svc.ProcessRawFiles()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 4, res.Skipped)
	assert.Equal(t, 0, res.Rejected)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// Re-running the whole ingest changes nothing
	res, err = svc.ProcessRawFiles()
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 5, res.Skipped)

	count, err = repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestProcessRawFiles_SameIdentityDifferentText(t *testing.T) {
	svc, repo, raw := setupService(t)

	// Identical (url, published time), different free text: one headline
	recA := rawRecordJSON(t, "Apple announces record quarter", "https://example.com/x", 1700000000)
	recB := rawRecordJSON(t, "APPLE ANNOUNCES RECORD QUARTER (updated)", "https://example.com/x", 1700000000)
	require.NoError(t, raw.Append("AAPL", []json.RawMessage{recA, recB}))

	res, err := svc.ProcessRawFiles()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestProcessRawFiles_RejectsIncompleteRecords(t *testing.T) {
	svc, repo, raw := setupService(t)

	complete := rawRecordJSON(t, "Complete", "https://example.com/a", 1700000000)
	incomplete := json.RawMessage(`{"headline":"No URL","related":"AAPL","source":"Reuters","datetime":1700000000}`)
	require.NoError(t, raw.Append("AAPL", []json.RawMessage{complete, incomplete}))

	res, err := svc.ProcessRawFiles()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Rejected)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestInsertIfAbsent_AtomicConflictHandling(t *testing.T) {
	svc, repo, raw := setupService(t)

	rec := rawRecordJSON(t, "Apple up", "https://example.com/a", 1700000000)
	require.NoError(t, raw.Append("AAPL", []json.RawMessage{rec}))

	res, err := svc.ProcessRawFiles()
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)

	stored, err := repo.GetByHash(mustHash(t, rec))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "AAPL", stored.Ticker)
	assert.Equal(t, "Apple up", stored.Title)
}

func mustHash(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	h, err := Normalize(raw, time.Now())
	require.NoError(t, err)
	return h.Hash
}
