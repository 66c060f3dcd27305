package sentiment

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quicksilver/internal/clients/finbert"
	"github.com/aristath/quicksilver/internal/database"
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

func insertTestHeadline(t *testing.T, db *database.DB, title, url string) int64 {
	t.Helper()

	result, err := db.Conn().Exec(`
		INSERT INTO headlines (ticker, source, title, url, published_at_utc, hash, created_at)
		VALUES ('AAPL', 'Reuters', ?, ?, ?, ?, ?)
	`, title, url, "2026-09-01T10:00:00Z", url, time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, err)

	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

// fakeScorer returns canned probability triples, or fails after a number of
// successful batches.
type fakeScorer struct {
	scores      []finbert.Scores
	calls       int
	failAtBatch int // 0 = never fail
}

func (f *fakeScorer) Score(_ context.Context, texts []string) (*finbert.ScoreResult, error) {
	f.calls++
	if f.failAtBatch > 0 && f.calls >= f.failAtBatch {
		return nil, fmt.Errorf("model exploded")
	}

	out := make([]finbert.Scores, len(texts))
	for i := range texts {
		if len(f.scores) > 0 {
			out[i] = f.scores[i%len(f.scores)]
		} else {
			out[i] = finbert.Scores{Negative: 0.1, Neutral: 0.2, Positive: 0.7}
		}
	}
	return &finbert.ScoreResult{
		Scores:       out,
		ModelVersion: "ProsusAI/finbert",
		InferenceMS:  12,
	}, nil
}

func TestAttachPending_StoresArgmaxLabel(t *testing.T) {
	db := setupTestDB(t)
	log := zerolog.Nop()

	id := insertTestHeadline(t, db, "Apple beats estimates", "https://example.com/a")

	repo := NewRepository(db.Conn(), log)
	scorer := &fakeScorer{scores: []finbert.Scores{{Negative: 0.1, Neutral: 0.2, Positive: 0.7}}}
	svc := NewService(db.Conn(), repo, scorer, "ProsusAI/finbert", 8, log)

	n, err := svc.AttachPending(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err := repo.GetByHeadlineID(id)
	require.NoError(t, err)
	require.NotNil(t, row)

	// Under order [neg, neu, pos], (0.1, 0.2, 0.7) is "positive"
	assert.Equal(t, "positive", row.Label)
	assert.InDelta(t, 0.7, row.ScorePos, 1e-12)
	assert.InDelta(t, 0.2, row.ScoreNeu, 1e-12)
	assert.InDelta(t, 0.1, row.ScoreNeg, 1e-12)
	assert.Equal(t, "ProsusAI/finbert", row.ModelVersion)
}

func TestAttachPending_LabelMatchesStoredScores(t *testing.T) {
	db := setupTestDB(t)
	log := zerolog.Nop()

	// One headline per argmax outcome
	fixtures := []finbert.Scores{
		{Negative: 0.8, Neutral: 0.1, Positive: 0.1},
		{Negative: 0.1, Neutral: 0.8, Positive: 0.1},
		{Negative: 0.1, Neutral: 0.1, Positive: 0.8},
	}
	for i := range fixtures {
		insertTestHeadline(t, db, fmt.Sprintf("headline %d", i), fmt.Sprintf("https://example.com/%d", i))
	}

	repo := NewRepository(db.Conn(), log)
	svc := NewService(db.Conn(), repo, &fakeScorer{scores: fixtures}, "ProsusAI/finbert", 8, log)

	n, err := svc.AttachPending(context.Background(), 200)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	rows, err := db.Conn().Query("SELECT label, score_pos, score_neu, score_neg FROM sentiment ORDER BY headline_id")
	require.NoError(t, err)
	defer rows.Close()

	for rows.Next() {
		var label string
		var pos, neu, neg float64
		require.NoError(t, rows.Scan(&label, &pos, &neu, &neg))
		assert.Equal(t, LabelFor([3]float64{neg, neu, pos}), label,
			"stored label must equal argmax of stored scores")
	}
	require.NoError(t, rows.Err())
}

func TestAttachPending_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	log := zerolog.Nop()

	insertTestHeadline(t, db, "once", "https://example.com/a")

	repo := NewRepository(db.Conn(), log)
	svc := NewService(db.Conn(), repo, &fakeScorer{}, "ProsusAI/finbert", 8, log)

	n, err := svc.AttachPending(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Second run finds nothing pending
	n, err = svc.AttachPending(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestAttachPending_PartialProgressSurvivesScoringFailure(t *testing.T) {
	db := setupTestDB(t)
	log := zerolog.Nop()

	// Two sub-batches of size 2: the second scoring call fails
	for i := 0; i < 4; i++ {
		insertTestHeadline(t, db, fmt.Sprintf("headline %d", i), fmt.Sprintf("https://example.com/%d", i))
	}

	repo := NewRepository(db.Conn(), log)
	scorer := &fakeScorer{failAtBatch: 2}
	svc := NewService(db.Conn(), repo, scorer, "ProsusAI/finbert", 2, log)

	n, err := svc.AttachPending(context.Background(), 200)
	require.Error(t, err)
	assert.Equal(t, 2, n, "first sub-batch stays committed")

	count, err := repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	// The next run naturally retries the remaining headlines
	scorer.failAtBatch = 0
	n, err = svc.AttachPending(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGetPending_StableOrderAndLimit(t *testing.T) {
	db := setupTestDB(t)
	log := zerolog.Nop()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, insertTestHeadline(t, db, fmt.Sprintf("h%d", i), fmt.Sprintf("https://example.com/%d", i)))
	}

	repo := NewRepository(db.Conn(), log)
	pending, err := repo.GetPending(3)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	// Insertion order
	assert.Equal(t, ids[0], pending[0].ID)
	assert.Equal(t, ids[1], pending[1].ID)
	assert.Equal(t, ids[2], pending[2].ID)
}
