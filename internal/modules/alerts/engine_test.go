package alerts

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quicksilver/internal/database"
	"github.com/aristath/quicksilver/internal/domain"
	"github.com/aristath/quicksilver/internal/modules/features"
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

func setupEngine(t *testing.T, db *database.DB, cfg Config) (*Engine, *features.Repository, *Repository) {
	t.Helper()
	log := zerolog.Nop()
	featureRepo := features.NewRepository(db.Conn(), log)
	alertRepo := NewRepository(db.Conn(), log)
	return NewEngine(featureRepo, alertRepo, cfg, log), featureRepo, alertRepo
}

func insertFeature(t *testing.T, repo *features.Repository, ticker string, ts time.Time, sentZ, volZ float64, count int64) {
	t.Helper()
	inserted, err := repo.InsertIfAbsent(&domain.Feature{
		Ticker:     ticker,
		Window:     "60",
		TsUTC:      ts,
		SentMean:   0.1,
		SentZ:      sentZ,
		VolZ:       volZ,
		HeadlinesN: count,
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestEvaluateAndFire_ThresholdBoundaries(t *testing.T) {
	db := setupTestDB(t)
	engine, featureRepo, alertRepo := setupEngine(t, db, Config{
		SentimentZThreshold: 2.5,
		VolumeZThreshold:    3.0,
		HorizonWindows:      24,
		WindowMinutes:       60,
	})

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	// Below, exactly at, and above the sentiment threshold; negative breach too
	insertFeature(t, featureRepo, "AAPL", now.Add(-1*time.Hour), 2.49, 0, 3)
	insertFeature(t, featureRepo, "AAPL", now.Add(-2*time.Hour), 2.5, 0, 3)
	insertFeature(t, featureRepo, "AAPL", now.Add(-3*time.Hour), 2.51, 0, 3)
	insertFeature(t, featureRepo, "TSLA", now.Add(-1*time.Hour), -2.6, 0, 3)

	fired, err := engine.EvaluateAndFire(now)
	require.NoError(t, err)
	assert.Equal(t, 3, fired)

	recent, err := alertRepo.GetRecent("", 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for _, a := range recent {
		assert.Equal(t, domain.AlertKindSentimentSpike, a.Kind)
	}
}

func TestEvaluateAndFire_VolumeKind(t *testing.T) {
	db := setupTestDB(t)
	engine, featureRepo, alertRepo := setupEngine(t, db, DefaultConfig())

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	insertFeature(t, featureRepo, "AAPL", now.Add(-1*time.Hour), 0, 3.4, 50)

	fired, err := engine.EvaluateAndFire(now)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	recent, err := alertRepo.GetRecent("AAPL", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.AlertKindVolumeSpike, recent[0].Kind)
	assert.Equal(t, "3", recent[0].Threshold)
}

func TestEvaluateAndFire_BothKindsFromOneFeature(t *testing.T) {
	db := setupTestDB(t)
	engine, featureRepo, alertRepo := setupEngine(t, db, DefaultConfig())

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	// One feature row breaching both thresholds fires two distinct alerts
	insertFeature(t, featureRepo, "AAPL", now.Add(-1*time.Hour), 3.0, 4.0, 80)

	fired, err := engine.EvaluateAndFire(now)
	require.NoError(t, err)
	assert.Equal(t, 2, fired)

	count, err := alertRepo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestEvaluateAndFire_NeverDoubleFires(t *testing.T) {
	db := setupTestDB(t)
	engine, featureRepo, alertRepo := setupEngine(t, db, DefaultConfig())

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	insertFeature(t, featureRepo, "AAPL", now.Add(-1*time.Hour), 2.8, 0, 5)

	fired, err := engine.EvaluateAndFire(now)
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	// Re-evaluating the same horizon is a no-op
	for i := 0; i < 3; i++ {
		fired, err = engine.EvaluateAndFire(now)
		require.NoError(t, err)
		assert.Equal(t, 0, fired)
	}

	count, err := alertRepo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestNewEngine_ZeroThresholdsAreHonored(t *testing.T) {
	db := setupTestDB(t)

	// Explicit zero thresholds with the rest of the config set: |z| >= 0
	// always holds, so every evaluated feature fires both kinds.
	engine, featureRepo, alertRepo := setupEngine(t, db, Config{
		SentimentZThreshold: 0,
		VolumeZThreshold:    0,
		HorizonWindows:      24,
		WindowMinutes:       60,
	})

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	insertFeature(t, featureRepo, "AAPL", now.Add(-1*time.Hour), 0, 0, 1)

	fired, err := engine.EvaluateAndFire(now)
	require.NoError(t, err)
	assert.Equal(t, 2, fired, "zero thresholds must not be swapped for defaults")

	count, err := alertRepo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestNewEngine_ZeroValueConfigGetsDefaults(t *testing.T) {
	db := setupTestDB(t)
	engine, featureRepo, alertRepo := setupEngine(t, db, Config{})

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	// Below the default 2.5/3.0 thresholds: nothing fires
	insertFeature(t, featureRepo, "AAPL", now.Add(-1*time.Hour), 2.0, 2.0, 5)
	// Above them: both fire
	insertFeature(t, featureRepo, "TSLA", now.Add(-1*time.Hour), 2.6, 3.1, 5)

	fired, err := engine.EvaluateAndFire(now)
	require.NoError(t, err)
	assert.Equal(t, 2, fired)

	recent, err := alertRepo.GetRecent("AAPL", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestEvaluateAndFire_HorizonCutoff(t *testing.T) {
	db := setupTestDB(t)
	engine, featureRepo, alertRepo := setupEngine(t, db, DefaultConfig())

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	// Breaching feature older than the 24-window horizon is never evaluated
	insertFeature(t, featureRepo, "AAPL", now.Add(-30*time.Hour), 9.9, 9.9, 100)

	fired, err := engine.EvaluateAndFire(now)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	count, err := alertRepo.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEvaluateAndFire_PayloadSnapshot(t *testing.T) {
	db := setupTestDB(t)
	engine, featureRepo, alertRepo := setupEngine(t, db, DefaultConfig())

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	bucket := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	insertFeature(t, featureRepo, "TSLA", bucket, 2.75, 0, 12)

	fired, err := engine.EvaluateAndFire(now)
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	recent, err := alertRepo.GetRecent("TSLA", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	a := recent[0]
	assert.Equal(t, "TSLA", a.Ticker)
	assert.Equal(t, "60", a.Window)
	assert.Equal(t, "2.5", a.Threshold)
	assert.True(t, a.FiredAt.Equal(bucket), "fired_at is the feature bucket timestamp")

	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(a.PayloadJSON), &snapshot))
	assert.Equal(t, "TSLA", snapshot["ticker"])
	assert.Equal(t, "2026-09-01T10:00:00Z", snapshot["ts_utc"])
	assert.InDelta(t, 2.75, snapshot["sent_z"].(float64), 1e-9)
	assert.EqualValues(t, 12, snapshot["headlines_n"])
}
