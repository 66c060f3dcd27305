package sentiment

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/quicksilver/internal/clients/finbert"
	"github.com/aristath/quicksilver/internal/database"
	"github.com/aristath/quicksilver/internal/domain"
	"github.com/rs/zerolog"
)

// Scorer is the batched text scoring capability. Implemented by the FinBERT
// sidecar client; faked in tests.
type Scorer interface {
	Score(ctx context.Context, texts []string) (*finbert.ScoreResult, error)
}

// Service scores pending headlines in bounded sub-batches, committing each
// sub-batch so partial progress survives a crash mid-run.
type Service struct {
	db           *sql.DB
	repo         *Repository
	scorer       Scorer
	modelVersion string
	batchSize    int
	log          zerolog.Logger
}

// NewService creates a new sentiment attach service. modelVersion is the
// tag stored with each row when the scorer does not report its own.
func NewService(db *sql.DB, repo *Repository, scorer Scorer, modelVersion string, batchSize int, log zerolog.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 8
	}
	return &Service{
		db:           db,
		repo:         repo,
		scorer:       scorer,
		modelVersion: modelVersion,
		batchSize:    batchSize,
		log:          log.With().Str("service", "sentiment").Logger(),
	}
}

// AttachPending scores up to limit unscored headlines and persists one
// sentiment row per headline. A scoring failure aborts the run; committed
// sub-batches stay committed and the remaining headlines are naturally
// retried on the next run because they still have no sentiment row.
func (s *Service) AttachPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.repo.GetPending(limit)
	if err != nil {
		return 0, err
	}

	if len(pending) == 0 {
		s.log.Info().Msg("No new headlines to analyze")
		return 0, nil
	}

	s.log.Info().Int("pending", len(pending)).Msg("Scoring pending headlines")

	inserted := 0
	for start := 0; start < len(pending); start += s.batchSize {
		end := start + s.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Title
		}

		result, err := s.scorer.Score(ctx, texts)
		if err != nil {
			// Surface to the caller; the scheduler decides on re-invocation.
			return inserted, fmt.Errorf("scoring batch failed after %d inserts: %w", inserted, err)
		}

		modelVersion := result.ModelVersion
		if modelVersion == "" {
			modelVersion = s.modelVersion
		}

		n, err := s.persistBatch(batch, result.Scores, modelVersion, result.InferenceMS)
		if err != nil {
			return inserted, err
		}
		inserted += n

		s.log.Info().
			Int("processed", inserted).
			Int("total", len(pending)).
			Msg("Sub-batch committed")
	}

	s.log.Info().Int("inserted", inserted).Msg("Finished inference")
	return inserted, nil
}

// persistBatch writes one sub-batch in a single transaction.
func (s *Service) persistBatch(batch []PendingHeadline, scores []finbert.Scores, modelVersion string, inferenceMS int64) (int, error) {
	inserted := 0

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for i, p := range batch {
			probs := [3]float64{scores[i].Negative, scores[i].Neutral, scores[i].Positive}

			row := &domain.Sentiment{
				HeadlineID:   p.ID,
				Label:        LabelFor(probs),
				ScorePos:     probs[IdxPositive],
				ScoreNeu:     probs[IdxNeutral],
				ScoreNeg:     probs[IdxNegative],
				ModelVersion: modelVersion,
				InferenceMS:  inferenceMS,
				CreatedAt:    now,
			}

			ok, err := s.repo.InsertIfAbsentTx(tx, row)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to persist sentiment batch: %w", err)
	}

	return inserted, nil
}
