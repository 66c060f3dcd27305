package ingest

import (
	"encoding/json"
	"time"

	"github.com/aristath/quicksilver/internal/rawstore"
	"github.com/rs/zerolog"
)

// Result reports what one ingest run did. Rejected counts malformed or
// incomplete records; Skipped counts records already in the store.
type Result struct {
	Inserted int
	Skipped  int
	Rejected int
}

// Service walks the raw write-ahead logs and stores each distinct headline
// exactly once. Running it any number of times over the same raw files
// yields the same store state.
type Service struct {
	raw  *rawstore.Store
	repo *HeadlineRepository
	log  zerolog.Logger
}

// NewService creates a new ingest service
func NewService(raw *rawstore.Store, repo *HeadlineRepository, log zerolog.Logger) *Service {
	return &Service{
		raw:  raw,
		repo: repo,
		log:  log.With().Str("service", "ingest").Logger(),
	}
}

// ProcessRawFiles normalizes and stores every record in the raw store.
// Record-level failures are absorbed and counted; only store-level failures
// that are not uniqueness conflicts abort a record (logged, batch continues).
func (s *Service) ProcessRawFiles() (Result, error) {
	var res Result

	malformed, err := s.raw.Walk(func(line json.RawMessage) error {
		headline, err := Normalize(line, time.Now())
		if err != nil {
			res.Rejected++
			s.log.Debug().Err(err).Msg("Rejected raw record")
			return nil
		}

		inserted, err := s.repo.InsertIfAbsent(headline)
		if err != nil {
			// Not a conflict (those are absorbed by InsertIfAbsent):
			// log and move on, the record stays in the raw log for
			// the next run.
			s.log.Error().Err(err).Str("hash", headline.Hash).Msg("Insert error")
			return nil
		}

		if inserted {
			res.Inserted++
		} else {
			res.Skipped++
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Rejected += malformed

	s.log.Info().
		Int("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Int("rejected", res.Rejected).
		Msg("Ingest run complete")

	return res, nil
}
