// Package ingest converts raw fetched news records into canonical headlines
// and stores them exactly once.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/quicksilver/internal/domain"
)

// rawRecord is the subset of a raw news record the normalizer requires.
type rawRecord struct {
	Headline string `json:"headline"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	Datetime int64  `json:"datetime"` // unix seconds
}

// ErrRejected marks a record missing one of the required fields. Rejections
// are counted by the caller, never fatal.
type ErrRejected struct {
	Field string
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("record rejected: missing or empty %q", e.Field)
}

// ContentHash derives the dedup fingerprint from the headline's identity
// fields. Two records with the same URL and published time always collide,
// regardless of any other field.
func ContentHash(url string, publishedAtUTC time.Time) string {
	key := url + "|" + publishedAtUTC.UTC().Format(time.RFC3339)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Normalize converts one raw record into a canonical headline. Records
// missing any of headline/related/source/url/datetime are rejected with
// *ErrRejected.
func Normalize(raw json.RawMessage, now time.Time) (*domain.Headline, error) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &ErrRejected{Field: "json"}
	}

	switch {
	case strings.TrimSpace(rec.Headline) == "":
		return nil, &ErrRejected{Field: "headline"}
	case strings.TrimSpace(rec.Related) == "":
		return nil, &ErrRejected{Field: "related"}
	case strings.TrimSpace(rec.Source) == "":
		return nil, &ErrRejected{Field: "source"}
	case strings.TrimSpace(rec.URL) == "":
		return nil, &ErrRejected{Field: "url"}
	case rec.Datetime == 0:
		return nil, &ErrRejected{Field: "datetime"}
	}

	publishedAt := time.Unix(rec.Datetime, 0).UTC()

	return &domain.Headline{
		Ticker:         strings.TrimSpace(rec.Related),
		Source:         strings.TrimSpace(rec.Source),
		Title:          strings.TrimSpace(rec.Headline),
		URL:            strings.TrimSpace(rec.URL),
		PublishedAtUTC: publishedAt,
		RawJSON:        string(raw),
		Hash:           ContentHash(strings.TrimSpace(rec.URL), publishedAt),
		CreatedAt:      now.UTC(),
	}, nil
}
