// Package rawstore persists raw fetched news records to append-only JSONL
// files, one per ticker. The files are the durable hand-off between the
// fetch stage and the ingest stage: a crash anywhere downstream never loses
// already-fetched data, and re-reading a file is always safe because the
// ingest stage dedups at the store level.
package rawstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Store appends and reads per-ticker raw JSONL logs under a base directory.
type Store struct {
	dir string
	log zerolog.Logger
}

// New creates a raw store rooted at dir (created if missing).
func New(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create raw store directory: %w", err)
	}
	return &Store{
		dir: dir,
		log: log.With().Str("component", "rawstore").Logger(),
	}, nil
}

// Dir returns the raw store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Append writes one JSON line per record to the ticker's log file.
// Records that fail to serialize are skipped, not fatal.
func (s *Store) Append(ticker string, records []json.RawMessage) error {
	if len(records) == 0 {
		return nil
	}

	path := filepath.Join(s.dir, ticker+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open raw log for %s: %w", ticker, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	written := 0
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		// Compact to guarantee one record per line
		compacted, err := compact(rec)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Skipping unserializable record")
			continue
		}
		if _, err := w.Write(compacted); err != nil {
			return fmt.Errorf("failed to append raw record for %s: %w", ticker, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to append raw record for %s: %w", ticker, err)
		}
		written++
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush raw log for %s: %w", ticker, err)
	}

	s.log.Info().
		Str("ticker", ticker).
		Int("records", written).
		Str("path", path).
		Msg("Appended raw records")

	return nil
}

// Walk calls fn with the raw bytes of every record in every JSONL file.
// Lines that are not valid JSON are counted and skipped. Returns the number
// of skipped lines.
func (s *Store) Walk(fn func(line json.RawMessage) error) (skipped int, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read raw store directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		s.log.Debug().Str("path", path).Msg("Processing raw log")

		n, err := s.walkFile(path, fn)
		skipped += n
		if err != nil {
			return skipped, err
		}
	}

	return skipped, nil
}

func (s *Store) walkFile(path string, fn func(line json.RawMessage) error) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open raw log %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Headlines plus raw payload can exceed the default 64KB line limit
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			skipped++
			continue
		}
		if err := fn(json.RawMessage(line)); err != nil {
			return skipped, err
		}
	}

	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("failed to scan raw log %s: %w", path, err)
	}

	return skipped, nil
}

func compact(raw json.RawMessage) (json.RawMessage, error) {
	var buf strings.Builder
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(strings.TrimSpace(buf.String())), nil
}
