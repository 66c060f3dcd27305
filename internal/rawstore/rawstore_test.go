package rawstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "raw"), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestAppendWalk_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	recs := []json.RawMessage{
		json.RawMessage(`{"headline":"one","datetime":1700000000}`),
		json.RawMessage(`{"headline":"two","datetime":1700003600}`),
	}
	require.NoError(t, s.Append("AAPL", recs))
	require.NoError(t, s.Append("TSLA", []json.RawMessage{
		json.RawMessage(`{"headline":"three","datetime":1700007200}`),
	}))

	var seen []string
	skipped, err := s.Walk(func(line json.RawMessage) error {
		var rec struct {
			Headline string `json:"headline"`
		}
		require.NoError(t, json.Unmarshal(line, &rec))
		seen = append(seen, rec.Headline)
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.ElementsMatch(t, []string{"one", "two", "three"}, seen)
}

func TestAppend_IsAppendOnly(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("AAPL", []json.RawMessage{json.RawMessage(`{"n":1}`)}))
	require.NoError(t, s.Append("AAPL", []json.RawMessage{json.RawMessage(`{"n":2}`)}))

	var count int
	_, err := s.Walk(func(json.RawMessage) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAppend_CompactsMultilineJSON(t *testing.T) {
	s := newTestStore(t)

	pretty := json.RawMessage("{\n  \"headline\": \"spread over\",\n  \"lines\": true\n}")
	require.NoError(t, s.Append("AAPL", []json.RawMessage{pretty}))

	data, err := os.ReadFile(filepath.Join(s.Dir(), "AAPL.jsonl"))
	require.NoError(t, err)

	// Exactly one line, still valid JSON
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 1, lines)
	assert.True(t, json.Valid(data[:len(data)-1]))
}

func TestAppend_PreservesLargeIntegers(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("AAPL", []json.RawMessage{
		json.RawMessage(`{"id":9007199254740993,"datetime":1700000000}`),
	}))

	_, err := s.Walk(func(line json.RawMessage) error {
		assert.Contains(t, string(line), "9007199254740993")
		return nil
	})
	require.NoError(t, err)
}

func TestWalk_SkipsCorruptLines(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("AAPL", []json.RawMessage{json.RawMessage(`{"ok":1}`)}))

	// Simulate a torn write by appending garbage and another valid record
	path := filepath.Join(s.Dir(), "AAPL.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"torn\": \n{\"ok\":2}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var count int
	skipped, err := s.Walk(func(json.RawMessage) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 2, count)
}

func TestWalk_IgnoresNonJSONLFiles(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("not data"), 0644))
	require.NoError(t, s.Append("AAPL", []json.RawMessage{json.RawMessage(`{"ok":1}`)}))

	var count int
	skipped, err := s.Walk(func(json.RawMessage) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, 1, count)
}

func TestAppend_EmptyBatchCreatesNothing(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("AAPL", nil))
	_, err := os.Stat(filepath.Join(s.Dir(), "AAPL.jsonl"))
	assert.True(t, os.IsNotExist(err))
}
