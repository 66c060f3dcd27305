// Package finbert provides an HTTP client for the FinBERT inference
// sidecar. The sidecar hosts the model; this client only moves text in and
// probability triples out. Scoring failures are never retried here: the
// headlines stay unscored and the next attach run picks them up again.
package finbert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Scores is one probability triple in the model's declared label order
// [negative, neutral, positive]. See the sentiment package for the single
// place that order is interpreted.
type Scores struct {
	Negative float64 `json:"negative"`
	Neutral  float64 `json:"neutral"`
	Positive float64 `json:"positive"`
}

// ScoreResult is the response for one scoring batch.
type ScoreResult struct {
	Scores       []Scores
	ModelVersion string
	InferenceMS  int64
}

// Client is an HTTP client for the FinBERT inference sidecar.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new FinBERT sidecar client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 60 * time.Second, // model inference can take time
		},
		log: log.With().Str("client", "finbert").Logger(),
	}
}

// Request/response types (mirror the Python sidecar)

type scoreRequest struct {
	Texts []string `json:"texts"`
}

type scoreResponse struct {
	Success      bool      `json:"success"`
	Scores       []Scores  `json:"scores"`
	ModelVersion string    `json:"model_version"`
	InferenceMS  int64     `json:"inference_ms"`
	Error        *string   `json:"error"`
	Timestamp    time.Time `json:"timestamp"`
}

// Score runs batched inference over texts. Exactly one probability triple is
// returned per input text, in input order.
func (c *Client) Score(ctx context.Context, texts []string) (*ScoreResult, error) {
	if len(texts) == 0 {
		return &ScoreResult{}, nil
	}

	body, err := json.Marshal(scoreRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scoring service returned status %d: %s", resp.StatusCode, snippet)
	}

	var parsed scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse scoring response: %w", err)
	}

	if !parsed.Success {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = *parsed.Error
		}
		return nil, fmt.Errorf("scoring service error: %s", msg)
	}

	if len(parsed.Scores) != len(texts) {
		return nil, fmt.Errorf("scoring service returned %d results for %d texts", len(parsed.Scores), len(texts))
	}

	inferenceMS := parsed.InferenceMS
	if inferenceMS == 0 {
		inferenceMS = time.Since(start).Milliseconds()
	}

	c.log.Debug().
		Int("texts", len(texts)).
		Int64("inference_ms", inferenceMS).
		Str("model", parsed.ModelVersion).
		Msg("Scored batch")

	return &ScoreResult{
		Scores:       parsed.Scores,
		ModelVersion: parsed.ModelVersion,
		InferenceMS:  inferenceMS,
	}, nil
}
