// Package finnhub provides the company-news fetch client.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RawArticle is one news record as returned by the API. Fields beyond the
// ones the pipeline needs are preserved via the raw JSON kept alongside.
type RawArticle struct {
	ID       int64  `json:"id"`
	Headline string `json:"headline"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	Datetime int64  `json:"datetime"` // unix seconds
	Summary  string `json:"summary,omitempty"`
	Category string `json:"category,omitempty"`
	Image    string `json:"image,omitempty"`

	raw json.RawMessage
}

// Raw returns the original JSON bytes for the article.
func (a *RawArticle) Raw() json.RawMessage {
	return a.raw
}

// Client fetches company news from the Finnhub REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryPolicy
	log        zerolog.Logger
}

// NewClient creates a new Finnhub client. Outbound requests are paced to
// stay under the free-tier request budget regardless of how many tickers
// are fetched in one run.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		retry:      DefaultRetryPolicy(),
		log:        log.With().Str("client", "finnhub").Logger(),
	}
}

// SetRetryPolicy overrides the default retry policy (used in tests to avoid
// real backoff delays).
func (c *Client) SetRetryPolicy(p RetryPolicy) {
	c.retry = p
}

// FetchCompanyNews retrieves all news items for a ticker between two dates
// (inclusive, YYYY-MM-DD). Transient failures and rate limits are retried
// with exponential backoff; the last error is returned once attempts are
// exhausted. Permanent HTTP errors fail immediately.
func (c *Client) FetchCompanyNews(ctx context.Context, ticker string, from, to time.Time) ([]RawArticle, error) {
	var articles []RawArticle

	err := c.retry.Do(ctx, c.log, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Kind: ErrKindPermanent, Err: err}
		}

		var err error
		articles, err = c.fetchOnce(ctx, ticker, from, to)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch company news for %s: %w", ticker, err)
	}

	c.log.Info().
		Str("ticker", ticker).
		Int("articles", len(articles)).
		Str("from", from.Format("2006-01-02")).
		Str("to", to.Format("2006-01-02")).
		Msg("Fetched company news")

	return articles, nil
}

// fetchOnce performs a single request, classifying failures into the
// retryable/permanent taxonomy.
func (c *Client) fetchOnce(ctx context.Context, ticker string, from, to time.Time) ([]RawArticle, error) {
	params := url.Values{}
	params.Set("symbol", ticker)
	params.Set("from", from.Format("2006-01-02"))
	params.Set("to", to.Format("2006-01-02"))
	params.Set("token", c.apiKey)

	reqURL := c.baseURL + "/company-news?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &Error{Kind: ErrKindPermanent, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport-level failures (timeouts, connection resets) are retryable
		return nil, &Error{Kind: ErrKindTransient, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		// Drain so the connection can be reused across retries
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrKindTransient, Err: err}
	}

	// Decode twice: once into typed articles, once into raw messages so the
	// original payload survives normalization verbatim.
	var articles []RawArticle
	if err := json.Unmarshal(body, &articles); err != nil {
		return nil, &Error{Kind: ErrKindPermanent, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err == nil && len(raws) == len(articles) {
		for i := range articles {
			articles[i].raw = raws[i]
		}
	}

	return articles, nil
}

// classifyStatus maps an HTTP status code onto the error taxonomy.
// 429 is rate limiting, 5xx is transient, any other non-2xx is permanent.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &Error{Kind: ErrKindRateLimited, Err: fmt.Errorf("rate limit hit (HTTP 429)")}
	case status >= 500:
		return &Error{Kind: ErrKindTransient, Err: fmt.Errorf("server error (HTTP %d)", status)}
	default:
		return &Error{Kind: ErrKindPermanent, Err: fmt.Errorf("request rejected (HTTP %d)", status)}
	}
}
