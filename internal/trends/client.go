package trends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/trendmill/trendmill/internal/config"
)

const fetchTimeout = 30 * time.Second

// Client fetches weekly interest series over HTTP. Every attempt waits on
// the shared rate gate first; transient failures are retried on the
// configured backoff schedule before the error is surfaced.
type Client struct {
	http    *http.Client
	baseURL string
	gate    *Gate
	retry   config.RetryConfig

	sleep func(context.Context, time.Duration) error // injectable for tests
}

// NewClient builds a Client from the trends config, sharing gate across all
// fetches.
func NewClient(cfg config.TrendsConfig, gate *Gate) *Client {
	return &Client{
		http:    &http.Client{Timeout: fetchTimeout},
		baseURL: cfg.BaseURL,
		gate:    gate,
		retry:   cfg.Retry,
		sleep:   sleepCtx,
	}
}

// seriesResponse is the wire shape of the trends endpoint.
type seriesResponse struct {
	Keyword string    `json:"keyword"`
	Series  []float64 `json:"series"`
}

// statusError marks a non-2xx response so retry classification can see the
// status code.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// Fetch returns the weekly series for keyword, oldest first and newest
// last. It makes up to retry.MaxAttempts tries, sleeping the backoff delay
// between them, and returns the last error when all fail.
func (c *Client) Fetch(ctx context.Context, keyword, geo, timeframe string) ([]float64, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := c.retry.Delay(attempt - 1)
			slog.Debug("trends: retrying fetch",
				"keyword", keyword, "attempt", attempt, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		if err := c.gate.Wait(ctx); err != nil {
			return nil, err
		}

		series, err := c.fetchOnce(ctx, keyword, geo, timeframe)
		if err == nil {
			return series, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			break
		}
		slog.Warn("trends: fetch attempt failed",
			"keyword", keyword, "attempt", attempt, "err", err)
	}

	return nil, lastErr
}

// fetchOnce performs a single HTTP GET and decodes the series.
func (c *Client) fetchOnce(ctx context.Context, keyword, geo, timeframe string) ([]float64, error) {
	q := url.Values{}
	q.Set("q", keyword)
	q.Set("timeframe", timeframe)
	if geo != "" {
		q.Set("geo", geo)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/interest?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	var body seriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(body.Series) == 0 {
		return nil, fmt.Errorf("empty series for %q", keyword)
	}
	for i, v := range body.Series {
		if v < 0 {
			return nil, fmt.Errorf("negative value %v at index %d", v, i)
		}
	}
	return body.Series, nil
}

// retryable reports whether err is worth another attempt. Connect and
// timeout errors are; of the HTTP statuses only 408, 429 and 5xx are.
// Decode and validation failures are terminal.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.code == http.StatusRequestTimeout,
			se.code == http.StatusTooManyRequests,
			se.code >= 500:
			return true
		}
		return false
	}

	var ue *url.Error
	return errors.As(err, &ue)
}
