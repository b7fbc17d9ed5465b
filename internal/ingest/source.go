// Package ingest pulls candidate keywords from the trending-content feed.
// Candidates come back raw; normalization and deduplication happen in the
// pipeline.
package ingest

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
	"github.com/trendmill/trendmill/pkg/types"
)

const requestTimeout = 15 * time.Second

// Source fetches candidates from one endpoint per configured keyword kind:
// /keywords, /hashtags, /sounds.
type Source struct {
	http    *http.Client
	baseURL string
	kinds   []types.KeywordKind
	limit   int
}

// NewSource builds a Source from the ingest config.
func NewSource(cfg config.IngestConfig) *Source {
	kinds := make([]types.KeywordKind, 0, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		kinds = append(kinds, types.KeywordKind(k))
	}
	return &Source{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: cfg.BaseURL,
		kinds:   kinds,
		limit:   cfg.Limit,
	}
}

// feedResponse is the wire shape of each per-kind endpoint.
type feedResponse struct {
	Items []struct {
		Text string `json:"text"`
	} `json:"items"`
}

// Candidates fetches up to limit raw candidates per configured kind.
// limit <= 0 falls back to the configured default. A kind whose endpoint
// fails is skipped with a warning; Candidates errors only when every kind
// fails, which the pipeline treats as having no keyword source at all.
func (s *Source) Candidates(ctx context.Context, limit int) ([]types.Candidate, error) {
	if limit <= 0 {
		limit = s.limit
	}

	var (
		out  []types.Candidate
		errs []error
	)
	for _, kind := range s.kinds {
		items, err := s.fetchKind(ctx, kind, limit)
		if err != nil {
			slog.Warn("ingest: kind endpoint failed", "kind", kind, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		out = append(out, items...)
	}

	if len(out) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("ingest: all endpoints failed: %w", errors.Join(errs...))
	}
	return out, nil
}

// fetchKind pulls one kind endpoint, e.g. GET {base}/hashtags?limit=50.
func (s *Source) fetchKind(ctx context.Context, kind types.KeywordKind, limit int) ([]types.Candidate, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%ss?%s", s.baseURL, kind, q.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]types.Candidate, 0, len(body.Items))
	for _, it := range body.Items {
		items = append(items, types.Candidate{Text: it.Text, Kind: kind})
	}
	return items, nil
}
