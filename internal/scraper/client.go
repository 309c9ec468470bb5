// Package scraper talks to the external browser-automation scraping service
// that performs live web retrieval.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"queryagent/internal/apperrors"
	"queryagent/internal/metrics"
	"queryagent/pkg/logging/logging"
	"queryagent/pkg/types"
)

const DefaultMaxResults = 5

type Config struct {
	BaseURL    string        // default: http://localhost:8001
	Timeout    time.Duration // whole scrape budget (default: 90s)
	MaxResults int           // default: 5

	HTTPClient *http.Client
}

func (c *Config) WithDefaults() Config {
	cfg := *c
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8001"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	return cfg
}

type scrapeRequest struct {
	Query string `json:"query"`
}

type scrapeResponse struct {
	Query        string               `json:"query"`
	Results      []types.SearchResult `json:"results"`
	TotalResults int                  `json:"total_results"`
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger.Named("scraper")}
}

// Retrieve asks the scraping service for live results for query. Results
// without a snippet or page content are dropped and at most MaxResults are
// returned.
//
// Errors: apperrors.ErrFetchTimeout when the budget runs out,
// apperrors.ErrFetchBlocked when the service refuses or fails,
// apperrors.ErrFetchEmpty when nothing usable came back.
func (c *Client) Retrieve(ctx context.Context, query string) (results []types.SearchResult, err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamRequestsTotal.WithLabelValues("scraper", apperrors.Code(err)).Inc()
		metrics.UpstreamSeconds.WithLabelValues("scraper").Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(scrapeRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("scraper: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scraper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return nil, c.transportError(ctx, err)
		}
		return nil, fmt.Errorf("%w: decode scrape response: %v", apperrors.ErrFetchBlocked, err)
	}

	results = usable(out.Results, c.cfg.MaxResults)
	logging.L(ctx).Info("scrape completed",
		zap.String("query", query),
		zap.Int("returned", len(out.Results)),
		zap.Int("usable", len(results)),
		zap.Duration("latency", time.Since(start)),
	)

	if len(results) == 0 {
		if len(out.Results) == 0 {
			return nil, fmt.Errorf("%w: no results for %q", apperrors.ErrFetchEmpty, query)
		}
		return nil, fmt.Errorf("%w: results for %q had no extractable content", apperrors.ErrFetchEmpty, query)
	}
	return results, nil
}

// Health checks that the scraping service answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scraper health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scraper health: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", apperrors.ErrFetchTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	c.logger.Warn("scraper unreachable", zap.Error(err))
	return fmt.Errorf("%w: %w", apperrors.ErrFetchBlocked, err)
}

func statusError(status int, detail string) error {
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	switch status {
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return fmt.Errorf("%w: scraper status %d: %s", apperrors.ErrFetchTimeout, status, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: scraper status %d: %s", apperrors.ErrFetchEmpty, status, detail)
	default:
		// 403, 429, 451 and 5xx all mean the search engine refused us or the
		// browser failed
		return fmt.Errorf("%w: scraper status %d: %s", apperrors.ErrFetchBlocked, status, detail)
	}
}

func usable(in []types.SearchResult, limit int) []types.SearchResult {
	out := make([]types.SearchResult, 0, min(len(in), limit))
	for _, r := range in {
		if strings.TrimSpace(r.Snippet) == "" && strings.TrimSpace(r.Content) == "" {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}
