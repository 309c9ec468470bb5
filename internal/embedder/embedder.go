// Package embedder turns query text into vectors through an OpenAI-compatible
// embeddings endpoint.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"queryagent/internal/apperrors"
	"queryagent/internal/metrics"
)

const DefaultDimensions = 768

type Config struct {
	BaseURL string // e.g. https://api.openai.com/v1
	APIKey  string
	Model   string // default: text-embedding-3-small

	// Dimensions is requested from the provider and enforced on every
	// response. Zero accepts whatever length the first response has.
	Dimensions int

	Timeout    time.Duration // per call (default: 10s)
	MaxRetries int           // default: 2, negative disables

	HTTPClient *http.Client
}

func (c *Config) WithDefaults() Config {
	cfg := *c
	if cfg.Model == "" {
		cfg.Model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = 2
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("embedder: BaseURL is required")
	}
	if c.Dimensions < 0 {
		return errors.New("embedder: Dimensions must not be negative")
	}
	return nil
}

// Client embeds text. Concurrent calls for the same text share one request.
type Client struct {
	api    openai.Client
	cfg    Config
	logger *zap.Logger
	group  singleflight.Group

	// dim is the enforced vector length, fixed by config or the first response.
	dim atomic.Int64
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	c := &Client{
		api:    openai.NewClient(opts...),
		cfg:    cfg,
		logger: logger.Named("embedder"),
	}
	c.dim.Store(int64(cfg.Dimensions))
	return c, nil
}

// Dimensions returns the enforced vector length, or 0 before the first
// response when none was configured.
func (c *Client) Dimensions() int { return int(c.dim.Load()) }

// Embed returns the embedding of text. Failures wrap apperrors.ErrEmbeddingUnavailable.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", apperrors.ErrInvalidQuery)
	}

	// the shared request must not die with whichever caller started it
	ch := c.group.DoChan(text, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()
		return c.fetch(callCtx, text)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", apperrors.ErrEmbeddingUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("embedding shared", zap.String("text", text))
		}
		v := res.Val.([]float64)
		return append([]float64(nil), v...), nil
	}
}

func (c *Client) fetch(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()

	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:          openai.EmbeddingModel(c.cfg.Model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if c.cfg.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.cfg.Dimensions))
	}

	resp, err := c.api.Embeddings.New(ctx, params)
	metrics.UpstreamSeconds.WithLabelValues("embedder").Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.UpstreamRequestsTotal.WithLabelValues("embedder", outcome).Inc()

		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			c.logger.Warn("embedding request rejected",
				zap.Int("status", apiErr.StatusCode),
				zap.String("model", c.cfg.Model),
			)
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrEmbeddingUnavailable, err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		metrics.UpstreamRequestsTotal.WithLabelValues("embedder", "error").Inc()
		return nil, fmt.Errorf("%w: provider returned no vector", apperrors.ErrEmbeddingUnavailable)
	}
	v := resp.Data[0].Embedding

	// first response fixes the length when none was configured
	want := c.dim.Load()
	if want == 0 && c.dim.CompareAndSwap(0, int64(len(v))) {
		want = int64(len(v))
		c.logger.Info("embedding dimension fixed", zap.Int("dimensions", len(v)))
	} else if want == 0 {
		want = c.dim.Load()
	}
	if int64(len(v)) != want {
		metrics.UpstreamRequestsTotal.WithLabelValues("embedder", "error").Inc()
		return nil, fmt.Errorf("%w: %w: got %d values, want %d",
			apperrors.ErrEmbeddingUnavailable, apperrors.ErrDimensionMismatch, len(v), want)
	}

	metrics.UpstreamRequestsTotal.WithLabelValues("embedder", "ok").Inc()
	return v, nil
}
