// Package openai provides an OpenAI embeddings client.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultModel is the default embedding model
	DefaultModel = "text-embedding-3-small"

	// DefaultMaxRetries is the number of retries per request
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the first retry delay; subsequent delays double
	// (1s, 2s, 4s) with ±10% jitter.
	DefaultBaseDelay = 1 * time.Second

	// DefaultTimeout is the per-request timeout
	DefaultTimeout = 30 * time.Second
)

// Config holds the configuration for the OpenAI client
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client is an OpenAI embeddings client
type Client struct {
	api   *openai.Client
	model string
	log   *slog.Logger

	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithMaxRetries sets the maximum number of retries
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the first retry delay
func WithBaseDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new OpenAI embeddings client
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		api:        openai.NewClient(cfg.APIKey),
		model:      cfg.Model,
		log:        slog.Default(),
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		timeout:    cfg.Timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model identifier
func (c *Client) Model() string {
	return c.model
}

// EmbedQuery generates an embedding for the given text, retrying transient
// failures with exponential backoff and jitter.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	var embedding []float32

	policy := backoff.WithContext(c.retryPolicy(), ctx)
	attempt := 0

	err := backoff.Retry(func() error {
		attempt++

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.api.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
			Input: []string{query},
			Model: openai.EmbeddingModel(c.model),
		})
		if err != nil {
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			c.log.Warn("embedding request failed, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return err
		}
		if len(resp.Data) == 0 {
			return backoff.Permanent(fmt.Errorf("empty embedding response"))
		}
		embedding = resp.Data[0].Embedding
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}

	return embedding, nil
}

// retryPolicy yields delays of base, 2*base, 4*base with ±10% jitter
func (c *Client) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(c.maxRetries))
}

// isPermanent reports whether the error should not be retried
// (authentication and malformed-request failures).
func isPermanent(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.HTTPStatusCode {
	case 400, 401, 403, 404:
		return true
	}
	return false
}
