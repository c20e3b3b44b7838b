// Package embeddings provides embedding generation functionality.
package embeddings

import (
	"context"
)

// Client generates embedding vectors for text
type Client interface {
	// EmbedQuery generates an embedding vector for the given text
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// Model returns the model identifier vectors are produced with
	Model() string
}

// NoopClient is a no-op implementation that returns nil embeddings.
// Used when no provider is configured.
type NoopClient struct{}

// NewNoopClient creates a new NoopClient
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

// EmbedQuery returns nil, nil (no embedding available)
func (c *NoopClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return nil, nil
}

// Model returns an empty model identifier
func (c *NoopClient) Model() string {
	return ""
}
