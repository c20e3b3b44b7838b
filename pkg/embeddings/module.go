// Package embeddings provides embedding generation functionality.
package embeddings

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/graphmem/graphmem/internal/config"
	"github.com/graphmem/graphmem/pkg/embeddings/openai"
)

// Module provides the embeddings fx.Module
var Module = fx.Module("embeddings",
	fx.Provide(NewService),
)

// Service provides embedding generation with automatic client selection
type Service struct {
	client  Client
	log     *slog.Logger
	enabled bool
}

// NewNoopService creates a service with a noop client (for testing)
func NewNoopService(log *slog.Logger) *Service {
	return &Service{
		client:  NewNoopClient(),
		log:     log,
		enabled: false,
	}
}

// NewClientService wraps an explicit client (for testing)
func NewClientService(client Client, log *slog.Logger) *Service {
	return &Service{
		client:  client,
		log:     log,
		enabled: true,
	}
}

// NewService creates a new embeddings service
func NewService(cfg *config.Config, log *slog.Logger) *Service {
	embCfg := cfg.Embeddings

	if !embCfg.IsEnabled() {
		log.Info("embeddings service disabled - no provider API key configured")
		return &Service{
			client:  NewNoopClient(),
			log:     log,
			enabled: false,
		}
	}

	client, err := openai.NewClient(openai.Config{
		APIKey: embCfg.APIKey,
		Model:  embCfg.Model,
	}, openai.WithLogger(log))
	if err != nil {
		log.Error("failed to initialize embeddings client", slog.String("error", err.Error()))
		return &Service{
			client:  NewNoopClient(),
			log:     log,
			enabled: false,
		}
	}

	log.Info("embeddings client initialized", slog.String("model", embCfg.Model))
	return &Service{
		client:  client,
		log:     log,
		enabled: true,
	}
}

// IsEnabled returns true if embeddings are available
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// Model returns the configured model identifier
func (s *Service) Model() string {
	return s.client.Model()
}

// EmbedQuery generates an embedding for a single text
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.client.EmbedQuery(ctx, query)
}
