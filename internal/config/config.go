package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"

	"github.com/graphmem/graphmem/pkg/apperror"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"local"`
	Debug       bool   `env:"DEBUG" envDefault:"false"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Graph store connection
	Store StoreConfig

	// Isolated embedding-job database
	Jobs JobsConfig

	// Vector index settings
	Vector VectorConfig

	// Embedding provider
	Embeddings EmbeddingsConfig

	// Embedding worker + queue
	Worker WorkerConfig

	// Health endpoint
	HealthPort      int           `env:"HEALTH_PORT" envDefault:"3001"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// StoreConfig holds the graph database connection settings
type StoreConfig struct {
	URI      string `env:"STORE_URI" envDefault:"bolt://localhost:7687"`
	Username string `env:"STORE_USERNAME" envDefault:"neo4j"`
	Password string `env:"STORE_PASSWORD" envDefault:""`
	Database string `env:"GRAPH_DB_NAME" envDefault:"neo4j"`
}

// JobsConfig holds the embedding-job database connection settings.
// URI and credentials default to the graph store's when unset.
type JobsConfig struct {
	URI      string `env:"JOB_DB_URI" envDefault:""`
	Username string `env:"JOB_DB_USERNAME" envDefault:""`
	Password string `env:"JOB_DB_PASSWORD" envDefault:""`
	Database string `env:"JOB_DB_NAME" envDefault:"embedding-jobs"`
}

// VectorConfig holds vector index settings
type VectorConfig struct {
	IndexName  string `env:"VECTOR_INDEX_NAME" envDefault:"entity_embeddings"`
	Dimensions int    `env:"VECTOR_DIMENSIONS" envDefault:"1536"`
	Similarity string `env:"SIMILARITY" envDefault:"cosine"`
}

// EmbeddingsConfig holds embedding provider configuration
type EmbeddingsConfig struct {
	APIKey string `env:"EMBEDDING_PROVIDER_API_KEY" envDefault:""`
	Model  string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
}

// IsEnabled returns true if an embedding provider is configured
func (e *EmbeddingsConfig) IsEnabled() bool {
	return e.APIKey != ""
}

// WorkerConfig holds embedding worker and job queue configuration
type WorkerConfig struct {
	// RetentionDays is how long completed/failed jobs are kept. There is no
	// default: operators must set a value within [7, 30] or startup fails.
	RetentionDays int `env:"EMBED_JOB_RETENTION_DAYS"`

	// RecoveryIntervalMs is the stale-lease recovery cadence. 0 disables.
	RecoveryIntervalMs int `env:"EMBED_JOB_RECOVERY_INTERVAL_MS" envDefault:"60000"`

	LockDurationMs      int `env:"EMBED_JOB_LOCK_DURATION_MS" envDefault:"300000"`
	HeartbeatIntervalMs int `env:"EMBED_JOB_HEARTBEAT_INTERVAL_MS" envDefault:"120000"`
	MaxRetries          int `env:"EMBED_JOB_MAX_RETRIES" envDefault:"3"`

	RateLimitTokens     int `env:"EMBEDDING_RATE_LIMIT_TOKENS" envDefault:"20"`
	RateLimitIntervalMs int `env:"EMBEDDING_RATE_LIMIT_INTERVAL_MS" envDefault:"60000"`

	// ProcessIntervalMs is the main loop cadence
	ProcessIntervalMs int `env:"EMBED_WORKER_INTERVAL_MS" envDefault:"10000"`
	BatchSize         int `env:"EMBED_WORKER_BATCH_SIZE" envDefault:"10"`

	// Embedding text cache
	CacheMaxEntries int `env:"EMBED_CACHE_MAX_ENTRIES" envDefault:"1000"`
	CacheTTLMs      int `env:"EMBED_CACHE_TTL_MS" envDefault:"3600000"`
}

// LockDuration returns the lease duration as a Duration
func (w *WorkerConfig) LockDuration() time.Duration {
	return time.Duration(w.LockDurationMs) * time.Millisecond
}

// HeartbeatInterval returns the heartbeat cadence. When unset it falls back
// to lockDuration / 2.5 so leases are always extended well before expiry.
func (w *WorkerConfig) HeartbeatInterval() time.Duration {
	if w.HeartbeatIntervalMs > 0 {
		return time.Duration(w.HeartbeatIntervalMs) * time.Millisecond
	}
	return w.LockDuration() * 2 / 5
}

// RecoveryInterval returns the stale recovery cadence (0 = disabled)
func (w *WorkerConfig) RecoveryInterval() time.Duration {
	return time.Duration(w.RecoveryIntervalMs) * time.Millisecond
}

// ProcessInterval returns the worker loop cadence
func (w *WorkerConfig) ProcessInterval() time.Duration {
	return time.Duration(w.ProcessIntervalMs) * time.Millisecond
}

// RateLimitInterval returns the token bucket refill interval
func (w *WorkerConfig) RateLimitInterval() time.Duration {
	return time.Duration(w.RateLimitIntervalMs) * time.Millisecond
}

// CacheTTL returns the embedding cache entry TTL
func (w *WorkerConfig) CacheTTL() time.Duration {
	return time.Duration(w.CacheTTLMs) * time.Millisecond
}

// Validate checks cross-field constraints that env tags cannot express
func (c *Config) Validate() error {
	if c.Worker.RetentionDays < 7 || c.Worker.RetentionDays > 30 {
		return apperror.ErrConfigInvalid.WithMessage(
			fmt.Sprintf("EMBED_JOB_RETENTION_DAYS must be within [7, 30], got %d", c.Worker.RetentionDays))
	}
	if c.Vector.Similarity != "cosine" && c.Vector.Similarity != "euclidean" {
		return apperror.ErrConfigInvalid.WithMessage(
			fmt.Sprintf("SIMILARITY must be cosine or euclidean, got %q", c.Vector.Similarity))
	}
	if c.Vector.Dimensions <= 0 {
		return apperror.ErrConfigInvalid.WithMessage(
			fmt.Sprintf("VECTOR_DIMENSIONS must be positive, got %d", c.Vector.Dimensions))
	}
	return nil
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// The job database shares the store endpoint unless overridden
	if cfg.Jobs.URI == "" {
		cfg.Jobs.URI = cfg.Store.URI
	}
	if cfg.Jobs.Username == "" {
		cfg.Jobs.Username = cfg.Store.Username
	}
	if cfg.Jobs.Password == "" {
		cfg.Jobs.Password = cfg.Store.Password
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("store_uri", cfg.Store.URI),
		slog.String("graph_db", cfg.Store.Database),
		slog.String("job_db", cfg.Jobs.Database),
		slog.Int("health_port", cfg.HealthPort),
	)

	return cfg, nil
}
