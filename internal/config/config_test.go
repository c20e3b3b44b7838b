package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmem/graphmem/pkg/apperror"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("STORE_URI", "bolt://graph:7687")
	t.Setenv("STORE_USERNAME", "neo4j")
	t.Setenv("STORE_PASSWORD", "secret")
	t.Setenv("EMBED_JOB_RETENTION_DAYS", "14")

	cfg, err := NewConfig(testLogger())
	require.NoError(t, err)

	assert.Equal(t, "neo4j", cfg.Store.Database)
	assert.Equal(t, "embedding-jobs", cfg.Jobs.Database)
	assert.Equal(t, "entity_embeddings", cfg.Vector.IndexName)
	assert.Equal(t, 1536, cfg.Vector.Dimensions)
	assert.Equal(t, "cosine", cfg.Vector.Similarity)
	assert.Equal(t, "text-embedding-3-small", cfg.Embeddings.Model)
	assert.Equal(t, 14, cfg.Worker.RetentionDays)
	assert.Equal(t, 3001, cfg.HealthPort)
}

func TestNewConfig_JobDBInheritsStoreCredentials(t *testing.T) {
	t.Setenv("STORE_URI", "bolt://graph:7687")
	t.Setenv("STORE_USERNAME", "admin")
	t.Setenv("STORE_PASSWORD", "hunter2")
	t.Setenv("EMBED_JOB_RETENTION_DAYS", "14")
	t.Setenv("JOB_DB_URI", "")
	t.Setenv("JOB_DB_USERNAME", "")
	t.Setenv("JOB_DB_PASSWORD", "")

	cfg, err := NewConfig(testLogger())
	require.NoError(t, err)

	assert.Equal(t, "bolt://graph:7687", cfg.Jobs.URI)
	assert.Equal(t, "admin", cfg.Jobs.Username)
	assert.Equal(t, "hunter2", cfg.Jobs.Password)
}

func TestNewConfig_JobDBOverrides(t *testing.T) {
	t.Setenv("STORE_URI", "bolt://graph:7687")
	t.Setenv("EMBED_JOB_RETENTION_DAYS", "14")
	t.Setenv("JOB_DB_URI", "bolt://jobs:7687")
	t.Setenv("JOB_DB_USERNAME", "jobsuser")
	t.Setenv("JOB_DB_PASSWORD", "jobspass")

	cfg, err := NewConfig(testLogger())
	require.NoError(t, err)

	assert.Equal(t, "bolt://jobs:7687", cfg.Jobs.URI)
	assert.Equal(t, "jobsuser", cfg.Jobs.Username)
}

func TestNewConfig_RetentionBounds(t *testing.T) {
	tests := []struct {
		name    string
		days    string
		wantErr bool
	}{
		{"below floor", "6", true},
		{"at floor", "7", false},
		{"within range", "14", false},
		{"at ceiling", "30", false},
		{"above ceiling", "31", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("EMBED_JOB_RETENTION_DAYS", tt.days)

			cfg, err := NewConfig(testLogger())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperror.ErrConfigInvalid)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewConfig_RetentionRequired(t *testing.T) {
	// t.Setenv registers the restore; the unset makes the variable truly
	// absent rather than empty.
	t.Setenv("EMBED_JOB_RETENTION_DAYS", "")
	os.Unsetenv("EMBED_JOB_RETENTION_DAYS")

	cfg, err := NewConfig(testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConfigInvalid)
	assert.Nil(t, cfg)
}

func TestNewConfig_InvalidSimilarity(t *testing.T) {
	t.Setenv("EMBED_JOB_RETENTION_DAYS", "14")
	t.Setenv("SIMILARITY", "manhattan")

	_, err := NewConfig(testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConfigInvalid)
}

func TestWorkerConfig_HeartbeatFallback(t *testing.T) {
	w := WorkerConfig{LockDurationMs: 300000}

	// lockDuration / 2.5
	assert.Equal(t, 120*time.Second, w.HeartbeatInterval())

	w.HeartbeatIntervalMs = 45000
	assert.Equal(t, 45*time.Second, w.HeartbeatInterval())
}

func TestWorkerConfig_RecoveryDisabled(t *testing.T) {
	w := WorkerConfig{RecoveryIntervalMs: 0}
	assert.Equal(t, time.Duration(0), w.RecoveryInterval())
}
