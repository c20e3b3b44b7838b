package embeddings

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmem/graphmem/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestNoopClient(t *testing.T) {
	c := NewNoopClient()

	vec, err := c.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Nil(t, vec)
	assert.Empty(t, c.Model())
}

func TestNewService_DisabledWithoutAPIKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embeddings.APIKey = ""

	svc := NewService(cfg, testLogger())

	assert.False(t, svc.IsEnabled())
	vec, err := svc.EmbedQuery(context.Background(), "anything")
	require.NoError(t, err)
	assert.Nil(t, vec)
}

func TestNewService_EnabledWithAPIKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embeddings.APIKey = "sk-test"
	cfg.Embeddings.Model = "text-embedding-3-small"

	svc := NewService(cfg, testLogger())

	assert.True(t, svc.IsEnabled())
	assert.Equal(t, "text-embedding-3-small", svc.Model())
}

type staticClient struct {
	vec []float32
}

func (c *staticClient) EmbedQuery(ctx context.Context, q string) ([]float32, error) {
	return c.vec, nil
}

func (c *staticClient) Model() string { return "static-test" }

func TestNewClientService(t *testing.T) {
	svc := NewClientService(&staticClient{vec: []float32{0.1, 0.2}}, testLogger())

	assert.True(t, svc.IsEnabled())
	vec, err := svc.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
}
