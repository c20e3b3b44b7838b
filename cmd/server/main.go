// Package main runs the knowledge-graph memory server: MCP over stdio plus
// the embedding worker and the health HTTP endpoint.
package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/graphmem/graphmem/domain/embedjobs"
	"github.com/graphmem/graphmem/domain/graph"
	"github.com/graphmem/graphmem/domain/health"
	"github.com/graphmem/graphmem/domain/mcp"
	"github.com/graphmem/graphmem/domain/search"
	"github.com/graphmem/graphmem/internal/config"
	"github.com/graphmem/graphmem/internal/database"
	"github.com/graphmem/graphmem/internal/server"
	"github.com/graphmem/graphmem/pkg/embeddings"
	"github.com/graphmem/graphmem/pkg/logger"
)

func main() {
	// Load .env files if present (for local development).
	// Load() won't overwrite existing vars, Overload() will.
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		server.Module,

		// Embeddings module (provides the embedding client)
		embeddings.Module,

		// Domain modules
		graph.Module,
		search.Module,
		embedjobs.Module,
		mcp.Module,
		health.Module,

		fx.Invoke(runTransport),
	).Run()
}

// runTransport drives the stdio MCP loop. When the client closes the
// stream the whole app shuts down, tearing the worker and servers down
// with it.
func runTransport(lc fx.Lifecycle, handler *mcp.StdioHandler, shutdowner fx.Shutdowner, log *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := handler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("mcp transport failed", logger.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
