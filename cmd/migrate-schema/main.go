// Package main ensures the graph and job database schemas: constraints,
// indexes and the vector index. Safe to run repeatedly.
package main

import (
	"context"
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/graphmem/graphmem/internal/config"
	"github.com/graphmem/graphmem/internal/database"
	"github.com/graphmem/graphmem/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	// database.Module ensures the schema on startup; this tool just starts
	// the app, lets bootstrap run, and exits.
	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		logger.Module,
		config.Module,
		database.Module,

		fx.Invoke(exitAfterBootstrap),
	).Run()
}

func exitAfterBootstrap(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("schema migration complete")
			go func() { _ = shutdowner.Shutdown() }()
			return nil
		},
	})
}
