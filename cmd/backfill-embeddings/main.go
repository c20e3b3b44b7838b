// Package main schedules embedding jobs for current entities that lack a
// vector, repairing gaps left by crashed workers or enqueue failures.
// With -all it re-queues every current entity, e.g. after a model change.
package main

import (
	"context"
	"flag"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/graphmem/graphmem/domain/embedjobs"
	"github.com/graphmem/graphmem/domain/graph"
	"github.com/graphmem/graphmem/internal/config"
	"github.com/graphmem/graphmem/internal/database"
	"github.com/graphmem/graphmem/pkg/embeddings"
	"github.com/graphmem/graphmem/pkg/logger"
)

func main() {
	all := flag.Bool("all", false, "re-queue every current entity, not just those missing a vector")
	flag.Parse()

	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		logger.Module,
		config.Module,
		database.Module,
		embeddings.Module,
		graph.Module,
		fx.Provide(embedjobs.NewQueue),

		fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner, repo *graph.Repository, queue *embedjobs.Queue, log *slog.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer func() { _ = shutdowner.Shutdown() }()
						if err := backfill(repo, queue, *all, log); err != nil {
							log.Error("backfill failed", logger.Error(err))
						}
					}()
					return nil
				},
			})
		}),
	).Run()
}

func backfill(repo *graph.Repository, queue *embedjobs.Queue, all bool, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	g, err := repo.LoadGraph(ctx)
	if err != nil {
		return err
	}

	queued := 0
	skipped := 0
	for i := range g.Entities {
		e := &g.Entities[i]
		if !all && len(e.Vector) > 0 {
			skipped++
			continue
		}
		if err := queue.EnqueueEntity(ctx, e.ID, e.Name, e.Version); err != nil {
			log.Warn("enqueue failed",
				slog.String("entity", e.Name), logger.Error(err))
			continue
		}
		queued++
	}

	log.Info("backfill complete",
		slog.Int("queued", queued),
		slog.Int("skipped", skipped),
		slog.Int("total", len(g.Entities)),
	)
	return nil
}
