package embedjobs

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/graphmem/graphmem/domain/graph"
	"github.com/graphmem/graphmem/pkg/embeddings"
)

// Module provides the job queue, health tracker and embedding worker
var Module = fx.Module("embedjobs",
	fx.Provide(
		NewQueue,
		NewHealthTracker,
		NewWorker,
	),
	fx.Invoke(wireEnqueuer),
	fx.Invoke(runWorker),
)

// wireEnqueuer connects the graph service to the queue. Done post-construction
// so the graph package stays free of a dependency on this one. Without an
// embedding provider no jobs are scheduled at all; queued work would only
// ever complete with no vector behind it.
func wireEnqueuer(graphSvc *graph.Service, queue *Queue, embedder *embeddings.Service, log *slog.Logger) {
	if !embedder.IsEnabled() {
		log.Info("embedding provider not configured, graph mutations will not schedule embedding jobs")
		return
	}
	graphSvc.SetJobEnqueuer(queue)
}

func runWorker(lc fx.Lifecycle, worker *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			worker.Start(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			worker.Stop()
			return nil
		},
	})
}
