package embedjobs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/graphmem/graphmem/domain/graph"
	"github.com/graphmem/graphmem/internal/config"
	"github.com/graphmem/graphmem/pkg/apperror"
	"github.com/graphmem/graphmem/pkg/embeddings"
	"github.com/graphmem/graphmem/pkg/logger"
	"github.com/graphmem/graphmem/pkg/ratelimit"
)

// WorkerMetrics is a point-in-time view of worker counters
type WorkerMetrics struct {
	Processed   int64      `json:"processed"`
	Failed      int64      `json:"failed"`
	CacheHits   int64      `json:"cacheHits"`
	CacheMisses int64      `json:"cacheMisses"`
	Paused      bool       `json:"paused"`
	LastLeaseAt *time.Time `json:"lastLeaseAt,omitempty"`
}

// Worker drains the queue: lease a batch, embed each entity's canonical
// text, persist the vector, complete. Multiple workers may run against the
// same queue; the lease protocol keeps them from colliding.
type Worker struct {
	id       string
	queue    *Queue
	graph    *graph.Service
	embedder *embeddings.Service
	limiter  *ratelimit.Bucket
	health   *HealthTracker
	cache    *expirable.LRU[string, []float32]
	cfg      *config.WorkerConfig
	log      *slog.Logger

	paused atomic.Bool
	halted atomic.Bool

	processed   atomic.Int64
	failed      atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	mu          sync.Mutex
	lastLeaseAt *time.Time

	stop chan struct{}
	done sync.WaitGroup
}

// NewWorker creates a Worker
func NewWorker(queue *Queue, graphSvc *graph.Service, embedder *embeddings.Service, health *HealthTracker, cfg *config.Config, log *slog.Logger) *Worker {
	return &Worker{
		id:       "worker-" + uuid.NewString(),
		queue:    queue,
		graph:    graphSvc,
		embedder: embedder,
		limiter: ratelimit.New(cfg.Worker.RateLimitTokens,
			time.Duration(cfg.Worker.RateLimitIntervalMs)*time.Millisecond),
		health: health,
		cache: expirable.NewLRU[string, []float32](cfg.Worker.CacheMaxEntries, nil,
			time.Duration(cfg.Worker.CacheTTLMs)*time.Millisecond),
		cfg:  &cfg.Worker,
		log:  log.With(logger.Scope("embedjobs.worker")),
		stop: make(chan struct{}),
	}
}

// ID returns the worker's lease owner id
func (w *Worker) ID() string { return w.id }

// Start launches the processing, recovery and cleanup loops. Stale leases
// are recovered once immediately so jobs orphaned by a crash come back
// before the first tick. Without an embedding provider the worker stays
// idle: leasing would mark jobs completed with no vector persisted.
func (w *Worker) Start(ctx context.Context) {
	if !w.embedder.IsEnabled() {
		w.log.Warn("embedding provider not configured, worker idle")
		return
	}

	if _, err := w.queue.RecoverStale(ctx); err != nil {
		w.log.Error("startup stale recovery failed", logger.Error(err))
	}

	w.done.Add(1)
	go w.processLoop()

	if w.cfg.RecoveryInterval() > 0 {
		w.done.Add(1)
		go w.recoveryLoop()
	}

	w.done.Add(1)
	go w.cleanupLoop()

	w.log.Info("embedding worker started",
		slog.String("workerId", w.id),
		slog.Int("batchSize", w.cfg.BatchSize),
	)
}

// Stop halts all loops. In-flight jobs are abandoned; their leases expire
// and recovery returns them to pending.
func (w *Worker) Stop() {
	close(w.stop)
	w.done.Wait()
	w.log.Info("embedding worker stopped", slog.String("workerId", w.id))
}

// Pause suspends leasing without stopping the loops
func (w *Worker) Pause() {
	w.paused.Store(true)
	w.log.Info("embedding worker paused")
}

// Resume re-enables leasing
func (w *Worker) Resume() {
	w.paused.Store(false)
	w.log.Info("embedding worker resumed")
}

// Metrics returns current worker counters
func (w *Worker) Metrics() WorkerMetrics {
	w.mu.Lock()
	last := w.lastLeaseAt
	w.mu.Unlock()

	return WorkerMetrics{
		Processed:   w.processed.Load(),
		Failed:      w.failed.Load(),
		CacheHits:   w.cacheHits.Load(),
		CacheMisses: w.cacheMisses.Load(),
		Paused:      w.paused.Load(),
		LastLeaseAt: last,
	}
}

func (w *Worker) processLoop() {
	defer w.done.Done()

	interval := time.Duration(w.cfg.ProcessIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if w.paused.Load() || w.halted.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), interval*2)
			w.processBatch(ctx)
			cancel()
		}
	}
}

func (w *Worker) recoveryLoop() {
	defer w.done.Done()

	ticker := time.NewTicker(w.cfg.RecoveryInterval())
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := w.queue.RecoverStale(ctx); err != nil {
				w.log.Error("stale recovery failed", logger.Error(err))
			}
			cancel()
		}
	}
}

func (w *Worker) cleanupLoop() {
	defer w.done.Done()

	// Retention is measured in days; once an hour is plenty
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := w.queue.Cleanup(ctx, w.cfg.RetentionDays); err != nil {
				w.log.Error("job cleanup failed", logger.Error(err))
			}
			cancel()
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	jobs, err := w.queue.Lease(ctx, w.cfg.BatchSize, w.id, w.cfg.LockDuration())
	if err != nil {
		w.log.Error("lease failed", logger.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	w.mu.Lock()
	now := time.Now()
	w.lastLeaseAt = &now
	w.mu.Unlock()

	jobIDs := make([]string, len(jobs))
	for i, job := range jobs {
		jobIDs[i] = job.ID
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx, jobIDs)

	for i, job := range jobs {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !w.limiter.TryConsume() {
			remaining := jobIDs[i:]
			released, err := w.queue.Release(ctx, remaining, w.id)
			if err != nil {
				w.log.Error("release after rate limit failed", logger.Error(err))
			} else {
				w.log.Info("rate limited, released remaining jobs",
					slog.Int("released", released),
					slog.Int64("resetInMs", w.limiter.Status().ResetInMs),
				)
			}
			return
		}

		w.processJob(ctx, job)
	}
}

// heartbeatLoop extends the lease on the batch until cancelled
func (w *Worker) heartbeatLoop(ctx context.Context, jobIDs []string) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.queue.Heartbeat(ctx, jobIDs, w.id, w.cfg.LockDuration()); err != nil {
				w.log.Error("heartbeat failed", logger.Error(err))
			}
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job EmbedJob) {
	log := w.log.With(slog.String("jobId", job.ID), slog.String("entity", job.EntityUID))

	entity, err := w.graph.GetEntity(ctx, job.EntityUID)
	if err != nil {
		if apperror.CodeOf(err) == apperror.CodeEntityNotFound {
			w.failJob(ctx, job, FailureContext{
				Message:  fmt.Sprintf("entity %q has no current version", job.EntityUID),
				Category: CategoryPermanent,
			}, log)
			return
		}
		w.failJob(ctx, job, NewFailureContext(err), log)
		return
	}

	text := canonicalText(entity)
	key := cacheKey(text)

	vector, cached := w.cache.Get(key)
	if cached {
		w.cacheHits.Add(1)
	} else {
		w.cacheMisses.Add(1)
		vector, err = w.embedder.EmbedQuery(ctx, text)
		if err != nil {
			w.failJob(ctx, job, NewFailureContext(err), log)
			return
		}
		// An empty vector must never reach the index: it would count as
		// embedding coverage while carrying no signal.
		if len(vector) == 0 {
			w.failJob(ctx, job, FailureContext{
				Message:  "embedding provider returned an empty vector",
				Category: CategoryPermanent,
			}, log)
			return
		}
		w.cache.Add(key, vector)
	}

	if err := w.graph.Vectors().Upsert(ctx, entity.Name, vector, job.Model); err != nil {
		w.failJob(ctx, job, NewFailureContext(err), log)
		return
	}

	if err := w.queue.Complete(ctx, job.ID, w.id); err != nil {
		log.Error("complete failed", logger.Error(err))
		w.health.RecordFailure(CategoryTransient)
		w.failed.Add(1)
		return
	}

	w.health.RecordSuccess()
	w.processed.Add(1)
	log.Debug("embedding persisted", slog.Bool("cacheHit", cached))
}

func (w *Worker) failJob(ctx context.Context, job EmbedJob, fc FailureContext, log *slog.Logger) {
	if err := w.queue.Fail(ctx, job.ID, w.id, fc); err != nil {
		log.Error("recording job failure failed", logger.Error(err))
	}

	w.health.RecordFailure(fc.Category)
	w.failed.Add(1)

	if fc.Category == CategoryCritical {
		w.halted.Store(true)
		w.health.MarkHalted()
		log.Error("critical failure, worker halted",
			slog.String("error", fc.Message))
		return
	}
	log.Warn("job failed",
		slog.String("category", string(fc.Category)),
		slog.String("error", fc.Message),
	)
}

// canonicalText is the entity text the embedding is computed over. The
// shape must stay stable; it keys the embedding cache.
func canonicalText(e *graph.Entity) string {
	var b strings.Builder
	b.WriteString("Name: ")
	b.WriteString(e.Name)
	b.WriteString("\nType: ")
	b.WriteString(e.EntityType)
	b.WriteString("\nObservations:\n")
	for _, obs := range e.Observations {
		b.WriteString("- ")
		b.WriteString(obs)
		b.WriteString("\n")
	}
	return b.String()
}

func cacheKey(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
