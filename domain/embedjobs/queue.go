package embedjobs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/graphmem/graphmem/internal/config"
	"github.com/graphmem/graphmem/internal/database"
	"github.com/graphmem/graphmem/pkg/apperror"
	"github.com/graphmem/graphmem/pkg/logger"
)

// Queue is the durable embed-job store. All state transitions are single
// write transactions so concurrent workers serialize through the store.
type Queue struct {
	db    *database.JobsDB
	model string
	cfg   *config.WorkerConfig
	log   *slog.Logger
}

// NewQueue creates a Queue
func NewQueue(db *database.JobsDB, cfg *config.Config, log *slog.Logger) *Queue {
	return &Queue{
		db:    db,
		model: cfg.Embeddings.Model,
		cfg:   &cfg.Worker,
		log:   log.With(logger.Scope("embedjobs.queue")),
	}
}

// EnqueueEntity schedules embedding work for an entity version using the
// configured model and retry budget. Satisfies the graph service's enqueuer.
func (q *Queue) EnqueueEntity(ctx context.Context, entityID, name string, version int64) error {
	_, err := q.Enqueue(ctx, name, q.model, strconv.FormatInt(version, 10), 0, q.cfg.MaxRetries)
	return err
}

// Enqueue upserts a job keyed by (entity_uid, model, version). A new row
// starts pending; an existing failed row is re-queued; anything else is a
// no-op returning "".
func (q *Queue) Enqueue(ctx context.Context, entityUID, model, version string, priority, maxAttempts int) (string, error) {
	id := uuid.NewString()

	res, err := q.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MERGE (j:EmbedJob {entity_uid: $uid, model: $model, version: $version})
			ON CREATE SET
				j.id = $id,
				j.status = 'pending',
				j.priority = $priority,
				j.attempts = 0,
				j.max_attempts = $maxAttempts,
				j.created_at = $now
			WITH j, (j.id = $id) AS created, (j.status = 'failed') AS wasFailed
			FOREACH (_ IN CASE WHEN wasFailed THEN [1] ELSE [] END |
				SET j.status = 'pending',
					j.attempts = 0,
					j.lock_owner = null,
					j.lock_until = null,
					j.error = null,
					j.error_category = null,
					j.error_stack = null,
					j.permanent = null,
					j.processed_at = null
			)
			RETURN CASE WHEN created OR wasFailed THEN j.id ELSE null END AS id`,
			map[string]any{
				"uid":         entityUID,
				"model":       model,
				"version":     version,
				"id":          id,
				"priority":    int64(priority),
				"maxAttempts": int64(maxAttempts),
				"now":         nowMillis(),
			})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		raw, _ := record.Get("id")
		if raw == nil {
			return "", nil
		}
		return raw.(string), nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job for %q: %w", entityUID, err)
	}

	jobID := res.(string)
	if jobID != "" {
		q.log.Debug("embed job queued",
			slog.String("entity", entityUID), slog.String("jobId", jobID))
	}
	return jobID, nil
}

// Lease atomically claims up to batchSize pending jobs for workerID,
// ordered by priority then age. Claimed jobs move to processing with the
// attempt counter bumped and a lock that expires after lockDuration.
func (q *Queue) Lease(ctx context.Context, batchSize int, workerID string, lockDuration time.Duration) ([]EmbedJob, error) {
	if batchSize <= 0 {
		return nil, nil
	}

	now := nowMillis()
	res, err := q.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (j:EmbedJob)
			WHERE j.status = 'pending' AND (j.lock_until IS NULL OR j.lock_until < $now)
			WITH j ORDER BY j.priority DESC, j.created_at ASC
			LIMIT $batch
			SET j.status = 'processing',
				j.lock_owner = $worker,
				j.lock_until = $until,
				j.attempts = j.attempts + 1
			RETURN j`,
			map[string]any{
				"now":    now,
				"batch":  int64(batchSize),
				"worker": workerID,
				"until":  now + lockDuration.Milliseconds(),
			})
		if err != nil {
			return nil, err
		}
		return collectJobs(ctx, result)
	})
	if err != nil {
		return nil, fmt.Errorf("lease jobs: %w", err)
	}
	return res.([]EmbedJob), nil
}

// Heartbeat extends the lock on jobs still owned by workerID
func (q *Queue) Heartbeat(ctx context.Context, jobIDs []string, workerID string, lockDuration time.Duration) (int, error) {
	if len(jobIDs) == 0 {
		return 0, nil
	}
	count, err := q.updateCount(ctx, `
		MATCH (j:EmbedJob)
		WHERE j.id IN $ids AND j.lock_owner = $worker AND j.status = 'processing'
		SET j.lock_until = $until
		RETURN count(j) AS n`,
		map[string]any{
			"ids":    jobIDs,
			"worker": workerID,
			"until":  nowMillis() + lockDuration.Milliseconds(),
		})
	if err != nil {
		return 0, fmt.Errorf("heartbeat: %w", err)
	}
	return count, nil
}

// Release voluntarily returns jobs owned by workerID to pending, clearing
// the lock. Used when the worker yields, e.g. on rate limiting.
func (q *Queue) Release(ctx context.Context, jobIDs []string, workerID string) (int, error) {
	if len(jobIDs) == 0 {
		return 0, nil
	}
	count, err := q.updateCount(ctx, `
		MATCH (j:EmbedJob)
		WHERE j.id IN $ids AND j.lock_owner = $worker
		SET j.status = 'pending', j.lock_owner = null, j.lock_until = null
		RETURN count(j) AS n`,
		map[string]any{"ids": jobIDs, "worker": workerID})
	if err != nil {
		return 0, fmt.Errorf("release: %w", err)
	}
	return count, nil
}

// RecoverStale returns expired processing jobs to pending. Attempts are
// preserved so a crash-looping job still exhausts its retry budget.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	count, err := q.updateCount(ctx, `
		MATCH (j:EmbedJob)
		WHERE j.status = 'processing' AND j.lock_until < $now
		SET j.status = 'pending', j.lock_owner = null, j.lock_until = null
		RETURN count(j) AS n`,
		map[string]any{"now": nowMillis()})
	if err != nil {
		return 0, fmt.Errorf("recover stale: %w", err)
	}
	if count > 0 {
		q.log.Info("recovered stale jobs", slog.Int("count", count))
	}
	return count, nil
}

// Complete marks a job done. A job no longer owned by workerID is left
// untouched; the lease was lost and someone else owns the outcome.
func (q *Queue) Complete(ctx context.Context, jobID, workerID string) error {
	count, err := q.updateCount(ctx, `
		MATCH (j:EmbedJob {id: $id})
		WHERE j.lock_owner = $worker AND j.status = 'processing'
		SET j.status = 'completed',
			j.processed_at = $now,
			j.lock_owner = null,
			j.lock_until = null
		RETURN count(j) AS n`,
		map[string]any{"id": jobID, "worker": workerID, "now": nowMillis()})
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if count == 0 {
		q.log.Warn("complete matched no rows, lease lost", slog.String("jobId", jobID))
	}
	return nil
}

// Fail records a failure. The job becomes failed when the failure is
// terminal or the retry budget is spent; otherwise it returns to pending
// for another attempt.
func (q *Queue) Fail(ctx context.Context, jobID, workerID string, fc FailureContext) error {
	count, err := q.updateCount(ctx, `
		MATCH (j:EmbedJob {id: $id})
		WHERE j.lock_owner = $worker AND j.status = 'processing'
		WITH j, ($terminal OR j.attempts >= j.max_attempts) AS final
		SET j.status = CASE WHEN final THEN 'failed' ELSE 'pending' END,
			j.error = $error,
			j.error_category = $category,
			j.error_stack = $stack,
			j.permanent = final,
			j.processed_at = CASE WHEN final THEN $now ELSE j.processed_at END,
			j.lock_owner = null,
			j.lock_until = null
		RETURN count(j) AS n`,
		map[string]any{
			"id":       jobID,
			"worker":   workerID,
			"terminal": fc.Terminal(),
			"error":    fc.Message,
			"category": string(fc.Category),
			"stack":    fc.Stack,
			"now":      nowMillis(),
		})
	if err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	if count == 0 {
		q.log.Warn("fail matched no rows, lease lost", slog.String("jobId", jobID))
	}
	return nil
}

// RetryFailed re-queues every failed job with a fresh retry budget
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	count, err := q.updateCount(ctx, `
		MATCH (j:EmbedJob)
		WHERE j.status = 'failed'
		SET j.status = 'pending',
			j.attempts = 0,
			j.error = null,
			j.error_category = null,
			j.error_stack = null,
			j.permanent = null,
			j.processed_at = null
		RETURN count(j) AS n`, nil)
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	if count > 0 {
		q.log.Info("re-queued failed jobs", slog.Int("count", count))
	}
	return count, nil
}

// Cleanup deletes completed and failed rows processed before the retention
// window. retentionDays outside [7, 30] is rejected.
func (q *Queue) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 7 || retentionDays > 30 {
		return 0, apperror.ErrConfigInvalid.WithMessage(
			fmt.Sprintf("retention days must be within [7, 30], got %d", retentionDays))
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	count, err := q.updateCount(ctx, `
		MATCH (j:EmbedJob)
		WHERE j.status IN ['completed', 'failed']
			AND j.processed_at IS NOT NULL AND j.processed_at < $cutoff
		DELETE j
		RETURN count(j) AS n`,
		map[string]any{"cutoff": cutoff})
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	if count > 0 {
		q.log.Info("cleaned up expired jobs", slog.Int("count", count))
	}
	return count, nil
}

// Stats returns per-status row counts
func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	res, err := q.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (j:EmbedJob)
			RETURN j.status AS status, count(j) AS n`, nil)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}

		stats := &QueueStats{}
		for _, record := range records {
			status, _ := record.Get("status")
			n, _ := record.Get("n")
			count, _ := n.(int64)
			switch Status(statusString(status)) {
			case StatusPending:
				stats.Pending = count
			case StatusProcessing:
				stats.Processing = count
			case StatusCompleted:
				stats.Completed = count
			case StatusFailed:
				stats.Failed = count
			}
		}
		return stats, nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return res.(*QueueStats), nil
}

// GetJob returns a job by id, or ErrEntityNotFound
func (q *Queue) GetJob(ctx context.Context, jobID string) (*EmbedJob, error) {
	res, err := q.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			`MATCH (j:EmbedJob {id: $id}) RETURN j`,
			map[string]any{"id": jobID})
		if err != nil {
			return nil, err
		}
		jobs, err := collectJobs(ctx, result)
		if err != nil {
			return nil, err
		}
		if len(jobs) == 0 {
			return nil, apperror.ErrEntityNotFound.WithMessage(fmt.Sprintf("job %s not found", jobID))
		}
		return &jobs[0], nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*EmbedJob), nil
}

func (q *Queue) updateCount(ctx context.Context, cypher string, params map[string]any) (int, error) {
	res, err := q.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := record.Get("n")
		count, _ := n.(int64)
		return int(count), nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

func collectJobs(ctx context.Context, result neo4j.ResultWithContext) ([]EmbedJob, error) {
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]EmbedJob, 0, len(records))
	for _, record := range records {
		raw, _ := record.Get("j")
		node, ok := raw.(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected job record shape")
		}
		jobs = append(jobs, jobFromNode(node))
	}
	return jobs, nil
}

func jobFromNode(node neo4j.Node) EmbedJob {
	props := node.Props
	job := EmbedJob{
		ID:            stringProp(props, "id"),
		EntityUID:     stringProp(props, "entity_uid"),
		Model:         stringProp(props, "model"),
		Version:       stringProp(props, "version"),
		Status:        Status(stringProp(props, "status")),
		Priority:      int(intProp(props, "priority")),
		Attempts:      int(intProp(props, "attempts")),
		MaxAttempts:   int(intProp(props, "max_attempts")),
		LockOwner:     stringProp(props, "lock_owner"),
		Error:         stringProp(props, "error"),
		ErrorCategory: stringProp(props, "error_category"),
		ErrorStack:    stringProp(props, "error_stack"),
	}
	if v, ok := props["permanent"].(bool); ok {
		job.Permanent = v
	}
	if v, ok := props["created_at"].(int64); ok {
		job.CreatedAt = time.UnixMilli(v)
	}
	if v, ok := props["processed_at"].(int64); ok {
		t := time.UnixMilli(v)
		job.ProcessedAt = &t
	}
	if v, ok := props["lock_until"].(int64); ok {
		t := time.UnixMilli(v)
		job.LockUntil = &t
	}
	return job
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func intProp(props map[string]any, key string) int64 {
	n, _ := props[key].(int64)
	return n
}

func statusString(v any) string {
	s, _ := v.(string)
	return s
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
