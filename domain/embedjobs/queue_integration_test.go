package embedjobs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"github.com/graphmem/graphmem/internal/database"
)

// Store-backed queue tests. They need a Neo4j instance with multi-database
// support (the jobs database is auto-created on startup) and skip when
// NEO4J_TEST_URI is unset. Jobs carry a per-run entity_uid prefix and a high
// priority so leftovers from other runs never shadow them; rows are removed
// afterwards.

const testPriority = 1000

func setupQueue(t *testing.T) (*Queue, func(string) string) {
	t.Helper()

	uri := os.Getenv("NEO4J_TEST_URI")
	if uri == "" {
		t.Skip("NEO4J_TEST_URI not set, skipping store-backed tests")
	}

	cfg := testWorkerConfig()
	cfg.Jobs.URI = uri
	cfg.Jobs.Username = envOr("NEO4J_TEST_USERNAME", "neo4j")
	cfg.Jobs.Password = os.Getenv("NEO4J_TEST_PASSWORD")
	cfg.Jobs.Database = envOr("NEO4J_TEST_JOB_DATABASE", "embedjobs-test")
	cfg.Embeddings.Model = "text-embedding-3-small"

	lc := fxtest.NewLifecycle(t)
	db, err := database.NewJobsDB(lc, cfg, testLogger())
	require.NoError(t, err)
	lc.RequireStart()
	t.Cleanup(func() { lc.RequireStop() })

	run := "it" + uuid.NewString()[:8] + "-"
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx,
				`MATCH (j:EmbedJob) WHERE j.entity_uid STARTS WITH $prefix DETACH DELETE j`,
				map[string]any{"prefix": run})
			return nil, err
		})
	})

	return NewQueue(db, cfg, testLogger()), func(base string) string { return run + base }
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// leaseOwn leases a batch and returns this test's job from it, or nil
func leaseOwn(t *testing.T, q *Queue, workerID, jobID string, lockDuration time.Duration) *EmbedJob {
	t.Helper()
	jobs, err := q.Lease(context.Background(), 100, workerID, lockDuration)
	require.NoError(t, err)
	for i := range jobs {
		if jobs[i].ID == jobID {
			return &jobs[i]
		}
	}
	return nil
}

func TestQueue_EnqueueDeduplicates(t *testing.T) {
	q, name := setupQueue(t)
	ctx := context.Background()

	uid := name("Ada")
	first, err := q.Enqueue(ctx, uid, "m", "1", testPriority, 3)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Same (entity_uid, model, version) while pending: no-op
	second, err := q.Enqueue(ctx, uid, "m", "1", testPriority, 3)
	require.NoError(t, err)
	assert.Empty(t, second)

	job, err := q.GetJob(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
}

// A crashed worker's lease expires and RecoverStale returns the job to
// pending with its attempt count intact, so the next worker can lease it.
func TestQueue_StaleLeaseRecovery(t *testing.T) {
	q, name := setupQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, name("Ada"), "m", "1", testPriority, 3)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	leased := leaseOwn(t, q, "worker-a", id, 50*time.Millisecond)
	require.NotNil(t, leased)
	assert.Equal(t, 1, leased.Attempts)

	// Worker A "crashes"; its lock expires
	time.Sleep(80 * time.Millisecond)

	recovered, err := q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, recovered, 1)

	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Empty(t, job.LockOwner)
	assert.Nil(t, job.LockUntil)

	leased = leaseOwn(t, q, "worker-b", id, time.Minute)
	require.NotNil(t, leased)
	assert.Equal(t, "worker-b", leased.LockOwner)
	assert.Equal(t, 2, leased.Attempts)
}

// A rate-limited worker releases the jobs it never got to; they go straight
// back to pending with the lock cleared while in-flight jobs finish.
func TestQueue_ReleaseReturnsUnprocessedJobs(t *testing.T) {
	q, name := setupQueue(t)
	ctx := context.Background()

	ids := make([]string, 3)
	for i, base := range []string{"Ada", "Bob", "Cleo"} {
		id, err := q.Enqueue(ctx, name(base), "m", "1", testPriority, 3)
		require.NoError(t, err)
		ids[i] = id
	}

	for _, id := range ids {
		require.NotNil(t, leaseOwn(t, q, "worker-a", id, time.Minute))
	}

	released, err := q.Release(ctx, ids[1:], "worker-a")
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	for _, id := range ids[1:] {
		job, err := q.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, job.Status)
		assert.Empty(t, job.LockOwner)
		assert.Nil(t, job.LockUntil)
	}

	// The in-flight job is unaffected and completes normally
	require.NoError(t, q.Complete(ctx, ids[0], "worker-a"))
	job, err := q.GetJob(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	require.NotNil(t, job.ProcessedAt)

	// Completing a released job is a no-op: the lease is gone
	require.NoError(t, q.Complete(ctx, ids[1], "worker-a"))
	job, err = q.GetJob(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
}

// Transient failures retry until the budget is spent, then the job is
// failed terminally. RetryFailed re-queues it with a fresh budget.
func TestQueue_RetryExhaustionAndRetryFailed(t *testing.T) {
	q, name := setupQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, name("Ada"), "m", "1", testPriority, 3)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	timeout := FailureContext{Message: "provider timeout", Category: CategoryTransient}
	for attempt := 1; attempt <= 3; attempt++ {
		leased := leaseOwn(t, q, "worker-a", id, time.Minute)
		require.NotNil(t, leased, "attempt %d", attempt)
		assert.Equal(t, attempt, leased.Attempts)
		require.NoError(t, q.Fail(ctx, id, "worker-a", timeout))
	}

	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.True(t, job.Permanent)
	assert.Equal(t, string(CategoryTransient), job.ErrorCategory)
	assert.Equal(t, "provider timeout", job.Error)
	require.NotNil(t, job.ProcessedAt)

	// Terminal jobs are invisible to Lease
	assert.Nil(t, leaseOwn(t, q, "worker-b", id, time.Minute))

	requeued, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, requeued, 1)

	job, err = q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Empty(t, job.Error)
	assert.False(t, job.Permanent)
}

// A permanent failure is terminal on the first attempt
func TestQueue_PermanentFailureIsTerminal(t *testing.T) {
	q, name := setupQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, name("Ghost"), "m", "1", testPriority, 3)
	require.NoError(t, err)

	require.NotNil(t, leaseOwn(t, q, "worker-a", id, time.Minute))
	require.NoError(t, q.Fail(ctx, id, "worker-a", FailureContext{
		Message:  "entity has no current version",
		Category: CategoryPermanent,
	}))

	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.True(t, job.Permanent)
	assert.Equal(t, 1, job.Attempts)
}

// Re-enqueueing a failed job flips it back to pending with cleared state
func TestQueue_EnqueueRequeuesFailedJob(t *testing.T) {
	q, name := setupQueue(t)
	ctx := context.Background()

	uid := name("Ada")
	id, err := q.Enqueue(ctx, uid, "m", "1", testPriority, 3)
	require.NoError(t, err)

	require.NotNil(t, leaseOwn(t, q, "worker-a", id, time.Minute))
	require.NoError(t, q.Fail(ctx, id, "worker-a", FailureContext{
		Message:  "bad input",
		Category: CategoryPermanent,
	}))

	requeued, err := q.Enqueue(ctx, uid, "m", "1", testPriority, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, requeued)

	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Empty(t, job.Error)
	assert.False(t, job.Permanent)
}
