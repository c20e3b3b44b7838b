package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/graphmem/graphmem/domain/embedjobs"
	"github.com/graphmem/graphmem/internal/config"
	"github.com/graphmem/graphmem/internal/database"
)

// Handler serves worker health and queue statistics
type Handler struct {
	tracker *embedjobs.HealthTracker
	queue   *embedjobs.Queue
	worker  *embedjobs.Worker
	graphDB *database.GraphDB
	cfg     *config.Config
	startAt time.Time
}

// NewHandler creates a new health handler
func NewHandler(tracker *embedjobs.HealthTracker, queue *embedjobs.Queue, worker *embedjobs.Worker, graphDB *database.GraphDB, cfg *config.Config) *Handler {
	return &Handler{
		tracker: tracker,
		queue:   queue,
		worker:  worker,
		graphDB: graphDB,
		cfg:     cfg,
		startAt: time.Now(),
	}
}

// HealthResponse is the GET /health payload
type HealthResponse struct {
	State                embedjobs.State         `json:"state"`
	ConsecutiveFailures  int                     `json:"consecutiveFailures"`
	SuccessRate          float64                 `json:"successRate"`
	ErrorPatterns        map[string]int64        `json:"errorPatterns"`
	LastSuccessTimestamp *time.Time              `json:"lastSuccessTimestamp,omitempty"`
	Queue                *embedjobs.QueueStats   `json:"queue,omitempty"`
	Worker               embedjobs.WorkerMetrics `json:"worker"`
	Uptime               string                  `json:"uptime"`
	Timestamp            string                  `json:"timestamp"`
}

// Health returns the worker health classification plus queue and worker
// statistics. Queue stats are best-effort; a failing jobs database must not
// take the endpoint down with it.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	snap := h.tracker.Snapshot()

	response := HealthResponse{
		State:                snap.State,
		ConsecutiveFailures:  snap.ConsecutiveFailures,
		SuccessRate:          snap.SuccessRate,
		ErrorPatterns:        snap.ErrorPatterns,
		LastSuccessTimestamp: snap.LastSuccessTimestamp,
		Worker:               h.worker.Metrics(),
		Uptime:               time.Since(h.startAt).String(),
		Timestamp:            time.Now().UTC().Format(time.RFC3339),
	}

	if stats, err := h.queue.Stats(ctx); err == nil {
		response.Queue = stats
	}

	statusCode := http.StatusOK
	if snap.State == embedjobs.StateCritical {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, response)
}

// Healthz returns a simple health check (for k8s liveness probe)
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready returns readiness based on graph store connectivity (for k8s
// readiness probes)
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.graphDB.Driver().VerifyConnectivity(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"message": "graph store connection failed",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ready"})
}

// Debug returns runtime information (only outside production)
func (h *Handler) Debug(c echo.Context) error {
	if h.cfg.Environment == "production" {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return c.JSON(http.StatusOK, map[string]any{
		"environment": h.cfg.Environment,
		"debug":       h.cfg.Debug,
		"go_version":  runtime.Version(),
		"goroutines":  runtime.NumGoroutine(),
		"memory": map[string]any{
			"alloc_mb":       mem.Alloc / 1024 / 1024,
			"total_alloc_mb": mem.TotalAlloc / 1024 / 1024,
			"sys_mb":         mem.Sys / 1024 / 1024,
			"num_gc":         mem.NumGC,
		},
		"graph_database": h.cfg.Store.Database,
		"jobs_database":  h.cfg.Jobs.Database,
	})
}
