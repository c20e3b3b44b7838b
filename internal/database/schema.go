package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/graphmem/graphmem/internal/config"
	"github.com/graphmem/graphmem/pkg/logger"
)

// SchemaManager creates the constraints and indexes both databases rely on.
// All statements are idempotent (IF NOT EXISTS) so bootstrap can run on
// every startup.
type SchemaManager struct {
	graph *GraphDB
	jobs  *JobsDB
	cfg   *config.Config
	log   *slog.Logger
}

// NewSchemaManager creates a new schema manager
func NewSchemaManager(graph *GraphDB, jobs *JobsDB, cfg *config.Config, log *slog.Logger) *SchemaManager {
	return &SchemaManager{
		graph: graph,
		jobs:  jobs,
		cfg:   cfg,
		log:   log.With(logger.Scope("schema")),
	}
}

// EnsureSchema creates all constraints and indexes
func (m *SchemaManager) EnsureSchema(ctx context.Context) error {
	if err := m.ensureGraphSchema(ctx); err != nil {
		return fmt.Errorf("graph schema: %w", err)
	}
	if err := m.ensureJobsSchema(ctx); err != nil {
		return fmt.Errorf("jobs schema: %w", err)
	}
	m.log.Info("schema ensured",
		slog.String("graph_db", m.graph.Name()),
		slog.String("jobs_db", m.jobs.Name()),
		slog.String("vector_index", m.cfg.Vector.IndexName),
	)
	return nil
}

func (m *SchemaManager) ensureGraphSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS
		 FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		// (name, validTo) backs the current-row lookup. Current-row
		// uniqueness is enforced by the versioning transaction, not a
		// constraint; see DESIGN.md.
		`CREATE INDEX entity_name_validto IF NOT EXISTS
		 FOR (e:Entity) ON (e.name, e.validTo)`,
		`CREATE INDEX entity_name IF NOT EXISTS
		 FOR (e:Entity) ON (e.name)`,
		`CREATE INDEX entity_validfrom IF NOT EXISTS
		 FOR (e:Entity) ON (e.validFrom)`,
		m.vectorIndexStatement(),
	}
	return m.runAll(ctx, m.graph.DB, statements)
}

func (m *SchemaManager) ensureJobsSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT embedjob_id_unique IF NOT EXISTS
		 FOR (j:EmbedJob) REQUIRE j.id IS UNIQUE`,
		// Job identity: one job per (entity_uid, model, version)
		`CREATE CONSTRAINT embedjob_identity IF NOT EXISTS
		 FOR (j:EmbedJob) REQUIRE (j.entity_uid, j.model, j.version) IS NODE KEY`,
		`CREATE INDEX embedjob_status IF NOT EXISTS
		 FOR (j:EmbedJob) ON (j.status)`,
		`CREATE INDEX embedjob_lock_until IF NOT EXISTS
		 FOR (j:EmbedJob) ON (j.lock_until)`,
		`CREATE INDEX embedjob_processed_at IF NOT EXISTS
		 FOR (j:EmbedJob) ON (j.processed_at)`,
	}
	return m.runAll(ctx, m.jobs.DB, statements)
}

// vectorIndexStatement builds the vector index DDL from configuration
func (m *SchemaManager) vectorIndexStatement() string {
	similarity := m.cfg.Vector.Similarity
	if similarity != "euclidean" {
		similarity = "cosine"
	}
	return fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
		 FOR (e:Entity) ON (e.vector)
		 OPTIONS {indexConfig: {
		   `+"`vector.dimensions`"+`: %d,
		   `+"`vector.similarity_function`"+`: '%s'
		 }}`,
		m.cfg.Vector.IndexName, m.cfg.Vector.Dimensions, similarity)
}

func (m *SchemaManager) runAll(ctx context.Context, db *DB, statements []string) error {
	session := db.Session(ctx)
	defer session.Close(ctx)

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("run %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i > 0 {
		return strings.TrimSpace(stmt[:i])
	}
	return stmt
}
