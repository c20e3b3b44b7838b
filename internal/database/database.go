// Package database owns the Neo4j drivers for the two logical databases:
// the graph database (entities, relations, embeddings) and the isolated
// embedding-job database.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/fx"

	"github.com/graphmem/graphmem/internal/config"
	"github.com/graphmem/graphmem/pkg/logger"
)

var Module = fx.Module("database",
	fx.Provide(
		NewGraphDB,
		NewJobsDB,
		NewSchemaManager,
	),
	fx.Invoke(Bootstrap),
)

// DB bundles a driver with the database it targets. Each logical database
// owns its own driver so the two connection pools stay isolated.
type DB struct {
	driver neo4j.DriverWithContext
	name   string
}

// Name returns the target database name
func (d *DB) Name() string { return d.name }

// Driver exposes the underlying driver (used by schema bootstrap)
func (d *DB) Driver() neo4j.DriverWithContext { return d.driver }

// Session opens a session bound to this database
func (d *DB) Session(ctx context.Context) neo4j.SessionWithContext {
	return d.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.name})
}

// ExecuteWrite runs work in a single write transaction, rolled back on error
func (d *DB) ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := d.Session(ctx)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, work)
}

// ExecuteRead runs work in a read transaction
func (d *DB) ExecuteRead(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := d.Session(ctx)
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, work)
}

// GraphDB targets the graph database
type GraphDB struct{ *DB }

// JobsDB targets the embedding-job database
type JobsDB struct{ *DB }

func newDriver(ctx context.Context, uri, username, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify connectivity: %w", err)
	}
	return driver, nil
}

// NewGraphDB creates the driver for the graph database
func NewGraphDB(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*GraphDB, error) {
	log = log.With(logger.Scope("database.graph"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	driver, err := newDriver(ctx, cfg.Store.URI, cfg.Store.Username, cfg.Store.Password)
	if err != nil {
		return nil, fmt.Errorf("graph database: %w", err)
	}

	log.Info("graph database driver created",
		slog.String("uri", cfg.Store.URI),
		slog.String("database", cfg.Store.Database),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing graph database driver")
			return driver.Close(ctx)
		},
	})

	return &GraphDB{&DB{driver: driver, name: cfg.Store.Database}}, nil
}

// NewJobsDB creates the driver for the embedding-job database, ensuring the
// database exists first. Auto-create goes through the store's system
// database; without admin rights on it, startup fails fast.
func NewJobsDB(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*JobsDB, error) {
	log = log.With(logger.Scope("database.jobs"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	driver, err := newDriver(ctx, cfg.Jobs.URI, cfg.Jobs.Username, cfg.Jobs.Password)
	if err != nil {
		return nil, fmt.Errorf("jobs database: %w", err)
	}

	if err := ensureDatabase(ctx, driver, cfg.Jobs.Database); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("ensure jobs database %q: %w", cfg.Jobs.Database, err)
	}

	log.Info("jobs database driver created",
		slog.String("uri", cfg.Jobs.URI),
		slog.String("database", cfg.Jobs.Database),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing jobs database driver")
			return driver.Close(ctx)
		},
	})

	return &JobsDB{&DB{driver: driver, name: cfg.Jobs.Database}}, nil
}

var databaseNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9.-]*$`)

// ensureDatabase creates the named database if missing. Database names are
// not parameterizable in Cypher, so the name is validated and interpolated.
func ensureDatabase(ctx context.Context, driver neo4j.DriverWithContext, name string) error {
	if !databaseNameRe.MatchString(name) {
		return fmt.Errorf("invalid database name %q", name)
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "system"})
	defer session.Close(ctx)

	_, err := session.Run(ctx, fmt.Sprintf("CREATE DATABASE `%s` IF NOT EXISTS WAIT", name), nil)
	if err != nil {
		return fmt.Errorf("create database (admin rights required): %w", err)
	}
	return nil
}

// Bootstrap ensures constraints and indexes exist on startup
func Bootstrap(lc fx.Lifecycle, sm *SchemaManager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sm.EnsureSchema(ctx)
		},
	})
}
