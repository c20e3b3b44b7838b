package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/graphmem/graphmem/pkg/logger"
)

// JobEnqueuer schedules an embedding job for an entity version. Implemented
// by the embedjobs queue; wired after construction to avoid a package cycle.
type JobEnqueuer interface {
	EnqueueEntity(ctx context.Context, entityID, name string, version int64) error
}

// Service is the graph API surface used by the MCP tools and the search
// pipeline. It delegates to the repository and schedules embedding work
// whenever an entity's observable content changes.
type Service struct {
	repo     *Repository
	vectors  *VectorIndex
	enqueuer JobEnqueuer
	log      *slog.Logger
}

// NewService creates a graph Service
func NewService(repo *Repository, vectors *VectorIndex, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		vectors: vectors,
		log:     log.With(logger.Scope("graph")),
	}
}

// SetJobEnqueuer wires the embedding-job queue. Without one, mutations
// succeed but no embedding work is scheduled.
func (s *Service) SetJobEnqueuer(e JobEnqueuer) {
	s.enqueuer = e
}

// Vectors exposes the vector index
func (s *Service) Vectors() *VectorIndex {
	return s.vectors
}

// CreateEntities creates or versions entities and schedules embedding work
// for every entity that gained observations.
func (s *Service) CreateEntities(ctx context.Context, inputs []EntityInput) ([]Entity, error) {
	entities, err := s.repo.CreateEntities(ctx, inputs)
	if err != nil {
		return nil, err
	}
	for i := range entities {
		s.enqueue(ctx, &entities[i])
	}
	return entities, nil
}

// AddObservations appends observations and re-schedules embedding work for
// each entity that actually changed.
func (s *Service) AddObservations(ctx context.Context, deltas []ObservationDelta) ([]ObservationResult, error) {
	results, err := s.repo.AddObservations(ctx, deltas)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if len(res.AddedObservations) == 0 {
			continue
		}
		s.enqueueByName(ctx, res.EntityName)
	}
	return results, nil
}

// DeleteObservations removes observations and re-schedules embedding work
// for the affected entities.
func (s *Service) DeleteObservations(ctx context.Context, deletions []ObservationDeletion) error {
	if err := s.repo.DeleteObservations(ctx, deletions); err != nil {
		return err
	}
	for _, del := range deletions {
		s.enqueueByName(ctx, del.EntityName)
	}
	return nil
}

// DeleteEntities soft-deletes entities. No embedding work is scheduled; the
// archived rows keep their vectors until purge.
func (s *Service) DeleteEntities(ctx context.Context, names []string) error {
	return s.repo.DeleteEntities(ctx, names)
}

// CreateRelations creates edges between current entities
func (s *Service) CreateRelations(ctx context.Context, inputs []RelationInput) ([]Relation, error) {
	return s.repo.CreateRelations(ctx, inputs)
}

// GetRelation returns the current version of an edge
func (s *Service) GetRelation(ctx context.Context, from, to, relationType string) (*Relation, error) {
	return s.repo.GetRelation(ctx, from, to, relationType)
}

// UpdateRelation archives the current edge version and writes a successor
func (s *Service) UpdateRelation(ctx context.Context, input RelationInput) (*Relation, error) {
	return s.repo.UpdateRelation(ctx, input)
}

// DeleteRelations soft-deletes edges
func (s *Service) DeleteRelations(ctx context.Context, inputs []RelationInput) error {
	return s.repo.DeleteRelations(ctx, inputs)
}

// LoadGraph returns all current entities and relations
func (s *Service) LoadGraph(ctx context.Context) (*KnowledgeGraph, error) {
	return s.repo.LoadGraph(ctx)
}

// GetEntity returns the current version of the named entity
func (s *Service) GetEntity(ctx context.Context, name string) (*Entity, error) {
	return s.repo.GetEntity(ctx, name)
}

// SearchNodes runs a keyword scan over current entities
func (s *Service) SearchNodes(ctx context.Context, query string) (*KnowledgeGraph, error) {
	return s.repo.SearchNodes(ctx, query)
}

// OpenNodes returns the named current entities and the relations among them
func (s *Service) OpenNodes(ctx context.Context, names []string) (*KnowledgeGraph, error) {
	return s.repo.OpenNodes(ctx, names)
}

// GetEntityHistory returns all versions of the named entity
func (s *Service) GetEntityHistory(ctx context.Context, name string) ([]Entity, error) {
	return s.repo.GetEntityHistory(ctx, name)
}

// GetRelationHistory returns all versions of an edge
func (s *Service) GetRelationHistory(ctx context.Context, from, to, relationType string) ([]Relation, error) {
	return s.repo.GetRelationHistory(ctx, from, to, relationType)
}

// GetGraphAtTime reconstructs the graph as of t
func (s *Service) GetGraphAtTime(ctx context.Context, t time.Time) (*KnowledgeGraph, error) {
	return s.repo.GetGraphAtTime(ctx, t)
}

// GetDecayedGraph returns the current graph with decayed relation confidence
func (s *Service) GetDecayedGraph(ctx context.Context, opts DecayOptions) (*KnowledgeGraph, error) {
	return s.repo.GetDecayedGraph(ctx, opts)
}

// GetEntityEmbedding returns the current entity with its stored vector
func (s *Service) GetEntityEmbedding(ctx context.Context, name string) (*Entity, error) {
	return s.vectors.GetEmbedding(ctx, name)
}

// PurgeArchived physically removes entity and relation versions archived
// before the cutoff.
func (s *Service) PurgeArchived(ctx context.Context, cutoff time.Time) (entities, relations int, err error) {
	relations, err = s.repo.PurgeArchivedRelations(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	entities, err = s.repo.PurgeArchivedEntities(ctx, cutoff)
	if err != nil {
		return 0, relations, err
	}
	return entities, relations, nil
}

func (s *Service) enqueue(ctx context.Context, e *Entity) {
	if s.enqueuer == nil || e == nil {
		return
	}
	if err := s.enqueuer.EnqueueEntity(ctx, e.ID, e.Name, e.Version); err != nil {
		// Embedding scheduling is best-effort; the graph write already
		// committed and the backfill tool can repair gaps.
		s.log.Error("failed to enqueue embedding job",
			slog.String("entity", e.Name), logger.Error(err))
	}
}

func (s *Service) enqueueByName(ctx context.Context, name string) {
	if s.enqueuer == nil {
		return
	}
	entity, err := s.repo.GetEntity(ctx, name)
	if err != nil {
		s.log.Warn("skipping embedding enqueue, entity not readable",
			slog.String("entity", name), logger.Error(err))
		return
	}
	s.enqueue(ctx, entity)
}
