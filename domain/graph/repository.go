package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/graphmem/graphmem/internal/database"
	"github.com/graphmem/graphmem/pkg/apperror"
	"github.com/graphmem/graphmem/pkg/logger"
)

// Repository is the bitemporal graph engine. Every mutation that changes an
// entity funnels through createNewEntityVersion, which archives the old row
// together with its current edges and re-creates the edges against the new
// row. Current reads always filter validTo IS NULL on rows and edges alike.
type Repository struct {
	db  *database.GraphDB
	log *slog.Logger
}

// NewRepository creates a new graph repository
func NewRepository(db *database.GraphDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("graph.repo")),
	}
}

// CreateEntities creates or versions entities. Existing entities receiving
// no new observations are left untouched; only effectively changed entities
// are returned.
func (r *Repository) CreateEntities(ctx context.Context, inputs []EntityInput) ([]Entity, error) {
	created := make([]Entity, 0, len(inputs))

	for _, input := range inputs {
		input := input
		result, err := r.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			current, err := r.findCurrentTx(ctx, tx, input.Name)
			if err != nil {
				return nil, err
			}

			if current == nil {
				return r.insertFirstVersionTx(ctx, tx, input)
			}

			merged, added := mergeObservations(current.Observations, input.Observations)
			if len(added) == 0 {
				// Idempotent: nothing new to record
				return nil, nil
			}
			return r.createNewEntityVersionTx(ctx, tx, input.Name, merged)
		})
		if err != nil {
			return nil, fmt.Errorf("create entity %q: %w", input.Name, err)
		}
		if entity, ok := result.(*Entity); ok && entity != nil {
			created = append(created, *entity)
		}
	}

	return created, nil
}

// AddObservations appends novel observations to entities, producing a new
// version per changed entity. Unknown entity names are skipped with a
// warning.
func (r *Repository) AddObservations(ctx context.Context, deltas []ObservationDelta) ([]ObservationResult, error) {
	results := make([]ObservationResult, 0, len(deltas))

	for _, delta := range deltas {
		delta := delta
		res, err := r.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			current, err := r.findCurrentTx(ctx, tx, delta.EntityName)
			if err != nil {
				return nil, err
			}
			if current == nil {
				return nil, nil
			}

			merged, added := mergeObservations(current.Observations, delta.Contents)
			if len(added) == 0 {
				return &ObservationResult{EntityName: delta.EntityName, AddedObservations: []string{}}, nil
			}

			if _, err := r.createNewEntityVersionTx(ctx, tx, delta.EntityName, merged); err != nil {
				return nil, err
			}
			return &ObservationResult{EntityName: delta.EntityName, AddedObservations: added}, nil
		})
		if err != nil {
			return nil, fmt.Errorf("add observations to %q: %w", delta.EntityName, err)
		}
		if res == nil {
			r.log.Warn("entity not found, skipping observation delta",
				slog.String("entity", delta.EntityName))
			continue
		}
		results = append(results, *res.(*ObservationResult))
	}

	return results, nil
}

// DeleteObservations removes observations, reusing the same versioning
// primitive as AddObservations so relationships are preserved.
func (r *Repository) DeleteObservations(ctx context.Context, deletions []ObservationDeletion) error {
	for _, deletion := range deletions {
		deletion := deletion
		res, err := r.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			current, err := r.findCurrentTx(ctx, tx, deletion.EntityName)
			if err != nil {
				return nil, err
			}
			if current == nil {
				return nil, nil
			}

			remaining := subtractObservations(current.Observations, deletion.Observations)
			if len(remaining) == len(current.Observations) {
				// Nothing matched; no new version
				return current, nil
			}
			return r.createNewEntityVersionTx(ctx, tx, deletion.EntityName, remaining)
		})
		if err != nil {
			return fmt.Errorf("delete observations from %q: %w", deletion.EntityName, err)
		}
		if res == nil {
			r.log.Warn("entity not found, skipping observation deletion",
				slog.String("entity", deletion.EntityName))
		}
	}
	return nil
}

// DeleteEntities soft-deletes entities, cascading to every current edge in
// both directions. Archived versions are untouched.
func (r *Repository) DeleteEntities(ctx context.Context, names []string) error {
	for _, name := range names {
		name := name
		res, err := r.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			now := nowMillis()

			result, err := tx.Run(ctx, `
				MATCH (e:Entity {name: $name}) WHERE e.validTo IS NULL
				SET e.validTo = $now, e.updatedAt = $now
				RETURN e.id AS id`,
				map[string]any{"name": name, "now": now})
			if err != nil {
				return nil, err
			}
			records, err := result.Collect(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return false, nil
			}

			if err := r.invalidateEdgesTx(ctx, tx, name, now); err != nil {
				return nil, err
			}
			return true, nil
		})
		if err != nil {
			return fmt.Errorf("delete entity %q: %w", name, err)
		}
		if found, ok := res.(bool); ok && !found {
			r.log.Warn("entity not found, skipping delete", slog.String("entity", name))
		}
	}
	return nil
}

// CreateRelations creates edges between current entity versions. Missing or
// archived endpoints cause the relation to be skipped with a warning; an
// equivalent current edge makes the call a no-op for that relation.
func (r *Repository) CreateRelations(ctx context.Context, inputs []RelationInput) ([]Relation, error) {
	created := make([]Relation, 0, len(inputs))

	for _, input := range inputs {
		input := input
		res, err := r.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			existing, err := r.findCurrentRelationTx(ctx, tx, input.From, input.To, input.RelationType)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				// Idempotent: equivalent current edge already present
				return nil, nil
			}
			return r.insertRelationTx(ctx, tx, input, 1)
		})
		if err != nil {
			return nil, fmt.Errorf("create relation %s-[%s]->%s: %w",
				input.From, input.RelationType, input.To, err)
		}
		switch v := res.(type) {
		case *Relation:
			if v != nil {
				created = append(created, *v)
			}
		case nil:
		}
	}

	return created, nil
}

// GetRelation returns the current edge matching (from, to, relationType),
// or nil when none exists.
func (r *Repository) GetRelation(ctx context.Context, from, to, relationType string) (*Relation, error) {
	res, err := r.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return r.findCurrentRelationTx(ctx, tx, from, to, relationType)
	})
	if err != nil {
		return nil, fmt.Errorf("get relation: %w", err)
	}
	if rel, ok := res.(*Relation); ok {
		return rel, nil
	}
	return nil, nil
}

// UpdateRelation archives the current edge and creates a successor with an
// incremented version and the updated fields. Fails with EntityNotCurrent
// when either endpoint has no current version.
func (r *Repository) UpdateRelation(ctx context.Context, input RelationInput) (*Relation, error) {
	res, err := r.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		endpointsCurrent, err := r.endpointsCurrentTx(ctx, tx, input.From, input.To)
		if err != nil {
			return nil, err
		}
		if !endpointsCurrent {
			return nil, apperror.ErrEntityNotCurrent.WithDetails(map[string]any{
				"from": input.From, "to": input.To,
			})
		}

		existing, err := r.findCurrentRelationTx(ctx, tx, input.From, input.To, input.RelationType)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, apperror.ErrEntityNotFound.WithMessage(fmt.Sprintf(
				"no current relation %s-[%s]->%s", input.From, input.RelationType, input.To))
		}

		now := nowMillis()
		result, err := tx.Run(ctx, `
			MATCH (a:Entity {name: $from})-[r:RELATES {id: $id}]->(b:Entity {name: $to})
			WHERE r.validTo IS NULL
			SET r.validTo = $now, r.updatedAt = $now`,
			map[string]any{"from": input.From, "to": input.To, "id": existing.ID, "now": now})
		if err != nil {
			return nil, err
		}
		if _, err := result.Consume(ctx); err != nil {
			return nil, err
		}

		next := input
		if next.Strength == nil {
			next.Strength = &existing.Strength
		}
		if next.Confidence == nil {
			next.Confidence = &existing.Confidence
		}
		if next.Metadata == nil {
			next.Metadata = existing.Metadata
		}
		return r.insertRelationTx(ctx, tx, next, existing.Version+1)
	})
	if err != nil {
		return nil, fmt.Errorf("update relation: %w", err)
	}

	rel, ok := res.(*Relation)
	if !ok || rel == nil {
		return nil, apperror.ErrEntityNotCurrent.WithDetails(map[string]any{
			"from": input.From, "to": input.To,
		})
	}
	return rel, nil
}

// DeleteRelations soft-deletes the matching current edges. Already archived
// edges make the call a no-op.
func (r *Repository) DeleteRelations(ctx context.Context, inputs []RelationInput) error {
	for _, input := range inputs {
		input := input
		_, err := r.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, `
				MATCH (a:Entity {name: $from})-[r:RELATES {relationType: $type}]->(b:Entity {name: $to})
				WHERE r.validTo IS NULL
				SET r.validTo = $now, r.updatedAt = $now`,
				map[string]any{
					"from": input.From,
					"to":   input.To,
					"type": input.RelationType,
					"now":  nowMillis(),
				})
			if err != nil {
				return nil, err
			}
			return result.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("delete relation %s-[%s]->%s: %w",
				input.From, input.RelationType, input.To, err)
		}
	}
	return nil
}

// LoadGraph returns the full current graph
func (r *Repository) LoadGraph(ctx context.Context) (*KnowledgeGraph, error) {
	res, err := r.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		entities, err := collectEntities(ctx, tx, `
			MATCH (e:Entity) WHERE e.validTo IS NULL
			RETURN e ORDER BY e.name`, nil)
		if err != nil {
			return nil, err
		}

		relations, err := collectRelations(ctx, tx, `
			MATCH (a:Entity)-[r:RELATES]->(b:Entity)
			WHERE r.validTo IS NULL AND a.validTo IS NULL AND b.validTo IS NULL
			RETURN r ORDER BY r.from, r.to`, nil)
		if err != nil {
			return nil, err
		}

		return &KnowledgeGraph{Entities: entities, Relations: relations}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}
	return res.(*KnowledgeGraph), nil
}

// GetEntity returns the current version of one entity, or EntityNotFound
func (r *Repository) GetEntity(ctx context.Context, name string) (*Entity, error) {
	res, err := r.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return r.findCurrentTx(ctx, tx, name)
	})
	if err != nil {
		return nil, fmt.Errorf("get entity %q: %w", name, err)
	}
	entity, ok := res.(*Entity)
	if !ok || entity == nil {
		return nil, apperror.ErrEntityNotFound.WithMessage(fmt.Sprintf("no current entity %q", name))
	}
	return entity, nil
}

// SearchNodes does a case-insensitive substring search over current entity
// names, types and observations, returning the matches plus the current
// relations among them.
func (r *Repository) SearchNodes(ctx context.Context, query string) (*KnowledgeGraph, error) {
	needle := strings.ToLower(query)

	res, err := r.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		entities, err := collectEntities(ctx, tx, `
			MATCH (e:Entity) WHERE e.validTo IS NULL AND (
				toLower(e.name) CONTAINS $q
				OR toLower(e.entityType) CONTAINS $q
				OR any(o IN e.observations WHERE toLower(o) CONTAINS $q)
			)
			RETURN e ORDER BY e.name`,
			map[string]any{"q": needle})
		if err != nil {
			return nil, err
		}

		names := entityNames(entities)
		relations, err := collectRelations(ctx, tx, `
			MATCH (a:Entity)-[r:RELATES]->(b:Entity)
			WHERE r.validTo IS NULL AND a.validTo IS NULL AND b.validTo IS NULL
				AND a.name IN $names AND b.name IN $names
			RETURN r`,
			map[string]any{"names": names})
		if err != nil {
			return nil, err
		}

		return &KnowledgeGraph{Entities: entities, Relations: relations}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("search nodes: %w", err)
	}
	return res.(*KnowledgeGraph), nil
}

// OpenNodes returns the current versions of the named entities plus the
// current relations among them.
func (r *Repository) OpenNodes(ctx context.Context, names []string) (*KnowledgeGraph, error) {
	res, err := r.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		entities, err := collectEntities(ctx, tx, `
			MATCH (e:Entity) WHERE e.validTo IS NULL AND e.name IN $names
			RETURN e ORDER BY e.name`,
			map[string]any{"names": names})
		if err != nil {
			return nil, err
		}

		found := entityNames(entities)
		relations, err := collectRelations(ctx, tx, `
			MATCH (a:Entity)-[r:RELATES]->(b:Entity)
			WHERE r.validTo IS NULL AND a.validTo IS NULL AND b.validTo IS NULL
				AND a.name IN $names AND b.name IN $names
			RETURN r`,
			map[string]any{"names": found})
		if err != nil {
			return nil, err
		}

		return &KnowledgeGraph{Entities: entities, Relations: relations}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("open nodes: %w", err)
	}
	return res.(*KnowledgeGraph), nil
}

// findCurrentTx loads the current version of an entity by name, indexed by
// (name, validTo). Returns nil when no current row exists.
func (r *Repository) findCurrentTx(ctx context.Context, tx neo4j.ManagedTransaction, name string) (*Entity, error) {
	result, err := tx.Run(ctx, `
		MATCH (e:Entity {name: $name}) WHERE e.validTo IS NULL
		RETURN e LIMIT 1`,
		map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	node, ok := records[0].Get("e")
	if !ok {
		return nil, apperror.ErrInvariantViolation.WithMessage("entity record without node")
	}
	entity, err := nodeToEntity(node.(neo4j.Node))
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// insertFirstVersionTx creates version 1 of a brand-new entity
func (r *Repository) insertFirstVersionTx(ctx context.Context, tx neo4j.ManagedTransaction, input EntityInput) (*Entity, error) {
	now := nowMillis()
	observations := dedupeStrings(input.Observations)

	result, err := tx.Run(ctx, `
		CREATE (e:Entity {
			id: $id,
			name: $name,
			entityType: $entityType,
			observations: $observations,
			version: 1,
			createdAt: $now,
			updatedAt: $now,
			validFrom: $now
		})
		RETURN e`,
		map[string]any{
			"id":           uuid.NewString(),
			"name":         input.Name,
			"entityType":   input.EntityType,
			"observations": observations,
			"now":          now,
		})
	if err != nil {
		return nil, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, err
	}
	node, _ := record.Get("e")
	entity, err := nodeToEntity(node.(neo4j.Node))
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// invalidateEdgesTx archives every current edge touching the named entity
func (r *Repository) invalidateEdgesTx(ctx context.Context, tx neo4j.ManagedTransaction, name string, now int64) error {
	statements := []string{
		`MATCH (e:Entity {name: $name})-[out:RELATES]->()
		 WHERE e.validTo = $now AND out.validTo IS NULL
		 SET out.validTo = $now, out.updatedAt = $now`,
		`MATCH ()-[in:RELATES]->(e:Entity {name: $name})
		 WHERE e.validTo = $now AND in.validTo IS NULL
		 SET in.validTo = $now, in.updatedAt = $now`,
	}
	for _, stmt := range statements {
		result, err := tx.Run(ctx, stmt, map[string]any{"name": name, "now": now})
		if err != nil {
			return err
		}
		if _, err := result.Consume(ctx); err != nil {
			return err
		}
	}
	return nil
}

// findCurrentRelationTx returns the current edge for (from, to, type) with
// both endpoints current, or nil.
func (r *Repository) findCurrentRelationTx(ctx context.Context, tx neo4j.ManagedTransaction, from, to, relationType string) (*Relation, error) {
	result, err := tx.Run(ctx, `
		MATCH (a:Entity {name: $from})-[r:RELATES {relationType: $type}]->(b:Entity {name: $to})
		WHERE r.validTo IS NULL AND a.validTo IS NULL AND b.validTo IS NULL
		RETURN r LIMIT 1`,
		map[string]any{"from": from, "to": to, "type": relationType})
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	raw, _ := records[0].Get("r")
	rel, err := relationshipToRelation(raw.(neo4j.Relationship))
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

// endpointsCurrentTx reports whether both named entities have current rows
func (r *Repository) endpointsCurrentTx(ctx context.Context, tx neo4j.ManagedTransaction, from, to string) (bool, error) {
	result, err := tx.Run(ctx, `
		MATCH (a:Entity {name: $from}) WHERE a.validTo IS NULL
		MATCH (b:Entity {name: $to}) WHERE b.validTo IS NULL
		RETURN a.id, b.id LIMIT 1`,
		map[string]any{"from": from, "to": to})
	if err != nil {
		return false, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return false, err
	}
	return len(records) == 1, nil
}

// insertRelationTx creates an edge between the current endpoint versions.
// Returns nil (not an error) when an endpoint has no current row; callers
// decide whether that is a skip or a failure.
func (r *Repository) insertRelationTx(ctx context.Context, tx neo4j.ManagedTransaction, input RelationInput, version int64) (*Relation, error) {
	now := nowMillis()

	strength := DefaultStrength
	if input.Strength != nil {
		strength = *input.Strength
	}
	confidence := DefaultConfidence
	if input.Confidence != nil {
		confidence = *input.Confidence
	}
	metadata, err := input.Metadata.encode()
	if err != nil {
		return nil, err
	}

	result, err := tx.Run(ctx, `
		MATCH (a:Entity {name: $from}) WHERE a.validTo IS NULL
		MATCH (b:Entity {name: $to}) WHERE b.validTo IS NULL
		CREATE (a)-[r:RELATES {
			id: $id,
			from: $from,
			to: $to,
			relationType: $type,
			strength: $strength,
			confidence: $confidence,
			metadata: $metadata,
			version: $version,
			createdAt: $now,
			updatedAt: $now,
			validFrom: $now
		}]->(b)
		RETURN r`,
		map[string]any{
			"id":         uuid.NewString(),
			"from":       input.From,
			"to":         input.To,
			"type":       input.RelationType,
			"strength":   strength,
			"confidence": confidence,
			"metadata":   metadata,
			"version":    version,
			"now":        now,
		})
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		r.log.Warn("relation endpoint not current, skipping edge",
			slog.String("from", input.From),
			slog.String("to", input.To),
			slog.String("type", input.RelationType))
		return nil, nil
	}
	raw, _ := records[0].Get("r")
	rel, err := relationshipToRelation(raw.(neo4j.Relationship))
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

// capturedEdge holds the fields of an archived edge needed to re-create it
// against the new entity version.
type capturedEdge struct {
	id           string
	from         string
	to           string
	relationType string
	strength     float64
	confidence   float64
	metadata     string
	version      int64
	createdAt    int64
}

// createNewEntityVersionTx is the single chokepoint for entity mutation.
// Within the enclosing transaction it:
//  1. loads the current row plus its current edges in both directions,
//  2. archives the row and those edges,
//  3. inserts the successor row with version+1,
//  4. re-creates each captured edge against the *current* opposite endpoint,
//     matched by name; an endpoint deleted meanwhile is skipped with a
//     warning rather than producing a dangling edge.
//
// Returns nil when the entity has no current version.
func (r *Repository) createNewEntityVersionTx(ctx context.Context, tx neo4j.ManagedTransaction, name string, observations []string) (*Entity, error) {
	result, err := tx.Run(ctx, `
		MATCH (e:Entity {name: $name}) WHERE e.validTo IS NULL
		OPTIONAL MATCH (e)-[out:RELATES]->() WHERE out.validTo IS NULL
		OPTIONAL MATCH ()-[in:RELATES]->(e) WHERE in.validTo IS NULL
		RETURN e, collect(DISTINCT out) AS outgoing, collect(DISTINCT in) AS incoming`,
		map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	rawNode, _ := records[0].Get("e")
	old, err := nodeToEntity(rawNode.(neo4j.Node))
	if err != nil {
		return nil, err
	}
	outgoing := captureEdges(records[0], "outgoing")
	incoming := captureEdges(records[0], "incoming")

	now := nowMillis()

	// Archive the row and its edges atomically with the successor insert
	invalidate := []string{
		`MATCH (e:Entity {id: $id}) SET e.validTo = $now, e.updatedAt = $now`,
		`MATCH (e:Entity {id: $id})-[out:RELATES]->() WHERE out.validTo IS NULL
		 SET out.validTo = $now, out.updatedAt = $now`,
		`MATCH ()-[in:RELATES]->(e:Entity {id: $id}) WHERE in.validTo IS NULL
		 SET in.validTo = $now, in.updatedAt = $now`,
	}
	for _, stmt := range invalidate {
		res, err := tx.Run(ctx, stmt, map[string]any{"id": old.ID, "now": now})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
	}

	newID := uuid.NewString()
	insert, err := tx.Run(ctx, `
		CREATE (e:Entity {
			id: $id,
			name: $name,
			entityType: $entityType,
			observations: $observations,
			version: $version,
			createdAt: $createdAt,
			updatedAt: $now,
			validFrom: $now
		})
		RETURN e`,
		map[string]any{
			"id":           newID,
			"name":         old.Name,
			"entityType":   old.EntityType,
			"observations": observations,
			"version":      old.Version + 1,
			"createdAt":    millis(old.CreatedAt),
			"now":          now,
		})
	if err != nil {
		return nil, err
	}
	record, err := insert.Single(ctx)
	if err != nil {
		return nil, err
	}
	rawNew, _ := record.Get("e")
	fresh, err := nodeToEntity(rawNew.(neo4j.Node))
	if err != nil {
		return nil, err
	}

	// Re-create outgoing edges against the current target version, matched
	// by name rather than stale id.
	for _, edge := range outgoing {
		if err := r.recreateEdgeTx(ctx, tx, edge, newID, "", now); err != nil {
			return nil, err
		}
	}
	// And incoming edges from the current source version
	for _, edge := range incoming {
		if err := r.recreateEdgeTx(ctx, tx, edge, "", newID, now); err != nil {
			return nil, err
		}
	}

	return &fresh, nil
}

// recreateEdgeTx re-creates one captured edge. Exactly one of newSourceID /
// newTargetID is set; the opposite endpoint is matched by name restricted
// to its current version. A missing current endpoint is logged and skipped;
// the transaction still commits for the other edges.
func (r *Repository) recreateEdgeTx(ctx context.Context, tx neo4j.ManagedTransaction, edge capturedEdge, newSourceID, newTargetID string, now int64) error {
	var cypher string
	params := map[string]any{
		"id":         uuid.NewString(),
		"from":       edge.from,
		"to":         edge.to,
		"type":       edge.relationType,
		"strength":   edge.strength,
		"confidence": edge.confidence,
		"metadata":   edge.metadata,
		"version":    edge.version + 1,
		"createdAt":  edge.createdAt,
		"now":        now,
	}

	if newSourceID != "" {
		cypher = `
			MATCH (a:Entity {id: $sourceId})
			MATCH (b:Entity {name: $to}) WHERE b.validTo IS NULL
			CREATE (a)-[r:RELATES {
				id: $id, from: $from, to: $to, relationType: $type,
				strength: $strength, confidence: $confidence, metadata: $metadata,
				version: $version, createdAt: $createdAt, updatedAt: $now,
				validFrom: $now
			}]->(b)
			RETURN r.id`
		params["sourceId"] = newSourceID
	} else {
		cypher = `
			MATCH (a:Entity {name: $from}) WHERE a.validTo IS NULL
			MATCH (b:Entity {id: $targetId})
			CREATE (a)-[r:RELATES {
				id: $id, from: $from, to: $to, relationType: $type,
				strength: $strength, confidence: $confidence, metadata: $metadata,
				version: $version, createdAt: $createdAt, updatedAt: $now,
				validFrom: $now
			}]->(b)
			RETURN r.id`
		params["targetId"] = newTargetID
	}

	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		r.log.Warn("edge endpoint no longer current, dropping edge on reversion",
			slog.String("from", edge.from),
			slog.String("to", edge.to),
			slog.String("type", edge.relationType))
	}
	return nil
}

// captureEdges extracts the captured edge list from a record field
func captureEdges(record *neo4j.Record, field string) []capturedEdge {
	raw, ok := record.Get(field)
	if !ok || raw == nil {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	edges := make([]capturedEdge, 0, len(items))
	for _, item := range items {
		rel, ok := item.(neo4j.Relationship)
		if !ok {
			continue
		}
		p := rel.Props
		edges = append(edges, capturedEdge{
			id:           asString(p["id"]),
			from:         asString(p["from"]),
			to:           asString(p["to"]),
			relationType: asString(p["relationType"]),
			strength:     asFloat(p["strength"]),
			confidence:   asFloat(p["confidence"]),
			metadata:     asString(p["metadata"]),
			version:      asInt(p["version"]),
			createdAt:    asInt(p["createdAt"]),
		})
	}
	return edges
}

// mergeObservations appends novel items in input order onto the existing
// list. Duplicate inputs collapse to their first occurrence. Returns the
// merged list and the items actually added.
func mergeObservations(existing, inputs []string) (merged, added []string) {
	seen := make(map[string]struct{}, len(existing))
	merged = append(merged, existing...)
	for _, o := range existing {
		seen[o] = struct{}{}
	}
	for _, o := range inputs {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		merged = append(merged, o)
		added = append(added, o)
	}
	return merged, added
}

// subtractObservations removes the listed items, preserving order
func subtractObservations(existing, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, o := range remove {
		drop[o] = struct{}{}
	}
	remaining := make([]string, 0, len(existing))
	for _, o := range existing {
		if _, ok := drop[o]; ok {
			continue
		}
		remaining = append(remaining, o)
	}
	return remaining
}

// dedupeStrings collapses duplicates preserving first-occurrence order
func dedupeStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func entityNames(entities []Entity) []string {
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	return names
}

// collectEntities runs a query whose rows each return an entity node as "e"
func collectEntities(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]Entity, error) {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	entities := make([]Entity, 0, len(records))
	for _, record := range records {
		raw, ok := record.Get("e")
		if !ok {
			continue
		}
		entity, err := nodeToEntity(raw.(neo4j.Node))
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// collectRelations runs a query whose rows each return an edge as "r"
func collectRelations(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]Relation, error) {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	relations := make([]Relation, 0, len(records))
	for _, record := range records {
		raw, ok := record.Get("r")
		if !ok {
			continue
		}
		rel, err := relationshipToRelation(raw.(neo4j.Relationship))
		if err != nil {
			return nil, err
		}
		relations = append(relations, rel)
	}
	return relations, nil
}

// nodeToEntity hydrates an Entity from node properties
func nodeToEntity(node neo4j.Node) (Entity, error) {
	p := node.Props
	entity := Entity{
		ID:           asString(p["id"]),
		Name:         asString(p["name"]),
		EntityType:   asString(p["entityType"]),
		Observations: asStrings(p["observations"]),
		Version:      asInt(p["version"]),
		CreatedAt:    fromMillis(asInt(p["createdAt"])),
		UpdatedAt:    fromMillis(asInt(p["updatedAt"])),
		ValidFrom:    fromMillis(asInt(p["validFrom"])),
		ValidTo:      optionalTime(p["validTo"]),
	}
	if raw, ok := p["vector"]; ok {
		entity.Vector = asVector(raw)
	}
	if model := asString(p["embeddingModel"]); model != "" {
		entity.EmbeddingModel = model
		entity.EmbeddingUpdatedAt = optionalTime(p["embeddingUpdatedAt"])
	}
	return entity, nil
}

// relationshipToRelation hydrates a Relation from edge properties
func relationshipToRelation(rel neo4j.Relationship) (Relation, error) {
	p := rel.Props
	metadata, err := decodeMetadata(asString(p["metadata"]))
	if err != nil {
		return Relation{}, err
	}
	return Relation{
		ID:           asString(p["id"]),
		From:         asString(p["from"]),
		To:           asString(p["to"]),
		RelationType: asString(p["relationType"]),
		Strength:     asFloat(p["strength"]),
		Confidence:   asFloat(p["confidence"]),
		Metadata:     metadata,
		Version:      asInt(p["version"]),
		CreatedAt:    fromMillis(asInt(p["createdAt"])),
		UpdatedAt:    fromMillis(asInt(p["updatedAt"])),
		ValidFrom:    fromMillis(asInt(p["validFrom"])),
		ValidTo:      optionalTime(p["validTo"]),
	}, nil
}

// Property conversion helpers. Timestamps are stored as epoch milliseconds;
// a missing validTo property means "current".

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func optionalTime(v any) *time.Time {
	if v == nil {
		return nil
	}
	t := fromMillis(asInt(v))
	return &t
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	}
	return 0
}

func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asVector(v any) []float32 {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(items))
	for _, item := range items {
		out = append(out, float32(asFloat(item)))
	}
	return out
}
