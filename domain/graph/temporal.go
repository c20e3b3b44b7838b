package graph

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GetEntityHistory returns every version of the named entity ordered by
// validFrom.
func (r *Repository) GetEntityHistory(ctx context.Context, name string) ([]Entity, error) {
	res, err := r.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectEntities(ctx, tx, `
			MATCH (e:Entity {name: $name})
			RETURN e ORDER BY e.validFrom ASC`,
			map[string]any{"name": name})
	})
	if err != nil {
		return nil, fmt.Errorf("get entity history %q: %w", name, err)
	}
	return res.([]Entity), nil
}

// GetRelationHistory returns every version of the (from, to, type) edge
// ordered by validFrom.
func (r *Repository) GetRelationHistory(ctx context.Context, from, to, relationType string) ([]Relation, error) {
	res, err := r.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectRelations(ctx, tx, `
			MATCH ()-[r:RELATES {from: $from, to: $to, relationType: $type}]->()
			RETURN r ORDER BY r.validFrom ASC`,
			map[string]any{"from": from, "to": to, "type": relationType})
	})
	if err != nil {
		return nil, fmt.Errorf("get relation history: %w", err)
	}
	return res.([]Relation), nil
}

// GetGraphAtTime reconstructs the graph as it was at t. An edge is included
// only when its own interval and both endpoints' intervals all cover t.
func (r *Repository) GetGraphAtTime(ctx context.Context, t time.Time) (*KnowledgeGraph, error) {
	at := millis(t)

	res, err := r.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		entities, err := collectEntities(ctx, tx, `
			MATCH (e:Entity)
			WHERE e.validFrom <= $at AND (e.validTo IS NULL OR e.validTo > $at)
			RETURN e ORDER BY e.name`,
			map[string]any{"at": at})
		if err != nil {
			return nil, err
		}

		relations, err := collectRelations(ctx, tx, `
			MATCH (a:Entity)-[r:RELATES]->(b:Entity)
			WHERE r.validFrom <= $at AND (r.validTo IS NULL OR r.validTo > $at)
				AND a.validFrom <= $at AND (a.validTo IS NULL OR a.validTo > $at)
				AND b.validFrom <= $at AND (b.validTo IS NULL OR b.validTo > $at)
			RETURN r`,
			map[string]any{"at": at})
		if err != nil {
			return nil, err
		}

		return &KnowledgeGraph{Entities: entities, Relations: relations}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get graph at time: %w", err)
	}
	return res.(*KnowledgeGraph), nil
}

// GetDecayedGraph returns the current graph with relation confidence
// decayed by age: max(minFloor, confidence * 0.5^(ageDays/halfLifeDays)).
// Originals are preserved in decayMetadata.
func (r *Repository) GetDecayedGraph(ctx context.Context, opts DecayOptions) (*KnowledgeGraph, error) {
	if opts.HalfLifeDays <= 0 {
		opts.HalfLifeDays = DefaultHalfLifeDays
	}
	if opts.MinFloor <= 0 {
		opts.MinFloor = DefaultMinFloor
	}

	g, err := r.LoadGraph(ctx)
	if err != nil {
		return nil, err
	}

	applyDecay(g.Relations, opts, time.Now())
	return g, nil
}

func applyDecay(relations []Relation, opts DecayOptions, now time.Time) {
	for i := range relations {
		rel := &relations[i]
		ageDays := now.Sub(rel.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		decayed := rel.Confidence * math.Pow(0.5, ageDays/opts.HalfLifeDays)
		rel.DecayMetadata = &DecayMetadata{
			OriginalConfidence: rel.Confidence,
			AgeDays:            ageDays,
			HalfLifeDays:       opts.HalfLifeDays,
		}
		rel.Confidence = math.Max(opts.MinFloor, decayed)
	}
}

// PurgeArchivedEntities physically deletes entity rows archived before the
// cutoff, along with all edges attached to them. Current rows are never
// touched.
func (r *Repository) PurgeArchivedEntities(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity)
			WHERE e.validTo IS NOT NULL AND e.validTo < $cutoff
			DETACH DELETE e
			RETURN count(e) AS purged`,
			map[string]any{"cutoff": millis(cutoff)})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("purged")
		return asInt(count), nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge archived entities: %w", err)
	}

	purged := int(res.(int64))
	if purged > 0 {
		r.log.Info("purged archived entities", slog.Int("count", purged))
	}
	return purged, nil
}

// PurgeArchivedRelations physically deletes edges archived before the cutoff
func (r *Repository) PurgeArchivedRelations(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH ()-[r:RELATES]->()
			WHERE r.validTo IS NOT NULL AND r.validTo < $cutoff
			DELETE r
			RETURN count(r) AS purged`,
			map[string]any{"cutoff": millis(cutoff)})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("purged")
		return asInt(count), nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge archived relations: %w", err)
	}

	purged := int(res.(int64))
	if purged > 0 {
		r.log.Info("purged archived relations", slog.Int("count", purged))
	}
	return purged, nil
}
