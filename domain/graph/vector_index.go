package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/graphmem/graphmem/internal/config"
	"github.com/graphmem/graphmem/internal/database"
	"github.com/graphmem/graphmem/pkg/logger"
)

// VectorIndex manages entity embeddings and similarity search over the
// graph store's native vector index.
type VectorIndex struct {
	db        *database.GraphDB
	indexName string
	log       *slog.Logger
}

// NewVectorIndex creates a VectorIndex
func NewVectorIndex(db *database.GraphDB, cfg *config.Config, log *slog.Logger) *VectorIndex {
	return &VectorIndex{
		db:        db,
		indexName: cfg.Vector.IndexName,
		log:       log.With(logger.Scope("graph.vector")),
	}
}

// ScoredEntity is an entity with its similarity score
type ScoredEntity struct {
	Entity Entity  `json:"entity"`
	Score  float64 `json:"score"`
}

// IndexDiagnostics describes index availability and embedding coverage
type IndexDiagnostics struct {
	IndexName       string `json:"indexName"`
	IndexState      string `json:"indexState"`
	IndexOnline     bool   `json:"indexOnline"`
	CurrentEntities int64  `json:"currentEntities"`
	WithEmbedding   int64  `json:"withEmbedding"`
}

// Upsert attaches an embedding to the current version of the named entity.
// Writing to an archived name is a no-op.
func (v *VectorIndex) Upsert(ctx context.Context, name string, vector []float32, model string) error {
	_, err := v.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {name: $name})
			WHERE e.validTo IS NULL
			SET e.vector = $vector,
				e.embeddingModel = $model,
				e.embeddingUpdatedAt = $now
			RETURN e.id AS id`,
			map[string]any{
				"name":   name,
				"vector": toFloat64s(vector),
				"model":  model,
				"now":    nowMillis(),
			})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			v.log.Warn("embedding upsert skipped, no current entity", slog.String("entity", name))
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("upsert embedding for %q: %w", name, err)
	}
	return nil
}

// Remove detaches the embedding from the current version of the named entity
func (v *VectorIndex) Remove(ctx context.Context, name string) error {
	_, err := v.db.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (e:Entity {name: $name})
			WHERE e.validTo IS NULL
			REMOVE e.vector, e.embeddingModel, e.embeddingUpdatedAt`,
			map[string]any{"name": name})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("remove embedding for %q: %w", name, err)
	}
	return nil
}

// GetEmbedding returns the stored vector for the current version of the
// named entity, or nil when none is attached.
func (v *VectorIndex) GetEmbedding(ctx context.Context, name string) (*Entity, error) {
	res, err := v.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {name: $name})
			WHERE e.validTo IS NULL
			RETURN e`,
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
		raw, _ := records[0].Get("e")
		node, ok := raw.(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected record shape for %q", name)
		}
		entity, err := nodeToEntity(node)
		if err != nil {
			return nil, err
		}
		return &entity, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get embedding for %q: %w", name, err)
	}
	if res == nil {
		return nil, nil
	}
	return res.(*Entity), nil
}

// Search runs approximate nearest-neighbour search over the vector index
// and returns current entities scoring at or above minSimilarity. The index
// is overfetched because archived rows may still hold vectors until purge.
func (v *VectorIndex) Search(ctx context.Context, queryVector []float32, limit int, minSimilarity float64) ([]ScoredEntity, error) {
	if limit <= 0 {
		limit = 10
	}
	overfetch := limit * 3

	res, err := v.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			CALL db.index.vector.queryNodes($index, $k, $vector)
			YIELD node, score
			WHERE node.validTo IS NULL AND score >= $minScore
			RETURN node, score
			ORDER BY score DESC
			LIMIT $limit`,
			map[string]any{
				"index":    v.indexName,
				"k":        overfetch,
				"vector":   toFloat64s(queryVector),
				"minScore": minSimilarity,
				"limit":    limit,
			})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}

		scored := make([]ScoredEntity, 0, len(records))
		for _, record := range records {
			raw, _ := record.Get("node")
			node, ok := raw.(neo4j.Node)
			if !ok {
				continue
			}
			entity, err := nodeToEntity(node)
			if err != nil {
				return nil, err
			}
			score, _ := record.Get("score")
			scored = append(scored, ScoredEntity{Entity: entity, Score: asFloat(score)})
		}
		return scored, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return res.([]ScoredEntity), nil
}

// Diagnostics reports index state and how many current entities carry an
// embedding. Used by the search pipeline to decide on semantic fallback.
func (v *VectorIndex) Diagnostics(ctx context.Context) (*IndexDiagnostics, error) {
	res, err := v.db.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		diag := &IndexDiagnostics{IndexName: v.indexName}

		result, err := tx.Run(ctx, `
			SHOW INDEXES YIELD name, state
			WHERE name = $name
			RETURN state`,
			map[string]any{"name": v.indexName})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			state, _ := records[0].Get("state")
			diag.IndexState = asString(state)
			diag.IndexOnline = strings.EqualFold(diag.IndexState, "ONLINE")
		} else {
			diag.IndexState = "MISSING"
		}

		result, err = tx.Run(ctx, `
			MATCH (e:Entity)
			WHERE e.validTo IS NULL
			RETURN count(e) AS total,
				count(CASE WHEN e.vector IS NOT NULL THEN 1 END) AS embedded`,
			nil)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		total, _ := record.Get("total")
		embedded, _ := record.Get("embedded")
		diag.CurrentEntities = asInt(total)
		diag.WithEmbedding = asInt(embedded)

		return diag, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector index diagnostics: %w", err)
	}
	return res.(*IndexDiagnostics), nil
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
