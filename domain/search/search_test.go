package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmem/graphmem/domain/graph"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, TypeKeyword, classify(Options{}))
	assert.Equal(t, TypeSemantic, classify(Options{Semantic: true}))
	assert.Equal(t, TypeHybrid, classify(Options{Hybrid: true}))
	assert.Equal(t, TypeHybrid, classify(Options{Semantic: true, Hybrid: true}))
}

func TestTextualScore(t *testing.T) {
	e := &graph.Entity{
		Name:         "Ada Lovelace",
		EntityType:   "person",
		Observations: []string{"wrote the first program"},
	}

	assert.InDelta(t, 1.0, textualScore(e, "ada lovelace"), 1e-9)
	assert.InDelta(t, 0.7, textualScore(e, "ada"), 1e-9)
	assert.InDelta(t, 0.4, textualScore(e, "person"), 1e-9)
	assert.InDelta(t, 0.3, textualScore(e, "first program"), 1e-9)
	assert.Zero(t, textualScore(e, "unrelated"))
}

func TestRankHybrid_CombinesScoresLinearly(t *testing.T) {
	scored := []graph.ScoredEntity{
		{Entity: graph.Entity{Name: "Other"}, Score: 0.9},
		{Entity: graph.Entity{Name: "Ada"}, Score: 0.6},
	}

	ranked := rankHybrid(scored, "ada", DefaultSemanticWeight)

	// Ada: 0.6*0.6 + 0.4*1.0 = 0.76; Other: 0.6*0.9 + 0.4*0 = 0.54
	require.Len(t, ranked, 2)
	assert.Equal(t, "Ada", ranked[0].Entity.Name)
	assert.InDelta(t, 0.76, ranked[0].Score, 1e-9)
	assert.Equal(t, "Other", ranked[1].Entity.Name)
	assert.InDelta(t, 0.54, ranked[1].Score, 1e-9)
}

func TestFilterScored_ByEntityType(t *testing.T) {
	scored := []graph.ScoredEntity{
		{Entity: graph.Entity{Name: "Ada", EntityType: "Person"}},
		{Entity: graph.Entity{Name: "Zurich", EntityType: "place"}},
	}

	filtered := filterScored(scored, []string{"person"})

	require.Len(t, filtered, 1)
	assert.Equal(t, "Ada", filtered[0].Entity.Name)

	assert.Len(t, filterScored(scored, nil), 2)
}

func TestFilterGraph_LimitAndRelationPruning(t *testing.T) {
	g := &graph.KnowledgeGraph{
		Entities: []graph.Entity{
			{Name: "a", EntityType: "person"},
			{Name: "b", EntityType: "person"},
			{Name: "c", EntityType: "person"},
		},
		Relations: []graph.Relation{
			{From: "a", To: "b", RelationType: "knows"},
			{From: "b", To: "c", RelationType: "knows"},
		},
	}

	out := filterGraph(g, Options{Limit: 2})

	assert.Len(t, out.Entities, 2)
	// b->c drops because c fell outside the limit
	require.Len(t, out.Relations, 1)
	assert.Equal(t, "a", out.Relations[0].From)
	assert.Equal(t, "b", out.Relations[0].To)
}

func TestFilterGraph_EntityTypes(t *testing.T) {
	g := &graph.KnowledgeGraph{
		Entities: []graph.Entity{
			{Name: "ada", EntityType: "person"},
			{Name: "zurich", EntityType: "place"},
		},
		Relations: []graph.Relation{
			{From: "ada", To: "zurich", RelationType: "lives_in"},
		},
	}

	out := filterGraph(g, Options{EntityTypes: []string{"place"}})

	require.Len(t, out.Entities, 1)
	assert.Equal(t, "zurich", out.Entities[0].Name)
	assert.Empty(t, out.Relations)
}

func TestApplyCoverage(t *testing.T) {
	diag := &Diagnostics{}
	applyCoverage(diag, &graph.IndexDiagnostics{CurrentEntities: 4, WithEmbedding: 3})

	assert.Equal(t, int64(4), diag.TotalEntities)
	assert.Equal(t, int64(3), diag.EntitiesWithEmbeddings)
	assert.InDelta(t, 0.75, diag.EmbeddingCoverage, 1e-9)

	empty := &Diagnostics{}
	applyCoverage(empty, &graph.IndexDiagnostics{})
	assert.Zero(t, empty.EmbeddingCoverage)
}
