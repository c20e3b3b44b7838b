// Package search composes keyword and vector search over the knowledge
// graph, with explicit fallback diagnostics when the semantic path is
// unavailable.
package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"github.com/graphmem/graphmem/domain/graph"
	"github.com/graphmem/graphmem/pkg/apperror"
	"github.com/graphmem/graphmem/pkg/embeddings"
	"github.com/graphmem/graphmem/pkg/logger"
)

// SearchType is the requested or executed search strategy
type SearchType string

const (
	TypeKeyword  SearchType = "keyword"
	TypeSemantic SearchType = "semantic"
	TypeHybrid   SearchType = "hybrid"
)

// Fallback reasons reported in diagnostics when semantic search degrades
// to keyword.
const (
	FallbackNotConfigured  = "embedding_service_not_configured"
	FallbackEmbeddingError = "query_embedding_failed"
	FallbackNoEmbeddings   = "no_embeddings_available"
)

// DefaultSemanticWeight is the hybrid linear-combination weight on the
// vector score.
const DefaultSemanticWeight = 0.6

const (
	defaultLimit         = 10
	defaultMinSimilarity = 0.3
	statsCacheKey        = "coverage"
	statsCacheTTL        = 60 * time.Second
)

// Options controls one search request
type Options struct {
	Semantic           bool     `json:"semantic"`
	Hybrid             bool     `json:"hybrid"`
	Limit              int      `json:"limit"`
	MinSimilarity      float64  `json:"minSimilarity"`
	EntityTypes        []string `json:"entityTypes"`
	StrictMode         bool     `json:"strictMode"`
	IncludeDiagnostics bool     `json:"includeDiagnostics"`
	SemanticWeight     float64  `json:"semanticWeight"`
}

// Diagnostics describes how a search request was actually executed
type Diagnostics struct {
	RequestedSearchType       SearchType `json:"requestedSearchType"`
	ActualSearchType          SearchType `json:"actualSearchType"`
	FallbackReason            string     `json:"fallbackReason,omitempty"`
	QueryVectorGenerationTime int64      `json:"queryVectorGenerationTimeMs"`
	VectorSearchTime          int64      `json:"vectorSearchTimeMs"`
	TotalEntities             int64      `json:"totalEntities"`
	EntitiesWithEmbeddings    int64      `json:"entitiesWithEmbeddings"`
	EmbeddingCoverage         float64    `json:"embeddingCoverage"`
}

// Result is a search response: the matched subgraph plus diagnostics
type Result struct {
	Graph       *graph.KnowledgeGraph `json:"graph"`
	Diagnostics *Diagnostics          `json:"diagnostics,omitempty"`
}

// Service is the adaptive search pipeline
type Service struct {
	graph    *graph.Service
	embedder *embeddings.Service
	stats    *gocache.Cache
	log      *slog.Logger
}

// NewService creates a search Service
func NewService(graphSvc *graph.Service, embedder *embeddings.Service, log *slog.Logger) *Service {
	return &Service{
		graph:    graphSvc,
		embedder: embedder,
		stats:    gocache.New(statsCacheTTL, 2*statsCacheTTL),
		log:      log.With(logger.Scope("search")),
	}
}

// Search runs the decision procedure: keyword requests go straight to the
// text scan; semantic and hybrid requests try the vector path and fall back
// to keyword with a recorded reason, unless strict mode turns the fallback
// into an error.
func (s *Service) Search(ctx context.Context, query string, opts Options) (*Result, error) {
	requested := classify(opts)
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = defaultMinSimilarity
	}
	if opts.SemanticWeight <= 0 {
		opts.SemanticWeight = DefaultSemanticWeight
	}

	diag := &Diagnostics{
		RequestedSearchType: requested,
		ActualSearchType:    TypeKeyword,
	}
	s.fillCoverage(ctx, diag)

	var result *graph.KnowledgeGraph
	var err error

	if requested == TypeKeyword {
		result, err = s.keywordSearch(ctx, query, opts)
	} else {
		result, err = s.semanticSearch(ctx, query, opts, requested, diag)
	}
	if err != nil {
		return nil, err
	}

	if opts.StrictMode && requested != TypeKeyword && diag.ActualSearchType == TypeKeyword {
		return nil, apperror.NewSemanticUnavailable(diag.FallbackReason)
	}

	res := &Result{Graph: result}
	if opts.IncludeDiagnostics {
		res.Diagnostics = diag
	}
	return res, nil
}

func classify(opts Options) SearchType {
	switch {
	case opts.Hybrid:
		return TypeHybrid
	case opts.Semantic:
		return TypeSemantic
	default:
		return TypeKeyword
	}
}

func (s *Service) keywordSearch(ctx context.Context, query string, opts Options) (*graph.KnowledgeGraph, error) {
	g, err := s.graph.SearchNodes(ctx, query)
	if err != nil {
		return nil, err
	}
	return filterGraph(g, opts), nil
}

func (s *Service) semanticSearch(ctx context.Context, query string, opts Options, requested SearchType, diag *Diagnostics) (*graph.KnowledgeGraph, error) {
	if !s.embedder.IsEnabled() {
		diag.FallbackReason = FallbackNotConfigured
		return s.keywordSearch(ctx, query, opts)
	}

	start := time.Now()
	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	diag.QueryVectorGenerationTime = time.Since(start).Milliseconds()
	if err != nil {
		s.log.Warn("query embedding failed, falling back to keyword", logger.Error(err))
		diag.FallbackReason = FallbackEmbeddingError
		return s.keywordSearch(ctx, query, opts)
	}

	start = time.Now()
	scored, err := s.graph.Vectors().Search(ctx, queryVector, opts.Limit, opts.MinSimilarity)
	diag.VectorSearchTime = time.Since(start).Milliseconds()
	if err != nil {
		s.log.Warn("vector search failed, falling back to keyword", logger.Error(err))
		diag.FallbackReason = FallbackEmbeddingError
		return s.keywordSearch(ctx, query, opts)
	}

	scored = filterScored(scored, opts.EntityTypes)
	if len(scored) == 0 {
		diag.FallbackReason = FallbackNoEmbeddings
		return s.keywordSearch(ctx, query, opts)
	}

	if requested == TypeHybrid {
		scored = rankHybrid(scored, query, opts.SemanticWeight)
	}
	diag.ActualSearchType = requested

	names := make([]string, len(scored))
	for i, sc := range scored {
		names[i] = sc.Entity.Name
	}
	return s.graph.OpenNodes(ctx, names)
}

// rankHybrid linearly combines the vector score with a textual-match score
func rankHybrid(scored []graph.ScoredEntity, query string, semanticWeight float64) []graph.ScoredEntity {
	q := strings.ToLower(query)
	for i := range scored {
		text := textualScore(&scored[i].Entity, q)
		scored[i].Score = semanticWeight*scored[i].Score + (1-semanticWeight)*text
	}

	// Stable enough for small k; results were already similarity-ordered
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Score > scored[j-1].Score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	return scored
}

// textualScore is a cheap lexical signal: exact name match outranks name
// substring, which outranks observation substring.
func textualScore(e *graph.Entity, loweredQuery string) float64 {
	name := strings.ToLower(e.Name)
	switch {
	case name == loweredQuery:
		return 1.0
	case strings.Contains(name, loweredQuery):
		return 0.7
	case strings.Contains(strings.ToLower(e.EntityType), loweredQuery):
		return 0.4
	}
	for _, obs := range e.Observations {
		if strings.Contains(strings.ToLower(obs), loweredQuery) {
			return 0.3
		}
	}
	return 0
}

func filterScored(scored []graph.ScoredEntity, entityTypes []string) []graph.ScoredEntity {
	if len(entityTypes) == 0 {
		return scored
	}
	allowed := lo.SliceToMap(entityTypes, func(t string) (string, struct{}) {
		return strings.ToLower(t), struct{}{}
	})
	return lo.Filter(scored, func(sc graph.ScoredEntity, _ int) bool {
		_, ok := allowed[strings.ToLower(sc.Entity.EntityType)]
		return ok
	})
}

func filterGraph(g *graph.KnowledgeGraph, opts Options) *graph.KnowledgeGraph {
	if len(opts.EntityTypes) > 0 {
		allowed := lo.SliceToMap(opts.EntityTypes, func(t string) (string, struct{}) {
			return strings.ToLower(t), struct{}{}
		})
		g.Entities = lo.Filter(g.Entities, func(e graph.Entity, _ int) bool {
			_, ok := allowed[strings.ToLower(e.EntityType)]
			return ok
		})
	}
	if opts.Limit > 0 && len(g.Entities) > opts.Limit {
		g.Entities = g.Entities[:opts.Limit]
	}

	names := lo.SliceToMap(g.Entities, func(e graph.Entity) (string, struct{}) {
		return e.Name, struct{}{}
	})
	g.Relations = lo.Filter(g.Relations, func(r graph.Relation, _ int) bool {
		_, fromOK := names[r.From]
		_, toOK := names[r.To]
		return fromOK && toOK
	})
	return g
}

// fillCoverage populates the embedding-coverage statistics, cached for 60 s
// so repeated searches avoid a full scan.
func (s *Service) fillCoverage(ctx context.Context, diag *Diagnostics) {
	if cached, ok := s.stats.Get(statsCacheKey); ok {
		if d, ok := cached.(*graph.IndexDiagnostics); ok {
			applyCoverage(diag, d)
			return
		}
	}

	d, err := s.graph.Vectors().Diagnostics(ctx)
	if err != nil {
		s.log.Warn("coverage diagnostics unavailable", logger.Error(err))
		return
	}
	s.stats.Set(statsCacheKey, d, gocache.DefaultExpiration)
	applyCoverage(diag, d)
}

func applyCoverage(diag *Diagnostics, d *graph.IndexDiagnostics) {
	diag.TotalEntities = d.CurrentEntities
	diag.EntitiesWithEmbeddings = d.WithEmbedding
	if d.CurrentEntities > 0 {
		diag.EmbeddingCoverage = float64(d.WithEmbedding) / float64(d.CurrentEntities)
	}
}
