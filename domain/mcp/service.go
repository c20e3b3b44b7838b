package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/graphmem/graphmem/domain/graph"
	"github.com/graphmem/graphmem/domain/search"
	"github.com/graphmem/graphmem/pkg/apperror"
	"github.com/graphmem/graphmem/pkg/logger"
)

// Service handles MCP business logic and tool execution
type Service struct {
	graphService *graph.Service
	searchSvc    *search.Service
	log          *slog.Logger
}

// NewService creates a new MCP service
func NewService(graphService *graph.Service, searchSvc *search.Service, log *slog.Logger) *Service {
	return &Service{
		graphService: graphService,
		searchSvc:    searchSvc,
		log:          log.With(logger.Scope("mcp.svc")),
	}
}

// GetToolDefinitions returns all available MCP tools
func (s *Service) GetToolDefinitions() []ToolDefinition {
	entityItems := &PropertySchema{Type: "object"}
	stringItems := &PropertySchema{Type: "string"}

	return []ToolDefinition{
		{
			Name:        "create_entities",
			Description: "Create entities in the knowledge graph. Creating an existing name merges new observations into a new version; observations cannot be removed this way.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"entities": {
						Type:        "array",
						Description: "Entities to create, each with name, entityType and observations",
						Items:       entityItems,
					},
				},
				Required: []string{"entities"},
			},
		},
		{
			Name:        "add_observations",
			Description: "Add observations to existing entities. Returns the observations actually added per entity; unknown entities are skipped.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"observations": {
						Type:        "array",
						Description: "Per-entity additions: {entityName, contents[]}",
						Items:       entityItems,
					},
				},
				Required: []string{"observations"},
			},
		},
		{
			Name:        "delete_entities",
			Description: "Soft-delete entities and all relations touching them. Unknown names are ignored.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"entityNames": {
						Type:        "array",
						Description: "Names of entities to delete",
						Items:       stringItems,
					},
				},
				Required: []string{"entityNames"},
			},
		},
		{
			Name:        "delete_observations",
			Description: "Remove observations from entities. Creates a new entity version when something was actually removed.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"deletions": {
						Type:        "array",
						Description: "Per-entity removals: {entityName, observations[]}",
						Items:       entityItems,
					},
				},
				Required: []string{"deletions"},
			},
		},
		{
			Name:        "create_relations",
			Description: "Create directed typed relations between current entities. Relations to missing entities are skipped; existing equivalents are not duplicated.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"relations": {
						Type:        "array",
						Description: "Relations to create: {from, to, relationType, strength?, confidence?, metadata?}",
						Items:       entityItems,
					},
				},
				Required: []string{"relations"},
			},
		},
		{
			Name:        "get_relation",
			Description: "Get the current version of a relation, or null when none exists.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"from":         {Type: "string", Description: "Source entity name"},
					"to":           {Type: "string", Description: "Target entity name"},
					"relationType": {Type: "string", Description: "Relation type"},
				},
				Required: []string{"from", "to", "relationType"},
			},
		},
		{
			Name:        "update_relation",
			Description: "Archive the current relation version and write an updated successor. Fails when either endpoint has no current version.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"relation": {
						Type:        "object",
						Description: "Relation update: {from, to, relationType, strength?, confidence?, metadata?}",
					},
				},
				Required: []string{"relation"},
			},
		},
		{
			Name:        "delete_relations",
			Description: "Soft-delete relations. Missing relations are ignored.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"relations": {
						Type:        "array",
						Description: "Relations to delete: {from, to, relationType}",
						Items:       entityItems,
					},
				},
				Required: []string{"relations"},
			},
		},
		{
			Name:        "read_graph",
			Description: "Read the full current knowledge graph: every current entity and relation.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]PropertySchema{},
				Required:   []string{},
			},
		},
		{
			Name:        "search_nodes",
			Description: "Keyword search over entity names, types and observations. Returns matching entities plus the relations among them.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"query": {Type: "string", Description: "Search query text"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "open_nodes",
			Description: "Fetch specific entities by name plus the relations among them. Unknown names are ignored.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"names": {
						Type:        "array",
						Description: "Entity names to open",
						Items:       stringItems,
					},
				},
				Required: []string{"names"},
			},
		},
		{
			Name:        "semantic_search",
			Description: "Vector similarity search over entity embeddings, with optional hybrid ranking. Falls back to keyword search with a recorded reason when the semantic path is unavailable, unless strict mode is set.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"query": {Type: "string", Description: "Search query text"},
					"limit": {
						Type: "number", Description: "Maximum number of results (default: 10)",
						Minimum: floatPtr(1), Default: 10,
					},
					"min_similarity": {
						Type: "number", Description: "Minimum similarity score (default: 0.3)",
						Minimum: floatPtr(0), Maximum: floatPtr(1), Default: 0.3,
					},
					"entity_types": {
						Type: "array", Description: "Restrict results to these entity types",
						Items: stringItems,
					},
					"hybrid_search": {
						Type: "boolean", Description: "Combine vector and textual scores (default: false)",
						Default: false,
					},
					"semantic_weight": {
						Type: "number", Description: "Weight of the vector score in hybrid ranking (default: 0.6)",
						Minimum: floatPtr(0), Maximum: floatPtr(1), Default: 0.6,
					},
					"strict_mode": {
						Type: "boolean", Description: "Error instead of falling back to keyword search (default: false)",
						Default: false,
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "get_entity_embedding",
			Description: "Get the stored embedding vector for an entity.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"entity_name": {Type: "string", Description: "Entity name"},
				},
				Required: []string{"entity_name"},
			},
		},
		{
			Name:        "get_entity_history",
			Description: "Get every version of an entity ordered by validity start.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"entity_name": {Type: "string", Description: "Entity name"},
				},
				Required: []string{"entity_name"},
			},
		},
		{
			Name:        "get_relation_history",
			Description: "Get every version of a relation ordered by validity start.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"from":         {Type: "string", Description: "Source entity name"},
					"to":           {Type: "string", Description: "Target entity name"},
					"relationType": {Type: "string", Description: "Relation type"},
				},
				Required: []string{"from", "to", "relationType"},
			},
		},
		{
			Name:        "get_graph_at_time",
			Description: "Reconstruct the knowledge graph as it was at a past instant.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"timestamp": {
						Type:        "string",
						Description: "Point in time, RFC 3339 or epoch milliseconds",
					},
				},
				Required: []string{"timestamp"},
			},
		},
		{
			Name:        "get_decayed_graph",
			Description: "Read the current graph with relation confidence decayed by age.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"half_life_days": {
						Type: "number", Description: "Confidence half-life in days (default: 30)",
						Minimum: floatPtr(1), Default: 30,
					},
					"min_floor": {
						Type: "number", Description: "Confidence floor (default: 0.1)",
						Minimum: floatPtr(0), Default: 0.1,
					},
				},
				Required: []string{},
			},
		},
	}
}

// ExecuteTool executes an MCP tool and returns the result
func (s *Service) ExecuteTool(ctx context.Context, toolName string, args map[string]any) (*ToolResult, error) {
	switch toolName {
	case "create_entities":
		return s.executeCreateEntities(ctx, args)
	case "add_observations":
		return s.executeAddObservations(ctx, args)
	case "delete_entities":
		return s.executeDeleteEntities(ctx, args)
	case "delete_observations":
		return s.executeDeleteObservations(ctx, args)
	case "create_relations":
		return s.executeCreateRelations(ctx, args)
	case "get_relation":
		return s.executeGetRelation(ctx, args)
	case "update_relation":
		return s.executeUpdateRelation(ctx, args)
	case "delete_relations":
		return s.executeDeleteRelations(ctx, args)
	case "read_graph":
		return s.executeReadGraph(ctx)
	case "search_nodes":
		return s.executeSearchNodes(ctx, args)
	case "open_nodes":
		return s.executeOpenNodes(ctx, args)
	case "semantic_search":
		return s.executeSemanticSearch(ctx, args)
	case "get_entity_embedding":
		return s.executeGetEntityEmbedding(ctx, args)
	case "get_entity_history":
		return s.executeGetEntityHistory(ctx, args)
	case "get_relation_history":
		return s.executeGetRelationHistory(ctx, args)
	case "get_graph_at_time":
		return s.executeGetGraphAtTime(ctx, args)
	case "get_decayed_graph":
		return s.executeGetDecayedGraph(ctx, args)
	default:
		return nil, apperror.ErrInvalidParams.WithMessage(fmt.Sprintf("unknown tool: %s", toolName))
	}
}

func (s *Service) executeCreateEntities(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		Entities []graph.EntityInput `json:"entities"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if len(params.Entities) == 0 {
		return nil, apperror.ErrInvalidParams.WithMessage("entities must not be empty")
	}

	entities, err := s.graphService.CreateEntities(ctx, params.Entities)
	if err != nil {
		return nil, err
	}
	return s.wrapResult(entities)
}

func (s *Service) executeAddObservations(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		Observations []graph.ObservationDelta `json:"observations"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	results, err := s.graphService.AddObservations(ctx, params.Observations)
	if err != nil {
		return nil, err
	}
	return s.wrapResult(results)
}

func (s *Service) executeDeleteEntities(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		EntityNames []string `json:"entityNames"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	if err := s.graphService.DeleteEntities(ctx, params.EntityNames); err != nil {
		return nil, err
	}
	return s.wrapResult(map[string]string{"status": "deleted"})
}

func (s *Service) executeDeleteObservations(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		Deletions []graph.ObservationDeletion `json:"deletions"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	if err := s.graphService.DeleteObservations(ctx, params.Deletions); err != nil {
		return nil, err
	}
	return s.wrapResult(map[string]string{"status": "deleted"})
}

func (s *Service) executeCreateRelations(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		Relations []graph.RelationInput `json:"relations"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if len(params.Relations) == 0 {
		return nil, apperror.ErrInvalidParams.WithMessage("relations must not be empty")
	}

	relations, err := s.graphService.CreateRelations(ctx, params.Relations)
	if err != nil {
		return nil, err
	}
	return s.wrapResult(relations)
}

func (s *Service) executeGetRelation(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		From         string `json:"from"`
		To           string `json:"to"`
		RelationType string `json:"relationType"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.From == "" || params.To == "" || params.RelationType == "" {
		return nil, apperror.ErrInvalidParams.WithMessage("from, to and relationType are required")
	}

	relation, err := s.graphService.GetRelation(ctx, params.From, params.To, params.RelationType)
	if err != nil {
		return nil, err
	}
	return s.wrapResult(relation)
}

func (s *Service) executeUpdateRelation(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		Relation graph.RelationInput `json:"relation"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	relation, err := s.graphService.UpdateRelation(ctx, params.Relation)
	if err != nil {
		return nil, err
	}
	return s.wrapResult(relation)
}

func (s *Service) executeDeleteRelations(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		Relations []graph.RelationInput `json:"relations"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	if err := s.graphService.DeleteRelations(ctx, params.Relations); err != nil {
		return nil, err
	}
	return s.wrapResult(map[string]string{"status": "deleted"})
}

func (s *Service) executeReadGraph(ctx context.Context) (*ToolResult, error) {
	g, err := s.graphService.LoadGraph(ctx)
	if err != nil {
		return nil, err
	}
	return s.wrapResult(g)
}

func (s *Service) executeSearchNodes(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Query == "" {
		return nil, apperror.ErrInvalidParams.WithMessage("query is required")
	}

	g, err := s.graphService.SearchNodes(ctx, params.Query)
	if err != nil {
		return nil, err
	}
	return s.wrapResult(g)
}

func (s *Service) executeOpenNodes(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		Names []string `json:"names"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	g, err := s.graphService.OpenNodes(ctx, params.Names)
	if err != nil {
		return nil, err
	}
	return s.wrapResult(g)
}

func (s *Service) executeSemanticSearch(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		Query          string   `json:"query"`
		Limit          int      `json:"limit"`
		MinSimilarity  float64  `json:"min_similarity"`
		EntityTypes    []string `json:"entity_types"`
		HybridSearch   bool     `json:"hybrid_search"`
		SemanticWeight float64  `json:"semantic_weight"`
		StrictMode     bool     `json:"strict_mode"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Query == "" {
		return nil, apperror.ErrInvalidParams.WithMessage("query is required")
	}

	result, err := s.searchSvc.Search(ctx, params.Query, search.Options{
		Semantic:           true,
		Hybrid:             params.HybridSearch,
		Limit:              params.Limit,
		MinSimilarity:      params.MinSimilarity,
		EntityTypes:        params.EntityTypes,
		StrictMode:         params.StrictMode,
		IncludeDiagnostics: true,
		SemanticWeight:     params.SemanticWeight,
	})
	if err != nil {
		return nil, err
	}
	return s.wrapResult(result)
}

func (s *Service) executeGetEntityEmbedding(ctx context.Context, args map[string]any) (*ToolResult, error) {
	name, err := requiredString(args, "entity_name")
	if err != nil {
		return nil, err
	}

	entity, err := s.graphService.GetEntityEmbedding(ctx, name)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, apperror.ErrEntityNotFound.WithMessage(fmt.Sprintf("entity %q not found", name))
	}

	return s.wrapResult(map[string]any{
		"entityName":         entity.Name,
		"embedding":          entity.Vector,
		"embeddingModel":     entity.EmbeddingModel,
		"embeddingUpdatedAt": entity.EmbeddingUpdatedAt,
	})
}

func (s *Service) executeGetEntityHistory(ctx context.Context, args map[string]any) (*ToolResult, error) {
	name, err := requiredString(args, "entity_name")
	if err != nil {
		return nil, err
	}

	history, err := s.graphService.GetEntityHistory(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.wrapResult(history)
}

func (s *Service) executeGetRelationHistory(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		From         string `json:"from"`
		To           string `json:"to"`
		RelationType string `json:"relationType"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.From == "" || params.To == "" || params.RelationType == "" {
		return nil, apperror.ErrInvalidParams.WithMessage("from, to and relationType are required")
	}

	history, err := s.graphService.GetRelationHistory(ctx, params.From, params.To, params.RelationType)
	if err != nil {
		return nil, err
	}
	return s.wrapResult(history)
}

func (s *Service) executeGetGraphAtTime(ctx context.Context, args map[string]any) (*ToolResult, error) {
	at, err := parseTimestamp(args["timestamp"])
	if err != nil {
		return nil, err
	}

	g, err := s.graphService.GetGraphAtTime(ctx, at)
	if err != nil {
		return nil, err
	}
	return s.wrapResult(g)
}

func (s *Service) executeGetDecayedGraph(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var params struct {
		HalfLifeDays float64 `json:"half_life_days"`
		MinFloor     float64 `json:"min_floor"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	g, err := s.graphService.GetDecayedGraph(ctx, graph.DecayOptions{
		HalfLifeDays: params.HalfLifeDays,
		MinFloor:     params.MinFloor,
	})
	if err != nil {
		return nil, err
	}
	return s.wrapResult(g)
}

// decodeArgs converts a tool-arguments map into a typed struct
func decodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return apperror.ErrInvalidParams.WithInternal(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperror.ErrInvalidParams.WithMessage("invalid arguments: " + err.Error())
	}
	return nil
}

func requiredString(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", apperror.ErrInvalidParams.WithMessage(key + " is required")
	}
	return v, nil
}

// parseTimestamp accepts RFC 3339 strings or epoch milliseconds
func parseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, nil
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms), nil
		}
	case float64:
		return time.UnixMilli(int64(v)), nil
	}
	return time.Time{}, apperror.ErrInvalidParams.WithMessage(
		"timestamp must be RFC 3339 or epoch milliseconds")
}

func (s *Service) wrapResult(data any) (*ToolResult, error) {
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	return &ToolResult{
		Content: []ContentBlock{
			{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}

func floatPtr(f float64) *float64 {
	return &f
}
