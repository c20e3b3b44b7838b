package graph

import "time"

// Entity is one version of a named node in the knowledge graph. A name has
// at most one current version (validTo == nil); earlier versions are kept
// with a closed validity interval.
type Entity struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`

	// Embedding pointer; set by the vector index once a job completes
	Vector             []float32  `json:"-"`
	EmbeddingModel     string     `json:"embeddingModel,omitempty"`
	EmbeddingUpdatedAt *time.Time `json:"embeddingUpdatedAt,omitempty"`

	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ValidFrom time.Time  `json:"validFrom"`
	ValidTo   *time.Time `json:"validTo,omitempty"`
}

// IsCurrent reports whether this row is the live version
func (e *Entity) IsCurrent() bool {
	return e.ValidTo == nil
}

// Relation is one version of a directed typed edge. Endpoints are recorded
// by entity name at creation time; the edge itself always connects the
// entity rows that were current when it was created.
type Relation struct {
	ID           string   `json:"id"`
	From         string   `json:"from"`
	To           string   `json:"to"`
	RelationType string   `json:"relationType"`
	Strength     float64  `json:"strength"`
	Confidence   float64  `json:"confidence"`
	Metadata     Metadata `json:"metadata,omitempty"`

	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ValidFrom time.Time  `json:"validFrom"`
	ValidTo   *time.Time `json:"validTo,omitempty"`

	// DecayMetadata is populated only by GetDecayedGraph
	DecayMetadata *DecayMetadata `json:"decayMetadata,omitempty"`
}

// Default relation weights
const (
	DefaultStrength   = 0.9
	DefaultConfidence = 0.95
)

// IsCurrent reports whether this edge is the live version
func (r *Relation) IsCurrent() bool {
	return r.ValidTo == nil
}

// KnowledgeGraph is a set of entities plus the relations among them
type KnowledgeGraph struct {
	Entities  []Entity  `json:"entities"`
	Relations []Relation `json:"relations"`
}

// EntityInput is the payload for creating an entity
type EntityInput struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

// RelationInput is the payload for creating or deleting a relation
type RelationInput struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	RelationType string   `json:"relationType"`
	Strength     *float64 `json:"strength,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	Metadata     Metadata `json:"metadata,omitempty"`
}

// ObservationDelta adds observations to one entity
type ObservationDelta struct {
	EntityName string   `json:"entityName"`
	Contents   []string `json:"contents"`
}

// ObservationDeletion removes observations from one entity
type ObservationDeletion struct {
	EntityName   string   `json:"entityName"`
	Observations []string `json:"observations"`
}

// ObservationResult reports which observations were actually added
type ObservationResult struct {
	EntityName        string   `json:"entityName"`
	AddedObservations []string `json:"addedObservations"`
}

// DecayOptions controls confidence decay for GetDecayedGraph
type DecayOptions struct {
	HalfLifeDays float64 `json:"halfLifeDays"`
	MinFloor     float64 `json:"minFloor"`
}

// Decay defaults
const (
	DefaultHalfLifeDays = 30.0
	DefaultMinFloor     = 0.1
)

// DecayMetadata preserves the pre-decay values on a decayed relation
type DecayMetadata struct {
	OriginalConfidence float64 `json:"originalConfidence"`
	AgeDays            float64 `json:"ageDays"`
	HalfLifeDays       float64 `json:"halfLifeDays"`
}
