package graph

import "go.uber.org/fx"

// Module provides the graph repository, vector index and service
var Module = fx.Module("graph",
	fx.Provide(
		NewRepository,
		NewVectorIndex,
		NewService,
	),
)
