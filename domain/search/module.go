package search

import "go.uber.org/fx"

// Module provides the search service
var Module = fx.Module("search",
	fx.Provide(NewService),
)
