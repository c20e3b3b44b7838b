package health

import "go.uber.org/fx"

// Module provides the health handler and its routes
var Module = fx.Module("health",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
