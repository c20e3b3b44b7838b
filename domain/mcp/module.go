package mcp

import (
	"log/slog"
	"os"

	"go.uber.org/fx"
)

// Module provides the MCP service and the stdio transport
var Module = fx.Module("mcp",
	fx.Provide(
		NewService,
		newStdioFromProcess,
	),
)

// newStdioFromProcess binds the handler to the process's stdin/stdout.
// Logging goes to stderr, so stdout stays clean for protocol frames.
func newStdioFromProcess(svc *Service, log *slog.Logger) *StdioHandler {
	return NewStdioHandler(svc, log, os.Stdin, os.Stdout)
}
