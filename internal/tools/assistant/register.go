// Package assistant exposes the bus and state store as MCP tools so
// editor-hosted agents can participate in the peer network.
package assistant

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deskwork/internal/bus"
	"github.com/jaakkos/deskwork/internal/journal"
	"github.com/jaakkos/deskwork/internal/state"
)

// Deps bundles the shared infrastructure the tools operate on.
type Deps struct {
	Bus       *bus.Bus
	Store     *state.Store
	Retriever *journal.Retriever
}

// Register registers the assistant tool surface with the mcp-go server.
func Register(s *server.MCPServer, d Deps, logger *log.Logger) {
	// Messaging tools (2)
	registerSendMessage(s, d, logger)
	registerCheckMessages(s, d, logger)

	// State tools (2)
	registerAgentStatus(s, d, logger)
	registerSearchRoutes(s, d, logger)

	// Journal tool (1)
	registerJournalSearch(s, d, logger)
}
