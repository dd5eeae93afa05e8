package assistant

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerSearchRoutes registers the search_routes tool.
func registerSearchRoutes(s *server.MCPServer, d Deps, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("search_routes",
			mcp.WithDescription("Search the indexed code routes (functions, classes, endpoints) by name, keyword, or docstring."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search term, e.g. 'user' or 'handle_payment'")),
			mcp.WithString("route_type", mcp.Description("Limit to one route type: function, class, method, endpoint, handler, struct, interface")),
			mcp.WithNumber("limit", mcp.Description("Maximum results (default: 20)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			query, _ := args["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			routeType, _ := args["route_type"].(string)
			limit := 20
			if v, ok := args["limit"].(float64); ok && int(v) > 0 {
				limit = int(v)
			}

			routes, err := d.Store.SearchCodeRoutes(query, routeType, limit)
			if err != nil {
				return nil, fmt.Errorf("search routes: %w", err)
			}
			if len(routes) == 0 {
				return mcp.NewToolResultText(fmt.Sprintf("No code routes match '%s'", query)), nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Found %d code route(s) matching '%s':\n", len(routes), query)
			for _, r := range routes {
				fmt.Fprintf(&b, "%s (%s) %s:%d", r.Name, r.RouteType, r.FilePath, r.LineNumber)
				if r.Signature != "" {
					fmt.Fprintf(&b, "\n  %s", r.Signature)
				}
				if r.Docstring != "" {
					fmt.Fprintf(&b, "\n  %s", r.Docstring)
				}
				b.WriteString("\n")
			}

			logger.Printf("search_routes %q: %d result(s)", query, len(routes))
			return mcp.NewToolResultText(b.String()), nil
		},
	)
}
