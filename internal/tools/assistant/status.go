package assistant

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerAgentStatus registers the agent_status tool.
func registerAgentStatus(s *server.MCPServer, d Deps, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("agent_status",
			mcp.WithDescription("Show the liveness and current activity of the peer agents."),
			mcp.WithString("agent", mcp.Description("Limit to one agent name (default: all)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			filter, _ := args["agent"].(string)

			statuses, err := d.Store.GetAgentStatuses()
			if err != nil {
				return nil, fmt.Errorf("agent statuses: %w", err)
			}

			now := time.Now()
			var b strings.Builder
			shown := 0
			for _, st := range statuses {
				if filter != "" && st.AgentName != filter {
					continue
				}
				fmt.Fprintf(&b, "%s: %s", st.AgentName, st.Status)
				if st.CurrentTask != "" {
					fmt.Fprintf(&b, " (%s)", st.CurrentTask)
				}
				if !st.LastHeartbeat.IsZero() {
					fmt.Fprintf(&b, " - heartbeat %s ago", now.Sub(st.LastHeartbeat).Round(time.Second))
				}
				b.WriteString("\n")
				shown++
			}
			if shown == 0 {
				if filter != "" {
					return mcp.NewToolResultText(fmt.Sprintf("No status recorded for %s", filter)), nil
				}
				return mcp.NewToolResultText("No agents have reported status"), nil
			}

			logger.Printf("agent_status: %d agent(s)", shown)
			return mcp.NewToolResultText(b.String()), nil
		},
	)
}
