package assistant

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerJournalSearch registers the journal_search tool.
func registerJournalSearch(s *server.MCPServer, d Deps, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("journal_search",
			mcp.WithDescription("Search the shared journal of decisions, discoveries, and work notes. Results are ranked by relevance and recency."),
			mcp.WithString("query", mcp.Description("Free-text query matched against entry summaries")),
			mcp.WithString("tags", mcp.Description("Comma-separated tags, e.g. 'decision,deploy'")),
			mcp.WithNumber("limit", mcp.Description("Maximum results (default: 5)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			query, _ := args["query"].(string)
			var tags []string
			if raw, _ := args["tags"].(string); raw != "" {
				for _, tag := range strings.Split(raw, ",") {
					if tag = strings.TrimSpace(tag); tag != "" {
						tags = append(tags, tag)
					}
				}
			}
			if query == "" && len(tags) == 0 {
				return nil, fmt.Errorf("query or tags is required")
			}
			limit := 5
			if v, ok := args["limit"].(float64); ok && int(v) > 0 {
				limit = int(v)
			}

			entries, err := d.Retriever.Retrieve(tags, query, limit)
			if err != nil {
				return nil, fmt.Errorf("retrieve: %w", err)
			}
			if len(entries) == 0 {
				return mcp.NewToolResultText("No journal entries match"), nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Found %d journal entry(ies):\n", len(entries))
			for _, e := range entries {
				fmt.Fprintf(&b, "[%.2f] %s - %s (by %s", e.Combined, e.Meta.Filename, e.Meta.Summary, e.Meta.Author)
				if len(e.Meta.Tags) > 0 {
					fmt.Fprintf(&b, ", tags: %s", strings.Join(e.Meta.Tags, ", "))
				}
				b.WriteString(")\n")
			}

			logger.Printf("journal_search %q: %d result(s)", query, len(entries))
			return mcp.NewToolResultText(b.String()), nil
		},
	)
}
