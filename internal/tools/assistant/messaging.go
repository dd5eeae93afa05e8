package assistant

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deskwork/internal/domain"
)

// registerSendMessage registers the send_message tool.
func registerSendMessage(s *server.MCPServer, d Deps, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message to a peer agent (director, librarian, executor). Use this to delegate work, report findings, or answer a request."),
			mcp.WithString("from", mcp.Required(), mcp.Description("Sender identifier (e.g., 'cursor', 'claude-code')")),
			mcp.WithString("to", mcp.Required(), mcp.Description("Recipient agent: 'director', 'librarian', or 'executor'")),
			mcp.WithString("subject", mcp.Description("Short subject line")),
			mcp.WithString("body", mcp.Required(), mcp.Description("Message body - free text, or JSON for typed requests")),
			mcp.WithString("type", mcp.Description("Message type (default 'question')")),
			mcp.WithString("priority", mcp.Description("'high', 'medium', or 'low' (default 'medium')")),
			mcp.WithString("reply_to", mcp.Description("ID of the message this replies to")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			from, _ := args["from"].(string)
			to, _ := args["to"].(string)
			body, _ := args["body"].(string)
			if from == "" || to == "" || body == "" {
				return nil, fmt.Errorf("from, to, and body are required")
			}

			subject, _ := args["subject"].(string)
			msgType, _ := args["type"].(string)
			if msgType == "" {
				msgType = domain.TypeQuestion
			}
			replyTo, _ := args["reply_to"].(string)

			priority := domain.PriorityMedium
			if v, _ := args["priority"].(string); v != "" {
				priority = domain.Priority(v)
				if !priority.Valid() {
					return nil, fmt.Errorf("invalid priority %q", v)
				}
			}

			id, err := d.Bus.Send(from, to, msgType, subject, body, priority, replyTo)
			if err != nil {
				return nil, fmt.Errorf("send: %w", err)
			}

			logger.Printf("Message %s sent from %s to %s", id, from, to)
			return mcp.NewToolResultText(fmt.Sprintf("Message %s sent to %s", id, to)), nil
		},
	)
}

// registerCheckMessages registers the check_messages tool.
func registerCheckMessages(s *server.MCPServer, d Deps, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("check_messages",
			mcp.WithDescription("Read pending messages addressed to you, highest priority first. Check this regularly to see if a peer agent needs something."),
			mcp.WithString("for", mcp.Required(), mcp.Description("Read messages for this recipient (e.g., 'cursor', 'claude-code')")),
			mcp.WithBoolean("mark_read", mcp.Description("Acknowledge returned messages (default: true)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of messages to return (default: 10)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			recipient, _ := args["for"].(string)
			if recipient == "" {
				return nil, fmt.Errorf("'for' is required")
			}

			markRead := true
			if v, ok := args["mark_read"].(bool); ok {
				markRead = v
			}
			limit := 10
			if v, ok := args["limit"].(float64); ok {
				limit = int(v)
				if limit < 1 {
					limit = 1
				}
				if limit > 100 {
					limit = 100
				}
			}

			pending, err := d.Bus.GetPending(recipient)
			if err != nil {
				return nil, fmt.Errorf("get pending: %w", err)
			}
			if len(pending) > limit {
				pending = pending[:limit]
			}
			if len(pending) == 0 {
				return mcp.NewToolResultText("No messages"), nil
			}

			var b strings.Builder
			for _, m := range pending {
				fmt.Fprintf(&b, "--- Message %s from %s (%s, %s) ---\n", m.ID, m.From, m.Type, m.Priority)
				if m.Subject != "" {
					fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
				}
				fmt.Fprintf(&b, "%s\n\n", m.Body)
				if markRead {
					if err := d.Bus.MarkRead(m.ID); err != nil {
						logger.Printf("check_messages: mark read %s: %v", m.ID, err)
					}
				}
			}

			logger.Printf("Read %d messages for %s", len(pending), recipient)
			return mcp.NewToolResultText(b.String()), nil
		},
	)
}
