package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deskwork/internal/bus"
	"github.com/jaakkos/deskwork/internal/domain"
	"github.com/jaakkos/deskwork/internal/journal"
	"github.com/jaakkos/deskwork/internal/state"
)

// newTestDeps builds a Deps over temp-dir infrastructure.
func newTestDeps(t *testing.T) Deps {
	t.Helper()
	dir := t.TempDir()
	logger := log.New(io.Discard, "", 0)

	b, err := bus.New(filepath.Join(dir, "message_bus.json"), logger)
	if err != nil {
		t.Fatalf("bus.New: %v", err)
	}
	store, err := state.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	index := journal.NewIndex(filepath.Join(dir, "journal", "index.json"))
	if _, err := journal.NewWriter(filepath.Join(dir, "journal"), index, logger); err != nil {
		t.Fatalf("journal.NewWriter: %v", err)
	}
	return Deps{Bus: b, Store: store, Retriever: journal.NewRetriever(index)}
}

// testServer creates an MCPServer with all tools registered.
func testServer(d Deps) *server.MCPServer {
	s := server.NewMCPServer("test", "1.0.0")
	Register(s, d, log.New(io.Discard, "", 0))
	return s
}

// callTool calls a registered tool via the MCPServer's HandleMessage.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	respJSON := s.HandleMessage(context.Background(), reqJSON)
	respBytes, marshalErr := json.Marshal(respJSON)
	if marshalErr != nil {
		t.Fatalf("marshal response: %v", marshalErr)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return &result, nil
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

func TestSendMessageDeliversToAgent(t *testing.T) {
	deps := newTestDeps(t)
	srv := testServer(deps)

	result, err := callTool(t, srv, "send_message", map[string]any{
		"from": "cursor", "to": "director", "subject": "Question",
		"body": "What is the status of the migration?", "priority": "high",
	})
	if err != nil {
		t.Fatalf("send_message: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "sent to director") {
		t.Errorf("result text = %q", text)
	}

	pending, err := deps.Bus.GetPending("director")
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v", pending, err)
	}
	m := pending[0]
	if m.From != "cursor" || m.Priority != domain.PriorityHigh || m.Type != domain.TypeQuestion {
		t.Errorf("message = %+v", m)
	}
}

func TestSendMessageRejectsInvalidPriority(t *testing.T) {
	deps := newTestDeps(t)
	srv := testServer(deps)

	if _, err := callTool(t, srv, "send_message", map[string]any{
		"from": "cursor", "to": "director", "body": "x", "priority": "asap",
	}); err == nil {
		t.Fatal("expected error for invalid priority")
	}
}

func TestCheckMessagesMarksRead(t *testing.T) {
	deps := newTestDeps(t)
	srv := testServer(deps)

	if _, err := deps.Bus.Send("director", "cursor", domain.TypeQuestion, "Hi", "Please review", domain.PriorityMedium, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}

	result, err := callTool(t, srv, "check_messages", map[string]any{"for": "cursor"})
	if err != nil {
		t.Fatalf("check_messages: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "from director") || !strings.Contains(text, "Please review") {
		t.Errorf("result text = %q", text)
	}

	pending, err := deps.Bus.GetPending("cursor")
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("messages left pending = %d, want 0", len(pending))
	}
}

func TestCheckMessagesEmpty(t *testing.T) {
	deps := newTestDeps(t)
	srv := testServer(deps)

	result, err := callTool(t, srv, "check_messages", map[string]any{"for": "cursor"})
	if err != nil {
		t.Fatalf("check_messages: %v", err)
	}
	if got := resultText(t, result); got != "No messages" {
		t.Errorf("result text = %q", got)
	}
}

func TestAgentStatusListsPeers(t *testing.T) {
	deps := newTestDeps(t)
	srv := testServer(deps)

	if err := deps.Store.UpdateAgentStatus("librarian", domain.AgentExploring, "walking roots"); err != nil {
		t.Fatalf("UpdateAgentStatus: %v", err)
	}

	result, err := callTool(t, srv, "agent_status", map[string]any{})
	if err != nil {
		t.Fatalf("agent_status: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "librarian: exploring") || !strings.Contains(text, "walking roots") {
		t.Errorf("result text = %q", text)
	}

	result, err = callTool(t, srv, "agent_status", map[string]any{"agent": "executor"})
	if err != nil {
		t.Fatalf("agent_status filtered: %v", err)
	}
	if got := resultText(t, result); got != "No status recorded for executor" {
		t.Errorf("filtered text = %q", got)
	}
}

func TestSearchRoutesFindsSymbol(t *testing.T) {
	deps := newTestDeps(t)
	srv := testServer(deps)

	if err := deps.Store.AddCodeRoute(&domain.CodeRoute{
		FilePath: "/src/handlers.py", RouteType: domain.RouteFunction,
		Name: "list_users", LineNumber: 12, Signature: "def list_users(request)",
	}); err != nil {
		t.Fatalf("AddCodeRoute: %v", err)
	}

	result, err := callTool(t, srv, "search_routes", map[string]any{"query": "users"})
	if err != nil {
		t.Fatalf("search_routes: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "list_users (function) /src/handlers.py:12") {
		t.Errorf("result text = %q", text)
	}

	result, err = callTool(t, srv, "search_routes", map[string]any{"query": "nothing-here"})
	if err != nil {
		t.Fatalf("search_routes empty: %v", err)
	}
	if got := resultText(t, result); got != "No code routes match 'nothing-here'" {
		t.Errorf("empty text = %q", got)
	}
}

func TestJournalSearchRanksEntries(t *testing.T) {
	deps := newTestDeps(t)

	dir := t.TempDir()
	index := journal.NewIndex(filepath.Join(dir, "index.json"))
	writer, err := journal.NewWriter(dir, index, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := writer.WriteEntry("director", []string{"deploy"}, "Deploy runbook", "Use the blue-green script.", domain.DecayMedium); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	deps.Retriever = journal.NewRetriever(index)
	srv := testServer(deps)

	result, err := callTool(t, srv, "journal_search", map[string]any{"query": "deploy runbook"})
	if err != nil {
		t.Fatalf("journal_search: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "Deploy runbook") || !strings.Contains(text, "by director") {
		t.Errorf("result text = %q", text)
	}

	if _, err := callTool(t, srv, "journal_search", map[string]any{}); err == nil {
		t.Fatal("expected error when query and tags are both empty")
	}
}
