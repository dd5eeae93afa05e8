package bus

import (
	"encoding/json"
	"fmt"

	"github.com/jaakkos/deskwork/internal/domain"
)

// Typed payloads carried in message bodies. Decoding happens at dispatch;
// a body that fails to decode becomes an invalid_input result, never a
// dropped request.

// SearchPayload is the body of a search_request.
type SearchPayload struct {
	Query      string `json:"query"`
	Path       string `json:"path,omitempty"`
	SearchType string `json:"search_type,omitempty"` // smart, routes, files, journal
}

// IndexPayload is the body of an index_request.
type IndexPayload struct {
	Path string `json:"path"`
}

// ExecutePayload is the body of an execute_request.
type ExecutePayload struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
}

// FileOpPayload is the body of a file_request.
type FileOpPayload struct {
	Operation   string `json:"operation"` // create, edit, delete, read, copy, move
	Path        string `json:"path"`
	Content     string `json:"content,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// KnowledgePayload is the body of a knowledge_request.
type KnowledgePayload struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

// ClaudeCodePayload is the body of a claude_code_request.
type ClaudeCodePayload struct {
	Prompt      string `json:"prompt"`
	Cwd         string `json:"cwd,omitempty"`
	AllowEdits  bool   `json:"allow_edits"`
	TimeoutSecs int    `json:"timeout_seconds,omitempty"`
}

// DiscoveryPayload is the body of a discovery broadcast.
type DiscoveryPayload struct {
	DiscoveryType string         `json:"discovery_type"`
	Description   string         `json:"description"`
	Details       map[string]any `json:"details,omitempty"`
}

// BlockerPayload is the body of a blocker message.
type BlockerPayload struct {
	TaskID      string `json:"task_id,omitempty"`
	Description string `json:"description"`
}

// ResultPayload is the body of every *_result message.
type ResultPayload struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// DecodeResult decodes a result body.
func DecodeResult(body string) (*ResultPayload, error) {
	var r ResultPayload
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, domain.E(domain.KindInvalidInput, "bus.decode_result", err)
	}
	return &r, nil
}

func (b *Bus) sendJSON(from, to, msgType, subject string, payload any, priority domain.Priority, replyTo string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", domain.E(domain.KindInvalidInput, "bus.send", err)
	}
	return b.Send(from, to, msgType, subject, string(body), priority, replyTo)
}

// RequestSearch asks the Librarian to search. Returns the correlation id.
func (b *Bus) RequestSearch(from, to string, p SearchPayload) (string, error) {
	subject := fmt.Sprintf("Search: %s", p.Query)
	return b.sendJSON(from, to, domain.TypeSearchRequest, subject, p, domain.PriorityMedium, "")
}

// RequestIndex asks the Librarian to index one file.
func (b *Bus) RequestIndex(from, to, path string) (string, error) {
	return b.sendJSON(from, to, domain.TypeIndexRequest, "Index file", IndexPayload{Path: path}, domain.PriorityMedium, "")
}

// RequestExecute asks the Executor to run a command.
func (b *Bus) RequestExecute(from, to string, p ExecutePayload) (string, error) {
	subject := fmt.Sprintf("Execute: %s", truncate(p.Command, 80))
	return b.sendJSON(from, to, domain.TypeExecuteRequest, subject, p, domain.PriorityHigh, "")
}

// RequestFileOperation asks the Executor to perform a file operation.
func (b *Bus) RequestFileOperation(from, to string, p FileOpPayload) (string, error) {
	subject := fmt.Sprintf("File %s: %s", p.Operation, p.Path)
	return b.sendJSON(from, to, domain.TypeFileRequest, subject, p, domain.PriorityMedium, "")
}

// RequestKnowledge asks the Librarian a knowledge question.
func (b *Bus) RequestKnowledge(from, to string, p KnowledgePayload) (string, error) {
	subject := fmt.Sprintf("Knowledge: %s", truncate(p.Question, 80))
	return b.sendJSON(from, to, domain.TypeKnowledgeRequest, subject, p, domain.PriorityMedium, "")
}

// RequestClaudeCode asks the Executor to delegate to the coding-assistant
// CLI.
func (b *Bus) RequestClaudeCode(from, to string, p ClaudeCodePayload) (string, error) {
	subject := fmt.Sprintf("Claude Code: %s", truncate(p.Prompt, 80))
	return b.sendJSON(from, to, domain.TypeClaudeCodeRequest, subject, p, domain.PriorityHigh, "")
}

// RequestStatus asks a peer for its status.
func (b *Bus) RequestStatus(from, to string) (string, error) {
	return b.Send(from, to, domain.TypeStatusRequest, "Status check", "{}", domain.PriorityLow, "")
}

// ShareDiscovery broadcasts a discovery to a peer.
func (b *Bus) ShareDiscovery(from, to string, p DiscoveryPayload) (string, error) {
	subject := fmt.Sprintf("Discovery: %s", p.DiscoveryType)
	return b.sendJSON(from, to, domain.TypeDiscovery, subject, p, domain.PriorityLow, "")
}

// ReportBlocker tells a peer about a blocking condition.
func (b *Bus) ReportBlocker(from, to string, p BlockerPayload) (string, error) {
	return b.sendJSON(from, to, domain.TypeBlocker, "Blocked", p, domain.PriorityHigh, "")
}

// SendResult replies to a request with a typed result. requestType selects
// the result message type; result is JSON-encoded into the payload.
func (b *Bus) SendResult(from, to, requestType, replyTo string, success bool, result any, errMsg string) (string, error) {
	resultType := domain.ResultTypeFor(requestType)
	if resultType == "" {
		return "", domain.Errorf(domain.KindInvalidInput, "bus.send_result", "%q is not a request type", requestType)
	}
	payload := ResultPayload{Success: success, Error: errMsg}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return "", domain.E(domain.KindInvalidInput, "bus.send_result", err)
		}
		payload.Result = raw
	}
	subject := "Result"
	if !success {
		subject = "Result (failed)"
	}
	return b.sendJSON(from, to, resultType, subject, payload, domain.PriorityMedium, replyTo)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
