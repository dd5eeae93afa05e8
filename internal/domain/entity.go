// Package domain holds the runtime's entities and error taxonomy.
// It has no dependencies on other packages.
package domain

import (
	"encoding/json"
	"time"
)

// TimeFormat is the canonical timestamp format for bus messages and journal
// metadata: ISO-8601 with second precision, so lexicographic order is
// chronological order.
const TimeFormat = "2006-01-02T15:04:05"

// Priority orders message delivery and task pickup.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank for a priority (high first). Unknown values
// sort after low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// Valid reports whether p is one of the three known priorities.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Message types understood by peers. Any other type is accepted on the bus
// but acknowledged-and-ignored at dispatch.
const (
	TypeSearchRequest     = "search_request"
	TypeIndexRequest      = "index_request"
	TypeExecuteRequest    = "execute_request"
	TypeFileRequest       = "file_request"
	TypeKnowledgeRequest  = "knowledge_request"
	TypeStatusRequest     = "status_request"
	TypeClaudeCodeRequest = "claude_code_request"

	TypeSearchResult     = "search_result"
	TypeIndexComplete    = "index_complete"
	TypeExecuteResult    = "execute_result"
	TypeFileComplete     = "file_complete"
	TypeKnowledgeResult  = "knowledge_result"
	TypeStatusResponse   = "status_response"
	TypeClaudeCodeResult = "claude_code_result"

	TypeDiscovery     = "discovery"
	TypeSuggestion    = "suggestion"
	TypeQuestion      = "question"
	TypeBlocker       = "blocker"
	TypeReviewRequest = "review_request"
)

// ResultTypeFor maps a request type to its result type ("" if t is not a
// request type).
func ResultTypeFor(t string) string {
	switch t {
	case TypeSearchRequest:
		return TypeSearchResult
	case TypeIndexRequest:
		return TypeIndexComplete
	case TypeExecuteRequest:
		return TypeExecuteResult
	case TypeFileRequest:
		return TypeFileComplete
	case TypeKnowledgeRequest:
		return TypeKnowledgeResult
	case TypeStatusRequest:
		return TypeStatusResponse
	case TypeClaudeCodeRequest:
		return TypeClaudeCodeResult
	}
	return ""
}

// Message is a single bus message between peer agents. Body is free-form
// text; for the typed request/result messages it carries a JSON payload.
//
// ThreadID equals ID for a root message; a reply inherits the thread of the
// message it answers. Extra preserves fields written by other (possibly
// newer) peers so a read-modify-write of the bus file never drops them.
type Message struct {
	ID        string   `json:"id"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Type      string   `json:"type"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Priority  Priority `json:"priority"`
	Timestamp string   `json:"timestamp"`
	Read      bool     `json:"read"`
	ReadAt    string   `json:"read_at,omitempty"`
	ThreadID  string   `json:"thread_id"`
	ReplyTo   string   `json:"reply_to,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// messageAlias avoids MarshalJSON recursion.
type messageAlias Message

var messageKeys = []string{
	"id", "from", "to", "type", "subject", "body", "priority",
	"timestamp", "read", "read_at", "thread_id", "reply_to",
}

// MarshalJSON emits the known fields plus any preserved unknown fields.
func (m Message) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(messageAlias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(m.Extra)+len(messageKeys))
	for k, v := range m.Extra {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (m *Message) UnmarshalJSON(data []byte) error {
	var alias messageAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*m = Message(alias)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range messageKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// Task statuses. Normal flow is pending -> {in_progress, blocked} ->
// {pending, completed}; completed is terminal.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskBlocked    = "blocked"
)

// Task is a unit of work tracked in the state store.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Owner       string    `json:"owner"`
	Status      string    `json:"status"`
	Priority    Priority  `json:"priority"`
	DueDate     string    `json:"due_date,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Alert levels.
const (
	AlertInfo     = "info"
	AlertWarning  = "warning"
	AlertCritical = "critical"
)

// Alert is a raised condition awaiting acknowledgement. Once acknowledged
// it stays acknowledged.
type Alert struct {
	ID           string    `json:"id"`
	Level        string    `json:"level"`
	Message      string    `json:"message"`
	Source       string    `json:"source"`
	Acknowledged bool      `json:"acknowledged"`
	CreatedAt    time.Time `json:"created_at"`
}

// Decision is an append-only record of a decision and its rationale.
type Decision struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Rationale     string    `json:"rationale"`
	DecisionMaker string    `json:"decision_maker"`
	Impact        string    `json:"impact"`
	CreatedAt     time.Time `json:"created_at"`
}

// KPISample is one point in an append-only metric time-series.
type KPISample struct {
	ID        int64     `json:"id"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextEntry is an arbitrary JSON value stored under a unique key.
type ContextEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"` // JSON-encoded
	UpdatedAt time.Time `json:"updated_at"`
}

// MeetingPrep is a generated brief for a calendar event. The most recent
// row per event wins at read time.
type MeetingPrep struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Brief     string    `json:"brief"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// FileIndexEntry is one indexed file. Path is unique and absolute; re-index
// upserts by path and preserves the existing ID.
type FileIndexEntry struct {
	ID         int64     `json:"id"`
	Path       string    `json:"path"`
	Extension  string    `json:"extension"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	IndexedAt  time.Time `json:"indexed_at"`
	Summary    string    `json:"summary,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
}

// Route types emitted by the code router.
const (
	RouteFunction  = "function"
	RouteClass     = "class"
	RouteMethod    = "method"
	RouteEndpoint  = "endpoint"
	RouteHandler   = "handler"
	RouteStruct    = "struct"
	RouteInterface = "interface"
	RouteProperty  = "property"
)

// CodeRoute is a discoverable code symbol indexed for substring search.
// Routes for a file are replaced as a unit on re-index.
type CodeRoute struct {
	ID         int64     `json:"id"`
	FilePath   string    `json:"file_path"`
	RouteType  string    `json:"route_type"`
	Name       string    `json:"name"`
	LineNumber int       `json:"line_number"`
	Signature  string    `json:"signature"`
	Docstring  string    `json:"docstring,omitempty"`
	Keywords   []string  `json:"keywords,omitempty"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Discovery is an append-only record of something a peer found worth
// sharing.
type Discovery struct {
	ID            string    `json:"id"`
	Agent         string    `json:"agent"`
	DiscoveryType string    `json:"discovery_type"`
	Description   string    `json:"description"`
	Details       string    `json:"details,omitempty"` // JSON-encoded
	DiscoveredAt  time.Time `json:"discovered_at"`
}

// Agent states published to the state store.
const (
	AgentStopped   = "stopped"
	AgentRunning   = "running"
	AgentExploring = "exploring"
	AgentRouting   = "routing"
	AgentBusy      = "busy"
)

// AgentStatus is the liveness row for one peer (upsert by name).
type AgentStatus struct {
	AgentName     string    `json:"agent_name"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CurrentTask   string    `json:"current_task,omitempty"`
}

// Decay rates controlling how fast a journal entry's recency score falls.
type DecayRate string

const (
	DecayFast   DecayRate = "fast"
	DecayMedium DecayRate = "medium"
	DecaySlow   DecayRate = "slow"
)

// PerDay returns the exponential decay constant for the rate. Unknown
// values decay like medium.
func (d DecayRate) PerDay() float64 {
	switch d {
	case DecayFast:
		return 0.1
	case DecaySlow:
		return 0.01
	}
	return 0.05
}

// JournalMeta mirrors a journal entry's header in the index file so search
// never has to scan entry bodies. Filename is the primary key.
type JournalMeta struct {
	Filename       string    `json:"filename"`
	Title          string    `json:"title"`
	Author         string    `json:"author"`
	Tags           []string  `json:"tags"`
	Summary        string    `json:"summary"`
	CreatedAt      string    `json:"created_at"`
	RelevanceDecay DecayRate `json:"relevance_decay"`
}

// Attendee of a calendar event.
type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Event is a calendar event as seen through the calendar collaborator.
type Event struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Location    string     `json:"location,omitempty"`
	Organizer   string     `json:"organizer,omitempty"`
	Attendees   []Attendee `json:"attendees,omitempty"`
	IsOnline    bool       `json:"is_online"`
	BodyPreview string     `json:"body_preview,omitempty"`
}
