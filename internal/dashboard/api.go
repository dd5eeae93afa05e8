// Package dashboard provides a small web page and read-only JSON API for
// monitoring the agents, tasks, and alerts.
package dashboard

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/jaakkos/deskwork/internal/bus"
	"github.com/jaakkos/deskwork/internal/config"
	"github.com/jaakkos/deskwork/internal/state"
)

// StatusSnapshot is the JSON response from /api/status.
type StatusSnapshot struct {
	Timestamp       string          `json:"timestamp"`
	Workspace       string          `json:"workspace"`
	Agents          []AgentSnapshot `json:"agents"`
	PendingMessages map[string]int  `json:"pending_messages"`
}

// AgentSnapshot is a per-agent summary.
type AgentSnapshot struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	CurrentTask   string `json:"current_task,omitempty"`
	LastHeartbeat string `json:"last_heartbeat,omitempty"`
}

// TaskSnapshot is a per-task summary.
type TaskSnapshot struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Owner    string `json:"owner,omitempty"`
	Priority string `json:"priority"`
	Age      string `json:"age"`
}

// AlertSnapshot is a per-alert summary.
type AlertSnapshot struct {
	ID           string `json:"id"`
	Level        string `json:"level"`
	Message      string `json:"message"`
	Source       string `json:"source,omitempty"`
	Acknowledged bool   `json:"acknowledged"`
	Age          string `json:"age"`
}

// Handler holds dependencies for dashboard HTTP handlers.
type Handler struct {
	store  *state.Store
	bus    *bus.Bus
	policy *config.Policy
	logger *log.Logger
}

// NewHandler creates a dashboard handler.
func NewHandler(store *state.Store, b *bus.Bus, policy *config.Policy, logger *log.Logger) *Handler {
	return &Handler{store: store, bus: b, policy: policy, logger: logger}
}

// RegisterRoutes adds dashboard routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleAPIStatus)
	mux.HandleFunc("/api/tasks", h.handleAPITasks)
	mux.HandleFunc("/api/alerts", h.handleAPIAlerts)
	mux.HandleFunc("/dashboard", h.handleDashboard)
	mux.HandleFunc("/dashboard/", h.handleDashboard)
}

func (h *Handler) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	snap := StatusSnapshot{
		Timestamp:       now.Format(time.RFC3339),
		Workspace:       h.policy.WorkspaceRoot(),
		PendingMessages: map[string]int{},
	}

	statuses, err := h.store.GetAgentStatuses()
	if err != nil {
		writeError(w, err)
		return
	}
	for _, st := range statuses {
		a := AgentSnapshot{
			Name:        st.AgentName,
			Status:      st.Status,
			CurrentTask: st.CurrentTask,
		}
		if !st.LastHeartbeat.IsZero() {
			a.LastHeartbeat = relTime(st.LastHeartbeat, now)
		}
		snap.Agents = append(snap.Agents, a)

		pending, err := h.bus.GetPending(st.AgentName)
		if err != nil {
			h.logger.Printf("dashboard: pending for %s: %v", st.AgentName, err)
			continue
		}
		snap.PendingMessages[st.AgentName] = len(pending)
	}

	writeJSON(w, snap)
}

func (h *Handler) handleAPITasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.GetTasks(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}

	snaps := make([]TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		snaps = append(snaps, TaskSnapshot{
			ID:       t.ID,
			Title:    truncate(t.Title, 80),
			Status:   t.Status,
			Owner:    t.Owner,
			Priority: string(t.Priority),
			Age:      relTime(t.CreatedAt, now),
		})
	}
	writeJSON(w, map[string]any{"tasks": snaps})
}

func (h *Handler) handleAPIAlerts(w http.ResponseWriter, r *http.Request) {
	// Unacknowledged only by default; ?all=true includes acknowledged.
	var acknowledged *bool
	if r.URL.Query().Get("all") != "true" {
		f := false
		acknowledged = &f
	}

	alerts, err := h.store.GetAlerts(r.URL.Query().Get("level"), acknowledged)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	snaps := make([]AlertSnapshot, 0, len(alerts))
	for _, a := range alerts {
		snaps = append(snaps, AlertSnapshot{
			ID:           a.ID,
			Level:        a.Level,
			Message:      truncate(a.Message, 200),
			Source:       a.Source,
			Acknowledged: a.Acknowledged,
			Age:          relTime(a.CreatedAt, now),
		})
	}
	writeJSON(w, map[string]any{"alerts": snaps})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func relTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return strconv.Itoa(int(d.Seconds())) + "s ago"
	case d < time.Hour:
		return strconv.Itoa(int(d.Minutes())) + "m ago"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d.Hours())) + "h ago"
	default:
		return t.Format("Jan 2 15:04")
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
