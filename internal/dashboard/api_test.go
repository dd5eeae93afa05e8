package dashboard

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaakkos/deskwork/internal/bus"
	"github.com/jaakkos/deskwork/internal/config"
	"github.com/jaakkos/deskwork/internal/domain"
	"github.com/jaakkos/deskwork/internal/state"
)

func newTestHandler(t *testing.T) (*Handler, *state.Store, *bus.Bus) {
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

	cfg := config.DefaultConfig()
	cfg.WorkspaceRoot = dir
	return NewHandler(store, b, config.New(cfg), logger), store, b
}

func get(t *testing.T, h *Handler, path string, out any) {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s = %d: %s", path, rec.Code, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("unmarshal %s: %v", path, err)
		}
	}
}

func TestAPIStatusReportsAgentsAndPending(t *testing.T) {
	h, store, b := newTestHandler(t)

	if err := store.UpdateAgentStatus("director", domain.AgentRunning, ""); err != nil {
		t.Fatalf("UpdateAgentStatus: %v", err)
	}
	if _, err := b.Send("librarian", "director", domain.TypeDiscovery, "Found", "{}", domain.PriorityLow, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var snap StatusSnapshot
	get(t, h, "/api/status", &snap)
	if len(snap.Agents) != 1 || snap.Agents[0].Name != "director" || snap.Agents[0].Status != domain.AgentRunning {
		t.Errorf("agents = %+v", snap.Agents)
	}
	if snap.PendingMessages["director"] != 1 {
		t.Errorf("pending = %v", snap.PendingMessages)
	}
}

func TestAPITasksFiltersByStatus(t *testing.T) {
	h, store, _ := newTestHandler(t)

	for _, task := range []*domain.Task{
		{Title: "Ship it", Status: domain.TaskCompleted},
		{Title: "Fix flaky test", Status: domain.TaskPending},
	} {
		if err := store.AddTask(task); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	var resp struct {
		Tasks []TaskSnapshot `json:"tasks"`
	}
	get(t, h, "/api/tasks", &resp)
	if len(resp.Tasks) != 2 {
		t.Fatalf("tasks = %+v", resp.Tasks)
	}

	get(t, h, "/api/tasks?status=pending", &resp)
	if len(resp.Tasks) != 1 || resp.Tasks[0].Title != "Fix flaky test" {
		t.Errorf("filtered tasks = %+v", resp.Tasks)
	}
}

func TestAPIAlertsDefaultsToUnacknowledged(t *testing.T) {
	h, store, _ := newTestHandler(t)

	acked := &domain.Alert{Level: domain.AlertInfo, Message: "old news"}
	if err := store.AddAlert(acked); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if err := store.AcknowledgeAlert(acked.ID); err != nil {
		t.Fatalf("AcknowledgeAlert: %v", err)
	}
	if err := store.AddAlert(&domain.Alert{Level: domain.AlertWarning, Message: "task blocked"}); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}

	var resp struct {
		Alerts []AlertSnapshot `json:"alerts"`
	}
	get(t, h, "/api/alerts", &resp)
	if len(resp.Alerts) != 1 || resp.Alerts[0].Message != "task blocked" {
		t.Errorf("alerts = %+v", resp.Alerts)
	}

	get(t, h, "/api/alerts?all=true", &resp)
	if len(resp.Alerts) != 2 {
		t.Errorf("all alerts = %+v", resp.Alerts)
	}
}

func TestDashboardPageServesHTML(t *testing.T) {
	h, _, _ := newTestHandler(t)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /dashboard = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Deskwork Dashboard") {
		t.Error("page missing title")
	}
}
