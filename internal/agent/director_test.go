package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jaakkos/deskwork/internal/bus"
	"github.com/jaakkos/deskwork/internal/calendar"
	"github.com/jaakkos/deskwork/internal/domain"
)

func TestDiscoveryIsPersisted(t *testing.T) {
	deps := newTestDeps(t, nil)
	d := NewDirector(deps, nil, nil)

	if _, err := deps.Bus.ShareDiscovery("librarian", "director", bus.DiscoveryPayload{
		DiscoveryType: "exploration",
		Description:   "Indexed 42 files",
		Details:       map[string]any{"files": 42},
	}); err != nil {
		t.Fatalf("ShareDiscovery: %v", err)
	}
	msgs := pendingFor(t, deps.Bus, "director", 1)
	if err := d.dispatch(context.Background(), d, msgs[0]); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	discoveries, err := deps.Store.GetRecentDiscoveries(5)
	if err != nil || len(discoveries) != 1 {
		t.Fatalf("discoveries = %v, %v", discoveries, err)
	}
	got := discoveries[0]
	if got.Agent != "librarian" || got.DiscoveryType != "exploration" || got.Description != "Indexed 42 files" {
		t.Errorf("discovery = %+v", got)
	}
}

func TestBlockerRaisesAlert(t *testing.T) {
	deps := newTestDeps(t, nil)
	d := NewDirector(deps, nil, nil)

	if _, err := deps.Bus.ReportBlocker("executor", "director", bus.BlockerPayload{
		TaskID: "t1", Description: "missing credentials",
	}); err != nil {
		t.Fatalf("ReportBlocker: %v", err)
	}
	msgs := pendingFor(t, deps.Bus, "director", 1)
	if err := d.dispatch(context.Background(), d, msgs[0]); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	unacked := false
	alerts, err := deps.Store.GetAlerts(domain.AlertWarning, &unacked)
	if err != nil || len(alerts) != 1 {
		t.Fatalf("alerts = %v, %v", alerts, err)
	}
	if !strings.Contains(alerts[0].Message, "Blocker from executor") {
		t.Errorf("alert = %q", alerts[0].Message)
	}
}

func TestPeerResponseSatisfiesPendingRequest(t *testing.T) {
	deps := newTestDeps(t, nil)
	d := NewDirector(deps, nil, nil)

	d.trackRequest("req-1", "search", "find python files")

	body, _ := json.Marshal(bus.ResultPayload{Success: true, Result: json.RawMessage(`{"summary":"Found 1 Python files"}`)})
	d.handlePeerResponse(domain.Message{
		ID: "m-1", From: "librarian", Type: domain.TypeSearchResult,
		Body: string(body), ReplyTo: "req-1",
	})

	req := d.Pending("req-1")
	if req == nil || !req.Completed || req.Response == nil || !req.Response.Success {
		t.Fatalf("pending = %+v", req)
	}

	// An uncorrelated reply is dropped without creating an entry.
	d.handlePeerResponse(domain.Message{ID: "m-2", From: "librarian", Type: domain.TypeSearchResult, Body: string(body), ReplyTo: "nope"})
	if d.Pending("nope") != nil {
		t.Error("uncorrelated reply created a pending entry")
	}
}

func TestReviewRequestRepliesWithVerdict(t *testing.T) {
	llmClient := &fakeLLM{response: "The work looks good and can be marked as complete."}
	deps := newTestDeps(t, llmClient)
	d := NewDirector(deps, nil, nil)

	task := &domain.Task{Title: "Write report", Status: domain.TaskCompleted}
	if err := deps.Store.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if _, err := deps.Bus.Send("executor", "director", domain.TypeReviewRequest,
		"Review request: Write report", task.ID, domain.PriorityMedium, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := pendingFor(t, deps.Bus, "director", 1)
	if err := d.dispatch(context.Background(), d, msgs[0]); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	replies := pendingFor(t, deps.Bus, "executor", 1)
	if replies[0].Type != "review_response" {
		t.Fatalf("reply type = %q", replies[0].Type)
	}
	if !strings.HasPrefix(replies[0].Body, "approved") {
		t.Errorf("body = %q", replies[0].Body)
	}
	if replies[0].ThreadID != msgs[0].ThreadID {
		t.Errorf("reply thread = %q, want %q", replies[0].ThreadID, msgs[0].ThreadID)
	}
}

func TestAskSimpleQueryAnswersDirectly(t *testing.T) {
	llmClient := &fakeLLM{response: "Hello! How can I help today?"}
	deps := newTestDeps(t, llmClient)
	d := NewDirector(deps, nil, nil)

	got := d.Ask(context.Background(), "hello")
	if got != llmClient.response {
		t.Errorf("Ask = %q", got)
	}
	if llmClient.calls != 1 {
		t.Errorf("llm calls = %d", llmClient.calls)
	}
}

func TestAskLLMFailureUsesFallbackMessage(t *testing.T) {
	llmClient := &fakeLLM{err: errors.New("api down")}
	deps := newTestDeps(t, llmClient)
	d := NewDirector(deps, nil, nil)

	if got := d.Ask(context.Background(), "good morning"); got != errorFallback {
		t.Errorf("Ask = %q", got)
	}
}

func TestAskExternalCapabilityWithoutExecutor(t *testing.T) {
	deps := newTestDeps(t, &fakeLLM{response: "unused"})
	d := NewDirector(deps, nil, nil)

	got := d.Ask(context.Background(), "what's the weather forecast right now")
	if got != capabilityLimitation {
		t.Errorf("Ask = %q", got)
	}
}

func TestAskIncludesRelevantJournalNotes(t *testing.T) {
	llmClient := &fakeLLM{response: "Here is what I know."}
	deps := newTestDeps(t, llmClient)
	d := NewDirector(deps, nil, nil)

	if _, err := deps.Journal.WriteEntry("director", []string{"deploy"}, "Deploy runbook", "Use the blue-green script.", domain.DecayMedium); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	d.Ask(context.Background(), "good morning, anything about deploy runbook?")
	if !strings.Contains(llmClient.lastUser, "Relevant Notes") {
		t.Errorf("prompt missing notes section:\n%s", llmClient.lastUser)
	}
	if !strings.Contains(llmClient.lastUser, "blue-green script") {
		t.Errorf("prompt missing entry content:\n%s", llmClient.lastUser)
	}
}

func TestDailyCheckinRaisesAlertOnCriticalFindings(t *testing.T) {
	llmClient := &fakeLLM{response: "Overall: At Risk. Two items are blocked and need urgent action."}
	deps := newTestDeps(t, llmClient)
	d := NewDirector(deps, nil, nil)

	report, err := d.DailyCheckin(context.Background())
	if err != nil {
		t.Fatalf("DailyCheckin: %v", err)
	}
	if !report.Critical {
		t.Error("critical = false")
	}

	unacked := false
	alerts, err := deps.Store.GetAlerts("", &unacked)
	if err != nil || len(alerts) != 1 {
		t.Fatalf("alerts = %v, %v", alerts, err)
	}

	entries, err := deps.Retriever.Retrieve([]string{"daily-checkin"}, "", 5)
	if err != nil || len(entries) != 1 {
		t.Fatalf("journal entries = %v, %v", entries, err)
	}
}

func TestCheckKPIsRecordsRates(t *testing.T) {
	deps := newTestDeps(t, nil)
	d := NewDirector(deps, nil, nil)

	for _, task := range []*domain.Task{
		{Title: "a", Status: domain.TaskCompleted},
		{Title: "b", Status: domain.TaskCompleted},
		{Title: "c", Status: domain.TaskBlocked},
		{Title: "d", Status: domain.TaskPending},
	} {
		if err := deps.Store.AddTask(task); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	report, err := d.CheckKPIs(context.Background())
	if err != nil {
		t.Fatalf("CheckKPIs: %v", err)
	}
	if report.TotalTasks != 4 || report.CompletedTasks != 2 || report.BlockedTasks != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.CompletionRate != 50.0 || report.BlockRate != 25.0 {
		t.Errorf("rates = %v / %v", report.CompletionRate, report.BlockRate)
	}

	history, err := deps.Store.GetKPIHistory("completion_rate", 5)
	if err != nil || len(history) != 1 || history[0].Value != 50.0 {
		t.Errorf("history = %v, %v", history, err)
	}
}

func TestMeetingSweepPreparesOnce(t *testing.T) {
	llmClient := &fakeLLM{response: "Briefing: discuss roadmap."}
	deps := newTestDeps(t, llmClient)

	now := time.Now()
	events := []domain.Event{
		{ID: "ev-1", Subject: "Roadmap sync", Start: now.Add(20 * time.Minute)},
		{ID: "ev-2", Subject: "Next week", Start: now.Add(7 * 24 * time.Hour)},
	}
	fixture := writeCalendarFixture(t, events)
	d := NewDirector(deps, calendar.NewFileProvider(fixture), nil)

	d.sweepMeetings(context.Background())
	prep, err := deps.Store.LatestMeetingPrep("ev-1")
	if err != nil || prep == nil {
		t.Fatalf("prep = %v, %v", prep, err)
	}
	if prep.Brief != llmClient.response || prep.CreatedBy != "director" {
		t.Errorf("prep = %+v", prep)
	}
	if far, _ := deps.Store.LatestMeetingPrep("ev-2"); far != nil {
		t.Error("prepared a meeting outside the 45 minute window")
	}

	// Second sweep must not duplicate the prep.
	d.sweepMeetings(context.Background())
	if llmClient.calls != 1 {
		t.Errorf("llm calls = %d, want 1", llmClient.calls)
	}
}

func TestStalePeerSweepAlertsOnce(t *testing.T) {
	deps := newTestDeps(t, nil)
	d := NewDirector(deps, nil, nil)

	if err := deps.Store.UpdateAgentStatus("executor", domain.AgentRunning, ""); err != nil {
		t.Fatalf("UpdateAgentStatus: %v", err)
	}

	// Heartbeat is fresh, nothing to report.
	d.sweepStalePeers()
	unacked := false
	alerts, err := deps.Store.GetAlerts(domain.AlertWarning, &unacked)
	if err != nil || len(alerts) != 0 {
		t.Fatalf("alerts = %v, %v", alerts, err)
	}

	// Jump past the heartbeat deadline; two sweeps must produce one alert.
	d.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
	d.sweepStalePeers()
	d.sweepStalePeers()
	alerts, err = deps.Store.GetAlerts(domain.AlertWarning, &unacked)
	if err != nil || len(alerts) != 1 {
		t.Fatalf("alerts = %v, %v", alerts, err)
	}
	if !strings.Contains(alerts[0].Message, "executor has not sent a heartbeat") {
		t.Errorf("alert = %q", alerts[0].Message)
	}
}

func TestMakeDecisionRecordsRationale(t *testing.T) {
	llmClient := &fakeLLM{response: "Option 2 is the best choice because it is reversible."}
	deps := newTestDeps(t, llmClient)
	d := NewDirector(deps, nil, nil)

	decision, err := d.MakeDecision(context.Background(), "Storage engine", []string{"files", "sqlite"}, "")
	if err != nil {
		t.Fatalf("MakeDecision: %v", err)
	}
	if decision.ID == "" || decision.Rationale != llmClient.response {
		t.Fatalf("decision = %+v", decision)
	}

	stored, err := deps.Store.GetDecisions(5)
	if err != nil || len(stored) != 1 || stored[0].Title != "Storage engine" {
		t.Errorf("stored = %v, %v", stored, err)
	}
}

func writeCalendarFixture(t *testing.T, events []domain.Event) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		t.Fatalf("marshal events: %v", err)
	}
	path := filepath.Join(t.TempDir(), "calendar.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
