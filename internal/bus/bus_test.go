package bus

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jaakkos/deskwork/internal/domain"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "message_bus.json"), log.New(os.Stderr, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestConcurrentSendsDurable(t *testing.T) {
	b := newTestBus(t)

	const workers = 4
	const perWorker = 5
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := b.Send("director", "librarian", domain.TypeQuestion, "q", "body", domain.PriorityMedium, ""); err != nil {
					t.Errorf("Send: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(b.Path())
	if err != nil {
		t.Fatalf("read bus file: %v", err)
	}
	var f struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("bus file is not well-formed JSON: %v", err)
	}
	if len(f.Messages) != workers*perWorker {
		t.Fatalf("len(messages) = %d, want %d", len(f.Messages), workers*perWorker)
	}
	seen := make(map[string]bool)
	for _, m := range f.Messages {
		if seen[m.ID] {
			t.Errorf("duplicate message id %s", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestPendingPriorityOrder(t *testing.T) {
	b := newTestBus(t)

	a, _ := b.Send("x", "exec", domain.TypeQuestion, "A", "", domain.PriorityMedium, "")
	bid, _ := b.Send("x", "exec", domain.TypeQuestion, "B", "", domain.PriorityHigh, "")
	c, _ := b.Send("x", "exec", domain.TypeQuestion, "C", "", domain.PriorityMedium, "")
	d, _ := b.Send("x", "exec", domain.TypeQuestion, "D", "", domain.PriorityLow, "")

	pending, err := b.GetPending("exec")
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	want := []string{bid, a, c, d}
	if len(pending) != 4 {
		t.Fatalf("len(pending) = %d, want 4", len(pending))
	}
	for i, m := range pending {
		if m.ID != want[i] {
			t.Errorf("pending[%d] = %s (%s), want %s", i, m.ID, m.Subject, want[i])
		}
	}
}

func TestThreadIntegrity(t *testing.T) {
	b := newTestBus(t)

	m0, _ := b.Send("director", "librarian", domain.TypeQuestion, "root", "", domain.PriorityMedium, "")
	m1, _ := b.Send("librarian", "director", domain.TypeQuestion, "reply1", "", domain.PriorityMedium, m0)
	m2, _ := b.Send("director", "librarian", domain.TypeQuestion, "reply2", "", domain.PriorityMedium, m1)

	thread, err := b.GetThread(m2)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if len(thread) != 3 {
		t.Fatalf("len(thread) = %d, want 3", len(thread))
	}
	want := []string{m0, m1, m2}
	for i, m := range thread {
		if m.ID != want[i] {
			t.Errorf("thread[%d] = %s, want %s", i, m.ID, want[i])
		}
		if m.ThreadID != m0 {
			t.Errorf("thread[%d].ThreadID = %s, want %s", i, m.ThreadID, m0)
		}
	}
}

func TestThreadUnknownRootFallsBack(t *testing.T) {
	b := newTestBus(t)
	id, _ := b.Send("a", "b", domain.TypeQuestion, "s", "", domain.PriorityMedium, "missing-id")

	thread, err := b.GetThread(id)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if len(thread) != 1 || thread[0].ThreadID != id {
		t.Errorf("reply to missing message should root its own thread, got %+v", thread)
	}
}

func TestGetThreadUnknownID(t *testing.T) {
	b := newTestBus(t)
	thread, err := b.GetThread("nope")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if len(thread) != 0 {
		t.Errorf("len(thread) = %d, want 0", len(thread))
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	b := newTestBus(t)
	id, _ := b.Send("a", "b", domain.TypeQuestion, "s", "", domain.PriorityMedium, "")

	if err := b.MarkRead(id); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := b.MarkRead(id); err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	pending, _ := b.GetPending("b")
	if len(pending) != 0 {
		t.Errorf("read message still pending")
	}

	if err := b.MarkRead("missing"); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("MarkRead(missing) kind = %q, want not_found", domain.KindOf(err))
	}
}

func TestWaitForResponse(t *testing.T) {
	b := newTestBus(t)
	reqID, _ := b.Send("director", "executor", domain.TypeExecuteRequest, "run", "{}", domain.PriorityHigh, "")

	go func() {
		time.Sleep(200 * time.Millisecond)
		_, _ = b.SendResult("executor", "director", domain.TypeExecuteRequest, reqID, true, map[string]any{"ok": true}, "")
	}()

	msg, err := b.WaitForResponse("director", reqID, 5*time.Second, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForResponse: %v", err)
	}
	if msg == nil {
		t.Fatal("WaitForResponse returned nil, want reply")
	}
	if msg.ReplyTo != reqID {
		t.Errorf("ReplyTo = %s, want %s", msg.ReplyTo, reqID)
	}
	if msg.Type != domain.TypeExecuteResult {
		t.Errorf("Type = %s, want execute_result", msg.Type)
	}

	// The matched reply is consumed.
	pending, _ := b.GetPending("director")
	if len(pending) != 0 {
		t.Errorf("reply still pending after WaitForResponse")
	}
}

func TestWaitForResponseTimeout(t *testing.T) {
	b := newTestBus(t)

	start := time.Now()
	msg, err := b.WaitForResponse("director", "no-such-request", 1*time.Second, 100*time.Millisecond)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("WaitForResponse: %v", err)
	}
	if msg != nil {
		t.Fatalf("got %+v, want nil on timeout", msg)
	}
	if elapsed < 1*time.Second || elapsed >= 1500*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 1s and < 1.5s", elapsed)
	}
}

func TestCleanup(t *testing.T) {
	b := newTestBus(t)

	old := time.Now().AddDate(0, 0, -10)
	b.now = func() time.Time { return old }
	_, _ = b.Send("a", "b", domain.TypeQuestion, "old", "", domain.PriorityMedium, "")
	b.now = time.Now
	fresh, _ := b.Send("a", "b", domain.TypeQuestion, "fresh", "", domain.PriorityMedium, "")

	removed, err := b.Cleanup(7)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	pending, _ := b.GetPending("b")
	if len(pending) != 1 || pending[0].ID != fresh {
		t.Errorf("wrong survivor: %+v", pending)
	}
}

func TestCorruptBusFileFailsLoudly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "message_bus.json")
	b, err := New(path, log.New(os.Stderr, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"messages": [truncated`), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	_, err = b.GetPending("anyone")
	if domain.KindOf(err) != domain.KindCorruptState {
		t.Errorf("kind = %q, want corrupt_state", domain.KindOf(err))
	}
}

func TestUnknownFieldsSurviveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "message_bus.json")
	seed := `{"messages": [{"id":"ext1","from":"other","to":"director","type":"question",` +
		`"subject":"s","body":"b","priority":"low","timestamp":"2026-01-01T00:00:00",` +
		`"read":false,"thread_id":"ext1","origin_host":"laptop"}],` +
		`"created_at":"2026-01-01T00:00:00","schema_rev":3}`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	b, err := New(path, log.New(os.Stderr, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := b.Send("director", "librarian", domain.TypeQuestion, "s", "", domain.PriorityMedium, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}

	data, _ := os.ReadFile(path)
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["schema_rev"] != float64(3) {
		t.Errorf("top-level unknown field dropped: %v", raw["schema_rev"])
	}
	msgs := raw["messages"].([]any)
	first := msgs[0].(map[string]any)
	if first["origin_host"] != "laptop" {
		t.Errorf("per-message unknown field dropped: %v", first)
	}
}

func TestSendResultRequiresRequestType(t *testing.T) {
	b := newTestBus(t)
	if _, err := b.SendResult("a", "b", domain.TypeDiscovery, "x", true, nil, ""); domain.KindOf(err) != domain.KindInvalidInput {
		t.Errorf("kind = %q, want invalid_input", domain.KindOf(err))
	}
}
