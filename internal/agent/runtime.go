// Package agent implements the three peer agents sharing the bus, the
// state store, and the journal. Each agent embeds the common Runtime,
// which owns the tick loop: heartbeat, message drain, dispatch, and
// periodic maintenance.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jaakkos/deskwork/internal/bus"
	"github.com/jaakkos/deskwork/internal/config"
	"github.com/jaakkos/deskwork/internal/domain"
	"github.com/jaakkos/deskwork/internal/journal"
	"github.com/jaakkos/deskwork/internal/llm"
	"github.com/jaakkos/deskwork/internal/state"
)

// Agent names as they appear on the bus and in agent_status.
const (
	DirectorName  = "director"
	LibrarianName = "librarian"
	ExecutorName  = "executor"
)

// Deps bundles the collaborators every agent needs.
type Deps struct {
	Bus       *bus.Bus
	Store     *state.Store
	Journal   *journal.Writer
	Index     *journal.Index
	Retriever *journal.Retriever
	LLM       llm.Completer
	Policy    *config.Policy
	Logger    *log.Logger
}

// handler is implemented by each agent; the Runtime drives it.
type handler interface {
	// start runs once before the first tick. A fatal error aborts the run.
	start(ctx context.Context) error
	// handleMessage processes one already-marked-read message. Returning
	// errUnknownType logs and moves on; any other error is reported back
	// to the sender as a failed result when the message was a request.
	handleMessage(ctx context.Context, m domain.Message) error
	// maintain runs every MaintenanceTicks ticks.
	maintain(ctx context.Context) error
}

// errUnknownType marks a message type the agent does not dispatch. The
// message stays acknowledged so it is not re-delivered forever.
var errUnknownType = fmt.Errorf("unknown message type")

// Runtime is the shared agent core.
type Runtime struct {
	name   string
	system string // LLM system prompt
	bus    *bus.Bus
	store  *state.Store
	jw     *journal.Writer
	jindex *journal.Index
	jr     *journal.Retriever
	llm    llm.Completer
	policy *config.Policy
	logger *log.Logger

	tick             time.Duration
	maintenanceTicks int
	wake             <-chan struct{} // optional, wakes the loop before the next tick
	now              func() time.Time // test hook
}

func newRuntime(name, system string, d Deps) Runtime {
	cfg := d.Policy.Config()
	tick := time.Duration(cfg.PollIntervalMS) * time.Millisecond
	if tick <= 0 || tick > time.Second {
		tick = time.Second
	}
	mt := cfg.MaintenanceTicks
	if mt <= 0 {
		mt = 30
	}
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	return Runtime{
		name:             name,
		system:           system,
		bus:              d.Bus,
		store:            d.Store,
		jw:               d.Journal,
		jindex:           d.Index,
		jr:               d.Retriever,
		llm:              d.LLM,
		policy:           d.Policy,
		logger:           logger,
		tick:             tick,
		maintenanceTicks: mt,
		now:              time.Now,
	}
}

// Name returns the agent's bus name.
func (r *Runtime) Name() string { return r.name }

// WakeOn makes the loop drain the bus as soon as ch signals, typically a
// bus.Watcher channel, instead of waiting out the current tick.
func (r *Runtime) WakeOn(ch <-chan struct{}) { r.wake = ch }

// run drives the agent loop until ctx is cancelled or a fatal error
// (store unavailable, corrupt state) occurs. The agent is marked running
// on entry and stopped on exit regardless of outcome.
func (r *Runtime) run(ctx context.Context, h handler) error {
	if err := r.store.UpdateAgentStatus(r.name, domain.AgentRunning, "Starting up"); err != nil {
		return err
	}
	defer func() {
		if err := r.store.UpdateAgentStatus(r.name, domain.AgentStopped, ""); err != nil {
			r.logger.Printf("[%s] status update on exit: %v", r.name, err)
		}
	}()

	if err := h.start(ctx); err != nil {
		return err
	}
	if err := r.store.UpdateAgentStatus(r.name, domain.AgentRunning, ""); err != nil {
		return err
	}
	r.logger.Printf("[%s] event loop started", r.name)

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Printf("[%s] event loop stopped", r.name)
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
		ticks++

		if err := r.store.AgentHeartbeat(r.name); err != nil {
			if domain.IsFatal(err) {
				return err
			}
			r.logger.Printf("[%s] heartbeat: %v", r.name, err)
		}

		pending, err := r.bus.GetPending(r.name)
		if err != nil {
			if domain.IsFatal(err) {
				return err
			}
			r.logger.Printf("[%s] get pending: %v", r.name, err)
			continue
		}
		for _, m := range pending {
			if err := r.dispatch(ctx, h, m); err != nil {
				return err
			}
		}

		if ticks%r.maintenanceTicks == 0 {
			if err := h.maintain(ctx); err != nil {
				if domain.IsFatal(err) {
					return err
				}
				r.logger.Printf("[%s] maintenance: %v", r.name, err)
			}
		}
	}
}

// dispatch acknowledges and handles one message. Handler errors become a
// failed result back to the sender; only fatal errors propagate.
func (r *Runtime) dispatch(ctx context.Context, h handler, m domain.Message) error {
	r.logger.Printf("[%s] received %s from %s: %s", r.name, m.Type, m.From, m.Subject)
	if err := r.bus.MarkRead(m.ID); err != nil {
		if domain.IsFatal(err) {
			return err
		}
		r.logger.Printf("[%s] mark read %s: %v", r.name, m.ID, err)
	}

	if err := r.store.UpdateAgentStatus(r.name, domain.AgentBusy, "Processing "+m.Type); err != nil && domain.IsFatal(err) {
		return err
	}
	defer func() {
		if err := r.store.UpdateAgentStatus(r.name, domain.AgentRunning, ""); err != nil {
			r.logger.Printf("[%s] status reset: %v", r.name, err)
		}
	}()

	err := h.handleMessage(ctx, m)
	switch {
	case err == nil:
		return nil
	case err == errUnknownType:
		r.logger.Printf("[%s] ignoring unknown message type %q from %s", r.name, m.Type, m.From)
		return nil
	case domain.IsFatal(err):
		return err
	default:
		r.logger.Printf("[%s] handling %s from %s: %v", r.name, m.Type, m.From, err)
		if domain.ResultTypeFor(m.Type) != "" {
			if _, sendErr := r.bus.SendResult(r.name, m.From, m.Type, m.ID, false, nil, err.Error()); sendErr != nil {
				if domain.IsFatal(sendErr) {
					return sendErr
				}
				r.logger.Printf("[%s] reporting failure to %s: %v", r.name, m.From, sendErr)
			}
		}
		return nil
	}
}

// peerStatus returns the liveness row for a named peer, nil if the peer
// has never registered.
func (r *Runtime) peerStatus(name string) (*domain.AgentStatus, error) {
	statuses, err := r.store.GetAgentStatuses()
	if err != nil {
		return nil, err
	}
	for i := range statuses {
		if statuses[i].AgentName == name {
			return &statuses[i], nil
		}
	}
	return nil, nil
}

func (r *Runtime) peerRunning(name string) bool {
	st, err := r.peerStatus(name)
	if err != nil {
		r.logger.Printf("[%s] peer status %s: %v", r.name, name, err)
		return false
	}
	return st != nil && st.Status == domain.AgentRunning
}

// logJournal writes an entry, logging rather than failing on error so a
// full journal disk never takes an agent down.
func (r *Runtime) logJournal(summary, content string, tags []string, decay domain.DecayRate) {
	if r.jw == nil {
		return
	}
	if _, err := r.jw.WriteEntry(r.name, tags, summary, content, decay); err != nil {
		r.logger.Printf("[%s] journal write: %v", r.name, err)
	}
}

// searchJournal ranks entries for a free-text query.
func (r *Runtime) searchJournal(query string, topN int) []journal.ScoredEntry {
	if r.jr == nil {
		return nil
	}
	entries, err := r.jr.Retrieve(nil, query, topN)
	if err != nil {
		r.logger.Printf("[%s] journal search: %v", r.name, err)
		return nil
	}
	return entries
}

// readEntryContent returns an entry body, truncated to max bytes.
func (r *Runtime) readEntryContent(filename string, max int) string {
	if r.jw == nil || filename == "" {
		return ""
	}
	_, body, err := journal.ReadEntry(filepath.Join(r.jw.Dir(), filename))
	if err != nil {
		return ""
	}
	if max > 0 && len(body) > max {
		return body[:max]
	}
	return body
}

// projectContext summarizes the shared task and alert state for prompts
// and status payloads.
func (r *Runtime) projectContext() map[string]any {
	out := map[string]any{
		"timestamp": r.now().Format(domain.TimeFormat),
	}

	tasks, err := r.store.GetTasks("")
	if err != nil {
		r.logger.Printf("[%s] project context tasks: %v", r.name, err)
		return out
	}
	summary := map[string]int{}
	var inProgress, blocked, pending []string
	for _, t := range tasks {
		summary[t.Status]++
		switch t.Status {
		case domain.TaskInProgress:
			inProgress = append(inProgress, t.Title)
		case domain.TaskBlocked:
			blocked = append(blocked, t.Title)
		case domain.TaskPending:
			pending = append(pending, t.Title)
		}
	}
	if len(pending) > 5 {
		pending = pending[:5]
	}
	out["tasks_summary"] = summary
	out["in_progress_tasks"] = inProgress
	out["blocked_tasks"] = blocked
	out["pending_tasks"] = pending

	unacked := false
	alerts, err := r.store.GetAlerts("", &unacked)
	if err != nil {
		r.logger.Printf("[%s] project context alerts: %v", r.name, err)
		return out
	}
	var messages []string
	for _, a := range alerts {
		messages = append(messages, a.Message)
	}
	out["unacknowledged_alerts"] = messages
	return out
}

// chatWithContext asks the LLM with a rendered context block appended to
// the question.
func (r *Runtime) chatWithContext(ctx context.Context, question string, info map[string]any) (string, error) {
	if r.llm == nil {
		return "", domain.Errorf(domain.KindLLMError, r.name+".chat", "no completion client configured")
	}
	prompt := question
	if block := formatContext(info); block != "" {
		prompt = question + "\n\n" + block
	}
	return r.llm.Complete(ctx, r.system, prompt)
}

// formatContext renders a context map as a markdown block. Keys become
// title-cased section headers; lists are capped at 10 items.
func formatContext(info map[string]any) string {
	if len(info) == 0 {
		return ""
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("## Current Context\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n### %s\n", titleCase(k))
		writeContextValue(&b, info[k])
	}
	return b.String()
}

func writeContextValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("- none\n")
	case string:
		fmt.Fprintf(b, "%s\n", val)
	case []string:
		if len(val) == 0 {
			b.WriteString("- none\n")
			return
		}
		shown := val
		if len(shown) > 10 {
			shown = shown[:10]
		}
		for _, item := range shown {
			fmt.Fprintf(b, "- %s\n", item)
		}
		if extra := len(val) - len(shown); extra > 0 {
			fmt.Fprintf(b, "- ... and %d more\n", extra)
		}
	case map[string]int:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "- %s: %d\n", k, val[k])
		}
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(b, "%v\n", v)
			return
		}
		b.Write(data)
		b.WriteString("\n")
	}
}

func titleCase(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
