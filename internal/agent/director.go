package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jaakkos/deskwork/internal/bus"
	"github.com/jaakkos/deskwork/internal/calendar"
	"github.com/jaakkos/deskwork/internal/domain"
	"github.com/jaakkos/deskwork/internal/schedule"
)

const directorSystem = "You are the Director, the strategic coordinator of a personal " +
	"assistant system. You track tasks, decisions, and KPIs, prepare meeting briefs, " +
	"and answer the user's questions using the shared project context. Be concise " +
	"and concrete."

// Question phrases that route to a peer or short-circuit the LLM.
var (
	fileSearchPhrases = []string{
		"find file", "search for", "where is", "list file", "python file",
		"what files", "show file", "config file", "look for",
	}
	simpleQueryPhrases = []string{
		"what time", "hello", "hi ", "hey ", "thanks", "thank you",
		"how are you", "good morning", "good evening", "good night",
	}
	capabilityPhrases = []string{
		// web lookups
		"search the web", "web search", "search online", "look up online",
		"google", "find online", "internet search", "what's the latest",
		"current news", "recent news", "today's news", "latest update",
		"what happened", "breaking news",
		// live data
		"current price", "stock price", "weather", "forecast", "right now",
		"live", "real-time", "realtime", "real time", "up to date", "latest",
		"current",
		// external integrations
		"api", "fetch data", "download", "scrape", "crawl", "call the",
		"query the", "access the", "connect to",
		// automation
		"run this code", "execute", "automate", "script", "install",
		"deploy", "build", "compile",
		// research
		"research", "investigate", "analyze this", "deep dive",
		"comprehensive", "detailed analysis", "thorough review",
	}
)

const errorFallback = "Sorry, I encountered an error processing your message."

// PendingRequest tracks one outstanding request to a peer.
type PendingRequest struct {
	Type      string
	Query     string
	SentAt    time.Time
	Completed bool
	Response  *bus.ResultPayload
}

// Director is the coordinating peer. It answers user questions, reviews
// tasks, records decisions and KPIs, and prepares meeting briefs.
type Director struct {
	Runtime

	calendar calendar.Provider
	sched    *schedule.Scheduler

	mu      sync.Mutex
	pending map[string]*PendingRequest

	staleAlerted map[string]bool // peers already flagged as unresponsive
}

// NewDirector wires a Director. calendar and sched may be nil; the
// corresponding features are then skipped.
func NewDirector(d Deps, cal calendar.Provider, sched *schedule.Scheduler) *Director {
	return &Director{
		Runtime:      newRuntime(DirectorName, directorSystem, d),
		calendar:     cal,
		sched:        sched,
		pending:      make(map[string]*PendingRequest),
		staleAlerted: make(map[string]bool),
	}
}

// Run drives the Director loop until ctx is cancelled.
func (d *Director) Run(ctx context.Context) error {
	return d.run(ctx, d)
}

func (d *Director) start(ctx context.Context) error {
	checkin := d.policy.Config().DailyCheckin
	if d.sched != nil && checkin != "" {
		err := d.sched.RegisterDailyCheckin(checkin, func() {
			if _, err := d.DailyCheckin(ctx); err != nil {
				d.logger.Printf("[%s] daily checkin: %v", d.name, err)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Director) handleMessage(ctx context.Context, m domain.Message) error {
	switch m.Type {
	case domain.TypeSearchResult, domain.TypeExecuteResult, domain.TypeFileComplete,
		domain.TypeKnowledgeResult, domain.TypeIndexComplete, domain.TypeClaudeCodeResult:
		d.handlePeerResponse(m)
		return nil

	case domain.TypeDiscovery:
		return d.handleDiscovery(m)

	case domain.TypeBlocker:
		return d.store.AddAlert(&domain.Alert{
			Level:   domain.AlertWarning,
			Message: fmt.Sprintf("Blocker from %s: %s - %s", m.From, m.Subject, m.Body),
			Source:  m.From,
		})

	case domain.TypeStatusResponse:
		d.logger.Printf("[%s] status from %s: %s", d.name, m.From, m.Body)
		return nil

	case domain.TypeReviewRequest:
		return d.handleReviewRequest(ctx, m)

	case "alert":
		level := domain.AlertWarning
		if strings.Contains(strings.ToLower(m.Subject), "critical") {
			level = domain.AlertCritical
		}
		return d.store.AddAlert(&domain.Alert{Level: level, Message: m.Body, Source: m.From})
	}
	return errUnknownType
}

// handlePeerResponse satisfies the pending request the reply correlates
// to. Uncorrelated results are logged and dropped.
func (d *Director) handlePeerResponse(m domain.Message) {
	payload, err := bus.DecodeResult(m.Body)
	if err != nil {
		payload = &bus.ResultPayload{Success: true, Result: json.RawMessage(jsonString(m.Body))}
	}

	d.mu.Lock()
	req, ok := d.pending[m.ReplyTo]
	if ok {
		req.Response = payload
		req.Completed = true
	}
	d.mu.Unlock()

	if ok {
		d.logger.Printf("[%s] response for request %s from %s", d.name, m.ReplyTo, m.From)
	} else {
		d.logger.Printf("[%s] uncorrelated %s from %s (reply_to=%q)", d.name, m.Type, m.From, m.ReplyTo)
	}
	if payload.Error != "" {
		d.logger.Printf("[%s] peer %s reported error: %s", d.name, m.From, payload.Error)
	}
}

func (d *Director) handleDiscovery(m domain.Message) error {
	var p bus.DiscoveryPayload
	if err := json.Unmarshal([]byte(m.Body), &p); err != nil {
		d.logger.Printf("[%s] discovery from %s: %s", d.name, m.From, m.Body)
		return nil
	}
	details := ""
	if len(p.Details) > 0 {
		if raw, err := json.Marshal(p.Details); err == nil {
			details = string(raw)
		}
	}
	return d.store.AddDiscovery(&domain.Discovery{
		Agent:         m.From,
		DiscoveryType: p.DiscoveryType,
		Description:   p.Description,
		Details:       details,
	})
}

func (d *Director) handleReviewRequest(ctx context.Context, m domain.Message) error {
	taskID := strings.TrimSpace(m.Body)
	review, err := d.ReviewTask(ctx, taskID)
	if err != nil {
		return err
	}
	verdict := "needs revision"
	if review.Approved {
		verdict = "approved"
	}
	body := fmt.Sprintf("%s\n\n%s", verdict, review.Response)
	_, err = d.bus.Send(d.name, m.From, "review_response",
		"Review complete: "+taskID, body, domain.PriorityMedium, m.ID)
	return err
}

func (d *Director) maintain(ctx context.Context) error {
	d.sweepMeetings(ctx)
	d.sweepStalePeers()
	ttl := d.policy.Config().MessageTTLDays
	if ttl > 0 {
		if n, err := d.bus.Cleanup(ttl); err != nil {
			return err
		} else if n > 0 {
			d.logger.Printf("[%s] cleaned %d old messages", d.name, n)
		}
	}
	return nil
}

// staleAfter is how long a peer may go without a heartbeat before the
// Director raises an alert.
const staleAfter = 2 * time.Minute

// sweepStalePeers alerts once per outage when a peer that reported itself
// running stops heartbeating.
func (d *Director) sweepStalePeers() {
	statuses, err := d.store.GetAgentStatuses()
	if err != nil {
		d.logger.Printf("[%s] stale peer sweep: %v", d.name, err)
		return
	}
	now := d.now()
	for _, st := range statuses {
		if st.AgentName == d.name || st.Status == domain.AgentStopped {
			continue
		}
		stale := !st.LastHeartbeat.IsZero() && now.Sub(st.LastHeartbeat) > staleAfter
		if !stale {
			delete(d.staleAlerted, st.AgentName)
			continue
		}
		if d.staleAlerted[st.AgentName] {
			continue
		}
		d.staleAlerted[st.AgentName] = true
		alert := &domain.Alert{
			Level:   domain.AlertWarning,
			Message: fmt.Sprintf("Agent %s has not sent a heartbeat for over %s", st.AgentName, staleAfter),
			Source:  d.name,
		}
		if err := d.store.AddAlert(alert); err != nil {
			d.logger.Printf("[%s] stale peer alert: %v", d.name, err)
		}
	}
}

// sweepMeetings prepares briefs for meetings starting in the next 45
// minutes that have no prep yet.
func (d *Director) sweepMeetings(ctx context.Context) {
	if d.calendar == nil {
		return
	}
	events, err := d.calendar.UpcomingEvents(ctx, 45*time.Minute)
	if err != nil {
		d.logger.Printf("[%s] calendar sweep: %v", d.name, err)
		return
	}
	for _, e := range events {
		if e.ID == "" {
			continue
		}
		existing, err := d.store.LatestMeetingPrep(e.ID)
		if err != nil {
			d.logger.Printf("[%s] meeting prep lookup %s: %v", d.name, e.ID, err)
			continue
		}
		if existing != nil {
			continue
		}
		d.logger.Printf("[%s] preparing for meeting: %s", d.name, e.Subject)
		if _, err := d.PrepareMeeting(ctx, e); err != nil {
			d.logger.Printf("[%s] prepare meeting %s: %v", d.name, e.ID, err)
		}
	}
}

// Ask answers a user question. File-search questions are delegated to the
// Librarian; greetings are answered directly; questions needing external
// capabilities go through the coding assistant via the Executor; anything
// else falls back to the LLM with project context.
func (d *Director) Ask(ctx context.Context, question string) string {
	lower := strings.ToLower(question)

	var peerResult *bus.ResultPayload
	if containsAny(lower, fileSearchPhrases) {
		peerResult = d.delegateToLibrarian(question)
	}

	isSimple := containsAny(lower, simpleQueryPhrases)
	needsExternal := containsAny(lower, capabilityPhrases)

	if !isSimple && peerResult == nil {
		if answer := d.tryAssist(ctx, question); answer != "" {
			return answer
		}
		if needsExternal {
			return capabilityLimitation
		}
	}

	info := d.projectContext()
	if peerResult != nil {
		info["peer_agent_result"] = peerResult
	}
	if entries := d.searchJournal(question, 3); len(entries) > 0 {
		var notes []string
		for _, e := range entries {
			note := e.Meta.Summary
			if body := d.readEntryContent(e.Meta.Filename, 500); body != "" {
				note += ": " + body
			}
			notes = append(notes, note)
		}
		info["relevant_notes"] = notes
	}

	enhanced := question
	if peerResult != nil {
		raw, err := json.Marshal(peerResult)
		if err == nil {
			detail := string(raw)
			if len(detail) > 2000 {
				detail = detail[:2000]
			}
			enhanced = fmt.Sprintf("%s\n\n[I asked my peer agents to help with this. Here's what they found:]\n%s\n\nPlease summarize and present this information naturally to the user.", question, detail)
		}
	}

	response, err := d.chatWithContext(ctx, enhanced, info)
	if err != nil {
		d.logger.Printf("[%s] ask: %v", d.name, err)
		return errorFallback
	}
	return response
}

const capabilityLimitation = "This request requires capabilities I don't have directly " +
	"(like web search, real-time data, or external API access). " +
	"I tried to delegate to the coding assistant which has these tools, " +
	"but it's not currently available.\n\n" +
	"To enable this, please make sure the Executor agent is running.\n\n" +
	"Is there something else I can help you with using my current capabilities?"

// delegateToLibrarian runs a file search through the Librarian, waiting
// up to 15 seconds. Returns nil when the Librarian is unavailable or the
// wait times out.
func (d *Director) delegateToLibrarian(question string) *bus.ResultPayload {
	if !d.peerRunning(LibrarianName) {
		d.logger.Printf("[%s] librarian is not running, cannot delegate", d.name)
		return nil
	}
	return d.RequestFileSearch(question, 15*time.Second)
}

// RequestFileSearch sends a search request and waits for the correlated
// reply. A nil return means no response arrived within the timeout; the
// request stays in the pending table in case the reply arrives later.
func (d *Director) RequestFileSearch(query string, timeout time.Duration) *bus.ResultPayload {
	msgID, err := d.bus.RequestSearch(d.name, LibrarianName, bus.SearchPayload{Query: query})
	if err != nil {
		d.logger.Printf("[%s] request search: %v", d.name, err)
		return nil
	}
	d.trackRequest(msgID, "search", query)
	return d.awaitResult(msgID, timeout)
}

// tryAssist routes a question through the coding assistant when the
// Executor is up. Returns "" on any failure so the caller can fall back.
func (d *Director) tryAssist(ctx context.Context, question string) string {
	if !d.peerRunning(ExecutorName) {
		return ""
	}

	var userLine string
	var nameVal, roleVal, goalsVal string
	if err := d.store.GetContext("user_name", &nameVal); err == nil && nameVal != "" {
		userLine = "You are assisting " + nameVal + "."
		if err := d.store.GetContext("user_role", &roleVal); err == nil && roleVal != "" {
			userLine += " They are a " + roleVal + "."
		}
		if err := d.store.GetContext("user_goals", &goalsVal); err == nil && goalsVal != "" {
			userLine += " Their goals: " + goalsVal
		}
	}

	prompt := fmt.Sprintf(`You are the Director of a personal assistant system.
%s

User's question: %s

You have access to tools like web search, file access, and command execution.
Use them if needed to fully answer the question.
Answer helpfully and conversationally. Be concise but thorough.`, userLine, question)

	result := d.DelegateToAssist(prompt, "", false, 120)
	if result == nil {
		return ""
	}
	if result.Success {
		var r struct {
			Output string `json:"output"`
		}
		if err := json.Unmarshal(result.Result, &r); err == nil && strings.TrimSpace(r.Output) != "" {
			return strings.TrimSpace(r.Output)
		}
	}
	if result.Error != "" {
		d.logger.Printf("[%s] assistant error: %s", d.name, result.Error)
	}
	return ""
}

// DelegateToAssist sends a coding-assistant request to the Executor and
// waits for the result, with a buffer on top of the assistant timeout.
func (d *Director) DelegateToAssist(prompt, cwd string, allowEdits bool, timeoutSecs int) *bus.ResultPayload {
	if !d.peerRunning(ExecutorName) {
		d.logger.Printf("[%s] executor is not running, cannot delegate", d.name)
		return nil
	}
	msgID, err := d.bus.RequestClaudeCode(d.name, ExecutorName, bus.ClaudeCodePayload{
		Prompt:      prompt,
		Cwd:         cwd,
		AllowEdits:  allowEdits,
		TimeoutSecs: timeoutSecs,
	})
	if err != nil {
		d.logger.Printf("[%s] request assistant: %v", d.name, err)
		return nil
	}
	d.trackRequest(msgID, "claude_code", prompt)
	return d.awaitResult(msgID, time.Duration(timeoutSecs+30)*time.Second)
}

func (d *Director) trackRequest(msgID, reqType, query string) {
	d.mu.Lock()
	d.pending[msgID] = &PendingRequest{Type: reqType, Query: query, SentAt: d.now()}
	d.mu.Unlock()
}

// Pending returns a copy of the tracked request, nil if unknown.
func (d *Director) Pending(msgID string) *PendingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	req, ok := d.pending[msgID]
	if !ok {
		return nil
	}
	cp := *req
	return &cp
}

func (d *Director) awaitResult(msgID string, timeout time.Duration) *bus.ResultPayload {
	reply, err := d.bus.WaitForResponse(d.name, msgID, timeout, 500*time.Millisecond)
	if err != nil {
		d.logger.Printf("[%s] wait for %s: %v", d.name, msgID, err)
		return nil
	}
	if reply == nil {
		return nil
	}
	d.handlePeerResponse(*reply)

	d.mu.Lock()
	defer d.mu.Unlock()
	if req, ok := d.pending[msgID]; ok {
		return req.Response
	}
	return nil
}

// ReviewResult is the outcome of a task review.
type ReviewResult struct {
	TaskID   string `json:"task_id"`
	Response string `json:"response"`
	Approved bool   `json:"approved"`
}

// ReviewTask asks the LLM to review a task's progress and decides whether
// it can be considered complete.
func (d *Director) ReviewTask(ctx context.Context, taskID string) (*ReviewResult, error) {
	task, err := d.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`Review this task and provide feedback:

Task ID: %s
Title: %s
Description: %s
Status: %s
Owner: %s
Priority: %s

Please provide:
1. Assessment of the task completion/progress
2. Any concerns or issues
3. Recommendations for next steps
4. Whether this task can be marked as complete (if applicable)`,
		task.ID, task.Title, task.Description, task.Status, task.Owner, task.Priority)

	response, err := d.chatWithContext(ctx, prompt, d.projectContext())
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(response)
	approved := strings.Contains(lower, "approved") ||
		strings.Contains(lower, "can be marked as complete") ||
		strings.Contains(lower, "looks good")
	return &ReviewResult{TaskID: taskID, Response: response, Approved: approved}, nil
}

// CheckinReport is the outcome of a daily health check.
type CheckinReport struct {
	Response string `json:"response"`
	Critical bool   `json:"critical"`
}

// DailyCheckin reviews tasks, blockers, and recent activity and raises an
// alert when the assessment flags critical issues.
func (d *Director) DailyCheckin(ctx context.Context) (*CheckinReport, error) {
	info := d.projectContext()

	if entries := d.searchJournal("", 5); len(entries) > 0 {
		var recent []string
		for _, e := range entries {
			recent = append(recent, fmt.Sprintf("%s (%s)", e.Meta.Summary, e.Meta.Author))
		}
		info["recent_journal_entries"] = recent
	}
	if decisions, err := d.store.GetDecisions(5); err == nil && len(decisions) > 0 {
		var titles []string
		for _, dec := range decisions {
			titles = append(titles, dec.Title)
		}
		info["recent_decisions"] = titles
	}

	prompt := `Perform a daily project health check based on the current context.

Please provide:
1. **Overall Health Assessment**: Rate the project health (Good/Needs Attention/At Risk)
2. **Key Highlights**: What's going well?
3. **Concerns**: What needs attention?
4. **Blocked Items**: Any blockers that need immediate action?
5. **Recommendations**: Specific actions for today
6. **KPI Summary**: Any notable trends or changes

Be specific and actionable in your recommendations.`

	response, err := d.chatWithContext(ctx, prompt, info)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(response)
	critical := strings.Contains(lower, "at risk") || strings.Contains(lower, "critical") ||
		strings.Contains(lower, "urgent") || strings.Contains(lower, "blocked")
	if critical {
		if err := d.store.AddAlert(&domain.Alert{
			Level:   domain.AlertWarning,
			Message: "Daily checkin identified issues requiring attention",
			Source:  d.name,
		}); err != nil {
			d.logger.Printf("[%s] checkin alert: %v", d.name, err)
		}
	}

	d.logJournal(
		"Daily checkin - "+d.now().Format("2006-01-02"),
		"## Daily Health Check\n\n"+response,
		[]string{"daily-checkin", "health-check"},
		domain.DecayFast,
	)
	return &CheckinReport{Response: response, Critical: critical}, nil
}

// KPIReport is a snapshot of task-derived metrics with LLM analysis.
type KPIReport struct {
	TotalTasks      int       `json:"total_tasks"`
	CompletedTasks  int       `json:"completed_tasks"`
	InProgressTasks int       `json:"in_progress_tasks"`
	BlockedTasks    int       `json:"blocked_tasks"`
	CompletionRate  float64   `json:"completion_rate"`
	BlockRate       float64   `json:"block_rate"`
	CompletionTrend []float64 `json:"completion_trend"`
	BlockTrend      []float64 `json:"block_trend"`
	Analysis        string    `json:"analysis,omitempty"`
}

// CheckKPIs records completion and block rates, pulls a week of history,
// and asks the LLM for trend analysis.
func (d *Director) CheckKPIs(ctx context.Context) (*KPIReport, error) {
	tasks, err := d.store.GetTasks("")
	if err != nil {
		return nil, err
	}

	report := &KPIReport{TotalTasks: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskCompleted:
			report.CompletedTasks++
		case domain.TaskBlocked:
			report.BlockedTasks++
		case domain.TaskInProgress:
			report.InProgressTasks++
		}
	}
	if report.TotalTasks > 0 {
		report.CompletionRate = round1(float64(report.CompletedTasks) / float64(report.TotalTasks) * 100)
		report.BlockRate = round1(float64(report.BlockedTasks) / float64(report.TotalTasks) * 100)
	}

	for metric, value := range map[string]float64{
		"completion_rate": report.CompletionRate,
		"block_rate":      report.BlockRate,
		"total_tasks":     float64(report.TotalTasks),
	} {
		if err := d.store.RecordKPI(metric, value); err != nil {
			return nil, err
		}
	}

	if history, err := d.store.GetKPIHistory("completion_rate", 7); err == nil {
		for _, h := range history {
			report.CompletionTrend = append(report.CompletionTrend, h.Value)
		}
	}
	if history, err := d.store.GetKPIHistory("block_rate", 7); err == nil {
		for _, h := range history {
			report.BlockTrend = append(report.BlockTrend, h.Value)
		}
	}

	if d.llm != nil {
		prompt := `Analyze these project KPIs and provide insights:

Please assess:
1. Overall project velocity
2. Concerning trends
3. Areas performing well
4. Recommendations for improvement`
		analysis, err := d.chatWithContext(ctx, prompt, map[string]any{"kpi_data": report})
		if err != nil {
			d.logger.Printf("[%s] kpi analysis: %v", d.name, err)
		} else {
			report.Analysis = analysis
		}
	}
	return report, nil
}

// PrepareMeeting builds a briefing for a calendar event and persists it.
func (d *Director) PrepareMeeting(ctx context.Context, event domain.Event) (*domain.MeetingPrep, error) {
	info := d.projectContext()
	if event.Subject != "" {
		if entries := d.searchJournal(event.Subject, 3); len(entries) > 0 {
			var history []string
			for _, e := range entries {
				history = append(history, e.Meta.Summary)
			}
			info["relevant_history"] = history
		}
	}

	var attendees []string
	for _, a := range event.Attendees {
		if a.Name != "" {
			attendees = append(attendees, a.Name)
		} else {
			attendees = append(attendees, a.Email)
		}
	}

	prompt := fmt.Sprintf(`Prepare a briefing for this upcoming meeting:

Meeting: %s
Time: %s
Attendees: %s
Location: %s

Please provide:
1. **Meeting Brief**: Key context and background
2. **Suggested Agenda**: Discussion topics in priority order
3. **Key Points to Address**: Important items that must be covered
4. **Potential Questions**: Questions that might come up
5. **Recommended Actions**: Outcomes to aim for
6. **Supporting Data**: Relevant metrics or status updates`,
		event.Subject, event.Start.Format(domain.TimeFormat), strings.Join(attendees, ", "), event.Location)

	brief, err := d.chatWithContext(ctx, prompt, info)
	if err != nil {
		return nil, err
	}

	prep := &domain.MeetingPrep{EventID: event.ID, Brief: brief, CreatedBy: d.name}
	if err := d.store.AddMeetingPrep(prep); err != nil {
		return nil, err
	}

	d.logJournal(
		"Meeting prep: "+event.Subject,
		"## Meeting Preparation\n\n"+brief,
		[]string{"meeting-prep", "briefing"},
		domain.DecayFast,
	)
	return prep, nil
}

// MakeDecision records a strategic decision with LLM-generated rationale.
func (d *Director) MakeDecision(ctx context.Context, title string, options []string, extra string) (*domain.Decision, error) {
	info := d.projectContext()
	if extra != "" {
		info["additional_context"] = extra
	}

	var opts strings.Builder
	for i, opt := range options {
		fmt.Fprintf(&opts, "%d. %s\n", i+1, opt)
	}

	prompt := fmt.Sprintf(`I need to make a decision about: %s

Options:
%s
Based on the current project context, please:
1. Analyze each option's pros and cons
2. Recommend the best option
3. Provide clear rationale for the recommendation
4. Identify any risks or considerations
5. Suggest implementation steps`, title, opts.String())

	response, err := d.chatWithContext(ctx, prompt, info)
	if err != nil {
		return nil, err
	}

	decision := &domain.Decision{
		Title:         title,
		Rationale:     response,
		DecisionMaker: d.name,
		Impact:        "To be determined based on implementation",
	}
	if err := d.store.AddDecision(decision); err != nil {
		return nil, err
	}

	d.logJournal(
		"Decision: "+title,
		fmt.Sprintf("## Decision Record\n\n**Options considered:**\n%s\n**Analysis and Decision:**\n%s", opts.String(), response),
		[]string{"decision", "strategic"},
		domain.DecaySlow,
	)
	return decision, nil
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func jsonString(s string) []byte {
	raw, err := json.Marshal(s)
	if err != nil {
		return []byte(`""`)
	}
	return raw
}
