package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaakkos/deskwork/internal/assist"
	"github.com/jaakkos/deskwork/internal/bus"
	"github.com/jaakkos/deskwork/internal/domain"
)

const executorSystem = "You are the Executor, the hands of a personal assistant " +
	"system. You execute tasks, run commands, and perform file operations. Document " +
	"what you do and call out blockers explicitly."

// Commands refused outright regardless of context.
var dangerousPatterns = []string{
	"rm -rf /",
	"rm -rf /*",
	"mkfs",
	":(){:|:&};:",
	"dd if=/dev/zero",
	"> /dev/sda",
}

// Idle task pickup cadence, in loop ticks.
const taskCheckTicks = 5

// CommandRecord is the outcome of one shell command, also kept in the
// in-memory history ring.
type CommandRecord struct {
	Command    string `json:"command"`
	Cwd        string `json:"cwd,omitempty"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Executor runs commands, performs confined file operations, delegates to
// the coding assistant, and picks up pending tasks when idle.
type Executor struct {
	Runtime

	assist         *assist.Runner
	workDir        string
	commandTimeout time.Duration
	historySize    int

	history     []CommandRecord
	currentTask *domain.Task
}

// NewExecutor wires an Executor. runner may be nil; coding-assistant
// requests then fail as tool_unavailable.
func NewExecutor(d Deps, runner *assist.Runner) *Executor {
	cfg := d.Policy.Config().Executor
	timeout := time.Duration(cfg.CommandTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	size := cfg.HistorySize
	if size <= 0 {
		size = 100
	}
	e := &Executor{
		Runtime:        newRuntime(ExecutorName, executorSystem, d),
		assist:         runner,
		workDir:        d.Policy.WorkspaceRoot(),
		commandTimeout: timeout,
		historySize:    size,
	}
	e.maintenanceTicks = taskCheckTicks
	return e
}

// Run drives the Executor loop until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	return e.run(ctx, e)
}

func (e *Executor) start(context.Context) error { return nil }

func (e *Executor) handleMessage(ctx context.Context, m domain.Message) error {
	switch m.Type {
	case domain.TypeExecuteRequest:
		return e.handleExecuteRequest(ctx, m)
	case domain.TypeFileRequest:
		return e.handleFileRequest(m)
	case domain.TypeStatusRequest:
		return e.handleStatusRequest(m)
	case domain.TypeClaudeCodeRequest:
		return e.handleAssistRequest(ctx, m)
	case "review_response":
		if strings.Contains(strings.ToLower(m.Body), "approved") {
			e.logger.Printf("[%s] task approved by %s", e.name, m.From)
		} else {
			e.logger.Printf("[%s] task needs revision based on feedback from %s", e.name, m.From)
		}
		return nil
	case "task_assignment":
		e.logger.Printf("[%s] received task assignment: %s", e.name, m.Subject)
		return nil
	}
	return errUnknownType
}

// maintain picks up the next pending task when idle.
func (e *Executor) maintain(ctx context.Context) error {
	if e.currentTask != nil {
		return nil
	}
	return e.pickUpAndExecute(ctx)
}

func (e *Executor) handleExecuteRequest(ctx context.Context, m domain.Message) error {
	var p bus.ExecutePayload
	if err := json.Unmarshal([]byte(m.Body), &p); err != nil || p.Command == "" {
		p = bus.ExecutePayload{Command: m.Body}
	}

	record := e.RunCommand(ctx, p.Command, p.Cwd)
	_, err := e.bus.SendResult(e.name, m.From, m.Type, m.ID, record.Success, record, record.Error)
	return err
}

// RunCommand executes a shell command with the configured timeout.
// Dangerous commands are refused with a fixed blocked record and no
// process is spawned. All outcomes land in the history ring.
func (e *Executor) RunCommand(ctx context.Context, command, cwd string) CommandRecord {
	if cwd == "" {
		cwd = e.workDir
	}
	record := CommandRecord{
		Command:   command,
		Cwd:       cwd,
		Timestamp: e.now().Format(domain.TimeFormat),
	}

	if isDangerousCommand(command) {
		e.logger.Printf("[%s] blocked dangerous command: %s", e.name, command)
		record.Stderr = "Command blocked: potentially dangerous operation"
		record.ReturnCode = -1
		record.Error = "Blocked for safety"
		e.recordCommand(record)
		return record
	}

	e.logger.Printf("[%s] running: %s in %s", e.name, command, cwd)

	runCtx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	record.Stdout = clip(stdout.String(), 10000)
	record.Stderr = clip(stderr.String(), 5000)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		record.Stderr = fmt.Sprintf("Command timed out after %d seconds", int(e.commandTimeout.Seconds()))
		record.ReturnCode = -1
		record.Error = "timeout"
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			record.ReturnCode = exitErr.ExitCode()
		} else {
			record.ReturnCode = -1
			record.Error = err.Error()
		}
	default:
		record.Success = true
	}

	e.recordCommand(record)

	if record.Success && len(command) > 10 {
		e.logJournal(
			"Command executed: "+clip(command, 50),
			fmt.Sprintf("## Command Execution\n\nCommand: `%s`\nWorking Directory: %s\n\nOutput:\n```\n%s\n```",
				command, cwd, clip(record.Stdout, 1000)),
			[]string{"command", "execution"},
			domain.DecayFast,
		)
	}
	return record
}

func (e *Executor) recordCommand(r CommandRecord) {
	e.history = append(e.history, r)
	if len(e.history) > e.historySize {
		e.history = e.history[len(e.history)-e.historySize:]
	}
}

// History returns a copy of the command history, newest last.
func (e *Executor) History() []CommandRecord {
	out := make([]CommandRecord, len(e.history))
	copy(out, e.history)
	return out
}

func isDangerousCommand(command string) bool {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	if strings.Contains(lower, "rm ") && strings.Contains(lower, "-rf") {
		if strings.Contains(lower, " /") || strings.HasSuffix(lower, " /") {
			return true
		}
	}
	return false
}

// FileOpResult is the payload of a file_complete reply.
type FileOpResult struct {
	Path         string `json:"path"`
	Destination  string `json:"destination,omitempty"`
	Size         int64  `json:"size,omitempty"`
	OriginalSize int64  `json:"original_size,omitempty"`
	Content      string `json:"content,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
}

func (e *Executor) handleFileRequest(m domain.Message) error {
	var p bus.FileOpPayload
	if err := json.Unmarshal([]byte(m.Body), &p); err != nil || p.Operation == "" {
		_, sendErr := e.bus.SendResult(e.name, m.From, m.Type, m.ID, false, nil, "Invalid file request format")
		return sendErr
	}
	e.logger.Printf("[%s] file operation: %s on %s", e.name, p.Operation, p.Path)

	var result *FileOpResult
	var err error
	switch p.Operation {
	case "create":
		result, err = e.CreateFile(p.Path, p.Content)
	case "edit":
		result, err = e.EditFile(p.Path, p.Content)
	case "delete":
		result, err = e.DeleteFile(p.Path)
	case "read":
		result, err = e.ReadFile(p.Path)
	case "copy":
		result, err = e.CopyFile(p.Path, p.Destination)
	case "move":
		result, err = e.MoveFile(p.Path, p.Destination)
	default:
		err = domain.Errorf(domain.KindInvalidInput, "executor.file", "Unknown operation: %s", p.Operation)
	}

	if err != nil {
		_, sendErr := e.bus.SendResult(e.name, m.From, m.Type, m.ID, false, nil, err.Error())
		return sendErr
	}
	_, sendErr := e.bus.SendResult(e.name, m.From, m.Type, m.ID, true, result, "")
	return sendErr
}

// CreateFile writes a new file inside the workspace, creating parent
// directories as needed.
func (e *Executor) CreateFile(path, content string) (*FileOpResult, error) {
	abs, err := e.policy.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "executor.create", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "executor.create", err)
	}
	e.logJournal("Created file: "+filepath.Base(abs),
		fmt.Sprintf("Created file at %s\nSize: %d bytes", abs, len(content)),
		[]string{"file-create"}, domain.DecayFast)
	return &FileOpResult{Path: abs, Size: int64(len(content))}, nil
}

// EditFile overwrites an existing file.
func (e *Executor) EditFile(path, content string) (*FileOpResult, error) {
	abs, err := e.policy.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, domain.Errorf(domain.KindNotFound, "executor.edit", "File does not exist")
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "executor.edit", err)
	}
	return &FileOpResult{Path: abs, OriginalSize: info.Size(), Size: int64(len(content))}, nil
}

// DeleteFile removes a file or directory tree.
func (e *Executor) DeleteFile(path string) (*FileOpResult, error) {
	abs, err := e.policy.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, domain.Errorf(domain.KindNotFound, "executor.delete", "File does not exist")
	}
	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "executor.delete", err)
	}
	return &FileOpResult{Path: abs}, nil
}

const maxReadBytes = 100000

// ReadFile returns a file's contents, truncated at maxReadBytes.
func (e *Executor) ReadFile(path string) (*FileOpResult, error) {
	abs, err := e.policy.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, domain.Errorf(domain.KindNotFound, "executor.read", "File does not exist")
	}
	if info.IsDir() {
		return nil, domain.Errorf(domain.KindInvalidInput, "executor.read", "Path is not a file")
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "executor.read", err)
	}
	result := &FileOpResult{Path: abs, Size: info.Size()}
	if len(data) > maxReadBytes {
		result.Content = string(data[:maxReadBytes])
		result.Truncated = true
	} else {
		result.Content = string(data)
	}
	return result, nil
}

// CopyFile copies a file to a new path inside the workspace.
func (e *Executor) CopyFile(source, destination string) (*FileOpResult, error) {
	src, err := e.policy.ValidatePath(source)
	if err != nil {
		return nil, err
	}
	dst, err := e.policy.ValidatePath(destination)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, domain.Errorf(domain.KindNotFound, "executor.copy", "Source does not exist")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "executor.copy", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "executor.copy", err)
	}
	return &FileOpResult{Path: src, Destination: dst, Size: int64(len(data))}, nil
}

// MoveFile renames a file within the workspace.
func (e *Executor) MoveFile(source, destination string) (*FileOpResult, error) {
	src, err := e.policy.ValidatePath(source)
	if err != nil {
		return nil, err
	}
	dst, err := e.policy.ValidatePath(destination)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(src); err != nil {
		return nil, domain.Errorf(domain.KindNotFound, "executor.move", "Source does not exist")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "executor.move", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "executor.move", err)
	}
	return &FileOpResult{Path: src, Destination: dst}, nil
}

// ExecutorStatus is the payload of the Executor's status_response.
type ExecutorStatus struct {
	Agent            string          `json:"agent"`
	Status           string          `json:"status"`
	WorkingDirectory string          `json:"working_directory"`
	CurrentTask      string          `json:"current_task,omitempty"`
	CommandsExecuted int             `json:"commands_executed"`
	RecentCommands   []commandDigest `json:"recent_commands,omitempty"`
}

type commandDigest struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
}

func (e *Executor) handleStatusRequest(m domain.Message) error {
	status := ExecutorStatus{
		Agent:            e.name,
		Status:           domain.AgentRunning,
		WorkingDirectory: e.workDir,
		CommandsExecuted: len(e.history),
	}
	if e.currentTask != nil {
		status.CurrentTask = e.currentTask.Title
	}
	start := len(e.history) - 5
	if start < 0 {
		start = 0
	}
	for _, c := range e.history[start:] {
		status.RecentCommands = append(status.RecentCommands, commandDigest{
			Command: clip(c.Command, 50),
			Success: c.Success,
		})
	}
	_, err := e.bus.SendResult(e.name, m.From, m.Type, m.ID, true, status, "")
	return err
}

// AssistOutcome is the payload of a claude_code_result reply.
type AssistOutcome struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	Prompt string `json:"prompt"`
}

func (e *Executor) handleAssistRequest(ctx context.Context, m domain.Message) error {
	var p bus.ClaudeCodePayload
	if err := json.Unmarshal([]byte(m.Body), &p); err != nil || p.Prompt == "" {
		p = bus.ClaudeCodePayload{Prompt: m.Body}
	}
	e.logger.Printf("[%s] assistant request: %s", e.name, clip(p.Prompt, 100))

	if e.assist == nil {
		_, sendErr := e.bus.SendResult(e.name, m.From, m.Type, m.ID, false,
			&AssistOutcome{Prompt: p.Prompt, Error: "coding assistant not configured"},
			"coding assistant not configured")
		return sendErr
	}

	runCtx := ctx
	if p.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(p.TimeoutSecs)*time.Second)
		defer cancel()
	}

	result, err := e.assist.Run(runCtx, p.Prompt, p.Cwd, p.AllowEdits)
	outcome := &AssistOutcome{Prompt: p.Prompt}
	success := err == nil
	if result != nil {
		outcome.Output = result.Output
	}
	if err != nil {
		outcome.Error = err.Error()
	}

	e.recordCommand(CommandRecord{
		Command:   "assist: " + clip(p.Prompt, 200),
		Cwd:       p.Cwd,
		Success:   success,
		Timestamp: e.now().Format(domain.TimeFormat),
	})

	_, sendErr := e.bus.SendResult(e.name, m.From, m.Type, m.ID, success, outcome, outcome.Error)
	return sendErr
}

// pickUpAndExecute claims the next pending task, executes it with an LLM
// plan, and either requests a review or reports a blocker.
func (e *Executor) pickUpAndExecute(ctx context.Context) error {
	task, err := e.store.NextPendingTask()
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}
	if err := e.store.ClaimTask(task.ID, e.name); err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil
		}
		return err
	}
	e.currentTask = task
	defer func() { e.currentTask = nil }()

	e.logJournal(
		"Task picked up: "+task.Title,
		fmt.Sprintf("Started working on task %s: %s\n\nDescription: %s", task.ID, task.Title, task.Description),
		[]string{"task-pickup", "executor"},
		domain.DecayFast,
	)

	response, blocked, reason := e.executeTask(ctx, task)

	if blocked {
		if err := e.store.UpdateTaskStatus(task.ID, domain.TaskBlocked); err != nil {
			return err
		}
		e.reportBlocker(task, reason)
		return nil
	}

	if err := e.store.UpdateTaskStatus(task.ID, domain.TaskCompleted); err != nil {
		return err
	}
	e.logJournal(
		"Task completed: "+task.Title,
		fmt.Sprintf("## Task Execution: %s\n\n%s", task.Title, response),
		[]string{"task-complete", "executor"},
		domain.DecayMedium,
	)
	if _, err := e.bus.Send(e.name, DirectorName, domain.TypeReviewRequest,
		"Review request: "+task.Title, task.ID, domain.PriorityMedium, ""); err != nil {
		e.logger.Printf("[%s] request review: %v", e.name, err)
	}
	return nil
}

// executeTask asks the LLM to work through a task and inspects the
// response for blocker language.
func (e *Executor) executeTask(ctx context.Context, task *domain.Task) (response string, blocked bool, reason string) {
	info := e.projectContext()
	info["current_task"] = fmt.Sprintf("%s: %s", task.Title, task.Description)
	if entries := e.searchJournal(task.Title+" "+task.Description, 3); len(entries) > 0 {
		var history []string
		for _, entry := range entries {
			history = append(history, fmt.Sprintf("%s (%s)", entry.Meta.Summary, entry.Meta.Author))
		}
		info["relevant_history"] = history
	}

	prompt := fmt.Sprintf(`Execute this task and provide results:

Task ID: %s
Title: %s
Description: %s
Priority: %s

Please:
1. Analyze what needs to be done
2. Break down into specific steps if complex
3. Execute each step (or describe what would be done)
4. Document any decisions or assumptions made
5. Identify any blockers or dependencies
6. Provide the final output or deliverable description

If you encounter any blockers that prevent completion, clearly state them.`,
		task.ID, task.Title, task.Description, task.Priority)

	response, err := e.chatWithContext(ctx, prompt, info)
	if err != nil {
		return "", true, "Execution failed: " + err.Error()
	}

	lower := strings.ToLower(response)
	for _, phrase := range []string{"blocker", "blocked by", "cannot proceed", "waiting for", "dependency"} {
		if strings.Contains(lower, phrase) {
			return response, true, extractBlockerReason(response)
		}
	}
	return response, false, ""
}

func extractBlockerReason(response string) string {
	lower := strings.ToLower(response)
	for _, keyword := range []string{"blocked by", "waiting for", "blocker:", "cannot proceed because"} {
		idx := strings.Index(lower, keyword)
		if idx == -1 {
			continue
		}
		end := strings.IndexAny(response[idx:], ".\n")
		if end == -1 {
			end = len(response) - idx
		}
		if end > 200 {
			end = 200
		}
		return strings.TrimSpace(response[idx : idx+end])
	}
	return "Blocker identified in task execution"
}

// reportBlocker raises an alert, notifies the Director, and journals the
// blocker.
func (e *Executor) reportBlocker(task *domain.Task, reason string) {
	if err := e.store.AddAlert(&domain.Alert{
		Level:   domain.AlertWarning,
		Message: fmt.Sprintf("Task blocked: %s - %s", task.Title, reason),
		Source:  e.name,
	}); err != nil {
		e.logger.Printf("[%s] blocker alert: %v", e.name, err)
	}
	if _, err := e.bus.ReportBlocker(e.name, DirectorName, bus.BlockerPayload{
		TaskID:      task.ID,
		Description: reason,
	}); err != nil {
		e.logger.Printf("[%s] report blocker: %v", e.name, err)
	}
	e.logJournal(
		"Blocker reported: "+task.Title,
		fmt.Sprintf("## Blocker Report\n\nTask: %s\nID: %s\n\nReason:\n%s", task.Title, task.ID, reason),
		[]string{"blocker", "escalation"},
		domain.DecayFast,
	)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
