// Package assist shells out to a coding-assistant CLI for delegated
// coding work. The Executor forwards claude_code requests here.
package assist

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaakkos/deskwork/internal/config"
	"github.com/jaakkos/deskwork/internal/domain"
)

// Result is the outcome of one assistant invocation.
type Result struct {
	Output     string `json:"output"`
	Stderr     string `json:"stderr,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Runner spawns the assistant binary per request.
type Runner struct {
	command string
	timeout time.Duration
	logger  *log.Logger

	lookPath func(string) (string, error) // test hook
}

// NewRunner builds a runner from the assist config section.
func NewRunner(cfg config.AssistConfig, logger *log.Logger) *Runner {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Runner{command: command, timeout: timeout, logger: logger, lookPath: exec.LookPath}
}

// resolveBinary finds the assistant binary on PATH or in common install
// locations (GUI-launched processes often carry a truncated PATH).
func (r *Runner) resolveBinary() (string, error) {
	if strings.ContainsRune(r.command, os.PathSeparator) {
		if _, err := os.Stat(r.command); err == nil {
			return r.command, nil
		}
	}
	if path, err := r.lookPath(r.command); err == nil {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	locations := []string{
		filepath.Join(home, ".claude/local", r.command),
		filepath.Join("/usr/local/bin", r.command),
		filepath.Join("/opt/homebrew/bin", r.command),
		filepath.Join(home, ".local/bin", r.command),
		filepath.Join(home, ".npm-global/bin", r.command),
	}
	for _, loc := range locations {
		if info, err := os.Stat(loc); err == nil && info.Mode()&0o111 != 0 {
			return loc, nil
		}
	}
	return "", domain.Errorf(domain.KindToolUnavailable, "assist.resolve", "%s CLI not found in PATH or common locations", r.command)
}

// Available reports whether the assistant binary can be resolved.
func (r *Runner) Available() bool {
	_, err := r.resolveBinary()
	return err == nil
}

// Run invokes the assistant non-interactively with the given prompt.
// allowEdits passes the flag that lets the assistant modify files in cwd
// without prompting; without it the run is read-only analysis.
func (r *Runner) Run(ctx context.Context, prompt, cwd string, allowEdits bool) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "assist.run", "prompt is required")
	}
	binary, err := r.resolveBinary()
	if err != nil {
		return nil, err
	}

	args := []string{"--print", prompt}
	if allowEdits {
		args = append(args, "--dangerously-skip-permissions")
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if r.logger != nil {
		r.logger.Printf("assist: %s ran %s (edits=%v, err=%v)", binary, elapsed.Round(time.Millisecond), allowEdits, runErr)
	}

	result := &Result{
		Output:     strings.TrimSpace(stdout.String()),
		Stderr:     strings.TrimSpace(stderr.String()),
		DurationMS: elapsed.Milliseconds(),
	}

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return result, domain.Errorf(domain.KindTimeout, "assist.run", "assistant timed out after %s", r.timeout)
		}
		if errors.Is(runErr, exec.ErrNotFound) {
			return nil, domain.E(domain.KindToolUnavailable, "assist.run", runErr)
		}
		detail := result.Stderr
		if detail == "" {
			detail = result.Output
		}
		return result, domain.Errorf(domain.KindToolUnavailable, "assist.run", "assistant failed: %v: %s", runErr, detail)
	}
	return result, nil
}
