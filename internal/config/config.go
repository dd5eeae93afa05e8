// Package config loads runtime configuration and enforces the path policy
// for file operations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// GlobalProjectDir returns the default project root (~/.config/deskwork).
func GlobalProjectDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "deskwork")
}

// LLMConfig configures the completion API client. The API key is never put
// in the config file; it comes from the environment (APIKeyEnv names the
// variable).
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	TimeoutSecs int     `yaml:"timeout_seconds"`
}

// LibrarianConfig controls filesystem exploration and indexing.
type LibrarianConfig struct {
	Roots                []string `yaml:"roots"`                   // directories to explore on startup
	MaxDepth             int      `yaml:"max_depth"`               // directory depth limit (default 6)
	Extensions           []string `yaml:"extensions"`              // file extensions worth indexing
	SkipDirs             []string `yaml:"skip_dirs"`               // directory names never descended into
	MaxFilesPerExtension int      `yaml:"max_files_per_extension"` // indexing volume cap (default 500)
}

// ExecutorConfig controls command execution.
type ExecutorConfig struct {
	CommandTimeoutSecs int `yaml:"command_timeout_seconds"` // default 60
	HistorySize        int `yaml:"history_size"`            // command history ring (default 100)
}

// AssistConfig configures the coding-assistant CLI collaborator.
type AssistConfig struct {
	Command     string `yaml:"command"` // binary name, e.g. "claude"
	TimeoutSecs int    `yaml:"timeout_seconds"`
}

// CalendarConfig points the calendar collaborator at its event source.
type CalendarConfig struct {
	FixturePath string `yaml:"fixture_path"` // JSON event file for the file-backed provider
}

// KnowledgeConfig controls the FTS5 content index over explored files.
type KnowledgeConfig struct {
	Enabled              bool `yaml:"enabled"`
	WatchIntervalSeconds int  `yaml:"watch_interval_seconds"` // full-rescan interval (default 300)
}

// DashboardConfig controls the read-only HTTP status surface.
type DashboardConfig struct {
	Enabled  bool `yaml:"enabled"`
	HTTPPort int  `yaml:"http_port"`
}

// Config holds all runtime configuration.
type Config struct {
	ProjectRoot   string `yaml:"project_root"`   // state.db, message_bus.json, journal/, logs/
	WorkspaceRoot string `yaml:"workspace_root"` // confinement root for Executor file operations

	PollIntervalMS   int    `yaml:"poll_interval_ms"`  // agent loop tick (default 1000, spec max 1s)
	MaintenanceTicks int    `yaml:"maintenance_ticks"` // domain maintenance every N ticks (default 30)
	DailyCheckin     string `yaml:"daily_checkin"`     // HH:MM for the Director's morning summary
	MessageTTLDays   int    `yaml:"message_ttl_days"`  // bus cleanup age (default 7)
	LogFile          string `yaml:"log_file"`

	LLM       LLMConfig        `yaml:"llm"`
	Librarian LibrarianConfig  `yaml:"librarian"`
	Executor  ExecutorConfig   `yaml:"executor"`
	Assist    AssistConfig     `yaml:"assist"`
	Calendar  CalendarConfig   `yaml:"calendar"`
	Knowledge *KnowledgeConfig `yaml:"knowledge"`
	Dashboard *DashboardConfig `yaml:"dashboard"`
}

// DefaultConfig returns sensible defaults for a single-host deployment.
func DefaultConfig() *Config {
	return &Config{
		ProjectRoot:      "",
		WorkspaceRoot:    "",
		PollIntervalMS:   1000,
		MaintenanceTicks: 30,
		DailyCheckin:     "09:00",
		MessageTTLDays:   7,
		LLM: LLMConfig{
			BaseURL:     "https://api.anthropic.com",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   1024,
			Temperature: 0.7,
			APIKeyEnv:   "ANTHROPIC_API_KEY",
			TimeoutSecs: 120,
		},
		Librarian: LibrarianConfig{
			MaxDepth: 6,
			Extensions: []string{
				".py", ".js", ".ts", ".go", ".java", ".md", ".txt",
				".json", ".yaml", ".yml", ".toml", ".sh", ".sql",
			},
			SkipDirs: []string{
				".git", "node_modules", "__pycache__", ".venv", "venv",
				"vendor", "dist", "build", ".cache", ".tox", "target",
			},
			MaxFilesPerExtension: 500,
		},
		Executor: ExecutorConfig{
			CommandTimeoutSecs: 60,
			HistorySize:        100,
		},
		Assist: AssistConfig{
			Command:     "claude",
			TimeoutSecs: 300,
		},
	}
}

// LoadConfig loads configuration from a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Policy resolves paths and enforces the workspace confinement rule.
type Policy struct {
	config *Config
	mu     sync.RWMutex // protects workspaceRoot for dynamic updates
}

// New creates a policy over cfg.
func New(cfg *Config) *Policy {
	return &Policy{config: cfg}
}

// Config returns the underlying configuration.
func (p *Policy) Config() *Config { return p.config }

// ProjectRoot returns the directory holding state.db, the bus file, the
// journal, and logs. Defaults to ~/.config/deskwork.
func (p *Policy) ProjectRoot() string {
	if p.config.ProjectRoot == "" {
		return GlobalProjectDir()
	}
	return p.config.ProjectRoot
}

// WorkspaceRoot returns the current workspace root for Executor file
// operations.
func (p *Policy) WorkspaceRoot() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.WorkspaceRoot
}

// SetWorkspaceRoot dynamically changes the workspace root at runtime.
func (p *Policy) SetWorkspaceRoot(root string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.WorkspaceRoot = root
}

// StateFile returns the path of the relational state store.
func (p *Policy) StateFile() string {
	return filepath.Join(p.ProjectRoot(), "state.db")
}

// BusFile returns the path of the message bus file.
func (p *Policy) BusFile() string {
	return filepath.Join(p.ProjectRoot(), "message_bus.json")
}

// JournalDir returns the directory holding journal entries and index.json.
func (p *Policy) JournalDir() string {
	return filepath.Join(p.ProjectRoot(), "journal")
}

// KnowledgeDBPath returns the path for the FTS5 content database. It lives
// alongside the state file.
func (p *Policy) KnowledgeDBPath() string {
	return filepath.Join(p.ProjectRoot(), "knowledge.db")
}

// LogFilePath returns the configured log file path. If unset, defaults to
// logs/deskwork.log under the project root. "none" or "off" disables file
// logging.
func (p *Policy) LogFilePath() string {
	if p.config.LogFile == "" {
		return filepath.Join(p.ProjectRoot(), "logs", "deskwork.log")
	}
	return p.config.LogFile
}

// ValidatePath checks that a path is within the workspace and returns it
// in absolute form.
func (p *Policy) ValidatePath(path string) (string, error) {
	p.mu.RLock()
	wsRoot := p.config.WorkspaceRoot
	p.mu.RUnlock()

	if wsRoot == "" {
		return "", fmt.Errorf("workspace root not configured")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(wsRoot, path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	relPath, err := filepath.Rel(wsRoot, absPath)
	if err != nil {
		return "", fmt.Errorf("relative path: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside workspace", path)
	}
	return absPath, nil
}

// PollInterval returns the agent loop tick in milliseconds.
func (p *Policy) PollInterval() int {
	if p.config.PollIntervalMS <= 0 || p.config.PollIntervalMS > 1000 {
		return 1000
	}
	return p.config.PollIntervalMS
}

// KnowledgeConfig returns the content-index configuration, or nil when the
// feature is disabled.
func (p *Policy) KnowledgeConfig() *KnowledgeConfig {
	return p.config.Knowledge
}

// DashboardConfig returns the dashboard configuration, or nil when
// disabled.
func (p *Policy) DashboardConfig() *DashboardConfig {
	return p.config.Dashboard
}
