// Deskwork personal agent runtime.
// Runs the Director, Librarian, and Executor peers over a shared message
// bus and state store, with optional MCP and dashboard surfaces.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deskwork/internal/agent"
	"github.com/jaakkos/deskwork/internal/assist"
	"github.com/jaakkos/deskwork/internal/bus"
	"github.com/jaakkos/deskwork/internal/calendar"
	"github.com/jaakkos/deskwork/internal/config"
	"github.com/jaakkos/deskwork/internal/dashboard"
	"github.com/jaakkos/deskwork/internal/domain"
	"github.com/jaakkos/deskwork/internal/journal"
	"github.com/jaakkos/deskwork/internal/knowledge"
	"github.com/jaakkos/deskwork/internal/llm"
	"github.com/jaakkos/deskwork/internal/routing"
	"github.com/jaakkos/deskwork/internal/schedule"
	"github.com/jaakkos/deskwork/internal/state"
	"github.com/jaakkos/deskwork/internal/tools/assistant"
)

// Version is set by -ldflags at build time.
var Version = "dev"

const usage = `Usage: deskwork <command>

Commands:
  run [director|librarian|executor|all]   start agent loop(s) (default: all)
  ask <question>                          one-shot question to the Director
  status [agent]                          unread messages and pending tasks
  mcp                                     stdio MCP server for editor agents
  version                                 print version
`

func main() {
	// Secrets (LLM API key) come from the environment; a .env next to the
	// binary is a convenience for development.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		names := []string{agent.DirectorName, agent.LibrarianName, agent.ExecutorName}
		if len(os.Args) > 2 && os.Args[2] != "all" {
			names = []string{os.Args[2]}
		}
		runAgents(names)
	case "ask":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: deskwork ask <question>")
			os.Exit(2)
		}
		runAsk(strings.Join(os.Args[2:], " "))
	case "status":
		agentName := ""
		if len(os.Args) > 2 {
			agentName = os.Args[2]
		}
		runStatus(agentName)
	case "mcp":
		runMCP()
	case "version", "--version", "-v":
		fmt.Println("deskwork " + Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

// infra is the shared infrastructure every subcommand builds on.
type infra struct {
	cfg       *config.Config
	policy    *config.Policy
	logger    *log.Logger
	bus       *bus.Bus
	store     *state.Store
	jwriter   *journal.Writer
	jindex    *journal.Index
	retriever *journal.Retriever
	llm       *llm.Client
}

func openInfra(quiet bool) *infra {
	bootLogger := log.New(os.Stderr, "[deskwork] ", log.LstdFlags)
	cfg := loadConfig(bootLogger)
	pol := config.New(cfg)

	var logger *log.Logger
	if quiet {
		logger = log.New(io.Discard, "", 0)
	} else {
		logger = setupLogger(pol.LogFilePath())
	}

	b, err := bus.New(pol.BusFile(), logger)
	if err != nil {
		bootLogger.Fatalf("Message bus: %v", err)
	}
	store, err := state.Open(pol.StateFile())
	if err != nil {
		bootLogger.Fatalf("State store: %v", err)
	}
	jindex := journal.NewIndex(filepath.Join(pol.JournalDir(), "index.json"))
	jwriter, err := journal.NewWriter(pol.JournalDir(), jindex, logger)
	if err != nil {
		bootLogger.Fatalf("Journal: %v", err)
	}

	return &infra{
		cfg:       cfg,
		policy:    pol,
		logger:    logger,
		bus:       b,
		store:     store,
		jwriter:   jwriter,
		jindex:    jindex,
		retriever: journal.NewRetriever(jindex),
		llm:       llm.NewClient(cfg.LLM, logger),
	}
}

func (in *infra) close() {
	if err := in.store.Close(); err != nil {
		in.logger.Printf("Warning: close state store: %v", err)
	}
}

func (in *infra) deps() agent.Deps {
	return agent.Deps{
		Bus:       in.bus,
		Store:     in.store,
		Journal:   in.jwriter,
		Index:     in.jindex,
		Retriever: in.retriever,
		LLM:       in.llm,
		Policy:    in.policy,
		Logger:    in.logger,
	}
}

func (in *infra) calendarProvider() calendar.Provider {
	if in.cfg.Calendar.FixturePath == "" {
		return nil
	}
	return calendar.NewFileProvider(in.cfg.Calendar.FixturePath)
}

// runAgents starts the named agent loops and blocks until a signal or the
// first fatal agent error.
func runAgents(names []string) {
	in := openInfra(false)
	defer in.close()
	logger := in.logger
	logger.Printf("Starting deskwork %s", Version)
	logger.Printf("Project root: %s", in.policy.ProjectRoot())
	logger.Printf("Workspace root: %s", in.policy.WorkspaceRoot())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signal.Ignore(syscall.SIGHUP)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	sched := schedule.New(logger)
	defer sched.Stop()

	// Optional FTS5 content index, shared with the Librarian.
	var knowStore *knowledge.Store
	if kCfg := in.policy.KnowledgeConfig(); kCfg != nil && kCfg.Enabled {
		var err error
		knowStore, err = knowledge.NewStore(in.policy.KnowledgeDBPath())
		if err != nil {
			logger.Printf("Warning: knowledge store init failed: %v (feature disabled)", err)
		} else {
			defer func() {
				if err := knowStore.Close(); err != nil {
					logger.Printf("Warning: close knowledge store: %v", err)
				}
			}()
			syncInterval := 60 * time.Second
			if kCfg.WatchIntervalSeconds > 0 {
				syncInterval = time.Duration(kCfg.WatchIntervalSeconds) * time.Second
			}
			indexer := knowledge.NewIndexer(knowStore, knowledge.IndexerConfig{
				Roots:             in.cfg.Librarian.Roots,
				Extensions:        in.cfg.Librarian.Extensions,
				SkipDirs:          in.cfg.Librarian.SkipDirs,
				MaxDepth:          in.cfg.Librarian.MaxDepth,
				WatchEnabled:      true,
				StateSyncInterval: syncInterval,
			}, &stateAdapter{store: in.store}, logger)
			go indexer.Start(ctx)
			logger.Printf("Knowledge indexer enabled (sync=%s, db=%s)", syncInterval, in.policy.KnowledgeDBPath())
		}
	}

	runners := make(map[string]func(context.Context) error, len(names))
	for _, name := range names {
		switch name {
		case agent.DirectorName:
			d := agent.NewDirector(in.deps(), in.calendarProvider(), sched)
			d.WakeOn(newBusWatcher(ctx, in, logger))
			runners[name] = d.Run
		case agent.LibrarianName:
			l := agent.NewLibrarian(in.deps(), routing.New(in.store, logger), knowStore)
			l.WakeOn(newBusWatcher(ctx, in, logger))
			runners[name] = l.Run
		case agent.ExecutorName:
			e := agent.NewExecutor(in.deps(), assist.NewRunner(in.cfg.Assist, logger))
			e.WakeOn(newBusWatcher(ctx, in, logger))
			runners[name] = e.Run
		default:
			logger.Fatalf("unknown agent %q (want director, librarian, or executor)", name)
		}
	}

	// Optional dashboard.
	if dCfg := in.policy.DashboardConfig(); dCfg != nil && dCfg.Enabled {
		port := dCfg.HTTPPort
		if port == 0 {
			port = 8787
		}
		mux := http.NewServeMux()
		dashboard.NewHandler(in.store, in.bus, in.policy, logger).RegisterRoutes(mux)
		srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
		go func() {
			logger.Printf("Dashboard on http://localhost:%d/dashboard", port)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				logger.Printf("Dashboard server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	errCh := make(chan error, len(runners))
	var wg sync.WaitGroup
	for name, run := range runners {
		wg.Add(1)
		go func(name string, run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil {
				logger.Printf("[%s] exited: %v", name, err)
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, run)
	}

	// First fatal agent error brings the process down; everyone else stops
	// through the shared context.
	go func() {
		if err := <-errCh; err != nil {
			logger.Printf("Fatal: %v", err)
			cancel()
		}
	}()

	wg.Wait()
	logger.Println("All agents stopped")
}

// newBusWatcher starts a watcher on the bus file and returns its wake
// channel. Each agent loop gets its own watcher so a single write wakes
// them all.
func newBusWatcher(ctx context.Context, in *infra, logger *log.Logger) <-chan struct{} {
	w := bus.NewWatcher(in.policy.BusFile(), logger)
	go w.Start(ctx)
	return w.Wake()
}

// runAsk sends one question through the Director's ask pipeline and prints
// the answer. Peer delegation works when agent loops run in another
// process; otherwise the Director answers from its own context.
func runAsk(question string) {
	in := openInfra(true)
	defer in.close()

	d := agent.NewDirector(in.deps(), in.calendarProvider(), nil)
	fmt.Println(d.Ask(context.Background(), question))
}

// runStatus prints unread message and pending task counts.
func runStatus(agentName string) {
	in := openInfra(true)
	defer in.close()

	names := []string{agent.DirectorName, agent.LibrarianName, agent.ExecutorName}
	if agentName != "" {
		names = []string{agentName}
	}

	statuses, err := in.store.GetAgentStatuses()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	byName := make(map[string]domain.AgentStatus, len(statuses))
	for _, st := range statuses {
		byName[st.AgentName] = st
	}

	for _, name := range names {
		pending, err := in.bus.GetPending(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		status := domain.AgentStopped
		if st, ok := byName[name]; ok {
			status = st.Status
		}
		fmt.Printf("%s: %s, unread=%d\n", name, status, len(pending))
	}

	tasks, err := in.store.GetTasks(domain.TaskPending)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pending tasks: %d\n", len(tasks))
}

// runMCP serves the assistant tool surface over stdio.
func runMCP() {
	in := openInfra(false)
	defer in.close()
	logger := in.logger
	logger.Println("Starting deskwork MCP server (stdio)...")

	s := server.NewMCPServer("deskwork", Version)
	assistant.Register(s, assistant.Deps{
		Bus:       in.bus,
		Store:     in.store,
		Retriever: in.retriever,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	stdioSrv := server.NewStdioServer(s)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Printf("Stdio server stopped: %v", err)
	}
}

// stateAdapter feeds the knowledge indexer from the state store.
type stateAdapter struct {
	store *state.Store
}

func (a *stateAdapter) Discoveries() []domain.Discovery {
	discoveries, err := a.store.GetRecentDiscoveries(100)
	if err != nil {
		return nil
	}
	return discoveries
}

func (a *stateAdapter) CompletedTasks() []domain.Task {
	tasks, err := a.store.GetTasks(domain.TaskCompleted)
	if err != nil {
		return nil
	}
	return tasks
}

// setupLogger creates a logger writing to the log file and, when stderr is
// an interactive terminal, to stderr as well. "none" or "off" disables
// file logging.
func setupLogger(logFilePath string) *log.Logger {
	var writers []io.Writer

	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}

	hasLogFile := false
	lower := strings.ToLower(logFilePath)
	if lower != "none" && lower != "off" && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "[deskwork] Warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "[deskwork] Warning: cannot create log dir %s: %v\n", filepath.Dir(logFilePath), err)
		}
	}
	if stderrIsTerminal || !hasLogFile {
		writers = append(writers, os.Stderr)
	}

	return log.New(io.MultiWriter(writers...), "[deskwork] ", log.LstdFlags)
}

// loadConfig loads configuration from DESKWORK_CONFIG, falling back to
// config.yaml under the project root, then defaults. The workspace root
// defaults to the current directory.
func loadConfig(logger *log.Logger) *config.Config {
	cfg := config.DefaultConfig()

	path := os.Getenv("DESKWORK_CONFIG")
	if path == "" {
		candidate := filepath.Join(config.GlobalProjectDir(), "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			logger.Printf("Warning: failed to load config %s: %v, using defaults", path, err)
		} else {
			cfg = loaded
		}
	}

	if cfg.WorkspaceRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get working directory: %v\n", err)
			os.Exit(1)
		}
		cfg.WorkspaceRoot = cwd
	}
	if len(cfg.Librarian.Roots) == 0 {
		cfg.Librarian.Roots = []string{cfg.WorkspaceRoot}
	}
	return cfg
}
