package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jaakkos/deskwork/internal/bus"
	"github.com/jaakkos/deskwork/internal/domain"
	"github.com/jaakkos/deskwork/internal/knowledge"
	"github.com/jaakkos/deskwork/internal/routing"
)

const librarianSystem = "You are the Librarian, the knowledge manager of a personal " +
	"assistant system. You index files, maintain the code routing table, and answer " +
	"search and knowledge requests from your peers."

// Librarian explores configured roots on startup, keeps the file index
// and code routing table fresh, and serves search requests from peers.
type Librarian struct {
	Runtime

	cfg       libConfig
	router    *routing.Router
	knowledge *knowledge.Store // optional content index

	explorationDone bool
	filesIndexed    int
	routesIndexed   int
}

type libConfig struct {
	roots      []string
	maxDepth   int
	extensions map[string]bool
	skipDirs   map[string]bool
	maxPerExt  int
}

// NewLibrarian wires a Librarian. know may be nil; full-text search then
// falls back to path matching against the file index.
func NewLibrarian(d Deps, router *routing.Router, know *knowledge.Store) *Librarian {
	lc := d.Policy.Config().Librarian
	cfg := libConfig{
		roots:      lc.Roots,
		maxDepth:   lc.MaxDepth,
		extensions: map[string]bool{},
		skipDirs:   map[string]bool{},
		maxPerExt:  lc.MaxFilesPerExtension,
	}
	if cfg.maxDepth <= 0 {
		cfg.maxDepth = 6
	}
	if cfg.maxPerExt <= 0 {
		cfg.maxPerExt = 500
	}
	for _, ext := range lc.Extensions {
		cfg.extensions[strings.TrimPrefix(ext, ".")] = true
	}
	for _, dir := range lc.SkipDirs {
		cfg.skipDirs[dir] = true
	}
	return &Librarian{
		Runtime:   newRuntime(LibrarianName, librarianSystem, d),
		cfg:       cfg,
		router:    router,
		knowledge: know,
	}
}

// Run drives the Librarian loop until ctx is cancelled.
func (l *Librarian) Run(ctx context.Context) error {
	return l.run(ctx, l)
}

// start explores the configured roots and builds the routing table before
// the first tick, publishing the phase through agent status.
func (l *Librarian) start(ctx context.Context) error {
	if err := l.store.UpdateAgentStatus(l.name, domain.AgentExploring, "Exploring filesystem"); err != nil {
		return err
	}
	indexed, err := l.explore(ctx)
	if err != nil {
		return err
	}
	l.filesIndexed = indexed

	if err := l.store.UpdateAgentStatus(l.name, domain.AgentRouting, "Building code routes"); err != nil {
		return err
	}
	if l.router != nil {
		routes, err := l.router.BuildRoutingSystem()
		if err != nil {
			if domain.IsFatal(err) {
				return err
			}
			l.logger.Printf("[%s] build routing: %v", l.name, err)
		}
		l.routesIndexed = routes
	}
	l.explorationDone = true

	l.shareExplorationStats()
	return nil
}

// explore walks each configured root, indexing files with interesting
// extensions up to the per-extension cap and the depth limit.
func (l *Librarian) explore(ctx context.Context) (int, error) {
	indexed := 0
	perExt := map[string]int{}

	for _, root := range l.cfg.roots {
		root, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		l.logger.Printf("[%s] exploring %s", l.name, root)

		err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			depth := strings.Count(rel, string(filepath.Separator))

			if entry.IsDir() {
				name := entry.Name()
				if path != root && (l.cfg.skipDirs[name] || strings.HasPrefix(name, ".")) {
					return filepath.SkipDir
				}
				if depth >= l.cfg.maxDepth {
					return filepath.SkipDir
				}
				return nil
			}

			ext := strings.TrimPrefix(filepath.Ext(path), ".")
			if !l.cfg.extensions[ext] || perExt[ext] >= l.cfg.maxPerExt {
				return nil
			}
			if err := l.IndexFile(path); err != nil {
				l.logger.Printf("[%s] index %s: %v", l.name, path, err)
				return nil
			}
			perExt[ext]++
			indexed++
			return nil
		})
		if err != nil && err != ctx.Err() {
			l.logger.Printf("[%s] walk %s: %v", l.name, root, err)
		}
		if ctx.Err() != nil {
			return indexed, ctx.Err()
		}
	}
	l.logger.Printf("[%s] exploration complete: %d files indexed", l.name, indexed)
	return indexed, nil
}

// IndexFile stats one file and upserts it into the file index with a
// summary and derived tags.
func (l *Librarian) IndexFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.E(domain.KindInvalidInput, "librarian.index", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return domain.Errorf(domain.KindNotFound, "librarian.index", "File not found: %s", path)
	}
	if info.IsDir() {
		return domain.Errorf(domain.KindInvalidInput, "librarian.index", "%s is a directory", path)
	}

	ext := strings.TrimPrefix(filepath.Ext(abs), ".")
	tags := []string{ext}
	lowerPath := strings.ToLower(abs)
	if strings.Contains(lowerPath, "test") {
		tags = append(tags, "test")
	}
	if strings.Contains(lowerPath, "config") {
		tags = append(tags, "config")
	}

	return l.store.AddFileToIndex(&domain.FileIndexEntry{
		Path:       abs,
		Extension:  filepath.Ext(abs),
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
		Summary:    fileSummary(abs, ext),
		Tags:       tags,
	})
}

// fileSummary extracts the first docstring or comment line from the first
// ten lines of a code file.
func fileSummary(path, ext string) string {
	switch ext {
	case "py", "js", "ts", "go", "java", "rs", "c", "cpp", "h", "sh", "bash", "sql":
	default:
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for i := 0; i < 10 && scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, `"""`), strings.HasPrefix(line, "'''"):
			s := strings.Trim(line, `"'`)
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		case strings.HasPrefix(line, "//"):
			if s := strings.TrimSpace(strings.TrimPrefix(line, "//")); s != "" {
				return s
			}
		case strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#!"):
			if s := strings.TrimSpace(strings.TrimPrefix(line, "#")); s != "" {
				return s
			}
		case strings.HasPrefix(line, "--"):
			if s := strings.TrimSpace(strings.TrimPrefix(line, "--")); s != "" {
				return s
			}
		}
	}
	return ""
}

// shareExplorationStats records a discovery and broadcasts it to the
// Director.
func (l *Librarian) shareExplorationStats() {
	stats, err := l.store.FileIndexStats()
	if err != nil {
		l.logger.Printf("[%s] index stats: %v", l.name, err)
		stats = map[string]int{}
	}
	details := map[string]any{
		"files_indexed":  l.filesIndexed,
		"routes_indexed": l.routesIndexed,
		"by_extension":   stats,
	}
	description := fmt.Sprintf("Exploration complete: %d files indexed, %d code routes", l.filesIndexed, l.routesIndexed)

	raw, _ := json.Marshal(details)
	if err := l.store.AddDiscovery(&domain.Discovery{
		Agent:         l.name,
		DiscoveryType: "exploration",
		Description:   description,
		Details:       string(raw),
	}); err != nil {
		l.logger.Printf("[%s] record discovery: %v", l.name, err)
	}
	if _, err := l.bus.ShareDiscovery(l.name, DirectorName, bus.DiscoveryPayload{
		DiscoveryType: "exploration",
		Description:   description,
		Details:       details,
	}); err != nil {
		l.logger.Printf("[%s] share discovery: %v", l.name, err)
	}
}

func (l *Librarian) handleMessage(ctx context.Context, m domain.Message) error {
	switch m.Type {
	case domain.TypeSearchRequest:
		return l.handleSearchRequest(m)
	case domain.TypeIndexRequest:
		return l.handleIndexRequest(m)
	case domain.TypeKnowledgeRequest:
		return l.handleKnowledgeRequest(m)
	case domain.TypeStatusRequest:
		return l.handleStatusRequest(m)
	case domain.TypeDiscovery:
		l.logger.Printf("[%s] discovery from %s: %s", l.name, m.From, m.Subject)
		return nil
	}
	return errUnknownType
}

func (l *Librarian) maintain(context.Context) error {
	if l.jindex != nil {
		l.jindex.Reload()
	}
	return nil
}

// SearchResult is the payload of a search_result reply. Files holds paths.
type SearchResult struct {
	Query          string             `json:"query"`
	SearchType     string             `json:"search_type"`
	Files          []string           `json:"files,omitempty"`
	Routes         []domain.CodeRoute `json:"routes,omitempty"`
	JournalEntries []string           `json:"journal_entries,omitempty"`
	Matches        []knowledge.Result `json:"matches,omitempty"`
	Summary        string             `json:"summary"`
}

func (l *Librarian) handleSearchRequest(m domain.Message) error {
	var p bus.SearchPayload
	if err := json.Unmarshal([]byte(m.Body), &p); err != nil {
		p = bus.SearchPayload{Query: m.Body}
	}
	if p.SearchType == "" {
		p.SearchType = "smart"
	}

	result, err := l.Search(p)
	if err != nil {
		return err
	}
	_, err = l.bus.SendResult(l.name, m.From, m.Type, m.ID, true, result, "")
	return err
}

// Search executes one search request. The smart type classifies the query
// into a file-extension bucket or falls back to content matching, then
// augments with journal entries and code routes.
func (l *Librarian) Search(p bus.SearchPayload) (*SearchResult, error) {
	result := &SearchResult{Query: p.Query, SearchType: p.SearchType}

	switch p.SearchType {
	case "routes":
		routes, err := l.router.SearchRoutes(p.Query, "", 20)
		if err != nil {
			return nil, err
		}
		result.Routes = routes
		result.Summary = fmt.Sprintf("Found %d code routes matching '%s'", len(routes), p.Query)
		return result, nil

	case "files":
		files, err := l.store.SearchFileIndex("", nil, "%"+p.Query+"%", 20)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			result.Files = append(result.Files, f.Path)
		}
		result.Summary = fmt.Sprintf("Found %d files matching '%s'", len(result.Files), p.Query)
		return result, nil

	case "journal":
		entries := l.searchJournal(p.Query, 10)
		for _, e := range entries {
			result.JournalEntries = append(result.JournalEntries, e.Meta.Summary)
		}
		result.Summary = fmt.Sprintf("Found %d journal entries matching '%s'", len(result.JournalEntries), p.Query)
		return result, nil
	}

	// Smart search, scoped to the requested path (first exploration root
	// when none given).
	path := p.Path
	if path == "" && len(l.cfg.roots) > 0 {
		path = l.cfg.roots[0]
	}
	lower := strings.ToLower(p.Query)
	var extensions []string
	var label string
	switch {
	case strings.Contains(lower, "python") || strings.Contains(lower, ".py"):
		extensions, label = []string{"py"}, "Python files"
	case strings.Contains(lower, "javascript") || strings.Contains(lower, ".js"):
		extensions, label = []string{"js", "ts"}, "JavaScript/TypeScript files"
	case strings.Contains(lower, "config"):
		extensions, label = []string{"json", "yaml", "yml", "toml", "ini", "cfg"}, "config files"
	case strings.Contains(lower, "markdown") || strings.Contains(lower, ".md") || strings.Contains(lower, "docs"):
		extensions, label = []string{"md", "txt", "rst"}, "documentation files"
	}

	if extensions != nil {
		var scope string
		if path != "" {
			scope = filepath.Clean(path) + string(filepath.Separator) + "%"
		}
		for _, ext := range extensions {
			files, err := l.store.SearchFileIndex(ext, nil, scope, 20)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				result.Files = append(result.Files, f.Path)
			}
		}
		result.Summary = fmt.Sprintf("Found %d %s", len(result.Files), label)
	} else {
		matches := l.contentSearch(p.Query)
		result.Matches = matches
		result.Summary = fmt.Sprintf("Found %d matches for '%s'", len(matches), p.Query)
	}

	if entries := l.searchJournal(p.Query, 3); len(entries) > 0 {
		for _, e := range entries {
			result.JournalEntries = append(result.JournalEntries, e.Meta.Summary)
		}
		result.Summary += fmt.Sprintf(" + %d journal entries", len(result.JournalEntries))
	}

	if l.router != nil {
		routes, err := l.router.SearchRoutes(p.Query, "", 5)
		if err == nil && len(routes) > 0 {
			result.Routes = routes
			result.Summary += fmt.Sprintf(" + %d code routes", len(routes))
		}
	}
	return result, nil
}

// contentSearch queries the full-text index when available, otherwise
// matches the query against indexed paths.
func (l *Librarian) contentSearch(query string) []knowledge.Result {
	if l.knowledge != nil {
		matches, err := l.knowledge.Query(query, "", 10)
		if err != nil {
			l.logger.Printf("[%s] content search: %v", l.name, err)
			return nil
		}
		return matches
	}
	files, err := l.store.SearchFileIndex("", nil, "%"+query+"%", 10)
	if err != nil {
		l.logger.Printf("[%s] path search: %v", l.name, err)
		return nil
	}
	var matches []knowledge.Result
	for _, f := range files {
		matches = append(matches, knowledge.Result{Path: f.Path, Title: filepath.Base(f.Path), Snippet: f.Summary})
	}
	return matches
}

func (l *Librarian) handleIndexRequest(m domain.Message) error {
	var p bus.IndexPayload
	if err := json.Unmarshal([]byte(m.Body), &p); err != nil {
		p = bus.IndexPayload{Path: strings.TrimSpace(m.Body)}
	}

	if err := l.IndexFile(p.Path); err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			_, sendErr := l.bus.SendResult(l.name, m.From, m.Type, m.ID, false, nil,
				fmt.Sprintf("File not found: %s", p.Path))
			return sendErr
		}
		return err
	}
	if l.router != nil {
		if _, err := l.router.IndexFile(p.Path); err != nil && domain.KindOf(err) != domain.KindNotFound {
			l.logger.Printf("[%s] route index %s: %v", l.name, p.Path, err)
		}
	}
	_, err := l.bus.SendResult(l.name, m.From, m.Type, m.ID, true,
		map[string]string{"message": "Indexed: " + p.Path}, "")
	return err
}

// KnowledgeAnswer is the payload of a knowledge_result reply.
type KnowledgeAnswer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
}

func (l *Librarian) handleKnowledgeRequest(m domain.Message) error {
	var p bus.KnowledgePayload
	if err := json.Unmarshal([]byte(m.Body), &p); err != nil {
		p = bus.KnowledgePayload{Question: m.Body}
	}

	answer := l.AnswerKnowledge(p.Question)
	_, err := l.bus.SendResult(l.name, m.From, m.Type, m.ID, true, answer, "")
	return err
}

// AnswerKnowledge assembles an answer from ranked journal entries and the
// content index.
func (l *Librarian) AnswerKnowledge(question string) *KnowledgeAnswer {
	entries := l.searchJournal(question, 5)
	matches := l.contentSearch(question)

	var b strings.Builder
	if len(entries) == 0 && len(matches) == 0 {
		b.WriteString("No recorded knowledge matches this question.")
	}
	for i, e := range entries {
		if i == 0 {
			b.WriteString("From the journal:\n")
		}
		fmt.Fprintf(&b, "- %s", e.Meta.Summary)
		if body := l.readEntryContent(e.Meta.Filename, 300); body != "" {
			fmt.Fprintf(&b, ": %s", strings.TrimSpace(body))
		}
		b.WriteString("\n")
	}
	for i, match := range matches {
		if i == 0 {
			b.WriteString("From indexed files:\n")
		}
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", match.Path, match.Snippet)
	}

	out := &KnowledgeAnswer{Answer: strings.TrimSpace(b.String())}
	for i, e := range entries {
		if i >= 3 {
			break
		}
		out.Sources = append(out.Sources, e.Meta.Filename)
	}
	return out
}

// LibrarianStatus is the payload of the Librarian's status_response.
type LibrarianStatus struct {
	Agent               string         `json:"agent"`
	Status              string         `json:"status"`
	ExplorationComplete bool           `json:"exploration_complete"`
	FileIndex           map[string]int `json:"file_index"`
	RecentDiscoveries   int            `json:"recent_discoveries"`
	ExplorationRoots    []string       `json:"exploration_roots"`
}

func (l *Librarian) handleStatusRequest(m domain.Message) error {
	stats, err := l.store.FileIndexStats()
	if err != nil {
		return err
	}
	discoveries, err := l.store.GetRecentDiscoveries(10)
	if err != nil {
		return err
	}
	status := LibrarianStatus{
		Agent:               l.name,
		Status:              domain.AgentRunning,
		ExplorationComplete: l.explorationDone,
		FileIndex:           stats,
		RecentDiscoveries:   len(discoveries),
		ExplorationRoots:    l.cfg.roots,
	}
	_, err = l.bus.SendResult(l.name, m.From, m.Type, m.ID, true, status, "")
	return err
}
