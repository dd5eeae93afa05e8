package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaakkos/deskwork/internal/bus"
	"github.com/jaakkos/deskwork/internal/domain"
	"github.com/jaakkos/deskwork/internal/routing"
)

func newTestLibrarian(t *testing.T, deps Deps) *Librarian {
	t.Helper()
	return NewLibrarian(deps, routing.New(deps.Store, deps.Logger), nil)
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestFileSummary(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"util.py":   "\"\"\"Utility helpers.\"\"\"\n\ndef f():\n    pass\n",
		"main.go":   "// Package main starts the server.\npackage main\n",
		"deploy.sh": "#!/bin/sh\n# Deploys to staging.\necho hi\n",
		"plain.py":  "x = 1\n",
	})

	tests := []struct {
		file string
		ext  string
		want string
	}{
		{"util.py", "py", "Utility helpers."},
		{"main.go", "go", "Package main starts the server."},
		{"deploy.sh", "sh", "Deploys to staging."},
		{"plain.py", "py", ""},
	}
	for _, tt := range tests {
		if got := fileSummary(filepath.Join(dir, tt.file), tt.ext); got != tt.want {
			t.Errorf("fileSummary(%s) = %q, want %q", tt.file, got, tt.want)
		}
	}
}

func TestExploreRespectsSkipDirsAndDepth(t *testing.T) {
	deps := newTestDeps(t, nil)
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.py":                    "\"\"\"A.\"\"\"\n",
		"pkg/b.go":                "package pkg\n",
		"node_modules/skip.js":    "skipped\n",
		".hidden/skip.py":         "skipped\n",
		"1/2/3/4/5/6/7/deep.py":   "too deep\n",
		"notes.bin":               "not interesting\n",
		"pkg/config/settings.yml": "a: 1\n",
	})
	deps.Policy.Config().Librarian.Roots = []string{root}
	deps.Policy.Config().Librarian.MaxDepth = 4
	l := newTestLibrarian(t, deps)

	indexed, err := l.explore(context.Background())
	if err != nil {
		t.Fatalf("explore: %v", err)
	}
	if indexed != 3 {
		t.Errorf("indexed = %d, want 3", indexed)
	}

	entry, err := deps.Store.GetFileByPath(filepath.Join(root, "pkg/config/settings.yml"))
	if err != nil {
		t.Fatalf("GetFileByPath: %v", err)
	}
	if !hasTag(entry.Tags, "yml") || !hasTag(entry.Tags, "config") {
		t.Errorf("tags = %v, want yml and config", entry.Tags)
	}
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

func TestStartSharesExplorationDiscovery(t *testing.T) {
	deps := newTestDeps(t, nil)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.py": "\"\"\"A.\"\"\"\ndef go():\n    pass\n"})
	deps.Policy.Config().Librarian.Roots = []string{root}
	l := newTestLibrarian(t, deps)

	if err := l.start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !l.explorationDone || l.filesIndexed != 1 {
		t.Errorf("explorationDone=%v filesIndexed=%d", l.explorationDone, l.filesIndexed)
	}

	msgs := pendingFor(t, deps.Bus, "director", 1)
	if msgs[0].Type != domain.TypeDiscovery {
		t.Errorf("message type = %q", msgs[0].Type)
	}
	discoveries, err := deps.Store.GetRecentDiscoveries(5)
	if err != nil || len(discoveries) != 1 {
		t.Fatalf("discoveries = %v, %v", discoveries, err)
	}
	if discoveries[0].DiscoveryType != "exploration" {
		t.Errorf("discovery type = %q", discoveries[0].DiscoveryType)
	}
}

func TestSearchRequestRoundTrip(t *testing.T) {
	deps := newTestDeps(t, nil)
	l := newTestLibrarian(t, deps)

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"tmp/util.py":  "\"\"\"Utility helpers.\"\"\"\n",
		"tmp/note.txt": "not python\n",
		"other/c.py":   "\"\"\"Elsewhere.\"\"\"\n",
	})
	for _, rel := range []string{"tmp/util.py", "tmp/note.txt", "other/c.py"} {
		if err := l.IndexFile(filepath.Join(dir, rel)); err != nil {
			t.Fatalf("IndexFile %s: %v", rel, err)
		}
	}

	if _, err := deps.Bus.RequestSearch("director", "librarian", bus.SearchPayload{
		Query: "find python files", Path: filepath.Join(dir, "tmp"),
	}); err != nil {
		t.Fatalf("RequestSearch: %v", err)
	}
	msgs := pendingFor(t, deps.Bus, "librarian", 1)
	if err := l.dispatch(context.Background(), l, msgs[0]); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	replies := pendingFor(t, deps.Bus, "director", 1)
	if replies[0].Type != domain.TypeSearchResult {
		t.Fatalf("reply type = %q", replies[0].Type)
	}
	if replies[0].ReplyTo != msgs[0].ID {
		t.Errorf("reply_to = %q, want %q", replies[0].ReplyTo, msgs[0].ID)
	}
	payload := decodeResult(t, replies[0])
	if !payload.Success {
		t.Fatalf("payload = %+v", payload)
	}

	// Files travel on the wire as plain path strings.
	var result struct {
		Files   []string `json:"files"`
		Summary string   `json:"summary"`
	}
	if err := json.Unmarshal(payload.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Summary != "Found 1 Python files" {
		t.Errorf("summary = %q, want %q", result.Summary, "Found 1 Python files")
	}
	if len(result.Files) != 1 || result.Files[0] != filepath.Join(dir, "tmp/util.py") {
		t.Errorf("files = %v", result.Files)
	}
}

func TestSmartSearchAppendsSuffixesOnlyWhenMatched(t *testing.T) {
	deps := newTestDeps(t, nil)
	l := newTestLibrarian(t, deps)

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"scripts/run.py": "def run_batch():\n    \"\"\"Launch the python runner.\"\"\"\n    pass\n",
	})
	path := filepath.Join(dir, "scripts", "run.py")
	if err := l.IndexFile(path); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	if _, err := l.router.IndexFile(path); err != nil {
		t.Fatalf("router.IndexFile: %v", err)
	}
	if _, err := deps.Journal.WriteEntry("librarian", []string{"runner"}, "Batch runner notes", "run.py drives the batch.", domain.DecayMedium); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	// Nothing in the journal or routes matches: no suffixes.
	result, err := l.Search(bus.SearchPayload{Query: "find python files", Path: dir, SearchType: "smart"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Summary != "Found 1 Python files" {
		t.Errorf("summary = %q", result.Summary)
	}

	// A query matching journal and routes picks up both suffixes.
	result, err = l.Search(bus.SearchPayload{Query: "python runner", Path: dir, SearchType: "smart"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := "Found 1 Python files + 1 journal entries + 1 code routes"
	if result.Summary != want {
		t.Errorf("summary = %q, want %q", result.Summary, want)
	}
}

func TestSearchTypes(t *testing.T) {
	deps := newTestDeps(t, nil)
	l := newTestLibrarian(t, deps)

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"handlers.py": "def list_users(request):\n    \"\"\"Return users.\"\"\"\n    pass\n",
	})
	path := filepath.Join(dir, "handlers.py")
	if err := l.IndexFile(path); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	if _, err := l.router.IndexFile(path); err != nil {
		t.Fatalf("router.IndexFile: %v", err)
	}
	if _, err := deps.Journal.WriteEntry("librarian", []string{"users"}, "User handler notes", "list_users returns users", domain.DecayMedium); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	routesResult, err := l.Search(bus.SearchPayload{Query: "users", SearchType: "routes"})
	if err != nil {
		t.Fatalf("routes search: %v", err)
	}
	if routesResult.Summary != "Found 1 code routes matching 'users'" {
		t.Errorf("routes summary = %q", routesResult.Summary)
	}

	filesResult, err := l.Search(bus.SearchPayload{Query: "handlers", SearchType: "files"})
	if err != nil {
		t.Fatalf("files search: %v", err)
	}
	if filesResult.Summary != "Found 1 files matching 'handlers'" {
		t.Errorf("files summary = %q", filesResult.Summary)
	}

	journalResult, err := l.Search(bus.SearchPayload{Query: "users", SearchType: "journal"})
	if err != nil {
		t.Fatalf("journal search: %v", err)
	}
	if journalResult.Summary != "Found 1 journal entries matching 'users'" {
		t.Errorf("journal summary = %q", journalResult.Summary)
	}
}

func TestIndexRequestMissingFile(t *testing.T) {
	deps := newTestDeps(t, nil)
	l := newTestLibrarian(t, deps)

	missing := filepath.Join(t.TempDir(), "gone.py")
	if _, err := deps.Bus.RequestIndex("director", "librarian", missing); err != nil {
		t.Fatalf("RequestIndex: %v", err)
	}
	msgs := pendingFor(t, deps.Bus, "librarian", 1)
	if err := l.dispatch(context.Background(), l, msgs[0]); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	replies := pendingFor(t, deps.Bus, "director", 1)
	if replies[0].Type != domain.TypeIndexComplete {
		t.Fatalf("reply type = %q", replies[0].Type)
	}
	payload := decodeResult(t, replies[0])
	if payload.Success || payload.Error != "File not found: "+missing {
		t.Errorf("payload = %+v", payload)
	}
}

func TestStatusRequestReportsIndex(t *testing.T) {
	deps := newTestDeps(t, nil)
	l := newTestLibrarian(t, deps)
	l.explorationDone = true

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.py": "x = 1\n"})
	if err := l.IndexFile(filepath.Join(dir, "a.py")); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}

	if _, err := deps.Bus.RequestStatus("director", "librarian"); err != nil {
		t.Fatalf("RequestStatus: %v", err)
	}
	msgs := pendingFor(t, deps.Bus, "librarian", 1)
	if err := l.dispatch(context.Background(), l, msgs[0]); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	replies := pendingFor(t, deps.Bus, "director", 1)
	payload := decodeResult(t, replies[0])
	var status LibrarianStatus
	if err := json.Unmarshal(payload.Result, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Agent != "librarian" || !status.ExplorationComplete {
		t.Errorf("status = %+v", status)
	}
	if status.FileIndex[".py"] != 1 {
		t.Errorf("file index = %v", status.FileIndex)
	}
}

func TestAnswerKnowledgeUsesJournal(t *testing.T) {
	deps := newTestDeps(t, nil)
	l := newTestLibrarian(t, deps)

	if _, err := deps.Journal.WriteEntry("director", []string{"deploy"}, "Deploy process", "Use the blue-green script.", domain.DecayMedium); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	answer := l.AnswerKnowledge("deploy process")
	if !strings.Contains(answer.Answer, "Deploy process") {
		t.Errorf("answer = %q", answer.Answer)
	}
	if len(answer.Sources) != 1 {
		t.Errorf("sources = %v", answer.Sources)
	}

	empty := l.AnswerKnowledge("zzz-nothing-matches-this")
	if empty.Answer != "No recorded knowledge matches this question." {
		t.Errorf("empty answer = %q", empty.Answer)
	}
}
