package knowledge

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "knowledge.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIndexAndQuery(t *testing.T) {
	s := newTestStore(t)

	docs := []Document{
		{Path: "api/server.py", Title: "server.py", Content: "def create_app():\n    configure flask routing", Category: "python"},
		{Path: "docs/setup.md", Title: "setup.md", Content: "How to configure the database connection", Category: "markdown"},
		{Path: "web/client.js", Title: "client.js", Content: "function fetchOrders() {}", Category: "javascript"},
	}
	for _, d := range docs {
		if err := s.Index(d); err != nil {
			t.Fatalf("Index(%s): %v", d.Path, err)
		}
	}

	results, err := s.Query("configure", "", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}

	pyOnly, err := s.Query("configure", "python", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(pyOnly) != 1 || pyOnly[0].Path != "api/server.py" {
		t.Errorf("category filter = %+v", pyOnly)
	}
	if pyOnly[0].Snippet == "" {
		t.Error("snippet is empty")
	}
}

func TestIndexReplacesByPath(t *testing.T) {
	s := newTestStore(t)

	doc := Document{Path: "a.md", Title: "a.md", Content: "original words here", Category: "markdown"}
	if err := s.Index(doc); err != nil {
		t.Fatalf("Index: %v", err)
	}
	doc.Content = "replacement text entirely"
	if err := s.Index(doc); err != nil {
		t.Fatalf("Index (replace): %v", err)
	}

	if results, _ := s.Query("original", "", 10); len(results) != 0 {
		t.Errorf("stale content still matches: %+v", results)
	}
	results, err := s.Query("replacement", "", 10)
	if err != nil || len(results) != 1 {
		t.Errorf("Query = %+v, %v", results, err)
	}
}

func TestIndexIfChanged(t *testing.T) {
	s := newTestStore(t)

	doc := Document{Path: "b.md", Title: "b.md", Content: "stable content", Category: "markdown"}
	changed, err := s.IndexIfChanged(doc)
	if err != nil || !changed {
		t.Fatalf("first index: changed=%v err=%v", changed, err)
	}
	changed, err = s.IndexIfChanged(doc)
	if err != nil || changed {
		t.Fatalf("same checksum reindexed: changed=%v err=%v", changed, err)
	}
	doc.Content = "different content"
	changed, err = s.IndexIfChanged(doc)
	if err != nil || !changed {
		t.Fatalf("changed content skipped: changed=%v err=%v", changed, err)
	}
}

func TestRemoveAndRemoveByPrefix(t *testing.T) {
	s := newTestStore(t)

	for _, p := range []string{"proj/a.md", "proj/b.md", "other/c.md"} {
		if err := s.Index(Document{Path: p, Title: p, Content: "searchable body", Category: "markdown"}); err != nil {
			t.Fatalf("Index: %v", err)
		}
	}

	if err := s.Remove("other/c.md"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	count, err := s.RemoveByPrefix("proj/")
	if err != nil {
		t.Fatalf("RemoveByPrefix: %v", err)
	}
	if count != 2 {
		t.Errorf("removed %d, want 2", count)
	}
	if paths, _ := s.IndexedPaths(); len(paths) != 0 {
		t.Errorf("paths remaining: %v", paths)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	_ = s.Index(Document{Path: "a.py", Title: "a.py", Content: "x", Category: "python"})
	_ = s.Index(Document{Path: "b.py", Title: "b.py", Content: "y", Category: "python"})
	_ = s.Index(Document{Path: "c.md", Title: "c.md", Content: "z", Category: "markdown"})

	total, byCategory, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if total != 3 || byCategory["python"] != 2 || byCategory["markdown"] != 1 {
		t.Errorf("total=%d byCategory=%v", total, byCategory)
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`find "quoted" (grouped)`, "find quoted grouped"},
		{"AND OR NOT", ""},
		{"plain words", "plain words"},
		{"", ""},
		{`col:value ^boost`, "colvalue boost"},
	}
	for _, tt := range tests {
		if got := sanitizeFTSQuery(tt.in); got != tt.want {
			t.Errorf("sanitizeFTSQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
