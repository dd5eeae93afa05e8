package journal

import (
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaakkos/deskwork/internal/domain"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Meeting Prep: 2024 Q1  review!!", "meeting-prep-2024-q1-review"},
		{"   ", "untitled"},
		{"", "untitled"},
		{"hello_world", "hello-world"},
		{"already-fine", "already-fine"},
		{"Ünïcode Héllo", "ncode-hllo"},
		{"a--b---c", "a-b-c"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := Slugify("this is a very long summary that should definitely be truncated somewhere past fifty characters")
	if len(long) > 50 {
		t.Errorf("len = %d, want <= 50", len(long))
	}
}

func newTestJournal(t *testing.T) (*Writer, *Index) {
	t.Helper()
	dir := t.TempDir()
	index := NewIndex(filepath.Join(dir, "index.json"))
	w, err := NewWriter(dir, index, log.New(os.Stderr, "", 0))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	return w, index
}

func TestWriteReadRoundTrip(t *testing.T) {
	w, _ := newTestJournal(t)

	content := "## Notes\n\nThe build pipeline is now green.\n\n- step one\n- step two"
	filename, err := w.WriteEntry("director", []string{"build", "ops"}, "Build pipeline", content, domain.DecaySlow)
	if err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if !IsEntryFilename(filename) {
		t.Errorf("filename %q does not match entry pattern", filename)
	}

	meta, body, err := ReadEntry(filepath.Join(w.Dir(), filename))
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if meta.Author != "director" {
		t.Errorf("Author = %q", meta.Author)
	}
	if meta.Title != "Build pipeline" || meta.Summary != "Build pipeline" {
		t.Errorf("Title = %q, Summary = %q", meta.Title, meta.Summary)
	}
	if meta.RelevanceDecay != domain.DecaySlow {
		t.Errorf("RelevanceDecay = %q", meta.RelevanceDecay)
	}
	if len(meta.Tags) != 2 || meta.Tags[0] != "build" || meta.Tags[1] != "ops" {
		t.Errorf("Tags = %v, want insertion order [build ops]", meta.Tags)
	}
	if body != content {
		t.Errorf("content mismatch:\n got %q\nwant %q", body, content)
	}
}

func TestReadEntryMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2026-01-01_00-00-00_bad.md")
	if err := os.WriteFile(path, []byte("no header here"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := ReadEntry(path); domain.KindOf(err) != domain.KindCorruptState {
		t.Errorf("kind = %q, want corrupt_state", domain.KindOf(err))
	}
}

func TestIndexOperations(t *testing.T) {
	w, index := newTestJournal(t)

	w.now = func() time.Time { return time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC) }
	f1, _ := w.WriteEntry("director", []string{"build"}, "build retro", "c1", domain.DecayMedium)
	w.now = func() time.Time { return time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC) }
	f2, _ := w.WriteEntry("librarian", []string{"ops"}, "ops notes", "c2", domain.DecayMedium)

	byTag, err := index.Search([]string{"build"}, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(byTag) != 1 || byTag[0].Filename != f1 {
		t.Errorf("tag search = %+v", byTag)
	}

	byKeyword, _ := index.Search(nil, "notes")
	if len(byKeyword) != 1 || byKeyword[0].Filename != f2 {
		t.Errorf("keyword search = %+v", byKeyword)
	}

	byAuthor, _ := index.GetByAuthor("librarian")
	if len(byAuthor) != 1 || byAuthor[0].Filename != f2 {
		t.Errorf("author search = %+v", byAuthor)
	}

	inRange, _ := index.GetByDateRange("2026-08-01T00:00:00", "2026-08-01T23:59:59")
	if len(inRange) != 1 || inRange[0].Filename != f1 {
		t.Errorf("date range = %+v", inRange)
	}

	tags, _ := index.GetAllTags()
	if len(tags) != 2 {
		t.Errorf("all tags = %v", tags)
	}

	recent, _ := index.GetRecent(1)
	if len(recent) != 1 || recent[0].Filename != f2 {
		t.Errorf("recent = %+v", recent)
	}

	if err := index.RemoveEntry(f1); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	all, _ := index.All()
	if len(all) != 1 {
		t.Errorf("after remove: %+v", all)
	}
}

func TestIndexSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "index.json")

	first := NewIndex(indexPath)
	w, err := NewWriter(dir, first, log.New(os.Stderr, "", 0))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.WriteEntry("director", []string{"x"}, "persisted", "body", domain.DecayFast); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	fresh := NewIndex(indexPath)
	all, err := fresh.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all[0].Summary != "persisted" {
		t.Errorf("reloaded index = %+v", all)
	}
}

func TestRetrievalRanking(t *testing.T) {
	_, index := newTestJournal(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	add := func(filename, summary string, tags []string, ageDays int, decay domain.DecayRate) {
		t.Helper()
		err := index.AddEntry(domain.JournalMeta{
			Filename:       filename,
			Title:          summary,
			Summary:        summary,
			Author:         "director",
			Tags:           tags,
			CreatedAt:      now.AddDate(0, 0, -ageDays).Format(domain.TimeFormat),
			RelevanceDecay: decay,
		})
		if err != nil {
			t.Fatalf("AddEntry: %v", err)
		}
	}
	add("e1.md", "build pipeline", []string{"build", "ops"}, 1, domain.DecayMedium)
	add("e2.md", "ops notes", []string{"ops"}, 30, domain.DecayFast)
	add("e3.md", "build retro", []string{"build"}, 365, domain.DecaySlow)

	r := NewRetriever(index)
	r.now = func() time.Time { return now }

	got, err := r.Retrieve([]string{"build"}, "", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Meta.Filename != "e1.md" || got[1].Meta.Filename != "e3.md" {
		t.Errorf("order = [%s %s], want [e1.md e3.md]", got[0].Meta.Filename, got[1].Meta.Filename)
	}

	// Full tag match gives relevance 1; combined = 0.6 + 0.4*recency.
	wantCombined := math.Round((0.6+0.4*math.Exp(-0.05*1))*10000) / 10000
	if got[0].Combined != wantCombined {
		t.Errorf("combined = %v, want %v", got[0].Combined, wantCombined)
	}
}

func TestRetrievalRecencyMonotonic(t *testing.T) {
	_, index := newTestJournal(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	for i, age := range []int{5, 4} {
		err := index.AddEntry(domain.JournalMeta{
			Filename:       []string{"older.md", "newer.md"}[i],
			Summary:        "identical summary",
			Tags:           []string{"same"},
			CreatedAt:      now.AddDate(0, 0, -age).Format(domain.TimeFormat),
			RelevanceDecay: domain.DecayMedium,
		})
		if err != nil {
			t.Fatalf("AddEntry: %v", err)
		}
	}

	r := NewRetriever(index)
	r.now = func() time.Time { return now }
	got, err := r.Retrieve([]string{"same"}, "", 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got[0].Meta.Filename != "newer.md" {
		t.Errorf("newer entry should rank first, got %s", got[0].Meta.Filename)
	}
	if got[0].Combined < got[1].Combined {
		t.Errorf("combined not monotonic in recency: %v < %v", got[0].Combined, got[1].Combined)
	}
}

func TestRetrievalBaselines(t *testing.T) {
	_, index := newTestJournal(t)
	err := index.AddEntry(domain.JournalMeta{
		Filename:       "nodate.md",
		Summary:        "no timestamp",
		CreatedAt:      "not-a-date",
		RelevanceDecay: domain.DecayMedium,
	})
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	r := NewRetriever(index)
	got, err := r.Retrieve(nil, "", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	// No query: relevance baseline 0.5. Bad timestamp: recency 0.5.
	if got[0].Relevance != 0.5 || got[0].Recency != 0.5 {
		t.Errorf("baselines = %v/%v, want 0.5/0.5", got[0].Relevance, got[0].Recency)
	}
	if got[0].Combined != 0.5 {
		t.Errorf("combined = %v, want 0.5", got[0].Combined)
	}
}

func TestGetRelatedEntries(t *testing.T) {
	_, index := newTestJournal(t)
	now := time.Now()
	for _, e := range []domain.JournalMeta{
		{Filename: "ref.md", Summary: "ref", Tags: []string{"build"}, CreatedAt: now.Format(domain.TimeFormat), RelevanceDecay: domain.DecayMedium},
		{Filename: "rel.md", Summary: "related", Tags: []string{"build"}, CreatedAt: now.Format(domain.TimeFormat), RelevanceDecay: domain.DecayMedium},
		{Filename: "other.md", Summary: "other", Tags: []string{"misc"}, CreatedAt: now.Format(domain.TimeFormat), RelevanceDecay: domain.DecayMedium},
	} {
		if err := index.AddEntry(e); err != nil {
			t.Fatalf("AddEntry: %v", err)
		}
	}

	r := NewRetriever(index)
	got, err := r.GetRelatedEntries("ref.md", 5)
	if err != nil {
		t.Fatalf("GetRelatedEntries: %v", err)
	}
	if len(got) != 1 || got[0].Meta.Filename != "rel.md" {
		t.Errorf("related = %+v, want only rel.md", got)
	}

	if _, err := r.GetRelatedEntries("missing.md", 5); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("kind = %q, want not_found", domain.KindOf(err))
	}
}
