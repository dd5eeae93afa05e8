package journal

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jaakkos/deskwork/internal/domain"
)

// indexFile is the on-disk shape of journal/index.json.
type indexFile struct {
	Entries   []domain.JournalMeta `json:"entries"`
	UpdatedAt string               `json:"updated_at"`
	Count     int                  `json:"count"`
}

// Index mirrors entry headers so search never scans entry bodies. Loaded
// lazily, persisted by atomic rename after every mutation.
type Index struct {
	path string

	mu      sync.Mutex
	loaded  bool
	entries []domain.JournalMeta // insertion order preserved
}

// NewIndex creates an index handle for the given index.json path.
func NewIndex(path string) *Index {
	return &Index{path: path}
}

// load reads the index file if not yet loaded. A missing file is an empty
// index; malformed JSON is corrupt state.
func (ix *Index) load() error {
	if ix.loaded {
		return nil
	}
	data, err := os.ReadFile(ix.path)
	if errors.Is(err, fs.ErrNotExist) {
		ix.loaded = true
		return nil
	}
	if err != nil {
		return domain.E(domain.KindStoreUnavailable, "journal.index", err)
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.E(domain.KindCorruptState, "journal.index", err)
	}
	ix.entries = f.Entries
	ix.loaded = true
	return nil
}

func (ix *Index) save() error {
	f := indexFile{
		Entries:   ix.entries,
		UpdatedAt: time.Now().Format(domain.TimeFormat),
		Count:     len(ix.entries),
	}
	if f.Entries == nil {
		f.Entries = []domain.JournalMeta{}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return domain.E(domain.KindStoreUnavailable, "journal.index", err)
	}
	tmp := ix.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return domain.E(domain.KindStoreUnavailable, "journal.index", err)
	}
	if err := os.Rename(tmp, ix.path); err != nil {
		return domain.E(domain.KindStoreUnavailable, "journal.index", err)
	}
	return nil
}

// Reload discards the in-memory copy so the next operation re-reads the
// file. Used when another process may have written entries.
func (ix *Index) Reload() {
	ix.mu.Lock()
	ix.loaded = false
	ix.entries = nil
	ix.mu.Unlock()
}

// AddEntry upserts by filename and persists.
func (ix *Index) AddEntry(meta domain.JournalMeta) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.load(); err != nil {
		return err
	}
	replaced := false
	for i := range ix.entries {
		if ix.entries[i].Filename == meta.Filename {
			ix.entries[i] = meta
			replaced = true
			break
		}
	}
	if !replaced {
		ix.entries = append(ix.entries, meta)
	}
	return ix.save()
}

// RemoveEntry drops an entry by filename and persists. Unknown filenames
// are a no-op.
func (ix *Index) RemoveEntry(filename string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.load(); err != nil {
		return err
	}
	kept := ix.entries[:0]
	removed := false
	for _, e := range ix.entries {
		if e.Filename == filename {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return nil
	}
	ix.entries = kept
	return ix.save()
}

// Get returns the entry with the given filename, or nil.
func (ix *Index) Get(filename string) (*domain.JournalMeta, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.load(); err != nil {
		return nil, err
	}
	for i := range ix.entries {
		if ix.entries[i].Filename == filename {
			e := ix.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

// All returns every entry in insertion order.
func (ix *Index) All() ([]domain.JournalMeta, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.load(); err != nil {
		return nil, err
	}
	out := make([]domain.JournalMeta, len(ix.entries))
	copy(out, ix.entries)
	return out, nil
}

// Search filters entries. With tags, an entry must share at least one tag
// with the query; with keywords, at least one space-split token must
// substring-match the lowercased summary or the lowercased joined tags.
// Both filters apply when both inputs are given.
func (ix *Index) Search(tags []string, keywords string) ([]domain.JournalMeta, error) {
	all, err := ix.All()
	if err != nil {
		return nil, err
	}
	var out []domain.JournalMeta
	for _, e := range all {
		if len(tags) > 0 && !anyTagOverlap(e.Tags, tags) {
			continue
		}
		if keywords != "" && !keywordMatch(e, keywords) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// GetByDateRange returns entries with from <= created_at <= to
// (lexicographic on the canonical timestamp format).
func (ix *Index) GetByDateRange(from, to string) ([]domain.JournalMeta, error) {
	all, err := ix.All()
	if err != nil {
		return nil, err
	}
	var out []domain.JournalMeta
	for _, e := range all {
		if (from == "" || e.CreatedAt >= from) && (to == "" || e.CreatedAt <= to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetByAuthor returns entries written by author.
func (ix *Index) GetByAuthor(author string) ([]domain.JournalMeta, error) {
	all, err := ix.All()
	if err != nil {
		return nil, err
	}
	var out []domain.JournalMeta
	for _, e := range all {
		if e.Author == author {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetAllTags returns the distinct tags across all entries, first-seen
// order.
func (ix *Index) GetAllTags() ([]string, error) {
	all, err := ix.All()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range all {
		for _, tag := range e.Tags {
			if !seen[tag] {
				seen[tag] = true
				out = append(out, tag)
			}
		}
	}
	return out, nil
}

// GetRecent returns the newest entries by created_at.
func (ix *Index) GetRecent(limit int) ([]domain.JournalMeta, error) {
	all, err := ix.All()
	if err != nil {
		return nil, err
	}
	// Insertion order is creation order for entries written by this
	// process; sort by timestamp to cover externally added entries.
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt > all[j].CreatedAt })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func anyTagOverlap(entryTags, queryTags []string) bool {
	for _, q := range queryTags {
		for _, t := range entryTags {
			if t == q {
				return true
			}
		}
	}
	return false
}

func keywordMatch(e domain.JournalMeta, keywords string) bool {
	summary := strings.ToLower(e.Summary)
	joined := strings.ToLower(strings.Join(e.Tags, " "))
	for _, token := range strings.Fields(strings.ToLower(keywords)) {
		if strings.Contains(summary, token) || strings.Contains(joined, token) {
			return true
		}
	}
	return false
}
