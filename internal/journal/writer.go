// Package journal implements the write-once markdown journal: entries on
// disk with a YAML-like header, a JSON index mirroring the headers, and
// ranked retrieval combining lexical relevance with per-entry time decay.
package journal

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jaakkos/deskwork/internal/domain"
)

const maxSlugLen = 50

var (
	spaceRe    = regexp.MustCompile(`[\s_]+`)
	invalidRe  = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRe   = regexp.MustCompile(`-+`)
	filenameRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}_.+\.md$`)
)

// Slugify turns free text into a filename-safe slug: lowercase, whitespace
// and underscores to hyphens, everything else outside [a-z0-9-] dropped,
// hyphen runs collapsed, trimmed, at most 50 chars. Empty input becomes
// "untitled".
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = spaceRe.ReplaceAllString(s, "-")
	s = invalidRe.ReplaceAllString(s, "")
	s = hyphenRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
		s = strings.TrimRight(s, "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// Writer creates journal entries and keeps the index in sync.
type Writer struct {
	dir    string
	index  *Index
	logger *log.Logger
	now    func() time.Time // test hook
}

// NewWriter creates the journal directory if needed.
func NewWriter(dir string, index *Index, logger *log.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "journal.new", err)
	}
	return &Writer{dir: dir, index: index, logger: logger, now: time.Now}, nil
}

// Dir returns the journal directory.
func (w *Writer) Dir() string { return w.dir }

// WriteEntry writes one entry (header plus body, atomically) and upserts
// its metadata into the index. Returns the entry filename.
func (w *Writer) WriteEntry(author string, tags []string, summary, content string, decay domain.DecayRate) (string, error) {
	if summary == "" && content == "" {
		return "", domain.Errorf(domain.KindInvalidInput, "journal.write", "empty entry")
	}
	switch decay {
	case domain.DecayFast, domain.DecayMedium, domain.DecaySlow:
	case "":
		decay = domain.DecayMedium
	default:
		return "", domain.Errorf(domain.KindInvalidInput, "journal.write", "unknown decay %q", decay)
	}

	ts := w.now()
	filename := fmt.Sprintf("%s_%s.md", ts.Format("2006-01-02_15-04-05"), Slugify(summary))
	meta := domain.JournalMeta{
		Filename:       filename,
		Title:          summary,
		Author:         author,
		Tags:           tags,
		Summary:        summary,
		CreatedAt:      ts.Format(domain.TimeFormat),
		RelevanceDecay: decay,
	}

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: %q\n", meta.Title)
	fmt.Fprintf(&b, "author: %s\n", meta.Author)
	fmt.Fprintf(&b, "created_at: %s\n", meta.CreatedAt)
	fmt.Fprintf(&b, "relevance_decay: %s\n", meta.RelevanceDecay)
	b.WriteString("tags:\n")
	for _, tag := range tags {
		fmt.Fprintf(&b, "  - %s\n", tag)
	}
	b.WriteString("---\n\n")
	b.WriteString(content)
	b.WriteString("\n")

	path := filepath.Join(w.dir, filename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return "", domain.E(domain.KindStoreUnavailable, "journal.write", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", domain.E(domain.KindStoreUnavailable, "journal.write", err)
	}

	if err := w.index.AddEntry(meta); err != nil {
		return "", err
	}
	if w.logger != nil {
		w.logger.Printf("journal: wrote %s (%d tags)", filename, len(tags))
	}
	return filename, nil
}

// ReadEntry parses an entry's header and body. The header is line-oriented:
// scalar fields are "key: value" with optional double quotes, tags are
// "  - value" lines following a "tags:" marker.
func ReadEntry(path string) (*domain.JournalMeta, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", domain.E(domain.KindNotFound, "journal.read", err)
		}
		return nil, "", domain.E(domain.KindStoreUnavailable, "journal.read", err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, "", domain.Errorf(domain.KindCorruptState, "journal.read", "%s: missing header fence", path)
	}

	meta := domain.JournalMeta{Filename: filepath.Base(path)}
	inTags := false
	end := -1
	for i := 1; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "---" {
			end = i
			break
		}
		if strings.HasPrefix(line, "  - ") {
			if inTags {
				meta.Tags = append(meta.Tags, strings.TrimSpace(line[4:]))
			}
			continue
		}
		inTags = false
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"`)
		switch key {
		case "title":
			meta.Title = value
		case "author":
			meta.Author = value
		case "created_at":
			meta.CreatedAt = value
		case "relevance_decay":
			meta.RelevanceDecay = domain.DecayRate(value)
		case "tags":
			inTags = true
		}
	}
	if end < 0 {
		return nil, "", domain.Errorf(domain.KindCorruptState, "journal.read", "%s: unterminated header", path)
	}
	meta.Summary = meta.Title

	content := strings.TrimSpace(strings.Join(lines[end+1:], "\n"))
	return &meta, content, nil
}

// IsEntryFilename reports whether name looks like a journal entry file.
func IsEntryFilename(name string) bool {
	return filenameRe.MatchString(name)
}
