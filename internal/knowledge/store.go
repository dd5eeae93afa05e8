// Package knowledge provides the Librarian's FTS5 content index over
// explored workspace files. It complements the state store's file index
// (names, extensions, tags) with full-text search over file contents,
// plus indexed summaries of shared discoveries and completed tasks.
//
// The index lives in its own knowledge.db rather than the main state.db
// so content blobs never bloat the shared relational store. Updates are
// incremental, guarded by content checksums.
package knowledge

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Document is one piece of indexed content: a workspace file or a state
// reference such as "discovery:ab12" or "task:cd34".
type Document struct {
	Path     string
	Title    string
	Content  string
	Category string // "python", "javascript", "typescript", "go_source", "java", "markdown", "config", "discovery", "task_summary"
}

// Result is one full-text match.
type Result struct {
	Path     string  `json:"path"`
	Title    string  `json:"title"`
	Snippet  string  `json:"snippet"`
	Category string  `json:"category"`
	Rank     float64 `json:"rank"`
}

// content holds the searchable text; content_meta carries the checksum
// that IndexIfChanged compares against so unchanged files are skipped.
const contentSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS content USING fts5(
	path,
	title,
	body,
	category,
	tokenize='porter unicode61'
);

CREATE TABLE IF NOT EXISTS content_meta (
	path TEXT PRIMARY KEY,
	mod_time TEXT,
	checksum TEXT,
	indexed_at TEXT
);
`

// Store wraps the knowledge database.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// NewStore opens (or creates) a knowledge database at the given path.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create knowledge db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}

	if _, err := db.Exec(contentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init knowledge schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Index inserts or replaces a document in the FTS index.
func (s *Store) Index(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM content WHERE path = ?`, doc.Path); err != nil {
			return fmt.Errorf("clear old content: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO content (path, title, body, category) VALUES (?, ?, ?, ?)`,
			doc.Path, doc.Title, doc.Content, doc.Category,
		); err != nil {
			return fmt.Errorf("insert content: %w", err)
		}
		stamp := time.Now().UTC().Format(time.RFC3339)
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO content_meta (path, mod_time, checksum, indexed_at) VALUES (?, ?, ?, ?)`,
			doc.Path, stamp, contentDigest(doc.Content), stamp,
		); err != nil {
			return fmt.Errorf("upsert content_meta: %w", err)
		}
		return nil
	})
}

// IndexIfChanged indexes a document only if its content checksum differs
// from the stored one. Returns true if the document was (re)indexed.
func (s *Store) IndexIfChanged(doc Document) (bool, error) {
	digest := contentDigest(doc.Content)

	s.mu.RLock()
	var stored string
	err := s.db.QueryRow(`SELECT checksum FROM content_meta WHERE path = ?`, doc.Path).Scan(&stored)
	s.mu.RUnlock()

	if err == nil && stored == digest {
		return false, nil
	}

	if err := s.Index(doc); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes a document from the index and metadata.
func (s *Store) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM content WHERE path = ?`, path); err != nil {
			return fmt.Errorf("delete content: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM content_meta WHERE path = ?`, path); err != nil {
			return fmt.Errorf("delete content_meta: %w", err)
		}
		return nil
	})
}

// RemoveByPrefix removes all documents whose path starts with prefix.
// Used when a watched root is dropped from the exploration config.
func (s *Store) RemoveByPrefix(prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Half-open range covering every path under the prefix.
	lo, hi := prefix, prefix+"\xff"

	var removed int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM content WHERE path >= ? AND path < ?`, lo, hi)
		if err != nil {
			return fmt.Errorf("delete content: %w", err)
		}
		removed, _ = res.RowsAffected()
		if _, err := tx.Exec(`DELETE FROM content_meta WHERE path >= ? AND path < ?`, lo, hi); err != nil {
			return fmt.Errorf("delete content_meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// Query searches the index with FTS5 MATCH, sanitizing the input to
// implicit-AND tokens. Returns up to limit results by relevance rank.
func (s *Store) Query(query string, category string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlQuery := `SELECT path, title, snippet(content, 2, '[', ']', '...', 40), category, rank
		FROM content
		WHERE content MATCH ?`
	args := []any{ftsQuery}
	if category != "" {
		sqlQuery += " AND category = ?"
		args = append(args, category)
	}
	sqlQuery += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Path, &r.Title, &r.Snippet, &r.Category, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// IndexedPaths returns all paths currently in the index.
func (s *Store) IndexedPaths() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT path FROM content_meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Stats returns the total document count and a per-category breakdown.
func (s *Store) Stats() (total int, byCategory map[string]int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byCategory = make(map[string]int)

	rows, err := s.db.Query(`SELECT category, COUNT(*) FROM content GROUP BY category`)
	if err != nil {
		_ = s.db.QueryRow(`SELECT COUNT(*) FROM content_meta`).Scan(&total)
		return total, byCategory, nil
	}
	defer rows.Close()

	for rows.Next() {
		var cat string
		var count int
		if err := rows.Scan(&cat, &count); err != nil {
			continue
		}
		byCategory[cat] = count
		total += count
	}
	return total, byCategory, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on nil error. Callers
// hold the store lock.
func (s *Store) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ftsSpecials are the FTS5 operator characters stripped before a MATCH.
const ftsSpecials = `"'()*:^{}`

// sanitizeFTSQuery reduces a natural language query to bare tokens that
// FTS5 joins with implicit AND. Operator characters and the reserved
// boolean keywords are dropped.
func sanitizeFTSQuery(q string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(ftsSpecials, r) {
			return -1
		}
		return r
	}, q)

	var tokens []string
	for _, w := range strings.Fields(cleaned) {
		switch w {
		case "AND", "OR", "NOT", "NEAR":
			continue
		}
		tokens = append(tokens, w)
	}
	return strings.Join(tokens, " ")
}

// contentDigest computes the SHA-256 hex digest stored in content_meta.
func contentDigest(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
