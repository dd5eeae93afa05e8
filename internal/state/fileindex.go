package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/deskwork/internal/domain"
)

// AddFileToIndex upserts a file by its unique path. The row id of an
// existing entry is preserved; re-indexing never creates duplicates.
func (s *Store) AddFileToIndex(e *domain.FileIndexEntry) error {
	if e.Path == "" {
		return domain.Errorf(domain.KindInvalidInput, "state.add_file", "path is required")
	}
	_, err := s.db.Exec(`INSERT INTO file_index (path, extension, size, modified_at, indexed_at, summary, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			extension = excluded.extension,
			size = excluded.size,
			modified_at = excluded.modified_at,
			indexed_at = excluded.indexed_at,
			summary = excluded.summary,
			tags = excluded.tags`,
		e.Path, e.Extension, e.Size,
		e.ModifiedAt.UTC().Format(time.RFC3339Nano),
		now(), e.Summary, encodeJSON(e.Tags, "[]"))
	if err != nil {
		return fmt.Errorf("add file to index: %w", err)
	}
	return nil
}

// GetFileByPath fetches one file index entry.
func (s *Store) GetFileByPath(path string) (*domain.FileIndexEntry, error) {
	row := s.db.QueryRow(`SELECT id, path, extension, size, modified_at, indexed_at, summary, tags
		FROM file_index WHERE path = ?`, path)
	e, err := scanFileEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "state.get_file", "file %s not indexed", path)
	}
	return e, err
}

// SearchFileIndex filters the file index. extension matches exactly (with
// or without leading dot); tags match on any overlap; pathPattern is a SQL
// LIKE glob. Results are newest-indexed-first up to limit.
func (s *Store) SearchFileIndex(extension string, tags []string, pathPattern string, limit int) ([]domain.FileIndexEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, path, extension, size, modified_at, indexed_at, summary, tags FROM file_index`
	var conds []string
	var args []any
	if extension != "" {
		if !strings.HasPrefix(extension, ".") {
			extension = "." + extension
		}
		conds = append(conds, "extension = ?")
		args = append(args, extension)
	}
	if pathPattern != "" {
		conds = append(conds, "path LIKE ?")
		args = append(args, pathPattern)
	}
	if len(tags) > 0 {
		// Tags are stored as a JSON array; any-overlap via per-tag LIKE.
		var tagConds []string
		for _, tag := range tags {
			tagConds = append(tagConds, "tags LIKE ?")
			args = append(args, `%"`+tag+`"%`)
		}
		conds = append(conds, "("+strings.Join(tagConds, " OR ")+")")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY indexed_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search file index: %w", err)
	}
	defer rows.Close()

	var entries []domain.FileIndexEntry
	for rows.Next() {
		e, err := scanFileEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// FileIndexStats returns the number of indexed files per extension.
func (s *Store) FileIndexStats() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT extension, COUNT(*) FROM file_index GROUP BY extension`)
	if err != nil {
		return nil, fmt.Errorf("file index stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var ext string
		var n int
		if err := rows.Scan(&ext, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[ext] = n
	}
	return stats, rows.Err()
}

func scanFileEntry(row rowScanner) (*domain.FileIndexEntry, error) {
	var e domain.FileIndexEntry
	var modifiedAt, indexedAt, tags string
	if err := row.Scan(&e.ID, &e.Path, &e.Extension, &e.Size, &modifiedAt, &indexedAt, &e.Summary, &tags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan file entry: %w", err)
	}
	var err error
	if e.ModifiedAt, err = parseTime(modifiedAt, "file modified_at"); err != nil {
		return nil, err
	}
	if e.IndexedAt, err = parseTime(indexedAt, "file indexed_at"); err != nil {
		return nil, err
	}
	if err := parseJSON([]byte(tags), &e.Tags, "file tags"); err != nil {
		return nil, err
	}
	return &e, nil
}

// ClearRoutesForFile removes every route for a file and returns how many
// were removed. Callers re-inserting routes clear first so a re-index
// replaces the file's routes as a unit.
func (s *Store) ClearRoutesForFile(path string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM code_routes WHERE file_path = ?`, path)
	if err != nil {
		return 0, fmt.Errorf("clear routes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AddCodeRoute inserts one extracted route.
func (s *Store) AddCodeRoute(r *domain.CodeRoute) error {
	if r.FilePath == "" || r.Name == "" {
		return domain.Errorf(domain.KindInvalidInput, "state.add_route", "file_path and name are required")
	}
	_, err := s.db.Exec(`INSERT INTO code_routes (file_path, route_type, name, line_number, signature, docstring, keywords, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.FilePath, r.RouteType, r.Name, r.LineNumber, r.Signature, r.Docstring,
		encodeJSON(r.Keywords, "[]"), now())
	if err != nil {
		return fmt.Errorf("add code route: %w", err)
	}
	return nil
}

// SearchCodeRoutes matches query as a substring of the route name,
// keywords, or docstring, newest-indexed-first.
func (s *Store) SearchCodeRoutes(query, routeType string, limit int) ([]domain.CodeRoute, error) {
	if limit <= 0 {
		limit = 50
	}
	sqlQuery := `SELECT id, file_path, route_type, name, line_number, signature, docstring, keywords, indexed_at
		FROM code_routes
		WHERE (name LIKE ? OR keywords LIKE ? OR docstring LIKE ?)`
	pattern := "%" + query + "%"
	args := []any{pattern, pattern, pattern}
	if routeType != "" {
		sqlQuery += " AND route_type = ?"
		args = append(args, routeType)
	}
	sqlQuery += " ORDER BY indexed_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search code routes: %w", err)
	}
	defer rows.Close()
	return scanRoutes(rows)
}

// GetRoutesForFile returns a file's routes ordered by line number.
func (s *Store) GetRoutesForFile(path string) ([]domain.CodeRoute, error) {
	rows, err := s.db.Query(`SELECT id, file_path, route_type, name, line_number, signature, docstring, keywords, indexed_at
		FROM code_routes WHERE file_path = ? ORDER BY line_number ASC`, path)
	if err != nil {
		return nil, fmt.Errorf("get routes for file: %w", err)
	}
	defer rows.Close()
	return scanRoutes(rows)
}

func scanRoutes(rows *sql.Rows) ([]domain.CodeRoute, error) {
	var routes []domain.CodeRoute
	for rows.Next() {
		var r domain.CodeRoute
		var keywords, indexedAt string
		if err := rows.Scan(&r.ID, &r.FilePath, &r.RouteType, &r.Name, &r.LineNumber,
			&r.Signature, &r.Docstring, &keywords, &indexedAt); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		var err error
		if r.IndexedAt, err = parseTime(indexedAt, "route indexed_at"); err != nil {
			return nil, err
		}
		if err := parseJSON([]byte(keywords), &r.Keywords, "route keywords"); err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}
