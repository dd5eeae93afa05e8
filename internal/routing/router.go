// Package routing builds a searchable index of code symbols (routes) from
// the files in the state store's file index. Go sources are parsed with
// the standard AST; Python, JavaScript, TypeScript, and Java use line
// regexes.
package routing

import (
	"log"
	"os"

	"github.com/jaakkos/deskwork/internal/domain"
	"github.com/jaakkos/deskwork/internal/state"
)

// routableExtensions are the extensions the router knows how to parse.
var routableExtensions = []string{"py", "js", "ts", "go", "java"}

// Router extracts routes from indexed source files and persists them.
type Router struct {
	store  *state.Store
	logger *log.Logger
}

func New(store *state.Store, logger *log.Logger) *Router {
	return &Router{store: store, logger: logger}
}

// BuildRoutingSystem re-extracts routes for every routable file in the
// file index. Per file, existing routes are cleared before re-insertion,
// so repeated builds converge to the same route set. Returns the number
// of routes written; unreadable files are logged and skipped.
func (r *Router) BuildRoutingSystem() (int, error) {
	total := 0
	for _, ext := range routableExtensions {
		files, err := r.store.SearchFileIndex(ext, nil, "", 10000)
		if err != nil {
			return total, err
		}
		for _, f := range files {
			n, err := r.IndexFile(f.Path)
			if err != nil {
				if r.logger != nil {
					r.logger.Printf("routing: skip %s: %v", f.Path, err)
				}
				continue
			}
			total += n
		}
	}
	if r.logger != nil {
		r.logger.Printf("routing: build complete, %d routes", total)
	}
	return total, nil
}

// IndexFile replaces the stored routes for one file with a fresh
// extraction. Returns the number of routes written.
func (r *Router) IndexFile(path string) (int, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return 0, domain.E(domain.KindNotFound, "routing.index", err)
	}
	routes := extractRoutes(path, src)
	if _, err := r.store.ClearRoutesForFile(path); err != nil {
		return 0, err
	}
	for i := range routes {
		if err := r.store.AddCodeRoute(&routes[i]); err != nil {
			return 0, err
		}
	}
	return len(routes), nil
}

// SearchRoutes finds routes whose name, keywords, or docstring match the
// query, newest-indexed-first. routeType optionally narrows by type.
func (r *Router) SearchRoutes(query, routeType string, limit int) ([]domain.CodeRoute, error) {
	return r.store.SearchCodeRoutes(query, routeType, limit)
}
