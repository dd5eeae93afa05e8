package knowledge

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jaakkos/deskwork/internal/domain"
)

// StateProvider pulls discoveries and completed tasks from the shared
// state store without a direct dependency on the state package.
type StateProvider interface {
	Discoveries() []domain.Discovery
	CompletedTasks() []domain.Task
}

// IndexerConfig controls what and how content is indexed.
type IndexerConfig struct {
	Roots             []string // exploration roots, same set the Librarian walks
	Extensions        []string // with leading dots
	SkipDirs          []string
	MaxDepth          int
	WatchEnabled      bool
	StateSyncInterval time.Duration // default 60s
}

// Indexer scans the exploration roots and watches for file changes,
// keeping the content index current. It also periodically syncs
// discoveries and completed tasks from the state store.
type Indexer struct {
	store    *Store
	config   IndexerConfig
	state    StateProvider // may be nil
	logger   *log.Logger
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	debounce map[string]time.Time
}

// NewIndexer creates a new Indexer.
func NewIndexer(store *Store, config IndexerConfig, state StateProvider, logger *log.Logger) *Indexer {
	if config.MaxDepth <= 0 {
		config.MaxDepth = 6
	}
	return &Indexer{
		store:    store,
		config:   config,
		state:    state,
		logger:   logger,
		debounce: make(map[string]time.Time),
	}
}

// Start runs the indexer: full scan, then watch plus periodic state
// sync. Blocks until ctx is cancelled.
func (idx *Indexer) Start(ctx context.Context) {
	idx.logger.Println("knowledge indexer: starting full scan")
	start := time.Now()
	indexed, removed := idx.FullScan()
	idx.logger.Printf("knowledge indexer: full scan done in %s (indexed=%d, removed=%d)",
		time.Since(start).Round(time.Millisecond), indexed, removed)

	if idx.state != nil {
		idx.syncState()
	}

	if idx.config.WatchEnabled {
		if err := idx.startWatcher(ctx); err != nil {
			idx.logger.Printf("knowledge indexer: file watcher failed: %v", err)
		}
	}

	stateSyncInterval := idx.config.StateSyncInterval
	if stateSyncInterval <= 0 {
		stateSyncInterval = 60 * time.Second
	}
	stateTicker := time.NewTicker(stateSyncInterval)
	defer stateTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			idx.stopWatcher()
			idx.logger.Println("knowledge indexer: stopped")
			return
		case <-stateTicker.C:
			if idx.state != nil {
				idx.syncState()
			}
		}
	}
}

// RunOnce performs a one-shot full scan and state sync without watching.
func (idx *Indexer) RunOnce() (indexed, removed int) {
	indexed, removed = idx.FullScan()
	if idx.state != nil {
		idx.syncState()
	}
	return
}

// FullScan walks every root and indexes eligible files, removing entries
// for files that no longer exist.
func (idx *Indexer) FullScan() (indexed, removed int) {
	if len(idx.config.Roots) == 0 {
		return 0, 0
	}

	existingPaths, _ := idx.store.IndexedPaths()
	existing := make(map[string]bool, len(existingPaths))
	for _, p := range existingPaths {
		// File paths only; state references carry a colon prefix.
		if !strings.Contains(p, ":") {
			existing[p] = true
		}
	}

	seen := make(map[string]bool)

	for _, root := range idx.config.Roots {
		rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))

		walkFn := func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				base := filepath.Base(path)
				for _, skip := range idx.config.SkipDirs {
					if base == skip {
						return filepath.SkipDir
					}
				}
				if strings.HasPrefix(base, ".") && path != root {
					return filepath.SkipDir
				}
				depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
				if depth >= idx.config.MaxDepth {
					return filepath.SkipDir
				}
				return nil
			}

			if !ShouldIndex(path, idx.config.Extensions, idx.config.SkipDirs) {
				return nil
			}

			doc, err := ParseFile(path, root)
			if err != nil {
				idx.logger.Printf("knowledge indexer: parse error %s: %v", path, err)
				return nil
			}

			changed, err := idx.store.IndexIfChanged(doc)
			if err != nil {
				idx.logger.Printf("knowledge indexer: index error %s: %v", path, err)
				return nil
			}

			seen[doc.Path] = true
			if changed {
				indexed++
			}
			return nil
		}

		if err := filepath.Walk(root, walkFn); err != nil {
			idx.logger.Printf("knowledge indexer: walk error: %v", err)
		}
	}

	for p := range existing {
		if !seen[p] {
			if err := idx.store.Remove(p); err != nil {
				idx.logger.Printf("knowledge indexer: remove error %s: %v", p, err)
			} else {
				removed++
			}
		}
	}

	return indexed, removed
}

// syncState indexes discoveries and completed tasks from the state store.
func (idx *Indexer) syncState() {
	for _, d := range idx.state.Discoveries() {
		doc := FormatDiscovery(d.ID, d.Agent, d.DiscoveryType, d.Description, d.Details)
		if _, err := idx.store.IndexIfChanged(doc); err != nil {
			idx.logger.Printf("knowledge indexer: discovery index error %s: %v", d.ID, err)
		}
	}
	for _, t := range idx.state.CompletedTasks() {
		doc := FormatTaskSummary(t.ID, t.Title, t.Description, t.Owner)
		if _, err := idx.store.IndexIfChanged(doc); err != nil {
			idx.logger.Printf("knowledge indexer: task index error %s: %v", t.ID, err)
		}
	}
}

// startWatcher sets up fsnotify watching on the roots and their
// immediate subdirectories.
func (idx *Indexer) startWatcher(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	idx.watcher = w

	for _, root := range idx.config.Roots {
		if err := w.Add(root); err != nil {
			idx.logger.Printf("knowledge indexer: watch root %s: %v", root, err)
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			skipped := false
			for _, skip := range idx.config.SkipDirs {
				if entry.Name() == skip {
					skipped = true
					break
				}
			}
			if !skipped {
				_ = w.Add(filepath.Join(root, entry.Name()))
			}
		}
	}

	go idx.watchLoop(ctx)
	return nil
}

// watchLoop processes fsnotify events with a per-path debounce.
func (idx *Indexer) watchLoop(ctx context.Context) {
	const debounceWindow = 2 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-idx.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			path := event.Name
			if !ShouldIndex(path, idx.config.Extensions, idx.config.SkipDirs) {
				continue
			}

			idx.mu.Lock()
			if last, ok := idx.debounce[path]; ok && time.Since(last) < debounceWindow {
				idx.mu.Unlock()
				continue
			}
			idx.debounce[path] = time.Now()
			idx.mu.Unlock()

			root := idx.rootFor(path)

			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				relPath, err := filepath.Rel(root, path)
				if err != nil {
					relPath = path
				}
				if err := idx.store.Remove(relPath); err != nil {
					idx.logger.Printf("knowledge indexer: remove on delete %s: %v", relPath, err)
				}
				continue
			}

			doc, err := ParseFile(path, root)
			if err != nil {
				continue
			}
			if changed, err := idx.store.IndexIfChanged(doc); err != nil {
				idx.logger.Printf("knowledge indexer: re-index %s: %v", doc.Path, err)
			} else if changed {
				idx.logger.Printf("knowledge indexer: re-indexed %s", doc.Path)
			}

		case err, ok := <-idx.watcher.Errors:
			if !ok {
				return
			}
			idx.logger.Printf("knowledge indexer: watcher error: %v", err)
		}
	}
}

// rootFor returns the configured root containing path, defaulting to the
// first root.
func (idx *Indexer) rootFor(path string) string {
	for _, root := range idx.config.Roots {
		if strings.HasPrefix(path, filepath.Clean(root)+string(filepath.Separator)) {
			return root
		}
	}
	if len(idx.config.Roots) > 0 {
		return idx.config.Roots[0]
	}
	return "."
}

// stopWatcher closes the fsnotify watcher if active.
func (idx *Indexer) stopWatcher() {
	if idx.watcher != nil {
		idx.watcher.Close()
	}
}
