package bus

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	watchDebounce     = 200 * time.Millisecond
	watchPollInterval = 10 * time.Second
)

// Watcher wakes an agent loop as soon as another process writes the bus
// file, instead of waiting out the full poll tick. Falls back to a slow
// poll when fsnotify is unavailable. Wakes are level-triggered: the channel
// holds at most one pending wake.
type Watcher struct {
	busPath string
	logger  *log.Logger

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	mu            sync.Mutex
	debounceTimer *time.Timer
	watcher       *fsnotify.Watcher
	useFsnotify   bool
}

// NewWatcher creates a watcher for the bus file at busPath.
func NewWatcher(busPath string, logger *log.Logger) *Watcher {
	return &Watcher{
		busPath: busPath,
		logger:  logger,
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Wake returns the channel that receives a signal after bus writes.
func (w *Watcher) Wake() <-chan struct{} { return w.wakeCh }

// Start watches until ctx is cancelled. The bus file is replaced by rename
// on every write, so the watch is on the parent directory.
func (w *Watcher) Start(ctx context.Context) {
	defer close(w.doneCh)

	watchDir := filepath.Dir(w.busPath)
	busName := filepath.Base(w.busPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Printf("bus watcher: fsnotify init failed (%v), using poll-only", err)
	} else {
		w.watcher = watcher
		w.useFsnotify = true
		if err := watcher.Add(watchDir); err != nil {
			w.logger.Printf("bus watcher: fsnotify add %s failed (%v), using poll-only", watchDir, err)
			_ = watcher.Close()
			w.watcher = nil
			w.useFsnotify = false
		}
	}

	if w.useFsnotify {
		defer w.watcher.Close()
		go w.watchLoop(ctx, busName)
	}

	w.pollLoop(ctx)
}

// Stop signals the watcher to stop. Call after cancelling the Start
// context.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) watchLoop(ctx context.Context, busName string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != busName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.triggerDebounced()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) triggerDebounced() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(watchDebounce, w.wake)
}

func (w *Watcher) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.wake()
		}
	}
}
