// Package bus implements the durable file-backed message bus the three
// peer agents coordinate through. One JSON file holds every message;
// mutual exclusion is a flock on a sidecar lock file, so any local process
// (agent loop, CLI, MCP tool) can participate.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jaakkos/deskwork/internal/domain"
)

const (
	// lockRetryWindow bounds how long Send and friends wait for the
	// advisory lock before failing with StoreUnavailable.
	lockRetryWindow = 5 * time.Second
	lockRetryStep   = 50 * time.Millisecond

	// DefaultPollInterval is the wait_for_response poll cadence.
	DefaultPollInterval = 500 * time.Millisecond
)

// busFile is the on-disk shape: {"messages": [...], "created_at": "..."}.
// Unknown top-level fields written by other tools are carried through.
type busFile struct {
	Messages  []domain.Message           `json:"messages"`
	CreatedAt string                     `json:"created_at"`
	Extra     map[string]json.RawMessage `json:"-"`
}

func (f busFile) MarshalJSON() ([]byte, error) {
	type alias busFile
	known, err := json.Marshal(alias(f))
	if err != nil {
		return nil, err
	}
	if len(f.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(f.Extra)+2)
	for k, v := range f.Extra {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (f *busFile) UnmarshalJSON(data []byte) error {
	type alias busFile
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = busFile(a)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "messages")
	delete(raw, "created_at")
	if len(raw) > 0 {
		f.Extra = raw
	}
	return nil
}

// Bus is a handle on the shared message file. Safe for concurrent use; the
// in-process mutex avoids self-contention on the flock.
type Bus struct {
	path   string
	logger *log.Logger
	mu     sync.Mutex
	now    func() time.Time // test hook
}

// New opens (creating if necessary) the bus file at path.
func New(path string, logger *log.Logger) (*Bus, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "bus.new", err)
	}
	b := &Bus{path: path, logger: logger, now: time.Now}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		empty := busFile{Messages: []domain.Message{}, CreatedAt: b.now().Format(domain.TimeFormat)}
		if err := b.writeFile(&empty); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "bus.new", err)
	}
	return b, nil
}

// Path returns the bus file path.
func (b *Bus) Path() string { return b.path }

// NewMessageID returns a fresh opaque message id.
func NewMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Send appends a message. If replyTo is set and the referenced message
// exists, the new message joins its thread; otherwise it starts a new
// thread rooted at itself.
func (b *Bus) Send(from, to, msgType, subject, body string, priority domain.Priority, replyTo string) (string, error) {
	if from == "" || to == "" {
		return "", domain.Errorf(domain.KindInvalidInput, "bus.send", "from and to are required")
	}
	if !priority.Valid() {
		priority = domain.PriorityMedium
	}
	if len(subject) > 120 {
		subject = subject[:120]
	}

	id := NewMessageID()
	err := b.locked("bus.send", func(f *busFile) (bool, error) {
		threadID := id
		if replyTo != "" {
			for i := range f.Messages {
				if f.Messages[i].ID == replyTo {
					threadID = f.Messages[i].ThreadID
					break
				}
			}
		}
		f.Messages = append(f.Messages, domain.Message{
			ID:        id,
			From:      from,
			To:        to,
			Type:      msgType,
			Subject:   subject,
			Body:      body,
			Priority:  priority,
			Timestamp: b.now().Format(domain.TimeFormat),
			ThreadID:  threadID,
			ReplyTo:   replyTo,
		})
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetPending returns unread messages addressed to agent, highest priority
// first, oldest first within a priority.
func (b *Bus) GetPending(agent string) ([]domain.Message, error) {
	var pending []domain.Message
	err := b.locked("bus.get_pending", func(f *busFile) (bool, error) {
		for _, m := range f.Messages {
			if m.To == agent && !m.Read {
				pending = append(pending, m)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(pending, func(i, j int) bool {
		ri, rj := pending[i].Priority.Rank(), pending[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return pending[i].Timestamp < pending[j].Timestamp
	})
	return pending, nil
}

// MarkRead marks a message read and stamps read_at. Idempotent; marking an
// already-read message changes nothing.
func (b *Bus) MarkRead(msgID string) error {
	return b.locked("bus.mark_read", func(f *busFile) (bool, error) {
		for i := range f.Messages {
			if f.Messages[i].ID != msgID {
				continue
			}
			if f.Messages[i].Read {
				return false, nil
			}
			f.Messages[i].Read = true
			f.Messages[i].ReadAt = b.now().Format(domain.TimeFormat)
			return true, nil
		}
		return false, domain.Errorf(domain.KindNotFound, "bus.mark_read", "message %s not found", msgID)
	})
}

// GetThread returns every message sharing a thread with msgID, oldest
// first. Unknown ids yield an empty slice.
func (b *Bus) GetThread(msgID string) ([]domain.Message, error) {
	var thread []domain.Message
	err := b.locked("bus.get_thread", func(f *busFile) (bool, error) {
		threadID := ""
		for i := range f.Messages {
			if f.Messages[i].ID == msgID {
				threadID = f.Messages[i].ThreadID
				break
			}
		}
		if threadID == "" {
			return false, nil
		}
		for _, m := range f.Messages {
			if m.ThreadID == threadID {
				thread = append(thread, m)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(thread, func(i, j int) bool {
		return thread[i].Timestamp < thread[j].Timestamp
	})
	return thread, nil
}

// WaitForResponse polls for the first unread message to agent whose
// reply_to equals requestID. The match is marked read before returning so
// the agent loop does not dispatch it twice. Returns nil (and no error)
// when the timeout elapses. The lock is never held across a poll sleep.
func (b *Bus) WaitForResponse(agent, requestID string, timeout, pollInterval time.Duration) (*domain.Message, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	for {
		pending, err := b.GetPending(agent)
		if err != nil {
			return nil, err
		}
		for i := range pending {
			if pending[i].ReplyTo == requestID {
				if err := b.MarkRead(pending[i].ID); err != nil {
					return nil, err
				}
				m := pending[i]
				return &m, nil
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if remaining < pollInterval {
			time.Sleep(remaining)
		} else {
			time.Sleep(pollInterval)
		}
	}
}

// Cleanup removes messages older than the given number of days and returns
// how many were removed.
func (b *Bus) Cleanup(days int) (int, error) {
	cutoff := b.now().AddDate(0, 0, -days).Format(domain.TimeFormat)
	removed := 0
	err := b.locked("bus.cleanup", func(f *busFile) (bool, error) {
		kept := f.Messages[:0]
		for _, m := range f.Messages {
			if m.Timestamp >= cutoff {
				kept = append(kept, m)
			} else {
				removed++
			}
		}
		if removed == 0 {
			return false, nil
		}
		f.Messages = kept
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 && b.logger != nil {
		b.logger.Printf("bus: cleaned up %d messages older than %d days", removed, days)
	}
	return removed, nil
}

// locked acquires the advisory lock, loads the file, runs fn, and persists
// when fn reports a mutation. The lock is released on every exit path.
func (b *Bus) locked(op string, fn func(*busFile) (bool, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	lock, err := b.acquireLock(op)
	if err != nil {
		return err
	}
	defer func() {
		_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
		_ = lock.Close()
	}()

	f, err := b.readFile(op)
	if err != nil {
		return err
	}
	dirty, err := fn(f)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	return b.writeFile(f)
}

// acquireLock takes an exclusive flock on the sidecar lock file, retrying
// within the bounded window.
func (b *Bus) acquireLock(op string) (*os.File, error) {
	lock, err := os.OpenFile(b.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, op, err)
	}
	deadline := time.Now().Add(lockRetryWindow)
	for {
		err = syscall.Flock(int(lock.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return lock, nil
		}
		if time.Now().After(deadline) {
			_ = lock.Close()
			return nil, domain.Errorf(domain.KindStoreUnavailable, op,
				"bus file locked for over %s: %v", lockRetryWindow, err)
		}
		time.Sleep(lockRetryStep)
	}
}

func (b *Bus) readFile(op string) (*busFile, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, op, err)
	}
	var f busFile
	if err := json.Unmarshal(data, &f); err != nil {
		// Partial or mangled JSON is a hard error; never silently drop
		// messages by starting over.
		return nil, domain.E(domain.KindCorruptState, op, fmt.Errorf("malformed bus file %s: %w", b.path, err))
	}
	return &f, nil
}

// writeFile persists via temp-file-then-rename so a crash mid-write leaves
// either the old or the new content, never a torn file.
func (b *Bus) writeFile(f *busFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return domain.E(domain.KindStoreUnavailable, "bus.write", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return domain.E(domain.KindStoreUnavailable, "bus.write", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return domain.E(domain.KindStoreUnavailable, "bus.write", err)
	}
	return nil
}
