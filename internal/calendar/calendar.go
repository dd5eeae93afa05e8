// Package calendar abstracts the calendar backend the Director sweeps
// for meeting preparation. The file provider reads a JSON fixture; a
// real backend slots in behind the same interface.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/jaakkos/deskwork/internal/domain"
)

// Provider lists calendar events.
type Provider interface {
	UpcomingEvents(ctx context.Context, within time.Duration) ([]domain.Event, error)
}

// FileProvider serves events from a JSON fixture file: either a bare
// array of events or an object with an "events" key. A missing file
// means an empty calendar, not an error.
type FileProvider struct {
	path string
	now  func() time.Time // test hook
}

// NewFileProvider creates a provider over the given fixture path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path, now: time.Now}
}

type fixtureFile struct {
	Events []domain.Event `json:"events"`
}

// UpcomingEvents returns events starting between now and now+within,
// sorted by start time.
func (p *FileProvider) UpcomingEvents(ctx context.Context, within time.Duration) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	events, err := p.load()
	if err != nil {
		return nil, err
	}

	now := p.now()
	cutoff := now.Add(within)
	var out []domain.Event
	for _, e := range events {
		if e.Start.Before(now) || e.Start.After(cutoff) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (p *FileProvider) load() ([]domain.Event, error) {
	if p.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "calendar.load", err)
	}

	var f fixtureFile
	if err := json.Unmarshal(data, &f); err == nil && f.Events != nil {
		return f.Events, nil
	}
	var bare []domain.Event
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, domain.E(domain.KindCorruptState, "calendar.load", err)
	}
	return bare, nil
}
