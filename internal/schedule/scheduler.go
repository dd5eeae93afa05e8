// Package schedule drives daily, periodic, and one-time callbacks on
// wall-clock timers. Callbacks run one at a time per job and never after
// Stop returns.
package schedule

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jaakkos/deskwork/internal/domain"
)

// JobKind classifies a registration.
type JobKind string

const (
	KindDaily    JobKind = "daily"
	KindPeriodic JobKind = "periodic"
	KindOneTime  JobKind = "one_time"
)

// JobStatus is one row of the Status snapshot.
type JobStatus struct {
	Name     string        `json:"name"`
	Kind     JobKind       `json:"kind"`
	NextRun  time.Time     `json:"next_run"`
	Interval time.Duration `json:"interval,omitempty"`
}

type job struct {
	name     string
	kind     JobKind
	callback func()
	interval time.Duration // periodic interval or daily 24h
	nextRun  time.Time
	timer    *time.Timer
}

// Scheduler owns a set of named timer jobs. All state lives behind one
// mutex; callback goroutines re-acquire it only to reschedule, so a
// callback can safely register or unregister other jobs.
type Scheduler struct {
	logger *log.Logger
	now    func() time.Time // test hook

	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler. It accepts registrations immediately; Run only
// blocks the caller until Stop.
func New(logger *log.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		now:    time.Now,
		jobs:   make(map[string]*job),
		stopCh: make(chan struct{}),
	}
}

// RegisterDailyCheckin schedules callback at the next wall-clock
// occurrence of hhmm ("09:00"), then every 24h after each fire.
func (s *Scheduler) RegisterDailyCheckin(hhmm string, callback func()) error {
	hh, mm, err := parseClock(hhmm)
	if err != nil {
		return err
	}
	next := nextDaily(s.now(), hh, mm)
	return s.add(&job{
		name:     "daily_checkin_" + hhmm,
		kind:     KindDaily,
		callback: callback,
		interval: 24 * time.Hour,
		nextRun:  next,
	})
}

// RegisterTask schedules a fixed-delay periodic callback.
func (s *Scheduler) RegisterTask(name string, callback func(), interval time.Duration) error {
	if interval <= 0 {
		return domain.Errorf(domain.KindInvalidInput, "schedule.register", "interval must be positive, got %v", interval)
	}
	return s.add(&job{
		name:     name,
		kind:     KindPeriodic,
		callback: callback,
		interval: interval,
		nextRun:  s.now().Add(interval),
	})
}

// RegisterOneTime schedules callback once after delay. The job removes
// itself on completion.
func (s *Scheduler) RegisterOneTime(name string, callback func(), delay time.Duration) error {
	if delay < 0 {
		return domain.Errorf(domain.KindInvalidInput, "schedule.register", "delay must not be negative, got %v", delay)
	}
	return s.add(&job{
		name:     name,
		kind:     KindOneTime,
		callback: callback,
		nextRun:  s.now().Add(delay),
	})
}

// Unregister cancels a pending job. Unknown names are a no-op.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		if j.timer != nil {
			j.timer.Stop()
		}
		delete(s.jobs, name)
	}
}

func (s *Scheduler) add(j *job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return domain.Errorf(domain.KindInvalidInput, "schedule.register", "scheduler stopped")
	}
	if old, ok := s.jobs[j.name]; ok {
		if old.timer != nil {
			old.timer.Stop()
		}
	}
	s.jobs[j.name] = j
	s.arm(j)
	return nil
}

// arm starts the job's timer. Caller holds s.mu.
func (s *Scheduler) arm(j *job) {
	delay := j.nextRun.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	j.timer = time.AfterFunc(delay, func() { s.fire(j) })
}

// fire runs one callback. The stopped check and the WaitGroup add happen
// under the same lock Stop takes, so Stop either sees the callback
// in-flight and waits, or prevents it entirely.
func (s *Scheduler) fire(j *job) {
	s.mu.Lock()
	if s.stopped || s.jobs[j.name] != j {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.run(j)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.jobs[j.name] != j {
		return
	}
	switch j.kind {
	case KindOneTime:
		delete(s.jobs, j.name)
	default:
		j.nextRun = s.now().Add(j.interval)
		s.arm(j)
	}
}

func (s *Scheduler) run(j *job) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Printf("schedule: job %s panicked: %v", j.name, r)
		}
	}()
	j.callback()
}

// Run blocks until Stop is called.
func (s *Scheduler) Run() {
	<-s.stopCh
}

// Stop cancels all pending timers and waits for in-flight callbacks. No
// callback executes after Stop returns, and blocked Run callers unblock.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, j := range s.jobs {
		if j.timer != nil {
			j.timer.Stop()
		}
	}
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// Status returns a snapshot of registrations sorted by next run.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{Name: j.name, Kind: j.kind, NextRun: j.nextRun, Interval: j.interval})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out
}

// parseClock parses "hh:mm" in 24h time.
func parseClock(hhmm string) (int, int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, 0, domain.Errorf(domain.KindInvalidInput, "schedule.clock", "want hh:mm, got %q", hhmm)
	}
	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, domain.E(domain.KindInvalidInput, "schedule.clock", fmt.Errorf("invalid time %q", hhmm))
	}
	return hh, mm, nil
}

// nextDaily returns the next wall-clock occurrence of hh:mm at or after
// now, in now's location.
func nextDaily(now time.Time, hh, mm int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
