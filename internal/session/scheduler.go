package session

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/inkmemory/pkg/document"
)

// DefaultAutosaveDelay is the quiet period after the last change before a
// debounced save runs.
const DefaultAutosaveDelay = 3 * time.Second

// SaveFunc persists snap. trigger is the id of the document whose change
// caused the save; it may differ from snap.ID when a load happened between
// the change and the save.
type SaveFunc func(ctx context.Context, snap *document.Document, trigger string) error

// Scheduler coalesces change notifications into remote saves. It has two
// entry points, [Scheduler.ScheduleDebounced] and [Scheduler.FlushNow], which
// share one in-flight guard so that no two saves run at the same time.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	delay    time.Duration
	snapshot func() *document.Document
	save     SaveFunc
	onError  func(error)

	mu      sync.Mutex
	timer   *time.Timer
	pending string // trigger of the scheduled save; empty when none
	stopped bool

	inflight sync.Mutex
}

// NewScheduler creates a [Scheduler]. snapshot returns the document to save
// at the moment a save starts. onError receives failures of debounced saves,
// which have no caller to return to; it may be nil.
func NewScheduler(delay time.Duration, snapshot func() *document.Document, save SaveFunc, onError func(error)) *Scheduler {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	return &Scheduler{delay: delay, snapshot: snapshot, save: save, onError: onError}
}

// ScheduleDebounced (re)starts the quiet-period timer. Bursts of calls
// produce a single save once the delay has passed since the last call.
func (s *Scheduler) ScheduleDebounced(trigger string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.pending = trigger
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.fire)
}

func (s *Scheduler) fire() {
	trigger := s.take()
	if trigger == "" {
		return
	}
	if err := s.run(context.Background(), trigger); err != nil && s.onError != nil {
		s.onError(err)
	}
}

// take clears the pending save and returns its trigger.
func (s *Scheduler) take() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	trigger := s.pending
	s.pending = ""
	return trigger
}

// FlushNow cancels any scheduled save and saves the current snapshot
// immediately, waiting for an in-flight save to finish first.
func (s *Scheduler) FlushNow(ctx context.Context, trigger string) error {
	if pending := s.take(); trigger == "" {
		trigger = pending
	}
	return s.run(ctx, trigger)
}

// SaveSnapshot saves snap through the in-flight guard.
func (s *Scheduler) SaveSnapshot(ctx context.Context, snap *document.Document, trigger string) error {
	return s.Exclusive(func() error { return s.save(ctx, snap, trigger) })
}

// Exclusive runs fn under the in-flight guard, after any running save and
// before the next one starts.
func (s *Scheduler) Exclusive(fn func() error) error {
	s.inflight.Lock()
	defer s.inflight.Unlock()
	return fn()
}

func (s *Scheduler) run(ctx context.Context, trigger string) error {
	s.inflight.Lock()
	defer s.inflight.Unlock()
	snap := s.snapshot()
	if trigger == "" {
		trigger = snap.ID
	}
	return s.save(ctx, snap, trigger)
}

// CancelPending drops a scheduled save and reports whether one existed.
func (s *Scheduler) CancelPending() bool {
	return s.take() != ""
}

// Pending reports whether a debounced save is scheduled.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != ""
}

// Stop cancels any scheduled save and ignores future ScheduleDebounced calls.
// FlushNow and SaveSnapshot keep working so callers can save on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.take()
}
