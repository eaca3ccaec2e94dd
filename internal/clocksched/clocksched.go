// Package clocksched implements gpsr.Scheduler against real wall-clock
// time, for production use.
package clocksched

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
)

// Scheduler drives gpsr timers off a clockwork.Clock, so tests can swap
// in clockwork.NewFakeClock without touching the production code path
// that uses clockwork.NewRealClock.
type Scheduler struct {
	clock clockwork.Clock

	// run is held while a callback executes, so callbacks never overlap.
	run sync.Mutex

	mu      sync.Mutex
	next    gpsr.TimerHandle
	timers  map[gpsr.TimerHandle]clockwork.Timer
}

// New creates a Scheduler backed by clock.
func New(clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		clock:  clock,
		timers: make(map[gpsr.TimerHandle]clockwork.Timer),
	}
}

// Now returns the clock's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// ScheduleAt arranges for fn to run after delay elapses. Callbacks of
// one Scheduler run one at a time.
func (s *Scheduler) ScheduleAt(delay time.Duration, fn func()) gpsr.TimerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	h := s.next
	timer := s.clock.AfterFunc(delay, func() {
		s.run.Lock()
		defer s.run.Unlock()
		fn()
	})
	s.timers[h] = timer
	return h
}

// Cancel stops a pending timer. A handle that is unknown, already fired,
// or already cancelled is a no-op.
func (s *Scheduler) Cancel(h gpsr.TimerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[h]
	if !ok {
		return
	}
	timer.Stop()
	delete(s.timers, h)
}

var _ gpsr.Scheduler = (*Scheduler)(nil)
