// Package simsched implements gpsr.Scheduler as a deterministic,
// single-goroutine virtual-time scheduler: the test-time analogue of
// clocksched, used to reproduce exact end-to-end routing scenarios
// without real sleeps or goroutine races.
//
// A Scheduler is driven entirely by its caller: nothing fires on its
// own. Advance the virtual clock, draining due callbacks in deadline
// order, via Advance or Step.
package simsched

import (
	"container/heap"
	"time"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
)

type pendingCall struct {
	at   time.Time
	seq  uint64
	h    gpsr.TimerHandle
	fn   func()
	live bool
}

type callHeap []*pendingCall

func (h callHeap) Len() int { return len(h) }
func (h callHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h callHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *callHeap) Push(x any)   { *h = append(*h, x.(*pendingCall)) }
func (h *callHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Scheduler is a min-heap of pending callbacks keyed by virtual time.
// It is not safe for concurrent use; it is meant to be driven by a
// single test goroutine that owns one simulated node (or a deterministic
// multi-node harness that interleaves nodes' Scheduler instances
// explicitly).
type Scheduler struct {
	now     time.Time
	seq     uint64
	nextH   gpsr.TimerHandle
	byHandle map[gpsr.TimerHandle]*pendingCall
	heap    callHeap
}

// New creates a Scheduler whose virtual clock starts at start.
func New(start time.Time) *Scheduler {
	return &Scheduler{
		now:      start,
		byHandle: make(map[gpsr.TimerHandle]*pendingCall),
	}
}

// Now returns the scheduler's current virtual time.
func (s *Scheduler) Now() time.Time {
	return s.now
}

// ScheduleAt registers fn to run when the virtual clock reaches
// now+delay. Nothing actually runs until Advance or Step is called.
func (s *Scheduler) ScheduleAt(delay time.Duration, fn func()) gpsr.TimerHandle {
	s.nextH++
	h := s.nextH
	s.seq++
	call := &pendingCall{at: s.now.Add(delay), seq: s.seq, h: h, fn: fn, live: true}
	s.byHandle[h] = call
	heap.Push(&s.heap, call)
	return h
}

// Cancel marks a pending call dead; it will be skipped when its
// deadline is reached. A handle that is unknown or already fired is a
// no-op.
func (s *Scheduler) Cancel(h gpsr.TimerHandle) {
	call, ok := s.byHandle[h]
	if !ok {
		return
	}
	call.live = false
	delete(s.byHandle, h)
}

// Advance moves virtual time forward by d, running every callback whose
// deadline falls at or before the new time, in deadline order (ties
// broken by scheduling order). A callback that itself calls ScheduleAt
// may add new callbacks due within the same Advance window; those also
// run before Advance returns.
func (s *Scheduler) Advance(d time.Duration) {
	target := s.now.Add(d)
	for {
		if s.heap.Len() == 0 {
			break
		}
		next := s.heap[0]
		if next.at.After(target) {
			break
		}
		heap.Pop(&s.heap)
		s.now = next.at
		if !next.live {
			continue
		}
		delete(s.byHandle, next.h)
		next.fn()
	}
	if s.now.Before(target) {
		s.now = target
	}
}

// Step runs only the single next due callback, if any, advancing
// virtual time to its deadline. Reports whether a callback ran.
func (s *Scheduler) Step() bool {
	for s.heap.Len() > 0 {
		next := s.heap[0]
		heap.Pop(&s.heap)
		s.now = next.at
		if !next.live {
			continue
		}
		delete(s.byHandle, next.h)
		next.fn()
		return true
	}
	return false
}

// Pending reports how many live callbacks remain scheduled.
func (s *Scheduler) Pending() int {
	return len(s.byHandle)
}

var _ gpsr.Scheduler = (*Scheduler)(nil)
