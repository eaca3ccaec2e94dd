package gpsr

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -------------------------------------------------------------------------
// DeferredQueue — spec §3, §4.C
// -------------------------------------------------------------------------

// QueueEntry is a datagram awaiting a usable next hop.
type QueueEntry struct {
	Packet    *Packet
	ForwardCB ForwardFunc
	ErrorCB   ErrorFunc
	Deadline  time.Time
}

type entryKey struct {
	uid uuid.UUID
	dst netip.Addr
}

// DeferredQueue is a bounded FIFO of QueueEntry, ordered by insertion,
// with per-entry expiry. It never blocks: enqueue either succeeds,
// rejects a duplicate, or evicts the oldest entry to make room.
type DeferredQueue struct {
	mu      sync.Mutex
	order   []entryKey
	entries map[entryKey]QueueEntry

	maxLen      int
	maxQueueAge time.Duration
	sched       Scheduler
	logger      *slog.Logger
}

// NewDeferredQueue creates an empty queue bounded by maxLen entries, each
// with a deadline of maxQueueAge after enqueue.
func NewDeferredQueue(sched Scheduler, maxLen int, maxQueueAge time.Duration, logger *slog.Logger) *DeferredQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeferredQueue{
		entries:     make(map[entryKey]QueueEntry),
		maxLen:      maxLen,
		maxQueueAge: maxQueueAge,
		sched:       sched,
		logger:      logger.With(slog.String("component", "gpsr.rqueue")),
	}
}

// Enqueue adds a new entry for pkt. If a matching (packet UID,
// destination) pair is already queued, Enqueue is a no-op and returns
// ErrDuplicateEntry. If the queue is at capacity, the oldest entry is
// evicted via its error callback (ErrNoRouteToHost, wrapping ErrQueueFull)
// before the new entry is appended.
func (q *DeferredQueue) Enqueue(pkt *Packet, forwardCB ForwardFunc, errorCB ErrorFunc) error {
	q.mu.Lock()

	key := entryKey{uid: pkt.UID, dst: pkt.Dst}
	if _, exists := q.entries[key]; exists {
		q.mu.Unlock()
		return ErrDuplicateEntry
	}

	var evicted *QueueEntry
	if len(q.order) >= q.maxLen {
		oldestKey := q.order[0]
		q.order = q.order[1:]
		e := q.entries[oldestKey]
		delete(q.entries, oldestKey)
		evicted = &e
		q.logger.Warn("deferred queue full, evicting oldest entry",
			slog.String("dst", oldestKey.dst.String()))
	}

	entry := QueueEntry{
		Packet:    pkt,
		ForwardCB: forwardCB,
		ErrorCB:   errorCB,
		Deadline:  q.sched.Now().Add(q.maxQueueAge),
	}
	q.entries[key] = entry
	q.order = append(q.order, key)
	q.mu.Unlock()

	if evicted != nil && evicted.ErrorCB != nil {
		evicted.ErrorCB(evicted.Packet, fmt.Errorf("%w: %w", ErrNoRouteToHost, ErrQueueFull))
	}
	return nil
}

// DequeueFor purges expired entries, then removes and returns the first
// entry whose destination matches dst.
func (q *DeferredQueue) DequeueFor(dst netip.Addr) (QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.purgeLocked()

	for i, k := range q.order {
		if k.dst != dst {
			continue
		}
		entry := q.entries[k]
		delete(q.entries, k)
		q.order = append(q.order[:i], q.order[i+1:]...)
		return entry, true
	}
	return QueueEntry{}, false
}

// Find reports whether any entry is queued for dst, without purging.
func (q *DeferredQueue) Find(dst netip.Addr) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, k := range q.order {
		if k.dst == dst {
			return true
		}
	}
	return false
}

// DropAllFor invokes the error callback on every entry queued for dst,
// with reason, and removes them.
func (q *DeferredQueue) DropAllFor(dst netip.Addr, reason error) {
	q.mu.Lock()
	var dropped []QueueEntry
	remaining := q.order[:0:0]
	for _, k := range q.order {
		if k.dst == dst {
			dropped = append(dropped, q.entries[k])
			delete(q.entries, k)
			continue
		}
		remaining = append(remaining, k)
	}
	q.order = remaining
	q.mu.Unlock()

	for _, e := range dropped {
		if e.ErrorCB != nil {
			e.ErrorCB(e.Packet, reason)
		}
	}
}

// Purge drops every entry whose deadline has passed, invoking each
// error callback with ErrNoRouteToHost wrapping ErrQueueTimeout, so
// errors.Is matches either.
func (q *DeferredQueue) Purge() {
	q.mu.Lock()
	expired := q.purgeLocked()
	q.mu.Unlock()

	for _, e := range expired {
		if e.ErrorCB != nil {
			e.ErrorCB(e.Packet, fmt.Errorf("%w: %w", ErrNoRouteToHost, ErrQueueTimeout))
		}
	}
}

// purgeLocked removes expired entries and returns them for callback
// invocation by the caller, which must run callbacks outside q.mu.
func (q *DeferredQueue) purgeLocked() []QueueEntry {
	now := q.sched.Now()
	var expired []QueueEntry
	remaining := q.order[:0:0]
	for _, k := range q.order {
		e := q.entries[k]
		if e.Deadline.Before(now) {
			expired = append(expired, e)
			delete(q.entries, k)
			continue
		}
		remaining = append(remaining, k)
	}
	q.order = remaining
	return expired
}

// Size returns the number of currently queued entries. Read-only
// diagnostic accessor for metrics; not used by forwarding logic.
func (q *DeferredQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Destinations returns the set of distinct destinations with queued
// packets, for queue-drain iteration (spec §4.E "Queue drain").
func (q *DeferredQueue) Destinations() []netip.Addr {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[netip.Addr]struct{})
	var dsts []netip.Addr
	for _, k := range q.order {
		if _, ok := seen[k.dst]; ok {
			continue
		}
		seen[k.dst] = struct{}{}
		dsts = append(dsts, k.dst)
	}
	return dsts
}
