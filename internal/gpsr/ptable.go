package gpsr

import (
	"log/slog"
	"math"
	"net/netip"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// PositionTable — spec §3, §4.B
// -------------------------------------------------------------------------

// neighborEntry is a peer's last-announced position and the virtual time
// it was last seen.
type neighborEntry struct {
	position Position
	lastSeen time.Time
}

// PositionTable is a per-node map of peer IPv4 address to (position,
// last-seen time), with lifetime-based eviction. Table operations never
// fail visibly (spec §4.B "Failure semantics"): queries return sentinels
// (the invalid position, the zero IPv4 address) rather than errors.
//
// A PositionTable is safe for concurrent use, though within a single
// node's Scheduler callbacks it is only ever touched by one goroutine at
// a time.
type PositionTable struct {
	mu      sync.Mutex
	order   []netip.Addr
	entries map[netip.Addr]neighborEntry

	lifetime time.Duration
	sched    Scheduler
	logger   *slog.Logger
}

// NewPositionTable creates an empty table with the given entry lifetime.
// sched provides Now() for last-seen timestamps and purge comparisons.
func NewPositionTable(sched Scheduler, lifetime time.Duration, logger *slog.Logger) *PositionTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &PositionTable{
		entries:  make(map[netip.Addr]neighborEntry),
		lifetime: lifetime,
		sched:    sched,
		logger:   logger.With(slog.String("component", "gpsr.ptable")),
	}
}

// AddEntry inserts or replaces the entry for ip, setting last_seen to the
// scheduler's current time. A replaced entry keeps its original
// discovery-order position, so tie-breaks in BestNeighbor/BestAngle stay
// keyed on first-discovered order rather than last-refreshed order.
func (t *PositionTable) AddEntry(ip netip.Addr, pos Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[ip]; !exists {
		t.order = append(t.order, ip)
	}
	t.entries[ip] = neighborEntry{position: pos, lastSeen: t.sched.Now()}
}

// DeleteEntry removes ip from the table if present.
func (t *PositionTable) DeleteEntry(ip netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleteLocked(ip)
}

func (t *PositionTable) deleteLocked(ip netip.Addr) {
	if _, ok := t.entries[ip]; !ok {
		return
	}
	delete(t.entries, ip)
	for i, o := range t.order {
		if o == ip {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// GetPosition purges expired entries, then returns ip's stored position,
// or InvalidPosition if absent or expired.
func (t *PositionTable) GetPosition(ip netip.Addr) Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeLocked()
	e, ok := t.entries[ip]
	if !ok {
		return InvalidPosition
	}
	return e.position
}

// IsNeighbor reports membership without purging first, per spec §4.B.
func (t *PositionTable) IsNeighbor(ip netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[ip]
	return ok
}

// Purge eagerly removes every entry whose last_seen + lifetime <= now. It
// is a no-op on an empty table and logs the removed count at debug level
// only (spec §4.B "Purge policy").
func (t *PositionTable) Purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeLocked()
}

func (t *PositionTable) purgeLocked() {
	if len(t.entries) == 0 {
		return
	}
	now := t.sched.Now()
	removed := 0
	for _, ip := range t.order {
		e := t.entries[ip]
		if !e.lastSeen.Add(t.lifetime).After(now) {
			removed++
		}
	}
	if removed == 0 {
		return
	}
	kept := t.order[:0:0]
	for _, ip := range t.order {
		e := t.entries[ip]
		if !e.lastSeen.Add(t.lifetime).After(now) {
			delete(t.entries, ip)
			continue
		}
		kept = append(kept, ip)
	}
	t.order = kept
	t.logger.Debug("purged expired neighbor entries", slog.Int("count", removed))
}

// neighborIPs returns every currently stored address in discovery order,
// without purging. Used by ProtocolHost to clear the table when the last
// interface goes down.
func (t *PositionTable) neighborIPs() []netip.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	ips := make([]netip.Addr, len(t.order))
	copy(ips, t.order)
	return ips
}

// Size returns the current number of live entries, without purging
// first. Used by metrics/diagnostics, not by forwarding logic.
func (t *PositionTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// BestNeighbor implements the greedy pick of spec §4.B: among all current
// neighbors, find the one minimizing distance to dstPos; if it is
// strictly closer to dstPos than myPos is, return its address. Otherwise
// return the zero IPv4 address, the trigger for recovery mode. Ties are
// broken by first-discovered order: entries are scanned via t.order,
// which records AddEntry arrival order, so the winner is reproducible
// across runs rather than depending on Go's randomized map iteration.
func (t *PositionTable) BestNeighbor(dstPos, myPos Position) netip.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeLocked()

	d0 := myPos.Distance(dstPos)

	var best netip.Addr
	bestDist := math.Inf(1)
	for _, ip := range t.order {
		d := t.entries[ip].position.Distance(dstPos)
		if d < bestDist {
			bestDist = d
			best = ip
		}
	}

	if !best.IsValid() || d0 <= bestDist {
		return netip.IPv4Unspecified()
	}
	return best
}

// BestAngle implements the right-hand-rule pick of spec §4.B: among
// neighbors other than prevPos, find the one forming the smallest
// counter-clockwise angle from the vector (myPos -> prevPos) to the
// vector (myPos -> neighbor position). Returns the zero IPv4 address if
// prevPos is invalid or no neighbor qualifies. Ties are broken by
// first-discovered order, per t.order, for the same reason as
// BestNeighbor.
func (t *PositionTable) BestAngle(dstPos, recPos, myPos, prevPos Position) netip.Addr {
	_ = dstPos
	_ = recPos
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeLocked()

	if !prevPos.Valid() {
		return netip.IPv4Unspecified()
	}

	refAngle := angleOf(myPos, prevPos)

	var best netip.Addr
	bestAngle := math.Inf(1)
	for _, ip := range t.order {
		pos := t.entries[ip].position
		if pos == prevPos {
			continue
		}
		a := normalizeAngle(angleOf(myPos, pos) - refAngle)
		if a < bestAngle {
			bestAngle = a
			best = ip
		}
	}

	if !best.IsValid() {
		return netip.IPv4Unspecified()
	}
	return best
}
