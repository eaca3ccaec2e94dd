package gpsr_test

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
)

// fakeScheduler is a manually-advanced virtual clock for unit tests: no
// goroutines, no real sleeping. Pending callbacks fire in ScheduleAt
// order as the test advances now via Advance/Fire.
type fakeScheduler struct {
	mu      sync.Mutex
	now     time.Time
	next    gpsr.TimerHandle
	pending map[gpsr.TimerHandle]pendingCall
}

type pendingCall struct {
	at time.Time
	fn func()
}

func newFakeScheduler(start time.Time) *fakeScheduler {
	return &fakeScheduler{now: start, pending: make(map[gpsr.TimerHandle]pendingCall)}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) ScheduleAt(delay time.Duration, fn func()) gpsr.TimerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.pending[h] = pendingCall{at: s.now.Add(delay), fn: fn}
	return h
}

func (s *fakeScheduler) Cancel(h gpsr.TimerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, h)
}

// Advance moves virtual time forward by d and fires every callback whose
// deadline has passed, in deadline order.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	target := s.now
	var due []gpsr.TimerHandle
	for h, c := range s.pending {
		if !c.at.After(target) {
			due = append(due, h)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return s.pending[due[i]].at.Before(s.pending[due[j]].at)
	})
	var fns []func()
	for _, h := range due {
		fns = append(fns, s.pending[h].fn)
		delete(s.pending, h)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// staticMobility implements gpsr.Mobility with a fixed position.
type staticMobility struct {
	pos gpsr.Position
	ok  bool
}

func (m staticMobility) Position() (gpsr.Position, bool) { return m.pos, m.ok }

// staticLocator implements gpsr.Locator over a fixed IP -> position map.
type staticLocator map[netip.Addr]gpsr.Position

func (l staticLocator) PositionOf(ip netip.Addr) (gpsr.Position, bool) {
	p, ok := l[ip]
	return p, ok
}

// staticIpv4 implements gpsr.Ipv4 over a fixed next-hop -> interface map
// and a set of local addresses.
type staticIpv4 struct {
	ifaceFor map[netip.Addr]string
	local    map[netip.Addr]bool
	up       map[string]bool
}

func newStaticIpv4() *staticIpv4 {
	return &staticIpv4{
		ifaceFor: make(map[netip.Addr]string),
		local:    make(map[netip.Addr]bool),
		up:       make(map[string]bool),
	}
}

func (n *staticIpv4) GetAddress(iface string, idx int) (netip.Addr, bool) {
	return netip.Addr{}, false
}

func (n *staticIpv4) IsDestination(addr netip.Addr, iif string) bool {
	return n.local[addr]
}

func (n *staticIpv4) GetInterfaceForAddress(addr netip.Addr) (string, bool) {
	iface, ok := n.ifaceFor[addr]
	return iface, ok
}

func (n *staticIpv4) IsUp(iface string) bool { return n.up[iface] }

// fakeSocket records every SendTo call without touching the network.
type fakeSocket struct {
	mu       sync.Mutex
	sent     [][]byte
	ttl      int
	bcast    bool
	onRecv   func(buf []byte, src netip.Addr)
	closed   bool
}

func (s *fakeSocket) Bind(addr netip.Addr, port uint16) error { return nil }

func (s *fakeSocket) SetBroadcast(enable bool) error {
	s.bcast = enable
	return nil
}

func (s *fakeSocket) SetTTL(ttl int) error {
	s.ttl = ttl
	return nil
}

func (s *fakeSocket) SendTo(ctx context.Context, buf []byte, dst netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *fakeSocket) OnReceive(fn func(buf []byte, src netip.Addr)) {
	s.onRecv = fn
}

func (s *fakeSocket) Close() error {
	s.closed = true
	return nil
}

func mustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}
