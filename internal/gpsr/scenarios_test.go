package gpsr_test

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
	"github.com/gpsr-go/gogpsr/internal/simsched"
)

// These tests reproduce the six concrete end-to-end scenarios against
// internal/simsched's deterministic virtual-time scheduler rather than
// the fakeScheduler used elsewhere in this package, since they exercise
// timing relationships (jitter, lifetime expiry, queue deadlines) that
// simsched's heap ordering is meant to make reproducible across runs.

// medium is a shared broadcast segment for scenario tests: every socket
// that joins it receives every other member's sends, mirroring a LAN.
type medium struct {
	mu      sync.Mutex
	members []*mediumSocket
}

func (m *medium) join(addr netip.Addr) *mediumSocket {
	s := &mediumSocket{med: m, addr: addr}
	m.mu.Lock()
	m.members = append(m.members, s)
	m.mu.Unlock()
	return s
}

func (m *medium) deliver(from *mediumSocket, buf []byte) {
	m.mu.Lock()
	members := append([]*mediumSocket(nil), m.members...)
	m.mu.Unlock()
	for _, mem := range members {
		if mem == from || mem.onRecv == nil {
			continue
		}
		cp := make([]byte, len(buf))
		copy(cp, buf)
		mem.onRecv(cp, from.addr)
	}
}

type mediumSocket struct {
	med    *medium
	addr   netip.Addr
	onRecv func(buf []byte, src netip.Addr)
	closed bool
}

func (s *mediumSocket) Bind(netip.Addr, uint16) error  { return nil }
func (s *mediumSocket) SetBroadcast(bool) error         { return nil }
func (s *mediumSocket) SetTTL(int) error                { return nil }
func (s *mediumSocket) Close() error                    { s.closed = true; return nil }
func (s *mediumSocket) OnReceive(fn func([]byte, netip.Addr)) { s.onRecv = fn }

func (s *mediumSocket) SendTo(_ context.Context, buf []byte, _ netip.Addr) error {
	s.med.deliver(s, buf)
	return nil
}

// scenarioNode bundles one simulated node's host and collaborators for
// the multi-node scenarios.
type scenarioNode struct {
	addr  netip.Addr
	host  *gpsr.ProtocolHost
	ipv4  *staticIpv4
	sched gpsr.Scheduler
}

func newScenarioNode(sched gpsr.Scheduler, nodeID uint64, addr netip.Addr, pos gpsr.Position, locator gpsr.Locator) *scenarioNode {
	ipv4 := newStaticIpv4()
	ipv4.local[addr] = true
	host := gpsr.NewProtocolHost(gpsr.HostConfig{
		NodeID:          nodeID,
		HelloInterval:   time.Second,
		EntryLifetime:   3 * time.Second,
		MaxQueueLen:     gpsr.DefaultMaxQueueLen,
		MaxQueueTime:    gpsr.DefaultMaxQueueTime,
		RecoveryEnabled: true,
		ControlPort:     gpsr.ControlPort,
		Scheduler:       sched,
		Ipv4:            ipv4,
		Mobility:        staticMobility{pos: pos, ok: true},
		Locator:         locator,
	})
	return &scenarioNode{addr: addr, host: host, ipv4: ipv4, sched: sched}
}

func (n *scenarioNode) join(iface string, peer netip.Addr, med *medium) {
	n.ipv4.ifaceFor[peer] = iface
	sock := med.join(n.addr)
	if err := n.host.NotifyInterfaceUp(iface, sock, netip.IPv4Unspecified()); err != nil {
		panic(err)
	}
}

// Scenario 1: two-node handshake (spec §8.1). After t=2.0s both tables
// hold one entry; a packet from A to B at t=3.0s is delivered in one
// hop with the error callback never invoked.
func TestScenarioTwoNodeHandshake(t *testing.T) {
	sched := simsched.New(time.Unix(0, 0))
	a := mustAddr("10.0.0.1")
	b := mustAddr("10.0.0.2")
	locator := staticLocator{a: {X: 0, Y: 0}, b: {X: 75, Y: 0}}

	nodeA := newScenarioNode(sched, 1, a, gpsr.Position{X: 0, Y: 0}, locator)
	nodeB := newScenarioNode(sched, 2, b, gpsr.Position{X: 75, Y: 0}, locator)

	lan := &medium{}
	nodeA.join("eth0", b, lan)
	nodeB.join("eth0", a, lan)

	nodeA.host.Start()
	nodeB.host.Start()

	sched.Advance(2 * time.Second)

	if !nodeA.host.PositionTable().IsNeighbor(b) {
		t.Fatal("expected A to know B by t=2.0s")
	}
	if !nodeB.host.PositionTable().IsNeighbor(a) {
		t.Fatal("expected B to know A by t=2.0s")
	}

	sched.Advance(time.Second)

	var errored bool
	pkt := gpsr.NewPacket(a, b, []byte("hi"))
	route, ok := nodeA.host.RouteOutput(pkt, nil, func(*gpsr.Packet, error) { errored = true })
	if !ok {
		t.Fatal("expected one-hop delivery to a direct neighbor")
	}
	if route.Gateway != b {
		t.Fatalf("route.Gateway = %v, want %v", route.Gateway, b)
	}
	if errored {
		t.Fatal("error callback must never fire on a direct one-hop delivery")
	}
}

// Scenario 2: three-node greedy chain (spec §8.2). A sends to C; the
// packet is routed A->B->C, a total of two forwarding hops, with B
// holding two separate interface bindings so A and C never hear each
// other's hellos directly.
func TestScenarioThreeNodeGreedyChain(t *testing.T) {
	sched := simsched.New(time.Unix(0, 0))
	a := mustAddr("10.0.0.1")
	b := mustAddr("10.0.0.2")
	c := mustAddr("10.0.0.3")
	locator := staticLocator{
		a: {X: 0, Y: 0},
		b: {X: 75, Y: 0},
		c: {X: 150, Y: 0},
	}

	nodeA := newScenarioNode(sched, 1, a, gpsr.Position{X: 0, Y: 0}, locator)
	nodeB := newScenarioNode(sched, 2, b, gpsr.Position{X: 75, Y: 0}, locator)
	nodeC := newScenarioNode(sched, 3, c, gpsr.Position{X: 150, Y: 0}, locator)

	lanAB := &medium{}
	lanBC := &medium{}
	nodeA.join("eth0", b, lanAB)
	nodeB.join("eth0", a, lanAB)
	nodeB.join("eth1", c, lanBC)
	nodeC.join("eth0", b, lanBC)

	nodeA.host.Start()
	nodeB.host.Start()
	nodeC.host.Start()

	sched.Advance(2 * time.Second)

	if nodeA.host.PositionTable().IsNeighbor(c) {
		t.Fatal("A must not hear C directly, only via B")
	}

	hops := 0
	var delivered *gpsr.Packet
	pkt := gpsr.NewPacket(a, c, []byte("payload"))

	route, ok := nodeA.host.RouteOutput(pkt, nil, func(*gpsr.Packet, error) {
		t.Fatal("unexpected drop at origination")
	})
	if !ok {
		t.Fatal("expected A to find a greedy next hop toward C via B")
	}
	if route.Gateway != b {
		t.Fatalf("A routed via %v, want B (%v)", route.Gateway, b)
	}
	hops++

	res := nodeB.host.RouteInput(pkt, "eth0", false, nil,
		func(r gpsr.Route, p *gpsr.Packet) {
			if r.Gateway != c {
				t.Fatalf("B forwarded via %v, want C (%v)", r.Gateway, c)
			}
			hops++
		},
		func(*gpsr.Packet, error) { t.Fatal("unexpected drop at B") })
	if res != gpsr.ResultForwarded {
		t.Fatalf("B's RouteInput result = %v, want ResultForwarded", res)
	}

	res = nodeC.host.RouteInput(pkt, "eth0", false,
		func(p *gpsr.Packet) { delivered = p },
		func(gpsr.Route, *gpsr.Packet) { t.Fatal("unexpected forward at C") },
		func(*gpsr.Packet, error) { t.Fatal("unexpected drop at C") })
	if res != gpsr.ResultLocal {
		t.Fatalf("C's RouteInput result = %v, want ResultLocal", res)
	}
	if delivered != pkt {
		t.Fatal("C did not deliver the packet locally")
	}
	if hops != 2 {
		t.Fatalf("hop count observed at C = %d, want 2", hops)
	}
}

// Scenario 3: a greedy dead end at origination must attach a recovery
// header with rec_pos pinned to the originating node's own position,
// byte-for-byte (spec §8.3).
func TestScenarioGreedyDeadEndAttachesRecoveryHeader(t *testing.T) {
	sched := simsched.New(time.Unix(0, 0))
	dst := mustAddr("10.0.0.9")
	perimeterHop := mustAddr("10.0.0.3")

	ipv4 := newStaticIpv4()
	ipv4.ifaceFor[perimeterHop] = "eth0"

	locator := staticLocator{dst: {X: 10, Y: 0}}
	ptable := gpsr.NewPositionTable(sched, time.Minute, nil)
	queue := gpsr.NewDeferredQueue(sched, 8, time.Minute, nil)
	engine := gpsr.NewEngine(gpsr.EngineConfig{
		PositionTable:   ptable,
		Queue:           queue,
		Locator:         locator,
		Mobility:        staticMobility{pos: gpsr.Position{X: 0, Y: 0}, ok: true},
		Ipv4:            ipv4,
		RecoveryEnabled: true,
	})
	// Only neighbor is farther from dst than the origin: greedy dead end.
	ptable.AddEntry(perimeterHop, gpsr.Position{X: -5, Y: 1})

	pkt := gpsr.NewPacket(mustAddr("10.0.0.1"), dst, nil)
	var forwarded *gpsr.Packet
	res := engine.RouteInput(pkt, "eth0", false, nil,
		func(_ gpsr.Route, p *gpsr.Packet) { forwarded = p }, nil)
	if res != gpsr.ResultForwarded {
		t.Fatalf("result = %v, want ResultForwarded", res)
	}

	want := gpsr.PositionHeader{
		DstPos:       gpsr.Position{X: 10, Y: 0},
		RecPos:       gpsr.Position{X: 0, Y: 0},
		PrevPos:      gpsr.Position{X: 0, Y: 0},
		RecoveryFlag: true,
	}
	if forwarded.Header == nil || *forwarded.Header != want {
		t.Fatalf("recovery header = %+v, want %+v", forwarded.Header, want)
	}
}

// Scenario 4: a stale neighbor entry must not be used past its
// lifetime. A packet originated just after expiry must be enqueued
// rather than routed via the vanished neighbor (spec §8.4).
func TestScenarioStaleNeighborEvictionDefersInsteadOfRoutingThroughIt(t *testing.T) {
	lifetime := 3 * time.Second
	sched := simsched.New(time.Unix(0, 0))
	b := mustAddr("10.0.0.2")

	ipv4 := newStaticIpv4()
	ipv4.ifaceFor[b] = "eth0"
	locator := staticLocator{mustAddr("10.0.0.9"): {X: 100, Y: 0}}

	ptable := gpsr.NewPositionTable(sched, lifetime, nil)
	queue := gpsr.NewDeferredQueue(sched, 8, time.Minute, nil)
	engine := gpsr.NewEngine(gpsr.EngineConfig{
		PositionTable:   ptable,
		Queue:           queue,
		Locator:         locator,
		Mobility:        staticMobility{pos: gpsr.Position{X: 0, Y: 0}, ok: true},
		Ipv4:            ipv4,
		RecoveryEnabled: true,
	})

	ptable.AddEntry(b, gpsr.Position{X: 50, Y: 0})
	sched.Advance(lifetime + 100*time.Millisecond)

	dst := mustAddr("10.0.0.9")
	pkt := gpsr.NewPacket(mustAddr("10.0.0.1"), dst, []byte("late"))
	_, ok := engine.RouteOutput(pkt, nil, nil)
	if ok {
		t.Fatal("expected RouteOutput to fail: B's entry is past its lifetime")
	}
	if !queue.Find(dst) {
		t.Fatal("expected the packet enqueued rather than sent to the vanished neighbor")
	}
	if ptable.IsNeighbor(b) {
		t.Fatal("expected B's entry purged once its lifetime elapsed")
	}
}

// Scenario 5: queue-full eviction (spec §8.5). With max_queue_len=2,
// a third enqueue for an unknown destination evicts the first with
// ErrNoRouteToHost; the remaining two time out after max_queue_time.
func TestScenarioQueueFullEvictionThenTimeout(t *testing.T) {
	maxQueueTime := 30 * time.Second
	sched := simsched.New(time.Unix(0, 0))
	queue := gpsr.NewDeferredQueue(sched, 2, maxQueueTime, nil)

	var evicted *gpsr.Packet
	evictCB := func(pkt *gpsr.Packet, err error) {
		evicted = pkt
		if !errors.Is(err, gpsr.ErrNoRouteToHost) {
			t.Fatalf("eviction error = %v, want ErrNoRouteToHost", err)
		}
	}

	timedOut := make(map[*gpsr.Packet]bool)
	timeoutCB := func(pkt *gpsr.Packet, err error) {
		if errors.Is(err, gpsr.ErrQueueTimeout) {
			timedOut[pkt] = true
		}
	}

	first := gpsr.NewPacket(mustAddr("10.0.0.1"), mustAddr("10.0.0.9"), nil)
	second := gpsr.NewPacket(mustAddr("10.0.0.1"), mustAddr("10.0.0.10"), nil)
	third := gpsr.NewPacket(mustAddr("10.0.0.1"), mustAddr("10.0.0.11"), nil)

	if err := queue.Enqueue(first, nil, evictCB); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if err := queue.Enqueue(second, nil, timeoutCB); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if err := queue.Enqueue(third, nil, timeoutCB); err != nil {
		t.Fatalf("enqueue third: %v", err)
	}

	if evicted != first {
		t.Fatalf("evicted = %v, want first", evicted)
	}
	if queue.Size() != 2 {
		t.Fatalf("queue size = %d, want 2 after eviction", queue.Size())
	}

	sched.Advance(maxQueueTime + time.Second)
	queue.Purge()

	if !timedOut[second] || !timedOut[third] {
		t.Fatal("expected both remaining entries to time out with ErrQueueTimeout")
	}
	if queue.Size() != 0 {
		t.Fatalf("queue size after timeout = %d, want 0", queue.Size())
	}
}

// recordingScheduler captures the delay passed to its first ScheduleAt
// call; a Beacon's Start() makes exactly one such call before any
// Advance runs.
type recordingScheduler struct {
	gpsr.Scheduler
	lastDelay time.Duration
}

func (r *recordingScheduler) ScheduleAt(delay time.Duration, fn func()) gpsr.TimerHandle {
	r.lastDelay = delay
	return r.Scheduler.ScheduleAt(delay, fn)
}

// Scenario 6: hello-jitter desynchronization (spec §8.6). Ten nodes
// starting at t=0 must draw pairwise-distinct first-hello delays.
func TestScenarioHelloJitterDesynchronization(t *testing.T) {
	shared := simsched.New(time.Unix(0, 0))
	mobility := staticMobility{pos: gpsr.Position{X: 0, Y: 0}, ok: true}

	delays := make([]time.Duration, 10)
	for i := range delays {
		rs := &recordingScheduler{Scheduler: shared}
		b := gpsr.NewBeacon(rs, mobility, time.Second, uint64(i+1), nil)
		b.Start()
		delays[i] = rs.lastDelay
	}

	seen := make(map[time.Duration]int)
	for _, d := range delays {
		seen[d]++
	}
	for d, count := range seen {
		if count > 1 {
			t.Fatalf("first-hello delay %v shared by %d nodes, want all pairwise distinct", d, count)
		}
	}
}
