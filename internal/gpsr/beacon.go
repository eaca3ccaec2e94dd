package gpsr

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// Beacon — the hello beaconer, spec §4.D
// -------------------------------------------------------------------------

// beaconInterface is one bound interface the beaconer broadcasts on.
type beaconInterface struct {
	name      string
	sock      Socket
	broadcast netip.Addr
}

// Beacon schedules periodic jittered hello broadcasts announcing the
// node's own position, desynchronizing nodes that start simultaneously.
type Beacon struct {
	sched    Scheduler
	mobility Mobility
	interval time.Duration
	rng      *rand.Rand
	logger   *slog.Logger

	mu         sync.Mutex
	interfaces map[string]beaconInterface
	timer      TimerHandle
}

// NewBeacon creates a Beacon seeded deterministically from nodeID, so
// jitter is reproducible across runs with the same identity (spec §4.D,
// §5 "Random streams are seeded deterministically from node_id").
func NewBeacon(sched Scheduler, mobility Mobility, interval time.Duration, nodeID uint64, logger *slog.Logger) *Beacon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Beacon{
		sched:      sched,
		mobility:   mobility,
		interval:   interval,
		rng:        rand.New(rand.NewPCG(nodeID, nodeID^0x9E3779B97F4A7C15)),
		logger:     logger.With(slog.String("component", "gpsr.beacon")),
		interfaces: make(map[string]beaconInterface),
	}
}

// BindInterface registers iface for beaconing, broadcasting via sock to
// broadcastAddr. Loopback MUST NOT be bound (spec §4.E "Loopback (device
// index 0) is ignored for beaconing").
func (b *Beacon) BindInterface(iface string, sock Socket, broadcastAddr netip.Addr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interfaces[iface] = beaconInterface{name: iface, sock: sock, broadcast: broadcastAddr}
}

// UnbindInterface removes iface from beaconing (spec §4.E
// notify_interface_down).
func (b *Beacon) UnbindInterface(iface string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.interfaces, iface)
}

// Start schedules the first broadcast at now + Uniform(0, interval/2), per
// spec §4.D.
func (b *Beacon) Start() {
	delay := jitter(b.rng, 0, b.interval/2)
	b.timer = b.sched.ScheduleAt(delay, b.fire)
}

// Stop cancels any pending hello timer.
func (b *Beacon) Stop() {
	b.sched.Cancel(b.timer)
}

// fire is the timer callback: it emits one hello on every bound
// interface, then reschedules itself with fresh jitter.
func (b *Beacon) fire() {
	defer b.reschedule()

	pos, ok := b.mobility.Position()
	if !ok {
		b.logger.Debug("mobility position unavailable, skipping hello emission")
		return
	}

	buf := make([]byte, TypeHeaderSize+HelloHeaderSize)
	if _, err := MarshalTypeHeader(TypeHeader{Type: HeaderTypeHello}, buf); err != nil {
		b.logger.Error("marshal hello type header failed", slog.Any("error", err))
		return
	}
	if _, err := MarshalHelloHeader(HelloHeader{PositionX: pos.X, PositionY: pos.Y}, buf[TypeHeaderSize:]); err != nil {
		b.logger.Error("marshal hello header failed", slog.Any("error", err))
		return
	}

	b.mu.Lock()
	ifaces := make([]beaconInterface, 0, len(b.interfaces))
	for _, bi := range b.interfaces {
		ifaces = append(ifaces, bi)
	}
	b.mu.Unlock()

	for _, bi := range ifaces {
		if err := bi.sock.SetTTL(1); err != nil {
			b.logger.Warn("set hello TTL failed", slog.String("iface", bi.name), slog.Any("error", err))
			continue
		}
		if err := bi.sock.SendTo(context.Background(), buf, bi.broadcast); err != nil {
			b.logger.Warn("send hello failed", slog.String("iface", bi.name), slog.Any("error", err))
		}
	}
}

// reschedule arms the next hello fire at now + interval +
// Uniform(-interval/2, +interval/2) (spec §4.D point 3).
func (b *Beacon) reschedule() {
	delay := b.interval + jitter(b.rng, -b.interval/2, b.interval/2)
	b.timer = b.sched.ScheduleAt(delay, b.fire)
}

// jitter draws a uniform random duration in [lo, hi).
func jitter(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := hi - lo
	return lo + time.Duration(rng.Int64N(int64(span)))
}
