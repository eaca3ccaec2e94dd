package gpsr

import (
	"log/slog"
	"net/netip"
)

// -------------------------------------------------------------------------
// Engine — the forwarding engine, spec §4.E
// -------------------------------------------------------------------------

// RecoveryMetrics receives perimeter recovery mode transition counts.
// Forwarding outcomes (delivered/dropped) are observable from outside
// the engine via ForwardFunc/ErrorFunc and don't need this interface;
// recovery entry/exit is a state transition internal to greedyForward
// and continueRecovery, so it is reported directly.
type RecoveryMetrics interface {
	IncRecoveryEntered()
	IncRecoveryExited()
}

type noopRecoveryMetrics struct{}

func (noopRecoveryMetrics) IncRecoveryEntered() {}
func (noopRecoveryMetrics) IncRecoveryExited()  {}

// Engine dispatches locally originated and transit datagrams through
// greedy forwarding with right-hand-rule perimeter recovery. It has no
// socket or scheduler state of its own beyond what it is constructed
// with; ProtocolHost binds it to the network stack.
type Engine struct {
	ptable          *PositionTable
	queue           *DeferredQueue
	locator         Locator
	mobility        Mobility
	ipv4            Ipv4
	recoveryEnabled bool
	metrics         RecoveryMetrics
	logger          *slog.Logger
}

// EngineConfig bundles the collaborators an Engine needs.
type EngineConfig struct {
	PositionTable   *PositionTable
	Queue           *DeferredQueue
	Locator         Locator
	Mobility        Mobility
	Ipv4            Ipv4
	RecoveryEnabled bool
	Metrics         RecoveryMetrics
	Logger          *slog.Logger
}

// NewEngine constructs an Engine from cfg.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopRecoveryMetrics{}
	}
	return &Engine{
		ptable:          cfg.PositionTable,
		queue:           cfg.Queue,
		locator:         cfg.Locator,
		mobility:        cfg.Mobility,
		ipv4:            cfg.Ipv4,
		recoveryEnabled: cfg.RecoveryEnabled,
		metrics:         metrics,
		logger:          logger.With(slog.String("component", "gpsr.forward")),
	}
}

func (e *Engine) myPosition() (Position, bool) {
	return e.mobility.Position()
}

// -------------------------------------------------------------------------
// RouteOutput — locally originated packets
// -------------------------------------------------------------------------

// RouteOutput resolves a next hop for a locally originated packet. On
// success it returns a Route bound to the interface that owns the next
// hop. On failure — unknown own or destination position, no greedy
// candidate, or no interface for the next hop — it enqueues pkt in the
// deferred queue (via forwardCB / errorCB) and returns ok=false so the
// caller can re-present the packet after a delay (a "loopback
// placeholder", spec §4.E point 1). RouteOutput does not attempt
// perimeter recovery itself; DrainQueue does for deferred packets.
func (e *Engine) RouteOutput(pkt *Packet, forwardCB ForwardFunc, errorCB ErrorFunc) (Route, bool) {
	myPos, ok := e.myPosition()
	if !ok {
		e.logger.Debug("own position unavailable, deferring", slog.String("dst", pkt.Dst.String()))
		e.enqueue(pkt, forwardCB, errorCB)
		return Route{}, false
	}

	dstPos, ok := e.locator.PositionOf(pkt.Dst)
	if !ok {
		e.logger.Debug("unknown destination position, deferring", slog.String("dst", pkt.Dst.String()))
		e.enqueue(pkt, forwardCB, errorCB)
		return Route{}, false
	}

	if e.ptable.IsNeighbor(pkt.Dst) {
		return e.routeVia(pkt.Dst)
	}

	next := e.ptable.BestNeighbor(dstPos, myPos)
	if isZero(next) {
		e.logger.Debug("no greedy next hop at origination, deferring", slog.String("dst", pkt.Dst.String()))
		e.enqueue(pkt, forwardCB, errorCB)
		return Route{}, false
	}

	route, ok := e.routeVia(next)
	if !ok {
		e.enqueue(pkt, forwardCB, errorCB)
		return Route{}, false
	}
	return route, true
}

func (e *Engine) enqueue(pkt *Packet, forwardCB ForwardFunc, errorCB ErrorFunc) {
	if err := e.queue.Enqueue(pkt, forwardCB, errorCB); err != nil {
		e.logger.Debug("enqueue rejected", slog.Any("error", err))
	}
}

func (e *Engine) routeVia(next netip.Addr) (Route, bool) {
	iface, ok := e.ipv4.GetInterfaceForAddress(next)
	if !ok {
		return Route{}, false
	}
	return Route{Gateway: next, OutputInterface: iface}, true
}

// -------------------------------------------------------------------------
// RouteInput — transit forwarding
// -------------------------------------------------------------------------

// InputResult reports how RouteInput disposed of an inbound packet.
type InputResult uint8

const (
	// ResultNotHandled means the router declined the packet (e.g. a
	// broadcast) and another subsystem may act on it.
	ResultNotHandled InputResult = iota
	// ResultLocal means the packet was destined for this node.
	ResultLocal
	// ResultForwarded means the packet was handed to forwardCB.
	ResultForwarded
	// ResultDropped means the packet was terminally dropped via errorCB.
	ResultDropped
)

// RouteInput processes an inbound transit packet. iif is the interface
// the packet arrived on; broadcast packets are rejected outright (spec
// §4.E point 2) so other subsystems may still act on them.
func (e *Engine) RouteInput(pkt *Packet, iif string, isBroadcast bool, localCB func(*Packet), forwardCB ForwardFunc, errorCB ErrorFunc) InputResult {
	if isBroadcast {
		return ResultNotHandled
	}

	if e.ipv4.IsDestination(pkt.Dst, iif) {
		if localCB != nil {
			localCB(pkt)
		}
		return ResultLocal
	}

	return e.greedyForward(pkt, forwardCB, errorCB)
}

// -------------------------------------------------------------------------
// Queue drain — spec §4.E point 3
// -------------------------------------------------------------------------

// DrainQueue attempts one delivery for each distinct destination with
// queued packets, using the same greedy/recovery logic as transit
// forwarding. Packets that succeed are handed to their stored
// ForwardCB; packets that fail even in recovery are dropped via their
// ErrorCB. While this node's own position or a destination's position
// is unknown, the affected packets stay queued until it resolves or
// their deadline passes.
func (e *Engine) DrainQueue() {
	e.queue.Purge()
	if _, ok := e.myPosition(); !ok {
		return
	}

	for _, dst := range e.queue.Destinations() {
		if _, ok := e.locator.PositionOf(dst); !ok {
			continue
		}
		entry, ok := e.queue.DequeueFor(dst)
		if !ok {
			continue
		}
		e.greedyForward(entry.Packet, entry.ForwardCB, entry.ErrorCB)
	}
}

// -------------------------------------------------------------------------
// Greedy forwarding and recovery mode — spec §4.E
// -------------------------------------------------------------------------

// greedyForward is the shared core of transit forwarding and queue
// drain: resolve dst_pos (from the packet's position header if present,
// else the locator), attempt a greedy next hop, and fall through to
// recovery mode on failure.
func (e *Engine) greedyForward(pkt *Packet, forwardCB ForwardFunc, errorCB ErrorFunc) InputResult {
	myPos, ok := e.myPosition()
	if !ok {
		if errorCB != nil {
			errorCB(pkt, ErrUnknownDestination)
		}
		return ResultDropped
	}

	dstPos, ok := e.resolveDstPos(pkt)
	if !ok {
		if errorCB != nil {
			errorCB(pkt, ErrUnknownDestination)
		}
		return ResultDropped
	}

	if pkt.Header != nil && pkt.Header.RecoveryFlag {
		return e.continueRecovery(pkt, myPos, dstPos, forwardCB, errorCB)
	}

	next := e.ptable.BestNeighbor(dstPos, myPos)
	if !isZero(next) {
		route, ok := e.routeVia(next)
		if ok && forwardCB != nil {
			forwardCB(route, pkt)
			return ResultForwarded
		}
	}

	if !e.recoveryEnabled {
		if errorCB != nil {
			errorCB(pkt, ErrNoRouteToHost)
		}
		return ResultDropped
	}

	return e.enterRecovery(pkt, myPos, dstPos, forwardCB, errorCB)
}

// resolveDstPos returns the packet's destination position: from its
// position header if already annotated, else freshly from the locator,
// in which case a plain (non-recovery) header is attached.
func (e *Engine) resolveDstPos(pkt *Packet) (Position, bool) {
	if pkt.Header != nil {
		return pkt.Header.DstPos, true
	}
	pos, ok := e.locator.PositionOf(pkt.Dst)
	if !ok {
		return Position{}, false
	}
	pkt.Header = &PositionHeader{DstPos: pos}
	return pos, true
}

// enterRecovery transitions pkt into recovery mode: strip any stale
// header and attach a fresh one recording the point where greedy
// progress stalled (spec §4.E "Recovery mode" entry).
func (e *Engine) enterRecovery(pkt *Packet, myPos, dstPos Position, forwardCB ForwardFunc, errorCB ErrorFunc) InputResult {
	pkt.Header = &PositionHeader{
		DstPos:       dstPos,
		RecPos:       myPos,
		PrevPos:      myPos,
		RecoveryFlag: true,
	}
	e.metrics.IncRecoveryEntered()
	e.logger.Debug("entering recovery mode", slog.String("dst", pkt.Dst.String()))

	return e.continueRecovery(pkt, myPos, dstPos, forwardCB, errorCB)
}

// continueRecovery implements spec §4.E "Recovery mode" continuation,
// including the mandated greedy-resumption test (spec §9 open question,
// resolved: always re-evaluate on every hop in recovery).
func (e *Engine) continueRecovery(pkt *Packet, myPos, dstPos Position, forwardCB ForwardFunc, errorCB ErrorFunc) InputResult {
	h := pkt.Header

	if myPos.Distance(dstPos) < h.RecPos.Distance(dstPos) {
		h.RecoveryFlag = false
		e.metrics.IncRecoveryExited()

		next := e.ptable.BestNeighbor(dstPos, myPos)
		if !isZero(next) {
			route, ok := e.routeVia(next)
			if ok && forwardCB != nil {
				forwardCB(route, pkt)
				return ResultForwarded
			}
		}

		if !e.recoveryEnabled {
			if errorCB != nil {
				errorCB(pkt, ErrNoRouteToHost)
			}
			return ResultDropped
		}

		// Greedy resumption regressed back to a dead end: re-enter
		// recovery fresh, with rec_pos anchored at the current node,
		// rather than reusing the stale perimeter state.
		return e.enterRecovery(pkt, myPos, dstPos, forwardCB, errorCB)
	}

	next := e.ptable.BestAngle(dstPos, h.RecPos, myPos, h.PrevPos)
	if isZero(next) {
		if errorCB != nil {
			errorCB(pkt, ErrNoRouteToHost)
		}
		return ResultDropped
	}

	route, ok := e.routeVia(next)
	if !ok {
		if errorCB != nil {
			errorCB(pkt, ErrNoInterface)
		}
		return ResultDropped
	}

	fwd := pkt.Clone()
	fwd.Header.PrevPos = myPos
	if forwardCB != nil {
		forwardCB(route, fwd)
		return ResultForwarded
	}
	return ResultDropped
}

func isZero(a netip.Addr) bool {
	return !a.IsValid() || a == netip.IPv4Unspecified()
}
