package gpsr

import (
	"context"
	"log/slog"
	"net/netip"
	"time"
)

// -------------------------------------------------------------------------
// ProtocolHost — spec §4.F, §3 "Routing host state"
// -------------------------------------------------------------------------

// HostConfig bundles every setting and collaborator a ProtocolHost needs.
type HostConfig struct {
	NodeID          uint64
	HelloInterval   time.Duration
	EntryLifetime   time.Duration
	MaxQueueLen     int
	MaxQueueTime    time.Duration
	RecoveryEnabled bool
	ControlPort     uint16
	Metrics         RecoveryMetrics

	Scheduler Scheduler
	Ipv4      Ipv4
	Mobility  Mobility
	Locator   Locator
	Logger    *slog.Logger
}

// ifaceBinding is the per-interface socket state a ProtocolHost tracks
// between notify_interface_up and notify_interface_down.
type ifaceBinding struct {
	sock      Socket
	broadcast netip.Addr
}

// ProtocolHost binds the forwarding engine, position table, deferred
// queue, and beaconer to the network stack: socket lifecycle per
// interface, inbound hello demultiplex, routing-hook entry points, and
// the queue-drain timer.
type ProtocolHost struct {
	cfg    HostConfig
	logger *slog.Logger

	ptable *PositionTable
	queue  *DeferredQueue
	engine *Engine
	beacon *Beacon

	ifaces     map[string]ifaceBinding
	drainTimer TimerHandle
}

// NewProtocolHost constructs a ProtocolHost and its owned position table,
// deferred queue, engine, and beaconer from cfg.
func NewProtocolHost(cfg HostConfig) *ProtocolHost {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "gpsr.host"))

	ptable := NewPositionTable(cfg.Scheduler, cfg.EntryLifetime, logger)
	queue := NewDeferredQueue(cfg.Scheduler, cfg.MaxQueueLen, cfg.MaxQueueTime, logger)
	engine := NewEngine(EngineConfig{
		PositionTable:   ptable,
		Queue:           queue,
		Locator:         cfg.Locator,
		Mobility:        cfg.Mobility,
		Ipv4:            cfg.Ipv4,
		RecoveryEnabled: cfg.RecoveryEnabled,
		Metrics:         cfg.Metrics,
		Logger:          logger,
	})
	beacon := NewBeacon(cfg.Scheduler, cfg.Mobility, cfg.HelloInterval, cfg.NodeID, logger)

	return &ProtocolHost{
		cfg:    cfg,
		logger: logger,
		ptable: ptable,
		queue:  queue,
		engine: engine,
		beacon: beacon,
		ifaces: make(map[string]ifaceBinding),
	}
}

// PositionTable exposes the host's position table for metrics/diagnostics.
func (h *ProtocolHost) PositionTable() *PositionTable { return h.ptable }

// Queue exposes the host's deferred queue for metrics/diagnostics.
func (h *ProtocolHost) Queue() *DeferredQueue { return h.queue }

// Start arms the beaconer and the queue-drain timer.
func (h *ProtocolHost) Start() {
	h.beacon.Start()
	h.scheduleDrain()
}

// Stop cancels all pending timers.
func (h *ProtocolHost) Stop() {
	h.beacon.Stop()
	h.cfg.Scheduler.Cancel(h.drainTimer)
}

func (h *ProtocolHost) scheduleDrain() {
	h.drainTimer = h.cfg.Scheduler.ScheduleAt(h.cfg.HelloInterval, h.onDrainTimer)
}

func (h *ProtocolHost) onDrainTimer() {
	h.engine.DrainQueue()
	h.scheduleDrain()
}

// -------------------------------------------------------------------------
// Interface events — spec §4.E "Interface events (Protocol host)"
// -------------------------------------------------------------------------

const loopbackInterface = "lo"

// NotifyInterfaceUp binds sock to the configured control port, enables
// broadcast and TTL 1 on it, installs the hello receive callback, and
// binds the interface to the beaconer. Loopback is ignored for
// beaconing.
func (h *ProtocolHost) NotifyInterfaceUp(iface string, sock Socket, broadcastAddr netip.Addr) error {
	if err := sock.Bind(netip.IPv4Unspecified(), h.cfg.ControlPort); err != nil {
		return err
	}
	if err := sock.SetBroadcast(true); err != nil {
		return err
	}
	if err := sock.SetTTL(1); err != nil {
		return err
	}
	sock.OnReceive(func(buf []byte, src netip.Addr) {
		h.onReceive(buf, src)
	})

	h.ifaces[iface] = ifaceBinding{sock: sock, broadcast: broadcastAddr}
	if iface != loopbackInterface {
		h.beacon.BindInterface(iface, sock, broadcastAddr)
	}
	h.logger.Info("interface up", slog.String("iface", iface))
	return nil
}

// NotifyInterfaceDown closes and forgets the socket for iface. If no
// sockets remain, the position table is cleared (spec §4.E).
func (h *ProtocolHost) NotifyInterfaceDown(iface string) {
	binding, ok := h.ifaces[iface]
	if !ok {
		return
	}
	h.beacon.UnbindInterface(iface)
	_ = binding.sock.Close()
	delete(h.ifaces, iface)

	if len(h.ifaces) == 0 {
		h.clearPositionTable()
	}
	h.logger.Info("interface down", slog.String("iface", iface))
}

func (h *ProtocolHost) clearPositionTable() {
	for _, ip := range h.ptable.neighborIPs() {
		h.ptable.DeleteEntry(ip)
	}
}

// NotifyAddAddress and NotifyRemoveAddress mirror interface up/down at
// address granularity (spec §4.E "Address add/remove mirror the above").
func (h *ProtocolHost) NotifyAddAddress(iface string, sock Socket, broadcastAddr netip.Addr) error {
	return h.NotifyInterfaceUp(iface, sock, broadcastAddr)
}

// NotifyRemoveAddress removes iface's binding.
func (h *ProtocolHost) NotifyRemoveAddress(iface string) {
	h.NotifyInterfaceDown(iface)
}

// -------------------------------------------------------------------------
// Inbound hello demultiplex — spec §2 "Hellos flow"
// -------------------------------------------------------------------------

func (h *ProtocolHost) onReceive(buf []byte, src netip.Addr) {
	th, n, err := UnmarshalTypeHeader(buf)
	if err != nil {
		h.logger.Debug("short packet, dropping", slog.Any("error", err))
		return
	}
	if !th.Valid {
		h.logger.Debug("malformed header, dropping silently", slog.String("src", src.String()))
		return
	}

	switch th.Type {
	case HeaderTypeHello:
		hello, _, err := UnmarshalHelloHeader(buf[n:])
		if err != nil {
			h.logger.Debug("malformed hello, dropping silently", slog.Any("error", err))
			return
		}
		h.ptable.AddEntry(src, hello.Position())
	case HeaderTypePosition:
		// Position headers travel encapsulated inside data packets
		// handled by RouteInput, not the control socket; receipt here
		// indicates a malformed or unexpected frame.
		h.logger.Debug("unexpected standalone position header, dropping", slog.String("src", src.String()))
	}
}

// -------------------------------------------------------------------------
// Routing-hook entry points — spec §4.E, §6
// -------------------------------------------------------------------------

// RouteOutput is the routing-hook entry point for locally originated
// packets (spec §2 "Data flow for a locally originated packet").
func (h *ProtocolHost) RouteOutput(pkt *Packet, forwardCB ForwardFunc, errorCB ErrorFunc) (Route, bool) {
	return h.engine.RouteOutput(pkt, forwardCB, errorCB)
}

// RouteInput is the routing-hook entry point for transit packets.
func (h *ProtocolHost) RouteInput(pkt *Packet, iif string, isBroadcast bool, localCB func(*Packet), forwardCB ForwardFunc, errorCB ErrorFunc) InputResult {
	return h.engine.RouteInput(pkt, iif, isBroadcast, localCB, forwardCB, errorCB)
}

// SendPosition marshals pkt's position header (present only while the
// packet is in recovery, per spec §9's narrowing) and prepends it to
// payload, returning the bytes to transmit on the wire.
func SendPosition(pkt *Packet, payload []byte) ([]byte, error) {
	if pkt.Header == nil || !pkt.Header.RecoveryFlag {
		return payload, nil
	}
	out := make([]byte, TypeHeaderSize+PositionHeaderSize+len(payload))
	if _, err := MarshalTypeHeader(TypeHeader{Type: HeaderTypePosition}, out); err != nil {
		return nil, err
	}
	if _, err := MarshalPositionHeader(*pkt.Header, out[TypeHeaderSize:]); err != nil {
		return nil, err
	}
	copy(out[TypeHeaderSize+PositionHeaderSize:], payload)
	return out, nil
}

// ReceivePosition strips and interprets a leading position header from an
// inbound data packet, if one is present. ok is false when the payload
// was not prefixed with a POSITION header, in which case payload is
// returned unchanged.
func ReceivePosition(ctx context.Context, buf []byte) (hdr *PositionHeader, payload []byte, ok bool, err error) {
	_ = ctx
	th, n, err := UnmarshalTypeHeader(buf)
	if err != nil {
		return nil, buf, false, err
	}
	if !th.Valid || th.Type != HeaderTypePosition {
		return nil, buf, false, nil
	}
	h, m, err := UnmarshalPositionHeader(buf[n:])
	if err != nil {
		return nil, buf, false, err
	}
	return &h, buf[n+m:], true, nil
}
