package netio

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

// -------------------------------------------------------------------------
// InterfaceWatcher — network interface state change detection
// -------------------------------------------------------------------------

// InterfaceEvent represents a network interface state change, used by
// the protocol host to create or tear down a broadcast socket per
// interface (spec §4.E "Interface events").
type InterfaceEvent struct {
	IfName  string
	IfIndex int
	Up      bool
	// Broadcast is the IPv4 broadcast address for the interface's first
	// configured address, valid only when Up is true.
	Broadcast netip.Addr
}

// InterfaceWatcher polls net.Interfaces for state changes and emits an
// event on every up/down transition. Polling rather than NETLINK_ROUTE
// keeps the watcher portable across the platforms net package supports;
// a future implementation may switch to mdlayher/netlink for real-time
// Linux notification.
type InterfaceWatcher struct {
	interval time.Duration
	events   chan InterfaceEvent
	logger   *slog.Logger

	known map[string]bool
}

// NewInterfaceWatcher creates a watcher that polls every interval.
func NewInterfaceWatcher(interval time.Duration, logger *slog.Logger) *InterfaceWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InterfaceWatcher{
		interval: interval,
		events:   make(chan InterfaceEvent, 16),
		logger:   logger.With(slog.String("component", "netio.ifmon")),
		known:    make(map[string]bool),
	}
}

// Events returns the channel event are delivered on. Closed when Run
// returns.
func (w *InterfaceWatcher) Events() <-chan InterfaceEvent {
	return w.events
}

// Run polls until ctx is cancelled, emitting one event per up/down
// transition it observes.
func (w *InterfaceWatcher) Run(ctx context.Context) error {
	defer close(w.events)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *InterfaceWatcher) poll() {
	ifaces, err := net.Interfaces()
	if err != nil {
		w.logger.Warn("enumerate interfaces failed", slog.Any("error", err))
		return
	}

	seen := make(map[string]bool, len(ifaces))
	for _, ifi := range ifaces {
		up := ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagBroadcast != 0
		seen[ifi.Name] = up

		was, tracked := w.known[ifi.Name]
		if tracked && was == up {
			continue
		}

		ev := InterfaceEvent{IfName: ifi.Name, IfIndex: ifi.Index, Up: up}
		if up {
			if bcast, ok := broadcastAddrOf(ifi); ok {
				ev.Broadcast = bcast
			}
		}
		w.emit(ev)
	}

	for name := range w.known {
		if _, ok := seen[name]; !ok {
			w.emit(InterfaceEvent{IfName: name, Up: false})
		}
	}
	w.known = seen
}

func (w *InterfaceWatcher) emit(ev InterfaceEvent) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("interface event dropped, channel full", slog.String("iface", ev.IfName))
	}
}

func broadcastAddrOf(ifi net.Interface) (netip.Addr, bool) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return netip.Addr{}, false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		bcast := make(net.IP, 4)
		mask := ipNet.Mask
		for i := range ip4 {
			bcast[i] = ip4[i] | ^mask[i]
		}
		addr, ok := netip.AddrFromSlice(bcast)
		if !ok {
			continue
		}
		return addr, true
	}
	return netip.Addr{}, false
}
