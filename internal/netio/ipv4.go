package netio

import (
	"net"
	"net/netip"
	"sync"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
)

// Ipv4Stack implements gpsr.Ipv4 over the host's real net.Interfaces(),
// giving the forwarding engine address ownership and link-state answers
// backed by the kernel's own interface table rather than a static test
// topology.
type Ipv4Stack struct {
	mu sync.RWMutex
	// neighbors maps a next-hop address to the interface that owns it,
	// populated through LearnNeighbor as control traffic arrives.
	neighbors map[netip.Addr]string
}

// NewIpv4Stack creates an Ipv4Stack with no known neighbor routes; these
// are learned as hello traffic arrives.
func NewIpv4Stack() *Ipv4Stack {
	return &Ipv4Stack{neighbors: make(map[netip.Addr]string)}
}

// LearnNeighbor records that addr is reachable directly via iface. Called
// whenever a hello is received, so GetInterfaceForAddress can resolve a
// greedy next hop to an outgoing interface.
func (s *Ipv4Stack) LearnNeighbor(addr netip.Addr, iface string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.neighbors[addr] = iface
}

// ForgetNeighbor removes addr's learned interface, e.g. on position table
// eviction.
func (s *Ipv4Stack) ForgetNeighbor(addr netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.neighbors, addr)
}

// GetAddress returns the idx'th IPv4 address configured on iface.
func (s *Ipv4Stack) GetAddress(iface string, idx int) (netip.Addr, bool) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return netip.Addr{}, false
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return netip.Addr{}, false
	}

	count := 0
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		if count == idx {
			addr, ok := netip.AddrFromSlice(ip4)
			return addr, ok
		}
		count++
	}
	return netip.Addr{}, false
}

// IsDestination reports whether addr is configured on any local
// interface, regardless of which interface the packet arrived on (iif
// is accepted for interface-symmetry with the gpsr.Ipv4 contract but
// unused: a routed datagram destined for a local address is local no
// matter which link delivered it).
func (s *Ipv4Stack) IsDestination(addr netip.Addr, iif string) bool {
	_ = iif
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
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
			if got, ok := netip.AddrFromSlice(ip4); ok && got == addr {
				return true
			}
		}
	}
	return false
}

// GetInterfaceForAddress returns the interface a next hop is reachable
// through, from the learned neighbor table.
func (s *Ipv4Stack) GetInterfaceForAddress(addr netip.Addr) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iface, ok := s.neighbors[addr]
	return iface, ok
}

// IsUp reports whether iface currently has an active, broadcast-capable
// link.
func (s *Ipv4Stack) IsUp(iface string) bool {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return false
	}
	return ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagBroadcast != 0
}

var _ gpsr.Ipv4 = (*Ipv4Stack)(nil)
