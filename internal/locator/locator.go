// Package locator provides gpsr.Locator implementations that resolve a
// destination IPv4 address to its geographic position.
package locator

import (
	"net/netip"
	"sync"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
)

// StaticLocator is a goroutine-safe IP -> position map, suitable for a
// closed test topology or a small deployment where node positions are
// configured up front rather than discovered via a real location
// service.
type StaticLocator struct {
	mu    sync.RWMutex
	table map[netip.Addr]gpsr.Position
}

// NewStaticLocator creates a locator seeded with the given table. A nil
// table starts empty.
func NewStaticLocator(table map[netip.Addr]gpsr.Position) *StaticLocator {
	l := &StaticLocator{table: make(map[netip.Addr]gpsr.Position, len(table))}
	for ip, pos := range table {
		l.table[ip] = pos
	}
	return l
}

// PositionOf returns the configured position of ip, if any.
func (l *StaticLocator) PositionOf(ip netip.Addr) (gpsr.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.table[ip]
	return pos, ok
}

// Set updates or inserts ip's position.
func (l *StaticLocator) Set(ip netip.Addr, pos gpsr.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table[ip] = pos
}

// Remove deletes ip from the table.
func (l *StaticLocator) Remove(ip netip.Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.table, ip)
}

var _ gpsr.Locator = (*StaticLocator)(nil)
