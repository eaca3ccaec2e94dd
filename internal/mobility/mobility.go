// Package mobility provides gpsr.Mobility implementations describing how
// a node's own position evolves over time.
package mobility

import (
	"sync"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
)

// StaticMobility reports a fixed position for the node's entire
// lifetime.
type StaticMobility struct {
	mu  sync.RWMutex
	pos gpsr.Position
}

// NewStaticMobility creates a StaticMobility fixed at pos.
func NewStaticMobility(pos gpsr.Position) *StaticMobility {
	return &StaticMobility{pos: pos}
}

// Position always returns the configured position.
func (m *StaticMobility) Position() (gpsr.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pos, true
}

// Set updates the reported position (e.g. an operator-driven move in a
// test topology).
func (m *StaticMobility) Set(pos gpsr.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = pos
}

var _ gpsr.Mobility = (*StaticMobility)(nil)
