package locator

import (
	"context"
	"net/netip"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
)

// ServiceResolver is the minimal surface a real location service client
// needs to satisfy for ServiceLocator to wrap it: resolve one address
// at a time, with a context for cancellation/timeout.
type ServiceResolver interface {
	ResolvePosition(ctx context.Context, ip netip.Addr) (gpsr.Position, error)
}

// ServiceLocator adapts a ServiceResolver (a real-deployment location
// service client) to gpsr.Locator. It is the substitution point a
// deployment uses in place of StaticLocator once destination positions
// are no longer known up front; no concrete resolver ships here, since
// the protocol specifies greedy forwarding over a position oracle and
// deliberately leaves discovery of that oracle's backing store open.
type ServiceLocator struct {
	resolver ServiceResolver
	ctx      context.Context
}

// NewServiceLocator wraps resolver, using ctx for every PositionOf call.
func NewServiceLocator(ctx context.Context, resolver ServiceResolver) *ServiceLocator {
	return &ServiceLocator{resolver: resolver, ctx: ctx}
}

// PositionOf synchronously resolves ip via the wrapped ServiceResolver,
// collapsing any error to ok=false: Locator's contract has no room for
// errors beyond "unknown right now".
func (l *ServiceLocator) PositionOf(ip netip.Addr) (gpsr.Position, bool) {
	pos, err := l.resolver.ResolvePosition(l.ctx, ip)
	if err != nil {
		return gpsr.Position{}, false
	}
	return pos, true
}

var _ gpsr.Locator = (*ServiceLocator)(nil)
