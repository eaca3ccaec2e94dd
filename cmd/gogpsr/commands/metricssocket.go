package commands

import (
	"context"
	"net/netip"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
	"github.com/gpsr-go/gogpsr/internal/gpsrmetrics"
	"github.com/gpsr-go/gogpsr/internal/netio"
)

// metricsSocket decorates a gpsr.Socket with Prometheus counters and
// learns the sending interface's next-hop mapping into an Ipv4Stack, so
// the forwarding engine can resolve a greedy next hop to an outgoing
// interface without the core package depending on metrics or the
// network stack directly.
type metricsSocket struct {
	gpsr.Socket
	iface     string
	ipv4      *netio.Ipv4Stack
	collector *gpsrmetrics.Collector
}

func newMetricsSocket(iface string, sock gpsr.Socket, ipv4 *netio.Ipv4Stack, collector *gpsrmetrics.Collector) *metricsSocket {
	return &metricsSocket{Socket: sock, iface: iface, ipv4: ipv4, collector: collector}
}

func (s *metricsSocket) SendTo(ctx context.Context, buf []byte, dst netip.Addr) error {
	if err := s.Socket.SendTo(ctx, buf, dst); err != nil {
		return err
	}
	s.collector.IncHelloSent(s.iface)
	return nil
}

func (s *metricsSocket) OnReceive(fn func(buf []byte, src netip.Addr)) {
	s.Socket.OnReceive(func(buf []byte, src netip.Addr) {
		s.ipv4.LearnNeighbor(src, s.iface)
		s.collector.IncHelloReceived(s.iface)
		fn(buf, src)
	})
}

var _ gpsr.Socket = (*metricsSocket)(nil)
