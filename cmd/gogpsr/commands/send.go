package commands

import (
	"fmt"
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
	"github.com/gpsr-go/gogpsr/internal/gpsrmetrics"
)

func sendCmd() *cobra.Command {
	var dst string
	var payload string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Inject a single test datagram into a node's forwarding engine",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return sendPacket(configPath, dst, payload)
		},
	}

	cmd.Flags().StringVar(&dst, "dst", "", "destination IPv4 address (required)")
	cmd.Flags().StringVar(&payload, "payload", "ping", "payload bytes to send, as a UTF-8 string")
	_ = cmd.MarkFlagRequired("dst")

	return cmd
}

func sendPacket(cfgPath, dstStr, payload string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	dst, err := netip.ParseAddr(dstStr)
	if err != nil {
		return fmt.Errorf("parse destination address %q: %w", dstStr, err)
	}

	logger := newLogger(cfg.Log)
	collector := gpsrmetrics.NewCollector(prometheus.NewRegistry())
	n, err := buildNode(cfg, logger, collector)
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}

	src := srcAddr(n, cfg.Node.Interfaces)

	pkt := gpsr.NewPacket(src, dst, []byte(payload))

	forwardCB, errorCB := metricsForwarding(collector,
		func(r gpsr.Route, _ *gpsr.Packet) {
			fmt.Printf("forwarded (deferred): next hop %s via %s\n", r.Gateway, r.OutputInterface)
		},
		func(_ *gpsr.Packet, routeErr error) {
			fmt.Printf("dropped (deferred): %v\n", routeErr)
		},
	)
	route, ok := n.host.RouteOutput(pkt, forwardCB, errorCB)

	if !ok {
		fmt.Println("queued: no route available yet, packet deferred")
		return nil
	}
	collector.IncPacketsDelivered()
	fmt.Printf("forwarded: next hop %s via %s\n", route.Gateway, route.OutputInterface)
	return nil
}

// srcAddr picks the source address to stamp on a manually-injected
// packet: the first address on the first configured interface, or
// loopback if none is configured or resolvable.
func srcAddr(n *node, interfaces []string) netip.Addr {
	for _, iface := range interfaces {
		if addr, ok := n.ipv4.GetAddress(iface, 0); ok {
			return addr
		}
	}
	return netip.MustParseAddr("127.0.0.1")
}
