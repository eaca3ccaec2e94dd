package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/gpsr-go/gogpsr/internal/clocksched"
	"github.com/gpsr-go/gogpsr/internal/config"
	"github.com/gpsr-go/gogpsr/internal/gpsr"
	"github.com/gpsr-go/gogpsr/internal/gpsrmetrics"
	"github.com/gpsr-go/gogpsr/internal/locator"
	"github.com/gpsr-go/gogpsr/internal/mobility"
	"github.com/gpsr-go/gogpsr/internal/netio"
)

// node bundles everything buildNode assembles, so run and send share one
// construction path.
type node struct {
	host      *gpsr.ProtocolHost
	ipv4      *netio.Ipv4Stack
	scheduler gpsr.Scheduler
}

// loadConfig loads configuration from path, or returns defaults if path
// is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	return cfg, nil
}

// newLogger creates a structured logger per cfg.Log.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// buildMobility constructs the node's Mobility collaborator: a waypoint
// trace if configured, otherwise a fixed position.
func buildMobility(sched gpsr.Scheduler, cfg config.NodeConfig) (gpsr.Mobility, error) {
	if cfg.WaypointFile == "" {
		return mobility.NewStaticMobility(gpsr.Position{X: cfg.Position.X, Y: cfg.Position.Y}), nil
	}
	waypoints, err := mobility.LoadWaypoints(cfg.WaypointFile)
	if err != nil {
		return nil, fmt.Errorf("load waypoint trace: %w", err)
	}
	return mobility.NewWaypointMobility(sched, waypoints), nil
}

// buildLocator constructs the node's Locator from the configured static
// peer table.
func buildLocator(cfg config.NodeConfig) (*locator.StaticLocator, error) {
	table := make(map[netip.Addr]gpsr.Position, len(cfg.Peers))
	for _, pc := range cfg.Peers {
		addr, err := pc.AddrParsed()
		if err != nil {
			return nil, fmt.Errorf("locator peer: %w", err)
		}
		table[addr] = gpsr.Position{X: pc.Position.X, Y: pc.Position.Y}
	}
	return locator.NewStaticLocator(table), nil
}

// buildNode assembles a ProtocolHost and its Ipv4 collaborator from cfg,
// wiring the real-time scheduler, static or waypoint mobility, the
// static locator, and collector as the engine's recovery-transition
// counters.
func buildNode(cfg *config.Config, logger *slog.Logger, collector *gpsrmetrics.Collector) (*node, error) {
	sched := clocksched.New(clockwork.NewRealClock())

	mob, err := buildMobility(sched, cfg.Node)
	if err != nil {
		return nil, err
	}
	loc, err := buildLocator(cfg.Node)
	if err != nil {
		return nil, err
	}
	ipv4 := netio.NewIpv4Stack()

	host := gpsr.NewProtocolHost(gpsr.HostConfig{
		NodeID:          cfg.Node.ID,
		HelloInterval:   cfg.GPSR.HelloInterval,
		EntryLifetime:   cfg.GPSR.EntryLifetime,
		MaxQueueLen:     cfg.GPSR.MaxQueueLen,
		MaxQueueTime:    cfg.GPSR.MaxQueueTime,
		RecoveryEnabled: cfg.GPSR.PerimeterMode,
		ControlPort:     cfg.GPSR.ControlPort,
		Metrics:         collector,
		Scheduler:       sched,
		Ipv4:            ipv4,
		Mobility:        mob,
		Locator:         loc,
		Logger:          logger,
	})

	return &node{host: host, ipv4: ipv4, scheduler: sched}, nil
}

// metricsForwarding wraps forwardCB/errorCB so every packet disposition
// delivered through them is counted on collector: the DeferredQueue
// stores these callbacks and invokes them when a deferred packet is
// drained, evicted, or times out. RouteOutput does not invoke them for
// its own immediate attempt, so a caller counts that outcome itself (as
// send does on success).
func metricsForwarding(collector *gpsrmetrics.Collector, forwardCB gpsr.ForwardFunc, errorCB gpsr.ErrorFunc) (gpsr.ForwardFunc, gpsr.ErrorFunc) {
	wrappedForward := func(r gpsr.Route, pkt *gpsr.Packet) {
		collector.IncPacketsDelivered()
		if forwardCB != nil {
			forwardCB(r, pkt)
		}
	}
	wrappedError := func(pkt *gpsr.Packet, routeErr error) {
		collector.IncPacketsDropped(dropReason(routeErr))
		if errorCB != nil {
			errorCB(pkt, routeErr)
		}
	}
	return wrappedForward, wrappedError
}

// dropReason maps a routing sentinel error to the short label collector
// exposes it under.
func dropReason(err error) string {
	switch {
	case errors.Is(err, gpsr.ErrQueueTimeout):
		return "queue_timeout"
	case errors.Is(err, gpsr.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, gpsr.ErrUnknownDestination):
		return "unknown_destination"
	case errors.Is(err, gpsr.ErrNoInterface):
		return "no_interface"
	case errors.Is(err, gpsr.ErrMalformedHeader):
		return "malformed"
	case errors.Is(err, gpsr.ErrNoRouteToHost):
		return "no_route"
	default:
		return "other"
	}
}
