package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gpsr-go/gogpsr/internal/config"
	"github.com/gpsr-go/gogpsr/internal/gpsrmetrics"
	"github.com/gpsr-go/gogpsr/internal/netio"
	appversion "github.com/gpsr-go/gogpsr/internal/version"
)

// statsPollInterval is how often the running node's neighbor table and
// deferred queue sizes are sampled into gauges.
const statsPollInterval = 5 * time.Second

// allInterfacesLabel is the neighbor-table-size gauge label used when a
// node's position table isn't broken out per interface (spec's table is
// node-global, not per-link).
const allInterfacesLabel = "all"

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a GPSR node",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runNode(configPath)
		},
	}
}

func runNode(cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	logger.Info("gogpsr starting",
		slog.String("version", appversion.Version),
		slog.Uint64("node_id", cfg.Node.ID),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := gpsrmetrics.NewCollector(reg)

	n, err := buildNode(cfg, logger, collector)
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	watcher := netio.NewInterfaceWatcher(time.Second, logger)
	g.Go(func() error {
		return watcher.Run(gCtx)
	})
	g.Go(func() error {
		return watchInterfaces(gCtx, watcher, n, cfg, collector, logger)
	})

	g.Go(func() error {
		return pollStats(gCtx, n, collector)
	})

	n.host.Start()

	g.Go(func() error {
		<-gCtx.Done()
		return shutdown(n, metricsSrv, logger)
	})

	if err := g.Wait(); err != nil && gCtx.Err() == nil {
		return fmt.Errorf("run node: %w", err)
	}

	logger.Info("gogpsr stopped")
	return nil
}

// watchInterfaces consumes interface up/down events and binds/unbinds
// sockets on the configured interfaces (or every interface the watcher
// reports, when none are explicitly configured).
func watchInterfaces(
	ctx context.Context,
	watcher *netio.InterfaceWatcher,
	n *node,
	cfg *config.Config,
	collector *gpsrmetrics.Collector,
	logger *slog.Logger,
) error {
	wanted := make(map[string]bool, len(cfg.Node.Interfaces))
	for _, name := range cfg.Node.Interfaces {
		wanted[name] = true
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			if len(wanted) > 0 && !wanted[ev.IfName] {
				continue
			}
			if ev.Up {
				if err := bindInterface(n, ev, collector, logger); err != nil {
					logger.Warn("failed to bind interface",
						slog.String("iface", ev.IfName),
						slog.Any("error", err))
				}
				continue
			}
			n.host.NotifyInterfaceDown(ev.IfName)
		}
	}
}

func bindInterface(n *node, ev netio.InterfaceEvent, collector *gpsrmetrics.Collector, logger *slog.Logger) error {
	sock := netio.NewBroadcastSocket()
	wrapped := newMetricsSocket(ev.IfName, sock, n.ipv4, collector)
	return n.host.NotifyInterfaceUp(ev.IfName, wrapped, ev.Broadcast)
}

// pollStats periodically samples the node's neighbor table and deferred
// queue sizes into gauges.
func pollStats(ctx context.Context, n *node, collector *gpsrmetrics.Collector) error {
	ticker := time.NewTicker(statsPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			collector.SetNeighborTableSize(allInterfacesLabel, n.host.PositionTable().Size())
			collector.SetQueueDepth(n.host.Queue().Size())
		}
	}
}

func shutdown(n *node, metricsSrv *http.Server, logger *slog.Logger) error {
	logger.Info("shutting down")
	n.host.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}
