// Package gpsrmetrics exposes Prometheus metrics for a running GPSR node.
package gpsrmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "gogpsr"
	subsystem = "gpsr"
)

// Label names for GPSR metrics.
const (
	labelIface     = "iface"
	labelReason    = "reason"
	labelDirection = "direction"
)

// Collector holds all GPSR Prometheus metrics.
//
// Metrics are grouped by the subsystem they observe:
//   - NeighborTableSize and QueueDepth are point-in-time gauges.
//   - Hello, Delivered, Dropped, and Recovery are cumulative counters.
type Collector struct {
	// NeighborTableSize tracks the current number of live entries in the
	// position table. Set only through SetNeighborTableSize, which the
	// run command calls on a periodic poll.
	NeighborTableSize *prometheus.GaugeVec

	// QueueDepth tracks the current number of packets held in the
	// deferred queue awaiting a route.
	QueueDepth prometheus.Gauge

	// HelloPackets counts hello beacons sent and received per interface,
	// labeled by direction ("tx"/"rx").
	HelloPackets *prometheus.CounterVec

	// PacketsDelivered counts packets successfully forwarded or
	// delivered locally.
	PacketsDelivered prometheus.Counter

	// PacketsDropped counts packets dropped, labeled by the reason
	// (e.g. "no_route", "queue_full", "queue_timeout", "malformed").
	PacketsDropped *prometheus.CounterVec

	// RecoveryTransitions counts entries into and exits from perimeter
	// recovery mode, labeled by direction ("enter"/"exit").
	RecoveryTransitions *prometheus.CounterVec
}

// NewCollector creates a Collector with all GPSR metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.NeighborTableSize,
		c.QueueDepth,
		c.HelloPackets,
		c.PacketsDelivered,
		c.PacketsDropped,
		c.RecoveryTransitions,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		NeighborTableSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "neighbor_table_size",
			Help:      "Current number of live entries in the neighbor position table.",
		}, []string{labelIface}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deferred_queue_depth",
			Help:      "Current number of packets held in the deferred queue.",
		}),

		HelloPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "hello_packets_total",
			Help:      "Total hello beacons sent and received, by interface and direction.",
		}, []string{labelIface, labelDirection}),

		PacketsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_delivered_total",
			Help:      "Total packets successfully forwarded or delivered locally.",
		}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped, labeled by reason.",
		}, []string{labelReason}),

		RecoveryTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovery_transitions_total",
			Help:      "Total perimeter recovery mode entries and exits.",
		}, []string{labelDirection}),
	}
}

// -------------------------------------------------------------------------
// Neighbor table
// -------------------------------------------------------------------------

// SetNeighborTableSize records the current live entry count for iface.
func (c *Collector) SetNeighborTableSize(iface string, n int) {
	c.NeighborTableSize.WithLabelValues(iface).Set(float64(n))
}

// -------------------------------------------------------------------------
// Deferred queue
// -------------------------------------------------------------------------

// SetQueueDepth records the current deferred queue length.
func (c *Collector) SetQueueDepth(n int) {
	c.QueueDepth.Set(float64(n))
}

// -------------------------------------------------------------------------
// Hello beacons
// -------------------------------------------------------------------------

// IncHelloSent increments the hello-sent counter for iface.
func (c *Collector) IncHelloSent(iface string) {
	c.HelloPackets.WithLabelValues(iface, "tx").Inc()
}

// IncHelloReceived increments the hello-received counter for iface.
func (c *Collector) IncHelloReceived(iface string) {
	c.HelloPackets.WithLabelValues(iface, "rx").Inc()
}

// -------------------------------------------------------------------------
// Packet outcomes
// -------------------------------------------------------------------------

// IncPacketsDelivered increments the delivered-packets counter.
func (c *Collector) IncPacketsDelivered() {
	c.PacketsDelivered.Inc()
}

// IncPacketsDropped increments the dropped-packets counter for reason.
// Callers pass the sentinel error's short name (e.g. "no_route",
// "queue_full", "queue_timeout", "malformed", "unknown_destination").
func (c *Collector) IncPacketsDropped(reason string) {
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

// -------------------------------------------------------------------------
// Recovery mode
// -------------------------------------------------------------------------

// IncRecoveryEntered increments the recovery-mode-entered counter.
func (c *Collector) IncRecoveryEntered() {
	c.RecoveryTransitions.WithLabelValues("enter").Inc()
}

// IncRecoveryExited increments the recovery-mode-exited counter.
func (c *Collector) IncRecoveryExited() {
	c.RecoveryTransitions.WithLabelValues("exit").Inc()
}
