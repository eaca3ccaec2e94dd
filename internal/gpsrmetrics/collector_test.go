package gpsrmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/gpsr-go/gogpsr/internal/gpsrmetrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gpsrmetrics.NewCollector(reg)

	if c.NeighborTableSize == nil {
		t.Error("NeighborTableSize is nil")
	}
	if c.QueueDepth == nil {
		t.Error("QueueDepth is nil")
	}
	if c.HelloPackets == nil {
		t.Error("HelloPackets is nil")
	}
	if c.PacketsDelivered == nil {
		t.Error("PacketsDelivered is nil")
	}
	if c.PacketsDropped == nil {
		t.Error("PacketsDropped is nil")
	}
	if c.RecoveryTransitions == nil {
		t.Error("RecoveryTransitions is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestNeighborTableSizeGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gpsrmetrics.NewCollector(reg)

	c.SetNeighborTableSize("eth0", 3)
	if got := gaugeValue(t, c.NeighborTableSize, "eth0"); got != 3 {
		t.Errorf("NeighborTableSize = %v, want 3", got)
	}

	c.SetNeighborTableSize("eth0", 1)
	if got := gaugeValue(t, c.NeighborTableSize, "eth0"); got != 1 {
		t.Errorf("NeighborTableSize after update = %v, want 1", got)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gpsrmetrics.NewCollector(reg)

	c.SetQueueDepth(5)

	m := &dto.Metric{}
	if err := c.QueueDepth.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.GetGauge().GetValue() != 5 {
		t.Errorf("QueueDepth = %v, want 5", m.GetGauge().GetValue())
	}
}

func TestHelloPacketCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gpsrmetrics.NewCollector(reg)

	c.IncHelloSent("eth0")
	c.IncHelloSent("eth0")
	c.IncHelloReceived("eth0")

	if got := counterValue(t, c.HelloPackets, "eth0", "tx"); got != 2 {
		t.Errorf("HelloPackets tx = %v, want 2", got)
	}
	if got := counterValue(t, c.HelloPackets, "eth0", "rx"); got != 1 {
		t.Errorf("HelloPackets rx = %v, want 1", got)
	}
}

func TestPacketOutcomeCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gpsrmetrics.NewCollector(reg)

	c.IncPacketsDelivered()
	c.IncPacketsDelivered()
	c.IncPacketsDropped("no_route")
	c.IncPacketsDropped("queue_full")
	c.IncPacketsDropped("no_route")

	m := &dto.Metric{}
	if err := c.PacketsDelivered.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.GetCounter().GetValue() != 2 {
		t.Errorf("PacketsDelivered = %v, want 2", m.GetCounter().GetValue())
	}

	if got := counterValue(t, c.PacketsDropped, "no_route"); got != 2 {
		t.Errorf("PacketsDropped(no_route) = %v, want 2", got)
	}
	if got := counterValue(t, c.PacketsDropped, "queue_full"); got != 1 {
		t.Errorf("PacketsDropped(queue_full) = %v, want 1", got)
	}
}

func TestRecoveryTransitionCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gpsrmetrics.NewCollector(reg)

	c.IncRecoveryEntered()
	c.IncRecoveryEntered()
	c.IncRecoveryExited()

	if got := counterValue(t, c.RecoveryTransitions, "enter"); got != 2 {
		t.Errorf("RecoveryTransitions(enter) = %v, want 2", got)
	}
	if got := counterValue(t, c.RecoveryTransitions, "exit"); got != 1 {
		t.Errorf("RecoveryTransitions(exit) = %v, want 1", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
