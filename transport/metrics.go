package transport

import (
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gcslink/metric"
)

// Metrics holds Prometheus metrics for the transport manager
type Metrics struct {
	bytesRead    prometheus.Counter
	chunksRead   prometheus.Counter
	bytesWritten prometheus.Counter
	readErrors   prometheus.Counter
	opens        prometheus.Counter
	openFailures prometheus.Counter
	closes       prometheus.Counter
	open         prometheus.Gauge
	lastActivity prometheus.Gauge
}

// newMetrics creates the transport metrics and registers them with
// registry. The metrics are usable even when registration fails.
func newMetrics(registry metric.MetricsRegistrar) (*Metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcslink",
			Subsystem: "transport",
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gcslink",
			Subsystem: "transport",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		bytesRead:    counter("bytes_read_total", "Bytes read from the link"),
		chunksRead:   counter("chunks_read_total", "Non-empty reads published as raw data"),
		bytesWritten: counter("bytes_written_total", "Bytes accepted by the link"),
		readErrors:   counter("read_errors_total", "Read errors that closed the link"),
		opens:        counter("opens_total", "Successful port opens"),
		openFailures: counter("open_failures_total", "Failed port opens"),
		closes:       counter("closes_total", "Port closes"),
		open:         gauge("open", "1 while a port is open"),
		lastActivity: gauge("last_activity_timestamp", "Unix timestamp of the last received chunk"),
	}

	const name = "transport"
	return m, stderrors.Join(
		registry.RegisterCounter(name, "bytes_read", m.bytesRead),
		registry.RegisterCounter(name, "chunks_read", m.chunksRead),
		registry.RegisterCounter(name, "bytes_written", m.bytesWritten),
		registry.RegisterCounter(name, "read_errors", m.readErrors),
		registry.RegisterCounter(name, "opens", m.opens),
		registry.RegisterCounter(name, "open_failures", m.openFailures),
		registry.RegisterCounter(name, "closes", m.closes),
		registry.RegisterGauge(name, "open", m.open),
		registry.RegisterGauge(name, "last_activity", m.lastActivity),
	)
}
