package recorder

import (
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gcslink/metric"
)

// Metrics holds Prometheus metrics for the capture writer
type Metrics struct {
	bytesWritten   prometheus.Counter
	recordsWritten prometheus.Counter
	writeErrors    prometheus.Counter
	captures       prometheus.Counter
	capturing      prometheus.Gauge
}

// newMetrics creates the recorder metrics and registers them with registry.
// The metrics are usable even when registration fails.
func newMetrics(registry metric.MetricsRegistrar) (*Metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcslink",
			Subsystem: "recorder",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		bytesWritten:   counter("bytes_written_total", "Raw bytes appended to capture files"),
		recordsWritten: counter("records_written_total", "Telemetry records appended to decoded files"),
		writeErrors:    counter("errors_total", "Capture files that could not be created or written"),
		captures:       counter("captures_total", "Capture file pairs started"),
		capturing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gcslink",
			Subsystem: "recorder",
			Name:      "capturing",
			Help:      "1 while a capture pair is open",
		}),
	}

	const name = "recorder"
	return m, stderrors.Join(
		registry.RegisterCounter(name, "bytes_written", m.bytesWritten),
		registry.RegisterCounter(name, "records_written", m.recordsWritten),
		registry.RegisterCounter(name, "errors", m.writeErrors),
		registry.RegisterCounter(name, "captures", m.captures),
		registry.RegisterGauge(name, "capturing", m.capturing),
	)
}
