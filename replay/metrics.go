package replay

import (
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gcslink/metric"
)

// Metrics holds Prometheus metrics for the replay engine
type Metrics struct {
	records          prometheus.Counter
	eofs             prometheus.Counter
	seeks            prometheus.Counter
	checksumFailures prometheus.Counter
	pacing           prometheus.Histogram
	position         prometheus.Gauge
}

// newMetrics creates the replay metrics and registers them with registry.
// The metrics are usable even when registration fails.
func newMetrics(registry metric.MetricsRegistrar) (*Metrics, error) {
	m := &Metrics{
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcslink",
			Subsystem: "replay",
			Name:      "records_total",
			Help:      "Telemetry records emitted by replay",
		}),
		eofs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcslink",
			Subsystem: "replay",
			Name:      "eof_total",
			Help:      "Replays that reached end of file",
		}),
		seeks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcslink",
			Subsystem: "replay",
			Name:      "seeks_total",
			Help:      "Seek requests",
		}),
		checksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcslink",
			Subsystem: "replay",
			Name:      "checksum_failures_total",
			Help:      "Frames rejected by the parser during raw replay",
		}),
		pacing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gcslink",
			Subsystem: "replay",
			Name:      "pacing_wait_seconds",
			Help:      "Waits inserted between records to follow recorded timing",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		position: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gcslink",
			Subsystem: "replay",
			Name:      "position_ratio",
			Help:      "Fraction of the loaded log consumed",
		}),
	}

	const name = "replay"
	return m, stderrors.Join(
		registry.RegisterCounter(name, "records", m.records),
		registry.RegisterCounter(name, "eofs", m.eofs),
		registry.RegisterCounter(name, "seeks", m.seeks),
		registry.RegisterCounter(name, "checksum_failures", m.checksumFailures),
		registry.RegisterHistogram(name, "pacing", m.pacing),
		registry.RegisterGauge(name, "position", m.position),
	)
}
