// Package metric provides the Prometheus registry shared by gcslink components
// and the HTTP server that exposes it.
//
// Components receive a *MetricsRegistry through their Deps struct and register
// their own collectors under a component name. A nil registry disables
// metrics for that component.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//		if err := server.Start(); err != nil {
//			logger.Error("metrics server stopped", "error", err)
//		}
//	}()
//
// Metrics are served at http://localhost:9090/metrics and component health
// at http://localhost:9090/health.
package metric
