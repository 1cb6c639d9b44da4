// Package metric exposes a node's runtime counters and gauges over
// Prometheus:
//
//   - collector.go: the Collector type and its private registry
//   - prometheus.go: the HTTP listener serving Collector.Handler at /metrics
//
// Metrics cover commands processed, protocol errors, connected clients,
// local keyspace size, and cluster health (live node count, slots
// mid-migration). Each node process owns one Collector, registered on its
// own private prometheus.Registry rather than the global default registry,
// so multiple nodes can run in the same test binary without collector
// registration panics.
package metric
