// Package metric exposes the node's runtime counters and gauges over
// Prometheus, grounded on the predecessor's metric.Registry (same
// prometheus/client_golang stack, repointed from session/token counters to
// the ones a clustered KV node needs: commands served, protocol errors,
// connected clients, keyspace size, and cluster health).
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric one node instance exposes.
type Collector struct {
	registry *prometheus.Registry

	commandsProcessed prometheus.Counter
	protocolErrors    prometheus.Counter
	connectedClients  prometheus.Gauge
	keyspaceSize      prometheus.Gauge
	clusterNodesLive  prometheus.Gauge
	slotsMigrating    prometheus.Gauge
}

// NewCollector builds a fresh, independently registered Collector. Each
// node process owns exactly one.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		commandsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokmesh_commands_processed_total",
			Help: "Total number of client commands executed.",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokmesh_protocol_errors_total",
			Help: "Total number of RESP protocol errors on client connections.",
		}),
		connectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tokmesh_connected_clients",
			Help: "Current number of connected client sockets.",
		}),
		keyspaceSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tokmesh_keyspace_size",
			Help: "Current number of keys in the local keyspace.",
		}),
		clusterNodesLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tokmesh_cluster_nodes_live",
			Help: "Current number of nodes this node considers live.",
		}),
		slotsMigrating: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tokmesh_slots_migrating",
			Help: "Current number of hash slots in a non-stable migration state.",
		}),
	}
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return c
}

func (c *Collector) IncCommandsProcessed()      { c.commandsProcessed.Inc() }
func (c *Collector) IncProtocolErrors()         { c.protocolErrors.Inc() }
func (c *Collector) SetConnectedClients(n int)  { c.connectedClients.Set(float64(n)) }
func (c *Collector) SetKeyspaceSize(n int)      { c.keyspaceSize.Set(float64(n)) }
func (c *Collector) SetClusterNodesLive(n int)  { c.clusterNodesLive.Set(float64(n)) }
func (c *Collector) SetSlotsMigrating(n int)    { c.slotsMigrating.Set(float64(n)) }

// Handler returns the HTTP handler this collector's metrics are served on.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
