package ws

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ulanzi/decksim/server/internal/metrics"
	"github.com/ulanzi/decksim/server/internal/registry"
)

type hubMetrics struct {
	connections *prometheus.CounterVec
	received    *prometheus.CounterVec
	routed      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	reloads     prometheus.Counter
}

func counterVec(name, help, label string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      name,
		Help:      help,
	}, []string{label})
}

func newHubMetrics() hubMetrics {
	return hubMetrics{
		connections: counterVec("connections_total", "Classified connections by role.", "role"),
		received:    counterVec("messages_received_total", "Decoded inbound messages by cmd.", "cmd"),
		routed:      counterVec("messages_sent_total", "Frames queued to a connection by cmd.", "cmd"),
		dropped:     counterVec("messages_dropped_total", "Messages not delivered by reason.", "reason"),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "catalog_updates_total",
			Help:      "Plugin catalogs received by the hub.",
		}),
	}
}

func gauge(name, help string, labels prometheus.Labels, fn func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metrics.Namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, fn)
}

// register adds the hub counters and the registry, store and catalog sizes
// to r.
func (h *Hub) register(r prometheus.Registerer) {
	r.MustRegister(h.m.connections, h.m.received, h.m.routed, h.m.dropped, h.m.reloads)

	for _, k := range []registry.Kind{registry.KindDeck, registry.KindMain, registry.KindAction} {
		r.MustRegister(gauge("registered_connections", "Registry entries by kind.",
			prometheus.Labels{"kind": string(k)},
			func() float64 { return float64(h.reg.Count()[k]) }))
	}
	r.MustRegister(
		gauge("open_sockets", "Open WebSocket connections.", nil,
			func() float64 { return float64(h.Count()) }),
		gauge("stored_params", "Contexts with a stored param.", nil,
			func() float64 { return float64(h.st.Count()) }),
		gauge("active_keys", "Keys with an assigned action.", nil,
			func() float64 { return float64(len(h.st.ActiveKeys())) }),
	)
	if h.cat != nil {
		r.MustRegister(gauge("catalog_plugins", "Plugins in the current catalog.", nil, func() float64 {
			set, _ := h.cat.Current()
			return float64(len(set))
		}))
	}
}

var _ registry.Conn = (*client)(nil)
