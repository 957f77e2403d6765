package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "pulse"
	subsystem = "realtime"

	kindLabelName   = "kind"
	resultLabelName = "result"
)

// Realtime holds the realtime collectors and implements realtime.Observer.
type Realtime struct {
	registry *prometheus.Registry

	OnlineUsers        prometheus.Gauge
	OpenConnections    prometheus.Gauge
	Sends              *prometheus.CounterVec
	HandshakeRejection prometheus.Counter
}

// New creates the collectors on a private registry, along with the Go and
// process collectors.
func New() *Realtime {
	m := &Realtime{
		registry: prometheus.NewRegistry(),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "online_users",
			Help:      "number of users with at least one open connection",
		}),
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "open_connections",
			Help:      "number of open websocket connections",
		}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sends_total",
			Help:      "realtime frame sends by delivery kind and result",
		}, []string{kindLabelName, resultLabelName}),
		HandshakeRejection: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshake_rejections_total",
			Help:      "handshakes closed because authentication failed",
		}),
	}

	m.registry.MustRegister(
		m.OnlineUsers,
		m.OpenConnections,
		m.Sends,
		m.HandshakeRejection,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Realtime) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Realtime) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Realtime) Delivered(kind string, sent, failed int) {
	if sent > 0 {
		m.Sends.WithLabelValues(kind, "ok").Add(float64(sent))
	}
	if failed > 0 {
		m.Sends.WithLabelValues(kind, "error").Add(float64(failed))
	}
}

func (m *Realtime) HandshakeRejected() {
	m.HandshakeRejection.Inc()
}

func (m *Realtime) ConnectionsChanged(users, conns int) {
	m.OnlineUsers.Set(float64(users))
	m.OpenConnections.Set(float64(conns))
}
