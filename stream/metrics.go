package stream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/elementalcollision/graphmemory-stream/metric"
)

const (
	metricNamespace = "gmstream"
	metricSubsystem = "client"
	metricOwner     = "client"
)

// Metrics exposes client activity as Prometheus collectors. A nil *Metrics is
// fully functional and records nothing, so the client never branches on
// whether metrics are enabled.
type Metrics struct {
	registry *metric.Registry

	messagesReceived prometheus.Counter
	bytesReceived    prometheus.Counter
	messagesDropped  *prometheus.CounterVec
	heartbeatsSent   prometheus.Counter
	reconnectsTotal  prometheus.Counter
	callbackPanics   prometheus.Counter
	connectionUp     prometheus.Gauge
	subscriptions    prometheus.Gauge
}

// newMetrics creates and registers the client collectors.
// Returns nil when registry is nil, disabling metrics.
func newMetrics(registry *metric.Registry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		registry: registry,
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "messages_received_total",
			Help:      "Total inbound WebSocket messages",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "bytes_received_total",
			Help:      "Total inbound payload bytes",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped before delivery, by reason",
		}, []string{"reason"}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat probes sent",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts after unexpected disconnects",
		}),
		callbackPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "callback_panics_total",
			Help:      "Subscriber callbacks that panicked during delivery",
		}),
		connectionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "connection_up",
			Help:      "1 while the WebSocket connection is established",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "subscriptions",
			Help:      "Live subscriptions in the registry",
		}),
	}

	registrations := []struct {
		name     string
		register func() error
	}{
		{"messages_received_total", func() error {
			return registry.RegisterCounter(metricOwner, "messages_received_total", m.messagesReceived)
		}},
		{"bytes_received_total", func() error {
			return registry.RegisterCounter(metricOwner, "bytes_received_total", m.bytesReceived)
		}},
		{"messages_dropped_total", func() error {
			return registry.RegisterCounterVec(metricOwner, "messages_dropped_total", m.messagesDropped)
		}},
		{"heartbeats_sent_total", func() error {
			return registry.RegisterCounter(metricOwner, "heartbeats_sent_total", m.heartbeatsSent)
		}},
		{"reconnect_attempts_total", func() error {
			return registry.RegisterCounter(metricOwner, "reconnect_attempts_total", m.reconnectsTotal)
		}},
		{"callback_panics_total", func() error {
			return registry.RegisterCounter(metricOwner, "callback_panics_total", m.callbackPanics)
		}},
		{"connection_up", func() error {
			return registry.RegisterGauge(metricOwner, "connection_up", m.connectionUp)
		}},
		{"subscriptions", func() error {
			return registry.RegisterGauge(metricOwner, "subscriptions", m.subscriptions)
		}},
	}

	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			registry.UnregisterOwner(metricOwner)
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) recordMessage(bytes int) {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
	m.bytesReceived.Add(float64(bytes))
}

func (m *Metrics) recordDropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}

func (m *Metrics) recordReconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

func (m *Metrics) recordCallbackPanic() {
	if m == nil {
		return
	}
	m.callbackPanics.Inc()
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connectionUp.Set(1)
	} else {
		m.connectionUp.Set(0)
	}
}

func (m *Metrics) setSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// unregister removes the client collectors from the registry.
func (m *Metrics) unregister() {
	if m == nil {
		return
	}
	m.registry.UnregisterOwner(metricOwner)
}
