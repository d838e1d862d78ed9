package wsession

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of a Manager. A nil *Metrics records nothing.
type Metrics struct {
	state          *prometheus.GaugeVec
	reconnects     prometheus.Counter
	queueDepth     prometheus.Gauge
	queueDrops     prometheus.Counter
	framesIn       *prometheus.CounterVec
	framesOut      prometheus.Counter
	decodeErrors   prometheus.Counter
	handlerPanics  prometheus.Counter
	heartbeatsSent prometheus.Counter
}

var allStates = []ConnectionState{
	StateConnecting,
	StateConnected,
	StateDisconnected,
	StateReconnecting,
	StateError,
}

// NewMetrics creates the collectors under namespace and registers them on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (1 for the active state, 0 for the others)",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Total number of reconnect attempts scheduled after an abnormal close",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Outbound messages waiting for an open connection",
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Outbound messages rejected because the queue was full",
		}),
		framesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames by kind (event, connected, ping, pong)",
		}, []string{"kind"}),
		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound application frames written to the transport",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_decode_errors_total",
			Help:      "Inbound frames discarded because they could not be decoded",
		}),
		handlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Subscriber handlers that panicked during dispatch",
		}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Liveness probes written to the transport",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.state, m.reconnects, m.queueDepth, m.queueDrops, m.framesIn,
		m.framesOut, m.decodeErrors, m.handlerPanics, m.heartbeatsSent,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "cannot register metrics")
		}
	}

	m.setState(StateDisconnected)

	return m, nil
}

func (m *Metrics) setState(s ConnectionState) {
	if m == nil {
		return
	}
	for _, st := range allStates {
		value := 0.0
		if st == s {
			value = 1.0
		}
		m.state.WithLabelValues(st.String()).Set(value)
	}
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) queueDropped() {
	if m == nil {
		return
	}
	m.queueDrops.Inc()
}

func (m *Metrics) frameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesIn.WithLabelValues(kind).Inc()
}

func (m *Metrics) frameSent() {
	if m == nil {
		return
	}
	m.framesOut.Inc()
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) handlerPanicked() {
	if m == nil {
		return
	}
	m.handlerPanics.Inc()
}

func (m *Metrics) heartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}
