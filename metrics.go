package duplex

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors updated by connections and servers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ConnsActive prometheus.Gauge
	ConnsTotal  prometheus.Counter
	ConnErrors  *prometheus.CounterVec
	FramesIn    prometheus.Counter
	FramesOut   prometheus.Counter
	BytesIn     prometheus.Counter
	BytesOut    prometheus.Counter
	Lookups     *prometheus.CounterVec
}

// NewMetrics creates the collectors under namespace and registers them with
// reg. A nil reg skips registration.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently running.",
		}),
		ConnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Connections started.",
		}),
		ConnErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Connections ended by an error, by kind.",
		}, []string{"kind"}),
		FramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded from peers.",
		}),
		FramesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to peers.",
		}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Bytes read from peers.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Bytes written to peers.",
		}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Line source lookups by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.ConnsActive, m.ConnsTotal, m.ConnErrors,
			m.FramesIn, m.FramesOut, m.BytesIn, m.BytesOut, m.Lookups)
	}

	return m
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.ConnsActive.Inc()
	m.ConnsTotal.Inc()
}

func (m *Metrics) connClosed(err error) {
	if m == nil {
		return
	}
	m.ConnsActive.Dec()
	if err != nil {
		m.ConnErrors.WithLabelValues(errorKind(err)).Inc()
	}
}

func (m *Metrics) received(bytes, frames int) {
	if m == nil {
		return
	}
	m.BytesIn.Add(float64(bytes))
	m.FramesIn.Add(float64(frames))
}

func (m *Metrics) sent(bytes int) {
	if m == nil {
		return
	}
	m.BytesOut.Add(float64(bytes))
	m.FramesOut.Inc()
}

// LookupDone records the outcome of a line source lookup.
func (m *Metrics) LookupDone(outcome string) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(outcome).Inc()
}
