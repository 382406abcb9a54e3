package phd

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds one Manager's counters on a private registry: two
// Managers in the same process (for instance, a test harness driving
// both a Manager and a fake Agent) must not collide on the default
// global registry.
type metrics struct {
	registry *prometheus.Registry

	associationsActive prometheus.Gauge
	eventsReceived      prometheus.Counter
	requestsTimedOut    prometheus.Counter
	segmentsRetrieved   prometheus.Counter
	transitions         *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		associationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phd",
			Name:      "associations_active",
			Help:      "Contexts currently in the Operating state.",
		}),
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phd",
			Name:      "events_received_total",
			Help:      "Event reports applied to a DIM tree.",
		}),
		requestsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phd",
			Name:      "requests_timed_out_total",
			Help:      "Manager-initiated requests that never received a response.",
		}),
		segmentsRetrieved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phd",
			Name:      "segments_retrieved_total",
			Help:      "PM-Segment data pushes applied.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phd",
			Name:      "fsm_transitions_total",
			Help:      "FSM transitions, labeled by resulting state.",
		}, []string{"to"}),
	}
	reg.MustRegister(m.associationsActive, m.eventsReceived, m.requestsTimedOut, m.segmentsRetrieved, m.transitions)
	return m
}

func (m *metrics) observeTransition(from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to.String()).Inc()
	switch {
	case to == StateOperating && from != StateOperating:
		m.associationsActive.Inc()
	case from == StateOperating && to != StateOperating:
		m.associationsActive.Dec()
	}
}

// Registry exposes the Manager's private prometheus registry so a caller
// can mount it on its own /metrics handler.
func (m *Manager) Registry() *prometheus.Registry {
	return m.metrics.registry
}
