// Package metrics defines the Prometheus collectors for the session core.
//
// Collectors are registered on the Registerer passed to New so that tests and
// embedding applications can use an isolated registry. All metric names carry
// the elearn_session_ prefix.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every collector the core updates. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// GatewayRequestsTotal counts gateway requests by final outcome kind.
	GatewayRequestsTotal *prometheus.CounterVec

	// RefreshFlightsTotal counts network refresh attempts by result.
	RefreshFlightsTotal *prometheus.CounterVec

	// RefreshJoinedTotal counts callers that joined an in-flight refresh
	// instead of starting one.
	RefreshJoinedTotal prometheus.Counter

	// GuardDecisionsTotal counts access decisions by guard and decision.
	GuardDecisionsTotal *prometheus.CounterVec

	// SessionTransitionsTotal counts session state transitions by target state.
	SessionTransitionsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GatewayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elearn_session_gateway_requests_total",
				Help: "Total backend requests sent through the gateway by outcome.",
			},
			[]string{"outcome"},
		),
		RefreshFlightsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elearn_session_refresh_flights_total",
				Help: "Total credential refresh network calls by result.",
			},
			[]string{"result"},
		),
		RefreshJoinedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "elearn_session_refresh_joined_total",
				Help: "Total callers that shared an in-flight refresh.",
			},
		),
		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elearn_session_guard_decisions_total",
				Help: "Total access decisions by guard and decision.",
			},
			[]string{"guard", "decision"},
		),
		SessionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elearn_session_transitions_total",
				Help: "Total session state transitions by target state.",
			},
			[]string{"state"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.GatewayRequestsTotal,
			m.RefreshFlightsTotal,
			m.RefreshJoinedTotal,
			m.GuardDecisionsTotal,
			m.SessionTransitionsTotal,
		)
	}
	return m
}

func (m *Metrics) GatewayRequest(outcome string) {
	if m == nil {
		return
	}
	m.GatewayRequestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RefreshFlight(result string) {
	if m == nil {
		return
	}
	m.RefreshFlightsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RefreshJoined() {
	if m == nil {
		return
	}
	m.RefreshJoinedTotal.Inc()
}

func (m *Metrics) GuardDecision(guard, decision string) {
	if m == nil {
		return
	}
	m.GuardDecisionsTotal.WithLabelValues(guard, decision).Inc()
}

func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.SessionTransitionsTotal.WithLabelValues(state).Inc()
}
