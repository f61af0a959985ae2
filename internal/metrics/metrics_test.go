package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.GatewayRequest("ok")
	m.GatewayRequest("ok")
	m.RefreshFlight("success")
	m.RefreshJoined()
	m.GuardDecision("role", "granted")
	m.SessionTransition("authenticated")

	require.Equal(t, 2.0, testutil.ToFloat64(m.GatewayRequestsTotal.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RefreshFlightsTotal.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RefreshJoinedTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.GuardDecisionsTotal.WithLabelValues("role", "granted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitionsTotal.WithLabelValues("authenticated")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 5)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.GatewayRequest("ok")
		m.RefreshFlight("failure")
		m.RefreshJoined()
		m.GuardDecision("content", "loading")
		m.SessionTransition("unauthenticated")
	})
}
