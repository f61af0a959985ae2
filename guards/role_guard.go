package guards

import (
	"github.com/jrsteele09/elearn-session/internal/metrics"
	"github.com/jrsteele09/elearn-session/session"
	"github.com/jrsteele09/elearn-session/users"
)

// RoleGuard gates a view on the session's role. It never touches the network.
type RoleGuard struct {
	Metrics *metrics.Metrics
}

// Evaluate decides access for state. An empty required role only needs an
// authenticated session.
func (g RoleGuard) Evaluate(state session.State, required users.RoleType) Decision {
	d := evaluateRole(state, required)
	g.Metrics.GuardDecision("role", d.String())
	return d
}

func evaluateRole(state session.State, required users.RoleType) Decision {
	switch {
	case state.Settling():
		return Loading
	case !state.IsAuthenticated():
		return DeniedUnauthenticated
	case required == users.RoleUnspecified:
		return Granted
	case state.Identity.Role.Satisfies(required):
		return Granted
	}
	return DeniedForbidden
}
