package guards

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/elearn-session/internal/metrics"
	"github.com/jrsteele09/elearn-session/session"
)

// Entitlements answers the per-course questions the content guard asks.
// *backend.Client implements it.
type Entitlements interface {
	CourseAccess(ctx context.Context, courseID string) (bool, error)
	CourseIsFree(ctx context.Context, courseID string) (bool, error)
}

// ContentGuard gates a course on the identity's entitlement. Any lookup
// failure denies access.
type ContentGuard struct {
	entitlements Entitlements
	log          zerolog.Logger
	metrics      *metrics.Metrics
}

// ContentGuardOption defines a function type to modify the ContentGuard instance.
type ContentGuardOption func(*ContentGuard)

func WithLogger(logger zerolog.Logger) ContentGuardOption {
	return func(g *ContentGuard) {
		g.log = logger.With().Str("component", "content_guard").Logger()
	}
}

func WithMetrics(m *metrics.Metrics) ContentGuardOption {
	return func(g *ContentGuard) {
		g.metrics = m
	}
}

func NewContentGuard(entitlements Entitlements, options ...ContentGuardOption) *ContentGuard {
	g := &ContentGuard{entitlements: entitlements, log: zerolog.Nop()}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Evaluate decides access to courseID. Anonymous users are denied even for
// free courses.
func (g *ContentGuard) Evaluate(ctx context.Context, state session.State, courseID string) Decision {
	d := g.evaluate(ctx, state, courseID)
	g.metrics.GuardDecision("content", d.String())
	return d
}

func (g *ContentGuard) evaluate(ctx context.Context, state session.State, courseID string) Decision {
	if state.Settling() {
		return Loading
	}
	if !state.IsAuthenticated() {
		return DeniedUnauthenticated
	}
	if state.Identity.Role.IsAdmin() {
		return Granted
	}

	entitled, err := g.entitlements.CourseAccess(ctx, courseID)
	if err != nil {
		g.log.Warn().Err(err).Str("course_id", courseID).Msg("entitlement check failed")
		return DeniedForbidden
	}
	if entitled {
		return Granted
	}

	free, err := g.entitlements.CourseIsFree(ctx, courseID)
	if err != nil {
		g.log.Warn().Err(err).Str("course_id", courseID).Msg("course lookup failed")
		return DeniedForbidden
	}
	if free {
		return Granted
	}
	return PaymentRequired
}

// Watch runs Evaluate in the background and hands the decision to deliver,
// unless ctx is done by then. The lookups themselves are not cancelled.
// The returned channel closes once the check has finished.
func (g *ContentGuard) Watch(ctx context.Context, state session.State, courseID string, deliver func(Decision)) <-chan struct{} {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		d := g.Evaluate(context.WithoutCancel(ctx), state, courseID)
		if ctx.Err() != nil {
			g.log.Debug().Str("course_id", courseID).Str("decision", d.String()).Msg("consumer gone, dropping decision")
			return
		}
		deliver(d)
	}()
	return finished
}
