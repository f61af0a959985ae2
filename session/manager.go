package session

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/elearn-session/backend"
	"github.com/jrsteele09/elearn-session/credentials"
	"github.com/jrsteele09/elearn-session/gateway"
	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/internal/metrics"
	"github.com/jrsteele09/elearn-session/users"
)

const (
	reasonSessionExpired = "session expired"

	msgInvalidLogin  = "invalid email or password"
	msgUnreachable   = "unable to reach the server, please try again"
	msgUnexpected    = "unexpected response from the server"
	msgEmailRequired = "email is required"
)

// Backend is the subset of *backend.Client the session needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (backend.AuthResult, error)
	Register(ctx context.Context, input backend.RegisterInput) (backend.AuthResult, error)
	Verify(ctx context.Context) (*users.Identity, error)
	Logout(ctx context.Context, refreshToken string) error
}

var _ Backend = (*backend.Client)(nil)

// Listener is told about every identity change. It runs while the
// transition is held, so it must not call back into the Manager's
// transitions. When it returns, nothing belonging to prev may remain.
type Listener interface {
	IdentityChanged(ctx context.Context, prev, next *users.Identity)
}

// Outcome is what login and registration resolve to.
type Outcome struct {
	Success  bool
	Error    string
	Redirect string
}

// Manager owns the session state machine.
type Manager struct {
	creds     *credentials.Store
	backend   Backend
	log       zerolog.Logger
	metrics   *metrics.Metrics
	loginPath string
	dashboard string

	// transition serialises identity changes and guards everything below it
	// up to stateLock.
	transition sync.Mutex
	generation uint64
	identity   *users.Identity
	listeners  []Listener

	stateLock     sync.RWMutex
	state         State
	currentPath   string
	loginRedirect string
	observers     map[int]func(State)
	nextObserver  int

	background sync.WaitGroup
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = logger.With().Str("component", "session").Logger()
	}
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithRoutes overrides the login route and the fallback dashboard route.
func WithRoutes(login, dashboard string) ManagerOption {
	return func(m *Manager) {
		if login != "" {
			m.loginPath = login
		}
		if dashboard != "" {
			m.dashboard = dashboard
		}
	}
}

// WithListeners registers identity listeners up front.
func WithListeners(listeners ...Listener) ManagerOption {
	return func(m *Manager) {
		m.listeners = append(m.listeners, listeners...)
	}
}

func NewManager(creds *credentials.Store, be Backend, options ...ManagerOption) (*Manager, error) {
	if creds == nil {
		return nil, errors.New("[NewManager] credential store is required")
	}
	if be == nil {
		return nil, errors.New("[NewManager] backend is required")
	}
	m := &Manager{
		creds:     creds,
		backend:   be,
		log:       zerolog.Nop(),
		loginPath: RouteLogin,
		dashboard: RouteDashboard,
		state:     Unauthenticated(),
		observers: make(map[int]func(State)),
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// AddListener registers l for identity changes.
func (m *Manager) AddListener(l Listener) {
	m.transition.Lock()
	defer m.transition.Unlock()
	m.listeners = append(m.listeners, l)
}

// Subscribe calls fn with every new state. The returned func unsubscribes.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	return func() {
		m.stateLock.Lock()
		defer m.stateLock.Unlock()
		delete(m.observers, id)
	}
}

// State returns the current snapshot.
func (m *Manager) State() State {
	m.stateLock.RLock()
	defer m.stateLock.RUnlock()
	return m.state
}

// Identity returns the admitted identity, if any.
func (m *Manager) Identity() *users.Identity {
	return m.State().Identity.Clone()
}

// Navigate records the path the user is on, used to build the login
// redirect when the session expires.
func (m *Manager) Navigate(path string) {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	m.currentPath = path
}

// LoginRedirect returns the redirect recorded by the last expiry, or "".
func (m *Manager) LoginRedirect() string {
	m.stateLock.RLock()
	defer m.stateLock.RUnlock()
	return m.loginRedirect
}

// Login submits credentials. A failed login leaves the prior state as it was.
func (m *Manager) Login(ctx context.Context, email, password, redirect string) Outcome {
	gen, prior := m.begin()
	res, err := m.backend.Login(ctx, email, password)
	if err != nil {
		return m.reject(gen, prior, "Login", err)
	}
	return m.admit(ctx, gen, res, redirect)
}

// Register creates an account and logs it in. When already authenticated the
// new identity replaces the current one.
func (m *Manager) Register(ctx context.Context, input backend.RegisterInput, redirect string) Outcome {
	input.Email = strings.TrimSpace(input.Email)
	if input.Email == "" {
		return Outcome{Error: msgEmailRequired}
	}
	if err := users.ValidatePasswordStrength(input.Password); err != nil {
		return Outcome{Error: err.Error()}
	}

	gen, prior := m.begin()
	res, err := m.backend.Register(ctx, input)
	if err != nil {
		return m.reject(gen, prior, "Register", err)
	}
	return m.admit(ctx, gen, res, redirect)
}

// Logout clears the session. Calling it again is a no-op apart from
// re-clearing. Server-side revocation is attempted in the background.
func (m *Manager) Logout(ctx context.Context) {
	m.transition.Lock()
	m.generation++
	cred, held := m.creds.Load(ctx)
	m.creds.Clear(ctx)
	m.notifyLocked(ctx, nil)
	m.setState(Unauthenticated())
	m.transition.Unlock()

	if !held || cred.RefreshToken == "" {
		return
	}
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		if err := m.backend.Logout(context.WithoutCancel(ctx), cred.RefreshToken); err != nil {
			m.log.Debug().Err(err).Msg("server-side logout failed")
		}
	}()
}

// ForceExpire ends the session after the gateway gave up on the credential.
// originalPath is preserved in the login redirect.
func (m *Manager) ForceExpire(ctx context.Context, originalPath string) {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.generation++
	m.creds.Clear(ctx)
	m.notifyLocked(ctx, nil)

	m.stateLock.Lock()
	m.loginRedirect = LoginRedirect(m.loginPath, originalPath)
	m.stateLock.Unlock()

	m.setState(State{Kind: KindUnauthenticated, Reason: reasonSessionExpired})
	m.log.Info().Str("path", originalPath).Msg("session expired")
}

// ExpireHook adapts ForceExpire to the gateway's session-expired hook, using
// the last path passed to Navigate.
func (m *Manager) ExpireHook() func(ctx context.Context) {
	return func(ctx context.Context) {
		m.stateLock.RLock()
		path := m.currentPath
		m.stateLock.RUnlock()
		m.ForceExpire(ctx, path)
	}
}

// Restore validates a stored credential at start-up. An unreachable backend
// or a cancelled ctx leaves the credential in place and reports Failed.
func (m *Manager) Restore(ctx context.Context) State {
	gen, _ := m.begin()

	if _, ok := m.creds.Load(ctx); !ok {
		m.settle(gen, func() {
			m.notifyLocked(ctx, nil)
			m.setState(Unauthenticated())
		})
		return m.State()
	}

	identity, err := m.backend.Verify(ctx)
	switch {
	case err == nil:
		m.settle(gen, func() {
			m.notifyLocked(ctx, identity)
			m.setState(Authenticated(identity))
		})
	case errors.Is(err, errors.ErrNetworkUnavailable) || ctx.Err() != nil:
		m.log.Warn().Err(err).Msg("could not verify stored credential")
		m.settle(gen, func() {
			m.setState(Failed(msgUnreachable))
		})
	default:
		m.log.Info().Err(err).Msg("stored credential rejected")
		m.settle(gen, func() {
			m.creds.Clear(ctx)
			m.notifyLocked(ctx, nil)
			m.setState(Unauthenticated())
		})
	}
	return m.State()
}

// WrapRefresher shows Refreshing while r runs on behalf of an
// authenticated session.
func (m *Manager) WrapRefresher(r gateway.Refresher) gateway.Refresher {
	return &refreshObserver{m: m, next: r}
}

// Dispose waits for background logout calls to finish.
func (m *Manager) Dispose() {
	m.background.Wait()
}

// begin starts a login, register or restore. Starting one supersedes
// anything still in flight.
func (m *Manager) begin() (uint64, State) {
	m.transition.Lock()
	defer m.transition.Unlock()
	m.generation++
	prior := m.State()
	m.setState(Authenticating())
	return m.generation, prior
}

// settle runs fn under the transition if gen is still current.
func (m *Manager) settle(gen uint64, fn func()) bool {
	m.transition.Lock()
	defer m.transition.Unlock()
	if m.generation != gen {
		m.log.Debug().Uint64("generation", gen).Msg("discarding superseded transition")
		return false
	}
	fn()
	return true
}

func (m *Manager) admit(ctx context.Context, gen uint64, res backend.AuthResult, redirect string) Outcome {
	ok := m.settle(gen, func() {
		m.notifyLocked(ctx, res.Identity)
		m.creds.Save(ctx, res.Credential)
		m.setState(Authenticated(res.Identity))
	})
	if !ok {
		return Outcome{Error: errors.ErrTransitionSuperseded.Error()}
	}
	m.log.Info().Str("user_id", res.Identity.ID).Str("role", string(res.Identity.Role)).Msg("signed in")
	return Outcome{
		Success:  true,
		Redirect: RedirectFor(res.Identity.Role, redirect, m.dashboard),
	}
}

func (m *Manager) reject(gen uint64, prior State, op string, err error) Outcome {
	if !m.settle(gen, func() { m.setState(prior) }) {
		return Outcome{Error: errors.ErrTransitionSuperseded.Error()}
	}

	var rejected *backend.RejectedError
	switch {
	case errors.As(err, &rejected):
		m.log.Info().Str("op", op).Int("status", rejected.Status).Msg("credentials rejected")
		if rejected.Message == "" || (op == "Login" && rejected.Status == http.StatusUnauthorized) {
			return Outcome{Error: msgInvalidLogin}
		}
		return Outcome{Error: rejected.Message}
	case errors.Is(err, errors.ErrNetworkUnavailable):
		m.log.Warn().Err(err).Str("op", op).Msg("backend unreachable")
		return Outcome{Error: msgUnreachable}
	default:
		m.log.Error().Err(err).Str("op", op).Msg("unexpected backend response")
		return Outcome{Error: msgUnexpected}
	}
}

// notifyLocked tells every listener about next before it is admitted.
// Callers hold m.transition.
func (m *Manager) notifyLocked(ctx context.Context, next *users.Identity) {
	prev := m.identity
	for _, l := range m.listeners {
		l.IdentityChanged(ctx, prev.Clone(), next.Clone())
	}
	m.identity = next.Clone()
}

func (m *Manager) setState(s State) {
	m.stateLock.Lock()
	m.state = s
	observers := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.stateLock.Unlock()

	m.metrics.SessionTransition(s.Kind.String())
	for _, fn := range observers {
		fn(s)
	}
}

type refreshObserver struct {
	m    *Manager
	next gateway.Refresher
}

func (r *refreshObserver) Refresh(ctx context.Context) (credentials.Credential, error) {
	r.m.transition.Lock()
	entered := false
	if s := r.m.State(); s.Kind == KindAuthenticated {
		r.m.setState(Refreshing(s.Identity))
		entered = true
	}
	r.m.transition.Unlock()

	cred, err := r.next.Refresh(ctx)

	if entered {
		r.m.transition.Lock()
		if s := r.m.State(); s.Kind == KindRefreshing {
			r.m.setState(Authenticated(s.Identity))
		}
		r.m.transition.Unlock()
	}
	return cred, err
}
