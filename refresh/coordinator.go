package refresh

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/elearn-session/credentials"
	"github.com/jrsteele09/elearn-session/gateway"
	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/internal/metrics"
)

// Func exchanges a refresh token for a new credential over the network.
type Func func(ctx context.Context, refreshToken string) (credentials.Credential, error)

// flight is the single pending refresh. done is closed once cred/err are
// final and the new credential (if any) has been saved.
type flight struct {
	done    chan struct{}
	cred    credentials.Credential
	err     error
	waiters int
}

// Coordinator coalesces concurrent refresh attempts. Refresh tokens rotate
// on use, so two parallel refresh calls would make all but the first fail.
type Coordinator struct {
	store     *credentials.Store
	refreshFn Func
	log       zerolog.Logger
	metrics   *metrics.Metrics

	lock    sync.Mutex
	pending *flight
}

var _ gateway.Refresher = (*Coordinator)(nil)

// CoordinatorOption defines a function type to modify the Coordinator instance.
type CoordinatorOption func(*Coordinator)

func WithLogger(logger zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = logger.With().Str("component", "refresh").Logger()
	}
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a coordinator that writes results into store.
func NewCoordinator(store *credentials.Store, refreshFn Func, options ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("[NewCoordinator] credential store is required")
	}
	if refreshFn == nil {
		return nil, errors.New("[NewCoordinator] refresh func is required")
	}
	c := &Coordinator{
		store:     store,
		refreshFn: refreshFn,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Refresh returns a fresh credential. The first caller starts the network
// call; callers arriving while it is pending share its result. A caller whose
// ctx ends stops waiting but does not cancel the shared flight.
func (c *Coordinator) Refresh(ctx context.Context) (credentials.Credential, error) {
	c.lock.Lock()
	f := c.pending
	if f != nil {
		f.waiters++
		c.lock.Unlock()
		c.metrics.RefreshJoined()
		return wait(ctx, f)
	}
	f = &flight{done: make(chan struct{}), waiters: 1}
	c.pending = f
	c.lock.Unlock()

	go c.run(context.WithoutCancel(ctx), f)
	return wait(ctx, f)
}

// InFlight reports whether a refresh is pending and how many callers share it.
func (c *Coordinator) InFlight() (bool, int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.pending == nil {
		return false, 0
	}
	return true, c.pending.waiters
}

func (c *Coordinator) run(ctx context.Context, f *flight) {
	f.cred, f.err = c.exchange(ctx)

	c.lock.Lock()
	c.pending = nil
	c.lock.Unlock()

	if f.err != nil {
		c.metrics.RefreshFlight("failure")
		c.log.Info().Err(f.err).Int("waiters", f.waiters).Msg("credential refresh failed")
	} else {
		c.metrics.RefreshFlight("success")
		c.log.Debug().Int("waiters", f.waiters).Msg("credential refreshed")
	}
	close(f.done)
}

// exchange performs the network refresh and, on success, saves the result
// before any waiter is released.
func (c *Coordinator) exchange(ctx context.Context) (credentials.Credential, error) {
	current, ok := c.store.Load(ctx)
	if !ok || current.RefreshToken == "" {
		return credentials.Credential{}, errors.Wrapf(errors.ErrSessionExpired, "no refresh token held")
	}

	next, err := c.refreshFn(ctx, current.RefreshToken)
	if err != nil {
		return credentials.Credential{}, err
	}
	if next.IsZero() {
		return credentials.Credential{}, errors.Wrapf(errors.ErrMalformedResponse, "refresh returned no access token")
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	if !c.store.CompareAndSave(ctx, current.RefreshToken, next) {
		return credentials.Credential{}, errors.Wrapf(errors.ErrSessionExpired, "credential changed during refresh")
	}
	return next, nil
}

func wait(ctx context.Context, f *flight) (credentials.Credential, error) {
	select {
	case <-f.done:
		return f.cred, f.err
	case <-ctx.Done():
		return credentials.Credential{}, ctx.Err()
	}
}
