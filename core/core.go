// Package core wires the session components together. Everything is built
// in New and torn down in Dispose; there is no package-level state.
package core

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/elearn-session/backend"
	"github.com/jrsteele09/elearn-session/credentials"
	"github.com/jrsteele09/elearn-session/gateway"
	"github.com/jrsteele09/elearn-session/guards"
	"github.com/jrsteele09/elearn-session/internal/config"
	"github.com/jrsteele09/elearn-session/internal/metrics"
	"github.com/jrsteele09/elearn-session/refresh"
	"github.com/jrsteele09/elearn-session/session"
	"github.com/jrsteele09/elearn-session/storage"
	"github.com/jrsteele09/elearn-session/storage/filestore"
	"github.com/jrsteele09/elearn-session/storage/memstore"
	"github.com/jrsteele09/elearn-session/storage/redisstore"
	"github.com/jrsteele09/elearn-session/stores/catalogue"
	"github.com/jrsteele09/elearn-session/stores/notifications"
)

// Core is the composition root handed to the UI layer.
type Core struct {
	log     zerolog.Logger
	metrics *metrics.Metrics

	slots       storage.Slots
	closeSlots  func() error
	creds       *credentials.Store
	gateway     *gateway.Gateway
	client      *backend.Client
	coordinator *refresh.Coordinator
	session     *session.Manager
	roleGuard   guards.RoleGuard
	content     *guards.ContentGuard
	catalogue   *catalogue.Store
	inbox       *notifications.Store

	unhook func()
}

// Option defines a function type to modify the Core instance.
type Option func(*options)

type options struct {
	slots      storage.Slots
	httpClient gateway.Doer
	registerer prometheus.Registerer
}

// WithSlots replaces the configured storage driver.
func WithSlots(slots storage.Slots) Option {
	return func(o *options) {
		o.slots = slots
	}
}

func WithHTTPClient(client gateway.Doer) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithRegisterer registers the metrics on reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// New builds every component. It does not touch the network; call Init for
// that.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts ...Option) (*Core, error) {
	o := options{registerer: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Core{
		log:        logger,
		metrics:    metrics.New(o.registerer),
		closeSlots: func() error { return nil },
	}

	c.slots = o.slots
	if c.slots == nil {
		slots, closeFn, err := openSlots(ctx, cfg)
		if err != nil {
			// Persistence is never fatal; the stores run in memory.
			logger.Warn().Err(err).Str("driver", cfg.GetStorageDriver()).Msg("storage unavailable, continuing in memory")
		} else {
			c.slots, c.closeSlots = slots, closeFn
		}
	}

	c.creds = credentials.NewStore(c.slots, logger)

	gwOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetrics(c.metrics),
		gateway.WithTimeout(cfg.GetRequestTimeout()),
	}
	if o.httpClient != nil {
		gwOpts = append(gwOpts, gateway.WithHTTPClient(o.httpClient))
	}
	gw, err := gateway.New(cfg.GetBaseURL(), c.creds, gwOpts...)
	if err != nil {
		return nil, fmt.Errorf("[core.New] %w", err)
	}
	c.gateway = gw
	c.client = backend.NewClient(gw)

	c.coordinator, err = refresh.NewCoordinator(c.creds, c.client.Refresh,
		refresh.WithLogger(logger),
		refresh.WithMetrics(c.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("[core.New] %w", err)
	}

	c.catalogue = catalogue.NewStore(c.slots, logger)
	c.inbox = notifications.NewStore(c.slots, logger)

	c.session, err = session.NewManager(c.creds, c.client,
		session.WithLogger(logger),
		session.WithMetrics(c.metrics),
		session.WithRoutes(cfg.GetLoginRoute(), cfg.GetDashboardRoute()),
		session.WithListeners(c.catalogue, c.inbox),
	)
	if err != nil {
		return nil, fmt.Errorf("[core.New] %w", err)
	}

	gw.UseRefresher(c.session.WrapRefresher(c.coordinator))
	c.unhook = gw.OnSessionExpired(c.session.ExpireHook())

	c.roleGuard = guards.RoleGuard{Metrics: c.metrics}
	c.content = guards.NewContentGuard(c.client,
		guards.WithLogger(logger),
		guards.WithMetrics(c.metrics),
	)
	return c, nil
}

func openSlots(ctx context.Context, cfg config.StorageConfig) (storage.Slots, func() error, error) {
	switch cfg.GetStorageDriver() {
	case config.StorageDriverMemory:
		return memstore.New(), func() error { return nil }, nil
	case config.StorageDriverRedis:
		rs, err := redisstore.Dial(ctx, redisstore.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
			Prefix:   cfg.GetRedisPrefix(),
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Close, nil
	case config.StorageDriverFile, "":
		fs, err := filestore.Open(cfg.GetStoragePath())
		if err != nil {
			return nil, nil, err
		}
		return fs, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.GetStorageDriver())
}

// Init rehydrates the stores and validates any stored credential.
func (c *Core) Init(ctx context.Context) session.State {
	c.catalogue.Load(ctx)
	c.inbox.Load(ctx)
	state := c.session.Restore(ctx)
	c.log.Info().Str("state", state.String()).Msg("session restored")
	return state
}

// Dispose waits for background work and releases storage.
func (c *Core) Dispose() error {
	c.unhook()
	c.session.Dispose()
	return c.closeSlots()
}

func (c *Core) Session() *session.Manager {
	return c.session
}

func (c *Core) RoleGuard() guards.RoleGuard {
	return c.roleGuard
}

func (c *Core) ContentGuard() *guards.ContentGuard {
	return c.content
}

func (c *Core) Catalogue() *catalogue.Store {
	return c.catalogue
}

func (c *Core) Notifications() *notifications.Store {
	return c.inbox
}

func (c *Core) Metrics() *metrics.Metrics {
	return c.metrics
}

// Degraded reports whether credentials are only held in memory.
func (c *Core) Degraded() bool {
	return c.creds.Degraded()
}

// RefreshCatalogue refetches the course list.
func (c *Core) RefreshCatalogue(ctx context.Context) error {
	courses, err := c.client.Courses(ctx)
	if err != nil {
		return fmt.Errorf("[Core.RefreshCatalogue] %w", err)
	}
	c.catalogue.ReplaceAll(courses)
	return nil
}

// RefreshNotifications refetches the signed-in identity's inbox. A response
// that arrives after the identity changed is discarded.
func (c *Core) RefreshNotifications(ctx context.Context) error {
	owner := c.inbox.OwnerID()
	items, err := c.client.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("[Core.RefreshNotifications] %w", err)
	}
	if err := c.inbox.ReplaceAll(ctx, owner, items); err != nil {
		return fmt.Errorf("[Core.RefreshNotifications] %w", err)
	}
	return nil
}
