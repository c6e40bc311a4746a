package acmefront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/acmefront/core/email"
	"github.com/dmitrymomot/acmefront/core/handler"
	"github.com/dmitrymomot/acmefront/core/health"
	"github.com/dmitrymomot/acmefront/core/kvstore"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/metrics"
	"github.com/dmitrymomot/acmefront/core/nonce"
	"github.com/dmitrymomot/acmefront/core/notify"
	"github.com/dmitrymomot/acmefront/core/queue"
	"github.com/dmitrymomot/acmefront/core/router"
	"github.com/dmitrymomot/acmefront/core/server"
	"github.com/dmitrymomot/acmefront/core/tracing"
	"github.com/dmitrymomot/acmefront/integration/ca/upstream"
	"github.com/dmitrymomot/acmefront/integration/database/pg"
	"github.com/dmitrymomot/acmefront/integration/database/redis"
	"github.com/dmitrymomot/acmefront/integration/dns/route53"
	"github.com/dmitrymomot/acmefront/integration/email/postmark"
	"github.com/dmitrymomot/acmefront/internal/acme"
	"github.com/dmitrymomot/acmefront/internal/ca"
	"github.com/dmitrymomot/acmefront/internal/db"
	"github.com/dmitrymomot/acmefront/internal/delegation"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
	"github.com/dmitrymomot/acmefront/internal/store"
	"github.com/dmitrymomot/acmefront/middleware"
)

// TaskDelegationSweep is the periodic task pruning stale delegations.
const TaskDelegationSweep = "delegation.sweep"

// ErrNoDatabase is returned by operations that need postgres in memory mode.
var ErrNoDatabase = errors.New("acmefront: no database in memory storage mode")

// Store is every repository the app needs from one backend.
// *store.Postgres and *store.Memory implement it.
type Store interface {
	fulfillment.Store
	acme.Repository
	delegation.Repository
}

// App owns the wired components of one process.
type App struct {
	config   Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	tracing  *tracing.Provider

	pool  *pgxpool.Pool
	store Store
	kv    kvstore.Store
	tasks queue.Storage

	queue      *queue.Service
	vendors    *ca.Registry
	engine     *fulfillment.Engine
	delegation *delegation.Service
	acme       *acme.Server
	server     *server.Server

	dns     delegation.DNSProvider
	mailer  email.Sender
	extra   []ca.Vendor
	checks  []health.Check
	closers []func() error
}

// AppOption customizes New before any component is built.
type AppOption func(*App) error

// WithLogger replaces the logger built from the config.
func WithLogger(l *slog.Logger) AppOption {
	return func(a *App) error {
		if l == nil {
			return errors.New("logger cannot be nil")
		}
		a.logger = l
		return nil
	}
}

// WithVendors registers additional CA vendors.
func WithVendors(vendors ...ca.Vendor) AppOption {
	return func(a *App) error {
		a.extra = append(a.extra, vendors...)
		return nil
	}
}

// WithDNSProvider replaces the Route 53 provider of the delegation service.
func WithDNSProvider(p delegation.DNSProvider) AppOption {
	return func(a *App) error {
		if p == nil {
			return errors.New("dns provider cannot be nil")
		}
		a.dns = p
		return nil
	}
}

// WithEmailSender replaces the Postmark or development sender.
func WithEmailSender(s email.Sender) AppOption {
	return func(a *App) error {
		if s == nil {
			return errors.New("email sender cannot be nil")
		}
		a.mailer = s
		return nil
	}
}

// New connects the backends and wires every component. Call Close when done.
func New(ctx context.Context, cfg Config, opts ...AppOption) (*App, error) {
	a := &App{config: cfg}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.logger == nil {
		a.logger = newLogger(cfg)
	}

	if err := a.build(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}

func newLogger(cfg Config) *slog.Logger {
	preset := logger.WithDevelopment(cfg.AppName)
	if cfg.IsProduction() {
		preset = logger.WithProduction(cfg.AppName)
	}
	return logger.New(
		preset,
		logger.WithLevelString(cfg.LogLevel),
		logger.WithContextExtractors(middleware.RequestIDExtractor),
	)
}

func (a *App) build(ctx context.Context) error {
	cfg := a.config

	tp, err := tracing.New(ctx, cfg.Tracing, tracing.WithServiceName(cfg.AppName))
	if err != nil {
		return err
	}
	a.tracing = tp

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if err := a.connect(ctx); err != nil {
		return err
	}

	a.queue, err = queue.NewServiceFromConfig(cfg.Queue, a.tasks,
		queue.WithServiceLogger(a.logger),
		queue.WithWorkerOptions(queue.WithObserver(a.metrics.TaskDone)),
	)
	if err != nil {
		return err
	}

	if err := a.buildVendors(); err != nil {
		return err
	}

	catalog := fulfillment.DefaultCatalog(cfg.Fulfillment.DefaultVendor)
	if cfg.Fulfillment.CatalogPath != "" {
		if catalog, err = fulfillment.LoadCatalog(cfg.Fulfillment.CatalogPath); err != nil {
			return err
		}
	}

	engineOpts := []fulfillment.Option{
		fulfillment.WithCatalog(catalog),
		fulfillment.WithNotifier(a.dispatcher()),
		fulfillment.WithMetrics(a.metrics),
		fulfillment.WithLogger(a.logger),
	}
	if err := a.buildDelegation(ctx); err != nil {
		return err
	}
	if a.delegation != nil {
		engineOpts = append(engineOpts, fulfillment.WithDCV(a.delegation))
	}
	a.engine = fulfillment.NewEngine(cfg.Fulfillment, a.store, a.vendors, a.queue.Enqueuer(), a.kv, engineOpts...)

	a.queue.RegisterHandlers(a.engine.TaskHandlers()...)
	if a.delegation != nil && cfg.Delegation.SweepInterval > 0 {
		a.queue.RegisterHandlers(queue.NewPeriodicTaskHandler(TaskDelegationSweep, a.sweep))
		if err := a.queue.Scheduler().AddTask(TaskDelegationSweep, queue.Every(cfg.Delegation.SweepInterval)); err != nil {
			return err
		}
	}

	a.acme, err = acme.NewServer(cfg.ACME, a.engine, a.store,
		nonce.NewManager(a.kv, cfg.ACME.NonceTTL),
		acme.WithLogger(a.logger),
		acme.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	a.server, err = server.NewFromConfig(cfg.Server, server.WithLogger(a.logger))
	return err
}

// connect opens the storage backends selected by APP_STORAGE.
func (a *App) connect(ctx context.Context) error {
	switch a.config.Storage {
	case StorageMemory:
		a.store = store.NewMemory()
		a.tasks = queue.NewMemoryStorage()
		a.kv = kvstore.NewMemoryStore()
		a.logger.WarnContext(ctx, "using in-memory storage, state is lost on exit")
		return nil

	case StoragePostgres, "":
		pool, err := pg.Connect(ctx, a.config.DB)
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

		client, err := redis.Connect(ctx, a.config.Redis)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)

		pgStore := store.NewPostgres(pool)
		a.store = pgStore
		a.tasks = pgStore
		a.kv = kvstore.NewRedisStore(client, a.config.RedisPrefix)
		a.checks = append(a.checks,
			health.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
			health.Check{Name: "redis", Fn: redis.Healthcheck(client)},
		)
		return nil
	}
	return fmt.Errorf("acmefront: unknown storage %q", a.config.Storage)
}

func (a *App) buildVendors() error {
	a.vendors = ca.NewRegistry()
	if a.config.Upstream.Enabled() {
		v, err := upstream.New(a.config.Upstream,
			upstream.WithLogger(a.logger),
			upstream.WithTracerProvider(a.tracing.TracerProvider()),
		)
		if err != nil {
			return err
		}
		if err := a.vendors.Register(v); err != nil {
			return err
		}
	}
	if a.config.FakeCA {
		fake := ca.NewFake("fake")
		fake.AutoApprove = true
		if err := a.vendors.Register(fake); err != nil {
			return err
		}
	}
	for _, v := range a.extra {
		if err := a.vendors.Register(v); err != nil {
			return err
		}
	}
	if _, err := a.vendors.Get(a.config.Fulfillment.DefaultVendor); err != nil {
		return fmt.Errorf("acmefront: default vendor: %w", err)
	}
	return nil
}

func (a *App) dispatcher() *notify.Dispatcher {
	sender := a.mailer
	if sender == nil {
		if a.config.Postmark.Enabled() {
			pm, err := postmark.New(a.config.Postmark)
			if err == nil {
				sender = pm
			} else {
				a.logger.Warn("postmark disabled", logger.Error(err))
			}
		}
		if sender == nil {
			sender = email.NewDevSender(a.config.MailDir)
		}
	}
	return notify.NewDispatcher(a.logger,
		notify.NewLogChannel(a.logger),
		notify.NewEmailChannel(sender),
	)
}

// buildDelegation wires the delegation service when a DNS provider is
// injected or a hosted zone is configured.
func (a *App) buildDelegation(ctx context.Context) error {
	dns := a.dns
	if dns == nil && a.config.Delegation.HostedZoneID != "" {
		p, err := route53.New(ctx, a.config.Route53)
		if err != nil {
			return err
		}
		dns = p
	}
	if dns == nil {
		a.logger.InfoContext(ctx, "dns delegation disabled, no hosted zone configured")
		return nil
	}
	a.delegation = delegation.NewService(a.config.Delegation, a.store, dns,
		delegation.WithLogger(a.logger),
		delegation.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) sweep(ctx context.Context) error {
	res, err := a.delegation.Sweep(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "delegation sweep done",
		logger.Count("checked", res.Checked),
		logger.Count("failing", res.Failing),
		logger.Count("pruned", res.Pruned))
	return nil
}

// Handler serves the ACME routes plus health and metrics.
func (a *App) Handler() http.Handler {
	r := router.New[*acme.Context](
		router.WithContextFactory(acme.NewContext),
		router.WithErrorHandler[*acme.Context](a.acme.ErrorHandler),
		router.WithLogger[*acme.Context](a.logger),
	)

	quiet := func(ctx handler.Context) bool {
		p := ctx.Request().URL.Path
		return p == "/healthz" || p == "/readyz" || strings.HasPrefix(p, "/metrics")
	}
	r.Use(
		middleware.RequestID[*acme.Context](),
		middleware.LoggingWithConfig[*acme.Context](middleware.LoggingConfig{
			Logger: a.logger,
			Skip:   quiet,
		}),
	)

	r.Get("/healthz", health.Liveness[*acme.Context])
	r.Get("/readyz", health.Readiness[*acme.Context](a.logger, a.config.HealthTimeout, a.checks...))
	r.MountHTTP("/metrics", metrics.Handler(a.registry))

	a.acme.Register(r)
	return r
}

// Serve runs the HTTP server until ctx is cancelled. With withWorker, or in
// memory mode where tasks cannot cross processes, the queue worker runs in
// the same process.
func (a *App) Serve(ctx context.Context, withWorker bool) error {
	withWorker = withWorker || a.config.Storage == StorageMemory

	g, ctx := errgroup.WithContext(ctx)
	if withWorker {
		a.checks = append(a.checks, health.Check{Name: "worker", Fn: a.queue.Healthcheck})
		g.Go(a.queue.Run(ctx))
	}
	g.Go(a.server.Run(ctx, a.Handler()))
	return g.Wait()
}

// Work runs the queue worker and scheduler until ctx is cancelled.
func (a *App) Work(ctx context.Context) error {
	return a.queue.Run(ctx)()
}

// Migrator returns a goose migrator over the app's pool. Close it when done.
func (a *App) Migrator() (*pg.Migrator, error) {
	if a.pool == nil {
		return nil, ErrNoDatabase
	}
	return pg.NewMigrator(a.pool, db.Migrations(), a.logger)
}

// Sweep prunes stale delegations once.
func (a *App) Sweep(ctx context.Context) (delegation.SweepResult, error) {
	if a.delegation == nil {
		return delegation.SweepResult{}, errors.New("acmefront: dns delegation is disabled")
	}
	return a.delegation.Sweep(ctx)
}

func (a *App) Engine() *fulfillment.Engine     { return a.engine }
func (a *App) Delegation() *delegation.Service { return a.delegation }
func (a *App) Logger() *slog.Logger            { return a.logger }
func (a *App) Registry() *prometheus.Registry  { return a.registry }

// Ready runs the readiness checks once.
func (a *App) Ready(ctx context.Context) error {
	_, err := health.Run(ctx, a.config.HealthTimeout, a.checks...)
	return err
}

// Close releases the backends in reverse order and flushes traces.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil

	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
