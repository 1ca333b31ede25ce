// Package app wires the teaminvite server runtime: config, logging, stores,
// services, background jobs and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"teaminvite/cmd/internal/accounting"
	"teaminvite/cmd/internal/admin"
	"teaminvite/cmd/internal/allocation"
	"teaminvite/cmd/internal/booking"
	"teaminvite/cmd/internal/credential"
	"teaminvite/cmd/internal/dbtx"
	"teaminvite/cmd/internal/httpapi"
	"teaminvite/cmd/internal/invite"
	"teaminvite/cmd/internal/jobs"
	"teaminvite/cmd/internal/metrics"
	"teaminvite/cmd/internal/notify"
	"teaminvite/cmd/internal/redeem"
	"teaminvite/cmd/internal/team"
	"teaminvite/cmd/internal/upstream"
	"teaminvite/cmd/security/adminkey"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Stores are the persistence backends of one process.
type Stores struct {
	Teams    team.Store
	Bookings booking.Store
	Codes    invite.Store
	// Runner gives the redemption commit its transaction.
	Runner dbtx.Runner
	Pool   *pgxpool.Pool
}

// Close releases the pool, if any.
func (s Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// App is the teaminvite runtime.
type App struct {
	cfg Config
	log Logger

	stores  Stores
	metrics *metrics.Metrics
	jobs    *jobs.Scheduler
	admin   *admin.Service
	api     *httpapi.Handler
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a, err := assemble(cfg, log, st, metrics.New())
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

// OpenStores picks Postgres when TEAMINVITE_DATABASE_URL is set and the
// in-memory stores otherwise.
func OpenStores(ctx context.Context, cfg Config, log Logger) (Stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled.inmemory_store")
		return Stores{
			Teams:    team.NewInMemoryStore(),
			Bookings: booking.NewInMemoryStore(),
			Codes:    invite.NewInMemoryStore(),
			Runner:   dbtx.DirectRunner{},
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return Stores{}, err
	}
	st, err := postgresStores(cfg, pool)
	if err != nil {
		pool.Close()
		return Stores{}, err
	}
	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema, "sealed", st.sealed)
	return st.Stores, nil
}

type openedStores struct {
	Stores
	sealed bool
}

func postgresStores(cfg Config, pool *pgxpool.Pool) (openedStores, error) {
	seal, err := loadSealer(cfg)
	if err != nil {
		return openedStores{}, err
	}
	teamOpts := []team.StoreOption{team.WithSchema(cfg.DBSchema)}
	if seal != nil {
		teamOpts = append(teamOpts, team.WithSealer(seal))
	}

	teams, err := team.NewPostgresStore(pool, teamOpts...)
	if err != nil {
		return openedStores{}, err
	}
	bookings, err := booking.NewPostgresStore(pool, booking.WithSchema(cfg.DBSchema))
	if err != nil {
		return openedStores{}, err
	}
	codes, err := invite.NewPostgresStore(pool, invite.WithSchema(cfg.DBSchema))
	if err != nil {
		return openedStores{}, err
	}
	return openedStores{
		Stores: Stores{
			Teams:    teams,
			Bookings: bookings,
			Codes:    codes,
			Runner:   dbtx.PoolRunner{Pool: pool},
			Pool:     pool,
		},
		sealed: seal != nil,
	}, nil
}

// assemble builds the service graph on top of st.
func assemble(cfg Config, log Logger, st Stores, m *metrics.Metrics) (*App, error) {
	ucfg, err := upstream.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	client, err := upstream.New(ucfg, upstream.WithObserver(m.ObserveUpstream))
	if err != nil {
		return nil, err
	}

	ccfg, err := credential.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	creds, err := credential.NewManager(client, st.Teams,
		credential.WithConfig(ccfg),
		credential.WithLogger(log),
		credential.WithObserver(m.ObserveRefresh),
	)
	if err != nil {
		return nil, err
	}

	reconciler, err := accounting.NewReconciler(st.Teams, st.Bookings,
		accounting.UpstreamGauge{Creds: creds, API: client},
		accounting.WithSyncTTL(cfg.SelfHealTTL),
		accounting.WithLogger(log),
		accounting.WithObserver(m.ObserveSeatCorrection),
	)
	if err != nil {
		return nil, err
	}

	allocator, err := allocation.NewAllocator(st.Teams, reconciler,
		allocation.WithLogger(log),
		allocation.WithObserver(m.ObserveReservation),
	)
	if err != nil {
		return nil, err
	}

	codes, err := invite.NewService(st.Codes)
	if err != nil {
		return nil, err
	}

	notifier := notify.NewDeduper(notify.FromEnv(log), cfg.AlertDedupWindow)

	rcfg := redeem.DefaultConfig()
	rcfg.InviteTimeout = EnvDuration("TEAMINVITE_INVITE_TIMEOUT", rcfg.InviteTimeout)
	rcfg.StaleAfter = EnvDuration("TEAMINVITE_REPAIR_STALE_AFTER", rcfg.StaleAfter)
	coordinator, err := redeem.NewCoordinator(redeem.Deps{
		Codes:       codes,
		Bookings:    st.Bookings,
		Seats:       allocator,
		Credentials: creds,
		Inviter:     client,
		Runner:      st.Runner,
		Notifier:    notifier,
		Teams:       st.Teams,
		Roster:      redeem.UpstreamRoster{Creds: creds, API: client},
	},
		redeem.WithConfig(rcfg),
		redeem.WithLogger(log),
		redeem.WithObserver(m.ObserveRedemption),
	)
	if err != nil {
		return nil, err
	}

	adminSvc, err := admin.NewService(admin.Deps{
		Teams:       st.Teams,
		Bookings:    st.Bookings,
		Codes:       codes,
		Reconciler:  reconciler,
		Credentials: creds,
		API:         client,
	}, admin.WithLogger(log))
	if err != nil {
		return nil, err
	}

	jcfg, err := jobs.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	scheduler, err := jobs.NewScheduler(jcfg, st.Teams, reconciler, creds,
		jobs.WithLogger(log),
		jobs.WithNotifier(notifier),
		jobs.WithRepairer(coordinator),
	)
	if err != nil {
		return nil, err
	}

	keyCfg, err := adminkey.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("admin key config: %w", err)
	}
	api := httpapi.NewHandler(log, httpapi.LoadConfigFromEnv(), coordinator, httpapi.WithAdmin(adminSvc, keyCfg))

	return &App{
		cfg:     cfg,
		log:     log,
		stores:  st,
		metrics: m,
		jobs:    scheduler,
		admin:   adminSvc,
		api:     api,
	}, nil
}

// Admin exposes the operator service to the CLI.
func (a *App) Admin() *admin.Service { return a.admin }

// Jobs exposes the scheduler so the CLI can run a job once.
func (a *App) Jobs() *jobs.Scheduler { return a.jobs }

// Close releases store resources without serving.
func (a *App) Close() { a.stores.Close() }

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.stores.Pool, a.metrics, a.api)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log)
	return WithRequestID(h)
}

// Run starts the HTTP server and the job scheduler, and blocks until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.stores.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 60*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"watch_url", wsBaseURL(base)+"/v1/bookings/{id}/watch",
		"db_enabled", a.stores.Pool != nil,
	)
	a.jobs.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case serveErr = <-errCh:
		a.log.Error("server.fail", "err", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	a.jobs.Stop(shutdownCtx)
	if serveErr != nil {
		return serveErr
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
