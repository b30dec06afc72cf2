package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"syndicate/internal/api"
	"syndicate/internal/channel"
	"syndicate/internal/config"
	"syndicate/internal/connector"
	"syndicate/internal/content"
	"syndicate/internal/distribution"
	"syndicate/internal/eventbus"
	"syndicate/internal/resilience"
	"syndicate/internal/runtime/supervisor"
	"syndicate/internal/storage"
	"syndicate/internal/task/scheduler"
	logx "syndicate/pkg/logx"
)

const (
	jobSweep   = "distribution.sweep"
	jobCleanup = "distribution.cleanup"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store      storage.Store
	guards     *resilience.Layer
	connectors *connector.Registry
	content    content.Provider
	rdb        *redis.Client
	bus        eventbus.Bus
	nc         *nats.Conn

	dist     *distribution.Service
	channels *channel.Registry
	server   *api.Server
	sched    *scheduler.Service
}

// NewApp loads cfgPath and builds every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (_ *App, err error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a := &App{cfgm: cfgm, logs: logSvc, log: log.With(logx.String("comp", "app"))}
	defer func() {
		if err != nil {
			a.closeResources()
			_ = logSvc.Close()
		}
	}()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
		return nil, err
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	gopt, err := mapGuardOptions(cfg)
	if err != nil {
		return nil, err
	}
	a.guards = resilience.New(gopt)

	copt, err := mapConnectorOptions(cfg, log.With(logx.String("comp", "connector")))
	if err != nil {
		return nil, err
	}
	a.connectors = connector.Defaults(copt)

	if a.content, err = a.buildContent(cfg, log); err != nil {
		return nil, err
	}

	a.bus = eventbus.New()
	if cfg.Events.NATS.Enabled {
		if a.nc, err = eventbus.DialNATS(cfg.Events.NATS.URL, "syndicate", log); err != nil {
			return nil, fmt.Errorf("events.nats: %w", err)
		}
	}

	seed, err := mapSettings(distribution.DefaultSettings(), cfg)
	if err != nil {
		return nil, err
	}
	a.dist, err = distribution.New(distribution.Deps{
		Store:      a.store,
		Content:    a.content,
		Connectors: a.connectors,
		Guards:     a.guards,
		Bus:        a.bus,
		Log:        log,
		Settings:   seed,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err = a.dist.LoadSettings(ctx, seed); err != nil {
		return nil, err
	}
	a.channels = channel.NewRegistry(a.store, a.connectors, a.bus, log)

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.server = api.NewServer(hc, api.NewRouter(a.dist, a.channels, log), log)

	schc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(schc, log)
	if err = a.registerJobs(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) buildContent(cfg *config.Config, log logx.Logger) (content.Provider, error) {
	cc := cfg.Content
	var p content.Provider
	if strings.TrimSpace(cc.BaseURL) == "" {
		a.log.Warn("content.base_url not set; every content lookup will miss")
		p = content.NewStaticProvider()
	} else {
		timeout, err := config.ParseDuration("content.timeout", cc.Timeout, 0)
		if err != nil {
			return nil, err
		}
		hp, err := content.NewHTTPProvider(cc.BaseURL, cc.Token, timeout)
		if err != nil {
			return nil, err
		}
		p = hp
	}
	if !cc.Cache.Enabled {
		return p, nil
	}
	ttl, err := config.ParseDuration("content.cache.ttl", cc.Cache.TTL, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	a.rdb = redis.NewClient(&redis.Options{
		Addr:     cc.Cache.RedisAddr,
		Password: cc.Cache.Password,
		DB:       cc.Cache.DB,
	})
	return content.NewCachedProvider(p, a.rdb, ttl, log), nil
}

func (a *App) registerJobs(cfg *config.Config) error {
	sweep, cleanup := scheduleSpecs(cfg)
	if err := a.sched.Add(jobSweep, sweep, a.runSweep); err != nil {
		return err
	}
	return a.sched.Add(jobCleanup, cleanup, a.runCleanup)
}

// Sweep and cleanup log their own outcomes; the scheduler records failures.
func (a *App) runSweep(ctx context.Context) error {
	_, err := a.dist.ProcessScheduledDistributions(ctx)
	return err
}

func (a *App) runCleanup(ctx context.Context) error {
	_, err := a.dist.CleanupOldRecords(ctx)
	return err
}

func (a *App) Logger() logx.Logger                 { return a.log }
func (a *App) Distribution() *distribution.Service { return a.dist }
func (a *App) Channels() *channel.Registry         { return a.channels }
func (a *App) Scheduler() *scheduler.Service       { return a.sched }

// HTTPAddr is the bound admin API address, or "" when it is not serving.
func (a *App) HTTPAddr() string { return a.server.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	if err := a.store.Ping(run); err != nil {
		return fmt.Errorf("storage ping: %w", err)
	}

	if a.nc != nil {
		bridge := eventbus.NewNATSBridge(a.bus, a.nc, a.natsPrefix(a.cfgm.Get()), a.log)
		a.sup.GoRestart("eventbus.nats", bridge.Run,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", string(e.Type)), logx.Time("time", e.Time))
			}
		}
	})

	a.server.Start(run)
	a.sched.Start(run)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("http", a.server.Addr()),
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Strings("platforms", platformNames(a.connectors)),
	)
	return nil
}

func (a *App) natsPrefix(cfg *config.Config) string {
	if cfg != nil {
		if p := strings.TrimSpace(cfg.Events.NATS.SubjectPrefix); p != "" {
			return p
		}
	}
	return config.DefaultNATSSubject
}

// validateReload rejects a reload before it is committed.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapSettings(a.dist.Settings(), cfg); err != nil {
		return fmt.Errorf("distribution: %w", err)
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	sweep, cleanup := scheduleSpecs(cfg)
	if _, err := scheduler.ParseSchedule(sweep); err != nil {
		return fmt.Errorf("scheduler.sweep: %w", err)
	}
	if _, err := scheduler.ParseSchedule(cleanup); err != nil {
		return fmt.Errorf("scheduler.cleanup: %w", err)
	}
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if stale := config.RestartRequired(sections); len(stale) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", stale))
	}

	if err := a.logs.Apply(mapLoggingConfig(next)); err != nil {
		a.log.Warn("log sink unavailable after reload", logx.Err(err))
	}

	if schc, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		if err := a.registerJobs(next); err != nil {
			a.log.Warn("schedule update failed", logx.Err(err))
		}
		a.sched.Apply(ctx, schc)
	}

	if hc, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.server.Reconfigure(ctx, hc)
	}

	pc, nc := prev.Connectors, next.Connectors
	a.guards.Pacer.SetRate(nc.RatePerSec, nc.Burst)
	pc.RatePerSec, pc.Burst, nc.RatePerSec, nc.Burst = 0, 0, 0, 0
	if !reflect.DeepEqual(pc, nc) {
		a.log.Warn("connector timeouts or base urls changed; restart required")
	}

	if !reflect.DeepEqual(prev.Distribution, next.Distribution) {
		s, err := mapSettings(a.dist.Settings(), next)
		if err == nil {
			_, err = a.dist.ApplySettings(ctx, s)
		}
		if err != nil {
			a.log.Warn("distribution settings not applied", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		if a.logs != nil {
			_ = a.logs.Close()
		}
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Each step gets a bounded slice of ctx so one component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		fn(c)
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("scheduler", 5*time.Second, a.sched.Stop)
	step("http", 5*time.Second, a.server.Stop)
	step("supervisor", 2*time.Second, func(c context.Context) {
		if err := a.sup.Wait(c); err != nil {
			a.log.Warn("supervisor wait", logx.Err(err))
		}
	})
	a.closeResources()
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// closeResources releases connections opened by build.
func (a *App) closeResources() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
		a.nc = nil
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
		a.rdb = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
		a.store = nil
	}
}

func platformNames(r *connector.Registry) []string {
	ps := r.Platforms()
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, string(p))
	}
	return out
}
