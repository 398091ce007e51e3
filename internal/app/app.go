package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"taskd/internal/actions"
	"taskd/internal/config"
	"taskd/internal/eventbus"
	"taskd/internal/observability/debug"
	"taskd/internal/runtime/supervisor"
	"taskd/internal/storage"
	"taskd/internal/task/engine"
	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine  *engine.Service
	sched   *scheduler.Service
	actions *actions.Registry
	units   *actions.DBusUnits
	debug   *debug.Service

	mu       sync.Mutex
	declared map[string]declaredJob

	stopOnce sync.Once
}

// NewApp loads the config file and builds every component. Nothing runs
// until Start.
func NewApp(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "config"))
	cfgm := config.NewConfigManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, errors.Wrap(err, "open storage")
		}
		store = st
		log.Info("fire history enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	engineSvc := engine.New(mapEngineConfig(cfg), log.With(logx.String("comp", "engine")), bus)

	schedLog := log.With(logx.String("comp", "scheduler"))
	schedSvc, err := scheduler.New(mapSchedulerConfig(cfg), engineSvc, schedLog, bus)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	reg := actions.NewRegistry(log.With(logx.String("comp", "actions")))
	units := actions.NewDBusUnits()
	if err := actions.RegisterUnit(reg, units); err != nil {
		return nil, err
	}
	if err := checkJobs(reg, cfg); err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, errors.Wrap(err, "invalid config")
	}

	return &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		engine:   engineSvc,
		sched:    schedSvc,
		actions:  reg,
		units:    units,
		debug:    debug.New(mapDebugConfig(cfg), schedSvc, store, log.With(logx.String("comp", "debug"))),
		declared: map[string]declaredJob{},
	}, nil
}

// Actions exposes the action registry so callers can add actions before Start.
func (a *App) Actions() *actions.Registry { return a.actions }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetCheck(a.checkConfig)

	// The pool outlives the app context: queued fires must still drain
	// while the scheduler shuts down.
	a.engine.Start(context.WithoutCancel(ctx))

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256, scheduler.EventFired)
		a.sup.Go0("history.record", func(c context.Context) {
			defer unsub()
			recordHistory(c, events, a.store, a.log.With(logx.String("comp", "history")))
		})
	}

	events, unsub := a.bus.Subscribe(128, "job.")
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
				a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.reconcile(a.cfgm.Get())
	a.log.Info("started", logx.Int("jobs", len(a.cfgm.Get().Jobs)), logx.Any("actions", a.actions.Names()))

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if err := a.debug.Start(a.sup.Context()); err != nil {
		return err
	}
	return nil
}

// applyConfig applies a reloaded config. Logging and jobs change live; pool,
// scheduler and storage settings take effect on restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	changed, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config changed", append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)...)

	for _, section := range changed {
		switch section {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "jobs":
			a.reconcile(newCfg)
		default:
			a.log.Warn("config section requires restart", logx.String("section", section))
		}
	}
}

// Stop shuts the app down: scheduler first (waiting up to
// scheduler.shutdown_timeout for running callbacks), then the pool, storage
// and supervised loops. It returns the ids of jobs still running when the
// wait ran out.
func (a *App) Stop(ctx context.Context, reason StopReason) []string {
	var abandoned []string
	a.stopOnce.Do(func() {
		abandoned = a.stop(ctx, reason)
	})
	return abandoned
}

func (a *App) stop(ctx context.Context, reason StopReason) []string {
	if ctx == nil {
		ctx = context.Background()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	a.step(ctx, "debug", 2*time.Second, a.debug.Stop)

	// Shutdown honors its context, so it runs inline rather than as a step.
	sctx, cancel := context.WithTimeout(ctx, a.cfgm.Get().ShutdownTimeout())
	abandoned := a.sched.Shutdown(sctx)
	cancel()
	if len(abandoned) > 0 {
		a.log.Warn("jobs still running at shutdown", logx.Any("ids", abandoned))
	}
	a.step(ctx, "engine", 2*time.Second, func(c context.Context) error {
		a.engine.Stop(c)
		return nil
	})
	a.step(ctx, "systemd", time.Second, func(context.Context) error { return a.units.Close() })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	if a.sup != nil {
		a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}

	a.log.Info("stopped", logx.Int("abandoned", len(abandoned)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return abandoned
}

// step runs one shutdown step bounded by max and the caller's deadline.
// A step that overruns is logged and left running.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
