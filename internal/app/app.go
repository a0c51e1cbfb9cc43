package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/handlers"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

type StopReason string

const (
	StopSignal   StopReason = "signal"
	StopFatal    StopReason = "fatal"
	StopShutdown StopReason = "shutdown"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	messenger kit.Messenger
	sched     *scheduler.Service
	alerts    *alerter
	maint     *maintenance
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg, true); err != nil {
		return nil, err
	}

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	return build(ctx, cfgm, cfg, ad)
}

// build wires the components around an already connected messenger. The
// logging service uses it as its chat sink when it also implements logx.Sender.
func build(ctx context.Context, cfgm *config.Manager, cfg *config.Config, msg kit.Messenger) (*App, error) {
	// Chat logging starts disabled so Apply does not warn before the target is set.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	sender, _ := msg.(logx.Sender)
	logSvc, log := logx.New(bootCfg, sender)
	chatID, threadID, hasTarget := groupLogTarget(cfg)
	if hasTarget {
		logSvc.SetChatTarget(chatID, threadID)
	}
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	backend, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = backend.Close()
		return fail(err)
	}
	bus := eventbus.New()
	sched := scheduler.New(schedCfg, backend, log.With(logx.String("comp", "scheduler")), bus)
	handlers.New(msg, log.With(logx.String("comp", "handlers"))).Register(sched)

	alerts := newAlerter(msg, log.With(logx.String("comp", "alerts")))
	if hasTarget {
		alerts.SetTarget(chatID, threadID)
	}

	maint, err := newMaintenance(cfg.Storage.MaintenanceSpec(), sched, log.With(logx.String("comp", "maintenance")))
	if err != nil {
		_ = backend.Close()
		return fail(fmt.Errorf("storage.maintenance: %w", err))
	}

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		messenger: msg,
		sched:     sched,
		alerts:    alerts,
		maint:     maint,
	}, nil
}

// Scheduler is the running scheduler and the only way to create entries:
// in-process producers (a command layer, an embedding program) call Add,
// AddAbs and Remove on it. The bot binary itself only consumes entries; its
// offline commands list and cancel but never add, because a separate process
// cannot wake this one's wait loop.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

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
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			return config.Validate(cfg, true)
		})
	}

	// Subscribe before the loop runs so an early halt is not missed.
	stopped, unsubStopped := a.bus.Subscribe(1, scheduler.EventStopped)
	failures, unsubAlerts := a.bus.Subscribe(64, scheduler.EventFailed, scheduler.EventStopped)

	if err := a.sched.Run(a.sup.Context()); err != nil {
		unsubStopped()
		unsubAlerts()
		return err
	}

	a.sup.Go("scheduler.watch", func(c context.Context) error {
		defer unsubStopped()
		select {
		case <-c.Done():
			return nil
		case <-stopped:
			if err := a.sched.Err(); err != nil {
				return err
			}
			return scheduler.ErrStopped
		}
	})
	a.sup.Go0("alerts.forward", func(c context.Context) {
		defer unsubAlerts()
		a.alerts.run(c, failures)
	})

	a.maint.Start()

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	notifySystemd(a.log, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.Summarize(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	chatID, threadID, ok := groupLogTarget(newCfg)
	if !ok {
		chatID, threadID = 0, 0
	}
	a.logs.SetChatTarget(chatID, threadID)
	a.alerts.SetTarget(chatID, threadID)
	a.logs.Apply(mapLoggingConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if config.RequiresRestart(sections) {
		a.log.Warn("config change requires a restart to take effect", logx.String("changed", strings.Join(sections, ",")))
	}
}

// Stop shuts everything down. Stored entries are left in place for the next
// start.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close(ctx)
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	start := time.Now()
	a.sup.Cancel()

	// The scheduler and the maintenance job are independent; stop them together.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.sched.Stop(gctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.maint.Stop(gctx); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
		return nil
	})
	err := g.Wait()

	// A fatal error recorded by the supervisor is reported through Err; only a
	// wait that timed out is a stop error.
	if werr := a.sup.Wait(ctx); werr != nil && ctx.Err() != nil {
		err = errors.Join(err, fmt.Errorf("supervisor: %w", werr))
	}
	if cerr := a.close(ctx); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		a.log.Warn("stopped with errors", logx.Err(err), logx.Duration("took", time.Since(start)))
	} else {
		a.log.Info("stopped", logx.Duration("took", time.Since(start)))
	}
	_ = a.logs.Close()
	return err
}

func (a *App) close(ctx context.Context) error {
	if err := a.sched.Close(ctx); err != nil && !errors.Is(err, scheduler.ErrClosed) {
		return fmt.Errorf("scheduler close: %w", err)
	}
	return nil
}
