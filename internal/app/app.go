// Package app is the composition root: it builds every component from the
// config file, runs them under one supervisor and applies hot reloads.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sebastian/internal/alarm"
	"sebastian/internal/commands"
	"sebastian/internal/config"
	"sebastian/internal/eventbus"
	"sebastian/internal/notifier"
	"sebastian/internal/poller"
	"sebastian/internal/runtime/supervisor"
	"sebastian/internal/storage"
	"sebastian/internal/transport/httpapi"
	logx "sebastian/pkg/logx"
	"sebastian/pkg/systemd"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor
	sd   *systemd.Notifier

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	alarms *alarm.Store
	cmds   *commands.Dispatcher
	notif  *notifier.Service
	poll   *poller.Service
	http   *httpapi.Server

	loc *time.Location
}

// NewApp loads the config at cfgPath and builds (but does not start) every component.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	loc, err := loadLocation(cfg.Alarms.Timezone)
	if err != nil {
		return nil, err
	}
	policy, err := alarm.ParseRepeatPolicy(cfg.Alarms.RepeatWithoutDays)
	if err != nil {
		return nil, err
	}

	st, err := storage.Open(mapStorageConfig(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	alarms, err := alarm.Open(ctx, st,
		alarm.WithLocation(loc),
		alarm.WithRepeatPolicy(policy),
		alarm.WithLogger(log),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	bus := eventbus.New()
	cmdOpts := []commands.Option{commands.WithBus(bus), commands.WithLogger(log)}
	if cfg.Storage.Audit {
		cmdOpts = append(cmdOpts, commands.WithAuditor(st))
	}
	cmds := commands.New(alarms, cmdOpts...)

	deliverers, err := buildDeliverers(cfg, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	notif := notifier.New(mapNotifierConfig(cfg), deliverers, log, bus, st)

	sd := systemd.New()
	poll := poller.New(mapPollerConfig(cfg, loc), alarms, notif, log,
		poller.WithTickHook(func() { sd.Ping(time.Now()) }),
	)

	a := &App{
		cfgm:   cfgm,
		sd:     sd,
		log:    appLog,
		logs:   logSvc,
		bus:    bus,
		store:  st,
		alarms: alarms,
		cmds:   cmds,
		notif:  notif,
		poll:   poll,
		http:   httpapi.New(cmds, bus, log),
		loc:    loc,
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(a.validateReload)
	return a, nil
}

// Commands is the command surface for in-process hosts.
func (a *App) Commands() *commands.Dispatcher { return a.cmds }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
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

// HTTPAddr is the HTTP host's listen address, or "" when disabled.
func (a *App) HTTPAddr() string { return a.http.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()
	cfg := a.cfgm.Get()

	a.notif.Start(c)
	if err := a.poll.Start(c); err != nil {
		return err
	}
	if err := a.http.Apply(c, mapHTTPConfig(cfg)); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e := <-events:
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("at", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := cfg
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts and apply only the newest.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, applied, next)
				applied = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	stored, _ := a.alarms.Counts()
	if sent, err := a.sd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		_, _ = a.sd.Status(fmt.Sprintf("%d alarms", stored))
	}
	a.log.Info("app started",
		logx.Int("alarms", stored),
		logx.String("tz", a.loc.String()),
		logx.Duration("watchdog", a.sd.WatchdogInterval()),
	)
	return nil
}

func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if _, err := buildDeliverers(cfg, logx.Nop()); err != nil {
		return err
	}
	return nil
}

// applyConfig applies what can change live and warns about the rest.
func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sum := config.SummarizeChange(prev, next)
	if sum.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = a.sd.Reloading()
	defer func() { _, _ = a.sd.Ready() }()

	for _, r := range sum.RestartRequired {
		a.log.Warn("config change requires restart", logx.String("setting", r))
	}

	a.logs.Apply(mapLogConfig(next))

	if err := a.poll.Apply(mapPollerConfig(next, a.loc)); err != nil {
		a.log.Warn("poller reconfigure failed", logx.Err(err))
	}

	ncfg := mapNotifierConfig(next)
	wasEnabled := a.notif.Enabled()
	if ds, err := buildDeliverers(next, a.log); err != nil {
		a.log.Warn("invalid notifier channels; keeping previous", logx.Err(err))
	} else {
		a.notif.SetDeliverers(ds)
	}
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(c)
	}

	if err := a.http.Apply(c, mapHTTPConfig(next)); err != nil {
		a.log.Warn("http reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sum.Sections, ","))}, sum.Attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop runs bounded shutdown steps in dependency order. A step that overruns
// its limit is logged and left behind.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping()
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		if err := a.runStep(ctx, name, limit, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("poller", 2*time.Second, func(c context.Context) error { a.poll.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Int64("goroutines_started", int64(c.Started)), logx.Int64("goroutines_active", c.Active))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) runStep(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx := ctx
	if limit > 0 {
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < limit {
			limit = max(time.Until(dl), 0)
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		} else if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
		return nil
	}
}
