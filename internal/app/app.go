// Package app wires configuration, logging, storage, sources and the HTTP
// server into one process with a supervised lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"automatex/internal/config"
	"automatex/internal/dispatch"
	"automatex/internal/eventbus"
	"automatex/internal/httpserver"
	"automatex/internal/metrics"
	"automatex/internal/poller"
	rtsup "automatex/internal/runtime/supervisor"
	"automatex/internal/source"
	"automatex/internal/storage"
	"automatex/internal/telegram"
	"automatex/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Backend
	sender  *telegram.Sender
	pollers []*poller.Poller

	metrics *metrics.Metrics
	status  *httpserver.Status
	http    *httpserver.Service
}

// New loads the config and builds every component. Missing Telegram
// credentials fail here with config.ErrMissingCredentials.
func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")

	cfgm := config.NewManager(cfgPath)
	cfgm.SetLogger(bootLog.With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	timeout, err := cfg.TelegramTimeout()
	if err != nil {
		return nil, err
	}
	sender, err := telegram.New(telegram.Config{
		Token:     cfg.Telegram.Token,
		ChatID:    cfg.Telegram.ChatID,
		LogChatID: cfg.LogChatID(),
		APIURL:    cfg.Telegram.APIURL,
		Timeout:   timeout,
	}, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogConfig(), sender)
	sender.SetLogger(log.With(logx.String("comp", "telegram")))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	appLog := log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     eventbus.New(),
		sender:  sender,
		metrics: metrics.New(),
	}
	if err := a.build(cfg, log); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) (err error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.StorageDriver(),
		Path:        cfg.SQLitePath(),
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()
	a.log.Info("storage ready", logx.String("driver", cfg.StorageDriver()))

	pace, err := cfg.DispatchPace()
	if err != nil {
		return err
	}
	settings, err := cfg.EnabledSources()
	if err != nil {
		return err
	}

	deps := source.Deps{
		Client:     source.NewHTTPClient(30 * time.Second),
		Backend:    store,
		Log:        log,
		NASAAPIKey: cfg.NASAAPIKey,
	}
	names := make([]string, 0, len(settings))
	for _, s := range settings {
		src, err := source.New(s, deps)
		if err != nil {
			return fmt.Errorf("source %s: %w", s.Name, err)
		}
		disp := dispatch.New(a.sender,
			dispatch.Footer{SupportURL: s.SupportURL, Disclaimer: s.Disclaimer},
			pace,
			log.With(logx.String("comp", "dispatch"), logx.String("source", s.Name)),
		)
		a.pollers = append(a.pollers, poller.New(src, disp, s.Schedule, log, poller.WithBus(a.bus)))
		names = append(names, s.Name)
		a.log.Info("source enabled",
			logx.String("source", s.Name),
			logx.String("schedule", s.Schedule.String()),
			logx.Duration("retention", s.Retention),
			logx.String("snapshot", s.Snapshot),
		)
	}
	if len(names) == 0 {
		a.log.Warn("no sources enabled; only the http server will run")
	}

	a.status = httpserver.NewStatus(names, a.bus)
	if cfg.HTTPEnabled() {
		a.http = httpserver.New(httpserver.Config{Addr: cfg.HTTPAddr()},
			httpserver.Deps{Status: a.status, Metrics: a.metrics.Handler()},
			log)
	}
	return nil
}

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

// Sources lists the names of the running sources.
func (a *App) Sources() []string {
	out := make([]string, 0, len(a.pollers))
	for _, p := range a.pollers {
		out = append(out, p.Name())
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.status.SetSupervisor(a.sup)

	// Hot reload is validated before commit; only logging is applied live.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return cfg.Validate() })

	// Observers subscribe here, before any poller can publish.
	metricsEvents, unsubMetrics := a.bus.Subscribe(64)
	statusEvents, unsubStatus := a.bus.Subscribe(64)
	a.sup.Go0("metrics", func(c context.Context) {
		defer unsubMetrics()
		a.metrics.Run(c, metricsEvents)
	})
	a.sup.Go0("status", func(c context.Context) {
		defer unsubStatus()
		a.status.Run(c, statusEvents)
	})

	if a.http != nil {
		a.http.Start(a.sup.Context())
	}

	for _, p := range a.pollers {
		a.sup.GoRestart("poller."+p.Name(), p.Run, rtsup.WithRestartBackoff(time.Second, time.Minute))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("sources", len(a.pollers)))
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	changed, attrs, restart := config.SummarizeChange(oldCfg, newCfg)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(newCfg.LogConfig())
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Pollers observe the canceled context between cycles and during fetches.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 2*time.Second, func(c context.Context) error {
		if a.http != nil {
			a.http.Stop(c)
		}
		return nil
	})
	// Pollers save state on a detached context, so wait for them before closing storage.
	step("supervisor", 12*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
