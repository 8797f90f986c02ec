package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"userbot/internal/eventbus"
	"userbot/internal/observability"
	"userbot/internal/storage"
	kit "userbot/internal/transport"
	telegram "userbot/internal/transport/telegram/adapter"
	logx "userbot/pkg/logx"
)

const updateBuffer = 256

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	obs     *observability.Service

	cmdm *CommandManager
	pm   *PluginManager

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(adCfg, bootLog)
	if err != nil {
		return nil, err
	}
	return newApp(cfgPath, cfgm, cfg, ad)
}

// newApp wires everything around an already built adapter.
func newApp(cfgPath string, cfgm *ConfigManager, cfg *Config, ad kit.Adapter) (*App, error) {
	// The log chat is resolved once the session is up, so the Telegram sink
	// starts without a target and stays silent until then.
	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	obsCfg, err := mapObservabilityConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	obs := observability.New(obsCfg, log)

	cmdm := NewCommandManager(log.With(logx.String("comp", "commands")), ad, store, mapRouterOptions(cfg))

	pm := NewPluginManager(log.With(logx.String("comp", "plugins")),
		cfgm, PluginDeps{
			Logger: log,
			Client: ad,
			Bus:    bus,
			Store:  store,
			Owners: cfg.Telegram.OwnerUserIDs,
		}, cmdm)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		obs:     obs,
		cmdm:    cmdm,
		pm:      pm,
		updates: make(chan kit.Update, updateBuffer),
	}, nil
}

func (a *App) Plugins() *PluginManager { return a.pm }

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

// validate rejects a reloaded config before it is committed.
func (a *App) validate(ctx context.Context, cfg *Config) error {
	if _, err := mapAdapterConfig(cfg); err != nil {
		return err
	}
	if _, err := mapObservabilityConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if a.pm != nil {
		return a.pm.ValidateConfig(ctx, cfg)
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.applyLogTarget(a.sup.Context(), a.cfgm.Get())

	a.obs.Start(a.sup.Context())

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe("", 128)
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
				a.log.Debug("event", logx.String("type", e.Type), logx.String("source", e.Source), logx.Time("time", e.Time))
			}
		}
	})

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
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startWatchdog()
	notifyReady(a.log)
	a.log.Info("app started", logx.String("self", a.selfName()))
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *Config) {
	sections, attrs, pluginChanged := SummarizeConfigChange(prev, next)
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Debug("config change summary", fields...)
		if len(pluginChanged) > 0 {
			a.log.Debug("plugin config changes detected", logx.Any("plugins", pluginChanged))
		}
	}
	for _, s := range sections {
		if s == "storage" || s == "telegram.session" {
			a.log.Warn("config change requires a restart", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(next))
	a.applyLogTarget(ctx, next)

	a.cmdm.SetOptions(mapRouterOptions(next))
	a.pm.SetOwners(next.Telegram.OwnerUserIDs)

	if oc, err := mapObservabilityConfig(next); err != nil {
		a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
	} else {
		a.obs.Reconfigure(ctx, oc)
	}

	a.pm.OnConfigUpdate(ctx, next)

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Source: "app", Time: time.Now(), Data: sections})
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

func (a *App) applyLogTarget(ctx context.Context, cfg *Config) {
	if cfg == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	to, err := resolveLogChat(rctx, a.adapter, a.self(), cfg.Telegram.LogChat)
	if err != nil {
		a.log.Warn("log chat not resolved; telegram logging off", logx.String("log_chat", cfg.Telegram.LogChat), logx.Err(err))
		to = kit.Peer{}
	}
	a.logs.SetTelegramTarget(to)
}

func (a *App) self() kit.Peer {
	if s, ok := a.adapter.(interface{ Self() kit.Peer }); ok {
		return s.Self()
	}
	return kit.Peer{}
}

func (a *App) selfName() string {
	self := a.self()
	if self.IsZero() {
		return ""
	}
	return self.DisplayName()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each shutdown step is bounded so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	step("observability", 1*time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
