package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"userbot/internal/eventbus"
	"userbot/internal/storage"
	kit "userbot/internal/transport"
	"userbot/internal/transport/telegram/router"
	logx "userbot/pkg/logx"
)

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps PluginDeps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// Watcher is implemented by plugins that inspect every incoming message,
// not only commands. Watchers run in registration order.
type Watcher interface {
	OnMessage(ctx context.Context, req *Request) error
}

type PluginDeps struct {
	Logger logx.Logger
	Client kit.Client
	Bus    eventbus.Bus
	Store  storage.Store
	Owners []int64
}

type PluginManager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *ConfigManager
	deps PluginDeps

	// order keeps registration order; watchers and help follow it.
	order []string
	reg   map[string]Plugin
	run   map[string]bool
	// Init runs once per plugin; later enable cycles only Start/Stop.
	inited map[string]bool
	// last config hash per running plugin, to skip redundant OnConfigChange calls
	lastRawHash map[string]uint64

	// baseCtx outlives the call-scoped contexts passed to StartAll/OnConfigUpdate.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool

	pctx    map[string]context.Context
	pcancel map[string]context.CancelFunc

	// plugins kept disabled because their config was rejected
	quarantine map[string]quarantineState

	cmdm *CommandManager
}

type quarantineState struct {
	rawHash uint64
	err     string
	since   time.Time
	count   int
}

const callTimeout = 10 * time.Second

func NewPluginManager(log logx.Logger, cfgm *ConfigManager, deps PluginDeps, cmdm *CommandManager) *PluginManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &PluginManager{
		log:         log,
		cfgm:        cfgm,
		deps:        deps,
		reg:         map[string]Plugin{},
		run:         map[string]bool{},
		inited:      map[string]bool{},
		lastRawHash: map[string]uint64{},
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		pctx:        map[string]context.Context{},
		pcancel:     map[string]context.CancelFunc{},
		quarantine:  map[string]quarantineState{},
		cmdm:        cmdm,
	}
}

func (pm *PluginManager) emit(typ string, data pluginEvent) {
	bus := pm.deps.Bus
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Source: "plugins", Data: data})
}

func (pm *PluginManager) isQuarantined(name string, rawHash uint64) bool {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	pm.mu.Unlock()
	return ok && st.rawHash == rawHash
}

func (pm *PluginManager) clearQuarantineOnChange(name string, rawHash uint64) {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	if ok && st.rawHash != rawHash {
		delete(pm.quarantine, name)
		pm.mu.Unlock()
		pm.log.Info("plugin quarantine cleared (config changed)", logx.String("plugin", name))
		pm.emit("plugin.quarantine_cleared", pluginEvent{Plugin: name})
		return
	}
	pm.mu.Unlock()
}

func (pm *PluginManager) setQuarantine(name string, rawHash uint64, err error, stage string) {
	if err == nil {
		return
	}
	errStr := err.Error()
	pm.mu.Lock()
	prev, ok := pm.quarantine[name]
	if ok && prev.rawHash == rawHash && prev.err == errStr {
		prev.count++
		pm.quarantine[name] = prev
		pm.mu.Unlock()
		return
	}
	count := 1
	if ok {
		count = prev.count + 1
	}
	pm.quarantine[name] = quarantineState{rawHash: rawHash, err: errStr, since: time.Now(), count: count}
	pm.mu.Unlock()

	pm.log.Error("plugin quarantined", logx.String("plugin", name), logx.String("stage", stage), logx.String("err", errStr))
	pm.emit(eventbus.TypePluginFailed, pluginEvent{Plugin: name, Stage: stage, Err: errStr})
}

// BindContext binds appCtx to baseCtx via cancellation bridge. First non-nil bind wins.
func (pm *PluginManager) BindContext(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	baseCancel := pm.baseCancel
	pm.mu.Unlock()

	context.AfterFunc(appCtx, baseCancel)
}

func (pm *PluginManager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		name := pl.Name()
		if _, dup := pm.reg[name]; !dup {
			pm.order = append(pm.order, name)
		}
		pm.reg[name] = pl
	}
	pm.refreshRegistryLocked(pm.cfgm.Get())
}

func (pm *PluginManager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	return pm.reconcile(pm.cfgm.Get())
}

// StopAll stops running plugins in reverse registration order.
func (pm *PluginManager) StopAll(ctx context.Context, reason StopReason) {
	pm.mu.Lock()
	names := slices.Clone(pm.order)
	pm.mu.Unlock()
	slices.Reverse(names)

	for _, name := range names {
		pm.stopOne(ctx, name, reason)
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked(pm.cfgm.Get())
	pm.mu.Unlock()
	pm.baseCancel()
}

func (pm *PluginManager) OnConfigUpdate(ctx context.Context, cfg *Config) {
	pm.BindContext(ctx)
	_ = pm.reconcile(cfg)
}

// SetOwners updates the owner list handed to plugins initialized later.
func (pm *PluginManager) SetOwners(ids []int64) {
	cp := append([]int64(nil), ids...)
	pm.mu.Lock()
	pm.deps.Owners = cp
	pm.mu.Unlock()
}

// Running reports whether the named plugin is started.
func (pm *PluginManager) Running(name string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.run[name]
}

// Quarantined returns the error that keeps the named plugin disabled, if any.
func (pm *PluginManager) Quarantined(name string) (string, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	q, ok := pm.quarantine[name]
	return q.err, ok
}

func (pm *PluginManager) stopOne(stopCtx context.Context, name string, reason StopReason) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()

	if !running || p == nil {
		return
	}

	start := time.Now()
	pm.log.Debug("stopping plugin", logx.String("plugin", name), logx.String("reason", string(reason)))

	if cancel != nil {
		cancel()
	}

	// a plugin that ignores stopCtx must not block shutdown
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pctx, name)
	delete(pm.pcancel, name)
	delete(pm.lastRawHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.emit(eventbus.TypePluginStopped, pluginEvent{Plugin: name, Reason: string(reason), TookMS: took.Milliseconds()})
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took))
}

func (pm *PluginManager) reconcile(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}
	type op struct {
		name    string
		p       Plugin
		raw     PluginConfigRaw
		rawHash uint64
		enabled bool
		run     bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.order))
	for _, name := range pm.order {
		raw, ok := cfg.Plugins[name]
		ops = append(ops, op{
			name:    name,
			p:       pm.reg[name],
			raw:     raw,
			rawHash: raw.Hash(),
			enabled: ok && raw.Enabled,
			run:     pm.run[name],
		})
	}
	pm.mu.Unlock()

	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			pm.enable(o.name, o.p, o.raw, o.rawHash)
		case !o.enabled && o.run:
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, StopPluginDisable)
			cancel()
		case o.enabled && o.run:
			pm.reapply(o.name, o.p, o.raw, o.rawHash)
		}
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked(cfg)
	pm.mu.Unlock()
	return nil
}

func (pm *PluginManager) enable(name string, p Plugin, raw PluginConfigRaw, rawHash uint64) {
	pm.clearQuarantineOnChange(name, rawHash)
	if pm.isQuarantined(name, rawHash) {
		pm.log.Warn("plugin enable skipped (quarantined)", logx.String("plugin", name))
		return
	}
	if err := validateStandardTimeouts(name, raw.Config); err != nil {
		pm.setQuarantine(name, rawHash, err, "timeouts")
		return
	}

	pctx, cancel := context.WithCancel(pm.baseCtx)

	pm.mu.Lock()
	needInit := !pm.inited[name]
	deps := pm.deps
	pm.mu.Unlock()
	if needInit {
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, deps) })
		icancel()
		if err != nil {
			pm.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
			pm.emit(eventbus.TypePluginFailed, pluginEvent{Plugin: name, Stage: "init", Err: err.Error()})
			cancel()
			return
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}

	if v, ok := p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := v.ValidateConfig(cctx, raw.Config)
		ccancel()
		if err != nil {
			pm.setQuarantine(name, rawHash, fmt.Errorf("config validate: %w", err), "validate")
			cancel()
			return
		}
	}

	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
		ccancel()
		if err != nil {
			pm.setQuarantine(name, rawHash, fmt.Errorf("config apply: %w", err), "config")
			cancel()
			return
		}
	}

	if err := pm.startWithTimeout(name, p, pctx, cancel, callTimeout); err != nil {
		pm.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
		pm.emit(eventbus.TypePluginFailed, pluginEvent{Plugin: name, Stage: "start", Err: err.Error()})
		cancel()
		return
	}

	pm.mu.Lock()
	pm.run[name] = true
	pm.pctx[name] = pctx
	pm.pcancel[name] = cancel
	pm.lastRawHash[name] = rawHash
	delete(pm.quarantine, name)
	pm.mu.Unlock()

	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit(eventbus.TypePluginStarted, pluginEvent{Plugin: name})
}

func (pm *PluginManager) reapply(name string, p Plugin, raw PluginConfigRaw, newHash uint64) {
	cp, ok := p.(ConfigurablePlugin)
	if !ok {
		return
	}
	pm.mu.Lock()
	oldHash := pm.lastRawHash[name]
	pctx := pm.pctx[name]
	pm.mu.Unlock()
	if newHash == oldHash {
		pm.log.Debug("plugin config unchanged; skipping", logx.String("plugin", name))
		return
	}

	fail := func(err error, stage string) {
		pm.setQuarantine(name, newHash, err, stage)
		stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
		pm.stopOne(stopCtx, name, StopPluginQuarantine)
		cancel()
	}
	if err := validateStandardTimeouts(name, raw.Config); err != nil {
		fail(err, "timeouts")
		return
	}
	if pctx == nil {
		pctx = pm.baseCtx
	}
	if v, ok := p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := v.ValidateConfig(cctx, raw.Config)
		ccancel()
		if err != nil {
			fail(fmt.Errorf("config validate: %w", err), "validate")
			return
		}
	}
	cctx, ccancel := context.WithTimeout(pctx, callTimeout)
	err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
	ccancel()
	if err != nil {
		fail(fmt.Errorf("config apply: %w", err), "config")
		return
	}
	pm.log.Info("plugin config applied", logx.String("plugin", name))
	pm.mu.Lock()
	pm.lastRawHash[name] = newHash
	pm.mu.Unlock()
}

// startWithTimeout calls Start(pctx) but enforces a deadline. If it times out, plugin ctx is cancelled.
func (pm *PluginManager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	if timeout <= 0 {
		return <-done
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()

		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (pm *PluginManager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (pm *PluginManager) refreshRegistryLocked(cfg *Config) {
	var cmds []Command
	var watchers []router.Watch
	for _, name := range pm.order {
		p := pm.reg[name]
		if !pm.run[name] {
			continue
		}
		if cfg != nil {
			if raw, ok := cfg.Plugins[name]; !ok || !raw.Enabled {
				continue
			}
		}
		pto, has := pluginCommandTimeout(cfg, name)

		for _, c := range pm.safeCommands(name, p) {
			c.PluginName = name
			if has && c.Timeout <= 0 {
				c.Timeout = pto
			}
			cmds = append(cmds, c)
		}
		if w, ok := p.(Watcher); ok {
			watchers = append(watchers, router.Watch{PluginName: name, Handle: w.OnMessage})
		}
	}

	if pm.cmdm != nil {
		pm.cmdm.SetRegistry(cmds, watchers)
	}
}

func (pm *PluginManager) safeCommands(name string, p Plugin) (out []Command) {
	if p == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin Commands()",
				logx.String("plugin", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			out = nil
		}
	}()
	return p.Commands()
}

// Timeouts is the standard per-plugin timeouts block:
//
//	"timeouts": { "command": "30s", "operation": "5s" }
type Timeouts struct {
	Command   string `json:"command,omitempty"`
	Operation string `json:"operation,omitempty"`
}

func pluginCommandTimeout(cfg *Config, plugin string) (time.Duration, bool) {
	if cfg == nil {
		return 0, false
	}
	raw, ok := cfg.Plugins[plugin]
	if !ok || len(raw.Config) == 0 {
		return 0, false
	}
	var w struct {
		Timeouts Timeouts `json:"timeouts"`
	}
	if err := json.Unmarshal(raw.Config, &w); err != nil || w.Timeouts.Command == "" {
		return 0, false
	}
	d, err := time.ParseDuration(w.Timeouts.Command)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func validateStandardTimeouts(plugin string, raw json.RawMessage) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil
	}
	b, ok := top["timeouts"]
	if !ok || len(b) == 0 || string(b) == "null" {
		return nil
	}
	var tm map[string]json.RawMessage
	if err := json.Unmarshal(b, &tm); err != nil {
		return fmt.Errorf("plugin %s: timeouts must be an object", plugin)
	}
	for k, v := range tm {
		switch k {
		case "command", "operation":
		default:
			return fmt.Errorf("plugin %s: unknown timeouts field %q (supported: command, operation)", plugin, k)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("plugin %s: invalid timeouts.%s: %w", plugin, k, err)
		}
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("plugin %s: invalid timeouts.%s: %w", plugin, k, err)
		}
	}
	return nil
}

// ValidateConfig checks enabled plugin blocks BEFORE a new config is committed.
// It does not call Init/Start/Stop and should be fast.
func (pm *PluginManager) ValidateConfig(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return nil
	}
	type item struct {
		name string
		p    Plugin
		raw  PluginConfigRaw
	}
	pm.mu.Lock()
	items := make([]item, 0, len(pm.order))
	for _, name := range pm.order {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		items = append(items, item{name: name, p: pm.reg[name], raw: raw})
	}
	pm.mu.Unlock()

	for _, it := range items {
		if err := validateStandardTimeouts(it.name, it.raw.Config); err != nil {
			return err
		}
		if v, ok := it.p.(ConfigValidator); ok {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := v.ValidateConfig(cctx, it.raw.Config)
			cancel()
			if err != nil {
				return fmt.Errorf("plugin %s: config validate: %w", it.name, err)
			}
		}
	}
	return nil
}
