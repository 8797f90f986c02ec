package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"userbot/internal/eventbus"
	"userbot/internal/storage"
	logx "userbot/pkg/logx"
)

// ConfigValidator is an optional hook to validate plugin config before applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// PluginBase is embedded by plugins for the common wiring.
//
//	type Plugin struct { plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.PluginDeps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type PluginBase struct {
	Log        logx.Logger
	Deps       PluginDeps
	pluginName string

	ctx      context.Context
	cancel   context.CancelFunc
	settings *storage.Settings
}

// InitBase wires deps and logger.
func (b *PluginBase) InitBase(deps PluginDeps, pluginName string) {
	b.Deps = deps
	b.pluginName = pluginName
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("plugin", pluginName))
	b.settings = nil
}

// StartBase derives the plugin runtime context from ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
}

// StopBase cancels the runtime context, aborting work bound to it.
func (b *PluginBase) StopBase(context.Context) error {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	return nil
}

// Bind returns a child of ctx that is also canceled when the plugin stops.
func (b *PluginBase) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.Context(), cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}

// Context returns the plugin runtime context (canceled on stop/disable).
func (b *PluginBase) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// SettingsNS returns settings stored under ns. Plugins that must keep an
// existing namespace use this instead of Settings.
func (b *PluginBase) SettingsNS(ns string) *storage.Settings {
	return storage.NewSettings(b.Deps.Store, ns)
}

// Settings returns the plugin's settings namespace (its name).
func (b *PluginBase) Settings() *storage.Settings {
	if b.settings == nil {
		b.settings = storage.NewSettings(b.Deps.Store, b.pluginName)
	}
	return b.settings
}

// AppendAudit writes an audit entry to the store, if any.
func (b *PluginBase) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	st := b.Deps.Store
	if st == nil {
		return errors.New("storage not available")
	}
	if e.Plugin == "" {
		e.Plugin = b.pluginName
	}
	return st.AppendAudit(ctx, e)
}

// PublishEvent publishes to the in-process bus, if any. Never blocks.
func (b *PluginBase) PublishEvent(typ string, data any) {
	bus := b.Deps.Bus
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Source: b.pluginName, Data: data})
}

// DecodePluginConfig strictly decodes per-plugin raw json into T.
func DecodePluginConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
