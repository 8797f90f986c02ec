// Package repost copies new posts of a source channel into a target channel
// with a promo line appended.
package repost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"userbot/internal/plugin"
	logx "userbot/pkg/logx"
)

// settingsNS keeps the namespace the saved state has always lived under.
const settingsNS = "Vores"

const (
	keyEnabled = "enabled"
	keyTarget  = "target_channel"
	keyName    = "target_name"
)

type Plugin struct {
	plugin.PluginBase

	mu  sync.RWMutex
	cfg Config
}

func New() *Plugin {
	return &Plugin{cfg: Config{}.withDefaults()}
}

func (p *Plugin) Name() string { return "repost" }

func (p *Plugin) Init(_ context.Context, deps plugin.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	c := p.config()
	p.Log.Info("watching source channel",
		logx.String("source", c.SourceChannel),
		logx.Bool("exclude_mentions", c.excludeMentions()),
	)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) ValidateConfig(_ context.Context, raw json.RawMessage) error {
	_, err := parseConfig(raw)
	return err
}

func (p *Plugin) OnConfigChange(_ context.Context, raw json.RawMessage) error {
	c, err := parseConfig(raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
	return nil
}

func (p *Plugin) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// state is the saved forwarding setup.
type state struct {
	Enabled bool
	Target  string
	Name    string
}

func (p *Plugin) load(ctx context.Context) (state, error) {
	s := p.SettingsNS(settingsNS)
	var (
		st  state
		err error
	)
	if st.Enabled, err = s.Bool(ctx, keyEnabled, false); err != nil {
		return state{}, fmt.Errorf("load %s: %w", keyEnabled, err)
	}
	if st.Target, err = s.String(ctx, keyTarget, ""); err != nil {
		return state{}, fmt.Errorf("load %s: %w", keyTarget, err)
	}
	if st.Name, err = s.String(ctx, keyName, ""); err != nil {
		return state{}, fmt.Errorf("load %s: %w", keyName, err)
	}
	return st, nil
}
