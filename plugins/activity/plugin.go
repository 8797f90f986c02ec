// Package activity reports what a user recently wrote in the current chat.
package activity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"userbot/internal/plugin"
)

type Plugin struct {
	plugin.PluginBase

	mu  sync.RWMutex
	cfg Config

	// now is swapped in tests.
	now func() time.Time
}

func New() *Plugin {
	return &Plugin{cfg: Config{}.withDefaults(), now: time.Now}
}

func (p *Plugin) Name() string { return "activity" }

func (p *Plugin) Init(_ context.Context, deps plugin.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
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
