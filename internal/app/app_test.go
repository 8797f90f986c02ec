package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userbot/internal/config"
	"userbot/internal/plugin"
	kit "userbot/internal/transport"
	"userbot/internal/transport/transporttest"
)

type fakeAdapter struct {
	*transporttest.Client

	mu      sync.Mutex
	out     chan<- kit.Update
	stopped bool
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Self() kit.Peer {
	return kit.Peer{ID: 777, Kind: kit.PeerUser, Username: "me_myself"}
}

func (f *fakeAdapter) push(text string) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 10, Chat: kit.Peer{ID: 777, Kind: kit.PeerUser}, Out: true, Text: text,
	}}
}

type pingPlugin struct {
	plugin.PluginBase
}

func (p *pingPlugin) Name() string { return "ping" }

func (p *pingPlugin) Init(_ context.Context, deps PluginDeps) error {
	p.InitBase(deps, "ping")
	return nil
}

func (p *pingPlugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
func (p *pingPlugin) Stop(ctx context.Context) error  { return p.StopBase(ctx) }

func (p *pingPlugin) Commands() []plugin.Command {
	return []plugin.Command{{
		Route: "ping",
		Handle: func(ctx context.Context, req *plugin.Request) error {
			return req.Answer(ctx, "pong")
		},
	}}
}

const appYAML = `
telegram:
  api_id: 1
  api_hash: hash
  log_chat: me
logging:
  level: error
  console: true
plugins:
  ping:
    enabled: true
`

func TestAppLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(appYAML), 0o600))

	cfgm := NewConfigManager(path)
	cfg, err := cfgm.Load()
	require.NoError(t, err)

	ad := &fakeAdapter{Client: &transporttest.Client{}}
	a, err := newApp(path, cfgm, cfg, ad)
	require.NoError(t, err)
	a.Plugins().Register(&pingPlugin{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	assert.True(t, a.Plugins().Running("ping"))

	ad.push(".ping")
	require.Eventually(t, func() bool {
		last, ok := ad.Last()
		return ok && last.HTML == "pong"
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.False(t, a.Plugins().Running("ping"))
	ad.mu.Lock()
	assert.True(t, ad.stopped)
	ad.mu.Unlock()
}

func TestResolveLogChat(t *testing.T) {
	cli := &transporttest.Client{}
	cli.AddPeer(kit.Peer{ID: 42, Kind: kit.PeerUser, Username: "owner"})
	self := kit.Peer{ID: 7, Kind: kit.PeerUser}
	ctx := context.Background()

	p, err := resolveLogChat(ctx, cli, self, "")
	require.NoError(t, err)
	assert.True(t, p.IsZero())

	p, err = resolveLogChat(ctx, cli, self, "me")
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)

	p, err = resolveLogChat(ctx, cli, self, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.ID)

	p, err = resolveLogChat(ctx, cli, self, "@owner")
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.ID)

	_, err = resolveLogChat(ctx, cli, kit.Peer{}, "self")
	assert.Error(t, err)
}

func TestConfigMapping(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.APIID = 5
	cfg.Telegram.ResolveCacheTTL = "1m"
	cfg.Logging.Telegram.Enabled = true
	cfg.Observability.ReadTimeout = "5s"

	ac, err := mapAdapterConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ac.ResolveCacheTTL)
	assert.Equal(t, updateBuffer, ac.UpdateBuffer)

	// telegram logging needs a log chat
	assert.False(t, mapLogConfig(cfg).Telegram.Enabled)
	cfg.Telegram.LogChat = "me"
	assert.True(t, mapLogConfig(cfg).Telegram.Enabled)

	oc, err := mapObservabilityConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, oc.ReadTimeout)
	assert.Equal(t, 60*time.Second, oc.IdleTimeout)
	assert.True(t, oc.Metrics)

	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory", sc.Driver)

	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: " ./x.db ", BusyTimeout: "2s"}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "./x.db", sc.Path)
	assert.Equal(t, 2*time.Second, sc.BusyTimeout)

	cfg.Telegram.ResolveCacheTTL = "soon"
	_, err = mapAdapterConfig(cfg)
	assert.Error(t, err)
}
