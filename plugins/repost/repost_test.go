package repost

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userbot/internal/eventbus"
	"userbot/internal/plugin"
	"userbot/internal/storage"
	kit "userbot/internal/transport"
	"userbot/internal/transport/transporttest"
	logx "userbot/pkg/logx"
)

var (
	source = kit.Peer{ID: 100, Kind: kit.PeerChannel, Username: "Bedrock_RP", Title: "Bedrock RP"}
	target = kit.Peer{ID: 200, Kind: kit.PeerChannel, Username: "mypacks", Title: "My <Packs>"}
	home   = kit.Peer{ID: 1, Kind: kit.PeerUser}
)

type fixture struct {
	p     *Plugin
	cli   *transporttest.Client
	store storage.Store
	bus   eventbus.Bus
}

func newFixture(t *testing.T, rawCfg string) *fixture {
	t.Helper()
	cli := &transporttest.Client{}
	cli.AddPeer(source)
	cli.AddPeer(target)
	st := storage.NewMemory()
	bus := eventbus.New()

	p := New()
	require.NoError(t, p.Init(context.Background(), plugin.PluginDeps{Logger: logx.Nop(), Client: cli, Bus: bus, Store: st}))
	require.NoError(t, p.OnConfigChange(context.Background(), json.RawMessage(rawCfg)))
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return &fixture{p: p, cli: cli, store: st, bus: bus}
}

func (f *fixture) command(t *testing.T, h plugin.HandlerFunc, args string, replyTo int) transporttest.Sent {
	t.Helper()
	req := &plugin.Request{
		Message: &kit.Message{ID: 50, Chat: home, Out: true, ReplyToID: replyTo},
		Chat:    home,
		RawArgs: args,
		Client:  f.cli,
		Logger:  logx.Nop(),
	}
	require.NoError(t, h(context.Background(), req))
	last, ok := f.cli.Last()
	require.True(t, ok)
	return last
}

func (f *fixture) post(msg *kit.Message) {
	req := &plugin.Request{Message: msg, Chat: msg.Chat, Client: f.cli, Logger: logx.Nop()}
	_ = f.p.OnMessage(context.Background(), req)
}

func (f *fixture) enable(t *testing.T) {
	t.Helper()
	f.command(t, f.p.handleStart, "https://t.me/mypacks/", 0)
}

func TestParseChannelArg(t *testing.T) {
	cases := map[string]string{
		"@mypacks":                 "mypacks",
		"  mypacks ":               "mypacks",
		"https://t.me/mypacks":     "mypacks",
		"t.me/mypacks/":            "mypacks",
		"https://t.me/x/t.me/last": "last",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseChannelArg(in), in)
	}
}

func TestStartStopStatus(t *testing.T) {
	f := newFixture(t, `{}`)

	got := f.command(t, f.p.handleStart, "", 0)
	assert.Equal(t, msgNoChannel, got.HTML)

	got = f.command(t, f.p.handleStart, "@nobody_here", 0)
	assert.Equal(t, msgInvalidChannel, got.HTML)

	got = f.command(t, f.p.handleStart, "@mypacks", 0)
	assert.Equal(t, "edit", got.Op)
	assert.Equal(t, "<b>✅ Auto-forwarding enabled</b>\nFrom: <code>@Bedrock_RP</code>\nTo: <code>@mypacks</code>", got.HTML)

	st, err := f.p.load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state{Enabled: true, Target: "mypacks", Name: "My <Packs>"}, st)

	got = f.command(t, f.p.handleStatus, "", 0)
	assert.Equal(t, "<b>ℹ️ Auto-forwarding status:</b>\nEnabled: <code>Yes ✅</code>\nTarget channel: <code>mypacks</code>", got.HTML)

	got = f.command(t, f.p.handleStop, "", 0)
	assert.Equal(t, msgStopped, got.HTML)

	got = f.command(t, f.p.handleStatus, "", 0)
	assert.Equal(t, "<b>ℹ️ Auto-forwarding status:</b>\nEnabled: <code>No ❌</code>\nTarget channel: <code>mypacks</code>", got.HTML)
}

func TestStatusNotSet(t *testing.T) {
	assert.Equal(t, "<b>ℹ️ Auto-forwarding status:</b>\nEnabled: <code>No ❌</code>\nTarget channel: <code>Not set</code>", statusHTML(state{}))
}

func TestSettingsSurviveRestart(t *testing.T) {
	f := newFixture(t, `{}`)
	f.enable(t)

	p2 := New()
	require.NoError(t, p2.Init(context.Background(), plugin.PluginDeps{Logger: logx.Nop(), Client: f.cli, Store: f.store}))
	st, err := p2.load(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Equal(t, "mypacks", st.Target)
}

func TestWatcherCopiesPosts(t *testing.T) {
	f := newFixture(t, `{}`)
	f.enable(t)
	events, unsub := f.bus.Subscribe("repost.", 8)
	defer unsub()
	n := len(f.cli.Outbox())

	post := &kit.Message{
		ID: 7, Chat: kit.Peer{ID: 100, Kind: kit.PeerChannel, Username: "bedrock_rp"},
		Text:     "New pack out",
		Entities: []kit.Entity{{Type: kit.EntityBold, Offset: 0, Length: 3}},
		Date:     time.Now(),
	}
	f.post(post)

	out := f.cli.Outbox()
	require.Len(t, out, n+1)
	sent := out[n]
	assert.Equal(t, "text", sent.Op)
	assert.Equal(t, int64(200), sent.To.ID)
	assert.Equal(t, "<b>New</b> pack out\n\n🔥 Лучший канал по ресурс пакам — <a href='https://t.me/mypacks'>My &lt;Packs&gt;</a>", sent.HTML)

	select {
	case e := <-events:
		assert.Equal(t, EventForwarded, e.Type)
	case <-time.After(time.Second):
		t.Fatal("no forwarded event")
	}

	media := &kit.Media{Kind: kit.MediaPhoto}
	f.post(&kit.Message{ID: 8, Chat: source, Media: media})
	last, _ := f.cli.Last()
	assert.Equal(t, "media", last.Op)
	assert.Same(t, media, last.Media)
	assert.Equal(t, "\n\n🔥 Лучший канал по ресурс пакам — <a href='https://t.me/mypacks'>My &lt;Packs&gt;</a>", last.HTML)
}

func TestWatcherFilters(t *testing.T) {
	f := newFixture(t, `{}`)

	// disabled
	f.post(&kit.Message{ID: 1, Chat: source, Text: "hello"})
	assert.Empty(t, f.cli.Outbox())

	f.enable(t)
	n := len(f.cli.Outbox())

	posts := []*kit.Message{
		{ID: 2, Chat: kit.Peer{ID: 9, Kind: kit.PeerChannel, Username: "other"}, Text: "hello"},
		{ID: 3, Chat: kit.Peer{ID: 100, Kind: kit.PeerChannel}, Text: "no username"},
		{ID: 4, Chat: source, Out: true, Text: "mine"},
		{ID: 5, Chat: source, Text: "thanks @Bedrock_RP"},
		{ID: 6, Chat: source, Text: "by Bedrock_RP!", Entities: []kit.Entity{{Type: kit.EntityMention, Offset: 3, Length: 10}}},
		{ID: 7, Chat: source},
	}
	for _, m := range posts {
		f.post(m)
	}
	assert.Len(t, f.cli.Outbox(), n)

	// stop keeps the target but ends copying
	f.command(t, f.p.handleStop, "", 0)
	n = len(f.cli.Outbox())
	f.post(&kit.Message{ID: 9, Chat: source, Text: "hello"})
	assert.Len(t, f.cli.Outbox(), n)
}

func TestWatcherMentionFilterOff(t *testing.T) {
	f := newFixture(t, `{"exclude_mentions": false, "promo_label": "Best"}`)
	f.enable(t)
	f.post(&kit.Message{ID: 5, Chat: source, Text: "thanks @Bedrock_RP"})
	last, _ := f.cli.Last()
	assert.Equal(t, "text", last.Op)
	assert.Equal(t, "thanks @Bedrock_RP\n\nBest — <a href='https://t.me/mypacks'>My &lt;Packs&gt;</a>", last.HTML)
}

func TestWatcherDropsErrors(t *testing.T) {
	f := newFixture(t, `{}`)
	f.enable(t)
	n := len(f.cli.Outbox())
	f.cli.Err = map[string]error{"send": assert.AnError}
	f.post(&kit.Message{ID: 5, Chat: source, Text: "hello"})
	assert.Len(t, f.cli.Outbox(), n)
}

func TestVoreTest(t *testing.T) {
	f := newFixture(t, `{}`)

	got := f.command(t, f.p.handleTest, "", 0)
	assert.Equal(t, msgNoReply, got.HTML)

	f.cli.AddMessage(&kit.Message{ID: 40, Chat: home, Text: "pack @Bedrock_RP"})
	got = f.command(t, f.p.handleTest, "", 40)
	assert.Equal(t, msgNoTarget, got.HTML)

	f.enable(t)
	f.command(t, f.p.handleStop, "", 0)

	// no filters and no enabled check for the test command
	got = f.command(t, f.p.handleTest, "", 40)
	assert.Equal(t, msgTested, got.HTML)
	out := f.cli.Outbox()
	copied := out[len(out)-2]
	assert.Equal(t, int64(200), copied.To.ID)
	assert.Contains(t, copied.HTML, "pack @Bedrock_RP\n\n")
}

func TestConfigValidation(t *testing.T) {
	p := New()
	assert.NoError(t, p.ValidateConfig(context.Background(), json.RawMessage(`{"source_channel":"@chan"}`)))
	assert.Error(t, p.ValidateConfig(context.Background(), json.RawMessage(`{"source":"x"}`)))
	assert.Error(t, p.ValidateConfig(context.Background(), json.RawMessage(`{"source_channel":"t.me/x"}`)))

	c, err := parseConfig([]byte(`{"source_channel":"@chan","timeouts":{"operation":"5s"}}`))
	require.NoError(t, err)
	assert.Equal(t, "chan", c.SourceChannel)
	assert.Equal(t, "Bedrock_RP", c.CreatorHandle)
	assert.True(t, c.excludeMentions())
	assert.Equal(t, 5*time.Second, c.opTimeout)
}

// brokenStore fails every read once broken is set.
type brokenStore struct {
	storage.Store
	broken atomic.Bool
}

func (s *brokenStore) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	if s.broken.Load() {
		return nil, false, errors.New("disk gone")
	}
	return s.Store.Get(ctx, ns, key)
}

func TestUnreadableSettingsAreReported(t *testing.T) {
	f := newFixture(t, `{}`)
	f.enable(t)

	bs := &brokenStore{Store: f.store}
	p := New()
	require.NoError(t, p.Init(context.Background(), plugin.PluginDeps{Logger: logx.Nop(), Client: f.cli, Store: bs}))
	require.NoError(t, p.OnConfigChange(context.Background(), json.RawMessage(`{}`)))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())
	bs.broken.Store(true)

	req := &plugin.Request{Message: &kit.Message{ID: 50, Chat: home, Out: true}, Chat: home, Client: f.cli, Logger: logx.Nop()}
	err := p.handleStatus(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")

	n := len(f.cli.Outbox())
	_ = p.OnMessage(context.Background(), &plugin.Request{
		Message: &kit.Message{ID: 8, Chat: source, Text: "post", Date: time.Now()},
		Chat:    source,
		Client:  f.cli,
		Logger:  logx.Nop(),
	})
	assert.Len(t, f.cli.Outbox(), n, "nothing is copied while settings are unreadable")
}
