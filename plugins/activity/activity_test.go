package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userbot/internal/plugin"
	"userbot/internal/storage"
	kit "userbot/internal/transport"
	"userbot/internal/transport/transporttest"
	logx "userbot/pkg/logx"
)

var (
	group  = kit.Peer{ID: 1234567890, Kind: kit.PeerChannel, Title: "Private group"}
	public = kit.Peer{ID: 555, Kind: kit.PeerChannel, Username: "mcpe_chat", Title: "MCPE"}
	alice  = kit.Peer{ID: 42, Kind: kit.PeerUser, Username: "alice", FirstName: "Alice", LastName: "<Smith>"}
	anon   = kit.Peer{ID: 43, Kind: kit.PeerUser}
	now    = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
)

func newPlugin(t *testing.T, rawCfg string) (*Plugin, *transporttest.Client) {
	t.Helper()
	cli := &transporttest.Client{}
	cli.AddPeer(alice)
	cli.AddPeer(anon)
	p := New()
	p.now = func() time.Time { return now }
	require.NoError(t, p.Init(context.Background(), plugin.PluginDeps{Logger: logx.Nop(), Client: cli, Store: storage.NewMemory()}))
	require.NoError(t, p.OnConfigChange(context.Background(), json.RawMessage(rawCfg)))
	return p, cli
}

func run(t *testing.T, cli *transporttest.Client, h plugin.HandlerFunc, chat kit.Peer, args string, replyTo int) (string, error) {
	t.Helper()
	req := &plugin.Request{
		Message: &kit.Message{ID: 999, Chat: chat, Out: true, ReplyToID: replyTo},
		Chat:    chat,
		RawArgs: args,
		Client:  cli,
		Logger:  logx.Nop(),
	}
	err := h(context.Background(), req)
	last, ok := cli.Last()
	require.True(t, ok)
	return last.HTML, err
}

func TestActivityUsage(t *testing.T) {
	p, cli := newPlugin(t, `{}`)
	got, err := run(t, cli, p.handleActivity, group, "", 0)
	require.NoError(t, err)
	assert.Equal(t, msgNoArgs, got)

	got, err = run(t, cli, p.handleActivity, group, "@ghost", 0)
	require.NoError(t, err)
	assert.Equal(t, "<b>❌ User ghost not found</b>", got)

	got, err = run(t, cli, p.handleActivity, group, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, msgNoMessages, got)
}

func TestActivityReport(t *testing.T) {
	p, cli := newPlugin(t, `{"recent_count": 2}`)
	cli.AddMessage(transporttest.Msg(group, 10, 42, "first ever", now.Add(-30*24*time.Hour)))
	cli.AddMessage(transporttest.Msg(group, 11, 42, "this week", now.Add(-3*24*time.Hour)))
	cli.AddMessage(transporttest.Msg(group, 12, 42, "", now.Add(-2*time.Hour)))
	cli.Messages[group.ID][2].Media = &kit.Media{Kind: kit.MediaPhoto}
	cli.AddMessage(transporttest.Msg(group, 13, 42, "a <b>\nline", now.Add(-time.Hour)))
	cli.AddMessage(transporttest.Msg(group, 14, 7, "someone else", now))

	got, err := run(t, cli, p.handleActivity, group, "@alice", 0)
	require.NoError(t, err)

	want := "<b>👤 User Activity Report</b>\n\n" +
		"<b>User:</b> Alice &lt;Smith&gt;\n" +
		"<b>Username:</b> @alice\n" +
		"<b>ID:</b> <code>42</code>\n\n" +
		"<b>📊 Statistics:</b>\n" +
		"├ <b>Total messages:</b> 4\n" +
		"├ <b>Messages today:</b> 2\n" +
		"├ <b>Messages this week:</b> 3\n" +
		"├ <b>First message:</b> 10.04.2024 12:00\n" +
		"└ <b>Last message:</b> 10.05.2024 11:00\n\n" +
		"<b>📝 Last 2 messages:</b>\n" +
		"├ <a href='https://t.me/c/1234567890/13'>10.05.2024 11:00</a>: a &lt;b&gt; line\n" +
		"└ <a href='https://t.me/c/1234567890/12'>10.05.2024 10:00</a>: 📎 Media\n"
	assert.Equal(t, want, got)
}

func TestActivityByReplyAndTimezone(t *testing.T) {
	p, cli := newPlugin(t, `{"timezone": "Europe/Moscow"}`)
	cli.AddMessage(transporttest.Msg(public, 20, 43, "hi", now.Add(-time.Hour)))
	cli.AddMessage(&kit.Message{ID: 21, Chat: public, SenderID: 43, Date: now.Add(-30 * time.Minute)})

	got, err := run(t, cli, p.handleActivity, public, "", 21)
	require.NoError(t, err)
	assert.Contains(t, got, "<b>User:</b> Unknown\n")
	assert.Contains(t, got, "<b>Username:</b> None\n")
	assert.Contains(t, got, "<b>Total messages:</b> 2")
	// 11:00 UTC is 14:00 in Moscow
	assert.Contains(t, got, "<a href='https://t.me/mcpe_chat/20'>10.05.2024 14:00</a>: hi")
	assert.Contains(t, got, "10.05.2024 14:30</a>: Message")
}

func TestActivityReplyWithoutSender(t *testing.T) {
	p, cli := newPlugin(t, `{}`)
	cli.AddMessage(&kit.Message{ID: 30, Chat: public, Text: "channel post"})
	_, err := run(t, cli, p.handleActivity, public, "", 30)
	assert.ErrorIs(t, err, errNoSender)
}

func TestUserLast(t *testing.T) {
	p, cli := newPlugin(t, `{}`)
	for i := 1; i <= 8; i++ {
		text := fmt.Sprintf("message %d", i)
		if i == 8 {
			text = strings.Repeat("x", 70)
		}
		cli.AddMessage(transporttest.Msg(public, 100+i, 42, text, now.Add(time.Duration(i)*time.Minute)))
	}

	got, err := run(t, cli, p.handleLast, public, "@alice 2", 0)
	require.NoError(t, err)
	want := "<b>📝 Last 2 messages from Alice:</b>\n\n" +
		"├ <a href='https://t.me/mcpe_chat/108'>10.05 12:08</a>: " + strings.Repeat("x", 60) + "...\n" +
		"└ <a href='https://t.me/mcpe_chat/107'>10.05 12:07</a>: message 7\n"
	assert.Equal(t, want, got)

	got, err = run(t, cli, p.handleLast, public, "alice", 0)
	require.NoError(t, err)
	assert.Contains(t, got, "Last 5 messages from Alice")

	got, err = run(t, cli, p.handleLast, public, "alice 500", 0)
	require.NoError(t, err)
	assert.Contains(t, got, "Last 8 messages from Alice")

	cli.AddMessage(&kit.Message{ID: 200, Chat: public, SenderID: 42, Text: "reply target"})
	got, err = run(t, cli, p.handleLast, public, "3", 200)
	require.NoError(t, err)
	assert.Contains(t, got, "Last 3 messages from Alice")
}

func TestLastArgs(t *testing.T) {
	cases := []struct {
		raw   string
		reply bool
		user  string
		n     int
	}{
		{"@bob", false, "bob", 5},
		{"bob 7", false, "bob", 7},
		{"bob 99", false, "bob", 50},
		{"bob x", false, "bob", 5},
		{"bob 0", false, "bob", 5},
		{"bob -3", false, "bob", 5},
		{"12", true, "", 12},
		{"abc", true, "", 5},
		{"", true, "", 5},
		{"5 x", true, "", 5},
		{" 8 ", true, "", 8},
	}
	for _, c := range cases {
		u, n := lastArgs(c.raw, c.reply, 5, 50)
		assert.Equal(t, c.user, u, c.raw)
		assert.Equal(t, c.n, n, c.raw)
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "Message", preview(&kit.Message{}, 10))
	assert.Equal(t, "📎 Media", preview(&kit.Message{Media: &kit.Media{}}, 10))
	assert.Equal(t, "short", preview(&kit.Message{Text: "short"}, 10))
	assert.Equal(t, "абвгд...", preview(&kit.Message{Text: "абвгдежз"}, 5))
	assert.Equal(t, "a b &amp;", preview(&kit.Message{Text: "a\nb &"}, 10))
}

func TestConfig(t *testing.T) {
	p := New()
	assert.NoError(t, p.ValidateConfig(context.Background(), json.RawMessage(`{"timezone":"Asia/Jakarta","scan_limit":1000}`)))
	assert.Error(t, p.ValidateConfig(context.Background(), json.RawMessage(`{"timezone":"Mars/Base"}`)))
	assert.Error(t, p.ValidateConfig(context.Background(), json.RawMessage(`{"scan_limit":-1}`)))
	assert.Error(t, p.ValidateConfig(context.Background(), json.RawMessage(`{"unknown":1}`)))

	c := p.config()
	assert.Equal(t, 5, c.RecentCount)
	assert.Equal(t, 50, c.MaxCount)
	assert.Equal(t, time.UTC, c.loc)
}
