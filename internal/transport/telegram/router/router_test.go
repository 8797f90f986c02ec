package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"userbot/internal/storage"
	kit "userbot/internal/transport"
	"userbot/internal/transport/transporttest"
	logx "userbot/pkg/logx"
)

var chat = kit.Peer{ID: 100, Kind: kit.PeerGroup, Title: "test"}

func TestTokenizeCommandLine(t *testing.T) {
	cases := map[string][]string{
		`a b  c`:              {"a", "b", "c"},
		`"b c" d`:             {"b c", "d"},
		`'x y' "z"`:           {"x y", "z"},
		`esc\ aped`:           {"esc aped"},
		`""`:                  {""},
		`   `:                 nil,
		`@user 10`:            {"@user", "10"},
		`привет "мир земля"`: {"привет", "мир земля"},
	}
	for in, want := range cases {
		if got := tokenizeCommandLine(in); !reflect.DeepEqual(got, want) {
			t.Fatalf("tokenize(%q) = %#v, want %#v", in, got, want)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		text, prefix, word, rest string
		ok                       bool
	}{
		{".vores @chan", ".", "vores", "@chan", true},
		{".VoreStatus", ".", "vorestatus", "", true},
		{"..", ".", "", "", false},
		{". vores", ".", "", "", false},
		{"vores", ".", "", "", false},
		{"!userlast  5 ", "!", "userlast", "5", true},
	}
	for _, c := range cases {
		w, r, ok := splitCommand(c.text, c.prefix)
		if ok != c.ok || w != c.word || r != c.rest {
			t.Fatalf("splitCommand(%q) = %q,%q,%v", c.text, w, r, ok)
		}
	}
}

func newManager(t *testing.T, cli *transporttest.Client, st storage.Store) *CommandManager {
	t.Helper()
	return NewCommandManager(logx.Nop(), cli, st, Options{Owners: []int64{7}})
}

func TestOutgoingCommandEditsInPlace(t *testing.T) {
	cli := &transporttest.Client{}
	m := newManager(t, cli, nil)
	var got *Request
	m.SetRegistry([]Command{{
		Route:      "ping",
		PluginName: "test",
		Handle: func(ctx context.Context, req *Request) error {
			got = req
			if err := req.Answer(ctx, "one"); err != nil {
				return err
			}
			return req.Answer(ctx, "two")
		},
	}}, nil)

	msg := &kit.Message{ID: 5, Chat: chat, SenderID: 1, Out: true, Text: `.ping a "b c"`}
	m.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: msg})

	if got == nil {
		t.Fatalf("handler not called")
	}
	if got.RawArgs != `a "b c"` || !reflect.DeepEqual(got.Args, []string{"a", "b c"}) {
		t.Fatalf("unexpected args: %q %#v", got.RawArgs, got.Args)
	}
	out := cli.Outbox()
	if len(out) != 2 || out[0].Op != "edit" || out[1].Op != "edit" || out[0].ID != 5 || out[1].ID != 5 {
		t.Fatalf("expected two edits of message 5, got %+v", out)
	}
}

func TestIncomingOwnerCommandRepliesThenEdits(t *testing.T) {
	cli := &transporttest.Client{}
	m := newManager(t, cli, nil)
	m.SetRegistry([]Command{{
		Route: "ping",
		Handle: func(ctx context.Context, req *Request) error {
			_ = req.Answer(ctx, "one")
			return req.Answer(ctx, "two")
		},
	}}, nil)

	msg := &kit.Message{ID: 9, Chat: chat, SenderID: 7, Text: ".ping"}
	m.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: msg})

	out := cli.Outbox()
	if len(out) != 2 || out[0].Op != "text" || out[0].Options.ReplyToID != 9 || out[1].Op != "edit" {
		t.Fatalf("unexpected outbox %+v", out)
	}
}

func TestStrangerCannotRunOwnerCommand(t *testing.T) {
	cli := &transporttest.Client{}
	m := newManager(t, cli, nil)
	called := false
	m.SetRegistry([]Command{{Route: "ping", Handle: func(ctx context.Context, req *Request) error {
		called = true
		return nil
	}}}, nil)

	m.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, Chat: chat, SenderID: 999, Text: ".ping"}})
	if called {
		t.Fatalf("stranger must not run owner-only commands")
	}
	if len(cli.Outbox()) != 0 {
		t.Fatalf("stranger must get no answer")
	}
}

func TestWatchersRunBeforeCommandsInOrder(t *testing.T) {
	cli := &transporttest.Client{}
	m := newManager(t, cli, nil)
	var order []string
	m.SetRegistry(
		[]Command{{Route: "ping", Handle: func(ctx context.Context, req *Request) error {
			order = append(order, "cmd")
			return nil
		}}},
		[]Watch{
			{PluginName: "a", Handle: func(ctx context.Context, req *Request) error {
				order = append(order, "a")
				return errors.New("ignored")
			}},
			{PluginName: "b", Handle: func(ctx context.Context, req *Request) error {
				order = append(order, "b")
				return nil
			}},
		},
	)
	m.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, Chat: chat, Out: true, Text: ".ping"}})
	if !reflect.DeepEqual(order, []string{"a", "b", "cmd"}) {
		t.Fatalf("unexpected order %v", order)
	}
	if len(cli.Outbox()) != 0 {
		t.Fatalf("watcher errors must never be posted")
	}
}

func TestHandlerErrorIsAnsweredAndAudited(t *testing.T) {
	cli := &transporttest.Client{}
	st := storage.NewMemory()
	m := newManager(t, cli, st)
	m.SetRegistry([]Command{{Route: "boom", PluginName: "test", Handle: func(ctx context.Context, req *Request) error {
		return errors.New("kaput <x>")
	}}}, nil)

	m.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 3, Chat: chat, Out: true, Text: ".boom"}})
	last, ok := cli.Last()
	if !ok || last.HTML != "<b>❌ Error: kaput &lt;x&gt;</b>" {
		t.Fatalf("unexpected answer %+v", last)
	}
}

func TestPanicIsRecoveredAndAnswered(t *testing.T) {
	cli := &transporttest.Client{}
	m := newManager(t, cli, nil)
	m.SetRegistry([]Command{{Route: "boom", Handle: func(ctx context.Context, req *Request) error {
		panic("bad")
	}}}, nil)
	m.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 3, Chat: chat, Out: true, Text: ".boom"}})
	last, ok := cli.Last()
	if !ok || !strings.Contains(last.HTML, "panic: bad") {
		t.Fatalf("unexpected answer %+v", last)
	}
}

func TestAliasAndPrefixChange(t *testing.T) {
	cli := &transporttest.Client{}
	m := newManager(t, cli, nil)
	hits := 0
	m.SetRegistry([]Command{{Route: "userlast", Aliases: []string{"ul"}, Handle: func(ctx context.Context, req *Request) error {
		hits++
		return nil
	}}}, nil)
	send := func(text string) {
		m.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, Chat: chat, Out: true, Text: text}})
	}
	send(".ul")
	m.SetOptions(Options{Prefix: "!"})
	send(".userlast")
	send("!userlast")
	if hits != 2 {
		t.Fatalf("expected 2 hits, got %d", hits)
	}
}

func TestHelpListsCommands(t *testing.T) {
	cli := &transporttest.Client{}
	m := newManager(t, cli, nil)
	m.SetRegistry([]Command{{Route: "vores", PluginName: "repost", Description: "start <forwarding>", Handle: func(ctx context.Context, req *Request) error { return nil }}}, nil)
	m.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, Chat: chat, Out: true, Text: ".help"}})
	last, _ := cli.Last()
	if !strings.Contains(last.HTML, "<code>.vores</code>") || !strings.Contains(last.HTML, "start &lt;forwarding&gt;") {
		t.Fatalf("unexpected help %q", last.HTML)
	}
}

func TestWatchersKeepRunningDuringLongCommand(t *testing.T) {
	cli := &transporttest.Client{}
	m := newManager(t, cli, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	seen := make(chan int, 32)
	m.SetRegistry(
		[]Command{{Route: "scan", Handle: func(ctx context.Context, req *Request) error {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return req.Answer(ctx, "done")
		}}},
		[]Watch{{PluginName: "repost", Handle: func(ctx context.Context, req *Request) error {
			seen <- req.Message.ID
			return nil
		}}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan kit.Update, 4)
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(ctx, updates) }()

	push := func(msg *kit.Message) {
		select {
		case updates <- kit.Update{Kind: kit.UpdateMessage, Message: msg}:
		case <-time.After(2 * time.Second):
			t.Fatalf("dispatcher stalled on message %d", msg.ID)
		}
	}
	push(&kit.Message{ID: 1, Chat: chat, Out: true, Text: ".scan"})
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("command never started")
	}

	src := kit.Peer{ID: 500, Kind: kit.PeerChannel, Username: "source"}
	for id := 2; id <= 11; id++ {
		push(&kit.Message{ID: id, Chat: src, Text: "post"})
	}
	got := map[int]bool{}
	deadline := time.After(2 * time.Second)
	for len(got) < 11 {
		select {
		case id := <-seen:
			got[id] = true
		case <-deadline:
			t.Fatalf("watcher saw %d of 11 messages while the command ran", len(got))
		}
	}

	close(release)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("dispatcher did not stop")
	}
}
