package activity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"userbot/internal/plugin"
	kit "userbot/internal/transport"
	logx "userbot/pkg/logx"
	"userbot/pkg/tgui"
)

const (
	msgNoArgs     = "<b>❌ Provide username or reply to a message</b>"
	msgProcessing = "<b>⏳ Processing...</b>"
	msgNoMessages = "<b>❌ No messages found from this user in this chat</b>"
)

var scannedMessages = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "userbot_activity_scanned_messages",
	Help:    "Messages scanned per activity report.",
	Buckets: prometheus.ExponentialBuckets(1, 4, 10),
})

var errNoSender = errors.New("replied message has no user sender")

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "useract",
			Description: "activity report of a user in this chat",
			Usage:       ".useract <@username> (or reply)",
			Handle:      p.handleActivity,
		},
		{
			Route:       "userlast",
			Description: "last messages of a user in this chat",
			Usage:       ".userlast <@username> [N] (or reply with [N])",
			Handle:      p.handleLast,
		},
	}
}

func userNotFound(name string) string {
	return "<b>❌ User " + tgui.Esc(name).String() + " not found</b>"
}

// target resolves the user a command is about: the replied message's sender,
// or the username argument. ok is false when an answer was already sent.
func (p *Plugin) target(ctx context.Context, req *plugin.Request, reply *kit.Message, username string) (kit.Peer, bool, error) {
	if reply != nil {
		if reply.SenderID == 0 {
			return kit.Peer{}, false, errNoSender
		}
		u, err := req.Client.ResolveUser(ctx, reply.SenderID)
		if err != nil {
			return kit.Peer{}, false, fmt.Errorf("resolve sender: %w", err)
		}
		return u, true, nil
	}
	u, err := req.Client.ResolveUsername(ctx, username)
	if err != nil {
		req.Logger.Debug("user not resolved", logx.String("username", username), logx.Err(err))
		return kit.Peer{}, false, req.Answer(ctx, userNotFound(username))
	}
	return u, true, nil
}

func (p *Plugin) handleActivity(ctx context.Context, req *plugin.Request) error {
	args := strings.TrimSpace(req.RawArgs)
	reply, err := req.Reply(ctx)
	if err != nil {
		return err
	}
	if args == "" && reply == nil {
		return req.Answer(ctx, msgNoArgs)
	}
	if err := req.Answer(ctx, msgProcessing); err != nil {
		return err
	}

	user, ok, err := p.target(ctx, req, reply, strings.TrimLeft(args, "@"))
	if !ok {
		return err
	}

	c := p.config()
	it := req.Client.History(ctx, req.Chat, kit.HistoryQuery{FromUserID: user.ID, Limit: c.ScanLimit})
	s, err := collect(ctx, it, c.RecentCount, p.now().In(c.loc))
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	scannedMessages.Observe(float64(s.Total))
	if s.Total == 0 {
		return req.Answer(ctx, msgNoMessages)
	}
	req.Logger.Debug("activity report", logx.Int64("user_id", user.ID), logx.Int("total", s.Total))
	return req.Answer(ctx, reportHTML(user, req.Chat, s, c))
}

// lastArgs splits "[@]username [N]" or, in reply mode, "[N]". In reply mode
// the whole argument string must be the count.
func lastArgs(raw string, replyMode bool, def, max int) (username string, n int) {
	n = def
	parts := strings.Fields(raw)
	countArg := ""
	if replyMode {
		countArg = strings.TrimSpace(raw)
	} else if len(parts) > 0 {
		username = strings.TrimLeft(parts[0], "@")
		if len(parts) > 1 {
			countArg = parts[1]
		}
	}
	if v, err := strconv.Atoi(countArg); err == nil && v > 0 && isDigits(countArg) {
		n = min(v, max)
	}
	return username, n
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (p *Plugin) handleLast(ctx context.Context, req *plugin.Request) error {
	args := strings.TrimSpace(req.RawArgs)
	reply, err := req.Reply(ctx)
	if err != nil {
		return err
	}
	if args == "" && reply == nil {
		return req.Answer(ctx, msgNoArgs)
	}
	if err := req.Answer(ctx, msgProcessing); err != nil {
		return err
	}

	c := p.config()
	username, n := lastArgs(args, reply != nil, c.RecentCount, c.MaxCount)
	user, ok, err := p.target(ctx, req, reply, username)
	if !ok {
		return err
	}

	it := req.Client.History(ctx, req.Chat, kit.HistoryQuery{FromUserID: user.ID, Limit: n})
	msgs := make([]*kit.Message, 0, n)
	for it.Next(ctx) {
		msgs = append(msgs, it.Value())
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(msgs) == 0 {
		return req.Answer(ctx, msgNoMessages)
	}
	return req.Answer(ctx, lastHTML(user, req.Chat, msgs, c))
}
