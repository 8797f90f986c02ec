package repost

import (
	"context"
	"fmt"
	"strings"

	"userbot/internal/plugin"
	logx "userbot/pkg/logx"
	"userbot/pkg/tgui"
)

const (
	msgNoChannel      = "<b>❌ Provide channel link to forward posts to</b>"
	msgInvalidChannel = "<b>❌ Invalid channel link or username</b>"
	msgStopped        = "<b>❌ Auto-forwarding disabled</b>"
	msgNoReply        = "<b>❌ Reply to a message to test</b>"
	msgNoTarget       = "<b>❌ Target channel not set. Use .vores first</b>"
	msgTested         = "<b>✅ Test message forwarded</b>"
)

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "vores",
			Description: "start copying source channel posts to a channel",
			Usage:       ".vores <t.me link|@username>",
			Handle:      p.handleStart,
		},
		{
			Route:       "vorestop",
			Description: "stop copying posts",
			Usage:       ".vorestop",
			Handle:      p.handleStop,
		},
		{
			Route:       "vorestatus",
			Description: "show copy status",
			Usage:       ".vorestatus",
			Handle:      p.handleStatus,
		},
		{
			Route:       "voretest",
			Description: "copy the replied message to the target channel",
			Usage:       ".voretest (reply)",
			Handle:      p.handleTest,
		},
	}
}

// parseChannelArg accepts "@name", "name" or any t.me link to the channel.
func parseChannelArg(arg string) string {
	s := strings.TrimSpace(arg)
	if i := strings.LastIndex(s, "t.me/"); i >= 0 {
		s = strings.Trim(s[i+len("t.me/"):], "/")
	}
	return strings.TrimLeft(s, "@")
}

func (p *Plugin) handleStart(ctx context.Context, req *plugin.Request) error {
	if strings.TrimSpace(req.RawArgs) == "" {
		return req.Answer(ctx, msgNoChannel)
	}
	username := parseChannelArg(req.RawArgs)
	if username == "" {
		return req.Answer(ctx, msgInvalidChannel)
	}
	target, err := req.Client.ResolveUsername(ctx, username)
	if err != nil {
		req.Logger.Debug("target channel not resolved", logx.String("target", username), logx.Err(err))
		return req.Answer(ctx, msgInvalidChannel)
	}

	name := target.Title
	if name == "" {
		name = username
	}
	s := p.SettingsNS(settingsNS)
	if err := s.SetBool(ctx, keyEnabled, true); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if err := s.SetString(ctx, keyTarget, username); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if err := s.SetString(ctx, keyName, name); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	p.Log.Info("auto-forwarding enabled", logx.String("target", username))
	return req.Answer(ctx, startedHTML(p.config().SourceChannel, username))
}

func startedHTML(source, target string) string {
	return "<b>✅ Auto-forwarding enabled</b>\nFrom: " +
		tgui.Code("@"+source).String() + "\nTo: " + tgui.Code("@"+target).String()
}

func (p *Plugin) handleStop(ctx context.Context, req *plugin.Request) error {
	if err := p.SettingsNS(settingsNS).SetBool(ctx, keyEnabled, false); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	p.Log.Info("auto-forwarding disabled")
	return req.Answer(ctx, msgStopped)
}

func (p *Plugin) handleStatus(ctx context.Context, req *plugin.Request) error {
	st, err := p.load(ctx)
	if err != nil {
		return err
	}
	return req.Answer(ctx, statusHTML(st))
}

func statusHTML(st state) string {
	enabled := "No ❌"
	if st.Enabled {
		enabled = "Yes ✅"
	}
	target := st.Target
	if target == "" {
		target = "Not set"
	}
	return "<b>ℹ️ Auto-forwarding status:</b>\nEnabled: " + tgui.Code(enabled).String() +
		"\nTarget channel: " + tgui.Code(target).String()
}

func (p *Plugin) handleTest(ctx context.Context, req *plugin.Request) error {
	reply, err := req.Reply(ctx)
	if err != nil {
		return err
	}
	if reply == nil {
		return req.Answer(ctx, msgNoReply)
	}
	st, err := p.load(ctx)
	if err != nil {
		return err
	}
	if st.Target == "" {
		return req.Answer(ctx, msgNoTarget)
	}
	if _, err := p.forward(ctx, req.Client, reply, st); err != nil {
		return err
	}
	return req.Answer(ctx, msgTested)
}
