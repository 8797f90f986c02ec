package repost

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"userbot/internal/plugin"
	kit "userbot/internal/transport"
	logx "userbot/pkg/logx"
	"userbot/pkg/tgui"
)

const (
	EventForwarded = "repost.forwarded"
	EventSkipped   = "repost.skipped"
)

var (
	forwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "userbot_repost_forwarded_total",
		Help: "Source channel posts copied to the target channel.",
	})
	skippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userbot_repost_skipped_total",
		Help: "Source channel posts not copied, by reason.",
	}, []string{"reason"})
	failedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "userbot_repost_failed_total",
		Help: "Source channel posts that failed to copy.",
	})
)

// skip reasons
const (
	skipDisabled = "disabled"
	skipOutgoing = "outgoing"
	skipMention  = "mention"
	skipEmpty    = "empty"
)

var errNothingToSend = errors.New("message has neither text nor media")

type forwardedEvent struct {
	SourceID int    `json:"source_id"`
	Target   string `json:"target"`
	TargetID int    `json:"target_id"`
}

type skippedEvent struct {
	SourceID int    `json:"source_id"`
	Reason   string `json:"reason"`
}

// OnMessage copies new source channel posts. Failures are logged only.
func (p *Plugin) OnMessage(ctx context.Context, req *plugin.Request) error {
	msg := req.Message
	if msg == nil {
		return nil
	}
	c := p.config()
	if msg.Chat.Username == "" || !strings.EqualFold(msg.Chat.Username, c.SourceChannel) {
		return nil
	}

	st, err := p.load(ctx)
	if err != nil {
		failedTotal.Inc()
		p.Log.Error("repost settings unreadable", logx.Int("msg_id", msg.ID), logx.Err(err))
		return nil
	}
	if reason := skipReason(c, st, msg); reason != "" {
		p.skipped(msg, reason)
		return nil
	}

	bctx, unbind := p.Bind(ctx)
	defer unbind()
	octx, cancel := context.WithTimeout(bctx, c.opTimeout)
	defer cancel()
	ref, err := p.forward(octx, req.Client, msg, st)
	switch {
	case errors.Is(err, errNothingToSend):
		p.skipped(msg, skipEmpty)
	case err != nil:
		failedTotal.Inc()
		p.Log.Warn("repost failed", logx.Int("msg_id", msg.ID), logx.String("target", st.Target), logx.Err(err))
	default:
		forwardedTotal.Inc()
		p.Log.Debug("post copied", logx.Int("msg_id", msg.ID), logx.String("target", st.Target))
		p.PublishEvent(EventForwarded, forwardedEvent{SourceID: msg.ID, Target: st.Target, TargetID: ref.ID})
	}
	return nil
}

func (p *Plugin) skipped(msg *kit.Message, reason string) {
	skippedTotal.WithLabelValues(reason).Inc()
	p.PublishEvent(EventSkipped, skippedEvent{SourceID: msg.ID, Reason: reason})
}

// skipReason applies the watcher filters to a source channel post.
func skipReason(c Config, st state, msg *kit.Message) string {
	switch {
	case !st.Enabled || st.Target == "":
		return skipDisabled
	case msg.Out:
		return skipOutgoing
	case c.excludeMentions() && mentionsCreator(msg, c.CreatorHandle):
		return skipMention
	}
	return ""
}

// mentionsCreator reports whether msg names the creator as plain text or
// through a mention entity.
func mentionsCreator(msg *kit.Message, handle string) bool {
	if handle == "" {
		return false
	}
	if msg.Text != "" && strings.Contains(msg.Text, "@"+handle) {
		return true
	}
	for _, e := range msg.Entities {
		if e.Type == kit.EntityMention && strings.Contains(kit.EntityText(msg.Text, e), handle) {
			return true
		}
	}
	return false
}

// forward sends msg to the saved target with the promo line appended.
func (p *Plugin) forward(ctx context.Context, cli kit.Client, msg *kit.Message, st state) (kit.MessageRef, error) {
	if msg.Media == nil && msg.Text == "" {
		return kit.MessageRef{}, errNothingToSend
	}
	to, err := cli.ResolveUsername(ctx, st.Target)
	if err != nil {
		return kit.MessageRef{}, fmt.Errorf("resolve target %s: %w", st.Target, err)
	}
	body := tgui.FromEntities(msg.Text, msg.Entities).String() + promoHTML(p.config().PromoLabel, st)
	if msg.Media != nil {
		return cli.SendMedia(ctx, to, msg.Media, body, nil)
	}
	return cli.SendText(ctx, to, body, nil)
}

func promoHTML(label string, st state) string {
	name := st.Name
	if name == "" {
		name = st.Target
	}
	return "\n\n" + tgui.Esc(label).String() + " — <a href='https://t.me/" + tgui.Esc(st.Target).String() + "'>" +
		tgui.Esc(name).String() + "</a>"
}
