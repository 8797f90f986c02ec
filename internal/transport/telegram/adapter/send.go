package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/entity"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	kit "userbot/internal/transport"
	logx "userbot/pkg/logx"
)

const (
	telegramTextLimit    = 4096
	telegramCaptionLimit = 1024
)

func (a *Adapter) ResolveUsername(ctx context.Context, username string) (kit.Peer, error) {
	u := normalizeUsername(username)
	if u == "" {
		return kit.Peer{}, kit.ErrNotFound
	}
	key := strings.ToLower(u)
	if p, ok := a.resolved.Get(key); ok {
		return p, nil
	}
	p, err := a.peers.ResolveDomain(ctx, u)
	if err != nil {
		if tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID") {
			return kit.Peer{}, fmt.Errorf("resolve @%s: %w", u, kit.ErrNotFound)
		}
		return kit.Peer{}, fmt.Errorf("resolve @%s: %w", u, err)
	}
	out, ok := peerFromPeers(p)
	if !ok {
		return kit.Peer{}, fmt.Errorf("resolve @%s: %w", u, kit.ErrNotFound)
	}
	a.resolved.Add(key, out)
	if out.Kind == kit.PeerUser {
		a.users.Add(out.ID, out)
	}
	return out, nil
}

func (a *Adapter) ResolveUser(ctx context.Context, userID int64) (kit.Peer, error) {
	if p, ok := a.users.Get(userID); ok {
		return p, nil
	}
	u, err := a.peers.ResolveUserID(ctx, userID)
	if err != nil {
		return kit.Peer{}, fmt.Errorf("resolve user %d: %w", userID, errors.Join(kit.ErrNotFound, err))
	}
	p := peerFromUser(u.Raw())
	a.users.Add(userID, p)
	return p, nil
}

func peerFromPeers(p peers.Peer) (kit.Peer, bool) {
	switch v := p.(type) {
	case peers.User:
		return peerFromUser(v.Raw()), true
	case peers.Channel:
		return peerFromChannel(v.Raw()), true
	case peers.Chat:
		return peerFromChat(v.Raw()), true
	}
	return kit.Peer{}, false
}

// inputPeer returns the handle needed to address p, resolving it when the
// peer was built without one.
func (a *Adapter) inputPeer(ctx context.Context, p kit.Peer) (tg.InputPeerClass, error) {
	if ip, ok := p.Input.(tg.InputPeerClass); ok && ip != nil {
		if _, empty := ip.(*tg.InputPeerEmpty); !empty {
			return ip, nil
		}
	}
	if p.Username != "" {
		rp, err := a.ResolveUsername(ctx, p.Username)
		if err != nil {
			return nil, err
		}
		if ip, ok := rp.Input.(tg.InputPeerClass); ok {
			return ip, nil
		}
	}
	if p.Kind == kit.PeerUser && p.ID != 0 {
		rp, err := a.ResolveUser(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if ip, ok := rp.Input.(tg.InputPeerClass); ok {
			return ip, nil
		}
	}
	return nil, fmt.Errorf("peer %d: %w", p.ID, kit.ErrNotFound)
}

func (a *Adapter) GetMessage(ctx context.Context, chat kit.Peer, id int) (*kit.Message, error) {
	ip, err := a.inputPeer(ctx, chat)
	if err != nil {
		return nil, err
	}
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: id}}
	var res tg.MessagesMessagesClass
	if ch, ok := ip.(*tg.InputPeerChannel); ok {
		res, err = a.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      ids,
		})
	} else {
		res, err = a.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	msgs, users, chats, ok := unpackMessages(res)
	if !ok {
		return nil, kit.ErrNotFound
	}
	em := newEntityMaps(users, chats)
	a.applyEntities(ctx, em.users, em.chats, em.channels)
	for _, mc := range msgs {
		m, ok := mc.(*tg.Message)
		if !ok || m.ID != id {
			continue
		}
		out := convertMessage(m, em.users, em.chats, em.channels, a.selfID())
		if out.Chat.Input == nil {
			out.Chat = chat
		}
		return out, nil
	}
	return nil, kit.ErrNotFound
}

func unpackMessages(res tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass, []tg.ChatClass, bool) {
	switch v := res.(type) {
	case *tg.MessagesMessages:
		return v.Messages, v.Users, v.Chats, true
	case *tg.MessagesMessagesSlice:
		return v.Messages, v.Users, v.Chats, true
	case *tg.MessagesChannelMessages:
		return v.Messages, v.Users, v.Chats, true
	}
	return nil, nil, nil, false
}

func (a *Adapter) builder(ip tg.InputPeerClass, opt *kit.SendOptions, first bool) *message.Builder {
	b := &a.sender.To(ip).Builder
	if opt == nil {
		return b
	}
	if opt.Silent {
		b = b.Silent()
	}
	if opt.DisablePreview {
		b = b.NoWebpage()
	}
	if first && opt.ReplyToID > 0 {
		b = b.Reply(opt.ReplyToID)
	}
	return b
}

func styled(s string) message.StyledTextOption {
	return html.String(nil, s)
}

// captionLength is the length Telegram checks a caption against: UTF-16
// units of the rendered text. HTML that does not parse counts as-is.
func captionLength(s string) int {
	var b entity.Builder
	if err := html.HTML(strings.NewReader(s), &b, html.Options{}); err != nil {
		return entity.ComputeLength(s)
	}
	text, _ := b.Complete()
	return entity.ComputeLength(text)
}

func (a *Adapter) SendText(ctx context.Context, to kit.Peer, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	ip, err := a.inputPeer(ctx, to)
	if err != nil {
		return kit.MessageRef{}, err
	}
	chunks := splitTelegramText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		upd, err := a.builder(ip, opt, i == 0).StyledText(ctx, styled(chunk))
		if err != nil {
			return first, fmt.Errorf("send text: %w", err)
		}
		if i == 0 {
			first = kit.MessageRef{Chat: to, ID: sentMessageID(upd)}
		}
	}
	return first, nil
}

// SendMedia re-sends an attachment with an HTML caption. Captions over the
// Telegram limit are posted as a follow-up text message.
func (a *Adapter) SendMedia(ctx context.Context, to kit.Peer, media *kit.Media, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	in, err := inputMedia(media)
	if err != nil {
		return kit.MessageRef{}, err
	}
	ip, err := a.inputPeer(ctx, to)
	if err != nil {
		return kit.MessageRef{}, err
	}

	var overflow string
	var captions []message.StyledTextOption
	if captionLength(caption) > telegramCaptionLimit {
		overflow = caption
	} else if caption != "" {
		captions = append(captions, styled(caption))
	}

	upd, err := a.builder(ip, opt, true).Media(ctx, message.Media(in, captions...))
	if err != nil {
		return kit.MessageRef{}, fmt.Errorf("send media: %w", err)
	}
	ref := kit.MessageRef{Chat: to, ID: sentMessageID(upd)}
	if overflow != "" {
		if _, err := a.SendText(ctx, to, overflow, &kit.SendOptions{DisablePreview: true}); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

// EditText edits ref. Text beyond the message limit is sent as new messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	ip, err := a.inputPeer(ctx, ref.Chat)
	if err != nil {
		return err
	}
	chunks := splitTelegramText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	b := a.builder(ip, opt, false)
	if _, err := b.Edit(ref.ID).StyledText(ctx, styled(chunks[0])); err != nil {
		if tgerr.Is(err, "MESSAGE_NOT_MODIFIED") {
			a.log.Debug("edit skipped (not modified)", logx.Int("msg_id", ref.ID))
		} else {
			return fmt.Errorf("edit text: %w", err)
		}
	}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.builder(ip, opt, false).StyledText(ctx, styled(chunk)); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}
	return nil
}

// splitTelegramText splits long HTML messages into chunks Telegram accepts.
// It prefers newline boundaries and avoids cutting inside a tag.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
