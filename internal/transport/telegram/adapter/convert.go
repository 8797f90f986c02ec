package adapter

import (
	"strings"
	"time"

	"github.com/gotd/td/tg"

	kit "userbot/internal/transport"
)

func peerFromUser(u *tg.User) kit.Peer {
	username, _ := u.GetUsername()
	first, _ := u.GetFirstName()
	last, _ := u.GetLastName()
	return kit.Peer{
		ID:        u.ID,
		Kind:      kit.PeerUser,
		Username:  username,
		FirstName: first,
		LastName:  last,
		Bot:       u.Bot,
		Input:     &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash},
	}
}

func peerFromChannel(c *tg.Channel) kit.Peer {
	username, _ := c.GetUsername()
	return kit.Peer{
		ID:       c.ID,
		Kind:     kit.PeerChannel,
		Username: username,
		Title:    c.Title,
		Input:    &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash},
	}
}

func peerFromChat(c *tg.Chat) kit.Peer {
	return kit.Peer{
		ID:    c.ID,
		Kind:  kit.PeerGroup,
		Title: c.Title,
		Input: &tg.InputPeerChat{ChatID: c.ID},
	}
}

// entityMaps indexes the users and chats that come with an RPC result.
type entityMaps struct {
	users    map[int64]*tg.User
	chats    map[int64]*tg.Chat
	channels map[int64]*tg.Channel
}

func newEntityMaps(users []tg.UserClass, chats []tg.ChatClass) entityMaps {
	em := entityMaps{
		users:    map[int64]*tg.User{},
		chats:    map[int64]*tg.Chat{},
		channels: map[int64]*tg.Channel{},
	}
	for _, u := range users {
		if v, ok := u.(*tg.User); ok {
			em.users[v.ID] = v
		}
	}
	for _, c := range chats {
		switch v := c.(type) {
		case *tg.Chat:
			em.chats[v.ID] = v
		case *tg.Channel:
			em.channels[v.ID] = v
		}
	}
	return em
}

// chatPeer converts the peer a message was posted in. Unknown peers keep
// their ID and kind but carry no input handle.
func chatPeer(p tg.PeerClass, users map[int64]*tg.User, chats map[int64]*tg.Chat, channels map[int64]*tg.Channel) kit.Peer {
	switch v := p.(type) {
	case *tg.PeerUser:
		if u, ok := users[v.UserID]; ok {
			return peerFromUser(u)
		}
		return kit.Peer{ID: v.UserID, Kind: kit.PeerUser}
	case *tg.PeerChat:
		if c, ok := chats[v.ChatID]; ok {
			return peerFromChat(c)
		}
		return kit.Peer{ID: v.ChatID, Kind: kit.PeerGroup, Input: &tg.InputPeerChat{ChatID: v.ChatID}}
	case *tg.PeerChannel:
		if c, ok := channels[v.ChannelID]; ok {
			return peerFromChannel(c)
		}
		return kit.Peer{ID: v.ChannelID, Kind: kit.PeerChannel}
	}
	return kit.Peer{}
}

func convertMessage(m *tg.Message, users map[int64]*tg.User, chats map[int64]*tg.Chat, channels map[int64]*tg.Channel, selfID int64) *kit.Message {
	msg := &kit.Message{
		ID:       m.ID,
		Chat:     chatPeer(m.PeerID, users, chats, channels),
		Out:      m.Out,
		Text:     m.Message,
		Entities: convertEntities(m.Entities),
		Date:     time.Unix(int64(m.Date), 0),
	}
	msg.SenderID = senderID(m, selfID)
	if media, ok := m.GetMedia(); ok {
		msg.Media = convertMedia(media)
	}
	if rh, ok := m.GetReplyTo(); ok {
		if h, ok := rh.(*tg.MessageReplyHeader); ok {
			msg.ReplyToID = h.ReplyToMsgID
		}
	}
	return msg
}

// senderID returns the author of m. Private chats omit from_id, so the
// author is either the account itself or the other side.
func senderID(m *tg.Message, selfID int64) int64 {
	if from, ok := m.GetFromID(); ok {
		switch v := from.(type) {
		case *tg.PeerUser:
			return v.UserID
		case *tg.PeerChannel:
			return v.ChannelID
		case *tg.PeerChat:
			return v.ChatID
		}
	}
	if m.Out {
		return selfID
	}
	if v, ok := m.PeerID.(*tg.PeerUser); ok {
		return v.UserID
	}
	return 0
}

func convertEntities(in []tg.MessageEntityClass) []kit.Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]kit.Entity, 0, len(in))
	for _, e := range in {
		ke := kit.Entity{Offset: e.GetOffset(), Length: e.GetLength()}
		switch v := e.(type) {
		case *tg.MessageEntityMention:
			ke.Type = kit.EntityMention
		case *tg.MessageEntityURL:
			ke.Type = kit.EntityURL
		case *tg.MessageEntityTextURL:
			ke.Type = kit.EntityTextLink
			ke.URL = v.URL
		case *tg.MessageEntityBold:
			ke.Type = kit.EntityBold
		case *tg.MessageEntityItalic:
			ke.Type = kit.EntityItalic
		case *tg.MessageEntityUnderline:
			ke.Type = kit.EntityUnderline
		case *tg.MessageEntityStrike:
			ke.Type = kit.EntityStrike
		case *tg.MessageEntityCode:
			ke.Type = kit.EntityCode
		case *tg.MessageEntityPre:
			ke.Type = kit.EntityPre
			ke.Language = v.Language
		case *tg.MessageEntitySpoiler:
			ke.Type = kit.EntitySpoiler
		case *tg.MessageEntityBlockquote:
			ke.Type = kit.EntityBlockquote
		default:
			ke.Type = kit.EntityOther
		}
		out = append(out, ke)
	}
	return out
}

func convertMedia(m tg.MessageMediaClass) *kit.Media {
	switch m.(type) {
	case *tg.MessageMediaPhoto:
		return &kit.Media{Kind: kit.MediaPhoto, Input: m}
	case *tg.MessageMediaDocument:
		return &kit.Media{Kind: kit.MediaDocument, Input: m}
	case *tg.MessageMediaWebPage:
		// link previews are not attachments
		return nil
	default:
		return &kit.Media{Kind: kit.MediaOther, Input: m}
	}
}

// inputMedia re-references the attachment of a received message so it can be
// sent again without downloading.
func inputMedia(m *kit.Media) (tg.InputMediaClass, error) {
	if m == nil {
		return nil, kit.ErrUnsupportedMedia
	}
	switch v := m.Input.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := v.Photo.(*tg.Photo)
		if !ok {
			return nil, kit.ErrUnsupportedMedia
		}
		return &tg.InputMediaPhoto{
			ID:      &tg.InputPhoto{ID: photo.ID, AccessHash: photo.AccessHash, FileReference: photo.FileReference},
			Spoiler: v.Spoiler,
		}, nil
	case *tg.MessageMediaDocument:
		doc, ok := v.Document.(*tg.Document)
		if !ok {
			return nil, kit.ErrUnsupportedMedia
		}
		return &tg.InputMediaDocument{
			ID:      &tg.InputDocument{ID: doc.ID, AccessHash: doc.AccessHash, FileReference: doc.FileReference},
			Spoiler: v.Spoiler,
		}, nil
	}
	return nil, kit.ErrUnsupportedMedia
}

// sentMessageID extracts the new message id from the result of a send RPC.
func sentMessageID(u tg.UpdatesClass) int {
	switch v := u.(type) {
	case *tg.UpdateShortSentMessage:
		return v.ID
	case *tg.Updates:
		return idFromUpdates(v.Updates)
	case *tg.UpdatesCombined:
		return idFromUpdates(v.Updates)
	}
	return 0
}

func idFromUpdates(list []tg.UpdateClass) int {
	for _, up := range list {
		switch v := up.(type) {
		case *tg.UpdateMessageID:
			return v.ID
		case *tg.UpdateNewMessage:
			if m, ok := v.Message.(*tg.Message); ok {
				return m.ID
			}
		case *tg.UpdateNewChannelMessage:
			if m, ok := v.Message.(*tg.Message); ok {
				return m.ID
			}
		}
	}
	return 0
}

// normalizeUsername strips "@" and surrounding space. Lookups are case-insensitive.
func normalizeUsername(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}
