package adapter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "userbot/internal/transport"
)

func TestPeerConversions(t *testing.T) {
	u := &tg.User{ID: 42, AccessHash: 7, Bot: true}
	u.SetUsername("alice")
	u.SetFirstName("Alice")
	u.SetLastName("Liddell")
	p := peerFromUser(u)
	assert.Equal(t, kit.PeerUser, p.Kind)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "Alice Liddell", p.DisplayName())
	assert.True(t, p.Bot)
	assert.Equal(t, &tg.InputPeerUser{UserID: 42, AccessHash: 7}, p.Input)

	ch := &tg.Channel{ID: 1001, AccessHash: 9, Title: "News"}
	ch.SetUsername("news")
	cp := peerFromChannel(ch)
	assert.Equal(t, kit.PeerChannel, cp.Kind)
	assert.Equal(t, "News", cp.DisplayName())
	assert.Equal(t, &tg.InputPeerChannel{ChannelID: 1001, AccessHash: 9}, cp.Input)

	g := peerFromChat(&tg.Chat{ID: 5, Title: "Group"})
	assert.Equal(t, kit.PeerGroup, g.Kind)
	assert.Equal(t, &tg.InputPeerChat{ChatID: 5}, g.Input)
}

func TestConvertMessage(t *testing.T) {
	ch := &tg.Channel{ID: 1001, AccessHash: 9, Title: "News"}
	ch.SetUsername("Bedrock_RP")
	channels := map[int64]*tg.Channel{1001: ch}

	m := &tg.Message{
		ID:      77,
		PeerID:  &tg.PeerChannel{ChannelID: 1001},
		Date:    1700000000,
		Message: "hi @Bedrock_RP",
		Entities: []tg.MessageEntityClass{
			&tg.MessageEntityBold{Offset: 0, Length: 2},
			&tg.MessageEntityMention{Offset: 3, Length: 11},
			&tg.MessageEntityTextURL{Offset: 0, Length: 2, URL: "https://x"},
			&tg.MessageEntityPre{Offset: 0, Length: 1, Language: "go"},
			&tg.MessageEntityHashtag{Offset: 0, Length: 1},
		},
	}
	m.SetFromID(&tg.PeerUser{UserID: 5})
	m.SetReplyTo(&tg.MessageReplyHeader{ReplyToMsgID: 70})
	m.SetMedia(&tg.MessageMediaPhoto{Photo: &tg.Photo{ID: 1, AccessHash: 2, FileReference: []byte{3}}})

	got := convertMessage(m, nil, nil, channels, 99)
	require.NotNil(t, got)
	assert.Equal(t, 77, got.ID)
	assert.Equal(t, "Bedrock_RP", got.Chat.Username)
	assert.Equal(t, int64(5), got.SenderID)
	assert.Equal(t, 70, got.ReplyToID)
	assert.Equal(t, time.Unix(1700000000, 0), got.Date)
	require.NotNil(t, got.Media)
	assert.Equal(t, kit.MediaPhoto, got.Media.Kind)

	types := make([]kit.EntityType, 0, len(got.Entities))
	for _, e := range got.Entities {
		types = append(types, e.Type)
	}
	assert.Equal(t, []kit.EntityType{kit.EntityBold, kit.EntityMention, kit.EntityTextLink, kit.EntityPre, kit.EntityOther}, types)
	assert.Equal(t, "https://x", got.Entities[2].URL)
	assert.Equal(t, "go", got.Entities[3].Language)
	assert.Equal(t, "@Bedrock_RP", kit.EntityText(got.Text, got.Entities[1]))
}

func TestSenderIDInPrivateChats(t *testing.T) {
	in := &tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 8}}
	assert.Equal(t, int64(8), senderID(in, 99))

	out := &tg.Message{ID: 2, PeerID: &tg.PeerUser{UserID: 8}, Out: true}
	assert.Equal(t, int64(99), senderID(out, 99))
}

func TestUnknownChatKeepsID(t *testing.T) {
	p := chatPeer(&tg.PeerChannel{ChannelID: 3}, nil, nil, nil)
	assert.Equal(t, int64(3), p.ID)
	assert.Equal(t, kit.PeerChannel, p.Kind)
	assert.Nil(t, p.Input)
}

func TestInputMedia(t *testing.T) {
	photo := &kit.Media{Kind: kit.MediaPhoto, Input: &tg.MessageMediaPhoto{Photo: &tg.Photo{ID: 1, AccessHash: 2, FileReference: []byte{3}}}}
	in, err := inputMedia(photo)
	require.NoError(t, err)
	assert.Equal(t, &tg.InputMediaPhoto{ID: &tg.InputPhoto{ID: 1, AccessHash: 2, FileReference: []byte{3}}}, in)

	doc := &kit.Media{Kind: kit.MediaDocument, Input: &tg.MessageMediaDocument{Document: &tg.Document{ID: 4, AccessHash: 5}}}
	in, err = inputMedia(doc)
	require.NoError(t, err)
	assert.Equal(t, &tg.InputMediaDocument{ID: &tg.InputDocument{ID: 4, AccessHash: 5}}, in)

	_, err = inputMedia(&kit.Media{Kind: kit.MediaOther, Input: &tg.MessageMediaGeo{}})
	assert.True(t, errors.Is(err, kit.ErrUnsupportedMedia))
	_, err = inputMedia(nil)
	assert.True(t, errors.Is(err, kit.ErrUnsupportedMedia))

	assert.Nil(t, convertMedia(&tg.MessageMediaWebPage{}))
}

func TestSentMessageID(t *testing.T) {
	assert.Equal(t, 12, sentMessageID(&tg.UpdateShortSentMessage{ID: 12}))
	assert.Equal(t, 13, sentMessageID(&tg.Updates{Updates: []tg.UpdateClass{
		&tg.UpdateReadHistoryOutbox{},
		&tg.UpdateMessageID{ID: 13, RandomID: 1},
	}}))
	assert.Equal(t, 14, sentMessageID(&tg.Updates{Updates: []tg.UpdateClass{
		&tg.UpdateNewChannelMessage{Message: &tg.Message{ID: 14}},
	}}))
	assert.Equal(t, 0, sentMessageID(&tg.UpdatesTooLong{}))
}

func TestSplitTelegramText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitTelegramText("short", 10))

	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	assert.Equal(t, []string{strings.Repeat("a", 8), strings.Repeat("b", 8)}, splitTelegramText(text, 10))

	// never cut inside a tag
	parts := splitTelegramText("xxxxxxxx<b>y</b>", 10)
	require.Len(t, parts, 2)
	assert.Equal(t, "xxxxxxxx", parts[0])
	assert.Equal(t, "<b>y</b>", parts[1])
}

func TestCaptionLength(t *testing.T) {
	assert.Equal(t, 4, captionLength("<b>hi</b> <a href='https://t.me/x'>x</a>"))
	assert.Equal(t, 3, captionLength("a&lt;b"))
	assert.Equal(t, 2, captionLength("🔥"), "counted in UTF-16 units")

	// visible text fits even though the markup does not
	caption := "<b>" + strings.Repeat("a", 1000) + "</b>\n\n" + "Best — <a href='https://t.me/mypacks'>My Packs</a>"
	assert.Greater(t, len([]rune(caption)), telegramCaptionLimit)
	assert.LessOrEqual(t, captionLength(caption), telegramCaptionLimit)

	assert.Greater(t, captionLength(strings.Repeat("я", telegramCaptionLimit+1)), telegramCaptionLimit)
}

func TestNormalizeUsername(t *testing.T) {
	assert.Equal(t, "Chan", normalizeUsername(" @Chan "))
	assert.Equal(t, "", normalizeUsername("@"))
}

func TestConfigDefaults(t *testing.T) {
	_, err := Config{}.withDefaults()
	assert.ErrorIs(t, err, errNoCredentials)

	c, err := Config{APIID: 1, APIHash: "h"}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, "./userbot.session.json", c.SessionFile)
	assert.Equal(t, defaultResolveTTL, c.ResolveCacheTTL)
}
