package transport

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("transport: not found")
	ErrUnsupportedMedia = errors.New("transport: unsupported media")
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type PeerKind string

const (
	PeerUser    PeerKind = "user"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel" // broadcast channels and supergroups
)

// Peer is a resolved user, group or channel.
//
// ID is the bare (unmarked) Telegram ID. Input holds the adapter-specific
// handle needed to address the peer again (gotd: tg.InputPeerClass).
type Peer struct {
	ID        int64
	Kind      PeerKind
	Username  string
	Title     string
	FirstName string
	LastName  string
	Bot       bool

	Input any
}

func (p Peer) IsZero() bool { return p.ID == 0 && p.Input == nil }

// DisplayName returns the chat title, or "first last" for users.
func (p Peer) DisplayName() string {
	if p.Kind != PeerUser {
		if p.Title != "" {
			return p.Title
		}
		return p.Username
	}
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Username
	}
	return name
}

type EntityType string

const (
	EntityMention    EntityType = "mention"
	EntityURL        EntityType = "url"
	EntityBold       EntityType = "bold"
	EntityItalic     EntityType = "italic"
	EntityUnderline  EntityType = "underline"
	EntityStrike     EntityType = "strike"
	EntityCode       EntityType = "code"
	EntityPre        EntityType = "pre"
	EntityTextLink   EntityType = "text_link"
	EntitySpoiler    EntityType = "spoiler"
	EntityBlockquote EntityType = "blockquote"
	EntityOther      EntityType = "other"
)

// Entity is a formatting span. Offset and Length are in UTF-16 code units,
// the way Telegram reports them.
type Entity struct {
	Type     EntityType
	Offset   int
	Length   int
	URL      string // text_link only
	Language string // pre only
}

type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaOther    MediaKind = "other"
)

// Media references an attachment of a received message.
// Input is adapter-specific (gotd: tg.MessageMediaClass).
type Media struct {
	Kind  MediaKind
	Input any
}

type Message struct {
	ID        int
	Chat      Peer
	SenderID  int64
	Out       bool
	Text      string
	Entities  []Entity
	Media     *Media
	Date      time.Time
	ReplyToID int
}

type MessageRef struct {
	Chat Peer
	ID   int
}

type SendOptions struct {
	DisablePreview bool
	Silent         bool
	ReplyToID      int
}

// HistoryQuery selects messages of a chat, newest first.
type HistoryQuery struct {
	FromUserID int64
	Limit      int // 0 means the whole history
	BatchSize  int
}

// HistoryIter walks a chat history page by page.
//
//	it := c.History(ctx, chat, q)
//	for it.Next(ctx) { m := it.Value() }
//	if err := it.Err(); err != nil { ... }
type HistoryIter interface {
	Next(ctx context.Context) bool
	Value() *Message
	Err() error
}

// Client is the messaging API plugins are written against.
// All text arguments are Telegram HTML.
type Client interface {
	ResolveUsername(ctx context.Context, username string) (Peer, error)
	ResolveUser(ctx context.Context, userID int64) (Peer, error)
	GetMessage(ctx context.Context, chat Peer, id int) (*Message, error)
	History(ctx context.Context, chat Peer, q HistoryQuery) HistoryIter

	SendText(ctx context.Context, to Peer, html string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to Peer, media *Media, captionHTML string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, html string, opt *SendOptions) error
}

// Adapter is a Client that also produces updates.
type Adapter interface {
	Client

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
