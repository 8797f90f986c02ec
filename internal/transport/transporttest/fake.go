// Package transporttest provides an in-memory transport.Client for tests.
package transporttest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	kit "userbot/internal/transport"
)

// Sent records one outgoing call.
type Sent struct {
	Op      string // "text" | "media" | "edit"
	To      kit.Peer
	ID      int // edited message id
	HTML    string
	Media   *kit.Media
	Options kit.SendOptions
}

// Client is a scripted transport.Client. Zero value is ready to use.
type Client struct {
	mu sync.Mutex

	// Peers resolvable by username (case-insensitive, without "@").
	Peers map[string]kit.Peer
	// Users resolvable by id.
	Users map[int64]kit.Peer
	// Messages per chat id, any order.
	Messages map[int64][]*kit.Message

	// Err, when set for an op ("resolve", "history", "send", "edit", "get"), fails it.
	Err map[string]error

	Sent   []Sent
	nextID int
}

func (c *Client) fail(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err == nil {
		return nil
	}
	return c.Err[op]
}

func (c *Client) AddPeer(p kit.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Peers == nil {
		c.Peers = map[string]kit.Peer{}
	}
	if c.Users == nil {
		c.Users = map[int64]kit.Peer{}
	}
	if p.Username != "" {
		c.Peers[strings.ToLower(p.Username)] = p
	}
	if p.Kind == kit.PeerUser {
		c.Users[p.ID] = p
	}
}

func (c *Client) AddMessage(m *kit.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Messages == nil {
		c.Messages = map[int64][]*kit.Message{}
	}
	c.Messages[m.Chat.ID] = append(c.Messages[m.Chat.ID], m)
}

// Outbox returns a copy of all recorded calls.
func (c *Client) Outbox() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.Sent...)
}

// Last returns the last recorded call.
func (c *Client) Last() (Sent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Sent) == 0 {
		return Sent{}, false
	}
	return c.Sent[len(c.Sent)-1], true
}

func (c *Client) ResolveUsername(_ context.Context, username string) (kit.Peer, error) {
	if err := c.fail("resolve"); err != nil {
		return kit.Peer{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.Peers[strings.ToLower(strings.TrimPrefix(username, "@"))]
	if !ok {
		return kit.Peer{}, kit.ErrNotFound
	}
	return p, nil
}

func (c *Client) ResolveUser(_ context.Context, userID int64) (kit.Peer, error) {
	if err := c.fail("resolve"); err != nil {
		return kit.Peer{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.Users[userID]
	if !ok {
		return kit.Peer{}, kit.ErrNotFound
	}
	return p, nil
}

func (c *Client) GetMessage(_ context.Context, chat kit.Peer, id int) (*kit.Message, error) {
	if err := c.fail("get"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.Messages[chat.ID] {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, kit.ErrNotFound
}

func (c *Client) History(_ context.Context, chat kit.Peer, q kit.HistoryQuery) kit.HistoryIter {
	if err := c.fail("history"); err != nil {
		return &iter{err: err}
	}
	c.mu.Lock()
	var out []*kit.Message
	for _, m := range c.Messages[chat.ID] {
		if q.FromUserID != 0 && m.SenderID != q.FromUserID {
			continue
		}
		out = append(out, m)
	}
	c.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return &iter{msgs: out, pos: -1}
}

func (c *Client) record(s Sent) kit.MessageRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.Sent = append(c.Sent, s)
	return kit.MessageRef{Chat: s.To, ID: 10000 + c.nextID}
}

func opts(opt *kit.SendOptions) kit.SendOptions {
	if opt == nil {
		return kit.SendOptions{}
	}
	return *opt
}

func (c *Client) SendText(_ context.Context, to kit.Peer, html string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := c.fail("send"); err != nil {
		return kit.MessageRef{}, err
	}
	return c.record(Sent{Op: "text", To: to, HTML: html, Options: opts(opt)}), nil
}

func (c *Client) SendMedia(_ context.Context, to kit.Peer, media *kit.Media, captionHTML string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := c.fail("send"); err != nil {
		return kit.MessageRef{}, err
	}
	return c.record(Sent{Op: "media", To: to, HTML: captionHTML, Media: media, Options: opts(opt)}), nil
}

func (c *Client) EditText(_ context.Context, ref kit.MessageRef, html string, opt *kit.SendOptions) error {
	if err := c.fail("edit"); err != nil {
		return err
	}
	c.record(Sent{Op: "edit", To: ref.Chat, ID: ref.ID, HTML: html, Options: opts(opt)})
	return nil
}

type iter struct {
	msgs []*kit.Message
	pos  int
	err  error
}

func (it *iter) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	it.pos++
	return it.pos < len(it.msgs)
}

func (it *iter) Value() *kit.Message { return it.msgs[it.pos] }
func (it *iter) Err() error          { return it.err }

// Msg is a shorthand for building test messages.
func Msg(chat kit.Peer, id int, from int64, text string, at time.Time) *kit.Message {
	return &kit.Message{ID: id, Chat: chat, SenderID: from, Text: text, Date: at}
}

var _ kit.Client = (*Client)(nil)
