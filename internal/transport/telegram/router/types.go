package router

import (
	"context"
	"errors"
	"sync"
	"time"

	kit "userbot/internal/transport"
	logx "userbot/pkg/logx"
)

type Access int

const (
	// AccessOwnerOnly commands run for the account itself and configured owners.
	AccessOwnerOnly Access = iota
	AccessEveryone
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space-separated command path, e.g. "vores" or "vores stop".
	Route       string
	Aliases     []string // root-level aliases
	Description string
	Usage       string
	Access      Access

	PluginName string
	Timeout    time.Duration // optional per-command override
	Handle     HandlerFunc
}

// Watch receives every incoming message before command routing.
type Watch struct {
	PluginName string
	Handle     HandlerFunc
}

// Request is one routed message. For watchers Command is empty.
type Request struct {
	Message *kit.Message
	Chat    kit.Peer
	FromID  int64

	Command string   // matched route
	Path    []string // matched route tokens
	Args    []string // tokenized arguments
	RawArgs string   // arguments as typed
	ReqID   string

	Client kit.Client
	Logger logx.Logger

	mu     sync.Mutex
	answer *kit.MessageRef
}

// IsReply reports whether the command message replies to another message.
func (r *Request) IsReply() bool { return r.Message != nil && r.Message.ReplyToID != 0 }

// Reply fetches the message the command replies to.
// It returns (nil, nil) when there is none.
func (r *Request) Reply(ctx context.Context) (*kit.Message, error) {
	if !r.IsReply() {
		return nil, nil
	}
	m, err := r.Client.GetMessage(ctx, r.Chat, r.Message.ReplyToID)
	if errors.Is(err, kit.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// Answer shows html in response to the command.
//
// An outgoing command message is edited in place; otherwise a reply is sent.
// Later answers edit the same message.
func (r *Request) Answer(ctx context.Context, html string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	opt := &kit.SendOptions{DisablePreview: true}
	if r.answer == nil && r.Message != nil && r.Message.Out {
		r.answer = &kit.MessageRef{Chat: r.Chat, ID: r.Message.ID}
	}
	if r.answer != nil {
		return r.Client.EditText(ctx, *r.answer, html, opt)
	}
	if r.Message != nil {
		opt.ReplyToID = r.Message.ID
	}
	ref, err := r.Client.SendText(ctx, r.Chat, html, opt)
	if err != nil {
		return err
	}
	r.answer = &ref
	return nil
}
