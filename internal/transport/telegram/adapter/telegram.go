package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	rtsup "userbot/internal/runtime/supervisor"
	kit "userbot/internal/transport"
	logx "userbot/pkg/logx"
)

// ErrUnauthorized is returned by Start when the session file holds no
// logged-in account.
var ErrUnauthorized = errors.New("telegram session is not authorized (run the login command)")

// Adapter is a user-account transport.Adapter on top of gotd.
type Adapter struct {
	cfg Config
	log logx.Logger

	client *telegram.Client
	waiter *floodwait.Waiter
	gaps   *updates.Manager
	api    *tg.Client
	peers  *peers.Manager
	sender *message.Sender

	self atomic.Pointer[tg.User]

	resolved *expirable.LRU[string, kit.Peer]
	users    *expirable.LRU[int64, kit.Peer]

	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the MTProto run loop and the drop reporter.
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower than Telegram.
	droppedUpdates atomic.Uint64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SessionFile), 0o700); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}

	a := &Adapter{
		cfg:      cfg,
		log:      log,
		resolved: expirable.NewLRU[string, kit.Peer](resolveCacheSize, nil, cfg.ResolveCacheTTL),
		users:    expirable.NewLRU[int64, kit.Peer](userCacheSize, nil, cfg.ResolveCacheTTL),
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)

	d := tg.NewUpdateDispatcher()
	d.OnNewMessage(a.onNewMessage)
	d.OnNewChannelMessage(a.onNewChannelMessage)
	a.gaps = updates.New(updates.Config{Handler: d})

	a.waiter = floodwait.NewWaiter()
	a.client = newClient(cfg, a.gaps, a.waiter)
	a.api = a.client.API()
	a.peers = peers.Options{}.Build(a.api)
	a.sender = message.NewSender(a.api)
	return a, nil
}

func newClient(cfg Config, h telegram.UpdateHandler, waiter *floodwait.Waiter) *telegram.Client {
	mws := []telegram.Middleware{waiter}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		mws = append(mws, ratelimit.New(rate.Limit(cfg.RequestsPerSecond), burst))
	}
	return telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionFile},
		UpdateHandler:  h,
		Middlewares:    mws,
	})
}

// Self returns the logged-in account once Start has succeeded.
func (a *Adapter) Self() kit.Peer {
	u := a.self.Load()
	if u == nil {
		return kit.Peer{}
	}
	return peerFromUser(u)
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

// Start connects, checks authorization and begins streaming updates into out.
// It returns once updates are flowing, or with the first startup error.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-ticker.C:
				a.reportDrops(cap(out))
			}
		}
	})

	ready := make(chan struct{})
	startErr := make(chan error, 1)
	var readyOnce sync.Once
	signal := func() { readyOnce.Do(func() { close(ready) }) }

	sup.GoRestart("mtproto.run", func(c context.Context) error {
		err := a.run(c, signal)
		if err != nil && c.Err() == nil {
			select {
			case startErr <- err:
			default:
			}
		}
		if errors.Is(err, ErrUnauthorized) {
			return nil
		}
		return err
	}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))

	select {
	case <-ready:
		self := a.Self()
		a.log.Info("telegram connected", logx.Int64("self_id", self.ID), logx.String("username", self.Username))
		return nil
	case err := <-startErr:
		sup.Cancel()
		_ = sup.Wait(context.Background())
		a.runMu.Lock()
		a.running = false
		a.sup = nil
		a.runMu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) reportDrops(chanCap int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

// run is one connection lifetime: connect, verify the session, then pump updates until ctx ends.
func (a *Adapter) run(ctx context.Context, ready func()) error {
	return a.waiter.Run(ctx, func(ctx context.Context) error {
		return a.client.Run(ctx, func(ctx context.Context) error {
			st, err := a.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !st.Authorized {
				return ErrUnauthorized
			}
			self, err := a.client.Self(ctx)
			if err != nil {
				return fmt.Errorf("get self: %w", err)
			}
			a.self.Store(self)
			a.users.Add(self.ID, peerFromUser(self))

			return a.gaps.Run(ctx, a.api, self.ID, updates.AuthOptions{
				IsBot: self.Bot,
				OnStart: func(ctx context.Context) {
					a.log.Debug("update stream started")
					ready()
				},
			})
		})
	})
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.droppedUpdates.Load()))
	sup.Cancel()

	// keep shutdown snappy even if the connection is slow to close
	grace := 3 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) onNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	return a.handleMessage(ctx, e, u.Message)
}

func (a *Adapter) onNewChannelMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	return a.handleMessage(ctx, e, u.Message)
}

func (a *Adapter) handleMessage(ctx context.Context, e tg.Entities, mc tg.MessageClass) error {
	m, ok := mc.(*tg.Message)
	if !ok {
		return nil
	}
	a.applyEntities(ctx, e.Users, e.Chats, e.Channels)
	msg := convertMessage(m, e.Users, e.Chats, e.Channels, a.selfID())
	a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

func (a *Adapter) selfID() int64 {
	if u := a.self.Load(); u != nil {
		return u.ID
	}
	return 0
}

// applyEntities feeds access hashes to the peers manager and the user cache.
func (a *Adapter) applyEntities(ctx context.Context, users map[int64]*tg.User, chats map[int64]*tg.Chat, channels map[int64]*tg.Channel) {
	us := make([]tg.UserClass, 0, len(users))
	for id, u := range users {
		us = append(us, u)
		a.users.Add(id, peerFromUser(u))
	}
	cs := make([]tg.ChatClass, 0, len(chats)+len(channels))
	for _, c := range chats {
		cs = append(cs, c)
	}
	for _, c := range channels {
		cs = append(cs, c)
	}
	if len(us) == 0 && len(cs) == 0 {
		return
	}
	if err := a.peers.Apply(ctx, us, cs); err != nil {
		a.log.Debug("peers apply failed", logx.Err(err))
	}
}
