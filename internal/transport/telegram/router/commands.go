package router

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"userbot/internal/runtime/supervisor"
	"userbot/internal/storage"
	kit "userbot/internal/transport"
	logx "userbot/pkg/logx"
)

const DefaultPrefix = "."

const jobQueueCap = 64

var errBusy = errors.New("busy, try again")

// Options are the hot-reloadable routing settings.
type Options struct {
	Prefix string
	Owners []int64
}

// CommandManager routes updates to watchers and commands.
//
// Every watcher sees a message, in arrival order, before command routing.
type CommandManager struct {
	mu sync.RWMutex

	root     *cmdNode
	alias    map[string]*cmdNode
	watchers []Watch

	prefix string
	owners []int64

	log   logx.Logger
	cli   kit.Client
	store storage.Store
}

func NewCommandManager(log logx.Logger, cli kit.Client, store storage.Store, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		root:  newRoot(),
		alias: map[string]*cmdNode{},
		log:   log,
		cli:   cli,
		store: store,
	}
	m.SetOptions(opt)
	return m
}

// SetOptions updates prefix and owners. Safe to call during hot-reload.
func (m *CommandManager) SetOptions(opt Options) {
	prefix := strings.TrimSpace(opt.Prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	owners := append([]int64(nil), opt.Owners...)
	m.mu.Lock()
	m.prefix = prefix
	m.owners = owners
	m.mu.Unlock()
}

func (m *CommandManager) Prefix() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefix
}

// SetRegistry replaces the command and watcher sets. Watchers run in the
// given order. A built-in help command is always added.
func (m *CommandManager) SetRegistry(cmds []Command, watchers []Watch) {
	helper := Command{
		Route:       "help",
		Description: "list commands",
		Usage:       "help [command]",
		Access:      AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Answer(ctx, m.helpText(req.Args))
		},
	}
	cmds = append(cmds, helper)

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		leaf := root.find(route)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			// an alias never shadows a real top-level command
			if _, exists := root.child(a); exists {
				continue
			}
			alias[a] = leaf
		}
	}

	ws := make([]Watch, 0, len(watchers))
	for _, w := range watchers {
		if w.Handle != nil {
			ws = append(ws, w)
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.watchers = ws
	m.mu.Unlock()
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
//
// Watchers run on the dispatch goroutine in arrival order. Commands are
// handed to a bounded pool of supervised workers so a long command never
// stalls the watchers.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(2, runtime.NumCPU())
	jobs := make(chan func(context.Context), jobQueueCap)

	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(m.log.With(logx.String("comp", "router"))),
		supervisor.WithCancelOnError(false),
	)
	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					m.runJob(c, idx, job)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	m.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", jobQueueCap))
	defer func() {
		close(jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("dispatcher stopped")
	}()

	enqueue := func(job func(context.Context), req *Request) {
		select {
		case jobs <- job:
		default:
			commandsDropped.Inc()
			req.Logger.Warn("command queue full")
			_ = req.Answer(ctx, ErrorHTML(errBusy))
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.dispatch(ctx, up, enqueue)
		}
	}
}

// Handle routes a single update synchronously: watchers, then the command.
func (m *CommandManager) Handle(ctx context.Context, up kit.Update) {
	m.dispatch(ctx, up, func(job func(context.Context), _ *Request) { job(ctx) })
}

func (m *CommandManager) dispatch(ctx context.Context, up kit.Update, run func(func(context.Context), *Request)) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in dispatch", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	m.runWatchers(ctx, up.Message)
	if job, req := m.routeMessage(up.Message); job != nil {
		run(job, req)
	}
}

func (m *CommandManager) runJob(ctx context.Context, worker int, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job(ctx)
}

func (m *CommandManager) runWatchers(ctx context.Context, msg *kit.Message) {
	m.mu.RLock()
	ws := m.watchers
	m.mu.RUnlock()
	for _, w := range ws {
		req := m.newRequest(msg)
		req.Logger = req.Logger.With(logx.String("plugin", w.PluginName))
		h := Chain(w.Handle, MWPanicRecover(m.log))
		if err := h(ctx, req); err != nil {
			watcherErrors.WithLabelValues(w.PluginName).Inc()
			req.Logger.Debug("watcher error", logx.Err(err))
		}
	}
}

// routeMessage resolves msg to a command and returns the wrapped handler,
// or nil when msg is not a command the sender may run.
func (m *CommandManager) routeMessage(msg *kit.Message) (func(context.Context), *Request) {
	m.mu.RLock()
	prefix := m.prefix
	owners := m.owners
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	word, rest, ok := splitCommand(strings.TrimSpace(msg.Text), prefix)
	if !ok {
		return nil, nil
	}
	args := tokenizeCommandLine(rest)

	var (
		cur  *cmdNode
		path []string
	)
	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		cur = leaf
		path = splitRoute(leaf.cmd.Route)
	} else {
		n, ok := rootNode.child(word)
		if !ok {
			return nil, nil
		}
		cur = n
		path = []string{word}
		for len(args) > 0 {
			child, ok := cur.child(strings.ToLower(args[0]))
			if !ok {
				break
			}
			cur = child
			path = append(path, child.name)
			rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), args[0]))
			args = args[1:]
		}
	}
	if cur.cmd == nil {
		return nil, nil
	}
	cmd := *cur.cmd
	// foreign messages only ever reach public commands
	if cmd.Access == AccessOwnerOnly && !msg.Out && !slices.Contains(owners, msg.SenderID) {
		return nil, nil
	}

	req := m.newRequest(msg)
	req.Command = cmd.Route
	req.Path = path
	req.Args = args
	req.RawArgs = rest
	req.Logger = req.Logger.With(logx.String("cmd", cmd.Route))

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	final := Chain(
		cmd.Handle,
		MWRequestLog(m.log),
		MWMetrics(),
		MWAudit(m.store, cmd.PluginName, m.log),
		MWErrorAnswer(),
		MWPanicRecover(m.log),
		MWTimeout(timeout),
	)
	return func(ctx context.Context) { _ = final(ctx, req) }, req
}

func (m *CommandManager) newRequest(msg *kit.Message) *Request {
	rid := newReqID()
	return &Request{
		Message: msg,
		Chat:    msg.Chat,
		FromID:  msg.SenderID,
		ReqID:   rid,
		Client:  m.cli,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.Chat.ID),
			logx.Int64("from_id", msg.SenderID),
		),
	}
}

// DefaultCommandTimeout bounds a command when neither the command nor
// its plugin sets one.
const DefaultCommandTimeout = 10 * time.Minute
