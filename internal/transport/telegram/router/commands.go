package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "bigben/internal/runtime/supervisor"
	kit "bigben/internal/transport"
	logx "bigben/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// CallbackHandlerFunc handles a button press and returns the text shown to the presser.
type CallbackHandlerFunc func(ctx context.Context, req *Request) (answer string, err error)

// CallbackRoute matches callback data exactly.
type CallbackRoute struct {
	Data    string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// TextHook sees plain (non-command) text messages.
type TextHook func(ctx context.Context, req *Request) error

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Command  string // command name or callback data
	Args     []string
	// RawArgs is the untokenized text after the command word.
	RawArgs string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML sends HTML formatted text to the request's chat.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

type CommandManager struct {
	mu       sync.RWMutex
	commands map[string]*Command // name and aliases
	ordered  []Command
	owners   []int64
	textHook TextHook

	cbMu      sync.RWMutex
	callbacks map[string]CallbackRoute

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		commands:  map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
		owners:    append([]int64(nil), owners...),
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		jobs:      make(chan func(), 256),
	}
}

// Supervisor returns the dispatcher's internal supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	ownCopy := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.owners...)
}

// SetTextHook installs the handler for plain text messages. nil removes it.
func (m *CommandManager) SetTextHook(h TextHook) {
	m.mu.Lock()
	m.textHook = h
	m.mu.Unlock()
}

// SetRegistry replaces the command and callback tables. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "show this help",
		Usage:       "/help [command]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args))
		},
	})

	table := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		table[name] = &cc
		ordered = append(ordered, cc)
	}
	// Aliases never shadow a real command name.
	for _, c := range ordered {
		for _, a := range c.Aliases {
			a = sanitizeTelegramCommand(a)
			if _, taken := table[a]; a == "" || taken {
				continue
			}
			table[a] = table[c.Name]
		}
	}

	cb := map[string]CallbackRoute{}
	for _, r := range cbs {
		if d := strings.TrimSpace(r.Data); d != "" && r.Handle != nil {
			cb[d] = r
		}
	}

	m.mu.Lock()
	m.commands = table
	m.ordered = ordered
	m.mu.Unlock()

	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(ordered)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// DispatchLoop routes updates to a bounded worker pool until ctx is done or updates closes.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)

	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			// Mark as not running before closing so enqueue can degrade gracefully.
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := range workers {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					// Middleware already recovers; keep the worker alive regardless.
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateCallback:
		m.routeCallback(root, up)
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if !strings.HasPrefix(text, "/") {
		m.mu.RLock()
		hook := m.textHook
		m.mu.RUnlock()
		if hook == nil || text == "" {
			return
		}
		req := m.newRequest(up, chat, msg.FromID, msg.FromName, "text", nil)
		final := Chain(func(ctx context.Context, r *Request) error { return hook(ctx, r) },
			MWPanicRecover(m.log),
			MWTimeout(10*time.Second),
		)
		_ = m.tryEnqueue(func() { _ = final(root, req) })
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	m.mu.RLock()
	cmd, ok := m.commands[word]
	m.mu.RUnlock()
	if !ok {
		// Groups often have several bots; only answer unknown commands in private chats.
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(root, chat, "unknown command, try /help", nil)
		}
		return
	}

	owners := m.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = m.adapter.SendText(root, chat, "unauthorized", nil)
		return
	}

	req := m.newRequest(up, chat, msg.FromID, msg.FromName, cmd.Name, parts[1:])
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		req.RawArgs = strings.TrimSpace(text[i:])
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, chat, "busy, try again", nil)
	}
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	data := strings.TrimSpace(cb.Data)

	m.cbMu.RLock()
	route, ok := m.callbacks[data]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	if route.Access == AccessOwnerOnly && !isOwner(cb.FromID, m.ownersSnapshot()) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "forbidden")
		return
	}

	req := m.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, cb.FromName, data, nil)
	var answer string
	h := func(ctx context.Context, r *Request) error {
		var err error
		answer, err = route.Handle(ctx, r)
		return err
	}
	final := Chain(
		h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(route.Timeout),
	)

	run := func(c context.Context) {
		_ = final(c, req)
		// always stop the client's loading spinner
		_ = m.adapter.AnswerCallback(c, cb.ID, answer)
	}
	// Callbacks never wait in the shared job queue; each run is bounded by its route timeout.
	if sup := m.Supervisor(); sup != nil {
		sup.Go0("callback."+data, run)
		return
	}
	go run(root)
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, fromName, command string, args []string) *Request {
	rid := newReqID()
	return &Request{
		Update:   up,
		Chat:     chat,
		FromID:   fromID,
		FromName: fromName,
		Command:  command,
		Args:     args,
		ReqID:    rid,
		Adapter:  m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int("thread_id", chat.ThreadID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
