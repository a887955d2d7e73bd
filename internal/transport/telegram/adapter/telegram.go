package adapter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	rtsup "bigben/internal/runtime/supervisor"
	kit "bigben/internal/transport"
	logx "bigben/pkg/logx"
)

// Config is what the adapter needs from the bot config.
type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter. Created on Start, cancelled on Stop.
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower than the poll loop.
	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram.adapter"))
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: messageFromTele(m)})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil || cb.Message == nil || cb.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateCallback, Callback: callbackFromTele(cb)})
		return nil
	})
}

func messageFromTele(m *tele.Message) *kit.Message {
	return &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		ChatTitle:    m.Chat.Title,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		FromName:     displayName(m.Sender),
		Text:         m.Text,
		IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
		SentAt:       m.Time(),
	}
}

func callbackFromTele(cb *tele.Callback) *kit.Callback {
	m := cb.Message
	return &kit.Callback{
		ID:        cb.ID,
		FromID:    cb.Sender.ID,
		FromName:  displayName(cb.Sender),
		ChatID:    m.Chat.ID,
		ThreadID:  m.ThreadID,
		MessageID: m.ID,
		Data:      cb.Data,
		MessageAt: m.Time(),
		Keyboard:  keyboardFromTele(m.ReplyMarkup),
	}
}

func displayName(u *tele.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName + " " + u.LastName))
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return fmt.Sprintf("user %d", u.ID)
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	report := func() {
		if n := a.droppedUpdates.Swap(0); n > 0 {
			a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
		}
	}
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop. Returning while the context is live is a failure
	// and gets restarted with backoff.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("telebot poller exited")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	return nil
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

	// Keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
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

const telegramTextLimit = 4096

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if utf8.RuneCountInString(text) > telegramTextLimit {
		text = string([]rune(text)[:telegramTextLimit-1]) + "…"
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
		ReplyMarkup:           markupFromKit(opt.Keyboard),
	}
	if opt.ReplyTo > 0 {
		sendOpt.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: &tele.Chat{ID: to.ChatID}}
	}

	msg, err := withContext(ctx, func() (*tele.Message, error) {
		return a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	})
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID, SentAt: msg.Time()}, nil
}

// EditKeyboard replaces the inline keyboard of ref.
func (a *Adapter) EditKeyboard(ctx context.Context, ref kit.MessageRef, kb kit.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	rm := markupFromKit(kb)
	if rm == nil {
		rm = &tele.ReplyMarkup{}
	}
	_, err := withContext(ctx, func() (*tele.Message, error) {
		return a.bot.EditReplyMarkup(m, rm)
	})
	return classify(err)
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// withContext runs a blocking Bot API call and gives up when ctx ends first.
// telebot has no per-call context; an abandoned call finishes in the background.
func withContext(ctx context.Context, call func() (*tele.Message, error)) (*tele.Message, error) {
	type result struct {
		msg *tele.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := call()
		ch <- result{msg, err}
	}()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Substrings of Bot API descriptions that mean the chat will never accept our messages.
// Missing rights are left out: an admin can grant them back, so those stay transient.
var goneMarkers = []string{
	"chat not found",
	"bot was blocked",
	"bot was kicked",
	"user is deactivated",
	"group chat was upgraded",
	"bot is not a member",
}

// classify maps Bot API failures to transport sentinels, keeping the original text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "message is not modified") {
		return fmt.Errorf("%w: %v", kit.ErrNotModified, err)
	}
	for _, m := range goneMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %v", kit.ErrRecipientGone, err)
		}
	}
	return err
}

func markupFromKit(kb kit.Keyboard) *tele.ReplyMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tele.InlineButton, 0, len(kb))
	for _, row := range kb {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rows = append(rows, r)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

func keyboardFromTele(rm *tele.ReplyMarkup) kit.Keyboard {
	if rm == nil || len(rm.InlineKeyboard) == 0 {
		return nil
	}
	kb := make(kit.Keyboard, 0, len(rm.InlineKeyboard))
	for _, row := range rm.InlineKeyboard {
		r := make([]kit.Button, 0, len(row))
		for _, b := range row {
			r = append(r, kit.Button{Text: b.Text, Data: b.Data})
		}
		kb = append(kb, r)
	}
	return kb
}

// UpdateMenuCommands sets the bot's command menu. It only calls the API when the list changes.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		_, _ = h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		out = append(out, tele.Command{Text: c.Command, Description: d})
		if len(out) >= 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}
