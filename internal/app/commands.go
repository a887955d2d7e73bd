package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"bigben/internal/bong"
	"bigben/internal/storage"
	"bigben/internal/transport/telegram/router"
	logx "bigben/pkg/logx"
)

const leaderboardSize = 10

// bongEngine is the part of *bong.Engine the chat commands drive.
type bongEngine interface {
	Trigger(ctx context.Context, scope *int64) (bong.Report, error)
	Respond(ctx context.Context, r bong.Response) bong.Outcome
	Chatter(chatID, userID int64, text string) (string, bool)
}

// botCommands binds chat commands and button callbacks to the engine and store.
type botCommands struct {
	engine bongEngine
	store  storage.Store
	log    logx.Logger
	now    func() time.Time
}

func newBotCommands(engine bongEngine, store storage.Store, log logx.Logger) *botCommands {
	return &botCommands{engine: engine, store: store, log: log, now: time.Now}
}

func (b *botCommands) commands() []router.Command {
	return []router.Command{
		{
			Name:        "bongtest",
			Description: "send a test bong to this chat",
			Access:      router.AccessOwnerOnly,
			Timeout:     time.Minute,
			Handle:      b.bongTest,
		},
		{
			Name:        "subscribe",
			Description: "receive the hourly bong in this chat",
			Usage:       "/subscribe [emoji]",
			Access:      router.AccessOwnerOnly,
			Handle:      b.subscribe,
		},
		{
			Name:        "unsubscribe",
			Description: "stop the hourly bong in this chat",
			Access:      router.AccessOwnerOnly,
			Handle:      b.unsubscribe,
		},
		{
			Name:        "bongemoji",
			Description: "show or set the bong button emoji",
			Usage:       "/bongemoji [emoji|default]",
			Access:      router.AccessOwnerOnly,
			Handle:      b.bongEmoji,
		},
		{
			Name:        "bongoverride",
			Description: "set or clear this chat's text for a date",
			Usage:       "/bongoverride MM-DD [text]",
			Access:      router.AccessOwnerOnly,
			Handle:      b.bongOverride,
		},
		{
			Name:        "bongcount",
			Description: "how many bongs a user has won here",
			Usage:       "/bongcount [user_id]",
			Handle:      b.bongCount,
		},
		{
			Name:        "bongdist",
			Description: "reaction time distribution of a user",
			Usage:       "/bongdist [user_id]",
			Handle:      b.bongDist,
		},
		{
			Name:        "leaderboard",
			Aliases:     []string{"top"},
			Description: "top bong pressers in this chat",
			Handle:      b.leaderboard,
		},
	}
}

func (b *botCommands) callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Data: bong.ControlPress, Access: router.AccessEveryone, Timeout: 10 * time.Second, Handle: b.press},
		// medals are decoration; answer so the client stops spinning
		{Data: bong.ControlMedal, Access: router.AccessEveryone, Handle: func(context.Context, *router.Request) (string, error) {
			return "", nil
		}},
	}
}

func (b *botCommands) press(ctx context.Context, req *router.Request) (string, error) {
	cb := req.Update.Callback
	if cb == nil {
		return "", nil
	}
	outcome := b.engine.Respond(ctx, bong.Response{
		Key:       bong.MessageKey{ChatID: cb.ChatID, MessageID: cb.MessageID},
		UserID:    cb.FromID,
		UserName:  cb.FromName,
		Control:   cb.Data,
		MessageAt: cb.MessageAt,
		At:        b.now(),
	})
	return outcome.Answer(), nil
}

// chatter answers a typed "bong".
func (b *botCommands) chatter(ctx context.Context, req *router.Request) error {
	m := req.Update.Message
	if m == nil {
		return nil
	}
	reply, ok := b.engine.Chatter(m.ChatID, m.FromID, m.Text)
	if !ok {
		return nil
	}
	return req.Reply(ctx, reply)
}

func (b *botCommands) bongTest(ctx context.Context, req *router.Request) error {
	chatID := req.Chat.ChatID
	rep, err := b.engine.Trigger(ctx, &chatID)
	if err != nil {
		return req.Reply(ctx, "Test bong failed: "+err.Error())
	}
	if rep.Total == 0 {
		return req.Reply(ctx, "This chat is not subscribed. Use /subscribe first.")
	}
	if rep.Sent == 0 {
		return req.Reply(ctx, "Test bong could not be delivered, check the logs.")
	}
	return nil
}

func (b *botCommands) subscribe(ctx context.Context, req *router.Request) error {
	r, err := b.store.GetRecipient(ctx, req.Chat.ChatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r = storage.Recipient{ChatID: req.Chat.ChatID}
	case err != nil:
		return err
	}
	r.ThreadID = req.Chat.ThreadID
	if m := req.Update.Message; m != nil && m.ChatTitle != "" {
		r.Title = m.ChatTitle
	}
	if len(req.Args) > 0 {
		r.Emoji = strings.TrimSpace(req.Args[0])
	}
	wasEnabled := r.Enabled
	r.Enabled = true
	r.DisabledReason = ""
	if err := b.store.UpsertRecipient(ctx, r); err != nil {
		return err
	}
	b.log.Info("recipient subscribed", logx.Int64("chat_id", r.ChatID), logx.Int("thread_id", r.ThreadID), logx.Int64("by", req.FromID))
	if wasEnabled {
		return req.Reply(ctx, "This chat is already subscribed. Settings updated.")
	}
	return req.Reply(ctx, "Subscribed 🔔 This chat will get a bong every hour.")
}

func (b *botCommands) unsubscribe(ctx context.Context, req *router.Request) error {
	err := b.store.DisableRecipient(ctx, req.Chat.ChatID, "unsubscribed")
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, "This chat is not subscribed.")
	}
	if err != nil {
		return err
	}
	b.log.Info("recipient unsubscribed", logx.Int64("chat_id", req.Chat.ChatID), logx.Int64("by", req.FromID))
	return req.Reply(ctx, "Unsubscribed. No more bongs here.")
}

func (b *botCommands) bongEmoji(ctx context.Context, req *router.Request) error {
	r, err := b.store.GetRecipient(ctx, req.Chat.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, "This chat is not subscribed. Use /subscribe first.")
	}
	if err != nil {
		return err
	}
	if len(req.Args) == 0 {
		if r.Emoji == "" {
			return req.Reply(ctx, "This chat uses the default bong emoji.")
		}
		return req.Reply(ctx, "Bong emoji: "+r.Emoji)
	}
	emoji := strings.TrimSpace(req.Args[0])
	if strings.EqualFold(emoji, "default") {
		emoji = ""
	}
	r.Emoji = emoji
	if err := b.store.UpsertRecipient(ctx, r); err != nil {
		return err
	}
	if emoji == "" {
		return req.Reply(ctx, "Bong emoji reset to the default.")
	}
	return req.Reply(ctx, "Bong emoji set to "+emoji)
}

func (b *botCommands) bongOverride(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "Usage: /bongoverride MM-DD [text]")
	}
	day := strings.TrimSpace(req.Args[0])
	if !validDayKey(day) {
		return req.Reply(ctx, "Date must be MM-DD, e.g. 12-25.")
	}
	r, err := b.store.GetRecipient(ctx, req.Chat.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, "This chat is not subscribed. Use /subscribe first.")
	}
	if err != nil {
		return err
	}

	_, text, _ := strings.Cut(strings.TrimSpace(req.RawArgs), " ")
	text = strings.TrimSpace(text)
	if r.Overrides == nil {
		r.Overrides = map[string]string{}
	}
	if text == "" {
		delete(r.Overrides, day)
	} else {
		r.Overrides[day] = text
	}
	if err := b.store.UpsertRecipient(ctx, r); err != nil {
		return err
	}
	if text == "" {
		return req.Reply(ctx, "Override for "+day+" cleared.")
	}
	return req.Reply(ctx, fmt.Sprintf("On %s this chat gets: %s", day, text))
}

func validDayKey(k string) bool {
	if len(k) != 5 {
		return false
	}
	// leap year so 02-29 parses
	_, err := time.Parse("2006-01-02", "2000-"+k)
	return err == nil
}

// targetUser picks the user a stats command is about: the first arg, or the sender.
func targetUser(req *router.Request) (int64, string, error) {
	if len(req.Args) == 0 {
		return req.FromID, req.FromName, nil
	}
	id, err := strconv.ParseInt(strings.TrimSpace(req.Args[0]), 10, 64)
	if err != nil || id <= 0 {
		return 0, "", fmt.Errorf("invalid user id %q", req.Args[0])
	}
	return id, "", nil
}

func (b *botCommands) userWins(ctx context.Context, req *router.Request) ([]storage.WinRecord, string, error) {
	userID, name, err := targetUser(req)
	if err != nil {
		return nil, "", err
	}
	wins, err := b.store.QueryWins(ctx, storage.WinQuery{ChatID: req.Chat.ChatID, UserID: userID})
	if err != nil {
		return nil, "", err
	}
	if name == "" {
		name = strconv.FormatInt(userID, 10)
		for _, w := range wins {
			if w.Username != "" {
				name = w.Username
				break
			}
		}
	}
	return wins, name, nil
}

func (b *botCommands) bongCount(ctx context.Context, req *router.Request) error {
	wins, name, err := b.userWins(ctx, req)
	if err != nil {
		return req.Reply(ctx, "Usage: /bongcount [user_id]")
	}
	if len(wins) == 0 {
		return req.Reply(ctx, name+" has gotten the first bong 0 times :c")
	}
	var total time.Duration
	for _, w := range wins {
		total += w.ReactionTime()
	}
	avg := total / time.Duration(len(wins))
	return req.Reply(ctx, fmt.Sprintf("%s has gotten the first bong %d times, averaging a %.2fs reaction time.",
		name, len(wins), avg.Seconds()))
}

func (b *botCommands) bongDist(ctx context.Context, req *router.Request) error {
	wins, name, err := b.userWins(ctx, req)
	if err != nil {
		return req.Reply(ctx, "Usage: /bongdist [user_id]")
	}
	if len(wins) == 0 {
		return req.Reply(ctx, name+" has not won a bong in this chat yet.")
	}
	times := make([]time.Duration, 0, len(wins))
	for _, w := range wins {
		times = append(times, w.ReactionTime())
	}
	return req.Reply(ctx, formatDistribution(name, times))
}

// formatDistribution renders a five-number summary of reaction times.
func formatDistribution(name string, times []time.Duration) string {
	sorted := slices.Clone(times)
	slices.Sort(sorted)
	q := func(p float64) time.Duration {
		// nearest rank
		i := int(p*float64(len(sorted)-1) + 0.5)
		return sorted[i]
	}
	secs := func(d time.Duration) string { return fmt.Sprintf("%.2fs", d.Seconds()) }
	lines := []string{
		fmt.Sprintf("⏱ %s reaction times (%d wins)", name, len(sorted)),
		"min    " + secs(sorted[0]),
		"p25    " + secs(q(0.25)),
		"median " + secs(q(0.5)),
		"p75    " + secs(q(0.75)),
		"max    " + secs(sorted[len(sorted)-1]),
	}
	return strings.Join(lines, "\n")
}

func (b *botCommands) leaderboard(ctx context.Context, req *router.Request) error {
	rows, err := b.store.Leaderboard(ctx, req.Chat.ChatID, leaderboardSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return req.Reply(ctx, "Nobody has pressed the bong in this chat yet.")
	}
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, "🏆 Bong leaderboard")
	for i, r := range rows {
		name := r.Username
		if name == "" {
			name = strconv.FormatInt(r.UserID, 10)
		}
		noun := "bongs"
		if r.Wins == 1 {
			noun = "bong"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%d %s, avg %.2fs)", i+1, name, r.Wins, noun, r.AvgReaction.Seconds()))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}
