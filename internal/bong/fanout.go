package bong

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"bigben/internal/eventbus"
	"bigben/internal/storage"
	"bigben/internal/transport"
	logx "bigben/pkg/logx"
)

type deliveryResult struct {
	sent     bool
	disabled bool
}

// Broadcast sends the bong for trig and registers every delivered message as open.
// An unscoped trigger first forgets the previous hour. Delivery failures are
// per recipient and never fail the broadcast; only a directory error does.
func (e *Engine) Broadcast(ctx context.Context, trig Trigger) (Report, error) {
	e.broadcastMu.Lock()
	defer e.broadcastMu.Unlock()

	s := e.settings.Load()
	start := e.now()
	if trig.At.IsZero() {
		trig.At = start
	}
	at := trig.At.In(s.cfg.Location)
	rep := Report{CycleID: trig.CycleID, Source: trig.Source, Text: s.calendar.Text(at, nil)}
	log := e.log.With(logx.String("cycle", trig.CycleID), logx.String("source", trig.Source))

	recipients, err := e.recipients(ctx, trig, log)
	if err != nil {
		return rep, err
	}
	rep.Total = len(recipients)
	log.Info("broadcast started", logx.Int("recipients", rep.Total), logx.Bool("scoped", trig.Scope != nil), logx.String("text", rep.Text))

	results := make([]deliveryResult, len(recipients))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, r := range recipients {
		g.Go(func() error {
			results[i] = e.deliver(ctx, s, trig, at, r, log)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		switch {
		case res.sent:
			rep.Sent++
		default:
			rep.Failed++
		}
		if res.disabled {
			rep.Disabled++
		}
	}
	rep.Took = e.now().Sub(start)

	e.bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcast, Data: eventbus.Broadcast{
		CycleID:  rep.CycleID,
		Source:   rep.Source,
		Scoped:   trig.Scope != nil,
		Total:    rep.Total,
		Sent:     rep.Sent,
		Failed:   rep.Failed,
		Disabled: rep.Disabled,
		Took:     rep.Took,
		Open:     e.open.len(),
	}})
	log.Info("broadcast done",
		logx.Int("total", rep.Total),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Int("disabled", rep.Disabled),
		logx.Duration("took", rep.Took),
		logx.Int("open", e.open.len()),
	)
	return rep, nil
}

// recipients resolves who receives trig. Unscoped triggers reset the hour first.
func (e *Engine) recipients(ctx context.Context, trig Trigger, log logx.Logger) ([]storage.Recipient, error) {
	if trig.Scope == nil {
		e.resetHour()
		all, err := e.dir.ListRecipients(ctx)
		if err != nil {
			return nil, fmt.Errorf("list recipients: %w", err)
		}
		out := make([]storage.Recipient, 0, len(all))
		for _, r := range all {
			if r.Enabled {
				out = append(out, r)
			}
		}
		return out, nil
	}

	r, err := e.dir.GetRecipient(ctx, *trig.Scope)
	if errors.Is(err, storage.ErrNotFound) {
		log.Info("scoped broadcast for unknown recipient", logx.Int64("chat_id", *trig.Scope))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient %d: %w", *trig.Scope, err)
	}
	if !r.Enabled {
		log.Info("scoped broadcast for disabled recipient", logx.Int64("chat_id", r.ChatID))
		return nil, nil
	}
	return []storage.Recipient{r}, nil
}

func (e *Engine) deliver(ctx context.Context, s *settings, trig Trigger, at time.Time, r storage.Recipient, log logx.Logger) deliveryResult {
	log = log.With(logx.Int64("chat_id", r.ChatID))
	text := s.calendar.Text(at, r.Overrides)

	emoji := strings.TrimSpace(r.Emoji)
	if emoji == "" {
		emoji = strings.TrimSpace(s.cfg.DefaultEmoji)
	}
	opt := &transport.SendOptions{DisablePreview: true}
	if emoji != "" {
		opt.Keyboard = pressKeyboard(emoji)
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	var (
		ref transport.MessageRef
		err error
	)
	if err = s.limiter.Wait(sctx); err == nil {
		ref, err = e.messenger.SendText(sctx, transport.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID}, text, opt)
	}
	if err != nil {
		return e.deliveryFailed(ctx, s, trig, r, err, log)
	}

	e.bus.Publish(eventbus.Event{Type: eventbus.TypeDelivery, Data: eventbus.Delivery{CycleID: trig.CycleID, ChatID: r.ChatID, Result: eventbus.DeliverySent}})
	if emoji == "" {
		log.Info("bong sent without button", logx.Int("message_id", ref.MessageID))
		return deliveryResult{sent: true}
	}

	createdAt := ref.SentAt
	if createdAt.IsZero() {
		createdAt = e.now()
	}
	key := MessageKey{ChatID: ref.ChatID, MessageID: ref.MessageID}
	if key.ChatID == 0 {
		key.ChatID = r.ChatID
	}
	e.tallies.track(key, emoji, createdAt)
	e.open.add(OpenMessage{Key: key, RecipientID: r.ChatID, CreatedAt: createdAt, Control: ControlPress, Emoji: emoji})
	log.Debug("bong sent", logx.Int("message_id", ref.MessageID))
	return deliveryResult{sent: true}
}

func (e *Engine) deliveryFailed(ctx context.Context, s *settings, trig Trigger, r storage.Recipient, err error, log logx.Logger) deliveryResult {
	result := eventbus.DeliveryFailed
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result = eventbus.DeliveryTimeout
	case errors.Is(err, transport.ErrRecipientGone):
		result = eventbus.DeliveryGone
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeDelivery, Data: eventbus.Delivery{
		CycleID: trig.CycleID, ChatID: r.ChatID, Result: result, Error: err.Error(),
	}})

	if result != eventbus.DeliveryGone || !s.cfg.CleanupGone {
		log.Warn("bong send failed", logx.String("result", result), logx.Err(err))
		return deliveryResult{}
	}
	if derr := e.dir.DisableRecipient(ctx, r.ChatID, err.Error()); derr != nil {
		log.Error("disable gone recipient failed", logx.Err(derr))
		return deliveryResult{}
	}
	log.Warn("recipient gone; disabled", logx.Err(err))
	return deliveryResult{disabled: true}
}
