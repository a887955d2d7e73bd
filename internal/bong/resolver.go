package bong

import (
	"context"
	"time"

	"bigben/internal/eventbus"
	"bigben/internal/storage"
	logx "bigben/pkg/logx"
)

// Respond resolves one press and returns what to tell the presser.
// At most one press per message is ever Won.
func (e *Engine) Respond(ctx context.Context, r Response) Outcome {
	if r.Control != ControlPress {
		return OutcomeAlreadyHandled
	}
	s := e.settings.Load()
	now := e.now()
	if r.At.IsZero() {
		r.At = now
	}

	// Presses are tallied on arrival so medals follow arrival order.
	tracked := e.tallies.record(r.Key, Responder{UserID: r.UserID, Name: r.UserName})

	outcome, win := e.race(ctx, s, r, now)

	log := e.log.With(
		logx.Int64("chat_id", r.Key.ChatID),
		logx.Int("message_id", r.Key.MessageID),
		logx.Int64("user_id", r.UserID),
		logx.String("outcome", string(outcome)),
	)
	ev := eventbus.Response{
		ChatID:    r.Key.ChatID,
		MessageID: r.Key.MessageID,
		UserID:    r.UserID,
		Outcome:   string(outcome),
		Open:      e.open.len(),
	}
	if outcome == OutcomeWon {
		ev.Reaction = win.ReactionTime()
		log.Info("bong won", logx.Duration("reaction", ev.Reaction), logx.String("user", r.UserName))
	} else {
		log.Debug("bong press")
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeResponse, Data: ev})

	if tracked {
		e.scheduleRefresh(ctx, s, r.Key)
	}
	return outcome
}

// race runs the ordered checks. The returned record is only set for OutcomeWon.
func (e *Engine) race(ctx context.Context, s *settings, r Response, now time.Time) (Outcome, storage.WinRecord) {
	createdAt := r.MessageAt
	if createdAt.IsZero() {
		if t, ok := e.tallies.snapshot(r.Key); ok {
			createdAt = t.CreatedAt
		}
	}
	if !createdAt.IsZero() && !sameHour(createdAt, now, s.cfg.Location) {
		return OutcomeTooLate, storage.WinRecord{}
	}

	l := e.locks.lockFor(r.Key, e.open.contains)
	if l == nil {
		return OutcomeAlreadyHandled, storage.WinRecord{}
	}
	if l.Held() {
		return OutcomeNotFirst, storage.WinRecord{}
	}
	if err := l.Acquire(ctx, s.cfg.LockTimeout); err != nil {
		return OutcomeNotFirst, storage.WinRecord{}
	}
	defer func() {
		l.Release()
		e.locks.prune(r.Key, l)
	}()

	msg, ok := e.open.take(r.Key)
	if !ok {
		return OutcomeAlreadyHandled, storage.WinRecord{}
	}

	win := storage.WinRecord{
		ChatID:    r.Key.ChatID,
		MessageID: r.Key.MessageID,
		UserID:    r.UserID,
		Username:  r.UserName,
		At:        r.At,
		MessageAt: msg.CreatedAt,
	}
	if err := s.ledger.Write(ctx, win); err != nil {
		e.log.Error("win not recorded", logx.Int64("chat_id", win.ChatID), logx.Int("message_id", win.MessageID), logx.Int64("user_id", win.UserID), logx.Err(err))
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeLedgerError, Data: eventbus.LedgerError{
			ChatID: win.ChatID, MessageID: win.MessageID, Error: err.Error(),
		}})
	}
	return OutcomeWon, win
}

// sameHour compares (year, month, day, hour) in loc.
func sameHour(a, b time.Time, loc *time.Location) bool {
	a, b = a.In(loc), b.In(loc)
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd && a.Hour() == b.Hour()
}
