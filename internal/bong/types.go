package bong

import (
	"context"
	"errors"
	"time"

	"bigben/internal/storage"
	"bigben/internal/transport"
)

// Callback payloads carried by bong message buttons.
const (
	// ControlPress is shared by every recipient's bong button.
	ControlPress = "bong:press"
	// ControlMedal marks the decorative medal buttons.
	ControlMedal = "bong:medal"
)

// Trigger sources.
const (
	SourceClock  = "clock"
	SourceManual = "manual"
)

var ErrLockTimeout = errors.New("bong: lock wait timed out")

// MessageKey identifies a sent bong. Telegram message ids are only unique per chat.
type MessageKey struct {
	ChatID    int64
	MessageID int
}

// Trigger is one logical hourly broadcast.
// A nil Scope means every enabled recipient; otherwise only that chat.
type Trigger struct {
	CycleID string
	At      time.Time
	Source  string
	Scope   *int64
}

// OpenMessage is a delivered bong that nobody has won yet.
type OpenMessage struct {
	Key         MessageKey
	RecipientID int64
	CreatedAt   time.Time
	Control     string
	Emoji       string
}

// Response is one press of a bong button.
type Response struct {
	Key      MessageKey
	UserID   int64
	UserName string
	Control  string
	// MessageAt is when the pressed message was sent; zero means unknown.
	MessageAt time.Time
	At        time.Time
}

// Outcome of a press.
type Outcome string

const (
	OutcomeWon            Outcome = "won"
	OutcomeNotFirst       Outcome = "not_first"
	OutcomeAlreadyHandled Outcome = "already_handled"
	OutcomeTooLate        Outcome = "too_late"
)

// Answer is the text shown to the presser.
func (o Outcome) Answer() string {
	switch o {
	case OutcomeWon:
		return "You were the first to press! 🎉"
	case OutcomeNotFirst:
		return "You weren't the first person to press the button :c"
	case OutcomeTooLate:
		return "You can't press a bong from the past :<"
	default:
		return "This bong has already been claimed :<"
	}
}

// Report summarizes one broadcast.
type Report struct {
	CycleID  string
	Source   string
	Text     string
	Total    int
	Sent     int
	Failed   int
	Disabled int
	Took     time.Duration
}

// Messenger delivers and edits bong messages.
type Messenger interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	EditKeyboard(ctx context.Context, ref transport.MessageRef, kb transport.Keyboard) error
}

// Directory resolves who gets the bong.
type Directory interface {
	ListRecipients(ctx context.Context) ([]storage.Recipient, error)
	GetRecipient(ctx context.Context, chatID int64) (storage.Recipient, error)
	DisableRecipient(ctx context.Context, chatID int64, reason string) error
}

// WinStore persists wins.
type WinStore interface {
	InsertWin(ctx context.Context, w storage.WinRecord) error
}
