package transport

import (
	"context"
	"errors"
	"time"
)

// ErrRecipientGone marks a delivery failure caused by the chat being unreachable
// for good (chat deleted, bot kicked or blocked, no right to post).
var ErrRecipientGone = errors.New("transport: recipient gone")

// ErrNotModified is returned by edits that would leave the message unchanged.
var ErrNotModified = errors.New("transport: message is not modified")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	ChatTitle    string
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
	SentAt       time.Time
}

type Callback struct {
	ID        string
	FromID    int64
	FromName  string
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
	// MessageAt is when the message carrying the pressed button was sent.
	MessageAt time.Time
	// Keyboard is the inline keyboard currently attached to that message.
	Keyboard Keyboard
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
	SentAt    time.Time
}

// Button is one inline button. Data is the callback payload.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard, one slice per row.
type Keyboard [][]Button

// Equal reports whether two keyboards render identically.
func (k Keyboard) Equal(o Keyboard) bool {
	if len(k) != len(o) {
		return false
	}
	for i := range k {
		if len(k[i]) != len(o[i]) {
			return false
		}
		for j := range k[i] {
			if k[i][j] != o[i][j] {
				return false
			}
		}
	}
	return true
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
	Keyboard       Keyboard
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditKeyboard(ctx context.Context, ref MessageRef, kb Keyboard) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
