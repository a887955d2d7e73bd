package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled     = errors.New("storage disabled")
	ErrNotFound     = errors.New("storage: not found")
	ErrDuplicateWin = errors.New("storage: win already recorded for message")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process maps (nothing survives a restart)
//
// An empty Driver means "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Recipient is one chat (optionally a forum thread) that receives the hourly bong.
type Recipient struct {
	ChatID   int64
	ThreadID int
	Title    string
	// Emoji labels the bong button; empty falls back to the broadcast default.
	Emoji string
	// Overrides maps "MM-DD" to a text that replaces the calendar entry for this chat.
	Overrides      map[string]string
	Enabled        bool
	DisabledReason string
	UpdatedAt      time.Time
}

// WinRecord is the ledger entry for one resolved bong message.
type WinRecord struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	At        time.Time // when the winning press was received
	MessageAt time.Time // when the bong message was sent
}

// ReactionTime is how long the winner took to press.
func (w WinRecord) ReactionTime() time.Duration {
	if w.MessageAt.IsZero() || w.At.Before(w.MessageAt) {
		return 0
	}
	return w.At.Sub(w.MessageAt)
}

// WinQuery filters QueryWins. Zero fields match everything.
type WinQuery struct {
	ChatID int64
	UserID int64
	Since  time.Time
	Limit  int
}

type LeaderboardEntry struct {
	UserID      int64
	Username    string
	Wins        int
	AvgReaction time.Duration
}

// Store is the persistence API used by the bong engine and chat commands.
type Store interface {
	ListRecipients(ctx context.Context) ([]Recipient, error)
	GetRecipient(ctx context.Context, chatID int64) (Recipient, error)
	UpsertRecipient(ctx context.Context, r Recipient) error
	DisableRecipient(ctx context.Context, chatID int64, reason string) error

	InsertWin(ctx context.Context, w WinRecord) error
	QueryWins(ctx context.Context, q WinQuery) ([]WinRecord, error)
	Leaderboard(ctx context.Context, chatID int64, limit int) ([]LeaderboardEntry, error)

	Close() error
}
