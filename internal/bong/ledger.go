package bong

import (
	"context"
	"fmt"
	"time"

	"bigben/internal/storage"
)

const defaultLedgerTimeout = 5 * time.Second

// Ledger writes one win record per resolved message. Safe for concurrent use.
type Ledger struct {
	store   WinStore
	timeout time.Duration
}

func NewLedger(store WinStore, timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = defaultLedgerTimeout
	}
	return &Ledger{store: store, timeout: timeout}
}

// Write inserts w with a single store call bounded by the ledger timeout. No retries.
func (l *Ledger) Write(ctx context.Context, w storage.WinRecord) error {
	if l == nil || l.store == nil {
		return storage.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.store.InsertWin(ctx, w); err != nil {
		return fmt.Errorf("ledger write chat=%d message=%d: %w", w.ChatID, w.MessageID, err)
	}
	return nil
}
