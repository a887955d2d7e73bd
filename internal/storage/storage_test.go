package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "bigben/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bigben.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	t.Cleanup(func() {
		_ = sq.Close()
		_ = mem.Close()
	})
	return map[string]Store{"sqlite": sq, "memory": mem}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestRecipients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := st.GetRecipient(ctx, 1); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			r := Recipient{ChatID: -100, ThreadID: 5, Title: "Clock Tower", Emoji: "🔔", Enabled: true,
				Overrides: map[string]string{"12-25": "Ho ho"}}
			if err := st.UpsertRecipient(ctx, r); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if err := st.UpsertRecipient(ctx, Recipient{ChatID: -200, Enabled: true}); err != nil {
				t.Fatalf("upsert: %v", err)
			}

			got, err := st.GetRecipient(ctx, -100)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.ThreadID != 5 || got.Emoji != "🔔" || got.Overrides["12-25"] != "Ho ho" || !got.Enabled {
				t.Fatalf("unexpected recipient: %+v", got)
			}

			if err := st.DisableRecipient(ctx, -200, "chat not found"); err != nil {
				t.Fatalf("disable: %v", err)
			}
			if err := st.DisableRecipient(ctx, -300, "x"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound for unknown recipient, got %v", err)
			}

			list, err := st.ListRecipients(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("expected 2 recipients, got %d", len(list))
			}
			// ordered by chat id
			if list[0].ChatID != -200 || list[0].Enabled || list[0].DisabledReason != "chat not found" {
				t.Fatalf("unexpected disabled recipient: %+v", list[0])
			}
		})
	}
}

func TestInsertWinRejectsDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			w := WinRecord{ChatID: -100, MessageID: 7, UserID: 1, Username: "alice", At: now, MessageAt: now.Add(-2 * time.Second)}
			if err := st.InsertWin(ctx, w); err != nil {
				t.Fatalf("insert: %v", err)
			}
			w.UserID = 2
			if err := st.InsertWin(ctx, w); !errors.Is(err, ErrDuplicateWin) {
				t.Fatalf("expected ErrDuplicateWin, got %v", err)
			}
			// same message id in another chat is a different message
			w.ChatID = -200
			if err := st.InsertWin(ctx, w); err != nil {
				t.Fatalf("insert other chat: %v", err)
			}

			wins, err := st.QueryWins(ctx, WinQuery{ChatID: -100})
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(wins) != 1 || wins[0].UserID != 1 || wins[0].ReactionTime() != 2*time.Second {
				t.Fatalf("unexpected wins: %+v", wins)
			}
		})
	}
}

func TestInsertWinConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			var (
				wg sync.WaitGroup
				ok atomic.Int32
			)
			for i := range 20 {
				wg.Add(1)
				go func(uid int64) {
					defer wg.Done()
					err := st.InsertWin(ctx, WinRecord{ChatID: 1, MessageID: 1, UserID: uid, At: time.Now(), MessageAt: time.Now()})
					if err == nil {
						ok.Add(1)
					}
				}(int64(i + 1))
			}
			wg.Wait()
			if ok.Load() != 1 {
				t.Fatalf("expected exactly one insert to succeed, got %d", ok.Load())
			}
		})
	}
}

func TestLeaderboard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			add := func(msg int, uid int64, user string, reaction time.Duration) {
				t.Helper()
				msgAt := base.Add(time.Duration(msg) * time.Hour)
				if err := st.InsertWin(ctx, WinRecord{ChatID: 9, MessageID: msg, UserID: uid, Username: user, At: msgAt.Add(reaction), MessageAt: msgAt}); err != nil {
					t.Fatalf("insert: %v", err)
				}
			}
			add(1, 10, "bob", 4*time.Second)
			add(2, 10, "bob", 2*time.Second)
			add(3, 20, "carol", time.Second)
			add(4, 30, "dave", 500*time.Millisecond)
			if err := st.InsertWin(ctx, WinRecord{ChatID: 99, MessageID: 1, UserID: 30, At: base, MessageAt: base}); err != nil {
				t.Fatalf("insert other chat: %v", err)
			}

			lb, err := st.Leaderboard(ctx, 9, 10)
			if err != nil {
				t.Fatalf("leaderboard: %v", err)
			}
			if len(lb) != 3 {
				t.Fatalf("expected 3 entries, got %+v", lb)
			}
			if lb[0].UserID != 10 || lb[0].Wins != 2 || lb[0].AvgReaction != 3*time.Second {
				t.Fatalf("unexpected leader: %+v", lb[0])
			}
			// equal wins: faster average first
			if lb[1].UserID != 30 || lb[2].UserID != 20 {
				t.Fatalf("unexpected tie order: %+v", lb)
			}

			top, err := st.Leaderboard(ctx, 9, 1)
			if err != nil || len(top) != 1 {
				t.Fatalf("limit not applied: %+v %v", top, err)
			}
		})
	}
}
