package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"
)

type winKey struct {
	chatID    int64
	messageID int
}

// memoryStore keeps everything in maps guarded by one mutex.
type memoryStore struct {
	mu         sync.Mutex
	recipients map[int64]Recipient
	wins       []WinRecord
	winIndex   map[winKey]struct{}
}

func NewMemory() Store {
	return &memoryStore{
		recipients: map[int64]Recipient{},
		winIndex:   map[winKey]struct{}{},
	}
}

func (s *memoryStore) Close() error { return nil }

func cloneRecipient(r Recipient) Recipient {
	if r.Overrides != nil {
		r.Overrides = maps.Clone(r.Overrides)
	}
	return r
}

func (s *memoryStore) ListRecipients(ctx context.Context) ([]Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Recipient, 0, len(s.recipients))
	for _, r := range s.recipients {
		out = append(out, cloneRecipient(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *memoryStore) GetRecipient(ctx context.Context, chatID int64) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[chatID]
	if !ok {
		return Recipient{}, ErrNotFound
	}
	return cloneRecipient(r), nil
}

func (s *memoryStore) UpsertRecipient(ctx context.Context, r Recipient) error {
	if r.ChatID == 0 {
		return errors.New("recipient chat id is required")
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	s.recipients[r.ChatID] = cloneRecipient(r)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) DisableRecipient(ctx context.Context, chatID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[chatID]
	if !ok {
		return ErrNotFound
	}
	r.Enabled = false
	r.DisabledReason = reason
	r.UpdatedAt = time.Now()
	s.recipients[chatID] = r
	return nil
}

func (s *memoryStore) InsertWin(ctx context.Context, w WinRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := winKey{chatID: w.ChatID, messageID: w.MessageID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.winIndex[k]; dup {
		return fmt.Errorf("%w: chat=%d message=%d", ErrDuplicateWin, w.ChatID, w.MessageID)
	}
	s.winIndex[k] = struct{}{}
	s.wins = append(s.wins, w)
	return nil
}

func (s *memoryStore) QueryWins(ctx context.Context, q WinQuery) ([]WinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WinRecord
	for _, w := range s.wins {
		if q.ChatID != 0 && w.ChatID != q.ChatID {
			continue
		}
		if q.UserID != 0 && w.UserID != q.UserID {
			continue
		}
		if !q.Since.IsZero() && w.At.Before(q.Since) {
			continue
		}
		out = append(out, w)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memoryStore) Leaderboard(ctx context.Context, chatID int64, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	type acc struct {
		entry LeaderboardEntry
		total time.Duration
	}
	s.mu.Lock()
	byUser := map[int64]*acc{}
	for _, w := range s.wins {
		if w.ChatID != chatID {
			continue
		}
		a := byUser[w.UserID]
		if a == nil {
			a = &acc{entry: LeaderboardEntry{UserID: w.UserID}}
			byUser[w.UserID] = a
		}
		if w.Username > a.entry.Username {
			a.entry.Username = w.Username
		}
		a.entry.Wins++
		a.total += w.At.Sub(w.MessageAt)
	}
	s.mu.Unlock()

	out := make([]LeaderboardEntry, 0, len(byUser))
	for _, a := range byUser {
		e := a.entry
		if avg := a.total / time.Duration(e.Wins); avg > 0 {
			e.AvgReaction = avg
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		if out[i].AvgReaction != out[j].AvgReaction {
			return out[i].AvgReaction < out[j].AvgReaction
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
