package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "bigben/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const recipientCols = `chat_id, thread_id, title, emoji, override_json, enabled, disabled_reason, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(sc rowScanner) (Recipient, error) {
	var (
		r                                      Recipient
		title, emoji, overrides, disabledReason sql.NullString
		enabled                                int
		updated                                int64
	)
	if err := sc.Scan(&r.ChatID, &r.ThreadID, &title, &emoji, &overrides, &enabled, &disabledReason, &updated); err != nil {
		return Recipient{}, err
	}
	r.Title = title.String
	r.Emoji = emoji.String
	r.Enabled = enabled != 0
	r.DisabledReason = disabledReason.String
	r.UpdatedAt = time.UnixMilli(updated)
	if overrides.Valid && overrides.String != "" {
		if err := json.Unmarshal([]byte(overrides.String), &r.Overrides); err != nil {
			return Recipient{}, fmt.Errorf("recipient %d overrides: %w", r.ChatID, err)
		}
	}
	return r, nil
}

func (s *sqliteStore) ListRecipients(ctx context.Context) ([]Recipient, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+recipientCols+` FROM recipients ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetRecipient(ctx context.Context, chatID int64) (Recipient, error) {
	if s == nil || s.db == nil {
		return Recipient{}, ErrDisabled
	}
	r, err := scanRecipient(s.db.QueryRowContext(ctx, `SELECT `+recipientCols+` FROM recipients WHERE chat_id = ?`, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return Recipient{}, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) UpsertRecipient(ctx context.Context, r Recipient) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.ChatID == 0 {
		return errors.New("recipient chat id is required")
	}
	var overrides any
	if len(r.Overrides) > 0 {
		b, err := json.Marshal(r.Overrides)
		if err != nil {
			return err
		}
		overrides = string(b)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(`+recipientCols+`) VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   thread_id=excluded.thread_id, title=excluded.title, emoji=excluded.emoji,
		   override_json=excluded.override_json, enabled=excluded.enabled,
		   disabled_reason=excluded.disabled_reason, updated_at=excluded.updated_at`,
		r.ChatID, r.ThreadID, nullStr(r.Title), nullStr(r.Emoji), overrides, enabled, nullStr(r.DisabledReason), r.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DisableRecipient(ctx context.Context, chatID int64, reason string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET enabled = 0, disabled_reason = ?, updated_at = ? WHERE chat_id = ?`,
		nullStr(reason), time.Now().UnixMilli(), chatID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) InsertWin(ctx context.Context, w WinRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bong_log(chat_id, message_id, user_id, username, timestamp, message_timestamp)
		 VALUES(?,?,?,?,?,?)`,
		w.ChatID, w.MessageID, w.UserID, nullStr(w.Username), w.At.UnixMilli(), w.MessageAt.UnixMilli(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: chat=%d message=%d", ErrDuplicateWin, w.ChatID, w.MessageID)
	}
	return err
}

func (s *sqliteStore) QueryWins(ctx context.Context, q WinQuery) ([]WinRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var (
		where []string
		args  []any
	)
	if q.ChatID != 0 {
		where = append(where, "chat_id = ?")
		args = append(args, q.ChatID)
	}
	if q.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if !q.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	query := `SELECT chat_id, message_id, user_id, username, timestamp, message_timestamp FROM bong_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WinRecord
	for rows.Next() {
		var (
			w        WinRecord
			username sql.NullString
			at, msg  int64
		)
		if err := rows.Scan(&w.ChatID, &w.MessageID, &w.UserID, &username, &at, &msg); err != nil {
			return nil, err
		}
		w.Username = username.String
		w.At = time.UnixMilli(at)
		w.MessageAt = time.UnixMilli(msg)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Leaderboard(ctx context.Context, chatID int64, limit int) ([]LeaderboardEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, MAX(username), COUNT(*) AS wins, AVG(timestamp - message_timestamp) AS avg_ms
		 FROM bong_log WHERE chat_id = ?
		 GROUP BY user_id
		 ORDER BY wins DESC, avg_ms ASC, user_id ASC
		 LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaderboardEntry
	for rows.Next() {
		var (
			e        LeaderboardEntry
			username sql.NullString
			avgMS    sql.NullFloat64
		)
		if err := rows.Scan(&e.UserID, &username, &e.Wins, &avgMS); err != nil {
			return nil, err
		}
		e.Username = username.String
		if avgMS.Valid && avgMS.Float64 > 0 {
			e.AvgReaction = time.Duration(avgMS.Float64 * float64(time.Millisecond))
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
