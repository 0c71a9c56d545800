// Package sqlite stores session state in a local SQLite file for
// single-host deployments without Redis or Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/chatqueue/internal/dbmigrate"
	"github.com/nextlevelbuilder/chatqueue/internal/store"
)

// SessionStore implements store.SessionStore on the chat_sessions table.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open migrates and opens the database at path.
func Open(path string) (*SessionStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	m, err := dbmigrate.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := dbmigrate.Up(m); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	return &SessionStore{db: db, now: time.Now}, nil
}

func (s *SessionStore) nowMs() int64 { return s.now().UnixMilli() }

func (s *SessionStore) Get(ctx context.Context, id string) (*store.SessionState, error) {
	if id == "" {
		return nil, store.ErrInvalidSessionID
	}
	var (
		st                 = store.SessionState{ID: id, Context: map[string]string{}}
		lastErrTime        sql.NullInt64
		rawContext         string
		created, updatedMs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT error_count, last_error, last_error_time, context, created_at, updated_at
		 FROM chat_sessions WHERE session_id = ?`, id,
	).Scan(&st.ErrorCount, &st.LastError, &lastErrTime, &rawContext, &created, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NewSessionState(id, s.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	if lastErrTime.Valid {
		st.LastErrorTime = time.UnixMilli(lastErrTime.Int64)
	}
	st.Created = time.UnixMilli(created)
	st.Updated = time.UnixMilli(updatedMs)
	if rawContext != "" {
		if err := json.Unmarshal([]byte(rawContext), &st.Context); err != nil {
			return nil, fmt.Errorf("decode session context %s: %w", id, err)
		}
	}
	return &st, nil
}

func (s *SessionStore) IncrementErrorCount(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, store.ErrInvalidSessionID
	}
	now := s.nowMs()
	var n int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_sessions (session_id, error_count, created_at, updated_at) VALUES (?, 1, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE
		 SET error_count = chat_sessions.error_count + 1, updated_at = excluded.updated_at
		 RETURNING error_count`, id, now, now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment error count %s: %w", id, err)
	}
	return n, nil
}

func (s *SessionStore) UpdateContext(ctx context.Context, id string, fields map[string]string) error {
	if id == "" {
		return store.ErrInvalidSessionID
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	now := s.nowMs()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, context, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE
		 SET context = json_patch(chat_sessions.context, excluded.context), updated_at = excluded.updated_at`,
		id, string(patch), now, now,
	)
	if err != nil {
		return fmt.Errorf("update context %s: %w", id, err)
	}
	return nil
}

func (s *SessionStore) SetLastError(ctx context.Context, id, msg string, at time.Time) error {
	if id == "" {
		return store.ErrInvalidSessionID
	}
	now := s.nowMs()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, last_error, last_error_time, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE
		 SET last_error = excluded.last_error, last_error_time = excluded.last_error_time, updated_at = excluded.updated_at`,
		id, msg, at.UnixMilli(), now, now,
	)
	if err != nil {
		return fmt.Errorf("set last error %s: %w", id, err)
	}
	return nil
}

func (s *SessionStore) Sweep(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SessionStore) Stats(ctx context.Context) (store.SessionStats, error) {
	var st store.SessionStats
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(SUM(CASE WHEN error_count > 0 THEN 1 ELSE 0 END), 0) FROM chat_sessions`,
	).Scan(&st.Total, &st.WithErrors)
	if err != nil {
		return st, fmt.Errorf("session stats: %w", err)
	}
	return st, nil
}

func (s *SessionStore) Close() error { return s.db.Close() }
