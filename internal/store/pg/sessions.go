package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/chatqueue/internal/store"
)

// PGSessionStore implements store.SessionStore backed by the chat_sessions table.
// Counters are updated in SQL so concurrent workers never lose an increment.
type PGSessionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPGSessionStore(db *sql.DB) *PGSessionStore {
	return &PGSessionStore{db: db, now: time.Now}
}

func (s *PGSessionStore) Get(ctx context.Context, id string) (*store.SessionState, error) {
	if id == "" {
		return nil, store.ErrInvalidSessionID
	}
	var (
		st          = store.SessionState{ID: id}
		lastErrTime sql.NullTime
		rawContext  []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT error_count, last_error, last_error_time, context, created_at, updated_at
		 FROM chat_sessions WHERE session_id = $1`, id,
	).Scan(&st.ErrorCount, &st.LastError, &lastErrTime, &rawContext, &st.Created, &st.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NewSessionState(id, s.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if lastErrTime.Valid {
		st.LastErrorTime = lastErrTime.Time
	}
	st.Context = map[string]string{}
	if len(rawContext) > 0 {
		if err := json.Unmarshal(rawContext, &st.Context); err != nil {
			return nil, fmt.Errorf("decode session context %s: %w", id, err)
		}
	}
	return &st, nil
}

func (s *PGSessionStore) IncrementErrorCount(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, store.ErrInvalidSessionID
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_sessions (session_id, error_count) VALUES ($1, 1)
		 ON CONFLICT (session_id) DO UPDATE
		 SET error_count = chat_sessions.error_count + 1, updated_at = now()
		 RETURNING error_count`, id,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment error count %s: %w", id, err)
	}
	return n, nil
}

func (s *PGSessionStore) UpdateContext(ctx context.Context, id string, fields map[string]string) error {
	if id == "" {
		return store.ErrInvalidSessionID
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, context) VALUES ($1, $2::jsonb)
		 ON CONFLICT (session_id) DO UPDATE
		 SET context = chat_sessions.context || EXCLUDED.context, updated_at = now()`,
		id, string(patch),
	)
	if err != nil {
		return fmt.Errorf("update context %s: %w", id, err)
	}
	return nil
}

func (s *PGSessionStore) SetLastError(ctx context.Context, id, msg string, at time.Time) error {
	if id == "" {
		return store.ErrInvalidSessionID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, last_error, last_error_time) VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE
		 SET last_error = EXCLUDED.last_error, last_error_time = EXCLUDED.last_error_time, updated_at = now()`,
		id, msg, at,
	)
	if err != nil {
		return fmt.Errorf("set last error %s: %w", id, err)
	}
	return nil
}

func (s *PGSessionStore) Sweep(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PGSessionStore) Stats(ctx context.Context) (store.SessionStats, error) {
	var st store.SessionStats
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), count(*) FILTER (WHERE error_count > 0) FROM chat_sessions`,
	).Scan(&st.Total, &st.WithErrors)
	if err != nil {
		return st, fmt.Errorf("session stats: %w", err)
	}
	return st, nil
}

// Close is a no-op; the *sql.DB is shared with the queue and closed by its owner.
func (s *PGSessionStore) Close() error { return nil }
