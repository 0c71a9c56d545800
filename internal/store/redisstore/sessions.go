// Package redisstore keeps session state in Redis hashes so every gateway
// and worker process shares one view.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/chatqueue/internal/store"
)

const (
	fieldErrorCount    = "error_count"
	fieldLastError     = "last_error"
	fieldLastErrorTime = "last_error_time"
	fieldCreated       = "created"
	fieldUpdated       = "updated"
	contextPrefix      = "ctx:"
)

// sweepScript removes idle sessions and their index entries atomically.
// KEYS: index zset, errors set. ARGV: cutoff ms, hash key prefix.
var sweepScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
  redis.call('DEL', ARGV[2] .. id)
  redis.call('ZREM', KEYS[1], id)
  redis.call('SREM', KEYS[2], id)
end
return #ids
`)

// SessionStore implements store.SessionStore on Redis.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewSessionStore creates a store keeping keys under prefix.
func NewSessionStore(client redis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "chatqueue"
	}
	return &SessionStore{client: client, prefix: prefix, now: time.Now}
}

func (s *SessionStore) hashPrefix() string   { return s.prefix + ":session:" }
func (s *SessionStore) key(id string) string { return s.hashPrefix() + id }
func (s *SessionStore) indexKey() string     { return s.prefix + ":sessions" }
func (s *SessionStore) errorsKey() string    { return s.prefix + ":sessions:errors" }

// touch queues the bookkeeping every mutation shares.
func (s *SessionStore) touch(ctx context.Context, p redis.Pipeliner, id string, nowMs int64) {
	p.HSetNX(ctx, s.key(id), fieldCreated, nowMs)
	p.HSet(ctx, s.key(id), fieldUpdated, nowMs)
	p.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(nowMs), Member: id})
}

func (s *SessionStore) Get(ctx context.Context, id string) (*store.SessionState, error) {
	if id == "" {
		return nil, store.ErrInvalidSessionID
	}
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if len(fields) == 0 {
		return store.NewSessionState(id, s.now()), nil
	}
	return decodeSession(id, fields), nil
}

func decodeSession(id string, fields map[string]string) *store.SessionState {
	st := &store.SessionState{ID: id, Context: map[string]string{}}
	for k, v := range fields {
		switch {
		case k == fieldErrorCount:
			st.ErrorCount, _ = strconv.Atoi(v)
		case k == fieldLastError:
			st.LastError = v
		case k == fieldLastErrorTime:
			st.LastErrorTime = parseMillis(v)
		case k == fieldCreated:
			st.Created = parseMillis(v)
		case k == fieldUpdated:
			st.Updated = parseMillis(v)
		case strings.HasPrefix(k, contextPrefix):
			st.Context[strings.TrimPrefix(k, contextPrefix)] = v
		}
	}
	return st
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *SessionStore) IncrementErrorCount(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, store.ErrInvalidSessionID
	}
	now := s.now().UnixMilli()
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.HIncrBy(ctx, s.key(id), fieldErrorCount, 1)
		s.touch(ctx, p, id, now)
		p.SAdd(ctx, s.errorsKey(), id)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment error count %s: %w", id, err)
	}
	return int(incr.Val()), nil
}

func (s *SessionStore) UpdateContext(ctx context.Context, id string, fields map[string]string) error {
	if id == "" {
		return store.ErrInvalidSessionID
	}
	if len(fields) == 0 {
		return nil
	}
	values := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, contextPrefix+k, v)
	}
	now := s.now().UnixMilli()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key(id), values...)
		s.touch(ctx, p, id, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update context %s: %w", id, err)
	}
	return nil
}

func (s *SessionStore) SetLastError(ctx context.Context, id, msg string, at time.Time) error {
	if id == "" {
		return store.ErrInvalidSessionID
	}
	now := s.now().UnixMilli()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key(id), fieldLastError, msg, fieldLastErrorTime, at.UnixMilli())
		s.touch(ctx, p, id, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set last error %s: %w", id, err)
	}
	return nil
}

func (s *SessionStore) Sweep(ctx context.Context, before time.Time) (int, error) {
	n, err := sweepScript.Run(ctx, s.client,
		[]string{s.indexKey(), s.errorsKey()},
		before.UnixMilli(), s.hashPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return n, nil
}

func (s *SessionStore) Stats(ctx context.Context) (store.SessionStats, error) {
	pipe := s.client.Pipeline()
	total := pipe.ZCard(ctx, s.indexKey())
	withErrors := pipe.SCard(ctx, s.errorsKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return store.SessionStats{}, fmt.Errorf("session stats: %w", err)
	}
	return store.SessionStats{Total: int(total.Val()), WithErrors: int(withErrors.Val())}, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (s *SessionStore) Close() error { return nil }
