package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
)

const notifyChannel = "chat_jobs"

// PostgresOptions tunes a PostgresQueue.
type PostgresOptions struct {
	Name       string
	Reliable   bool
	Visibility time.Duration
	// PollInterval bounds how long a Pop sleeps between claims when no
	// NOTIFY arrives (listener down or disabled).
	PollInterval time.Duration
	// ListenDSN enables LISTEN/NOTIFY wakeups. Empty: poll only.
	ListenDSN string
}

// PostgresQueue implements Queue on the chat_jobs table. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never take the same row.
type PostgresQueue struct {
	db         *sql.DB
	name       string
	reliable   bool
	visibility time.Duration
	poll       time.Duration

	listener  *pq.Listener
	wake      *broadcaster
	done      chan struct{}
	closeOnce sync.Once
}

// NewPostgres creates a queue on an open database. Schema comes from the
// embedded migrations.
func NewPostgres(db *sql.DB, opts PostgresOptions) (*PostgresQueue, error) {
	if opts.Visibility <= 0 {
		opts.Visibility = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	q := &PostgresQueue{
		db:         db,
		name:       opts.Name,
		reliable:   opts.Reliable,
		visibility: opts.Visibility,
		poll:       opts.PollInterval,
		wake:       newBroadcaster(),
		done:       make(chan struct{}),
	}

	if opts.ListenDSN != "" {
		l := pq.NewListener(opts.ListenDSN, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("queue listener event", "event", ev, "error", err)
			}
		})
		if err := l.Listen(notifyChannel); err != nil {
			_ = l.Close()
			return nil, unavailable("listen", err)
		}
		q.listener = l
		go q.forwardNotifications()
	}
	return q, nil
}

func (q *PostgresQueue) forwardNotifications() {
	for {
		select {
		case <-q.done:
			return
		case n, ok := <-q.listener.Notify:
			if !ok {
				return
			}
			// nil means the connection was re-established; wake anyway.
			if n == nil || n.Extra == q.name {
				q.wake.notify()
			}
		}
	}
}

func (q *PostgresQueue) Push(ctx context.Context, payload []byte) error {
	_, err := q.db.ExecContext(ctx,
		`WITH ins AS (
			INSERT INTO chat_jobs (queue, payload) VALUES ($1, $2) RETURNING id
		)
		SELECT pg_notify($3, $1) FROM ins`,
		q.name, payload, notifyChannel,
	)
	if err != nil {
		return unavailable("insert", err)
	}
	return nil
}

func (q *PostgresQueue) Pop(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	expired, stop := deadline(timeout)
	defer stop()

	for {
		wake := q.wake.wait()

		d, err := q.claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if d != nil {
			return d, nil
		}

		poll := time.NewTimer(q.poll)
		select {
		case <-wake:
		case <-poll.C:
		case <-expired:
			poll.Stop()
			return nil, nil
		case <-ctx.Done():
			poll.Stop()
			return nil, ctx.Err()
		case <-q.done:
			poll.Stop()
			return nil, ErrClosed
		}
		poll.Stop()
	}
}

func (q *PostgresQueue) claim(ctx context.Context) (*Delivery, error) {
	var (
		id      int64
		payload []byte
		row     *sql.Row
	)
	if q.reliable {
		row = q.db.QueryRowContext(ctx,
			`UPDATE chat_jobs SET leased_until = now() + make_interval(secs => $2)
			 WHERE id = (
				SELECT id FROM chat_jobs
				WHERE queue = $1 AND leased_until IS NULL
				ORDER BY id
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			 )
			 RETURNING id, payload`,
			q.name, q.visibility.Seconds(),
		)
	} else {
		row = q.db.QueryRowContext(ctx,
			`DELETE FROM chat_jobs
			 WHERE id = (
				SELECT id FROM chat_jobs
				WHERE queue = $1 AND leased_until IS NULL
				ORDER BY id
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			 )
			 RETURNING id, payload`,
			q.name,
		)
	}

	if err := row.Scan(&id, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("claim", err)
	}

	d := &Delivery{Payload: payload}
	if q.reliable {
		d.Receipt = strconv.FormatInt(id, 10)
	}
	return d, nil
}

func (q *PostgresQueue) Ack(ctx context.Context, d *Delivery) error {
	if !q.reliable || d == nil || d.Receipt == "" {
		return nil
	}
	id, err := strconv.ParseInt(d.Receipt, 10, 64)
	if err != nil {
		return fmt.Errorf("ack: bad receipt %q: %w", d.Receipt, err)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM chat_jobs WHERE id = $1`, id); err != nil {
		return unavailable("ack", err)
	}
	return nil
}

// Reclaim clears leases that expired before now so the rows can be claimed again.
func (q *PostgresQueue) Reclaim(ctx context.Context, now time.Time) (int, error) {
	if !q.reliable {
		return 0, nil
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE chat_jobs SET leased_until = NULL
		 WHERE queue = $1 AND leased_until IS NOT NULL AND leased_until < $2`,
		q.name, now,
	)
	if err != nil {
		return 0, unavailable("reclaim", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.wake.notify()
	}
	return int(n), nil
}

func (q *PostgresQueue) Len(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT count(*) FROM chat_jobs WHERE queue = $1 AND leased_until IS NULL`, q.name,
	).Scan(&n)
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func (q *PostgresQueue) Ping(ctx context.Context) error {
	if err := q.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close stops the listener and wakes blocked Pop calls. The *sql.DB is
// owned by the caller.
func (q *PostgresQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		if q.listener != nil {
			err = q.listener.Close()
		}
	})
	return err
}
