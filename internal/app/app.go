// Package app wires configured backends into the components the gateway
// and worker processes run.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/chatqueue/internal/channels"
	"github.com/nextlevelbuilder/chatqueue/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/chatqueue/internal/config"
	"github.com/nextlevelbuilder/chatqueue/internal/dbmigrate"
	"github.com/nextlevelbuilder/chatqueue/internal/fallback"
	"github.com/nextlevelbuilder/chatqueue/internal/ingress"
	"github.com/nextlevelbuilder/chatqueue/internal/orchestrator"
	"github.com/nextlevelbuilder/chatqueue/internal/queue"
	"github.com/nextlevelbuilder/chatqueue/internal/ratelimit"
	"github.com/nextlevelbuilder/chatqueue/internal/sessions"
	"github.com/nextlevelbuilder/chatqueue/internal/store"
	"github.com/nextlevelbuilder/chatqueue/internal/store/pg"
	"github.com/nextlevelbuilder/chatqueue/internal/store/redisstore"
	"github.com/nextlevelbuilder/chatqueue/internal/store/sqlite"
	"github.com/nextlevelbuilder/chatqueue/internal/worker"
)

// KeyPrefix namespaces every Redis key except the queue list.
const KeyPrefix = "chatqueue"

// App owns the shared connections. Close releases them in reverse order.
type App struct {
	Config   *config.Config
	Redis    redis.UniversalClient
	DB       *sql.DB
	Sessions store.SessionStore
	Limiter  ratelimit.Limiter

	closers []func() error
}

// Open connects the backends the config selects and builds the session
// store and rate limiter. Postgres schema migrations run on open.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.NeedsRedis() {
		client, err := NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.Redis = client
		a.onClose(client.Close)
	}

	if cfg.NeedsPostgres() {
		if _, err := migratePostgres(cfg.Database.PostgresDSN); err != nil {
			a.Close()
			return nil, err
		}
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.DB = db
		a.onClose(db.Close)
	}

	sess, err := a.openSessions()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Sessions = sess
	a.onClose(sess.Close)

	switch cfg.RateLimit.Backend {
	case "redis":
		a.Limiter = ratelimit.NewRedis(a.Redis, KeyPrefix+":ratelimit", cfg.RateLimitWindow(), cfg.RateLimit.Capacity)
	default:
		a.Limiter = ratelimit.NewMemory(cfg.RateLimitWindow(), cfg.RateLimit.Capacity)
	}
	return a, nil
}

// NewRedisClient parses a redis:// URL and returns a client. An empty URL
// means a local server.
func NewRedisClient(url string) (*redis.Client, error) {
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func migratePostgres(dsn string) (uint, error) {
	m, err := dbmigrate.NewPostgres(dsn)
	if err != nil {
		return 0, err
	}
	v, err := dbmigrate.Up(m)
	if err != nil {
		return v, err
	}
	slog.Info("postgres schema ready", "version", v)
	return v, nil
}

func (a *App) openSessions() (store.SessionStore, error) {
	cfg := a.Config
	switch cfg.Sessions.Backend {
	case "redis":
		return redisstore.NewSessionStore(a.Redis, KeyPrefix), nil
	case "postgres":
		return pg.NewPGSessionStore(a.DB), nil
	case "sqlite":
		return sqlite.Open(config.ExpandHome(cfg.Database.SQLitePath))
	case "file":
		return sessions.NewManager(config.ExpandHome(cfg.Sessions.Dir)), nil
	default:
		return sessions.NewManager(""), nil
	}
}

// OpenQueue builds the configured queue and checks it answers.
func (a *App) OpenQueue(ctx context.Context) (queue.Queue, error) {
	cfg := a.Config
	var q queue.Queue
	switch cfg.Queue.Backend {
	case "memory":
		q = queue.NewMemory()
	case "postgres":
		pgq, err := queue.NewPostgres(a.DB, queue.PostgresOptions{
			Name:         cfg.Queue.Name,
			Reliable:     cfg.Queue.Reliable,
			Visibility:   cfg.VisibilityTimeout(),
			PollInterval: time.Duration(cfg.Queue.PostgresPollIntervalMsec) * time.Millisecond,
			ListenDSN:    cfg.Database.PostgresDSN,
		})
		if err != nil {
			return nil, err
		}
		q = pgq
	default:
		q = queue.NewRedis(a.Redis, queue.RedisOptions{
			Name:       cfg.Queue.Name,
			Reliable:   cfg.Queue.Reliable,
			Visibility: cfg.VisibilityTimeout(),
		})
	}

	if p, ok := q.(queue.Pinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			_ = q.Close()
			return nil, err
		}
	}
	a.onClose(q.Close)
	slog.Info("queue connected", "backend", cfg.Queue.Backend, "name", cfg.Queue.Name, "reliable", cfg.Queue.Reliable)
	return q, nil
}

// Sender is an outbound channel that may need starting.
type Sender interface {
	channels.Sender
	Start(ctx context.Context) error
}

type cloudSender struct{ *whatsapp.CloudSender }

func (cloudSender) Start(context.Context) error { return nil }

// NewSender builds the configured outbound sender. onMessage receives
// user messages read from the bridge; it is unused in cloud mode.
func (a *App) NewSender(onMessage whatsapp.InboundHandler) (Sender, error) {
	wa := a.Config.Channels.WhatsApp
	if wa.Mode == "bridge" {
		b, err := whatsapp.NewBridgeSender(wa.BridgeURL, onMessage)
		if err != nil {
			return nil, err
		}
		a.onClose(b.Stop)
		return b, nil
	}
	c, err := whatsapp.NewCloudSender(wa)
	if err != nil {
		return nil, err
	}
	return cloudSender{c}, nil
}

// NewDeduper returns the inbound deduplicator, or nil when disabled.
func (a *App) NewDeduper() ingress.Deduper {
	cfg := a.Config
	if cfg.DedupeTTL() <= 0 {
		return nil
	}
	if a.Redis != nil && cfg.RateLimit.Backend == "redis" {
		return ingress.NewRedisDeduper(a.Redis, KeyPrefix, cfg.DedupeTTL())
	}
	return ingress.NewMemoryDeduper(cfg.DedupeTTL(), cfg.Ingress.DedupeMax)
}

// NewFallback builds the fallback manager and, when a responses file is
// configured, starts watching it.
func (a *App) NewFallback(ctx context.Context) (*fallback.Manager, error) {
	cfg := a.Config.Fallback
	m := fallback.NewManager(a.Sessions, fallback.Options{
		Selector:        fallback.NewSelector(cfg.Selection),
		GlobalThreshold: cfg.GlobalThreshold,
		AgentThreshold:  cfg.AgentThreshold,
	})
	if cfg.ResponsesFile != "" {
		if err := fallback.Watch(ctx, m, config.ExpandHome(cfg.ResponsesFile)); err != nil {
			return nil, fmt.Errorf("fallback responses: %w", err)
		}
	}
	return m, nil
}

// NewPool builds the consumer pool on q: orchestrator, fallback manager,
// lease reclaimer (reliable queues) and retention sweeper. concurrency <= 0
// means worker.concurrency.
func (a *App) NewPool(ctx context.Context, q queue.Queue, sender channels.Sender, concurrency int) (*worker.Pool, error) {
	cfg := a.Config
	if concurrency <= 0 {
		concurrency = cfg.Worker.Concurrency
	}

	orch, err := orchestrator.New(cfg.Orchestrator, a.Sessions)
	if err != nil {
		return nil, err
	}
	fb, err := a.NewFallback(ctx)
	if err != nil {
		return nil, err
	}

	pool := worker.NewPool(concurrency, worker.Options{
		Queue:               q,
		Orchestrator:        orch,
		Fallback:            fb,
		Sender:              sender,
		PopTimeout:          cfg.PopTimeout(),
		OrchestratorTimeout: cfg.OrchestratorTimeout(),
		MaxReplyChars:       cfg.Worker.MaxReplyChars,
		TruncateAt:          cfg.Worker.TruncateReplyAt,
	})
	if r, ok := q.(queue.Reclaimer); ok && cfg.Queue.Reliable {
		pool.WithReclaimer(r, cfg.ReclaimInterval())
	}
	sweeper, err := a.NewSweeper()
	if err != nil {
		return nil, err
	}
	if sweeper != nil {
		pool.WithSweeper(sweeper)
	}
	return pool, nil
}

// NewSweeper returns the retention sweeper, or nil when disabled.
func (a *App) NewSweeper() (*store.Sweeper, error) {
	cfg := a.Config
	if cfg.Sessions.SweepSchedule == "" || cfg.SessionRetention() <= 0 {
		return nil, nil
	}
	return store.NewSweeper(a.Sessions, cfg.Sessions.SweepSchedule, cfg.SessionRetention())
}

func (a *App) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close releases everything Open and the constructors acquired.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
