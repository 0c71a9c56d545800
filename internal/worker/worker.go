// Package worker consumes queued jobs, asks the orchestrator for a reply
// and delivers it, degrading to canned replies on failure.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/chatqueue/internal/bus"
	"github.com/nextlevelbuilder/chatqueue/internal/channels"
	"github.com/nextlevelbuilder/chatqueue/internal/fallback"
	"github.com/nextlevelbuilder/chatqueue/internal/orchestrator"
	"github.com/nextlevelbuilder/chatqueue/internal/queue"
)

// UnexpectedErrorReply is sent when handling a job fails outside the
// orchestrator path.
const UnexpectedErrorReply = "I'm sorry, an unexpected error occurred while processing your request. Please try again."

// Defaults for Options zero values.
const (
	DefaultPopTimeout    = 5 * time.Second
	DefaultMaxReplyChars = 4096
	DefaultTruncateAt    = 4090
)

// Outcome records how a job ended.
type Outcome string

const (
	Replied   Outcome = "replied"
	Fallback  Outcome = "fallback"
	Malformed Outcome = "malformed"
	Recovered Outcome = "recovered"
)

// Options wires a Worker.
type Options struct {
	Name                string
	Queue               queue.Queue
	Orchestrator        orchestrator.Orchestrator
	Fallback            *fallback.Manager
	Sender              channels.Sender
	PopTimeout          time.Duration
	OrchestratorTimeout time.Duration // 0 = no deadline
	MaxReplyChars       int
	TruncateAt          int
}

// Worker processes one job at a time.
type Worker struct {
	name       string
	queue      queue.Queue
	orch       orchestrator.Orchestrator
	fallback   *fallback.Manager
	sender     channels.Sender
	popTimeout time.Duration
	orchTO     time.Duration
	maxReply   int
	truncateAt int
	log        *slog.Logger
}

func New(opts Options) *Worker {
	w := &Worker{
		name:       opts.Name,
		queue:      opts.Queue,
		orch:       opts.Orchestrator,
		fallback:   opts.Fallback,
		sender:     opts.Sender,
		popTimeout: opts.PopTimeout,
		orchTO:     opts.OrchestratorTimeout,
		maxReply:   opts.MaxReplyChars,
		truncateAt: opts.TruncateAt,
	}
	if w.name == "" {
		w.name = "worker"
	}
	if w.popTimeout <= 0 {
		w.popTimeout = DefaultPopTimeout
	}
	if w.maxReply <= 0 {
		w.maxReply = DefaultMaxReplyChars
	}
	if w.truncateAt <= 0 || w.truncateAt > w.maxReply {
		w.truncateAt = min(DefaultTruncateAt, w.maxReply)
	}
	w.log = slog.Default().With("component", "worker", "worker", w.name)
	return w
}

// Run pops and handles jobs until ctx is cancelled or the queue is closed.
// Queue errors are logged and retried with backoff; no per-job error stops
// the loop. A job already popped is finished even if ctx is cancelled
// meanwhile.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", "pop_timeout", w.popTimeout)
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopped")
			return nil
		}

		d, err := w.queue.Pop(ctx, w.popTimeout)
		switch {
		case errors.Is(err, queue.ErrClosed):
			w.log.Info("queue closed, worker stopping")
			return nil
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			w.log.Error("queue pop failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		case d == nil:
			continue // pop timeout
		}

		backoff = time.Second
		w.Handle(context.WithoutCancel(ctx), d)
	}
}

// Handle processes one delivery and acknowledges it.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) (outcome Outcome) {
	ctx, span := otel.Tracer("chatqueue/worker").Start(ctx, "worker.job", trace.WithSpanKind(trace.SpanKindConsumer))
	var job bus.Job
	defer func() {
		span.SetAttributes(
			attribute.String("session_id", job.SessionID),
			attribute.String("job_id", job.ID),
			attribute.String("outcome", string(outcome)),
		)
		span.End()
	}()
	defer w.ack(ctx, d)

	job, err := bus.DecodeJob(d.Payload)
	if err != nil {
		w.log.Error("failed to decode job, dropping", "error", err, "payload", channels.Truncate(string(d.Payload), 200))
		return Malformed
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("panic while processing job", "session_id", job.SessionID, "panic", r)
			w.send(ctx, job.SenderID, UnexpectedErrorReply)
			outcome = Recovered
		}
	}()

	w.log.Info("processing job", "session_id", job.SessionID, "job_id", job.ID)
	reply, outcome := w.reply(ctx, job)
	reply = channels.TruncateAbove(reply, w.maxReply, w.truncateAt)
	w.send(ctx, job.SenderID, reply)
	return outcome
}

// reply asks the orchestrator and maps any failure to a canned reply.
func (w *Worker) reply(ctx context.Context, job bus.Job) (string, Outcome) {
	octx, cancel := ctx, context.CancelFunc(func() {})
	if w.orchTO > 0 {
		octx, cancel = context.WithTimeout(ctx, w.orchTO)
	}
	defer cancel()

	started := time.Now()
	resp, err := w.orch.Orchestrate(octx, job.Message, job.SessionID)

	var failure fallback.Failure
	switch {
	case err != nil && errors.Is(octx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		failure = fallback.TimeoutFailure{}
	case err != nil:
		var agentErr *orchestrator.AgentError
		if errors.As(err, &agentErr) {
			detail := agentErr.Error()
			if agentErr.Err != nil {
				detail = agentErr.Err.Error()
			}
			failure = fallback.AgentFailure{Agent: agentErr.Agent, Detail: detail}
		} else {
			failure = fallback.GeneralFailure{Err: err}
		}
	case strings.TrimSpace(resp) == "": // blank text cannot be delivered
		failure = fallback.EmptyReply{}
	default:
		w.log.Info("response generated", "session_id", job.SessionID,
			"duration_ms", time.Since(started).Milliseconds(), "chars", channels.RuneLen(resp))
		return resp, Replied
	}

	w.log.Warn("orchestrator failed, using fallback",
		"session_id", job.SessionID, "category", failure.Category(), "error", err)
	return w.fallback.HandleFailure(ctx, failure, job.SessionID), Fallback
}

func (w *Worker) send(ctx context.Context, to, text string) {
	if to == "" {
		return
	}
	if err := w.sender.Send(ctx, to, text); err != nil {
		w.log.Error("failed to send reply", "recipient", to, "error", err)
	}
}

func (w *Worker) ack(ctx context.Context, d *queue.Delivery) {
	if err := w.queue.Ack(ctx, d); err != nil {
		w.log.Warn("ack failed, job may be redelivered", "error", err)
	}
}
