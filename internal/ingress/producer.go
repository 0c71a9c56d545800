// Package ingress turns gateway webhook payloads into queued jobs.
package ingress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/chatqueue/internal/bus"
	"github.com/nextlevelbuilder/chatqueue/internal/channels"
	"github.com/nextlevelbuilder/chatqueue/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/chatqueue/internal/queue"
	"github.com/nextlevelbuilder/chatqueue/internal/ratelimit"
)

// Notices sent straight to the user when a message cannot be queued.
const (
	RateLimitNotice   = "You're sending messages too quickly! 😅 Please wait a moment and try again."
	QueueErrorNotice  = "I'm having trouble with my queue system. Please try again in a moment."
	NoQueueNotice     = "I'm experiencing a high volume of requests. Please try again later."
	DefaultPrefix     = "whatsapp"
	DefaultMaxMessage = 4096
)

// Outcome says what happened to one webhook delivery. Every outcome is
// acknowledged to the gateway.
type Outcome int

const (
	Enqueued Outcome = iota
	StatusUpdate
	Unrecognized
	InvalidInput
	Duplicate
	RateLimited
	QueueFailed
)

func (o Outcome) String() string {
	switch o {
	case Enqueued:
		return "enqueued"
	case StatusUpdate:
		return "status_update"
	case Unrecognized:
		return "unrecognized"
	case InvalidInput:
		return "input_validation_error"
	case Duplicate:
		return "duplicate"
	case RateLimited:
		return "rate_limited"
	case QueueFailed:
		return "queue_unavailable"
	default:
		return "unknown"
	}
}

// Ack is the result of Accept.
type Ack struct {
	Outcome   Outcome
	SenderID  string
	SessionID string
	JobID     string
}

// Options wires a Producer. Queue may be nil when the queue could not be
// reached at startup; every message then gets NoQueueNotice.
type Options struct {
	Queue      queue.Queue
	Limiter    ratelimit.Limiter
	Sender     channels.Sender
	Deduper    Deduper
	Prefix     string
	MaxMessage int
}

// Producer validates inbound messages, applies rate limiting and pushes
// jobs onto the queue. It never returns an error to its caller.
type Producer struct {
	queue      queue.Queue
	limiter    ratelimit.Limiter
	sender     channels.Sender
	deduper    Deduper
	prefix     string
	maxMessage int
	now        func() time.Time
}

func NewProducer(opts Options) *Producer {
	p := &Producer{
		queue:      opts.Queue,
		limiter:    opts.Limiter,
		sender:     opts.Sender,
		deduper:    opts.Deduper,
		prefix:     opts.Prefix,
		maxMessage: opts.MaxMessage,
		now:        time.Now,
	}
	if p.prefix == "" {
		p.prefix = DefaultPrefix
	}
	if p.maxMessage <= 0 {
		p.maxMessage = DefaultMaxMessage
	}
	if p.limiter == nil {
		p.limiter = ratelimit.NewMemory(ratelimit.DefaultWindow, ratelimit.DefaultCapacity)
	}
	return p
}

// Accept handles one raw webhook body.
func (p *Producer) Accept(ctx context.Context, raw []byte) Ack {
	in, ok := whatsapp.Extract(raw)
	if !ok {
		if st, isStatus := whatsapp.StatusUpdate(raw); isStatus {
			slog.Info("status update ignored", "status", st.Status, "recipient_id", st.RecipientID)
			return Ack{Outcome: StatusUpdate}
		}
		slog.Warn("could not extract message from webhook, ignoring", "bytes", len(raw))
		return Ack{Outcome: Unrecognized}
	}
	return p.AcceptInbound(ctx, in)
}

// AcceptInbound handles a message already pulled out of its envelope.
func (p *Producer) AcceptInbound(ctx context.Context, in whatsapp.Inbound) (ack Ack) {
	ctx, span := otel.Tracer("chatqueue/ingress").Start(ctx, "ingress.accept", trace.WithSpanKind(trace.SpanKindServer))
	defer func() {
		span.SetAttributes(
			attribute.String("outcome", ack.Outcome.String()),
			attribute.String("session_id", ack.SessionID),
			attribute.String("job_id", ack.JobID),
		)
		span.End()
	}()

	message, err := whatsapp.CleanMessage(in.Message, p.maxMessage)
	if err != nil {
		slog.Warn("inbound message rejected", "error", err)
		return Ack{Outcome: InvalidInput}
	}
	sender, err := whatsapp.NormalizePhone(in.Sender)
	if err != nil {
		slog.Warn("invalid phone number format", "sender", in.Sender)
		return Ack{Outcome: InvalidInput}
	}
	ack = Ack{SenderID: sender, SessionID: bus.SessionID(p.prefix, sender)}

	if p.deduper != nil && p.deduper.Seen(ctx, in.Metadata[bus.MetaMessageID]) {
		slog.Info("duplicate webhook delivery ignored", "message_id", in.Metadata[bus.MetaMessageID])
		ack.Outcome = Duplicate
		return ack
	}

	if !p.limiter.Allow(ctx, sender) {
		slog.Warn("rate limit exceeded", "sender_id", sender)
		p.notify(ctx, sender, RateLimitNotice)
		ack.Outcome = RateLimited
		return ack
	}

	if p.queue == nil {
		slog.Error("queue not available, cannot enqueue job", "sender_id", sender)
		p.notify(ctx, sender, NoQueueNotice)
		ack.Outcome = QueueFailed
		return ack
	}

	job := bus.NewJob(p.prefix, message, sender, in.Metadata, p.now())
	ack.JobID = job.ID
	payload, err := bus.EncodeJob(job)
	if err == nil {
		err = p.queue.Push(ctx, payload)
	}
	if err != nil {
		slog.Error("failed to push job", "sender_id", sender, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "push failed")
		p.notify(ctx, sender, QueueErrorNotice)
		ack.Outcome = QueueFailed
		return ack
	}

	slog.Info("job enqueued", "sender_id", sender, "session_id", job.SessionID, "job_id", job.ID)
	ack.Outcome = Enqueued
	return ack
}

// notify sends a direct reply. Failures are logged, never retried.
func (p *Producer) notify(ctx context.Context, recipient, text string) {
	if p.sender == nil {
		return
	}
	if err := p.sender.Send(ctx, recipient, text); err != nil {
		level := slog.LevelError
		if errors.Is(err, channels.ErrNotConnected) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "direct reply failed", "recipient", recipient, "error", err)
	}
}
