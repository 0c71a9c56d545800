// Package bus defines the records that travel between the webhook ingress,
// the job queue and the worker processes.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedJob is returned by DecodeJob when a queue payload cannot be
// turned into a usable Job.
var ErrMalformedJob = errors.New("malformed job")

// Metadata keys copied from the gateway payload.
const (
	MetaMessageID = "message_id"
	MetaTimestamp = "timestamp"
	MetaType      = "type"
	MetaFromName  = "from_name"
)

// Job is one inbound user message waiting for the conversation orchestrator.
type Job struct {
	ID         string            `json:"id"`
	Message    string            `json:"message"`
	SenderID   string            `json:"sender_id"`  // normalized contact identifier
	SessionID  string            `json:"session_id"` // SessionID(prefix, SenderID)
	Metadata   map[string]string `json:"metadata,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// OutboundMessage is a reply addressed to a contact on the messaging gateway.
type OutboundMessage struct {
	Recipient string            `json:"recipient"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SessionID derives the conversation key for a sender. The sender is embedded
// verbatim, so two distinct senders never share a session.
func SessionID(prefix, senderID string) string {
	return prefix + "_" + senderID
}

// NewJob builds a job for a validated inbound message.
func NewJob(prefix, message, senderID string, metadata map[string]string, now time.Time) Job {
	id := uuid.NewString()
	if v7, err := uuid.NewV7(); err == nil {
		id = v7.String()
	}
	return Job{
		ID:         id,
		Message:    message,
		SenderID:   senderID,
		SessionID:  SessionID(prefix, senderID),
		Metadata:   metadata,
		EnqueuedAt: now.UTC(),
	}
}

// EncodeJob serializes a job for the queue.
func EncodeJob(j Job) ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return data, nil
}

// DecodeJob parses a queue payload. Payloads without a message, sender or
// session are rejected with ErrMalformedJob. Older producers wrote the
// sender as "user_phone"; it is accepted when sender_id is absent.
func DecodeJob(data []byte) (Job, error) {
	var wire struct {
		Job
		UserPhone string `json:"user_phone"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	j := wire.Job
	if j.SenderID == "" {
		j.SenderID = wire.UserPhone
	}
	switch {
	case j.Message == "":
		return j, fmt.Errorf("%w: missing message", ErrMalformedJob)
	case j.SenderID == "":
		return j, fmt.Errorf("%w: missing sender_id", ErrMalformedJob)
	case j.SessionID == "":
		return j, fmt.Errorf("%w: missing session_id", ErrMalformedJob)
	}
	return j, nil
}
