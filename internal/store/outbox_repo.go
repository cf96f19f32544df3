package store

import (
	"context"
	"time"
)

// OutboxStatus is the delivery state of a queued reply.
type OutboxStatus string

const (
	OutboxStatusQueued  OutboxStatus = "queued"
	OutboxStatusSending OutboxStatus = "sending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage is a reply waiting to be delivered over an SMS-style channel.
type OutboxMessage struct {
	ID            string       `json:"id"`
	Channel       string       `json:"channel"`
	Recipient     string       `json:"recipient"`
	Body          string       `json:"body"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	DedupeKey     string       `json:"dedupe_key"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo persists replies so a restart does not lose them.
type OutboxRepo interface {
	// EnqueueOutboxMessage queues a reply. When dedupeKey is set and an
	// undelivered message with the same key exists, its id is returned instead.
	EnqueueOutboxMessage(ctx context.Context, channel, recipient, body, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages marks up to limit due messages as sending and returns them.
	ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	MarkOutboxMessageSent(ctx context.Context, id string) error

	// FailOutboxMessage records a failed attempt and schedules the next one.
	FailOutboxMessage(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error

	// AbandonOutboxMessage records a final failure; the message is never retried.
	AbandonOutboxMessage(ctx context.Context, id, errMsg string) error

	// RequeueStaleSendingMessages returns messages stuck in sending since before
	// staleBefore to the queue.
	RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error)
}
