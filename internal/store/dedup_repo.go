package store

import (
	"context"
	"time"
)

// DedupRecord is one inbound webhook message seen by the SMS channel.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Sender      string     `json:"sender"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo guards against processing a redelivered webhook twice.
type DedupRepo interface {
	// RecordInbound stores a message id. It returns false when the id was
	// already recorded.
	RecordInbound(ctx context.Context, messageID, sender string) (bool, error)

	// MarkProcessed stamps processed_at once the reply has been queued.
	MarkProcessed(ctx context.Context, messageID string) error
}
