package store

import (
	"context"
	"log/slog"
	"time"
)

// OutboxSendFunc delivers one queued reply.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

const (
	// DefaultMaxOutboxAttempts is how many deliveries are tried before a reply is abandoned.
	DefaultMaxOutboxAttempts = 5
	defaultStaleThreshold    = 5 * time.Minute
	defaultClaimLimit        = 10
)

// OutboxSender polls the outbox and delivers due replies, backing off
// exponentially between failed attempts.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	now            func() time.Time
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: defaultStaleThreshold,
		claimLimit:     defaultClaimLimit,
		maxAttempts:    DefaultMaxOutboxAttempts,
		now:            time.Now,
	}
}

// RecoverStaleMessages requeues replies left in sending by a crash. Call it once at startup.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStaleSendingMessages(ctx, s.now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims and delivers one batch of due replies.
func (s *OutboxSender) Poll(ctx context.Context) {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return
	}

	for _, msg := range msgs {
		if err := s.sendFunc(ctx, msg); err != nil {
			if msg.Attempts+1 >= s.maxAttempts {
				slog.Error("OutboxSender.Poll: giving up on message", "id", msg.ID, "attempts", msg.Attempts+1, "error", err)
				if err := s.repo.AbandonOutboxMessage(ctx, msg.ID, err.Error()); err != nil {
					slog.Error("OutboxSender.Poll: abandon message error", "id", msg.ID, "error", err)
				}
				continue
			}
			// 10s, 20s, 40s, ...
			backoff := time.Duration(10*(1<<msg.Attempts)) * time.Second
			slog.Warn("OutboxSender.Poll: send failed, will retry", "id", msg.ID, "retryIn", backoff, "error", err)
			if err := s.repo.FailOutboxMessage(ctx, msg.ID, err.Error(), now.Add(backoff)); err != nil {
				slog.Error("OutboxSender.Poll: fail message error", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
			slog.Error("OutboxSender.Poll: mark sent error", "id", msg.ID, "error", err)
		}
		slog.Debug("OutboxSender.Poll: message sent", "id", msg.ID, "recipient", msg.Recipient)
	}
}
