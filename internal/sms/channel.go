package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/Fernly/internal/flow"
	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/BTreeMap/Fernly/internal/store"
)

// OutboxChannel tags replies queued by this package.
const OutboxChannel = "twilio"

// emptyTwiML acknowledges a webhook without an inline reply; replies are sent
// through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Channel turns inbound Twilio webhooks into conversation turns. Each sender
// gets its own session, keyed by their canonical phone number.
type Channel struct {
	engine   *flow.Engine
	sessions *flow.SessionManager
	sender   Sender

	dedup     store.DedupRepo
	outbox    store.OutboxRepo
	validator *twilioclient.RequestValidator
	publicURL string
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithDedup skips webhooks whose MessageSid was already processed.
func WithDedup(repo store.DedupRepo) ChannelOption {
	return func(c *Channel) {
		c.dedup = repo
	}
}

// WithOutbox queues replies in repo instead of sending them inline. An
// OutboxSender using c.Deliver must drain the queue.
func WithOutbox(repo store.OutboxRepo) ChannelOption {
	return func(c *Channel) {
		c.outbox = repo
	}
}

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not
// match publicURL, the webhook address as Twilio sees it.
func WithSignatureValidation(authToken, publicURL string) ChannelOption {
	return func(c *Channel) {
		v := twilioclient.NewRequestValidator(authToken)
		c.validator = &v
		c.publicURL = publicURL
	}
}

// NewChannel creates a Channel answering with engine and replying through sender.
func NewChannel(engine *flow.Engine, sessions *flow.SessionManager, sender Sender, opts ...ChannelOption) *Channel {
	c := &Channel{engine: engine, sessions: sessions, sender: sender}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// SessionID derives the session id for a Twilio sender address such as
// "whatsapp:+1 (555) 000-1111". SMS and WhatsApp from the same number share a
// session.
func SessionID(from string) (string, error) {
	digits := nonDigits.ReplaceAllString(strings.TrimPrefix(from, whatsappPrefix), "")
	if len(digits) < 6 {
		return "", fmt.Errorf("invalid sender %q: at least 6 digits required", from)
	}
	return "+" + digits, nil
}

// WebhookHandler handles inbound Twilio message webhooks.
func (c *Channel) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Channel.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if c.validator != nil && !c.validSignature(r) {
		slog.Warn("Channel.WebhookHandler: signature mismatch", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	sid := r.PostFormValue("MessageSid")
	if from == "" {
		slog.Warn("Channel.WebhookHandler: missing From")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	sessionID, err := SessionID(from)
	if err != nil {
		slog.Warn("Channel.WebhookHandler: invalid sender", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := c.handleInbound(r.Context(), sid, from, sessionID, body); err != nil {
		slog.Error("Channel.WebhookHandler: failed to handle message", "session", sessionID, "sid", sid, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

func (c *Channel) validSignature(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	return c.validator.Validate(c.publicURL, params, r.Header.Get("X-Twilio-Signature"))
}

func (c *Channel) handleInbound(ctx context.Context, sid, from, sessionID, body string) error {
	if c.dedup != nil && sid != "" {
		fresh, err := c.dedup.RecordInbound(ctx, sid, from)
		if err != nil {
			return fmt.Errorf("failed to record inbound message: %w", err)
		}
		if !fresh {
			slog.Info("Channel.WebhookHandler: duplicate delivery ignored", "sid", sid)
			return nil
		}
	}

	sess, status := c.sessions.Open(ctx, sessionID)
	if !status.OK() {
		slog.Warn("Channel.WebhookHandler: learning unavailable for session", "session", sessionID, "error", status.Err)
	}
	turn, err := c.engine.Respond(ctx, sess, body)
	if errors.Is(err, models.ErrEmptyMessage) {
		// Media-only messages carry no text.
		slog.Debug("Channel.WebhookHandler: ignoring message without text", "sid", sid)
		return c.markProcessed(ctx, sid)
	}
	if err != nil {
		return err
	}

	for i, segment := range Segments(PlainText(turn.Reply), MaxSegmentLength) {
		if err := c.deliver(ctx, from, segment, segmentKey(sid, i)); err != nil {
			return err
		}
	}
	return c.markProcessed(ctx, sid)
}

func segmentKey(sid string, i int) string {
	if sid == "" {
		return ""
	}
	return fmt.Sprintf("%s-%d", sid, i)
}

func (c *Channel) deliver(ctx context.Context, to, body, dedupeKey string) error {
	if c.outbox != nil {
		id, err := c.outbox.EnqueueOutboxMessage(ctx, OutboxChannel, to, body, dedupeKey)
		if err != nil {
			return fmt.Errorf("failed to queue reply: %w", err)
		}
		slog.Debug("Channel: reply queued", "id", id, "to", to)
		return nil
	}
	return c.sender.SendMessage(ctx, to, body)
}

func (c *Channel) markProcessed(ctx context.Context, sid string) error {
	if c.dedup == nil || sid == "" {
		return nil
	}
	if err := c.dedup.MarkProcessed(ctx, sid); err != nil {
		slog.Warn("Channel: failed to mark message processed", "sid", sid, "error", err)
	}
	return nil
}

// Deliver sends one queued reply. It is the send function for store.OutboxSender.
func (c *Channel) Deliver(ctx context.Context, msg store.OutboxMessage) error {
	return c.sender.SendMessage(ctx, msg.Recipient, msg.Body)
}
