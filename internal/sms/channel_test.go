package sms

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/Fernly/internal/flow"
	"github.com/BTreeMap/Fernly/internal/store"
)

type firstRandom struct{}

func (firstRandom) IntN(int) int     { return 0 }
func (firstRandom) Float64() float64 { return 0.99 }

type channelFixture struct {
	channel  *Channel
	sessions *flow.SessionManager
	mock     *MockClient
}

func newFixture(t *testing.T, p store.Persister, opts ...ChannelOption) *channelFixture {
	t.Helper()
	engine, err := flow.NewEngine(flow.WithRandom(firstRandom{}))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	sessions := flow.NewSessionManager(p)
	mock := NewMockClient()
	return &channelFixture{
		channel:  NewChannel(engine, sessions, mock, opts...),
		sessions: sessions,
		mock:     mock,
	}
}

func webhookRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func (f *channelFixture) post(form url.Values) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.channel.WebhookHandler(rec, webhookRequest(form))
	return rec
}

func inbound(from, body, sid string) url.Values {
	return url.Values{"From": {from}, "Body": {body}, "MessageSid": {sid}}
}

func TestSessionID(t *testing.T) {
	tests := []struct {
		from    string
		want    string
		wantErr bool
	}{
		{"+15550001111", "+15550001111", false},
		{"whatsapp:+15550001111", "+15550001111", false},
		{"+1 (555) 000-1111", "+15550001111", false},
		{"12345", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := SessionID(tt.from)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("SessionID(%q) = %q, %v", tt.from, got, err)
		}
	}
}

func TestWebhookRepliesDirectly(t *testing.T) {
	f := newFixture(t, store.NewInMemoryStore())

	rec := f.post(inbound("+15550001111", "I feel anxious", "SM1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<Response></Response>") {
		t.Errorf("body = %q", rec.Body.String())
	}

	sent := f.mock.Sent()
	if len(sent) != 1 || sent[0].To != "+15550001111" || sent[0].Body == "" {
		t.Fatalf("sent = %+v", sent)
	}
	if strings.Contains(sent[0].Body, "<") {
		t.Errorf("reply still carries markup: %q", sent[0].Body)
	}
	if _, err := f.sessions.Get("+15550001111"); err != nil {
		t.Errorf("session not opened: %v", err)
	}
}

func TestWebhookWhatsAppSharesSession(t *testing.T) {
	f := newFixture(t, nil)

	f.post(inbound("whatsapp:+15550002222", "hello", "SM1"))
	f.post(inbound("+15550002222", "I can't sleep", "SM2"))

	if f.sessions.Len() != 1 {
		t.Errorf("sessions = %d, want 1", f.sessions.Len())
	}
	sent := f.mock.Sent()
	if len(sent) != 2 || sent[0].To != "whatsapp:+15550002222" || sent[1].To != "+15550002222" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestWebhookIgnoresDuplicateDelivery(t *testing.T) {
	f := newFixture(t, nil, WithDedup(store.NewInMemoryStore()))

	for i := 0; i < 3; i++ {
		if rec := f.post(inbound("+15550001111", "hello", "SMdup")); rec.Code != http.StatusOK {
			t.Fatalf("attempt %d status = %d", i, rec.Code)
		}
	}
	if n := len(f.mock.Sent()); n != 1 {
		t.Errorf("sent %d replies, want 1", n)
	}
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name string
		form url.Values
	}{
		{"missing sender", url.Values{"Body": {"hi"}}},
		{"short sender", inbound("123", "hi", "SM1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.post(tt.form); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
	if len(f.mock.Sent()) != 0 {
		t.Error("rejected webhooks must not send replies")
	}
}

func TestWebhookIgnoresEmptyBody(t *testing.T) {
	f := newFixture(t, nil)
	if rec := f.post(inbound("+15550001111", "  ", "SM1")); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.mock.Sent()) != 0 {
		t.Error("media-only message got a reply")
	}
}

func TestWebhookSendFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.Err = errors.New("twilio unavailable")
	if rec := f.post(inbound("+15550001111", "hello", "SM1")); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// sign computes X-Twilio-Signature: HMAC-SHA1 over the URL followed by the
// sorted form parameters.
func sign(authToken, publicURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := publicURL
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhookSignatureValidation(t *testing.T) {
	const token = "test-auth-token"
	const publicURL = "https://fernly.example.com/v1/twilio/webhook"
	f := newFixture(t, nil, WithSignatureValidation(token, publicURL))
	form := inbound("+15550001111", "hello", "SM1")

	unsigned := httptest.NewRecorder()
	f.channel.WebhookHandler(unsigned, webhookRequest(form))
	if unsigned.Code != http.StatusForbidden {
		t.Errorf("unsigned status = %d, want 403", unsigned.Code)
	}

	req := webhookRequest(form)
	req.Header.Set("X-Twilio-Signature", sign(token, publicURL, form))
	signed := httptest.NewRecorder()
	f.channel.WebhookHandler(signed, req)
	if signed.Code != http.StatusOK {
		t.Errorf("signed status = %d, want 200", signed.Code)
	}
	if len(f.mock.Sent()) != 1 {
		t.Errorf("sent = %+v", f.mock.Sent())
	}
}

func TestWebhookQueuesRepliesInOutbox(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "fernly.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := newFixture(t, db, WithDedup(db), WithOutbox(db))
	f.post(inbound("+15550001111", "I have insomnia", "SM1"))
	f.post(inbound("+15550001111", "I have insomnia", "SM1"))
	if len(f.mock.Sent()) != 0 {
		t.Fatal("outbox mode must not send inline")
	}

	sender := store.NewOutboxSender(db, f.channel.Deliver, time.Second)
	sender.Poll(ctx)

	sent := f.mock.Sent()
	if len(sent) != 1 || sent[0].To != "+15550001111" {
		t.Fatalf("delivered = %+v", sent)
	}
	sender.Poll(ctx)
	if len(f.mock.Sent()) != 1 {
		t.Error("a delivered reply was sent again")
	}
}
