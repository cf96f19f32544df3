package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/Fernly/internal/api"
	"github.com/BTreeMap/Fernly/internal/feedback"
	"github.com/BTreeMap/Fernly/internal/flow"
	"github.com/BTreeMap/Fernly/internal/lockfile"
	"github.com/BTreeMap/Fernly/internal/sms"
	"github.com/BTreeMap/Fernly/internal/store"
	"github.com/BTreeMap/Fernly/internal/util"
)

const (
	janitorInterval = time.Minute
	outboxInterval  = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

// openStore opens the configured learning backend. The memory store keeps
// learning only for the life of the process.
func openStore(config Config) (store.Persister, error) {
	switch config.StoreKind {
	case StoreSQLite:
		return store.NewSQLiteStore(store.WithSQLiteDSN(config.DBDSN))
	case StorePostgres:
		return store.NewPostgresStore(store.WithPostgresDSN(config.DBDSN))
	case StoreRedis:
		return store.NewRedisStore(store.WithRedisAddr(config.RedisAddr, config.RedisPassword, config.RedisDB))
	default:
		return store.NewInMemoryStore(), nil
	}
}

func buildEngine(config Config) (*flow.Engine, error) {
	opts := []flow.Option{
		flow.WithFeedbackOptions(feedback.WithInterval(config.FeedbackInterval)),
	}
	if config.Seed != 0 {
		opts = append(opts, flow.WithRandom(util.NewSeededRandom(config.Seed)))
	}
	return flow.NewEngine(opts...)
}

// buildSMSChannel wires the Twilio channel when credentials are configured.
// It returns the outbox repository replies are queued in, if any.
func buildSMSChannel(config Config, engine *flow.Engine, sessions *flow.SessionManager, p store.Persister) (*sms.Channel, store.OutboxRepo, error) {
	if !config.twilioEnabled() {
		slog.Info("Twilio not configured; SMS channel disabled")
		return nil, nil, nil
	}
	client, err := sms.NewClient(
		sms.WithAccountSID(config.TwilioAccountSID),
		sms.WithAuthToken(config.TwilioAuthToken),
		sms.WithFrom(config.TwilioFrom),
	)
	if err != nil {
		return nil, nil, err
	}

	var opts []sms.ChannelOption
	if dedup, ok := p.(store.DedupRepo); ok {
		opts = append(opts, sms.WithDedup(dedup))
	}
	var outbox store.OutboxRepo
	if repo, ok := p.(store.OutboxRepo); ok && config.Outbox {
		outbox = repo
		opts = append(opts, sms.WithOutbox(repo))
	}
	if config.TwilioWebhookURL != "" {
		opts = append(opts, sms.WithSignatureValidation(config.TwilioAuthToken, config.TwilioWebhookURL))
	} else {
		slog.Warn("TWILIO_WEBHOOK_URL not set; webhook signatures are not verified")
	}
	slog.Info("SMS channel enabled", "from", config.TwilioFrom, "outbox", outbox != nil)
	return sms.NewChannel(engine, sessions, client, opts...), outbox, nil
}

func runServe(config Config) error {
	if config.StoreKind == StoreSQLite {
		lock, err := lockfile.Acquire(config.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	p, err := openStore(config)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", config.StoreKind, err)
	}
	defer p.Close()

	engine, err := buildEngine(config)
	if err != nil {
		return err
	}
	sessions := flow.NewSessionManager(p, flow.WithIdleTTL(config.SessionTTL))
	// SMS conversations live apart from the sessions the HTTP API can address.
	smsSessions := flow.NewSessionManager(p, flow.WithIdleTTL(config.SessionTTL))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	channel, outbox, err := buildSMSChannel(config, engine, smsSessions, p)
	if err != nil {
		return err
	}
	if outbox != nil {
		sender := store.NewOutboxSender(outbox, channel.Deliver, outboxInterval)
		if err := sender.RecoverStaleMessages(ctx); err != nil {
			slog.Warn("failed to recover stale outbox messages", "error", err)
		}
		go sender.Run(ctx)
	}
	go sessions.RunJanitor(ctx, janitorInterval)
	go smsSessions.RunJanitor(ctx, janitorInterval)

	apiOpts := []api.Option{api.WithAddr(config.APIAddr)}
	if channel != nil {
		apiOpts = append(apiOpts, api.WithSMS(channel))
	}
	server := api.NewServer(engine, sessions, apiOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	slog.Info("Fernly serving", "addr", config.APIAddr, "store", config.StoreKind)

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		slog.Warn("server shutdown error", "error", serr)
	}
	sessions.Close(shutdownCtx)
	smsSessions.Close(shutdownCtx)
	return err
}

// runChat runs an interactive conversation on in and out. Lines starting
// with a slash are commands.
func runChat(config Config, in io.Reader, out io.Writer) error {
	p, err := openStore(config)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", config.StoreKind, err)
	}
	defer p.Close()

	engine, err := buildEngine(config)
	if err != nil {
		return err
	}
	ctx := context.Background()
	sessions := flow.NewSessionManager(p)
	defer sessions.Close(ctx)

	sess, status := sessions.Open(ctx, config.ChatSession)
	if !status.OK() {
		fmt.Fprintf(out, "(learning unavailable: %v)\n", status.Err)
	}
	printSummary(out, sess)
	fmt.Fprintln(out, "Type a message, /stats, /reset or /quit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/stats":
			printSummary(out, sess)
			continue
		case "/reset":
			if st := sess.Learning.Reset(ctx); !st.OK() {
				fmt.Fprintf(out, "(reset not saved: %v)\n", st.Err)
			}
			printSummary(out, sess)
			continue
		}

		turn, err := engine.Respond(ctx, sess, line)
		if err != nil {
			fmt.Fprintf(out, "(%v)\n", err)
			continue
		}
		fmt.Fprintln(out, sms.PlainText(turn.Reply))
		if !turn.Status.OK() {
			fmt.Fprintf(out, "(learning not saved: %v)\n", turn.Status.Err)
		}
	}
}

func printSummary(out io.Writer, sess *flow.Session) {
	s := sess.Learning.Summary()
	fmt.Fprintf(out, "Session %s: %d learned patterns, %d learned responses, %d messages awaiting a category.\n",
		sess.ID, s.Patterns, s.Responses, s.Pending)
}
