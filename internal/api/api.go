// Package api exposes Fernly conversations over HTTP.
//
// Clients post messages to /v1/chat and receive the reply for their session.
// Session learning can be inspected or reset, and an optional Twilio webhook
// carries the same conversations over SMS and WhatsApp.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/Fernly/internal/flow"
	"github.com/BTreeMap/Fernly/internal/sms"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// maxRequestBytes bounds JSON request bodies.
	maxRequestBytes = 64 << 10
	// requestTimeout bounds a single request, including learning persistence.
	requestTimeout = 15 * time.Second
)

// Server serves the HTTP API.
type Server struct {
	engine   *flow.Engine
	sessions *flow.SessionManager
	sms      *sms.Channel

	addr       string
	now        func() time.Time
	startedAt  time.Time
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithSMS mounts the Twilio webhook at /v1/twilio/webhook.
func WithSMS(ch *sms.Channel) Option {
	return func(s *Server) {
		s.sms = ch
	}
}

// WithClock sets the clock reported by the health endpoint.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a Server answering with engine over sessions.
func NewServer(engine *flow.Engine, sessions *flow.SessionManager, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		sessions: sessions,
		addr:     DefaultAddr,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.healthHandler)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.chatHandler)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.sessionHandler)
			r.Delete("/", s.deleteSessionHandler)
			r.Get("/learning", s.learningHandler)
			r.Post("/learning/reset", s.resetLearningHandler)
		})
		if s.sms != nil {
			r.Post("/twilio/webhook", s.sms.WebhookHandler)
		}
	})
	return r
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Server.Start: listening", "addr", s.addr, "sms", s.sms != nil)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server.Shutdown: stopping")
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("Server: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()))
	})
}
