package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/Fernly/internal/api"
	"github.com/BTreeMap/Fernly/internal/feedback"
	"github.com/BTreeMap/Fernly/internal/store"
	"github.com/BTreeMap/Fernly/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Fernly state data
	DefaultStateDir = "/var/lib/fernly"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "fernly.db"
	// DefaultSessionTTL is how long an idle session stays in memory
	DefaultSessionTTL = 2 * time.Hour
)

// Store kinds accepted by -store.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Run modes.
const (
	ModeServe = "serve"
	ModeChat  = "chat"
)

func main() {
	config := loadEnvironmentConfig()
	config, mode, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	initializeLogger(os.Stderr, config.LogLevel, config.LogFormat)
	slog.Debug("Final configuration",
		"mode", mode,
		"state_dir", config.StateDir,
		"store", config.StoreKind,
		"dsn_set", config.DBDSN != "",
		"api_addr", config.APIAddr,
		"twilio", config.twilioEnabled())

	switch mode {
	case ModeServe:
		err = runServe(config)
	case ModeChat:
		err = runChat(config, os.Stdin, os.Stdout)
	}
	if err != nil {
		slog.Error("Fernly failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Fernly exited successfully")
}

// Config holds the merged environment and flag configuration.
type Config struct {
	StateDir  string
	StoreKind string
	DBDSN     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	APIAddr          string
	Seed             uint64
	FeedbackInterval int
	SessionTTL       time.Duration
	Outbox           bool
	ChatSession      string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string

	LogLevel  string
	LogFormat string
}

func (c Config) twilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFrom != ""
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         util.EnvString("FERNLY_STATE_DIR", DefaultStateDir),
		StoreKind:        strings.ToLower(util.EnvString("FERNLY_STORE", "")),
		DBDSN:            util.EnvString("DATABASE_URL", ""),
		RedisAddr:        util.EnvString("REDIS_ADDR", ""),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          util.EnvInt("REDIS_DB", 0),
		APIAddr:          util.EnvString("API_ADDR", api.DefaultAddr),
		Seed:             uint64(util.EnvInt("FERNLY_SEED", 0)),
		FeedbackInterval: util.EnvInt("FERNLY_FEEDBACK_INTERVAL", feedback.DefaultInterval),
		SessionTTL:       DefaultSessionTTL,
		Outbox:           util.ParseBoolEnv("FERNLY_OUTBOX", true),
		ChatSession:      util.EnvString("FERNLY_CHAT_SESSION", "local"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		LogLevel:         util.EnvString("FERNLY_LOG_LEVEL", "info"),
		LogFormat:        util.EnvString("FERNLY_LOG_FORMAT", "text"),
	}
	if v := util.EnvString("FERNLY_SESSION_TTL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.SessionTTL = d
		} else {
			slog.Warn("invalid FERNLY_SESSION_TTL, using default", "value", v, "default", DefaultSessionTTL)
		}
	}

	slog.Debug("environment variables loaded",
		"FERNLY_STATE_DIR", config.StateDir,
		"FERNLY_STORE", config.StoreKind,
		"DATABASE_URL_SET", config.DBDSN != "",
		"REDIS_ADDR", config.RedisAddr,
		"API_ADDR", config.APIAddr,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "")
	return config
}

// parseCommandLineFlags applies flag overrides to config and returns the run mode.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Config, string, error) {
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for Fernly data (overrides $FERNLY_STATE_DIR)")
	fs.StringVar(&config.StoreKind, "store", config.StoreKind, "learning store: memory, sqlite, postgres or redis (overrides $FERNLY_STORE)")
	fs.StringVar(&config.DBDSN, "db-dsn", config.DBDSN, "SQLite path or Postgres DSN (overrides $DATABASE_URL)")
	fs.StringVar(&config.RedisAddr, "redis-addr", config.RedisAddr, "Redis address (overrides $REDIS_ADDR)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.Uint64Var(&config.Seed, "seed", config.Seed, "random seed for reproducible replies; 0 picks one (overrides $FERNLY_SEED)")
	fs.IntVar(&config.FeedbackInterval, "feedback-interval", config.FeedbackInterval, "ask for feedback every N questions (overrides $FERNLY_FEEDBACK_INTERVAL)")
	fs.DurationVar(&config.SessionTTL, "session-ttl", config.SessionTTL, "evict sessions idle this long; 0 keeps them (overrides $FERNLY_SESSION_TTL)")
	fs.BoolVar(&config.Outbox, "outbox", config.Outbox, "queue SMS replies in the database outbox when the store supports it (overrides $FERNLY_OUTBOX)")
	fs.StringVar(&config.ChatSession, "session", config.ChatSession, "session id used by chat mode (overrides $FERNLY_CHAT_SESSION)")
	fs.StringVar(&config.TwilioAccountSID, "twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)")
	fs.StringVar(&config.TwilioAuthToken, "twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)")
	fs.StringVar(&config.TwilioFrom, "twilio-from", config.TwilioFrom, "Twilio sending number (overrides $TWILIO_FROM_NUMBER)")
	fs.StringVar(&config.TwilioWebhookURL, "twilio-webhook-url", config.TwilioWebhookURL, "public webhook URL; enables signature checks (overrides $TWILIO_WEBHOOK_URL)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error (overrides $FERNLY_LOG_LEVEL)")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "text or json (overrides $FERNLY_LOG_FORMAT)")

	if err := fs.Parse(args); err != nil {
		return config, "", err
	}

	mode := ModeServe
	if fs.NArg() > 0 {
		mode = fs.Arg(0)
	}
	if mode != ModeServe && mode != ModeChat {
		return config, "", fmt.Errorf("unknown mode %q: use %s or %s", mode, ModeServe, ModeChat)
	}
	if err := resolveStore(&config); err != nil {
		return config, "", err
	}
	if config.FeedbackInterval <= 0 {
		return config, "", errors.New("feedback interval must be positive")
	}
	return config, mode, nil
}

// resolveStore fills in the store kind and DSN defaults.
func resolveStore(config *Config) error {
	if config.StoreKind == "" {
		switch {
		case config.DBDSN != "" && store.DetectDSNType(config.DBDSN) == "postgres":
			config.StoreKind = StorePostgres
		case config.DBDSN == "" && config.RedisAddr != "":
			config.StoreKind = StoreRedis
		default:
			config.StoreKind = StoreSQLite
		}
	}
	switch config.StoreKind {
	case StoreMemory:
	case StoreSQLite:
		if config.DBDSN == "" {
			config.DBDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		}
	case StorePostgres:
		if config.DBDSN == "" {
			return errors.New("postgres store requires -db-dsn or $DATABASE_URL")
		}
	case StoreRedis:
		if config.RedisAddr == "" {
			return errors.New("redis store requires -redis-addr or $REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown store %q", config.StoreKind)
	}
	return nil
}

// initializeLogger installs the default slog handler.
func initializeLogger(w io.Writer, level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
