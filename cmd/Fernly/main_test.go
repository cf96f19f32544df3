package main

import (
	"bytes"
	"flag"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/Fernly/internal/api"
	"github.com/BTreeMap/Fernly/internal/feedback"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FERNLY_STATE_DIR", "FERNLY_STORE", "DATABASE_URL", "REDIS_ADDR", "API_ADDR",
		"FERNLY_SEED", "FERNLY_FEEDBACK_INTERVAL", "FERNLY_SESSION_TTL", "FERNLY_OUTBOX",
		"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_WEBHOOK_URL",
	} {
		t.Setenv(key, "")
	}
}

func parse(t *testing.T, config Config, args ...string) (Config, string, error) {
	t.Helper()
	fs := flag.NewFlagSet("fernly", flag.ContinueOnError)
	return parseCommandLineFlags(fs, args, config)
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()

	if config.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q, want %q", config.StateDir, DefaultStateDir)
	}
	if config.APIAddr != api.DefaultAddr {
		t.Errorf("APIAddr = %q", config.APIAddr)
	}
	if config.FeedbackInterval != feedback.DefaultInterval {
		t.Errorf("FeedbackInterval = %d", config.FeedbackInterval)
	}
	if config.SessionTTL != DefaultSessionTTL || !config.Outbox {
		t.Errorf("SessionTTL = %v, Outbox = %v", config.SessionTTL, config.Outbox)
	}
	if config.twilioEnabled() {
		t.Error("Twilio enabled without credentials")
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FERNLY_STATE_DIR", "/tmp/fernly")
	t.Setenv("FERNLY_SESSION_TTL", "45m")
	t.Setenv("FERNLY_FEEDBACK_INTERVAL", "5")
	t.Setenv("FERNLY_OUTBOX", "off")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550009999")

	config := loadEnvironmentConfig()
	if config.StateDir != "/tmp/fernly" || config.SessionTTL != 45*time.Minute || config.FeedbackInterval != 5 {
		t.Errorf("config = %+v", config)
	}
	if config.Outbox {
		t.Error("FERNLY_OUTBOX=off ignored")
	}
	if !config.twilioEnabled() {
		t.Error("Twilio credentials not picked up")
	}
}

func TestLoadEnvironmentConfigInvalidTTL(t *testing.T) {
	clearEnv(t)
	t.Setenv("FERNLY_SESSION_TTL", "soon")
	if got := loadEnvironmentConfig().SessionTTL; got != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v, want default", got)
	}
}

func TestParseCommandLineFlagsStoreResolution(t *testing.T) {
	base := Config{StateDir: "/srv/fernly", FeedbackInterval: 20}
	tests := []struct {
		name      string
		config    Config
		args      []string
		wantStore string
		wantDSN   string
		wantErr   bool
	}{
		{"sqlite default", base, nil, StoreSQLite, filepath.Join("/srv/fernly", DefaultDBFileName), false},
		{"state dir flag moves sqlite", base, []string{"-state-dir", "/data"}, StoreSQLite, filepath.Join("/data", DefaultDBFileName), false},
		{"postgres detected", base, []string{"-db-dsn", "postgres://u:p@localhost/fernly"}, StorePostgres, "postgres://u:p@localhost/fernly", false},
		{"redis from address", base, []string{"-redis-addr", "localhost:6379"}, StoreRedis, "", false},
		{"explicit memory", base, []string{"-store", "memory"}, StoreMemory, "", false},
		{"postgres without dsn", base, []string{"-store", "postgres"}, "", "", true},
		{"redis without address", base, []string{"-store", "redis"}, "", "", true},
		{"unknown store", base, []string{"-store", "etcd"}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, _, err := parse(t, tt.config, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if config.StoreKind != tt.wantStore || config.DBDSN != tt.wantDSN {
				t.Errorf("store = %q, dsn = %q", config.StoreKind, config.DBDSN)
			}
		})
	}
}

func TestParseCommandLineFlagsMode(t *testing.T) {
	base := Config{StateDir: t.TempDir(), FeedbackInterval: 20}
	tests := []struct {
		args    []string
		want    string
		wantErr bool
	}{
		{nil, ModeServe, false},
		{[]string{"chat"}, ModeChat, false},
		{[]string{"-store", "memory", "serve"}, ModeServe, false},
		{[]string{"dance"}, "", true},
		{[]string{"-feedback-interval", "0"}, "", true},
	}
	for _, tt := range tests {
		_, mode, err := parse(t, base, tt.args...)
		if (err != nil) != tt.wantErr || mode != tt.want {
			t.Errorf("args %v: mode = %q, err = %v", tt.args, mode, err)
		}
	}
}

func TestRunChat(t *testing.T) {
	config := Config{StoreKind: StoreMemory, FeedbackInterval: 20, ChatSession: "local", Seed: 7}
	in := strings.NewReader("hello\n\n/stats\nCategory: sleep\n/quit\nnever read\n")
	var out bytes.Buffer

	if err := runChat(config, in, &out); err != nil {
		t.Fatalf("runChat: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Session local:") {
		t.Errorf("missing summary banner:\n%s", text)
	}
	if strings.Count(text, "> ") < 4 {
		t.Errorf("expected a prompt per line:\n%s", text)
	}
	if !strings.Contains(text, "don't have any messages waiting") {
		t.Errorf("categorization without pending messages not answered:\n%s", text)
	}
	if strings.Contains(text, "<div") {
		t.Errorf("chat output carries markup:\n%s", text)
	}
}

func TestRunChatEOF(t *testing.T) {
	config := Config{StoreKind: StoreMemory, FeedbackInterval: 20, ChatSession: "local"}
	var out bytes.Buffer
	if err := runChat(config, strings.NewReader("hello"), &out); err != nil {
		t.Fatalf("runChat: %v", err)
	}
}

func TestInitializeLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	initializeLogger(&buf, "warn", "json")
	defer initializeLogger(&bytes.Buffer{}, "info", "text")

	slog.Info("info-line")
	slog.Warn("warn-line")
	out := buf.String()
	if strings.Contains(out, "info-line") || !strings.Contains(out, `"msg":"warn-line"`) {
		t.Errorf("log output = %q", out)
	}
}
