package flightless

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAdminID   = "1000"
	testAPISecret = "aksdfjakjsfdajfefIJHShi sfEISHSIDF HSIHDF"
)

// testNow is a Saturday
var testNow = time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

func DefaultTestConfig(t testing.TB) *Config {
	t.Helper()
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.AdminUserID = testAdminID
	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(
		tmpdir,
		fmt.Sprintf("%s.sqlite3", strings.ReplaceAll(t.Name(), "/", "_")),
	)
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.Discord.Token = "test-discord-token"
	cfg.Discord.ReconnectBackoff = time.Millisecond
	cfg.Discord.ReconnectMaxBackoff = 10 * time.Millisecond
	cfg.Discord.CustomStatus = "testing"
	cfg.Queue.MaxAge = 0

	cfg.API.Listen = "127.0.0.1:0"
	cfg.API.Secret = testAPISecret
	cfg.API.CORS.AllowOrigins = []string{"*"}

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.URLCheck.LogLevel.Set(logLevel)
	cfg.Translate.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}

// testLogger returns a WARN-level logger tagged with the test's name
func testLogger(t testing.TB) *slog.Logger {
	return slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     slog.LevelWarn,
				AddSource: true,
			},
		),
	).With("test_name", t.Name())
}

func TestDefaultTestConfigIsValid(t *testing.T) {
	cfg := DefaultTestConfig(t)
	require.NoError(t, structValidator.Struct(cfg))
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *Config)
	}{
		{
			name: "missing discord token",
			modify: func(cfg *Config) {
				cfg.Discord.Token = ""
			},
		},
		{
			name: "unknown database type",
			modify: func(cfg *Config) {
				cfg.DatabaseType = "mysql"
			},
		},
		{
			name: "missing prefix",
			modify: func(cfg *Config) {
				cfg.Prefix = ""
			},
		},
		{
			name: "startup timeout too short",
			modify: func(cfg *Config) {
				cfg.StartupTimeout = 0
			},
		},
		{
			name: "max backoff below backoff",
			modify: func(cfg *Config) {
				cfg.Discord.ReconnectBackoff = time.Minute
				cfg.Discord.ReconnectMaxBackoff = time.Second
			},
		},
		{
			name: "leaderboard threshold out of range",
			modify: func(cfg *Config) {
				cfg.Leaderboard.OtherThreshold = 1.5
			},
		},
		{
			name: "translate model missing with token",
			modify: func(cfg *Config) {
				cfg.Translate.Token = "sk-test"
				cfg.Translate.Model = ""
			},
		},
		{
			name: "api enabled without listen address",
			modify: func(cfg *Config) {
				cfg.API.Enabled = true
				cfg.API.Listen = ""
			},
		},
		{
			name: "ssl cert without key",
			modify: func(cfg *Config) {
				cfg.API.SSL.Cert = "/etc/ssl/cert.pem"
			},
		},
	}

	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				cfg := DefaultTestConfig(t)
				tc.modify(cfg)
				assert.Error(t, structValidator.Struct(cfg))
			},
		)
	}
}

func TestConfig_LogValueRedactsSecrets(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Translate.Token = "sk-very-secret"

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("config", "config", cfg)

	out := buf.String()
	assert.NotContains(t, out, cfg.Discord.Token)
	assert.NotContains(t, out, "sk-very-secret")
	assert.NotContains(t, out, testAPISecret)
	assert.Contains(t, out, "[redacted]")
	assert.Contains(t, out, "database_type=sqlite")
}

func TestCORSConfig_GINConfig(t *testing.T) {
	c := DefaultCORSConfig()
	gc := c.GINConfig()
	assert.True(t, gc.AllowAllOrigins)
	assert.Nil(t, gc.AllowOrigins)
	assert.Equal(t, DefaultCORSAllowMethods, gc.AllowMethods)

	c.AllowOrigins = []string{"https://example.com"}
	gc = c.GINConfig()
	assert.False(t, gc.AllowAllOrigins)
	assert.Equal(t, []string{"https://example.com"}, gc.AllowOrigins)
}
