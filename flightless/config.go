//nolint:lll // struct tags can't be split
package flightless

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	EnvvarSetEnvPrefix       = "FLIGHTLESS_ENV_PREFIX"
	DefaultEnvPrefix         = "FL"
	DefaultPrefix            = "f/"
	DefaultAdminUserID       = "165765321268002816"
	DefaultBotName           = "flightless"
	DefaultDatabaseType      = dbTypeSQLite
	DefaultDatabase          = "flightless.sqlite3"
	DefaultLogLevel          = slog.LevelInfo
	DefaultStartupTimeout    = 30 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultURLCheckTimeout   = 5 * time.Second
	DefaultQueueSize         = 100
	DefaultQueueMaxAge       = 2 * time.Minute
	DefaultOtherThreshold    = 0.0025
	DefaultTranslateModel    = "gpt-4o-mini"
	DefaultTranslateTimeout  = 20 * time.Second
	DefaultTranslateMaxRPS   = 1
	DefaultReconnectBackoff  = 5 * time.Second
	DefaultReconnectMaxDelay = 2 * time.Minute

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	DefaultAPIListen         = "127.0.0.1:5000"
	DefaultAPITLSMinVersion  = tls.VersionTLS12
	defaultListenNetwork     = "tcp"

	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	DefaultDiscordCustomStatus = "f/help"
	DefaultDiscordLogLevel     = slog.LevelInfo
	DefaultDiscordgoLogLevel   = slog.LevelWarn

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn
	DefaultURLCheckLogLevel      = slog.LevelInfo
	DefaultTranslateLogLevel     = slog.LevelInfo
	DefaultAPILogLevel           = slog.LevelInfo

	DefaultAPICORSAllowCredentials = false
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Prefix every command message must start with
	Prefix string `yaml:"prefix" mapstructure:"prefix" json:"prefix" binding:"required"`

	// AdminUserID may edit or delete any tag regardless of owner
	AdminUserID string `yaml:"admin_user_id" mapstructure:"admin_user_id" json:"admin_user_id"`

	// BotName is used in embed titles and footers when the gateway
	// hasn't reported the bot's own username yet
	BotName string `yaml:"bot_name" mapstructure:"bot_name" json:"bot_name"`

	// Database connection string, or file path for sqlite/bolt
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseType specifies the storage backend: 'sqlite', 'postgres' or 'bolt'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres bolt"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Queue holds the configuration for the inbound message queue
	Queue *QueueConfig `yaml:"queue" mapstructure:"queue" json:"queue"`

	// URLCheck configures the image liveness probe
	URLCheck *URLCheckConfig `yaml:"url_check" mapstructure:"url_check" json:"url_check"`

	// Leaderboard configures the 'top' command
	Leaderboard *LeaderboardConfig `yaml:"leaderboard" mapstructure:"leaderboard" json:"leaderboard"`

	// Translate configures the 'translate' command backend
	Translate *TranslateConfig `yaml:"translate" mapstructure:"translate" json:"translate"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Discord configures the gateway connection
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout bounds loading the store and opening the gateway
	// connection. If this is passed, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" binding:"min=1s"`

	// ShutdownTimeout is the time allowed for draining the queue and
	// the final save before connections are force-closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout" binding:"min=1s"`

	HTTPClient *http.Client `yaml:"-" mapstructure:"-" json:"-" log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// QueueConfig configures the inbound message queue between the gateway
// and the engine.
type QueueConfig struct {
	// Maximum number of buffered messages. Messages arriving while the
	// queue is full are dropped.
	Size int `yaml:"size" mapstructure:"size" json:"size" binding:"min=1"`

	// Messages older than this when dequeued are discarded. 0=unlimited
	MaxAge time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age" binding:"min=0"`
}

type URLCheckConfig struct {
	// Timeout for a single HEAD request
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=100ms"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

type LeaderboardConfig struct {
	// Authors with a smaller share of a guild's messages than this
	// fraction are grouped under "Other users"
	OtherThreshold float64 `yaml:"other_threshold" mapstructure:"other_threshold" json:"other_threshold" binding:"gte=0,lt=1"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. Message content is needed to read
	// prefix commands. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Status shown on the bot's profile once connected
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Initial delay between reconnect attempts after a transport failure
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff" mapstructure:"reconnect_backoff" json:"reconnect_backoff" binding:"min=0"`

	// Upper bound for the reconnect delay
	ReconnectMaxBackoff time.Duration `yaml:"reconnect_max_backoff" mapstructure:"reconnect_max_backoff" json:"reconnect_max_backoff" binding:"gtefield=ReconnectBackoff"`
}

// TranslateConfig configures the OpenAI-compatible backend used by the
// 'translate' command. The command replies with a notice when Token
// is empty.
type TranslateConfig struct {
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// BaseURL overrides the API endpoint, for OpenAI-compatible servers
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"omitempty,url"`

	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required_with=Token"`

	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"gte=0"`

	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Bearer token required on /api routes. When empty, /api routes are
	// rejected.
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`

	// Registers pprof handlers under /debug/pprof
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert" binding:"required_with=Key"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key" binding:"required_with=Cert"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowOrigins = nil
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string(nil), DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string(nil), DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string(nil), DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

func newLevelVar(level slog.Level) *slog.LevelVar {
	lv := &slog.LevelVar{}
	lv.Set(level)
	return lv
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	return &Config{
		Prefix:                DefaultPrefix,
		AdminUserID:           DefaultAdminUserID,
		BotName:               DefaultBotName,
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      newLevelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              newLevelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Queue: &QueueConfig{
			Size:   DefaultQueueSize,
			MaxAge: DefaultQueueMaxAge,
		},
		URLCheck: &URLCheckConfig{
			Timeout:  DefaultURLCheckTimeout,
			LogLevel: newLevelVar(DefaultURLCheckLogLevel),
		},
		Leaderboard: &LeaderboardConfig{
			OtherThreshold: DefaultOtherThreshold,
		},
		Translate: &TranslateConfig{
			Model:                DefaultTranslateModel,
			MaxRequestsPerSecond: DefaultTranslateMaxRPS,
			Timeout:              DefaultTranslateTimeout,
			LogLevel:             newLevelVar(DefaultTranslateLogLevel),
		},
		Discord: &DiscordConfig{
			GatewayIntents:      DefaultDiscordGatewayIntent,
			LogLevel:            newLevelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel:   newLevelVar(DefaultDiscordgoLogLevel),
			CustomStatus:        DefaultDiscordCustomStatus,
			ReconnectBackoff:    DefaultReconnectBackoff,
			ReconnectMaxBackoff: DefaultReconnectMaxDelay,
		},
		API: &APIConfig{
			Enabled:       false,
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          newLevelVar(DefaultAPILogLevel),
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
