package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/alt1f923/flightless/flightless"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = flightless.DefaultConfig()
	configFile string
)

// levelKeys are the config keys holding a *slog.LevelVar
var levelKeys = []string{
	"log_level",
	"database_log_level",
	"url_check.log_level",
	"translate.log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"api.log_level",
}

var rootCmd = &cobra.Command{
	Use:           "flightless [flags]",
	Short:         "A Discord bot for tags and aliases",
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(" "),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		return nil
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names ('INFO', 'debug', ...)
// into a *slog.LevelVar
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	signal.Stop(signals)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("unable to load %s: %v", configFile, err)
		}
	}

	viper.SetDefault("prefix", flightless.DefaultPrefix)
	viper.SetDefault("admin_user_id", flightless.DefaultAdminUserID)
	viper.SetDefault("bot_name", flightless.DefaultBotName)

	viper.SetDefault("database", flightless.DefaultDatabase)
	viper.SetDefault("database_type", flightless.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		flightless.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		flightless.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", flightless.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", flightless.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", flightless.DefaultShutdownTimeout)

	viper.SetDefault("queue.max_age", flightless.DefaultQueueMaxAge)
	viper.SetDefault("queue.size", flightless.DefaultQueueSize)

	viper.SetDefault("url_check.timeout", flightless.DefaultURLCheckTimeout)
	viper.SetDefault(
		"url_check.log_level",
		flightless.DefaultURLCheckLogLevel.String(),
	)

	viper.SetDefault(
		"leaderboard.other_threshold",
		flightless.DefaultOtherThreshold,
	)

	// Translate config
	viper.SetDefault("translate.token", "")
	viper.SetDefault("translate.base_url", "")
	viper.SetDefault("translate.model", flightless.DefaultTranslateModel)
	viper.SetDefault(
		"translate.max_requests_per_second",
		flightless.DefaultTranslateMaxRPS,
	)
	viper.SetDefault("translate.timeout", flightless.DefaultTranslateTimeout)
	viper.SetDefault(
		"translate.log_level",
		flightless.DefaultTranslateLogLevel.String(),
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault(
		"discord.log_level",
		flightless.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		flightless.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		flightless.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.custom_status",
		flightless.DefaultDiscordCustomStatus,
	)
	viper.SetDefault(
		"discord.reconnect_backoff",
		flightless.DefaultReconnectBackoff,
	)
	viper.SetDefault(
		"discord.reconnect_max_backoff",
		flightless.DefaultReconnectMaxDelay,
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", flightless.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.log_level", flightless.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", flightless.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		flightless.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", flightless.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", flightless.DefaultIdleTimeout)

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	viper.SetDefault("api.ssl.tls_min_version", flightless.DefaultAPITLSMinVersion)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		flightless.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		flightless.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		flightless.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", flightless.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		flightless.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(flightless.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = flightless.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	for _, key := range levelKeys {
		if _, err := getLogLevel(viper.GetString(key)); err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
	}
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load config from",
	)
}
