package flightless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/alt1f923/flightless/flightless.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var ErrStartupTimeout = errors.New("startup cancelled or timed out")

// Bot wires the gateway, the message queue, the engine and the admin
// API together.
//
// Messages arrive on discordgo's event goroutines and are pushed onto
// the queue. A single goroutine pops them, runs them through the
// engine, and sends any reply, so commands are handled in arrival
// order.
type Bot struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	shelf       Shelf
	engine      *Engine
	queue       *messageQueue
	discord     *Discord
	supervisor  *Supervisor
	leaderboard *Leaderboard
	translator  *OpenAITranslator
	urlChecker  URLChecker
	api         *API

	// signalReady receives once the gateway is connected and messages
	// are being handled
	signalReady chan struct{}
	startedAt   time.Time
	runMu       sync.Mutex
}

// New builds a Bot from config. Nothing is opened or connected until
// Run is called.
func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres, dbTypeBolt:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite', 'postgres' or 'bolt')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	var level slog.Leveler = DefaultLogLevel
	if config.LogLevel != nil {
		level = config.LogLevel
	}

	b := &Bot{
		config:      config,
		signalReady: make(chan struct{}, 1),
	}
	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     level,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	b.queue = newMessageQueue(config.Queue, b.logger)

	threshold := DefaultOtherThreshold
	if config.Leaderboard != nil {
		threshold = config.Leaderboard.OtherThreshold
	}
	b.leaderboard = NewLeaderboard(threshold)
	b.urlChecker = newHTTPURLChecker(config.URLCheck, config.HTTPClient)

	if config.Translate != nil && config.Translate.Token != "" {
		b.translator = newOpenAITranslator(config.Translate, config.HTTPClient)
	}

	if config.Discord == nil {
		errs = append(errs, errors.New("discord config required"))
	} else {
		b.discord = newDiscord(config.Discord, b.queue)
		session, err := b.discord.newSession(config.HTTPClient)
		if err != nil {
			errs = append(errs, err)
		}
		b.discord.session = session
		b.supervisor = NewSupervisor(session, config.Discord, b.logger)
		b.discord.supervisor = b.supervisor
	}

	if config.API != nil && config.API.Enabled {
		api, err := newAPI(b, config.API)
		if err != nil {
			errs = append(errs, err)
		}
		b.api = api
	}

	return b, errors.Join(errs...)
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// Engine returns the command engine. It's nil until Run has loaded the
// shelf.
func (b *Bot) Engine() *Engine {
	return b.engine
}

// Ready returns a channel that receives once the bot is connected
func (b *Bot) Ready() <-chan struct{} {
	return b.signalReady
}

// Run loads the shelf, connects to the gateway and handles messages
// until ctx is cancelled. The state is saved once more on the way out.
func (b *Bot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	if err := b.initRun(startCtx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return err
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(
		func() error {
			return b.supervisor.Run(gctx)
		},
	)
	g.Go(
		func() error {
			b.watchQueue(gctx)
			return nil
		},
	)
	if b.api != nil {
		g.Go(
			func() error {
				return b.api.Serve(gctx)
			},
		)
	}

	waitCtx, waitCancel := context.WithTimeout(gctx, b.config.StartupTimeout)
	defer waitCancel()
	if err := b.supervisor.WaitFor(waitCtx, StateConnected); err != nil {
		cancel()
		runErr := g.Wait()
		_ = b.shutdown(ctx)
		if runErr != nil {
			return runErr
		}
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrStartupTimeout, err)
	}

	b.signalReady <- struct{}{}
	logger.InfoContext(ctx, "sent ready signal")

	runErr := g.Wait()
	if runErr != nil {
		logger.ErrorContext(ctx, "stopped with error", tint.Err(runErr))
	}
	return errors.Join(runErr, b.shutdown(ctx))
}

// initRun opens the shelf and loads the engine from it
func (b *Bot) initRun(ctx context.Context) error {
	if b.shelf == nil {
		shelf, err := OpenShelf(ctx, b.config)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		b.shelf = shelf
	}

	var users UserNamer
	if b.discord != nil {
		users = b.discord
	}
	cfg := EngineConfig{
		Prefix:      b.config.Prefix,
		AdminUserID: b.config.AdminUserID,
		BotName:     b.config.BotName,
		URLChecker:  b.urlChecker,
		Leaderboard: b.leaderboard,
		Users:       users,
		Logger:      b.logger,
	}
	if b.translator != nil {
		cfg.Translator = b.translator
	}
	b.engine = NewEngine(b.shelf, cfg)

	if err := b.engine.Load(ctx); err != nil {
		return fmt.Errorf("error loading tags: %w", err)
	}

	if b.discord != nil {
		b.discord.onReady = func(u *discordgo.User) {
			b.engine.SetBotName(u.Username)
		}
		b.discord.addHandlers()
	}
	return nil
}

// watchQueue handles queued messages, one at a time, until ctx is done
func (b *Bot) watchQueue(ctx context.Context) {
	defer func() {
		b.logger.InfoContext(
			ctx,
			"queue watcher stopped",
			"queue_size", b.queue.Len(),
		)
	}()

	for {
		m, err := b.queue.Pop(ctx)
		if err != nil {
			return
		}
		b.handleMessage(ctx, m)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m Message) {
	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, rc)
		}
	}()

	reply := b.engine.Handle(ctx, m)
	if reply == nil {
		return
	}
	if b.discord == nil {
		return
	}
	// a reply already computed is sent even if shutdown has begun
	sendCtx := context.WithoutCancel(ctx)
	if err := b.discord.Send(sendCtx, m.ChannelID, reply, b.engine.BotName()); err != nil {
		b.logger.ErrorContext(
			ctx,
			"error sending reply",
			slog.Group("message", messageLogAttrs(m)...),
			tint.Err(err),
		)
	}
}

// shutdown saves the engine state and closes the shelf, within
// Config.ShutdownTimeout
func (b *Bot) shutdown(ctx context.Context) error {
	b.logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()

	closeCtx, closeCancel := context.WithTimeout(
		context.WithoutCancel(ctx),
		b.config.ShutdownTimeout,
	)
	defer closeCancel()

	if b.discord != nil {
		b.discord.removeHandlers()
	}

	var errs []error
	if b.engine != nil {
		if err := b.engine.Save(closeCtx); err != nil {
			b.logger.ErrorContext(ctx, "error saving tags", tint.Err(err))
			errs = append(errs, fmt.Errorf("%w: %w", ErrPersist, err))
		}
	}
	if b.shelf != nil {
		if err := b.shelf.Close(); err != nil {
			b.logger.ErrorContext(ctx, "error closing database", tint.Err(err))
			errs = append(errs, err)
		}
	}

	b.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_duration", time.Since(shutdownStart),
		"messages_dropped", b.queue.dropped.Load(),
		"messages_expired", b.queue.expired.Load(),
	)
	return errors.Join(errs...)
}

// BotStatus summarizes the bot's state for the health check
type BotStatus struct {
	State     string        `json:"state"`
	Connected bool          `json:"connected"`
	Tags      int           `json:"tags"`
	Aliases   int           `json:"aliases"`
	QueueSize int           `json:"queue_size"`
	Uptime    time.Duration `json:"uptime"`
	Version   string        `json:"version"`
}

func (b *Bot) Status() BotStatus {
	st := BotStatus{
		QueueSize: b.queue.Len(),
		Version:   Version,
	}
	if !b.startedAt.IsZero() {
		st.Uptime = time.Since(b.startedAt).Truncate(time.Second)
	}
	if b.supervisor != nil {
		state := b.supervisor.State()
		st.State = state.String()
		st.Connected = state == StateConnected
	}
	if b.engine != nil {
		s := b.engine.Snapshot()
		st.Tags = len(s.Tags)
		st.Aliases = len(s.Aliases)
	}
	return st
}

func handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	if nerr, ok := rc.(error); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(nerr),
			"stack_trace", stackTrace,
		)
		return
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", stackTrace,
	)
}
