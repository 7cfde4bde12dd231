package flightless

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
)

const (
	pprofPrefix      = "/debug"
	apiPrefix        = "/api"
	apiHealthCheck   = "/healthz"
	apiPathTags      = "/tags"
	apiPathTag       = "/tags/:name"
	apiPathAliases   = "/aliases"
	apiPathTopGuild  = "/top/:guild"
	xRequestIDHeader = "X-Request-ID"
	bearerPrefix     = "Bearer "
)

var (
	structValidator = validator.New()
)

// API is the optional admin HTTP server. It exposes the tag and alias
// tables and the leaderboard, and lets an operator delete tags and
// create aliases as the administrator.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger

	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex

	handlers *APIHandlers
}

// newAPI sets up the gin engine, middleware and routes
func newAPI(b *Bot, config *APIConfig) (*API, error) {
	var level slog.Leveler = DefaultAPILogLevel
	if config.LogLevel != nil {
		level = config.LogLevel
	}
	logger := newComponentLogger("api", level)

	if !config.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		logger:         logger,
		requestMetrics: map[string]int{},
	}

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" {
		var err error
		tlsCfg, err = tlsConfig(
			config.SSL.Cert,
			config.SSL.Key,
			config.SSL.TLSMinVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	if config.Secret == "" {
		logger.Warn("api secret not set, /api routes will reject all requests")
	}

	handlers := &APIHandlers{b: b, logger: logger}
	api.handlers = handlers

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		metricMiddleware(api),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, handlers.healthCheck)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(config.Secret, logger))

	protected.GET(apiPathTags, handlers.getTags)
	protected.GET(apiPathTag, handlers.getTag)
	protected.DELETE(apiPathTag, handlers.deleteTag)
	protected.GET(apiPathAliases, handlers.getAliases)
	protected.POST(apiPathAliases, handlers.createAlias)
	protected.GET(apiPathTopGuild, handlers.getTop)

	return api, nil
}

// Serve listens on the configured address until ctx is done, then
// shuts the server down gracefully
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		network := a.config.ListenNetwork
		if network == "" {
			network = defaultListenNetwork
		}
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, network, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "addr", a.listener.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error shutting down api server", tint.Err(err))
		}
	}()

	err := a.httpServer.Serve(a.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// APIHandlers holds the handlers for the admin API routes
type APIHandlers struct {
	b      *Bot
	logger *slog.Logger
}

// healthCheckResponse is the body of /healthz
type healthCheckResponse struct {
	BotStatus
}

// httpReply represents a standard HTTP response message.
type httpReply struct {
	Message string `json:"message"`
}

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

// createAliasPayload is the body of POST /api/aliases
type createAliasPayload struct {
	Target string `json:"target" binding:"required,max=64"`
	Alias  string `json:"alias" binding:"required,max=64"`
}

type tagsResponse struct {
	Tags []*Tag `json:"tags"`
}

type aliasesResponse struct {
	Aliases []Alias `json:"aliases"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, healthCheckResponse{BotStatus: h.b.Status()})
}

// engineOrUnavailable returns the engine, or aborts with 503 if the
// bot hasn't loaded it yet
func (h *APIHandlers) engineOrUnavailable(c *gin.Context) *Engine {
	e := h.b.Engine()
	if e == nil {
		c.AbortWithStatusJSON(
			http.StatusServiceUnavailable,
			httpError{Error: "not ready"},
		)
	}
	return e
}

// getTags lists every tag. ?owner=<id> filters by owner.
func (h *APIHandlers) getTags(c *gin.Context) {
	e := h.engineOrUnavailable(c)
	if e == nil {
		return
	}
	owner := c.Query("owner")
	s := e.Snapshot()
	tags := make([]*Tag, 0, len(s.Tags))
	for _, name := range s.TagNames() {
		t := s.Tags[name]
		if owner != "" && t.OwnerID != owner {
			continue
		}
		tags = append(tags, t)
	}
	c.JSON(http.StatusOK, tagsResponse{Tags: tags})
}

// getTag returns the tag the name resolves to
func (h *APIHandlers) getTag(c *gin.Context) {
	e := h.engineOrUnavailable(c)
	if e == nil {
		return
	}
	t, ok := e.GetTag(c.Param("name"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: ErrTagNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

// deleteTag deletes a tag and its aliases, as the administrator
func (h *APIHandlers) deleteTag(c *gin.Context) {
	e := h.engineOrUnavailable(c)
	if e == nil {
		return
	}
	logger := ginContextLogger(c)
	ctx := WithLogger(c.Request.Context(), logger)

	canonical, err := e.DeleteTag(ctx, c.Param("name"), h.b.config.AdminUserID)
	switch {
	case err == nil:
		ginReplyMessage(c, fmt.Sprintf("deleted %s", canonical))
	case errors.Is(err, ErrTagNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: err.Error()})
	case errors.Is(err, ErrNotTagOwner):
		c.AbortWithStatusJSON(http.StatusForbidden, httpError{Error: err.Error()})
	default:
		logger.ErrorContext(ctx, "error deleting tag", tint.Err(err))
		_ = c.Error(err)
		ginReplyError(c, "error deleting tag")
	}
}

func (h *APIHandlers) getAliases(c *gin.Context) {
	e := h.engineOrUnavailable(c)
	if e == nil {
		return
	}
	c.JSON(http.StatusOK, aliasesResponse{Aliases: e.Snapshot().AliasList()})
}

func (h *APIHandlers) createAlias(c *gin.Context) {
	e := h.engineOrUnavailable(c)
	if e == nil {
		return
	}
	logger := ginContextLogger(c)
	ctx := WithLogger(c.Request.Context(), logger)

	var payload createAliasPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if err := structValidator.Struct(payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	err := e.CreateAlias(ctx, payload.Target, payload.Alias)
	switch {
	case err == nil:
		c.JSON(
			http.StatusCreated,
			Alias{Name: normalizeName(payload.Alias), Target: e.Resolve(payload.Alias)},
		)
	case errors.Is(err, ErrAliasConflict):
		c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: err.Error()})
	case errors.Is(err, ErrAliasTargetMissing):
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: err.Error()})
	case errors.Is(err, ErrInvalidName):
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
	default:
		logger.ErrorContext(ctx, "error creating alias", tint.Err(err))
		_ = c.Error(err)
		ginReplyError(c, "error creating alias")
	}
}

func (h *APIHandlers) getTop(c *gin.Context) {
	standings, ok := h.b.leaderboard.Standings(c.Param("guild"))
	if !ok {
		c.AbortWithStatusJSON(
			http.StatusNotFound,
			httpError{Error: "no messages seen for guild"},
		)
		return
	}
	c.JSON(http.StatusOK, standings)
}

// authMiddleware requires 'Authorization: Bearer <secret>'. With no
// secret configured, every request is rejected.
func authMiddleware(secret string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, bearerPrefix)
		if secret == "" || !found ||
			subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			logger.Warn(
				"unauthorized api request",
				"path", c.Request.URL.Path,
				"remote_ip", c.RemoteIP(),
			)
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns a random request ID to each request, and
// echoes it in the X-Request-ID response header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(16)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request logger set by
// ginLoggingMiddleware, or the default logger
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := logger.(*slog.Logger); ok {
			return requestLogger
		}
	}
	return slog.Default()
}

// ginLoggingMiddleware logs each request with its duration and status
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID, _ := c.Get(xRequestIDHeader)
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}
		requestLogger := logger.With(
			slog.Group(
				"request",
				"method", c.Request.Method,
				"path", path,
				"remote_ip", c.RemoteIP(),
				"user_agent", c.Request.UserAgent(),
			),
			slog.Any(xRequestIDHeader, requestID),
		)
		c.Set(string(loggerContextKey), requestLogger)

		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, e.Err)
		}
		attrs := []any{
			"duration", latency,
			slog.Group(
				"response",
				"status_code", c.Writer.Status(),
				"body_size", c.Writer.Size(),
			),
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, path),
				append(attrs, tint.Err(errors.Join(errs...)))...,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, path),
			attrs...,
		)
	}
}

// metricMiddleware counts requests per method and route
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := fmt.Sprintf("%s %s", c.Request.Method, route)

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()
		a.requestMetrics[key]++
	}
}

// RequestCount returns how many requests matched method and route
func (a *API) RequestCount(method string, route string) int {
	a.requestMetricsMu.Lock()
	defer a.requestMetricsMu.Unlock()
	return a.requestMetrics[fmt.Sprintf("%s %s", method, route)]
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}
