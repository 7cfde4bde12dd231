package flightless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

var (
	// ErrAuthFailed means the gateway rejected the bot's credentials or
	// intents. Retrying won't help.
	ErrAuthFailed = errors.New("discord authentication failed")

	// ErrTransport means the gateway couldn't be reached, or the
	// connection dropped
	ErrTransport = errors.New("discord connection failed")
)

// Gateway close codes that won't succeed on retry
// See: https://discord.com/developers/docs/topics/opcodes-and-status-codes#gateway-gateway-close-event-codes
var fatalCloseCodes = map[int]string{
	4004: "authentication failed",
	4010: "invalid shard",
	4011: "sharding required",
	4012: "invalid API version",
	4013: "invalid intents",
	4014: "disallowed intents",
}

// classifyConnectError wraps err with ErrAuthFailed or ErrTransport
func classifyConnectError(err error) error {
	if err == nil {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if reason, ok := fatalCloseCodes[closeErr.Code]; ok {
			return fmt.Errorf("%w: %s: %w", ErrAuthFailed, reason, err)
		}
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// ConnectionState is the gateway connection's lifecycle state
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// validTransitions lists the states reachable from each state
var validTransitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting, StateDisconnected},
	StateConnected:    {StateReconnecting, StateDisconnected},
	StateReconnecting: {StateConnecting, StateConnected, StateDisconnected},
}

func canTransition(from, to ConnectionState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Gateway is the part of a Discord session the supervisor drives
type Gateway interface {
	Open() error
	Close() error
}

// Supervisor owns the gateway connection lifecycle. It opens the
// connection, retries transport failures with backoff, stops on
// authentication failures, and tracks the state discordgo reports
// through Connected and Disconnected.
type Supervisor struct {
	gateway    Gateway
	logger     *slog.Logger
	backoff    time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	state    ConnectionState
	closing  bool
	changed  chan struct{}
	onChange func(from, to ConnectionState)
}

func NewSupervisor(gateway Gateway, config *DiscordConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	backoff := DefaultReconnectBackoff
	maxBackoff := DefaultReconnectMaxDelay
	if config != nil {
		backoff = config.ReconnectBackoff
		if config.ReconnectMaxBackoff > 0 {
			maxBackoff = config.ReconnectMaxBackoff
		}
	}
	return &Supervisor{
		gateway:    gateway,
		logger:     logger.With(loggerNameKey, "supervisor"),
		backoff:    backoff,
		maxBackoff: maxBackoff,
		state:      StateDisconnected,
		changed:    make(chan struct{}),
	}
}

// State returns the current connection state
func (s *Supervisor) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChange registers a callback for state changes. Set it before Run.
func (s *Supervisor) OnChange(f func(from, to ConnectionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = f
}

// transition moves to the given state, ignoring invalid transitions
func (s *Supervisor) transition(to ConnectionState) bool {
	s.mu.Lock()
	from := s.state
	if from == to || !canTransition(from, to) {
		s.mu.Unlock()
		if from != to {
			s.logger.Debug("ignoring state transition", "from", from, "to", to)
		}
		return false
	}
	s.state = to
	close(s.changed)
	s.changed = make(chan struct{})
	onChange := s.onChange
	s.mu.Unlock()

	s.logger.Info("connection state changed", "from", from, "to", to)
	if onChange != nil {
		onChange(from, to)
	}
	return true
}

// WaitFor blocks until the state is want, or ctx is done
func (s *Supervisor) WaitFor(ctx context.Context, want ConnectionState) error {
	for {
		s.mu.Lock()
		state := s.state
		changed := s.changed
		s.mu.Unlock()
		if state == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Connected records a gateway connect event
func (s *Supervisor) Connected() {
	s.transition(StateConnected)
}

// Disconnected records a gateway disconnect event. Unless the
// supervisor is shutting down, discordgo will reconnect on its own.
func (s *Supervisor) Disconnected() {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		s.transition(StateDisconnected)
		return
	}
	s.transition(StateReconnecting)
}

// Run opens the gateway and keeps it open until ctx is done. Transport
// errors are retried with exponential backoff. An authentication
// failure is returned immediately, wrapped with ErrAuthFailed.
func (s *Supervisor) Run(ctx context.Context) error {
	s.transition(StateConnecting)

	delay := s.backoff
	limiter := rate.NewLimiter(rate.Inf, 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			s.transition(StateDisconnected)
			return nil
		}

		err := classifyConnectError(s.gateway.Open())
		if err == nil {
			s.transition(StateConnected)
			break
		}
		if errors.Is(err, ErrAuthFailed) {
			s.logger.ErrorContext(ctx, "unable to connect", tint.Err(err))
			s.transition(StateDisconnected)
			return err
		}

		s.logger.WarnContext(
			ctx,
			"unable to connect, retrying",
			"retry_in", delay,
			tint.Err(err),
		)
		s.transition(StateReconnecting)
		s.transition(StateConnecting)

		if delay > 0 {
			limiter.SetLimit(rate.Every(delay))
			// drain the burst token so the next Wait blocks for delay
			limiter.Allow()
		}
		delay *= 2
		if delay > s.maxBackoff {
			delay = s.maxBackoff
		}
	}

	<-ctx.Done()
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.logger.Info("closing gateway connection")
	if err := s.gateway.Close(); err != nil {
		s.logger.Error("error closing gateway connection", tint.Err(err))
	}
	s.transition(StateDisconnected)
	return nil
}
