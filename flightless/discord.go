package flightless

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const discordSendTimeout = 10 * time.Second

// Discord connects the gateway to the engine. MessageCreate events are
// converted to Message values and pushed onto the queue; replies are
// sent back as embeds.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger
	queue   *messageQueue

	supervisor *Supervisor
	onReady    func(botUser *discordgo.User)

	botUserID atomic.Value // string

	userNames   map[string]string
	userNamesMu sync.Mutex

	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64
	metricMessages    atomic.Int64
	metricReplies     atomic.Int64
	connected         atomic.Bool

	discordgoRemoveHandlerFuncs []func()
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig, queue *messageQueue) *Discord {
	var level slog.Leveler = DefaultDiscordLogLevel
	if config.LogLevel != nil {
		level = config.LogLevel
	}
	return &Discord{
		config:    config,
		queue:     queue,
		logger:    newComponentLogger("discord", level),
		userNames: map[string]string{},
	}
}

// newSession creates the discordgo session, routing its logs through
// slog
func (d *Discord) newSession(httpClient *http.Client) (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = false
	disc.StateEnabled = true
	disc.ShouldReconnectOnError = true
	disc.Identify.Intents = d.config.GatewayIntents
	if httpClient != nil {
		disc.Client = httpClient
	}
	session.session = disc

	var level slog.Leveler = DefaultDiscordgoLogLevel
	if d.config.DiscordGoLogLevel != nil {
		level = d.config.DiscordGoLogLevel
	}
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newComponentLogger("discordgo", level).Handler(),
	)
	session.SetLogLevel(level.Level())

	return session, nil
}

// addHandlers registers the gateway event handlers
func (d *Discord) addHandlers() {
	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(d.handlerConnect()),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(d.handlerReady()),
		d.session.AddHandler(d.handlerMessageCreate()),
	)
}

func (d *Discord) removeHandlers() {
	for _, f := range d.discordgoRemoveHandlerFuncs {
		f()
	}
	d.discordgoRemoveHandlerFuncs = nil
}

func (d *Discord) handlerReady() func(s *discordgo.Session, r *discordgo.Ready) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		if r == nil || r.User == nil {
			return
		}
		d.botUserID.Store(r.User.ID)
		d.logger.Info(
			"ready",
			"session_id", r.SessionID,
			slog.Group("user", "id", r.User.ID, "username", r.User.Username),
			"guilds", len(r.Guilds),
		)
		if d.onReady != nil {
			d.onReady(r.User)
		}
		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Warn("unable to set custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerConnect() func(s *discordgo.Session, c *discordgo.Connect) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("connected")
		if d.supervisor != nil {
			d.supervisor.Connected()
		}
	}
}

func (d *Discord) handlerDisconnect() func(s *discordgo.Session, c *discordgo.Disconnect) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected")
		if d.supervisor != nil {
			d.supervisor.Disconnected()
		}
	}
}

func (d *Discord) handlerMessageCreate() func(s *discordgo.Session, m *discordgo.MessageCreate) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m == nil || m.Message == nil || m.Author == nil {
			return
		}
		if botID, _ := d.botUserID.Load().(string); botID != "" && m.Author.ID == botID {
			return
		}
		d.metricMessages.Add(1)
		d.queue.Push(d.newMessage(m.Message))
	}
}

// newMessage converts a gateway message to the engine's Message
func (d *Discord) newMessage(m *discordgo.Message) Message {
	msg := Message{
		ID:         m.ID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		AuthorBot:  m.Author.Bot,
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		Text:       m.Content,
		Received:   time.Now(),
	}
	if m.Author.GlobalName != "" {
		msg.AuthorName = m.Author.GlobalName
	}
	if m.Member != nil {
		if m.Member.Nick != "" {
			msg.AuthorName = m.Member.Nick
		}
		msg.AuthorRoles = m.Member.Roles
	}
	if m.GuildID != "" {
		msg.GuildName = d.session.GuildName(m.GuildID)
		msg.AuthorColour = d.session.MemberColour(m.ChannelID, m.Author.ID)
	}
	d.cacheUserName(msg.AuthorID, msg.AuthorName)
	return msg
}

func (d *Discord) cacheUserName(userID string, name string) {
	if userID == "" || name == "" {
		return
	}
	d.userNamesMu.Lock()
	d.userNames[userID] = name
	d.userNamesMu.Unlock()
}

// UserName returns the display name of userID, from messages seen so
// far or from the API
func (d *Discord) UserName(ctx context.Context, userID string) string {
	d.userNamesMu.Lock()
	name, ok := d.userNames[userID]
	d.userNamesMu.Unlock()
	if ok {
		return name
	}

	u, err := d.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		d.logger.WarnContext(ctx, "unable to look up user", "user_id", userID, tint.Err(err))
		return ""
	}
	name = u.Username
	if u.GlobalName != "" {
		name = u.GlobalName
	}
	d.cacheUserName(userID, name)
	return name
}

// Send renders r as an embed and sends it to channelID
func (d *Discord) Send(ctx context.Context, channelID string, r *Reply, botName string) error {
	ctx, cancel := context.WithTimeout(ctx, discordSendTimeout)
	defer cancel()
	_, err := d.session.ChannelMessageSendEmbed(
		channelID,
		r.Embed(botName),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error sending reply: %w", err)
	}
	d.metricReplies.Add(1)
	return nil
}

// DiscordSessionHandler is the subset of *discordgo.Session the bot
// uses, so tests can replace the gateway
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler registers an event handler, returning a function to
	// remove it
	AddHandler(handler any) func()

	// ChannelMessageSendEmbed sends an embed to a channel
	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// User fetches a user by ID
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)

	// GuildName returns the guild's name, or "" if it isn't known
	GuildName(guildID string) string

	// MemberColour returns the colour of the member's highest coloured
	// role in the channel's guild, or 0
	MemberColour(channelID string, userID string) int

	// UpdateCustomStatus sets the bot's custom status
	UpdateCustomStatus(status string) error

	// SetLogLevel sets discordgo's log level
	SetLogLevel(lvl slog.Level)
}

// DiscordSession implements DiscordSessionHandler with a discordgo session
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendEmbed(channelID, embed, options...)
	if err != nil {
		d.logger.Error(
			"error sending embed",
			"channel_id", channelID,
			tint.Err(err),
		)
	} else {
		d.logger.Debug("sent embed", "channel_id", channelID, "message_id", msg.ID)
	}
	return msg, err
}

func (d DiscordSession) User(
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.User, error) {
	return d.session.User(userID, options...)
}

func (d DiscordSession) GuildName(guildID string) string {
	if d.session.State != nil {
		if g, err := d.session.State.Guild(guildID); err == nil {
			return g.Name
		}
	}
	g, err := d.session.Guild(guildID)
	if err != nil {
		d.logger.Warn("unable to look up guild", "guild_id", guildID, tint.Err(err))
		return ""
	}
	return g.Name
}

func (d DiscordSession) MemberColour(channelID string, userID string) int {
	if d.session.State == nil {
		return 0
	}
	return d.session.State.UserColor(userID, channelID)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) {
	d.session.LogLevel = slogLevelToDiscordgo(lvl)
}
