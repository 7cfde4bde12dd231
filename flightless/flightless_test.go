package flightless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBot returns a bot whose gateway is a mockDiscordSession
func newTestBot(t *testing.T, cfg *Config) (*Bot, *mockDiscordSession) {
	t.Helper()
	b, err := New(cfg)
	require.NoError(t, err)

	session := newMockDiscordSession()
	b.discord.session = session
	b.supervisor = NewSupervisor(session, cfg.Discord, testLogger(t))
	b.discord.supervisor = b.supervisor
	return b, session
}

func TestNew(t *testing.T) {
	t.Run(
		"invalid database type", func(t *testing.T) {
			cfg := DefaultTestConfig(t)
			cfg.DatabaseType = "mysql"
			_, err := New(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid database type")
		},
	)
	t.Run(
		"missing discord config", func(t *testing.T) {
			cfg := DefaultTestConfig(t)
			cfg.Discord = nil
			_, err := New(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "discord config required")
		},
	)
	t.Run(
		"defaults", func(t *testing.T) {
			cfg := DefaultTestConfig(t)
			b, err := New(cfg)
			require.NoError(t, err)
			assert.NotNil(t, b.discord)
			assert.NotNil(t, b.supervisor)
			assert.NotNil(t, b.leaderboard)
			assert.NotNil(t, b.urlChecker)
			assert.Nil(t, b.translator)
			assert.Nil(t, b.api)
			assert.Nil(t, b.Engine())
		},
	)
	t.Run(
		"translator", func(t *testing.T) {
			cfg := DefaultTestConfig(t)
			cfg.Translate.Token = "sk-test"
			b, err := New(cfg)
			require.NoError(t, err)
			assert.NotNil(t, b.translator)
		},
	)
}

func TestBot_HandleMessage(t *testing.T) {
	b, session := newTestBot(t, DefaultTestConfig(t))
	b.engine, _ = newTestEngine(t, EngineConfig{BotName: "flightless"})
	ctx := context.Background()

	b.handleMessage(ctx, testMessage("42", "f/time"))
	embeds := session.Embeds()
	require.Len(t, embeds, 1)
	assert.Equal(t, "c1", embeds[0].ChannelID)
	assert.Equal(t, "It is 14:05 UTC on Saturday, 9 March 2024.", embeds[0].Embed.Description)
	assert.Equal(t, "Flightless", embeds[0].Embed.Author.Name)

	// not a command
	b.handleMessage(ctx, testMessage("42", "hello"))
	assert.Len(t, session.Embeds(), 1)

	// send errors are logged, not returned
	session.mu.Lock()
	session.sendErr = errors.New("missing permissions")
	session.mu.Unlock()
	b.handleMessage(ctx, testMessage("42", "f/time"))
	assert.Len(t, session.Embeds(), 1)
}

func TestBot_HandleMessageRecovers(t *testing.T) {
	b, session := newTestBot(t, DefaultTestConfig(t))
	// no engine loaded
	assert.NotPanics(
		t, func() {
			b.handleMessage(context.Background(), testMessage("42", "f/tags"))
		},
	)
	assert.Empty(t, session.Embeds())
}

func TestBot_Run(t *testing.T) {
	cfg := DefaultTestConfig(t)
	b, session := newTestBot(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()

	select {
	case <-b.Ready():
	case err := <-done:
		t.Fatalf("bot stopped before ready: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for ready")
	}

	session.dispatch(
		&discordgo.Ready{
			SessionID: "s1",
			User:      &discordgo.User{ID: "bot", Username: "kakapo"},
		},
	)
	assert.Equal(t, "kakapo", b.Engine().BotName())

	author := &discordgo.User{ID: "42", Username: "kiwi"}
	session.dispatch(messageCreate("m1", author, "f/tag create greet Hello there!"))
	session.dispatch(messageCreate("m2", author, "f/greet"))
	// the bot's own replies are ignored
	session.dispatch(messageCreate("m3", &discordgo.User{ID: "bot", Username: "kakapo"}, "f/greet"))

	require.Eventually(
		t, func() bool {
			return len(session.Embeds()) == 2
		}, 5*time.Second, 10*time.Millisecond,
	)
	embeds := session.Embeds()
	assert.Equal(t, "Hello there!", embeds[1].Embed.Description)
	assert.Equal(t, "Kakapo", embeds[1].Embed.Author.Name)
	require.NotNil(t, embeds[1].Embed.Footer)
	assert.Equal(t, "kiwi's tag", embeds[1].Embed.Footer.Text)

	status := b.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, "connected", status.State)
	assert.Equal(t, 1, status.Tags)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("bot didn't stop")
	}

	session.mu.Lock()
	assert.Equal(t, 1, session.opens)
	assert.Equal(t, 1, session.closes)
	assert.Equal(t, 4, session.removed)
	assert.Equal(t, "testing", session.status)
	session.mu.Unlock()

	// the tag survives a restart
	shelf, err := OpenShelf(context.Background(), cfg)
	require.NoError(t, err)
	defer func() {
		_ = shelf.Close()
	}()
	s, err := shelf.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, s.Tags, "greet")
	assert.Equal(t, "42", s.Tags["greet"].OwnerID)
}

func TestBot_RunSavesOnShutdown(t *testing.T) {
	b, _ := newTestBot(t, DefaultTestConfig(t))
	shelf := newMemoryShelf()
	b.shelf = shelf

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()
	select {
	case <-b.Ready():
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for ready")
	}
	cancel()
	require.NoError(t, <-done)

	shelf.mu.Lock()
	defer shelf.mu.Unlock()
	assert.True(t, shelf.closed)
	assert.Equal(t, 1, shelf.saves)
}

func TestBot_RunAuthFailure(t *testing.T) {
	b, session := newTestBot(t, DefaultTestConfig(t))
	session.openErr = &websocket.CloseError{Code: 4004, Text: "Authentication failed."}
	shelf := newMemoryShelf()
	b.shelf = shelf

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)

	shelf.mu.Lock()
	defer shelf.mu.Unlock()
	assert.True(t, shelf.closed)
}

func TestBot_RunInvalidConfig(t *testing.T) {
	cfg := DefaultTestConfig(t)
	b, session := newTestBot(t, cfg)
	cfg.Discord.Token = ""

	require.Error(t, b.Run(context.Background()))
	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Zero(t, session.opens)
}

func TestBot_Status(t *testing.T) {
	b, _ := newTestBot(t, DefaultTestConfig(t))

	st := b.Status()
	assert.Equal(t, "disconnected", st.State)
	assert.False(t, st.Connected)
	assert.Zero(t, st.Tags)
	assert.Zero(t, st.Uptime)
	assert.Equal(t, Version, st.Version)

	b.engine, _ = newTestEngine(t, EngineConfig{})
	mustCreateTag(t, b.engine, "42", "greet", "hi")
	require.NoError(t, b.engine.CreateAlias(context.Background(), "greet", "hello"))
	b.queue.Push(testMessage("42", "f/greet"))

	st = b.Status()
	assert.Equal(t, 1, st.Tags)
	assert.Equal(t, 1, st.Aliases)
	assert.Equal(t, 1, st.QueueSize)
}
