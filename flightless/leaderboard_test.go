package flightless

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaderboard_Standings(t *testing.T) {
	l := NewLeaderboard(0.1)

	observe := func(authorID string, n int) {
		for i := 0; i < n; i++ {
			m := testMessage(authorID, "hello")
			m.AuthorColour = 0xff0000
			m.AuthorRoles = []string{"member", "mod"}
			l.Observe(m)
		}
	}
	observe("a", 10)
	observe("b", 6)
	observe("c", 6)
	observe("d", 1)

	// ignored: other guilds, direct messages and bots
	dm := testMessage("a", "hi")
	dm.GuildID = ""
	l.Observe(dm)
	bot := testMessage("bot", "beep")
	bot.AuthorBot = true
	l.Observe(bot)
	other := testMessage("z", "hi")
	other.GuildID = "g2"
	l.Observe(other)

	s, ok := l.Standings("g1")
	require.True(t, ok)
	assert.Equal(t, "g1", s.GuildID)
	assert.Equal(t, 23, s.Total)

	require.Len(t, s.Users, 3)
	assert.Equal(t, "a", s.Users[0].UserID)
	assert.Equal(t, "usera", s.Users[0].Name)
	assert.Equal(t, 10, s.Users[0].Messages)
	assert.InDelta(t, 10.0/23.0, s.Users[0].Share, 1e-9)
	assert.Equal(t, 0xff0000, s.Users[0].Colour)
	assert.Equal(t, "mod", s.Users[0].TopRole)

	// ties are ordered by user ID
	assert.Equal(t, "b", s.Users[1].UserID)
	assert.Equal(t, "c", s.Users[2].UserID)

	assert.Equal(t, "Other users", s.Other.Name)
	assert.Equal(t, 1, s.Other.Messages)
	assert.InDelta(t, 1.0/23.0, s.Other.Share, 1e-9)

	s, ok = l.Standings("g2")
	require.True(t, ok)
	assert.Equal(t, 1, s.Total)
}

func TestLeaderboard_UnknownGuild(t *testing.T) {
	l := NewLeaderboard(DefaultOtherThreshold)
	_, ok := l.Standings("nope")
	assert.False(t, ok)
}

func TestLeaderboard_UsesLatestName(t *testing.T) {
	l := NewLeaderboard(0)
	m := testMessage("a", "hi")
	l.Observe(m)
	m.AuthorName = "renamed"
	l.Observe(m)

	s, ok := l.Standings("g1")
	require.True(t, ok)
	require.Len(t, s.Users, 1)
	assert.Equal(t, "renamed", s.Users[0].Name)
	assert.Equal(t, 2, s.Users[0].Messages)
	assert.Zero(t, s.Other.Messages)
}
