package flightless

import (
	"sort"
	"sync"
)

// Standing is one author's share of a guild's messages
type Standing struct {
	UserID   string  `json:"user_id"`
	Name     string  `json:"name"`
	Messages int     `json:"messages"`
	Share    float64 `json:"share"`
	Colour   int     `json:"colour"`
	TopRole  string  `json:"top_role,omitempty"`
}

// GuildStandings are the leaderboard for one guild. Authors below the
// threshold are summed into Other.
type GuildStandings struct {
	GuildID string     `json:"guild_id"`
	Total   int        `json:"total"`
	Users   []Standing `json:"users"`
	Other   Standing   `json:"other"`
}

type authorScore struct {
	name    string
	count   int
	colour  int
	topRole string
}

type guildScore struct {
	total   int
	authors map[string]*authorScore
}

// Leaderboard counts observed messages per guild and author. Counting
// starts when the process does; history isn't backfilled.
type Leaderboard struct {
	mu             sync.Mutex
	guilds         map[string]*guildScore
	otherThreshold float64
}

func NewLeaderboard(otherThreshold float64) *Leaderboard {
	return &Leaderboard{
		guilds:         map[string]*guildScore{},
		otherThreshold: otherThreshold,
	}
}

// Observe counts m. Bot and direct messages are ignored.
func (l *Leaderboard) Observe(m Message) {
	if m.GuildID == "" || m.AuthorBot {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.guilds[m.GuildID]
	if !ok {
		g = &guildScore{authors: map[string]*authorScore{}}
		l.guilds[m.GuildID] = g
	}
	g.total++

	a, ok := g.authors[m.AuthorID]
	if !ok {
		a = &authorScore{}
		g.authors[m.AuthorID] = a
	}
	a.count++
	a.name = m.AuthorName
	a.colour = m.AuthorColour
	if len(m.AuthorRoles) > 0 {
		a.topRole = m.AuthorRoles[len(m.AuthorRoles)-1]
	}
}

// Standings returns the guild's leaderboard sorted by message count,
// or false if no messages have been observed for the guild yet.
func (l *Leaderboard) Standings(guildID string) (GuildStandings, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.guilds[guildID]
	if !ok || g.total == 0 {
		return GuildStandings{}, false
	}

	rv := GuildStandings{
		GuildID: guildID,
		Total:   g.total,
		Other:   Standing{Name: "Other users"},
	}
	for id, a := range g.authors {
		share := float64(a.count) / float64(g.total)
		if share < l.otherThreshold {
			rv.Other.Messages += a.count
			continue
		}
		rv.Users = append(
			rv.Users, Standing{
				UserID:   id,
				Name:     a.name,
				Messages: a.count,
				Share:    share,
				Colour:   a.colour,
				TopRole:  a.topRole,
			},
		)
	}
	rv.Other.Share = float64(rv.Other.Messages) / float64(g.total)

	sort.Slice(
		rv.Users, func(i, j int) bool {
			if rv.Users[i].Messages != rv.Users[j].Messages {
				return rv.Users[i].Messages > rv.Users[j].Messages
			}
			return rv.Users[i].UserID < rv.Users[j].UserID
		},
	)
	return rv, true
}
