// Package league imports competitive matches, teams and rosters from the
// league APIs. The league-specific packages turn API responses into the
// types here; this package writes them.
package league

import (
	"context"

	"trends-importer/internal/db"
	"trends-importer/internal/roster"
	"trends-importer/internal/source"
	"trends-importer/internal/steamid"
)

// Competition is a season or cup
type Competition struct {
	League string
	CompID int64
	Name   string
	Format string
}

// Division of a competition. Tier sorts divisions, lower is better.
type Division struct {
	DivID int64
	Name  string
	Tier  int
}

type Player struct {
	SteamID    steamid.ID
	Name       string
	AvatarHash *string
	EUPlayerID *int64
}

// Transfer is one stint of a player on a team
type Transfer struct {
	Player   Player
	Rostered roster.Interval
}

// Team is one side of a match. TeamID is the league team id; for RGL it is
// assigned on import from the linked RGL team ids.
type Team struct {
	TeamID     int64
	RGLTeamID  *int64
	RGLTeamIDs []int64
	Name       string
	AvatarHash *string
	EndRank    *int
	Fetched    int64
	Score      *int64
	// Known is set when the team was not refetched and only its id is valid
	Known     bool
	Transfers []Transfer
}

type Match struct {
	Competition Competition
	Division    *Division
	MatchID     int64
	Teams       [2]*Team
	RoundSeq    *int
	RoundName   *string
	Scheduled   *int64
	Submitted   *int64
	Maps        []string
	Forfeit     bool
	Fetched     int64

	// CompDivStored skips importing the competition and division
	CompDivStored bool
}

// Provider is a league API or a directory of saved responses
type Provider interface {
	League() string
	// Entries lists match ids
	Entries(ctx context.Context) *source.Stream[source.Entry]
	// Match fetches one match. It returns false for matches that should not
	// be imported.
	Match(ctx context.Context, id int64) (*Match, bool, error)
	// Complete fills in what depends on the store: season data for new
	// divisions and whichever teams are out of date
	Complete(ctx context.Context, q db.Querier, m *Match, seasons *SeasonCache) error
}

// SeasonCache remembers per-competition data for one run
type SeasonCache struct {
	seasons map[int64]any
}

// NewSeasonCache creates an empty cache
func NewSeasonCache() *SeasonCache {
	return &SeasonCache{seasons: map[int64]any{}}
}

// Get returns the cached season, calling load on a miss. Failed loads are
// not cached.
func Get[T any](c *SeasonCache, id int64, load func() (T, error)) (T, error) {
	if v, ok := c.seasons[id]; ok {
		return v.(T), nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.seasons[id] = v
	return v, nil
}

// PerComp reports whether a league's teams change name between competitions.
// Their rosters are kept per competition too.
func PerComp(league string) bool {
	return league == "rgl"
}
