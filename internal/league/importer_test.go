package league_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trends-importer/internal/db"
	"trends-importer/internal/db/dbtest"
	"trends-importer/internal/fault"
	"trends-importer/internal/league"
	"trends-importer/internal/roster"
	"trends-importer/internal/source"
	"trends-importer/internal/steamid"
)

type fakeProvider struct {
	name    string
	matches map[int64]*league.Match
	fetched []int64
}

func (p *fakeProvider) League() string { return p.name }

func (p *fakeProvider) Entries(context.Context) *source.Stream[source.Entry] {
	var entries []source.Entry
	for id := int64(1); id <= 5; id++ {
		entries = append(entries, source.Entry{ID: id})
	}
	return source.FromSlice(entries)
}

func (p *fakeProvider) Match(_ context.Context, id int64) (*league.Match, bool, error) {
	p.fetched = append(p.fetched, id)
	if id == 4 {
		return nil, false, fault.Parse("match 4", nil)
	}
	m, ok := p.matches[id]
	return m, ok, nil
}

func (p *fakeProvider) Complete(context.Context, db.Querier, *league.Match, *league.SeasonCache) error {
	return nil
}

func team(id int64, name string, score int64, xfers ...league.Transfer) *league.Team {
	return &league.Team{TeamID: id, Name: name, Fetched: 500, Score: &score, Transfers: xfers}
}

func xfer(account int64, iv roster.Interval) league.Transfer {
	return league.Transfer{
		Player:   league.Player{SteamID: steamid.FromAccount(account), Name: "p"},
		Rostered: iv,
	}
}

func TestImporter(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	pool := database.Pool()

	comp := league.Competition{League: "etf2l", CompID: 1, Name: "Season 1", Format: "sixes"}
	div := &league.Division{DivID: 3, Name: "Premiership", Tier: 0}
	scheduled := int64(1000)
	p := &fakeProvider{
		name: "etf2l",
		matches: map[int64]*league.Match{
			// Teams arrive in the wrong order
			1: {
				Competition: comp, Division: div, MatchID: 1,
				Teams: [2]*league.Team{
					team(20, "Reds", 5, xfer(1, roster.From(100)), xfer(1, roster.Until(300))),
					team(10, "Blues", 3, xfer(2, roster.From(100))),
				},
				Scheduled: &scheduled, Maps: []string{"cp_process_final"}, Fetched: 500,
			},
			2: {
				Competition: comp, MatchID: 2,
				Teams:   [2]*league.Team{team(10, "Blues", 0), team(10, "Blues", 0)},
				Fetched: 500,
			},
		},
	}

	im := league.NewImporter(pool, pool, nil)
	stats, err := im.Run(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, league.Stats{Imported: 1, Skipped: 3, Failed: 1}, stats)

	var (
		teamid1, teamid2 int64
		score1, score2   int64
		maps             []string
		divid            int64
	)
	require.NoError(t, pool.QueryRow(ctx, `SELECT teamid1, teamid2, score1, score2, maps, divid
		FROM match WHERE league = 'etf2l' AND matchid = 1`).
		Scan(&teamid1, &teamid2, &score1, &score2, &maps, &divid))
	assert.Equal(t, int64(10), teamid1)
	assert.Equal(t, int64(20), teamid2)
	assert.Equal(t, int64(3), score1, "scores follow their teams")
	assert.Equal(t, int64(5), score2)
	assert.Equal(t, []string{"cp_process_final"}, maps)
	assert.Equal(t, int64(3), divid)

	var rostered []string
	rows, err := pool.Query(ctx, `SELECT rostered::TEXT FROM team_player
		WHERE league = 'etf2l' AND compid IS NULL ORDER BY teamid, steamid64`)
	require.NoError(t, err)
	for rows.Next() {
		var r string
		require.NoError(t, rows.Scan(&r))
		rostered = append(rostered, r)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"[100,)", "[100,300)"}, rostered)

	var queued int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM cache_purge WHERE key = 'matches'").Scan(&queued))
	assert.Equal(t, 1, queued)

	// Stored matches are not fetched again unless reimporting
	p.fetched = nil
	_, err = im.Run(ctx, p)
	require.NoError(t, err)
	assert.NotContains(t, p.fetched, int64(1))

	p.fetched = nil
	im.Reimport = true
	_, err = im.Run(ctx, p)
	require.NoError(t, err)
	assert.Contains(t, p.fetched, int64(1))

	since, err := league.NewSince(ctx, pool, "etf2l")
	require.NoError(t, err)
	assert.Equal(t, int64(500-6*60*60), since)
	since, err = league.NewSince(ctx, pool, "rgl")
	require.NoError(t, err)
	assert.Zero(t, since)
}
