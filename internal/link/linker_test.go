package link_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trends-importer/internal/db/dbtest"
	"trends-importer/internal/link"
)

func TestLinker(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	pool := database.Pool()

	setup := []string{
		`INSERT INTO player (steamid64, name) SELECT id, 'p' || id FROM generate_series(1, 24) AS id`,
		`INSERT INTO demo (demoid, url, server, duration, map, time, red_name, blue_name,
			red_score, blue_score, players)
			VALUES (7, '', '', 1800, 'cp_process_final', 1000100, 'RED', 'BLU', 5, 3,
				ARRAY(SELECT generate_series(1, 12)::BIGINT))`,
		`INSERT INTO log (logid, time, duration, title, map, red_score, blue_score, uploader,
			uploader_name, updated)
			VALUES (1, 1000000, 1800, 'RED vs BLU', 'cp_process_final', 5, 3, 1, 'p1', 0)`,
		`INSERT INTO player_stats (logid, steamid64, team, name, kills, assists, deaths, dmg)
			SELECT 1, id, CASE WHEN id <= 6 THEN 'Red' ELSE 'Blue' END, 'p' || id, 0, 0, 0, 0
			FROM generate_series(1, 12) AS id`,
		`INSERT INTO competition (league, compid, format, name) VALUES ('etf2l', 1, 'sixes', 'Season 1')`,
		`INSERT INTO league_team (league, teamid, name) VALUES ('etf2l', 10, 'Blues'), ('etf2l', 20, 'Reds')`,
		`INSERT INTO team_player (league, teamid, steamid64, rostered)
			SELECT 'etf2l', CASE WHEN id <= 6 THEN 20 ELSE 10 END, id, int8range(0, NULL)
			FROM generate_series(1, 12) AS id`,
		`INSERT INTO match (league, matchid, compid, teamid1, teamid2, scheduled, fetched)
			VALUES ('etf2l', 99, 1, 10, 20, 1003600, 0)`,
	}
	for _, stmt := range setup {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	l := link.New(pool, nil)
	n, err := l.Demos(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = l.Matches(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var (
		demoid     int64
		league     string
		matchid    int64
		team1IsRed bool
		updated    int64
	)
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT demoid, league, matchid, team1_is_red, updated FROM log WHERE logid = 1").
		Scan(&demoid, &league, &matchid, &team1IsRed, &updated))
	assert.Equal(t, int64(7), demoid)
	assert.Equal(t, "etf2l", league)
	assert.Equal(t, int64(99), matchid)
	assert.False(t, team1IsRed, "team 1 played blue")
	assert.Positive(t, updated)

	// Nothing is left to link
	n, err = l.Demos(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = l.Matches(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	var queued int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM cache_purge").Scan(&queued))
	assert.Equal(t, 3, queued)
}
