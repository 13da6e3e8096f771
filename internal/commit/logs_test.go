package commit_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trends-importer/internal/commit"
	"trends-importer/internal/db"
	"trends-importer/internal/db/dbtest"
	"trends-importer/internal/dedup"
	"trends-importer/internal/staging"
)

func TestLogBatch_Commit(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()

	raw, err := os.ReadFile("../staging/testdata/log.json")
	require.NoError(t, err)

	conn, err := database.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	w, err := staging.NewWriter(nil)
	require.NoError(t, err)
	defer w.Close()
	filter := dedup.NewFilter(0, nil)
	batch := commit.NewLogBatch(w, filter, nil)
	require.NoError(t, batch.Prepare(ctx, conn))

	c := commit.NewCoordinator(conn, batch, time.Hour, 100, nil)
	// The same payload under two ids is a duplicate upload
	for _, id := range []int64{10, 11} {
		res, err := c.Add(ctx, id, raw)
		require.NoError(t, err)
		assert.Equal(t, staging.Staged, res.Outcome)
	}
	require.NoError(t, c.Close(ctx))
	assert.Equal(t, 1, c.Stats().Commits)

	var duplicateOf *int64
	require.NoError(t, conn.QueryRow(ctx,
		"SELECT duplicate_of FROM log WHERE logid = 10").Scan(&duplicateOf))
	require.NotNil(t, duplicateOf)
	assert.Equal(t, int64(11), *duplicateOf)

	var format string
	require.NoError(t, conn.QueryRow(ctx, "SELECT format FROM log WHERE logid = 11").Scan(&format))
	assert.Equal(t, "other", format, "two players fit no format")

	var players int
	require.NoError(t, conn.QueryRow(ctx,
		"SELECT count(*) FROM player_stats WHERE logid = 10").Scan(&players))
	assert.Zero(t, players, "the earlier upload keeps only its header")

	var (
		wins, losses, ties int
		classes            []string
		hits, shots        *int64
	)
	require.NoError(t, conn.QueryRow(ctx,
		`SELECT wins, losses, ties, classes, hits, shots
		FROM player_stats WHERE logid = 11 AND steamid64 = 76561197960265758`).
		Scan(&wins, &losses, &ties, &classes, &hits, &shots))
	// Blue won one round, the other has no winner but is long enough to tie
	assert.Equal(t, 0, wins)
	assert.Equal(t, 1, losses)
	assert.Equal(t, 1, ties)
	assert.Equal(t, []string{"medic"}, classes)
	assert.Equal(t, int64(4), *hits)
	assert.Equal(t, int64(10), *shots)

	var queued int
	require.NoError(t, conn.QueryRow(ctx, "SELECT count(*) FROM cache_purge").Scan(&queued))
	assert.Equal(t, 2+2, queued, "two logs and the players of the kept one")

	var staged int
	require.NoError(t, conn.QueryRow(ctx, "SELECT count(*) FROM staged_log").Scan(&staged))
	assert.Zero(t, staged)

	// A later batch finds the committed duplicate through the filter
	c = commit.NewCoordinator(conn, batch, time.Hour, 100, nil)
	_, err = c.Add(ctx, 12, raw)
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))
	require.NoError(t, conn.QueryRow(ctx,
		"SELECT duplicate_of FROM log WHERE logid = 11").Scan(&duplicateOf))
	require.NotNil(t, duplicateOf)
	assert.Equal(t, int64(12), *duplicateOf)
}

// importOnce stages raw under each id in one batch and commits it
func importOnce(t *testing.T, conn *pgxpool.Conn, filter *dedup.Filter, raw []byte, ids ...int64) []staging.Result {
	t.Helper()
	ctx := context.Background()
	w, err := staging.NewWriter(nil)
	require.NoError(t, err)
	defer w.Close()
	batch := commit.NewLogBatch(w, filter, nil)
	require.NoError(t, batch.Prepare(ctx, conn))

	c := commit.NewCoordinator(conn, batch, time.Hour, 100, nil)
	var results []staging.Result
	for _, id := range ids {
		res, err := c.Add(ctx, id, raw)
		require.NoError(t, err)
		results = append(results, res)
	}
	require.NoError(t, c.Close(ctx))
	return results
}

func loadFixture(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile("../staging/testdata/log.json")
	require.NoError(t, err)
	return raw
}

// Test: a log with negative damage is dropped whole, header included
func TestLogBatch_BogusLogLeavesNoTrace(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	raw := loadFixture(t)
	bogus := strings.Replace(string(raw), `"dmg": 4000, "total_time": 99999`, `"dmg": -5, "total_time": 99999`, 1)
	require.NotEqual(t, string(raw), bogus)

	conn, err := database.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	results := importOnce(t, conn, dedup.NewFilter(0, nil), []byte(bogus), 40)
	assert.Equal(t, staging.Staged, results[0].Outcome)

	for _, table := range db.LogTables {
		var n int
		require.NoError(t, conn.QueryRow(ctx,
			fmt.Sprintf("SELECT count(*) FROM %s WHERE logid = 40", table.Name)).Scan(&n))
		assert.Zero(t, n, table.Name)
	}
}

type logSnapshot struct {
	Rows        map[string]int
	Format      *string
	DuplicateOf *int64
	Records     map[int64][3]*int
	Accuracy    map[int64][2]*int64
}

func snapshot(t *testing.T, conn *pgxpool.Conn, logid int64) logSnapshot {
	t.Helper()
	ctx := context.Background()
	snap := logSnapshot{
		Rows:     map[string]int{},
		Records:  map[int64][3]*int{},
		Accuracy: map[int64][2]*int64{},
	}
	for _, table := range db.LogTables {
		var n int
		require.NoError(t, conn.QueryRow(ctx,
			fmt.Sprintf("SELECT count(*) FROM %s WHERE logid = $1", table.Name), logid).Scan(&n))
		snap.Rows[table.Name] = n
	}
	require.NoError(t, conn.QueryRow(ctx,
		"SELECT format, duplicate_of FROM log WHERE logid = $1", logid).Scan(&snap.Format, &snap.DuplicateOf))

	rows, err := conn.Query(ctx,
		"SELECT steamid64, wins, losses, ties, hits, shots FROM player_stats WHERE logid = $1", logid)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var (
			id                 int64
			wins, losses, ties *int
			hits, shots        *int64
		)
		require.NoError(t, rows.Scan(&id, &wins, &losses, &ties, &hits, &shots))
		snap.Records[id] = [3]*int{wins, losses, ties}
		snap.Accuracy[id] = [2]*int64{hits, shots}
	}
	require.NoError(t, rows.Err())
	return snap
}

// Test: importing the same log again leaves rows and aggregates as they were
func TestLogBatch_ReimportIsIdempotent(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	raw := loadFixture(t)

	conn, err := database.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	importOnce(t, conn, dedup.NewFilter(0, nil), raw, 50)
	first := snapshot(t, conn, 50)
	require.Equal(t, 1, first.Rows["log"])
	require.NotZero(t, first.Rows["player_stats"])

	filter := dedup.NewFilter(0, nil)
	_, err = filter.Seed(ctx, conn, 100*365*24*time.Hour)
	require.NoError(t, err)
	results := importOnce(t, conn, filter, raw, 50)
	assert.Equal(t, staging.Staged, results[0].Outcome)

	second := snapshot(t, conn, 50)
	assert.Equal(t, first, second)
	assert.Nil(t, second.DuplicateOf, "a log is never its own duplicate")
}

// Test: a log older than the seeded range still finds its committed twin
func TestLogBatch_OldCommittedDuplicate(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	raw := loadFixture(t)

	conn, err := database.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	importOnce(t, conn, dedup.NewFilter(0, nil), raw, 60)

	// The fixture is from 2020, far outside an hour's horizon
	filter := dedup.NewFilter(0, nil)
	n, err := filter.Seed(ctx, conn, time.Hour)
	require.NoError(t, err)
	require.Zero(t, n)
	importOnce(t, conn, filter, raw, 61)

	var duplicateOf *int64
	require.NoError(t, conn.QueryRow(ctx,
		"SELECT duplicate_of FROM log WHERE logid = 60").Scan(&duplicateOf))
	require.NotNil(t, duplicateOf)
	assert.Equal(t, int64(61), *duplicateOf)

	var players int
	require.NoError(t, conn.QueryRow(ctx,
		"SELECT count(*) FROM player_stats WHERE logid = 60").Scan(&players))
	assert.Zero(t, players)
}
