package commit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trends-importer/internal/db"
	"trends-importer/internal/fault"
	"trends-importer/internal/staging"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.rolledBack = true
	return nil
}

type fakeConn struct {
	txs []*fakeTx
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	c.txs = append(c.txs, tx)
	return tx, nil
}

type fakeBatch struct {
	outcomes map[int64]staging.Outcome
	stageErr error
	flushErr error
	staged   []int64
	flushes  int
	commits  int
}

func (b *fakeBatch) Prepare(context.Context, db.Querier) error { return nil }

func (b *fakeBatch) Stage(_ context.Context, _ pgx.Tx, id int64, _ []byte) (staging.Result, error) {
	if b.stageErr != nil {
		return staging.Result{}, b.stageErr
	}
	b.staged = append(b.staged, id)
	return staging.Result{Outcome: b.outcomes[id]}, nil
}

func (b *fakeBatch) Flush(context.Context, pgx.Tx) error {
	b.flushes++
	return b.flushErr
}

func (b *fakeBatch) Committed() { b.commits++ }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newCoordinator(batch Batch, interval time.Duration, max int) (*Coordinator, *fakeConn, *clock) {
	conn := &fakeConn{}
	clk := &clock{t: time.Unix(1600000000, 0)}
	c := NewCoordinator(conn, batch, interval, max, nil)
	c.now = clk.now
	return c, conn, clk
}

func TestCoordinator_CommitsWhenCountExceeded(t *testing.T) {
	batch := &fakeBatch{}
	c, conn, _ := newCoordinator(batch, time.Hour, 2)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		_, err := c.Add(ctx, id, nil)
		require.NoError(t, err)
	}
	require.Len(t, conn.txs, 1)
	assert.True(t, conn.txs[0].committed, "the third record exceeds the maximum of two")
	assert.Equal(t, 1, batch.commits)

	_, err := c.Add(ctx, 4, nil)
	require.NoError(t, err)
	require.Len(t, conn.txs, 2)
	assert.False(t, conn.txs[1].committed)

	require.NoError(t, c.Close(ctx))
	assert.True(t, conn.txs[1].committed)
	assert.Equal(t, 2, c.Stats().Commits)
	assert.Equal(t, 4, c.Stats().Staged)
	assert.Equal(t, Accumulating, c.State())
}

func TestCoordinator_CommitsWhenIntervalExceeded(t *testing.T) {
	batch := &fakeBatch{}
	c, conn, clk := newCoordinator(batch, time.Minute, 100)
	ctx := context.Background()

	_, err := c.Add(ctx, 1, nil)
	require.NoError(t, err)
	clk.t = clk.t.Add(time.Minute)
	_, err = c.Add(ctx, 2, nil)
	require.NoError(t, err)
	assert.False(t, conn.txs[0].committed, "the interval must be strictly exceeded")

	clk.t = clk.t.Add(time.Second)
	_, err = c.Add(ctx, 3, nil)
	require.NoError(t, err)
	assert.True(t, conn.txs[0].committed)

	// The timer restarts with the next batch
	_, err = c.Add(ctx, 4, nil)
	require.NoError(t, err)
	assert.False(t, conn.txs[1].committed)
}

func TestCoordinator_OnlyImportedRecordsCount(t *testing.T) {
	batch := &fakeBatch{outcomes: map[int64]staging.Outcome{
		1: staging.Rejected,
		2: staging.Skipped,
		3: staging.Rejected,
		4: staging.Partial,
	}}
	c, conn, _ := newCoordinator(batch, time.Hour, 1)
	ctx := context.Background()

	for id := int64(1); id <= 4; id++ {
		_, err := c.Add(ctx, id, nil)
		require.NoError(t, err)
	}
	assert.False(t, conn.txs[0].committed)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Rejected)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Partial)
	assert.Equal(t, 1, stats.Imported())
}

func TestCoordinator_FlushFailureRollsBack(t *testing.T) {
	batch := &fakeBatch{flushErr: fault.Fatal("publish log", errors.New("disk full"))}
	c, conn, _ := newCoordinator(batch, time.Hour, 0)
	ctx := context.Background()

	_, err := c.Add(ctx, 1, nil)
	require.Error(t, err)
	assert.True(t, fault.IsFatal(err))
	assert.True(t, conn.txs[0].rolledBack)
	assert.False(t, conn.txs[0].committed)
	assert.Zero(t, batch.commits)
	assert.Equal(t, Accumulating, c.State())
}

func TestCoordinator_StageFailureRollsBack(t *testing.T) {
	batch := &fakeBatch{stageErr: fault.Fatal("stage log", errors.New("connection reset"))}
	c, conn, _ := newCoordinator(batch, time.Hour, 10)
	ctx := context.Background()

	_, err := c.Add(ctx, 1, nil)
	require.Error(t, err)
	assert.True(t, conn.txs[0].rolledBack)
	assert.NoError(t, c.Close(ctx), "nothing is left to commit")
}

func TestCoordinator_CloseWithoutRecords(t *testing.T) {
	batch := &fakeBatch{}
	c, conn, _ := newCoordinator(batch, time.Hour, 10)
	require.NoError(t, c.Close(context.Background()))
	assert.Empty(t, conn.txs)
	assert.Zero(t, batch.flushes)
}
