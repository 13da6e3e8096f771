// Package commit batches staged records into transactions and runs the
// set-based passes that finish a batch before it is published.
package commit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trends-importer/internal/db"
	"trends-importer/internal/logger"
	"trends-importer/internal/staging"
)

// Batch is the entity-specific half of a commit
type Batch interface {
	// Prepare creates the staging tables on the connection
	Prepare(ctx context.Context, q db.Querier) error
	// Stage adds one record to the open batch transaction
	Stage(ctx context.Context, tx pgx.Tx, id int64, raw []byte) (staging.Result, error)
	// Flush runs the commit passes and publishes staged rows
	Flush(ctx context.Context, tx pgx.Tx) error
	// Committed is called once the batch transaction has committed
	Committed()
}

// State of the coordinator
type State int

const (
	Accumulating State = iota
	Committing
)

func (s State) String() string {
	if s == Committing {
		return "committing"
	}
	return "accumulating"
}

// Stats counts record outcomes over a run
type Stats struct {
	Staged     int
	HeaderOnly int
	Partial    int
	Rejected   int
	Skipped    int
	Commits    int
}

// Imported is the number of records that made it into the store
func (s Stats) Imported() int {
	return s.Staged + s.HeaderOnly + s.Partial
}

func (s *Stats) add(o staging.Outcome) {
	switch o {
	case staging.Staged:
		s.Staged++
	case staging.HeaderOnly:
		s.HeaderOnly++
	case staging.Partial:
		s.Partial++
	case staging.Rejected:
		s.Rejected++
	case staging.Skipped:
		s.Skipped++
	}
}

// Coordinator owns the open batch transaction. A batch is committed once it
// has been open longer than the interval or holds more than max records.
type Coordinator struct {
	conn     db.Beginner
	batch    Batch
	interval time.Duration
	max      int
	now      func() time.Time
	log      *logger.Logger

	state   State
	tx      pgx.Tx
	count   int
	started time.Time
	stats   Stats
}

// NewCoordinator creates a coordinator. conn must be a single connection:
// the staging tables only exist there.
func NewCoordinator(conn db.Beginner, batch Batch, interval time.Duration, max int, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}
	return &Coordinator{
		conn:     conn,
		batch:    batch,
		interval: interval,
		max:      max,
		now:      time.Now,
		log:      log.WithComponent("commit"),
	}
}

// State reports whether a commit is in progress
func (c *Coordinator) State() State {
	return c.state
}

// Stats returns the outcome counts so far
func (c *Coordinator) Stats() Stats {
	return c.stats
}

// Add stages one record and commits the batch if a threshold is exceeded.
// The returned error is fatal; the batch has been rolled back.
func (c *Coordinator) Add(ctx context.Context, id int64, raw []byte) (staging.Result, error) {
	if c.tx == nil {
		tx, err := c.conn.Begin(ctx)
		if err != nil {
			return staging.Result{}, db.Classify("begin batch", err)
		}
		c.tx, c.count, c.started = tx, 0, c.now()
	}

	res, err := c.batch.Stage(ctx, c.tx, id, raw)
	if err != nil {
		c.Abort(ctx)
		return staging.Result{}, fmt.Errorf("stage %d: %w", id, err)
	}
	c.stats.add(res.Outcome)
	if res.Outcome.Imported() {
		c.count++
	}

	if c.now().Sub(c.started) > c.interval || c.count > c.max {
		if err := c.commit(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Close commits whatever is staged
func (c *Coordinator) Close(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	return c.commit(ctx)
}

// Abort rolls back the open batch
func (c *Coordinator) Abort(ctx context.Context) {
	if c.tx == nil {
		return
	}
	if err := c.tx.Rollback(ctx); err != nil {
		c.log.Warn("rollback failed", "error", err)
	}
	c.tx = nil
	c.state = Accumulating
}

func (c *Coordinator) commit(ctx context.Context) error {
	c.state = Committing
	start := c.now()

	if err := c.batch.Flush(ctx, c.tx); err != nil {
		c.Abort(ctx)
		return fmt.Errorf("flush batch: %w", err)
	}
	if err := c.tx.Commit(ctx); err != nil {
		c.tx = nil
		c.state = Accumulating
		return db.Classify("commit batch", err)
	}
	c.batch.Committed()

	c.stats.Commits++
	c.log.Info("Committed batch", "records", c.count, "took", c.now().Sub(start))
	c.tx, c.count = nil, 0
	c.state = Accumulating
	return nil
}
