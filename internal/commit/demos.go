package commit

import (
	"context"

	"github.com/jackc/pgx/v5"

	"trends-importer/internal/cache"
	"trends-importer/internal/db"
	"trends-importer/internal/staging"
)

// DemoBatch commits staged demos
type DemoBatch struct {
	writer *staging.Writer
}

// NewDemoBatch creates the demo half of a commit
func NewDemoBatch(w *staging.Writer) *DemoBatch {
	return &DemoBatch{writer: w}
}

// Prepare implements Batch
func (b *DemoBatch) Prepare(ctx context.Context, q db.Querier) error {
	return db.CreateDemoStaging(ctx, q)
}

// Stage implements Batch
func (b *DemoBatch) Stage(ctx context.Context, tx pgx.Tx, id int64, raw []byte) (staging.Result, error) {
	return b.writer.StageDemo(ctx, tx, id, raw)
}

// Flush implements Batch
func (b *DemoBatch) Flush(ctx context.Context, tx pgx.Tx) error {
	if err := db.Publish(ctx, tx, db.DemoTables); err != nil {
		return err
	}
	if err := cache.Enqueue(ctx, tx, cache.Demos); err != nil {
		return err
	}
	return db.Truncate(ctx, tx, db.DemoTables)
}

// Committed implements Batch
func (b *DemoBatch) Committed() {}
