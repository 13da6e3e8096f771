// Package importer runs one import command end to end: listing, filtering,
// fetching and staging records, committing batches, and draining the cache
// purge queue afterwards.
package importer

import (
	"context"
	"errors"
	"time"

	"trends-importer/internal/commit"
	"trends-importer/internal/config"
	"trends-importer/internal/db"
	"trends-importer/internal/dedup"
	"trends-importer/internal/fault"
	"trends-importer/internal/logger"
	"trends-importer/internal/source"
	"trends-importer/internal/staging"
)

// seedEstimate sizes the fingerprint prefilter before the seed count is known
const seedEstimate = 1 << 18

// Quarantine keeps payloads that could not be staged
type Quarantine interface {
	Add(kind string, id int64, cause error, payload []byte) error
}

// Options tune a record run
type Options struct {
	UpdateOnly bool
	Commit     config.CommitConfig
	Horizon    time.Duration
}

// Report sums up a record run
type Report struct {
	commit.Stats
	Fetched     int
	NotFound    int
	FetchFailed int
	Quarantined int
	Interrupted bool
}

// Records imports logs or demos
type Records struct {
	db    *db.DB
	kind  Kind
	opts  Options
	spool Quarantine
	log   *logger.Logger
}

// NewRecords creates a record importer. spool may be nil, in which case
// rejected payloads are only logged.
func NewRecords(d *db.DB, kind Kind, opts Options, spool Quarantine, log *logger.Logger) *Records {
	if log == nil {
		log = logger.Discard()
	}
	return &Records{
		db:    d,
		kind:  kind,
		opts:  opts,
		spool: spool,
		log:   log.WithComponent(string(kind) + "s"),
	}
}

func (r *Records) batch(ctx context.Context, w *staging.Writer) (commit.Batch, error) {
	if r.kind == Demos {
		return commit.NewDemoBatch(w), nil
	}
	filter := dedup.NewFilter(seedEstimate, r.log)
	n, err := filter.Seed(ctx, r.db.Pool(), r.opts.Horizon)
	if err != nil {
		return nil, err
	}
	r.log.Debug("Seeded fingerprint filter", "fingerprints", n, "horizon", r.opts.Horizon)
	return commit.NewLogBatch(w, filter, r.log), nil
}

// Run imports every record src lists that is not already stored.
//
// stop ends fetching at the next record boundary; whatever is staged by then
// is still committed under ctx. The returned error is fatal: the open batch
// has been rolled back.
func (r *Records) Run(ctx, stop context.Context, src source.Source) (Report, error) {
	var rep Report

	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return rep, err
	}
	defer conn.Release()

	w, err := staging.NewWriter(r.log)
	if err != nil {
		return rep, err
	}
	defer w.Close()

	batch, err := r.batch(ctx, w)
	if err != nil {
		return rep, err
	}
	if err := batch.Prepare(ctx, conn); err != nil {
		return rep, err
	}
	coord := commit.NewCoordinator(conn, batch, r.opts.Commit.Interval, r.opts.Commit.MaxRecords, r.log)

	entries := source.Chunked(src.Entries(stop), filterChunk, Unstored(r.db.Pool(), r.kind, r.opts.UpdateOnly))
	for entries.Next(stop) {
		id := entries.Value().ID

		raw, found, err := src.Fetch(stop, id)
		if stop.Err() != nil {
			break
		}
		switch {
		case err != nil && fault.Classify(err) == fault.KindFatalStorage:
			coord.Abort(ctx)
			rep.Stats = coord.Stats()
			return rep, err
		case err != nil:
			r.log.Warn("Could not fetch", "id", id, "kind", fault.Classify(err), "error", err)
			rep.FetchFailed++
			continue
		case !found:
			rep.NotFound++
			continue
		}
		rep.Fetched++

		res, err := coord.Add(ctx, id, raw)
		if err != nil {
			rep.Stats = coord.Stats()
			return rep, err
		}
		if res.Outcome == staging.Rejected {
			r.quarantine(id, res.Err, raw, &rep)
		}
	}

	if err := entries.Err(); err != nil && !errors.Is(err, context.Canceled) {
		if fault.Classify(err) == fault.KindFatalStorage {
			coord.Abort(ctx)
			rep.Stats = coord.Stats()
			return rep, err
		}
		r.log.Warn("Listing ended early", "error", err)
	}
	rep.Interrupted = stop.Err() != nil
	if rep.Interrupted {
		r.log.Info("Interrupted, committing staged records")
	}

	if err := coord.Close(ctx); err != nil {
		rep.Stats = coord.Stats()
		return rep, err
	}
	rep.Stats = coord.Stats()
	r.log.Info("Import finished",
		"imported", rep.Imported(),
		"rejected", rep.Rejected,
		"not_found", rep.NotFound,
		"fetch_failed", rep.FetchFailed,
		"commits", rep.Commits)
	return rep, nil
}

func (r *Records) quarantine(id int64, cause error, raw []byte, rep *Report) {
	r.log.Warn("Rejected", "id", id, "error", cause)
	if r.spool == nil {
		return
	}
	if err := r.spool.Add(string(r.kind), id, cause, raw); err != nil {
		r.log.Error("Could not quarantine payload", "id", id, "error", err)
		return
	}
	rep.Quarantined++
}
