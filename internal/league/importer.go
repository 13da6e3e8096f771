package league

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trends-importer/internal/cache"
	"trends-importer/internal/db"
	"trends-importer/internal/fault"
	"trends-importer/internal/logger"
	"trends-importer/internal/source"
)

// filterChunk is how many listed matches are checked against the store at once
const filterChunk = 100

// newSlack is subtracted from the newest stored match for --new
const newSlack = 6 * 60 * 60

var errSelfMatch = errors.New("team plays itself")

// Stats counts what happened to each listed match
type Stats struct {
	Imported int
	Skipped  int
	Failed   int
}

// Importer writes every match of a provider, one transaction per match
type Importer struct {
	conn  db.Beginner
	q     db.Querier
	store *Store
	log   *logger.Logger
	// Reimport imports matches that are already stored
	Reimport bool
}

// NewImporter creates an importer. conn is used for per-match transactions
// and q for read-only lookups outside them; a pool serves as both.
func NewImporter(conn db.Beginner, q db.Querier, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.Discard()
	}
	return &Importer{
		conn:  conn,
		q:     q,
		store: NewStore(log),
		log:   log.WithComponent("league"),
	}
}

// Run imports matches until the provider's listing is exhausted. Only fatal
// storage errors stop the run early.
func (im *Importer) Run(ctx context.Context, p Provider) (Stats, error) {
	league := p.League()
	entries := p.Entries(ctx)
	if !im.Reimport {
		entries = source.Chunked(entries, filterChunk, func(ctx context.Context, chunk []source.Entry) ([]source.Entry, error) {
			return im.notImported(ctx, league, chunk)
		})
	}

	var stats Stats
	seasons := NewSeasonCache()
	for entries.Next(ctx) {
		id := entries.Value().ID
		log := im.log.With("league", league, "matchid", id)

		err := im.importMatch(ctx, p, id, seasons, log)
		switch {
		case err == nil:
			stats.Imported++
		case errors.Is(err, errNotImported):
			stats.Skipped++
		case errors.Is(err, errSelfMatch):
			log.Info("Skipping match between a team and itself")
			stats.Skipped++
		case errors.Is(err, context.Canceled):
			im.log.Info("League import interrupted", "league", league, "imported", stats.Imported)
			return stats, nil
		case fault.IsFatal(err):
			return stats, err
		default:
			log.Warn("Could not import match", "error", err, "kind", fault.Classify(err).String())
			stats.Failed++
		}
	}
	if err := entries.Err(); err != nil && !errors.Is(err, context.Canceled) {
		if fault.IsFatal(err) {
			return stats, err
		}
		im.log.Warn("Match listing ended early", "league", league, "error", err)
	}

	im.log.Info("League import done", "league", league,
		"imported", stats.Imported, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

var errNotImported = errors.New("match not importable")

func (im *Importer) importMatch(ctx context.Context, p Provider, id int64, seasons *SeasonCache, log *logger.Logger) error {
	m, ok, err := p.Match(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug("Match not importable")
		return errNotImported
	}
	if !PerComp(m.Competition.League) && m.Teams[0].TeamID == m.Teams[1].TeamID {
		return errSelfMatch
	}

	return db.InTx(ctx, im.conn, func(tx pgx.Tx) error {
		if err := p.Complete(ctx, tx, m, seasons); err != nil {
			return err
		}
		if !m.CompDivStored {
			if err := im.store.ImportCompDiv(ctx, tx, m); err != nil {
				return err
			}
		}
		for _, t := range m.Teams {
			if t.Known {
				continue
			}
			if PerComp(m.Competition.League) {
				if err := im.store.ResolveRGLTeam(ctx, tx, t); err != nil {
					return err
				}
			}
			if err := im.store.ImportTeam(ctx, tx, m, t); err != nil {
				return err
			}
		}

		if m.Teams[0].TeamID == m.Teams[1].TeamID {
			return errSelfMatch
		}
		if m.Teams[0].TeamID > m.Teams[1].TeamID {
			m.Teams[0], m.Teams[1] = m.Teams[1], m.Teams[0]
		}
		if err := im.store.ImportMatch(ctx, tx, m); err != nil {
			return err
		}
		if err := cache.Enqueue(ctx, tx, cache.Matches); err != nil {
			return err
		}
		log.Debug("Imported match", "compid", m.Competition.CompID,
			"teamid1", m.Teams[0].TeamID, "teamid2", m.Teams[1].TeamID)
		return nil
	})
}

func (im *Importer) notImported(ctx context.Context, league string, chunk []source.Entry) ([]source.Entry, error) {
	ids := make([]int64, len(chunk))
	for i, e := range chunk {
		ids[i] = e.ID
	}
	rows, err := im.q.Query(ctx, `SELECT matchid FROM match WHERE league = $1 AND matchid = any($2)`, league, ids)
	if err != nil {
		return nil, db.Classify("filter imported matches", err)
	}
	stored, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, db.Classify("filter imported matches", err)
	}

	have := make(map[int64]bool, len(stored))
	for _, id := range stored {
		have[id] = true
	}
	kept := chunk[:0:0]
	for _, e := range chunk {
		if !have[e.ID] {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

// NewSince is the listing floor for --new: a few hours before the newest
// stored RGL schedule (never in the future) or ETF2L fetch. It is 0 when the
// league has no matches yet.
func NewSince(ctx context.Context, q db.Querier, league string) (int64, error) {
	var query string
	switch league {
	case "rgl":
		query = `SELECT least(max(scheduled), extract(EPOCH FROM now())::BIGINT) - $2
			FROM match WHERE league = $1`
	case "etf2l":
		query = `SELECT max(fetched) - $2 FROM match WHERE league = $1`
	default:
		return 0, fmt.Errorf("unknown league %q", league)
	}

	var since *int64
	if err := q.QueryRow(ctx, query, league, newSlack).Scan(&since); err != nil {
		return 0, db.Classify("newest match", err)
	}
	if since == nil {
		return 0, nil
	}
	return *since, nil
}
