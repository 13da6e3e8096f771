package etf2l

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trends-importer/internal/db"
	"trends-importer/internal/fault"
	"trends-importer/internal/league"
	"trends-importer/internal/logger"
	"trends-importer/internal/source"
)

// Provider implements league.Provider on top of a Backend. Results carry
// the whole match, so listing them is enough to import them.
type Provider struct {
	backend Backend
	results map[int64]*Result
	now     func() time.Time
	log     *logger.Logger
}

func NewProvider(b Backend, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.Discard()
	}
	return &Provider{
		backend: b,
		results: map[int64]*Result{},
		now:     time.Now,
		log:     log.WithComponent("etf2l"),
	}
}

func (p *Provider) League() string { return League }

func (p *Provider) Entries(ctx context.Context) *source.Stream[source.Entry] {
	results := p.backend.Results(ctx)
	return source.NewStream(func(ctx context.Context) (source.Entry, bool, error) {
		if !results.Next(ctx) {
			return source.Entry{}, false, results.Err()
		}
		r := results.Value()
		p.results[r.ID] = &r

		var ts int64
		if r.Time != nil {
			ts = *r.Time
		}
		return source.Entry{ID: r.ID, Time: ts}, true, nil
	})
}

func (p *Provider) Match(_ context.Context, id int64) (*league.Match, bool, error) {
	r, ok := p.results[id]
	if !ok {
		return nil, false, fmt.Errorf("result %d was not listed: %w", id, fault.ErrNoData)
	}
	delete(p.results, id)

	m, err := ParseResult(r, p.log)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Complete refetches the transfers of teams last fetched no later than the
// result, starting from that fetch
func (p *Provider) Complete(ctx context.Context, q db.Querier, m *league.Match, _ *league.SeasonCache) error {
	for _, t := range m.Teams {
		var fetched int64
		err := q.QueryRow(ctx, `SELECT coalesce(fetched, 0)
			FROM league_team
			WHERE league = $1 AND teamid = $2`, League, t.TeamID).Scan(&fetched)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return db.Classify("lookup etf2l team", err)
		}

		if fetched > m.Fetched {
			t.Fetched = fetched
			continue
		}
		t.Fetched = p.now().Unix()

		xfers, err := p.backend.Transfers(ctx, t.TeamID, fetched)
		if err != nil {
			return err
		}
		for i := range xfers {
			xfer, err := ParseTransfer(&xfers[i], p.log)
			if err != nil {
				p.log.Warn("Skipping transfer", "teamid", t.TeamID, "error", err)
				continue
			}
			t.Transfers = append(t.Transfers, xfer)
		}
	}
	return nil
}
