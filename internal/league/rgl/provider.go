package rgl

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trends-importer/internal/db"
	"trends-importer/internal/fault"
	"trends-importer/internal/league"
	"trends-importer/internal/logger"
	"trends-importer/internal/source"
)

// staleAfter is how long after a match a team's roster may still change
const staleAfter = 12 * 60 * 60

// Provider implements league.Provider on top of a Backend
type Provider struct {
	backend Backend
	log     *logger.Logger
}

func NewProvider(b Backend, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.Discard()
	}
	return &Provider{backend: b, log: log.WithComponent("rgl")}
}

func (p *Provider) League() string { return League }

func (p *Provider) Entries(ctx context.Context) *source.Stream[source.Entry] {
	return p.backend.Entries(ctx)
}

func (p *Provider) Match(ctx context.Context, id int64) (*league.Match, bool, error) {
	m, err := p.backend.Match(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return ParseMatch(m, p.log)
}

// Complete loads the season for divisions not yet stored and refetches
// teams that are unknown or were last fetched before the match settled
func (p *Provider) Complete(ctx context.Context, q db.Querier, m *league.Match, seasons *league.SeasonCache) error {
	if err := p.season(ctx, q, m, seasons); err != nil {
		return err
	}

	var scheduled int64
	if m.Scheduled != nil {
		scheduled = *m.Scheduled
	}
	for _, t := range m.Teams {
		var (
			teamid  int64
			fetched int64
		)
		err := q.QueryRow(ctx, `SELECT teamid, coalesce(fetched, 0)
			FROM team_comp
			WHERE league = $1 AND rgl_teamid = $2`, League, *t.RGLTeamID).Scan(&teamid, &fetched)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return db.Classify("lookup rgl team", err)
		case fetched > scheduled+staleAfter:
			t.TeamID, t.Known = teamid, true
			continue
		}

		team, err := p.backend.Team(ctx, *t.RGLTeamID)
		if err != nil {
			return err
		}
		if m.Division != nil && team.DivisionID != m.Division.DivID {
			p.log.Info("Bad team division", "rgl_teamid", team.TeamID,
				"divid", team.DivisionID, "expected", m.Division.DivID)
		}
		if err := ParseTeam(t, team, p.log); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) season(ctx context.Context, q db.Querier, m *league.Match, seasons *league.SeasonCache) error {
	var one int
	err := q.QueryRow(ctx, `SELECT 1
		FROM division
		WHERE league = $1 AND compid = $2 AND divid = $3`,
		League, m.Competition.CompID, m.Division.DivID).Scan(&one)
	if err == nil {
		m.CompDivStored = true
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return db.Classify("lookup division", err)
	}

	info, err := league.Get(seasons, m.Competition.CompID, func() (SeasonInfo, error) {
		s, err := p.backend.Season(ctx, m.Competition.CompID)
		if err != nil {
			return SeasonInfo{}, err
		}
		return ParseSeason(s)
	})
	if err != nil {
		return err
	}

	tier, ok := info.Tiers[m.Division.DivID]
	if !ok {
		return fault.Parse("division tier", fmt.Errorf("division %d not in season %d",
			m.Division.DivID, m.Competition.CompID))
	}
	m.Competition.Format = info.Format
	m.Division.Tier = tier
	return nil
}
