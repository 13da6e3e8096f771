package league

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"trends-importer/internal/db"
	"trends-importer/internal/logger"
	"trends-importer/internal/roster"
)

// Store writes league data inside a caller's transaction
type Store struct {
	log *logger.Logger
}

func NewStore(log *logger.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	return &Store{log: log.WithComponent("league")}
}

// ImportCompDiv adds the competition and division of a match if they are new
func (s *Store) ImportCompDiv(ctx context.Context, tx pgx.Tx, m *Match) error {
	c := m.Competition
	_, err := tx.Exec(ctx, `INSERT INTO competition (league, compid, format, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`, c.League, c.CompID, c.Format, c.Name)
	if err != nil {
		return db.Classify("import competition", err)
	}
	if m.Division == nil {
		return nil
	}

	d := m.Division
	_, err = tx.Exec(ctx, `INSERT INTO division (league, compid, divid, name, tier)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`, c.League, c.CompID, d.DivID, d.Name, d.Tier)
	return db.Classify("import division", err)
}

// ResolveRGLTeam finds the league team behind any of a team's linked RGL
// team ids, or allocates a new one
func (s *Store) ResolveRGLTeam(ctx context.Context, tx pgx.Tx, t *Team) error {
	rows, err := tx.Query(ctx, `SELECT teamid
		FROM team_comp
		WHERE league = 'rgl' AND rgl_teamid = any($1)
		GROUP BY teamid
		ORDER BY teamid`, t.RGLTeamIDs)
	if err != nil {
		return db.Classify("resolve rgl team", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return db.Classify("resolve rgl team", err)
	}

	switch len(ids) {
	case 0:
		err := tx.QueryRow(ctx, "SELECT nextval('league_team_teamid_seq')").Scan(&t.TeamID)
		return db.Classify("allocate team id", err)
	case 1:
	default:
		s.log.Warn("Too many teams match linked rgl team ids", "rgl_teamids", t.RGLTeamIDs, "teamids", ids)
	}
	t.TeamID = ids[0]
	return nil
}

// ImportTeam upserts a refetched team and merges its transfers into the
// stored rosters
func (s *Store) ImportTeam(ctx context.Context, tx pgx.Tx, m *Match, t *Team) error {
	league := m.Competition.League
	perComp := PerComp(league)

	// Per-competition leagues keep names on team_comp instead
	var (
		name, avatar *string
		fetched      *int64
	)
	if !perComp {
		name, avatar, fetched = &t.Name, t.AvatarHash, &t.Fetched
	}
	_, err := tx.Exec(ctx, `INSERT INTO league_team (league, teamid, name, avatarhash, fetched)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (league, teamid) DO UPDATE SET
			name = EXCLUDED.name,
			avatarhash = EXCLUDED.avatarhash,
			fetched = greatest(EXCLUDED.fetched, league_team.fetched)`,
		league, t.TeamID, name, avatar, fetched)
	if err != nil {
		return db.Classify("import team", err)
	}

	name, avatar, fetched = nil, nil, nil
	if perComp {
		name, avatar, fetched = &t.Name, t.AvatarHash, &t.Fetched
	}
	var divid *int64
	if m.Division != nil {
		divid = &m.Division.DivID
	}
	_, err = tx.Exec(ctx, `INSERT INTO team_comp (league, teamid, compid, divid, name, rgl_teamid,
			end_rank, avatarhash, fetched)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (league, teamid, compid) DO UPDATE SET
			divid = EXCLUDED.divid,
			name = EXCLUDED.name,
			avatarhash = EXCLUDED.avatarhash,
			end_rank = EXCLUDED.end_rank,
			fetched = greatest(EXCLUDED.fetched, team_comp.fetched)`,
		league, t.TeamID, m.Competition.CompID, divid, name, t.RGLTeamID, t.EndRank, avatar, fetched)
	if err != nil {
		return db.Classify("import team competition", err)
	}

	if len(t.Transfers) == 0 {
		return nil
	}
	return s.importTransfers(ctx, tx, m, t)
}

func (s *Store) importTransfers(ctx context.Context, tx pgx.Tx, m *Match, t *Team) error {
	league := m.Competition.League
	var compid *int64
	if PerComp(league) {
		compid = &m.Competition.CompID
	}

	byPlayer := map[int64][]roster.Interval{}
	players := map[int64]Player{}
	for _, xfer := range t.Transfers {
		id := int64(xfer.Player.SteamID)
		byPlayer[id] = append(byPlayer[id], xfer.Rostered)
		if _, ok := players[id]; !ok {
			players[id] = xfer.Player
		}
	}
	ids := make([]int64, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	b := &pgx.Batch{}
	for _, id := range ids {
		p := players[id]
		b.Queue(`INSERT INTO player (steamid64, name, avatarhash, eu_playerid)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (steamid64) DO UPDATE SET
				name = coalesce(player.name, EXCLUDED.name),
				avatarhash = coalesce(player.avatarhash, EXCLUDED.avatarhash),
				eu_playerid = coalesce(EXCLUDED.eu_playerid, player.eu_playerid)`,
			id, p.Name, p.AvatarHash, p.EUPlayerID)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return db.Classify("import roster players", err)
	}

	for _, id := range ids {
		rows, err := tx.Query(ctx, `SELECT rostered
			FROM team_player
			WHERE league = $1 AND teamid = $2 AND steamid64 = $3
				AND (compid = $4 OR compid IS NULL)`,
			league, t.TeamID, id, compid)
		if err != nil {
			return db.Classify("load roster", err)
		}
		stored, err := pgx.CollectRows(rows, pgx.RowTo[pgtype.Range[pgtype.Int8]])
		if err != nil {
			return db.Classify("load roster", err)
		}
		existing := make([]roster.Interval, 0, len(stored))
		for _, r := range stored {
			if iv, ok := fromRange(r); ok {
				existing = append(existing, iv)
			}
		}

		res := roster.Merge(existing, byPlayer[id])
		for _, iv := range res.Delete {
			_, err := tx.Exec(ctx, `DELETE FROM team_player
				WHERE league = $1 AND teamid = $2 AND steamid64 = $3
					AND (compid = $4 OR compid IS NULL) AND rostered = $5`,
				league, t.TeamID, id, compid, toRange(iv))
			if err != nil {
				return db.Classify("delete roster interval", err)
			}
		}
		for _, iv := range res.Insert {
			_, err := tx.Exec(ctx, `INSERT INTO team_player (league, teamid, compid, steamid64, rostered)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT DO NOTHING`,
				league, t.TeamID, compid, id, toRange(iv))
			if err != nil {
				return db.Classify("insert roster interval", err)
			}
		}
		if len(res.Delete)+len(res.Insert) > 0 {
			s.log.Debug("Merged roster", "teamid", t.TeamID, "steamid64", id,
				"deleted", len(res.Delete), "inserted", len(res.Insert))
		}
	}
	return nil
}

// ImportMatch upserts the match. Teams must already be ordered.
func (s *Store) ImportMatch(ctx context.Context, tx pgx.Tx, m *Match) error {
	t1, t2 := m.Teams[0], m.Teams[1]
	if t1.TeamID >= t2.TeamID {
		return fmt.Errorf("match %d: team %d must sort before team %d", m.MatchID, t1.TeamID, t2.TeamID)
	}
	var divid *int64
	if m.Division != nil {
		divid = &m.Division.DivID
	}

	_, err := tx.Exec(ctx, `INSERT INTO match (league, matchid, compid, divid, teamid1, teamid2,
			round_seq, round_name, scheduled, submitted, maps, score1, score2, forfeit, fetched)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, coalesce($11::TEXT[], '{}'), $12, $13, $14, $15)
		ON CONFLICT (league, matchid) DO UPDATE SET
			scheduled = EXCLUDED.scheduled,
			maps = EXCLUDED.maps,
			score1 = EXCLUDED.score1,
			score2 = EXCLUDED.score2,
			forfeit = EXCLUDED.forfeit,
			fetched = greatest(match.fetched, EXCLUDED.fetched)`,
		m.Competition.League, m.MatchID, m.Competition.CompID, divid, t1.TeamID, t2.TeamID,
		m.RoundSeq, m.RoundName, m.Scheduled, m.Submitted, m.Maps, t1.Score, t2.Score,
		m.Forfeit, m.Fetched)
	return db.Classify("import match", err)
}

func toRange(iv roster.Interval) pgtype.Range[pgtype.Int8] {
	r := pgtype.Range[pgtype.Int8]{
		LowerType: pgtype.Unbounded,
		UpperType: pgtype.Unbounded,
		Valid:     true,
	}
	if iv.Lower != nil {
		r.Lower, r.LowerType = pgtype.Int8{Int64: *iv.Lower, Valid: true}, pgtype.Inclusive
	}
	if iv.Upper != nil {
		r.Upper, r.UpperType = pgtype.Int8{Int64: *iv.Upper, Valid: true}, pgtype.Exclusive
	}
	return r
}

// fromRange relies on int8range being canonical, i.e. [lower, upper)
func fromRange(r pgtype.Range[pgtype.Int8]) (roster.Interval, bool) {
	if !r.Valid || r.LowerType == pgtype.Empty {
		return roster.Interval{}, false
	}
	var iv roster.Interval
	if r.LowerType != pgtype.Unbounded {
		v := r.Lower.Int64
		iv.Lower = &v
	}
	if r.UpperType != pgtype.Unbounded {
		v := r.Upper.Int64
		iv.Upper = &v
	}
	return iv, true
}
