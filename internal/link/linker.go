package link

import (
	"context"

	"github.com/jackc/pgx/v5"

	"trends-importer/internal/cache"
	"trends-importer/internal/db"
	"trends-importer/internal/logger"
)

// Linker links committed logs
type Linker struct {
	db  db.Beginner
	log *logger.Logger
}

// New creates a linker
func New(q db.Beginner, log *logger.Logger) *Linker {
	if log == nil {
		log = logger.Discard()
	}
	return &Linker{db: q, log: log.WithComponent("link")}
}

const bumpUpdated = "updated = greatest(extract(EPOCH FROM now())::BIGINT, log.updated + 1)"

// Demos links logs newer than since to their demos. Logs that already have a
// demo are left alone. It returns the number of logs linked.
func (l *Linker) Demos(ctx context.Context, since int64) (int, error) {
	linked := 0
	err := db.InTx(ctx, l.db, func(tx pgx.Tx) error {
		logs, err := collectTimed(ctx, tx, `SELECT logid, log.time, array_agg(steamid64)
			FROM log
			JOIN player_stats USING (logid)
			WHERE log.demoid IS NULL AND log.time > $1
			GROUP BY logid, log.time`, since)
		if err != nil {
			return db.Classify("list unlinked logs", err)
		}
		demos, err := collectTimed(ctx, tx, `SELECT demoid, time, players
			FROM demo
			WHERE time > $1 AND players IS NOT NULL
			ORDER BY time`, since-DemoWindow)
		if err != nil {
			return db.Classify("list demos", err)
		}

		timeOf := func(t Timed) int64 { return t.Time }
		b := &pgx.Batch{}
		var keys []string
		for _, lg := range logs {
			demoid, ok := BestDemo(lg, byTime(demos, timeOf, lg.Time, DemoWindow))
			if !ok {
				continue
			}
			b.Queue(`UPDATE log SET demoid = $2, `+bumpUpdated+`
				WHERE logid = $1 AND demoid IS NULL`, lg.ID, demoid)
			keys = append(keys, cache.LogKey(lg.ID))
			l.log.Debug("Linked demo", "logid", lg.ID, "demoid", demoid)
		}
		if b.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return db.Classify("link demos", err)
		}
		linked = len(keys)
		return cache.Enqueue(ctx, tx, keys...)
	})
	if err != nil {
		return 0, err
	}
	l.log.Info("Linked logs to demos", "count", linked)
	return linked, nil
}

func collectTimed(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]Timed, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Timed, error) {
		var (
			t       Timed
			players []int64
		)
		err := row.Scan(&t.ID, &t.Time, &players)
		t.Players = NewSet(players)
		return t, err
	})
}

// Matches links logs newer than since to league matches. Logs that already
// have a match are left alone. It returns the number of logs linked.
func (l *Linker) Matches(ctx context.Context, since int64) (int, error) {
	linked := 0
	err := db.InTx(ctx, l.db, func(tx pgx.Tx) error {
		logs, err := l.unmatchedLogs(ctx, tx, since)
		if err != nil {
			return err
		}
		cands, err := candidates(ctx, tx, since-MatchWindow)
		if err != nil {
			return err
		}

		scheduled := func(c Candidate) int64 { return c.Scheduled }
		b := &pgx.Batch{}
		var keys []string
		for _, lg := range logs {
			m, ok := BestMatch(lg, byTime(cands, scheduled, lg.Time, MatchWindow))
			if !ok {
				continue
			}
			if m.Tied {
				l.log.Warn("Cannot tell which team was red", "logid", m.Log,
					"league", m.League, "matchid", m.MatchID)
			}
			b.Queue(`UPDATE log SET league = $2, matchid = $3, team1_is_red = $4, `+bumpUpdated+`
				WHERE logid = $1 AND league IS NULL`, m.Log, m.League, m.MatchID, m.Team1IsRed)
			keys = append(keys, cache.LogKey(m.Log))
		}
		if b.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return db.Classify("link matches", err)
		}
		linked = len(keys)
		return cache.Enqueue(ctx, tx, append(keys, cache.Matches)...)
	})
	if err != nil {
		return 0, err
	}
	l.log.Info("Linked logs to matches", "count", linked)
	return linked, nil
}

func (l *Linker) unmatchedLogs(ctx context.Context, tx pgx.Tx, since int64) ([]MatchLog, error) {
	rows, err := tx.Query(ctx, `SELECT
			logid,
			log.time,
			array_agg(steamid64) FILTER (WHERE team = 'Red'),
			array_agg(steamid64) FILTER (WHERE team = 'Blue')
		FROM log
		JOIN player_stats USING (logid)
		WHERE log.league IS NULL AND log.time > $1
		GROUP BY logid, log.time`, since)
	if err != nil {
		return nil, db.Classify("list unmatched logs", err)
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MatchLog, error) {
		var (
			m         MatchLog
			red, blue []int64
		)
		err := row.Scan(&m.ID, &m.Time, &red, &blue)
		m.Red, m.Blue = NewSet(red), NewSet(blue)
		return m, err
	})
	if err != nil {
		return nil, db.Classify("list unmatched logs", err)
	}

	// Both teams are needed to tell them apart
	out := logs[:0]
	for _, m := range logs {
		if len(m.Red) > 0 && len(m.Blue) > 0 {
			out = append(out, m)
		}
	}
	return out, nil
}

// candidates lists matches with their rosters as of the scheduled time.
// Competition-scoped roster entries only count for their own competition.
func candidates(ctx context.Context, tx pgx.Tx, since int64) ([]Candidate, error) {
	rows, err := tx.Query(ctx, `SELECT
			m.league,
			m.matchid,
			m.scheduled,
			f.players,
			array(SELECT tp.steamid64 FROM team_player AS tp
				WHERE tp.league = m.league AND tp.teamid = m.teamid1
					AND (tp.compid IS NULL OR tp.compid = m.compid)
					AND tp.rostered @> m.scheduled),
			array(SELECT tp.steamid64 FROM team_player AS tp
				WHERE tp.league = m.league AND tp.teamid = m.teamid2
					AND (tp.compid IS NULL OR tp.compid = m.compid)
					AND tp.rostered @> m.scheduled)
		FROM match AS m
		JOIN competition USING (league, compid)
		JOIN format AS f USING (format)
		WHERE m.scheduled > $1 AND f.players IS NOT NULL
		ORDER BY m.scheduled`, since)
	if err != nil {
		return nil, db.Classify("list matches", err)
	}
	cands, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Candidate, error) {
		var (
			c            Candidate
			team1, team2 []int64
		)
		err := row.Scan(&c.League, &c.MatchID, &c.Scheduled, &c.FormatPlayers, &team1, &team2)
		c.Team1, c.Team2 = NewSet(team1), NewSet(team2)
		return c, err
	})
	return cands, db.Classify("list matches", err)
}
