package commit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trends-importer/internal/cache"
	"trends-importer/internal/db"
	"trends-importer/internal/dedup"
	"trends-importer/internal/logger"
	"trends-importer/internal/staging"
)

// LogBatch commits staged logs
type LogBatch struct {
	writer  *staging.Writer
	filter  *dedup.Filter
	formats []Format
	pending []int64
	log     *logger.Logger
}

// NewLogBatch creates the log half of a commit. The filter is extended with
// every committed fingerprint.
func NewLogBatch(w *staging.Writer, filter *dedup.Filter, log *logger.Logger) *LogBatch {
	if log == nil {
		log = logger.Discard()
	}
	return &LogBatch{writer: w, filter: filter, log: log.WithComponent("commit")}
}

// Prepare implements Batch
func (b *LogBatch) Prepare(ctx context.Context, q db.Querier) error {
	if err := db.CreateLogStaging(ctx, q); err != nil {
		return err
	}
	formats, err := LoadFormats(ctx, q)
	if err != nil {
		return err
	}
	b.formats = formats
	return nil
}

// Stage implements Batch
func (b *LogBatch) Stage(ctx context.Context, tx pgx.Tx, id int64, raw []byte) (staging.Result, error) {
	return b.writer.StageLog(ctx, tx, id, raw)
}

// Flush implements Batch. Bogus logs go before duplicate detection so that
// nothing ends up pointing at a deleted log, and duplicate rounds go before
// anything that counts rounds.
func (b *LogBatch) Flush(ctx context.Context, tx pgx.Tx) error {
	bogus, err := dedup.Bogus(ctx, tx)
	if err != nil {
		return err
	}
	if len(bogus) > 0 {
		b.log.Info("Deleted logs with negative damage", "logids", bogus)
	}

	if _, err := b.filter.Duplicates(ctx, tx); err != nil {
		return err
	}

	passes := []struct {
		name string
		run  func(context.Context, pgx.Tx) error
	}{
		{"delete partial logs", deleteQueued},
		{"delete duplicate rounds", deleteDuplicateRounds},
		{"stalemates", updateStalemates},
		{"formats", b.updateFormats},
		{"wins, losses and ties", updateWinLossTie},
		{"player classes", updatePlayerClasses},
		{"accuracy", updateAccuracy},
	}
	for _, p := range passes {
		if err := p.run(ctx, tx); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}

	hashes, err := stagedHashes(ctx, tx)
	if err != nil {
		return err
	}
	if err := db.Publish(ctx, tx, db.LogTables); err != nil {
		return err
	}
	if err := cache.EnqueueLogs(ctx, tx); err != nil {
		return err
	}
	if err := db.Truncate(ctx, tx, db.LogTables, "staged_to_delete"); err != nil {
		return err
	}
	b.pending = hashes
	return nil
}

// Committed implements Batch
func (b *LogBatch) Committed() {
	b.filter.Remember(b.pending...)
	b.pending = nil
}

// LoadFormats reads the format table
func LoadFormats(ctx context.Context, q db.Querier) ([]Format, error) {
	rows, err := q.Query(ctx, "SELECT format, coalesce(players, 0) FROM format ORDER BY format")
	if err != nil {
		return nil, db.Classify("load formats", err)
	}
	formats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Format, error) {
		var f Format
		err := row.Scan(&f.Name, &f.Players)
		return f, err
	})
	return formats, db.Classify("load formats", err)
}

func stagedHashes(ctx context.Context, tx pgx.Tx) ([]int64, error) {
	rows, err := tx.Query(ctx, "SELECT round_hash FROM staged_log WHERE round_hash IS NOT NULL")
	if err != nil {
		return nil, db.Classify("list staged fingerprints", err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	return hashes, db.Classify("list staged fingerprints", err)
}

func deleteQueued(ctx context.Context, tx pgx.Tx) error {
	for _, t := range db.LogDerived() {
		sql := fmt.Sprintf("DELETE FROM %s WHERE logid IN (SELECT logid FROM staged_to_delete)", t.Staged())
		if _, err := tx.Exec(ctx, sql); err != nil {
			return db.Classify("delete from "+t.Staged(), err)
		}
	}
	return nil
}

// Some logs repeat a round verbatim; the later copy goes
func deleteDuplicateRounds(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `DELETE FROM staged_round AS r
		WHERE EXISTS (
			SELECT 1 FROM staged_round AS o
			WHERE o.logid = r.logid
				AND o.seq < r.seq
				AND (o.time, o.duration, o.winner, o.firstcap, o.red_score, o.blue_score,
					o.red_kills, o.blue_kills, o.red_dmg, o.blue_dmg, o.red_ubers, o.blue_ubers)
					IS NOT DISTINCT FROM
					(r.time, r.duration, r.winner, r.firstcap, r.red_score, r.blue_score,
					r.red_kills, r.blue_kills, r.red_dmg, r.blue_dmg, r.red_ubers, r.blue_ubers)
		)`)
	return db.Classify("delete duplicate rounds", err)
}

func updateStalemates(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, `SELECT logid, log.red_score, log.blue_score, count(winner), max(seq)
		FROM staged_log AS log
		JOIN staged_round USING (logid)
		GROUP BY logid, log.red_score, log.blue_score`)
	if err != nil {
		return db.Classify("count round winners", err)
	}

	type tally struct {
		logid, red, blue int64
		winners          int
		last             int
	}
	tallies, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tally, error) {
		var t tally
		err := row.Scan(&t.logid, &t.red, &t.blue, &t.winners, &t.last)
		return t, err
	})
	if err != nil {
		return db.Classify("count round winners", err)
	}

	b := &pgx.Batch{}
	for _, t := range tallies {
		if Stalemate(t.red, t.blue, t.winners) {
			b.Queue("UPDATE staged_round SET winner = NULL WHERE logid = $1 AND seq = $2", t.logid, t.last)
		}
	}
	return sendBatch(ctx, tx, b, "mark stalemates")
}

func (b *LogBatch) updateFormats(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, `SELECT logid, log.duration, count(DISTINCT steamid64), coalesce(sum(cs.duration), 0)
		FROM staged_log AS log
		JOIN staged_class_stats AS cs USING (logid)
		WHERE log.format IS NULL
		GROUP BY logid, log.duration`)
	if err != nil {
		return db.Classify("count players", err)
	}

	type counts struct {
		logid, duration int64
		total           int
		classTime       int64
	}
	all, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (counts, error) {
		var c counts
		err := row.Scan(&c.logid, &c.duration, &c.total, &c.classTime)
		return c, err
	})
	if err != nil {
		return db.Classify("count players", err)
	}

	batch := &pgx.Batch{}
	for _, c := range all {
		format := ClassifyFormat(c.total, AvgPlayers(c.classTime, c.duration), b.formats)
		batch.Queue("UPDATE staged_log SET format = $2 WHERE logid = $1", c.logid, format)
	}
	return sendBatch(ctx, tx, batch, "set formats")
}

func updateWinLossTie(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, `SELECT logid, coalesce(log.ad_scoring, false), log.red_score, log.blue_score,
			round.winner, round.duration
		FROM staged_log AS log
		LEFT JOIN staged_round AS round USING (logid)
		ORDER BY logid, round.seq`)
	if err != nil {
		return db.Classify("list rounds", err)
	}

	type logRounds struct {
		logid     int64
		ad        bool
		red, blue int64
		rounds    []RoundOutcome
	}
	var logs []*logRounds
	var cur *logRounds
	var (
		logid, red, blue int64
		ad               bool
		winner           *string
		duration         *int64
	)
	_, err = pgx.ForEachRow(rows, []any{&logid, &ad, &red, &blue, &winner, &duration}, func() error {
		if cur == nil || cur.logid != logid {
			cur = &logRounds{logid: logid, ad: ad, red: red, blue: blue}
			logs = append(logs, cur)
		}
		if duration != nil {
			cur.rounds = append(cur.rounds, RoundOutcome{Winner: winner, Duration: *duration})
		}
		return nil
	})
	if err != nil {
		return db.Classify("list rounds", err)
	}

	b := &pgx.Batch{}
	for _, l := range logs {
		rec := WinLossTie(l.ad, l.red, l.blue, l.rounds)
		b.Queue(`UPDATE staged_player_stats SET
				wins = CASE team WHEN 'Red' THEN $2 WHEN 'Blue' THEN $5 ELSE 0 END,
				losses = CASE team WHEN 'Red' THEN $3 WHEN 'Blue' THEN $6 ELSE 0 END,
				ties = CASE team WHEN 'Red' THEN $4 WHEN 'Blue' THEN $7 ELSE 0 END
			WHERE logid = $1`,
			l.logid, rec.Red.Wins, rec.Red.Losses, rec.Red.Ties,
			rec.Blue.Wins, rec.Blue.Losses, rec.Blue.Ties)
	}
	return sendBatch(ctx, tx, b, "set wins, losses and ties")
}

func updatePlayerClasses(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `UPDATE staged_player_stats AS ps SET
			classes = new.classes,
			class_durations = new.durations
		FROM (SELECT
				logid,
				steamid64,
				array_agg(class ORDER BY duration DESC, class) AS classes,
				array_agg(duration ORDER BY duration DESC, class) AS durations
			FROM staged_class_stats
			GROUP BY logid, steamid64
		) AS new
		WHERE ps.logid = new.logid
			AND ps.steamid64 = new.steamid64`)
	return db.Classify("set player classes", err)
}

func updateAccuracy(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `UPDATE staged_class_stats AS cs SET
			hits = new.hits,
			shots = new.shots
		FROM (SELECT logid, steamid64, class, sum(hits) AS hits, sum(shots) AS shots
			FROM staged_weapon_stats
			GROUP BY logid, steamid64, class
		) AS new
		WHERE cs.logid = new.logid
			AND cs.steamid64 = new.steamid64
			AND cs.class = new.class`)
	if err != nil {
		return db.Classify("set class accuracy", err)
	}

	_, err = tx.Exec(ctx, `UPDATE staged_player_stats AS ps SET
			hits = new.hits,
			shots = new.shots
		FROM (SELECT logid, steamid64, sum(hits) AS hits, sum(shots) AS shots
			FROM staged_weapon_stats
			GROUP BY logid, steamid64
		) AS new
		WHERE ps.logid = new.logid
			AND ps.steamid64 = new.steamid64`)
	return db.Classify("set player accuracy", err)
}

func sendBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch, what string) error {
	if b.Len() == 0 {
		return nil
	}
	return db.Classify(what, tx.SendBatch(ctx, b).Close())
}
