package staging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"

	"trends-importer/internal/db"
	"trends-importer/internal/demostf"
	"trends-importer/internal/fault"
	"trends-importer/internal/logger"
	"trends-importer/internal/logstf"
)

// Outcome says what happened to one record
type Outcome int

const (
	// Staged means every row of the record is staged
	Staged Outcome = iota
	// HeaderOnly means the uploader is banned, so only the header is staged
	HeaderOnly
	// Partial means the header is staged but the derived rows were bad. The
	// log is queued for deletion of its derived rows at commit time.
	Partial
	// Rejected means nothing is staged and the payload belongs in quarantine
	Rejected
	// Skipped means nothing is staged because the record conflicts with
	// rows that are already there
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Staged:
		return "staged"
	case HeaderOnly:
		return "header_only"
	case Partial:
		return "partial"
	case Rejected:
		return "rejected"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Imported reports whether the record counts towards the batch
func (o Outcome) Imported() bool {
	return o == Staged || o == HeaderOnly || o == Partial
}

// Result is the outcome of staging one record. Err explains a Partial,
// Rejected or Skipped outcome.
type Result struct {
	Outcome Outcome
	Err     error
}

// Writer stages records into the session-local staging tables of an open
// batch transaction
type Writer struct {
	enc *zstd.Encoder
	now func() time.Time
	log *logger.Logger
}

// NewWriter creates a staging writer
func NewWriter(log *logger.Logger) (*Writer, error) {
	if log == nil {
		log = logger.Discard()
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Writer{enc: enc, now: time.Now, log: log.WithComponent("staging")}, nil
}

// Close releases the encoder
func (w *Writer) Close() error {
	return w.enc.Close()
}

// recoverable turns a non-fatal error into a result, rolling back sp. Fatal
// errors are returned as is.
func recoverable(ctx context.Context, sp pgx.Tx, err error, parse Outcome) (Result, error) {
	switch fault.Classify(err) {
	case fault.KindParse:
		sp.Rollback(ctx)
		return Result{Outcome: parse, Err: err}, nil
	case fault.KindConstraint:
		sp.Rollback(ctx)
		return Result{Outcome: Skipped, Err: err}, nil
	default:
		return Result{}, err
	}
}

// StageLog decodes, normalizes and stages one log inside its own savepoint.
// The returned error is always fatal; everything else is in the result.
func (w *Writer) StageLog(ctx context.Context, tx pgx.Tx, id int64, raw []byte) (Result, error) {
	log := w.log.With("logid", id)

	l, err := logstf.Decode(raw)
	if err != nil {
		return Result{Outcome: Rejected, Err: err}, nil
	}
	rec, err := Normalize(id, l)
	if err != nil {
		return Result{Outcome: Rejected, Err: err}, nil
	}

	var staged bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM staged_log WHERE logid = $1)", id).Scan(&staged); err != nil {
		return Result{}, db.Classify("check staged log", err)
	}
	if staged {
		return Result{Outcome: Skipped, Err: errors.New("already staged in this batch")}, nil
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return Result{}, db.Classify("savepoint", err)
	}

	banned, err := w.stageHeader(ctx, sp, rec, raw)
	if err != nil {
		return recoverable(ctx, sp, err, Rejected)
	}
	if banned {
		log.Info("uploader is banned, skipping log data", "uploader", rec.Log.Uploader)
		if err := sp.Commit(ctx); err != nil {
			return Result{}, db.Classify("release savepoint", err)
		}
		return Result{Outcome: HeaderOnly}, nil
	}

	derived, err := sp.Begin(ctx)
	if err != nil {
		return Result{}, db.Classify("savepoint", err)
	}
	res := Result{Outcome: Staged}
	if err := w.stageDerived(ctx, derived, rec, log); err != nil {
		if res, err = recoverable(ctx, derived, err, Partial); err != nil {
			return Result{}, err
		}
		// The header stays so the log is not fetched again
		res.Outcome = Partial
		log.Warn("could not stage log data", "error", res.Err)
		if _, err := sp.Exec(ctx, "INSERT INTO staged_to_delete (logid) VALUES ($1) ON CONFLICT DO NOTHING", id); err != nil {
			return Result{}, db.Classify("queue log data deletion", err)
		}
	} else if err := derived.Commit(ctx); err != nil {
		return Result{}, db.Classify("release savepoint", err)
	}

	if err := sp.Commit(ctx); err != nil {
		return Result{}, db.Classify("release savepoint", err)
	}
	return res, nil
}

// stageHeader writes the uploader, log and log_json rows and reports whether
// the uploader is banned
func (w *Writer) stageHeader(ctx context.Context, tx pgx.Tx, rec *Record, raw []byte) (bool, error) {
	if err := upsertPeople(ctx, tx, rec.People[:1]); err != nil {
		return false, err
	}

	var banned bool
	if err := tx.QueryRow(ctx, "SELECT banned FROM player WHERE steamid64 = $1",
		int64(rec.Log.Uploader)).Scan(&banned); err != nil {
		return false, db.Classify("check uploader", err)
	}

	h := rec.Log
	_, err := tx.Exec(ctx, `INSERT INTO staged_log (logid, time, duration, title, map, red_score,
			blue_score, ad_scoring, uploader, uploader_name, round_hash, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		h.LogID, h.Time, h.Duration, h.Title, h.Map, h.RedScore, h.BlueScore, h.ADScoring,
		int64(h.Uploader), h.UploaderName, h.RoundHash, w.now().Unix())
	if err != nil {
		return false, db.Classify("stage log", err)
	}

	_, err = tx.Exec(ctx, "INSERT INTO staged_log_json (logid, data) VALUES ($1, $2)",
		h.LogID, w.enc.EncodeAll(raw, nil))
	if err != nil {
		return false, db.Classify("stage log_json", err)
	}
	return banned, nil
}

func (w *Writer) stageDerived(ctx context.Context, tx pgx.Tx, rec *Record, log *logger.Logger) error {
	if err := upsertPeople(ctx, tx, rec.People[1:]); err != nil {
		return err
	}

	id := rec.Log.LogID
	copies := []struct {
		table string
		cols  []string
		rows  [][]any
	}{
		{"staged_round", []string{"logid", "seq", "time", "duration", "winner", "firstcap",
			"red_score", "blue_score", "red_kills", "blue_kills", "red_dmg", "blue_dmg",
			"red_ubers", "blue_ubers"}, roundRows(id, rec.Rounds)},
		{"staged_player_stats", []string{"logid", "steamid64", "team", "name", "kills",
			"assists", "deaths", "dmg", "dt"}, playerRows(id, rec.Players)},
		{"staged_player_stats_extra", []string{"logid", "steamid64", "suicides", "dmg_real",
			"dt_real", "hr", "lks", "airshots", "medkits", "medkits_hp", "backstabs", "headshots",
			"headshots_hit", "sentries", "healing", "cpc", "ic"}, extraRows(id, rec.Extras)},
		{"staged_medic_stats", []string{"logid", "steamid64", "ubers", "medigun_ubers",
			"kritz_ubers", "other_ubers", "drops", "advantages_lost", "biggest_advantage_lost",
			"avg_time_before_healing", "avg_time_before_using", "avg_time_to_build",
			"avg_uber_duration", "deaths_after_uber", "deaths_before_uber"}, medicRows(id, rec.Medics)},
		{"staged_class_stats", []string{"logid", "steamid64", "class", "kills", "assists",
			"deaths", "dmg", "duration"}, classRows(id, rec.Classes)},
		{"staged_weapon_stats", []string{"logid", "steamid64", "class", "weapon", "kills", "dmg",
			"avg_dmg", "shots", "hits"}, weaponRows(id, rec.Weapons)},
		{"staged_event_stats", append([]string{"logid", "steamid64", "event"}, Classes...),
			eventRows(id, rec.Events)},
		{"staged_chat", []string{"logid", "seq", "steamid64", "name", "msg"}, chatRows(id, rec.Chat)},
	}
	for _, c := range copies {
		if len(c.rows) == 0 {
			continue
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.cols, pgx.CopyFromRows(c.rows)); err != nil {
			return db.Classify("copy into "+c.table, err)
		}
	}

	return stageHeals(ctx, tx, id, rec.Heals, log)
}

// stageHeals gets its own savepoint: the heal spread may name people who are
// not among the players, and losing it is no reason to lose the log
func stageHeals(ctx context.Context, tx pgx.Tx, id int64, heals []HealRow, log *logger.Logger) error {
	if len(heals) == 0 {
		return nil
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		return db.Classify("savepoint", err)
	}

	rows := make([][]any, len(heals))
	for i, h := range heals {
		rows[i] = []any{id, int64(h.Healer), int64(h.Healee), h.Healing}
	}
	_, err = sp.CopyFrom(ctx, pgx.Identifier{"staged_heal_stats"},
		[]string{"logid", "healer", "healee", "healing"}, pgx.CopyFromRows(rows))
	if err = db.Classify("copy into staged_heal_stats", err); err != nil {
		if fault.Classify(err) != fault.KindConstraint {
			sp.Rollback(ctx)
			return err
		}
		log.Warn("dropping heal spread", "error", err)
		if err := sp.Rollback(ctx); err != nil {
			return db.Classify("rollback savepoint", err)
		}
		return nil
	}
	return db.Classify("release savepoint", sp.Commit(ctx))
}

// upsertPeople writes one statement per person so that a person named twice
// never hits the same row twice in one statement. Rows are locked in id order.
func upsertPeople(ctx context.Context, tx pgx.Tx, people []Person) error {
	if len(people) == 0 {
		return nil
	}
	merged := map[int64]Person{}
	for _, p := range people {
		prev, ok := merged[int64(p.SteamID)]
		if !ok {
			merged[int64(p.SteamID)] = p
			continue
		}
		if p.LastActive != nil && (prev.LastActive == nil || *p.LastActive > *prev.LastActive) {
			prev.LastActive = p.LastActive
		}
		if prev.Name == "" {
			prev.Name = p.Name
		}
		merged[int64(p.SteamID)] = prev
	}
	ids := make([]int64, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	b := &pgx.Batch{}
	for _, id := range ids {
		p := merged[id]
		var name *string
		if p.Name != "" {
			name = &p.Name
		}
		b.Queue(`INSERT INTO player (steamid64, name, last_active) VALUES ($1, $2, $3)
			ON CONFLICT (steamid64) DO UPDATE SET
				last_active = greatest(player.last_active, EXCLUDED.last_active),
				name = coalesce(player.name, EXCLUDED.name)`, id, name, p.LastActive)
	}
	return db.Classify("upsert players", tx.SendBatch(ctx, b).Close())
}

func roundRows(id int64, rounds []RoundRow) [][]any {
	rows := make([][]any, len(rounds))
	for i, r := range rounds {
		rows[i] = []any{id, r.Seq, r.Time, r.Duration, r.Winner, r.FirstCap, r.RedScore,
			r.BlueScore, r.RedKills, r.BlueKills, r.RedDmg, r.BlueDmg, r.RedUbers, r.BlueUbers}
	}
	return rows
}

func playerRows(id int64, players []PlayerRow) [][]any {
	rows := make([][]any, len(players))
	for i, p := range players {
		rows[i] = []any{id, int64(p.SteamID), p.Team, p.Name, p.Kills, p.Assists, p.Deaths,
			p.Dmg, p.Dt}
	}
	return rows
}

func extraRows(id int64, extras []PlayerExtraRow) [][]any {
	rows := make([][]any, len(extras))
	for i, e := range extras {
		rows[i] = []any{id, int64(e.SteamID), e.Suicides, e.DmgReal, e.DtReal, e.Hr, e.Lks,
			e.Airshots, e.Medkits, e.MedkitsHP, e.Backstabs, e.Headshots, e.HeadshotsHit,
			e.Sentries, e.Healing, e.Cpc, e.Ic}
	}
	return rows
}

func medicRows(id int64, medics []MedicRow) [][]any {
	rows := make([][]any, len(medics))
	for i, m := range medics {
		rows[i] = []any{id, int64(m.SteamID), m.Ubers, m.MedigunUbers, m.KritzUbers,
			m.OtherUbers, m.Drops, m.AdvantagesLost, m.BiggestAdvantageLost,
			m.AvgTimeBeforeHealing, m.AvgTimeBeforeUsing, m.AvgTimeToBuild, m.AvgUberDuration,
			m.DeathsAfterUber, m.DeathsBeforeUber}
	}
	return rows
}

func classRows(id int64, classes []ClassRow) [][]any {
	rows := make([][]any, len(classes))
	for i, c := range classes {
		rows[i] = []any{id, int64(c.SteamID), c.Class, c.Kills, c.Assists, c.Deaths, c.Dmg,
			c.Duration}
	}
	return rows
}

func weaponRows(id int64, weapons []WeaponRow) [][]any {
	rows := make([][]any, len(weapons))
	for i, w := range weapons {
		rows[i] = []any{id, int64(w.SteamID), w.Class, w.Weapon, w.Kills, w.Dmg, w.AvgDmg,
			w.Shots, w.Hits}
	}
	return rows
}

func eventRows(id int64, events []EventRow) [][]any {
	rows := make([][]any, len(events))
	for i, e := range events {
		row := []any{id, int64(e.SteamID), e.Event}
		for _, n := range e.Counts {
			row = append(row, n)
		}
		rows[i] = row
	}
	return rows
}

func chatRows(id int64, chat []ChatRow) [][]any {
	rows := make([][]any, len(chat))
	for i, c := range chat {
		var author *int64
		if c.SteamID != nil {
			v := int64(*c.SteamID)
			author = &v
		}
		rows[i] = []any{id, c.Seq, author, c.Name, c.Msg}
	}
	return rows
}

// StageDemo decodes, normalizes and stages one demo inside its own
// savepoint. The returned error is always fatal.
func (w *Writer) StageDemo(ctx context.Context, tx pgx.Tx, id int64, raw []byte) (Result, error) {
	d, err := demostf.Decode(raw)
	if err != nil {
		return Result{Outcome: Rejected, Err: err}, nil
	}
	if d.ID == nil {
		d.ID = &id
	}
	rec, err := NormalizeDemo(d)
	if err != nil {
		return Result{Outcome: Rejected, Err: err}, nil
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return Result{}, db.Classify("savepoint", err)
	}
	if err := stageDemo(ctx, sp, rec); err != nil {
		return recoverable(ctx, sp, err, Rejected)
	}
	if err := sp.Commit(ctx); err != nil {
		return Result{}, db.Classify("release savepoint", err)
	}
	return Result{Outcome: Staged}, nil
}

func stageDemo(ctx context.Context, tx pgx.Tx, rec *DemoRecord) error {
	if err := upsertPeople(ctx, tx, rec.People); err != nil {
		return err
	}

	d := rec.Demo
	_, err := tx.Exec(ctx, `INSERT INTO staged_demo (demoid, url, server, duration, map, time,
			red_name, blue_name, red_score, blue_score, players)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.DemoID, d.URL, d.Server, d.Duration, d.Map, d.Time, d.RedName, d.BlueName,
		d.RedScore, d.BlueScore, d.Players)
	if err != nil {
		return db.Classify("stage demo", err)
	}

	rows := make([][]any, len(rec.Players))
	for i, p := range rec.Players {
		rows[i] = []any{d.DemoID, int64(p.SteamID), p.Team, p.Class, p.Kills, p.Assists, p.Deaths}
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"staged_demo_player_stats"},
		[]string{"demoid", "steamid64", "team", "class", "kills", "assists", "deaths"},
		pgx.CopyFromRows(rows))
	return db.Classify("copy into staged_demo_player_stats", err)
}
