// Package archive reads logs out of clone_logs databases, either a local
// SQLite file or a remote libsql database, and re-shapes them into the log
// API's payload so they flow through the same staging path.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"trends-importer/internal/fault"
	"trends-importer/internal/logger"
	"trends-importer/internal/logstf"
	"trends-importer/internal/source"
)

// classes as named in payloads; the archive spells heavyweapons "heavy"
var classes = []string{
	"scout", "soldier", "pyro", "demoman", "heavyweapons",
	"engineer", "medic", "sniper", "spy",
}

func columnClass(class string) string {
	if class == "heavyweapons" {
		return "heavy"
	}
	return class
}

// dateExpr converts a stored datetime column to unix seconds
const dateExpr = "cast(strftime('%%s', %s, 'utc') AS INT)"

// Archive is a clone_logs database opened as a source
type Archive struct {
	db  *sql.DB
	log *logger.Logger
}

// Open connects to a clone_logs database. libsql://, http:// and https://
// locations go through the libsql client, anything else is a SQLite path.
func Open(ctx context.Context, location, authToken string, log *logger.Logger) (*Archive, error) {
	if log == nil {
		log = logger.Discard()
	}

	driver, dsn := "sqlite", location
	if isRemote(location) {
		driver = "libsql"
		if authToken != "" {
			dsn = fmt.Sprintf("%s?authToken=%s", location, authToken)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping archive: %w", err)
	}

	a := &Archive{db: db, log: log.WithComponent("archive")}
	if driver == "sqlite" {
		a.addIndexes(ctx)
	}
	return a, nil
}

func isRemote(location string) bool {
	for _, prefix := range []string{"libsql://", "http://", "https://"} {
		if strings.HasPrefix(location, prefix) {
			return true
		}
	}
	return false
}

// addIndexes makes per-log lookups cheap. clone_logs does not create them.
func (a *Archive) addIndexes(ctx context.Context) {
	for _, table := range []string{"chat", "heal_spread", "player", "player_weapon", "round"} {
		query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]s_log_id ON %[1]s (log_id)", table)
		if _, err := a.db.ExecContext(ctx, query); err != nil {
			a.log.Warn("could not index archive table", "table", table, "error", err)
		}
	}
}

// Close closes the archive
func (a *Archive) Close() error {
	return a.db.Close()
}

// Entries implements source.Source
func (a *Archive) Entries(ctx context.Context) *source.Stream[source.Entry] {
	rows, err := a.db.QueryContext(ctx,
		"SELECT id, "+fmt.Sprintf(dateExpr, "date")+" FROM log ORDER BY id DESC")
	if err != nil {
		return source.Failed[source.Entry](fmt.Errorf("listing archive: %w", err))
	}
	defer rows.Close()

	var entries []source.Entry
	for rows.Next() {
		var e source.Entry
		var date sql.NullInt64
		if err := rows.Scan(&e.ID, &date); err != nil {
			return source.Failed[source.Entry](fmt.Errorf("listing archive: %w", err))
		}
		e.Time = date.Int64
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return source.Failed[source.Entry](fmt.Errorf("listing archive: %w", err))
	}
	return source.FromSlice(entries)
}

// Fetch implements source.Fetcher, returning the log re-encoded as JSON
func (a *Archive) Fetch(ctx context.Context, id int64) ([]byte, bool, error) {
	l, found, err := a.Load(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, false, fault.Parse(fmt.Sprintf("archive log %d", id), err)
	}
	return raw, true, nil
}

// Load builds one log from the archive tables
func (a *Archive) Load(ctx context.Context, id int64) (*logstf.Log, bool, error) {
	logs, err := a.query(ctx, "SELECT "+fmt.Sprintf(dateExpr, "date")+" AS unix_date, * FROM log WHERE id = ?", id)
	if err != nil {
		return nil, false, err
	}
	if len(logs) == 0 {
		return nil, false, nil
	}
	lr := logs[0]

	l := &logstf.Log{
		Version:          3,
		Players:          map[string]*logstf.Player{},
		Names:            map[string]string{},
		HealSpread:       map[string]map[string]int64{},
		ClassKills:       map[string]map[string]int64{},
		ClassDeaths:      map[string]map[string]int64{},
		ClassKillAssists: map[string]map[string]int64{},
		Rounds:           []logstf.Round{},
		Chat:             []logstf.ChatMessage{},
	}
	l.Info = logstf.Info{
		Date:            lr.int("unix_date"),
		Title:           lr.strp("title"),
		Map:             lr.strp("map"),
		TotalLength:     lr.int("duration"),
		HasRealDamage:   lr.flag("has_real_damage"),
		HasWeaponDamage: lr.flag("has_weapon_damage"),
		HasAccuracy:     lr.flag("has_accuracy"),
		HasHP:           lr.flag("has_medkit_pickups"),
		HasHPReal:       lr.flag("has_medkit_health"),
		HasHS:           lr.flag("has_headshot_kills"),
		HasHSHit:        lr.flag("has_headshot_hits"),
		HasBS:           lr.flag("has_backstabs"),
		HasCP:           lr.flag("has_point_captures"),
		HasSB:           lr.flag("has_sentries_built"),
		HasDT:           lr.flag("has_damage_taken"),
		HasAS:           lr.flag("has_airshots"),
		HasHR:           lr.flag("has_heals_received"),
		HasIntel:        lr.flag("has_intel_captures"),
		ADScoring:       lr.boolp("scoring_attack_defense"),
		Uploader: &logstf.Uploader{
			ID:   lr.str("uploader_steam_id"),
			Name: lr.str("uploader_name"),
			Info: lr.str("uploader_info"),
		},
	}
	l.Teams = &logstf.Teams{Red: teamSummary(lr, "red_"), Blue: teamSummary(lr, "blu_")}

	if err := a.loadRounds(ctx, id, l); err != nil {
		return nil, false, err
	}
	if err := a.loadPlayers(ctx, id, l); err != nil {
		return nil, false, err
	}
	if err := a.loadHeals(ctx, id, l); err != nil {
		return nil, false, err
	}
	if err := a.loadChat(ctx, id, l); err != nil {
		return nil, false, err
	}
	return l, true, nil
}

func teamSummary(r row, prefix string) *logstf.TeamSummary {
	return &logstf.TeamSummary{
		Score:     r.int(prefix + "score"),
		Kills:     r.val(prefix + "kills"),
		Deaths:    r.val(prefix + "deaths"),
		Dmg:       r.val(prefix + "damage"),
		Charges:   r.val(prefix + "charges"),
		Drops:     r.val(prefix + "drops"),
		FirstCaps: r.val(prefix + "first_caps"),
		Caps:      r.val(prefix + "caps"),
	}
}

func roundTeam(r row, prefix string) *logstf.RoundTeam {
	return &logstf.RoundTeam{
		Score: r.int(prefix + "score"),
		Kills: r.int(prefix + "kills"),
		Dmg:   r.int(prefix + "damage"),
		Ubers: r.int(prefix + "charges"),
	}
}

func (a *Archive) loadRounds(ctx context.Context, id int64, l *logstf.Log) error {
	rounds, err := a.query(ctx, "SELECT "+fmt.Sprintf(dateExpr, "start")+
		" AS start_time, * FROM round WHERE log_id = ? ORDER BY idx ASC", id)
	if err != nil {
		return err
	}
	for _, r := range rounds {
		l.Rounds = append(l.Rounds, logstf.Round{
			StartTime: r.int("start_time"),
			Winner:    r.strp("winner"),
			FirstCap:  r.strp("first_cap"),
			Length:    r.int("duration"),
			Team: &logstf.RoundTeams{
				Red:  roundTeam(r, "red_"),
				Blue: roundTeam(r, "blu_"),
			},
		})
	}
	return nil
}

func (a *Archive) loadPlayers(ctx context.Context, id int64, l *logstf.Log) error {
	weapons, err := a.query(ctx, "SELECT * FROM player_weapon WHERE log_id = ?", id)
	if err != nil {
		return err
	}
	// steam id -> class -> weapon
	byClass := map[string]map[string]map[string]logstf.Weapon{}
	for _, w := range weapons {
		sid, class := w.str("steam_id"), w.str("class")
		if byClass[sid] == nil {
			byClass[sid] = map[string]map[string]logstf.Weapon{}
		}
		if byClass[sid][class] == nil {
			byClass[sid][class] = map[string]logstf.Weapon{}
		}
		byClass[sid][class][w.str("weapon")] = logstf.Weapon{
			Kills:  w.val("kills"),
			Dmg:    w.int("damage"),
			AvgDmg: w.float("average_damage"),
			Shots:  w.int("shots"),
			Hits:   w.int("hits"),
		}
	}

	players, err := a.query(ctx, "SELECT * FROM player WHERE log_id = ?", id)
	if err != nil {
		return err
	}
	for _, pr := range players {
		sid := pr.str("steam_id")
		l.Names[sid] = pr.str("name")

		p := &logstf.Player{
			Team:         pr.strp("team"),
			Kills:        pr.val("kills"),
			Deaths:       pr.val("deaths"),
			Assists:      pr.val("assists"),
			Suicides:     pr.int("suicides"),
			Dmg:          pr.val("damage"),
			DmgReal:      pr.int("damage_real"),
			Dt:           pr.int("damage_taken"),
			DtReal:       pr.int("damage_taken_real"),
			Hr:           pr.int("heals_received"),
			Lks:          pr.int("longest_killstreak"),
			Airshots:     pr.int("airshots"),
			Ubers:        pr.val("charges"),
			Drops:        pr.val("drops"),
			Medkits:      pr.int("medkit_pickup"),
			MedkitsHP:    pr.int("medkit_health"),
			Backstabs:    pr.int("backstabs"),
			Headshots:    pr.int("headshot_kills"),
			HeadshotsHit: pr.int("headshots"),
			Sentries:     pr.int("sentries"),
			Cpc:          pr.int("point_captures"),
			Ic:           pr.int("intel_captures"),
		}

		ubertypes := map[string]int64{}
		if n := pr.val("charges_uber"); n != 0 {
			ubertypes["medigun"] = n
		}
		if n := pr.val("charges_kritzkrieg"); n != 0 {
			ubertypes["kritzkrieg"] = n
		}
		if len(ubertypes) > 0 {
			p.UberTypes = ubertypes
		}

		medic := &logstf.MedicStats{
			AdvantagesLost:           pr.int("advantages_lost"),
			BiggestAdvantageLost:     pr.float("biggest_advantage_lost"),
			DeathsWithin20sAfterUber: pr.int("deaths_within_20s_after_uber"),
			DeathsWith9599Uber:       pr.int("deaths_with_95_uber"),
			AvgTimeBeforeHealing:     pr.float("average_time_before_healing"),
			AvgTimeBeforeUsing:       pr.float("average_time_before_using"),
			AvgUberLength:            pr.float("average_charge_length"),
		}
		if pr.anyNonZero("advantages_lost", "biggest_advantage_lost", "deaths_within_20s_after_uber",
			"deaths_with_95_uber", "average_time_before_healing", "average_time_before_using",
			"average_charge_length") {
			p.MedicStats = medic
		}

		for _, class := range classes {
			col := columnClass(class)
			cs := logstf.ClassStats{
				Type:      class,
				TotalTime: pr.val("time_as_" + col),
				Kills:     pr.val("kills_as_" + col),
				Assists:   pr.val("assists_as_" + col),
				Deaths:    pr.val("deaths_as_" + col),
				Dmg:       pr.val("damage_as_" + col),
			}
			if cs.TotalTime == 0 && cs.Kills == 0 && cs.Assists == 0 && cs.Deaths == 0 && cs.Dmg == 0 {
				continue
			}
			cs.Weapon = byClass[sid][class]
			p.ClassStats = append(p.ClassStats, cs)
		}

		for event, into := range map[string]map[string]map[string]int64{
			"kill":   l.ClassKills,
			"death":  l.ClassDeaths,
			"assist": l.ClassKillAssists,
		} {
			for _, class := range classes {
				if n := pr.val(columnClass(class) + "_" + event + "s"); n != 0 {
					if into[sid] == nil {
						into[sid] = map[string]int64{}
					}
					into[sid][class] = n
				}
			}
		}

		l.Players[sid] = p
	}
	return nil
}

func (a *Archive) loadHeals(ctx context.Context, id int64, l *logstf.Log) error {
	heals, err := a.query(ctx, "SELECT * FROM heal_spread WHERE log_id = ?", id)
	if err != nil {
		return err
	}
	for _, h := range heals {
		healer := h.str("healer_steam_id")
		if l.HealSpread[healer] == nil {
			l.HealSpread[healer] = map[string]int64{}
		}
		l.HealSpread[healer][h.str("target_steam_id")] = h.val("heal_amount")
	}
	return nil
}

func (a *Archive) loadChat(ctx context.Context, id int64, l *logstf.Log) error {
	chat, err := a.query(ctx, "SELECT * FROM chat WHERE log_id = ? ORDER BY idx ASC", id)
	if err != nil {
		return err
	}
	for _, m := range chat {
		l.Chat = append(l.Chat, logstf.ChatMessage{
			SteamID: m.str("steam_id"),
			Name:    m.str("name"),
			Msg:     m.str("message"),
		})
	}
	return nil
}

// query returns every row as a column-name keyed map so optional clone_logs
// columns can simply be absent
func (a *Archive) query(ctx context.Context, query string, args ...any) ([]row, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive query: %w: %w", fault.ErrNetwork, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("archive columns: %w: %w", fault.ErrNetwork, err)
	}

	var out []row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fault.Parse("archive row", err)
		}
		r := make(row, len(cols))
		for i, col := range cols {
			r[col] = values[i]
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive rows: %w: %w", fault.ErrNetwork, err)
	}
	return out, nil
}
