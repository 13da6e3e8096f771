package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Table describes a permanent table that has a staged twin
type Table struct {
	Name    string
	Key     []string
	Columns []string
	// Monotonic columns keep the greater of the stored and incoming value
	Monotonic []string
	// Owned columns are written by something other than the importer and
	// keep their stored value unless the incoming one is set
	Owned []string
}

// Staged is the name of the session-local staging table
func (t Table) Staged() string {
	return "staged_" + t.Name
}

// StagingDDL creates the staging table with the same shape as the permanent
// one. Check constraints come along, foreign keys do not.
func (t Table) StagingDDL() string {
	return fmt.Sprintf(
		"CREATE TEMP TABLE IF NOT EXISTS %s (LIKE %s INCLUDING DEFAULTS INCLUDING CONSTRAINTS, PRIMARY KEY (%s))",
		t.Staged(), t.Name, strings.Join(t.Key, ", "))
}

// PublishSQL upserts every staged row into the permanent table in key order
func (t Table) PublishSQL() string {
	var set []string
	for _, col := range t.Columns {
		if slices.Contains(t.Key, col) {
			continue
		}
		switch {
		case slices.Contains(t.Monotonic, col):
			set = append(set, fmt.Sprintf("%s = greatest(%s.%s, EXCLUDED.%s)", col, t.Name, col, col))
		case slices.Contains(t.Owned, col):
			set = append(set, fmt.Sprintf("%s = coalesce(EXCLUDED.%s, %s.%s)", col, col, t.Name, col))
		default:
			set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	cols := strings.Join(t.Columns, ", ")
	key := strings.Join(t.Key, ", ")
	conflict := "DO NOTHING"
	if len(set) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ORDER BY %s ON CONFLICT (%s) %s",
		t.Name, cols, cols, t.Staged(), key, key, conflict)
}

// LogTables are in topological order. Publishing walks them forwards,
// deleting walks them backwards.
var LogTables = []Table{
	{
		Name: "log",
		Key:  []string{"logid"},
		Columns: []string{"logid", "time", "duration", "title", "map", "format", "red_score",
			"blue_score", "ad_scoring", "uploader", "uploader_name", "round_hash", "duplicate_of",
			"demoid", "league", "matchid", "team1_is_red", "updated"},
		Monotonic: []string{"updated"},
		Owned:     []string{"duplicate_of", "demoid", "league", "matchid", "team1_is_red"},
	},
	{
		Name:    "log_json",
		Key:     []string{"logid"},
		Columns: []string{"logid", "data"},
	},
	{
		Name: "round",
		Key:  []string{"logid", "seq"},
		Columns: []string{"logid", "seq", "time", "duration", "winner", "firstcap", "red_score",
			"blue_score", "red_kills", "blue_kills", "red_dmg", "blue_dmg", "red_ubers",
			"blue_ubers"},
	},
	{
		Name: "player_stats",
		Key:  []string{"logid", "steamid64"},
		Columns: []string{"logid", "steamid64", "team", "name", "kills", "assists", "deaths", "dmg",
			"dt", "wins", "losses", "ties", "classes", "class_durations", "hits", "shots"},
	},
	{
		Name: "player_stats_extra",
		Key:  []string{"logid", "steamid64"},
		Columns: []string{"logid", "steamid64", "suicides", "dmg_real", "dt_real", "hr", "lks",
			"airshots", "medkits", "medkits_hp", "backstabs", "headshots", "headshots_hit",
			"sentries", "healing", "cpc", "ic"},
	},
	{
		Name: "medic_stats",
		Key:  []string{"logid", "steamid64"},
		Columns: []string{"logid", "steamid64", "ubers", "medigun_ubers", "kritz_ubers",
			"other_ubers", "drops", "advantages_lost", "biggest_advantage_lost",
			"avg_time_before_healing", "avg_time_before_using", "avg_time_to_build",
			"avg_uber_duration", "deaths_after_uber", "deaths_before_uber"},
	},
	{
		Name:    "heal_stats",
		Key:     []string{"logid", "healer", "healee"},
		Columns: []string{"logid", "healer", "healee", "healing"},
	},
	{
		Name: "class_stats",
		Key:  []string{"logid", "steamid64", "class"},
		Columns: []string{"logid", "steamid64", "class", "kills", "assists", "deaths", "dmg",
			"duration", "hits", "shots"},
	},
	{
		Name: "weapon_stats",
		Key:  []string{"logid", "steamid64", "class", "weapon"},
		Columns: []string{"logid", "steamid64", "class", "weapon", "kills", "dmg", "avg_dmg",
			"shots", "hits"},
	},
	{
		Name: "event_stats",
		Key:  []string{"logid", "steamid64", "event"},
		Columns: []string{"logid", "steamid64", "event", "demoman", "engineer", "heavyweapons",
			"medic", "pyro", "scout", "sniper", "soldier", "spy"},
	},
	{
		Name:    "chat",
		Key:     []string{"logid", "seq"},
		Columns: []string{"logid", "seq", "steamid64", "name", "msg"},
	},
}

// LogDerived are the tables below log and log_json, children first
func LogDerived() []Table {
	derived := slices.Clone(LogTables[2:])
	slices.Reverse(derived)
	return derived
}

var DemoTables = []Table{
	{
		Name: "demo",
		Key:  []string{"demoid"},
		Columns: []string{"demoid", "url", "server", "duration", "map", "time", "red_name",
			"blue_name", "red_score", "blue_score", "players"},
	},
	{
		Name:    "demo_player_stats",
		Key:     []string{"demoid", "steamid64"},
		Columns: []string{"demoid", "steamid64", "team", "class", "kills", "assists", "deaths"},
	},
}

// CreateLogStaging sets up the session-local staging tables for logs. Heal
// rows keep foreign keys to staged players so a heal target that never
// appears among the players is caught while staging.
func CreateLogStaging(ctx context.Context, q Querier) error {
	stmts := []string{
		"CREATE TEMP TABLE IF NOT EXISTS staged_to_delete (logid INT PRIMARY KEY)",
	}
	for _, t := range LogTables {
		stmts = append(stmts, t.StagingDDL())
	}
	stmts = append(stmts,
		`ALTER TABLE staged_heal_stats
			ADD FOREIGN KEY (logid, healer) REFERENCES staged_player_stats (logid, steamid64),
			ADD FOREIGN KEY (logid, healee) REFERENCES staged_player_stats (logid, steamid64)`,
		"CREATE INDEX IF NOT EXISTS staged_class_stats_logid ON staged_class_stats (logid)",
		"CREATE INDEX IF NOT EXISTS staged_log_time ON staged_log (time)",
	)
	return execAll(ctx, q, "create log staging", stmts)
}

// CreateDemoStaging sets up the session-local staging tables for demos
func CreateDemoStaging(ctx context.Context, q Querier) error {
	var stmts []string
	for _, t := range DemoTables {
		stmts = append(stmts, t.StagingDDL())
	}
	return execAll(ctx, q, "create demo staging", stmts)
}

// Publish upserts every staged table in order
func Publish(ctx context.Context, tx pgx.Tx, tables []Table) error {
	for _, t := range tables {
		if _, err := tx.Exec(ctx, t.PublishSQL()); err != nil {
			return Classify("publish "+t.Name, err)
		}
	}
	return nil
}

// Truncate empties the staging tables
func Truncate(ctx context.Context, tx pgx.Tx, tables []Table, extra ...string) error {
	names := slices.Clone(extra)
	for _, t := range tables {
		names = append(names, t.Staged())
	}
	_, err := tx.Exec(ctx, "TRUNCATE "+strings.Join(names, ", "))
	return Classify("truncate staging", err)
}

func execAll(ctx context.Context, q Querier, what string, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return Classify(what, err)
		}
	}
	return nil
}
