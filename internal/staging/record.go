// Package staging turns upstream payloads into rows and writes them into the
// session-local staging tables.
package staging

import "trends-importer/internal/steamid"

// Classes in the order event columns are stored
var Classes = []string{
	"demoman",
	"engineer",
	"heavyweapons",
	"medic",
	"pyro",
	"scout",
	"sniper",
	"soldier",
	"spy",
}

// Record is one log, normalized. Optional counters are pointers so that
// "not tracked" survives as NULL.
type Record struct {
	Log     LogRow
	People  []Person
	Rounds  []RoundRow
	Players []PlayerRow
	Extras  []PlayerExtraRow
	Medics  []MedicRow
	Classes []ClassRow
	Weapons []WeaponRow
	Events  []EventRow
	Chat    []ChatRow
	Heals   []HealRow
}

type LogRow struct {
	LogID        int64
	Time         int64
	Duration     int64
	Title        string
	Map          string
	RedScore     int64
	BlueScore    int64
	ADScoring    *bool
	Uploader     steamid.ID
	UploaderName string
	RoundHash    *int64
}

// Person is a player row. LastActive is nil for people who only chatted or
// uploaded.
type Person struct {
	SteamID    steamid.ID
	Name       string
	LastActive *int64
}

type RoundRow struct {
	Seq       int
	Time      int64
	Duration  int64
	Winner    *string
	FirstCap  *string
	RedScore  int64
	BlueScore int64
	RedKills  int64
	BlueKills int64
	RedDmg    int64
	BlueDmg   int64
	RedUbers  int64
	BlueUbers int64
}

type PlayerRow struct {
	SteamID steamid.ID
	Team    *string
	Name    string
	Kills   int64
	Assists int64
	Deaths  int64
	Dmg     int64
	Dt      *int64
}

type PlayerExtraRow struct {
	SteamID      steamid.ID
	Suicides     *int64
	DmgReal      *int64
	DtReal       *int64
	Hr           *int64
	Lks          *int64
	Airshots     *int64
	Medkits      *int64
	MedkitsHP    *int64
	Backstabs    *int64
	Headshots    *int64
	HeadshotsHit *int64
	Sentries     *int64
	Healing      *int64
	Cpc          *int64
	Ic           *int64
}

type MedicRow struct {
	SteamID              steamid.ID
	Ubers                int64
	MedigunUbers         *int64
	KritzUbers           *int64
	OtherUbers           *int64
	Drops                int64
	AdvantagesLost       *int64
	BiggestAdvantageLost *float64
	AvgTimeBeforeHealing *float64
	AvgTimeBeforeUsing   *float64
	AvgTimeToBuild       *float64
	AvgUberDuration      *float64
	DeathsAfterUber      *int64
	DeathsBeforeUber     *int64
}

type ClassRow struct {
	SteamID  steamid.ID
	Class    string
	Kills    int64
	Assists  int64
	Deaths   int64
	Dmg      int64
	Duration int64
}

type WeaponRow struct {
	SteamID steamid.ID
	Class   string
	Weapon  string
	Kills   int64
	Dmg     *int64
	AvgDmg  *float64
	Shots   *int64
	Hits    *int64
}

// EventRow counts one kind of event against each class, in Classes order
type EventRow struct {
	SteamID steamid.ID
	Event   string
	Counts  [9]int64
}

type ChatRow struct {
	Seq     int
	SteamID *steamid.ID // nil for the console
	Name    string
	Msg     string
}

type HealRow struct {
	Healer  steamid.ID
	Healee  steamid.ID
	Healing int64
}
