package logstf

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// ListResponse represents the response from /log
type ListResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Results int         `json:"results"`
	Total   int         `json:"total"`
	Logs    []ListEntry `json:"logs"`
}

type ListEntry struct {
	ID      int64  `json:"id"`
	Date    int64  `json:"date"`
	Title   string `json:"title"`
	Map     string `json:"map"`
	Players int    `json:"players"`
}

// Status is the envelope every per-log response carries
type Status struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Log represents the response from /log/{id}. Pointer fields are optional
// upstream; nil means "not recorded", which is different from zero.
type Log struct {
	Version    int                `json:"version"`
	Teams      *Teams             `json:"teams"`
	Length     int64              `json:"length"`
	Players    map[string]*Player `json:"players"`
	Names      map[string]string  `json:"names"`
	Rounds     []Round            `json:"rounds"` // nil on very old logs, see Info.Rounds

	HealSpread       map[string]map[string]int64 `json:"healspread"`
	ClassKills       map[string]map[string]int64 `json:"classkills"`
	ClassDeaths      map[string]map[string]int64 `json:"classdeaths"`
	ClassKillAssists map[string]map[string]int64 `json:"classkillassists"`

	Chat []ChatMessage `json:"chat"`
	Info Info          `json:"info"`
}

type Teams struct {
	Red  *TeamSummary `json:"Red"`
	Blue *TeamSummary `json:"Blue"`
}

type TeamSummary struct {
	Score     *int64 `json:"score"`
	Kills     int64  `json:"kills"`
	Deaths    int64  `json:"deaths"`
	Dmg       int64  `json:"dmg"`
	Charges   int64  `json:"charges"`
	Drops     int64  `json:"drops"`
	FirstCaps int64  `json:"firstcaps"`
	Caps      int64  `json:"caps"`
}

type Info struct {
	Map         *string   `json:"map"`
	Title       *string   `json:"title"`
	Date        *int64    `json:"date"`
	TotalLength *int64    `json:"total_length"`
	Uploader    *Uploader `json:"uploader"`
	ADScoring   *bool     `json:"AD_scoring"`

	HasRealDamage   bool `json:"hasRealDamage"`
	HasWeaponDamage bool `json:"hasWeaponDamage"`
	HasAccuracy     bool `json:"hasAccuracy"`
	HasHP           bool `json:"hasHP"`
	HasHPReal       bool `json:"hasHP_real"`
	HasHS           bool `json:"hasHS"`
	HasHSHit        bool `json:"hasHS_hit"`
	HasBS           bool `json:"hasBS"`
	HasCP           bool `json:"hasCP"`
	HasSB           bool `json:"hasSB"`
	HasDT           bool `json:"hasDT"`
	HasAS           bool `json:"hasAS"`
	HasHR           bool `json:"hasHR"`
	HasIntel        bool `json:"hasIntel"`

	// Only present on very old logs
	Red    *TeamSummary `json:"Red"`
	Blue   *TeamSummary `json:"Blue"`
	Rounds []Round      `json:"rounds"`
}

type Uploader struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Info string `json:"info"`
}

type Round struct {
	StartTime *int64      `json:"start_time"`
	Winner    *string     `json:"winner"`
	FirstCap  *string     `json:"firstcap"`
	Length    *int64      `json:"length"`
	Team      *RoundTeams `json:"team"`

	// Older rounds keep team data at the top level
	Red  *RoundTeam `json:"Red"`
	Blue *RoundTeam `json:"Blue"`
}

type RoundTeams struct {
	Red  *RoundTeam `json:"Red"`
	Blue *RoundTeam `json:"Blue"`
}

type RoundTeam struct {
	Score  *int64 `json:"score"`
	Kills  *int64 `json:"kills"`
	Dmg    *int64 `json:"dmg"`
	Damage *int64 `json:"damage"`
	Ubers  *int64 `json:"ubers"`
}

type Player struct {
	Team       *string      `json:"team"`
	ClassStats []ClassStats `json:"class_stats"`

	Kills   int64  `json:"kills"`
	Deaths  int64  `json:"deaths"`
	Assists int64  `json:"assists"`
	Dmg     int64  `json:"dmg"`
	Ubers   int64  `json:"ubers"`
	Drops   int64  `json:"drops"`
	Lks     *int64 `json:"lks"`

	Suicides     *int64 `json:"suicides"`
	DmgReal      *int64 `json:"dmg_real"`
	Dt           *int64 `json:"dt"`
	DtReal       *int64 `json:"dt_real"`
	Hr           *int64 `json:"hr"`
	Airshots     *int64 `json:"as"`
	Medkits      *int64 `json:"medkits"`
	MedkitsHP    *int64 `json:"medkits_hp"`
	Backstabs    *int64 `json:"backstabs"`
	Headshots    *int64 `json:"headshots"`
	HeadshotsHit *int64 `json:"headshots_hit"`
	Sentries     *int64 `json:"sentries"`
	Heal         *int64 `json:"heal"`
	Cpc          *int64 `json:"cpc"`
	Ic           *int64 `json:"ic"`

	UberTypes  map[string]int64 `json:"ubertypes"`
	MedicStats *MedicStats      `json:"medicstats"`
}

type MedicStats struct {
	AdvantagesLost           *int64   `json:"advantages_lost"`
	BiggestAdvantageLost     *float64 `json:"biggest_advantage_lost"`
	DeathsWithin20sAfterUber *int64   `json:"deaths_within_20s_after_uber"`
	DeathsWith9599Uber       *int64   `json:"deaths_with_95_99_uber"`
	AvgTimeBeforeHealing     *float64 `json:"avg_time_before_healing"`
	AvgTimeBeforeUsing       *float64 `json:"avg_time_before_using"`
	AvgTimeToBuild           *float64 `json:"avg_time_to_build"`
	AvgUberLength            *float64 `json:"avg_uber_length"`
}

type ClassStats struct {
	Type      string            `json:"type"`
	Kills     int64             `json:"kills"`
	Assists   int64             `json:"assists"`
	Deaths    int64             `json:"deaths"`
	Dmg       int64             `json:"dmg"`
	TotalTime int64             `json:"total_time"`
	Weapon    map[string]Weapon `json:"weapon"`
}

// Weapon is either an object or, on older logs, a bare kill count
type Weapon struct {
	Kills  int64    `json:"kills"`
	Dmg    *int64   `json:"dmg"`
	AvgDmg *float64 `json:"avg_dmg"`
	Shots  *int64   `json:"shots"`
	Hits   *int64   `json:"hits"`
}

// UnmarshalJSON accepts both weapon shapes
func (w *Weapon) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		if bytes.Equal(data, []byte("null")) {
			*w = Weapon{}
			return nil
		}
		var kills int64
		if err := json.Unmarshal(data, &kills); err != nil {
			return fmt.Errorf("weapon: %w", err)
		}
		*w = Weapon{Kills: kills}
		return nil
	}

	type plain Weapon
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*w = Weapon(p)
	return nil
}

type ChatMessage struct {
	SteamID string `json:"steamid"`
	Name    string `json:"name"`
	Msg     string `json:"msg"`
}
