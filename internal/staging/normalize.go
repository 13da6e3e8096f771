package staging

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"trends-importer/internal/dedup"
	"trends-importer/internal/fault"
	"trends-importer/internal/logstf"
	"trends-importer/internal/steamid"
)

// Round times further than this from the log date are bogus
const maxRoundDrift = 24 * 60 * 60

const (
	teamRed  = "Red"
	teamBlue = "Blue"
)

func missing(what string) error {
	return fault.Parse(what, errors.New("missing"))
}

// Normalize maps a decoded log onto rows. It applies the fixed clean-up
// policy for known upstream irregularities and fails with a ParseError when
// a required field is absent.
func Normalize(id int64, l *logstf.Log) (*Record, error) {
	rec := &Record{}
	if err := normalizeHeader(id, l, &rec.Log); err != nil {
		return nil, err
	}
	rec.People = append(rec.People, Person{SteamID: rec.Log.Uploader, Name: rec.Log.UploaderName})

	doubledUbers, err := normalizePlayers(l, rec)
	if err != nil {
		return nil, err
	}
	normalizeChat(l, rec)
	normalizeHeals(l, rec)
	if err := normalizeRounds(l, rec, doubledUbers); err != nil {
		return nil, err
	}

	if hash, ok := dedup.Fingerprint(fingerprintRounds(rec.Rounds)); ok {
		rec.Log.RoundHash = &hash
	}
	return rec, nil
}

func normalizeHeader(id int64, l *logstf.Log, row *LogRow) error {
	info := l.Info
	switch {
	case info.Date == nil:
		return missing("info.date")
	case info.TotalLength == nil:
		return missing("info.total_length")
	case info.Map == nil:
		return missing("info.map")
	case info.Title == nil:
		return missing("info.title")
	case info.Uploader == nil:
		return missing("info.uploader")
	}

	uploader, err := steamid.Parse(info.Uploader.ID)
	if err != nil {
		return fault.Parse("uploader", err)
	}

	red, blue := teamScore(l.Teams, teamRed, info.Red), teamScore(l.Teams, teamBlue, info.Blue)
	if red == nil || blue == nil {
		return missing("team scores")
	}

	*row = LogRow{
		LogID:        id,
		Time:         *info.Date,
		Duration:     *info.TotalLength,
		Title:        *info.Title,
		Map:          *info.Map,
		RedScore:     *red,
		BlueScore:    *blue,
		ADScoring:    info.ADScoring,
		Uploader:     uploader,
		UploaderName: info.Uploader.Name,
	}
	return nil
}

// teamScore reads teams.<side>.score, which very old logs keep under info
func teamScore(teams *logstf.Teams, side string, old *logstf.TeamSummary) *int64 {
	if teams != nil {
		t := teams.Red
		if side == teamBlue {
			t = teams.Blue
		}
		if t != nil && t.Score != nil {
			return t.Score
		}
	}
	if old != nil {
		return old.Score
	}
	return nil
}

// gate drops a counter the log did not track
func gate(tracked bool, v *int64) *int64 {
	if !tracked {
		return nil
	}
	return v
}

func truthy(vs ...*int64) bool {
	for _, v := range vs {
		if v != nil && *v != 0 {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizePlayers reports whether ubers were counted twice
func normalizePlayers(l *logstf.Log, rec *Record) (bool, error) {
	info := l.Info
	doubled := false
	seen := map[steamid.ID]bool{}

	for _, key := range sortedKeys(l.Players) {
		p := l.Players[key]
		// Players without a team were not parsed properly upstream, and
		// there is no telling which side they were on
		if p == nil || p.Team == nil || *p.Team == "" {
			continue
		}
		id, err := steamid.Parse(key)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true

		name, ok := l.Names[key]
		if !ok {
			return false, missing("name of " + key)
		}

		time := rec.Log.Time
		rec.People = append(rec.People, Person{SteamID: id, Name: name, LastActive: &time})

		var team *string
		if t := *p.Team; t == teamRed || t == teamBlue {
			team = &t
		}
		rec.Players = append(rec.Players, PlayerRow{
			SteamID: id,
			Team:    team,
			Name:    name,
			Kills:   p.Kills,
			Assists: p.Assists,
			Deaths:  p.Deaths,
			Dmg:     p.Dmg,
			Dt:      gate(info.HasDT, p.Dt),
		})

		extra := PlayerExtraRow{
			SteamID:      id,
			Suicides:     p.Suicides,
			DmgReal:      gate(info.HasRealDamage, p.DmgReal),
			DtReal:       gate(info.HasRealDamage, p.DtReal),
			Hr:           gate(info.HasHR, p.Hr),
			Lks:          p.Lks,
			Airshots:     gate(info.HasAS, p.Airshots),
			Medkits:      gate(info.HasHP, p.Medkits),
			MedkitsHP:    gate(info.HasHPReal, p.MedkitsHP),
			Backstabs:    gate(info.HasBS, p.Backstabs),
			Headshots:    gate(info.HasHS, p.Headshots),
			HeadshotsHit: gate(info.HasHSHit, p.HeadshotsHit),
			Sentries:     gate(info.HasSB, p.Sentries),
			Healing:      p.Heal,
			Cpc:          gate(info.HasCP, p.Cpc),
			Ic:           gate(info.HasIntel, p.Ic),
		}
		if truthy(extra.Suicides, extra.DmgReal, extra.DtReal, extra.Hr, extra.Lks,
			extra.Airshots, extra.Medkits, extra.MedkitsHP, extra.Backstabs, extra.Headshots,
			extra.HeadshotsHit, extra.Sentries, extra.Healing, extra.Cpc, extra.Ic) {
			rec.Extras = append(rec.Extras, extra)
		}

		rec.Events = append(rec.Events, events(l, key, id)...)

		medic := false
		for _, cs := range p.ClassStats {
			// Almost never carries anything player_stats does not
			if cs.Type == "undefined" || cs.Type == "unknown" || cs.Type == "" {
				continue
			}
			if !slices.Contains(Classes, cs.Type) {
				return false, fault.Parse(key, fmt.Errorf("unknown class %q", cs.Type))
			}

			if cs.Type == "medic" && !medic {
				medic = true
				row, twice := medicRow(id, p)
				doubled = doubled || twice
				rec.Medics = append(rec.Medics, row)
			}

			rec.Classes = append(rec.Classes, ClassRow{
				SteamID: id,
				Class:   cs.Type,
				Kills:   cs.Kills,
				Assists: cs.Assists,
				Deaths:  cs.Deaths,
				Dmg:     cs.Dmg,
				// Some logs carry a timestamp instead of a duration
				Duration: min(cs.TotalTime, rec.Log.Duration),
			})
			rec.Weapons = append(rec.Weapons, weapons(info, id, cs)...)
		}
	}
	return doubled, nil
}

func events(l *logstf.Log, key string, id steamid.ID) []EventRow {
	sections := []struct {
		name   string
		counts map[string]map[string]int64
	}{
		{"kill", l.ClassKills},
		{"death", l.ClassDeaths},
		{"assist", l.ClassKillAssists},
	}

	var rows []EventRow
	for _, s := range sections {
		byClass := s.counts[key]
		if len(byClass) == 0 {
			continue
		}
		row := EventRow{SteamID: id, Event: s.name}
		// "unknown" is implied by the difference from player_stats
		for i, class := range Classes {
			row.Counts[i] = byClass[class]
		}
		rows = append(rows, row)
	}
	return rows
}

// medicRow also reports whether this medic's ubers were counted twice, which
// shows up as an "unknown" count equal to the sum of the known types
func medicRow(id steamid.ID, p *logstf.Player) (MedicRow, bool) {
	row := MedicRow{
		SteamID: id,
		Ubers:   p.Ubers,
		Drops:   p.Drops,
	}
	if ms := p.MedicStats; ms != nil {
		row.AdvantagesLost = ms.AdvantagesLost
		row.BiggestAdvantageLost = ms.BiggestAdvantageLost
		row.AvgTimeBeforeHealing = ms.AvgTimeBeforeHealing
		row.AvgTimeBeforeUsing = ms.AvgTimeBeforeUsing
		row.AvgTimeToBuild = ms.AvgTimeToBuild
		row.AvgUberDuration = ms.AvgUberLength
		row.DeathsAfterUber = ms.DeathsWithin20sAfterUber
		row.DeathsBeforeUber = ms.DeathsWith9599Uber
	}

	if p.UberTypes == nil {
		return row, false
	}
	medigun, kritz := p.UberTypes["medigun"], p.UberTypes["kritzkrieg"]
	known := medigun + kritz + p.UberTypes["quickfix"] + p.UberTypes["vaccinator"]
	doubled := known > 0 && known == p.UberTypes["unknown"]
	if doubled {
		row.Ubers -= known
	}
	other := row.Ubers - medigun - kritz
	row.MedigunUbers, row.KritzUbers, row.OtherUbers = &medigun, &kritz, &other
	return row, doubled
}

func weapons(info logstf.Info, id steamid.ID, cs logstf.ClassStats) []WeaponRow {
	var rows []WeaponRow
	for _, name := range sortedKeys(cs.Weapon) {
		// Only ever has hits and nothing else
		if name == "undefined" {
			continue
		}
		w := cs.Weapon[name]
		row := WeaponRow{
			SteamID: id,
			Class:   cs.Type,
			Weapon:  name,
			Kills:   w.Kills,
		}
		if info.HasWeaponDamage {
			row.Dmg, row.AvgDmg = w.Dmg, w.AvgDmg
		}
		if info.HasAccuracy && w.Shots != nil && w.Hits != nil {
			row.Shots, row.Hits = w.Shots, w.Hits
		}
		rows = append(rows, row)
	}
	return rows
}

func normalizeChat(l *logstf.Log, rec *Record) {
	for seq, msg := range l.Chat {
		row := ChatRow{Seq: seq, Name: msg.Name, Msg: msg.Msg}
		if msg.SteamID != "Console" {
			id, err := steamid.Parse(msg.SteamID)
			if err != nil {
				continue
			}
			row.SteamID = &id
			rec.People = append(rec.People, Person{SteamID: id, Name: msg.Name})
		}
		rec.Chat = append(rec.Chat, row)
	}
}

func normalizeHeals(l *logstf.Log, rec *Record) {
	// The same pair can appear under different spellings of a steam id; the
	// later rows are double logging, so the first one wins
	seen := map[[2]steamid.ID]bool{}
	for _, healerKey := range sortedKeys(l.HealSpread) {
		healer, err := steamid.Parse(healerKey)
		if err != nil {
			continue
		}
		healees := l.HealSpread[healerKey]
		for _, healeeKey := range sortedKeys(healees) {
			healee, err := steamid.Parse(healeeKey)
			if err != nil || seen[[2]steamid.ID{healer, healee}] {
				continue
			}
			seen[[2]steamid.ID{healer, healee}] = true
			rec.Heals = append(rec.Heals, HealRow{Healer: healer, Healee: healee, Healing: healees[healeeKey]})
		}
	}
}

func normalizeRounds(l *logstf.Log, rec *Record, doubledUbers bool) error {
	rounds := l.Rounds
	if rounds == nil {
		// Old-style rounds
		rounds = l.Info.Rounds
	}
	if rounds == nil {
		return missing("rounds")
	}

	date := rec.Log.Time
	for seq, r := range rounds {
		red, blue := r.Red, r.Blue
		if r.Team != nil {
			red, blue = r.Team.Red, r.Team.Blue
		}
		if red == nil || blue == nil {
			return missing(fmt.Sprintf("round %d teams", seq))
		}
		if r.Length == nil {
			return missing(fmt.Sprintf("round %d length", seq))
		}

		row := RoundRow{
			Seq:       seq,
			Time:      date,
			Duration:  *r.Length,
			Winner:    side(r.Winner),
			FirstCap:  side(r.FirstCap),
			RedScore:  rec.Log.RedScore,
			BlueScore: rec.Log.BlueScore,
		}
		if r.StartTime != nil && abs(*r.StartTime-date) <= maxRoundDrift {
			row.Time = *r.StartTime
		}
		if red.Score != nil {
			row.RedScore = *red.Score
		}
		if blue.Score != nil {
			row.BlueScore = *blue.Score
		}

		var err error
		if row.RedKills, row.RedDmg, row.RedUbers, err = roundTeam(red); err != nil {
			return fault.Parse(fmt.Sprintf("round %d red", seq), err)
		}
		if row.BlueKills, row.BlueDmg, row.BlueUbers, err = roundTeam(blue); err != nil {
			return fault.Parse(fmt.Sprintf("round %d blue", seq), err)
		}
		if doubledUbers {
			row.RedUbers, row.BlueUbers = halve(row.RedUbers), halve(row.BlueUbers)
		}
		rec.Rounds = append(rec.Rounds, row)
	}
	return nil
}

func roundTeam(t *logstf.RoundTeam) (kills, dmg, ubers int64, err error) {
	d := t.Dmg
	if d == nil {
		d = t.Damage
	}
	if t.Kills == nil || d == nil || t.Ubers == nil {
		return 0, 0, 0, errors.New("missing kills, damage or ubers")
	}
	return *t.Kills, *d, *t.Ubers, nil
}

func side(s *string) *string {
	if s == nil || (*s != teamRed && *s != teamBlue) {
		return nil
	}
	v := *s
	return &v
}

// halve rounds half away from zero, as storing x/2 into an integer column would
func halve(n int64) int64 {
	if n < 0 {
		return -halve(-n)
	}
	return (n + 1) / 2
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func fingerprintRounds(rows []RoundRow) []dedup.Round {
	rounds := make([]dedup.Round, len(rows))
	for i, r := range rows {
		winner := ""
		if r.Winner != nil {
			winner = *r.Winner
		}
		rounds[i] = dedup.Round{
			Seq:       r.Seq,
			Duration:  r.Duration,
			Winner:    winner,
			RedScore:  r.RedScore,
			BlueScore: r.BlueScore,
			RedKills:  r.RedKills,
			BlueKills: r.BlueKills,
			RedDmg:    r.RedDmg,
			BlueDmg:   r.BlueDmg,
			RedUbers:  r.RedUbers,
			BlueUbers: r.BlueUbers,
		}
	}
	return rounds
}
