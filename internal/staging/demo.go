package staging

import (
	"sort"

	"trends-importer/internal/demostf"
	"trends-importer/internal/steamid"
)

// DemoRecord is one demo, normalized
type DemoRecord struct {
	Demo    DemoRow
	People  []Person
	Players []DemoPlayerRow
}

type DemoRow struct {
	DemoID    int64
	URL       string
	Server    string
	Duration  int64
	Map       string
	Time      int64
	RedName   string
	BlueName  string
	RedScore  int64
	BlueScore int64
	Players   []int64
}

type DemoPlayerRow struct {
	SteamID steamid.ID
	Team    string
	Class   *string
	Kills   int64
	Assists int64
	Deaths  int64
}

// NormalizeDemo keeps the players who were on a team and have a usable
// steam id. Spectators and bots are dropped.
func NormalizeDemo(d *demostf.Demo) (*DemoRecord, error) {
	switch {
	case d.ID == nil:
		return nil, missing("id")
	case d.Time == nil:
		return nil, missing("time")
	case d.Duration == nil:
		return nil, missing("duration")
	case d.Map == nil:
		return nil, missing("map")
	case d.RedScore == nil || d.BlueScore == nil:
		return nil, missing("scores")
	}

	rec := &DemoRecord{Demo: DemoRow{
		DemoID:    *d.ID,
		URL:       d.URL,
		Server:    d.Server,
		Duration:  *d.Duration,
		Map:       *d.Map,
		Time:      *d.Time,
		RedName:   d.Red,
		BlueName:  d.Blue,
		RedScore:  *d.RedScore,
		BlueScore: *d.BlueScore,
	}}

	seen := map[steamid.ID]bool{}
	for _, p := range d.Players {
		if p.Team != "red" && p.Team != "blue" {
			continue
		}
		id, err := steamid.Parse(p.SteamID)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true

		var class *string
		if p.Class != "" {
			c := p.Class
			class = &c
		}
		rec.People = append(rec.People, Person{SteamID: id, Name: p.Name})
		rec.Players = append(rec.Players, DemoPlayerRow{
			SteamID: id,
			Team:    p.Team,
			Class:   class,
			Kills:   p.Kills,
			Assists: p.Assists,
			Deaths:  p.Deaths,
		})
	}

	sort.Slice(rec.Players, func(i, j int) bool { return rec.Players[i].SteamID < rec.Players[j].SteamID })
	rec.Demo.Players = make([]int64, len(rec.Players))
	for i, p := range rec.Players {
		rec.Demo.Players[i] = int64(p.SteamID)
	}
	return rec, nil
}
