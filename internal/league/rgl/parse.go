package rgl

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"trends-importer/internal/fault"
	"trends-importer/internal/league"
	"trends-importer/internal/logger"
	"trends-importer/internal/roster"
	"trends-importer/internal/steamid"
)

const League = "rgl"

// interDivision matches are played between divisions and have no home
const interDivision = 558

var formats = map[string]string{
	"Sixes":        "sixes",
	"NR Sixes":     "sixes",
	"P7":           "prolander",
	"Prolander":    "prolander",
	"Fresh Meat":   "prolander",
	"HL":           "highlander",
	"Highlander":   "highlander",
	"Newcomer Cup": "sixes",
	"PASS Time":    "fours",
}

var reSeasonFormat = regexp.MustCompile(`(Sixes|NR Sixes|P7|Prolander|Fresh Meat|HL|Newcomer Cup|PASS Time)`)

// SeasonInfo is what a match import needs from its season
type SeasonInfo struct {
	Format string
	Tiers  map[int64]int
}

// ParseSeason maps the season's format and orders its divisions
func ParseSeason(s *Season) (SeasonInfo, error) {
	format, ok := formats[s.FormatName]
	if !ok {
		m := reSeasonFormat.FindStringSubmatch(s.Name)
		if m == nil {
			return SeasonInfo{}, fault.Parse("season format", fmt.Errorf("unknown format for %q", s.Name))
		}
		format = formats[m[1]]
	}

	info := SeasonInfo{Format: format, Tiers: make(map[int64]int, len(s.DivisionSorting))}
	for div, order := range s.DivisionSorting {
		id, err := strconv.ParseInt(div, 10, 64)
		if err != nil {
			return SeasonInfo{}, fault.Parse("season division", err)
		}
		info.Tiers[id] = -order
	}
	return info, nil
}

func parseDate(date *string) (*int64, error) {
	if date == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *date)
	if err != nil {
		return nil, fault.Parse("date", err)
	}
	ts := t.Unix()
	return &ts, nil
}

// fixup patches matches whose upstream data is known to be wrong
func fixup(m *Match) {
	date := func(s string) *string { return &s }

	switch {
	case m.MatchID == 1418:
		m.IsForfeit = true
	case m.MatchID == 1419:
		m.MatchDate = date("2018-09-27T01:30:00.000Z")
	case m.MatchID == 6495:
		m.MatchDate = date("2020-05-04T01:30:00.000Z")
	case m.DivisionID == 462:
		m.DivisionName = "Solo Queue A"
	case m.DivisionID == 629:
		m.DivisionID, m.DivisionName = 603, "Advanced"
	case m.DivisionID == 642:
		m.DivisionID, m.DivisionName = 635, "Invite"
	}
}

// ParseMatch converts a match response. It returns false for matches that
// were never played or that do not belong to one division. Season data is
// filled in later.
func ParseMatch(m *Match, log *logger.Logger) (*league.Match, bool, error) {
	fixup(m)
	if len(m.Teams) != 2 {
		return nil, false, fault.Parse("match teams", fmt.Errorf("%d teams", len(m.Teams)))
	}
	if m.Teams[0].Points == nil && m.Teams[1].Points == nil {
		return nil, false, nil
	}
	if m.DivisionID == interDivision {
		log.Info("Skipping inter-division match", "matchid", m.MatchID)
		return nil, false, nil
	}

	scheduled, err := parseDate(m.MatchDate)
	if err != nil {
		return nil, false, err
	}
	res := &league.Match{
		Competition: league.Competition{League: League, CompID: m.SeasonID, Name: m.SeasonName},
		Division:    &league.Division{DivID: m.DivisionID, Name: m.DivisionName},
		MatchID:     m.MatchID,
		RoundName:   m.MatchName,
		Scheduled:   scheduled,
		Forfeit:     m.IsForfeit,
		Fetched:     m.Fetched,
	}
	for i, t := range m.Teams {
		id := t.TeamID
		res.Teams[i] = &league.Team{
			RGLTeamID:  &id,
			RGLTeamIDs: []int64{id},
			Name:       t.TeamName,
			Score:      points(t.Points),
		}
	}
	for _, mp := range m.Maps {
		res.Maps = append(res.Maps, mp.MapName)
	}
	return res, true, nil
}

func points(p *float64) *int64 {
	if p == nil {
		return nil
	}
	v := int64(math.Round(*p))
	return &v
}

var errLeftBeforeJoining = errors.New("left before joining")

// ParseTeam fills t from a team response, keeping its match score
func ParseTeam(t *league.Team, team *Team, log *logger.Logger) error {
	id := team.TeamID
	t.RGLTeamID = &id
	t.RGLTeamIDs = append([]int64{id}, team.LinkedTeams...)
	t.Name = team.Name
	t.EndRank = team.FinalRank
	t.Fetched = team.Fetched
	t.Known = false
	t.Transfers = t.Transfers[:0]

	for _, p := range team.Players {
		sid, err := steamid.Parse(p.SteamID)
		if err != nil {
			return fault.Parse("roster steamid", err)
		}
		joined, err := parseDate(p.JoinedAt)
		if err != nil {
			return err
		}
		left, err := parseDate(p.LeftAt)
		if err != nil {
			return err
		}

		iv := roster.Interval{Lower: joined, Upper: left}
		if joined != nil && left != nil && *left <= *joined {
			log.Info("Dropping roster entry", "error", errLeftBeforeJoining, "name", p.Name,
				"steamid64", sid, "rgl_teamid", id, "joined", *p.JoinedAt, "left", *p.LeftAt)
			continue
		}
		t.Transfers = append(t.Transfers, league.Transfer{
			Player:   league.Player{SteamID: sid, Name: p.Name},
			Rostered: iv,
		})
	}
	return nil
}
