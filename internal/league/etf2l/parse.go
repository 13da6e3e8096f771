package etf2l

import (
	"fmt"
	"regexp"

	"trends-importer/internal/fault"
	"trends-importer/internal/league"
	"trends-importer/internal/logger"
	"trends-importer/internal/roster"
	"trends-importer/internal/steamid"
)

const League = "etf2l"

const unknownAvatar = "https://api.etf2l.org/img/unknown_avatar_full.jpg"

var (
	reTeamAvatar  = regexp.MustCompile(`^.*([a-z0-9]{13}\.[a-z]{3})$`)
	reSteamAvatar = regexp.MustCompile(`^.*([a-z0-9]{40})(|_medium|_full)\.[a-z]{3}$`)
)

var formats = map[string]string{
	"1on1":                     "other",
	"1v1":                      "other",
	"2on2":                     "ultiduo",
	"2v2":                      "ultiduo",
	"6on6":                     "sixes",
	"6v6":                      "sixes",
	"National 6v6 Team":        "sixes",
	"Highlander":               "highlander",
	"Highlander Open":          "highlander",
	"National Highlander Team": "highlander",
	"Fun Team":                 "other",
	"6v6 Fun Team":             "sixes",
	"LAN Team":                 "other",
}

// avatarHash extracts the hash from an avatar URL. Missing and placeholder
// avatars have none.
func avatarHash(url string, re *regexp.Regexp, log *logger.Logger) *string {
	if url == "" || url == unknownAvatar {
		return nil
	}
	m := re.FindStringSubmatch(url)
	if m == nil {
		log.Warn("No avatar hash", "url", url)
		return nil
	}
	return &m[1]
}

// ParseResult converts a listed result. Teams are ordered by id.
func ParseResult(r *Result, log *logger.Logger) (*league.Match, error) {
	comp := r.Competition
	// The first season's divisions were filed under a different competition
	if r.Division.ID != nil && *r.Division.ID == 17 {
		comp = Competition{ID: 1, Name: "Season 1", Type: "6on6"}
	}
	format, ok := formats[comp.Type]
	if !ok {
		return nil, fault.Parse("competition type", fmt.Errorf("unknown type %q", comp.Type))
	}

	clans := [2]Clan{r.Clan1, r.Clan2}
	scores := [2]*int64{r.R1, r.R2}
	if clans[0].ID > clans[1].ID {
		clans[0], clans[1] = clans[1], clans[0]
		scores[0], scores[1] = scores[1], scores[0]
	}

	m := &league.Match{
		Competition: league.Competition{League: League, CompID: comp.ID, Name: comp.Name, Format: format},
		MatchID:     r.ID,
		RoundSeq:    r.Week,
		RoundName:   r.Round,
		Scheduled:   r.Time,
		Forfeit:     bool(r.DefaultWin),
		Fetched:     r.Fetched,
	}
	if r.Division.ID != nil {
		d := &league.Division{DivID: *r.Division.ID}
		if r.Division.Name != nil {
			d.Name = *r.Division.Name
		}
		if r.Division.Tier != nil {
			d.Tier = *r.Division.Tier
		}
		m.Division = d
	}
	for i, c := range clans {
		m.Teams[i] = &league.Team{
			TeamID:     c.ID,
			Name:       string(c.Name),
			AvatarHash: avatarHash(c.Steam.Avatar, reTeamAvatar, log),
			Score:      scores[i],
		}
	}
	for _, name := range r.Maps {
		if name != "variable" {
			m.Maps = append(m.Maps, name)
		}
	}
	return m, nil
}

// ParseTransfer turns a join into [time, ∞) and a leave into (-∞, time)
func ParseTransfer(x *Transfer, log *logger.Logger) (league.Transfer, error) {
	sid, err := steamid.Parse(x.Who.Steam.ID64)
	if err != nil {
		return league.Transfer{}, fault.Parse("transfer steamid", err)
	}
	eu := x.Who.ID
	t := league.Transfer{
		Player: league.Player{
			SteamID:    sid,
			Name:       x.Who.Name,
			AvatarHash: avatarHash(x.Who.Steam.Avatar, reSteamAvatar, log),
			EUPlayerID: &eu,
		},
	}

	switch x.Type {
	case "joined":
		t.Rostered = roster.From(x.Time)
	case "left":
		t.Rostered = roster.Until(x.Time)
	default:
		return league.Transfer{}, fault.Parse("transfer type", fmt.Errorf("unknown type %q", x.Type))
	}
	return t, nil
}
