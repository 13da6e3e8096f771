package rgl

// ListEntry is one element of /matches/paged
type ListEntry struct {
	MatchID   int64   `json:"matchId"`
	MatchDate *string `json:"matchDate"`
}

// Match represents the response from /matches/{id}
type Match struct {
	MatchID      int64       `json:"matchId"`
	SeasonID     int64       `json:"seasonId"`
	SeasonName   string      `json:"seasonName"`
	DivisionID   int64       `json:"divisionId"`
	DivisionName string      `json:"divisionName"`
	MatchName    *string     `json:"matchName"`
	MatchDate    *string     `json:"matchDate"`
	IsForfeit    bool        `json:"isForfeit"`
	Teams        []MatchTeam `json:"teams"`
	Maps         []MatchMap  `json:"maps"`

	// Fetched is when the response was retrieved
	Fetched int64 `json:"fetched"`
}

type MatchTeam struct {
	TeamID   int64    `json:"teamId"`
	TeamName string   `json:"teamName"`
	Points   *float64 `json:"points"`
}

type MatchMap struct {
	MapName string `json:"mapName"`
}

// Team represents the response from /teams/{id}
type Team struct {
	TeamID      int64        `json:"teamId"`
	LinkedTeams []int64      `json:"linkedTeams"`
	SeasonID    int64        `json:"seasonId"`
	DivisionID  int64        `json:"divisionId"`
	Name        string       `json:"name"`
	FinalRank   *int         `json:"finalRank"`
	Players     []TeamPlayer `json:"players"`
	Fetched     int64        `json:"fetched"`
}

type TeamPlayer struct {
	Name     string  `json:"name"`
	SteamID  string  `json:"steamId"`
	JoinedAt *string `json:"joinedAt"`
	LeftAt   *string `json:"leftAt"`
}

// Season represents the response from /seasons/{id}
type Season struct {
	Name       string `json:"name"`
	FormatName string `json:"formatName"`
	// DivisionSorting maps division ids to their display order
	DivisionSorting map[string]int `json:"divisionSorting"`
}
