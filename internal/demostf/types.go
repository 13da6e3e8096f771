package demostf

// ListEntry represents one element of the response from /demos/
type ListEntry struct {
	ID   int64  `json:"id"`
	Time int64  `json:"time"`
	Map  string `json:"map"`
}

// Demo represents the response from /demos/{id}
type Demo struct {
	ID          *int64   `json:"id"`
	URL         string   `json:"url"`
	Name        string   `json:"name"`
	Server      string   `json:"server"`
	Duration    *int64   `json:"duration"`
	Nick        string   `json:"nick"`
	Map         *string  `json:"map"`
	Time        *int64   `json:"time"`
	Red         string   `json:"red"`
	Blue        string   `json:"blue"`
	RedScore    *int64   `json:"redScore"`
	BlueScore   *int64   `json:"blueScore"`
	PlayerCount int      `json:"playerCount"`
	Players     []Player `json:"players"`
}

type Player struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Team    string `json:"team"` // red, blue, spectator, ...
	Class   string `json:"class"`
	SteamID string `json:"steamid"`
	Kills   int64  `json:"kills"`
	Assists int64  `json:"assists"`
	Deaths  int64  `json:"deaths"`
}
