package etf2l

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// Paged is a page of a listing
type Paged[T any] struct {
	Data        []T     `json:"data"`
	CurrentPage int     `json:"current_page"`
	LastPage    int     `json:"last_page"`
	NextPageURL *string `json:"next_page_url"`
}

// ResultsResponse represents the response from /results
type ResultsResponse struct {
	Results Paged[Result] `json:"results"`
}

// TransfersResponse represents the response from /teams/{id}/transfers
type TransfersResponse struct {
	Transfers Paged[Transfer] `json:"transfers"`
}

type Result struct {
	ID          int64       `json:"id"`
	Clan1       Clan        `json:"clan1"`
	Clan2       Clan        `json:"clan2"`
	Competition Competition `json:"competition"`
	Division    Division    `json:"division"`
	Round       *string     `json:"round"`
	Week        *int        `json:"week"`
	Time        *int64      `json:"time"`
	Maps        []string    `json:"maps"`
	R1          *int64      `json:"r1"`
	R2          *int64      `json:"r2"`
	DefaultWin  flexBool    `json:"defaultwin"`

	// Fetched is when the result was retrieved
	Fetched int64 `json:"fetched"`
}

type Clan struct {
	ID    int64      `json:"id"`
	Name  flexString `json:"name"`
	Steam Steam      `json:"steam"`
}

type Steam struct {
	ID64   string `json:"id64"`
	Avatar string `json:"avatar"`
}

type Competition struct {
	ID       int64  `json:"id"`
	Category string `json:"category"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

type Division struct {
	ID   *int64  `json:"id"`
	Name *string `json:"name"`
	Tier *int    `json:"tier"`
}

type Transfer struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Who  Who    `json:"who"`
}

type Who struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Steam Steam  `json:"steam"`
}

// flexString accepts team names the API sends as numbers
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(data)
	return nil
}

// flexBool accepts booleans, numbers and numeric strings
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null", "false", "0", `""`, `"0"`:
		*b = false
		return nil
	case "true":
		*b = true
		return nil
	}
	if s, err := strconv.Unquote(string(data)); err == nil {
		*b = flexBool(s != "")
		return nil
	}
	*b = true
	return nil
}
