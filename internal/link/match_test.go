package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ids(from, n int64) Set {
	s := make([]int64, n)
	for i := range s {
		s[i] = from + int64(i)
	}
	return NewSet(s)
}

func TestSet(t *testing.T) {
	s := NewSet([]int64{3, 1, 2, 3})
	assert.Equal(t, Set{1, 2, 3}, s)
	assert.Equal(t, 2, s.Intersect(Set{2, 3, 4}))
	assert.True(t, s.Contains(Set{1, 3}))
	assert.False(t, s.Contains(Set{1, 4}))
	assert.Equal(t, Set{1, 2, 3, 4}, s.Union(Set{4, 2}))
}

func TestBestDemo(t *testing.T) {
	log := Timed{ID: 1, Time: 10000, Players: ids(1, 12)}

	tests := []struct {
		name   string
		demos  []Timed
		want   int64
		wantOK bool
	}{
		{"same players", []Timed{{ID: 5, Time: 10100, Players: ids(1, 12)}}, 5, true},
		{"demo missed someone", []Timed{{ID: 5, Time: 10100, Players: ids(1, 11)}}, 5, true},
		{"demo has extra people", []Timed{{ID: 5, Time: 9800, Players: ids(0, 14)}}, 5, true},
		{"partial overlap", []Timed{{ID: 5, Time: 10000, Players: ids(6, 12)}}, 0, false},
		{"outside the window", []Timed{{ID: 5, Time: 10301, Players: ids(1, 12)}}, 0, false},
		{"edge of the window", []Timed{{ID: 5, Time: 9700, Players: ids(1, 12)}}, 5, true},
		{"nearest wins", []Timed{
			{ID: 5, Time: 10200, Players: ids(1, 12)},
			{ID: 6, Time: 9950, Players: ids(1, 12)},
		}, 6, true},
		{"tie goes to the lower id", []Timed{
			{ID: 8, Time: 10100, Players: ids(1, 12)},
			{ID: 7, Time: 9900, Players: ids(1, 12)},
		}, 7, true},
		{"empty demo", []Timed{{ID: 5, Time: 10000}}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BestDemo(log, tt.demos)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBestMatch(t *testing.T) {
	red, blue := ids(100, 6), ids(200, 6)
	log := MatchLog{ID: 1, Time: 1_000_000, Red: red, Blue: blue}

	t.Run("orientation", func(t *testing.T) {
		cands := []Candidate{{
			League: "etf2l", MatchID: 10, Scheduled: 1_000_000, FormatPlayers: 6,
			Team1: blue, Team2: red,
		}}
		m, ok := BestMatch(log, cands)
		assert.True(t, ok)
		assert.Equal(t, MatchLink{Log: 1, League: "etf2l", MatchID: 10}, m)
	})

	t.Run("mercs are tolerated", func(t *testing.T) {
		cands := []Candidate{{
			League: "rgl", MatchID: 10, Scheduled: 1_000_000, FormatPlayers: 6,
			Team1: ids(100, 4), Team2: ids(200, 6),
		}}
		m, ok := BestMatch(log, cands)
		assert.True(t, ok)
		assert.True(t, m.Team1IsRed)
	})

	t.Run("too many unknown players", func(t *testing.T) {
		cands := []Candidate{{
			League: "rgl", MatchID: 10, Scheduled: 1_000_000, FormatPlayers: 6,
			Team1: ids(100, 3), Team2: ids(200, 6),
		}}
		_, ok := BestMatch(log, cands)
		assert.False(t, ok)
	})

	t.Run("one roster absent", func(t *testing.T) {
		cands := []Candidate{{
			League: "rgl", MatchID: 10, Scheduled: 1_000_000, FormatPlayers: 6,
			Team1: ids(100, 6), Team2: ids(900, 6),
		}}
		_, ok := BestMatch(log, cands)
		assert.False(t, ok)
	})

	t.Run("outside the window", func(t *testing.T) {
		cands := []Candidate{{
			League: "rgl", MatchID: 10, Scheduled: 1_000_000 + MatchWindow + 1, FormatPlayers: 6,
			Team1: red, Team2: blue,
		}}
		_, ok := BestMatch(log, cands)
		assert.False(t, ok)
	})

	t.Run("formats without a size never match", func(t *testing.T) {
		cands := []Candidate{{
			League: "rgl", MatchID: 10, Scheduled: 1_000_000, Team1: red, Team2: blue,
		}}
		_, ok := BestMatch(log, cands)
		assert.False(t, ok)
	})

	t.Run("best coverage then nearest then lowest key", func(t *testing.T) {
		cands := []Candidate{
			{League: "rgl", MatchID: 30, Scheduled: 1_000_000, FormatPlayers: 6,
				Team1: ids(100, 5), Team2: blue},
			{League: "rgl", MatchID: 20, Scheduled: 1_003_600, FormatPlayers: 6,
				Team1: red, Team2: blue},
			{League: "rgl", MatchID: 11, Scheduled: 999_000, FormatPlayers: 6,
				Team1: red, Team2: blue},
			{League: "etf2l", MatchID: 12, Scheduled: 1_001_000, FormatPlayers: 6,
				Team1: red, Team2: blue},
			{League: "rgl", MatchID: 10, Scheduled: 1_001_000, FormatPlayers: 6,
				Team1: red, Team2: blue},
		}
		m, ok := BestMatch(log, cands)
		assert.True(t, ok)
		assert.Equal(t, "etf2l", m.League)
		assert.Equal(t, int64(12), m.MatchID)
	})

	t.Run("tied orientation", func(t *testing.T) {
		mixed := NewSet(append(ids(100, 3), ids(200, 3)...))
		rest := NewSet(append(ids(103, 3), ids(203, 3)...))
		cands := []Candidate{{
			League: "rgl", MatchID: 10, Scheduled: 1_000_000, FormatPlayers: 6,
			Team1: mixed, Team2: rest,
		}}
		m, ok := BestMatch(log, cands)
		assert.True(t, ok)
		assert.True(t, m.Tied)
		assert.False(t, m.Team1IsRed)
	})
}

func TestByTime(t *testing.T) {
	sorted := []Timed{{ID: 1, Time: 100}, {ID: 2, Time: 200}, {ID: 3, Time: 300}, {ID: 4, Time: 400}}
	got := byTime(sorted, func(t Timed) int64 { return t.Time }, 250, 100)
	assert.Equal(t, []Timed{{ID: 2, Time: 200}, {ID: 3, Time: 300}}, got)
	assert.Empty(t, byTime(sorted, func(t Timed) int64 { return t.Time }, 1000, 100))
}
