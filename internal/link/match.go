// Package link associates committed logs with the demos recorded during them
// and the league matches they were played for.
package link

import (
	"slices"
	"sort"
)

// Windows around a log's time in which a demo or a match may lie
const (
	DemoWindow  = 5 * 60
	MatchWindow = 12 * 60 * 60
)

// Set is a sorted, duplicate-free list of steam ids
type Set []int64

// NewSet sorts and dedups ids
func NewSet(ids []int64) Set {
	s := slices.Clone(ids)
	slices.Sort(s)
	return slices.Compact(s)
}

// Intersect counts the ids in both sets
func (s Set) Intersect(o Set) int {
	n, i, j := 0, 0, 0
	for i < len(s) && j < len(o) {
		switch {
		case s[i] < o[j]:
			i++
		case s[i] > o[j]:
			j++
		default:
			n++
			i++
			j++
		}
	}
	return n
}

// Contains reports whether every id of o is in s
func (s Set) Contains(o Set) bool {
	return s.Intersect(o) == len(o)
}

// Union merges two sets
func (s Set) Union(o Set) Set {
	return NewSet(append(slices.Clone(s), o...))
}

// Timed is a log or demo with its players
type Timed struct {
	ID      int64
	Time    int64
	Players Set
}

// BestDemo picks the demo for a log: within the window, with one player set
// containing the other. Recordings may start late or include people who left,
// so equality is not required. The nearest in time wins, then the lower id.
func BestDemo(log Timed, demos []Timed) (int64, bool) {
	if len(log.Players) == 0 {
		return 0, false
	}
	best, bestDist, found := int64(0), int64(0), false
	for _, d := range demos {
		dist := abs(d.Time - log.Time)
		if dist > DemoWindow || len(d.Players) == 0 {
			continue
		}
		if !log.Players.Contains(d.Players) && !d.Players.Contains(log.Players) {
			continue
		}
		if !found || dist < bestDist || (dist == bestDist && d.ID < best) {
			best, bestDist, found = d.ID, dist, true
		}
	}
	return best, found
}

// MatchLog is a log still missing its match
type MatchLog struct {
	ID   int64
	Time int64
	Red  Set
	Blue Set
}

// Candidate is a scheduled match with both rosters as of its schedule
type Candidate struct {
	League    string
	MatchID   int64
	Scheduled int64
	// Players per team in the competition's format
	FormatPlayers int
	Team1         Set
	Team2         Set
}

// MatchLink is the match chosen for a log
type MatchLink struct {
	Log        int64
	League     string
	MatchID    int64
	Team1IsRed bool
	// Tied is set when the rosters split evenly across both sides
	Tied bool
}

// BestMatch picks the match a log was played for. Each roster must account
// for at least a third of a team's worth of the log's players, and at most
// that many players may be on neither roster. Among the survivors the one
// covering the most players wins, then the nearest schedule, then the lowest
// league and match id.
func BestMatch(log MatchLog, cands []Candidate) (MatchLink, bool) {
	players := log.Red.Union(log.Blue)

	var (
		best         *Candidate
		bestCoverage int
		bestDist     int64
	)
	for i := range cands {
		c := &cands[i]
		if c.FormatPlayers <= 0 {
			continue
		}
		dist := abs(log.Time - c.Scheduled)
		if dist > MatchWindow {
			continue
		}

		third := c.FormatPlayers / 3
		on1, on2 := c.Team1.Intersect(players), c.Team2.Intersect(players)
		if on1 < third || on2 < third {
			continue
		}
		rostered := c.Team1.Union(c.Team2).Intersect(players)
		if len(players)-rostered > third {
			continue
		}

		coverage := rostered
		if best == nil || better(c, coverage, dist, best, bestCoverage, bestDist) {
			best, bestCoverage, bestDist = c, coverage, dist
		}
	}
	if best == nil {
		return MatchLink{}, false
	}

	straight := best.Team1.Intersect(log.Red) + best.Team2.Intersect(log.Blue)
	crossed := best.Team1.Intersect(log.Blue) + best.Team2.Intersect(log.Red)
	return MatchLink{
		Log:        log.ID,
		League:     best.League,
		MatchID:    best.MatchID,
		Team1IsRed: straight > crossed,
		Tied:       straight == crossed,
	}, true
}

func better(c *Candidate, coverage int, dist int64, best *Candidate, bestCoverage int, bestDist int64) bool {
	if coverage != bestCoverage {
		return coverage > bestCoverage
	}
	if dist != bestDist {
		return dist < bestDist
	}
	if c.League != best.League {
		return c.League < best.League
	}
	return c.MatchID < best.MatchID
}

// byTime finds the entries of a time-sorted slice within window of t
func byTime[T any](sorted []T, timeOf func(T) int64, t, window int64) []T {
	lo := sort.Search(len(sorted), func(i int) bool { return timeOf(sorted[i]) >= t-window })
	hi := sort.Search(len(sorted), func(i int) bool { return timeOf(sorted[i]) > t+window })
	return sorted[lo:hi]
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
