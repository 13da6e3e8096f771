// Package roster reconciles a player's team membership intervals.
//
// Leagues report membership as a stream of join and leave events. A join
// becomes [t, ∞) and a leave becomes (-∞, t). Merging the raw events with what
// is already stored yields the closed spans the player was actually on the
// team, without letting an open join swallow later, unrelated spans.
package roster

import (
	"fmt"
	"sort"
)

// Interval is the half-open range [Lower, Upper). A nil bound is unbounded.
type Interval struct {
	Lower *int64
	Upper *int64
}

// Closed is [lower, upper)
func Closed(lower, upper int64) Interval {
	return Interval{Lower: &lower, Upper: &upper}
}

// From is [lower, ∞)
func From(lower int64) Interval {
	return Interval{Lower: &lower}
}

// Until is (-∞, upper)
func Until(upper int64) Interval {
	return Interval{Upper: &upper}
}

// Equal compares bounds by value
func (iv Interval) Equal(other Interval) bool {
	return eqBound(iv.Lower, other.Lower) && eqBound(iv.Upper, other.Upper)
}

func eqBound(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Valid reports whether the interval may be stored: it needs a start and
// must not be empty or inverted.
func (iv Interval) Valid() bool {
	if iv.Lower == nil {
		return false
	}
	return iv.Upper == nil || *iv.Lower < *iv.Upper
}

func (iv Interval) String() string {
	lower, upper := "(-∞", "∞)"
	if iv.Lower != nil {
		lower = fmt.Sprintf("[%d", *iv.Lower)
	}
	if iv.Upper != nil {
		upper = fmt.Sprintf("%d)", *iv.Upper)
	}
	return lower + "," + upper
}

// Result is the change set to apply to the stored intervals
type Result struct {
	Delete []Interval
	Insert []Interval
}

type candidate struct {
	iv     Interval
	stored bool
	// least of the two bounds, nil when both are unbounded
	key *int64
	// running maximum of explicit uppers up to and including this key
	end *int64
}

// Merge folds updates into the existing intervals of one player on one team.
//
// Intervals are swept in order of their earliest finite bound, and intervals
// sharing that bound always move together. A running end tracks the greatest
// explicit upper bound seen so far; open uppers never extend it. A new group
// starts wherever the next key's earliest start lies strictly after the
// running end. Each group collapses to [min lower, max end), which is left
// open when the group starts after its end. An open group absorbs the groups
// after it until one of them supplies an end, so open spans never overlap
// later ones. Groups that come out without a start, empty or inverted are
// dropped.
func Merge(existing, updates []Interval) Result {
	all := make([]candidate, 0, len(existing)+len(updates))
	for _, iv := range existing {
		all = append(all, candidate{iv: iv, stored: true, key: least(iv)})
	}
	for _, iv := range updates {
		all = append(all, candidate{iv: iv, key: least(iv)})
	}
	if len(all) == 0 {
		return Result{}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if c := cmpKey(all[i].key, all[j].key); c != 0 {
			return c < 0
		}
		if c := cmpKey(all[i].iv.Lower, all[j].iv.Lower); c != 0 {
			return c < 0
		}
		return cmpKey(all[i].iv.Upper, all[j].iv.Upper) < 0
	})

	// Peers sharing a key see each other's uppers
	var (
		peers   [][]candidate
		running *int64
	)
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && cmpKey(all[j].key, all[i].key) == 0 {
			running = maxBound(running, all[j].iv.Upper)
			j++
		}
		for k := i; k < j; k++ {
			all[k].end = running
		}
		peers = append(peers, all[i:j])
		i = j
	}

	var groups [][]candidate
	var cur []candidate
	for i, p := range peers {
		cur = append(cur, p...)
		if i+1 < len(peers) {
			next := firstLower(peers[i+1])
			end := p[0].end
			if next == nil || end == nil || *next <= *end {
				continue
			}
		}
		if n := len(groups); n > 0 && open(collapse(groups[n-1])) {
			groups[n-1] = append(groups[n-1], cur...)
		} else {
			groups = append(groups, cur)
		}
		cur = nil
	}

	var res Result
	inserted := map[string]bool{}
	for _, g := range groups {
		merged := collapse(g)
		kept := false
		for _, c := range g {
			switch {
			case !c.stored:
			case c.iv.Equal(merged):
				kept = true
			default:
				res.Delete = append(res.Delete, c.iv)
			}
		}
		if merged.Valid() && !kept && !inserted[merged.String()] {
			inserted[merged.String()] = true
			res.Insert = append(res.Insert, merged)
		}
	}
	return res
}

// open is a span with a start and no end yet
func open(iv Interval) bool {
	return iv.Lower != nil && iv.Upper == nil
}

// firstLower is the earliest explicit start among peers
func firstLower(peers []candidate) *int64 {
	var lower *int64
	for _, c := range peers {
		lower = minBound(lower, c.iv.Lower)
	}
	return lower
}

func collapse(group []candidate) Interval {
	var lower, end *int64
	for _, c := range group {
		lower = minBound(lower, c.iv.Lower)
		end = maxBound(end, c.end)
	}
	if lower != nil && end != nil && *lower > *end {
		end = nil
	}
	return Interval{Lower: lower, Upper: end}
}

// least ignores unbounded sides
func least(iv Interval) *int64 {
	return minBound(iv.Lower, iv.Upper)
}

func minBound(a, b *int64) *int64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b < *a:
		return b
	default:
		return a
	}
}

func maxBound(a, b *int64) *int64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b > *a:
		return b
	default:
		return a
	}
}

// cmpKey orders nil after every finite value
func cmpKey(a, b *int64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	default:
		return 0
	}
}
