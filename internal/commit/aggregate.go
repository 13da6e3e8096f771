package commit

import "math"

// OtherFormat is used when no format fits
const OtherFormat = "other"

// Minimum length of a round without a winner for it to count as a tie
const minTieDuration = 60

// Stalemate reports whether a log records more round winners than its final
// score allows. The last round was then a stalemate that the logger gave to
// someone anyway.
func Stalemate(redScore, blueScore int64, winners int) bool {
	return int64(winners) > redScore+blueScore
}

// Format is a row of the format table. Players is zero for formats with no
// fixed team size.
type Format struct {
	Name    string
	Players int
}

// ClassifyFormat picks a format from the number of distinct players and the
// average number of players on the server (total class time / log length).
// When the two disagree by more than two the total is trusted, since some
// logs have broken playtime. Otherwise the average is preferred because it
// tells sixes from prolander better.
func ClassifyFormat(totalPlayers int, avgPlayers float64, formats []Format) string {
	byTotal, totalOK := nearest(float64(totalPlayers), formats)
	if float64(totalPlayers)-avgPlayers > 2 && totalOK {
		return byTotal
	}
	if byAvg, ok := nearest(avgPlayers, formats); ok {
		return byAvg
	}
	if totalOK {
		return byTotal
	}
	return OtherFormat
}

// nearest finds the format whose player count is within one of n. Sixes and
// prolander overlap, so the closest wins, then the smaller.
func nearest(n float64, formats []Format) (string, bool) {
	best, bestDist, bestPlayers := "", math.Inf(1), 0
	for _, f := range formats {
		if f.Players <= 0 {
			continue
		}
		dist := math.Abs(n - float64(f.Players))
		if dist > 1 {
			continue
		}
		if dist < bestDist || (dist == bestDist && f.Players < bestPlayers) {
			best, bestDist, bestPlayers = f.Name, dist, f.Players
		}
	}
	return best, best != ""
}

// AvgPlayers is the mean number of players over the length of a log
func AvgPlayers(classDuration, logDuration int64) float64 {
	if logDuration <= 0 {
		return 0
	}
	return float64(classDuration) / float64(logDuration)
}

// RoundOutcome is what a round contributes to a team's record
type RoundOutcome struct {
	Winner   *string
	Duration int64
}

// Record is a win/loss/tie line
type Record struct {
	Wins   int64
	Losses int64
	Ties   int64
}

// TeamRecords is the record of each side of one log
type TeamRecords struct {
	Red  Record
	Blue Record
}

// For returns the record of a team. Players without a team get nothing.
func (t TeamRecords) For(team *string) Record {
	if team == nil {
		return Record{}
	}
	switch *team {
	case "Red":
		return t.Red
	case "Blue":
		return t.Blue
	default:
		return Record{}
	}
}

// WinLossTie derives both sides' records. Attack/defense logs only have
// their final score; otherwise rounds are counted, falling back to the final
// score for logs without rounds. Short rounds without a winner are not ties.
func WinLossTie(adScoring bool, redScore, blueScore int64, rounds []RoundOutcome) TeamRecords {
	red, blue, ties := redScore, blueScore, int64(0)
	if !adScoring && len(rounds) > 0 {
		red, blue = 0, 0
		for _, r := range rounds {
			switch {
			case r.Winner == nil:
				if r.Duration >= minTieDuration {
					ties++
				}
			case *r.Winner == "Red":
				red++
			case *r.Winner == "Blue":
				blue++
			}
		}
	}
	return TeamRecords{
		Red:  Record{Wins: red, Losses: blue, Ties: ties},
		Blue: Record{Wins: blue, Losses: red, Ties: ties},
	}
}
