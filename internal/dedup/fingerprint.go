// Package dedup finds logs that were uploaded more than once and logs whose
// data is internally impossible.
package dedup

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Window is how far apart two uploads of the same match may be
const Window = 24 * 60 * 60

// Round holds the columns that identify a round across uploads
type Round struct {
	Seq       int
	Duration  int64
	Winner    string
	RedScore  int64
	BlueScore int64
	RedKills  int64
	BlueKills int64
	RedDmg    int64
	BlueDmg   int64
	RedUbers  int64
	BlueUbers int64
}

// Fingerprint hashes the rounds of a log in order. A log without rounds has
// no fingerprint and is never a duplicate.
func Fingerprint(rounds []Round) (int64, bool) {
	if len(rounds) == 0 {
		return 0, false
	}

	d := xxhash.New()
	var buf [8]byte
	put := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		d.Write(buf[:])
	}
	for _, r := range rounds {
		put(int64(r.Seq))
		put(r.Duration)
		d.WriteString(r.Winner)
		d.Write([]byte{0})
		put(r.RedScore)
		put(r.BlueScore)
		put(r.RedKills)
		put(r.BlueKills)
		put(r.RedDmg)
		put(r.BlueDmg)
		put(r.RedUbers)
		put(r.BlueUbers)
	}
	// Stored in a signed BIGINT column
	return int64(d.Sum64()), true
}
