// Package steamid converts the textual steam identifiers that appear in
// upstream payloads into 64-bit ids.
package steamid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/leighmacdonald/steamid/v2/steamid"
)

// ErrInvalid is returned for anything that is not an individual account id.
var ErrInvalid = errors.New("invalid steam id")

// ID is a SteamID64 for an individual account.
type ID int64

// Parse accepts SteamID64 (`76561197960287930`), SteamID2
// (`STEAM_0:0:11101`) and SteamID3 (`[U:1:22202]`).
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)

	var sid steamid.SID64
	switch {
	case strings.HasPrefix(s, "STEAM_"):
		sid = steamid.SIDToSID64(steamid.SID(s))
	case strings.HasPrefix(s, "[U:1:"):
		sid = steamid.SID3ToSID64(steamid.SID3(s))
	case strings.HasPrefix(s, "["):
		// Only individual accounts in the public universe
	default:
		sid, _ = steamid.StringToSID64(s)
	}
	if !sid.Valid() {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalid)
	}
	return ID(sid), nil
}

// FromAccount builds an ID from a 32-bit account number.
func FromAccount(account int64) ID {
	return ID(steamid.SID32ToSID64(steamid.SID32(account)))
}

// Account returns the 32-bit account number.
func (id ID) Account() int64 {
	return int64(steamid.SID64ToSID32(id.sid64()))
}

// Steam3 formats the id as `[U:1:N]`, the form the log service uses.
func (id ID) Steam3() string {
	return string(steamid.SID64ToSID3(id.sid64()))
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id ID) sid64() steamid.SID64 {
	return steamid.SID64(id)
}
