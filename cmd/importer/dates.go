package main

import (
	"fmt"
	"time"
)

// parseDate accepts RFC 3339 timestamps and bare dates (midnight UTC) and
// returns unix seconds. An empty string is zero, meaning no bound.
func parseDate(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return 0, fmt.Errorf("bad date %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t.Unix(), nil
}
