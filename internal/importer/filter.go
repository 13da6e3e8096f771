package importer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trends-importer/internal/db"
	"trends-importer/internal/source"
)

// filterChunk is how many listed ids are checked against the store at once
const filterChunk = 100

// windowSlack widens demo --new and --old so demos uploaded out of order
// are not missed
const windowSlack = 6 * 60 * 60

// Kind is a record type flowing through the commit coordinator
type Kind string

const (
	Logs  Kind = "log"
	Demos Kind = "demo"
)

func (k Kind) table() (table, key string) {
	if k == Demos {
		return "demo", "demoid"
	}
	return "log", "logid"
}

// wanted decides whether a listed record is fetched, given whether it is
// stored and at what time
func wanted(updateOnly, exists bool, stored, listed int64) bool {
	if !exists {
		return !updateOnly
	}
	// Listings without times cannot tell, so the record is refreshed
	return listed == 0 || stored < listed
}

// Unstored drops listed records that are already stored. Logs stored with an
// older time than listed are kept so they get refreshed; with updateOnly
// those are the only logs kept. Demos are never refreshed.
func Unstored(q db.Querier, kind Kind, updateOnly bool) func(context.Context, []source.Entry) ([]source.Entry, error) {
	table, key := kind.table()
	query := fmt.Sprintf(`SELECT %[2]s, time FROM %[1]s WHERE %[2]s = any($1)`, table, key)

	return func(ctx context.Context, chunk []source.Entry) ([]source.Entry, error) {
		ids := make([]int64, len(chunk))
		for i, e := range chunk {
			ids[i] = e.ID
		}
		rows, err := q.Query(ctx, query, ids)
		if err != nil {
			return nil, db.Classify("filter stored "+table, err)
		}
		type storedRow struct {
			ID   int64
			Time int64
		}
		stored, err := pgx.CollectRows(rows, pgx.RowToStructByPos[storedRow])
		if err != nil {
			return nil, db.Classify("filter stored "+table, err)
		}
		times := make(map[int64]int64, len(stored))
		for _, s := range stored {
			times[s.ID] = s.Time
		}

		kept := chunk[:0:0]
		for _, e := range chunk {
			t, exists := times[e.ID]
			if kind == Demos {
				if !exists {
					kept = append(kept, e)
				}
				continue
			}
			if wanted(updateOnly, exists, t, e.Time) {
				kept = append(kept, e)
			}
		}
		return kept, nil
	}
}

// DemoWindow narrows a demo listing: newer starts a little before the newest
// stored demo and older ends a little after the oldest. Bounds stay zero
// when no demos are stored.
func DemoWindow(ctx context.Context, q db.Querier, newer, older bool) (since, until int64, err error) {
	var newest, oldest *int64
	if err := q.QueryRow(ctx, "SELECT max(time), min(time) FROM demo").Scan(&newest, &oldest); err != nil {
		return 0, 0, db.Classify("demo window", err)
	}
	if newer && newest != nil {
		since = *newest - windowSlack
	}
	if older && oldest != nil {
		until = *oldest + windowSlack
	}
	return since, until, nil
}
