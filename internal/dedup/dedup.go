package dedup

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/jackc/pgx/v5"

	"trends-importer/internal/db"
	"trends-importer/internal/logger"
)

// Candidate is a log that may be one half of a duplicate pair
type Candidate struct {
	ID     int64
	Time   int64
	Hash   int64
	Staged bool
}

// Link marks Log as a duplicate of Of, which always has the higher id
type Link struct {
	Log       int64
	Of        int64
	LogStaged bool
}

// FindDuplicates pairs every log with the highest-id log above it that has
// the same fingerprint within Window. Pairs made only of committed logs were
// settled by an earlier run and are left alone.
func FindDuplicates(cands []Candidate) []Link {
	byHash := map[int64][]Candidate{}
	for _, c := range cands {
		byHash[c.Hash] = append(byHash[c.Hash], c)
	}

	var links []Link
	for _, group := range byHash {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		for i, c := range group {
			var of *Candidate
			for j := len(group) - 1; j > i; j-- {
				if abs(group[j].Time-c.Time) <= Window {
					of = &group[j]
					break
				}
			}
			if of == nil || (!c.Staged && !of.Staged) {
				continue
			}
			links = append(links, Link{Log: c.ID, Of: of.ID, LogStaged: c.Staged})
		}
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Log < links[j].Log })
	return links
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Filter runs the duplicate and validity passes over the staged batch. It
// keeps a bloom filter of committed fingerprints so most staged logs never
// need the committed-log lookup.
//
// A negative answer only proves absence for staged logs whose twins would
// fall inside the seeded range. Older logs, and logs while the filter is
// unseeded, always take the lookup.
type Filter struct {
	seen *bloom.BloomFilter
	// committed logs at or before floor were never loaded
	floor  int64
	seeded bool
	// logs updated since synced-Window are loaded before each pass
	synced int64
	now    func() time.Time
	log    *logger.Logger
}

// NewFilter sizes the prefilter for roughly expected fingerprints
func NewFilter(expected uint, log *logger.Logger) *Filter {
	if log == nil {
		log = logger.Discard()
	}
	if expected < 1024 {
		expected = 1024
	}
	return &Filter{
		seen: bloom.NewWithEstimates(expected, 0.01),
		now:  time.Now,
		log:  log.WithComponent("dedup"),
	}
}

func hashKey(h int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(h))
	return b[:]
}

// Remember adds fingerprints that are now committed
func (f *Filter) Remember(hashes ...int64) {
	for _, h := range hashes {
		f.seen.Add(hashKey(h))
	}
}

// MayContain is false only when no loaded log has the fingerprint
func (f *Filter) MayContain(h int64) bool {
	return f.seen.Test(hashKey(h))
}

// Trusted reports whether a negative MayContain for a staged log at time t
// proves that no committed twin exists
func (f *Filter) Trusted(t int64) bool {
	return f.seeded && t-Window > f.floor
}

// Seed loads committed fingerprints newer than horizon
func (f *Filter) Seed(ctx context.Context, q db.Querier, horizon time.Duration) (int, error) {
	now := f.now()
	floor := now.Add(-horizon).Unix() - Window
	hashes, err := fingerprints(ctx, q,
		"SELECT round_hash FROM log WHERE round_hash IS NOT NULL AND time > $1", floor)
	if err != nil {
		return 0, err
	}
	f.Remember(hashes...)
	f.floor, f.synced, f.seeded = floor, now.Unix(), true
	f.log.Info("Seeded fingerprint filter", "count", len(hashes), "horizon", horizon)
	return len(hashes), nil
}

// sync loads fingerprints other importers committed since the last sync.
// updated is stamped when a log is staged, which can be well before it
// commits, so the lookback is a full Window.
func (f *Filter) sync(ctx context.Context, q db.Querier) error {
	if !f.seeded {
		return nil
	}
	now := f.now().Unix()
	hashes, err := fingerprints(ctx, q,
		`SELECT round_hash FROM log
		WHERE round_hash IS NOT NULL AND updated >= $1 AND time > $2`,
		f.synced-Window, f.floor)
	if err != nil {
		return err
	}
	f.Remember(hashes...)
	f.synced = now
	return nil
}

func fingerprints(ctx context.Context, q db.Querier, sql string, args ...any) ([]int64, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify("load fingerprints", err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	return hashes, db.Classify("load fingerprints", err)
}

// Duplicates links duplicate logs and strips the earlier ones down to their
// header rows. It returns the number of links made.
func (f *Filter) Duplicates(ctx context.Context, tx pgx.Tx) (int, error) {
	if err := f.sync(ctx, tx); err != nil {
		return 0, err
	}
	rows, err := tx.Query(ctx,
		"SELECT logid, time, round_hash FROM staged_log WHERE round_hash IS NOT NULL")
	if err != nil {
		return 0, db.Classify("list staged fingerprints", err)
	}
	staged, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Candidate, error) {
		c := Candidate{Staged: true}
		err := row.Scan(&c.ID, &c.Time, &c.Hash)
		return c, err
	})
	if err != nil {
		return 0, db.Classify("list staged fingerprints", err)
	}

	cands := staged
	stagedIDs := map[int64]bool{}
	for _, c := range staged {
		stagedIDs[c.ID] = true
	}
	for _, c := range staged {
		if f.Trusted(c.Time) && !f.MayContain(c.Hash) {
			continue
		}
		committed, err := f.committed(ctx, tx, c)
		if err != nil {
			return 0, err
		}
		for _, cc := range committed {
			// A re-import of a committed log is already in cands as staged
			if !stagedIDs[cc.ID] {
				cands = append(cands, cc)
				stagedIDs[cc.ID] = true
			}
		}
	}

	links := FindDuplicates(cands)
	for _, l := range links {
		if err := f.apply(ctx, tx, l); err != nil {
			return 0, err
		}
	}
	if len(links) > 0 {
		f.log.Info("Marked duplicate logs", "count", len(links))
	}
	return len(links), nil
}

func (f *Filter) committed(ctx context.Context, tx pgx.Tx, c Candidate) ([]Candidate, error) {
	rows, err := tx.Query(ctx,
		`SELECT logid, time, round_hash
		FROM log
		WHERE round_hash = $1
			AND time BETWEEN $2::BIGINT - $3 AND $2::BIGINT + $3`,
		c.Hash, c.Time, Window)
	if err != nil {
		return nil, db.Classify("find committed duplicates", err)
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Candidate, error) {
		var cc Candidate
		err := row.Scan(&cc.ID, &cc.Time, &cc.Hash)
		return cc, err
	})
	return found, db.Classify("find committed duplicates", err)
}

// apply keeps the bare log and log_json rows of the earlier upload
func (f *Filter) apply(ctx context.Context, tx pgx.Tx, l Link) error {
	prefix, header := "", "log"
	if l.LogStaged {
		prefix, header = "staged_", "staged_log"
	}
	for _, t := range db.LogDerived() {
		sql := fmt.Sprintf("DELETE FROM %s%s WHERE logid = $1", prefix, t.Name)
		if _, err := tx.Exec(ctx, sql, l.Log); err != nil {
			return db.Classify(fmt.Sprintf("strip duplicate log %d", l.Log), err)
		}
	}
	sql := fmt.Sprintf(
		"UPDATE %s SET duplicate_of = $2 WHERE logid = $1 AND duplicate_of IS DISTINCT FROM $2", header)
	if _, err := tx.Exec(ctx, sql, l.Log, l.Of); err != nil {
		return db.Classify(fmt.Sprintf("link duplicate log %d", l.Log), err)
	}
	f.log.Debug("Duplicate log", "logid", l.Log, "duplicate_of", l.Of, "staged", l.LogStaged)
	return nil
}

// Bogus deletes staged logs with negative damage outright, header included.
// It returns the ids removed.
func Bogus(ctx context.Context, tx pgx.Tx) ([]int64, error) {
	rows, err := tx.Query(ctx,
		`SELECT logid FROM staged_class_stats WHERE dmg < 0
		UNION
		SELECT logid FROM staged_player_stats WHERE dmg < 0 OR dt < 0
		UNION
		SELECT logid FROM staged_weapon_stats WHERE dmg < 0
		ORDER BY logid`)
	if err != nil {
		return nil, db.Classify("find bogus logs", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, db.Classify("find bogus logs", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	tables := db.LogDerived()
	tables = append(tables, db.LogTables[1], db.LogTables[0])
	for _, t := range tables {
		sql := fmt.Sprintf("DELETE FROM %s WHERE logid = any($1)", t.Staged())
		if _, err := tx.Exec(ctx, sql, ids); err != nil {
			return nil, db.Classify("delete bogus logs", err)
		}
	}
	return ids, nil
}
