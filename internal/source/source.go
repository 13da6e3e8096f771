package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"trends-importer/internal/fault"
)

// Fetcher returns one record's raw payload. found=false means the origin has
// no such record, which is not an error.
type Fetcher interface {
	Fetch(ctx context.Context, id int64) (raw []byte, found bool, err error)
}

// Source is an origin of records: an ordered identifier sequence plus a
// per-identifier fetch.
type Source interface {
	Fetcher
	Entries(ctx context.Context) *Stream[Entry]
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, id int64) ([]byte, bool, error)

// Fetch implements Fetcher
func (f FetcherFunc) Fetch(ctx context.Context, id int64) ([]byte, bool, error) {
	return f(ctx, id)
}

type composed struct {
	Fetcher
	entries func(ctx context.Context) *Stream[Entry]
}

func (c composed) Entries(ctx context.Context) *Stream[Entry] { return c.entries(ctx) }

// Compose builds a Source from an identifier producer and a fetcher
func Compose(entries func(ctx context.Context) *Stream[Entry], f Fetcher) Source {
	return composed{Fetcher: f, entries: entries}
}

// List is a fixed set of identifiers fetched through f
func List(ids []int64, f Fetcher) Source {
	entries := make([]Entry, len(ids))
	for i, id := range ids {
		entries[i] = Entry{ID: id}
	}
	return Compose(func(context.Context) *Stream[Entry] { return FromSlice(entries) }, f)
}

// Countdown yields from down to 1
func Countdown(from int64) *Stream[Entry] {
	next := from
	return NewStream(func(context.Context) (Entry, bool, error) {
		if next < 1 {
			return Entry{}, false, nil
		}
		next--
		return Entry{ID: next + 1}, true, nil
	})
}

// Files reads payloads from local files keyed by identifier
type Files struct {
	paths map[int64]string
}

// NewFiles creates a file source. Identifiers are yielded in ascending order.
func NewFiles(paths map[int64]string) *Files {
	return &Files{paths: paths}
}

// Entries implements Source
func (f *Files) Entries(context.Context) *Stream[Entry] {
	ids := make([]int64, 0, len(f.paths))
	for id := range f.paths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entries := make([]Entry, len(ids))
	for i, id := range ids {
		entries[i] = Entry{ID: id}
	}
	return FromSlice(entries)
}

// Fetch implements Fetcher. A missing file is "not found".
func (f *Files) Fetch(_ context.Context, id int64) ([]byte, bool, error) {
	path, ok := f.paths[id]
	if !ok {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w: %w", path, fault.ErrNetwork, err)
	}
	return data, true, nil
}
