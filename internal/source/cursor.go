package source

import (
	"context"
	"fmt"
)

// Entry is one listed record
type Entry struct {
	ID   int64
	Time int64
}

// Filter bounds a listing walk. Zero values mean "no bound".
type Filter struct {
	// Since is the earliest accepted timestamp (unix seconds)
	Since int64
	// Until is the latest accepted timestamp (unix seconds)
	Until    int64
	Count    int
	Offset   int
	Page     int
	PageSize int
}

// PageRequest identifies the next page to fetch. Offset-paginated endpoints
// use Offset, page-numbered endpoints use Number.
type PageRequest struct {
	Offset int
	Number int
	Size   int
}

// Page is one list response, newest first
type Page struct {
	Entries  []Entry
	Total    int
	HasTotal bool
}

// PageFunc fetches one page of a listing
type PageFunc func(ctx context.Context, req PageRequest) (Page, error)

// cursor walks a newest-first listing that may grow at the head while it is
// being paged through. Anything whose id is not strictly below the lowest id
// accepted so far was inserted after the walk started and is skipped.
type cursor struct {
	fetch  PageFunc
	filter Filter

	offset   int
	number   int
	total    int
	hasTotal bool

	page []Entry
	pos  int

	lastID  int64
	seen    bool
	yielded int
	// set once an entry older than Since shows up: the rest of the current
	// page is still scanned but nothing more is fetched
	lastPage bool
	fetched  bool
}

// NewCursor streams the entries of a paginated listing that satisfy f.
// A failed page fetch ends the stream; Err reports it.
func NewCursor(fetch PageFunc, f Filter) *Stream[Entry] {
	c := &cursor{
		fetch:  fetch,
		filter: f,
		offset: f.Offset,
		number: max(f.Page, 1),
	}
	return NewStream(c.pull)
}

func (c *cursor) pull(ctx context.Context) (Entry, bool, error) {
	for {
		if c.filter.Count > 0 && c.yielded >= c.filter.Count {
			return Entry{}, false, nil
		}

		for c.pos < len(c.page) {
			e := c.page[c.pos]
			c.pos++
			c.offset++

			if c.seen && e.ID >= c.lastID {
				continue
			}
			if e.Time < c.filter.Since {
				c.lastPage = true
				continue
			}
			c.lastID, c.seen = e.ID, true
			if c.filter.Until > 0 && e.Time > c.filter.Until {
				continue
			}
			c.yielded++
			return e, true, nil
		}

		if c.lastPage || (c.fetched && c.hasTotal && c.offset >= c.total) {
			return Entry{}, false, nil
		}

		page, err := c.fetch(ctx, PageRequest{Offset: c.offset, Number: c.number, Size: c.filter.PageSize})
		if err != nil {
			return Entry{}, false, fmt.Errorf("listing page %d (offset %d): %w", c.number, c.offset, err)
		}
		c.number++
		c.fetched = true
		if len(page.Entries) == 0 {
			return Entry{}, false, nil
		}
		c.page, c.pos = page.Entries, 0
		c.total, c.hasTotal = page.Total, page.HasTotal
	}
}
