// Package rgl imports matches, teams and rosters from RGL, either from its
// API or from a directory of saved responses.
package rgl

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"trends-importer/internal/httpclient"
	"trends-importer/internal/logger"
	"trends-importer/internal/source"
)

// DefaultPageSize is the largest page /matches/paged serves
const DefaultPageSize = 1000

// Backend serves RGL responses
type Backend interface {
	Entries(ctx context.Context) *source.Stream[source.Entry]
	Match(ctx context.Context, id int64) (*Match, error)
	Team(ctx context.Context, id int64) (*Team, error)
	Season(ctx context.Context, id int64) (*Season, error)
}

// Client talks to the RGL API
type Client struct {
	http   *httpclient.Client
	filter source.Filter
	now    func() time.Time
	log    *logger.Logger
}

// NewClient creates an API backend. The listing honors Since, Count and
// Offset of f.
func NewClient(http *httpclient.Client, f source.Filter, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{http: http, filter: f, now: time.Now, log: log.WithComponent("rgl")}
}

// Entries lists matches oldest first. The listing ends at the first short
// page.
func (c *Client) Entries(ctx context.Context) *source.Stream[source.Entry] {
	take := c.filter.PageSize
	if take <= 0 {
		take = DefaultPageSize
	}
	skip := c.filter.Offset
	yielded := 0
	var (
		page []ListEntry
		last bool
	)

	return source.NewStream(func(ctx context.Context) (source.Entry, bool, error) {
		for {
			if c.filter.Count > 0 && yielded >= c.filter.Count {
				return source.Entry{}, false, nil
			}
			for len(page) > 0 {
				e := page[0]
				page = page[1:]

				scheduled, err := parseDate(e.MatchDate)
				if err != nil {
					c.log.Warn("Bad match date in listing", "matchid", e.MatchID, "error", err)
					continue
				}
				var ts int64
				if scheduled != nil {
					ts = *scheduled
				}
				if c.filter.Since > 0 && ts < c.filter.Since {
					continue
				}
				yielded++
				return source.Entry{ID: e.MatchID, Time: ts}, true, nil
			}
			if last {
				return source.Entry{}, false, nil
			}

			query := url.Values{
				"skip": {strconv.Itoa(skip)},
				"take": {strconv.Itoa(take)},
			}
			if err := c.http.GetJSON(ctx, "/matches/paged", query, &page); err != nil {
				return source.Entry{}, false, fmt.Errorf("match listing at %d: %w", skip, err)
			}
			skip += len(page)
			last = len(page) < take
		}
	})
}

func (c *Client) Match(ctx context.Context, id int64) (*Match, error) {
	var m Match
	if err := c.http.GetJSON(ctx, "/matches/"+strconv.FormatInt(id, 10), nil, &m); err != nil {
		return nil, err
	}
	m.Fetched = c.now().Unix()
	return &m, nil
}

func (c *Client) Team(ctx context.Context, id int64) (*Team, error) {
	var t Team
	if err := c.http.GetJSON(ctx, "/teams/"+strconv.FormatInt(id, 10), nil, &t); err != nil {
		return nil, err
	}
	t.Fetched = c.now().Unix()
	return &t, nil
}

func (c *Client) Season(ctx context.Context, id int64) (*Season, error) {
	var s Season
	if err := c.http.GetJSON(ctx, "/seasons/"+strconv.FormatInt(id, 10), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
