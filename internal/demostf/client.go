// Package demostf adapts the demo-sharing service's page-numbered API to the
// source contract.
package demostf

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"trends-importer/internal/fault"
	"trends-importer/internal/httpclient"
	"trends-importer/internal/logger"
	"trends-importer/internal/source"
)

// Client talks to the demo API
type Client struct {
	http *httpclient.Client
	log  *logger.Logger
}

// NewClient creates a demo API client
func NewClient(http *httpclient.Client, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{http: http, log: log.WithComponent("demostf")}
}

// Pages lists demos newest first. The server picks the page size; after and
// before narrow the listing server side and the cursor filters again.
func (c *Client) Pages(f source.Filter) source.PageFunc {
	return func(ctx context.Context, req source.PageRequest) (source.Page, error) {
		query := url.Values{
			"page":  {strconv.Itoa(req.Number)},
			"order": {"DESC"},
		}
		if f.Since > 0 {
			query.Set("after", strconv.FormatInt(f.Since, 10))
		}
		if f.Until > 0 {
			query.Set("before", strconv.FormatInt(f.Until, 10))
		}

		var demos []ListEntry
		if err := c.http.GetJSON(ctx, "/demos/", query, &demos); err != nil {
			return source.Page{}, err
		}
		page := source.Page{Entries: make([]source.Entry, len(demos))}
		for i, d := range demos {
			page.Entries[i] = source.Entry{ID: d.ID, Time: d.Time}
		}
		return page, nil
	}
}

// Bulk walks the demo listing
func (c *Client) Bulk(f source.Filter) source.Source {
	return source.Compose(func(context.Context) *source.Stream[source.Entry] {
		return source.NewCursor(c.Pages(f), f)
	}, c)
}

// List fetches exactly the given demo ids
func (c *Client) List(ids []int64) source.Source {
	return source.List(ids, c)
}

// Fetch implements source.Fetcher
func (c *Client) Fetch(ctx context.Context, id int64) ([]byte, bool, error) {
	raw, err := c.http.Get(ctx, "/demos/"+strconv.FormatInt(id, 10), nil)
	if errors.Is(err, fault.ErrNoData) {
		c.log.Info("demo not available", "demoid", id, "error", err)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Decode parses a raw per-demo payload
func Decode(raw []byte) (*Demo, error) {
	var d Demo
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fault.Parse("demo payload", err)
	}
	return &d, nil
}
