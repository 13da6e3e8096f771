// Package logstf adapts the log-sharing service's JSON API to the source
// contract: a growth-safe listing, a newest-id lookup and per-log fetches.
package logstf

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"trends-importer/internal/fault"
	"trends-importer/internal/httpclient"
	"trends-importer/internal/logger"
	"trends-importer/internal/source"
	"trends-importer/internal/steamid"
)

// DefaultPageSize is the largest page the list endpoint serves
const DefaultPageSize = 1000

// Client talks to the log API
type Client struct {
	http *httpclient.Client
	log  *logger.Logger
}

// NewClient creates a log API client on top of a shared HTTP client
func NewClient(http *httpclient.Client, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{http: http, log: log.WithComponent("logstf")}
}

// Pages returns a page function over the log listing, optionally restricted
// to logs containing every given player.
func (c *Client) Pages(players []steamid.ID) source.PageFunc {
	return func(ctx context.Context, req source.PageRequest) (source.Page, error) {
		limit := req.Size
		if limit <= 0 {
			limit = DefaultPageSize
		}
		query := url.Values{
			"offset": {strconv.Itoa(req.Offset)},
			"limit":  {strconv.Itoa(limit)},
		}
		if len(players) > 0 {
			ids := make([]string, len(players))
			for i, p := range players {
				ids[i] = p.String()
			}
			query.Set("player", strings.Join(ids, ","))
		}

		var resp ListResponse
		if err := c.http.GetJSON(ctx, "/log", query, &resp); err != nil {
			return source.Page{}, err
		}
		if !resp.Success {
			return source.Page{}, fault.Parse("log listing", errors.New(resp.Error))
		}

		page := source.Page{Total: resp.Total, HasTotal: true}
		page.Entries = make([]source.Entry, len(resp.Logs))
		for i, l := range resp.Logs {
			page.Entries[i] = source.Entry{ID: l.ID, Time: l.Date}
		}
		return page, nil
	}
}

// Bulk is the listing walk as a source
func (c *Client) Bulk(players []steamid.ID, f source.Filter) source.Source {
	return source.Compose(func(context.Context) *source.Stream[source.Entry] {
		return source.NewCursor(c.Pages(players), f)
	}, c)
}

// List fetches exactly the given ids
func (c *Client) List(ids []int64) source.Source {
	return source.List(ids, c)
}

// Reverse walks every id from just above the newest listed log down to 1
func (c *Client) Reverse() source.Source {
	return source.Compose(func(ctx context.Context) *source.Stream[source.Entry] {
		newest, err := c.Newest(ctx)
		if err != nil {
			return source.Failed[source.Entry](err)
		}
		return source.Countdown(newest + 1)
	}, c)
}

// Newest returns the id at the head of the listing
func (c *Client) Newest(ctx context.Context) (int64, error) {
	var resp ListResponse
	if err := c.http.GetJSON(ctx, "/log", url.Values{"limit": {"1"}}, &resp); err != nil {
		return 0, err
	}
	if !resp.Success || len(resp.Logs) == 0 {
		return 0, fault.Parse("log listing", fmt.Errorf("no logs listed: %s", resp.Error))
	}
	return resp.Logs[0].ID, nil
}

// Fetch implements source.Fetcher. Permanent 4xx responses and unsuccessful
// envelopes mean the log does not exist.
func (c *Client) Fetch(ctx context.Context, id int64) ([]byte, bool, error) {
	raw, err := c.http.Get(ctx, "/log/"+strconv.FormatInt(id, 10), nil)
	if errors.Is(err, fault.ErrNoData) {
		c.log.Info("log not available", "logid", id, "error", err)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, false, fault.Parse(fmt.Sprintf("log %d", id), err)
	}
	if !status.Success {
		c.log.Info("log not available", "logid", id, "error", status.Error)
		return nil, false, nil
	}
	return raw, true, nil
}

// Decode parses a raw per-log payload
func Decode(raw []byte) (*Log, error) {
	var l Log
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fault.Parse("log payload", err)
	}
	return &l, nil
}
