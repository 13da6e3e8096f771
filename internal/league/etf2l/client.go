// Package etf2l imports results and team transfers from ETF2L, either from
// its API or from saved responses.
package etf2l

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"trends-importer/internal/fault"
	"trends-importer/internal/httpclient"
	"trends-importer/internal/logger"
	"trends-importer/internal/source"
)

const perPage = 100

// Backend serves ETF2L responses
type Backend interface {
	// Results lists match results with everything needed to import them
	Results(ctx context.Context) *source.Stream[Result]
	// Transfers lists a team's roster changes at or after since
	Transfers(ctx context.Context, teamid, since int64) ([]Transfer, error)
}

// Client talks to the ETF2L API
type Client struct {
	http   *httpclient.Client
	filter source.Filter
	now    func() time.Time
	log    *logger.Logger
}

// NewClient creates an API backend. The listing honors Since, Count and
// Page of f.
func NewClient(http *httpclient.Client, f source.Filter, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{http: http, filter: f, now: time.Now, log: log.WithComponent("etf2l")}
}

func (c *Client) Results(ctx context.Context) *source.Stream[Result] {
	page := max(c.filter.Page, 1)
	yielded := 0
	var (
		pending []Result
		last    bool
	)

	return source.NewStream(func(ctx context.Context) (Result, bool, error) {
		for {
			if c.filter.Count > 0 && yielded >= c.filter.Count {
				return Result{}, false, nil
			}
			if len(pending) > 0 {
				r := pending[0]
				pending = pending[1:]
				yielded++
				return r, true, nil
			}
			if last {
				return Result{}, false, nil
			}

			query := url.Values{
				"page":     {strconv.Itoa(page)},
				"per_page": {strconv.Itoa(perPage)},
			}
			if c.filter.Since > 0 {
				query.Set("since", strconv.FormatInt(c.filter.Since, 10))
			}
			var resp ResultsResponse
			if err := c.http.GetJSON(ctx, "/results", query, &resp); err != nil {
				return Result{}, false, fmt.Errorf("results page %d: %w", page, err)
			}
			page++

			fetched := c.now().Unix()
			pending = resp.Results.Data
			for i := range pending {
				pending[i].Fetched = fetched
			}
			last = resp.Results.NextPageURL == nil || len(pending) == 0
		}
	})
}

// Transfers treats a team the API does not know as having none
func (c *Client) Transfers(ctx context.Context, teamid, since int64) ([]Transfer, error) {
	var xfers []Transfer
	path := "/teams/" + strconv.FormatInt(teamid, 10) + "/transfers"
	for page := 1; ; page++ {
		query := url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(perPage)},
			"since":    {strconv.FormatInt(since, 10)},
		}
		var resp TransfersResponse
		err := c.http.GetJSON(ctx, path, query, &resp)
		if errors.Is(err, fault.ErrNoData) {
			c.log.Info("No transfers", "teamid", teamid, "error", err)
			return xfers, nil
		}
		if err != nil {
			return nil, err
		}

		xfers = append(xfers, resp.Transfers.Data...)
		if resp.Transfers.NextPageURL == nil || len(resp.Transfers.Data) == 0 {
			return xfers, nil
		}
	}
}
