package demostf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trends-importer/internal/fault"
	"trends-importer/internal/httpclient"
	"trends-importer/internal/source"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	hc := httpclient.New(server.URL,
		httpclient.WithRateLimit(1000, 1000),
		httpclient.WithRetry(0, time.Millisecond, time.Millisecond))
	return NewClient(hc, nil)
}

// Test: page-numbered walk returns the true head of the listing even when
// demos are uploaded between page fetches
func TestBulk_Growth(t *testing.T) {
	var demos []ListEntry
	for id := int64(100); id > 0; id-- {
		demos = append(demos, ListEntry{ID: id, Time: 1_600_000_000 + id})
	}
	const pageSize, growth = 10, 4

	var params []string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params = append(params, q.Get("order")+" "+q.Get("after"))
		page, _ := strconv.Atoi(q.Get("page"))
		start := min((page-1)*pageSize, len(demos))
		end := min(start+pageSize, len(demos))
		json.NewEncoder(w).Encode(demos[start:end])
		for i := 0; i < growth; i++ {
			head := demos[0]
			demos = append([]ListEntry{{ID: head.ID + 1, Time: head.Time + 1}}, demos...)
		}
	})
	ctx := context.Background()

	entries, err := source.Collect(ctx, c.Bulk(source.Filter{Count: 35, Since: 1_600_000_001}).Entries(ctx))
	require.NoError(t, err)
	require.Len(t, entries, 35)
	for i, e := range entries {
		assert.Equal(t, int64(100-i), e.ID)
	}
	assert.Equal(t, "DESC 1600000001", params[0])
}

func TestFetchAndDecode(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/demos/7":
			w.Write([]byte(`{
				"id": 7, "url": "https://demos.example/7.dem", "server": "Match #1",
				"duration": 1800, "map": "koth_product_final", "time": 1600000000,
				"red": "RED", "blue": "BLU", "redScore": 3, "blueScore": 5,
				"players": [
					{"id": 1, "name": "a", "team": "red", "class": "scout", "steamid": "[U:1:10]"},
					{"id": 2, "name": "b", "team": "spectator", "class": "", "steamid": "[U:1:11]"}
				]
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	raw, found, err := c.Fetch(ctx, 7)
	require.NoError(t, err)
	require.True(t, found)

	d, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(7), *d.ID)
	assert.Equal(t, int64(5), *d.BlueScore)
	assert.Len(t, d.Players, 2)
	assert.Equal(t, "spectator", d.Players[1].Team)

	_, found, err = c.Fetch(ctx, 8)
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{"players": {}}`))
	assert.Equal(t, fault.KindParse, fault.Classify(err))
}
