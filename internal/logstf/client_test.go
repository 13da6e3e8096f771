package logstf

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
	"trends-importer/internal/steamid"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	hc := httpclient.New(server.URL,
		httpclient.WithRateLimit(1000, 1000),
		httpclient.WithRetry(1, time.Millisecond, time.Millisecond))
	return NewClient(hc, nil)
}

func TestPages(t *testing.T) {
	var gotQuery map[string]string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"offset": r.URL.Query().Get("offset"),
			"limit":  r.URL.Query().Get("limit"),
			"player": r.URL.Query().Get("player"),
		}
		json.NewEncoder(w).Encode(ListResponse{
			Success: true,
			Total:   3,
			Logs:    []ListEntry{{ID: 30, Date: 300}, {ID: 20, Date: 200}},
		})
	})

	player := steamid.FromAccount(1)
	page, err := c.Pages([]steamid.ID{player})(context.Background(), source.PageRequest{Offset: 5, Size: 2})
	require.NoError(t, err)

	assert.Equal(t, "5", gotQuery["offset"])
	assert.Equal(t, "2", gotQuery["limit"])
	assert.Equal(t, player.String(), gotQuery["player"])
	assert.True(t, page.HasTotal)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, []source.Entry{{ID: 30, Time: 300}, {ID: 20, Time: 200}}, page.Entries)
}

func TestPages_Unsuccessful(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": "Invalid parameter"}`))
	})
	_, err := c.Pages(nil)(context.Background(), source.PageRequest{})
	assert.Equal(t, fault.KindParse, fault.Classify(err))
}

func TestFetch(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/log/1":
			w.Write([]byte(`{"success": true, "info": {"map": "cp_process_final"}}`))
		case "/log/2":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success": false, "error": "Log not found."}`))
		case "/log/3":
			w.Write([]byte(`{"success": false, "error": "Log not found."}`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	})
	ctx := context.Background()

	raw, found, err := c.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, string(raw), "cp_process_final")

	for _, id := range []int64{2, 3} {
		_, found, err := c.Fetch(ctx, id)
		assert.NoError(t, err, "log %d", id)
		assert.False(t, found, "log %d", id)
	}

	_, _, err = c.Fetch(ctx, 4)
	assert.Equal(t, fault.KindRateLimited, fault.Classify(err))
}

func TestReverse(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "total": 1, "logs": [{"id": 3, "date": 1}]}`))
	})
	ctx := context.Background()

	entries, err := source.Collect(ctx, c.Reverse().Entries(ctx))
	require.NoError(t, err)
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	assert.Equal(t, []int64{4, 3, 2, 1}, ids)
}

// Test: the listing survives head growth end to end over HTTP
func TestBulk_Growth(t *testing.T) {
	var logs []ListEntry
	for id := int64(50); id > 0; id-- {
		logs = append(logs, ListEntry{ID: id, Date: id * 10})
	}
	const pageSize, growth = 7, 3

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		start := min(offset, len(logs))
		end := min(start+pageSize, len(logs))
		json.NewEncoder(w).Encode(ListResponse{Success: true, Total: len(logs), Logs: logs[start:end]})
		for i := 0; i < growth; i++ {
			head := logs[0]
			logs = append([]ListEntry{{ID: head.ID + 1, Date: head.Date + 10}}, logs...)
		}
	})
	ctx := context.Background()

	entries, err := source.Collect(ctx, c.Bulk(nil, source.Filter{Since: 101}).Entries(ctx))
	require.NoError(t, err)
	require.Len(t, entries, 40)
	for i, e := range entries {
		assert.Equal(t, int64(50-i), e.ID)
	}
}

func TestDecode_WeaponShapes(t *testing.T) {
	raw := []byte(`{
		"players": {
			"[U:1:1]": {
				"team": "Red",
				"class_stats": [{
					"type": "soldier",
					"total_time": 100,
					"weapon": {
						"tf_projectile_rocket": {"kills": 4, "dmg": 900, "avg_dmg": 75.5, "shots": 0, "hits": 0},
						"shovel": 2
					}
				}]
			}
		},
		"rounds": [],
		"info": {"date": 1600000000, "total_length": 1800, "hasWeaponDamage": true, "hasHS_hit": true}
	}`)

	l, err := Decode(raw)
	require.NoError(t, err)

	weapons := l.Players["[U:1:1]"].ClassStats[0].Weapon
	assert.Equal(t, Weapon{Kills: 2}, weapons["shovel"])
	rocket := weapons["tf_projectile_rocket"]
	require.NotNil(t, rocket.Dmg)
	assert.Equal(t, int64(900), *rocket.Dmg)
	assert.InDelta(t, 75.5, *rocket.AvgDmg, 1e-9)

	assert.NotNil(t, l.Rounds, "an empty rounds array is not the same as a missing one")
	assert.Nil(t, l.Info.Rounds)
	assert.True(t, l.Info.HasWeaponDamage)
	assert.True(t, l.Info.HasHSHit)
	assert.False(t, l.Info.HasAccuracy)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{"info": {"date": "yesterday"}}`))
	assert.Equal(t, fault.KindParse, fault.Classify(err))
}
