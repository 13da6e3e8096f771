package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryPayload(t *testing.T) {
	p := NewSummaryPayload(Summary{
		Command: "logs bulk",
		RunID:   "abc",
		Runtime: 2*time.Hour + 5*time.Minute,
		Counts:  []Count{{"Imported", 47832}, {"Rejected", 3}},
		At:      time.Unix(1_700_000_000, 0),
	})

	require.Len(t, p.Embeds, 1)
	e := p.Embeds[0]
	assert.Contains(t, e.Title, "logs bulk")
	assert.Equal(t, colorGreen, e.Color)
	assert.Equal(t, []EmbedField{
		{Name: "Imported", Value: "47,832", Inline: true},
		{Name: "Rejected", Value: "3", Inline: true},
		{Name: "Runtime", Value: "2h 5m", Inline: true},
	}, e.Fields)
	assert.Equal(t, "run abc", e.Footer.Text)
	assert.Equal(t, "2023-11-14T22:13:20Z", e.Timestamp)
	assert.Empty(t, p.Content)
}

func TestFatalPayload(t *testing.T) {
	long := errors.New(strings.Repeat("x", 2000))
	p := NewFatalPayload("rgl bulk", "run", long, time.Now())

	assert.Contains(t, p.Content, "@here")
	e := p.Embeds[0]
	assert.Equal(t, colorRed, e.Color)
	assert.Len(t, []rune(e.Fields[0].Value), maxFieldLength)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "-1,000", formatNumber(-1000))

	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m 7s", formatDuration(3*time.Minute+7*time.Second))
	assert.Equal(t, "18h 32m", formatDuration(18*time.Hour+32*time.Minute))
}

func TestSend(t *testing.T) {
	var (
		calls int
		got   Payload
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	w := NewWebhook(server.URL)
	err := w.SendSummary(context.Background(), Summary{Command: "purge", RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "rate limited request is retried")
	assert.Equal(t, "run r1", got.Embeds[0].Footer.Text)
}

func TestSend_Failures(t *testing.T) {
	status := http.StatusBadRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		w.WriteHeader(status)
	}))
	defer server.Close()
	w := NewWebhook(server.URL)

	err := w.SendFatal(context.Background(), "init", "r", errors.New("boom"))
	assert.ErrorContains(t, err, "status 400")

	status = http.StatusTooManyRequests
	err = w.SendFatal(context.Background(), "init", "r", errors.New("boom"))
	assert.ErrorContains(t, err, "after 3 retries")
}
