// Package notify posts run outcomes to a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

const (
	colorRed   = 15158332 // 0xE74C3C
	colorGreen = 5763719  // 0x57F287

	defaultWebhookTimeout = 10 * time.Second

	// Max attempts when rate limited
	maxRetries = 3

	// Discord rejects field values longer than this
	maxFieldLength = 1024
)

type Payload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// Count is one named total of a run
type Count struct {
	Name  string
	Value int
}

// Summary describes a finished run
type Summary struct {
	Command string
	RunID   string
	Runtime time.Duration
	Counts  []Count
	At      time.Time
}

// NewSummaryPayload reports a completed run
func NewSummaryPayload(s Summary) Payload {
	fields := make([]EmbedField, 0, len(s.Counts)+1)
	for _, c := range s.Counts {
		fields = append(fields, EmbedField{Name: c.Name, Value: formatNumber(c.Value), Inline: true})
	}
	fields = append(fields, EmbedField{Name: "Runtime", Value: formatDuration(s.Runtime), Inline: true})

	return Payload{
		Embeds: []Embed{{
			Title:     "✅ Import finished: " + s.Command,
			Color:     colorGreen,
			Fields:    fields,
			Footer:    &EmbedFooter{Text: "run " + s.RunID},
			Timestamp: s.At.UTC().Format(time.RFC3339),
		}},
	}
}

// NewFatalPayload reports a run that stopped on an error
func NewFatalPayload(command, runID string, err error, at time.Time) Payload {
	return Payload{
		Content: "@here Import failed!",
		Embeds: []Embed{{
			Title: "🛑 Import failed: " + command,
			Color: colorRed,
			Fields: []EmbedField{{
				Name:  "Error",
				Value: truncate(err.Error(), maxFieldLength),
			}},
			Footer:    &EmbedFooter{Text: "run " + runID},
			Timestamp: at.UTC().Format(time.RFC3339),
		}},
	}
}

// Webhook sends notifications to one Discord webhook
type Webhook struct {
	url  string
	http *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:  url,
		http: &http.Client{Timeout: defaultWebhookTimeout},
	}
}

func (w *Webhook) SendSummary(ctx context.Context, s Summary) error {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	return w.send(ctx, NewSummaryPayload(s))
}

func (w *Webhook) SendFatal(ctx context.Context, command, runID string, err error) error {
	return w.send(ctx, NewFatalPayload(command, runID, err, time.Now()))
}

// send posts a payload, waiting out rate limits
func (w *Webhook) send(ctx context.Context, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		resp.Body.Close()

		// Discord answers 204 unless ?wait=true
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := time.Second
			if s, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil {
				wait = time.Duration(s * float64(time.Second))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook request failed after %d retries", maxRetries)
}

// formatNumber adds thousands separators
func formatNumber(n int) string {
	s := strconv.Itoa(n)
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if n < 1000 {
		return s
	}

	var b bytes.Buffer
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// formatDuration formats as "Xh Ym Zs", dropping leading zero units
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
