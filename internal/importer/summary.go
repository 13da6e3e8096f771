package importer

import (
	"time"

	"github.com/google/uuid"

	"trends-importer/internal/league"
	"trends-importer/internal/notify"
)

// Run identifies one command invocation in logs and notifications
type Run struct {
	ID      string
	Command string
	Started time.Time
}

// NewRun starts a run for command
func NewRun(command string) Run {
	return Run{ID: uuid.NewString(), Command: command, Started: time.Now()}
}

// Summary reports counts for the run so far
func (r Run) Summary(counts ...notify.Count) notify.Summary {
	return notify.Summary{
		Command: r.Command,
		RunID:   r.ID,
		Runtime: time.Since(r.Started),
		Counts:  counts,
	}
}

// Counts lists the figures worth reporting for a record run
func (rep Report) Counts() []notify.Count {
	counts := []notify.Count{
		{Name: "Imported", Value: rep.Imported()},
		{Name: "Commits", Value: rep.Commits},
	}
	for _, c := range []notify.Count{
		{Name: "Header only", Value: rep.HeaderOnly},
		{Name: "Partial", Value: rep.Partial},
		{Name: "Rejected", Value: rep.Rejected},
		{Name: "Skipped", Value: rep.Skipped},
		{Name: "Not found", Value: rep.NotFound},
		{Name: "Fetch failed", Value: rep.FetchFailed},
	} {
		if c.Value > 0 {
			counts = append(counts, c)
		}
	}
	return counts
}

// LeagueCounts lists the figures of a league run
func LeagueCounts(s league.Stats) []notify.Count {
	return []notify.Count{
		{Name: "Imported", Value: s.Imported},
		{Name: "Skipped", Value: s.Skipped},
		{Name: "Failed", Value: s.Failed},
	}
}
