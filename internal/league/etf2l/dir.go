package etf2l

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"trends-importer/internal/fault"
	"trends-importer/internal/source"
)

// Dir reads a saved results file and transfer pages named
// transfer_<teamid>_<page>.json
type Dir struct {
	results string
	xferdir string
}

func NewDir(results, xferdir string) *Dir {
	return &Dir{results: results, xferdir: xferdir}
}

// Results accepts either a bare array of results or a saved /results page.
// Results without a fetched time use the file's modification time.
func (d *Dir) Results(ctx context.Context) *source.Stream[Result] {
	data, err := os.ReadFile(d.results)
	if err != nil {
		return source.Failed[Result](fmt.Errorf("reading %s: %w: %w", d.results, fault.ErrNetwork, err))
	}
	info, err := os.Stat(d.results)
	if err != nil {
		return source.Failed[Result](fmt.Errorf("stat %s: %w: %w", d.results, fault.ErrNetwork, err))
	}

	var results []Result
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(data, &results)
	} else {
		var resp ResultsResponse
		err = json.Unmarshal(data, &resp)
		results = resp.Results.Data
	}
	if err != nil {
		return source.Failed[Result](fault.Parse(d.results, err))
	}

	for i := range results {
		if results[i].Fetched == 0 {
			results[i].Fetched = info.ModTime().Unix()
		}
	}
	return source.FromSlice(results)
}

func (d *Dir) Transfers(_ context.Context, teamid, since int64) ([]Transfer, error) {
	var xfers []Transfer
	for page := 1; ; page++ {
		path := filepath.Join(d.xferdir, fmt.Sprintf("transfer_%d_%d.json", teamid, page))
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return xfers, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w: %w", path, fault.ErrNetwork, err)
		}

		var resp TransfersResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fault.Parse(path, err)
		}
		for _, x := range resp.Transfers.Data {
			if x.Time >= since {
				xfers = append(xfers, x)
			}
		}
	}
}
