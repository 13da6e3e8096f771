package rgl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"trends-importer/internal/fault"
	"trends-importer/internal/source"
)

// Dir reads responses saved as season_<id>.json, match_<id>.json and
// team_<id>.json. Responses without a fetched time use the file's
// modification time.
type Dir struct {
	path string
}

func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// Entries lists the saved matches in ascending id order
func (d *Dir) Entries(ctx context.Context) *source.Stream[source.Entry] {
	paths, err := filepath.Glob(filepath.Join(d.path, "match_*.json"))
	if err != nil {
		return source.Failed[source.Entry](err)
	}

	var ids []int64
	for _, p := range paths {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), "match_"), ".json")
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entries := make([]source.Entry, len(ids))
	for i, id := range ids {
		entries[i] = source.Entry{ID: id}
	}
	return source.FromSlice(entries)
}

// load decodes kind_<id>.json and returns its modification time
func (d *Dir) load(kind string, id int64, out any) (int64, error) {
	path := filepath.Join(d.path, fmt.Sprintf("%s_%d.json", kind, id))
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%s: %w", path, fault.ErrNoData)
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w: %w", path, fault.ErrNetwork, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return 0, fault.Parse(path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w: %w", path, fault.ErrNetwork, err)
	}
	return info.ModTime().Unix(), nil
}

func (d *Dir) Match(_ context.Context, id int64) (*Match, error) {
	var m Match
	mtime, err := d.load("match", id, &m)
	if err != nil {
		return nil, err
	}
	if m.Fetched == 0 {
		m.Fetched = mtime
	}
	return &m, nil
}

func (d *Dir) Team(_ context.Context, id int64) (*Team, error) {
	var t Team
	mtime, err := d.load("team", id, &t)
	if err != nil {
		return nil, err
	}
	if t.Fetched == 0 {
		t.Fetched = mtime
	}
	return &t, nil
}

func (d *Dir) Season(_ context.Context, id int64) (*Season, error) {
	var s Season
	if _, err := d.load("season", id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
