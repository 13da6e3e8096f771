package importer

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"trends-importer/internal/demostf"
	"trends-importer/internal/fault"
	"trends-importer/internal/source"
)

// Limit ends src's listing after n entries. n <= 0 leaves it unbounded.
func Limit(src source.Source, n int) source.Source {
	if n <= 0 {
		return src
	}
	return source.Compose(func(ctx context.Context) *source.Stream[source.Entry] {
		inner := src.Entries(ctx)
		left := n
		return source.NewStream(func(ctx context.Context) (source.Entry, bool, error) {
			if left == 0 {
				return source.Entry{}, false, nil
			}
			if !inner.Next(ctx) {
				return source.Entry{}, false, inner.Err()
			}
			left--
			return inner.Value(), true, nil
		})
	}, src)
}

// LogFiles parses ID=PATH pairs
func LogFiles(pairs []string) (source.Source, error) {
	paths := make(map[int64]string, len(pairs))
	for _, pair := range pairs {
		id, path, ok := strings.Cut(pair, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("expected ID=PATH, got %q", pair)
		}
		logid, err := strconv.ParseInt(id, 10, 64)
		if err != nil || logid <= 0 {
			return nil, fmt.Errorf("bad log id %q", id)
		}
		paths[logid] = path
	}
	return source.NewFiles(paths), nil
}

// DemoFiles reads each saved demo response once to learn its id
func DemoFiles(paths []string) (source.Source, error) {
	byID := make(map[int64]string, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read demo: %w", err)
		}
		d, err := demostf.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if d.ID == nil {
			return nil, fault.Parse(path, fmt.Errorf("demo has no id"))
		}
		byID[*d.ID] = path
	}
	return source.NewFiles(byID), nil
}
