package quarantine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trends-importer/internal/config"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newSpool(t *testing.T, maxRecords int, maxAge time.Duration) (*Spool, *clock, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.QuarantineConfig{Dir: dir, MaxRecords: maxRecords, MaxAge: maxAge}, nil)
	require.NoError(t, err)
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s.now = c.now
	return s, c, dir
}

func files(t *testing.T, dir, pattern string) []string {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	require.NoError(t, err)
	return paths
}

func TestSpool_RotatesByCount(t *testing.T) {
	s, _, dir := newSpool(t, 2, time.Hour)

	for id := int64(1); id <= 5; id++ {
		require.NoError(t, s.Add("log", id, errors.New("missing info"), []byte(`{"version": 3}`)))
	}
	assert.Len(t, files(t, dir, "warm/*.jsonl"), 2)
	assert.Len(t, files(t, dir, "hot/*.jsonl"), 1)
	assert.Equal(t, 1, s.Count())

	require.NoError(t, s.Close())
	warm := files(t, dir, "warm/*.jsonl")
	require.Len(t, warm, 3)
	assert.Empty(t, files(t, dir, "hot/*"))

	entries, err := ReadFile(warm[0])
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{
		Kind:    "log",
		ID:      1,
		Error:   "missing info",
		Time:    1_700_000_000,
		Payload: `{"version": 3}`,
	}, entries[0])
}

func TestSpool_RotatesByAge(t *testing.T) {
	s, c, dir := newSpool(t, 100, time.Minute)

	require.NoError(t, s.Add("demo", 1, nil, []byte("not json")))
	c.t = c.t.Add(2 * time.Minute)
	require.NoError(t, s.Add("demo", 2, nil, []byte("{}")))

	assert.Len(t, files(t, dir, "warm/*.jsonl"), 1)
	assert.Equal(t, 1, s.Count())
}

func TestSpool_CloseWithoutEntries(t *testing.T) {
	s, _, dir := newSpool(t, 10, time.Hour)
	require.NoError(t, s.Close())
	assert.Empty(t, files(t, dir, "warm/*"))
}

func TestCompact(t *testing.T) {
	s, _, dir := newSpool(t, 1, time.Hour)
	require.NoError(t, s.Add("log", 7, errors.New("bad"), []byte("payload")))
	require.NoError(t, s.Add("log", 8, errors.New("bad"), []byte("payload")))

	n, err := s.Compact()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, files(t, dir, "warm/*"))

	cold := files(t, dir, "cold/*.jsonl.zst")
	require.Len(t, cold, 2)
	entries, err := ReadFile(cold[0])
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].ID)

	info, err := os.Stat(cold[0])
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
