// Package quarantine keeps payloads that could not be imported so they can
// be inspected and replayed later.
package quarantine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"trends-importer/internal/config"
	"trends-importer/internal/logger"
)

// Entry is one rejected payload
type Entry struct {
	Kind    string `json:"kind"`
	ID      int64  `json:"id"`
	Error   string `json:"error"`
	Time    int64  `json:"time"`
	Payload string `json:"payload"`
}

// Spool writes entries to rotating JSONL files. Files are written in hot/,
// moved to warm/ once they hold enough entries or get old, and compressed
// into cold/ by Compact.
type Spool struct {
	mu sync.Mutex

	hotDir  string
	warmDir string
	coldDir string

	maxRecords int
	maxAge     time.Duration

	file     *os.File
	writer   *bufio.Writer
	path     string
	count    int
	openedAt time.Time
	seq      int

	now func() time.Time
	log *logger.Logger
}

// New creates the spool directories under cfg.Dir. The first file is opened
// lazily.
func New(cfg config.QuarantineConfig, log *logger.Logger) (*Spool, error) {
	if log == nil {
		log = logger.Discard()
	}
	s := &Spool{
		hotDir:     filepath.Join(cfg.Dir, "hot"),
		warmDir:    filepath.Join(cfg.Dir, "warm"),
		coldDir:    filepath.Join(cfg.Dir, "cold"),
		maxRecords: cfg.MaxRecords,
		maxAge:     cfg.MaxAge,
		now:        time.Now,
		log:        log.WithComponent("quarantine"),
	}
	for _, dir := range []string{s.hotDir, s.warmDir, s.coldDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return s, nil
}

// Add appends one rejected payload
func (s *Spool) Add(kind string, id int64, cause error, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil && s.due() {
		if err := s.retire(); err != nil {
			return err
		}
	}
	if s.file == nil {
		if err := s.open(); err != nil {
			return err
		}
	}

	e := Entry{Kind: kind, ID: id, Time: s.now().Unix(), Payload: string(payload)}
	if cause != nil {
		e.Error = cause.Error()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	s.count++

	s.log.Debug("Quarantined payload", "kind", kind, "id", id, "file", filepath.Base(s.path))
	if s.count >= s.maxRecords {
		return s.retire()
	}
	return nil
}

func (s *Spool) due() bool {
	return s.count >= s.maxRecords || s.now().Sub(s.openedAt) >= s.maxAge
}

func (s *Spool) open() error {
	s.seq++
	name := fmt.Sprintf("rejected_%s_%d.jsonl", s.now().UTC().Format("2006-01-02_15-04-05"), s.seq)
	path := filepath.Join(s.hotDir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create spool file: %w", err)
	}

	s.file = file
	s.writer = bufio.NewWriterSize(file, 64*1024)
	s.path = path
	s.count = 0
	s.openedAt = s.now()
	return nil
}

// retire closes the current file and moves it to warm/. Empty files are
// removed instead.
func (s *Spool) retire() error {
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush before rotation: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close spool file: %w", err)
	}
	s.file, s.writer = nil, nil

	if s.count == 0 {
		return os.Remove(s.path)
	}
	warm := filepath.Join(s.warmDir, filepath.Base(s.path))
	if err := os.Rename(s.path, warm); err != nil {
		return fmt.Errorf("failed to move to warm storage: %w", err)
	}
	s.log.Info("Rotated quarantine file", "file", filepath.Base(warm), "entries", s.count)
	return nil
}

// Close retires the current file
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	return s.retire()
}

// Count returns how many entries the current file holds
func (s *Spool) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Compact compresses every warm file into cold/ and returns how many it
// moved
func (s *Spool) Compact() (int, error) {
	paths, err := filepath.Glob(filepath.Join(s.warmDir, "*.jsonl"))
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)

	for i, path := range paths {
		if err := compress(path, s.coldDir); err != nil {
			return i, fmt.Errorf("compacting %s: %w", filepath.Base(path), err)
		}
		s.log.Info("Compressed quarantine file", "file", filepath.Base(path))
	}
	return len(paths), nil
}

func compress(warmPath, coldDir string) error {
	src, err := os.Open(warmPath)
	if err != nil {
		return err
	}
	defer src.Close()

	coldPath := filepath.Join(coldDir, filepath.Base(warmPath)+".zst")
	dst, err := os.Create(coldPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := dst.Sync(); err != nil {
		return err
	}
	return os.Remove(warmPath)
}

// ReadFile decodes a warm or cold spool file
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}

	var entries []Entry
	d := json.NewDecoder(r)
	for d.More() {
		var e Entry
		if err := d.Decode(&e); err != nil {
			return entries, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
