// Package storage persists analysis records as timestamped JSON snapshots
// plus a rolling latest file per tool.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyike/AurumGo/internal/models"
)

// snapshotLayout is the record timestamp in snapshot file names, before ':'
// is replaced with '-'.
const snapshotLayout = "2006-01-02T15:04:05.000Z07:00"

var ErrNotFound = errors.New("storage: no snapshot found")

// Sink receives every snapshot after it is written to disk. tool is the name
// the snapshot was saved under.
type Sink interface {
	Name() string
	Record(ctx context.Context, tool string, rec *models.AnalysisRecord, path string, data []byte) error
}

// SinkError reports sinks that failed after the files were written. The
// snapshot on disk is still valid.
type SinkError struct {
	Path string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("snapshot %s saved, sinks failed: %v", e.Path, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Snapshot is one saved file. Seq orders snapshots of one tool that share a
// timestamp; the first has Seq 1.
type Snapshot struct {
	Tool      string
	Path      string
	Timestamp time.Time
	Seq       int
}

// maxSeq bounds the suffixes tried for one timestamp.
const maxSeq = 1000

type Store struct {
	dir   string
	sinks []Sink
	log   zerolog.Logger
}

type Option func(*Store)

func WithSinks(sinks ...Sink) Option {
	return func(s *Store) { s.sinks = append(s.sinks, sinks...) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l.With().Str("component", "storage").Logger() }
}

func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dir() string { return s.dir }

// SnapshotName returns the file name a record of tool saved at ts gets.
func SnapshotName(tool string, ts time.Time) string {
	stamp := strings.ReplaceAll(ts.UTC().Format(snapshotLayout), ":", "-")
	return fmt.Sprintf("%s-analysis-%s.json", tool, stamp)
}

// seqName is SnapshotName with a "-<seq>" suffix for seq > 1.
func seqName(tool string, ts time.Time, seq int) string {
	name := SnapshotName(tool, ts)
	if seq <= 1 {
		return name
	}
	return fmt.Sprintf("%s-%d.json", strings.TrimSuffix(name, ".json"), seq)
}

// LatestName is the rolling pointer file for tool.
func LatestName(tool string) string {
	return fmt.Sprintf("latest_%s_analysis.json", tool)
}

// Save writes the snapshot, then overwrites the latest file with the same
// bytes, then runs the sinks. It returns the snapshot path. Snapshots are
// never overwritten: a name already taken gets a numeric suffix. A
// *SinkError means the files were written but a sink failed.
func (s *Store) Save(ctx context.Context, rec *models.AnalysisRecord, tool string) (string, error) {
	if rec == nil {
		return "", errors.New("storage: nil record")
	}
	if strings.TrimSpace(tool) == "" {
		return "", errors.New("storage: tool name is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	path, err := s.writeSnapshot(tool, rec.Timestamp, data)
	if err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := writeAtomic(filepath.Join(s.dir, LatestName(tool)), data); err != nil {
		return path, fmt.Errorf("write latest: %w", err)
	}
	s.log.Info().Str("tool", tool).Str("path", path).Str("status", rec.Status).Msg("snapshot saved")

	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, tool, rec, path, data); err != nil {
			s.log.Warn().Err(err).Str("sink", sink.Name()).Str("path", path).Msg("sink failed")
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	if len(errs) > 0 {
		return path, &SinkError{Path: path, Err: errors.Join(errs...)}
	}
	return path, nil
}

// Latest loads the latest record for tool.
func (s *Store) Latest(tool string) (*models.AnalysisRecord, error) {
	rec, err := Load(filepath.Join(s.dir, LatestName(tool)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", tool, ErrNotFound)
	}
	return rec, err
}

// Load reads one snapshot file.
func Load(path string) (*models.AnalysisRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec models.AnalysisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &rec, nil
}

var snapshotRE = regexp.MustCompile(`^(.+)-analysis-(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}\.\d{3}Z)(?:-(\d+))?\.json$`)

// List enumerates snapshots oldest first. An empty tool lists every tool.
func (s *Store) List(tool string) ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []Snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := snapshotRE.FindStringSubmatch(e.Name())
		if m == nil || (tool != "" && m[1] != tool) {
			continue
		}
		ts, err := parseStamp(m[2])
		if err != nil {
			continue
		}
		seq := 1
		if m[3] != "" {
			seq, _ = strconv.Atoi(m[3])
		}
		out = append(out, Snapshot{Tool: m[1], Path: filepath.Join(s.dir, e.Name()), Timestamp: ts, Seq: seq})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case !a.Timestamp.Equal(b.Timestamp):
			return a.Timestamp.Before(b.Timestamp)
		case a.Tool != b.Tool:
			return a.Tool < b.Tool
		}
		return a.Seq < b.Seq
	})
	return out, nil
}

func parseStamp(stamp string) (time.Time, error) {
	// 2025-06-02T14-30-00.000Z: only the time part had its colons replaced
	date, clock, ok := strings.Cut(stamp, "T")
	if !ok {
		return time.Time{}, fmt.Errorf("bad stamp %q", stamp)
	}
	return time.Parse(snapshotLayout, date+"T"+strings.Replace(clock, "-", ":", 2))
}

// writeSnapshot writes data to a temp file and links it to the first free
// snapshot name. The link fails on an existing name, so concurrent saves of
// one tool cannot replace each other's file.
func (s *Store) writeSnapshot(tool string, ts time.Time, data []byte) (string, error) {
	tmpName, err := writeTemp(s.dir, data)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpName)

	for seq := 1; seq <= maxSeq; seq++ {
		path := filepath.Join(s.dir, seqName(tool, ts, seq))
		err := os.Link(tmpName, path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: more than %d snapshots at %s", tool, maxSeq, ts.UTC().Format(snapshotLayout))
}

// writeAtomic writes through a temp file in the same directory and renames
// it into place.
func writeAtomic(path string, data []byte) error {
	tmpName, err := writeTemp(filepath.Dir(path), data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// writeTemp writes data to a new 0644 temp file in dir.
func writeTemp(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}
