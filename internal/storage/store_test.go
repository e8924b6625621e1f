package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/AurumGo/internal/models"
)

type recordingSink struct {
	name  string
	err   error
	paths []string
	tools []string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Record(ctx context.Context, tool string, rec *models.AnalysisRecord, path string, data []byte) error {
	s.paths = append(s.paths, path)
	s.tools = append(s.tools, tool)
	return s.err
}

func record(tool string, ts time.Time, spot float64) *models.AnalysisRecord {
	r := models.NewRecord(tool, ts)
	r.SpotPrice = models.Float(spot)
	r.Decision.Action = models.ActionHold
	return r
}

func TestSnapshotName(t *testing.T) {
	ts := time.Date(2025, 6, 2, 14, 30, 5, 123_000_000, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "claude-analysis-2025-06-02T12-30-05.123Z.json", SnapshotName("claude", ts))
	assert.Equal(t, "latest_claude_analysis.json", LatestName("claude"))
}

func TestSaveTwiceKeepsBothSnapshotsAndLatestIsSecond(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "analysis")
	s := New(dir)
	t1 := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	p1, err := s.Save(context.Background(), record("openai", t1, 3280), "openai")
	require.NoError(t, err)
	p2, err := s.Save(context.Background(), record("openai", t2, 3290), "openai")
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
	assert.FileExists(t, p1)
	assert.FileExists(t, p2)

	second, err := os.ReadFile(p2)
	require.NoError(t, err)
	latest, err := os.ReadFile(filepath.Join(dir, LatestName("openai")))
	require.NoError(t, err)
	assert.Equal(t, second, latest)

	rec, err := s.Latest("openai")
	require.NoError(t, err)
	assert.Equal(t, 3290.0, *rec.SpotPrice)

	snaps, err := s.List("openai")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].Timestamp.Equal(t1))
	assert.True(t, snaps[1].Timestamp.Equal(t2))
}

func TestListFiltersByTool(t *testing.T) {
	s := New(t.TempDir())
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	for i, tool := range []string{"claude", "openai", "claude"} {
		_, err := s.Save(context.Background(), record(tool, now.Add(time.Duration(i)*time.Second), 3280), tool)
		require.NoError(t, err)
	}

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	claude, err := s.List("claude")
	require.NoError(t, err)
	assert.Len(t, claude, 2)

	empty, err := New(filepath.Join(t.TempDir(), "missing")).List("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSaveSameMillisecondKeepsBothSnapshots(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	t1 := time.Date(2025, 6, 2, 9, 0, 0, 100_000, time.UTC)
	t2 := t1.Add(500 * time.Microsecond)
	require.Equal(t, SnapshotName("claude", t1), SnapshotName("claude", t2))

	p1, err := s.Save(context.Background(), record("claude", t1, 3280), "claude")
	require.NoError(t, err)
	p2, err := s.Save(context.Background(), record("claude", t2, 3290), "claude")
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, SnapshotName("claude", t1), filepath.Base(p1))
	assert.Equal(t, "claude-analysis-2025-06-02T09-00-00.000Z-2.json", filepath.Base(p2))

	first, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Contains(t, string(first), "3280")

	snaps, err := s.List("claude")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, p1, snaps[0].Path)
	assert.Equal(t, 1, snaps[0].Seq)
	assert.Equal(t, p2, snaps[1].Path)
	assert.Equal(t, 2, snaps[1].Seq)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "two snapshots plus the latest file, no temp files")
}

func TestConcurrentSavesNeverShareAPath(t *testing.T) {
	s := New(t.TempDir())
	ts := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	const n = 8
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := s.Save(context.Background(), record("openai", ts, float64(3200+i)), "openai")
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range paths {
		assert.False(t, seen[p], "duplicate path %s", p)
		seen[p] = true
	}
	snaps, err := s.List("openai")
	require.NoError(t, err)
	assert.Len(t, snaps, n)
}

func TestLatestMissing(t *testing.T) {
	_, err := New(t.TempDir()).Latest("gemini")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSinkFailureKeepsFiles(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", err: errors.New("connection refused")}
	s := New(t.TempDir(), WithSinks(bad, ok))

	path, err := s.Save(context.Background(), record("scraper", time.Now(), 3280), "scraper")
	require.Error(t, err)

	var sinkErr *SinkError
	require.True(t, errors.As(err, &sinkErr))
	assert.Equal(t, path, sinkErr.Path)
	assert.Contains(t, err.Error(), "bad")
	assert.FileExists(t, path)
	assert.Equal(t, []string{path}, ok.paths)

	_, err = s.Latest("scraper")
	assert.NoError(t, err)
}

func TestSaveRejectsBadInput(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Save(context.Background(), nil, "claude")
	assert.Error(t, err)
	_, err = s.Save(context.Background(), record("x", time.Now(), 1), " ")
	assert.Error(t, err)
}

func TestFailedRecordIsSaved(t *testing.T) {
	s := New(t.TempDir())
	rec := models.FailedRecord("claude", time.Now(), errors.New("all sources failed"))

	_, err := s.Save(context.Background(), rec, "claude")
	require.NoError(t, err)

	got, err := s.Latest("claude")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "all sources failed", got.Error)
}
