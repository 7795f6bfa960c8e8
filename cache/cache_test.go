package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/angelasoler/hypertube/storage/localdb"
)

func newTestManager(t *testing.T, config Config) (*Manager, Store, *clock.Mock, func()) {
	db, cleanup := localdb.Fixture()
	store := NewStore(db)
	clk := clock.NewMock()
	// Keep the background sweep loop from firing on its own during tests:
	// every test advances clk directly and asserts on an explicit Sweep()
	// call instead, so the ticker must never win the race.
	config.SweepInterval = 999 * time.Hour
	m := NewManager(config, tally.NoopScope, store, WithClock(clk))
	return m, store, clk, func() {
		m.Close()
		cleanup()
	}
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
}

func TestManagerPutAndGet(t *testing.T) {
	require := require.New(t)

	m, _, _, cleanup := newTestManager(t, Config{})
	defer cleanup()

	require.NoError(m.Put("video-1", "/data/video-1.mp4", 1024, time.Hour))

	cv, err := m.Get("video-1")
	require.NoError(err)
	require.Equal("/data/video-1.mp4", cv.FilePath)
}

func TestManagerGetNotFound(t *testing.T) {
	require := require.New(t)

	m, _, _, cleanup := newTestManager(t, Config{})
	defer cleanup()

	_, err := m.Get("nonexistent")
	require.Equal(ErrNotFound, err)
}

func TestSweepDeletesExpiredEntries(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	m, _, clk, cleanup := newTestManager(t, Config{})
	defer cleanup()

	path := filepath.Join(dir, "video-1.mp4")
	writeFile(t, path, 100)

	require.NoError(m.Put("video-1", path, 100, time.Hour))

	clk.Add(2 * time.Hour)

	evicted, err := m.Sweep()
	require.NoError(err)
	require.Equal(1, evicted)

	_, err = os.Stat(path)
	require.True(os.IsNotExist(err))

	_, err = m.Get("video-1")
	require.Equal(ErrNotFound, err)
}

func TestSweepSkipsOpenStreams(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	m, _, clk, cleanup := newTestManager(t, Config{})
	defer cleanup()

	path := filepath.Join(dir, "video-1.mp4")
	writeFile(t, path, 100)
	require.NoError(m.Put("video-1", path, 100, time.Hour))

	release := m.Acquire("video-1")
	defer release()

	clk.Add(2 * time.Hour)

	evicted, err := m.Sweep()
	require.NoError(err)
	require.Equal(0, evicted)

	_, err = os.Stat(path)
	require.NoError(err)
}

func TestSweepEvictsLRUAboveSoftLimit(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	m, _, clk, cleanup := newTestManager(t, Config{
		MaxBytes:          700,
		SoftLimitFraction: 0.75, // soft limit = 525 bytes
	})
	defer cleanup()

	oldPath := filepath.Join(dir, "old.mp4")
	newPath := filepath.Join(dir, "new.mp4")
	writeFile(t, oldPath, 400)
	writeFile(t, newPath, 400)

	require.NoError(m.Put("old", oldPath, 400, 24*time.Hour))
	clk.Add(time.Minute)
	require.NoError(m.Put("new", newPath, 400, 24*time.Hour))

	// Neither entry is expired, but total (800) exceeds MaxBytes (700);
	// the least-recently-accessed entry ("old") should be evicted, which
	// brings the total (400) under the soft limit (525).
	evicted, err := m.Sweep()
	require.NoError(err)
	require.Equal(1, evicted)

	_, err = m.Get("old")
	require.Equal(ErrNotFound, err)

	_, err = m.Get("new")
	require.NoError(err)
}

func TestSweepLRUSkipsOpenStreamsEvenOverLimit(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	m, _, clk, cleanup := newTestManager(t, Config{
		MaxBytes:          700,
		SoftLimitFraction: 0.75,
	})
	defer cleanup()

	oldPath := filepath.Join(dir, "old.mp4")
	newPath := filepath.Join(dir, "new.mp4")
	writeFile(t, oldPath, 400)
	writeFile(t, newPath, 400)

	require.NoError(m.Put("old", oldPath, 400, 24*time.Hour))
	clk.Add(time.Minute)
	require.NoError(m.Put("new", newPath, 400, 24*time.Hour))

	release := m.Acquire("old")
	defer release()

	evicted, err := m.Sweep()
	require.NoError(err)
	require.Equal(1, evicted)

	// "old" is open, so "new" gets evicted instead even though it was
	// accessed more recently.
	_, err = m.Get("old")
	require.NoError(err)
	_, err = m.Get("new")
	require.Equal(ErrNotFound, err)
}

func TestAcquireReleaseUnblocksEviction(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	m, _, clk, cleanup := newTestManager(t, Config{})
	defer cleanup()

	path := filepath.Join(dir, "video-1.mp4")
	writeFile(t, path, 100)
	require.NoError(m.Put("video-1", path, 100, time.Hour))

	release := m.Acquire("video-1")
	clk.Add(2 * time.Hour)

	evicted, err := m.Sweep()
	require.NoError(err)
	require.Equal(0, evicted)

	release()

	evicted, err = m.Sweep()
	require.NoError(err)
	require.Equal(1, evicted)
}

func TestStatsReportsCountSizeAndCapacity(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	m, _, _, cleanup := newTestManager(t, Config{MaxBytes: 1000})
	defer cleanup()

	writeFile(t, filepath.Join(dir, "video-1.mp4"), 100)
	writeFile(t, filepath.Join(dir, "video-2.mp4"), 200)
	require.NoError(m.Put("video-1", filepath.Join(dir, "video-1.mp4"), 100, time.Hour))
	require.NoError(m.Put("video-2", filepath.Join(dir, "video-2.mp4"), 200, time.Hour))

	count, total, capacity, err := m.Stats()
	require.NoError(err)
	require.Equal(2, count)
	require.Equal(int64(300), total)
	require.Equal(int64(1000), capacity)
}
