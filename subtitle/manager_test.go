package subtitle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelasoler/hypertube/storage/localdb"
)

func newTestManager(t *testing.T) (*Manager, func()) {
	db, dbCleanup := localdb.Fixture()
	dir := t.TempDir()
	m := NewManager(dir, NewStore(db))
	return m, dbCleanup
}

const sampleSRT = "1\n00:00:01,000 --> 00:00:02,000\nHello.\n"

func TestManagerStoreWritesVTTAndRegistersRecord(t *testing.T) {
	require := require.New(t)

	m, cleanup := newTestManager(t)
	defer cleanup()

	record, err := m.Store("video-1", "en", "opensubtitles", []byte(sampleSRT))
	require.NoError(err)
	require.Equal(FormatVTT, record.Format)
	require.Equal("opensubtitles", record.Source)

	content, err := os.ReadFile(record.FilePath)
	require.NoError(err)
	require.Contains(string(content), "WEBVTT")
	require.Contains(string(content), "00:00:01.000 --> 00:00:02.000")

	// no leftover temp file
	_, err = os.Stat(record.FilePath + ".converting")
	require.True(os.IsNotExist(err))

	got, err := m.Get("video-1", "en")
	require.NoError(err)
	require.Equal(record.FilePath, got.FilePath)
}

func TestManagerStoreFailsOnEmptySourceAndLeavesNoFile(t *testing.T) {
	require := require.New(t)

	m, cleanup := newTestManager(t)
	defer cleanup()

	_, err := m.Store("video-1", "en", "opensubtitles", nil)
	require.Equal(ErrEmptySource, err)

	dest := Path(m.basePath, "video-1", "en", FormatVTT)
	_, err = os.Stat(dest)
	require.True(os.IsNotExist(err))

	_, err = m.Get("video-1", "en")
	require.Equal(ErrNotFound, err)
}

func TestManagerListReturnsAllLanguages(t *testing.T) {
	require := require.New(t)

	m, cleanup := newTestManager(t)
	defer cleanup()

	_, err := m.Store("video-1", "en", "a", []byte(sampleSRT))
	require.NoError(err)
	_, err = m.Store("video-1", "fr", "b", []byte(sampleSRT))
	require.NoError(err)

	records, err := m.List("video-1")
	require.NoError(err)
	require.Len(records, 2)
}

func TestManagerContentReadsWrittenFile(t *testing.T) {
	require := require.New(t)

	m, cleanup := newTestManager(t)
	defer cleanup()

	_, err := m.Store("video-1", "en", "a", []byte(sampleSRT))
	require.NoError(err)

	content, err := m.Content("video-1", "en")
	require.NoError(err)
	require.Contains(string(content), "WEBVTT")
}

func TestManagerStoreOverwritesExistingLanguage(t *testing.T) {
	require := require.New(t)

	m, cleanup := newTestManager(t)
	defer cleanup()

	first, err := m.Store("video-1", "en", "a", []byte(sampleSRT))
	require.NoError(err)

	secondSRT := "1\n00:00:03,000 --> 00:00:04,000\nReplaced.\n"
	second, err := m.Store("video-1", "en", "b", []byte(secondSRT))
	require.NoError(err)
	require.Equal(first.FilePath, second.FilePath)

	content, err := m.Content("video-1", "en")
	require.NoError(err)
	require.Contains(string(content), "Replaced.")

	records, err := m.List("video-1")
	require.NoError(err)
	require.Len(records, 1)
}

func TestPathUsesBasePathSubtitlesSubdir(t *testing.T) {
	require := require.New(t)

	m, cleanup := newTestManager(t)
	defer cleanup()

	dest := Path(m.basePath, "video-1", "en", FormatVTT)
	require.Equal(filepath.Join(m.basePath, "subtitles", "video-1", "en.vtt"), dest)
}
