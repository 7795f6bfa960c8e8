package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelasoler/hypertube/job"
	"github.com/angelasoler/hypertube/torrent/metainfo"
)

func TestFileTorrentSourceLoadRejectsMissingTorrentID(t *testing.T) {
	require := require.New(t)

	src := NewFileTorrentSource(t.TempDir())
	_, err := src.Load(&job.DownloadJob{ID: "job-1"})
	require.Error(err)
}

func TestFileTorrentSourceLoadReadsBlob(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	blob := buildTestTorrentBlob()
	require.NoError(os.WriteFile(filepath.Join(dir, "abc.torrent"), blob, 0o644))

	src := NewFileTorrentSource(dir)
	meta, err := src.Load(&job.DownloadJob{ID: "job-1", TorrentID: "abc"})
	require.NoError(err)
	require.Equal("sample", meta.Name)
}

func TestFileTorrentSourceLoadMissingFile(t *testing.T) {
	require := require.New(t)

	src := NewFileTorrentSource(t.TempDir())
	_, err := src.Load(&job.DownloadJob{ID: "job-1", TorrentID: "does-not-exist"})
	require.Error(err)
}

func TestPrimaryFilePicksLargest(t *testing.T) {
	require := require.New(t)

	meta := &metainfo.TorrentMetadata{
		Files: []metainfo.FileEntry{
			{Path: "sample.nfo", Length: 100},
			{Path: "sample.mkv", Length: 900_000_000},
			{Path: "sample.txt", Length: 50},
		},
	}
	require.Equal("sample.mkv", primaryFile(meta).Path)
}

func buildTestTorrentBlob() []byte {
	announce := "http://t.test"
	name := "sample"
	pieces := strings.Repeat("a", 20)
	info := fmt.Sprintf("d6:lengthi1e4:name%d:%s12:piece lengthi16384e6:pieces%d:%se",
		len(name), name, len(pieces), pieces)
	return []byte(fmt.Sprintf("d8:announce%d:%s4:info%se", len(announce), announce, info))
}
