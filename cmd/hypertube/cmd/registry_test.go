package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelasoler/hypertube/core"
	"github.com/angelasoler/hypertube/torrent/metainfo"
	"github.com/angelasoler/hypertube/torrent/scheduler"
	"github.com/angelasoler/hypertube/torrent/trackerclient"
)

func TestSchedulerRegistryUnknownJob(t *testing.T) {
	require := require.New(t)

	r := newSchedulerRegistry()
	_, ok := r.ContiguousBytes("missing")
	require.False(ok)
}

func TestSchedulerRegistryPutAndRemove(t *testing.T) {
	require := require.New(t)

	meta := &metainfo.TorrentMetadata{
		Name:        "sample",
		PieceLength: 16384,
		PieceHashes: [][20]byte{{}},
		Files:       []metainfo.FileEntry{{Path: "sample", Length: 1}},
	}
	peerID, err := core.GenerateLocalPeerID()
	require.NoError(err)

	s := scheduler.New(meta, t.TempDir(), peerID, trackerclient.New(), func(scheduler.Progress) {})

	r := newSchedulerRegistry()
	r.put("job-1", s)
	bytes, ok := r.ContiguousBytes("job-1")
	require.True(ok)
	require.Equal(s.ContiguousBytes(), bytes)

	r.remove("job-1")
	_, ok = r.ContiguousBytes("job-1")
	require.False(ok)
}
