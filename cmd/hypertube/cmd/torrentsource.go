package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/angelasoler/hypertube/job"
	"github.com/angelasoler/hypertube/torrent/metainfo"
)

// TorrentSource resolves a download job's torrent identity to the full
// piece metadata the scheduler needs to drive a download. A magnet URI
// alone carries no piece table (metainfo.MagnetLink), and DHT crawling
// plus BEP-9 in-swarm metadata exchange are both out of scope -- this
// engine speaks HTTP trackers only. A fileTorrentSource instead assumes
// the .torrent blob for a job's TorrentID was already fetched out of
// band, before the download job ever reached this process, and deposited
// under its torrent directory.
type TorrentSource interface {
	Load(j *job.DownloadJob) (*metainfo.TorrentMetadata, error)
}

type fileTorrentSource struct {
	dir string
}

// NewFileTorrentSource reads pre-fetched .torrent blobs from dir, one
// file per torrent named "<torrent_id>.torrent".
func NewFileTorrentSource(dir string) TorrentSource {
	return &fileTorrentSource{dir: dir}
}

func (f *fileTorrentSource) Load(j *job.DownloadJob) (*metainfo.TorrentMetadata, error) {
	if j.TorrentID == "" {
		return nil, fmt.Errorf("job %s: no torrent_id to resolve piece metadata from", j.ID)
	}
	path := filepath.Join(f.dir, j.TorrentID+".torrent")
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("job %s: read torrent blob %s: %w", j.ID, path, err)
	}
	return metainfo.ParseTorrentBlob(blob)
}

// primaryFile picks the largest file in a (possibly multi-file) torrent
// as the video to stream, matching this engine's single-playable-file
// framing of a download job.
func primaryFile(meta *metainfo.TorrentMetadata) metainfo.FileEntry {
	primary := meta.Files[0]
	for _, f := range meta.Files[1:] {
		if f.Length > primary.Length {
			primary = f
		}
	}
	return primary
}
