package piecestore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/angelasoler/hypertube/torrent/metainfo"
)

// FileWriter writes verified piece bytes to their correct position across a
// torrent's (possibly multiple) on-disk files, splitting a piece across file
// boundaries where it straddles them (spec section 4.5).
type FileWriter struct {
	root        string
	pieceLength int64
	files       []metainfo.FileEntry
	// fileOffsets[i] is the logical byte offset of files[i] within the
	// torrent's flattened byte stream.
	fileOffsets []int64
}

// NewFileWriter creates a FileWriter that writes the torrent described by
// meta under root.
func NewFileWriter(root string, meta *metainfo.TorrentMetadata) *FileWriter {
	offsets := make([]int64, len(meta.Files))
	var total int64
	for i, f := range meta.Files {
		offsets[i] = total
		total += f.Length
	}
	return &FileWriter{
		root:        root,
		pieceLength: meta.PieceLength,
		files:       meta.Files,
		fileOffsets: offsets,
	}
}

// WritePiece writes data, the verified bytes of piece index, to the correct
// file(s) on disk. A piece may straddle one or more file boundaries; each
// overlapping file receives exactly the bytes that fall within it.
func (w *FileWriter) WritePiece(index int, data []byte) error {
	pieceStart := int64(index) * w.pieceLength
	pieceEnd := pieceStart + int64(len(data))

	for i, f := range w.files {
		fileStart := w.fileOffsets[i]
		fileEnd := fileStart + f.Length

		overlapStart := max64(pieceStart, fileStart)
		overlapEnd := min64(pieceEnd, fileEnd)
		if overlapStart >= overlapEnd {
			continue
		}

		dataOffset := overlapStart - pieceStart
		fileOffset := overlapStart - fileStart
		chunk := data[dataOffset : dataOffset+(overlapEnd-overlapStart)]

		if err := w.writeAt(f.Path, fileOffset, chunk); err != nil {
			return fmt.Errorf("write piece %d to %s: %s", index, f.Path, err)
		}
	}
	return nil
}

func (w *FileWriter) writeAt(relPath string, offset int64, data []byte) error {
	path := filepath.Join(w.root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mkdir: %s", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open: %s", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write at %d: %s", offset, err)
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
