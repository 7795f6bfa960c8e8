// Package metainfo parses .torrent blobs and magnet URIs into the immutable
// TorrentMetadata used to drive a download (spec section 4.2).
package metainfo

import (
	"fmt"

	"github.com/angelasoler/hypertube/bencode"
	"github.com/angelasoler/hypertube/core"
)

// pieceHashSize is the size, in bytes, of each SHA-1 piece hash.
const pieceHashSize = 20

// FileEntry describes one file within a (possibly multi-file) torrent.
// Path is relative to the torrent's root and, for multi-file torrents, is
// already prefixed with the torrent name per spec section 4.2.
type FileEntry struct {
	Path   string
	Length int64
}

// TorrentMetadata is immutable after Parse*. It is the authoritative
// description of a torrent's identity, piece layout, and file layout.
type TorrentMetadata struct {
	InfoHash    core.InfoHash
	Name        string
	PieceLength int64
	PieceHashes [][pieceHashSize]byte
	Files       []FileEntry
	Trackers    []string
}

// NumPieces returns the number of pieces in the torrent.
func (m *TorrentMetadata) NumPieces() int {
	return len(m.PieceHashes)
}

// TotalLength returns the sum of all file lengths.
func (m *TorrentMetadata) TotalLength() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Length
	}
	return total
}

// PieceHash returns the expected SHA-1 hash for piece i.
func (m *TorrentMetadata) PieceHash(i int) ([20]byte, error) {
	if i < 0 || i >= len(m.PieceHashes) {
		return [20]byte{}, fmt.Errorf("piece index %d out of range [0,%d)", i, len(m.PieceHashes))
	}
	return m.PieceHashes[i], nil
}

// PieceLengthAt returns the length of piece i: PieceLength for every piece
// except the last, which is whatever remains of TotalLength (spec P3).
func (m *TorrentMetadata) PieceLengthAt(i int) int64 {
	n := m.NumPieces()
	if i < n-1 {
		return m.PieceLength
	}
	total := m.TotalLength()
	return total - int64(n-1)*m.PieceLength
}

// IsMultiFile reports whether the torrent describes more than one file.
func (m *TorrentMetadata) IsMultiFile() bool {
	return len(m.Files) > 1
}

// ParseTorrentBlob decodes a .torrent file's contents into TorrentMetadata.
func ParseTorrentBlob(blob []byte) (*TorrentMetadata, error) {
	root, err := bencode.Unmarshal(blob)
	if err != nil {
		return nil, fmt.Errorf("decode bencode: %s", err)
	}
	if root.Kind != bencode.KindDict {
		return nil, fmt.Errorf("torrent blob is not a dictionary")
	}

	infoVal := root.Get("info")
	if infoVal == nil || infoVal.Kind != bencode.KindDict {
		return nil, fmt.Errorf("missing or malformed info dictionary")
	}

	infoHashBytes, err := bencode.Marshal(infoVal)
	if err != nil {
		return nil, fmt.Errorf("canonical-encode info dict: %s", err)
	}
	infoHash := core.NewInfoHashFromBytes(infoHashBytes)

	name, err := stringField(infoVal, "name")
	if err != nil {
		return nil, err
	}

	pieceLength, err := intField(infoVal, "piece length")
	if err != nil {
		return nil, err
	}
	if pieceLength <= 0 {
		return nil, fmt.Errorf("piece length must be positive")
	}

	piecesVal := infoVal.Get("pieces")
	if piecesVal == nil || piecesVal.Kind != bencode.KindBytes {
		return nil, fmt.Errorf("missing pieces string")
	}
	if len(piecesVal.Bytes)%pieceHashSize != 0 {
		return nil, fmt.Errorf("pieces string length %d is not a multiple of %d", len(piecesVal.Bytes), pieceHashSize)
	}
	numPieces := len(piecesVal.Bytes) / pieceHashSize
	hashes := make([][pieceHashSize]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(hashes[i][:], piecesVal.Bytes[i*pieceHashSize:(i+1)*pieceHashSize])
	}

	files, err := parseFiles(infoVal, name)
	if err != nil {
		return nil, err
	}

	expectedPieces := int((sumLengths(files) + pieceLength - 1) / pieceLength)
	if expectedPieces != numPieces && sumLengths(files) > 0 {
		return nil, fmt.Errorf("piece count %d inconsistent with file lengths (expected %d)", numPieces, expectedPieces)
	}

	trackers := parseTrackers(root)

	return &TorrentMetadata{
		InfoHash:    infoHash,
		Name:        name,
		PieceLength: pieceLength,
		PieceHashes: hashes,
		Files:       files,
		Trackers:    trackers,
	}, nil
}

func sumLengths(files []FileEntry) int64 {
	var total int64
	for _, f := range files {
		total += f.Length
	}
	return total
}

func parseFiles(info *bencode.Value, name string) ([]FileEntry, error) {
	filesVal := info.Get("files")
	if filesVal == nil {
		// Single-file torrent.
		length, err := intField(info, "length")
		if err != nil {
			return nil, err
		}
		return []FileEntry{{Path: name, Length: length}}, nil
	}

	items, err := filesVal.AsList()
	if err != nil {
		return nil, fmt.Errorf("files: %s", err)
	}
	files := make([]FileEntry, 0, len(items))
	for _, item := range items {
		length, err := intField(item, "length")
		if err != nil {
			return nil, err
		}
		pathVal := item.Get("path")
		if pathVal == nil {
			return nil, fmt.Errorf("file entry missing path")
		}
		parts, err := pathVal.AsList()
		if err != nil {
			return nil, fmt.Errorf("file path: %s", err)
		}
		path := name
		for _, p := range parts {
			s, err := p.AsString()
			if err != nil {
				return nil, fmt.Errorf("file path component: %s", err)
			}
			path += "/" + s
		}
		files = append(files, FileEntry{Path: path, Length: length})
	}
	return files, nil
}

func parseTrackers(root *bencode.Value) []string {
	var trackers []string
	seen := make(map[string]bool)
	add := func(url string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		trackers = append(trackers, url)
	}

	if announce := root.Get("announce"); announce != nil {
		if s, err := announce.AsString(); err == nil {
			add(s)
		}
	}

	if list := root.Get("announce-list"); list != nil {
		if tiers, err := list.AsList(); err == nil {
			for _, tier := range tiers {
				urls, err := tier.AsList()
				if err != nil {
					continue
				}
				for _, u := range urls {
					if s, err := u.AsString(); err == nil {
						add(s)
					}
				}
			}
		}
	}

	return trackers
}

func stringField(v *bencode.Value, key string) (string, error) {
	f := v.Get(key)
	if f == nil {
		return "", fmt.Errorf("missing field %q", key)
	}
	return f.AsString()
}

func intField(v *bencode.Value, key string) (int64, error) {
	f := v.Get(key)
	if f == nil {
		return 0, fmt.Errorf("missing field %q", key)
	}
	return f.AsInt()
}
