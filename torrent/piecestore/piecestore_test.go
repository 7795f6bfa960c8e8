package piecestore

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/angelasoler/hypertube/torrent/metainfo"
	"github.com/stretchr/testify/require"
)

func TestBitfieldWireLayout(t *testing.T) {
	require := require.New(t)

	b := NewBitfield(10)
	b.Set(0)
	b.Set(7)
	b.Set(9)

	bytes := b.Bytes()
	require.Len(bytes, 2)
	require.Equal(byte(0b10000001), bytes[0])
	require.Equal(byte(0b01000000), bytes[1])

	require.True(b.Has(0))
	require.True(b.Has(7))
	require.True(b.Has(9))
	require.False(b.Has(1))
	require.False(b.Complete())
}

func TestBitfieldComplete(t *testing.T) {
	require := require.New(t)

	b := NewBitfield(3)
	require.False(b.Complete())
	b.Set(0)
	b.Set(1)
	b.Set(2)
	require.True(b.Complete())
	require.Equal(3, b.CountSet())
}

func TestPieceWriteBlockRejectsOutOfRange(t *testing.T) {
	require := require.New(t)

	data := []byte("hello world hello world")
	expected := sha1.Sum(data)
	p := NewPiece(0, int64(len(data)), expected)

	err := p.WriteBlock(uint32(len(data)-2), []byte("xxxxx"))
	require.Error(err)
}

func TestPieceVerifySuccessAndFailure(t *testing.T) {
	require := require.New(t)

	data := make([]byte, BlockSize+100)
	for i := range data {
		data[i] = byte(i)
	}
	expected := sha1.Sum(data)

	p := NewPiece(0, int64(len(data)), expected)

	req, ok := p.NextBlockRequest()
	require.True(ok)
	require.EqualValues(0, req.Begin)
	require.EqualValues(BlockSize, req.Length)

	require.NoError(p.WriteBlock(req.Begin, data[req.Begin:req.Begin+req.Length]))

	req2, ok := p.NextBlockRequest()
	require.True(ok)
	require.EqualValues(BlockSize, req2.Begin)
	require.EqualValues(100, req2.Length)

	require.NoError(p.WriteBlock(req2.Begin, data[req2.Begin:req2.Begin+req2.Length]))

	_, ok = p.NextBlockRequest()
	require.False(ok)

	out, ok := p.Verify()
	require.True(ok)
	require.Equal(data, out)
}

func TestPieceVerifyFailureResets(t *testing.T) {
	require := require.New(t)

	data := []byte("some piece content")
	var wrongHash [20]byte // All-zero, guaranteed mismatch.
	p := NewPiece(0, int64(len(data)), wrongHash)

	require.NoError(p.WriteBlock(0, data))
	_, ok := p.Verify()
	require.False(ok)

	req, ok := p.NextBlockRequest()
	require.True(ok)
	require.EqualValues(0, req.Begin)
}

func TestFileWriterSplitsAcrossBoundary(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	meta := &metainfo.TorrentMetadata{
		PieceLength: 10,
		Files: []metainfo.FileEntry{
			{Path: "a.txt", Length: 6},
			{Path: "b.txt", Length: 8},
		},
	}
	w := NewFileWriter(dir, meta)

	piece0 := []byte("0123456789") // bytes 0-9: first 6 go to a.txt, last 4 to b.txt.
	require.NoError(w.WritePiece(0, piece0))

	a, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(err)
	require.Equal([]byte("012345"), a)

	b, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	require.NoError(err)
	require.Equal([]byte("6789"), b)
}
