package metainfo

import (
	"strings"
	"testing"

	"github.com/angelasoler/hypertube/bencode"
	"github.com/stretchr/testify/require"
)

func buildTorrentBlob(announce string) []byte {
	info := bencode.NewDict()
	info.Set("name", bencode.NewString("x"))
	info.Set("piece length", bencode.NewInt(262144))
	info.Set("length", bencode.NewInt(1048576))
	info.Set("pieces", bencode.NewBytes(make([]byte, 20)))

	root := bencode.NewDict()
	root.Set("info", info)
	root.Set("announce", bencode.NewString(announce))

	b, err := bencode.Marshal(root)
	if err != nil {
		panic(err)
	}
	return b
}

func TestInfoHashStableAcrossAnnounce(t *testing.T) {
	require := require.New(t)

	m1, err := ParseTorrentBlob(buildTorrentBlob("http://tracker-one.example/announce"))
	require.NoError(err)

	m2, err := ParseTorrentBlob(buildTorrentBlob("http://tracker-two.example/announce"))
	require.NoError(err)

	require.Equal(m1.InfoHash, m2.InfoHash)
}

func TestParseTorrentBlobSingleFile(t *testing.T) {
	require := require.New(t)

	m, err := ParseTorrentBlob(buildTorrentBlob("http://tracker.example/announce"))
	require.NoError(err)

	require.Equal("x", m.Name)
	require.EqualValues(262144, m.PieceLength)
	require.Equal(1, m.NumPieces())
	require.Len(m.InfoHash.Bytes(), 20)
	require.Equal([]string{"http://tracker.example/announce"}, m.Trackers)
}

func TestPieceBoundary(t *testing.T) {
	require := require.New(t)

	info := bencode.NewDict()
	info.Set("name", bencode.NewString("x"))
	info.Set("piece length", bencode.NewInt(100))
	info.Set("length", bencode.NewInt(250))
	info.Set("pieces", bencode.NewBytes(make([]byte, 60))) // 3 pieces

	root := bencode.NewDict()
	root.Set("info", info)
	root.Set("announce", bencode.NewString("http://t/"))

	b, err := bencode.Marshal(root)
	require.NoError(err)

	m, err := ParseTorrentBlob(b)
	require.NoError(err)

	require.Equal(3, m.NumPieces())
	require.EqualValues(100, m.PieceLengthAt(0))
	require.EqualValues(100, m.PieceLengthAt(1))
	require.EqualValues(50, m.PieceLengthAt(2))
}

func TestParseMagnetURI(t *testing.T) {
	require := require.New(t)

	uri := "magnet:?xt=urn:btih:1234567890abcdef1234567890abcdef12345678&dn=Example+Movie&tr=http://t1/&tr=http://t2/"

	link, err := ParseMagnetURI(uri)
	require.NoError(err)

	require.Equal("Example Movie", link.Name)
	require.Len(link.InfoHash.Bytes(), 20)
	require.Equal("1234567890abcdef1234567890abcdef12345678", link.InfoHash.String())
	require.Len(link.Trackers, 2)
}

func TestParseMagnetURIMissingInfoHash(t *testing.T) {
	require := require.New(t)

	_, err := ParseMagnetURI("magnet:?dn=no-hash")
	require.Error(err)
}

func TestParseMagnetURIRejectsNonMagnet(t *testing.T) {
	require := require.New(t)

	_, err := ParseMagnetURI("http://example.com/not-a-magnet")
	require.Error(err)
	require.True(strings.Contains(err.Error(), "not a magnet"))
}
