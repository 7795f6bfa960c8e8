package trackerclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelasoler/hypertube/bencode"
	"github.com/angelasoler/hypertube/core"
	"github.com/stretchr/testify/require"
)

func testInfoHash() core.InfoHash {
	h, err := core.NewInfoHashFromHex("0102030405060708090a0b0c0d0e0f1011121314")
	if err != nil {
		panic(err)
	}
	return h
}

func testPeerID() core.PeerID {
	p, err := core.NewPeerID("2d48543031303022222222222222222222222222")
	if err != nil {
		panic(err)
	}
	return p
}

func TestAnnounceCompactPeers(t *testing.T) {
	require := require.New(t)

	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RawQuery

		resp := bencode.NewDict()
		resp.Set("interval", bencode.NewInt(1800))
		peers := []byte{127, 0, 0, 1, 0x1A, 0xE1} // 127.0.0.1:6881
		resp.Set("peers", bencode.NewBytes(peers))

		b, err := bencode.Marshal(resp)
		require.NoError(err)
		w.Write(b)
	}))
	defer server.Close()

	c := New()
	resp, err := c.Announce([]string{server.URL + "/announce"}, Request{
		InfoHash: testInfoHash(),
		PeerID:   testPeerID(),
		Port:     6882,
		Left:     1000,
		Event:    EventStarted,
	})
	require.NoError(err)
	require.EqualValues(1800, resp.Interval)
	require.Len(resp.Peers, 1)
	require.Equal("127.0.0.1", resp.Peers[0].IP.String())
	require.EqualValues(6881, resp.Peers[0].Port)

	require.Contains(gotPath, "compact=1")
	require.Contains(gotPath, "numwant=50")
	require.Contains(gotPath, "event=started")
}

func TestAnnounceFailureReason(t *testing.T) {
	require := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := bencode.NewDict()
		resp.Set("failure reason", bencode.NewString("unregistered torrent"))
		b, err := bencode.Marshal(resp)
		require.NoError(err)
		w.Write(b)
	}))
	defer server.Close()

	c := New()
	_, err := c.Announce([]string{server.URL + "/announce"}, Request{
		InfoHash: testInfoHash(),
		PeerID:   testPeerID(),
	})
	require.Error(err)
	require.Contains(err.Error(), "unregistered torrent")
}

func TestAnnounceSkipsNonHTTPTrackers(t *testing.T) {
	require := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := bencode.NewDict()
		resp.Set("interval", bencode.NewInt(60))
		b, err := bencode.Marshal(resp)
		require.NoError(err)
		w.Write(b)
	}))
	defer server.Close()

	c := New()
	resp, err := c.Announce([]string{"udp://dht.example/announce", server.URL + "/announce"}, Request{
		InfoHash: testInfoHash(),
		PeerID:   testPeerID(),
	})
	require.NoError(err)
	require.EqualValues(60, resp.Interval)
}

func TestAnnounceDictPeers(t *testing.T) {
	require := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer := bencode.NewDict()
		peer.Set("ip", bencode.NewString("10.0.0.5"))
		peer.Set("port", bencode.NewInt(51413))

		resp := bencode.NewDict()
		resp.Set("interval", bencode.NewInt(900))
		resp.Set("peers", bencode.NewList(peer))

		b, err := bencode.Marshal(resp)
		require.NoError(err)
		w.Write(b)
	}))
	defer server.Close()

	c := New()
	resp, err := c.Announce([]string{server.URL + "/announce"}, Request{
		InfoHash: testInfoHash(),
		PeerID:   testPeerID(),
	})
	require.NoError(err)
	require.Len(resp.Peers, 1)
	require.Equal("10.0.0.5", resp.Peers[0].IP.String())
	require.EqualValues(51413, resp.Peers[0].Port)
	require.False(resp.Peers[0].HasPeerID)
}
