package peerconn

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/angelasoler/hypertube/core"
	"github.com/stretchr/testify/require"
)

func testInfoHash(t *testing.T) core.InfoHash {
	h, err := core.NewInfoHashFromHex("0102030405060708090a0b0c0d0e0f1011121314")
	require.NoError(t, err)
	return h
}

func TestHandshakeRoundTrip(t *testing.T) {
	require := require.New(t)

	infoHash := testInfoHash(t)
	initiatorID, err := core.GenerateLocalPeerID()
	require.NoError(err)
	acceptorID, err := core.GenerateLocalPeerID()
	require.NoError(err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer ln.Close()

	serverConnCh := make(chan *Conn, 1)
	serverErrCh := make(chan error, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			serverErrCh <- err
			return
		}
		c, err := AcceptHandshake(nc, infoHash, acceptorID)
		if err != nil {
			serverErrCh <- err
			return
		}
		serverConnCh <- c
	}()

	clientConn, err := Handshake(ln.Addr().String(), infoHash, initiatorID)
	require.NoError(err)
	defer clientConn.Close()

	require.Equal(acceptorID, clientConn.PeerID())

	select {
	case serverConn := <-serverConnCh:
		defer serverConn.Close()
		require.Equal(initiatorID, serverConn.PeerID())
	case err := <-serverErrCh:
		t.Fatalf("accept handshake failed: %s", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server handshake")
	}
}

func TestHandshakeInfoHashMismatch(t *testing.T) {
	require := require.New(t)

	infoHashA := testInfoHash(t)
	infoHashB, err := core.NewInfoHashFromHex("ffffffffffffffffffffffffffffffffffffffff")
	require.NoError(err)

	peerA, err := core.GenerateLocalPeerID()
	require.NoError(err)
	peerB, err := core.GenerateLocalPeerID()
	require.NoError(err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer ln.Close()

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		AcceptHandshake(nc, infoHashB, peerB)
	}()

	_, err = Handshake(ln.Addr().String(), infoHashA, peerA)
	require.Error(err)
}

// writeFailConn is a net.Conn whose writes always fail and whose reads
// block until Close, letting a test drive a real write error through
// writeLoop without tearing down the read side first.
type writeFailConn struct {
	net.Conn
	closed chan struct{}
}

func newWriteFailConn() *writeFailConn {
	return &writeFailConn{closed: make(chan struct{})}
}

func (c *writeFailConn) Write(b []byte) (int, error) {
	return 0, errors.New("simulated write failure")
}

func (c *writeFailConn) Read(b []byte) (int, error) {
	<-c.closed
	return 0, errors.New("conn closed")
}

func (c *writeFailConn) SetReadDeadline(t time.Time) error { return nil }

func (c *writeFailConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// TestWriteLoopWriteErrorDoesNotDeadlock drives a real write failure
// through Start()'s writeLoop. Regression test: writeLoop used to defer
// wg.Done() before defer Close(), so Close()'s wg.Wait() ran first on the
// write-error path and blocked forever waiting for a Done() that could
// only happen after Close() returned.
func TestWriteLoopWriteErrorDoesNotDeadlock(t *testing.T) {
	require := require.New(t)

	infoHash := testInfoHash(t)
	peerID, err := core.GenerateLocalPeerID()
	require.NoError(err)

	c := newConn(newWriteFailConn(), infoHash, peerID, false)
	c.Start()

	require.NoError(c.Send(SimpleMessage(Interested)))

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writeLoop's write-error path deadlocked instead of releasing wg")
	}

	require.True(c.IsClosed())
}

func TestMessageWireRoundTrip(t *testing.T) {
	require := require.New(t)

	cases := []*Message{
		SimpleMessage(Choke),
		SimpleMessage(Interested),
		HaveMessage(42),
		BitfieldMessage([]byte{0xFF, 0x00, 0x80}),
		RequestMessage(1, 16384, 16384),
		CancelMessage(1, 16384, 16384),
		PieceMessage(1, 0, []byte("hello block")),
		{KeepAlive: true},
	}

	for _, msg := range cases {
		var buf bytes.Buffer
		require.NoError(writeMessage(&buf, msg))

		decoded, err := readMessage(&buf)
		require.NoError(err)

		require.Equal(msg.KeepAlive, decoded.KeepAlive)
		if msg.KeepAlive {
			continue
		}
		require.Equal(msg.ID, decoded.ID)
		require.Equal(msg.Index, decoded.Index)
		require.Equal(msg.Begin, decoded.Begin)
		require.Equal(msg.Length, decoded.Length)
		require.Equal(msg.BitfieldBytes, decoded.BitfieldBytes)
		require.Equal(msg.Block, decoded.Block)
	}
}
