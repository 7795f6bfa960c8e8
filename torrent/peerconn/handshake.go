package peerconn

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/angelasoler/hypertube/core"
)

const (
	protocolName   = "BitTorrent protocol"
	handshakeSize  = 1 + len(protocolName) + 8 + 20 + 20
	handshakeDial  = 10 * time.Second
	handshakeTotal = 10 * time.Second
)

// writeHandshake writes the 68-byte handshake (spec section 4.4) to nc.
func writeHandshake(nc net.Conn, infoHash core.InfoHash, peerID core.PeerID) error {
	buf := make([]byte, 0, handshakeSize)
	buf = append(buf, byte(len(protocolName)))
	buf = append(buf, protocolName...)
	buf = append(buf, make([]byte, 8)...) // Reserved bytes, all zero.
	buf = append(buf, infoHash.Bytes()...)
	buf = append(buf, peerID.Bytes()...)

	_, err := nc.Write(buf)
	return err
}

// readHandshake reads and validates a 68-byte handshake off nc. The caller
// supplies the local info hash to check against; a mismatch is an error so
// the caller can drop the connection per spec section 4.4.
func readHandshake(nc net.Conn, localInfoHash core.InfoHash) (core.PeerID, error) {
	buf := make([]byte, handshakeSize)
	if _, err := io.ReadFull(nc, buf); err != nil {
		return core.PeerID{}, fmt.Errorf("read handshake: %s", err)
	}

	pstrlen := int(buf[0])
	if pstrlen != len(protocolName) {
		return core.PeerID{}, fmt.Errorf("unexpected protocol string length %d", pstrlen)
	}
	if !bytes.Equal(buf[1:1+len(protocolName)], []byte(protocolName)) {
		return core.PeerID{}, fmt.Errorf("unexpected protocol name %q", buf[1:1+len(protocolName)])
	}

	offset := 1 + len(protocolName) + 8
	infoHashBytes := buf[offset : offset+20]
	if !bytes.Equal(infoHashBytes, localInfoHash.Bytes()) {
		return core.PeerID{}, fmt.Errorf("info hash mismatch")
	}

	peerID, err := core.NewPeerIDFromBytes(buf[offset+20 : offset+40])
	if err != nil {
		return core.PeerID{}, fmt.Errorf("peer id: %s", err)
	}
	return peerID, nil
}

// Handshake dials addr, performs the bidirectional handshake, and returns a
// started Conn on success. The remote peer id learned during the handshake
// is attached to the returned Conn.
func Handshake(addr string, infoHash core.InfoHash, localPeerID core.PeerID) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, handshakeDial)
	if err != nil {
		return nil, fmt.Errorf("dial: %s", err)
	}

	if err := nc.SetDeadline(time.Now().Add(handshakeTotal)); err != nil {
		nc.Close()
		return nil, fmt.Errorf("set deadline: %s", err)
	}

	if err := writeHandshake(nc, infoHash, localPeerID); err != nil {
		nc.Close()
		return nil, fmt.Errorf("write handshake: %s", err)
	}

	remotePeerID, err := readHandshake(nc, infoHash)
	if err != nil {
		nc.Close()
		return nil, err
	}

	if err := nc.SetDeadline(time.Time{}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("clear deadline: %s", err)
	}

	return newConn(nc, infoHash, remotePeerID, false), nil
}

// AcceptHandshake upgrades an inbound connection opened by a remote peer. It
// validates the remote's declared info hash matches one the caller is
// currently serving before responding with the local handshake.
func AcceptHandshake(nc net.Conn, wantInfoHash core.InfoHash, localPeerID core.PeerID) (*Conn, error) {
	if err := nc.SetDeadline(time.Now().Add(handshakeTotal)); err != nil {
		nc.Close()
		return nil, fmt.Errorf("set deadline: %s", err)
	}

	remotePeerID, err := readHandshake(nc, wantInfoHash)
	if err != nil {
		nc.Close()
		return nil, err
	}

	if err := writeHandshake(nc, wantInfoHash, localPeerID); err != nil {
		nc.Close()
		return nil, fmt.Errorf("write handshake: %s", err)
	}

	if err := nc.SetDeadline(time.Time{}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("clear deadline: %s", err)
	}

	return newConn(nc, wantInfoHash, remotePeerID, true), nil
}
