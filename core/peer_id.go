// Package core defines the identifier types shared across the torrent
// engine: peer ids and info hashes.
package core

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidPeerIDLength is returned when a string peer id does not decode
// into 20 bytes.
var ErrInvalidPeerIDLength = errors.New("peer id has invalid length")

// peerIDPrefix is the Azureus-style client identification prefix prepended
// to locally generated peer ids, per spec section 4.3.
const peerIDPrefix = "-HT0100-"

// PeerID is a fixed-size 20-byte BitTorrent peer id.
type PeerID [20]byte

// NewPeerID parses a PeerID from the given hexadecimal string.
func NewPeerID(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, fmt.Errorf("decode hex: %s", err)
	}
	if len(b) != 20 {
		return PeerID{}, ErrInvalidPeerIDLength
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// NewPeerIDFromBytes copies the given raw bytes into a PeerID.
func NewPeerIDFromBytes(b []byte) (PeerID, error) {
	if len(b) != 20 {
		return PeerID{}, ErrInvalidPeerIDLength
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// String encodes the PeerID in hexadecimal notation.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// Bytes returns the raw bytes of p.
func (p PeerID) Bytes() []byte {
	return p[:]
}

// GenerateLocalPeerID returns a new peer id with the local client's
// identification prefix followed by 12 random bytes.
func GenerateLocalPeerID() (PeerID, error) {
	var p PeerID
	copy(p[:], peerIDPrefix)
	if _, err := rand.Read(p[len(peerIDPrefix):]); err != nil {
		return PeerID{}, fmt.Errorf("read random bytes: %s", err)
	}
	return p, nil
}
