package core

import (
	"net"
	"strconv"
)

// PeerInfo describes one peer returned by a tracker announce: an address to
// dial and, when the tracker's peer list format provided one, a peer id.
type PeerInfo struct {
	IP     net.IP
	Port   uint16
	PeerID PeerID
	// HasPeerID reports whether PeerID was supplied by the tracker. The
	// compact peer list format (spec section 4.3) carries no peer id; it is
	// only learned once the handshake with that peer completes.
	HasPeerID bool
}

// Addr returns the dialable "ip:port" address for p.
func (p PeerInfo) Addr() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}
