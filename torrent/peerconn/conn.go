// Package peerconn implements the BitTorrent peer wire protocol: the
// handshake and the length-prefixed message stream that follows it (spec
// section 4.4).
package peerconn

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/angelasoler/hypertube/core"
	"github.com/angelasoler/hypertube/utils/log"
)

// readTimeout is the per-read idle timeout. A timeout here is not itself an
// error -- readLoop treats it as a cue to send a keep-alive rather than
// dropping the connection, per spec section 4.4.
const readTimeout = 60 * time.Second

const (
	senderBufferSize   = 64
	receiverBufferSize = 64
)

// Conn manages the message stream with one remote peer for one torrent.
// Reads and writes happen on dedicated goroutines started by Start,
// mirroring the read/write-loop split the teacher uses for its own
// peer-connection abstraction.
type Conn struct {
	infoHash core.InfoHash
	peerID   core.PeerID

	nc net.Conn

	sender   chan *Message
	receiver chan *Message

	startOnce sync.Once
	closed    *atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup

	// AmChoking/AmInterested track local state toward the remote peer;
	// PeerChoking/PeerInterested track the remote peer's state toward us.
	mu             sync.Mutex
	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool
	peerBitfield   []byte
}

func newConn(nc net.Conn, infoHash core.InfoHash, peerID core.PeerID, openedByRemote bool) *Conn {
	return &Conn{
		infoHash:     infoHash,
		peerID:       peerID,
		nc:           nc,
		sender:       make(chan *Message, senderBufferSize),
		receiver:     make(chan *Message, receiverBufferSize),
		closed:       atomic.NewBool(false),
		done:         make(chan struct{}),
		amChoking:    true,
		peerChoking:  true,
	}
}

// PeerID returns the remote peer's id, learned during the handshake.
func (c *Conn) PeerID() core.PeerID {
	return c.peerID
}

// InfoHash returns the info hash of the torrent this connection serves.
func (c *Conn) InfoHash() core.InfoHash {
	return c.infoHash
}

// Start begins the read and write loops. Safe to call multiple times; only
// the first call has an effect.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// Send queues msg for delivery to the remote peer.
func (c *Conn) Send(msg *Message) error {
	select {
	case <-c.done:
		return errors.New("conn closed")
	case c.sender <- msg:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Receiver returns the channel of messages read from the remote peer. It is
// closed when the connection closes.
func (c *Conn) Receiver() <-chan *Message {
	return c.receiver
}

// Close tears down the connection. Safe to call multiple times.
func (c *Conn) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	close(c.done)
	c.nc.Close()
	c.wg.Wait()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// AmChoking, AmInterested, PeerChoking, PeerInterested, PeerBitfield report
// the connection's choke/interest state, updated as messages flow through
// readLoop and applyOutgoing.
func (c *Conn) AmChoking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amChoking
}

func (c *Conn) AmInterested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amInterested
}

func (c *Conn) PeerChoking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerChoking
}

func (c *Conn) PeerInterested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerInterested
}

// PeerBitfield returns a copy of the most recently received bitfield bytes
// for the remote peer, or nil if none has been received yet.
func (c *Conn) PeerBitfield() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peerBitfield == nil {
		return nil
	}
	out := make([]byte, len(c.peerBitfield))
	copy(out, c.peerBitfield)
	return out
}

func (c *Conn) setPeerBit(index uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byteIndex := int(index / 8)
	for len(c.peerBitfield) <= byteIndex {
		c.peerBitfield = append(c.peerBitfield, 0)
	}
	c.peerBitfield[byteIndex] |= 1 << (7 - index%8)
}

func (c *Conn) setPeerBitfield(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerBitfield = append([]byte(nil), b...)
}

func (c *Conn) applyIncoming(msg *Message) {
	c.mu.Lock()
	switch msg.ID {
	case Choke:
		c.peerChoking = true
	case Unchoke:
		c.peerChoking = false
	case Interested:
		c.peerInterested = true
	case NotInterested:
		c.peerInterested = false
	}
	c.mu.Unlock()

	switch msg.ID {
	case Have:
		c.setPeerBit(msg.Index)
	case Bitfield:
		c.setPeerBitfield(msg.BitfieldBytes)
	}
}

// applyOutgoing updates local choke/interest state for messages sent via
// Send, since Send only queues -- the loop applies state as it writes.
func (c *Conn) applyOutgoing(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.ID {
	case Choke:
		c.amChoking = true
	case Unchoke:
		c.amChoking = false
	case Interested:
		c.amInterested = true
	case NotInterested:
		c.amInterested = false
	}
}

// readLoop reads messages off the socket and republishes them on receiver.
// A read timeout is not a failure: per spec section 4.4 it cues a
// keep-alive write rather than a dropped connection, so it is surfaced to
// the write loop instead of closing the Conn.
func (c *Conn) readLoop() {
	defer func() {
		close(c.receiver)
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.nc.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			log.Errorf("peerconn: set read deadline for %s: %s", c.peerID, err)
			return
		}

		msg, err := readMessage(c.nc)
		if err != nil {
			if isTimeout(err) {
				if sendErr := c.Send(&Message{KeepAlive: true}); sendErr != nil {
					return
				}
				continue
			}
			log.Infof("peerconn: read error from %s, closing: %s", c.peerID, err)
			return
		}

		if !msg.KeepAlive {
			c.applyIncoming(msg)
		}

		select {
		case c.receiver <- msg:
		case <-c.done:
			return
		}
	}
}

// writeLoop drains sender onto the socket. wg.Done must run before Close's
// wg.Wait can return, so both must happen in a single deferred closure
// rather than two separate defers -- two defers run Close (which blocks on
// wg.Wait) before wg.Done, deadlocking on every write error.
func (c *Conn) writeLoop() {
	defer func() {
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sender:
			if !msg.KeepAlive {
				c.applyOutgoing(msg)
			}
			if err := writeMessage(c.nc, msg); err != nil {
				log.Infof("peerconn: write error to %s, closing: %s", c.peerID, err)
				return
			}
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(peer=%s, hash=%s)", c.peerID, c.infoHash)
}
