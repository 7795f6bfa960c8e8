package peerconn

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID identifies the type of a non-handshake, non-keep-alive wire
// message (spec section 4.4).
type MessageID byte

// The nine BitTorrent wire message ids.
const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
)

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", byte(id))
	}
}

// Message is a single parsed wire message. KeepAlive is true for the
// zero-length message that carries no id.
type Message struct {
	KeepAlive bool
	ID        MessageID

	// Index, Begin, Length are populated for HAVE/REQUEST/PIECE/CANCEL.
	Index  uint32
	Begin  uint32
	Length uint32

	// BitfieldBytes is populated for BITFIELD.
	BitfieldBytes []byte
	// Block is populated for PIECE.
	Block []byte
}

// HaveMessage builds a HAVE message announcing piece index.
func HaveMessage(index uint32) *Message {
	return &Message{ID: Have, Index: index}
}

// BitfieldMessage builds a BITFIELD message.
func BitfieldMessage(b []byte) *Message {
	return &Message{ID: Bitfield, BitfieldBytes: b}
}

// RequestMessage builds a REQUEST message for one block.
func RequestMessage(index, begin, length uint32) *Message {
	return &Message{ID: Request, Index: index, Begin: begin, Length: length}
}

// CancelMessage builds a CANCEL message for one block.
func CancelMessage(index, begin, length uint32) *Message {
	return &Message{ID: Cancel, Index: index, Begin: begin, Length: length}
}

// PieceMessage builds a PIECE message carrying block at (index, begin).
func PieceMessage(index, begin uint32, block []byte) *Message {
	return &Message{ID: Piece, Index: index, Begin: begin, Block: block}
}

// SimpleMessage builds a CHOKE/UNCHOKE/INTERESTED/NOT_INTERESTED message,
// which carry no payload.
func SimpleMessage(id MessageID) *Message {
	return &Message{ID: id}
}

// writeMessage serializes msg onto w per the wire framing in spec section
// 4.4: a 4-byte big-endian length prefix followed by an id byte and payload,
// or a zero-length prefix alone for a keep-alive.
func writeMessage(w io.Writer, msg *Message) error {
	if msg.KeepAlive {
		return binary.Write(w, binary.BigEndian, uint32(0))
	}

	var payload []byte
	switch msg.ID {
	case Choke, Unchoke, Interested, NotInterested:
		// No payload.
	case Have:
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, msg.Index)
	case Bitfield:
		payload = msg.BitfieldBytes
	case Request, Cancel:
		payload = make([]byte, 12)
		binary.BigEndian.PutUint32(payload[0:4], msg.Index)
		binary.BigEndian.PutUint32(payload[4:8], msg.Begin)
		binary.BigEndian.PutUint32(payload[8:12], msg.Length)
	case Piece:
		payload = make([]byte, 8+len(msg.Block))
		binary.BigEndian.PutUint32(payload[0:4], msg.Index)
		binary.BigEndian.PutUint32(payload[4:8], msg.Begin)
		copy(payload[8:], msg.Block)
	default:
		return fmt.Errorf("write message: unknown id %s", msg.ID)
	}

	length := uint32(1 + len(payload))
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(msg.ID)}); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// readMessage deserializes the next message off r.
func readMessage(r io.Reader) (*Message, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return &Message{KeepAlive: true}, nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read payload: %s", err)
	}

	id := MessageID(buf[0])
	body := buf[1:]

	msg := &Message{ID: id}
	switch id {
	case Choke, Unchoke, Interested, NotInterested:
		// No payload expected.
	case Have:
		if len(body) != 4 {
			return nil, fmt.Errorf("have: expected 4-byte payload, got %d", len(body))
		}
		msg.Index = binary.BigEndian.Uint32(body)
	case Bitfield:
		msg.BitfieldBytes = body
	case Request, Cancel:
		if len(body) != 12 {
			return nil, fmt.Errorf("%s: expected 12-byte payload, got %d", id, len(body))
		}
		msg.Index = binary.BigEndian.Uint32(body[0:4])
		msg.Begin = binary.BigEndian.Uint32(body[4:8])
		msg.Length = binary.BigEndian.Uint32(body[8:12])
	case Piece:
		if len(body) < 8 {
			return nil, fmt.Errorf("piece: payload too short (%d bytes)", len(body))
		}
		msg.Index = binary.BigEndian.Uint32(body[0:4])
		msg.Begin = binary.BigEndian.Uint32(body[4:8])
		msg.Block = body[8:]
	default:
		return nil, fmt.Errorf("read message: unknown id %d", id)
	}
	return msg, nil
}
