package piecestore

import (
	"crypto/sha1"
	"fmt"
)

// BlockSize is the fixed request unit, per spec section 4.5. A piece's
// final block may be shorter when the piece length isn't a multiple of it.
const BlockSize = 16 * 1024

// BlockRequest identifies one block to fetch: the owning piece, its byte
// offset within the piece, and its length.
type BlockRequest struct {
	PieceIndex int
	Begin      uint32
	Length     uint32
}

// Piece buffers the blocks of a single piece as they arrive from peers and
// verifies the assembled buffer against its expected SHA-1 hash.
type Piece struct {
	index    int
	length   int64
	expected [20]byte

	buf    []byte
	filled []bool // One entry per BlockSize-aligned block.
}

// NewPiece creates an empty Piece buffer for the piece at index, which is
// length bytes long and expected to hash to expected.
func NewPiece(index int, length int64, expected [20]byte) *Piece {
	numBlocks := int((length + BlockSize - 1) / BlockSize)
	return &Piece{
		index:    index,
		length:   length,
		expected: expected,
		buf:      make([]byte, length),
		filled:   make([]bool, numBlocks),
	}
}

// Index returns the piece index.
func (p *Piece) Index() int {
	return p.index
}

// Length returns the piece's total length in bytes.
func (p *Piece) Length() int64 {
	return p.length
}

// blockLength returns the length of the block at the given index, which may
// be shorter than BlockSize for the last block.
func (p *Piece) blockLength(blockIndex int) int64 {
	begin := int64(blockIndex) * BlockSize
	if begin+BlockSize > p.length {
		return p.length - begin
	}
	return BlockSize
}

// WriteBlock writes bytes at offset within the piece. Out-of-range writes
// (offset negative, or offset+len(bytes) beyond the piece length) are
// rejected without mutating state. Writing an already-filled block is a
// no-op, not an error -- duplicate block delivery is expected in endgame
// mode (spec section 4.6).
func (p *Piece) WriteBlock(offset uint32, bytes []byte) error {
	end := int64(offset) + int64(len(bytes))
	if end > p.length {
		return fmt.Errorf("block [%d,%d) out of range for piece of length %d", offset, end, p.length)
	}

	blockIndex := int(offset) / BlockSize
	if blockIndex >= len(p.filled) || p.filled[blockIndex] {
		return nil
	}

	copy(p.buf[offset:end], bytes)
	p.filled[blockIndex] = true
	return nil
}

// NextBlockRequest returns the lowest-indexed unfilled block, or ok=false if
// every block has been written.
func (p *Piece) NextBlockRequest() (req BlockRequest, ok bool) {
	for i, filled := range p.filled {
		if !filled {
			return BlockRequest{
				PieceIndex: p.index,
				Begin:      uint32(i * BlockSize),
				Length:     uint32(p.blockLength(i)),
			}, true
		}
	}
	return BlockRequest{}, false
}

// FullyFilled reports whether every block has been written, regardless of
// whether the piece has been verified yet.
func (p *Piece) FullyFilled() bool {
	for _, filled := range p.filled {
		if !filled {
			return false
		}
	}
	return true
}

// Verify SHA-1's the assembled buffer against the expected hash. On
// success, it returns the piece's bytes for the caller to persist via the
// file writer. On failure, it resets the buffer and block bitmap so the
// piece can be redownloaded, per spec section 4.5.
func (p *Piece) Verify() ([]byte, bool) {
	sum := sha1.Sum(p.buf)
	if sum != p.expected {
		p.reset()
		return nil, false
	}
	return p.buf, true
}

func (p *Piece) reset() {
	for i := range p.buf {
		p.buf[i] = 0
	}
	for i := range p.filled {
		p.filled[i] = false
	}
}
