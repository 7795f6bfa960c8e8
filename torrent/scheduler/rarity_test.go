package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"

	"github.com/angelasoler/hypertube/core"
)

func bitsetOf(n uint, set ...uint) *bitset.BitSet {
	b := bitset.New(n)
	for _, i := range set {
		b.Set(i)
	}
	return b
}

func TestRarestFirstOrdersByAscendingCount(t *testing.T) {
	require := require.New(t)

	r := newRarityTracker(4)
	// Piece 0: 1 peer, piece 1: 2 peers, piece 2: 3 peers, piece 3: 0 peers.
	r.addPeerBitfield(bitsetOf(4, 0, 1, 2))
	r.addPeerBitfield(bitsetOf(4, 1, 2))
	r.addPeerBitfield(bitsetOf(4, 2))

	want := bitsetOf(4, 0, 1, 2, 3)
	order := r.rarestFirst(want, -1)

	require.Equal([]int{3, 0, 1, 2}, order)
}

func TestRarestFirstTieBreaksByIndex(t *testing.T) {
	require := require.New(t)

	r := newRarityTracker(3)
	r.addPeerBitfield(bitsetOf(3, 0, 1, 2))

	want := bitsetOf(3, 0, 1, 2)
	order := r.rarestFirst(want, -1)

	require.Equal([]int{0, 1, 2}, order)
}

func TestRarestFirstPromotesPrimaryPiece(t *testing.T) {
	require := require.New(t)

	r := newRarityTracker(3)
	r.addPeerBitfield(bitsetOf(3, 0)) // Piece 0 is rarest (count 1).
	r.addPeerBitfield(bitsetOf(3, 1, 2))
	r.addPeerBitfield(bitsetOf(3, 1, 2))

	want := bitsetOf(3, 0, 1, 2)
	// Piece 0 would normally lead by rarity; promoting piece 2 must still
	// put it first regardless.
	order := r.rarestFirst(want, 2)

	require.Equal(2, order[0])
}

func TestRarityAddRemovePiece(t *testing.T) {
	require := require.New(t)

	r := newRarityTracker(2)
	r.addPiece(0)
	r.addPiece(0)
	require.Equal(2, r.counts[0])
	r.removePiece(0)
	require.Equal(1, r.counts[0])
}

func TestPeerBitfieldSetFromWireBytes(t *testing.T) {
	require := require.New(t)

	// Bit 0 and bit 9 set, MSB-first within each byte (spec section 4.3/4.4).
	wire := []byte{0b10000000, 0b01000000}
	b := peerBitfieldSet(wire, 10)

	require.True(b.Test(0))
	require.True(b.Test(9))
	require.False(b.Test(1))
}

func TestPeersWithPiece(t *testing.T) {
	require := require.New(t)

	p1 := testSchedPeerID()
	p2 := testSchedPeerID()
	sets := map[core.PeerID]*bitset.BitSet{
		p1: bitsetOf(2, 0),
		p2: bitsetOf(2, 1),
	}

	require.ElementsMatch([]core.PeerID{p1}, peersWithPiece(sets, 0))
	require.ElementsMatch([]core.PeerID{p2}, peersWithPiece(sets, 1))
}

func testSchedPeerID() core.PeerID {
	p, err := core.GenerateLocalPeerID()
	if err != nil {
		panic(err)
	}
	return p
}
