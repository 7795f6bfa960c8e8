package scheduler

import (
	"sort"

	"github.com/willf/bitset"

	"github.com/angelasoler/hypertube/core"
)

// rarityTracker counts, per piece index, how many currently connected peers
// have announced it -- the input to rarest-first selection (spec section
// 4.6 bullet 3). Grounded on kraken's rarest_first_policy.go, which keeps an
// identical per-piece peer-count array updated incrementally as peer
// bitfields and HAVE messages arrive.
type rarityTracker struct {
	counts    []int
	numPieces int
}

func newRarityTracker(numPieces int) *rarityTracker {
	return &rarityTracker{counts: make([]int, numPieces), numPieces: numPieces}
}

func (r *rarityTracker) addPeerBitfield(b *bitset.BitSet) {
	for i := 0; i < r.numPieces; i++ {
		if b.Test(uint(i)) {
			r.counts[i]++
		}
	}
}

func (r *rarityTracker) removePeerBitfield(b *bitset.BitSet) {
	for i := 0; i < r.numPieces; i++ {
		if b.Test(uint(i)) && r.counts[i] > 0 {
			r.counts[i]--
		}
	}
}

func (r *rarityTracker) addPiece(index int) {
	if index >= 0 && index < r.numPieces {
		r.counts[index]++
	}
}

func (r *rarityTracker) removePiece(index int) {
	if index >= 0 && index < r.numPieces && r.counts[index] > 0 {
		r.counts[index]--
	}
}

// candidate is one piece eligible for selection along with its current
// rarity count.
type candidate struct {
	index int
	count int
}

// rarestFirst returns wanted piece indices (pieces in want but not yet
// have) ordered rarest-first, tied broken by ascending index, with
// promoteIndex (the first piece of the primary media file, if >= 0) forced
// to the head regardless of rarity, per spec section 4.6 bullet 3.
func (r *rarityTracker) rarestFirst(want *bitset.BitSet, promoteIndex int) []int {
	var candidates []candidate
	for i := 0; i < r.numPieces; i++ {
		if want.Test(uint(i)) {
			candidates = append(candidates, candidate{index: i, count: r.counts[i]})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].index < candidates[j].index
	})

	order := make([]int, 0, len(candidates))
	promoted := false
	if promoteIndex >= 0 && want.Test(uint(promoteIndex)) {
		order = append(order, promoteIndex)
		promoted = true
	}
	for _, c := range candidates {
		if promoted && c.index == promoteIndex {
			continue
		}
		order = append(order, c.index)
	}
	return order
}

// peerBitfieldSet is a convenience adapter turning the raw wire bytes kept
// by peerconn.Conn into a bitset.BitSet for rarity/candidate arithmetic.
func peerBitfieldSet(wireBytes []byte, numPieces int) *bitset.BitSet {
	b := bitset.New(uint(numPieces))
	for i := 0; i < numPieces; i++ {
		byteIndex := i / 8
		if byteIndex >= len(wireBytes) {
			break
		}
		if wireBytes[byteIndex]&(1<<(7-uint(i%8))) != 0 {
			b.Set(uint(i))
		}
	}
	return b
}

// peersWithPiece returns the peer ids whose most recent bitfield has
// index set, used to fan out endgame requests (spec section 4.6 bullet 3).
func peersWithPiece(peerSets map[core.PeerID]*bitset.BitSet, index int) []core.PeerID {
	var out []core.PeerID
	for id, b := range peerSets {
		if b.Test(uint(index)) {
			out = append(out, id)
		}
	}
	return out
}
