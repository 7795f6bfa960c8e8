// Package piecerequest tracks in-flight block requests across peers:
// per-peer pipeline limits, request timeouts, and failure counts (spec
// section 4.6 bullet 4).
package piecerequest

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/angelasoler/hypertube/core"
)

// Status enumerates the lifecycle of a block request.
type Status int

// The possible statuses of a Request.
const (
	// StatusPending is a valid, still in-flight request.
	StatusPending Status = iota
	// StatusExpired is an in-flight request that has timed out.
	StatusExpired
)

// BlockKey identifies one requested block.
type BlockKey struct {
	Piece int
	Begin uint32
}

// Request is one in-flight block request.
type Request struct {
	Block  BlockKey
	Length uint32
	PeerID core.PeerID
	Status Status

	sentAt time.Time
}

// MaxPeerFailures is the number of timed-out/failed requests a peer may
// accrue before the scheduler drops it, per spec section 4.6 bullet 4.
const MaxPeerFailures = 3

// Manager tracks in-flight block requests and per-peer pipeline occupancy
// and failure counts. It does not itself send or receive messages.
type Manager struct {
	mu sync.Mutex

	requests       map[BlockKey]*Request
	requestsByPeer map[core.PeerID]map[BlockKey]*Request
	failures       map[core.PeerID]int

	clk           clock.Clock
	timeout       time.Duration
	pipelineLimit int
}

// NewManager creates a Manager. timeout is the per-block request timeout
// (30s per spec); pipelineLimit is the max in-flight requests per peer (5).
func NewManager(clk clock.Clock, timeout time.Duration, pipelineLimit int) *Manager {
	return &Manager{
		requests:       make(map[BlockKey]*Request),
		requestsByPeer: make(map[core.PeerID]map[BlockKey]*Request),
		failures:       make(map[core.PeerID]int),
		clk:            clk,
		timeout:        timeout,
		pipelineLimit:  pipelineLimit,
	}
}

// PipelineRoom returns how many more requests may be in flight to peerID
// before it saturates its pipeline limit.
func (m *Manager) PipelineRoom(peerID core.PeerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.pipelineLimit - len(m.requestsByPeer[peerID])
	if n < 0 {
		return 0
	}
	return n
}

// Reserve records a new in-flight request for (piece, begin) to peerID.
func (m *Manager) Reserve(peerID core.PeerID, piece int, begin uint32, length uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := BlockKey{Piece: piece, Begin: begin}
	r := &Request{
		Block:  key,
		Length: length,
		PeerID: peerID,
		Status: StatusPending,
		sentAt: m.clk.Now(),
	}
	m.requests[key] = r
	if m.requestsByPeer[peerID] == nil {
		m.requestsByPeer[peerID] = make(map[BlockKey]*Request)
	}
	m.requestsByPeer[peerID][key] = r
}

// IsReserved reports whether (piece, begin) currently has a non-expired
// in-flight request.
func (m *Manager) IsReserved(piece int, begin uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[BlockKey{Piece: piece, Begin: begin}]
	return ok && !m.expired(r)
}

// Clear removes the in-flight request for (piece, begin), e.g. because the
// block arrived successfully.
func (m *Manager) Clear(piece int, begin uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(BlockKey{Piece: piece, Begin: begin})
}

// ClearPiece removes every in-flight request for the given piece, e.g.
// because the piece was fully received (possibly via a different peer in
// endgame mode) or failed verification.
func (m *Manager) ClearPiece(piece int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.requests {
		if key.Piece == piece {
			m.clearLocked(key)
		}
	}
}

func (m *Manager) clearLocked(key BlockKey) {
	r, ok := m.requests[key]
	if !ok {
		return
	}
	delete(m.requests, key)
	if pm, ok := m.requestsByPeer[r.PeerID]; ok {
		delete(pm, key)
		if len(pm) == 0 {
			delete(m.requestsByPeer, r.PeerID)
		}
	}
}

// ExpiredRequests returns in-flight requests that have exceeded the
// timeout and removes them, incrementing the offending peer's failure
// count for each. Callers should re-queue each returned request to a
// different peer.
func (m *Manager) ExpiredRequests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Request
	for key, r := range m.requests {
		if m.expired(r) {
			expired = append(expired, *r)
			m.failures[r.PeerID]++
			m.clearLocked(key)
		}
	}
	return expired
}

// Failures returns the number of timed-out or invalid requests attributed
// to peerID so far.
func (m *Manager) Failures(peerID core.PeerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[peerID]
}

// RecordFailure attributes one failure to peerID directly, e.g. because a
// received block failed to match the piece's expected bounds.
func (m *Manager) RecordFailure(peerID core.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[peerID]++
}

// ShouldDrop reports whether peerID has accrued enough failures to be
// dropped, per spec section 4.6 bullet 4.
func (m *Manager) ShouldDrop(peerID core.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[peerID] >= MaxPeerFailures
}

// ClearPeer removes all bookkeeping for peerID, e.g. on disconnect.
func (m *Manager) ClearPeer(peerID core.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.requestsByPeer[peerID] {
		delete(m.requests, key)
	}
	delete(m.requestsByPeer, peerID)
	delete(m.failures, peerID)
}

func (m *Manager) expired(r *Request) bool {
	return m.clk.Now().After(r.sentAt.Add(m.timeout))
}
