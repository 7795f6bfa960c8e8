// Package scheduler orchestrates a single torrent download: the peer
// pool, rarest-first and endgame piece selection, per-peer request
// pipelining, and progress telemetry (spec section 4.6). It is the
// "download engine" component that ties together torrent/trackerclient,
// torrent/peerconn, and torrent/piecestore.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"

	"github.com/angelasoler/hypertube/core"
	"github.com/angelasoler/hypertube/torrent/metainfo"
	"github.com/angelasoler/hypertube/torrent/peerconn"
	"github.com/angelasoler/hypertube/torrent/piecestore"
	"github.com/angelasoler/hypertube/torrent/scheduler/piecerequest"
	"github.com/angelasoler/hypertube/torrent/trackerclient"
	"github.com/angelasoler/hypertube/utils/log"
)

// Config holds the tunables named in spec section 4.6.
type Config struct {
	MaxPeers            int           `yaml:"max_peers"`
	MaxActivePeers      int           `yaml:"max_active_peers"`
	PipelineLimit       int           `yaml:"pipeline_limit"`
	BlockTimeout        time.Duration `yaml:"block_timeout"`
	EndgameThreshold    float64       `yaml:"endgame_threshold"`
	AnnounceFailTimeout time.Duration `yaml:"announce_fail_timeout"`
	ListenPort          uint16        `yaml:"listen_port"`
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		MaxPeers:            50,
		MaxActivePeers:      20,
		PipelineLimit:       5,
		BlockTimeout:        30 * time.Second,
		EndgameThreshold:    0.95,
		AnnounceFailTimeout: 60 * time.Second,
		ListenPort:          6881,
	}
}

// Option customizes a Scheduler at construction.
type Option func(*Scheduler)

// WithClock overrides the scheduler's clock, for deterministic tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clk = clk }
}

// WithStats attaches a tally.Scope for download telemetry.
func WithStats(stats tally.Scope) Option {
	return func(s *Scheduler) { s.stats = stats }
}

// WithConfig overrides DefaultConfig entirely, for callers threading an
// operator-supplied Config through (cmd/hypertube's process config).
// New rebuilds the piece-request manager from the final Config after
// all options have run, so this need only record cfg itself.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

type peerState struct {
	conn     *peerconn.Conn
	bitfield *bitset.BitSet
}

type incomingMessage struct {
	peerID core.PeerID
	msg    *peerconn.Message // nil means the peer disconnected
}

// endgameEntry records which peers an endgame-mode block request was fanned
// out to, and when, so a block whose holders all stall can be re-sent
// rather than wedging the download (spec section 4.6 bullet 4 applies to
// endgame requests too, even though they bypass piecerequest.Manager).
type endgameEntry struct {
	peers  map[core.PeerID]bool
	sentAt time.Time
}

// Scheduler drives a single torrent to completion.
type Scheduler struct {
	meta        *metainfo.TorrentMetadata
	localPeerID core.PeerID
	downloadDir string
	tracker     trackerclient.Client
	cfg         Config
	clk         clock.Clock
	stats       tally.Scope

	have       *piecestore.Bitfield
	inProgress map[int]*piecestore.Piece
	writer     *piecestore.FileWriter

	rarity *rarityTracker
	reqMgr *piecerequest.Manager

	mu           sync.Mutex
	peers        map[core.PeerID]*peerState
	endgame      bool
	endgameSent  map[piecerequest.BlockKey]*endgameEntry
	pieceRetries map[int]int

	incoming chan incomingMessage
	done     chan struct{}

	progress *progressTracker
}

// New creates a Scheduler for the given torrent, writing completed pieces
// under downloadDir. publish is invoked with a Progress snapshot on every
// piece completion and at least once a second (spec section 4.6).
func New(
	meta *metainfo.TorrentMetadata,
	downloadDir string,
	localPeerID core.PeerID,
	tracker trackerclient.Client,
	publish func(Progress),
	opts ...Option,
) *Scheduler {
	cfg := DefaultConfig()

	numPieces := meta.NumPieces()
	s := &Scheduler{
		meta:         meta,
		localPeerID:  localPeerID,
		downloadDir:  downloadDir,
		tracker:      tracker,
		cfg:          cfg,
		clk:          clock.New(),
		stats:        tally.NoopScope,
		have:         piecestore.NewBitfield(numPieces),
		inProgress:   make(map[int]*piecestore.Piece),
		writer:       piecestore.NewFileWriter(downloadDir, meta),
		rarity:       newRarityTracker(numPieces),
		peers:        make(map[core.PeerID]*peerState),
		endgameSent:  make(map[piecerequest.BlockKey]*endgameEntry),
		pieceRetries: make(map[int]int),
		incoming:     make(chan incomingMessage, 256),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reqMgr = piecerequest.NewManager(s.clk, s.cfg.BlockTimeout, s.cfg.PipelineLimit)
	s.progress = newProgressTracker(s.clk, meta.TotalLength(), publish)
	return s
}

// ErrNoPeers is returned by Run when no trackers yielded peers and no
// connection could be established within AnnounceFailTimeout.
var ErrNoPeers = fmt.Errorf("no peers available from any tracker")

// maxPieceRetries bounds how many times a single piece may fail hash
// verification before the download gives up on it, per spec section 4.6.
const maxPieceRetries = 3

// PieceVerificationError is returned by Run when a piece fails hash
// verification maxPieceRetries times, so the job can be failed instead of
// retrying a piece no peer can deliver correctly.
type PieceVerificationError struct {
	Index int
}

func (e *PieceVerificationError) Error() string {
	return fmt.Sprintf("piece %d failed verification %d times", e.Index, maxPieceRetries)
}

// Run drives the download to completion or ctx cancellation. It blocks
// until the torrent is fully downloaded and verified, or an
// unrecoverable error occurs.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	s.progress.setPhase(PhaseContactingTrackers)
	go s.progress.runTicker(s.done)

	peersCh, announceErrCh := s.startAnnounceLoop(ctx)

	s.progress.setPhase(PhaseConnectingPeers)

	deadline := s.clk.After(s.cfg.AnnounceFailTimeout)
	connectedAny := false

waitForPeers:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case infos := <-peersCh:
			for _, info := range infos {
				if s.peerCount() >= s.cfg.MaxPeers {
					break
				}
				if s.connectPeer(info) {
					connectedAny = true
				}
			}
			if connectedAny {
				break waitForPeers
			}
		case err := <-announceErrCh:
			log.Errorf("scheduler: announce failed for %s: %s", s.meta.InfoHash, err)
		case <-deadline:
			if !connectedAny {
				return ErrNoPeers
			}
			break waitForPeers
		}
	}

	s.progress.setPhase(PhaseDownloading)

	if err := s.downloadLoop(ctx); err != nil {
		return err
	}

	s.progress.setPhase(PhaseVerifying)
	s.progress.setPhase(PhaseFinalizing)
	if _, err := s.tracker.Announce(s.meta.Trackers, trackerclient.Request{
		InfoHash: s.meta.InfoHash,
		PeerID:   s.localPeerID,
		Port:     s.cfg.ListenPort,
		Left:     0,
		Event:    trackerclient.EventCompleted,
	}); err != nil {
		log.Errorf("scheduler: completed announce failed for %s: %s", s.meta.InfoHash, err)
	}
	return nil
}

// downloadLoop is the core event loop: it consumes incoming peer messages,
// periodically checks for expired requests, and fills request pipelines
// until every piece is verified.
func (s *Scheduler) downloadLoop(ctx context.Context) error {
	maintenance := time.NewTicker(time.Second)
	defer maintenance.Stop()

	for !s.have.Complete() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case im := <-s.incoming:
			if im.msg == nil {
				s.dropPeer(im.peerID)
				continue
			}
			if err := s.handleMessage(im.peerID, im.msg); err != nil {
				return err
			}
		case <-maintenance.C:
			s.requeueExpired()
			s.fillPipelines()
		}
	}
	return nil
}

func (s *Scheduler) peerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// connectPeer dials and handshakes addr, registers it, and starts
// forwarding its messages into the incoming channel. It returns false
// without error on a failed dial, since peer churn is expected.
func (s *Scheduler) connectPeer(info core.PeerInfo) bool {
	conn, err := peerconn.Handshake(info.Addr(), s.meta.InfoHash, s.localPeerID)
	if err != nil {
		log.Infof("scheduler: handshake with %s failed: %s", info.Addr(), err)
		return false
	}

	s.mu.Lock()
	s.peers[conn.PeerID()] = &peerState{conn: conn, bitfield: bitset.New(uint(s.meta.NumPieces()))}
	peerCount := len(s.peers)
	s.mu.Unlock()
	s.progress.setPeerCount(peerCount)

	conn.Start()
	if err := conn.Send(peerconn.BitfieldMessage(s.have.Bytes())); err != nil {
		log.Infof("scheduler: send bitfield to %s: %s", conn.PeerID(), err)
	}
	if err := conn.Send(peerconn.SimpleMessage(peerconn.Interested)); err != nil {
		log.Infof("scheduler: send interested to %s: %s", conn.PeerID(), err)
	}

	go s.forward(conn)
	return true
}

func (s *Scheduler) forward(conn *peerconn.Conn) {
	for msg := range conn.Receiver() {
		select {
		case s.incoming <- incomingMessage{peerID: conn.PeerID(), msg: msg}:
		case <-s.done:
			return
		}
	}
	select {
	case s.incoming <- incomingMessage{peerID: conn.PeerID()}:
	case <-s.done:
	}
}

func (s *Scheduler) dropPeer(peerID core.PeerID) {
	s.mu.Lock()
	ps, ok := s.peers[peerID]
	if ok {
		delete(s.peers, peerID)
		s.rarity.removePeerBitfield(ps.bitfield)
	}
	peerCount := len(s.peers)
	s.mu.Unlock()

	if ok {
		ps.conn.Close()
		s.stats.Counter("peers_dropped").Inc(1)
	}
	s.reqMgr.ClearPeer(peerID)
	s.progress.setPeerCount(peerCount)
	s.stats.Gauge("connected_peers").Update(float64(peerCount))
}

// handleMessage applies one peer message's effect on rarity/bitfield
// bookkeeping and, for PIECE messages, the in-progress piece buffer. It
// returns a non-nil error only when a piece has exhausted its verification
// retries, which the caller treats as fatal to the download.
func (s *Scheduler) handleMessage(peerID core.PeerID, msg *peerconn.Message) error {
	if msg.KeepAlive {
		return nil
	}

	switch msg.ID {
	case peerconn.Bitfield:
		s.applyPeerBitfield(peerID, msg.BitfieldBytes)
	case peerconn.Have:
		s.applyPeerHave(peerID, msg.Index)
	case peerconn.Piece:
		return s.onBlockReceived(peerID, msg)
	case peerconn.Request, peerconn.Cancel, peerconn.Choke, peerconn.Unchoke,
		peerconn.Interested, peerconn.NotInterested:
		// Choke state already tracked by peerconn.Conn; this engine does
		// not seed, so REQUEST/CANCEL from peers are not serviced (spec
		// section 1 non-goal).
	}
	return nil
}

func (s *Scheduler) applyPeerBitfield(peerID core.PeerID, wireBytes []byte) {
	b := peerBitfieldSet(wireBytes, s.meta.NumPieces())

	s.mu.Lock()
	ps, ok := s.peers[peerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	ps.bitfield = b
	s.mu.Unlock()

	s.rarity.addPeerBitfield(b)
}

func (s *Scheduler) applyPeerHave(peerID core.PeerID, index uint32) {
	s.mu.Lock()
	ps, ok := s.peers[peerID]
	if ok {
		ps.bitfield.Set(uint(index))
	}
	s.mu.Unlock()
	if ok {
		s.rarity.addPiece(int(index))
	}
}

// onBlockReceived writes the block into its piece buffer, verifies the
// piece once complete, persists verified bytes to disk, and broadcasts a
// HAVE to every connected peer. It returns a PieceVerificationError once a
// piece has failed verification maxPieceRetries times, since at that point
// the piece can never be completed and the download must fail rather than
// keep re-requesting it forever.
func (s *Scheduler) onBlockReceived(peerID core.PeerID, msg *peerconn.Message) error {
	s.reqMgr.Clear(int(msg.Index), msg.Begin)
	s.cancelEndgameDuplicates(piecerequest.BlockKey{Piece: int(msg.Index), Begin: msg.Begin}, peerID)

	if s.have.Has(int(msg.Index)) {
		return nil // Already verified via another peer (endgame).
	}

	s.mu.Lock()
	piece, ok := s.inProgress[int(msg.Index)]
	s.mu.Unlock()
	if !ok {
		return nil // Not currently wanted; stale/duplicate delivery.
	}

	if err := piece.WriteBlock(msg.Begin, msg.Block); err != nil {
		s.reqMgr.RecordFailure(peerID)
		return nil
	}
	if !piece.FullyFilled() {
		return nil
	}

	data, ok := piece.Verify()
	if !ok {
		s.pieceRetries[int(msg.Index)]++
		if s.pieceRetries[int(msg.Index)] >= maxPieceRetries {
			s.mu.Lock()
			delete(s.inProgress, int(msg.Index))
			s.mu.Unlock()
			s.reqMgr.ClearPiece(int(msg.Index))
			log.Errorf("scheduler: piece %d failed verification %d times, giving up", msg.Index, maxPieceRetries)
			return &PieceVerificationError{Index: int(msg.Index)}
		}
		return nil
	}

	if err := s.writer.WritePiece(int(msg.Index), data); err != nil {
		log.Errorf("scheduler: write piece %d: %s", msg.Index, err)
		return nil
	}
	s.stats.Counter("pieces_completed").Inc(1)
	s.stats.Counter("bytes_downloaded").Inc(int64(len(data)))

	s.mu.Lock()
	delete(s.inProgress, int(msg.Index))
	s.have.Set(int(msg.Index))
	haveCount := s.have.CountSet()
	total := s.have.NumPieces()
	peersSnapshot := make([]*peerconn.Conn, 0, len(s.peers))
	for _, ps := range s.peers {
		peersSnapshot = append(peersSnapshot, ps.conn)
	}
	s.mu.Unlock()

	s.rarity.removePiece(int(msg.Index))
	s.reqMgr.ClearPiece(int(msg.Index))
	s.progress.addDownloaded(int64(len(data)))

	if float64(haveCount)/float64(total) >= s.cfg.EndgameThreshold {
		s.mu.Lock()
		s.endgame = true
		s.mu.Unlock()
	}

	for _, c := range peersSnapshot {
		if err := c.Send(peerconn.HaveMessage(uint32(msg.Index))); err != nil {
			log.Infof("scheduler: broadcast have to %s: %s", c.PeerID(), err)
		}
	}
	return nil
}

func (s *Scheduler) cancelEndgameDuplicates(key piecerequest.BlockKey, receivedFrom core.PeerID) {
	s.mu.Lock()
	entry := s.endgameSent[key]
	delete(s.endgameSent, key)
	s.mu.Unlock()

	if entry == nil {
		return
	}
	for peerID := range entry.peers {
		if peerID == receivedFrom {
			continue
		}
		s.mu.Lock()
		ps, ok := s.peers[peerID]
		s.mu.Unlock()
		if ok {
			_ = ps.conn.Send(peerconn.CancelMessage(uint32(key.Piece), key.Begin, piecestore.BlockSize))
		}
	}
}

// requeueExpired re-queues block requests the peer pipeline manager has
// timed out, drops peers that have accrued too many failures, and clears
// endgame fan-outs whose holders all stalled so the block is re-requested.
func (s *Scheduler) requeueExpired() {
	expired := s.reqMgr.ExpiredRequests()
	if len(expired) > 0 {
		s.stats.Counter("piece_request_timeouts").Inc(int64(len(expired)))
	}
	for _, req := range expired {
		if s.reqMgr.ShouldDrop(req.PeerID) {
			s.dropPeer(req.PeerID)
		}
	}

	now := s.clk.Now()
	s.mu.Lock()
	for key, entry := range s.endgameSent {
		if now.Sub(entry.sentAt) > s.cfg.BlockTimeout {
			delete(s.endgameSent, key)
		}
	}
	s.mu.Unlock()
}

// fillPipelines selects pieces rarest-first (or, in endgame, every
// remaining piece) and issues REQUESTs up to each active peer's pipeline
// limit (spec section 4.6 bullets 3-4).
func (s *Scheduler) fillPipelines() {
	s.mu.Lock()
	endgame := s.endgame
	want := bitset.New(uint(s.meta.NumPieces()))
	for i := 0; i < s.meta.NumPieces(); i++ {
		if !s.have.Has(i) {
			want.Set(uint(i))
		}
	}
	peerSets := make(map[core.PeerID]*bitset.BitSet, len(s.peers))
	activePeers := make([]core.PeerID, 0, len(s.peers))
	for id, ps := range s.peers {
		peerSets[id] = ps.bitfield
		if !ps.conn.PeerChoking() && ps.bitfield.IntersectionCardinality(want) > 0 {
			activePeers = append(activePeers, id)
		}
	}
	s.mu.Unlock()

	// Spec section 4.6 bullet 2: at most MaxActivePeers unchoked, interested
	// peers with a non-empty bitfield intersection participate in request
	// issuance at a time.
	if len(activePeers) > s.cfg.MaxActivePeers {
		activePeers = activePeers[:s.cfg.MaxActivePeers]
	}

	order := s.rarity.rarestFirst(want, s.primaryFilePieceIndex())

	if endgame {
		s.fillEndgame(order, peerSets)
		return
	}

	for _, peerID := range activePeers {
		room := s.reqMgr.PipelineRoom(peerID)
		if room <= 0 {
			continue
		}
		s.mu.Lock()
		ps, ok := s.peers[peerID]
		s.mu.Unlock()
		if !ok {
			continue
		}
		for _, index := range order {
			if room <= 0 {
				break
			}
			if !ps.bitfield.Test(uint(index)) {
				continue
			}
			piece := s.pieceBuffer(index)
			req, ok := piece.NextBlockRequest()
			if !ok || s.reqMgr.IsReserved(index, req.Begin) {
				continue
			}
			if err := ps.conn.Send(peerconn.RequestMessage(uint32(index), req.Begin, req.Length)); err != nil {
				continue
			}
			s.reqMgr.Reserve(peerID, index, req.Begin, req.Length)
			room--
		}
	}
}

// fillEndgame requests, for every wanted piece, its lowest still-unfilled
// block from every peer that has the piece. Only that one block per piece
// is in flight: it is not re-sent while its fan-out is pending, and the
// piece's later blocks are not requested until it arrives or its fan-out
// times out in requeueExpired.
func (s *Scheduler) fillEndgame(order []int, peerSets map[core.PeerID]*bitset.BitSet) {
	for _, index := range order {
		piece := s.pieceBuffer(index)
		for {
			req, ok := piece.NextBlockRequest()
			if !ok {
				break
			}
			key := piecerequest.BlockKey{Piece: index, Begin: req.Begin}

			s.mu.Lock()
			_, alreadySent := s.endgameSent[key]
			s.mu.Unlock()
			if alreadySent {
				break // NextBlockRequest returns the same unfilled block until it arrives.
			}

			holders := peersWithPiece(peerSets, index)
			sentTo := make(map[core.PeerID]bool, len(holders))
			for _, peerID := range holders {
				s.mu.Lock()
				ps, ok := s.peers[peerID]
				s.mu.Unlock()
				if !ok {
					continue
				}
				if err := ps.conn.Send(peerconn.RequestMessage(uint32(index), req.Begin, req.Length)); err == nil {
					sentTo[peerID] = true
				}
			}
			if len(sentTo) > 0 {
				s.mu.Lock()
				s.endgameSent[key] = &endgameEntry{peers: sentTo, sentAt: s.clk.Now()}
				s.mu.Unlock()
			}
			break // One block per piece per maintenance tick is enough churn.
		}
	}
}

func (s *Scheduler) pieceBuffer(index int) *piecestore.Piece {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.inProgress[index]
	if !ok {
		hash, _ := s.meta.PieceHash(index)
		p = piecestore.NewPiece(index, s.meta.PieceLengthAt(index), hash)
		s.inProgress[index] = p
	}
	return p
}

// primaryFilePieceIndex returns the piece index containing byte 0 of the
// largest file (the primary media file), promoted to the head of the
// selection queue to enable early streaming (spec section 4.6 bullet 3).
func (s *Scheduler) primaryFilePieceIndex() int {
	if len(s.meta.Files) == 0 || s.meta.PieceLength == 0 {
		return -1
	}
	var offset, primaryOffset, primaryLength int64
	for i, f := range s.meta.Files {
		if i == 0 || f.Length > primaryLength {
			primaryOffset, primaryLength = offset, f.Length
		}
		offset += f.Length
	}
	return int(primaryOffset / s.meta.PieceLength)
}

// startAnnounceLoop announces EventStarted immediately, then re-announces
// at the tracker-specified interval, publishing newly discovered peers on
// the returned channel.
func (s *Scheduler) startAnnounceLoop(ctx context.Context) (<-chan []core.PeerInfo, <-chan error) {
	peersCh := make(chan []core.PeerInfo, 8)
	errCh := make(chan error, 8)

	go func() {
		interval := 30 * time.Second
		event := trackerclient.EventStarted
		for {
			resp, err := s.tracker.Announce(s.meta.Trackers, trackerclient.Request{
				InfoHash:   s.meta.InfoHash,
				PeerID:     s.localPeerID,
				Port:       s.cfg.ListenPort,
				Left:       s.bytesRemaining(),
				Event:      event,
			})
			event = trackerclient.EventNone
			if err != nil {
				select {
				case errCh <- err:
				case <-s.done:
					return
				}
			} else {
				if resp.Interval > 0 {
					interval = time.Duration(resp.Interval) * time.Second
				}
				select {
				case peersCh <- resp.Peers:
				case <-s.done:
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-s.clk.After(interval):
			}
		}
	}()

	return peersCh, errCh
}

func (s *Scheduler) bytesRemaining() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	haveBytes := int64(s.have.CountSet()) * s.meta.PieceLength
	total := s.meta.TotalLength()
	remaining := total - haveBytes
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ContiguousBytes returns how many bytes from the start of the torrent are
// verified and complete with no gap -- the prefix a byte-range streaming
// reader can safely serve while the rest of the torrent is still being
// fetched (spec section 4.12). It stops at the first missing piece, since
// rarest-first selection does not guarantee pieces complete in order.
func (s *Scheduler) ContiguousBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := 0; i < s.have.NumPieces(); i++ {
		if !s.have.Has(i) {
			break
		}
		n += s.meta.PieceLengthAt(i)
	}
	return n
}
