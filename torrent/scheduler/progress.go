package scheduler

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// Phase is the coarse-grained state of a single torrent's download,
// published alongside progress so a caller (the job package) can surface
// it to users, per spec section 4.6.
type Phase string

// The phases a download passes through, in order (endgame is a mode
// within DOWNLOADING, not a separate phase).
const (
	PhaseContactingTrackers Phase = "CONTACTING_TRACKERS"
	PhaseConnectingPeers    Phase = "CONNECTING_PEERS"
	PhaseDownloading        Phase = "DOWNLOADING"
	PhaseVerifying          Phase = "VERIFYING"
	PhaseFinalizing         Phase = "FINALIZING"
)

// Progress is a snapshot published on every piece completion and at least
// once a second while a download is active.
type Progress struct {
	DownloadedBytes    int64
	TotalBytes         int64
	SpeedBPS           float64
	ETASeconds         int64
	ConnectedPeerCount int
	CurrentPhase       Phase
}

// progressEMASmoothing is the exponential moving average decay constant
// for speed_bps, per spec section 4.6: alpha=0.2 over a 1s window.
const progressEMASmoothing = 0.2

// progressPublishInterval is the minimum cadence for progress publication
// when no piece completes in between.
const progressPublishInterval = time.Second

// progressTracker computes downloaded-byte deltas into an EMA'd speed and
// invokes a publish callback, mirroring the single-purpose stats struct
// style of kraken's dispatch/peerStats (mutex-protected counters, no
// channels).
type progressTracker struct {
	mu sync.Mutex

	clk         clock.Clock
	totalBytes  int64
	downloaded  int64
	speedBPS    float64
	lastSampled time.Time
	phase       Phase
	peerCount   int

	publish func(Progress)
}

func newProgressTracker(clk clock.Clock, totalBytes int64, publish func(Progress)) *progressTracker {
	return &progressTracker{
		clk:         clk,
		totalBytes:  totalBytes,
		lastSampled: clk.Now(),
		phase:       PhaseContactingTrackers,
		publish:     publish,
	}
}

func (p *progressTracker) setPhase(phase Phase) {
	p.mu.Lock()
	p.phase = phase
	p.mu.Unlock()
	p.publishNow()
}

func (p *progressTracker) setPeerCount(n int) {
	p.mu.Lock()
	p.peerCount = n
	p.mu.Unlock()
}

// addDownloaded records newly-verified bytes and recomputes the EMA speed
// sample using the elapsed wall time since the previous sample.
func (p *progressTracker) addDownloaded(n int64) {
	p.mu.Lock()
	now := p.clk.Now()
	elapsed := now.Sub(p.lastSampled).Seconds()
	if elapsed <= 0 {
		elapsed = 0.001
	}
	instantaneous := float64(n) / elapsed
	p.speedBPS = progressEMASmoothing*instantaneous + (1-progressEMASmoothing)*p.speedBPS
	p.downloaded += n
	p.lastSampled = now
	p.mu.Unlock()

	p.publishNow()
}

func (p *progressTracker) snapshot() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()

	var eta int64
	remaining := p.totalBytes - p.downloaded
	if p.speedBPS > 0 && remaining > 0 {
		eta = int64(float64(remaining) / p.speedBPS)
	}

	return Progress{
		DownloadedBytes:    p.downloaded,
		TotalBytes:         p.totalBytes,
		SpeedBPS:           p.speedBPS,
		ETASeconds:         eta,
		ConnectedPeerCount: p.peerCount,
		CurrentPhase:       p.phase,
	}
}

func (p *progressTracker) publishNow() {
	if p.publish != nil {
		p.publish(p.snapshot())
	}
}

// runTicker publishes a progress snapshot at least once a second until
// done is closed, covering periods with no piece completion.
func (p *progressTracker) runTicker(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-p.clk.After(progressPublishInterval):
			p.publishNow()
		}
	}
}
