package streaming

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/angelasoler/hypertube/job"
	"github.com/angelasoler/hypertube/utils/handler"
	"github.com/angelasoler/hypertube/utils/log"
)

// JobLookup is the subset of job.Manager the streaming handler needs.
type JobLookup interface {
	Get(jobID string) (*job.DownloadJob, error)
}

// StreamGuard pins a cached video open for the duration of a request so a
// concurrent cache sweep cannot delete the file out from under an active
// reader (spec section 5's "on-disk file system ... deletion coordinates
// with an in-memory reference counter of open streams").
type StreamGuard interface {
	Acquire(videoID string) (release func())
}

// Availability reports how many bytes from the start of an in-progress
// download's primary file are safe to read, for a job that has not
// reached COMPLETED yet.
type Availability interface {
	ContiguousBytes(jobID string) (bytes int64, ok bool)
}

// Config tunes the still-growing-file wait behavior.
type Config struct {
	// BlockTimeout bounds how long a request for bytes beyond the
	// currently available prefix waits before returning 416, per spec
	// section 4.12 ("block briefly (<= 5s) ... or return 416").
	BlockTimeout time.Duration `yaml:"block_timeout"`
	// PollInterval is how often availability is rechecked while blocked.
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c *Config) applyDefaults() {
	if c.BlockTimeout == 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 100 * time.Millisecond
	}
}

// Handler serves GET /streaming/video/{jobId}.
type Handler struct {
	config Config
	clk    clock.Clock
	jobs   JobLookup
	guard  StreamGuard
	avail  Availability
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides the clock used for the still-growing-file wait loop.
func WithClock(clk clock.Clock) Option {
	return func(h *Handler) { h.clk = clk }
}

// NewHandler creates a Handler.
func NewHandler(config Config, jobs JobLookup, guard StreamGuard, avail Availability, opts ...Option) *Handler {
	config.applyDefaults()
	h := &Handler{config: config, clk: clock.New(), jobs: jobs, guard: guard, avail: avail}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeVideo writes the byte range requested by r to w for the video
// backing jobID, adapting to handler.Wrap's func(w, r) error convention.
func (h *Handler) ServeVideo(w http.ResponseWriter, r *http.Request, jobID string) error {
	j, err := h.jobs.Get(jobID)
	if err != nil {
		return handler.ErrorStatus(http.StatusNotFound)
	}
	if j.FilePath == "" {
		return handler.ErrorStatus(http.StatusConflict)
	}
	if j.Status.Terminal() && j.Status != job.StatusCompleted {
		return handler.ErrorStatus(http.StatusConflict)
	}

	stillGrowing := j.Status == job.StatusDownloading
	var release func()
	if j.Status == job.StatusCompleted {
		release = h.guard.Acquire(j.VideoID)
		defer release()
	}

	size := j.TotalBytes
	if size <= 0 {
		return handler.ErrorStatus(http.StatusConflict)
	}

	rng, err := ParseRange(r.Header.Get("Range"), size)
	if err == ErrUnsatisfiable {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		return handler.ErrorStatus(http.StatusRequestedRangeNotSatisfiable)
	}
	if err != nil {
		return handler.ErrorStatus(http.StatusBadRequest)
	}

	available := size
	if stillGrowing {
		available, err = h.waitForAvailability(jobID, rng.End)
		if err != nil {
			w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
			return handler.ErrorStatus(http.StatusRequestedRangeNotSatisfiable)
		}
		// The handler must never return bytes past what is verified so far.
		if rng.End >= available {
			rng.End = available - 1
		}
		if rng.End < rng.Start {
			w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
			return handler.ErrorStatus(http.StatusRequestedRangeNotSatisfiable)
		}
	}

	f, err := os.Open(j.FilePath)
	if err != nil {
		log.Errorf("streaming: open %s: %s", j.FilePath, err)
		return handler.Errorf("video unavailable")
	}
	defer f.Close()

	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		return handler.Errorf("seek failed")
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))

	partial := r.Header.Get("Range") != ""
	if partial {
		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(rng.Start, 10)+"-"+
			strconv.FormatInt(rng.End, 10)+"/"+strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if _, err := io.CopyN(w, f, rng.Length()); err != nil {
		log.Infof("streaming: copy %s: %s", j.FilePath, err)
	}
	return nil
}

// waitForAvailability polls the scheduler's contiguous-bytes watermark
// until it covers wantEnd or BlockTimeout elapses, in which case it
// returns ErrUnsatisfiable so the caller responds 416 rather than
// serving bytes that have not been verified yet.
func (h *Handler) waitForAvailability(jobID string, wantEnd int64) (int64, error) {
	deadline := h.clk.Now().Add(h.config.BlockTimeout)
	for {
		available, _ := h.avail.ContiguousBytes(jobID)
		if available > wantEnd {
			return available, nil
		}
		if !h.clk.Now().Before(deadline) {
			return available, ErrUnsatisfiable
		}
		<-h.clk.After(h.config.PollInterval)
	}
}
