// Package job implements the download job state machine (spec section
// 4.7): idempotent initiation, status transitions recorded to an audit
// trail, and advisory progress fields updated outside of it.
package job

import "time"

// Status is one state in a DownloadJob's lifecycle.
type Status string

// The job lifecycle states. PENDING, DOWNLOADING, and CONVERTING are
// non-terminal; COMPLETED, FAILED, and CANCELLED are terminal.
const (
	StatusPending     Status = "PENDING"
	StatusDownloading Status = "DOWNLOADING"
	StatusConverting  Status = "CONVERTING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the state machine in spec section 4.7.
var validTransitions = map[Status][]Status{
	StatusPending:     {StatusDownloading, StatusCancelled, StatusFailed},
	StatusDownloading: {StatusConverting, StatusFailed, StatusCancelled},
	StatusConverting:  {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// DownloadJob is the durable record of one user's request to acquire and
// prepare a video for streaming.
type DownloadJob struct {
	ID         string
	VideoID    string
	TorrentID  string
	UserID     string
	MagnetURI  string
	Status     Status
	Progress   int
	DownloadedBytes  int64
	TotalBytes       int64
	DownloadSpeedBPS float64
	ETASeconds       int64
	Peers            int
	CurrentPhase     string
	FilePath         string
	ErrorMessage     string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// AuditEntry is one recorded status transition.
type AuditEntry struct {
	JobID      string
	FromStatus Status
	ToStatus   Status
	Message    string
	RecordedAt time.Time
}

// Readiness is the result of a Ready(jobID) query.
type Readiness struct {
	Ready    bool
	Status   Status
	Progress int
	FilePath string
}
