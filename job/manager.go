package job

import (
	"fmt"

	uuid "github.com/satori/go.uuid"

	"github.com/angelasoler/hypertube/utils/log"
)

// Enqueuer hands a newly-created job off to the download queue (spec
// section 4.8). Kept as a narrow interface so job does not import queue
// directly; the cmd wiring supplies the concrete implementation.
type Enqueuer interface {
	EnqueueDownload(jobID string, priority int) error
}

// Manager implements the job lifecycle operations: idempotent creation,
// transition enforcement, advisory progress updates, and the audit trail
// query. Grounded on the teacher's lib/persistedretry.Manager shape
// (Add/SyncExec/Find), adapted here from retry-task bookkeeping to a
// strict state-machine with a durable audit log.
type Manager struct {
	store Store
	queue Enqueuer
}

// NewManager constructs a Manager backed by store, enqueueing new jobs
// through queue.
func NewManager(store Store, queue Enqueuer) *Manager {
	return &Manager{store: store, queue: queue}
}

// Initiate idempotently starts acquisition of a video for a user. If a
// non-terminal job already exists for (videoID, userID), it is returned
// unchanged rather than creating a duplicate (spec section 4.7: "re-issuing
// the request for a job already in flight returns the existing job").
//
// The existing-job check below is advisory, not a lock: two concurrent
// Initiate calls for the same (videoID, userID) can both pass it and race
// into Insert. idx_download_job_video_user_active is what actually
// enforces the invariant -- it lets exactly one of the two INSERTs
// succeed, and the loser's Insert returns ErrActiveJobExists, at which
// point it falls back to reading and returning the winner's row. This
// keeps Initiate idempotent under concurrency without taking an explicit
// lock.
func (m *Manager) Initiate(videoID, torrentID, userID, magnetURI string) (*DownloadJob, error) {
	existing, err := m.store.GetActiveByVideoUser(videoID, userID)
	if err == nil {
		return existing, nil
	}
	if err != ErrJobNotFound {
		return nil, fmt.Errorf("job: lookup existing job: %w", err)
	}

	j := &DownloadJob{
		ID:        uuid.NewV4().String(),
		VideoID:   videoID,
		TorrentID: torrentID,
		UserID:    userID,
		MagnetURI: magnetURI,
		Status:    StatusPending,
		Progress:  0,
	}
	if err := m.store.Insert(j); err != nil {
		if err == ErrActiveJobExists {
			winner, lookupErr := m.store.GetActiveByVideoUser(videoID, userID)
			if lookupErr != nil {
				return nil, fmt.Errorf("job: lookup job after losing insert race: %w", lookupErr)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("job: insert: %w", err)
	}

	if err := m.queue.EnqueueDownload(j.ID, defaultDownloadPriority); err != nil {
		log.With("job_id", j.ID).Errorf("job: enqueue download failed: %s", err)
		if txErr := m.store.UpdateStatus(j.ID, StatusPending, StatusFailed, err.Error()); txErr != nil {
			log.With("job_id", j.ID).Errorf("job: mark failed after enqueue error: %s", txErr)
		}
		return nil, fmt.Errorf("job: enqueue: %w", err)
	}

	log.With("job_id", j.ID, "video_id", videoID, "user_id", userID).Info("job initiated")
	return j, nil
}

const defaultDownloadPriority = 5

// Ready answers the idempotent readiness poll: whether the video behind
// jobID is ready to stream, or still in progress / failed.
func (m *Manager) Ready(jobID string) (*Readiness, error) {
	j, err := m.store.GetByID(jobID)
	if err != nil {
		return nil, err
	}
	return &Readiness{
		Ready:    j.Status == StatusCompleted,
		Status:   j.Status,
		Progress: j.Progress,
		FilePath: j.FilePath,
	}, nil
}

// Get returns the current record for jobID.
func (m *Manager) Get(jobID string) (*DownloadJob, error) {
	return m.store.GetByID(jobID)
}

// Transition moves jobID from its current status to to, recording the
// change in the audit trail. Returns an error if the transition is not
// permitted by CanTransition, or if the job's status changed concurrently
// (the underlying store update is conditioned on the expected from-status).
func (m *Manager) Transition(jobID string, to Status, message string) error {
	j, err := m.store.GetByID(jobID)
	if err != nil {
		return err
	}
	if j.Status == to {
		return nil
	}
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("job: illegal transition %s -> %s", j.Status, to)
	}
	if err := m.store.UpdateStatus(jobID, j.Status, to, message); err != nil {
		return fmt.Errorf("job: transition %s -> %s: %w", j.Status, to, err)
	}
	log.With("job_id", jobID, "from", j.Status, "to", to).Info("job transitioned")
	return nil
}

// UpdateProgress records advisory progress fields. Unlike Transition, this
// never touches the audit trail (spec section 4.7: "progress updates are
// not lifecycle transitions").
func (m *Manager) UpdateProgress(
	jobID string, progress int, downloaded, total int64, speedBPS float64, eta int64, peers int, phase string,
) error {
	return m.store.UpdateProgress(jobID, progress, downloaded, total, speedBPS, eta, peers, phase)
}

// SetFilePath records the final on-disk location of a completed job's
// media file.
func (m *Manager) SetFilePath(jobID, path string) error {
	return m.store.SetFilePath(jobID, path)
}

// AuditTrail returns the ordered history of status transitions for jobID.
func (m *Manager) AuditTrail(jobID string) ([]AuditEntry, error) {
	return m.store.ListAudit(jobID)
}

// List returns a page of every job, newest first, and the total count
// across all pages.
func (m *Manager) List(limit, offset int) ([]*DownloadJob, int, error) {
	return m.store.ListAll(limit, offset)
}

// ListByUser returns a page of userID's jobs, newest first, and the total
// count across all pages.
func (m *Manager) ListByUser(userID string, limit, offset int) ([]*DownloadJob, int, error) {
	return m.store.ListByUser(userID, limit, offset)
}

// ResumeIncomplete scans for jobs left in a non-terminal status by a
// crash, and either hands them back to the queue for re-processing or
// marks them FAILED, per spec section 4.8 ("crash mid-job => message is
// re-delivered; the worker detects a job already in DOWNLOADING/CONVERTING
// and either resumes from the persisted state or transitions to FAILED").
// Grounded on the teacher's markPendingTasksAsFailed startup recovery.
func (m *Manager) ResumeIncomplete(jobs []*DownloadJob) {
	for _, j := range jobs {
		switch j.Status {
		case StatusPending:
			if err := m.queue.EnqueueDownload(j.ID, defaultDownloadPriority); err != nil {
				log.With("job_id", j.ID).Errorf("job: resume enqueue failed: %s", err)
			}
		case StatusDownloading, StatusConverting:
			if err := m.store.UpdateStatus(j.ID, j.Status, StatusFailed, "interrupted by restart"); err != nil {
				log.With("job_id", j.ID).Errorf("job: mark interrupted job failed: %s", err)
			}
		}
	}
}
