package job

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// ErrJobNotFound is returned when a lookup by id finds no record.
var ErrJobNotFound = errors.New("job not found")

// ErrJobExists is returned by Insert on a primary-key collision.
var ErrJobExists = errors.New("job already exists")

// ErrActiveJobExists is returned by Insert when idx_download_job_video_user_active
// rejects a second non-terminal job for a (video_id, user_id) pair that
// already has one in flight. It is the race-losing side of two concurrent
// Initiate calls: exactly one Insert wins, the other gets this error and
// falls back to reading the winner's row.
var ErrActiveJobExists = errors.New("active job already exists for video/user")

// Store persists DownloadJob records and their audit trail. Grounded on
// the teacher's lib/persistedretry.Store / writeback.Store sqlx shape,
// adapted from task-queue retry bookkeeping to job lifecycle bookkeeping.
type Store interface {
	Insert(j *DownloadJob) error
	GetByID(id string) (*DownloadJob, error)
	GetActiveByVideoUser(videoID, userID string) (*DownloadJob, error)
	UpdateStatus(id string, from, to Status, message string) error
	UpdateProgress(id string, progress int, downloaded, total int64, speedBPS float64, eta int64, peers int, phase string) error
	SetFilePath(id, path string) error
	ListAudit(jobID string) ([]AuditEntry, error)
	ListAll(limit, offset int) ([]*DownloadJob, int, error)
	ListByUser(userID string, limit, offset int) ([]*DownloadJob, int, error)
	ListIncomplete() ([]*DownloadJob, error)
}

type sqlStore struct {
	db *sqlx.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

type jobRow struct {
	ID               string         `db:"id"`
	VideoID          string         `db:"video_id"`
	TorrentID        string         `db:"torrent_id"`
	UserID           string         `db:"user_id"`
	MagnetURI        string         `db:"magnet_uri"`
	Status           string         `db:"status"`
	Progress         int            `db:"progress"`
	DownloadedBytes  int64          `db:"downloaded_bytes"`
	TotalBytes       int64          `db:"total_bytes"`
	DownloadSpeedBPS float64        `db:"download_speed_bps"`
	ETASeconds       int64          `db:"eta_seconds"`
	Peers            int            `db:"peers"`
	CurrentPhase     string         `db:"current_phase"`
	FilePath         string         `db:"file_path"`
	ErrorMessage     string         `db:"error_message"`
	CreatedAt        time.Time      `db:"created_at"`
	StartedAt        sql.NullTime   `db:"started_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
}

func (r *jobRow) toJob() *DownloadJob {
	j := &DownloadJob{
		ID:               r.ID,
		VideoID:          r.VideoID,
		TorrentID:        r.TorrentID,
		UserID:           r.UserID,
		MagnetURI:        r.MagnetURI,
		Status:           Status(r.Status),
		Progress:         r.Progress,
		DownloadedBytes:  r.DownloadedBytes,
		TotalBytes:       r.TotalBytes,
		DownloadSpeedBPS: r.DownloadSpeedBPS,
		ETASeconds:       r.ETASeconds,
		Peers:            r.Peers,
		CurrentPhase:     r.CurrentPhase,
		FilePath:         r.FilePath,
		ErrorMessage:     r.ErrorMessage,
		CreatedAt:        r.CreatedAt,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		j.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		j.CompletedAt = &t
	}
	return j
}

func (s *sqlStore) Insert(j *DownloadJob) error {
	_, err := s.db.NamedExec(`
		INSERT INTO download_job (
			id, video_id, torrent_id, user_id, magnet_uri, status, progress
		) VALUES (
			:id, :video_id, :torrent_id, :user_id, :magnet_uri, :status, :progress
		)
	`, map[string]interface{}{
		"id":         j.ID,
		"video_id":   j.VideoID,
		"torrent_id": j.TorrentID,
		"user_id":    j.UserID,
		"magnet_uri": j.MagnetURI,
		"status":     string(j.Status),
		"progress":   j.Progress,
	})
	if se, ok := err.(sqlite3.Error); ok {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey:
			return ErrJobExists
		case sqlite3.ErrConstraintUnique:
			return ErrActiveJobExists
		}
	}
	return err
}

func (s *sqlStore) GetByID(id string) (*DownloadJob, error) {
	var r jobRow
	err := s.db.Get(&r, `SELECT * FROM download_job WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.toJob(), nil
}

// GetActiveByVideoUser returns the most recent non-terminal job for
// (videoID, userID), or ErrJobNotFound if none exists -- backs Initiate's
// idempotency check (spec section 4.7).
func (s *sqlStore) GetActiveByVideoUser(videoID, userID string) (*DownloadJob, error) {
	var r jobRow
	err := s.db.Get(&r, `
		SELECT * FROM download_job
		WHERE video_id = ? AND user_id = ?
		  AND status IN (?, ?, ?)
		ORDER BY created_at DESC
		LIMIT 1
	`, videoID, userID, string(StatusPending), string(StatusDownloading), string(StatusConverting))
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.toJob(), nil
}

func (s *sqlStore) UpdateStatus(id string, from, to Status, message string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var startedAtClause, completedAtClause string
	switch to {
	case StatusDownloading:
		startedAtClause = ", started_at = CURRENT_TIMESTAMP"
	case StatusCompleted, StatusFailed, StatusCancelled:
		completedAtClause = ", completed_at = CURRENT_TIMESTAMP"
	}

	res, err := tx.Exec(fmt.Sprintf(`
		UPDATE download_job
		SET status = ?, error_message = ?%s%s
		WHERE id = ? AND status = ?
	`, startedAtClause, completedAtClause), string(to), message, id, string(from))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("job %s: not in expected status %s", id, from)
	}

	if _, err := tx.Exec(`
		INSERT INTO job_audit_trail (job_id, from_status, to_status, message)
		VALUES (?, ?, ?, ?)
	`, id, string(from), string(to), message); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqlStore) UpdateProgress(
	id string, progress int, downloaded, total int64, speedBPS float64, eta int64, peers int, phase string,
) error {
	_, err := s.db.Exec(`
		UPDATE download_job
		SET progress = ?, downloaded_bytes = ?, total_bytes = ?,
		    download_speed_bps = ?, eta_seconds = ?, peers = ?, current_phase = ?
		WHERE id = ?
	`, progress, downloaded, total, speedBPS, eta, peers, phase, id)
	return err
}

func (s *sqlStore) SetFilePath(id, path string) error {
	_, err := s.db.Exec(`UPDATE download_job SET file_path = ? WHERE id = ?`, path, id)
	return err
}

func (s *sqlStore) ListAudit(jobID string) ([]AuditEntry, error) {
	type auditRow struct {
		JobID      string    `db:"job_id"`
		FromStatus string    `db:"from_status"`
		ToStatus   string    `db:"to_status"`
		Message    string    `db:"message"`
		RecordedAt time.Time `db:"recorded_at"`
	}
	var rows []auditRow
	if err := s.db.Select(&rows, `
		SELECT job_id, from_status, to_status, message, recorded_at
		FROM job_audit_trail
		WHERE job_id = ?
		ORDER BY recorded_at ASC, id ASC
	`, jobID); err != nil {
		return nil, err
	}

	entries := make([]AuditEntry, len(rows))
	for i, r := range rows {
		entries[i] = AuditEntry{
			JobID:      r.JobID,
			FromStatus: Status(r.FromStatus),
			ToStatus:   Status(r.ToStatus),
			Message:    r.Message,
			RecordedAt: r.RecordedAt,
		}
	}
	return entries, nil
}

// ListAll returns a page of jobs ordered newest first, and the total
// number of jobs across all pages, backing GET /streaming/jobs.
func (s *sqlStore) ListAll(limit, offset int) ([]*DownloadJob, int, error) {
	var total int
	if err := s.db.Get(&total, `SELECT COUNT(*) FROM download_job`); err != nil {
		return nil, 0, err
	}

	var rows []jobRow
	if err := s.db.Select(&rows, `
		SELECT * FROM download_job
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset); err != nil {
		return nil, 0, err
	}
	return rowsToJobs(rows), total, nil
}

// ListByUser returns a page of jobs for userID ordered newest first, and
// the total number of jobs that user has across all pages, backing
// GET /streaming/jobs/user/{userId}.
func (s *sqlStore) ListByUser(userID string, limit, offset int) ([]*DownloadJob, int, error) {
	var total int
	if err := s.db.Get(&total, `SELECT COUNT(*) FROM download_job WHERE user_id = ?`, userID); err != nil {
		return nil, 0, err
	}

	var rows []jobRow
	if err := s.db.Select(&rows, `
		SELECT * FROM download_job
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset); err != nil {
		return nil, 0, err
	}
	return rowsToJobs(rows), total, nil
}

// ListIncomplete returns every job left in a non-terminal status, backing
// ResumeIncomplete's startup recovery scan.
func (s *sqlStore) ListIncomplete() ([]*DownloadJob, error) {
	var rows []jobRow
	if err := s.db.Select(&rows, `
		SELECT * FROM download_job
		WHERE status IN (?, ?, ?)
	`, string(StatusPending), string(StatusDownloading), string(StatusConverting)); err != nil {
		return nil, err
	}
	return rowsToJobs(rows), nil
}

func rowsToJobs(rows []jobRow) []*DownloadJob {
	jobs := make([]*DownloadJob, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toJob()
	}
	return jobs
}
