package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up00005, down00005)
}

// up00005 replaces the plain (video_id, user_id) index with one that's
// unique over non-terminal statuses, so a second concurrent INSERT for a
// video/user pair that already has an active job fails at the database
// instead of racing the application-level check in job.Manager.Initiate.
func up00005(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP INDEX IF EXISTS idx_download_job_video_user;
		CREATE UNIQUE INDEX idx_download_job_video_user_active
			ON download_job(video_id, user_id)
			WHERE status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED');
	`)
	return err
}

func down00005(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP INDEX IF EXISTS idx_download_job_video_user_active;
		CREATE INDEX idx_download_job_video_user
			ON download_job(video_id, user_id);
	`)
	return err
}
