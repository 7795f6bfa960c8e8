package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up00001, down00001)
}

func up00001(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS download_job (
			id                 text      NOT NULL PRIMARY KEY,
			video_id           text      NOT NULL,
			torrent_id         text      NOT NULL,
			user_id            text      NOT NULL,
			magnet_uri         text      NOT NULL,
			status             text      NOT NULL,
			progress           integer   NOT NULL DEFAULT 0,
			downloaded_bytes   integer   NOT NULL DEFAULT 0,
			total_bytes        integer   NOT NULL DEFAULT 0,
			download_speed_bps real      NOT NULL DEFAULT 0,
			eta_seconds        integer   NOT NULL DEFAULT 0,
			peers              integer   NOT NULL DEFAULT 0,
			current_phase      text      NOT NULL DEFAULT '',
			file_path          text      NOT NULL DEFAULT '',
			error_message      text      NOT NULL DEFAULT '',
			created_at         timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at         timestamp,
			completed_at       timestamp
		);
		CREATE INDEX IF NOT EXISTS idx_download_job_video_user
			ON download_job(video_id, user_id);

		CREATE TABLE IF NOT EXISTS job_audit_trail (
			id         integer   NOT NULL PRIMARY KEY AUTOINCREMENT,
			job_id     text      NOT NULL,
			from_status text     NOT NULL,
			to_status  text      NOT NULL,
			message    text      NOT NULL DEFAULT '',
			recorded_at timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_job_audit_trail_job_id
			ON job_audit_trail(job_id, recorded_at);
	`)
	return err
}

func down00001(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP TABLE job_audit_trail;
		DROP TABLE download_job;
	`)
	return err
}
