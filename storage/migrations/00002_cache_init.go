package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up00002, down00002)
}

func up00002(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS cached_video (
			video_id         text      NOT NULL PRIMARY KEY,
			file_path        text      NOT NULL,
			size_bytes       integer   NOT NULL,
			created_at       timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at       timestamp NOT NULL,
			last_accessed_at timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,
			access_count     integer   NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_cached_video_last_accessed
			ON cached_video(last_accessed_at);
	`)
	return err
}

func down00002(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE cached_video;`)
	return err
}
