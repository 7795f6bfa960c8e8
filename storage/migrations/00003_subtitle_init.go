package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up00003, down00003)
}

func up00003(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS subtitle (
			video_id     text      NOT NULL,
			language     text      NOT NULL,
			file_path    text      NOT NULL,
			format       text      NOT NULL,
			source       text      NOT NULL DEFAULT '',
			created_at   timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(video_id, language)
		);
	`)
	return err
}

func down00003(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE subtitle;`)
	return err
}
