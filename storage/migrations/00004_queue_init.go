package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up00004, down00004)
}

func up00004(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS queue_message (
			id           text      NOT NULL PRIMARY KEY,
			queue        text      NOT NULL,
			payload      text      NOT NULL,
			priority     integer   NOT NULL DEFAULT 0,
			status       text      NOT NULL,
			created_at   timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at   timestamp NOT NULL,
			failures     integer   NOT NULL DEFAULT 0,
			last_attempt timestamp
		);
		CREATE INDEX IF NOT EXISTS idx_queue_message_dispatch
			ON queue_message(queue, status, priority DESC, created_at);
	`)
	return err
}

func down00004(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE queue_message;`)
	return err
}
