// Package localdb opens the process's embedded SQLite database and
// brings its schema up to date via goose migrations, grounded on
// kraken's localdb package.
package localdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQL driver.
	"github.com/pressly/goose"

	_ "github.com/angelasoler/hypertube/storage/migrations" // Register migrations.
)

// Config configures the embedded database.
type Config struct {
	Source string `yaml:"source"`
}

func (c Config) applyDefaults() Config {
	if c.Source == "" {
		c.Source = "hypertube.db"
	}
	return c
}

// New opens (creating if necessary) the SQLite database at config.Source
// and migrates it to the latest schema.
func New(config Config) (*sqlx.DB, error) {
	config = config.applyDefaults()

	if dir := filepath.Dir(config.Source); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("ensure db directory: %s", err)
		}
	}

	db, err := sqlx.Open("sqlite3", config.Source)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %s", err)
	}
	// SQLite serializes writers; a single connection avoids "database is
	// locked" errors under concurrent access from multiple goroutines.
	db.SetMaxOpenConns(1)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set dialect: %s", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		return nil, fmt.Errorf("migrate: %s", err)
	}
	return db, nil
}
