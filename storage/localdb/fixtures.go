package localdb

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
)

// Fixture returns a temporary, fully migrated test database and a cleanup
// function that removes its backing directory. Grounded on kraken's
// localdb.Fixture.
func Fixture() (*sqlx.DB, func()) {
	tmpdir, err := ioutil.TempDir(".", "test-db-")
	if err != nil {
		panic(err)
	}
	cleanup := func() { os.RemoveAll(tmpdir) }

	db, err := New(Config{Source: filepath.Join(tmpdir, "test.db")})
	if err != nil {
		cleanup()
		panic(err)
	}

	return db, cleanup
}
