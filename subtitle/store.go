package subtitle

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when no record exists for a (videoID, language)
// pair.
var ErrNotFound = errors.New("subtitle not found")

// Store persists subtitle Records against the subtitle table
// (storage/migrations/00003_subtitle_init.go). Grounded on the same sqlx
// idiom as job/store.go and cache/store.go.
type Store interface {
	Upsert(r *Record) error
	Get(videoID, language string) (*Record, error)
	ListByVideo(videoID string) ([]*Record, error)
}

type sqlStore struct {
	db *sqlx.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

type subtitleRow struct {
	VideoID  string `db:"video_id"`
	Language string `db:"language"`
	FilePath string `db:"file_path"`
	Format   string `db:"format"`
	Source   string `db:"source"`
}

func (row subtitleRow) toRecord() *Record {
	return &Record{
		VideoID:  row.VideoID,
		Language: row.Language,
		FilePath: row.FilePath,
		Format:   Format(row.Format),
		Source:   row.Source,
	}
}

func (s *sqlStore) Upsert(r *Record) error {
	_, err := s.db.NamedExec(`
		INSERT INTO subtitle (video_id, language, file_path, format, source)
		VALUES (:video_id, :language, :file_path, :format, :source)
		ON CONFLICT(video_id, language) DO UPDATE SET
			file_path = excluded.file_path,
			format = excluded.format,
			source = excluded.source
	`, map[string]interface{}{
		"video_id":  r.VideoID,
		"language":  r.Language,
		"file_path": r.FilePath,
		"format":    string(r.Format),
		"source":    r.Source,
	})
	return err
}

func (s *sqlStore) Get(videoID, language string) (*Record, error) {
	var row subtitleRow
	err := s.db.Get(&row, `
		SELECT video_id, language, file_path, format, source FROM subtitle
		WHERE video_id = ? AND language = ?
	`, videoID, language)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toRecord(), nil
}

func (s *sqlStore) ListByVideo(videoID string) ([]*Record, error) {
	var rows []subtitleRow
	if err := s.db.Select(&rows, `
		SELECT video_id, language, file_path, format, source FROM subtitle
		WHERE video_id = ?
		ORDER BY language ASC
	`, videoID); err != nil {
		return nil, err
	}
	records := make([]*Record, len(rows))
	for i, row := range rows {
		records[i] = row.toRecord()
	}
	return records, nil
}
