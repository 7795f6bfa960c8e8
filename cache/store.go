package cache

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a videoID has no cached record.
var ErrNotFound = errors.New("cached video not found")

// CachedVideo is a durable record of a converted file retained on disk for
// reuse by future streaming requests (spec section 4.10), backed by the
// cached_video table (storage/migrations/00002_cache_init.go).
type CachedVideo struct {
	VideoID        string
	FilePath       string
	SizeBytes      int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
}

// Store persists CachedVideo records. Grounded on the teacher's
// lib/store package shape of pairing file content with sqlite-tracked
// metadata (lib/store/metadata.LastAccessTime), here flattened into one
// row per video instead of a separate metadata file per attribute.
type Store interface {
	Upsert(cv *CachedVideo) error
	Get(videoID string) (*CachedVideo, error)
	Touch(videoID string, now time.Time) error
	Delete(videoID string) error
	ListAll() ([]*CachedVideo, error)
	TotalSize() (int64, error)
}

type sqlStore struct {
	db *sqlx.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

type cachedVideoRow struct {
	VideoID        string    `db:"video_id"`
	FilePath       string    `db:"file_path"`
	SizeBytes      int64     `db:"size_bytes"`
	CreatedAt      time.Time `db:"created_at"`
	ExpiresAt      time.Time `db:"expires_at"`
	LastAccessedAt time.Time `db:"last_accessed_at"`
	AccessCount    int64     `db:"access_count"`
}

func (r *cachedVideoRow) toCachedVideo() *CachedVideo {
	return &CachedVideo{
		VideoID:        r.VideoID,
		FilePath:       r.FilePath,
		SizeBytes:      r.SizeBytes,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		LastAccessedAt: r.LastAccessedAt,
		AccessCount:    r.AccessCount,
	}
}

func (s *sqlStore) Upsert(cv *CachedVideo) error {
	_, err := s.db.NamedExec(`
		INSERT INTO cached_video (video_id, file_path, size_bytes, expires_at, last_accessed_at)
		VALUES (:video_id, :file_path, :size_bytes, :expires_at, :last_accessed_at)
		ON CONFLICT(video_id) DO UPDATE SET
			file_path = excluded.file_path,
			size_bytes = excluded.size_bytes,
			expires_at = excluded.expires_at,
			last_accessed_at = excluded.last_accessed_at
	`, map[string]interface{}{
		"video_id":         cv.VideoID,
		"file_path":        cv.FilePath,
		"size_bytes":       cv.SizeBytes,
		"expires_at":       cv.ExpiresAt,
		"last_accessed_at": cv.LastAccessedAt,
	})
	return err
}

func (s *sqlStore) Get(videoID string) (*CachedVideo, error) {
	var r cachedVideoRow
	err := s.db.Get(&r, `SELECT * FROM cached_video WHERE video_id = ?`, videoID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.toCachedVideo(), nil
}

func (s *sqlStore) Touch(videoID string, now time.Time) error {
	res, err := s.db.Exec(`
		UPDATE cached_video
		SET last_accessed_at = ?, access_count = access_count + 1
		WHERE video_id = ?
	`, now, videoID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) Delete(videoID string) error {
	_, err := s.db.Exec(`DELETE FROM cached_video WHERE video_id = ?`, videoID)
	return err
}

func (s *sqlStore) ListAll() ([]*CachedVideo, error) {
	var rows []cachedVideoRow
	if err := s.db.Select(&rows, `SELECT * FROM cached_video ORDER BY last_accessed_at ASC`); err != nil {
		return nil, err
	}
	videos := make([]*CachedVideo, len(rows))
	for i, r := range rows {
		videos[i] = r.toCachedVideo()
	}
	return videos, nil
}

func (s *sqlStore) TotalSize() (int64, error) {
	var total sql.NullInt64
	if err := s.db.Get(&total, `SELECT SUM(size_bytes) FROM cached_video`); err != nil {
		return 0, err
	}
	return total.Int64, nil
}
