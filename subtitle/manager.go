package subtitle

import (
	"os"
	"path/filepath"
)

// Manager orchestrates subtitle acquisition: converting a fetched SRT
// source to WebVTT, durably writing it under basePath, and registering
// the resulting Record. Grounded on transcode.Convert's temp-file-then-
// rename pattern (transcode/transcode.go) for the same reason: a reader
// must never observe a partially written subtitle file.
type Manager struct {
	basePath string
	store    Store
}

// NewManager creates a Manager rooted at basePath (spec section 4.11's
// "<base>/subtitles/...").
func NewManager(basePath string, store Store) *Manager {
	return &Manager{basePath: basePath, store: store}
}

// Store converts srt to WebVTT and durably writes it for (videoID,
// language), then registers the record. source identifies where srt was
// acquired from (e.g. a third-party subtitle provider's name). An empty
// or missing srt fails without touching the store or leaving any file
// behind.
func (m *Manager) Store(videoID, language, source string, srt []byte) (*Record, error) {
	vtt, err := ConvertSRTToVTT(srt)
	if err != nil {
		return nil, err
	}

	dest := Path(m.basePath, videoID, language, FormatVTT)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, err
	}

	tmp := dest + ".converting"
	if err := os.WriteFile(tmp, vtt, 0644); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return nil, err
	}

	record := &Record{
		VideoID:  videoID,
		Language: language,
		FilePath: dest,
		Format:   FormatVTT,
		Source:   source,
	}
	if err := m.store.Upsert(record); err != nil {
		os.Remove(dest)
		return nil, err
	}
	return record, nil
}

// Get returns the registered record for (videoID, language).
func (m *Manager) Get(videoID, language string) (*Record, error) {
	return m.store.Get(videoID, language)
}

// List returns all subtitle records for videoID, backing the
// GET /streaming/subtitles/{videoId} endpoint.
func (m *Manager) List(videoID string) ([]*Record, error) {
	return m.store.ListByVideo(videoID)
}

// Content reads the WebVTT file backing a subtitle record.
func (m *Manager) Content(videoID, language string) ([]byte, error) {
	record, err := m.store.Get(videoID, language)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(record.FilePath)
}
